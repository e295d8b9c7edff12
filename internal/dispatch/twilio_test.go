package dispatch

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"

	"github.com/chadiek/homesync-voice/internal/command"
	"github.com/chadiek/homesync-voice/internal/contacts"
)

type fakeAPI struct {
	calls    []*twilioApi.CreateCallParams
	messages []*twilioApi.CreateMessageParams
	fetches  int
	status   string
	err      error
}

func ptr(s string) *string { return &s }

func (f *fakeAPI) CreateCall(p *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error) {
	f.calls = append(f.calls, p)
	if f.err != nil {
		return nil, f.err
	}
	return &twilioApi.ApiV2010Call{Sid: ptr("CA123"), Status: ptr("queued")}, nil
}

func (f *fakeAPI) CreateMessage(p *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error) {
	f.messages = append(f.messages, p)
	if f.err != nil {
		return nil, f.err
	}
	return &twilioApi.ApiV2010Message{Sid: ptr("SM456"), Status: ptr("queued")}, nil
}

func (f *fakeAPI) FetchCall(sid string, _ *twilioApi.FetchCallParams) (*twilioApi.ApiV2010Call, error) {
	f.fetches++
	return &twilioApi.ApiV2010Call{Sid: ptr(sid), Status: ptr(f.status)}, nil
}

var family = contacts.NewStatic([]contacts.Contact{
	{Name: "Cris", Relationship: "esposa", Phone: "+5511911110000", WhatsApp: "+5511922220000"},
	{Name: "Leo", Relationship: "filho", Phone: ""},
})

func newTestDispatcher(api *fakeAPI) *TwilioDispatcher {
	cfg := TwilioConfig{
		AccountSID:        "AC1",
		AuthToken:         "tok",
		From:              "+15550001111",
		WhatsAppFrom:      "+15550002222",
		StatusCallbackURL: "https://example.test/twilio/status",
		SayLanguage:       "pt-BR",
	}
	return newTwilio(cfg, api, family, NewTracker(time.Hour), zerolog.Nop())
}

func TestTwilio_PlaceCallSaysContext(t *testing.T) {
	api := &fakeAPI{}
	d := newTestDispatcher(api)

	out, err := d.Dispatch(context.Background(), command.PlaceCall{Contact: "esposa", Context: "Vou me atrasar"})
	require.NoError(t, err)
	assert.Equal(t, Outcome{Mode: ModeReal, Action: command.ActionCall, Contact: "Cris", To: "+5511911110000", SID: "CA123", Status: "queued"}, out)

	require.Len(t, api.calls, 1)
	p := api.calls[0]
	assert.Equal(t, "+5511911110000", *p.To)
	assert.Equal(t, "+15550001111", *p.From)
	assert.Contains(t, *p.Twiml, "Vou me atrasar")
	assert.Contains(t, *p.Twiml, "<Say")
	assert.Equal(t, "https://example.test/twilio/status", *p.StatusCallback)

	st, ok := d.tracker.Get("CA123")
	require.True(t, ok)
	assert.Equal(t, "Cris", st.Contact)
}

func TestTwilio_WhatsAppMessage(t *testing.T) {
	api := &fakeAPI{}
	d := newTestDispatcher(api)

	out, err := d.Dispatch(context.Background(), command.SendMessage{Contact: "Cris", Body: "Oi amor", Channel: command.ChannelWhatsApp})
	require.NoError(t, err)
	assert.Equal(t, "SM456", out.SID)
	require.Len(t, api.messages, 1)
	assert.Equal(t, "whatsapp:+5511922220000", *api.messages[0].To)
	assert.Equal(t, "whatsapp:+15550002222", *api.messages[0].From)
	assert.Equal(t, "Oi amor", *api.messages[0].Body)
}

func TestTwilio_PlainMessageUsesSMS(t *testing.T) {
	api := &fakeAPI{}
	d := newTestDispatcher(api)
	_, err := d.Dispatch(context.Background(), command.SendMessage{Contact: "Cris", Body: "Oi"})
	require.NoError(t, err)
	assert.Equal(t, "+5511911110000", *api.messages[0].To)
	assert.False(t, strings.HasPrefix(*api.messages[0].From, "whatsapp:"))
}

func TestTwilio_Errors(t *testing.T) {
	api := &fakeAPI{}
	d := newTestDispatcher(api)

	_, err := d.Dispatch(context.Background(), command.PlaceCall{Contact: "Paulo"})
	assert.ErrorIs(t, err, ErrUnknownContact)

	_, err = d.Dispatch(context.Background(), command.PlaceCall{Contact: "Leo"})
	assert.ErrorIs(t, err, ErrNoNumber)

	api.err = errors.New("21211 invalid to")
	_, err = d.Dispatch(context.Background(), command.PlaceCall{Contact: "Cris"})
	assert.ErrorContains(t, err, "21211")
	assert.Empty(t, api.messages)
}

func TestTwilio_CallStatusCachesTerminal(t *testing.T) {
	api := &fakeAPI{status: "in-progress"}
	d := newTestDispatcher(api)

	st, err := d.CallStatus(context.Background(), "CA9")
	require.NoError(t, err)
	assert.Equal(t, "in-progress", st)

	api.status = "completed"
	st, _ = d.CallStatus(context.Background(), "CA9")
	assert.Equal(t, "completed", st)

	st, _ = d.CallStatus(context.Background(), "CA9")
	assert.Equal(t, "completed", st)
	assert.Equal(t, 2, api.fetches, "terminal status must be served from the tracker")
}

func TestSimulator(t *testing.T) {
	s := NewSimulator(family, nil, zerolog.Nop())
	out, err := s.Dispatch(context.Background(), command.PlaceCall{Contact: "esposa"})
	require.NoError(t, err)
	assert.Equal(t, ModeSimulated, out.Mode)
	assert.Equal(t, "Cris", out.Contact)
	assert.True(t, strings.HasPrefix(out.SID, "SIM"))

	st, err := s.CallStatus(context.Background(), out.SID)
	require.NoError(t, err)
	assert.Equal(t, "completed", st)

	_, err = s.CallStatus(context.Background(), "CAunknown")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestTracker_Retention(t *testing.T) {
	tr := NewTracker(time.Minute)
	now := time.Unix(1000, 0)
	tr.now = func() time.Time { return now }
	tr.Set("a", "Cris", "ringing")
	now = now.Add(2 * time.Minute)
	tr.Set("b", "", "queued")
	_, ok := tr.Get("a")
	assert.False(t, ok)
	st, ok := tr.Get("b")
	assert.True(t, ok)
	assert.Equal(t, "queued", st.Status)
	assert.True(t, Terminal("no-answer"))
	assert.False(t, Terminal("ringing"))
}
