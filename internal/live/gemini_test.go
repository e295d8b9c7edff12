package live

import (
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/chadiek/homesync-voice/internal/codec"
)

type fakeSession struct {
	msgs     chan *genai.LiveServerMessage
	errs     chan error
	sent     []genai.LiveRealtimeInput
	closed   chan struct{}
	closeErr error
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		msgs:   make(chan *genai.LiveServerMessage, 16),
		errs:   make(chan error, 1),
		closed: make(chan struct{}),
	}
}

func (f *fakeSession) SendRealtimeInput(in genai.LiveRealtimeInput) error {
	f.sent = append(f.sent, in)
	return nil
}

func (f *fakeSession) Receive() (*genai.LiveServerMessage, error) {
	// queued messages go out before any failure
	select {
	case m := <-f.msgs:
		return m, nil
	default:
	}
	select {
	case m := <-f.msgs:
		return m, nil
	case err := <-f.errs:
		return nil, err
	case <-f.closed:
		return nil, io.EOF
	}
}

func (f *fakeSession) Close() error {
	close(f.closed)
	return f.closeErr
}

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatalf("event stream did not close; got %v", out)
		}
	}
}

func kinds(evs []Event) []EventKind {
	out := make([]EventKind, len(evs))
	for i, ev := range evs {
		out[i] = ev.Kind
	}
	return out
}

func TestTranslate_FullTurn(t *testing.T) {
	msg := &genai.LiveServerMessage{
		ServerContent: &genai.LiveServerContent{
			InputTranscription:  &genai.Transcription{Text: "liga pra mãe", Finished: true},
			OutputTranscription: &genai.Transcription{Text: "Ligando"},
			ModelTurn: &genai.Content{Parts: []*genai.Part{
				{InlineData: &genai.Blob{Data: []byte{1, 0}, MIMEType: "audio/pcm;rate=24000"}},
				{Text: "ignored"},
				{InlineData: &genai.Blob{Data: []byte{2, 0}}},
			}},
			TurnComplete: true,
		},
	}
	evs := translate(msg)
	require.Equal(t, []EventKind{EventInputTranscript, EventOutputTranscript, EventAudio, EventAudio, EventTurnComplete}, kinds(evs))
	assert.True(t, evs[0].Finished)
	assert.Equal(t, "Ligando", evs[1].Text)
	assert.Equal(t, codec.MIMEType(codec.OutputSampleRate), evs[3].MIMEType)
}

func TestTranslate_SetupAndInterrupt(t *testing.T) {
	assert.Equal(t, []EventKind{EventOpen}, kinds(translate(&genai.LiveServerMessage{SetupComplete: &genai.LiveServerSetupComplete{}})))
	assert.Equal(t, []EventKind{EventInterrupted}, kinds(translate(&genai.LiveServerMessage{ServerContent: &genai.LiveServerContent{Interrupted: true}})))
	assert.Empty(t, translate(nil))
}

func TestChannel_BackendFailureEndsWithErrorThenClose(t *testing.T) {
	fs := newFakeSession()
	ch := newGeminiChannel(fs, zerolog.Nop())
	fs.msgs <- &genai.LiveServerMessage{SetupComplete: &genai.LiveServerSetupComplete{}}
	fs.errs <- errors.New("websocket: close 1011")

	evs := collect(t, ch.Events())
	require.Equal(t, []EventKind{EventOpen, EventError, EventClose}, kinds(evs))
	assert.ErrorContains(t, evs[1].Err, "1011")
}

func TestChannel_SendAudioUsesFrameFormat(t *testing.T) {
	fs := newFakeSession()
	ch := newGeminiChannel(fs, zerolog.Nop())
	defer ch.Close()

	require.NoError(t, ch.SendAudio(codec.NewFrame([]int16{1, 2}, codec.InputSampleRate)))
	require.Len(t, fs.sent, 1)
	assert.Equal(t, "audio/pcm;rate=16000", fs.sent[0].Audio.MIMEType)
	assert.Equal(t, []byte{1, 0, 2, 0}, fs.sent[0].Audio.Data)
}

func TestChannel_CloseIsIdempotentAndStopsStream(t *testing.T) {
	fs := newFakeSession()
	fs.closeErr = errors.New("already gone")
	ch := newGeminiChannel(fs, zerolog.Nop())

	err := ch.Close()
	assert.ErrorIs(t, err, ErrChannelClose)
	assert.ErrorIs(t, ch.Close(), ErrChannelClose, "second close reports the same outcome")
	assert.ErrorIs(t, ch.SendAudio(codec.Frame{}), ErrClosed)

	evs := collect(t, ch.Events())
	assert.Empty(t, evs, "a local close emits nothing")
}
