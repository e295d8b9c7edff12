package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"

	"github.com/chadiek/homesync-voice/internal/command"
	"github.com/chadiek/homesync-voice/internal/contacts"
)

// TwilioConfig holds credentials and numbers for outbound actions.
type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	// From is the voice/SMS caller id; WhatsAppFrom the WhatsApp sender (without prefix).
	From         string
	WhatsAppFrom string
	// StatusCallbackURL receives call progress webhooks when set.
	StatusCallbackURL string
	// SayLanguage is the TwiML <Say> language, e.g. pt-BR.
	SayLanguage string
}

// Configured reports whether calls can be placed.
func (c TwilioConfig) Configured() bool {
	return c.AccountSID != "" && c.AuthToken != "" && c.From != ""
}

// twilioAPI is the subset of the v2010 API used here.
type twilioAPI interface {
	CreateCall(params *twilioApi.CreateCallParams) (*twilioApi.ApiV2010Call, error)
	CreateMessage(params *twilioApi.CreateMessageParams) (*twilioApi.ApiV2010Message, error)
	FetchCall(sid string, params *twilioApi.FetchCallParams) (*twilioApi.ApiV2010Call, error)
}

// TwilioDispatcher places calls and sends messages through Twilio.
type TwilioDispatcher struct {
	cfg       TwilioConfig
	api       twilioAPI
	directory contacts.Directory
	tracker   *Tracker
	log       zerolog.Logger
}

func NewTwilio(cfg TwilioConfig, dir contacts.Directory, tracker *Tracker, log zerolog.Logger) *TwilioDispatcher {
	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})
	return newTwilio(cfg, client.Api, dir, tracker, log)
}

func newTwilio(cfg TwilioConfig, api twilioAPI, dir contacts.Directory, tracker *Tracker, log zerolog.Logger) *TwilioDispatcher {
	if tracker == nil {
		tracker = NewTracker(0)
	}
	return &TwilioDispatcher{cfg: cfg, api: api, directory: dir, tracker: tracker, log: log}
}

func (d *TwilioDispatcher) Dispatch(ctx context.Context, cmd command.Command) (Outcome, error) {
	c, err := d.directory.Lookup(ctx, cmd.Recipient())
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %s: %v", ErrUnknownContact, cmd.Recipient(), err)
	}
	switch cmd := cmd.(type) {
	case command.PlaceCall:
		if c.Phone == "" {
			return Outcome{}, fmt.Errorf("%w: %s", ErrNoNumber, c.Name)
		}
		out, err := d.call(ctx, c.Phone, callMessage(cmd))
		out.Contact = c.Name
		if err == nil {
			d.tracker.Set(out.SID, c.Name, out.Status)
		}
		return out, err
	case command.SendMessage:
		out, err := d.message(ctx, c, cmd)
		out.Contact = c.Name
		return out, err
	default:
		return Outcome{}, fmt.Errorf("dispatch: unsupported command %T", cmd)
	}
}

// PlaceCallTo calls a raw number and speaks message.
func (d *TwilioDispatcher) PlaceCallTo(ctx context.Context, to, message string) (Outcome, error) {
	out, err := d.call(ctx, to, message)
	if err == nil {
		d.tracker.Set(out.SID, "", out.Status)
	}
	return out, err
}

// CallStatus returns the call's status, fetching from Twilio unless it already ended.
func (d *TwilioDispatcher) CallStatus(ctx context.Context, sid string) (string, error) {
	if st, ok := d.tracker.Get(sid); ok && Terminal(st.Status) {
		return st.Status, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	call, err := d.api.FetchCall(sid, &twilioApi.FetchCallParams{})
	if err != nil {
		return "", fmt.Errorf("fetch call %s: %w", sid, err)
	}
	status := deref(call.Status)
	d.tracker.Set(sid, "", status)
	return status, nil
}

func (d *TwilioDispatcher) call(ctx context.Context, to, message string) (Outcome, error) {
	out := Outcome{Mode: ModeReal, Action: command.ActionCall, To: to}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	say := &twiml.VoiceSay{Message: message, Language: d.cfg.SayLanguage}
	doc, err := twiml.Voice([]twiml.Element{say, &twiml.VoiceHangup{}})
	if err != nil {
		return out, fmt.Errorf("build twiml: %w", err)
	}

	params := &twilioApi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(d.cfg.From)
	params.SetTwiml(doc)
	if d.cfg.StatusCallbackURL != "" {
		params.SetStatusCallback(d.cfg.StatusCallbackURL)
		params.SetStatusCallbackMethod("POST")
		params.SetStatusCallbackEvent([]string{"initiated", "ringing", "answered", "completed"})
	}

	resp, err := d.api.CreateCall(params)
	if err != nil {
		return out, fmt.Errorf("failed to place call: %w", err)
	}
	out.SID = deref(resp.Sid)
	out.Status = deref(resp.Status)
	d.log.Info().Str("sid", out.SID).Str("to", to).Msg("call placed")
	return out, nil
}

func (d *TwilioDispatcher) message(ctx context.Context, c contacts.Contact, cmd command.SendMessage) (Outcome, error) {
	out := Outcome{Mode: ModeReal, Action: command.ActionMessage}
	if err := ctx.Err(); err != nil {
		return out, err
	}
	to, from := c.Phone, d.cfg.From
	if cmd.Channel == command.ChannelWhatsApp && d.cfg.WhatsAppFrom != "" {
		number := c.WhatsApp
		if number == "" {
			number = c.Phone
		}
		to, from = "whatsapp:"+number, "whatsapp:"+d.cfg.WhatsAppFrom
	}
	if strings.TrimPrefix(to, "whatsapp:") == "" {
		return out, fmt.Errorf("%w: %s", ErrNoNumber, c.Name)
	}
	out.To = to

	params := &twilioApi.CreateMessageParams{}
	params.SetTo(to)
	params.SetFrom(from)
	params.SetBody(cmd.Body)
	resp, err := d.api.CreateMessage(params)
	if err != nil {
		return out, fmt.Errorf("failed to send message: %w", err)
	}
	out.SID = deref(resp.Sid)
	out.Status = deref(resp.Status)
	d.log.Info().Str("sid", out.SID).Str("to", to).Msg("message sent")
	return out, nil
}

func callMessage(c command.PlaceCall) string {
	if c.Context != "" {
		return c.Context
	}
	return "Olá " + c.Contact + ", esta é uma chamada do assistente HomeSync."
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
