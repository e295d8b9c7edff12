package dispatch

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/chadiek/homesync-voice/internal/command"
	"github.com/chadiek/homesync-voice/internal/contacts"
)

// Simulator stands in for telephony when no credentials are configured.
// Every action succeeds in simulated mode and calls are reported completed.
type Simulator struct {
	directory contacts.Directory
	tracker   *Tracker
	log       zerolog.Logger
}

func NewSimulator(dir contacts.Directory, tracker *Tracker, log zerolog.Logger) *Simulator {
	if tracker == nil {
		tracker = NewTracker(0)
	}
	return &Simulator{directory: dir, tracker: tracker, log: log}
}

func (s *Simulator) Dispatch(ctx context.Context, cmd command.Command) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	out := Outcome{Mode: ModeSimulated, Action: cmd.Action(), Contact: cmd.Recipient(), SID: simulatedSID()}
	if s.directory != nil {
		if c, err := s.directory.Lookup(ctx, cmd.Recipient()); err == nil {
			out.Contact = c.Name
			out.To = c.Phone
		}
	}
	switch cmd.(type) {
	case command.PlaceCall:
		out.Status = "completed"
		s.tracker.Set(out.SID, out.Contact, out.Status)
	case command.SendMessage:
		out.Status = "delivered"
	default:
		return Outcome{}, fmt.Errorf("dispatch: unsupported command %T", cmd)
	}
	s.log.Info().Str("action", string(out.Action)).Str("contact", out.Contact).Msg("simulated dispatch")
	return out, nil
}

func (s *Simulator) PlaceCallTo(ctx context.Context, to, _ string) (Outcome, error) {
	if err := ctx.Err(); err != nil {
		return Outcome{}, err
	}
	out := Outcome{Mode: ModeSimulated, Action: command.ActionCall, To: to, SID: simulatedSID(), Status: "completed"}
	s.tracker.Set(out.SID, "", out.Status)
	return out, nil
}

func (s *Simulator) CallStatus(_ context.Context, sid string) (string, error) {
	if st, ok := s.tracker.Get(sid); ok {
		return st.Status, nil
	}
	return "", fmt.Errorf("%w: unknown call %s", ErrNotConfigured, sid)
}

func simulatedSID() string {
	return "SIM" + uuid.NewString()
}
