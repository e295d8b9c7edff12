// Package dispatch carries out the commands the assistant issues: outbound
// calls and messages.
package dispatch

import (
	"context"
	"errors"

	"github.com/chadiek/homesync-voice/internal/command"
)

// Mode tells whether an action reached real telephony.
type Mode string

const (
	ModeReal      Mode = "real"
	ModeSimulated Mode = "simulated"
)

var (
	ErrUnknownContact = errors.New("dispatch: unknown contact")
	ErrNoNumber       = errors.New("dispatch: contact has no usable number")
	ErrNotConfigured  = errors.New("dispatch: telephony not configured")
)

// Outcome describes an executed command. For calls, SID can be polled with CallStatus.
type Outcome struct {
	Mode    Mode           `json:"mode"`
	Action  command.Action `json:"action"`
	Contact string         `json:"contact"`
	To      string         `json:"to,omitempty"`
	SID     string         `json:"sid,omitempty"`
	Status  string         `json:"status,omitempty"`
}

// Dispatcher executes a parsed command.
type Dispatcher interface {
	Dispatch(ctx context.Context, cmd command.Command) (Outcome, error)
}

// Service is a Dispatcher that also exposes direct call placement and call status.
type Service interface {
	Dispatcher
	PlaceCallTo(ctx context.Context, to, message string) (Outcome, error)
	CallStatus(ctx context.Context, sid string) (string, error)
}
