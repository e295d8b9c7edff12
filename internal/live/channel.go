// Package live is the duplex channel to the speech-to-speech backend.
//
// A Channel delivers backend activity as a single ordered stream of Events
// and accepts microphone frames. When the backend ends the connection the
// stream carries a final EventClose; the stream is closed exactly once.
package live

import (
	"context"
	"errors"

	"github.com/chadiek/homesync-voice/internal/codec"
)

var (
	ErrChannelOpen  = errors.New("live: channel open failed")
	ErrChannelClose = errors.New("live: channel close failed")
	ErrClosed       = errors.New("live: channel closed")
)

// EventKind enumerates what the backend can report.
type EventKind int

const (
	EventOpen EventKind = iota
	EventAudio
	EventInputTranscript
	EventOutputTranscript
	EventTurnComplete
	EventInterrupted
	EventError
	EventClose
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventAudio:
		return "audio"
	case EventInputTranscript:
		return "input_transcript"
	case EventOutputTranscript:
		return "output_transcript"
	case EventTurnComplete:
		return "turn_complete"
	case EventInterrupted:
		return "interrupted"
	case EventError:
		return "error"
	case EventClose:
		return "close"
	}
	return "unknown"
}

// Event is one item of backend activity.
type Event struct {
	Kind EventKind
	// Audio and MIMEType are set for EventAudio.
	Audio    []byte
	MIMEType string
	// Text is set for transcript events; Finished marks the end of an utterance.
	Text     string
	Finished bool
	Err      error
}

// Config is fixed for the lifetime of a channel.
type Config struct {
	Model               string
	Instruction         string
	Voice               string
	InputMIME           string
	InputTranscription  bool
	OutputTranscription bool
}

// Channel is an open duplex connection.
type Channel interface {
	// SendAudio forwards one microphone frame. It does not wait for the backend.
	SendAudio(f codec.Frame) error
	Events() <-chan Event
	// Close is idempotent.
	Close() error
}

// Dialer opens channels.
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Channel, error)
}
