package session

import (
	"encoding/json"
	"fmt"
)

// State is the lifecycle of the duplex channel.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return "unknown"
}

func (s State) MarshalJSON() ([]byte, error) { return json.Marshal(s.String()) }

func (s *State) UnmarshalJSON(b []byte) error {
	var name string
	if err := json.Unmarshal(b, &name); err != nil {
		return err
	}
	for st := StateIdle; st <= StateClosed; st++ {
		if st.String() == name {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("session: unknown state %q", name)
}

// VoiceState is what the assistant appears to be doing.
type VoiceState string

const (
	VoiceIdle      VoiceState = "idle"
	VoiceListening VoiceState = "listening"
	VoiceSpeaking  VoiceState = "speaking"
	VoiceThinking  VoiceState = "thinking"
)

// StartResult tells what Start did. Start on a live session stops it instead.
// The zero value is returned alongside an error.
type StartResult int

const (
	StartFailed StartResult = iota
	Started
	ToggledOff
	AlreadyRunning
)

func (r StartResult) String() string {
	switch r {
	case Started:
		return "started"
	case ToggledOff:
		return "stopped"
	case AlreadyRunning:
		return "already running"
	}
	return "failed"
}

// Request selects the persona configuration for a session.
type Request struct {
	Persona  string `json:"persona"`
	Language string `json:"language"`
	User     string `json:"user"`
}

// Status is a snapshot for callers outside the event loop.
type Status struct {
	State    State      `json:"state"`
	Voice    VoiceState `json:"voice"`
	Session  string     `json:"session,omitempty"`
	Persona  string     `json:"persona"`
	Language string     `json:"language"`
	User     string     `json:"user"`
}
