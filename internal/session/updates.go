package session

import (
	"github.com/chadiek/homesync-voice/internal/command"
	"github.com/chadiek/homesync-voice/internal/dispatch"
	"github.com/chadiek/homesync-voice/internal/turn"
)

// UpdateKind tags an Update.
type UpdateKind string

const (
	UpdateState      UpdateKind = "state"
	UpdateVoice      UpdateKind = "voice"
	UpdateTranscript UpdateKind = "transcript"
	UpdateTurn       UpdateKind = "turn"
	UpdateCommand    UpdateKind = "command"
	UpdateDispatch   UpdateKind = "dispatch"
	UpdateError      UpdateKind = "error"
)

// Update is pushed to subscribers as the session progresses.
type Update struct {
	Kind    UpdateKind        `json:"type"`
	Session string            `json:"session,omitempty"`
	State   string            `json:"state,omitempty"`
	Voice   VoiceState        `json:"voice,omitempty"`
	Role    string            `json:"role,omitempty"`
	Text    string            `json:"text,omitempty"`
	Turn    *turn.Turn        `json:"turn,omitempty"`
	Command *CommandView      `json:"command,omitempty"`
	Outcome *dispatch.Outcome `json:"outcome,omitempty"`
	Error   string            `json:"error,omitempty"`
}

// CommandView is the wire shape of a parsed command.
type CommandView struct {
	Action  command.Action `json:"action"`
	Contact string         `json:"contact"`
	Message string         `json:"message,omitempty"`
	Context string         `json:"context,omitempty"`
	Channel string         `json:"channel,omitempty"`
}

func viewOf(c command.Command) *CommandView {
	v := &CommandView{Action: c.Action(), Contact: c.Recipient()}
	switch c := c.(type) {
	case command.SendMessage:
		v.Message = c.Body
		v.Channel = c.Channel
	case command.PlaceCall:
		v.Context = c.Context
	}
	return v
}

// Subscribe registers an observer. Updates are dropped for observers that
// fall more than buf behind. The returned func unsubscribes.
func (m *Manager) Subscribe(buf int) (<-chan Update, func()) {
	if buf <= 0 {
		buf = 32
	}
	ch := make(chan Update, buf)
	m.subMu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.subMu.Unlock()

	return ch, func() {
		m.subMu.Lock()
		if _, ok := m.subs[id]; ok {
			delete(m.subs, id)
			close(ch)
		}
		m.subMu.Unlock()
	}
}

func (m *Manager) publish(u Update) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- u:
		default:
		}
	}
}
