package turn

import (
	"strings"
	"time"

	"github.com/chadiek/homesync-voice/internal/command"
)

// Turn is one finished exchange: what the user said and what the assistant said back.
type Turn struct {
	User  string    `json:"user"`
	Model string    `json:"model"`
	At    time.Time `json:"at"`
}

// Empty reports whether neither side said anything.
func (t Turn) Empty() bool {
	return strings.TrimSpace(t.User) == "" && strings.TrimSpace(t.Model) == ""
}

// Assembler accumulates transcript deltas for the turn in progress.
// It is not safe for concurrent use; the session event loop owns it.
type Assembler struct {
	user  strings.Builder
	model strings.Builder
	now   func() time.Time
}

func NewAssembler() *Assembler {
	return &Assembler{now: time.Now}
}

// AppendInput adds a delta of the user's transcribed speech.
func (a *Assembler) AppendInput(delta string) { a.user.WriteString(delta) }

// AppendOutput adds a delta of the assistant's transcribed speech.
func (a *Assembler) AppendOutput(delta string) { a.model.WriteString(delta) }

func (a *Assembler) User() string  { return a.user.String() }
func (a *Assembler) Model() string { return a.model.String() }

// Complete closes the turn. It extracts the command from the assistant text,
// then clears both buffers whether or not extraction succeeded.
// A nil command with a nil error means the turn carried no command.
func (a *Assembler) Complete() (Turn, command.Command, error) {
	t := Turn{User: a.user.String(), Model: a.model.String(), At: a.now()}
	cmd, err := command.FromTranscript(t.Model)
	a.Reset()
	return t, cmd, err
}

// Reset drops the turn in progress.
func (a *Assembler) Reset() {
	a.user.Reset()
	a.model.Reset()
}
