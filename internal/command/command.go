// Package command parses the structured action block the assistant embeds in
// its spoken reply.
//
// The block is a fenced JSON object:
//
//	```json
//	{ "action": "message", "contact": "Ana", "message": "Hi" }
//	```
//
// Only a complete turn is parsed; partial transcripts may hold a half-written block.
package command

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// Action names the kind of command.
type Action string

const (
	ActionMessage Action = "message"
	ActionCall    Action = "call"

	// actionWhatsApp is the name the assistant prompt uses for messages.
	actionWhatsApp = "whatsapp"
)

// ChannelWhatsApp marks a message that should go out over WhatsApp.
const ChannelWhatsApp = "whatsapp"

// Command is either SendMessage or PlaceCall.
type Command interface {
	Action() Action
	Recipient() string
}

// SendMessage asks for a text message to be delivered to a contact.
type SendMessage struct {
	Contact string
	Body    string
	// Channel is empty for the default channel or ChannelWhatsApp.
	Channel string
}

func (SendMessage) Action() Action      { return ActionMessage }
func (m SendMessage) Recipient() string { return m.Contact }

// PlaceCall asks for an outbound phone call. Context is optional.
type PlaceCall struct {
	Contact string
	Context string
}

func (PlaceCall) Action() Action      { return ActionCall }
func (c PlaceCall) Recipient() string { return c.Contact }

// ErrInvalidCommand is wrapped by every ParseError.
var ErrInvalidCommand = errors.New("invalid command")

// ParseError describes a command block that could not be turned into a Command.
type ParseError struct {
	Block  string
	Reason string
	Err    error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("command: %s: %v", e.Reason, e.Err)
	}
	return "command: " + e.Reason
}

func (e *ParseError) Unwrap() []error {
	if e.Err != nil {
		return []error{ErrInvalidCommand, e.Err}
	}
	return []error{ErrInvalidCommand}
}

var fence = regexp.MustCompile("(?s)```json(.*?)```")

// Extract returns the body of the first fenced json block in text.
func Extract(text string) (string, bool) {
	m := fence.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	return m[1], true
}

type wireCommand struct {
	Action  string  `json:"action"`
	Contact string  `json:"contact"`
	Message *string `json:"message"`
	Context *string `json:"context"`
}

// Parse decodes a block body into a Command.
func Parse(block string) (Command, error) {
	var w wireCommand
	if err := json.Unmarshal([]byte(strings.TrimSpace(block)), &w); err != nil {
		return nil, &ParseError{Block: block, Reason: "malformed json", Err: err}
	}
	contact := strings.TrimSpace(w.Contact)
	action := strings.ToLower(strings.TrimSpace(w.Action))

	switch action {
	case string(ActionMessage), actionWhatsApp:
		if contact == "" {
			return nil, &ParseError{Block: block, Reason: "message without contact"}
		}
		if w.Message == nil || strings.TrimSpace(*w.Message) == "" {
			return nil, &ParseError{Block: block, Reason: "message without body"}
		}
		msg := SendMessage{Contact: contact, Body: *w.Message}
		if action == actionWhatsApp {
			msg.Channel = ChannelWhatsApp
		}
		return msg, nil
	case string(ActionCall):
		if contact == "" {
			return nil, &ParseError{Block: block, Reason: "call without contact"}
		}
		call := PlaceCall{Contact: contact}
		if w.Context != nil {
			call.Context = strings.TrimSpace(*w.Context)
		}
		return call, nil
	default:
		return nil, &ParseError{Block: block, Reason: fmt.Sprintf("unknown action %q", w.Action)}
	}
}

// FromTranscript extracts and parses the command in a finished turn.
// It returns nil, nil when the turn carries no command block.
func FromTranscript(text string) (Command, error) {
	block, ok := Extract(text)
	if !ok {
		return nil, nil
	}
	return Parse(block)
}
