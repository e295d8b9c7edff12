package contacts

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrNotFound = errors.New("contact not found")

// Contact is someone the assistant can call or message.
type Contact struct {
	Name         string `json:"name" yaml:"name"`
	Relationship string `json:"relationship" yaml:"relationship"`
	Phone        string `json:"phone" yaml:"phone"`
	WhatsApp     string `json:"whatsapp,omitempty" yaml:"whatsapp"`
	Email        string `json:"email,omitempty" yaml:"email"`
}

// Matches reports whether the spoken name refers to this contact, by name or relationship.
func (c Contact) Matches(spoken string) bool {
	s := normalize(spoken)
	if s == "" {
		return false
	}
	return normalize(c.Name) == s || (c.Relationship != "" && normalize(c.Relationship) == s)
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Directory resolves the contact named in a command.
type Directory interface {
	Lookup(ctx context.Context, name string) (Contact, error)
}

// StaticDirectory is an in-memory list, typically loaded from YAML.
type StaticDirectory struct {
	contacts []Contact
}

func NewStatic(cs []Contact) *StaticDirectory {
	return &StaticDirectory{contacts: cs}
}

// LoadStatic reads a YAML list of contacts. A missing path yields an empty directory.
func LoadStatic(path string) (*StaticDirectory, error) {
	if path == "" {
		return NewStatic(nil), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read contacts: %w", err)
	}
	var cs []Contact
	if err := yaml.Unmarshal(data, &cs); err != nil {
		return nil, fmt.Errorf("parse contacts %s: %w", path, err)
	}
	return NewStatic(cs), nil
}

func (d *StaticDirectory) Lookup(_ context.Context, name string) (Contact, error) {
	for _, c := range d.contacts {
		if c.Matches(name) {
			return c, nil
		}
	}
	return Contact{}, fmt.Errorf("%w: %q", ErrNotFound, name)
}
