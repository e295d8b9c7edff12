package persona

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultName is used when no persona or an unknown one is requested.
const DefaultName = "default"

// Supported native-language tags.
var Languages = []string{"pt-BR", "pt-PT", "en-US", "es-ES"}

var ErrUnsupportedLanguage = errors.New("persona: unsupported language")

//go:embed personas.yaml
var builtin []byte

// Persona is the instruction set for one application context.
type Persona struct {
	Name        string `yaml:"-"`
	Title       string `yaml:"title"`
	Instruction string `yaml:"instruction"`
	// Startup is the first thing the assistant says. "{user}" is replaced with the user name.
	Startup string `yaml:"startup"`
}

func (p Persona) Validate() error {
	if strings.TrimSpace(p.Instruction) == "" {
		return fmt.Errorf("persona %q: instruction is required", p.Name)
	}
	if strings.TrimSpace(p.Startup) == "" {
		return fmt.Errorf("persona %q: startup is required", p.Name)
	}
	return nil
}

// Composed is the configuration a session is opened with.
type Composed struct {
	Persona     string
	Language    string
	User        string
	Instruction string
	Startup     string
}

// Catalogue maps persona names to personas.
type Catalogue struct {
	personas map[string]Persona
}

// Builtin returns the embedded catalogue.
func Builtin() (*Catalogue, error) {
	return parse(builtin)
}

// Load returns the embedded catalogue with the personas from path layered on top.
// An empty path loads only the built-ins.
func Load(path string) (*Catalogue, error) {
	c, err := Builtin()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return c, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read personas file: %w", err)
	}
	extra, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	for name, p := range extra.personas {
		c.personas[name] = p
	}
	return c, nil
}

func parse(data []byte) (*Catalogue, error) {
	var raw map[string]Persona
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse personas: %w", err)
	}
	c := &Catalogue{personas: make(map[string]Persona, len(raw))}
	for name, p := range raw {
		p.Name = name
		if err := p.Validate(); err != nil {
			return nil, err
		}
		c.personas[name] = p
	}
	return c, nil
}

// Get returns the named persona, falling back to the default one.
func (c *Catalogue) Get(name string) Persona {
	if p, ok := c.personas[name]; ok {
		return p
	}
	return c.personas[DefaultName]
}

func (c *Catalogue) Has(name string) bool {
	_, ok := c.personas[name]
	return ok
}

// Names lists the catalogue sorted.
func (c *Catalogue) Names() []string {
	out := make([]string, 0, len(c.personas))
	for n := range c.personas {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// SupportedLanguage reports whether lang is one of Languages.
func SupportedLanguage(lang string) bool {
	for _, l := range Languages {
		if l == lang {
			return true
		}
	}
	return false
}

// Compose builds the session instruction: the persona text, a directive naming
// the user's native language for fallback explanations, and the startup line.
func (c *Catalogue) Compose(name, user, lang string) (Composed, error) {
	if !SupportedLanguage(lang) {
		return Composed{}, fmt.Errorf("%w: %q", ErrUnsupportedLanguage, lang)
	}
	p := c.Get(name)
	startup := strings.ReplaceAll(p.Startup, "{user}", user)

	var b strings.Builder
	b.WriteString(strings.TrimSpace(p.Instruction))
	b.WriteString("\n\n[CRITICAL CONFIGURATION] The user's NATIVE LANGUAGE is: ")
	b.WriteString(lang)
	b.WriteString(". If the user struggles or asks for help, explain in ")
	b.WriteString(lang)
	b.WriteString(". However, keep the main roleplay in character (English for Tutor, Portuguese for others).")
	b.WriteString("\n[STARTUP: ")
	b.WriteString(startup)
	b.WriteString("]")

	return Composed{
		Persona:     p.Name,
		Language:    lang,
		User:        user,
		Instruction: b.String(),
		Startup:     startup,
	}, nil
}
