package archive

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/chadiek/homesync-voice/internal/turn"
)

// Uploader stores a blob under a key.
type Uploader interface {
	Upload(key, contentType string, data []byte) error
}

// Record is the archived transcript of one voice session.
type Record struct {
	SessionID string      `json:"session_id"`
	Persona   string      `json:"persona"`
	Language  string      `json:"language"`
	User      string      `json:"user"`
	StartedAt time.Time   `json:"started_at"`
	EndedAt   time.Time   `json:"ended_at"`
	Reason    string      `json:"end_reason"`
	Turns     []turn.Turn `json:"turns"`
}

// Key is the object path for the record.
func (r Record) Key() string {
	return fmt.Sprintf("sessions/%s/%s.json", r.StartedAt.UTC().Format("2006-01-02"), r.SessionID)
}

// Archive writes session transcripts to an Uploader.
type Archive struct {
	up  Uploader
	log zerolog.Logger
}

func New(up Uploader, log zerolog.Logger) *Archive {
	return &Archive{up: up, log: log}
}

// Save uploads rec. Records without any spoken turn are skipped.
func (a *Archive) Save(ctx context.Context, rec Record) error {
	if a == nil || a.up == nil {
		return nil
	}
	var turns []turn.Turn
	for _, t := range rec.Turns {
		if !t.Empty() {
			turns = append(turns, t)
		}
	}
	if len(turns) == 0 {
		return nil
	}
	rec.Turns = turns
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	if err := a.up.Upload(rec.Key(), "application/json", data); err != nil {
		return err
	}
	a.log.Info().Str("session", rec.SessionID).Str("key", rec.Key()).Int("turns", len(turns)).Msg("transcript archived")
	return nil
}
