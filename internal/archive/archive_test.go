package archive

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/chadiek/homesync-voice/internal/turn"
)

type fakeUploader struct {
	keys  []string
	types []string
	data  [][]byte
	err   error
}

func (f *fakeUploader) Upload(key, contentType string, data []byte) error {
	f.keys = append(f.keys, key)
	f.types = append(f.types, contentType)
	f.data = append(f.data, data)
	return f.err
}

func TestArchive_SaveSkipsEmptySessions(t *testing.T) {
	up := &fakeUploader{}
	a := New(up, zerolog.Nop())
	rec := Record{SessionID: "s1", StartedAt: time.Now(), Turns: []turn.Turn{{User: " ", Model: ""}}}
	if err := a.Save(context.Background(), rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(up.keys) != 0 {
		t.Fatalf("expected nothing uploaded, got %v", up.keys)
	}
}

func TestArchive_SaveUploadsJSON(t *testing.T) {
	up := &fakeUploader{}
	a := New(up, zerolog.Nop())
	started := time.Date(2025, 3, 9, 23, 30, 0, 0, time.UTC)
	rec := Record{
		SessionID: "abc",
		Persona:   "default",
		Language:  "pt-BR",
		StartedAt: started,
		Turns:     []turn.Turn{{User: "oi", Model: "Olá!"}, {}},
	}
	if err := a.Save(context.Background(), rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	if len(up.keys) != 1 || up.keys[0] != "sessions/2025-03-09/abc.json" || up.types[0] != "application/json" {
		t.Fatalf("unexpected upload %v %v", up.keys, up.types)
	}
	var back Record
	if err := json.Unmarshal(up.data[0], &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(back.Turns) != 1 || back.Turns[0].Model != "Olá!" {
		t.Fatalf("empty turns should be dropped, got %+v", back.Turns)
	}
}

func TestArchive_UploadErrorIsReturned(t *testing.T) {
	up := &fakeUploader{err: errors.New("bucket missing")}
	a := New(up, zerolog.Nop())
	err := a.Save(context.Background(), Record{SessionID: "x", Turns: []turn.Turn{{User: "hi"}}})
	if err == nil {
		t.Fatalf("expected upload error")
	}
}

func TestArchive_NilIsNoop(t *testing.T) {
	var a *Archive
	if err := a.Save(context.Background(), Record{Turns: []turn.Turn{{User: "hi"}}}); err != nil {
		t.Fatalf("nil archive should be a no-op, got %v", err)
	}
}
