package dispatch

import (
	"sync"
	"time"
)

// Twilio call statuses that end a call.
var terminalStatuses = map[string]bool{
	"completed": true,
	"busy":      true,
	"failed":    true,
	"no-answer": true,
	"canceled":  true,
}

// Terminal reports whether status ends a call.
func Terminal(status string) bool { return terminalStatuses[status] }

// CallState is the last known status of an outbound call.
type CallState struct {
	SID       string    `json:"sid"`
	Contact   string    `json:"contact,omitempty"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Tracker remembers outbound calls by SID. Entries older than the retention
// are dropped on the next write.
type Tracker struct {
	retention time.Duration
	now       func() time.Time

	mu    sync.Mutex
	calls map[string]CallState
}

func NewTracker(retention time.Duration) *Tracker {
	return &Tracker{retention: retention, now: time.Now, calls: make(map[string]CallState)}
}

// Set records status for sid. An empty contact keeps the one already known.
func (t *Tracker) Set(sid, contact, status string) CallState {
	t.mu.Lock()
	defer t.mu.Unlock()
	now := t.now()
	t.prune(now)
	st := t.calls[sid]
	st.SID = sid
	if contact != "" {
		st.Contact = contact
	}
	st.Status = status
	st.UpdatedAt = now
	t.calls[sid] = st
	return st
}

func (t *Tracker) Get(sid string) (CallState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.calls[sid]
	return st, ok
}

func (t *Tracker) prune(now time.Time) {
	if t.retention <= 0 {
		return
	}
	for sid, st := range t.calls {
		if now.Sub(st.UpdatedAt) > t.retention {
			delete(t.calls, sid)
		}
	}
}
