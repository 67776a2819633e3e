package mcp

import (
	"sync"
	"time"
)

// focusTracker remembers the last council session each MCP client touched
// so follow-up tool calls may omit session_id.
//
// Entries expire after window. The tracker is in-memory and per-process;
// an expired or missing entry only means the caller must name the session.
type focusTracker struct {
	mu      sync.Mutex
	entries map[string]focusEntry
	window  time.Duration
	now     func() time.Time
}

type focusEntry struct {
	sessionID string
	at        time.Time
}

func newFocusTracker(window time.Duration) *focusTracker {
	return &focusTracker{
		entries: make(map[string]focusEntry),
		window:  window,
		now:     time.Now,
	}
}

// Record notes that client last worked with sessionID. Clients without an
// MCP session id are not tracked.
func (t *focusTracker) Record(client, sessionID string) {
	if client == "" || sessionID == "" {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[client] = focusEntry{sessionID: sessionID, at: t.now()}

	if len(t.entries) > 1000 {
		t.purgeStale()
	}
}

// Current returns the session the client last touched within the window.
func (t *focusTracker) Current(client string) (string, bool) {
	if client == "" {
		return "", false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[client]
	if !ok {
		return "", false
	}
	if t.now().Sub(e.at) > t.window {
		delete(t.entries, client)
		return "", false
	}
	return e.sessionID, true
}

// Forget drops every entry that points at sessionID.
func (t *focusTracker) Forget(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for k, e := range t.entries {
		if e.sessionID == sessionID {
			delete(t.entries, k)
		}
	}
}

// purgeStale removes entries older than the window. Must be called with mu held.
func (t *focusTracker) purgeStale() {
	now := t.now()
	for k, e := range t.entries {
		if now.Sub(e.at) > t.window {
			delete(t.entries, k)
		}
	}
}
