// Package session enforces the single-viewer policy: the camera feed is
// exclusive, so exactly one client may hold the streaming slot at a time.
package session

import (
	"log/slog"
	"sync"
	"time"
)

// Handle is the arbiter's view of a live session. Close must be safe to call
// from the arbiter goroutine and should not block indefinitely.
type Handle interface {
	Close() error
}

// Binding describes the current slot holder. State is the peer connection
// state; Substates carries every tracked state machine keyed by kind
// (connection, ice_connection, ice_gathering).
type Binding struct {
	ClientID  string            `json:"client_id"`
	State     string            `json:"state"`
	Substates map[string]string `json:"substates"`
	CreatedAt time.Time         `json:"created_at"`
}

// Arbiter owns the single streaming slot. Acquire always wins: a new client
// evicts whoever holds the slot, atomically under one mutex, so two racing
// acquires can never both believe they own it.
type Arbiter struct {
	maxAge time.Duration
	logger *slog.Logger

	mu        sync.Mutex
	holder    string
	handle    Handle
	substates map[string]string
	created   time.Time

	now       func() time.Time
	closeWait time.Duration
}

// DefaultMaxAge is how old a binding may grow before ReclaimStale evicts it.
const DefaultMaxAge = time.Hour

// closeWait bounds how long an eviction waits for the handle's Close. A hung
// close is abandoned; the binding is already cleared by then.
const closeWait = 2 * time.Second

// NewArbiter creates an empty arbiter. maxAge <= 0 uses DefaultMaxAge.
func NewArbiter(maxAge time.Duration, logger *slog.Logger) *Arbiter {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &Arbiter{
		maxAge:    maxAge,
		logger:    logger,
		now:       time.Now,
		closeWait: closeWait,
	}
}

// Acquire binds clientID to the slot, evicting any current holder first. It
// returns the evicted client ID, or "" when the slot was free. The eviction
// and the new binding happen under one critical section.
func (a *Arbiter) Acquire(clientID string, handle Handle) (evicted string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	evicted = a.evictLocked("superseded")
	a.holder = clientID
	a.handle = handle
	a.substates = map[string]string{
		"connection":     "new",
		"ice_connection": "new",
		"ice_gathering":  "new",
	}
	a.created = a.now()
	a.logger.Info("session bound", "client_id", clientID)
	return evicted
}

// Release unbinds clientID if it still holds the slot. A release from a
// client that was already evicted is a no-op, so late disconnect handlers
// cannot tear down their successor.
func (a *Arbiter) Release(clientID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.holder != clientID {
		return false
	}
	a.evictLocked("released")
	return true
}

// ForceRelease unbinds whoever holds the slot. Returns the evicted client ID
// or "" when the slot was already free.
func (a *Arbiter) ForceRelease() string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.evictLocked("force released")
}

// UpdateState records one substate reported for clientID, keyed by kind
// (connection, ice_connection, ice_gathering). Stale reports from evicted
// clients are dropped.
func (a *Arbiter) UpdateState(clientID, kind, value string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.holder != clientID {
		return
	}
	a.substates[kind] = value
}

// Holder reports the current slot owner, or ok=false when the slot is free.
// The returned substate map is a copy.
func (a *Arbiter) Holder() (Binding, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.holder == "" {
		return Binding{}, false
	}
	substates := make(map[string]string, len(a.substates))
	for k, v := range a.substates {
		substates[k] = v
	}
	return Binding{
		ClientID:  a.holder,
		State:     a.substates["connection"],
		Substates: substates,
		CreatedAt: a.created,
	}, true
}

// Owns reports whether clientID currently holds the slot.
func (a *Arbiter) Owns(clientID string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.holder != "" && a.holder == clientID
}

// ReclaimStale evicts the holder when its binding is older than maxAge.
// Returns the evicted client ID or "".
func (a *Arbiter) ReclaimStale() string {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.holder == "" {
		return ""
	}
	if a.now().Sub(a.created) <= a.maxAge {
		return ""
	}
	return a.evictLocked("stale")
}

// evictLocked tears down the current binding. The binding is cleared before
// the handle is closed, and the close is bounded by closeWait, so a hung
// close never leaves a stale holder behind. Close errors are logged and
// swallowed: the binding is gone either way.
func (a *Arbiter) evictLocked(reason string) string {
	if a.holder == "" {
		return ""
	}
	evicted := a.holder
	handle := a.handle

	a.holder = ""
	a.handle = nil
	a.substates = nil
	a.created = time.Time{}

	if handle != nil {
		done := make(chan error, 1)
		go func() { done <- handle.Close() }()
		select {
		case err := <-done:
			if err != nil {
				a.logger.Warn("session close failed", "client_id", evicted, "error", err)
			}
		case <-time.After(a.closeWait):
			a.logger.Warn("session close timed out, abandoning", "client_id", evicted)
		}
	}
	a.logger.Info("session unbound", "client_id", evicted, "reason", reason)
	return evicted
}
