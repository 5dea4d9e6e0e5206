package session

import (
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"
)

type fakeHandle struct {
	mu       sync.Mutex
	closed   int
	closeErr error
}

func (f *fakeHandle) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return f.closeErr
}

func (f *fakeHandle) closedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func newTestArbiter() (*Arbiter, *time.Time) {
	a := NewArbiter(time.Hour, slog.Default())
	clock := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	a.now = func() time.Time { return clock }
	return a, &clock
}

func TestAcquireFreeSlot(t *testing.T) {
	a, _ := newTestArbiter()

	if evicted := a.Acquire("alice", &fakeHandle{}); evicted != "" {
		t.Errorf("evicted = %q, want none", evicted)
	}
	binding, ok := a.Holder()
	if !ok {
		t.Fatal("expected a holder")
	}
	if binding.ClientID != "alice" || binding.State != "new" {
		t.Errorf("binding = %+v", binding)
	}
}

type hangingHandle struct {
	release chan struct{}
}

func (h *hangingHandle) Close() error {
	<-h.release
	return nil
}

func TestHungCloseDoesNotBlockEviction(t *testing.T) {
	a, _ := newTestArbiter()
	a.closeWait = 10 * time.Millisecond

	hung := &hangingHandle{release: make(chan struct{})}
	defer close(hung.release)
	a.Acquire("alice", hung)

	start := time.Now()
	if evicted := a.Acquire("bob", &fakeHandle{}); evicted != "alice" {
		t.Errorf("evicted = %q, want alice", evicted)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("eviction took %v, want bounded by closeWait", elapsed)
	}
	if !a.Owns("bob") {
		t.Error("bob should own the slot despite the hung close")
	}
}

func TestAcquireEvictsHolder(t *testing.T) {
	a, _ := newTestArbiter()
	first := &fakeHandle{}
	a.Acquire("alice", first)

	evicted := a.Acquire("bob", &fakeHandle{})
	if evicted != "alice" {
		t.Errorf("evicted = %q, want alice", evicted)
	}
	if first.closedCount() != 1 {
		t.Errorf("old handle closed %d times, want 1", first.closedCount())
	}
	if !a.Owns("bob") {
		t.Error("bob should own the slot")
	}
	if a.Owns("alice") {
		t.Error("alice should not own the slot")
	}
}

func TestAcquireSurvivesCloseError(t *testing.T) {
	a, _ := newTestArbiter()
	a.Acquire("alice", &fakeHandle{closeErr: errors.New("pc gone")})

	if evicted := a.Acquire("bob", &fakeHandle{}); evicted != "alice" {
		t.Errorf("evicted = %q, want alice", evicted)
	}
	if !a.Owns("bob") {
		t.Error("binding must transfer despite close error")
	}
}

func TestReleaseByHolder(t *testing.T) {
	a, _ := newTestArbiter()
	h := &fakeHandle{}
	a.Acquire("alice", h)

	if !a.Release("alice") {
		t.Fatal("Release returned false for the holder")
	}
	if h.closedCount() != 1 {
		t.Errorf("handle closed %d times, want 1", h.closedCount())
	}
	if _, ok := a.Holder(); ok {
		t.Error("slot should be free")
	}
}

func TestReleaseByEvictedClientIsNoop(t *testing.T) {
	a, _ := newTestArbiter()
	a.Acquire("alice", &fakeHandle{})
	bobHandle := &fakeHandle{}
	a.Acquire("bob", bobHandle)

	if a.Release("alice") {
		t.Error("evicted client must not release its successor")
	}
	if !a.Owns("bob") {
		t.Error("bob must still own the slot")
	}
	if bobHandle.closedCount() != 0 {
		t.Error("successor handle must not be closed")
	}
}

func TestForceRelease(t *testing.T) {
	a, _ := newTestArbiter()

	if evicted := a.ForceRelease(); evicted != "" {
		t.Errorf("evicted = %q on empty slot", evicted)
	}

	a.Acquire("alice", &fakeHandle{})
	if evicted := a.ForceRelease(); evicted != "alice" {
		t.Errorf("evicted = %q, want alice", evicted)
	}
}

func TestUpdateStateIgnoresEvicted(t *testing.T) {
	a, _ := newTestArbiter()
	a.Acquire("alice", &fakeHandle{})
	a.Acquire("bob", &fakeHandle{})

	a.UpdateState("alice", "connection", "failed")
	a.UpdateState("bob", "connection", "connected")

	binding, _ := a.Holder()
	if binding.State != "connected" {
		t.Errorf("state = %q, want connected", binding.State)
	}
}

func TestSubstatesTrackedPerKind(t *testing.T) {
	a, _ := newTestArbiter()
	a.Acquire("alice", &fakeHandle{})

	binding, _ := a.Holder()
	for _, kind := range []string{"connection", "ice_connection", "ice_gathering"} {
		if binding.Substates[kind] != "new" {
			t.Errorf("initial %s = %q, want new", kind, binding.Substates[kind])
		}
	}

	a.UpdateState("alice", "ice_connection", "checking")
	a.UpdateState("alice", "ice_gathering", "complete")

	binding, _ = a.Holder()
	if binding.Substates["ice_connection"] != "checking" {
		t.Errorf("ice_connection = %q, want checking", binding.Substates["ice_connection"])
	}
	if binding.Substates["ice_gathering"] != "complete" {
		t.Errorf("ice_gathering = %q, want complete", binding.Substates["ice_gathering"])
	}
	if binding.Substates["connection"] != "new" {
		t.Errorf("connection = %q, want new (untouched)", binding.Substates["connection"])
	}

	// The holder's map is a copy; mutating it must not leak back.
	binding.Substates["connection"] = "tampered"
	fresh, _ := a.Holder()
	if fresh.Substates["connection"] != "new" {
		t.Error("Holder must return a copy of the substate map")
	}
}

func TestReclaimStale(t *testing.T) {
	a, clock := newTestArbiter()
	h := &fakeHandle{}
	a.Acquire("alice", h)

	// At exactly maxAge the binding is still honored.
	*clock = clock.Add(time.Hour)
	if evicted := a.ReclaimStale(); evicted != "" {
		t.Errorf("evicted = %q at exact boundary, want none", evicted)
	}

	*clock = clock.Add(time.Second)
	if evicted := a.ReclaimStale(); evicted != "alice" {
		t.Errorf("evicted = %q, want alice", evicted)
	}
	if h.closedCount() != 1 {
		t.Errorf("handle closed %d times, want 1", h.closedCount())
	}
}

func TestConcurrentAcquires(t *testing.T) {
	a, _ := newTestArbiter()
	var wg sync.WaitGroup
	clients := []string{"a", "b", "c", "d", "e", "f", "g", "h"}
	for _, id := range clients {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			a.Acquire(id, &fakeHandle{})
		}(id)
	}
	wg.Wait()

	binding, ok := a.Holder()
	if !ok {
		t.Fatal("expected exactly one holder")
	}
	found := false
	for _, id := range clients {
		if binding.ClientID == id {
			found = true
		}
	}
	if !found {
		t.Errorf("holder %q is not one of the contenders", binding.ClientID)
	}
}
