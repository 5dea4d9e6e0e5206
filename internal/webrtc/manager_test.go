package webrtc

import (
	"log/slog"
	"testing"
	"time"

	pion "github.com/pion/webrtc/v4"

	"github.com/visionbox/camnode/internal/camera"
	"github.com/visionbox/camnode/internal/config"
	"github.com/visionbox/camnode/internal/session"
)

type staticSource struct{ frame *camera.Frame }

func (s staticSource) Latest() *camera.Frame { return s.frame }

func newTestFacade(ice *config.ICEStore) *Manager {
	logger := slog.Default()
	arbiter := session.NewArbiter(time.Hour, logger)
	if ice == nil {
		ice = config.NewICEStore("", logger)
	}
	return NewManager(arbiter, ice, staticSource{}, nil, 30, logger)
}

func TestPeerConfigFromICEStore(t *testing.T) {
	logger := slog.Default()
	ice := config.NewICEStore("", logger)
	if err := ice.Update(config.ICEConfig{
		Servers: []config.ICEServer{
			{URLs: []string{"stun:stun.example.com:3478"}},
			{URLs: []string{"turn:turn.example.com:3478"}, Username: "u", Credential: "c"},
		},
		RelayOnly: true,
	}); err != nil {
		t.Fatalf("Update: %v", err)
	}

	m := newTestFacade(ice)
	cfg := m.peerConfig()

	if len(cfg.ICEServers) != 2 {
		t.Fatalf("servers = %d, want 2", len(cfg.ICEServers))
	}
	if cfg.ICEServers[1].Username != "u" {
		t.Errorf("turn username = %q", cfg.ICEServers[1].Username)
	}
	if cfg.ICETransportPolicy != pion.ICETransportPolicyRelay {
		t.Errorf("transport policy = %v, want relay", cfg.ICETransportPolicy)
	}
}

func TestPeerConfigDefaultPolicy(t *testing.T) {
	m := newTestFacade(nil)
	cfg := m.peerConfig()

	if cfg.ICETransportPolicy != pion.ICETransportPolicyAll {
		t.Errorf("transport policy = %v, want all", cfg.ICETransportPolicy)
	}
	if len(cfg.ICEServers) != 1 {
		t.Errorf("servers = %d, want default STUN entry", len(cfg.ICEServers))
	}
}

func TestCloseSessionUnknownClient(t *testing.T) {
	m := newTestFacade(nil)
	if m.CloseSession("nobody") {
		t.Error("CloseSession should fail for unknown client")
	}
}

func TestForceReleaseEmptySlot(t *testing.T) {
	m := newTestFacade(nil)
	if evicted := m.ForceRelease(); evicted != "" {
		t.Errorf("evicted = %q, want none", evicted)
	}
}

func TestCleanupEmptySlot(t *testing.T) {
	m := newTestFacade(nil)
	if evicted := m.Cleanup(); evicted != "" {
		t.Errorf("evicted = %q, want none", evicted)
	}
}

func TestConnectionsEmpty(t *testing.T) {
	m := newTestFacade(nil)
	if conns := m.Connections(); len(conns) != 0 {
		t.Errorf("connections = %v, want empty", conns)
	}
}

func TestStatePushDropsOldestWhenFull(t *testing.T) {
	s := &Session{states: make(chan StateChange, 2)}
	s.push(StateChange{Kind: KindICEConnection, Value: "checking"})
	s.push(StateChange{Kind: KindICEConnection, Value: "connected"})
	// Channel is full: the oldest entry gives way, the terminal one survives.
	s.push(StateChange{Kind: KindConnection, Value: "closed"})

	first := <-s.states
	second := <-s.states
	if first.Value != "connected" {
		t.Errorf("first = %+v, want the connected transition (oldest dropped)", first)
	}
	if second.Kind != KindConnection || second.Value != "closed" {
		t.Errorf("second = %+v, want the terminal closed transition", second)
	}
}

func TestWatchForwardsSubstates(t *testing.T) {
	m := newTestFacade(nil)
	sess, err := newSession("client-1", m.peerConfig(), staticSource{}, 30)
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}
	defer sess.Close()

	m.arbiter.Acquire(sess.ID, sess)
	m.sessions[sess.ID] = sess
	go m.watch(sess)

	sess.push(StateChange{Kind: KindICEConnection, Value: "checking"})

	deadline := time.Now().Add(2 * time.Second)
	for {
		binding, ok := m.arbiter.Holder()
		if ok && binding.Substates[KindICEConnection] == "checking" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("ice_connection substate never reached the arbiter")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// A terminal connection transition releases the slot.
	sess.push(StateChange{Kind: KindConnection, Value: pion.PeerConnectionStateClosed.String()})
	for {
		if len(m.Connections()) == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("slot not released after terminal transition")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSessionLifecycle(t *testing.T) {
	m := newTestFacade(nil)

	sess, err := newSession("client-1", m.peerConfig(), staticSource{}, 30)
	if err != nil {
		t.Fatalf("newSession: %v", err)
	}
	defer sess.Close()

	evicted := m.arbiter.Acquire(sess.ID, sess)
	if evicted != "" {
		t.Fatalf("evicted = %q on empty slot", evicted)
	}
	m.sessions[sess.ID] = sess

	conns := m.Connections()
	if len(conns) != 1 || conns[0].ClientID != "client-1" {
		t.Fatalf("connections = %v", conns)
	}

	if !m.CloseSession("client-1") {
		t.Error("CloseSession failed for active client")
	}
	if len(m.Connections()) != 0 {
		t.Error("slot not freed after close")
	}

	// Double close is a no-op
	if m.CloseSession("client-1") {
		t.Error("second CloseSession should report unknown client")
	}
}
