package webrtc

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	pion "github.com/pion/webrtc/v4"

	"github.com/visionbox/camnode/internal/config"
	"github.com/visionbox/camnode/internal/events"
	"github.com/visionbox/camnode/internal/session"
)

// Manager is the streaming facade: it creates sessions, hands them to the
// arbiter for slot ownership, and keeps arbiter state in sync by draining
// each session's state channel.
type Manager struct {
	arbiter *session.Arbiter
	ice     *config.ICEStore
	source  FrameSource
	bus     *events.Bus
	logger  *slog.Logger
	fps     int

	mu       sync.Mutex
	sessions map[string]*Session
}

// NewManager creates the session facade.
func NewManager(arbiter *session.Arbiter, ice *config.ICEStore, source FrameSource, bus *events.Bus, fps int, logger *slog.Logger) *Manager {
	return &Manager{
		arbiter:  arbiter,
		ice:      ice,
		source:   source,
		bus:      bus,
		logger:   logger,
		fps:      fps,
		sessions: make(map[string]*Session),
	}
}

// CreateSession performs the offer/answer exchange for a new client and binds
// it to the streaming slot, evicting any current holder. Returns the client
// ID and the complete SDP answer.
func (m *Manager) CreateSession(offerSDP string) (string, string, error) {
	clientID := uuid.NewString()

	sess, err := newSession(clientID, m.peerConfig(), m.source, m.fps)
	if err != nil {
		return "", "", err
	}

	answer, err := sess.Handshake(offerSDP)
	if err != nil {
		_ = sess.Close()
		return "", "", err
	}

	evicted := m.arbiter.Acquire(clientID, sess)
	if evicted != "" {
		m.logger.Info("previous session evicted", "evicted", evicted, "new", clientID)
		recordEviction("superseded")
		m.publish(events.SessionEvictedEvent{
			ClientID:  evicted,
			Reason:    "superseded",
			Timestamp: timestamp(),
		})
	}

	m.mu.Lock()
	m.sessions[clientID] = sess
	m.mu.Unlock()

	recordSessionBound()
	m.publish(events.SessionCreatedEvent{ClientID: clientID, Timestamp: timestamp()})

	sess.StartStreaming()
	go m.watch(sess)

	return clientID, answer, nil
}

// peerConfig maps the active ICE store contents onto a pion configuration.
func (m *Manager) peerConfig() pion.Configuration {
	ice := m.ice.Current()
	cfg := pion.Configuration{}
	for _, srv := range ice.Servers {
		cfg.ICEServers = append(cfg.ICEServers, pion.ICEServer{
			URLs:       srv.URLs,
			Username:   srv.Username,
			Credential: srv.Credential,
		})
	}
	if ice.RelayOnly {
		cfg.ICETransportPolicy = pion.ICETransportPolicyRelay
	}
	return cfg
}

// watch drains the session's state channel, mirroring each substate into the
// arbiter and releasing the slot when the connection dies.
func (m *Manager) watch(sess *Session) {
	for st := range sess.States() {
		m.logger.Debug("session state changed",
			"client_id", sess.ID, "kind", st.Kind, "state", st.Value)
		m.arbiter.UpdateState(sess.ID, st.Kind, st.Value)

		if st.Kind != KindConnection {
			continue
		}
		switch st.Value {
		case pion.PeerConnectionStateFailed.String(), pion.PeerConnectionStateClosed.String():
			m.remove(sess.ID, st.Value)
			return
		}
	}
}

// remove releases the slot (if still held) and forgets the session.
func (m *Manager) remove(clientID, finalState string) {
	if m.arbiter.Release(clientID) {
		recordSlotFree()
	}
	m.mu.Lock()
	sess, ok := m.sessions[clientID]
	delete(m.sessions, clientID)
	m.mu.Unlock()

	if ok {
		_ = sess.Close()
		m.publish(events.SessionClosedEvent{
			ClientID:  clientID,
			State:     finalState,
			Timestamp: timestamp(),
		})
	}
}

// AddCandidate applies a trickled ICE candidate for clientID. Clients that
// have lost the slot get an error rather than silently feeding a dead peer.
func (m *Manager) AddCandidate(clientID string, candidate pion.ICECandidateInit) error {
	if !m.arbiter.Owns(clientID) {
		return fmt.Errorf("unknown session: %s", clientID)
	}
	m.mu.Lock()
	sess, ok := m.sessions[clientID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown session: %s", clientID)
	}
	return sess.AddCandidate(candidate)
}

// CloseSession tears down clientID's session. Returns false when the client
// does not hold the slot.
func (m *Manager) CloseSession(clientID string) bool {
	if !m.arbiter.Owns(clientID) {
		return false
	}
	m.remove(clientID, "closed")
	return true
}

// ForceRelease evicts whoever holds the slot. Returns the evicted client ID
// or "".
func (m *Manager) ForceRelease() string {
	evicted := m.arbiter.ForceRelease()
	if evicted == "" {
		return ""
	}
	recordEviction("forced")
	recordSlotFree()

	m.mu.Lock()
	delete(m.sessions, evicted)
	m.mu.Unlock()

	m.publish(events.SessionEvictedEvent{
		ClientID:  evicted,
		Reason:    "forced",
		Timestamp: timestamp(),
	})
	return evicted
}

// Cleanup evicts a stale binding. Returns the evicted client ID or "".
func (m *Manager) Cleanup() string {
	evicted := m.arbiter.ReclaimStale()
	if evicted == "" {
		return ""
	}
	recordEviction("stale")
	recordSlotFree()

	m.mu.Lock()
	delete(m.sessions, evicted)
	m.mu.Unlock()

	m.publish(events.SessionEvictedEvent{
		ClientID:  evicted,
		Reason:    "stale",
		Timestamp: timestamp(),
	})
	return evicted
}

// Connections lists the current slot binding, if any.
func (m *Manager) Connections() []session.Binding {
	binding, ok := m.arbiter.Holder()
	if !ok {
		return nil
	}
	return []session.Binding{binding}
}

// Shutdown closes all sessions for process exit.
func (m *Manager) Shutdown() {
	m.ForceRelease()

	m.mu.Lock()
	remaining := make([]*Session, 0, len(m.sessions))
	for _, sess := range m.sessions {
		remaining = append(remaining, sess)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, sess := range remaining {
		_ = sess.Close()
	}
}

func (m *Manager) publish(ev events.Event) {
	if m.bus != nil {
		m.bus.Publish(ev)
	}
}

func timestamp() string {
	return time.Now().UTC().Format(time.RFC3339)
}
