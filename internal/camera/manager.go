package camera

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// State is the connection state of the camera.
type State string

// Connection states. Exactly one holds at any instant; all transitions run
// behind the manager's mutex.
const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateFailed       State = "failed"
)

// ManagerConfig holds the reconnection tunables. Zero values are replaced by
// the defaults from DefaultManagerConfig.
type ManagerConfig struct {
	StartAttempts      int           // attempt budget for Start
	StartRetryDelay    time.Duration // linear backoff unit between Start attempts
	ReconnectAttempts  int           // budget before exponential backoff kicks in
	ReconnectBaseDelay time.Duration
	ReconnectMaxDelay  time.Duration
	LivenessWindow     time.Duration // max silence before connected is declared stale
	FrameWait          time.Duration // bounded per-frame wait
}

// DefaultManagerConfig returns the standard tunables.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		StartAttempts:      3,
		StartRetryDelay:    2 * time.Second,
		ReconnectAttempts:  5,
		ReconnectBaseDelay: 5 * time.Second,
		ReconnectMaxDelay:  300 * time.Second,
		LivenessWindow:     30 * time.Second,
		FrameWait:          time.Second,
	}
}

func (c ManagerConfig) withDefaults() ManagerConfig {
	def := DefaultManagerConfig()
	if c.StartAttempts <= 0 {
		c.StartAttempts = def.StartAttempts
	}
	if c.StartRetryDelay <= 0 {
		c.StartRetryDelay = def.StartRetryDelay
	}
	if c.ReconnectAttempts <= 0 {
		c.ReconnectAttempts = def.ReconnectAttempts
	}
	if c.ReconnectBaseDelay <= 0 {
		c.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if c.ReconnectMaxDelay <= 0 {
		c.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if c.LivenessWindow <= 0 {
		c.LivenessWindow = def.LivenessWindow
	}
	if c.FrameWait <= 0 {
		c.FrameWait = def.FrameWait
	}
	return c
}

// Status is a point-in-time snapshot of the connection state machine.
type Status struct {
	State       State     `json:"state"`
	Running     bool      `json:"running"`
	RetryCount  int       `json:"retry_count"`
	LastAttempt time.Time `json:"last_attempt"`
	LastFrame   time.Time `json:"last_successful_frame"`
}

// Manager owns the device handle and runs the connection state machine:
// probing, opening with a bounded attempt budget, staleness detection and
// backoff-guarded reconnection. Every operation serializes on one mutex, so
// a restart triggered by the acquisition loop cannot interleave with an
// operator-triggered reconnect mid-probe.
type Manager struct {
	cfg     ManagerConfig
	backend Backend
	prober  Prober
	logger  *slog.Logger

	now   func() time.Time
	sleep func(time.Duration)

	mu          sync.Mutex
	state       State
	running     bool
	retryCount  int
	lastAttempt time.Time
	lastFrame   time.Time
}

// NewManager creates a connection manager over the given backend and prober.
func NewManager(backend Backend, prober Prober, cfg ManagerConfig, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:     cfg.withDefaults(),
		backend: backend,
		prober:  prober,
		logger:  logger,
		now:     time.Now,
		sleep:   time.Sleep,
		state:   StateDisconnected,
	}
}

// Start opens the device. It probes availability first, and on a busy device
// runs the forced-release sequence before retrying, up to the attempt budget
// with linear backoff. All attempts exhausted leaves the manager in
// StateFailed and returns a DeviceError carrying the last cause and any
// conflicting-process hints.
func (m *Manager) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.startLocked()
}

func (m *Manager) startLocked() error {
	if m.running {
		return nil
	}

	conflicts := m.prober.Conflicts()
	for _, hint := range conflicts {
		m.logger.Warn("process may be holding the camera", "pid", hint.PID, "comm", hint.Comm)
	}

	var lastErr error
	for attempt := 1; attempt <= m.cfg.StartAttempts; attempt++ {
		m.logger.Info("starting camera", "attempt", attempt, "max_attempts", m.cfg.StartAttempts)
		m.state = StateConnecting

		lastErr = m.openOnce()
		if lastErr == nil {
			m.state = StateConnected
			m.running = true
			m.retryCount = 0
			m.lastFrame = m.now()
			m.logger.Info("camera started")
			return nil
		}

		m.logger.Warn("camera start attempt failed", "attempt", attempt, "error", lastErr)

		if attempt == m.cfg.StartAttempts {
			break
		}
		if errors.Is(lastErr, ErrDeviceBusy) {
			m.logger.Info("device busy, attempting forced release")
			m.forceReleaseLocked()
		}
		m.sleep(m.cfg.StartRetryDelay * time.Duration(attempt))
	}

	m.state = StateFailed
	m.lastAttempt = m.now()
	return &DeviceError{
		Attempts:  m.cfg.StartAttempts,
		Cause:     lastErr,
		Conflicts: conflicts,
	}
}

// openOnce probes and opens the backend a single time.
func (m *Manager) openOnce() error {
	if err := m.prober.Available(); err != nil {
		return err
	}
	return m.backend.Start()
}

// Stop closes the device and resets the retry bookkeeping. Idempotent.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
}

func (m *Manager) stopLocked() {
	m.backend.Stop()
	m.running = false
	m.state = StateDisconnected
	m.retryCount = 0
	m.lastAttempt = time.Time{}
	m.lastFrame = time.Time{}
}

// Reconnect runs a full stop/start cycle. Used by the operator-facing force
// reconnect endpoint; safe to call at any time.
func (m *Manager) Reconnect() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopLocked()
	m.sleep(time.Second)
	return m.startLocked()
}

// Frame returns the newest frame, or (nil, err) when none is available. The
// error is classification only: a timeout is routine, anything else already
// flipped the state machine, and callers must treat every nil frame as a
// normal condition rather than a failure.
func (m *Manager) Frame() (*Frame, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.refreshLivenessLocked()

	if m.state != StateConnected {
		if !m.attemptReconnectLocked() {
			return nil, ErrNoFrame
		}
	}
	if !m.running {
		return nil, ErrNoFrame
	}

	frame, err := m.backend.ReadFrame(m.cfg.FrameWait)
	switch {
	case err == nil:
		m.lastFrame = m.now()
		return frame, nil
	case errors.Is(err, ErrFrameTimeout):
		m.logger.Debug("frame timeout")
		return nil, err
	case errors.Is(err, ErrNotStarted):
		m.logger.Warn("stream not started, marking disconnected")
		m.state = StateDisconnected
		m.running = false
		return nil, err
	default:
		m.logger.Warn("frame fetch failed", "error", err)
		m.state = StateDisconnected
		m.running = false
		return nil, err
	}
}

// refreshLivenessLocked declares a silent connected stream disconnected once
// the liveness window is exceeded.
func (m *Manager) refreshLivenessLocked() {
	if m.state == StateConnected && m.now().Sub(m.lastFrame) > m.cfg.LivenessWindow {
		m.logger.Warn("no frames within liveness window, marking disconnected",
			"window", m.cfg.LivenessWindow)
		m.state = StateDisconnected
		m.running = false
	}
}

// shouldReconnectLocked guards reconnection against hammering the device.
func (m *Manager) shouldReconnectLocked() bool {
	now := m.now()

	if m.state == StateConnecting {
		return false
	}
	if m.state == StateConnected && now.Sub(m.lastFrame) < m.cfg.LivenessWindow {
		return false
	}
	if m.retryCount >= m.cfg.ReconnectAttempts {
		excess := m.retryCount - m.cfg.ReconnectAttempts
		delay := m.cfg.ReconnectBaseDelay << uint(excess)
		if delay > m.cfg.ReconnectMaxDelay || delay <= 0 {
			delay = m.cfg.ReconnectMaxDelay
		}
		if now.Sub(m.lastAttempt) < delay {
			return false
		}
	}
	if m.state == StateFailed && now.Sub(m.lastAttempt) < m.cfg.ReconnectBaseDelay {
		return false
	}
	return true
}

// attemptReconnectLocked tries to bring a lost stream back. Returns true on
// success. A no-op (guard rejected) and a failed attempt both return false.
func (m *Manager) attemptReconnectLocked() bool {
	if !m.shouldReconnectLocked() {
		return false
	}

	m.retryCount++
	m.lastAttempt = m.now()
	m.logger.Info("attempting camera reconnection", "attempt", m.retryCount)
	m.state = StateConnecting

	m.backend.Stop()
	m.running = false

	if err := m.openOnce(); err != nil {
		m.logger.Warn("camera reconnection failed", "error", err)
		m.state = StateFailed
		return false
	}

	m.state = StateConnected
	m.running = true
	m.retryCount = 0
	m.lastFrame = m.now()
	m.logger.Info("camera reconnection successful")
	return true
}

// ProbeAvailable reports whether the device currently looks openable.
func (m *Manager) ProbeAvailable() bool {
	return m.prober.Available() == nil
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Running reports whether the device handle is open.
func (m *Manager) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// Snapshot returns the status counters for observability.
func (m *Manager) Snapshot() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		State:       m.state,
		Running:     m.running,
		RetryCount:  m.retryCount,
		LastAttempt: m.lastAttempt,
		LastFrame:   m.lastFrame,
	}
}

// forceReleaseLocked closes any stale handle and asks the prober for a
// hardware-level reset.
func (m *Manager) forceReleaseLocked() {
	m.backend.Stop()
	m.sleep(time.Second)
	m.prober.Reset()
}
