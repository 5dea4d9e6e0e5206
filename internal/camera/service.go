package camera

import (
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ServiceConfig holds the acquisition loop tunables.
type ServiceConfig struct {
	ProbeInterval    time.Duration // cold-start probe cadence while disconnected
	ErrorThreshold   int           // consecutive errors before a restart
	TimeoutThreshold int           // consecutive timeouts before a health warning
	RestartInterval  time.Duration // planned restart after this much uptime
	ErrorSleep       time.Duration // pause after an error iteration
	JoinTimeout      time.Duration // bound on waiting for the loop to exit
	LogInterval      time.Duration // cadence of the periodic state log line
}

// DefaultServiceConfig returns the standard acquisition tunables.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		ProbeInterval:    10 * time.Second,
		ErrorThreshold:   10,
		TimeoutThreshold: 50,
		RestartInterval:  time.Hour,
		ErrorSleep:       100 * time.Millisecond,
		JoinTimeout:      2 * time.Second,
		LogInterval:      30 * time.Second,
	}
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	def := DefaultServiceConfig()
	if c.ProbeInterval <= 0 {
		c.ProbeInterval = def.ProbeInterval
	}
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = def.ErrorThreshold
	}
	if c.TimeoutThreshold <= 0 {
		c.TimeoutThreshold = def.TimeoutThreshold
	}
	if c.RestartInterval <= 0 {
		c.RestartInterval = def.RestartInterval
	}
	if c.ErrorSleep <= 0 {
		c.ErrorSleep = def.ErrorSleep
	}
	if c.JoinTimeout <= 0 {
		c.JoinTimeout = def.JoinTimeout
	}
	if c.LogInterval <= 0 {
		c.LogInterval = def.LogInterval
	}
	return c
}

// StateListener is notified on every connection state transition observed by
// the acquisition loop. Calls arrive from the loop goroutine.
type StateListener func(old, new State)

// Service runs the background acquisition loop: it pulls frames from the
// manager, publishes the newest one into an atomic slot, and restarts the
// device when error counters or planned-restart deadlines say so. Consumers
// only ever touch the slot, so a stalled camera never blocks a reader.
type Service struct {
	cfg     ServiceConfig
	manager *Manager
	logger  *slog.Logger

	slot     atomic.Pointer[Frame]
	listener StateListener

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	done    chan struct{}
}

// NewService wraps the manager in an acquisition loop.
func NewService(manager *Manager, cfg ServiceConfig, logger *slog.Logger) *Service {
	return &Service{
		cfg:     cfg.withDefaults(),
		manager: manager,
		logger:  logger,
	}
}

// OnStateChange registers the transition listener. Must be called before
// Start.
func (s *Service) OnStateChange(fn StateListener) {
	s.listener = fn
}

// Start brings the device up and launches the loop. A failed initial start is
// not fatal: the loop still runs and keeps probing, so the node comes up
// degraded and recovers when the camera appears.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	err := s.manager.Start()
	if err != nil {
		s.logger.Warn("camera unavailable at startup, continuing degraded", "error", err)
	}

	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.running = true
	go s.run(s.stop, s.done)
	return err
}

// Stop signals the loop and waits up to JoinTimeout for it to exit, then
// closes the device regardless.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop, done := s.stop, s.done
	s.mu.Unlock()

	close(stop)
	select {
	case <-done:
	case <-time.After(s.cfg.JoinTimeout):
		s.logger.Warn("acquisition loop did not exit in time")
	}
	s.manager.Stop()
}

// Latest returns the most recently published frame, or nil when nothing has
// been captured yet.
func (s *Service) Latest() *Frame {
	return s.slot.Load()
}

// Status exposes the manager snapshot.
func (s *Service) Status() Status {
	return s.manager.Snapshot()
}

// Manager returns the underlying connection manager for operator endpoints.
func (s *Service) Manager() *Manager {
	return s.manager
}

func (s *Service) run(stop, done chan struct{}) {
	defer close(done)

	var (
		errorCount   int
		timeoutCount int
		lastProbe    time.Time
		lastLog      time.Time
	)
	lastState, connectedAt := s.initialLoopState()

	for {
		select {
		case <-stop:
			return
		default:
		}

		s.iterate(&errorCount, &timeoutCount, &connectedAt, &lastProbe, &lastLog, &lastState)
	}
}

// initialLoopState seeds the loop bookkeeping from the manager's current
// state. A camera that is already connected at launch counts its uptime from
// now; otherwise the planned-restart clock would never start, since the loop
// only stamps it on a transition into connected.
func (s *Service) initialLoopState() (State, time.Time) {
	state := s.manager.State()
	var connectedAt time.Time
	if state == StateConnected {
		connectedAt = time.Now()
	}
	return state, connectedAt
}

// iterate runs one loop body with panic containment, so a bug in frame
// handling degrades to an error iteration instead of killing the loop.
func (s *Service) iterate(errorCount, timeoutCount *int, connectedAt, lastProbe, lastLog *time.Time, lastState *State) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("acquisition iteration panicked", "panic", r)
			*errorCount++
			time.Sleep(s.cfg.ErrorSleep)
		}
	}()

	now := time.Now()
	state := s.manager.State()

	if state != *lastState {
		s.logger.Info("camera state changed", "from", *lastState, "to", state)
		recordStateChange(*lastState, state)
		if s.listener != nil {
			s.listener(*lastState, state)
		}
		if state == StateConnected {
			*connectedAt = now
		}
		*lastState = state
	}

	if now.Sub(*lastLog) >= s.cfg.LogInterval {
		snap := s.manager.Snapshot()
		s.logger.Info("camera status",
			"state", snap.State,
			"running", snap.Running,
			"retries", snap.RetryCount)
		*lastLog = now
	}

	if !s.manager.Running() && state != StateConnecting {
		if now.Sub(*lastProbe) >= s.cfg.ProbeInterval {
			*lastProbe = now
			if s.manager.ProbeAvailable() {
				s.logger.Info("camera appeared, attempting start")
				if err := s.manager.Start(); err != nil {
					s.logger.Warn("camera start failed", "error", err)
				}
			}
		}
	}

	if *timeoutCount >= s.cfg.TimeoutThreshold {
		snap := s.manager.Snapshot()
		s.logger.Warn("too many consecutive frame timeouts, checking camera health",
			"timeouts", *timeoutCount, "state", snap.State, "running", snap.Running)
		*timeoutCount = 0
	}

	if *errorCount >= s.cfg.ErrorThreshold {
		s.logger.Warn("too many consecutive errors, restarting camera", "errors", *errorCount)
		restartsTotal.WithLabelValues("errors").Inc()
		s.restart()
		*errorCount, *timeoutCount = 0, 0
		*connectedAt = time.Now()
		return
	}

	if state == StateConnected && !connectedAt.IsZero() && now.Sub(*connectedAt) >= s.cfg.RestartInterval {
		s.logger.Info("planned camera restart", "uptime", now.Sub(*connectedAt))
		restartsTotal.WithLabelValues("planned").Inc()
		s.restart()
		*errorCount, *timeoutCount = 0, 0
		*connectedAt = time.Now()
		return
	}

	frame, err := s.manager.Frame()
	switch {
	case err == nil && frame != nil:
		s.slot.Store(frame)
		framesAcquired.Inc()
		*errorCount, *timeoutCount = 0, 0
	case errors.Is(err, ErrFrameTimeout):
		*timeoutCount++
	case errors.Is(err, ErrNoFrame):
		// nothing to do until the device comes back
		time.Sleep(s.cfg.ErrorSleep)
	case err != nil:
		*errorCount++
		time.Sleep(s.cfg.ErrorSleep)
	}
}

func (s *Service) restart() {
	s.manager.Stop()
	if err := s.manager.Start(); err != nil {
		s.logger.Warn("camera restart failed", "error", err)
	}
}
