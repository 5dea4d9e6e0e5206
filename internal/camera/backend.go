package camera

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Frame is one captured video frame: an H264 access unit in Annex-B form
// plus its capture timestamp.
type Frame struct {
	Payload   []byte
	Keyframe  bool
	Timestamp time.Time
}

// Backend is the capability interface over the raw capture pipeline.
// The production implementation is Pipeline; tests use a deterministic fake.
type Backend interface {
	// Start opens the device and begins streaming. It must not be called
	// on an already-started backend; Stop must complete first.
	Start() error

	// Stop tears the pipeline down. Idempotent.
	Stop()

	// ReadFrame returns the next frame, waiting at most the given duration.
	// Returns ErrFrameTimeout when no frame arrived in time and
	// ErrNotStarted when the pipeline is not running.
	ReadFrame(timeout time.Duration) (*Frame, error)
}

// Prober answers whether the underlying device can currently be opened and
// who else might be holding it. Split from Backend so the connection manager
// can probe without touching the pipeline.
type Prober interface {
	// Available returns nil when the device is enumerable and not claimed
	// by another process. ErrDeviceBusy and ErrDeviceUnavailable are the
	// two expected failures.
	Available() error

	// Conflicts lists processes that hold the device node open.
	Conflicts() []ProcHint

	// Reset performs a best-effort hardware-level release of the device.
	Reset()
}

// ProcHint identifies a process that may be holding the camera.
type ProcHint struct {
	PID     int    `json:"pid"`
	Comm    string `json:"comm"`
	Cmdline string `json:"cmdline"`
}

// Sentinel errors for the frame-fetch taxonomy. A timeout is a routine
// condition and never escalates; ErrNoFrame is the uniform "nothing for you"
// answer callers of Manager.Frame must treat as normal.
var (
	ErrFrameTimeout      = errors.New("frame wait timed out")
	ErrNotStarted        = errors.New("stream not started")
	ErrNoFrame           = errors.New("no frame available")
	ErrDeviceBusy        = errors.New("device or resource busy")
	ErrDeviceUnavailable = errors.New("device not available")
)

// DeviceError is raised from Start when every attempt is exhausted. It
// carries the last underlying cause and any processes found holding the
// device node.
type DeviceError struct {
	Attempts  int
	Cause     error
	Conflicts []ProcHint
}

func (e *DeviceError) Error() string {
	msg := fmt.Sprintf("failed to start camera after %d attempts: %v", e.Attempts, e.Cause)
	if len(e.Conflicts) > 0 {
		pids := make([]string, len(e.Conflicts))
		for i, c := range e.Conflicts {
			pids[i] = fmt.Sprintf("%d (%s)", c.PID, c.Comm)
		}
		msg += "; conflicting processes: " + strings.Join(pids, ", ")
	}
	return msg
}

func (e *DeviceError) Unwrap() error { return e.Cause }
