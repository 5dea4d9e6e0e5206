package camera

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pion/webrtc/v4/pkg/media/h264reader"
)

const (
	defaultStartTimeout = 5 * time.Second
	gracefulStopTimeout = 2 * time.Second
	stderrTailLines     = 8
	frameChanSize       = 2
)

var annexBPrefix = []byte{0x00, 0x00, 0x00, 0x01}

// PipelineConfig holds the stream parameters for the capture pipeline.
type PipelineConfig struct {
	DevicePath string
	Width      int
	Height     int
	FPS        int
	Rotation   int // degrees: 0, 90, 180, 270

	// StartTimeout bounds the wait for the first frame after the process
	// comes up. Zero means defaultStartTimeout.
	StartTimeout time.Duration
}

// Pipeline implements Backend on top of an FFmpeg subprocess that reads the
// V4L2 node and emits an H264 elementary stream on stdout. Frames are split
// into access units; parameter sets are re-attached to every keyframe so a
// consumer can join mid-stream.
type Pipeline struct {
	cfg    PipelineConfig
	logger *slog.Logger

	mu      sync.Mutex
	running bool
	cmd     *exec.Cmd
	frames  chan *Frame
	exited  chan struct{}
	exitErr error
	tail    []string
}

// NewPipeline creates a capture pipeline for the given device.
func NewPipeline(cfg PipelineConfig, logger *slog.Logger) *Pipeline {
	if cfg.StartTimeout == 0 {
		cfg.StartTimeout = defaultStartTimeout
	}
	return &Pipeline{cfg: cfg, logger: logger}
}

// Start implements Backend. It spawns the capture process and blocks until
// the first frame arrives or the start timeout elapses, so a successful
// return means the stream is actually delivering.
func (p *Pipeline) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return fmt.Errorf("pipeline already started for %s", p.cfg.DevicePath)
	}

	cmd := exec.Command("ffmpeg", p.buildArgs()...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start capture process: %w", err)
	}

	p.logger.Info("capture process started", "device", p.cfg.DevicePath, "pid", cmd.Process.Pid)

	frames := make(chan *Frame, frameChanSize)
	exited := make(chan struct{})
	started := make(chan struct{})
	p.cmd = cmd
	p.frames = frames
	p.exited = exited
	p.exitErr = nil
	p.tail = nil

	go p.collectStderr(stderr)
	go p.readFrames(stdout, frames, started)
	go func() {
		err := cmd.Wait()
		p.mu.Lock()
		p.exitErr = p.classifyExit(err)
		p.mu.Unlock()
		close(exited)
	}()

	// The device is only considered open once it proves it can deliver.
	p.mu.Unlock()
	select {
	case <-started:
		p.mu.Lock()
		p.running = true
		return nil
	case <-exited:
		p.mu.Lock()
		err := p.exitErr
		p.cmd = nil
		return err
	case <-time.After(p.cfg.StartTimeout):
		p.mu.Lock()
		p.killLocked()
		p.cmd = nil
		return fmt.Errorf("%w: no frames from %s within %s", ErrDeviceUnavailable, p.cfg.DevicePath, p.cfg.StartTimeout)
	}
}

// Stop implements Backend. Idempotent; sends SIGINT and escalates to a
// process-group kill after the graceful timeout.
func (p *Pipeline) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cmd == nil {
		p.running = false
		return
	}

	p.logger.Info("stopping capture process", "pid", p.cmd.Process.Pid)
	if err := p.cmd.Process.Signal(syscall.SIGINT); err != nil {
		p.logger.Debug("SIGINT failed", "error", err)
	}

	exited := p.exited
	p.mu.Unlock()
	select {
	case <-exited:
	case <-time.After(gracefulStopTimeout):
		p.mu.Lock()
		p.logger.Warn("capture process did not exit, killing", "timeout", gracefulStopTimeout)
		p.killLocked()
		p.mu.Unlock()
		select {
		case <-exited:
		case <-time.After(gracefulStopTimeout):
			p.logger.Error("capture process still running after kill")
		}
	}
	p.mu.Lock()

	p.cmd = nil
	p.running = false
}

// ReadFrame implements Backend.
func (p *Pipeline) ReadFrame(timeout time.Duration) (*Frame, error) {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil, ErrNotStarted
	}
	frames, exited := p.frames, p.exited
	p.mu.Unlock()

	select {
	case frame := <-frames:
		return frame, nil
	case <-exited:
		p.mu.Lock()
		err := p.exitErr
		p.running = false
		p.mu.Unlock()
		if err == nil {
			err = fmt.Errorf("capture process exited")
		}
		return nil, err
	case <-time.After(timeout):
		return nil, ErrFrameTimeout
	}
}

func (p *Pipeline) buildArgs() []string {
	args := []string{
		"-hide_banner", "-loglevel", "warning", "-nostats",
		"-f", "v4l2",
		"-framerate", strconv.Itoa(p.cfg.FPS),
		"-video_size", fmt.Sprintf("%dx%d", p.cfg.Width, p.cfg.Height),
		"-i", p.cfg.DevicePath,
	}

	if filter := rotationFilter(p.cfg.Rotation, p.logger); filter != "" {
		args = append(args, "-vf", filter)
	}

	args = append(args,
		"-c:v", "libx264",
		"-preset", "ultrafast",
		"-tune", "zerolatency",
		"-g", strconv.Itoa(p.cfg.FPS*2),
		"-f", "h264", "-",
	)
	return args
}

// rotationFilter maps a rotation angle to an FFmpeg filter expression.
func rotationFilter(rotation int, logger *slog.Logger) string {
	switch rotation {
	case 0:
		return ""
	case 90:
		return "transpose=1"
	case 180:
		return "hflip,vflip"
	case 270:
		return "transpose=2"
	default:
		logger.Warn("invalid rotation angle, using 0", "rotation", rotation)
		return ""
	}
}

// readFrames splits the H264 elementary stream into per-frame access units.
// SPS/PPS are cached and prepended to every IDR so each keyframe is
// self-contained.
func (p *Pipeline) readFrames(stdout io.Reader, frames chan *Frame, started chan struct{}) {
	reader, err := h264reader.NewReader(bufio.NewReaderSize(stdout, 512*1024))
	if err != nil {
		p.logger.Warn("h264 reader init failed", "error", err)
		return
	}

	var sps, pps []byte
	firstFrame := true

	for {
		nal, err := reader.NextNAL()
		if err != nil {
			// EOF on process exit; the wait goroutine reports the cause.
			p.logger.Debug("h264 stream ended", "error", err)
			return
		}

		var frame *Frame
		switch nal.UnitType {
		case h264reader.NalUnitTypeSPS:
			sps = append([]byte(nil), nal.Data...)
			continue
		case h264reader.NalUnitTypePPS:
			pps = append([]byte(nil), nal.Data...)
			continue
		case h264reader.NalUnitTypeCodedSliceIdr:
			frame = &Frame{
				Payload:   annexB(sps, pps, nal.Data),
				Keyframe:  true,
				Timestamp: time.Now(),
			}
		case h264reader.NalUnitTypeCodedSliceNonIdr:
			frame = &Frame{
				Payload:   annexB(nal.Data),
				Timestamp: time.Now(),
			}
		default:
			continue
		}

		if firstFrame {
			close(started)
			firstFrame = false
		}

		// Latest-wins: drop the oldest buffered frame rather than block.
		select {
		case frames <- frame:
		default:
			select {
			case <-frames:
			default:
			}
			select {
			case frames <- frame:
			default:
			}
		}
	}
}

// annexB concatenates NAL units with start codes, skipping empty ones.
func annexB(nals ...[]byte) []byte {
	size := 0
	for _, nal := range nals {
		if len(nal) > 0 {
			size += len(annexBPrefix) + len(nal)
		}
	}
	buf := make([]byte, 0, size)
	for _, nal := range nals {
		if len(nal) > 0 {
			buf = append(buf, annexBPrefix...)
			buf = append(buf, nal...)
		}
	}
	return buf
}

// collectStderr keeps the last few stderr lines for exit classification and
// forwards them to the debug log.
func (p *Pipeline) collectStderr(stderr io.Reader) {
	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		line := scanner.Text()
		p.logger.Debug("ffmpeg", "line", line)
		p.mu.Lock()
		p.tail = append(p.tail, line)
		if len(p.tail) > stderrTailLines {
			p.tail = p.tail[1:]
		}
		p.mu.Unlock()
	}
}

// classifyExit turns a process exit into the device error taxonomy using the
// captured stderr tail. Callers hold p.mu.
func (p *Pipeline) classifyExit(waitErr error) error {
	tail := strings.ToLower(strings.Join(p.tail, "\n"))
	switch {
	case strings.Contains(tail, "device or resource busy"):
		return fmt.Errorf("%w: %s", ErrDeviceBusy, p.cfg.DevicePath)
	case strings.Contains(tail, "no such file or directory"),
		strings.Contains(tail, "no such device"):
		return fmt.Errorf("%w: %s", ErrDeviceUnavailable, p.cfg.DevicePath)
	case waitErr != nil:
		return fmt.Errorf("capture process exited: %w", waitErr)
	default:
		return fmt.Errorf("capture process exited")
	}
}

// killLocked force-kills the process group. Callers hold p.mu.
func (p *Pipeline) killLocked() {
	if p.cmd == nil || p.cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-p.cmd.Process.Pid, syscall.SIGKILL); err != nil {
		p.logger.Debug("process group kill failed", "error", err)
	}
}
