package camera

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/procfs"
)

// DeviceProber probes a V4L2 capture node for availability. When a serial
// selector is configured, the node is resolved through /dev/v4l/by-id so the
// probe follows the physical device across renumbering.
type DeviceProber struct {
	path   string
	serial string
	logger *slog.Logger
}

// NewDeviceProber creates a prober for the given device node. serial may be
// empty, in which case the configured path is probed as-is.
func NewDeviceProber(path, serial string, logger *slog.Logger) *DeviceProber {
	return &DeviceProber{path: path, serial: serial, logger: logger}
}

// ResolvePath returns the device node the prober targets, resolving the
// serial selector when one is set.
func (p *DeviceProber) ResolvePath() (string, error) {
	if p.serial == "" {
		return p.path, nil
	}
	return resolveBySerial(p.serial)
}

// Available implements Prober. The device counts as available when its node
// exists and a non-blocking open succeeds; EBUSY means another process has
// it claimed.
func (p *DeviceProber) Available() error {
	path, err := p.ResolvePath()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeviceUnavailable, err)
	}

	fd, err := syscall.Open(path, syscall.O_RDWR|syscall.O_NONBLOCK, 0)
	if err != nil {
		if err == syscall.EBUSY {
			return fmt.Errorf("%w: %s", ErrDeviceBusy, path)
		}
		return fmt.Errorf("%w: open %s: %v", ErrDeviceUnavailable, path, err)
	}
	syscall.Close(fd)
	return nil
}

// Conflicts implements Prober. It walks procfs looking for processes with
// the device node among their open file descriptors.
func (p *DeviceProber) Conflicts() []ProcHint {
	path, err := p.ResolvePath()
	if err != nil {
		return nil
	}

	procs, err := procfs.AllProcs()
	if err != nil {
		p.logger.Debug("procfs scan failed", "error", err)
		return nil
	}

	self := os.Getpid()
	var hints []ProcHint
	for _, proc := range procs {
		if proc.PID == self {
			continue
		}
		targets, err := proc.FileDescriptorTargets()
		if err != nil {
			continue
		}
		for _, target := range targets {
			if target != path {
				continue
			}
			comm, _ := proc.Comm()
			cmdline, _ := proc.CmdLine()
			hints = append(hints, ProcHint{
				PID:     proc.PID,
				Comm:    comm,
				Cmdline: strings.Join(cmdline, " "),
			})
			break
		}
	}
	return hints
}

// Reset implements Prober. It asks the USB core to re-authorize the device,
// which forces the kernel driver to drop and re-claim it. Failures are
// logged and swallowed; this is strictly best-effort recovery.
func (p *DeviceProber) Reset() {
	path, err := p.ResolvePath()
	if err != nil {
		return
	}

	usbDir, err := usbDeviceDir(path)
	if err != nil {
		p.logger.Debug("no usb ancestor for device, skipping reset", "path", path, "error", err)
		return
	}

	authorized := filepath.Join(usbDir, "authorized")
	if err := os.WriteFile(authorized, []byte("0"), 0); err != nil {
		p.logger.Warn("usb deauthorize failed", "path", authorized, "error", err)
		return
	}
	time.Sleep(time.Second)
	if err := os.WriteFile(authorized, []byte("1"), 0); err != nil {
		p.logger.Warn("usb reauthorize failed", "path", authorized, "error", err)
		return
	}
	p.logger.Info("usb reset performed", "device", path)
	time.Sleep(2 * time.Second)
}

// resolveBySerial finds the capture node whose /dev/v4l/by-id entry contains
// the given serial and ends in -video-index0.
func resolveBySerial(serial string) (string, error) {
	const byIDDir = "/dev/v4l/by-id"

	entries, err := os.ReadDir(byIDDir)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", byIDDir, err)
	}

	for _, entry := range entries {
		name := entry.Name()
		if !strings.Contains(name, serial) || !strings.HasSuffix(name, "-video-index0") {
			continue
		}
		target, err := os.Readlink(filepath.Join(byIDDir, name))
		if err != nil {
			continue
		}
		if !filepath.IsAbs(target) {
			target = filepath.Join(byIDDir, target)
		}
		return filepath.Clean(target), nil
	}
	return "", fmt.Errorf("no capture node with serial %q", serial)
}

// usbDeviceDir walks up from a video node's sysfs entry to the USB device
// directory that owns it.
func usbDeviceDir(devicePath string) (string, error) {
	name := filepath.Base(devicePath)
	sysPath, err := filepath.EvalSymlinks(filepath.Join("/sys/class/video4linux", name, "device"))
	if err != nil {
		return "", err
	}

	// The usb_device level is the ancestor that carries an "authorized"
	// attribute alongside idVendor.
	for dir := sysPath; dir != "/" && dir != "."; dir = filepath.Dir(dir) {
		if _, err := os.Stat(filepath.Join(dir, "idVendor")); err == nil {
			return dir, nil
		}
	}
	return "", fmt.Errorf("no usb device ancestor for %s", devicePath)
}
