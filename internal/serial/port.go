// internal/serial/port.go

package serial

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	tarm "github.com/tarm/serial"
)

// Connect failures, distinct so the UI can tell the user what to do.
var (
	ErrPortUnavailable    = errors.New("serial: port does not exist")
	ErrPortBusy           = errors.New("serial: port is in use by another application")
	ErrDeviceUnresponsive = errors.New("serial: device not responding")
	ErrNotConnected       = errors.New("serial: not connected")
)

const (
	readChunkSize    = 1024
	interByteTimeout = 50 * time.Millisecond
	totalReadTimeout = 1000 * time.Millisecond
	writeTimeout     = 1000 * time.Millisecond
	idleSleep        = 10 * time.Millisecond
	transientRetry   = 100 * time.Millisecond
)

// Port is the minimal handle the transport needs from a serial device.
type Port interface {
	Open() error
	Close() error
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	Name() string
}

// Opener creates a Port for a device node at a baud rate. Tests substitute
// scripted ports here.
type Opener func(name string, baud int) Port

// Lister returns the device nodes currently present, used by the
// reconnection loop to wait for the prior port to reappear.
type Lister func() []string

// ttyPort wraps tarm/serial with 8-N-1 framing and the bridge's timeout
// discipline.
type ttyPort struct {
	name   string
	baud   int
	handle *tarm.Port
}

// OpenTTY is the default Opener.
func OpenTTY(name string, baud int) Port {
	return &ttyPort{name: name, baud: baud}
}

func (t *ttyPort) Open() error {
	cfg := &tarm.Config{
		Name:        t.name,
		Baud:        t.baud,
		Size:        8,
		Parity:      tarm.ParityNone,
		StopBits:    tarm.Stop1,
		ReadTimeout: interByteTimeout,
	}
	p, err := tarm.OpenPort(cfg)
	if err != nil {
		return classifyOpenError(t.name, err)
	}
	t.handle = p
	// Drop whatever accumulated in the driver buffers before we attached.
	if err := p.Flush(); err != nil {
		p.Close()
		return fmt.Errorf("purge %s: %w", t.name, err)
	}
	return nil
}

func (t *ttyPort) Close() error {
	if t.handle == nil {
		return nil
	}
	h := t.handle
	t.handle = nil
	return h.Close()
}

func (t *ttyPort) Read(p []byte) (int, error) {
	if t.handle == nil {
		return 0, ErrNotConnected
	}
	return t.handle.Read(p)
}

func (t *ttyPort) Write(p []byte) (int, error) {
	if t.handle == nil {
		return 0, ErrNotConnected
	}
	return t.handle.Write(p)
}

func (t *ttyPort) Name() string { return t.name }

// classifyOpenError maps OS-level open failures onto the three
// user-actionable connect errors.
func classifyOpenError(name string, err error) error {
	switch {
	case os.IsNotExist(err):
		return fmt.Errorf("%w: %s", ErrPortUnavailable, name)
	case os.IsPermission(err), errnoIs(err, syscall.EBUSY):
		return fmt.Errorf("%w: %s", ErrPortBusy, name)
	default:
		return fmt.Errorf("%w: %s: %v", ErrDeviceUnresponsive, name, err)
	}
}

func errnoIs(err error, target syscall.Errno) bool {
	var errno syscall.Errno
	return errors.As(err, &errno) && errno == target
}

// isRemovalError reports whether a read failure belongs to the fixed set
// that means the device was physically unplugged.
func isRemovalError(err error) bool {
	for _, errno := range []syscall.Errno{syscall.EIO, syscall.ENXIO, syscall.ENODEV, syscall.ENOENT} {
		if errnoIs(err, errno) {
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{"input/output error", "no such device", "device not configured"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

// isClosedError matches the read error produced by closing the handle
// during a deliberate disconnect.
func isClosedError(err error) bool {
	return errors.Is(err, os.ErrClosed) ||
		errnoIs(err, syscall.EBADF) ||
		strings.Contains(err.Error(), "file already closed")
}

// ListPorts is the default Lister, covering the usual USB serial nodes.
func ListPorts() []string {
	var out []string
	for _, pattern := range []string{"/dev/ttyUSB*", "/dev/ttyACM*"} {
		matches, _ := filepath.Glob(pattern)
		out = append(out, matches...)
	}
	sort.Strings(out)
	return out
}
