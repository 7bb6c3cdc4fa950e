// internal/serial/transport.go

package serial

import (
	"bytes"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/mixdeck/mixdeck-go/internal/metrics"
)

// State is the connection lifecycle state exposed on the status stream.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateReconnecting State = "reconnecting"
)

const joinTimeout = 2 * time.Second

// Transport owns the serial connection: it opens the port, runs the read
// loop, delivers framed lines to listeners, and restarts the connection
// when the device is physically unplugged. The handle never leaves this
// type.
type Transport struct {
	log  *slog.Logger
	open Opener
	list Lister

	// intervals are fields so tests can shrink them
	reconnectInterval time.Duration
	reconnectCeiling  int

	mu       sync.Mutex
	state    State
	port     Port
	portName string
	baud     int
	closing  bool // deliberate disconnect in progress
	readStop chan struct{}
	readDone chan struct{}
	recon    *reconnector

	sliderCount int
	buttonCount int

	lineHandlers   []func(line string)
	statusHandlers []func(State)
	reconnHandlers []func()
	configHandlers []func(sliders, buttons int)
}

// NewTransport builds a disconnected transport using the real tty opener
// and port lister.
func NewTransport(log *slog.Logger) *Transport {
	return NewTransportWith(log, OpenTTY, ListPorts)
}

// NewTransportWith injects the opener and lister, for tests.
func NewTransportWith(log *slog.Logger, open Opener, list Lister) *Transport {
	return &Transport{
		log:               log.With("component", "serial"),
		open:              open,
		list:              list,
		reconnectInterval: 2 * time.Second,
		reconnectCeiling:  30,
		state:             StateDisconnected,
	}
}

// OnLine registers a listener for every non-empty framed line, in wire
// order, called on the reader goroutine. Registration is safe at any
// time, including while connected.
func (t *Transport) OnLine(fn func(string)) {
	t.mu.Lock()
	t.lineHandlers = append(t.lineHandlers, fn)
	t.mu.Unlock()
}

// OnStatus registers a listener for state transitions.
func (t *Transport) OnStatus(fn func(State)) {
	t.mu.Lock()
	t.statusHandlers = append(t.statusHandlers, fn)
	t.mu.Unlock()
}

// OnReconnect registers a listener fired when a reconnection attempt
// succeeds.
func (t *Transport) OnReconnect(fn func()) {
	t.mu.Lock()
	t.reconnHandlers = append(t.reconnHandlers, fn)
	t.mu.Unlock()
}

// OnDeviceConfig registers a listener for the controller's boot-time
// "config <sliders> <buttons>" announcement.
func (t *Transport) OnDeviceConfig(fn func(sliders, buttons int)) {
	t.mu.Lock()
	t.configHandlers = append(t.configHandlers, fn)
	t.mu.Unlock()
}

// State returns the current connection state.
func (t *Transport) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// PortName returns the configured device node, if any.
func (t *Transport) PortName() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.portName
}

// Baud returns the configured baud rate.
func (t *Transport) Baud() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.baud
}

// DeviceConfig returns the last announced slider/button counts (0,0 when
// the controller never announced).
func (t *Transport) DeviceConfig() (sliders, buttons int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sliderCount, t.buttonCount
}

// Connect opens the port exclusively at baud and starts the read loop.
// Failures revert to Disconnected and return one of the distinct connect
// errors. A running reconnector is cancelled first.
func (t *Transport) Connect(portName string, baud int) error {
	t.mu.Lock()
	recon := t.recon
	t.recon = nil
	t.mu.Unlock()
	if recon != nil {
		recon.cancel()
		waitBounded(recon.done, joinTimeout)
	}
	return t.connect(portName, baud, true)
}

// connect is the shared open path. Only a user-initiated connect clears
// the closing flag; the reconnector's attempts abort on it instead, so
// Disconnect always wins the race with an in-flight attempt.
func (t *Transport) connect(portName string, baud int, userInitiated bool) error {
	t.mu.Lock()
	if t.state == StateConnected || t.state == StateConnecting {
		t.mu.Unlock()
		return fmt.Errorf("serial: already %s to %s", t.state, t.portName)
	}
	if userInitiated {
		t.closing = false
	} else if t.closing {
		t.mu.Unlock()
		return fmt.Errorf("serial: disconnect in progress: %s", portName)
	}
	t.portName = portName
	t.baud = baud
	t.state = StateConnecting
	t.mu.Unlock()
	t.notifyStatus(StateConnecting)

	p := t.open(portName, baud)
	if err := p.Open(); err != nil {
		t.transition(StateDisconnected)
		t.log.Warn("connect failed", "port", portName, "error", err)
		return err
	}

	t.mu.Lock()
	if t.closing {
		// Disconnect arrived while the open was in flight; do not
		// install the handle or start a reader.
		t.mu.Unlock()
		p.Close()
		t.transition(StateDisconnected)
		return fmt.Errorf("serial: connect aborted by disconnect: %s", portName)
	}
	t.port = p
	t.readStop = make(chan struct{})
	t.readDone = make(chan struct{})
	go t.readLoop(p, t.readStop, t.readDone)
	t.mu.Unlock()
	t.transition(StateConnected)

	t.log.Info("connected", "port", portName, "baud", baud)
	return nil
}

// Disconnect is the deliberate teardown. It is callable from any thread,
// stops the reconnector and reader via their stop flags, joins both with a
// bounded timeout, and releases the handle. Calling it while disconnected
// is a no-op.
func (t *Transport) Disconnect() {
	t.mu.Lock()
	t.closing = true
	recon := t.recon
	t.recon = nil
	port := t.port
	t.port = nil
	stop, done := t.readStop, t.readDone
	t.readStop, t.readDone = nil, nil
	t.mu.Unlock()

	if recon != nil {
		recon.cancel()
		waitBounded(recon.done, joinTimeout)
	}
	if stop != nil {
		close(stop)
	}
	if port != nil {
		// Closing the handle unblocks a reader stuck inside an I/O wait.
		port.Close()
	}
	if done != nil {
		waitBounded(done, joinTimeout)
	}

	t.transition(StateDisconnected)
	t.log.Info("disconnected", "port", t.PortName())
}

// Write sends one line of text (a trailing newline is appended) and
// reports success. Valid only while connected; it never panics.
func (t *Transport) Write(line string) bool {
	t.mu.Lock()
	port := t.port
	connected := t.state == StateConnected
	t.mu.Unlock()
	if !connected || port == nil {
		return false
	}
	if _, err := port.Write([]byte(line + "\n")); err != nil {
		t.log.Warn("write failed", "error", err)
		return false
	}
	return true
}

func (t *Transport) readLoop(p Port, stop, done chan struct{}) {
	defer close(done)

	var buf []byte
	chunk := make([]byte, readChunkSize)

	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := p.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
			buf = t.drainLines(buf)
		}
		if err == nil {
			if n == 0 {
				time.Sleep(idleSleep)
			}
			continue
		}

		switch {
		case t.isClosing(), isClosedError(err):
			// aborted by a deliberate disconnect, not an error
			return
		case isRemovalError(err):
			t.log.Warn("device removed", "port", p.Name(), "error", err)
			t.handlePhysicalDisconnect(p)
			return
		case isTimeout(err):
			// no data within the read timeout
			time.Sleep(idleSleep)
		default:
			t.log.Warn("read error, retrying", "error", err)
			time.Sleep(transientRetry)
		}
	}
}

// drainLines emits every complete line in buf and returns the unconsumed
// tail.
func (t *Transport) drainLines(buf []byte) []byte {
	for {
		idx := bytes.IndexByte(buf, '\n')
		if idx < 0 {
			return buf
		}
		line := strings.TrimSpace(decodePermissive(buf[:idx]))
		buf = buf[idx+1:]
		if line == "" {
			continue
		}
		t.dispatchLine(line)
	}
}

func (t *Transport) dispatchLine(line string) {
	metrics.SerialLines.Inc()

	if sliders, buttons, ok := parseDeviceConfig(line); ok {
		t.mu.Lock()
		t.sliderCount, t.buttonCount = sliders, buttons
		handlers := t.configHandlers
		t.mu.Unlock()
		for _, fn := range handlers {
			fn(sliders, buttons)
		}
		return
	}

	t.mu.Lock()
	handlers := t.lineHandlers
	t.mu.Unlock()
	for _, fn := range handlers {
		fn(line)
	}
}

// parseDeviceConfig recognizes the boot announcement "config <sliders> <buttons>".
func parseDeviceConfig(line string) (sliders, buttons int, ok bool) {
	fields := strings.Fields(line)
	if len(fields) != 3 || fields[0] != "config" {
		return 0, 0, false
	}
	s, err1 := strconv.Atoi(fields[1])
	b, err2 := strconv.Atoi(fields[2])
	if err1 != nil || err2 != nil || s < 0 || b < 0 {
		return 0, 0, false
	}
	return s, b, true
}

// handlePhysicalDisconnect releases the handle, surfaces the status change,
// and starts the reconnection loop unless the teardown was user-initiated.
func (t *Transport) handlePhysicalDisconnect(p Port) {
	t.mu.Lock()
	if t.closing || t.port != p {
		t.mu.Unlock()
		return
	}
	t.port = nil
	t.readStop, t.readDone = nil, nil
	t.mu.Unlock()

	t.transition(StateDisconnected)
	p.Close()
	t.startReconnect()
}

func (t *Transport) isClosing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closing
}

// transition moves the state machine and notifies status listeners. The
// mutex is released before notification so listeners may call back into
// the transport. Callers must not hold t.mu.
func (t *Transport) transition(s State) {
	t.mu.Lock()
	changed := t.state != s
	t.state = s
	t.mu.Unlock()
	if changed {
		t.notifyStatus(s)
	}
}

func (t *Transport) notifyStatus(s State) {
	metrics.SetConnectionState(string(s))
	t.mu.Lock()
	handlers := t.statusHandlers
	t.mu.Unlock()
	for _, fn := range handlers {
		fn(s)
	}
}

func (t *Transport) notifyReconnected() {
	t.mu.Lock()
	handlers := t.reconnHandlers
	t.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

// decodePermissive drops invalid UTF-8 instead of failing the line.
func decodePermissive(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	out := make([]rune, 0, len(b))
	for len(b) > 0 {
		r, size := utf8.DecodeRune(b)
		if r != utf8.RuneError || size > 1 {
			out = append(out, r)
		}
		b = b[size:]
	}
	return string(out)
}

func isTimeout(err error) bool {
	type timeouter interface{ Timeout() bool }
	if te, ok := err.(timeouter); ok {
		return te.Timeout()
	}
	// tarm/serial surfaces a posix read timeout as io.EOF
	return err.Error() == "EOF"
}

func waitBounded(ch <-chan struct{}, d time.Duration) bool {
	select {
	case <-ch:
		return true
	case <-time.After(d):
		return false
	}
}
