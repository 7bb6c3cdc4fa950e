// internal/serial/transport_test.go

package serial

import (
	"io"
	"log/slog"
	"sync"
	"syscall"
	"testing"
	"time"
)

type readStep struct {
	data []byte
	err  error
}

// scriptedPort replays a fixed sequence of read results, then blocks until
// closed.
type scriptedPort struct {
	name    string
	openErr error

	mu     sync.Mutex
	steps  []readStep
	wrote  []string
	closed chan struct{}
	once   sync.Once
}

func newScriptedPort(name string, steps ...readStep) *scriptedPort {
	return &scriptedPort{name: name, steps: steps, closed: make(chan struct{})}
}

func (p *scriptedPort) Open() error { return p.openErr }

func (p *scriptedPort) Close() error {
	p.once.Do(func() { close(p.closed) })
	return nil
}

func (p *scriptedPort) Read(b []byte) (int, error) {
	p.mu.Lock()
	if len(p.steps) > 0 {
		step := p.steps[0]
		p.steps = p.steps[1:]
		p.mu.Unlock()
		return copy(b, step.data), step.err
	}
	p.mu.Unlock()
	select {
	case <-p.closed:
		return 0, io.ErrClosedPipe
	case <-time.After(5 * time.Millisecond):
		return 0, io.EOF
	}
}

// feed appends one more incoming chunk after the port is already open.
func (p *scriptedPort) feed(data []byte) {
	p.mu.Lock()
	p.steps = append(p.steps, readStep{data: data})
	p.mu.Unlock()
}

func (p *scriptedPort) isClosed() bool {
	select {
	case <-p.closed:
		return true
	default:
		return false
	}
}

// gatedPort holds Open until the gate is released, pinning a connect
// attempt in flight.
type gatedPort struct {
	*scriptedPort
	gate    chan struct{}
	opening chan struct{}
	started sync.Once
}

func newGatedPort(name string) *gatedPort {
	return &gatedPort{
		scriptedPort: newScriptedPort(name),
		gate:         make(chan struct{}),
		opening:      make(chan struct{}),
	}
}

func (p *gatedPort) Open() error {
	p.started.Do(func() { close(p.opening) })
	<-p.gate
	return nil
}

func (p *scriptedPort) Write(b []byte) (int, error) {
	p.mu.Lock()
	p.wrote = append(p.wrote, string(b))
	p.mu.Unlock()
	return len(b), nil
}

func (p *scriptedPort) Name() string { return p.name }

func (p *scriptedPort) written() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.wrote...)
}

// portQueue hands out ports in order, one per Connect.
type portQueue struct {
	mu    sync.Mutex
	ports []Port
}

func (q *portQueue) opener(name string, baud int) Port {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.ports) == 0 {
		return newScriptedPort(name)
	}
	p := q.ports[0]
	q.ports = q.ports[1:]
	return p
}

type statusLog struct {
	mu     sync.Mutex
	states []State
}

func (s *statusLog) record(state State) {
	s.mu.Lock()
	s.states = append(s.states, state)
	s.mu.Unlock()
}

func (s *statusLog) all() []State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]State(nil), s.states...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestConnectDeliversLines(t *testing.T) {
	port := newScriptedPort("/dev/ttyUSB0",
		readStep{data: []byte("s1 512\ns2 10")},
		readStep{data: []byte("23\n")},
	)
	queue := &portQueue{ports: []Port{port}}
	tr := NewTransportWith(discardLogger(), queue.opener, func() []string { return nil })

	var mu sync.Mutex
	var lines []string
	tr.OnLine(func(line string) {
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
	})

	if err := tr.Connect("/dev/ttyUSB0", 9600); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer tr.Disconnect()

	waitFor(t, "two lines", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(lines) == 2
	})

	mu.Lock()
	defer mu.Unlock()
	if lines[0] != "s1 512" || lines[1] != "s2 1023" {
		t.Errorf("got lines %q", lines)
	}
}

func TestConnectWhileConnectedFails(t *testing.T) {
	queue := &portQueue{ports: []Port{newScriptedPort("/dev/ttyUSB0")}}
	tr := NewTransportWith(discardLogger(), queue.opener, func() []string { return nil })

	if err := tr.Connect("/dev/ttyUSB0", 9600); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer tr.Disconnect()

	if err := tr.Connect("/dev/ttyUSB1", 9600); err == nil {
		t.Fatal("second connect should fail while connected")
	}
}

func TestConnectFailureRevertsToDisconnected(t *testing.T) {
	port := newScriptedPort("/dev/ttyUSB0")
	port.openErr = ErrPortUnavailable
	queue := &portQueue{ports: []Port{port}}
	tr := NewTransportWith(discardLogger(), queue.opener, func() []string { return nil })

	if err := tr.Connect("/dev/ttyUSB0", 9600); err == nil {
		t.Fatal("expected connect error")
	}
	if got := tr.State(); got != StateDisconnected {
		t.Errorf("state: got %v, want %v", got, StateDisconnected)
	}
}

func TestDeviceConfigAnnouncement(t *testing.T) {
	port := newScriptedPort("/dev/ttyUSB0", readStep{data: []byte("config 5 3\n")})
	queue := &portQueue{ports: []Port{port}}
	tr := NewTransportWith(discardLogger(), queue.opener, func() []string { return nil })

	var mu sync.Mutex
	var gotS, gotB int
	tr.OnDeviceConfig(func(sliders, buttons int) {
		mu.Lock()
		gotS, gotB = sliders, buttons
		mu.Unlock()
	})
	var sawLine bool
	tr.OnLine(func(string) {
		mu.Lock()
		sawLine = true
		mu.Unlock()
	})

	if err := tr.Connect("/dev/ttyUSB0", 9600); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer tr.Disconnect()

	waitFor(t, "device config", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return gotS == 5 && gotB == 3
	})
	if s, b := tr.DeviceConfig(); s != 5 || b != 3 {
		t.Errorf("DeviceConfig: got %d,%d", s, b)
	}
	mu.Lock()
	leaked := sawLine
	mu.Unlock()
	if leaked {
		t.Error("config announcement leaked to the line stream")
	}
}

func TestDeliberateDisconnectIsQuiet(t *testing.T) {
	port := newScriptedPort("/dev/ttyUSB0")
	queue := &portQueue{ports: []Port{port}}
	tr := NewTransportWith(discardLogger(), queue.opener, func() []string { return []string{"/dev/ttyUSB0"} })
	tr.reconnectInterval = 10 * time.Millisecond

	if err := tr.Connect("/dev/ttyUSB0", 9600); err != nil {
		t.Fatalf("connect: %v", err)
	}
	tr.Disconnect()

	if got := tr.State(); got != StateDisconnected {
		t.Errorf("state: got %v, want %v", got, StateDisconnected)
	}
	// the port is present, so a reconnect loop would flip the state back
	time.Sleep(50 * time.Millisecond)
	if got := tr.State(); got != StateDisconnected {
		t.Errorf("reconnection started after deliberate disconnect, state %v", got)
	}
}

func TestPhysicalRemovalTriggersReconnect(t *testing.T) {
	dead := newScriptedPort("/dev/ttyUSB0", readStep{err: syscall.EIO})
	replacement := newScriptedPort("/dev/ttyUSB0", readStep{data: []byte("s1 0\n")})
	queue := &portQueue{ports: []Port{dead, replacement}}

	var mu sync.Mutex
	present := false
	lister := func() []string {
		mu.Lock()
		defer mu.Unlock()
		if present {
			return []string{"/dev/ttyUSB0"}
		}
		return nil
	}

	tr := NewTransportWith(discardLogger(), queue.opener, lister)
	tr.reconnectInterval = 10 * time.Millisecond

	statuses := &statusLog{}
	tr.OnStatus(statuses.record)
	reconnected := make(chan struct{}, 1)
	tr.OnReconnect(func() { reconnected <- struct{}{} })

	if err := tr.Connect("/dev/ttyUSB0", 9600); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer tr.Disconnect()

	waitFor(t, "reconnecting state", func() bool { return tr.State() == StateReconnecting })

	mu.Lock()
	present = true
	mu.Unlock()

	select {
	case <-reconnected:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for reconnection")
	}
	if got := tr.State(); got != StateConnected {
		t.Errorf("state after reconnect: got %v", got)
	}

	saw := statuses.all()
	var sawDisc, sawRecon bool
	for _, s := range saw {
		switch s {
		case StateDisconnected:
			sawDisc = true
		case StateReconnecting:
			if sawDisc {
				sawRecon = true
			}
		}
	}
	if !sawDisc || !sawRecon {
		t.Errorf("status sequence missing disconnected/reconnecting: %v", saw)
	}
}

func TestReconnectGivesUpAtCeiling(t *testing.T) {
	dead := newScriptedPort("/dev/ttyUSB0", readStep{err: syscall.EIO})
	queue := &portQueue{ports: []Port{dead}}
	tr := NewTransportWith(discardLogger(), queue.opener, func() []string { return nil })
	tr.reconnectInterval = 10 * time.Millisecond
	tr.reconnectCeiling = 5

	if err := tr.Connect("/dev/ttyUSB0", 9600); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer tr.Disconnect()

	waitFor(t, "reconnecting state", func() bool { return tr.State() == StateReconnecting })
	waitFor(t, "abandonment", func() bool { return tr.State() == StateDisconnected })
}

func TestWriteAppendsNewline(t *testing.T) {
	port := newScriptedPort("/dev/ttyUSB0")
	queue := &portQueue{ports: []Port{port}}
	tr := NewTransportWith(discardLogger(), queue.opener, func() []string { return nil })

	if err := tr.Connect("/dev/ttyUSB0", 9600); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer tr.Disconnect()

	if !tr.Write("values") {
		t.Fatal("write failed while connected")
	}
	got := port.written()
	if len(got) != 1 || got[0] != "values\n" {
		t.Errorf("wrote %q", got)
	}
}

func TestWriteWhileDisconnected(t *testing.T) {
	tr := NewTransportWith(discardLogger(), (&portQueue{}).opener, func() []string { return nil })
	if tr.Write("values") {
		t.Fatal("write should fail while disconnected")
	}
}

func TestDisconnectWhileDisconnectedIsNoop(t *testing.T) {
	tr := NewTransportWith(discardLogger(), (&portQueue{}).opener, func() []string { return nil })
	tr.Disconnect()
	if got := tr.State(); got != StateDisconnected {
		t.Errorf("state: got %v", got)
	}
}

func TestDisconnectCancelsInFlightReconnectAttempt(t *testing.T) {
	dead := newScriptedPort("/dev/ttyUSB0", readStep{err: syscall.EIO})
	gated := newGatedPort("/dev/ttyUSB0")
	queue := &portQueue{ports: []Port{dead, gated}}

	var mu sync.Mutex
	present := false
	lister := func() []string {
		mu.Lock()
		defer mu.Unlock()
		if present {
			return []string{"/dev/ttyUSB0"}
		}
		return nil
	}

	tr := NewTransportWith(discardLogger(), queue.opener, lister)
	tr.reconnectInterval = 10 * time.Millisecond

	if err := tr.Connect("/dev/ttyUSB0", 9600); err != nil {
		t.Fatalf("connect: %v", err)
	}

	waitFor(t, "reconnecting state", func() bool { return tr.State() == StateReconnecting })
	mu.Lock()
	present = true
	mu.Unlock()

	select {
	case <-gated.opening:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for the reconnect attempt to open")
	}

	// the attempt is pinned inside the open; tear down deliberately
	disconnected := make(chan struct{})
	go func() {
		tr.Disconnect()
		close(disconnected)
	}()
	waitFor(t, "closing flag", func() bool { return tr.isClosing() })
	close(gated.gate)

	select {
	case <-disconnected:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for disconnect")
	}

	if got := tr.State(); got != StateDisconnected {
		t.Fatalf("state after disconnect: got %v, want %v", got, StateDisconnected)
	}
	if !gated.isClosed() {
		t.Error("aborted attempt leaked its handle")
	}
	// nothing may resurrect the connection afterwards
	time.Sleep(50 * time.Millisecond)
	if got := tr.State(); got != StateDisconnected {
		t.Errorf("transport came back after disconnect, state %v", got)
	}
}

func TestListenerRegistrationAfterConnect(t *testing.T) {
	port := newScriptedPort("/dev/ttyUSB0")
	queue := &portQueue{ports: []Port{port}}
	tr := NewTransportWith(discardLogger(), queue.opener, func() []string { return nil })

	if err := tr.Connect("/dev/ttyUSB0", 9600); err != nil {
		t.Fatalf("connect: %v", err)
	}
	defer tr.Disconnect()

	var mu sync.Mutex
	var lines []string
	tr.OnLine(func(line string) {
		mu.Lock()
		lines = append(lines, line)
		mu.Unlock()
	})
	port.feed([]byte("s1 512\n"))

	waitFor(t, "late-registered listener", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(lines) == 1 && lines[0] == "s1 512"
	})
}
