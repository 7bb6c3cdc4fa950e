// internal/serial/reconnect.go

package serial

import (
	"sync"
	"time"

	"github.com/mixdeck/mixdeck-go/internal/metrics"
)

// reconnector is the background loop that waits for the unplugged port to
// reappear. At most one runs per transport; it is mutually exclusive with
// the reader.
type reconnector struct {
	stop chan struct{}
	done chan struct{}
	once sync.Once
}

func (r *reconnector) cancel() {
	r.once.Do(func() { close(r.stop) })
}

// startReconnect launches the reconnection loop. Re-entrant calls while a
// loop is already running are no-ops.
func (t *Transport) startReconnect() {
	t.mu.Lock()
	if t.closing || t.recon != nil || t.portName == "" {
		t.mu.Unlock()
		return
	}
	r := &reconnector{stop: make(chan struct{}), done: make(chan struct{})}
	t.recon = r
	t.mu.Unlock()
	t.transition(StateReconnecting)

	t.log.Info("reconnection started", "port", t.PortName(), "ceiling", t.reconnectCeiling)
	go t.reconnectLoop(r)
}

func (t *Transport) reconnectLoop(r *reconnector) {
	defer close(r.done)

	ticker := time.NewTicker(t.reconnectInterval)
	defer ticker.Stop()

	for attempt := 1; attempt <= t.reconnectCeiling; attempt++ {
		select {
		case <-r.stop:
			return
		case <-ticker.C:
		}
		metrics.ReconnectAttempts.Inc()

		if !portPresent(t.list(), t.PortName()) {
			continue
		}

		// r stays attached through the attempt so Disconnect can
		// cancel it at any point.
		if err := t.connect(t.PortName(), t.Baud(), false); err != nil {
			if t.isClosing() {
				return
			}
			select {
			case <-r.stop:
				return
			default:
			}
			t.log.Warn("reconnect attempt failed", "attempt", attempt, "error", err)
			// open failed even though the node is back; resume waiting
			t.transition(StateReconnecting)
			continue
		}

		t.clearReconnector(r)
		select {
		case <-r.stop:
			return
		default:
		}
		t.log.Info("reconnected", "port", t.PortName())
		t.notifyReconnected()
		return
	}

	t.log.Warn("reconnection abandoned", "port", t.PortName(), "attempts", t.reconnectCeiling)
	t.clearReconnector(r)
	t.transition(StateDisconnected)
}

// clearReconnector detaches r once its attempt has resolved or the loop
// gave up.
func (t *Transport) clearReconnector(r *reconnector) {
	t.mu.Lock()
	if t.recon == r {
		t.recon = nil
		// leave Reconnecting; Connect moves the state forward
	}
	t.mu.Unlock()
}

func portPresent(ports []string, name string) bool {
	for _, p := range ports {
		if p == name {
			return true
		}
	}
	return false
}
