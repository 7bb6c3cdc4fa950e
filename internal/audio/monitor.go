// internal/audio/monitor.go

package audio

import (
	"log/slog"
	"sync"
	"time"

	"github.com/mixdeck/mixdeck-go/internal/metrics"
)

// DeviceMonitor polls the default output endpoint and reacts to a change
// of device: the whole session cache is invalidated (old handles are
// unsafe), Master/Microphone are re-resolved, and listeners are notified.
type DeviceMonitor struct {
	log   *slog.Logger
	drv   Driver
	cache *TargetCache

	interval time.Duration

	mu        sync.Mutex
	running   bool
	stop      chan struct{}
	done      chan struct{}
	lastID    string
	listeners []func()
}

func NewDeviceMonitor(drv Driver, cache *TargetCache, interval time.Duration, log *slog.Logger) *DeviceMonitor {
	if interval <= 0 {
		interval = 3 * time.Second
	}
	return &DeviceMonitor{
		log:      log.With("component", "devicemonitor"),
		drv:      drv,
		cache:    cache,
		interval: interval,
	}
}

// OnChange registers a listener called after the cache has been rebuilt
// for the new endpoint.
func (m *DeviceMonitor) OnChange(fn func()) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// Start begins polling. Starting an already running monitor is a no-op.
func (m *DeviceMonitor) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return
	}
	if dev, err := m.drv.DefaultOutput(); err == nil {
		m.lastID = dev.ID
	}
	m.running = true
	m.stop = make(chan struct{})
	m.done = make(chan struct{})
	go m.loop(m.stop, m.done)
}

// Stop halts polling and joins the loop with a bounded wait.
func (m *DeviceMonitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	stop, done := m.stop, m.done
	m.mu.Unlock()

	close(stop)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
}

func (m *DeviceMonitor) loop(stop, done chan struct{}) {
	defer close(done)
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		m.check()
	}
}

func (m *DeviceMonitor) check() {
	dev, err := m.drv.DefaultOutput()
	if err != nil {
		return
	}

	m.mu.Lock()
	changed := m.lastID != "" && dev.ID != m.lastID
	m.lastID = dev.ID
	listeners := m.listeners
	m.mu.Unlock()

	if !changed {
		return
	}

	m.log.Info("default output changed", "device", dev.Name)
	metrics.DeviceChanges.Inc()

	m.cache.Invalidate()
	if err := m.cache.Refresh(); err != nil {
		m.log.Warn("refresh after device change failed", "error", err)
	}
	for _, fn := range listeners {
		fn()
	}
}
