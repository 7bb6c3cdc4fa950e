package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	SerialLines = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "mixdeck_serial_lines_total", Help: "Framed lines received"},
	)
	EventsParsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mixdeck_events_total", Help: "Parsed control events"},
		[]string{"kind"},
	)
	VolumeOps = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "mixdeck_volume_ops_total", Help: "Volume operations by result"},
		[]string{"result"}, // applied / suppressed / failed
	)
	ReconnectAttempts = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "mixdeck_reconnect_attempts_total", Help: "Reconnection poll attempts"},
	)
	CacheRefreshes = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "mixdeck_session_refreshes_total", Help: "Audio session re-enumerations"},
	)
	DeviceChanges = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "mixdeck_device_changes_total", Help: "Default output endpoint changes"},
	)
	connectionState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{Name: "mixdeck_connection_state", Help: "Connection state (1 for the active state)"},
		[]string{"state"},
	)
)

func Register() {
	prometheus.MustRegister(
		SerialLines, EventsParsed, VolumeOps,
		ReconnectAttempts, CacheRefreshes, DeviceChanges,
		connectionState,
	)
}

// SetConnectionState marks state as active and clears the others.
func SetConnectionState(state string) {
	for _, s := range []string{"disconnected", "connecting", "connected", "reconnecting"} {
		v := 0.0
		if s == state {
			v = 1.0
		}
		connectionState.WithLabelValues(s).Set(v)
	}
}
