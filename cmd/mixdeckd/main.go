package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mixdeck/mixdeck-go/internal/api"
	"github.com/mixdeck/mixdeck-go/internal/audio"
	"github.com/mixdeck/mixdeck-go/internal/config"
	"github.com/mixdeck/mixdeck-go/internal/metrics"
	"github.com/mixdeck/mixdeck-go/internal/mqttclient"
	"github.com/mixdeck/mixdeck-go/internal/router"
	"github.com/mixdeck/mixdeck-go/internal/serial"
)

const shutdownTimeout = 10 * time.Second

func main() {
	settings, err := config.LoadSettings()
	if err != nil {
		slog.Error("load settings", "error", err)
		os.Exit(1)
	}

	log := newLogger(settings.Log.Level)
	metrics.Register()

	store := config.NewStore(settings.Bindings.Path)
	if err := store.Load(); err != nil {
		log.Warn("bindings load failed, starting unbound", "error", err)
	}

	driver := audio.NewPulseDriver()
	cache := audio.NewTargetCache(driver, log)
	monitor := audio.NewDeviceMonitor(driver, cache, settings.DevicePollInterval(), log)
	output := audio.NewOutputSwitch(driver, log)

	transport := serial.NewTransport(log)
	rtr := router.New(store, cache, output, loggingExecutor{log: log}, noFocus, log)
	transport.OnLine(rtr.HandleLine)

	var bridge *mqttclient.Bridge
	if settings.Broker.URL != "" {
		bridge, err = mqttclient.New(settings.Broker.URL, settings.Broker.ClientID, settings.Broker.Topic, log)
		if err != nil {
			log.Warn("telemetry disabled", "error", err)
		} else {
			transport.OnStatus(func(st serial.State) {
				bridge.PublishStatus(string(st), transport.PortName())
			})
			transport.OnLine(func(line string) {
				bridge.PublishRawLine(transport.PortName(), line)
			})
			transport.OnDeviceConfig(bridge.PublishDeviceConfig)
		}
	}

	monitor.Start()

	if settings.Serial.Port != "" {
		go func() {
			if err := transport.Connect(settings.Serial.Port, settings.Serial.Baud); err != nil {
				log.Error("initial connect failed", "port", settings.Serial.Port, "error", err)
			}
		}()
	}

	srv := api.NewServer(settings.API.Listen, transport, cache, rtr, log)
	go func() {
		if err := srv.Run(); err != nil {
			log.Error("api server error", "error", err)
			os.Exit(1)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")

	// Reader and reconnector first, then the device poller, then the rest.
	transport.Disconnect()
	monitor.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error("api shutdown error", "error", err)
	}
	if bridge != nil {
		bridge.Close()
	}

	log.Info("stopped")
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

// loggingExecutor stands in for the OS action executor collaborator; the
// daemon itself never injects keystrokes or launches processes.
type loggingExecutor struct {
	log *slog.Logger
}

func (e loggingExecutor) Execute(action string, spec config.ActionSpec) bool {
	e.log.Info("action requested", "action", action, "target", spec.Target)
	return false
}

// noFocus is the placeholder foreground-process resolver; the desktop
// collaborator supplies a real one.
func noFocus() (string, bool) { return "", false }
