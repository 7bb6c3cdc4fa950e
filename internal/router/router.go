// Package router turns parsed control events into audio operations:
// smoothing and thresholding for sliders, pressed-edge dispatch for
// buttons, and resolution of binding targets into concrete cache calls.
// It runs synchronously on the goroutine that delivered the line, so
// its per-slider state needs no locking.
package router

import (
	"log/slog"
	"math"
	"sync"

	"github.com/mixdeck/mixdeck-go/internal/config"
	"github.com/mixdeck/mixdeck-go/internal/metrics"
	"github.com/mixdeck/mixdeck-go/internal/serial"
)

const deltaThreshold = 0.01

// VolumeController is the slice of the audio target cache the router
// needs. The router deals in target names only, never handles.
type VolumeController interface {
	SetVolume(target string, level float64) bool
	ToggleMute(target string) bool
	FindSession(process string) (string, bool)
	SessionNames() []string
	ClearLastApplied()
}

// OutputSwitcher changes the default output device.
type OutputSwitcher interface {
	Cycle() bool
	Named(name string) bool
}

// ActionExecutor runs OS-level button actions (media keys, keybinds, app
// launch). The core never injects keystrokes itself.
type ActionExecutor interface {
	Execute(action string, spec config.ActionSpec) bool
}

// FocusResolver names the process owning the foreground window.
type FocusResolver func() (string, bool)

// Router applies binding configuration to incoming events.
type Router struct {
	log    *slog.Logger
	store  *config.Store
	cache  VolumeController
	output OutputSwitcher
	exec   ActionExecutor
	focus  FocusResolver

	smooth        *smoother
	lastEffective map[int]float64
	pressed       map[int]bool
	lastMode      config.Mode

	// currentClaim is the session last claimed by a CurrentApplication
	// binding. Unlike the rest of the router state it is read from the
	// HTTP status handler too, so it carries its own lock.
	claimMu      sync.Mutex
	currentClaim string
}

func New(store *config.Store, cache VolumeController, output OutputSwitcher, exec ActionExecutor, focus FocusResolver, log *slog.Logger) *Router {
	return &Router{
		log:           log.With("component", "router"),
		store:         store,
		cache:         cache,
		output:        output,
		exec:          exec,
		focus:         focus,
		smooth:        newSmoother(),
		lastEffective: map[int]float64{},
		pressed:       map[int]bool{},
		lastMode:      config.ModeNormal,
	}
}

// HandleLine parses one framed line and routes its events in wire order.
// Called on the serial reader goroutine.
func (r *Router) HandleLine(line string) {
	events := serial.ParseLine(line)
	if len(events) == 0 {
		return
	}

	snap := r.store.Snapshot()
	if snap.Sampling != r.lastMode {
		r.smooth.reset()
		r.lastEffective = map[int]float64{}
		if snap.Sampling == config.ModeInstant {
			r.cache.ClearLastApplied()
		}
		r.lastMode = snap.Sampling
	}

	for _, ev := range events {
		switch ev.Kind {
		case serial.EventSlider:
			metrics.EventsParsed.WithLabelValues("slider").Inc()
			r.handleSlider(snap, ev)
		case serial.EventButton:
			metrics.EventsParsed.WithLabelValues("button").Inc()
			r.handleButton(snap, ev)
		}
	}
}

// FocusedSession returns the session name currently claimed by a
// CurrentApplication binding, for the status surface. Safe to call from
// any goroutine.
func (r *Router) FocusedSession() string {
	r.claimMu.Lock()
	defer r.claimMu.Unlock()
	return r.currentClaim
}

func (r *Router) setClaim(name string) {
	r.claimMu.Lock()
	r.currentClaim = name
	r.claimMu.Unlock()
}

func (r *Router) handleSlider(snap *config.Snapshot, ev serial.Event) {
	targets := snap.Sliders[ev.ID]
	if len(targets) == 0 {
		return
	}

	mode := snap.Sampling
	eff := ev.Value
	if mode != config.ModeInstant {
		eff = r.smooth.push(ev.ID, ev.Value, mode.WindowSize())
		if last, ok := r.lastEffective[ev.ID]; ok && math.Abs(eff-last) < deltaThreshold {
			return
		}
	}
	r.lastEffective[ev.ID] = eff

	level := applyCurve(eff, mode)
	for _, t := range targets {
		switch t.Kind {
		case config.TargetMaster:
			r.cache.SetVolume("Master", level)
		case config.TargetMicrophone:
			r.cache.SetVolume("Microphone", level)
		case config.TargetSystemSounds:
			r.cache.SetVolume("System Sounds", level)
		case config.TargetApp:
			r.cache.SetVolume(t.App, level)
		case config.TargetCurrentApplication:
			r.applyCurrentApplication(snap, level)
		case config.TargetUnbound:
			r.applyUnbound(snap, level)
		case config.TargetNone:
		}
	}
}

// applyCurrentApplication re-resolves the foreground process at event time
// and applies the level to its session, unless that session is already
// explicitly bound to another slider.
func (r *Router) applyCurrentApplication(snap *config.Snapshot, level float64) {
	name, ok := r.focus()
	if !ok {
		return
	}
	session, ok := r.cache.FindSession(name)
	if !ok {
		return
	}
	if snap.BoundApp(session) {
		return
	}
	r.setClaim(session)
	r.cache.SetVolume(session, level)
}

// applyUnbound fans out to every active session except those explicitly
// bound elsewhere and the one currently claimed by a CurrentApplication
// binding.
func (r *Router) applyUnbound(snap *config.Snapshot, level float64) {
	for _, name := range r.cache.SessionNames() {
		if snap.BoundApp(name) {
			continue
		}
		if snap.HasCurrentApplication() && name == r.FocusedSession() {
			continue
		}
		r.cache.SetVolume(name, level)
	}
}

// handleButton dispatches the bound action on the pressed edge only,
// synchronously on the I/O goroutine.
func (r *Router) handleButton(snap *config.Snapshot, ev serial.Event) {
	wasPressed := r.pressed[ev.ID]
	r.pressed[ev.ID] = ev.Pressed
	if !ev.Pressed || wasPressed {
		return
	}

	spec, ok := snap.Buttons[ev.ID]
	if !ok {
		return
	}

	switch spec.Action {
	case "mute":
		target := spec.Target
		if target == "" {
			target = "Master"
		}
		if !r.cache.ToggleMute(target) {
			r.log.Warn("mute failed", "target", target)
		}
	case "switch_output":
		var ok bool
		if spec.OutputMode == "named" && spec.OutputDevice != "" {
			ok = r.output.Named(spec.OutputDevice)
		} else {
			ok = r.output.Cycle()
		}
		if !ok {
			r.log.Warn("output switch failed", "mode", spec.OutputMode)
		}
	default:
		if !r.exec.Execute(spec.Action, spec) {
			r.log.Warn("action failed", "action", spec.Action, "button", ev.ID)
		}
	}
}

// applyCurve shapes the effective level per mode: sqrt is gentler at low
// volumes, square more precise at high ones.
func applyCurve(v float64, mode config.Mode) float64 {
	switch mode {
	case config.ModeSoft:
		return math.Sqrt(v)
	case config.ModeHard:
		return v * v
	default:
		return v
	}
}
