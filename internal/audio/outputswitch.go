// internal/audio/outputswitch.go

package audio

import (
	"log/slog"
	"strings"
)

// OutputSwitch changes the default output endpoint. It is invoked by the
// router on a switch-output button action.
type OutputSwitch struct {
	log *slog.Logger
	drv Driver
}

func NewOutputSwitch(drv Driver, log *slog.Logger) *OutputSwitch {
	return &OutputSwitch{log: log.With("component", "outputswitch"), drv: drv}
}

// Cycle moves the default output to the next endpoint in enumeration
// order, wrapping at the end.
func (o *OutputSwitch) Cycle() bool {
	devices, err := o.drv.Outputs()
	if err != nil || len(devices) == 0 {
		return false
	}
	current, err := o.drv.DefaultOutput()
	if err != nil {
		return false
	}

	next := devices[0]
	for i, d := range devices {
		if d.ID == current.ID {
			next = devices[(i+1)%len(devices)]
			break
		}
	}
	if next.ID == current.ID {
		return true
	}
	if err := o.drv.SetDefaultOutput(next.ID); err != nil {
		o.log.Warn("output switch failed", "device", next.Name, "error", err)
		return false
	}
	o.log.Info("output switched", "device", next.Name)
	return true
}

// Named switches to the endpoint whose name matches, case-insensitively.
func (o *OutputSwitch) Named(name string) bool {
	devices, err := o.drv.Outputs()
	if err != nil {
		return false
	}
	for _, d := range devices {
		if strings.EqualFold(d.Name, name) {
			if err := o.drv.SetDefaultOutput(d.ID); err != nil {
				o.log.Warn("output switch failed", "device", d.Name, "error", err)
				return false
			}
			o.log.Info("output switched", "device", d.Name)
			return true
		}
	}
	o.log.Warn("output device not found", "name", name)
	return false
}
