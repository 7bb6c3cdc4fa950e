// internal/audio/pulse.go

package audio

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

const pactlTimeout = 2 * time.Second

// PulseDriver drives the PulseAudio/PipeWire mixer through pactl, the same
// way the controller's other OS surfaces go through subprocesses. Every
// call is bounded by pactlTimeout.
type PulseDriver struct {
	run func(args ...string) (string, error)
}

func NewPulseDriver() *PulseDriver {
	return &PulseDriver{run: runPactl}
}

func runPactl(args ...string) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), pactlTimeout)
	defer cancel()
	out, err := exec.CommandContext(ctx, "pactl", args...).Output()
	if err != nil {
		return "", fmt.Errorf("pactl %s: %w", strings.Join(args, " "), err)
	}
	return string(out), nil
}

// Sessions enumerates sink inputs. Name carries the owning process binary;
// streams without one (event sounds) come back sessionless.
func (d *PulseDriver) Sessions() ([]Session, error) {
	out, err := d.run("list", "sink-inputs")
	if err != nil {
		return nil, err
	}
	return parseSinkInputs(out), nil
}

func parseSinkInputs(out string) []Session {
	var sessions []Session
	var cur *Session
	for _, line := range strings.Split(out, "\n") {
		trimmed := strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(trimmed, "Sink Input #"):
			if cur != nil {
				sessions = append(sessions, *cur)
			}
			cur = &Session{ID: strings.TrimPrefix(trimmed, "Sink Input #")}
		case cur == nil:
			continue
		case strings.HasPrefix(trimmed, "application.process.binary = "):
			cur.Name = propValue(trimmed)
		case strings.HasPrefix(trimmed, "application.name = "):
			if cur.DisplayName == "" {
				cur.DisplayName = propValue(trimmed)
			}
		case strings.HasPrefix(trimmed, "media.name = "):
			if cur.DisplayName == "" {
				cur.DisplayName = propValue(trimmed)
			}
		}
	}
	if cur != nil {
		sessions = append(sessions, *cur)
	}
	return sessions
}

func propValue(line string) string {
	_, v, ok := strings.Cut(line, " = ")
	if !ok {
		return ""
	}
	return strings.Trim(v, `"`)
}

func (d *PulseDriver) SessionVolume(id string) (float64, error) {
	out, err := d.run("get-sink-input-volume", id)
	if err != nil {
		return 0, err
	}
	return parseVolumePercent(out)
}

func (d *PulseDriver) SetSessionVolume(id string, level float64) error {
	_, err := d.run("set-sink-input-volume", id, percent(level))
	return err
}

func (d *PulseDriver) SessionMute(id string) (bool, error) {
	out, err := d.run("get-sink-input-mute", id)
	if err != nil {
		return false, err
	}
	return strings.Contains(out, "yes"), nil
}

func (d *PulseDriver) SetSessionMute(id string, mute bool) error {
	_, err := d.run("set-sink-input-mute", id, onOff(mute))
	return err
}

func (d *PulseDriver) SetMasterVolume(level float64) error {
	_, err := d.run("set-sink-volume", "@DEFAULT_SINK@", percent(level))
	return err
}

func (d *PulseDriver) MasterMute() (bool, error) {
	out, err := d.run("get-sink-mute", "@DEFAULT_SINK@")
	if err != nil {
		return false, err
	}
	return strings.Contains(out, "yes"), nil
}

func (d *PulseDriver) SetMasterMute(mute bool) error {
	_, err := d.run("set-sink-mute", "@DEFAULT_SINK@", onOff(mute))
	return err
}

func (d *PulseDriver) SetMicVolume(level float64) error {
	_, err := d.run("set-source-volume", "@DEFAULT_SOURCE@", percent(level))
	return err
}

func (d *PulseDriver) MicMute() (bool, error) {
	out, err := d.run("get-source-mute", "@DEFAULT_SOURCE@")
	if err != nil {
		return false, err
	}
	return strings.Contains(out, "yes"), nil
}

func (d *PulseDriver) SetMicMute(mute bool) error {
	_, err := d.run("set-source-mute", "@DEFAULT_SOURCE@", onOff(mute))
	return err
}

// DefaultOutput identifies the current default sink. The name doubles as
// the endpoint id; a change of default is what the monitor watches for.
func (d *PulseDriver) DefaultOutput() (DeviceInfo, error) {
	out, err := d.run("get-default-sink")
	if err != nil {
		return DeviceInfo{}, err
	}
	name := strings.TrimSpace(out)
	return DeviceInfo{ID: name, Name: name}, nil
}

func (d *PulseDriver) Outputs() ([]DeviceInfo, error) {
	out, err := d.run("list", "short", "sinks")
	if err != nil {
		return nil, err
	}
	var devices []DeviceInfo
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		fields := strings.Fields(line)
		if len(fields) >= 2 {
			devices = append(devices, DeviceInfo{ID: fields[1], Name: fields[1]})
		}
	}
	return devices, nil
}

func (d *PulseDriver) SetDefaultOutput(id string) error {
	_, err := d.run("set-default-sink", id)
	return err
}

func percent(level float64) string {
	if level < 0 {
		level = 0
	}
	if level > 1 {
		level = 1
	}
	return strconv.Itoa(int(level*100+0.5)) + "%"
}

func onOff(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// parseVolumePercent picks the first "N%" token out of a pactl volume line.
func parseVolumePercent(out string) (float64, error) {
	for _, f := range strings.Fields(out) {
		if strings.HasSuffix(f, "%") {
			n, err := strconv.Atoi(strings.TrimSuffix(f, "%"))
			if err == nil {
				return float64(n) / 100.0, nil
			}
		}
	}
	return 0, fmt.Errorf("no volume in %q", strings.TrimSpace(out))
}
