// internal/serial/parser.go

package serial

import (
	"strconv"
	"strings"
)

// EventKind tags a parsed control event.
type EventKind int

const (
	EventSlider EventKind = iota
	EventButton
)

// Event is one slider movement or button state parsed from a line. Events
// keep wire order across kinds.
type Event struct {
	Kind    EventKind
	ID      int
	Value   float64 // sliders: normalized 0.0-1.0
	Pressed bool    // buttons
}

// ParseLine turns one framed line into zero or more events. It is pure and
// never fails: malformed segments are skipped individually and a line that
// matches no shape yields an empty result.
//
// Accepted shapes, most specific first:
//
//	s1 512|s2 1023|b1 0   pipe-separated multi-field
//	Slider 1 512          verbose slider
//	Button 1 1            verbose button
//	s1 512                legacy slider
//	b1 1                  legacy button
func ParseLine(line string) []Event {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}

	if strings.ContainsRune(line, '|') {
		var events []Event
		for _, seg := range strings.Split(line, "|") {
			if ev, ok := parseSegment(seg); ok {
				events = append(events, ev)
			}
		}
		return events
	}

	if ev, ok := parseVerbose(line); ok {
		return []Event{ev}
	}
	if ev, ok := parseSegment(line); ok {
		return []Event{ev}
	}
	return nil
}

// parseVerbose handles "Slider <n> <0-1023>" and "Button <n> <0|1>".
func parseVerbose(line string) (Event, bool) {
	fields := strings.Fields(line)
	if len(fields) != 3 {
		return Event{}, false
	}
	id, err := strconv.Atoi(fields[1])
	if err != nil || id < 0 {
		return Event{}, false
	}
	switch fields[0] {
	case "Slider":
		v, ok := sliderValue(fields[2])
		if !ok {
			return Event{}, false
		}
		return Event{Kind: EventSlider, ID: id, Value: v}, true
	case "Button":
		p, ok := buttonValue(fields[2])
		if !ok {
			return Event{}, false
		}
		return Event{Kind: EventButton, ID: id, Pressed: p}, true
	}
	return Event{}, false
}

// parseSegment handles the compact "s<n> <0-1023>" / "b<n> <0|1>" tokens
// used both standalone and inside pipe-separated lines.
func parseSegment(seg string) (Event, bool) {
	fields := strings.Fields(seg)
	if len(fields) != 2 || len(fields[0]) < 2 {
		return Event{}, false
	}
	id, err := strconv.Atoi(fields[0][1:])
	if err != nil || id < 0 {
		return Event{}, false
	}
	switch fields[0][0] {
	case 's':
		v, ok := sliderValue(fields[1])
		if !ok {
			return Event{}, false
		}
		return Event{Kind: EventSlider, ID: id, Value: v}, true
	case 'b':
		p, ok := buttonValue(fields[1])
		if !ok {
			return Event{}, false
		}
		return Event{Kind: EventButton, ID: id, Pressed: p}, true
	}
	return Event{}, false
}

// sliderValue normalizes a raw 0-1023 reading. Results below 0.01 snap to
// exactly 0.0 so the OS API never rounds a near-zero level back up.
func sliderValue(raw string) (float64, bool) {
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, false
	}
	v := float64(n) / 1023.0
	if v < 0.01 {
		return 0.0, true
	}
	if v > 1.0 {
		v = 1.0
	}
	return v, true
}

func buttonValue(raw string) (bool, bool) {
	switch raw {
	case "0":
		return false, true
	case "1":
		return true, true
	}
	return false, false
}
