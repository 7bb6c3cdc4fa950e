// internal/config/bindings.go

package config

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v2"
)

// bindingsFile mirrors the on-disk layout. Slider targets are kept as raw
// yaml values because older files use several shapes for the same thing.
type bindingsFile struct {
	Bindings struct {
		Sliders  map[int]interface{} `yaml:"sliders"`
		Buttons  map[int]ActionSpec  `yaml:"buttons"`
		Sampling string              `yaml:"sampling"`
	} `yaml:"Bindings"`
}

// Store owns the bindings snapshot. The file is persisted by the UI
// collaborator; the store only reads it and rebuilds the lookup maps.
type Store struct {
	path string

	mu   sync.RWMutex
	snap *Snapshot
}

// NewStore builds a store for path with an empty snapshot. Call Load to
// read the file; a missing file is not an error and leaves the snapshot
// empty.
func NewStore(path string) *Store {
	return &Store{path: path, snap: emptySnapshot()}
}

// Load reads the bindings file and swaps in a freshly built snapshot.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read bindings %s: %w", s.path, err)
	}

	var f bindingsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return fmt.Errorf("parse bindings %s: %w", s.path, err)
	}

	snap := buildSnapshot(&f)

	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
	return nil
}

// Snapshot returns the current snapshot. Callers must not mutate it.
func (s *Store) Snapshot() *Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}

// Replace installs a snapshot directly, bypassing the file. Used by tests
// and by in-process collaborators that hold the config in memory.
func (s *Store) Replace(snap *Snapshot) {
	s.mu.Lock()
	s.snap = snap
	s.mu.Unlock()
}

func emptySnapshot() *Snapshot {
	return &Snapshot{
		Sliders:   map[int][]TargetRef{},
		Buttons:   map[int]ActionSpec{},
		Sampling:  ModeNormal,
		boundApps: map[string]struct{}{},
	}
}

func buildSnapshot(f *bindingsFile) *Snapshot {
	snap := emptySnapshot()

	if m := Mode(strings.ToLower(f.Bindings.Sampling)); m == ModeSoft || m == ModeNormal || m == ModeHard || m == ModeInstant {
		snap.Sampling = m
	}

	for id, raw := range f.Bindings.Sliders {
		targets := normalizeTargets(raw)
		if len(targets) == 0 {
			continue
		}
		snap.Sliders[id] = targets
		for _, t := range targets {
			switch t.Kind {
			case TargetApp:
				snap.boundApps[lowerKey(t.App)] = struct{}{}
			case TargetCurrentApplication:
				snap.currentApp = true
			}
		}
	}

	for id, spec := range f.Bindings.Buttons {
		if spec.Action == "" {
			continue
		}
		snap.Buttons[id] = spec
	}

	return snap
}

// normalizeTargets collapses the historical binding shapes into []TargetRef:
// a bare string, a list of strings, or a map carrying app_name (itself a
// string or list). Unrecognized entries are dropped.
func normalizeTargets(raw interface{}) []TargetRef {
	switch v := raw.(type) {
	case string:
		return []TargetRef{parseTarget(v)}
	case []interface{}:
		out := make([]TargetRef, 0, len(v))
		for _, item := range v {
			switch it := item.(type) {
			case string:
				out = append(out, parseTarget(it))
			case map[interface{}]interface{}:
				// newer list-of-maps shape: {value: chrome.exe}
				if s, ok := stringField(it, "value"); ok {
					out = append(out, parseTarget(s))
				} else if s, ok := stringField(it, "app_name"); ok {
					out = append(out, parseTarget(s))
				}
			}
		}
		return out
	case map[interface{}]interface{}:
		if inner, ok := v["app_name"]; ok {
			return normalizeTargets(inner)
		}
		return nil
	default:
		return nil
	}
}

func stringField(m map[interface{}]interface{}, key string) (string, bool) {
	s, ok := m[key].(string)
	return s, ok && s != ""
}

// parseTarget maps the well-known target names, everything else is an app.
func parseTarget(name string) TargetRef {
	switch name {
	case "Master":
		return TargetRef{Kind: TargetMaster}
	case "Microphone":
		return TargetRef{Kind: TargetMicrophone}
	case "System Sounds":
		return TargetRef{Kind: TargetSystemSounds}
	case "Current Application":
		return TargetRef{Kind: TargetCurrentApplication}
	case "Unbound", "Unbinded":
		return TargetRef{Kind: TargetUnbound}
	case "None", "":
		return TargetRef{Kind: TargetNone}
	default:
		return TargetRef{Kind: TargetApp, App: name}
	}
}

func lowerKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
