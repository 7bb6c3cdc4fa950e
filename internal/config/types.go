package config

// TargetKind tags one entry of a slider binding's target list.
type TargetKind int

const (
	TargetNone TargetKind = iota
	TargetMaster
	TargetMicrophone
	TargetSystemSounds
	TargetCurrentApplication
	TargetUnbound
	TargetApp // App holds the application name
)

// TargetRef is a single normalized binding target. Binding records in the
// file may be a bare string, a list, or a map with an app_name entry; they
// are normalized into []TargetRef once at load so nothing downstream
// branches on shape.
type TargetRef struct {
	Kind TargetKind
	App  string
}

// Mode is the slider sampling profile.
type Mode string

const (
	ModeSoft    Mode = "soft"
	ModeNormal  Mode = "normal"
	ModeHard    Mode = "hard"
	ModeInstant Mode = "instant"
)

// WindowSize returns the smoothing history length for the mode.
// Instant bypasses smoothing entirely and has no window.
func (m Mode) WindowSize() int {
	switch m {
	case ModeSoft:
		return 5
	case ModeHard:
		return 20
	case ModeInstant:
		return 0
	default:
		return 10
	}
}

// ActionSpec describes a button binding.
type ActionSpec struct {
	Action       string `yaml:"action"`
	Target       string `yaml:"target"`
	Keybind      string `yaml:"keybind"`
	AppPath      string `yaml:"appPath"`
	OutputMode   string `yaml:"outputMode"`   // cycle / named
	OutputDevice string `yaml:"outputDevice"` // device name when outputMode is named
}

// Snapshot is an immutable view of the bindings table. The router pulls a
// fresh snapshot per line and never mutates it.
type Snapshot struct {
	Sliders  map[int][]TargetRef
	Buttons  map[int]ActionSpec
	Sampling Mode

	boundApps  map[string]struct{}
	currentApp bool
}

// BoundApp reports whether name is explicitly bound to some slider as a
// concrete application target. The check is case-insensitive.
func (s *Snapshot) BoundApp(name string) bool {
	_, ok := s.boundApps[lowerKey(name)]
	return ok
}

// HasCurrentApplication reports whether any slider carries a
// CurrentApplication binding.
func (s *Snapshot) HasCurrentApplication() bool {
	return s.currentApp
}
