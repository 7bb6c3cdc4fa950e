// internal/config/bindings_test.go

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func loadBindings(t *testing.T, content string) *Snapshot {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bindings.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(path)
	if err := s.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	return s.Snapshot()
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "absent.yaml"))
	if err := s.Load(); err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	snap := s.Snapshot()
	if len(snap.Sliders) != 0 || len(snap.Buttons) != 0 || snap.Sampling != ModeNormal {
		t.Errorf("expected empty snapshot, got %+v", snap)
	}
}

func TestLoadStringTarget(t *testing.T) {
	snap := loadBindings(t, `
Bindings:
  sliders:
    0: Master
    1: chrome.exe
`)
	if got := snap.Sliders[0]; len(got) != 1 || got[0].Kind != TargetMaster {
		t.Errorf("slider 0: got %+v", got)
	}
	if got := snap.Sliders[1]; len(got) != 1 || got[0].Kind != TargetApp || got[0].App != "chrome.exe" {
		t.Errorf("slider 1: got %+v", got)
	}
}

func TestLoadListTarget(t *testing.T) {
	snap := loadBindings(t, `
Bindings:
  sliders:
    2:
      - Master
      - spotify.exe
`)
	got := snap.Sliders[2]
	if len(got) != 2 {
		t.Fatalf("slider 2: got %+v", got)
	}
	if got[0].Kind != TargetMaster || got[1].Kind != TargetApp || got[1].App != "spotify.exe" {
		t.Errorf("slider 2: got %+v", got)
	}
}

func TestLoadMapTarget(t *testing.T) {
	snap := loadBindings(t, `
Bindings:
  sliders:
    0:
      app_name: discord.exe
    1:
      app_name:
        - chrome.exe
        - firefox
`)
	if got := snap.Sliders[0]; len(got) != 1 || got[0].App != "discord.exe" {
		t.Errorf("slider 0: got %+v", got)
	}
	if got := snap.Sliders[1]; len(got) != 2 || got[0].App != "chrome.exe" || got[1].App != "firefox" {
		t.Errorf("slider 1: got %+v", got)
	}
}

func TestLoadListOfMapsTarget(t *testing.T) {
	snap := loadBindings(t, `
Bindings:
  sliders:
    0:
      - value: chrome.exe
      - value: Master
`)
	got := snap.Sliders[0]
	if len(got) != 2 {
		t.Fatalf("slider 0: got %+v", got)
	}
	if got[0].Kind != TargetApp || got[0].App != "chrome.exe" || got[1].Kind != TargetMaster {
		t.Errorf("slider 0: got %+v", got)
	}
}

func TestLoadSpecialTargets(t *testing.T) {
	snap := loadBindings(t, `
Bindings:
  sliders:
    0: Microphone
    1: System Sounds
    2: Current Application
    3: Unbound
    4: Unbinded
    5: None
`)
	wantKinds := map[int]TargetKind{
		0: TargetMicrophone,
		1: TargetSystemSounds,
		2: TargetCurrentApplication,
		3: TargetUnbound,
		4: TargetUnbound,
		5: TargetNone,
	}
	for id, kind := range wantKinds {
		got := snap.Sliders[id]
		if len(got) != 1 || got[0].Kind != kind {
			t.Errorf("slider %d: got %+v, want kind %v", id, got, kind)
		}
	}
	if !snap.HasCurrentApplication() {
		t.Error("HasCurrentApplication should be true")
	}
}

func TestBoundAppIsCaseInsensitive(t *testing.T) {
	snap := loadBindings(t, `
Bindings:
  sliders:
    0: Chrome.exe
`)
	for _, name := range []string{"Chrome.exe", "chrome.exe", "CHROME.EXE"} {
		if !snap.BoundApp(name) {
			t.Errorf("BoundApp(%q) should be true", name)
		}
	}
	if snap.BoundApp("spotify.exe") {
		t.Error("BoundApp(spotify.exe) should be false")
	}
}

func TestLoadSampling(t *testing.T) {
	for _, tc := range []struct {
		raw  string
		want Mode
	}{
		{"soft", ModeSoft},
		{"Normal", ModeNormal},
		{"hard", ModeHard},
		{"instant", ModeInstant},
		{"bogus", ModeNormal},
		{"", ModeNormal},
	} {
		snap := loadBindings(t, "Bindings:\n  sampling: \""+tc.raw+"\"\n")
		if snap.Sampling != tc.want {
			t.Errorf("sampling %q: got %v, want %v", tc.raw, snap.Sampling, tc.want)
		}
	}
}

func TestLoadButtons(t *testing.T) {
	snap := loadBindings(t, `
Bindings:
  buttons:
    1:
      action: mute
      target: Master
    2:
      action: switch_output
      outputMode: named
      outputDevice: Headphones
    3:
      action: ""
`)
	if spec := snap.Buttons[1]; spec.Action != "mute" || spec.Target != "Master" {
		t.Errorf("button 1: got %+v", spec)
	}
	if spec := snap.Buttons[2]; spec.Action != "switch_output" || spec.OutputDevice != "Headphones" {
		t.Errorf("button 2: got %+v", spec)
	}
	if _, ok := snap.Buttons[3]; ok {
		t.Error("actionless button should be dropped")
	}
}

func TestLoadRejectsMalformedYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bindings.yaml")
	if err := os.WriteFile(path, []byte("Bindings: [not: a: map"), 0o644); err != nil {
		t.Fatal(err)
	}
	s := NewStore(path)
	if err := s.Load(); err == nil {
		t.Fatal("expected parse error")
	}
	// the previous (empty) snapshot survives a failed load
	if snap := s.Snapshot(); snap == nil || len(snap.Sliders) != 0 {
		t.Errorf("snapshot after failed load: %+v", s.Snapshot())
	}
}

func TestModeWindowSize(t *testing.T) {
	for _, tc := range []struct {
		mode Mode
		want int
	}{
		{ModeSoft, 5},
		{ModeNormal, 10},
		{ModeHard, 20},
		{ModeInstant, 0},
	} {
		if got := tc.mode.WindowSize(); got != tc.want {
			t.Errorf("%v window: got %d, want %d", tc.mode, got, tc.want)
		}
	}
}
