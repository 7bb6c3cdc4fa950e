// internal/audio/cache.go

package audio

import (
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mixdeck/mixdeck-go/internal/metrics"
)

// Reserved target names. Anything else is an application session name.
const (
	TargetMaster       = "Master"
	TargetMicrophone   = "Microphone"
	TargetSystemSounds = "System Sounds"
)

const (
	cacheTTL        = 2 * time.Second
	volumeTolerance = 0.005
	zeroSnap        = 0.01
)

// systemSoundsProcs is the known-process allow-list for the second tier of
// the system-sounds heuristic.
var systemSoundsProcs = []string{"audiosrv", "sndvol", "shellexperiencehost", "speech-dispatcher"}

// TargetCache resolves target names to session handles and applies
// idempotent volume/mute operations. It is shared between the serial
// reader and the polling UI thread; every operation holds the mutex for
// its whole span so a refresh is never observed half-built.
//
// A target may own several handles (multiple windows of one app);
// operations fan out over all of them and count failures independently.
type TargetCache struct {
	log *slog.Logger
	drv Driver

	mu          sync.Mutex
	sessions    map[string][]Session // canonical app name -> handles
	system      []Session
	lastRefresh time.Time
	lastApplied map[string]float64

	ttl time.Duration
	now func() time.Time
}

func NewTargetCache(drv Driver, log *slog.Logger) *TargetCache {
	return &TargetCache{
		log:         log.With("component", "audio"),
		drv:         drv,
		sessions:    map[string][]Session{},
		lastApplied: map[string]float64{},
		ttl:         cacheTTL,
		now:         time.Now,
	}
}

// Refresh re-enumerates sessions immediately, regardless of age.
func (c *TargetCache) Refresh() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.refreshLocked()
}

// Invalidate drops every cached handle and the last-applied map. Called
// when the default endpoint changes: old handles are unsafe to touch.
func (c *TargetCache) Invalidate() {
	c.mu.Lock()
	c.sessions = map[string][]Session{}
	c.system = nil
	c.lastRefresh = time.Time{}
	c.lastApplied = map[string]float64{}
	c.mu.Unlock()
}

// ClearLastApplied drops only the dedup state. The router calls this when
// the sampling mode switches to instant.
func (c *TargetCache) ClearLastApplied() {
	c.mu.Lock()
	c.lastApplied = map[string]float64{}
	c.mu.Unlock()
}

// GetAllTargets returns app name -> current volume for the UI. Within the
// TTL it answers from the cache without re-enumerating.
func (c *TargetCache) GetAllTargets() map[string]float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maybeRefreshLocked()

	out := make(map[string]float64, len(c.sessions))
	for name, handles := range c.sessions {
		if len(handles) == 0 {
			continue
		}
		if v, err := c.drv.SessionVolume(handles[0].ID); err == nil {
			out[name] = v
		}
	}
	return out
}

// SessionNames returns the cached app names, sorted, refreshing first if
// the cache is stale. Used for Unbound fan-out.
func (c *TargetCache) SessionNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maybeRefreshLocked()

	names := make([]string, 0, len(c.sessions))
	for name := range c.sessions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// FindSession fuzzy-matches a process name to a cached session name:
// exact, then +/-".exe", then case-insensitive.
func (c *TargetCache) FindSession(process string) (string, bool) {
	if process == "" {
		return "", false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.maybeRefreshLocked()
	return c.matchSessionLocked(process)
}

func (c *TargetCache) matchSessionLocked(process string) (string, bool) {
	if _, ok := c.sessions[process]; ok {
		return process, true
	}
	lower := strings.ToLower(process)
	withExe := lower + ".exe"
	withoutExe := strings.TrimSuffix(lower, ".exe")
	for name := range c.sessions {
		nl := strings.ToLower(name)
		if nl == lower || nl == withExe || nl == withoutExe || strings.TrimSuffix(nl, ".exe") == lower {
			return name, true
		}
	}
	return "", false
}

// SetVolume applies level to every handle of target. Levels under 0.01
// clamp to exactly 0.0; a level within 0.005 of the last applied value for
// the same target is suppressed. On an unseen target or a total fan-out
// failure the cache refreshes once and retries; partial handle failure is
// non-fatal as long as one handle succeeds.
func (c *TargetCache) SetVolume(target string, level float64) bool {
	if level < zeroSnap {
		level = 0.0
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	key := target
	if target != TargetMaster && target != TargetMicrophone && target != TargetSystemSounds {
		k, ok := c.resolveAppLocked(target)
		if !ok {
			c.log.Debug("target absent", "target", target)
			return false
		}
		key = k
	}

	if last, ok := c.lastApplied[key]; ok && math.Abs(level-last) < volumeTolerance {
		metrics.VolumeOps.WithLabelValues("suppressed").Inc()
		return true
	}
	c.lastApplied[key] = level

	ok := c.applyVolumeLocked(key, level)
	if !ok {
		// total failure: handles may be stale, refresh and retry once
		if err := c.refreshLocked(); err == nil {
			if target != TargetMaster && target != TargetMicrophone && target != TargetSystemSounds {
				if k, found := c.matchSessionLocked(target); found {
					key = k
				} else {
					metrics.VolumeOps.WithLabelValues("failed").Inc()
					return false
				}
			}
			ok = c.applyVolumeLocked(key, level)
		}
	}

	if ok {
		metrics.VolumeOps.WithLabelValues("applied").Inc()
	} else {
		metrics.VolumeOps.WithLabelValues("failed").Inc()
		c.log.Warn("set volume failed", "target", target)
	}
	return ok
}

func (c *TargetCache) applyVolumeLocked(key string, level float64) bool {
	switch key {
	case TargetMaster:
		return c.drv.SetMasterVolume(level) == nil
	case TargetMicrophone:
		return c.drv.SetMicVolume(level) == nil
	case TargetSystemSounds:
		if len(c.system) == 0 {
			return false
		}
		return fanOut(c.system, func(s Session) error {
			return c.drv.SetSessionVolume(s.ID, level)
		})
	default:
		return fanOut(c.sessions[key], func(s Session) error {
			return c.drv.SetSessionVolume(s.ID, level)
		})
	}
}

// ToggleMute reads the state from the first handle, flips it, and applies
// the new state to all handles. Success means at least one handle took it.
func (c *TargetCache) ToggleMute(target string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch target {
	case TargetMaster:
		return c.toggleEndpointLocked(c.drv.MasterMute, c.drv.SetMasterMute)
	case TargetMicrophone:
		return c.toggleEndpointLocked(c.drv.MicMute, c.drv.SetMicMute)
	case TargetSystemSounds:
		if len(c.system) == 0 {
			if c.refreshLocked() != nil || len(c.system) == 0 {
				return false
			}
		}
		return c.toggleSessionsLocked(func() []Session { return c.system })
	default:
		if _, ok := c.resolveAppLocked(target); !ok {
			return false
		}
		return c.toggleSessionsLocked(func() []Session {
			if key, ok := c.matchSessionLocked(target); ok {
				return c.sessions[key]
			}
			return nil
		})
	}
}

func (c *TargetCache) toggleEndpointLocked(get func() (bool, error), set func(bool) error) bool {
	muted, err := get()
	if err != nil {
		if c.refreshLocked() != nil {
			return false
		}
		if muted, err = get(); err != nil {
			return false
		}
	}
	return set(!muted) == nil
}

func (c *TargetCache) toggleSessionsLocked(get func() []Session) bool {
	handles := get()
	if len(handles) == 0 {
		return false
	}
	muted, err := c.drv.SessionMute(handles[0].ID)
	if err != nil {
		// stale handle: refresh and re-resolve once
		if c.refreshLocked() != nil {
			return false
		}
		handles = get()
		if len(handles) == 0 {
			return false
		}
		if muted, err = c.drv.SessionMute(handles[0].ID); err != nil {
			return false
		}
	}
	return fanOut(handles, func(s Session) error {
		return c.drv.SetSessionMute(s.ID, !muted)
	})
}

// resolveAppLocked finds the canonical key for an app target, refreshing
// once when the name is unseen and the cache has passed its TTL.
func (c *TargetCache) resolveAppLocked(target string) (string, bool) {
	if key, ok := c.matchSessionLocked(target); ok {
		return key, true
	}
	if c.staleLocked() {
		if err := c.refreshLocked(); err != nil {
			return "", false
		}
		return c.matchSessionLocked(target)
	}
	return "", false
}

func (c *TargetCache) staleLocked() bool {
	return c.now().Sub(c.lastRefresh) >= c.ttl
}

func (c *TargetCache) maybeRefreshLocked() {
	if !c.staleLocked() {
		return
	}
	if err := c.refreshLocked(); err != nil {
		// stale entries remain usable
		c.log.Warn("session refresh failed, serving stale cache", "error", err)
	}
}

// refreshLocked re-enumerates sessions and rebuilds the lookup maps. On
// driver failure the previous cache is kept as-is.
func (c *TargetCache) refreshLocked() error {
	all, err := c.drv.Sessions()
	if err != nil {
		return err
	}
	metrics.CacheRefreshes.Inc()

	sessions := map[string][]Session{}
	for _, s := range all {
		if s.Sessionless() {
			continue
		}
		sessions[s.Name] = append(sessions[s.Name], s)
	}
	c.sessions = sessions
	c.system = classifySystemSounds(all)
	c.lastRefresh = c.now()
	return nil
}

// classifySystemSounds picks the system-sounds handles by tier: display
// name match, then known-process allow-list, then sessionless streams.
func classifySystemSounds(all []Session) []Session {
	var byDisplay, byProc, sessionless []Session
	for _, s := range all {
		switch {
		case strings.Contains(s.DisplayName, "System Sounds"):
			byDisplay = append(byDisplay, s)
		case matchesSystemProc(s.Name):
			byProc = append(byProc, s)
		case s.Sessionless():
			sessionless = append(sessionless, s)
		}
	}
	if len(byDisplay) > 0 {
		return byDisplay
	}
	if len(byProc) > 0 {
		return byProc
	}
	return sessionless
}

func matchesSystemProc(name string) bool {
	lower := strings.ToLower(name)
	for _, p := range systemSoundsProcs {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// fanOut applies op to every handle; true when at least one succeeded.
func fanOut(handles []Session, op func(Session) error) bool {
	succeeded := 0
	for _, s := range handles {
		if op(s) == nil {
			succeeded++
		}
	}
	return succeeded > 0
}
