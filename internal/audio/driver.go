// Package audio owns every OS audio handle: the session cache, the default
// endpoint monitor, and the output switch all sit on top of the Driver
// seam. Callers above this package deal in target names only.
package audio

// Session is one controllable audio stream owned by an application. ID is
// a driver-scoped handle and becomes invalid when the endpoint changes;
// the cache re-enumerates rather than holding on to dead IDs.
type Session struct {
	ID          string
	Name        string // owning process name, empty for sessionless streams
	DisplayName string
}

// Sessionless reports whether the stream has no owning process (the
// usual home of OS notification sounds).
func (s Session) Sessionless() bool { return s.Name == "" }

// DeviceInfo describes one audio endpoint.
type DeviceInfo struct {
	ID   string
	Name string
}

// Driver is the OS audio subsystem seam. Implementations must be safe for
// calls from the reader goroutine and the device poller concurrently.
type Driver interface {
	Sessions() ([]Session, error)
	SessionVolume(id string) (float64, error)
	SetSessionVolume(id string, level float64) error
	SessionMute(id string) (bool, error)
	SetSessionMute(id string, mute bool) error

	SetMasterVolume(level float64) error
	MasterMute() (bool, error)
	SetMasterMute(mute bool) error

	SetMicVolume(level float64) error
	MicMute() (bool, error)
	SetMicMute(mute bool) error

	DefaultOutput() (DeviceInfo, error)
	Outputs() ([]DeviceInfo, error)
	SetDefaultOutput(id string) error
}
