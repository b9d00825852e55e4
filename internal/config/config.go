// Package config holds the recognized process-wide options. Parsing them
// from flags or a file is explicitly out of scope; Settings is constructed
// programmatically by whatever embeds this core.
package config

import (
	"fmt"
	"time"
)

// Settings enumerates the core's recognized options.
type Settings struct {
	// DesiredFPS is the target capture rate; 0 means uncapped.
	DesiredFPS int

	// Slowdown enables idle throttling when no consumers are present.
	Slowdown bool

	// ExitOnNoClients is the grace period, in seconds, of client absence
	// before the process is asked to terminate; 0 disables the check.
	ExitOnNoClients int

	// LastAsBlank controls the online->offline transition: negative blanks
	// immediately, zero freezes the last frame forever, positive freezes
	// for that many seconds before blanking.
	LastAsBlank int

	// ErrorDelay is the pause, in seconds, before the controller reopens
	// the device after a stream generation ends with an error.
	ErrorDelay int

	// H264Bitrate and H264GOP are motion-video encoder knobs, passed
	// through untouched by the core.
	H264Bitrate int
	H264GOP     int

	// Port is the display connector name, e.g. "HDMI-A-1".
	Port string

	// Path is the display device path.
	Path string

	// Timeout is the vsync-wait timeout, in seconds.
	Timeout int

	// SinkHeartbeatInterval bounds how stale a sink's HasClients reading
	// may be; the exit-on-idle grace window must be at least this long.
	SinkHeartbeatInterval time.Duration
}

// Default returns Settings populated with the core's defaults.
func Default() Settings {
	return Settings{
		DesiredFPS:            0,
		ErrorDelay:            1,
		LastAsBlank:           -1,
		Path:                  "/dev/dri/card0",
		Timeout:               5,
		SinkHeartbeatInterval: time.Second,
	}
}

// Validate rejects contradictory or out-of-range combinations.
func (s Settings) Validate() error {
	if s.DesiredFPS < 0 {
		return fmt.Errorf("config: desired_fps must be >= 0, got %d", s.DesiredFPS)
	}
	if s.ExitOnNoClients < 0 {
		return fmt.Errorf("config: exit_on_no_clients must be >= 0, got %d", s.ExitOnNoClients)
	}
	if s.ErrorDelay < 0 {
		return fmt.Errorf("config: error_delay must be >= 0, got %d", s.ErrorDelay)
	}
	if s.Timeout <= 0 {
		return fmt.Errorf("config: timeout must be > 0, got %d", s.Timeout)
	}
	if s.ExitOnNoClients > 0 && time.Duration(s.ExitOnNoClients)*time.Second < s.SinkHeartbeatInterval {
		return fmt.Errorf("config: exit_on_no_clients (%ds) must be at least the sink heartbeat interval (%s)",
			s.ExitOnNoClients, s.SinkHeartbeatInterval)
	}
	return nil
}
