// Package reconcile turns user intents into device commands and keeps a
// consistent view of the device while commands take effect. It owns the
// per-device session state, composes preview/commit/switch commands, and
// schedules the verification poll that confirms them.
package reconcile

import (
	"time"

	"github.com/dokzlo13/trimlightd/internal/effect"
)

// Default session levels before any command or poll provides one.
const (
	DefaultBrightness = 255
	DefaultSpeed      = 100
)

// Session is the engine's memory of what it last asked the device to do.
// It is owned by one Engine and mutated only by engine operations.
type Session struct {
	LastBrightness int `json:"last_brightness"`
	LastSpeed      int `json:"last_speed"`

	// Selection context. Cleared on power-off.
	LastSelectedPreset     string `json:"last_selected_preset,omitempty"`
	LastSelectedBuiltin    string `json:"last_selected_builtin,omitempty"`
	LastSelectedCustom     string `json:"last_selected_custom,omitempty"`
	LastSelectedCustomMode *int   `json:"last_selected_custom_mode,omitempty"`

	// Fallbacks used when a poll cannot name what is playing.
	LastKnownPreset       string         `json:"last_known_preset,omitempty"`
	LastKnownBuiltin      string         `json:"last_known_builtin,omitempty"`
	LastKnownCustom       string         `json:"last_known_custom,omitempty"`
	LastKnownCustomPixels []effect.Pixel `json:"last_known_custom_pixels,omitempty"`

	// Grace windows; at most one is set.
	ForcedOnUntil  time.Time `json:"forced_on_until,omitempty"`
	ForcedOffUntil time.Time `json:"forced_off_until,omitempty"`
}

// NewSession returns a session with default levels.
func NewSession() Session {
	return Session{LastBrightness: DefaultBrightness, LastSpeed: DefaultSpeed}
}

// ForceOn opens the forced-on window and closes the forced-off one.
func (s *Session) ForceOn(until time.Time) {
	s.ForcedOnUntil = until
	s.ForcedOffUntil = time.Time{}
}

// ForceOff opens the forced-off window and closes the forced-on one.
func (s *Session) ForceOff(until time.Time) {
	s.ForcedOffUntil = until
	s.ForcedOnUntil = time.Time{}
}

// ClearSelections forgets the selection context.
func (s *Session) ClearSelections() {
	s.LastSelectedPreset = ""
	s.LastSelectedBuiltin = ""
	s.LastSelectedCustom = ""
	s.LastSelectedCustomMode = nil
}

// ClearCustomSelection forgets the custom preset and pattern selection.
func (s *Session) ClearCustomSelection() {
	s.LastSelectedCustom = ""
	s.LastSelectedCustomMode = nil
}

// forcedState reports the on/off state a grace window imposes at now.
func (s *Session) forcedState(now time.Time) (on, forced bool) {
	if !s.ForcedOnUntil.IsZero() && now.Before(s.ForcedOnUntil) {
		return true, true
	}
	if !s.ForcedOffUntil.IsZero() && now.Before(s.ForcedOffUntil) {
		return false, true
	}
	return false, false
}

// Clone returns a deep copy.
func (s Session) Clone() Session {
	c := s
	if s.LastSelectedCustomMode != nil {
		m := *s.LastSelectedCustomMode
		c.LastSelectedCustomMode = &m
	}
	if s.LastKnownCustomPixels != nil {
		c.LastKnownCustomPixels = append([]effect.Pixel{}, s.LastKnownCustomPixels...)
	}
	return c
}

func clampLevel(v int) int {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return v
	}
}
