// Package effect models the effect records reported by a Trimlight controller
// and resolves them against the builtin and custom preset catalogs.
package effect

import "strings"

// NoName is the display label used for presets without a usable name.
const NoName = "(no name)"

// Category classifies an effect record.
type Category int

const (
	CategoryBuiltin   Category = 0 // factory animation identified by mode
	CategoryTransient Category = 1 // custom effect rendered as a preview, not stored
	CategoryCustom    Category = 2 // user-authored effect stored on the device
)

// IsCustom returns true for both custom variants.
func (c Category) IsCustom() bool {
	return c == CategoryTransient || c == CategoryCustom
}

// String returns a human-readable name for the category.
func (c Category) String() string {
	switch c {
	case CategoryBuiltin:
		return "builtin"
	case CategoryTransient:
		return "transient"
	case CategoryCustom:
		return "custom"
	default:
		return "unknown"
	}
}

// Pixel is one run of identically colored LEDs in a custom effect.
type Pixel struct {
	Index   int  `json:"index"`
	Count   int  `json:"count"`
	Color   int  `json:"color"`
	Disable bool `json:"disable"`
}

// Effect is a device-reported effect record. Every field the device may omit
// is a pointer; a nil Pixels slice means "no pixel list", an empty one means
// "explicitly empty".
type Effect struct {
	ID         *int      `json:"id,omitempty"`
	Name       string    `json:"name,omitempty"`
	Category   *Category `json:"category,omitempty"`
	Mode       *int      `json:"mode,omitempty"`
	Speed      *int      `json:"speed,omitempty"`
	Brightness *int      `json:"brightness,omitempty"`
	PixelLen   *int      `json:"pixelLen,omitempty"`
	Reverse    *bool     `json:"reverse,omitempty"`
	Pixels     []Pixel   `json:"pixels"`

	// Legacy spellings of Mode seen on older firmware.
	EffectMode      *int `json:"effectMode,omitempty"`
	EffectModeSnake *int `json:"effect_mode,omitempty"`
	EffectModeID    *int `json:"effect_mode_id,omitempty"`
	ModeID          *int `json:"modeId,omitempty"`
}

// IsEmpty reports whether the record carries no information at all. The
// device returns an empty object for currentEffect when nothing is playing.
func (e Effect) IsEmpty() bool {
	return e.ID == nil && e.Name == "" && e.Category == nil && e.Mode == nil &&
		e.Speed == nil && e.Brightness == nil && e.PixelLen == nil &&
		e.Reverse == nil && e.Pixels == nil && e.EffectMode == nil &&
		e.EffectModeSnake == nil && e.EffectModeID == nil && e.ModeID == nil
}

// HasCategory reports whether the record's category equals c.
func (e Effect) HasCategory(c Category) bool {
	return e.Category != nil && *e.Category == c
}

// DisplayName returns the trimmed name, or NoName when it is blank.
func (e Effect) DisplayName() string {
	return DisplayName(e.Name)
}

// DisplayName normalizes a preset name for presentation and lookup.
func DisplayName(name string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	return NoName
}

// Clone returns a deep copy of the record.
func (e Effect) Clone() Effect {
	c := e
	c.ID = clonePtr(e.ID)
	c.Category = clonePtr(e.Category)
	c.Mode = clonePtr(e.Mode)
	c.Speed = clonePtr(e.Speed)
	c.Brightness = clonePtr(e.Brightness)
	c.PixelLen = clonePtr(e.PixelLen)
	c.Reverse = clonePtr(e.Reverse)
	c.EffectMode = clonePtr(e.EffectMode)
	c.EffectModeSnake = clonePtr(e.EffectModeSnake)
	c.EffectModeID = clonePtr(e.EffectModeID)
	c.ModeID = clonePtr(e.ModeID)
	if e.Pixels != nil {
		c.Pixels = append([]Pixel{}, e.Pixels...)
	}
	return c
}

// WithCategory returns a copy with the category replaced.
func (e Effect) WithCategory(c Category) Effect {
	out := e.Clone()
	out.Category = &c
	return out
}

// WithMode returns a copy with the canonical mode replaced.
func (e Effect) WithMode(mode int) Effect {
	out := e.Clone()
	out.Mode = &mode
	return out
}

// WithLevels returns a copy with brightness and speed replaced.
func (e Effect) WithLevels(brightness, speed int) Effect {
	out := e.Clone()
	out.Brightness = &brightness
	out.Speed = &speed
	return out
}

// Normalized returns a copy whose Mode is filled from the legacy fields when
// it was absent.
func (e Effect) Normalized() Effect {
	out := e.Clone()
	if m, ok := DeriveMode(e); ok {
		out.Mode = &m
	}
	return out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
