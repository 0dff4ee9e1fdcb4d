package reconcile

import (
	"strings"
	"time"

	"github.com/samber/lo"

	"github.com/dokzlo13/trimlightd/internal/effect"
	"github.com/dokzlo13/trimlightd/internal/presets"
	"github.com/dokzlo13/trimlightd/internal/snapshot"
)

// Display names that are not presets.
const (
	NameOff     = "Off"
	NameUnknown = "Unknown"
)

// reading is a consistent copy of everything the accessors look at.
type reading struct {
	now      time.Time
	session  Session
	snap     *snapshot.Snapshot
	builtins []effect.BuiltinPreset
	custom   []effect.Effect
}

func (e *Engine) read() reading {
	e.mu.RLock()
	sess := e.session.Clone()
	e.mu.RUnlock()

	snap := e.state.Current()
	return reading{
		now:      e.now(),
		session:  sess,
		snap:     snap,
		builtins: e.presets.Builtins(),
		custom:   e.presets.Custom(snap),
	}
}

// IsOn reports the effective power state. An open grace window wins over
// the polled switch state; an unknown switch state reads as off.
func (e *Engine) IsOn() bool { return e.read().isOn() }

// Brightness reports the current brightness, falling back to the last one
// the engine used.
func (e *Engine) Brightness() int { return e.read().brightness() }

// Speed reports the current raw speed (0-255).
func (e *Engine) Speed() int { return e.read().speed() }

// CurrentPresetName names what is playing, or NameOff/NameUnknown.
func (e *Engine) CurrentPresetName() string { return e.read().currentPresetName() }

// BuiltinOption is the selected builtin preset, if a builtin is playing.
func (e *Engine) BuiltinOption() (string, bool) { return e.read().builtinOption() }

// CustomOption is the selected custom preset, if a custom effect may be playing.
func (e *Engine) CustomOption() (string, bool) { return e.read().customOption() }

// CustomModeOption is the pattern label of the playing custom effect.
func (e *Engine) CustomModeOption() (string, bool) { return e.read().customModeOption() }

// BuiltinOptions lists the builtin preset names in catalog order.
func (e *Engine) BuiltinOptions() []string {
	return lo.Map(e.presets.Builtins(), func(b effect.BuiltinPreset, _ int) string { return b.Name })
}

// CustomOptions lists the custom preset names, sorted.
func (e *Engine) CustomOptions() []string {
	return presets.CustomOptions(e.presets.Custom(e.state.Current()))
}

// CustomModeOptions lists the custom pattern labels.
func (e *Engine) CustomModeOptions() []string {
	return effect.CustomModeLabels()
}

func (r reading) isOn() bool {
	if on, forced := r.session.forcedState(r.now); forced {
		return on
	}
	on, _ := r.snap.IsOn()
	return on
}

func (r reading) brightness() int {
	if r.snap.Brightness != nil {
		return *r.snap.Brightness
	}
	return r.session.LastBrightness
}

func (r reading) speed() int {
	if r.snap.CurrentEffect.Speed != nil {
		return *r.snap.CurrentEffect.Speed
	}
	return r.session.LastSpeed
}

// categoryOneOf reports whether the current category is unknown (when
// allowUnknown) or in cats.
func (r reading) categoryOneOf(allowUnknown bool, cats ...effect.Category) bool {
	if r.snap.CurrentEffectCategory == nil {
		return allowUnknown
	}
	return lo.Contains(cats, *r.snap.CurrentEffectCategory)
}

func (r reading) builtinOption() (string, bool) {
	if !r.isOn() || !r.snap.CategoryIs(effect.CategoryBuiltin) || r.snap.CurrentEffectID == nil {
		return "", false
	}
	if match, ok := effect.FindBuiltin(r.builtins, r.snap.CurrentEffectID, nil); ok {
		return match.Name, true
	}
	if r.session.LastSelectedBuiltin != "" {
		return r.session.LastSelectedBuiltin, true
	}
	if r.session.LastKnownBuiltin != "" {
		return r.session.LastKnownBuiltin, true
	}
	return "", false
}

func (r reading) customOption() (string, bool) {
	if !r.isOn() || !r.categoryOneOf(true, effect.CategoryTransient, effect.CategoryCustom) {
		return "", false
	}
	if match, ok := effect.FindCustomByID(r.custom, r.snap.CurrentEffectID); ok {
		return match.DisplayName(), true
	}
	if r.session.LastSelectedCustom != "" {
		return r.session.LastSelectedCustom, true
	}
	if r.session.LastKnownCustom != "" {
		return r.session.LastKnownCustom, true
	}
	return "", false
}

func (r reading) customModeOption() (string, bool) {
	if !r.isOn() {
		return "", false
	}

	match, matched := effect.FindCustomByID(r.custom, r.snap.CurrentEffectID)
	isCustom := r.categoryOneOf(false, effect.CategoryTransient, effect.CategoryCustom) ||
		matched || r.session.LastSelectedCustom != ""
	if !isCustom {
		return "", false
	}

	if mode, ok := effect.DeriveMode(r.snap.CurrentEffect); ok {
		return effect.CustomModeLabel(mode), true
	}
	if matched {
		if mode, ok := effect.DeriveMode(match); ok {
			return effect.CustomModeLabel(mode), true
		}
	}
	if r.session.LastSelectedCustomMode != nil {
		return effect.CustomModeLabel(*r.session.LastSelectedCustomMode), true
	}
	return "", false
}

func (r reading) currentPresetName() string {
	if !r.isOn() {
		return NameOff
	}

	if name := strings.TrimSpace(r.snap.CurrentEffect.Name); name != "" {
		return name
	}

	if id := r.snap.CurrentEffectID; id != nil {
		if r.categoryOneOf(false, effect.CategoryTransient, effect.CategoryCustom) {
			if match, ok := effect.FindCustomByID(r.custom, id); ok {
				return match.DisplayName()
			}
		}
		if match, ok := effect.FindBuiltin(r.builtins, id, nil); ok {
			return match.Name
		}
	}

	if r.session.LastSelectedPreset != "" {
		return r.session.LastSelectedPreset
	}
	if r.session.LastKnownPreset != "" {
		return r.session.LastKnownPreset
	}
	if name, ok := r.customOption(); ok {
		return name
	}
	if name, ok := r.builtinOption(); ok {
		return name
	}
	return NameUnknown
}

// View is the externally visible device state.
type View struct {
	DeviceID              string           `json:"device_id"`
	On                    bool             `json:"on"`
	SwitchState           *int             `json:"switch_state"`
	Brightness            int              `json:"brightness"`
	Speed                 int              `json:"speed"`
	SpeedPercent          float64          `json:"speed_percent"`
	CurrentPreset         string           `json:"current_preset"`
	CurrentEffectID       *int             `json:"current_effect_id"`
	CurrentEffectCategory *effect.Category `json:"current_effect_category"`
	BuiltinPreset         *string          `json:"builtin_preset"`
	CustomPreset          *string          `json:"custom_preset"`
	CustomMode            *string          `json:"custom_mode"`
	FetchedAt             time.Time        `json:"fetched_at"`
	Session               Session          `json:"session"`
}

// View returns a consistent view of the device state.
func (e *Engine) View() View {
	r := e.read()
	speed := r.speed()
	return View{
		DeviceID:              r.snap.DeviceID,
		On:                    r.isOn(),
		SwitchState:           r.snap.SwitchState,
		Brightness:            r.brightness(),
		Speed:                 speed,
		SpeedPercent:          SpeedPercent(speed),
		CurrentPreset:         r.currentPresetName(),
		CurrentEffectID:       r.snap.CurrentEffectID,
		CurrentEffectCategory: r.snap.CurrentEffectCategory,
		BuiltinPreset:         optional(r.builtinOption()),
		CustomPreset:          optional(r.customOption()),
		CustomMode:            optional(r.customModeOption()),
		FetchedAt:             r.snap.FetchedAt,
		Session:               r.session,
	}
}

func optional(v string, ok bool) *string {
	if !ok {
		return nil
	}
	return &v
}

// Presets lists everything a client needs to offer preset choices.
type Presets struct {
	Builtins       []effect.BuiltinPreset `json:"builtins"`
	Custom         []presets.PresetRef    `json:"custom"`
	CustomOptions  []string               `json:"custom_options"`
	CustomNameToID map[string]int         `json:"custom_name_to_id"`
	CustomModes    []string               `json:"custom_modes"`
}

// Presets returns the builtin and custom catalogs.
func (e *Engine) Presets() Presets {
	custom := e.presets.Custom(e.state.Current())
	return Presets{
		Builtins:       e.presets.Builtins(),
		Custom:         presets.Refs(custom),
		CustomOptions:  presets.CustomOptions(custom),
		CustomNameToID: presets.NameToID(custom),
		CustomModes:    effect.CustomModeLabels(),
	}
}
