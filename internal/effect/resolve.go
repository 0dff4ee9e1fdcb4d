package effect

import (
	"sort"

	"github.com/samber/lo"
)

// Default preview geometry when neither the current effect nor the effect
// list defines it.
const (
	DefaultPixelLen = 30
	DefaultReverse  = false
)

// DeriveMode returns the canonical mode of an effect. Mode wins; otherwise
// the legacy fields are consulted in a fixed order: effectMode, effect_mode,
// effect_mode_id, modeId.
func DeriveMode(e Effect) (int, bool) {
	for _, candidate := range []*int{e.Mode, e.EffectMode, e.EffectModeSnake, e.EffectModeID, e.ModeID} {
		if candidate != nil {
			return *candidate, true
		}
	}
	return 0, false
}

// ClassifyCustom returns the saved custom effects (category 2) with their
// mode normalized, sorted ascending by id. Records without an id sort last.
func ClassifyCustom(effects []Effect) []Effect {
	custom := lo.FilterMap(effects, func(e Effect, _ int) (Effect, bool) {
		if !e.HasCategory(CategoryCustom) {
			return Effect{}, false
		}
		return e.Normalized(), true
	})

	sort.SliceStable(custom, func(i, j int) bool {
		a, b := custom[i].ID, custom[j].ID
		switch {
		case a == nil:
			return false
		case b == nil:
			return true
		default:
			return *a < *b
		}
	})
	return custom
}

// FindCustomByID returns the first preset whose id equals id.
func FindCustomByID(presets []Effect, id *int) (Effect, bool) {
	if id == nil {
		return Effect{}, false
	}
	return lo.Find(presets, func(e Effect) bool {
		return e.ID != nil && *e.ID == *id
	})
}

// FindCustomByName returns the first preset whose display name equals name.
// A blank name matches presets without a name.
func FindCustomByName(presets []Effect, name string) (Effect, bool) {
	want := DisplayName(name)
	return lo.Find(presets, func(e Effect) bool {
		return e.DisplayName() == want
	})
}

// FindBuiltin returns the first builtin whose id or mode equals id, or whose
// mode equals mode. At least one criterion must be given.
func FindBuiltin(builtins []BuiltinPreset, id, mode *int) (BuiltinPreset, bool) {
	if id == nil && mode == nil {
		return BuiltinPreset{}, false
	}
	for _, b := range builtins {
		if id != nil && (b.ID == *id || b.Mode == *id) {
			return b, true
		}
		if mode != nil && b.Mode == *mode {
			return b, true
		}
	}
	return BuiltinPreset{}, false
}

// FindBuiltinByName returns the builtin with the given display name.
func FindBuiltinByName(builtins []BuiltinPreset, name string) (BuiltinPreset, bool) {
	return lo.Find(builtins, func(b BuiltinPreset) bool {
		return b.Name == name
	})
}

// InferPreviewParams resolves the pixel length and direction the builtin
// preview endpoint requires. A builtin current effect provides them directly;
// otherwise builtin records in effects matching targetID (by id or mode) or
// the current effect's mode fill whatever is still missing, field by field.
func InferPreviewParams(targetID int, current Effect, effects []Effect) (pixelLen int, reverse bool) {
	var lenPtr *int
	var revPtr *bool

	if current.HasCategory(CategoryBuiltin) {
		lenPtr = current.PixelLen
		revPtr = current.Reverse
	}

	if lenPtr == nil || revPtr == nil {
		currentMode, hasCurrentMode := DeriveMode(current)
		for _, e := range effects {
			if !e.HasCategory(CategoryBuiltin) {
				continue
			}
			matches := (e.ID != nil && *e.ID == targetID) ||
				(e.Mode != nil && *e.Mode == targetID) ||
				(hasCurrentMode && e.Mode != nil && *e.Mode == currentMode)
			if !matches {
				continue
			}
			if lenPtr == nil {
				lenPtr = e.PixelLen
			}
			if revPtr == nil {
				revPtr = e.Reverse
			}
		}
	}

	pixelLen, reverse = DefaultPixelLen, DefaultReverse
	if lenPtr != nil {
		pixelLen = *lenPtr
	}
	if revPtr != nil {
		reverse = *revPtr
	}
	return pixelLen, reverse
}
