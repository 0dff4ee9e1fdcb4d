package reconcile

import (
	"github.com/dokzlo13/trimlightd/internal/effect"
	"github.com/dokzlo13/trimlightd/internal/snapshot"
	"github.com/dokzlo13/trimlightd/internal/trimlight"
)

// Composition is the command chosen to re-render the current effect.
type Composition struct {
	Request trimlight.PreviewRequest
	// Via names the dispatch branch: "current_effect", "custom" or "builtin".
	Via string
}

// Compose decides which preview re-renders whatever the device is playing
// at the given brightness and speed. ok=false means nothing identifiable is
// playing and no command should be sent.
//
// A non-empty current effect record is previewed as is. Otherwise the
// current effect id and category select a custom preset (categories 1 and
// 2) or a builtin (category 0, with inferred pixel geometry).
func Compose(snap *snapshot.Snapshot, builtins []effect.BuiltinPreset, custom []effect.Effect, brightness, speed int) (Composition, bool) {
	if snap == nil {
		return Composition{}, false
	}

	if snap.HasCurrentEffect() {
		return Composition{
			Request: trimlight.EffectPreview(snap.CurrentEffect, brightness, speed),
			Via:     "current_effect",
		}, true
	}

	if snap.CurrentEffectID == nil || snap.CurrentEffectCategory == nil {
		return Composition{}, false
	}
	id := *snap.CurrentEffectID

	switch cat := *snap.CurrentEffectCategory; {
	case cat.IsCustom():
		match, ok := effect.FindCustomByID(custom, &id)
		if !ok {
			return Composition{}, false
		}
		return Composition{
			Request: trimlight.EffectPreview(match, brightness, speed),
			Via:     "custom",
		}, true

	case cat == effect.CategoryBuiltin:
		var mode *int
		if m, ok := effect.DeriveMode(snap.CurrentEffect); ok {
			mode = &m
		}
		match, ok := effect.FindBuiltin(builtins, &id, mode)
		if !ok {
			return Composition{}, false
		}
		pixelLen, reverse := effect.InferPreviewParams(id, snap.CurrentEffect, snap.Effects)
		return Composition{
			Request: trimlight.BuiltinPreview(match.Mode, brightness, speed, pixelLen, reverse),
			Via:     "builtin",
		}, true
	}

	return Composition{}, false
}
