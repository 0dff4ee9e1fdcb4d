package effect

// Describer is the capability shared by everything the device can preview:
// an identity, a canonical mode and category, and the preview geometry.
type Describer interface {
	EffectID() (int, bool)
	EffectMode() (int, bool)
	EffectCategory() Category
	// Record returns the effect as a device record, ready for preview.
	Record() Effect
}

var (
	_ Describer = BuiltinPreset{}
	_ Describer = CustomPreset{}
	_ Describer = PreviewEffect{}
)

// EffectID implements Describer.
func (b BuiltinPreset) EffectID() (int, bool) { return b.ID, true }

// EffectMode implements Describer.
func (b BuiltinPreset) EffectMode() (int, bool) { return b.Mode, true }

// EffectCategory implements Describer.
func (b BuiltinPreset) EffectCategory() Category { return CategoryBuiltin }

// Record implements Describer. The returned record has no geometry; builtin
// previews infer it separately.
func (b BuiltinPreset) Record() Effect {
	id, mode, cat := b.ID, b.Mode, CategoryBuiltin
	return Effect{ID: &id, Name: b.Name, Category: &cat, Mode: &mode}
}

// CustomPreset is a saved custom effect taken from the device or the cache.
type CustomPreset struct {
	effect Effect
}

// NewCustomPreset wraps a category-2 record, normalizing its mode and
// defaulting a missing category.
func NewCustomPreset(e Effect) CustomPreset {
	n := e.Normalized()
	if n.Category == nil {
		c := CategoryCustom
		n.Category = &c
	}
	return CustomPreset{effect: n}
}

// Name returns the display name.
func (p CustomPreset) Name() string { return p.effect.DisplayName() }

// Pixels returns the pixel list; nil when the preset carries none.
func (p CustomPreset) Pixels() []Pixel { return p.effect.Clone().Pixels }

// Brightness returns the preset's own brightness, if it defines one.
func (p CustomPreset) Brightness() (int, bool) { return deref(p.effect.Brightness) }

// Speed returns the preset's own speed, if it defines one.
func (p CustomPreset) Speed() (int, bool) { return deref(p.effect.Speed) }

// CanPreview reports whether the preview endpoint can render this preset,
// which needs both a mode and a pixel list.
func (p CustomPreset) CanPreview() bool {
	_, ok := p.EffectMode()
	return ok && p.effect.Pixels != nil
}

// EffectID implements Describer.
func (p CustomPreset) EffectID() (int, bool) { return deref(p.effect.ID) }

// EffectMode implements Describer.
func (p CustomPreset) EffectMode() (int, bool) { return DeriveMode(p.effect) }

// EffectCategory implements Describer.
func (p CustomPreset) EffectCategory() Category { return *p.effect.Category }

// Record implements Describer.
func (p CustomPreset) Record() Effect { return p.effect.Clone() }

// PreviewEffect is whatever the device reports as currently playing. It may
// be of any category and may lack an id (the device reports -1 or nothing
// while a preview is showing).
type PreviewEffect struct {
	effect Effect
}

// NewPreviewEffect wraps the device's current effect record.
func NewPreviewEffect(e Effect) PreviewEffect {
	return PreviewEffect{effect: e.Normalized()}
}

// EffectID implements Describer.
func (p PreviewEffect) EffectID() (int, bool) { return deref(p.effect.ID) }

// EffectMode implements Describer.
func (p PreviewEffect) EffectMode() (int, bool) { return DeriveMode(p.effect) }

// EffectCategory implements Describer. Records without a category report
// CategoryCustom, the same default the device applies to previews.
func (p PreviewEffect) EffectCategory() Category {
	if p.effect.Category == nil {
		return CategoryCustom
	}
	return *p.effect.Category
}

// Record implements Describer.
func (p PreviewEffect) Record() Effect { return p.effect.Clone() }

func deref[T any](p *T) (T, bool) {
	if p == nil {
		var zero T
		return zero, false
	}
	return *p, true
}
