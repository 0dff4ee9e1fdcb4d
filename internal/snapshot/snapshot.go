// Package snapshot holds the last observed device state and the poll loop
// that refreshes it.
package snapshot

import (
	"time"

	"github.com/dokzlo13/trimlightd/internal/effect"
	"github.com/dokzlo13/trimlightd/internal/policy"
	"github.com/dokzlo13/trimlightd/internal/trimlight"
)

// Snapshot is the device state as of one poll, or as of one optimistic
// update. A published Snapshot is never modified; build a new one with
// Clone and replace it.
type Snapshot struct {
	DeviceID              string           `json:"device_id"`
	SwitchState           *int             `json:"switch_state"`
	CurrentEffect         effect.Effect    `json:"current_effect"`
	CurrentEffectID       *int             `json:"current_effect_id"`
	CurrentEffectCategory *effect.Category `json:"current_effect_category"`
	Brightness            *int             `json:"brightness"`
	Effects               []effect.Effect  `json:"effects"`
	CustomEffects         []effect.Effect  `json:"custom_effects"`
	FetchedAt             time.Time        `json:"fetched_at"`
}

// FromDetail builds a snapshot from a device detail answer. When the
// current effect carries no category, p may supply one.
func FromDetail(d *trimlight.DeviceDetail, p policy.CategoryPolicy, now time.Time) *Snapshot {
	payload := d.Payload
	current := policy.Apply(p, payload.CurrentEffect)

	s := &Snapshot{
		DeviceID:      payload.DeviceID,
		SwitchState:   copyInt(payload.SwitchState),
		CurrentEffect: current.Clone(),
		Effects:       cloneEffects(payload.Effects),
		CustomEffects: effect.ClassifyCustom(payload.Effects),
		FetchedAt:     now,
	}
	s.CurrentEffectID = copyInt(current.ID)
	if current.Category != nil {
		c := *current.Category
		s.CurrentEffectCategory = &c
	}
	s.Brightness = copyInt(current.Brightness)
	return s
}

// IsOn reports the polled switch state. known is false when the device did
// not report one.
func (s *Snapshot) IsOn() (on, known bool) {
	if s == nil || s.SwitchState == nil {
		return false, false
	}
	return *s.SwitchState != 0, true
}

// HasCurrentEffect reports whether the current effect record carries any data.
func (s *Snapshot) HasCurrentEffect() bool {
	return s != nil && !s.CurrentEffect.IsEmpty()
}

// CategoryIs reports whether the current effect category is known and equals c.
func (s *Snapshot) CategoryIs(c effect.Category) bool {
	return s != nil && s.CurrentEffectCategory != nil && *s.CurrentEffectCategory == c
}

// Clone returns a deep copy.
func (s *Snapshot) Clone() *Snapshot {
	if s == nil {
		return &Snapshot{}
	}
	c := *s
	c.SwitchState = copyInt(s.SwitchState)
	c.CurrentEffect = s.CurrentEffect.Clone()
	c.CurrentEffectID = copyInt(s.CurrentEffectID)
	if s.CurrentEffectCategory != nil {
		cat := *s.CurrentEffectCategory
		c.CurrentEffectCategory = &cat
	}
	c.Brightness = copyInt(s.Brightness)
	c.Effects = cloneEffects(s.Effects)
	c.CustomEffects = cloneEffects(s.CustomEffects)
	return &c
}

// WithSwitch returns a copy with the switch state replaced.
func (s *Snapshot) WithSwitch(on bool) *Snapshot {
	c := s.Clone()
	state := 0
	if on {
		state = 1
	}
	c.SwitchState = &state
	return c
}

// WithCurrentEffect returns a copy whose current effect (and the id,
// category and brightness derived from it) is replaced by e.
func (s *Snapshot) WithCurrentEffect(e effect.Effect) *Snapshot {
	c := s.Clone()
	c.CurrentEffect = e.Clone()
	c.CurrentEffectID = copyInt(e.ID)
	c.CurrentEffectCategory = nil
	if e.Category != nil {
		cat := *e.Category
		c.CurrentEffectCategory = &cat
	}
	c.Brightness = copyInt(e.Brightness)
	return c
}

// WithoutCurrentEffect returns a copy with every current-effect field cleared.
func (s *Snapshot) WithoutCurrentEffect() *Snapshot {
	c := s.Clone()
	c.CurrentEffect = effect.Effect{}
	c.CurrentEffectID = nil
	c.CurrentEffectCategory = nil
	c.Brightness = nil
	return c
}

func copyInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func cloneEffects(in []effect.Effect) []effect.Effect {
	if in == nil {
		return nil
	}
	out := make([]effect.Effect, len(in))
	for i, e := range in {
		out[i] = e.Clone()
	}
	return out
}
