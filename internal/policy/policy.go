// Package policy holds the rules used to guess an effect's category when the
// device reports none. The guess is firmware specific and undocumented, so
// it lives behind an interface that configuration can swap.
package policy

import (
	"github.com/dokzlo13/trimlightd/internal/effect"
)

// CategoryPolicy infers the category of an effect record that carries none.
// ok=false means "no opinion"; callers then leave the category unknown.
type CategoryPolicy interface {
	InferCategory(e effect.Effect) (cat effect.Category, ok bool)
}

// DefaultBuiltinThreshold is the highest builtin mode known from the static
// catalog. Larger modes are assumed to be builtin animations the catalog
// does not name.
const DefaultBuiltinThreshold = effect.MaxStaticBuiltinMode

// Threshold classifies any effect whose derived mode exceeds Max as builtin.
type Threshold struct {
	Max int
}

// NewThreshold returns a Threshold policy. A non-positive max selects
// DefaultBuiltinThreshold.
func NewThreshold(max int) Threshold {
	if max <= 0 {
		max = DefaultBuiltinThreshold
	}
	return Threshold{Max: max}
}

// InferCategory implements CategoryPolicy.
func (t Threshold) InferCategory(e effect.Effect) (effect.Category, bool) {
	mode, ok := effect.DeriveMode(e)
	if !ok || mode <= t.Max {
		return 0, false
	}
	return effect.CategoryBuiltin, true
}

// None never infers a category.
type None struct{}

// InferCategory implements CategoryPolicy.
func (None) InferCategory(effect.Effect) (effect.Category, bool) { return 0, false }

// Apply fills in a missing category on e using p. The input is not mutated.
func Apply(p CategoryPolicy, e effect.Effect) effect.Effect {
	if e.Category != nil || e.IsEmpty() || p == nil {
		return e
	}
	if cat, ok := p.InferCategory(e); ok {
		return e.WithCategory(cat)
	}
	return e
}
