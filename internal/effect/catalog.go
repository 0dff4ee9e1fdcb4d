package effect

import (
	"fmt"
	"sort"
	"strings"
)

// BuiltinPreset is a factory animation the device can preview by mode.
type BuiltinPreset struct {
	ID   int    `json:"id"`
	Mode int    `json:"mode"`
	Name string `json:"name"`
}

// builtinAnimations is the compiled-in catalog used when the device never
// reports category-0 effects.
var builtinAnimations = map[int]string{
	0:  "Rainbow Gradual Chase",
	1:  "Rainbow Comet",
	2:  "Rainbow Segment",
	3:  "Rainbow Wave",
	4:  "Rainbow Meteor",
	5:  "Rainbow Gradual",
	6:  "Rainbow Jump",
	7:  "Rainbow Stars",
	8:  "Rainbow Fade In Out",
	9:  "Rainbow Spin",
	10: "Red Stacking",
	11: "Green Stacking",
	12: "Blue Stacking",
	13: "Yellow Stacking",
	14: "Cyan Stacking",
	15: "Purple Stacking",
	16: "White Stacking",
}

// MaxStaticBuiltinMode is the highest mode in the compiled-in catalog.
const MaxStaticBuiltinMode = 16

// BuiltinName returns the static catalog name for mode, or "Mode N".
func BuiltinName(mode int) string {
	if name, ok := builtinAnimations[mode]; ok {
		return name
	}
	return fmt.Sprintf("Mode %d", mode)
}

// StaticBuiltins returns the compiled-in catalog ordered by mode.
func StaticBuiltins() []BuiltinPreset {
	out := make([]BuiltinPreset, 0, len(builtinAnimations))
	for mode, name := range builtinAnimations {
		out = append(out, BuiltinPreset{ID: mode, Mode: mode, Name: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mode < out[j].Mode })
	return out
}

// BuildBuiltinsFromEffects derives the builtin catalog from the category-0
// records the device reports. Records without a derivable mode are skipped.
func BuildBuiltinsFromEffects(effects []Effect) []BuiltinPreset {
	var out []BuiltinPreset
	for _, e := range effects {
		if !e.HasCategory(CategoryBuiltin) {
			continue
		}
		mode, ok := DeriveMode(e)
		if !ok {
			continue
		}
		name := strings.TrimSpace(e.Name)
		if name == "" {
			name = BuiltinName(mode)
		}
		id := mode
		if e.ID != nil {
			id = *e.ID
		}
		out = append(out, BuiltinPreset{ID: id, Mode: mode, Name: name})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Mode != out[j].Mode {
			return out[i].Mode < out[j].Mode
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// customEffectModes are the pattern shapes a custom effect can animate with.
// They are independent of the builtin catalog.
var customEffectModes = []string{
	"Static",
	"Chase Forward",
	"Chase Backward",
	"Chase Middle To Out",
	"Chase Out To Middle",
	"Stars",
	"Breath",
	"Comet Forward",
	"Comet Backward",
	"Comet Middle To Out",
	"Comet Out To Middle",
	"Wave Forward",
	"Wave Backward",
	"Wave Middle To Out",
	"Wave Out To Middle/Inside Out",
	"Strobe",
	"Solid Fade",
	"Full Strobe",
	"Twinkle",
	"Firework",
}

// CustomModeLabels returns the pattern labels ordered by id.
func CustomModeLabels() []string {
	return append([]string{}, customEffectModes...)
}

// CustomModeByLabel returns the pattern id for a label.
func CustomModeByLabel(label string) (int, bool) {
	for id, l := range customEffectModes {
		if l == label {
			return id, true
		}
	}
	return 0, false
}

// CustomModeLabel returns the label for a pattern id, or its decimal form
// when the id is outside the known range.
func CustomModeLabel(mode int) string {
	if mode >= 0 && mode < len(customEffectModes) {
		return customEffectModes[mode]
	}
	return fmt.Sprintf("%d", mode)
}
