// Package presets keeps the builtin and custom preset catalogs between polls
// and across restarts.
package presets

import (
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/dokzlo13/trimlightd/internal/effect"
	"github.com/dokzlo13/trimlightd/internal/eventbus"
	"github.com/dokzlo13/trimlightd/internal/snapshot"
	"github.com/dokzlo13/trimlightd/internal/storage"
)

// Kind is the resource_state kind the cache is stored under.
const Kind = "preset_cache"

// Where the builtin catalog came from.
const (
	SourceDevice = "device"
	SourceStatic = "static"
)

// Blob is the persisted form of the cache.
type Blob struct {
	Builtins       []effect.BuiltinPreset `json:"builtins"`
	BuiltinsSource string                 `json:"builtins_source,omitempty"`
	Custom         []effect.Effect        `json:"custom"`
}

// Cache holds the builtin catalog and the last known custom preset list.
// A device-derived catalog is kept for the session; the compiled-in
// fallback is replaced as soon as the device reports builtin effects.
type Cache struct {
	store    *storage.TypedStore[Blob]
	deviceID string

	mu             sync.RWMutex
	builtins       []effect.BuiltinPreset
	builtinsSource string // "" until derived
	custom         []effect.Effect
}

// NewCache creates a cache persisted through store. store may be nil, in
// which case nothing survives a restart.
func NewCache(store *storage.TypedStore[Blob], deviceID string) *Cache {
	return &Cache{store: store, deviceID: deviceID}
}

// Load restores the last persisted catalogs. Blobs written before the
// catalog source was recorded count as static when they match the
// compiled-in catalog.
func (c *Cache) Load() error {
	if c.store == nil {
		return nil
	}
	blob, meta, err := c.store.Get(c.deviceID)
	if err != nil {
		return err
	}
	if !meta.Exists() {
		log.Info().Str("device", c.deviceID).Msg("No persisted preset cache")
		return nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.builtins = blob.Builtins
	c.builtinsSource = blob.BuiltinsSource
	if c.builtinsSource == "" && len(blob.Builtins) > 0 {
		c.builtinsSource = SourceDevice
		if slices.Equal(blob.Builtins, effect.StaticBuiltins()) {
			c.builtinsSource = SourceStatic
		}
	}
	c.custom = blob.Custom

	log.Info().
		Int("builtins", len(c.builtins)).
		Str("builtins_source", c.builtinsSource).
		Int("custom", len(c.custom)).
		Int64("version", meta.Version).
		Dur("age", time.Since(meta.UpdatedAt).Round(time.Second)).
		Msg("Preset cache loaded")
	return nil
}

// EnsureBuiltins derives the builtin catalog from the device's category-0
// effects unless it already came from the device. With no device builtins
// and no catalog yet it falls back to the compiled-in one.
func (c *Cache) EnsureBuiltins(effects []effect.Effect) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.builtinsSource == SourceDevice {
		return
	}
	builtins := effect.BuildBuiltinsFromEffects(effects)
	source := SourceDevice
	if len(builtins) == 0 {
		if c.builtinsSource != "" {
			return
		}
		builtins = effect.StaticBuiltins()
		source = SourceStatic
	}
	c.builtins = builtins
	c.builtinsSource = source
	log.Info().Str("source", source).Int("count", len(builtins)).Msg("Builtin presets derived")
}

// BuiltinsSource reports where the builtin catalog came from, or "" when it
// was never derived.
func (c *Cache) BuiltinsSource() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.builtinsSource
}

// RefreshBuiltins recomputes the builtin catalog from the device's effects.
// An empty result keeps the current catalog. Reports whether it changed.
func (c *Cache) RefreshBuiltins(effects []effect.Effect) bool {
	builtins := effect.BuildBuiltinsFromEffects(effects)
	if len(builtins) == 0 {
		log.Info().Msg("Device reported no builtin effects, keeping current catalog")
		return false
	}

	c.mu.Lock()
	c.builtins = builtins
	c.builtinsSource = SourceDevice
	c.mu.Unlock()

	log.Info().Int("count", len(builtins)).Msg("Builtin presets refreshed")
	return true
}

// Builtins returns a copy of the builtin catalog.
func (c *Cache) Builtins() []effect.BuiltinPreset {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]effect.BuiltinPreset(nil), c.builtins...)
}

// Custom returns the live custom list from snap when it has one, else the
// cached list.
func (c *Cache) Custom(snap *snapshot.Snapshot) []effect.Effect {
	if snap != nil && len(snap.CustomEffects) > 0 {
		return snap.CustomEffects
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.custom
}

// Observe adopts the live custom list of a polled snapshot and persists the
// cache.
func (c *Cache) Observe(snap *snapshot.Snapshot) error {
	c.mu.Lock()
	if snap != nil && len(snap.CustomEffects) > 0 {
		c.custom = snap.CustomEffects
	}
	blob := Blob{
		Builtins:       append([]effect.BuiltinPreset(nil), c.builtins...),
		BuiltinsSource: c.builtinsSource,
		Custom:         c.custom,
	}
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	return c.store.Set(c.deviceID, blob)
}

// HandleEvent adopts device builtins and persists the cache after each
// successful poll. Optimistic snapshots are ignored so commands never cause
// writes.
func (c *Cache) HandleEvent(e eventbus.Event) {
	if e.Data["source"] != string(snapshot.SourcePoll) {
		return
	}
	snap, ok := e.Data["snapshot"].(*snapshot.Snapshot)
	if !ok {
		return
	}
	c.EnsureBuiltins(snap.Effects)
	if err := c.Observe(snap); err != nil {
		log.Error().Err(err).Msg("Failed to persist preset cache")
	}
}

// Reset forgets everything, including the persisted copy.
func (c *Cache) Reset() error {
	c.mu.Lock()
	c.builtins = nil
	c.builtinsSource = ""
	c.custom = nil
	c.mu.Unlock()

	if c.store == nil {
		return nil
	}
	return c.store.Delete(c.deviceID)
}

// CustomOptions returns the display names of presets sorted
// case-insensitively, with unnamed presets last.
func CustomOptions(presets []effect.Effect) []string {
	names := lo.Map(presets, func(e effect.Effect, _ int) string { return e.DisplayName() })
	sort.SliceStable(names, func(i, j int) bool {
		a, b := names[i], names[j]
		if (a == effect.NoName) != (b == effect.NoName) {
			return b == effect.NoName
		}
		return strings.ToLower(a) < strings.ToLower(b)
	})
	return names
}

// PresetRef is a preset's id and display name.
type PresetRef struct {
	ID   *int   `json:"id"`
	Name string `json:"name"`
}

// Refs lists presets by id and display name in catalog order.
func Refs(presets []effect.Effect) []PresetRef {
	return lo.Map(presets, func(e effect.Effect, _ int) PresetRef {
		return PresetRef{ID: e.ID, Name: e.DisplayName()}
	})
}

// NameToID maps display names to preset ids. Names shared by more than one
// preset are ambiguous and left out, as are presets without an id.
func NameToID(presets []effect.Effect) map[string]int {
	counts := lo.CountValuesBy(presets, func(e effect.Effect) string { return e.DisplayName() })

	out := make(map[string]int)
	for _, e := range presets {
		name := e.DisplayName()
		if counts[name] > 1 || e.ID == nil {
			continue
		}
		out[name] = *e.ID
	}
	return out
}
