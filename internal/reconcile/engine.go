package reconcile

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/trimlightd/internal/effect"
	"github.com/dokzlo13/trimlightd/internal/eventbus"
	"github.com/dokzlo13/trimlightd/internal/executor"
	"github.com/dokzlo13/trimlightd/internal/ledger"
	"github.com/dokzlo13/trimlightd/internal/presets"
	"github.com/dokzlo13/trimlightd/internal/snapshot"
	"github.com/dokzlo13/trimlightd/internal/trimlight"
)

// Defaults for Options.
const (
	DefaultForcedOnGrace = 20 * time.Second
	DefaultReapplyDelay  = 800 * time.Millisecond
)

// CommitPolicy controls whether a custom preset selection is persisted on
// the device after its preview.
type CommitPolicy string

const (
	// CommitAlways previews the preset, then runs it.
	CommitAlways CommitPolicy = "commit"
	// CommitPreviewOnly previews the preset and never runs it unless the
	// preview failed.
	CommitPreviewOnly CommitPolicy = "preview-only"
)

// Device is the remote command surface of one controller.
type Device interface {
	SetSwitchState(ctx context.Context, state int) (*trimlight.Response, error)
	Preview(ctx context.Context, req trimlight.PreviewRequest) (*trimlight.Response, error)
	RunEffect(ctx context.Context, id int) (*trimlight.Response, error)
}

// StateSource holds the current snapshot. *snapshot.Poller implements it.
type StateSource interface {
	Current() *snapshot.Snapshot
	Replace(snap *snapshot.Snapshot, source snapshot.Source)
	RequestRefresh()
}

// Deferrer runs work on the device worker after a delay.
// *executor.Executor implements it.
type Deferrer interface {
	After(delay time.Duration, cid string, work executor.Work)
}

// Scheduler arms the verification poll. *Verifier implements it.
type Scheduler interface {
	Schedule(cid string)
}

// Options tunes engine timing and commit behavior.
type Options struct {
	ForcedOnGrace time.Duration
	ReapplyDelay  time.Duration
	CommitPolicy  CommitPolicy
}

func (o Options) withDefaults() Options {
	if o.ForcedOnGrace <= 0 {
		o.ForcedOnGrace = DefaultForcedOnGrace
	}
	switch {
	case o.ReapplyDelay == 0:
		o.ReapplyDelay = DefaultReapplyDelay
	case o.ReapplyDelay < 0:
		// Negative disables the delay.
		o.ReapplyDelay = 0
	}
	if o.CommitPolicy == "" {
		o.CommitPolicy = CommitAlways
	}
	return o
}

// Deps are the collaborators an Engine needs. Journal and Bus are optional.
type Deps struct {
	Device   Device
	State    StateSource
	Presets  *presets.Cache
	Verifier Scheduler
	Deferrer Deferrer
	Journal  Journal
	Bus      *eventbus.Bus
}

// Engine executes user intents against one device. Operations are expected
// to be called from a single worker (see executor); accessors may be called
// from any goroutine.
type Engine struct {
	device   Device
	state    StateSource
	presets  *presets.Cache
	verifier Scheduler
	deferrer Deferrer
	journal  Journal
	bus      *eventbus.Bus
	opts     Options
	now      func() time.Time
	wait     func(ctx context.Context, d time.Duration) error

	mu      sync.RWMutex
	session Session
}

// NewEngine creates an Engine with a fresh session.
func NewEngine(deps Deps, opts Options) *Engine {
	return &Engine{
		device:   deps.Device,
		state:    deps.State,
		presets:  deps.Presets,
		verifier: deps.Verifier,
		deferrer: deps.Deferrer,
		journal:  deps.Journal,
		bus:      deps.Bus,
		opts:     opts.withDefaults(),
		now:      time.Now,
		wait:     sleepCtx,
		session:  NewSession(),
	}
}

// Session returns a copy of the session state.
func (e *Engine) Session() Session {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session.Clone()
}

// action carries the correlation context of one user intent.
type action struct {
	cid string
	op  string
	log zerolog.Logger
}

func (e *Engine) begin(op string) action {
	cid := uuid.NewString()[:8]
	return action{
		cid: cid,
		op:  op,
		log: log.With().Str("cid", cid).Str("op", op).Logger(),
	}
}

func (e *Engine) verify(a action) {
	if e.verifier != nil {
		e.verifier.Schedule(a.cid)
	}
}

func (e *Engine) update(fn func(s *Session)) {
	e.mu.Lock()
	fn(&e.session)
	e.mu.Unlock()
}

func (e *Engine) levels() (brightness, speed int) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.session.LastBrightness, e.session.LastSpeed
}

// send issues one remote command and records the outcome in the log, the
// ledger and on the bus.
func (e *Engine) send(ctx context.Context, a action, command string, fields map[string]any, call func(context.Context) (*trimlight.Response, error)) error {
	start := time.Now()
	resp, err := call(ctx)
	elapsed := time.Since(start)

	payload := map[string]any{"command": command}
	for k, v := range fields {
		payload[k] = v
	}

	if err != nil {
		a.log.Warn().Err(err).Str("command", command).Dur("elapsed", elapsed).Msg("Device command failed")
		payload["error"] = err.Error()
		e.record(ledger.EventCommandFailed, a, payload)
		e.publish(a, command, false, err)
		return fmt.Errorf("%s: %w", command, err)
	}

	ev := a.log.Info().Str("command", command).Dur("elapsed", elapsed)
	if resp != nil {
		ev = ev.Int("code", resp.Code).Str("desc", resp.Desc)
		payload["code"] = resp.Code
	}
	ev.Msg("Device command sent")
	e.record(ledger.EventCommandSent, a, payload)
	e.publish(a, command, true, nil)
	return nil
}

func (e *Engine) record(eventType ledger.EventType, a action, payload map[string]any) {
	if e.journal == nil {
		return
	}
	if err := e.journal.Append(eventType, a.cid, a.op, payload); err != nil {
		a.log.Warn().Err(err).Msg("Failed to append to ledger")
	}
}

func (e *Engine) publish(a action, command string, ok bool, err error) {
	if e.bus == nil {
		return
	}
	data := map[string]any{"cid": a.cid, "op": a.op, "command": command, "ok": ok}
	if err != nil {
		data["error"] = err.Error()
	}
	e.bus.Publish(eventbus.Event{Type: eventbus.EventTypeCommand, Data: data})
}

func (e *Engine) switchOn(ctx context.Context, a action) error {
	return e.send(ctx, a, "switch_on", nil, func(ctx context.Context) (*trimlight.Response, error) {
		return e.device.SetSwitchState(ctx, 1)
	})
}

func (e *Engine) preview(ctx context.Context, a action, command string, req trimlight.PreviewRequest) error {
	fields := map[string]any{"brightness": req.Brightness, "speed": req.Speed}
	if req.Mode != nil {
		fields["mode"] = *req.Mode
	}
	return e.send(ctx, a, command, fields, func(ctx context.Context) (*trimlight.Response, error) {
		return e.device.Preview(ctx, req)
	})
}

func (e *Engine) runEffect(ctx context.Context, a action, id int) error {
	return e.send(ctx, a, "run_effect", map[string]any{"id": id}, func(ctx context.Context) (*trimlight.Response, error) {
		return e.device.RunEffect(ctx, id)
	})
}

// TurnOn switches the device on and, when brightness is given, re-renders
// the current effect at that brightness.
func (e *Engine) TurnOn(ctx context.Context, brightness *int) error {
	a := e.begin("turn_on")
	defer e.verify(a)

	e.update(func(s *Session) {
		s.ForceOn(e.now().Add(e.opts.ForcedOnGrace))
		if brightness != nil {
			s.LastBrightness = clampLevel(*brightness)
		}
	})
	e.state.Replace(e.state.Current().WithSwitch(true), snapshot.SourceOptimistic)

	if err := e.switchOn(ctx, a); err != nil {
		return err
	}
	if brightness == nil {
		return nil
	}
	e.applyLevels()
	return e.reapply(ctx, a)
}

// TurnOff switches the device off and forgets the selection context.
func (e *Engine) TurnOff(ctx context.Context) error {
	a := e.begin("turn_off")
	defer e.verify(a)

	e.update(func(s *Session) {
		s.ForceOff(e.now().Add(e.opts.ForcedOnGrace))
		s.ClearSelections()
	})
	e.state.Replace(e.state.Current().WithSwitch(false).WithoutCurrentEffect(), snapshot.SourceOptimistic)

	return e.send(ctx, a, "switch_off", nil, func(ctx context.Context) (*trimlight.Response, error) {
		return e.device.SetSwitchState(ctx, 0)
	})
}

// SetBrightness re-renders the current effect at a new brightness (0-255).
func (e *Engine) SetBrightness(ctx context.Context, brightness int) error {
	a := e.begin("set_brightness")
	defer e.verify(a)

	brightness = clampLevel(brightness)
	e.update(func(s *Session) { s.LastBrightness = brightness })
	e.applyLevels()
	return e.reapply(ctx, a)
}

// SetSpeed re-renders the current effect at a new speed (0-255).
func (e *Engine) SetSpeed(ctx context.Context, speed int) error {
	a := e.begin("set_speed")
	defer e.verify(a)

	speed = clampLevel(speed)
	e.update(func(s *Session) { s.LastSpeed = speed })
	e.applyLevels()
	return e.reapply(ctx, a)
}

// SpeedFromPercent converts a 0-100 percentage to the device's 0-255 speed.
func SpeedFromPercent(pct float64) int {
	return clampLevel(int(math.Round(pct / 100 * 255)))
}

// SpeedPercent converts a device speed to a percentage with one decimal.
func SpeedPercent(speed int) float64 {
	return math.Round(float64(speed)/255*1000) / 10
}

// applyLevels reflects the session levels in the current snapshot.
func (e *Engine) applyLevels() {
	b, s := e.levels()
	snap := e.state.Current()
	next := snap.Clone()
	next.Brightness = &b
	if snap.HasCurrentEffect() {
		cur := snap.CurrentEffect.WithLevels(b, s)
		next.CurrentEffect = cur
	}
	e.state.Replace(next, snapshot.SourceOptimistic)
}

// reapply re-renders whatever is playing at the session levels.
func (e *Engine) reapply(ctx context.Context, a action) error {
	b, s := e.levels()
	snap := e.state.Current()
	comp, ok := Compose(snap, e.presets.Builtins(), e.presets.Custom(snap), b, s)
	if !ok {
		a.log.Info().Msg("Nothing identifiable is playing, no command sent")
		return nil
	}
	return e.preview(ctx, a, "preview_"+comp.Via, comp.Request)
}

// SelectBuiltin starts the builtin animation with the given name. Unknown
// names are ignored.
func (e *Engine) SelectBuiltin(ctx context.Context, name string) error {
	match, ok := effect.FindBuiltinByName(e.presets.Builtins(), name)
	if !ok {
		log.Info().Str("name", name).Msg("Unknown builtin preset, ignoring")
		return nil
	}

	a := e.begin("select_builtin")
	defer e.verify(a)
	a.log.Info().Str("name", match.Name).Int("mode", match.Mode).Msg("Selecting builtin preset")

	snap := e.state.Current()
	wasOff := !e.IsOn()

	var b, s int
	e.update(func(sess *Session) {
		sess.ForceOn(e.now().Add(e.opts.ForcedOnGrace))
		b, s = sess.LastBrightness, sess.LastSpeed
		sess.LastSelectedPreset = match.Name
		sess.LastSelectedBuiltin = match.Name
		sess.LastKnownPreset = match.Name
		sess.LastKnownBuiltin = match.Name
		sess.ClearCustomSelection()
	})

	pixelLen, reverse := effect.InferPreviewParams(match.ID, snap.CurrentEffect, snap.Effects)

	// The record keeps the geometry so a later level change re-renders it.
	rec := match.Record().WithLevels(b, s)
	rec.PixelLen = &pixelLen
	rec.Reverse = &reverse
	e.state.Replace(snap.WithSwitch(true).WithCurrentEffect(rec), snapshot.SourceOptimistic)

	if wasOff {
		// Best effort: the preview below also lights the strip.
		_ = e.switchOn(ctx, a)
	}

	return e.preview(ctx, a, "preview_builtin", trimlight.BuiltinPreview(match.Mode, b, s, pixelLen, reverse))
}

// SelectCustom starts the saved custom preset with the given name: it is
// previewed immediately and, depending on the commit policy, run (persisted)
// afterwards. Unknown names and presets without an id are ignored.
func (e *Engine) SelectCustom(ctx context.Context, name string) error {
	snap := e.state.Current()
	match, ok := effect.FindCustomByName(e.presets.Custom(snap), name)
	if !ok {
		log.Info().Str("name", name).Msg("Unknown custom preset, ignoring")
		return nil
	}
	if match.ID == nil {
		log.Warn().Str("name", name).Msg("Custom preset has no id, ignoring")
		return nil
	}
	id := *match.ID

	a := e.begin("select_custom")
	defer e.verify(a)

	preset := effect.NewCustomPreset(match)
	wasOff := !e.IsOn()
	a.log.Info().Str("name", preset.Name()).Int("id", id).Bool("was_off", wasOff).Msg("Selecting custom preset")

	var b, s int
	e.update(func(sess *Session) {
		sess.ForceOn(e.now().Add(e.opts.ForcedOnGrace))
		if v, ok := preset.Brightness(); ok {
			sess.LastBrightness = clampLevel(v)
		}
		if v, ok := preset.Speed(); ok {
			sess.LastSpeed = clampLevel(v)
		}
		b, s = sess.LastBrightness, sess.LastSpeed

		sess.LastSelectedPreset = preset.Name()
		sess.LastSelectedBuiltin = ""
		sess.LastSelectedCustom = preset.Name()
		sess.LastKnownPreset = preset.Name()
		sess.LastKnownCustom = preset.Name()
		if px := preset.Pixels(); px != nil {
			sess.LastKnownCustomPixels = px
		}
		if mode, ok := preset.EffectMode(); ok {
			sess.LastSelectedCustomMode = &mode
		}
	})

	rec := preset.Record().WithLevels(b, s)
	e.state.Replace(snap.WithSwitch(true).WithCurrentEffect(rec), snapshot.SourceOptimistic)

	if wasOff {
		_ = e.switchOn(ctx, a)
	}

	req := trimlight.EffectPreview(preset.Record(), b, s)
	previewOK := false
	if preset.CanPreview() {
		previewOK = e.preview(ctx, a, "preview_custom", req) == nil
	} else {
		a.log.Info().Msg("Preset has no mode or pixels, skipping preview")
	}

	var delay time.Duration
	if wasOff {
		delay = e.opts.ReapplyDelay
	}

	switch {
	case !previewOK:
		// Nothing is showing yet, so running the preset is load-bearing.
		// The wait holds the worker so the run error reaches the caller.
		if err := e.wait(ctx, delay); err != nil {
			return err
		}
		return e.runEffect(ctx, a, id)

	case e.opts.CommitPolicy == CommitAlways:
		if delay == 0 {
			_ = e.runEffect(ctx, a, id)
			return nil
		}
		e.deferrer.After(delay, a.cid, func(ctx context.Context) {
			_ = e.runEffect(ctx, a, id)
		})

	case wasOff:
		// A preview sent while the controller powers up can be dropped.
		e.deferrer.After(delay, a.cid, func(ctx context.Context) {
			_ = e.preview(ctx, a, "preview_custom", req)
		})
	}
	return nil
}

// SelectCustomMode changes the animation pattern of the custom effect that
// is playing. Unknown labels, or nothing custom to change, are ignored.
func (e *Engine) SelectCustomMode(ctx context.Context, label string) error {
	mode, ok := effect.CustomModeByLabel(label)
	if !ok {
		log.Info().Str("label", label).Msg("Unknown custom mode, ignoring")
		return nil
	}

	snap := e.state.Current()
	var target effect.Effect
	switch {
	case snap.HasCurrentEffect() && snap.CurrentEffect.Category != nil && snap.CurrentEffect.Category.IsCustom():
		target = snap.CurrentEffect.Clone()
	default:
		match, ok := effect.FindCustomByID(e.presets.Custom(snap), snap.CurrentEffectID)
		if !ok {
			log.Info().Str("label", label).Msg("No custom effect to change, ignoring")
			return nil
		}
		target = match.Normalized()
	}

	a := e.begin("select_custom_mode")
	defer e.verify(a)
	a.log.Info().Str("label", label).Int("mode", mode).Msg("Selecting custom mode")

	target = target.WithCategory(effect.CategoryCustom).WithMode(mode)
	if target.ID == nil && snap.CurrentEffectID != nil {
		id := *snap.CurrentEffectID
		target.ID = &id
	}

	var b, s int
	e.update(func(sess *Session) {
		b, s = sess.LastBrightness, sess.LastSpeed
		sess.LastSelectedCustomMode = &mode
		// Some status replies omit the pixel layout of the playing effect.
		if len(target.Pixels) == 0 && len(sess.LastKnownCustomPixels) > 0 &&
			(target.Name == "" || target.Name == sess.LastKnownCustom) {
			target.Pixels = slices.Clone(sess.LastKnownCustomPixels)
		}
	})

	e.state.Replace(snap.WithCurrentEffect(target.WithLevels(b, s)), snapshot.SourceOptimistic)

	return e.preview(ctx, a, "preview_custom_mode", trimlight.EffectPreview(target, b, s))
}

// sleepCtx waits for d or until ctx is done.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RefreshPresets rebuilds the builtin catalog from the last poll and asks
// for an immediate poll.
func (e *Engine) RefreshPresets(_ context.Context) error {
	a := e.begin("refresh_presets")
	changed := e.presets.RefreshBuiltins(e.state.Current().Effects)
	a.log.Info().Bool("builtins_changed", changed).Msg("Preset refresh requested")
	e.state.RequestRefresh()
	return nil
}
