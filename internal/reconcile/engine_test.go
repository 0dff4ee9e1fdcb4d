package reconcile

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/trimlightd/internal/effect"
	"github.com/dokzlo13/trimlightd/internal/executor"
	"github.com/dokzlo13/trimlightd/internal/presets"
	"github.com/dokzlo13/trimlightd/internal/snapshot"
	"github.com/dokzlo13/trimlightd/internal/trimlight"
)

func intPtr(v int) *int { return &v }

func boolPtr(v bool) *bool { return &v }

func catPtr(c effect.Category) *effect.Category { return &c }

var okResponse = &trimlight.Response{Code: 0, Desc: "success"}

// MockDevice is a mock implementation of Device
type MockDevice struct {
	mock.Mock
}

func (m *MockDevice) SetSwitchState(_ context.Context, state int) (*trimlight.Response, error) {
	args := m.Called(state)
	resp, _ := args.Get(0).(*trimlight.Response)
	return resp, args.Error(1)
}

func (m *MockDevice) Preview(_ context.Context, req trimlight.PreviewRequest) (*trimlight.Response, error) {
	args := m.Called(req)
	resp, _ := args.Get(0).(*trimlight.Response)
	return resp, args.Error(1)
}

func (m *MockDevice) RunEffect(_ context.Context, id int) (*trimlight.Response, error) {
	args := m.Called(id)
	resp, _ := args.Get(0).(*trimlight.Response)
	return resp, args.Error(1)
}

type recordingScheduler struct {
	mu   sync.Mutex
	cids []string
}

func (s *recordingScheduler) Schedule(cid string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cids = append(s.cids, cid)
}

func (s *recordingScheduler) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cids)
}

type deferred struct {
	delay time.Duration
	cid   string
	work  executor.Work
}

type manualDeferrer struct {
	items []deferred
}

func (d *manualDeferrer) After(delay time.Duration, cid string, work executor.Work) {
	d.items = append(d.items, deferred{delay: delay, cid: cid, work: work})
}

func (d *manualDeferrer) runAll() {
	items := d.items
	d.items = nil
	for _, it := range items {
		it.work(context.Background())
	}
}

type harness struct {
	engine   *Engine
	device   *MockDevice
	poller   *snapshot.Poller
	sched    *recordingScheduler
	deferrer *manualDeferrer
	now      time.Time
	waits    []time.Duration
}

func newHarness(t *testing.T, snap *snapshot.Snapshot, policy CommitPolicy) *harness {
	t.Helper()

	poller := snapshot.NewPoller(nil, nil, nil, time.Hour)
	poller.Replace(snap, snapshot.SourcePoll)

	cache := presets.NewCache(nil, "dev")
	cache.EnsureBuiltins(snap.Effects)

	h := &harness{
		device:   &MockDevice{},
		poller:   poller,
		sched:    &recordingScheduler{},
		deferrer: &manualDeferrer{},
		now:      time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
	h.engine = NewEngine(Deps{
		Device:   h.device,
		State:    poller,
		Presets:  cache,
		Verifier: h.sched,
		Deferrer: h.deferrer,
	}, Options{CommitPolicy: policy})
	h.engine.now = func() time.Time { return h.now }
	h.engine.wait = func(_ context.Context, d time.Duration) error {
		h.waits = append(h.waits, d)
		return nil
	}
	return h
}

func sunset() effect.Effect {
	return effect.Effect{
		ID:         intPtr(4),
		Name:       "Sunset",
		Category:   catPtr(effect.CategoryCustom),
		Mode:       intPtr(2),
		Brightness: intPtr(180),
		Speed:      intPtr(40),
		Pixels: []effect.Pixel{
			{Index: 0, Count: 10, Color: 0xFF6600},
			{Index: 1, Count: 10, Color: 0xCC0033},
		},
	}
}

func deviceWith(on bool, effects ...effect.Effect) *snapshot.Snapshot {
	state := 0
	if on {
		state = 1
	}
	return &snapshot.Snapshot{
		DeviceID:      "dev",
		SwitchState:   &state,
		Effects:       effects,
		CustomEffects: effect.ClassifyCustom(effects),
	}
}

func TestTurnOff(t *testing.T) {
	h := newHarness(t, deviceWith(true, sunset()), CommitAlways)
	h.engine.update(func(s *Session) {
		s.ForceOn(h.now.Add(time.Minute))
		s.LastSelectedPreset = "Sunset"
		s.LastSelectedCustom = "Sunset"
		s.LastSelectedCustomMode = intPtr(2)
		s.LastKnownCustom = "Sunset"
	})
	h.device.On("SetSwitchState", 0).Return(okResponse, nil)

	require.NoError(t, h.engine.TurnOff(context.Background()))

	sess := h.engine.Session()
	assert.True(t, sess.ForcedOnUntil.IsZero())
	assert.False(t, sess.ForcedOffUntil.Before(h.now))
	assert.Empty(t, sess.LastSelectedPreset)
	assert.Empty(t, sess.LastSelectedCustom)
	assert.Nil(t, sess.LastSelectedCustomMode)
	// Last-known names survive a power-off.
	assert.Equal(t, "Sunset", sess.LastKnownCustom)

	snap := h.poller.Current()
	assert.Equal(t, 0, *snap.SwitchState)
	assert.False(t, snap.HasCurrentEffect())
	assert.Nil(t, snap.CurrentEffectID)

	assert.False(t, h.engine.IsOn())
	assert.Equal(t, NameOff, h.engine.CurrentPresetName())
	assert.Equal(t, 1, h.sched.count())
	h.device.AssertExpectations(t)
}

func TestTurnOn(t *testing.T) {
	snap := deviceWith(false, sunset())
	h := newHarness(t, snap, CommitAlways)
	h.engine.update(func(s *Session) { s.ForceOff(h.now.Add(time.Minute)) })
	h.device.On("SetSwitchState", 1).Return(okResponse, nil)

	require.NoError(t, h.engine.TurnOn(context.Background(), nil))

	sess := h.engine.Session()
	assert.True(t, sess.ForcedOffUntil.IsZero())
	assert.False(t, sess.ForcedOnUntil.Before(h.now))
	assert.Equal(t, 1, *h.poller.Current().SwitchState)
	assert.True(t, h.engine.IsOn())
	assert.Equal(t, 1, h.sched.count())
	h.device.AssertNotCalled(t, "Preview", mock.Anything)
}

func TestTurnOnWithBrightnessReappliesCurrentEffect(t *testing.T) {
	snap := deviceWith(false, sunset()).WithCurrentEffect(sunset())
	h := newHarness(t, snap, CommitAlways)

	h.device.On("SetSwitchState", 1).Return(okResponse, nil)
	h.device.On("Preview", mock.MatchedBy(func(req trimlight.PreviewRequest) bool {
		return req.Brightness == 120 && req.Speed == DefaultSpeed && *req.Mode == 2 && len(req.Pixels) == 2
	})).Return(okResponse, nil)

	require.NoError(t, h.engine.TurnOn(context.Background(), intPtr(120)))

	assert.Equal(t, 120, h.engine.Session().LastBrightness)
	h.device.AssertExpectations(t)
}

func TestTurnOnFailureStillSchedulesVerification(t *testing.T) {
	h := newHarness(t, deviceWith(false), CommitAlways)
	h.device.On("SetSwitchState", 1).Return(nil, errors.New("timeout"))

	err := h.engine.TurnOn(context.Background(), intPtr(50))
	require.Error(t, err)

	assert.Equal(t, 1, h.sched.count())
	h.device.AssertNotCalled(t, "Preview", mock.Anything)
}

func TestSetBrightnessWithNothingPlaying(t *testing.T) {
	h := newHarness(t, deviceWith(true), CommitAlways)

	require.NoError(t, h.engine.SetBrightness(context.Background(), 300))

	sess := h.engine.Session()
	assert.Equal(t, 255, sess.LastBrightness)
	assert.True(t, sess.ForcedOnUntil.IsZero())
	assert.True(t, sess.ForcedOffUntil.IsZero())
	assert.Equal(t, 1, h.sched.count())
	h.device.AssertNotCalled(t, "Preview", mock.Anything)
}

func TestSetSpeedReappliesBuiltinByID(t *testing.T) {
	breath := effect.Effect{
		ID:       intPtr(7),
		Name:     "Breath",
		Category: catPtr(effect.CategoryBuiltin),
		Mode:     intPtr(7),
		PixelLen: intPtr(45),
		Reverse:  boolPtr(true),
	}
	snap := deviceWith(true, breath)
	snap.CurrentEffectID = intPtr(7)
	snap.CurrentEffectCategory = catPtr(effect.CategoryBuiltin)
	h := newHarness(t, snap, CommitAlways)

	want := trimlight.BuiltinPreview(7, DefaultBrightness, 200, 45, true)
	h.device.On("Preview", want).Return(okResponse, nil)

	require.NoError(t, h.engine.SetSpeed(context.Background(), 200))

	assert.Equal(t, 200, h.engine.Session().LastSpeed)
	assert.Equal(t, 200, h.engine.Speed())
	h.device.AssertExpectations(t)
}

func TestSetBrightnessPropagatesPreviewFailure(t *testing.T) {
	snap := deviceWith(true, sunset()).WithCurrentEffect(sunset())
	h := newHarness(t, snap, CommitAlways)
	h.device.On("Preview", mock.Anything).Return(nil, trimlight.ErrStatus)

	err := h.engine.SetBrightness(context.Background(), 10)
	assert.ErrorIs(t, err, trimlight.ErrStatus)
	assert.Equal(t, 10, h.engine.Brightness())
	assert.Equal(t, 1, h.sched.count())
}

func TestSelectBuiltinBreath(t *testing.T) {
	breath := effect.Effect{ID: intPtr(7), Name: "Breath", Category: catPtr(effect.CategoryBuiltin), Mode: intPtr(7)}
	h := newHarness(t, deviceWith(false, breath), CommitAlways)
	require.Equal(t, []effect.BuiltinPreset{{ID: 7, Mode: 7, Name: "Breath"}}, h.engine.presets.Builtins())

	h.engine.update(func(s *Session) {
		s.LastSelectedCustom = "Sunset"
		s.LastSelectedCustomMode = intPtr(3)
	})

	h.device.On("SetSwitchState", 1).Return(okResponse, nil)
	want := trimlight.BuiltinPreview(7, DefaultBrightness, DefaultSpeed, effect.DefaultPixelLen, false)
	h.device.On("Preview", want).Return(okResponse, nil)

	require.NoError(t, h.engine.SelectBuiltin(context.Background(), "Breath"))

	h.device.AssertExpectations(t)
	require.Len(t, h.device.Calls, 2)
	assert.Equal(t, "SetSwitchState", h.device.Calls[0].Method)
	assert.Equal(t, "Preview", h.device.Calls[1].Method)

	snap := h.poller.Current()
	assert.Equal(t, 1, *snap.SwitchState)
	require.NotNil(t, snap.CurrentEffectCategory)
	assert.Equal(t, effect.CategoryBuiltin, *snap.CurrentEffectCategory)
	assert.Equal(t, 7, *snap.CurrentEffect.Mode)
	assert.Equal(t, 7, *snap.CurrentEffectID)

	sess := h.engine.Session()
	assert.Equal(t, "Breath", sess.LastSelectedBuiltin)
	assert.Equal(t, "Breath", sess.LastKnownBuiltin)
	assert.Empty(t, sess.LastSelectedCustom)
	assert.Nil(t, sess.LastSelectedCustomMode)

	name, ok := h.engine.BuiltinOption()
	assert.True(t, ok)
	assert.Equal(t, "Breath", name)
	_, ok = h.engine.CustomOption()
	assert.False(t, ok)
	assert.Equal(t, "Breath", h.engine.CurrentPresetName())
	assert.Equal(t, 1, h.sched.count())
}

func TestSelectBuiltinKeepsGeometryForLevelChanges(t *testing.T) {
	breath := effect.Effect{
		ID:       intPtr(7),
		Name:     "Breath",
		Category: catPtr(effect.CategoryBuiltin),
		Mode:     intPtr(7),
		PixelLen: intPtr(45),
		Reverse:  boolPtr(true),
	}
	h := newHarness(t, deviceWith(true, breath), CommitAlways)

	h.device.On("Preview", trimlight.BuiltinPreview(7, DefaultBrightness, DefaultSpeed, 45, true)).Return(okResponse, nil).Once()
	h.device.On("Preview", trimlight.BuiltinPreview(7, 90, DefaultSpeed, 45, true)).Return(okResponse, nil).Once()

	require.NoError(t, h.engine.SelectBuiltin(context.Background(), "Breath"))

	cur := h.poller.Current().CurrentEffect
	require.NotNil(t, cur.PixelLen)
	require.NotNil(t, cur.Reverse)
	assert.Equal(t, 45, *cur.PixelLen)
	assert.True(t, *cur.Reverse)

	require.NoError(t, h.engine.SetBrightness(context.Background(), 90))
	h.device.AssertExpectations(t)
	h.device.AssertNumberOfCalls(t, "Preview", 2)
}

func TestSelectBuiltinSwitchFailureIsBestEffort(t *testing.T) {
	h := newHarness(t, deviceWith(false), CommitAlways)

	h.device.On("SetSwitchState", 1).Return(nil, errors.New("unreachable"))
	h.device.On("Preview", mock.Anything).Return(okResponse, nil)

	// Static catalog: mode 0 is the first entry.
	name := h.engine.BuiltinOptions()[0]
	require.NoError(t, h.engine.SelectBuiltin(context.Background(), name))
	h.device.AssertExpectations(t)
}

func TestSelectBuiltinUnknownName(t *testing.T) {
	h := newHarness(t, deviceWith(true), CommitAlways)
	before := h.engine.Session()

	require.NoError(t, h.engine.SelectBuiltin(context.Background(), "No Such Animation"))

	assert.Equal(t, before, h.engine.Session())
	assert.Empty(t, h.device.Calls)
	assert.Equal(t, 0, h.sched.count())
}

func TestSelectCustomSunsetPreviewOnly(t *testing.T) {
	h := newHarness(t, deviceWith(true, sunset()), CommitPreviewOnly)

	h.device.On("Preview", mock.MatchedBy(func(req trimlight.PreviewRequest) bool {
		return req.Brightness == 180 && req.Speed == 40 &&
			*req.Category == effect.CategoryCustom && *req.Mode == 2 && len(req.Pixels) == 2
	})).Return(okResponse, nil).Once()

	require.NoError(t, h.engine.SelectCustom(context.Background(), "Sunset"))

	h.device.AssertExpectations(t)
	h.device.AssertNotCalled(t, "SetSwitchState", mock.Anything)
	h.device.AssertNotCalled(t, "RunEffect", mock.Anything)
	assert.Empty(t, h.deferrer.items)

	sess := h.engine.Session()
	assert.Equal(t, "Sunset", sess.LastKnownCustom)
	assert.Equal(t, "Sunset", sess.LastSelectedCustom)
	assert.Equal(t, 180, sess.LastBrightness)
	assert.Equal(t, 40, sess.LastSpeed)
	assert.Len(t, sess.LastKnownCustomPixels, 2)
	require.NotNil(t, sess.LastSelectedCustomMode)
	assert.Equal(t, 2, *sess.LastSelectedCustomMode)

	assert.Equal(t, "Sunset", h.engine.CurrentPresetName())
	name, ok := h.engine.CustomOption()
	assert.True(t, ok)
	assert.Equal(t, "Sunset", name)
	assert.Equal(t, 1, h.sched.count())
}

func TestSelectCustomUnknownName(t *testing.T) {
	h := newHarness(t, deviceWith(true, sunset()), CommitAlways)
	before := h.engine.Session()
	snapBefore := h.poller.Current()

	require.NoError(t, h.engine.SelectCustom(context.Background(), "Aurora"))

	assert.Equal(t, before, h.engine.Session())
	assert.Same(t, snapBefore, h.poller.Current())
	assert.Empty(t, h.device.Calls)
	assert.Equal(t, 0, h.sched.count())
}

func TestSelectCustomWithoutIDIsIgnored(t *testing.T) {
	p := sunset()
	p.ID = nil
	h := newHarness(t, deviceWith(true, p), CommitAlways)

	require.NoError(t, h.engine.SelectCustom(context.Background(), "Sunset"))
	assert.Empty(t, h.device.Calls)
}

func TestSelectCustomCommitDefersRunWhenOff(t *testing.T) {
	h := newHarness(t, deviceWith(false, sunset()), CommitAlways)

	h.device.On("SetSwitchState", 1).Return(okResponse, nil)
	h.device.On("Preview", mock.Anything).Return(okResponse, nil)
	h.device.On("RunEffect", 4).Return(okResponse, nil)

	require.NoError(t, h.engine.SelectCustom(context.Background(), "Sunset"))

	require.Len(t, h.deferrer.items, 1)
	assert.Equal(t, DefaultReapplyDelay, h.deferrer.items[0].delay)
	assert.Equal(t, h.sched.cids[0], h.deferrer.items[0].cid)
	h.device.AssertNotCalled(t, "RunEffect", mock.Anything)

	h.deferrer.runAll()
	h.device.AssertCalled(t, "RunEffect", 4)
}

func TestSelectCustomCommitRunsImmediatelyWhenOn(t *testing.T) {
	h := newHarness(t, deviceWith(true, sunset()), CommitAlways)

	h.device.On("Preview", mock.Anything).Return(okResponse, nil)
	h.device.On("RunEffect", 4).Return(nil, errors.New("busy"))

	// A failed commit after a successful preview is not surfaced.
	require.NoError(t, h.engine.SelectCustom(context.Background(), "Sunset"))
	assert.Empty(t, h.deferrer.items)
	h.device.AssertExpectations(t)
}

func TestSelectCustomPreviewOnlyRepreviewsWhenOff(t *testing.T) {
	h := newHarness(t, deviceWith(false, sunset()), CommitPreviewOnly)

	h.device.On("SetSwitchState", 1).Return(okResponse, nil)
	h.device.On("Preview", mock.Anything).Return(okResponse, nil)

	require.NoError(t, h.engine.SelectCustom(context.Background(), "Sunset"))
	require.Len(t, h.deferrer.items, 1)

	h.deferrer.runAll()
	h.device.AssertNumberOfCalls(t, "Preview", 2)
	h.device.AssertNotCalled(t, "RunEffect", mock.Anything)
}

func TestSelectCustomPreviewFailureRunsEffect(t *testing.T) {
	h := newHarness(t, deviceWith(true, sunset()), CommitPreviewOnly)

	h.device.On("Preview", mock.Anything).Return(nil, errors.New("rejected"))
	h.device.On("RunEffect", 4).Return(okResponse, nil)

	require.NoError(t, h.engine.SelectCustom(context.Background(), "Sunset"))
	h.device.AssertExpectations(t)
	assert.Empty(t, h.deferrer.items)
}

func TestSelectCustomPreviewFailureWaitsBeforeRunWhenOff(t *testing.T) {
	h := newHarness(t, deviceWith(false, sunset()), CommitPreviewOnly)

	h.device.On("SetSwitchState", 1).Return(okResponse, nil)
	h.device.On("Preview", mock.Anything).Return(nil, errors.New("rejected"))
	h.device.On("RunEffect", 4).Return(nil, trimlight.ErrStatus)

	err := h.engine.SelectCustom(context.Background(), "Sunset")
	assert.ErrorIs(t, err, trimlight.ErrStatus)
	assert.Equal(t, []time.Duration{DefaultReapplyDelay}, h.waits)
	assert.Empty(t, h.deferrer.items)
	h.device.AssertExpectations(t)
}

func TestSelectCustomPreviewFailureHonorsCancellation(t *testing.T) {
	h := newHarness(t, deviceWith(false, sunset()), CommitAlways)
	h.engine.wait = sleepCtx

	h.device.On("SetSwitchState", 1).Return(okResponse, nil)
	h.device.On("Preview", mock.Anything).Return(nil, errors.New("rejected"))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := h.engine.SelectCustom(ctx, "Sunset")
	assert.ErrorIs(t, err, context.Canceled)
	h.device.AssertNotCalled(t, "RunEffect", mock.Anything)
}

func TestSelectCustomRunFailurePropagatesWhenNotPreviewed(t *testing.T) {
	p := sunset()
	p.Pixels = nil
	h := newHarness(t, deviceWith(true, p), CommitAlways)

	h.device.On("RunEffect", 4).Return(nil, trimlight.ErrStatus)

	err := h.engine.SelectCustom(context.Background(), "Sunset")
	assert.ErrorIs(t, err, trimlight.ErrStatus)
	h.device.AssertNotCalled(t, "Preview", mock.Anything)
	assert.Equal(t, 1, h.sched.count())
}

func TestSelectCustomMode(t *testing.T) {
	current := sunset()
	current.Category = catPtr(effect.CategoryTransient)
	current.ID = nil
	h := newHarness(t, deviceWith(true, sunset()).WithCurrentEffect(current), CommitAlways)

	breath, ok := effect.CustomModeByLabel("Breath")
	require.True(t, ok)

	h.device.On("Preview", mock.MatchedBy(func(req trimlight.PreviewRequest) bool {
		return *req.Category == effect.CategoryCustom && *req.Mode == breath && len(req.Pixels) == 2
	})).Return(okResponse, nil)

	require.NoError(t, h.engine.SelectCustomMode(context.Background(), "Breath"))
	h.device.AssertExpectations(t)

	require.NotNil(t, h.engine.Session().LastSelectedCustomMode)
	assert.Equal(t, breath, *h.engine.Session().LastSelectedCustomMode)

	label, ok := h.engine.CustomModeOption()
	assert.True(t, ok)
	assert.Equal(t, "Breath", label)
}

func TestSelectCustomModeFromCachedPreset(t *testing.T) {
	snap := deviceWith(true, sunset())
	snap.CurrentEffectID = intPtr(4)
	snap.CurrentEffectCategory = catPtr(effect.CategoryCustom)
	h := newHarness(t, snap, CommitAlways)

	twinkle, _ := effect.CustomModeByLabel("Twinkle")
	h.device.On("Preview", mock.MatchedBy(func(req trimlight.PreviewRequest) bool {
		return *req.Mode == twinkle && len(req.Pixels) == 2
	})).Return(okResponse, nil)

	require.NoError(t, h.engine.SelectCustomMode(context.Background(), "Twinkle"))
	h.device.AssertExpectations(t)

	cur := h.poller.Current()
	assert.Equal(t, 4, *cur.CurrentEffectID)
	assert.Equal(t, twinkle, *cur.CurrentEffect.Mode)
}

func TestSelectCustomModeRestoresKnownPixels(t *testing.T) {
	current := sunset()
	current.Category = catPtr(effect.CategoryTransient)
	current.Pixels = nil
	h := newHarness(t, deviceWith(true).WithCurrentEffect(current), CommitAlways)
	h.engine.update(func(s *Session) {
		s.LastKnownCustom = "Sunset"
		s.LastKnownCustomPixels = sunset().Pixels
	})

	stars, ok := effect.CustomModeByLabel("Stars")
	require.True(t, ok)
	h.device.On("Preview", mock.MatchedBy(func(req trimlight.PreviewRequest) bool {
		return *req.Mode == stars && assert.ObjectsAreEqual(sunset().Pixels, req.Pixels)
	})).Return(okResponse, nil)

	require.NoError(t, h.engine.SelectCustomMode(context.Background(), "Stars"))
	h.device.AssertExpectations(t)
	assert.Len(t, h.poller.Current().CurrentEffect.Pixels, 2)
}

func TestSelectCustomModeKeepsPixelsOfOtherPresets(t *testing.T) {
	current := sunset()
	current.Name = "Aurora"
	current.Category = catPtr(effect.CategoryTransient)
	current.Pixels = nil
	h := newHarness(t, deviceWith(true).WithCurrentEffect(current), CommitAlways)
	h.engine.update(func(s *Session) {
		s.LastKnownCustom = "Sunset"
		s.LastKnownCustomPixels = sunset().Pixels
	})

	h.device.On("Preview", mock.MatchedBy(func(req trimlight.PreviewRequest) bool {
		return req.Pixels == nil
	})).Return(okResponse, nil)

	require.NoError(t, h.engine.SelectCustomMode(context.Background(), "Stars"))
	h.device.AssertExpectations(t)
}

func TestSelectCustomModeWithoutTarget(t *testing.T) {
	h := newHarness(t, deviceWith(true), CommitAlways)

	require.NoError(t, h.engine.SelectCustomMode(context.Background(), "Breath"))
	require.NoError(t, h.engine.SelectCustomMode(context.Background(), "Not A Pattern"))

	assert.Empty(t, h.device.Calls)
	assert.Equal(t, 0, h.sched.count())
}

func TestOptionsDefaults(t *testing.T) {
	tests := []struct {
		name string
		in   time.Duration
		want time.Duration
	}{
		{"unset uses default", 0, DefaultReapplyDelay},
		{"negative disables", -time.Second, 0},
		{"explicit kept", 2 * time.Second, 2 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Options{ReapplyDelay: tt.in}.withDefaults()
			assert.Equal(t, tt.want, got.ReapplyDelay)
			assert.Equal(t, DefaultForcedOnGrace, got.ForcedOnGrace)
			assert.Equal(t, CommitAlways, got.CommitPolicy)
		})
	}
}

func TestRefreshPresets(t *testing.T) {
	h := newHarness(t, deviceWith(true), CommitAlways)
	assert.Len(t, h.engine.BuiltinOptions(), effect.MaxStaticBuiltinMode+1)

	fresh := deviceWith(true, effect.Effect{ID: intPtr(3), Category: catPtr(effect.CategoryBuiltin), Mode: intPtr(3), Name: "Rainbow"})
	h.poller.Replace(fresh, snapshot.SourcePoll)

	require.NoError(t, h.engine.RefreshPresets(context.Background()))
	assert.Equal(t, []string{"Rainbow"}, h.engine.BuiltinOptions())
	assert.Empty(t, h.device.Calls)
}

func TestSpeedConversions(t *testing.T) {
	assert.Equal(t, 39.2, SpeedPercent(100))
	assert.Equal(t, 100.0, SpeedPercent(255))
	assert.Equal(t, 0.0, SpeedPercent(0))

	assert.Equal(t, 100, SpeedFromPercent(39.2))
	assert.Equal(t, 255, SpeedFromPercent(100))
	assert.Equal(t, 255, SpeedFromPercent(150))
	assert.Equal(t, 0, SpeedFromPercent(-5))
}
