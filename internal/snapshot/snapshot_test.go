package snapshot

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dokzlo13/trimlightd/internal/effect"
	"github.com/dokzlo13/trimlightd/internal/eventbus"
	"github.com/dokzlo13/trimlightd/internal/policy"
	"github.com/dokzlo13/trimlightd/internal/trimlight"
)

func intPtr(v int) *int { return &v }

func catPtr(c effect.Category) *effect.Category { return &c }

type stubFetcher struct {
	mu     sync.Mutex
	detail *trimlight.DeviceDetail
	err    error
	calls  atomic.Int32
}

func (f *stubFetcher) DeviceDetail(context.Context) (*trimlight.DeviceDetail, error) {
	f.calls.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detail, f.err
}

func sampleDetail() *trimlight.DeviceDetail {
	return &trimlight.DeviceDetail{
		Payload: trimlight.DevicePayload{
			DeviceID:    "dev-1",
			SwitchState: intPtr(1),
			CurrentEffect: effect.Effect{
				ID: intPtr(5), Category: catPtr(effect.CategoryCustom), Brightness: intPtr(128), ModeID: intPtr(3),
			},
			Effects: []effect.Effect{
				{ID: intPtr(9), Category: catPtr(effect.CategoryCustom), Name: "B"},
				{ID: intPtr(0), Category: catPtr(effect.CategoryBuiltin), Mode: intPtr(0)},
				{ID: intPtr(5), Category: catPtr(effect.CategoryCustom), Name: "A"},
			},
		},
	}
}

func TestFromDetail(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s := FromDetail(sampleDetail(), policy.None{}, now)

	on, known := s.IsOn()
	assert.True(t, on)
	assert.True(t, known)
	assert.Equal(t, 5, *s.CurrentEffectID)
	assert.True(t, s.CategoryIs(effect.CategoryCustom))
	assert.Equal(t, 128, *s.Brightness)
	assert.Len(t, s.Effects, 3)
	require.Len(t, s.CustomEffects, 2)
	assert.Equal(t, 5, *s.CustomEffects[0].ID)
	assert.Equal(t, 9, *s.CustomEffects[1].ID)
	assert.Equal(t, now, s.FetchedAt)
}

func TestFromDetailAppliesPolicyOnlyWhenCategoryMissing(t *testing.T) {
	d := sampleDetail()
	d.Payload.CurrentEffect = effect.Effect{ID: intPtr(40), Mode: intPtr(40)}

	s := FromDetail(d, policy.NewThreshold(16), time.Now())
	assert.True(t, s.CategoryIs(effect.CategoryBuiltin))

	s = FromDetail(d, policy.None{}, time.Now())
	assert.Nil(t, s.CurrentEffectCategory)
}

func TestSnapshotWithHelpersDoNotMutate(t *testing.T) {
	base := FromDetail(sampleDetail(), nil, time.Now())

	off := base.WithSwitch(false).WithoutCurrentEffect()
	on, _ := off.IsOn()
	assert.False(t, on)
	assert.False(t, off.HasCurrentEffect())
	assert.Nil(t, off.CurrentEffectID)

	on, _ = base.IsOn()
	assert.True(t, on)
	assert.True(t, base.HasCurrentEffect())

	e := effect.Effect{ID: intPtr(7), Category: catPtr(effect.CategoryBuiltin), Mode: intPtr(7), Brightness: intPtr(10)}
	next := base.WithCurrentEffect(e)
	assert.Equal(t, 7, *next.CurrentEffectID)
	assert.True(t, next.CategoryIs(effect.CategoryBuiltin))
	assert.Equal(t, 10, *next.Brightness)
	assert.Equal(t, 5, *base.CurrentEffectID)
}

func TestIsOnUnknown(t *testing.T) {
	var nilSnap *Snapshot
	_, known := nilSnap.IsOn()
	assert.False(t, known)

	_, known = (&Snapshot{}).IsOn()
	assert.False(t, known)
}

func TestPollerPollNowPublishes(t *testing.T) {
	bus := eventbus.NewWithConfig(1, 10)
	defer bus.Close(context.Background())

	var sources []string
	var mu sync.Mutex
	bus.Subscribe(eventbus.EventTypeSnapshot, func(e eventbus.Event) {
		mu.Lock()
		sources = append(sources, e.Data["source"].(string))
		mu.Unlock()
	})

	f := &stubFetcher{detail: sampleDetail()}
	p := NewPoller(f, nil, bus, time.Hour)

	assert.False(t, p.Current().HasCurrentEffect())

	snap, err := p.PollNow(context.Background())
	require.NoError(t, err)
	assert.Same(t, snap, p.Current())
	assert.False(t, p.LastPoll().IsZero())

	p.Replace(snap.WithSwitch(false), SourceOptimistic)
	on, _ := p.Current().IsOn()
	assert.False(t, on)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(sources) == 2
	}, time.Second, 5*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"poll", "optimistic"}, sources)
	mu.Unlock()
}

func TestPollerFailureKeepsSnapshot(t *testing.T) {
	f := &stubFetcher{detail: sampleDetail()}
	p := NewPoller(f, nil, nil, time.Hour)

	first, err := p.PollNow(context.Background())
	require.NoError(t, err)

	f.mu.Lock()
	f.err = errors.New("network down")
	f.mu.Unlock()

	assert.Error(t, p.Refresh(context.Background()))
	assert.Same(t, first, p.Current())
}

func TestPollerRunHonorsRequestRefresh(t *testing.T) {
	f := &stubFetcher{detail: sampleDetail()}
	p := NewPoller(f, nil, nil, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = p.Run(ctx)
		close(done)
	}()

	p.RequestRefresh()
	assert.Eventually(t, func() bool { return f.calls.Load() >= 1 }, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
