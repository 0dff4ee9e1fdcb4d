package snapshot

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/trimlightd/internal/eventbus"
	"github.com/dokzlo13/trimlightd/internal/policy"
	"github.com/dokzlo13/trimlightd/internal/trimlight"
)

// Source tells subscribers where a snapshot came from.
type Source string

const (
	SourcePoll       Source = "poll"
	SourceOptimistic Source = "optimistic"
)

// DefaultInterval is the regular poll cadence.
const DefaultInterval = 10 * time.Minute

// Fetcher reads the device state.
type Fetcher interface {
	DeviceDetail(ctx context.Context) (*trimlight.DeviceDetail, error)
}

// Poller owns the current snapshot. It polls on a fixed cadence and on
// demand, and lets the engine publish optimistic replacements.
type Poller struct {
	fetcher  Fetcher
	policy   policy.CategoryPolicy
	bus      *eventbus.Bus
	interval time.Duration
	now      func() time.Time

	mu       sync.RWMutex
	current  *Snapshot
	lastPoll time.Time

	// Serializes fetches so overlapping refreshes do not race each other.
	pollMu sync.Mutex

	trigger chan struct{}
}

// NewPoller creates a new Poller. bus may be nil.
func NewPoller(fetcher Fetcher, p policy.CategoryPolicy, bus *eventbus.Bus, interval time.Duration) *Poller {
	if interval == 0 {
		interval = DefaultInterval
	}
	if p == nil {
		p = policy.None{}
	}
	return &Poller{
		fetcher:  fetcher,
		policy:   p,
		bus:      bus,
		interval: interval,
		now:      time.Now,
		trigger:  make(chan struct{}, 1),
	}
}

// Current returns the latest snapshot. It never returns nil; before the
// first poll it returns an empty snapshot. The result must not be modified.
func (p *Poller) Current() *Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.current == nil {
		return &Snapshot{}
	}
	return p.current
}

// LastPoll returns the time of the last successful poll (zero if none).
func (p *Poller) LastPoll() time.Time {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.lastPoll
}

// PollNow fetches the device state and replaces the current snapshot.
// On failure the current snapshot is kept and nothing is published.
func (p *Poller) PollNow(ctx context.Context) (*Snapshot, error) {
	p.pollMu.Lock()
	defer p.pollMu.Unlock()

	detail, err := p.fetcher.DeviceDetail(ctx)
	if err != nil {
		return nil, err
	}

	now := p.now()
	snap := FromDetail(detail, p.policy, now)

	p.mu.Lock()
	p.lastPoll = now
	p.mu.Unlock()

	p.Replace(snap, SourcePoll)

	log.Debug().
		Interface("switch_state", snap.SwitchState).
		Interface("current_effect_id", snap.CurrentEffectID).
		Int("effects", len(snap.Effects)).
		Int("custom", len(snap.CustomEffects)).
		Msg("Device polled")
	return snap, nil
}

// Refresh polls immediately and reports only the error.
func (p *Poller) Refresh(ctx context.Context) error {
	_, err := p.PollNow(ctx)
	return err
}

// RequestRefresh asks Run to poll as soon as possible. Requests coalesce.
func (p *Poller) RequestRefresh() {
	select {
	case p.trigger <- struct{}{}:
	default:
		// Already triggered
	}
}

// Replace swaps in a new snapshot wholesale and notifies subscribers.
func (p *Poller) Replace(snap *Snapshot, source Source) {
	if snap == nil {
		return
	}
	p.mu.Lock()
	p.current = snap
	p.mu.Unlock()

	if p.bus != nil {
		p.bus.Publish(eventbus.Event{
			Type: eventbus.EventTypeSnapshot,
			Data: map[string]any{
				"source":   string(source),
				"snapshot": snap,
			},
		})
	}
}

// Run polls on the configured cadence and on RequestRefresh until ctx is done.
func (p *Poller) Run(ctx context.Context) error {
	log.Info().Dur("interval", p.interval).Msg("Poller started")

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Poller stopping")
			return nil

		case <-p.trigger:
			p.poll(ctx, "requested")

		case <-ticker.C:
			p.poll(ctx, "scheduled")
		}
	}
}

func (p *Poller) poll(ctx context.Context, reason string) {
	if _, err := p.PollNow(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Str("reason", reason).Msg("Device poll failed")
	}
}
