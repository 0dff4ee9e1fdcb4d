package reconcile

import (
	"context"
	"reflect"
	"sync"
	"time"

	"github.com/qmuntal/stateless"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/trimlightd/internal/ledger"
)

// DefaultVerifyDelay is how long after a command the device is polled to
// confirm it.
const DefaultVerifyDelay = 5 * time.Second

// verifyTimeout bounds one verification poll.
const verifyTimeout = 30 * time.Second

// Refresher performs an immediate device poll.
type Refresher interface {
	Refresh(ctx context.Context) error
}

// Journal records command history. *ledger.Ledger implements it.
type Journal interface {
	Append(eventType ledger.EventType, cid, op string, payload map[string]any) error
}

type verifyState string

const (
	verifyIdle    verifyState = "idle"
	verifyPending verifyState = "pending"
	verifyFiring  verifyState = "firing"
)

type verifyTrigger string

const (
	triggerSchedule verifyTrigger = "schedule"
	triggerFire     verifyTrigger = "fire"
	triggerDone     verifyTrigger = "done"
	triggerCancel   verifyTrigger = "cancel"
)

// Verifier owns the single verification timer. Scheduling while a timer is
// pending replaces it, so any burst of commands yields one poll.
//
//	idle --schedule--> pending --fire--> firing --done--> idle
//	pending --schedule--> pending (timer re-armed)
//	firing --schedule--> pending (the older fire's done is dropped)
type Verifier struct {
	refresher Refresher
	journal   Journal
	delay     time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	// Serializes every Fire; entry actions never take it.
	mu     sync.Mutex
	sm     *stateless.StateMachine
	timer  *time.Timer
	gen    uint64
	cid    string
	closed bool
}

// NewVerifier creates a Verifier. journal may be nil.
func NewVerifier(refresher Refresher, delay time.Duration, journal Journal) *Verifier {
	if delay <= 0 {
		delay = DefaultVerifyDelay
	}
	ctx, cancel := context.WithCancel(context.Background())
	v := &Verifier{
		refresher: refresher,
		journal:   journal,
		delay:     delay,
		ctx:       ctx,
		cancel:    cancel,
	}

	sm := stateless.NewStateMachine(verifyIdle)
	sm.SetTriggerParameters(triggerSchedule, reflect.TypeOf(uint64(0)))

	sm.Configure(verifyIdle).
		Permit(triggerSchedule, verifyPending).
		Ignore(triggerDone).
		Ignore(triggerCancel)

	sm.Configure(verifyPending).
		OnEntry(v.arm).
		PermitReentry(triggerSchedule).
		Permit(triggerFire, verifyFiring).
		Permit(triggerCancel, verifyIdle).
		Ignore(triggerDone)

	sm.Configure(verifyFiring).
		Permit(triggerDone, verifyIdle).
		Permit(triggerSchedule, verifyPending).
		Permit(triggerCancel, verifyIdle)

	v.sm = sm
	return v
}

// Schedule (re)arms the verification timer for cid.
func (v *Verifier) Schedule(cid string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.gen++
	if err := v.sm.Fire(triggerSchedule, v.gen); err != nil {
		log.Error().Err(err).Str("cid", cid).Msg("Failed to schedule verification")
		return
	}
	v.cid = cid
	log.Debug().Str("cid", cid).Dur("delay", v.delay).Msg("Verification scheduled")
}

// Pending reports whether a timer is armed.
func (v *Verifier) Pending() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.sm.MustState() == verifyPending
}

// Stop cancels any pending timer and in-flight verification poll.
func (v *Verifier) Stop() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed {
		return
	}
	v.closed = true
	v.gen++
	if v.timer != nil {
		v.timer.Stop()
		v.timer = nil
	}
	_ = v.sm.Fire(triggerCancel)
	v.cancel()
}

// arm is the pending entry action. It runs under v.mu.
func (v *Verifier) arm(_ context.Context, args ...any) error {
	if v.timer != nil {
		v.timer.Stop()
	}
	gen, _ := args[0].(uint64)
	v.timer = time.AfterFunc(v.delay, func() { v.expire(gen) })
	return nil
}

func (v *Verifier) expire(gen uint64) {
	v.mu.Lock()
	if v.closed || gen != v.gen {
		// Superseded by a later Schedule.
		v.mu.Unlock()
		return
	}
	v.timer = nil
	cid := v.cid
	if err := v.sm.Fire(triggerFire); err != nil {
		v.mu.Unlock()
		log.Error().Err(err).Str("cid", cid).Msg("Verification state error")
		return
	}
	v.mu.Unlock()

	v.verify(cid)

	v.mu.Lock()
	if !v.closed && gen == v.gen {
		_ = v.sm.Fire(triggerDone)
	}
	v.mu.Unlock()
}

func (v *Verifier) verify(cid string) {
	logger := log.With().Str("cid", cid).Str("op", "verify").Logger()
	v.record(ledger.EventVerificationFired, cid, nil)

	ctx, cancel := context.WithTimeout(v.ctx, verifyTimeout)
	defer cancel()

	if err := v.refresher.Refresh(ctx); err != nil {
		logger.Warn().Err(err).Msg("Verification poll failed")
		v.record(ledger.EventVerificationFailed, cid, map[string]any{"error": err.Error()})
		return
	}
	logger.Debug().Msg("Verification poll complete")
}

func (v *Verifier) record(eventType ledger.EventType, cid string, payload map[string]any) {
	if v.journal == nil {
		return
	}
	if err := v.journal.Append(eventType, cid, "verify", payload); err != nil {
		log.Warn().Err(err).Str("cid", cid).Msg("Failed to append to ledger")
	}
}
