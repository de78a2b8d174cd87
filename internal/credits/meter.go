package credits

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/jastalk/jastalk/internal/utils"
)

// LedgerSyncer pushes a local balance back to the remote ledger when a
// metering session ends. Implemented by SyncGuard.
type LedgerSyncer interface {
	SyncToLedger(ctx context.Context, b Balance) error
}

const (
	// DefaultPostSessionLock is the quiet period after a user-initiated
	// stop during which remote balance refreshes are not trusted.
	DefaultPostSessionLock = 30 * time.Second

	defaultTick = time.Second
)

// Meter decrements the local balance once per second while an
// interview is live. Each tick re-derives elapsed wall-clock time from
// the recorded start instant and applies the difference in whole
// seconds, so scheduler delay never accumulates into drift. The meter
// stops itself the moment a tick observes zero remaining credit.
type Meter struct {
	state  *State
	active *ActiveSignal
	syncer LedgerSyncer
	log    *logrus.Logger

	tick    time.Duration
	lockFor time.Duration
	now     func() time.Time

	// onError surfaces a defensive stop caused by corrupt state.
	onError func(error)

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	startedAt time.Time
	applied   int
}

// MeterOption tunes a Meter at construction.
type MeterOption func(*Meter)

// WithTick overrides the metering interval.
func WithTick(d time.Duration) MeterOption {
	return func(m *Meter) {
		if d > 0 {
			m.tick = d
		}
	}
}

// WithLockWindow overrides the post-session lock duration.
func WithLockWindow(d time.Duration) MeterOption {
	return func(m *Meter) {
		if d > 0 {
			m.lockFor = d
		}
	}
}

func NewMeter(state *State, active *ActiveSignal, syncer LedgerSyncer, log *logrus.Logger, opts ...MeterOption) *Meter {
	if log == nil {
		log = logrus.New()
	}
	m := &Meter{
		state:   state,
		active:  active,
		syncer:  syncer,
		log:     log,
		tick:    defaultTick,
		lockFor: DefaultPostSessionLock,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// OnError registers the corrupt-state callback. Must be set before Start.
func (m *Meter) OnError(fn func(error)) { m.onError = fn }

// Start begins metering. Calling it while a session is already running
// is a no-op; two rapid start actions must not produce two overlapping
// tickers. Starting with an empty balance is rejected.
func (m *Meter) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return nil
	}
	if !m.state.Balance().HasCredit() {
		m.mu.Unlock()
		return utils.E(utils.CodeInsufficientCredit, "Meter.Start", "no interview credit remaining", nil)
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.running = true
	m.cancel = cancel
	m.startedAt = m.now()
	m.applied = 0
	m.mu.Unlock()

	m.state.SetTracking(true)
	m.active.Set(true)

	go m.run(runCtx)
	return nil
}

func (m *Meter) run(ctx context.Context) {
	t := time.NewTicker(m.tick)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if !m.applyElapsed() {
				return
			}
		}
	}
}

// applyElapsed deducts every whole second that has passed since the
// last application. Returns false when the loop must exit (exhausted
// balance or corrupt state).
func (m *Meter) applyElapsed() bool {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return false
	}
	due := int(m.now().Sub(m.startedAt)/time.Second) - m.applied
	m.mu.Unlock()

	for i := 0; i < due; i++ {
		ok, err := m.state.DeductOneSecond()
		if err != nil {
			m.log.WithError(err).Error("meter observed corrupt balance, stopping")
			m.haltInternal()
			if m.onError != nil {
				m.onError(err)
			}
			return false
		}
		if !ok {
			m.haltInternal()
			return false
		}
		m.mu.Lock()
		m.applied++
		m.mu.Unlock()
		if !m.state.Balance().HasCredit() {
			// Exhausted: tracking flips off on this very tick, but the
			// post-session lock is reserved for user-initiated stops.
			m.haltInternal()
			return false
		}
	}
	return true
}

// haltInternal tears the ticking session down without the ledger sync
// or lock window that a user-initiated Stop performs.
func (m *Meter) haltInternal() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.state.SetTracking(false)
	m.active.Set(false)
}

// Stop ends the metering session: the ticker is cancelled, the
// tracking flag and shared active signal are cleared, the current
// local balance is synced to the ledger, and the post-session lock is
// armed for a fixed window. Idempotent; a second call performs no
// further side effects.
func (m *Meter) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	cancel := m.cancel
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.state.SetTracking(false)
	m.active.Set(false)

	if m.syncer != nil {
		if err := m.syncer.SyncToLedger(context.Background(), m.state.Balance()); err != nil {
			// Billing degrades to eventual consistency; never block the flow.
			m.log.WithError(err).Warn("ledger sync after stop failed")
		}
	}

	m.state.SetPostSessionLock(true)
	// Fixed-duration window, deliberately not cancellable early.
	time.AfterFunc(m.lockFor, func() { m.state.SetPostSessionLock(false) })
}

// Running reports whether a metering session is live.
func (m *Meter) Running() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running
}

// SessionSeconds is the number of seconds deducted so far in the
// current (or most recent) metering session.
func (m *Meter) SessionSeconds() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.applied
}
