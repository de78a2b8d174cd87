package credits

import (
	"context"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/jastalk/jastalk/internal/utils"
)

// LedgerStore is the slice of the remote credit ledger the guard
// depends on. internal/ledger provides the implementations.
type LedgerStore interface {
	Balance(ctx context.Context, userID string) (minutes, leftoverSeconds int, err error)
	SetRemaining(ctx context.Context, userID string, minutes, seconds int) error
}

// FallbackBalance is granted when the ledger is unreachable or rejects
// the user's identity, so a transient outage never strands a user at
// zero credit. Availability over strict billing.
var FallbackBalance = Balance{Minutes: 60}

// SyncGuard decides when the remote ledger may be read through into
// local state, and pushes local state back to the ledger when a
// session ends. Its blocking predicate (tracking, post-session lock,
// shared active signal) is what keeps a slow fetch issued before an
// interview from resolving mid-interview and clobbering freshly
// decremented local credit.
type SyncGuard struct {
	state  *State
	active *ActiveSignal
	store  LedgerStore
	log    *logrus.Logger
	userID string

	degraded atomic.Bool
}

func NewSyncGuard(state *State, active *ActiveSignal, store LedgerStore, userID string, log *logrus.Logger) *SyncGuard {
	if log == nil {
		log = logrus.New()
	}
	return &SyncGuard{state: state, active: active, store: store, log: log, userID: userID}
}

// Refresh reads the remote balance into local state. While metering is
// active, the post-session lock is armed, or the shared active signal
// is up, it aborts without touching anything: local state is the
// truth in those windows.
func (g *SyncGuard) Refresh(ctx context.Context) error {
	if g.state.Tracking() || g.state.Locked() || g.active.Active() {
		g.log.WithField("user_id", g.userID).Debug("balance refresh suppressed while session state is authoritative")
		return nil
	}
	return g.fetch(ctx, false)
}

// ManualRefresh is the user-triggered variant for pause/finish flows:
// metering has already stopped and the caller wants the authoritative
// remote number, so the tracking/lock guard is skipped.
func (g *SyncGuard) ManualRefresh(ctx context.Context) error {
	return g.fetch(ctx, true)
}

func (g *SyncGuard) fetch(ctx context.Context, forced bool) error {
	prior := g.state.Balance()

	minutes, seconds, err := g.store.Balance(ctx, g.userID)
	if err != nil {
		// Ledger unreachable or identity rejected: grant the documented
		// fallback rather than stranding the user at zero.
		g.degraded.Store(true)
		g.log.WithError(err).WithField("user_id", g.userID).
			Warn("ledger unavailable, granting fallback balance")
		if forced {
			g.state.forceSetBalance(FallbackBalance.Minutes, FallbackBalance.Seconds)
		} else {
			g.state.SetInitial(FallbackBalance.Minutes, FallbackBalance.Seconds)
		}
		return nil
	}
	g.degraded.Store(false)

	fetched := normalize(minutes, seconds)
	if prior.HasCredit() && !fetched.HasCredit() {
		// A transient empty response must not erase a legitimate local
		// balance. Surface the anomaly, keep local truth.
		g.log.WithFields(logrus.Fields{
			"user_id":       g.userID,
			"local_seconds": prior.TotalSeconds(),
		}).Warn("ledger returned zero against a nonzero local balance, ignoring as stale")
		return nil
	}

	if forced {
		g.state.forceSetBalance(fetched.Minutes, fetched.Seconds)
	} else {
		g.state.SetInitial(fetched.Minutes, fetched.Seconds)
	}
	return nil
}

// SyncToLedger writes the local balance back to the remote ledger,
// rounded up to whole minutes. A zero balance is never written: the
// ledger may have been topped up concurrently and an idempotent set of
// zero would erase the purchase. The caller logs and swallows the
// returned error; a failed sync degrades billing consistency but must
// never block the interview flow.
func (g *SyncGuard) SyncToLedger(ctx context.Context, b Balance) error {
	const op = "SyncGuard.SyncToLedger"

	if !b.HasCredit() {
		g.log.WithField("user_id", g.userID).Debug("skipping ledger sync of empty balance")
		return nil
	}

	if err := g.store.SetRemaining(ctx, g.userID, b.BilledMinutes(), 0); err != nil {
		return utils.E(utils.CodeUnavailable, op, "failed to write remaining credits", err)
	}
	return nil
}

// Degraded reports whether the last refresh fell back to the
// emergency balance.
func (g *SyncGuard) Degraded() bool { return g.degraded.Load() }
