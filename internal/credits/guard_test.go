package credits

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeLedger struct {
	mu sync.Mutex

	minutes int
	seconds int
	err     error

	sets []Balance
}

func (f *fakeLedger) Balance(_ context.Context, _ string) (int, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, 0, f.err
	}
	return f.minutes, f.seconds, nil
}

func (f *fakeLedger) SetRemaining(_ context.Context, _ string, minutes, seconds int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sets = append(f.sets, Balance{Minutes: minutes, Seconds: seconds})
	return nil
}

func newTestGuard(ledger *fakeLedger) (*SyncGuard, *State, *ActiveSignal) {
	active := &ActiveSignal{}
	state := NewState(active)
	return NewSyncGuard(state, active, ledger, "user-1", nil), state, active
}

func TestRefreshAppliesRemoteBalance(t *testing.T) {
	g, state, _ := newTestGuard(&fakeLedger{minutes: 12, seconds: 30})
	require.NoError(t, g.Refresh(context.Background()))
	assert.Equal(t, Balance{Minutes: 12, Seconds: 30}, state.Balance())
	assert.False(t, g.Degraded())
}

func TestRefreshAbortsWhileTracking(t *testing.T) {
	ledger := &fakeLedger{minutes: 99}
	g, state, _ := newTestGuard(ledger)
	state.SetInitial(4, 50)
	state.SetTracking(true)

	require.NoError(t, g.Refresh(context.Background()))
	assert.Equal(t, Balance{Minutes: 4, Seconds: 50}, state.Balance())
}

func TestRefreshAbortsDuringPostSessionLock(t *testing.T) {
	g, state, _ := newTestGuard(&fakeLedger{minutes: 99})
	state.SetInitial(4, 50)
	state.SetPostSessionLock(true)

	require.NoError(t, g.Refresh(context.Background()))
	assert.Equal(t, Balance{Minutes: 4, Seconds: 50}, state.Balance())

	state.SetPostSessionLock(false)
	require.NoError(t, g.Refresh(context.Background()))
	assert.Equal(t, Balance{Minutes: 99, Seconds: 0}, state.Balance())
}

func TestRefreshAbortsWhileActiveSignalUp(t *testing.T) {
	g, state, active := newTestGuard(&fakeLedger{minutes: 99})
	state.SetInitial(2, 0)
	active.Set(true)

	require.NoError(t, g.Refresh(context.Background()))
	assert.Equal(t, Balance{Minutes: 2, Seconds: 0}, state.Balance())
}

// A remote zero against a nonzero local balance is stale, not truth.
func TestRefreshRejectsSuspiciousZero(t *testing.T) {
	g, state, _ := newTestGuard(&fakeLedger{minutes: 0, seconds: 0})
	state.SetInitial(2, 10)

	require.NoError(t, g.Refresh(context.Background()))
	assert.Equal(t, Balance{Minutes: 2, Seconds: 10}, state.Balance())
}

func TestRefreshAcceptsZeroWhenLocalAlreadyEmpty(t *testing.T) {
	g, state, _ := newTestGuard(&fakeLedger{minutes: 0, seconds: 0})
	require.NoError(t, g.Refresh(context.Background()))
	assert.Equal(t, Balance{}, state.Balance())
}

func TestRefreshGrantsFallbackOnLedgerFailure(t *testing.T) {
	g, state, _ := newTestGuard(&fakeLedger{err: errors.New("connection refused")})
	require.NoError(t, g.Refresh(context.Background()))
	assert.Equal(t, FallbackBalance, state.Balance())
	assert.True(t, g.Degraded())
}

func TestManualRefreshBypassesLock(t *testing.T) {
	g, state, _ := newTestGuard(&fakeLedger{minutes: 7, seconds: 15})
	state.SetInitial(1, 0)
	state.SetPostSessionLock(true)

	require.NoError(t, g.ManualRefresh(context.Background()))
	assert.Equal(t, Balance{Minutes: 7, Seconds: 15}, state.Balance())
}

func TestSyncToLedgerRoundsUp(t *testing.T) {
	ledger := &fakeLedger{}
	g, _, _ := newTestGuard(ledger)

	require.NoError(t, g.SyncToLedger(context.Background(), Balance{Minutes: 4, Seconds: 50}))
	require.Len(t, ledger.sets, 1)
	assert.Equal(t, Balance{Minutes: 5, Seconds: 0}, ledger.sets[0])
}

// Writing zero could erase a concurrent top-up; skip it entirely.
func TestSyncToLedgerSkipsEmptyBalance(t *testing.T) {
	ledger := &fakeLedger{}
	g, _, _ := newTestGuard(ledger)

	require.NoError(t, g.SyncToLedger(context.Background(), Balance{}))
	assert.Empty(t, ledger.sets)
}

func TestSyncToLedgerReturnsErrorForCallerToLog(t *testing.T) {
	g, _, _ := newTestGuard(&fakeLedger{err: errors.New("boom")})
	err := g.SyncToLedger(context.Background(), Balance{Minutes: 3})
	assert.Error(t, err)
}
