package credits

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1_700_000_000, 0)} }

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeSyncer struct {
	mu     sync.Mutex
	synced []Balance
}

func (f *fakeSyncer) SyncToLedger(_ context.Context, b Balance) error {
	f.mu.Lock()
	f.synced = append(f.synced, b)
	f.mu.Unlock()
	return nil
}

func (f *fakeSyncer) calls() []Balance {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Balance(nil), f.synced...)
}

func newTestMeter(t *testing.T, minutes, seconds int) (*Meter, *State, *ActiveSignal, *fakeClock, *fakeSyncer) {
	t.Helper()
	active := &ActiveSignal{}
	state := NewState(active)
	require.True(t, state.SetInitial(minutes, seconds))

	clk := newFakeClock()
	syncer := &fakeSyncer{}
	m := NewMeter(state, active, syncer, nil)
	m.now = clk.Now
	return m, state, active, clk, syncer
}

// Balance {10,0}, 65 elapsed seconds: {8,55} and still tracking.
func TestMeterScenarioDecrementsAnchoredToWallClock(t *testing.T) {
	m, state, active, clk, _ := newTestMeter(t, 10, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, m.Start(ctx))
	defer m.Stop()
	assert.True(t, state.Tracking())
	assert.True(t, active.Active())

	// Drift resistance: one late wakeup applies every due second.
	clk.Advance(65 * time.Second)
	require.True(t, m.applyElapsed())

	assert.Equal(t, Balance{Minutes: 8, Seconds: 55}, state.Balance())
	assert.True(t, state.Tracking())
	assert.Equal(t, 65, m.SessionSeconds())
}

// Balance {0,3}: the third tick empties the balance and tracking
// auto-flips off on that very tick, without arming the lock.
func TestMeterAutoStopsAtZero(t *testing.T) {
	m, state, active, clk, syncer := newTestMeter(t, 0, 3)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, m.Start(ctx))
	for i := 0; i < 3; i++ {
		clk.Advance(time.Second)
		if !m.applyElapsed() {
			break
		}
	}

	assert.Equal(t, Balance{}, state.Balance())
	assert.False(t, state.Tracking())
	assert.False(t, active.Active())
	assert.False(t, state.Locked())
	assert.False(t, m.Running())
	assert.Empty(t, syncer.calls())
}

// Balance {5,0}, 10 ticks, then Stop: the ledger sync sees {4,50},
// billed as 5 whole minutes; refresh within the lock window is a no-op.
func TestMeterStopSyncsAndArmsLock(t *testing.T) {
	m, state, _, clk, syncer := newTestMeter(t, 5, 0)
	m.lockFor = 40 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, m.Start(ctx))
	clk.Advance(10 * time.Second)
	require.True(t, m.applyElapsed())

	m.Stop()

	calls := syncer.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, Balance{Minutes: 4, Seconds: 50}, calls[0])
	assert.Equal(t, 5, calls[0].BilledMinutes())

	assert.False(t, state.Tracking())
	assert.True(t, state.Locked())
	assert.False(t, state.SetInitial(20, 0))
	assert.Equal(t, Balance{Minutes: 4, Seconds: 50}, state.Balance())

	// The lock is a fixed-duration window; it releases on its own.
	assert.Eventually(t, func() bool { return !state.Locked() }, time.Second, 5*time.Millisecond)
	assert.True(t, state.SetInitial(20, 0))
}

func TestMeterStopIsIdempotent(t *testing.T) {
	m, _, _, clk, syncer := newTestMeter(t, 5, 0)
	m.lockFor = 10 * time.Millisecond
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, m.Start(ctx))
	clk.Advance(3 * time.Second)
	require.True(t, m.applyElapsed())

	m.Stop()
	m.Stop()
	assert.Len(t, syncer.calls(), 1)
}

func TestMeterStartIsIdempotentGuarded(t *testing.T) {
	m, state, _, clk, _ := newTestMeter(t, 1, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	clk.Advance(5 * time.Second)
	require.True(t, m.applyElapsed())

	// Second start must not reset the anchor or spawn a second ticker.
	require.NoError(t, m.Start(ctx))
	assert.Equal(t, 5, m.SessionSeconds())
	assert.Equal(t, Balance{Minutes: 0, Seconds: 55}, state.Balance())
}

func TestMeterStartRejectsEmptyBalance(t *testing.T) {
	active := &ActiveSignal{}
	state := NewState(active)
	m := NewMeter(state, active, &fakeSyncer{}, nil)

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.False(t, state.Tracking())
	assert.False(t, m.Running())
}

func TestMeterStopsDefensivelyOnCorruptState(t *testing.T) {
	m, state, active, clk, _ := newTestMeter(t, 2, 0)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var surfaced error
	m.OnError(func(err error) { surfaced = err })
	require.NoError(t, m.Start(ctx))

	state.mu.Lock()
	state.balance = Balance{Minutes: 1, Seconds: 99}
	state.mu.Unlock()

	clk.Advance(time.Second)
	assert.False(t, m.applyElapsed())
	assert.ErrorIs(t, surfaced, ErrCorruptBalance)
	assert.False(t, state.Tracking())
	assert.False(t, active.Active())
}

// End-to-end with the real ticker at a compressed interval.
func TestMeterTicksWithRealTimer(t *testing.T) {
	active := &ActiveSignal{}
	state := NewState(active)
	require.True(t, state.SetInitial(0, 30))

	m := NewMeter(state, active, &fakeSyncer{}, nil)
	m.tick = 5 * time.Millisecond
	// Compress wall time to one "second" per tick interval.
	start := time.Now()
	m.now = func() time.Time {
		return start.Add(time.Duration(time.Since(start)/m.tick) * time.Second)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, m.Start(ctx))
	defer m.Stop()

	assert.Eventually(t, func() bool {
		return state.Balance().TotalSeconds() < 30
	}, time.Second, time.Millisecond)
}
