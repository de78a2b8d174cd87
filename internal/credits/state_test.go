package credits

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBalanceFromSeconds(t *testing.T) {
	assert.Equal(t, Balance{Minutes: 2, Seconds: 5}, BalanceFromSeconds(125))
	assert.Equal(t, Balance{}, BalanceFromSeconds(0))
	assert.Equal(t, Balance{}, BalanceFromSeconds(-10))
	assert.Equal(t, Balance{Minutes: 1}, BalanceFromSeconds(60))
}

func TestBilledMinutesRoundsUp(t *testing.T) {
	assert.Equal(t, 5, Balance{Minutes: 4, Seconds: 50}.BilledMinutes())
	assert.Equal(t, 4, Balance{Minutes: 4}.BilledMinutes())
	assert.Equal(t, 1, Balance{Seconds: 1}.BilledMinutes())
	assert.Equal(t, 0, Balance{}.BilledMinutes())
}

func TestDeductOneSecondCarry(t *testing.T) {
	s := NewState(nil)
	require.True(t, s.SetInitial(1, 0))

	ok, err := s.DeductOneSecond()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Balance{Minutes: 0, Seconds: 59}, s.Balance())

	ok, err = s.DeductOneSecond()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Balance{Minutes: 0, Seconds: 58}, s.Balance())
}

func TestDeductOneSecondFloorsAtZero(t *testing.T) {
	s := NewState(nil)
	ok, err := s.DeductOneSecond()
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, Balance{}, s.Balance())
}

func TestDeductOneSecondNotifiesOnlyOnRealDecrement(t *testing.T) {
	s := NewState(nil)
	var fired int
	s.OnChange(func(Balance) { fired++ })

	s.SetInitial(0, 2)
	_, _ = s.DeductOneSecond()
	_, _ = s.DeductOneSecond()
	_, _ = s.DeductOneSecond() // already empty, no event
	assert.Equal(t, 2, fired)
}

func TestDeductCreditsRoundTrip(t *testing.T) {
	s := NewState(nil)
	s.SetInitial(10, 30)
	before := s.Balance().TotalSeconds()

	s.DeductCredits(95)
	assert.Equal(t, before-95, s.Balance().TotalSeconds())

	s.DeductCredits(100000)
	assert.Equal(t, 0, s.Balance().TotalSeconds())
}

func TestSetInitialGuardedWhileTracking(t *testing.T) {
	s := NewState(nil)
	s.SetInitial(4, 50)
	s.SetTracking(true)

	applied := s.SetInitial(20, 0)
	assert.False(t, applied)
	assert.Equal(t, Balance{Minutes: 4, Seconds: 50}, s.Balance())

	s.SetTracking(false)
	s.SetPostSessionLock(true)
	assert.False(t, s.SetInitial(20, 0))
	assert.Equal(t, Balance{Minutes: 4, Seconds: 50}, s.Balance())

	s.SetPostSessionLock(false)
	assert.True(t, s.SetInitial(20, 0))
	assert.Equal(t, Balance{Minutes: 20, Seconds: 0}, s.Balance())
}

func TestSetInitialGuardedByActiveSignal(t *testing.T) {
	active := &ActiveSignal{}
	s := NewState(active)
	s.SetInitial(2, 10)

	active.Set(true)
	assert.False(t, s.SetInitial(0, 0))
	assert.Equal(t, Balance{Minutes: 2, Seconds: 10}, s.Balance())

	active.Set(false)
	assert.True(t, s.SetInitial(0, 0))
}

func TestSetInitialNormalizes(t *testing.T) {
	s := NewState(nil)
	s.SetInitial(1, 75)
	assert.Equal(t, Balance{Minutes: 2, Seconds: 15}, s.Balance())

	s.SetInitial(-3, -9)
	assert.Equal(t, Balance{}, s.Balance())
}

func TestAddCredits(t *testing.T) {
	s := NewState(nil)
	s.SetInitial(1, 30)
	s.AddCredits(10)
	assert.Equal(t, Balance{Minutes: 11, Seconds: 30}, s.Balance())

	s.AddCredits(0)
	s.AddCredits(-5)
	assert.Equal(t, Balance{Minutes: 11, Seconds: 30}, s.Balance())
}

func TestResetClearsEverything(t *testing.T) {
	s := NewState(nil)
	s.SetInitial(5, 5)
	s.SetTracking(true)
	s.SetPostSessionLock(true)

	s.Reset()
	assert.Equal(t, Balance{}, s.Balance())
	assert.False(t, s.Tracking())
	assert.False(t, s.Locked())
}

func TestCorruptBalanceSurfaced(t *testing.T) {
	s := NewState(nil)
	s.mu.Lock()
	s.balance = Balance{Minutes: -1, Seconds: 30}
	s.mu.Unlock()

	ok, err := s.DeductOneSecond()
	assert.False(t, ok)
	assert.ErrorIs(t, err, ErrCorruptBalance)
}

// Invariants hold after arbitrary interleavings of reducer actions.
func TestNormalizationInvariant(t *testing.T) {
	s := NewState(nil)
	actions := []func(){
		func() { s.SetInitial(3, 59) },
		func() { s.AddCredits(2) },
		func() { _, _ = s.DeductOneSecond() },
		func() { s.DeductCredits(61) },
		func() { s.SetTracking(true) },
		func() { s.SetInitial(99, 99) },
		func() { s.SetTracking(false) },
		func() { _, _ = s.DeductOneSecond() },
		func() { s.DeductCredits(1) },
		func() { s.Reset() },
		func() { s.SetInitial(0, 119) },
	}
	for i, act := range actions {
		act()
		b := s.Balance()
		assert.GreaterOrEqual(t, b.Minutes, 0, "action %d", i)
		assert.GreaterOrEqual(t, b.Seconds, 0, "action %d", i)
		assert.LessOrEqual(t, b.Seconds, 59, "action %d", i)
	}
}
