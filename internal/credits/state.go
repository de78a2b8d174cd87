package credits

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"
)

// ErrCorruptBalance is returned when the stored balance is observed
// outside its invariants. The metering session that sees it must stop
// rather than keep decrementing a broken value.
var ErrCorruptBalance = errors.New("credits: corrupt balance state")

// ActiveSignal is the explicit "an interview is live right now" flag
// shared between the Meter (which raises it) and the SyncGuard (which
// refuses remote refreshes while it is up). It is passed into both
// constructors rather than living as ambient global state.
type ActiveSignal struct {
	v atomic.Bool
}

func (s *ActiveSignal) Set(active bool) { s.v.Store(active) }

func (s *ActiveSignal) Active() bool { return s.v.Load() }

// State holds the local credit balance and metering flags for one
// user. It is the single writer: every mutation goes through one of
// its methods under the same mutex, which serializes logically
// concurrent callers (meter ticks, fetch callbacks, user actions)
// into one total order. No other component touches the fields.
//
// While a metering session is active the local value is authoritative;
// SetInitial refuses to let a remote read overwrite it.
type State struct {
	active *ActiveSignal

	// onChange fires after every successful decrement, outside the
	// lock. Listeners re-read the balance; there is no payload.
	onChange func(Balance)

	mu          sync.Mutex
	balance     Balance
	tracking    bool
	postLock    bool
	lastUpdated time.Time
	now         func() time.Time
}

func NewState(active *ActiveSignal) *State {
	if active == nil {
		active = &ActiveSignal{}
	}
	return &State{active: active, now: time.Now}
}

// OnChange registers the credit-changed listener. Must be called
// before the state is shared across goroutines.
func (s *State) OnChange(fn func(Balance)) { s.onChange = fn }

// SetInitial replaces the balance with remotely fetched values unless
// a metering session is running, the post-session lock is armed, or
// the shared active signal is up. In those windows the remote value
// may be stale and must never clobber in-flight local deductions, so
// the call is a no-op. Reports whether the values were applied.
func (s *State) SetInitial(minutes, seconds int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.tracking || s.postLock || s.active.Active() {
		return false
	}
	s.setBalanceLocked(normalize(minutes, seconds))
	return true
}

// forceSetBalance bypasses the tracking/lock guard. Reserved for the
// explicit user-triggered refresh on pause/finish, after metering has
// already stopped.
func (s *State) forceSetBalance(minutes, seconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.setBalanceLocked(normalize(minutes, seconds))
}

// AddCredits credits minutes onto the balance after a purchase.
func (s *State) AddCredits(minutes int) {
	if minutes <= 0 {
		return
	}
	s.mu.Lock()
	s.setBalanceLocked(Balance{Minutes: s.balance.Minutes + minutes, Seconds: s.balance.Seconds})
	s.mu.Unlock()
}

// DeductOneSecond removes exactly one second, borrowing from the
// minute column when needed and flooring at zero. It reports whether
// a decrement actually happened; the change notification fires only
// in that case. A balance outside its invariants returns
// ErrCorruptBalance without mutating anything.
func (s *State) DeductOneSecond() (bool, error) {
	s.mu.Lock()
	if !s.balance.valid() {
		s.mu.Unlock()
		return false, ErrCorruptBalance
	}
	if !s.balance.HasCredit() {
		s.mu.Unlock()
		return false, nil
	}

	b := s.balance
	if b.Seconds > 0 {
		b.Seconds--
	} else {
		b.Minutes--
		b.Seconds = 59
	}
	s.setBalanceLocked(b)
	s.mu.Unlock()

	if s.onChange != nil {
		s.onChange(b)
	}
	return true, nil
}

// DeductCredits removes a bulk amount of seconds (fixed-cost actions
// such as question generation), flooring at zero.
func (s *State) DeductCredits(totalSeconds int) {
	if totalSeconds <= 0 {
		return
	}
	s.mu.Lock()
	b := BalanceFromSeconds(s.balance.TotalSeconds() - totalSeconds)
	s.setBalanceLocked(b)
	s.mu.Unlock()

	if s.onChange != nil {
		s.onChange(b)
	}
}

func (s *State) SetTracking(v bool) {
	s.mu.Lock()
	s.tracking = v
	s.lastUpdated = s.now()
	s.mu.Unlock()
}

func (s *State) SetPostSessionLock(v bool) {
	s.mu.Lock()
	s.postLock = v
	s.lastUpdated = s.now()
	s.mu.Unlock()
}

// Reset zeroes the balance and clears all flags (sign-out).
func (s *State) Reset() {
	s.mu.Lock()
	s.balance = Balance{}
	s.tracking = false
	s.postLock = false
	s.lastUpdated = s.now()
	s.mu.Unlock()
}

func (s *State) Balance() Balance {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance
}

func (s *State) Tracking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracking
}

func (s *State) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.postLock
}

func (s *State) LastUpdated() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUpdated
}

func (s *State) setBalanceLocked(b Balance) {
	s.balance = b
	s.lastUpdated = s.now()
}

// normalize folds overflowing seconds into minutes and floors
// negatives at zero, so stored pairs always satisfy the invariants.
func normalize(minutes, seconds int) Balance {
	if minutes < 0 {
		minutes = 0
	}
	if seconds < 0 {
		seconds = 0
	}
	return BalanceFromSeconds(minutes*60 + seconds)
}
