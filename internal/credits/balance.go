package credits

// Balance is the remaining interview time a user has, kept as whole
// minutes plus leftover seconds. The pair is always normalized:
// Seconds stays in [0,59] and Minutes never goes negative, with
// borrow/carry across the minute boundary handled by the reducer.
type Balance struct {
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

// BalanceFromSeconds re-derives a normalized Balance from a total
// second count, flooring at zero.
func BalanceFromSeconds(total int) Balance {
	if total < 0 {
		total = 0
	}
	return Balance{Minutes: total / 60, Seconds: total % 60}
}

func (b Balance) TotalSeconds() int { return b.Minutes*60 + b.Seconds }

func (b Balance) HasCredit() bool { return b.TotalSeconds() > 0 }

// BilledMinutes converts the balance to whole minutes, rounding up so
// a partial minute is written back to the ledger in full.
func (b Balance) BilledMinutes() int {
	return (b.TotalSeconds() + 59) / 60
}

func (b Balance) valid() bool {
	return b.Minutes >= 0 && b.Seconds >= 0 && b.Seconds <= 59
}
