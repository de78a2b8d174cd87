package ledger

import (
	"context"
	"time"

	"github.com/jastalk/jastalk/internal/cache"
)

const balanceTTL = 30 * time.Second

type cachedBalance struct {
	Minutes int `json:"minutes"`
	Seconds int `json:"seconds"`
}

// CachedStore decorates a Store with a short-lived read-through cache.
// Every write path invalidates the cached entry so a refresh after a
// session stop observes the synced value.
type CachedStore struct {
	inner Store
	cache cache.Cache
}

func NewCachedStore(inner Store, c cache.Cache) *CachedStore {
	return &CachedStore{inner: inner, cache: c}
}

func balanceKey(userID string) string { return "credits:balance:" + userID }

func (s *CachedStore) Balance(ctx context.Context, userID string) (int, int, error) {
	var cb cachedBalance
	if hit, err := s.cache.GetJSON(ctx, balanceKey(userID), &cb); err == nil && hit {
		return cb.Minutes, cb.Seconds, nil
	}

	minutes, seconds, err := s.inner.Balance(ctx, userID)
	if err != nil {
		return 0, 0, err
	}
	_ = s.cache.SetJSON(ctx, balanceKey(userID), cachedBalance{Minutes: minutes, Seconds: seconds}, balanceTTL)
	return minutes, seconds, nil
}

func (s *CachedStore) SetRemaining(ctx context.Context, userID string, minutes, seconds int) error {
	if err := s.inner.SetRemaining(ctx, userID, minutes, seconds); err != nil {
		return err
	}
	_ = s.cache.Del(ctx, balanceKey(userID))
	return nil
}

func (s *CachedStore) Add(ctx context.Context, userID string, minutes int) error {
	if err := s.inner.Add(ctx, userID, minutes); err != nil {
		return err
	}
	_ = s.cache.Del(ctx, balanceKey(userID))
	return nil
}

func (s *CachedStore) Deduct(ctx context.Context, userID string, totalSeconds int) (Deduction, error) {
	out, err := s.inner.Deduct(ctx, userID, totalSeconds)
	if err != nil {
		return out, err
	}
	_ = s.cache.Del(ctx, balanceKey(userID))
	return out, nil
}
