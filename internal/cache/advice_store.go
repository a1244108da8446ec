package cache

import (
	"context"
	"errors"
	"strings"
	"time"
)

// AdviceStore mirrors per-pair advice entries in Redis so a restarted process can reuse them
type AdviceStore struct {
	svc    *Service
	prefix string
}

func NewAdviceStore(svc *Service, prefix string) *AdviceStore {
	if prefix == "" {
		prefix = "whalebot:advice:"
	}
	return &AdviceStore{svc: svc, prefix: prefix}
}

// AdviceKey generates the cache key of a pair's advice
func (a *AdviceStore) AdviceKey(pair string) string {
	return a.prefix + strings.ToUpper(pair)
}

// Load decodes the stored entry into dest. A miss is (false, nil).
func (a *AdviceStore) Load(ctx context.Context, pair string, dest interface{}) (bool, error) {
	err := a.svc.GetJSON(ctx, a.AdviceKey(pair), dest)
	if errors.Is(err, ErrMiss) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Save stores entry with ttl
func (a *AdviceStore) Save(ctx context.Context, pair string, entry interface{}, ttl time.Duration) error {
	return a.svc.Set(ctx, a.AdviceKey(pair), entry, ttl)
}
