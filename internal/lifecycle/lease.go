package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/RitaChen0/QuantLab-sub000/internal/cache"
	apperrors "github.com/RitaChen0/QuantLab-sub000/internal/errors"
)

// LeaseService guards each backtest id with an expiring execution lease.
// At most one live holder exists per id; a crashed holder frees the lease
// by TTL expiry rather than by cleanup code.
type LeaseService struct {
	cache cache.Cacher
	ttl   time.Duration
}

// NewLeaseService creates a lease service with the given default TTL
func NewLeaseService(c cache.Cacher, ttl time.Duration) *LeaseService {
	return &LeaseService{cache: c, ttl: ttl}
}

func leaseKey(id string) string {
	return fmt.Sprintf("lease:backtest:%s", id)
}

// Acquire attempts to take the lease for id. It returns the holder token
// on success and ok=false, without error, when the lease is already held.
func (s *LeaseService) Acquire(ctx context.Context, id string) (token string, ok bool, err error) {
	token = uuid.New().String()
	ok, err = s.cache.AcquireLock(ctx, leaseKey(id), token, s.ttl)
	if err != nil {
		return "", false, apperrors.Wrap(err, apperrors.ErrCodeCacheOperation, "lease acquire failed")
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// Release frees the lease if and only if token still holds it. Releasing
// an expired or stolen lease is not an error, the lease is simply gone.
func (s *LeaseService) Release(ctx context.Context, id, token string) error {
	_, err := s.cache.ReleaseLock(ctx, leaseKey(id), token)
	if err != nil {
		return apperrors.Wrap(err, apperrors.ErrCodeCacheOperation, "lease release failed")
	}
	return nil
}

// Renew extends the lease TTL for the current holder
func (s *LeaseService) Renew(ctx context.Context, id, token string) (bool, error) {
	holder, err := s.cache.LockHolder(ctx, leaseKey(id))
	if err != nil {
		if errors.Is(err, cache.ErrKeyNotFound) {
			return false, nil
		}
		return false, apperrors.Wrap(err, apperrors.ErrCodeCacheOperation, "lease renew failed")
	}
	if holder != token {
		return false, nil
	}
	if err := s.cache.Set(ctx, leaseKey(id), token, s.ttl); err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeCacheOperation, "lease renew failed")
	}
	return true, nil
}

// Held reports whether any live holder has the lease for id
func (s *LeaseService) Held(ctx context.Context, id string) (bool, error) {
	exists, err := s.cache.Exists(ctx, leaseKey(id))
	if err != nil {
		return false, apperrors.Wrap(err, apperrors.ErrCodeCacheOperation, "lease lookup failed")
	}
	return exists, nil
}
