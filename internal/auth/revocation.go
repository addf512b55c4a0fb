package auth

import (
	"context"
	"errors"
	"time"

	"redlight/internal/common/cache"
)

const revokedKeyPrefix = "auth:revoked:"

// RevocationList records signed-out tokens until they would have expired.
type RevocationList struct {
	redis        cache.BasicOps
	redisTimeout time.Duration
}

func NewRevocationList(redis cache.BasicOps, redisTimeout time.Duration) *RevocationList {
	if redisTimeout <= 0 {
		redisTimeout = time.Second
	}
	return &RevocationList{redis: redis, redisTimeout: redisTimeout}
}

func (r *RevocationList) IsRevoked(ctx context.Context, tokenHash string) (bool, error) {
	if tokenHash == "" {
		return false, nil
	}
	if r.redis == nil {
		return false, errors.New("redis is nil")
	}
	ctxCache, cancel := context.WithTimeout(ctx, r.redisTimeout)
	defer cancel()
	n, err := r.redis.Exists(ctxCache, revokedKeyPrefix+tokenHash)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Revoke blocks tokenHash until expiresAt. Already expired tokens are ignored.
func (r *RevocationList) Revoke(ctx context.Context, tokenHash string, expiresAt time.Time) error {
	if tokenHash == "" {
		return errors.New("token hash is empty")
	}
	ttl := time.Until(expiresAt)
	if expiresAt.IsZero() {
		ttl = 24 * time.Hour
	}
	if ttl <= 0 {
		return nil
	}
	ctxCache, cancel := context.WithTimeout(ctx, r.redisTimeout)
	defer cancel()
	return r.redis.Set(ctxCache, revokedKeyPrefix+tokenHash, "1", ttl)
}
