package core

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrCacheMiss is returned by Cache.Get when the key is absent or has expired.
var ErrCacheMiss = errors.New("cache: key not found")

// Cache is a key/value store whose entries expire after a per-entry TTL.
//
// Setting an existing key replaces its value and restarts its TTL; the previous expiry no longer applies.
// Implementations must be safe for concurrent use.
type Cache interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}
