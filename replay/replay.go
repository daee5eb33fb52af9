// Package replay provides nonce caches that let a verifier reject an
// authenticator it has already accepted.
package replay

import (
	"context"
	"errors"
	"time"
)

const (
	// DefaultTTL covers the verifier's default freshness window plus clock skew.
	DefaultTTL = 6 * time.Minute

	// DefaultMaxEntries bounds the in-memory cache.
	DefaultMaxEntries = 100_000

	// DefaultCleanupInterval is how often expired in-memory entries are swept.
	DefaultCleanupInterval = 30 * time.Second

	// MaxNonceLength is the longest nonce accepted, in bytes.
	MaxNonceLength = 256

	// DefaultKeyPrefix namespaces nonces in Redis.
	DefaultKeyPrefix = "pop:nonce:"
)

var (
	// ErrInvalidNonce is returned for an empty or oversized nonce.
	ErrInvalidNonce = errors.New("replay: invalid nonce")
	// ErrCacheFull is returned when the in-memory cache reached its limit.
	ErrCacheFull = errors.New("replay: cache full")
)

// Cache records nonces. Record reports true the first time a nonce is seen
// within the TTL and false for a repeat. Implementations are safe for
// concurrent use and satisfy token.NonceStore.
type Cache interface {
	Record(ctx context.Context, nonce string) (bool, error)
	Close() error
}

func validNonce(nonce string) error {
	if nonce == "" || len(nonce) > MaxNonceLength {
		return ErrInvalidNonce
	}
	return nil
}
