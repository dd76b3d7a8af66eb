package storage

import (
	"context"
	"errors"
	"time"

	"github.com/kalambet/pumpdrive/internal/profile"
)

// Store is the persistence boundary for cached recommendations and request
// analytics. SQLiteStore and MemoryStore implement it with identical semantics.
type Store interface {
	// Get returns the entry for hash or ErrNotFound.
	Get(ctx context.Context, hash string) (CacheEntry, error)

	// Put upserts the entry keyed by profile.Hash(p). Overwriting an existing
	// hash replaces profile and recommendation, resets UseCount to 1 and
	// LastUsedAt to now, and keeps the original CreatedAt.
	Put(ctx context.Context, p profile.Profile, recommendation []byte) (CacheEntry, error)

	// Touch marks the entry as used: LastUsedAt = now, UseCount++.
	Touch(ctx context.Context, hash string) error

	// RecentByUse returns up to limit entries, most recently used first.
	// Rows that cannot be decoded are skipped.
	RecentByUse(ctx context.Context, limit int) ([]CacheEntry, error)

	// PruneToSize keeps the keep most recently used entries and deletes the
	// rest, returning how many were deleted.
	PruneToSize(ctx context.Context, keep int) (int, error)

	// Count returns the number of cached entries.
	Count(ctx context.Context) (int, error)

	RecordAnalytics(ctx context.Context, rec AnalyticsRecord) error
	AnalyticsSince(ctx context.Context, since time.Time) ([]AnalyticsRecord, error)
	PruneAnalytics(ctx context.Context, before time.Time) (int, error)

	Close() error
}

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the time source (for tests).
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// writeRetryDelay is the pause before the one retry RetryWrite makes.
const writeRetryDelay = 50 * time.Millisecond

// RetryWrite runs fn and, when it fails with ErrUnavailable, runs it once more
// after a short pause. Any other error is returned immediately. Callers drop
// the write if the retry fails too.
func RetryWrite(ctx context.Context, fn func(context.Context) error) error {
	err := fn(ctx)
	if err == nil || !errors.Is(err, ErrUnavailable) {
		return err
	}
	t := time.NewTimer(writeRetryDelay)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
		return err
	}
	return fn(ctx)
}
