package storage

import (
	"errors"
	"time"

	"github.com/kalambet/pumpdrive/internal/profile"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ErrUnavailable wraps failures of the backing engine. Callers degrade to
// in-memory behaviour when they see it.
var ErrUnavailable = errors.New("store unavailable")

// ErrCorrupt is returned by Get when the stored row exists but cannot be
// decoded. Callers treat it as a miss; the next Put for the hash replaces it.
var ErrCorrupt = errors.New("cache entry unreadable")

// CacheEntry pairs a profile with the recommendation computed for it.
// ProfileHash is a lookup key derived by profile.Hash.
type CacheEntry struct {
	ProfileHash    string
	Profile        profile.Profile
	Recommendation []byte // JSON-encoded scoring.ComprehensiveRecommendation
	CreatedAt      time.Time
	LastUsedAt     time.Time
	UseCount       int
}

// AnalyticsRecord describes one served request. Records are append-only.
type AnalyticsRecord struct {
	ID              string
	RequestKind     string
	WasCacheHit     bool
	SimilarityScore float64
	EstimatedCost   float64
	LatencyMs       int64
	Timestamp       time.Time
}
