// Package recommender answers recommendation requests: reuse a cached answer
// for a similar enough profile, otherwise compute one and cache it.
package recommender

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/kalambet/pumpdrive/internal/analytics"
	"github.com/kalambet/pumpdrive/internal/catalog"
	"github.com/kalambet/pumpdrive/internal/profile"
	"github.com/kalambet/pumpdrive/internal/queue"
	"github.com/kalambet/pumpdrive/internal/scoring"
	"github.com/kalambet/pumpdrive/internal/similarity"
	"github.com/kalambet/pumpdrive/internal/storage"
)

// Strategy selects how a cache miss is answered.
type Strategy string

const (
	// StrategyRules scores candidates locally.
	StrategyRules Strategy = "rules"
	// StrategyGenerate asks the external generation service through the queue.
	StrategyGenerate Strategy = "generate"
)

const (
	// DefaultScanLimit is how many recently used entries the similarity scan reads.
	DefaultScanLimit = 200
	// DefaultKeepCount is the cache size periodic pruning trims to.
	DefaultKeepCount = 1000
	// DefaultPruneEvery is the number of cache writes between prunes.
	DefaultPruneEvery = 50
)

// ErrUnavailable is returned when neither the cache store nor the external
// service could produce an answer.
var ErrUnavailable = errors.New("recommendation service unavailable")

// Enqueuer submits a profile to the generation queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, p profile.Profile) (queue.Result, error)
}

// Recorder receives one analytics record per request.
type Recorder interface {
	Record(rec storage.AnalyticsRecord)
}

// Deps wires a Service. Queue is required only for StrategyGenerate; Sink may be nil.
type Deps struct {
	Store      storage.Store
	Queue      Enqueuer
	Catalog    *catalog.Catalog
	Sink       Recorder
	Strategy   Strategy
	ScanLimit  int
	KeepCount  int
	PruneEvery int
}

// Outcome is a recommendation plus how it was obtained.
type Outcome struct {
	Recommendation scoring.ComprehensiveRecommendation `json:"recommendation"`
	ProfileHash    string                              `json:"profile_hash"`
	CacheHit       bool                                `json:"cache_hit"`
	Similarity     float64                             `json:"similarity,omitempty"`
	// Degraded is set when the cache store could not be used.
	Degraded bool `json:"degraded,omitempty"`

	externalCall bool
}

// Service answers recommendation requests from the cache, the rules engine or
// the generation queue. It is safe for concurrent use.
type Service struct {
	deps   Deps
	sf     singleflight.Group
	writes atomic.Int64
	logger *slog.Logger
}

// New validates deps, fills defaults and returns a Service.
func New(deps Deps) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("recommender: store is required")
	}
	if deps.Catalog == nil {
		deps.Catalog = catalog.Default()
	}
	if deps.Strategy == "" {
		deps.Strategy = StrategyRules
	}
	switch deps.Strategy {
	case StrategyRules:
	case StrategyGenerate:
		if deps.Queue == nil {
			return nil, errors.New("recommender: generate strategy requires a queue")
		}
	default:
		return nil, fmt.Errorf("recommender: unknown strategy %q", deps.Strategy)
	}
	if deps.ScanLimit <= 0 {
		deps.ScanLimit = DefaultScanLimit
	}
	if deps.KeepCount <= 0 {
		deps.KeepCount = DefaultKeepCount
	}
	if deps.PruneEvery <= 0 {
		deps.PruneEvery = DefaultPruneEvery
	}
	return &Service{deps: deps, logger: slog.Default()}, nil
}

// Recommend returns a recommendation for p. Concurrent calls with identical
// answers share one computation. A store failure alone degrades to a
// miss; an error is returned only when the request could not be served at all.
func (s *Service) Recommend(ctx context.Context, p profile.Profile) (Outcome, error) {
	start := time.Now()
	hash := profile.Hash(p)

	leader := false
	// Keyed on the full answers: the lookup hash only covers a text prefix.
	ch := s.sf.DoChan(profile.Fingerprint(p), func() (any, error) {
		leader = true
		// The shared computation must not die with whichever caller started it.
		return s.recommend(context.WithoutCancel(ctx), p, hash)
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	}
	if res.Err != nil {
		s.record(Outcome{}, "error", false, time.Since(start))
		return Outcome{}, res.Err
	}

	out := res.Val.(Outcome)
	out.Recommendation = out.Recommendation.Clone()
	s.record(out, out.Recommendation.Source, !leader, time.Since(start))
	return out, nil
}

func (s *Service) record(out Outcome, kind string, coalesced bool, latency time.Duration) {
	if s.deps.Sink == nil {
		return
	}
	rec := storage.AnalyticsRecord{
		RequestKind:     kind,
		WasCacheHit:     out.CacheHit,
		SimilarityScore: out.Similarity,
		LatencyMs:       latency.Milliseconds(),
	}
	switch {
	case coalesced:
		// Shared another caller's computation for identical answers.
		rec.WasCacheHit = true
		rec.SimilarityScore = 1
	case out.externalCall:
		rec.EstimatedCost = analytics.EstimatedCallCost
	}
	s.deps.Sink.Record(rec)
}

func (s *Service) recommend(ctx context.Context, p profile.Profile, hash string) (Outcome, error) {
	if len(p.Usable()) == 0 {
		// Nothing to match or send; answer locally without caching.
		return Outcome{Recommendation: scoring.Aggregate(s.deps.Catalog, p), ProfileHash: hash}, nil
	}

	out, hit, storeErr := s.lookup(ctx, p, hash)
	if hit {
		return out, nil
	}
	out.Degraded = storeErr != nil

	switch s.deps.Strategy {
	case StrategyGenerate:
		return s.generate(ctx, p, out, storeErr)
	default:
		return s.score(ctx, p, out), nil
	}
}

// lookup tries an exact hash hit, then the best similar entry. storeErr is
// non-nil when the store could not be read.
func (s *Service) lookup(ctx context.Context, p profile.Profile, hash string) (Outcome, bool, error) {
	out := Outcome{ProfileHash: hash}

	entry, err := s.deps.Store.Get(ctx, hash)
	switch {
	case err == nil:
		// The hash only covers a prefix of each answer, so a hit still has to
		// clear the reuse threshold unless the answers are identical.
		sim := 1.0
		if profile.Fingerprint(entry.Profile) != profile.Fingerprint(p) {
			sim = similarity.Similarity(p, entry.Profile)
		}
		if sim >= similarity.ReuseThreshold {
			if o, ok := s.reuse(ctx, p, entry, sim); ok {
				return o, true, nil
			}
		} else {
			s.logger.Debug("hash match below reuse threshold", "hash", hash, "similarity", sim)
		}
	case errors.Is(err, storage.ErrNotFound):
	case errors.Is(err, storage.ErrCorrupt):
		s.logger.Warn("ignoring unreadable cache entry", "hash", hash, "error", err)
	default:
		s.logger.Warn("cache lookup failed, treating as miss", "error", err)
		return out, false, err
	}

	entries, err := s.deps.Store.RecentByUse(ctx, s.deps.ScanLimit)
	if err != nil {
		s.logger.Warn("cache scan failed, treating as miss", "error", err)
		return out, false, err
	}
	m, ok := similarity.FindBestMatch(p, entries)
	if !ok || !m.Reusable() {
		return out, false, nil
	}
	if o, ok := s.reuse(ctx, p, m.Entry, m.Similarity); ok {
		return o, true, nil
	}
	return out, false, nil
}

func (s *Service) reuse(ctx context.Context, p profile.Profile, e storage.CacheEntry, sim float64) (Outcome, bool) {
	var rec scoring.ComprehensiveRecommendation
	if err := json.Unmarshal(e.Recommendation, &rec); err != nil {
		s.logger.Warn("ignoring undecodable cache entry", "hash", e.ProfileHash, "error", err)
		return Outcome{}, false
	}
	if err := s.deps.Store.Touch(ctx, e.ProfileHash); err != nil {
		s.logger.Warn("updating cache entry usage failed", "hash", e.ProfileHash, "error", err)
	}
	return Outcome{
		Recommendation: similarity.Adapt(rec, p),
		ProfileHash:    profile.Hash(p),
		CacheHit:       true,
		Similarity:     sim,
	}, true
}

func (s *Service) score(ctx context.Context, p profile.Profile, out Outcome) Outcome {
	out.Recommendation = scoring.Aggregate(s.deps.Catalog, p)
	payload, err := json.Marshal(out.Recommendation)
	if err != nil {
		s.logger.Error("encoding recommendation failed", "error", err)
		return out
	}
	err = storage.RetryWrite(ctx, func(ctx context.Context) error {
		_, err := s.deps.Store.Put(ctx, p, payload)
		return err
	})
	if err != nil {
		s.logger.Warn("caching recommendation failed", "error", err)
		out.Degraded = true
		return out
	}
	s.afterWrite(ctx)
	return out
}

func (s *Service) generate(ctx context.Context, p profile.Profile, out Outcome, storeErr error) (Outcome, error) {
	res, err := s.deps.Queue.Enqueue(ctx, p)
	if err != nil {
		return Outcome{}, fmt.Errorf("queueing generation: %w", err)
	}
	out.Recommendation = res.Recommendation
	out.externalCall = !errors.Is(res.Err, queue.ErrClosed)

	if res.StoreErr != nil {
		storeErr = res.StoreErr
		out.Degraded = true
	}
	if res.Err != nil && storeErr != nil {
		return Outcome{}, fmt.Errorf("%w: store: %w; generation: %w", ErrUnavailable, storeErr, res.Err)
	}
	if res.Err == nil && res.StoreErr == nil {
		s.afterWrite(ctx)
	}
	return out, nil
}

// afterWrite prunes the cache every PruneEvery successful writes.
func (s *Service) afterWrite(ctx context.Context) {
	if s.writes.Add(1)%int64(s.deps.PruneEvery) != 0 {
		return
	}
	if _, err := s.Prune(ctx, s.deps.KeepCount); err != nil {
		s.logger.Warn("periodic cache prune failed", "error", err)
	}
}

// Prune keeps the keep most recently used cache entries.
func (s *Service) Prune(ctx context.Context, keep int) (int, error) {
	n, err := s.deps.Store.PruneToSize(ctx, keep)
	if err != nil {
		return 0, fmt.Errorf("pruning cache: %w", err)
	}
	if n > 0 {
		s.logger.Info("pruned cache", "deleted", n, "keep", keep)
	}
	return n, nil
}

// CacheSize returns the number of cached entries.
func (s *Service) CacheSize(ctx context.Context) (int, error) {
	return s.deps.Store.Count(ctx)
}

// Catalog returns the candidates the service recommends from.
func (s *Service) Catalog() *catalog.Catalog {
	return s.deps.Catalog
}
