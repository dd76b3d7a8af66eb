// Package analytics records one row per served request and summarizes them
// over a rolling window. Recording never blocks or fails the request path.
package analytics

import (
	"context"
	"log/slog"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/pumpdrive/internal/storage"
)

// EstimatedCallCost is the assumed USD cost of one external generation call.
const EstimatedCallCost = 0.02

const (
	defaultBuffer = 256
	flushTimeout  = 5 * time.Second
)

// Store is the persistence the sink needs.
type Store interface {
	RecordAnalytics(ctx context.Context, rec storage.AnalyticsRecord) error
	AnalyticsSince(ctx context.Context, since time.Time) ([]storage.AnalyticsRecord, error)
	PruneAnalytics(ctx context.Context, before time.Time) (int, error)
}

// Sink buffers analytics records and writes them from a background goroutine.
type Sink struct {
	store  Store
	ch     chan storage.AnalyticsRecord
	logger *slog.Logger
	now    func() time.Time

	dropped atomic.Int64
	failed  atomic.Int64
	done    chan struct{}
}

// NewSink creates a sink with room for buffer pending records.
func NewSink(store Store, buffer int) *Sink {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Sink{
		store:  store,
		ch:     make(chan storage.AnalyticsRecord, buffer),
		logger: slog.Default(),
		now:    time.Now,
		done:   make(chan struct{}),
	}
}

// Record queues rec for persistence and updates metrics. When the buffer is
// full the record is dropped with a warning.
func (s *Sink) Record(rec storage.AnalyticsRecord) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	observe(rec)

	select {
	case s.ch <- rec:
	default:
		s.dropped.Add(1)
		RecordsDropped.Inc()
		s.logger.Warn("analytics buffer full, dropping record", "id", rec.ID, "kind", rec.RequestKind)
	}
}

func observe(rec storage.AnalyticsRecord) {
	RequestsTotal.WithLabelValues(rec.RequestKind, strconv.FormatBool(rec.WasCacheHit)).Inc()
	RequestLatency.Observe(float64(rec.LatencyMs) / 1000)
	if rec.WasCacheHit {
		CacheSimilarity.Observe(rec.SimilarityScore)
	}
	if rec.EstimatedCost > 0 {
		EstimatedCostTotal.Add(rec.EstimatedCost)
	}
}

// Run writes buffered records until ctx is cancelled, then flushes what is
// left with a short deadline.
func (s *Sink) Run(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case rec := <-s.ch:
			s.write(ctx, rec)
		case <-ctx.Done():
			s.flush()
			return
		}
	}
}

// Wait blocks until Run has returned. Run must be called exactly once.
func (s *Sink) Wait() {
	<-s.done
}

func (s *Sink) flush() {
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	for {
		select {
		case rec := <-s.ch:
			s.write(ctx, rec)
		default:
			return
		}
	}
}

func (s *Sink) write(ctx context.Context, rec storage.AnalyticsRecord) {
	err := storage.RetryWrite(ctx, func(ctx context.Context) error {
		return s.store.RecordAnalytics(ctx, rec)
	})
	if err != nil {
		s.failed.Add(1)
		s.logger.Warn("writing analytics record failed", "id", rec.ID, "error", err)
	}
}

// Dropped returns how many records were discarded because the buffer was full.
func (s *Sink) Dropped() int64 { return s.dropped.Load() }

// Failed returns how many records the store rejected.
func (s *Sink) Failed() int64 { return s.failed.Load() }

// Stats summarizes the records of the trailing window.
func (s *Sink) Stats(ctx context.Context, window time.Duration) (Stats, error) {
	now := s.now()
	recs, err := s.store.AnalyticsSince(ctx, now.Add(-window))
	if err != nil {
		return Stats{}, err
	}
	return Summarize(recs, window), nil
}

// Retain deletes records older than window and returns how many went.
func (s *Sink) Retain(ctx context.Context, window time.Duration) (int, error) {
	n, err := s.store.PruneAnalytics(ctx, s.now().Add(-window))
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Debug("pruned analytics records", "deleted", n, "window", window)
	}
	return n, nil
}
