// Package queue serializes calls to the external generation service: one call
// in flight, FIFO order, a minimum delay between call starts and a per-call
// timeout.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/kalambet/pumpdrive/internal/catalog"
	"github.com/kalambet/pumpdrive/internal/generation"
	"github.com/kalambet/pumpdrive/internal/profile"
	"github.com/kalambet/pumpdrive/internal/scoring"
	"github.com/kalambet/pumpdrive/internal/storage"
)

const (
	DefaultMinInterval = 1200 * time.Millisecond
	DefaultCallTimeout = 30 * time.Second
	defaultBuffer      = 64
)

var (
	// ErrTimeout means a single external call exceeded CallTimeout.
	ErrTimeout = errors.New("generation call timed out")

	// ErrClosed is returned for work submitted to, or pending in, a closed queue.
	ErrClosed = errors.New("queue closed")
)

// CacheWriter persists a successful recommendation.
type CacheWriter interface {
	Put(ctx context.Context, p profile.Profile, recommendation []byte) (storage.CacheEntry, error)
}

// Options configures a Queue. Zero values take defaults.
type Options struct {
	MinInterval time.Duration
	CallTimeout time.Duration
	Buffer      int

	Catalog     *catalog.Catalog
	Model       string
	Temperature float64
	MaxTokens   int
}

// Result is the outcome of one queued request. Recommendation is always set:
// on failure it is generation.Fallback and Err says why.
type Result struct {
	Recommendation scoring.ComprehensiveRecommendation
	Err            error
	// StoreErr is set when the recommendation could not be cached.
	StoreErr error
	// StartedAt is when the external call began; zero if it never ran.
	StartedAt time.Time
	Latency   time.Duration
}

// Stats is a point-in-time view of queue counters.
type Stats struct {
	Queued    int64 `json:"queued"`
	Processed int64 `json:"processed"`
	Failures  int64 `json:"failures"`
	Timeouts  int64 `json:"timeouts"`
}

type job struct {
	ctx     context.Context
	profile profile.Profile
	reply   chan Result
}

// Queue owns the single worker that talks to the generation service.
type Queue struct {
	gen     generation.Generator
	store   CacheWriter
	opts    Options
	limiter *rate.Limiter
	logger  *slog.Logger

	// lastStart is only touched by the worker goroutine.
	lastStart time.Time

	jobs      chan job
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	runOnce   sync.Once

	queued    atomic.Int64
	processed atomic.Int64
	failures  atomic.Int64
	timeouts  atomic.Int64
}

// New creates a queue. store may be nil, in which case results are not cached.
func New(gen generation.Generator, store CacheWriter, opts Options) *Queue {
	if opts.MinInterval <= 0 {
		opts.MinInterval = DefaultMinInterval
	}
	if opts.CallTimeout <= 0 {
		opts.CallTimeout = DefaultCallTimeout
	}
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	if opts.Catalog == nil {
		opts.Catalog = catalog.Default()
	}
	return &Queue{
		gen:     gen,
		store:   store,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Every(opts.MinInterval), 1),
		logger:  slog.Default(),
		jobs:    make(chan job, opts.Buffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
	}
}

// Enqueue submits p and waits for its result. It returns an error only when
// the request never ran: ctx ended first or the queue is closed. Generation
// failures are reported through Result.Err.
func (q *Queue) Enqueue(ctx context.Context, p profile.Profile) (Result, error) {
	select {
	case <-q.done:
		return Result{}, ErrClosed
	default:
	}

	j := job{ctx: ctx, profile: p, reply: make(chan Result, 1)}
	select {
	case q.jobs <- j:
		q.queued.Add(1)
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-q.done:
		return Result{}, ErrClosed
	}

	select {
	case res := <-j.reply:
		return res, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	case <-q.stopped:
		select {
		case res := <-j.reply:
			return res, nil
		default:
			return Result{}, ErrClosed
		}
	}
}

// Run processes jobs one at a time until ctx is cancelled or Close is called.
// Jobs still pending at that point are answered with ErrClosed.
func (q *Queue) Run(ctx context.Context) {
	started := false
	q.runOnce.Do(func() { started = true })
	if !started {
		q.logger.Warn("queue worker already running")
		return
	}
	defer close(q.stopped)
	defer q.drain()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.done:
			return
		case j := <-q.jobs:
			q.queued.Add(-1)
			q.process(ctx, j)
		}
	}
}

func (q *Queue) drain() {
	for {
		select {
		case j := <-q.jobs:
			q.queued.Add(-1)
			j.reply <- Result{Recommendation: generation.Fallback("queue closed"), Err: ErrClosed}
		default:
			return
		}
	}
}

// Close stops accepting work and makes Run return.
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

func (q *Queue) Stats() Stats {
	return Stats{
		Queued:    q.queued.Load(),
		Processed: q.processed.Load(),
		Failures:  q.failures.Load(),
		Timeouts:  q.timeouts.Load(),
	}
}

func (q *Queue) process(runCtx context.Context, j job) {
	// Callers that gave up while queued do not consume a call slot.
	if err := j.ctx.Err(); err != nil {
		j.reply <- Result{Recommendation: generation.Fallback("request cancelled"), Err: err}
		return
	}

	if err := q.limiter.Wait(runCtx); err != nil {
		j.reply <- Result{Recommendation: generation.Fallback("queue shutting down"), Err: ErrClosed}
		return
	}

	res := q.call(runCtx, j)
	if res.StartedAt.IsZero() {
		j.reply <- res
		return
	}
	res.Latency = time.Since(res.StartedAt)

	q.processed.Add(1)
	if res.Err != nil {
		q.failures.Add(1)
		if errors.Is(res.Err, ErrTimeout) {
			q.timeouts.Add(1)
		}
	}
	j.reply <- res
}

// pace sleeps until MinInterval has passed since the previous call actually
// started. The limiter only spaces reservations.
func (q *Queue) pace(ctx context.Context) error {
	if q.lastStart.IsZero() {
		return nil
	}
	for {
		wait := q.opts.MinInterval - time.Since(q.lastStart)
		if wait <= 0 {
			return nil
		}
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
}

func (q *Queue) call(runCtx context.Context, j job) Result {
	req := generation.Request{
		System:      generation.SystemPrompt,
		Prompt:      generation.BuildPrompt(j.profile, q.opts.Catalog),
		Model:       q.opts.Model,
		Temperature: q.opts.Temperature,
		MaxTokens:   q.opts.MaxTokens,
	}
	if err := q.pace(runCtx); err != nil {
		return Result{Recommendation: generation.Fallback("queue shutting down"), Err: ErrClosed}
	}
	if err := j.ctx.Err(); err != nil {
		return Result{Recommendation: generation.Fallback("request cancelled"), Err: err}
	}

	callCtx, cancel := context.WithTimeout(j.ctx, q.opts.CallTimeout)
	defer cancel()

	q.lastStart = time.Now()
	res := q.generate(callCtx, j, req)
	res.StartedAt = q.lastStart
	return res
}

func (q *Queue) generate(callCtx context.Context, j job, req generation.Request) Result {
	text, err := q.gen.Generate(callCtx, req)
	if err != nil {
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && j.ctx.Err() == nil {
			q.logger.Warn("generation call timed out", "timeout", q.opts.CallTimeout)
			return Result{Recommendation: generation.Fallback("the recommendation service took too long"), Err: fmt.Errorf("%w after %s", ErrTimeout, q.opts.CallTimeout)}
		}
		q.logger.Warn("generation call failed", "error", err)
		return Result{Recommendation: generation.Fallback("the recommendation service is unavailable"), Err: err}
	}

	rec, err := generation.Parse(text, q.opts.Catalog)
	if err != nil {
		q.logger.Warn("discarding unparseable generation response", "error", err, "response_bytes", len(text))
		return Result{Recommendation: generation.Fallback("the recommendation service returned an unusable answer"), Err: generation.ErrMalformedResponse}
	}
	rec.FollowUpQuestions = mergeFollowUps(rec.FollowUpQuestions, j.profile)

	res := Result{Recommendation: rec}
	if q.store == nil {
		return res
	}
	payload, err := json.Marshal(rec)
	if err != nil {
		res.StoreErr = fmt.Errorf("encoding recommendation: %w", err)
		return res
	}
	// The write must outlive a caller that stops waiting.
	err = storage.RetryWrite(context.WithoutCancel(j.ctx), func(ctx context.Context) error {
		_, err := q.store.Put(ctx, j.profile, payload)
		return err
	})
	if err != nil {
		q.logger.Warn("caching generated recommendation failed", "error", err)
		res.StoreErr = err
	}
	return res
}

// mergeFollowUps keeps the service's questions and, when it asked none, falls
// back to the questions for unanswered categories.
func mergeFollowUps(qs []string, p profile.Profile) []string {
	if len(qs) > 0 {
		return qs
	}
	return scoring.FollowUpQuestions(p)
}
