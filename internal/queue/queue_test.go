package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kalambet/pumpdrive/internal/catalog"
	"github.com/kalambet/pumpdrive/internal/generation"
	"github.com/kalambet/pumpdrive/internal/profile"
	"github.com/kalambet/pumpdrive/internal/scoring"
	"github.com/kalambet/pumpdrive/internal/storage"
)

// validResponse renders the rules engine's answer in the wire format the
// generation service is asked to use.
func validResponse(t *testing.T, p profile.Profile) string {
	t.Helper()
	rec := scoring.Aggregate(catalog.Default(), p)
	toPick := func(c scoring.CategoryRecommendation) map[string]any {
		return map[string]any{
			"category":   string(c.CategoryLabel),
			"candidate":  c.Candidate,
			"score":      c.Score,
			"reasoning":  c.Reasoning,
			"key_points": c.KeyPoints,
		}
	}
	var cats []map[string]any
	for _, c := range rec.Categories {
		cats = append(cats, toPick(c))
	}
	b, err := json.Marshal(map[string]any{
		"categories":          cats,
		"overall":             toPick(rec.Overall),
		"summary":             rec.Summary,
		"follow_up_questions": []string{},
	})
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

type mockGenerator struct {
	mu       sync.Mutex
	starts   []time.Time
	prompts  []string
	inFlight atomic.Int32
	maxSeen  atomic.Int32

	generateFn func(ctx context.Context, req generation.Request) (string, error)
}

func (m *mockGenerator) Generate(ctx context.Context, req generation.Request) (string, error) {
	n := m.inFlight.Add(1)
	defer m.inFlight.Add(-1)
	for {
		cur := m.maxSeen.Load()
		if n <= cur || m.maxSeen.CompareAndSwap(cur, n) {
			break
		}
	}

	m.mu.Lock()
	m.starts = append(m.starts, time.Now())
	m.prompts = append(m.prompts, req.Prompt)
	m.mu.Unlock()

	return m.generateFn(ctx, req)
}

func (m *mockGenerator) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.starts)
}

type mockCache struct {
	mu    sync.Mutex
	puts  []profile.Profile
	putFn func() error
}

func (m *mockCache) Put(ctx context.Context, p profile.Profile, rec []byte) (storage.CacheEntry, error) {
	if m.putFn != nil {
		if err := m.putFn(); err != nil {
			return storage.CacheEntry{}, err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.puts = append(m.puts, p)
	return storage.CacheEntry{ProfileHash: profile.Hash(p), Profile: p, Recommendation: rec}, nil
}

func (m *mockCache) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.puts)
}

func testProfile(text string) profile.Profile {
	return profile.Profile{profile.Lifestyle: {FreeText: text}}
}

func startQueue(t *testing.T, q *Queue) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
}

func TestEnqueue_SuccessCachesBeforeReturning(t *testing.T) {
	p := testProfile("very active, swims daily")
	gen := &mockGenerator{generateFn: func(ctx context.Context, req generation.Request) (string, error) {
		return "Here you go:\n" + validResponse(t, p), nil
	}}
	cache := &mockCache{}
	q := New(gen, cache, Options{MinInterval: 10 * time.Millisecond})
	startQueue(t, q)

	res, err := q.Enqueue(context.Background(), p)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if res.Err != nil || res.StoreErr != nil {
		t.Fatalf("Err = %v, StoreErr = %v", res.Err, res.StoreErr)
	}
	if res.Recommendation.Source != scoring.SourceGenerated || res.Recommendation.Fallback {
		t.Errorf("recommendation = %+v", res.Recommendation)
	}
	if cache.count() != 1 {
		t.Errorf("cache writes = %d, want 1 before Enqueue returns", cache.count())
	}
	// The service asked nothing, so unanswered categories produce follow-ups.
	if len(res.Recommendation.FollowUpQuestions) == 0 {
		t.Error("expected follow-up questions for unanswered categories")
	}
	if st := q.Stats(); st.Processed != 1 || st.Failures != 0 || st.Queued != 0 {
		t.Errorf("stats = %+v", st)
	}
}

func TestEnqueue_SpacingAndSingleFlight(t *testing.T) {
	const (
		interval = 20 * time.Millisecond
		requests = 20
	)
	gen := &mockGenerator{generateFn: func(ctx context.Context, req generation.Request) (string, error) {
		return "not json", nil
	}}
	q := New(gen, nil, Options{MinInterval: interval})
	startQueue(t, q)

	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		starts []time.Time
	)
	for i := range requests {
		wg.Go(func() {
			res, err := q.Enqueue(context.Background(), testProfile(fmt.Sprintf("request %d", i)))
			if err != nil {
				t.Errorf("Enqueue: %v", err)
				return
			}
			mu.Lock()
			starts = append(starts, res.StartedAt)
			mu.Unlock()
		})
	}
	wg.Wait()

	if len(starts) != requests || gen.calls() != requests {
		t.Fatalf("results = %d, calls = %d, want %d", len(starts), gen.calls(), requests)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
	for i := 1; i < len(starts); i++ {
		if gap := starts[i].Sub(starts[i-1]); gap < interval {
			t.Errorf("start-to-start gap %d = %v, want >= %v", i, gap, interval)
		}
	}
	if got := gen.maxSeen.Load(); got != 1 {
		t.Errorf("max concurrent calls = %d, want 1", got)
	}
}

func TestEnqueue_FIFO(t *testing.T) {
	gen := &mockGenerator{generateFn: func(ctx context.Context, req generation.Request) (string, error) {
		return "", errors.New("down")
	}}
	q := New(gen, nil, Options{MinInterval: time.Millisecond})

	// Queue three requests before the worker starts so their order is known.
	var wg sync.WaitGroup
	for i := range 3 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.Enqueue(context.Background(), testProfile(fmt.Sprintf("marker%d", i)))
		}()
		waitFor(t, func() bool { return q.Stats().Queued == int64(i+1) })
	}
	startQueue(t, q)
	wg.Wait()

	gen.mu.Lock()
	defer gen.mu.Unlock()
	for i, prompt := range gen.prompts {
		if want := fmt.Sprintf("marker%d", i); !strings.Contains(prompt, want) {
			t.Errorf("call %d did not carry %s", i, want)
		}
	}
}

func TestEnqueue_MalformedResponseFallsBack(t *testing.T) {
	gen := &mockGenerator{generateFn: func(ctx context.Context, req generation.Request) (string, error) {
		return `{"categories": "nope"} trailing prose`, nil
	}}
	cache := &mockCache{}
	q := New(gen, cache, Options{MinInterval: time.Millisecond})
	startQueue(t, q)

	res, err := q.Enqueue(context.Background(), testProfile("swims daily"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if !errors.Is(res.Err, generation.ErrMalformedResponse) {
		t.Errorf("Err = %v, want ErrMalformedResponse", res.Err)
	}
	if res.Err.Error() != generation.ErrMalformedResponse.Error() {
		t.Errorf("parse details leaked to caller: %v", res.Err)
	}
	if !res.Recommendation.Fallback {
		t.Error("expected fallback recommendation")
	}
	if cache.count() != 0 {
		t.Error("fallback must not be cached")
	}
}

func TestEnqueue_UpstreamFailureFallsBack(t *testing.T) {
	gen := &mockGenerator{generateFn: func(ctx context.Context, req generation.Request) (string, error) {
		return "", fmt.Errorf("%w: unexpected status 502", generation.ErrUpstream)
	}}
	q := New(gen, &mockCache{}, Options{MinInterval: time.Millisecond})
	startQueue(t, q)

	res, err := q.Enqueue(context.Background(), testProfile("swims daily"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if !errors.Is(res.Err, generation.ErrUpstream) || !res.Recommendation.Fallback {
		t.Errorf("result = %+v, want upstream fallback", res)
	}
	if st := q.Stats(); st.Failures != 1 {
		t.Errorf("failures = %d, want 1", st.Failures)
	}
}

func TestEnqueue_Timeout(t *testing.T) {
	gen := &mockGenerator{generateFn: func(ctx context.Context, req generation.Request) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}}
	q := New(gen, nil, Options{MinInterval: time.Millisecond, CallTimeout: 30 * time.Millisecond})
	startQueue(t, q)

	start := time.Now()
	res, err := q.Enqueue(context.Background(), testProfile("swims daily"))
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if !errors.Is(res.Err, ErrTimeout) {
		t.Errorf("Err = %v, want ErrTimeout", res.Err)
	}
	if !res.Recommendation.Fallback {
		t.Error("expected fallback recommendation")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("timeout took %v", elapsed)
	}
	if st := q.Stats(); st.Timeouts != 1 {
		t.Errorf("timeouts = %d, want 1", st.Timeouts)
	}
}

func TestEnqueue_StoreFailureStillReturnsRecommendation(t *testing.T) {
	p := testProfile("swims daily")
	gen := &mockGenerator{generateFn: func(ctx context.Context, req generation.Request) (string, error) {
		return validResponse(t, p), nil
	}}
	cache := &mockCache{putFn: func() error { return storage.ErrUnavailable }}
	q := New(gen, cache, Options{MinInterval: time.Millisecond})
	startQueue(t, q)

	res, err := q.Enqueue(context.Background(), p)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if res.Err != nil || res.Recommendation.Fallback {
		t.Errorf("result = %+v, want a real recommendation", res)
	}
	if !errors.Is(res.StoreErr, storage.ErrUnavailable) {
		t.Errorf("StoreErr = %v, want ErrUnavailable", res.StoreErr)
	}
}

func TestEnqueue_CancelledWhileQueuedSkipsCall(t *testing.T) {
	gen := &mockGenerator{generateFn: func(ctx context.Context, req generation.Request) (string, error) {
		return "", errors.New("down")
	}}
	q := New(gen, nil, Options{MinInterval: time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := q.Enqueue(ctx, testProfile("swims daily"))
		errc <- err
	}()
	waitFor(t, func() bool { return q.Stats().Queued == 1 })
	cancel()
	if err := <-errc; !errors.Is(err, context.Canceled) {
		t.Errorf("Enqueue error = %v, want context.Canceled", err)
	}

	startQueue(t, q)
	waitFor(t, func() bool { return q.Stats().Queued == 0 })
	if gen.calls() != 0 {
		t.Errorf("calls = %d, want 0 for a cancelled request", gen.calls())
	}
}

func TestClose(t *testing.T) {
	gen := &mockGenerator{generateFn: func(ctx context.Context, req generation.Request) (string, error) {
		return "", errors.New("down")
	}}
	q := New(gen, nil, Options{})
	startQueue(t, q)
	q.Close()

	if _, err := q.Enqueue(context.Background(), testProfile("x")); !errors.Is(err, ErrClosed) {
		t.Errorf("Enqueue after Close = %v, want ErrClosed", err)
	}
	q.Close() // idempotent
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(time.Millisecond)
	}
}
