package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/sony/gobreaker/v2"
	"github.com/spf13/cobra"

	"github.com/kalambet/pumpdrive/internal/analytics"
	"github.com/kalambet/pumpdrive/internal/api"
	"github.com/kalambet/pumpdrive/internal/catalog"
	"github.com/kalambet/pumpdrive/internal/config"
	"github.com/kalambet/pumpdrive/internal/generation"
	"github.com/kalambet/pumpdrive/internal/queue"
	"github.com/kalambet/pumpdrive/internal/recommender"
	"github.com/kalambet/pumpdrive/internal/storage"
)

const (
	metricsInterval   = 5 * time.Second
	retentionInterval = time.Hour
	analyticsBuffer   = 256
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the recommendation server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		memory, _ := cmd.Flags().GetBool("memory")
		mcp, _ := cmd.Flags().GetBool("mcp")
		return runServer(serveOptions{memory: memory, mcp: mcp})
	},
}

func init() {
	serveCmd.Flags().Bool("memory", false, "keep the cache in memory instead of SQLite")
	serveCmd.Flags().Bool("mcp", false, "also serve MCP over stdin/stdout")
}

type serveOptions struct {
	memory bool
	mcp    bool
}

func setupLogging(level string) {
	logLevel := slog.LevelInfo
	if strings.EqualFold(level, "debug") {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logLevel})))
}

// openStore opens the configured cache store. A SQLite store that cannot be
// opened degrades to the in-memory store so the server still answers.
func openStore(cfg config.Config, forceMemory bool) storage.Store {
	if forceMemory || cfg.Storage.Driver == config.DriverMemory {
		slog.Info("using in-memory cache store")
		return storage.NewMemoryStore()
	}
	s, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		slog.Warn("opening sqlite store failed, falling back to in-memory cache", "data_dir", cfg.Storage.DataDir, "error", err)
		return storage.NewMemoryStore()
	}
	return s
}

// app is the assembled server: store, generation pipeline, recommender and
// analytics, plus the background loops that keep them running.
type app struct {
	cfg     config.Config
	store   storage.Store
	sink    *analytics.Sink
	queue   *queue.Queue
	breaker *generation.Breaker
	service *recommender.Service
}

func newApp(cfg config.Config, store storage.Store, gen generation.Generator) (*app, error) {
	a := &app{
		cfg:   cfg,
		store: store,
		sink:  analytics.NewSink(store, analyticsBuffer),
	}
	cat := catalog.Default()

	deps := recommender.Deps{
		Store:     store,
		Catalog:   cat,
		Sink:      a.sink,
		Strategy:  recommender.Strategy(cfg.Recommender.Strategy),
		ScanLimit: cfg.Cache.ScanLimit,
		KeepCount: cfg.Cache.KeepCount,
	}

	if deps.Strategy == recommender.StrategyGenerate {
		if gen == nil {
			gen = generation.NewClientWithBaseURL(cfg.Generation.APIKey, cfg.Generation.BaseURL)
		}
		a.breaker = generation.NewBreaker(gen, generation.BreakerSettings{
			OnStateChange: func(from, to gobreaker.State) {
				analytics.CircuitBreakerState.Set(generation.StateValue(to))
			},
		})
		a.queue = queue.New(a.breaker, store, queue.Options{
			MinInterval: cfg.Queue.MinInterval,
			CallTimeout: cfg.Generation.CallTimeout,
			Catalog:     cat,
			Model:       cfg.Generation.Model,
			Temperature: cfg.Generation.Temperature,
			MaxTokens:   cfg.Generation.MaxTokens,
		})
		deps.Queue = a.queue
	}

	svc, err := recommender.New(deps)
	if err != nil {
		return nil, err
	}
	a.service = svc
	return a, nil
}

// apiDeps exposes the app to the HTTP and MCP surfaces.
func (a *app) apiDeps(token string) api.Deps {
	deps := api.Deps{
		Recommender:   a.service,
		Stats:         a.sink,
		Token:         token,
		RateLimit:     a.cfg.Server.RateLimit,
		DefaultWindow: a.cfg.Analytics.Window,
		KeepCount:     a.cfg.Cache.KeepCount,
	}
	if a.queue != nil {
		deps.Queue = a.queue
	}
	return deps
}

// start launches the background loops. They stop when ctx is cancelled;
// wg.Wait returns once pending analytics have been flushed.
func (a *app) start(ctx context.Context, wg *sync.WaitGroup) {
	wg.Go(func() { a.sink.Run(ctx) })
	if a.queue != nil {
		wg.Go(func() { a.queue.Run(ctx) })
	}
	wg.Go(func() { a.maintain(ctx) })
}

func (a *app) maintain(ctx context.Context) {
	metrics := time.NewTicker(metricsInterval)
	defer metrics.Stop()
	retention := time.NewTicker(retentionInterval)
	defer retention.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-metrics.C:
			if a.queue != nil {
				analytics.QueueDepth.Set(float64(a.queue.Stats().Queued))
			}
		case <-retention.C:
			a.retain(ctx)
		}
	}
}

func (a *app) retain(ctx context.Context) {
	if a.cfg.Analytics.Retention <= 0 {
		return
	}
	n, err := a.sink.Retain(ctx, a.cfg.Analytics.Retention)
	if err != nil {
		slog.Warn("pruning old analytics failed", "error", err)
		return
	}
	if n > 0 {
		slog.Debug("pruned old analytics", "deleted", n)
	}
}

func runServer(opts serveOptions) error {
	fmt.Fprintf(os.Stderr, "pumpdrive version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	setupLogging(cfg.Log.Level)

	token, err := config.GetAPIToken(config.NewKeychain())
	if err != nil {
		return fmt.Errorf("initializing API token: %w", err)
	}
	slog.Info("API bearer token available")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store := openStore(cfg, opts.memory)
	defer func() {
		if err := store.Close(); err != nil {
			slog.Warn("closing storage", "error", err)
		}
	}()

	a, err := newApp(cfg, store, nil)
	if err != nil {
		return err
	}
	slog.Info("recommender ready", "strategy", cfg.Recommender.Strategy, "catalog", a.service.Catalog().Len())

	bgCtx, cancelBg := context.WithCancel(context.WithoutCancel(ctx))
	var wg sync.WaitGroup
	a.start(bgCtx, &wg)
	defer func() {
		cancelBg()
		wg.Wait()
	}()

	deps := a.apiDeps(token)
	if opts.mcp {
		stdioSrv := server.NewStdioServer(api.NewMCPServer(deps, version))
		go func() {
			if err := stdioSrv.Listen(ctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
		}()
		slog.Info("MCP server started (stdio transport)")
	}

	addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           api.NewHandler(deps),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext: func(_ net.Listener) context.Context {
			return ctx
		},
	}

	errCh := make(chan error, 1)
	go func() {
		fmt.Fprintf(os.Stderr, "pumpdrive listening on %s\n", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		fmt.Fprintln(os.Stderr, "shutting down...")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err = srv.Shutdown(shutdownCtx)
	if a.queue != nil {
		a.queue.Close()
	}
	return err
}
