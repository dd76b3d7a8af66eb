package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kalambet/pumpdrive/internal/profile"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// timeLayout is fixed width so stored timestamps sort lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore is the durable Store backed by a single SQLite file.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

var _ Store = (*SQLiteStore)(nil)

// Open opens (or creates) a SQLite database in dataDir and runs pending migrations.
// Pass ":memory:" as dataDir for an in-memory database (used by tests).
func Open(dataDir string, opts ...Option) (*SQLiteStore, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "pumpdrive.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	// Set busy timeout so concurrent access waits briefly instead of failing immediately.
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	// Enable WAL mode for better concurrent read performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	o := buildOptions(opts)
	s := &SQLiteStore{db: db, now: o.now}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

// Close closes the underlying database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't been run yet.
func (s *SQLiteStore) migrate() error {
	// Ensure schema_version table exists (bootstrap).
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}

	// Sort by filename to guarantee ascending order.
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		// Check if already applied.
		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}

		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}

		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}

	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// AppliedMigrations returns the list of applied migration versions in ascending order.
func (s *SQLiteStore) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrUnavailable, err)
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		// Rows written by hand or by older builds may use plain RFC3339.
		return time.Parse(time.RFC3339, s)
	}
	return t, nil
}

// --- Recommendation cache ---

const cacheColumns = `profile_hash, profile_json, recommendation_json, created_at, last_used_at, use_count`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCacheEntry(row rowScanner) (CacheEntry, error) {
	var e CacheEntry
	var profileJSON, recJSON, createdAt, lastUsedAt string
	if err := row.Scan(&e.ProfileHash, &profileJSON, &recJSON, &createdAt, &lastUsedAt, &e.UseCount); err != nil {
		return CacheEntry{}, err
	}
	if err := json.Unmarshal([]byte(profileJSON), &e.Profile); err != nil {
		return CacheEntry{}, fmt.Errorf("decoding profile for %s: %w: %w", e.ProfileHash, ErrCorrupt, err)
	}
	if !json.Valid([]byte(recJSON)) {
		return CacheEntry{}, fmt.Errorf("recommendation for %s is not valid JSON: %w", e.ProfileHash, ErrCorrupt)
	}
	e.Recommendation = []byte(recJSON)
	var err error
	if e.CreatedAt, err = parseTime(createdAt); err != nil {
		return CacheEntry{}, fmt.Errorf("parsing created_at for %s: %w: %w", e.ProfileHash, ErrCorrupt, err)
	}
	if e.LastUsedAt, err = parseTime(lastUsedAt); err != nil {
		return CacheEntry{}, fmt.Errorf("parsing last_used_at for %s: %w: %w", e.ProfileHash, ErrCorrupt, err)
	}
	return e, nil
}

func (s *SQLiteStore) Get(ctx context.Context, hash string) (CacheEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+cacheColumns+` FROM recommendation_cache WHERE profile_hash = ?`, hash)
	e, err := scanCacheEntry(row)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return CacheEntry{}, ErrNotFound
	case errors.Is(err, ErrCorrupt):
		return CacheEntry{}, err
	case err != nil:
		return CacheEntry{}, unavailable("reading cache entry", err)
	}
	return e, nil
}

func (s *SQLiteStore) Put(ctx context.Context, p profile.Profile, recommendation []byte) (CacheEntry, error) {
	profileJSON, err := json.Marshal(p)
	if err != nil {
		return CacheEntry{}, fmt.Errorf("encoding profile: %w", err)
	}
	if !json.Valid(recommendation) {
		return CacheEntry{}, errors.New("recommendation is not valid JSON")
	}

	hash := profile.Hash(p)
	now := formatTime(s.now())
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO recommendation_cache (`+cacheColumns+`)
		VALUES (?, ?, ?, ?, ?, 1)
		ON CONFLICT(profile_hash) DO UPDATE SET
			profile_json = excluded.profile_json,
			recommendation_json = excluded.recommendation_json,
			last_used_at = excluded.last_used_at,
			use_count = 1`,
		hash, string(profileJSON), string(recommendation), now, now,
	)
	if err != nil {
		return CacheEntry{}, unavailable("writing cache entry", err)
	}
	return s.Get(ctx, hash)
}

func (s *SQLiteStore) Touch(ctx context.Context, hash string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE recommendation_cache SET last_used_at = ?, use_count = use_count + 1 WHERE profile_hash = ?`,
		formatTime(s.now()), hash)
	if err != nil {
		return unavailable("touching cache entry", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return unavailable("touching cache entry", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// recencyOrder breaks last_used_at ties by newest creation, then by hash, so
// RecentByUse and PruneToSize agree on which rows are most recent.
const recencyOrder = `ORDER BY last_used_at DESC, created_at DESC, profile_hash ASC`

func (s *SQLiteStore) RecentByUse(ctx context.Context, limit int) ([]CacheEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+cacheColumns+` FROM recommendation_cache `+recencyOrder+` LIMIT ?`, limit)
	if err != nil {
		return nil, unavailable("listing cache entries", err)
	}
	defer rows.Close()

	var results []CacheEntry
	for rows.Next() {
		e, err := scanCacheEntry(rows)
		if err != nil {
			slog.Warn("skipping unreadable cache entry", "error", err)
			continue
		}
		results = append(results, e)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("listing cache entries", err)
	}
	return results, nil
}

func (s *SQLiteStore) PruneToSize(ctx context.Context, keep int) (int, error) {
	if keep < 0 {
		keep = 0
	}
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM recommendation_cache WHERE profile_hash NOT IN (
			SELECT profile_hash FROM recommendation_cache `+recencyOrder+` LIMIT ?
		)`, keep)
	if err != nil {
		return 0, unavailable("pruning cache", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("pruning cache", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM recommendation_cache`).Scan(&n); err != nil {
		return 0, unavailable("counting cache entries", err)
	}
	return n, nil
}

// --- Analytics ---

func (s *SQLiteStore) RecordAnalytics(ctx context.Context, rec AnalyticsRecord) error {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO analytics_records (id, request_kind, was_cache_hit, similarity_score, estimated_cost, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.RequestKind, rec.WasCacheHit, rec.SimilarityScore, rec.EstimatedCost, rec.LatencyMs, formatTime(ts),
	)
	if err != nil {
		return unavailable("recording analytics", err)
	}
	return nil
}

func (s *SQLiteStore) AnalyticsSince(ctx context.Context, since time.Time) ([]AnalyticsRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, request_kind, was_cache_hit, similarity_score, estimated_cost, latency_ms, created_at
		FROM analytics_records WHERE created_at >= ? ORDER BY created_at ASC`, formatTime(since))
	if err != nil {
		return nil, unavailable("reading analytics", err)
	}
	defer rows.Close()

	var results []AnalyticsRecord
	for rows.Next() {
		var r AnalyticsRecord
		var createdAt string
		if err := rows.Scan(&r.ID, &r.RequestKind, &r.WasCacheHit, &r.SimilarityScore, &r.EstimatedCost, &r.LatencyMs, &createdAt); err != nil {
			slog.Warn("skipping unreadable analytics record", "error", err)
			continue
		}
		t, err := parseTime(createdAt)
		if err != nil {
			slog.Warn("skipping analytics record with bad timestamp", "id", r.ID, "error", err)
			continue
		}
		r.Timestamp = t
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("reading analytics", err)
	}
	return results, nil
}

func (s *SQLiteStore) PruneAnalytics(ctx context.Context, before time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM analytics_records WHERE created_at < ?`, formatTime(before))
	if err != nil {
		return 0, unavailable("pruning analytics", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, unavailable("pruning analytics", err)
	}
	return int(n), nil
}
