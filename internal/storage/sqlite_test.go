package storage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T, opts ...Option) *SQLiteStore {
	t.Helper()
	s, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// TestMigrationsIdempotent runs Open twice on the same database and verifies
// the schema_version count stays correct (migration not re-applied).
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}

	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()

	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

// TestMigrationsOrdered verifies migrations are applied in ascending numeric order.
func TestMigrationsOrdered(t *testing.T) {
	s := openTestStore(t)

	versions, err := s.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(versions) == 0 {
		t.Fatal("expected at least one applied migration")
	}

	for i := 1; i < len(versions); i++ {
		if versions[i] <= versions[i-1] {
			t.Errorf("migrations not in ascending order: %v", versions)
			break
		}
	}
}

func TestIndexesExist(t *testing.T) {
	s := openTestStore(t)

	indexes := []string{"idx_recommendation_cache_last_used", "idx_analytics_records_created"}
	for _, idx := range indexes {
		var count int
		err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='index' AND name=?", idx).Scan(&count)
		if err != nil {
			t.Fatalf("querying sqlite_master for %q: %v", idx, err)
		}
		if count != 1 {
			t.Errorf("index %q not found in sqlite_master", idx)
		}
	}
}

// TestPersistsAcrossReopen writes through one handle and reads it back through
// a second one opened on the same directory.
func TestPersistsAcrossReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	e, err := s1.Put(ctx, testProfile("swims daily"), []byte(`{"summary":"x"}`))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s2.Close()

	got, err := s2.Get(ctx, e.ProfileHash)
	if err != nil {
		t.Fatalf("Get after reopen: %v", err)
	}
	if got.Profile["lifestyle"].FreeText != "swims daily" {
		t.Errorf("profile not persisted: %+v", got.Profile)
	}
}

// TestRecentByUse_SkipsMalformedRows inserts rows that cannot be decoded and
// checks they are skipped rather than failing the scan.
func TestRecentByUse_SkipsMalformedRows(t *testing.T) {
	clock := newFakeClock()
	s := openTestStore(t, WithClock(clock.Now))
	ctx := context.Background()

	good, err := s.Put(ctx, testProfile("good"), []byte(`{}`))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}

	later := formatTime(clock.Now().Add(time.Hour))
	_, err = s.db.Exec(`INSERT INTO recommendation_cache (profile_hash, profile_json, recommendation_json, created_at, last_used_at, use_count)
		VALUES ('bad-json', '{not json', '{}', ?, ?, 1),
		       ('bad-time', '{}', '{}', 'yesterday', 'yesterday', 1)`, later, later)
	if err != nil {
		t.Fatalf("inserting malformed rows: %v", err)
	}

	entries, err := s.RecentByUse(ctx, 10)
	if err != nil {
		t.Fatalf("RecentByUse: %v", err)
	}
	if len(entries) != 1 || entries[0].ProfileHash != good.ProfileHash {
		t.Errorf("entries = %v, want only the well-formed row", hashes(entries))
	}
}

func TestGet_CorruptRowIsNotAnOutage(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	p := testProfile("swims daily")

	e, err := s.Put(ctx, p, []byte(`{}`))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := s.db.Exec(`UPDATE recommendation_cache SET profile_json = 'not json' WHERE profile_hash = ?`, e.ProfileHash); err != nil {
		t.Fatalf("corrupting row: %v", err)
	}

	_, err = s.Get(ctx, e.ProfileHash)
	if !errors.Is(err, ErrCorrupt) {
		t.Fatalf("Get = %v, want ErrCorrupt", err)
	}
	if errors.Is(err, ErrUnavailable) {
		t.Errorf("Get = %v, must not report ErrUnavailable", err)
	}

	// Writing the hash again replaces the unreadable row.
	if _, err := s.Put(ctx, p, []byte(`{}`)); err != nil {
		t.Fatalf("Put over corrupt row: %v", err)
	}
	if _, err := s.Get(ctx, e.ProfileHash); err != nil {
		t.Errorf("Get after rewrite: %v", err)
	}
}

func TestClosedStoreIsUnavailable(t *testing.T) {
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s.Close()

	if _, err := s.Get(context.Background(), "x"); !errors.Is(err, ErrUnavailable) {
		t.Errorf("Get on closed store = %v, want ErrUnavailable", err)
	}
}

func TestTimeLayoutSortsLexically(t *testing.T) {
	base := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	a := formatTime(base)
	b := formatTime(base.Add(500 * time.Millisecond))
	c := formatTime(base.Add(time.Second))
	if !(a < b && b < c) {
		t.Errorf("timestamps not ordered: %q %q %q", a, b, c)
	}
	got, err := parseTime(b)
	if err != nil || !got.Equal(base.Add(500*time.Millisecond)) {
		t.Errorf("parseTime(%q) = %v, %v", b, got, err)
	}
	if _, err := parseTime("2025-03-01T12:00:00Z"); err != nil {
		t.Errorf("parseTime(RFC3339) = %v", err)
	}
}
