package budget

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/sydlexius/needledrop/internal/database"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test database: %v", err)
	}
	t.Cleanup(func() {
		db.Close() //nolint:errcheck
	})

	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrating test database: %v", err)
	}
	return db
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestCanMakeRequestDefault(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	ok, until, err := svc.CanMakeRequest(ctx, "spotify")
	if err != nil {
		t.Fatalf("CanMakeRequest: %v", err)
	}
	if !ok {
		t.Error("expected unknown provider to be allowed")
	}
	if until != nil {
		t.Errorf("expected nil blocked-until, got %v", until)
	}
}

func TestRecordRateLimitBlocks(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = fixedClock(base)

	if err := svc.RecordRateLimit(ctx, "spotify", 90*time.Second); err != nil {
		t.Fatalf("RecordRateLimit: %v", err)
	}

	ok, until, err := svc.CanMakeRequest(ctx, "spotify")
	if err != nil {
		t.Fatalf("CanMakeRequest: %v", err)
	}
	if ok {
		t.Error("expected provider to be blocked")
	}
	if until == nil {
		t.Fatal("expected blocked-until timestamp")
	}
	want := base.Add(90 * time.Second)
	if !until.Equal(want) {
		t.Errorf("blocked-until = %v, want %v", until, want)
	}
}

func TestBlockExpires(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = fixedClock(base)

	if err := svc.RecordRateLimit(ctx, "spotify", time.Minute); err != nil {
		t.Fatalf("RecordRateLimit: %v", err)
	}

	svc.now = fixedClock(base.Add(61 * time.Second))

	ok, _, err := svc.CanMakeRequest(ctx, "spotify")
	if err != nil {
		t.Fatalf("CanMakeRequest: %v", err)
	}
	if !ok {
		t.Error("expected block to expire after the window")
	}
}

func TestRecordRateLimitOnlyExtends(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = fixedClock(base)

	if err := svc.RecordRateLimit(ctx, "spotify", 5*time.Minute); err != nil {
		t.Fatalf("RecordRateLimit: %v", err)
	}
	// A shorter signal must not shrink the existing block.
	if err := svc.RecordRateLimit(ctx, "spotify", 30*time.Second); err != nil {
		t.Fatalf("RecordRateLimit: %v", err)
	}

	_, until, err := svc.CanMakeRequest(ctx, "spotify")
	if err != nil {
		t.Fatalf("CanMakeRequest: %v", err)
	}
	if until == nil {
		t.Fatal("expected provider to stay blocked")
	}
	want := base.Add(5 * time.Minute)
	if !until.Equal(want) {
		t.Errorf("blocked-until = %v, want %v (shorter signal must not shrink)", until, want)
	}

	// A longer signal extends it.
	if err := svc.RecordRateLimit(ctx, "spotify", 10*time.Minute); err != nil {
		t.Fatalf("RecordRateLimit: %v", err)
	}
	_, until, err = svc.CanMakeRequest(ctx, "spotify")
	if err != nil {
		t.Fatalf("CanMakeRequest: %v", err)
	}
	if until == nil {
		t.Fatal("expected provider to stay blocked")
	}
	want = base.Add(10 * time.Minute)
	if !until.Equal(want) {
		t.Errorf("blocked-until = %v, want %v after extension", until, want)
	}
}

func TestBlockSurvivesRestart(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	first := NewService(db)
	first.now = fixedClock(base)
	if err := first.RecordRateLimit(ctx, "musicbrainz", time.Hour); err != nil {
		t.Fatalf("RecordRateLimit: %v", err)
	}

	// A fresh service over the same database sees the same block.
	second := NewService(db)
	second.now = fixedClock(base.Add(time.Minute))

	ok, until, err := second.CanMakeRequest(ctx, "musicbrainz")
	if err != nil {
		t.Fatalf("CanMakeRequest: %v", err)
	}
	if ok {
		t.Error("expected block to survive a service restart")
	}
	if until == nil || !until.Equal(base.Add(time.Hour)) {
		t.Errorf("blocked-until = %v, want %v", until, base.Add(time.Hour))
	}
}

func TestProvidersIndependent(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = fixedClock(base)

	if err := svc.RecordRateLimit(ctx, "spotify", time.Hour); err != nil {
		t.Fatalf("RecordRateLimit: %v", err)
	}

	ok, _, err := svc.CanMakeRequest(ctx, "musicbrainz")
	if err != nil {
		t.Fatalf("CanMakeRequest: %v", err)
	}
	if !ok {
		t.Error("blocking spotify must not block musicbrainz")
	}
}

func TestAll(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = fixedClock(base)

	if err := svc.RecordRateLimit(ctx, "spotify", time.Minute); err != nil {
		t.Fatalf("RecordRateLimit: %v", err)
	}
	if err := svc.RecordRateLimit(ctx, "musicbrainz", time.Hour); err != nil {
		t.Fatalf("RecordRateLimit: %v", err)
	}

	all, err := svc.All(ctx)
	if err != nil {
		t.Fatalf("All: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("expected 2 budget rows, got %d", len(all))
	}
	if all[0].Provider != "musicbrainz" || all[1].Provider != "spotify" {
		t.Errorf("expected provider order [musicbrainz spotify], got [%s %s]", all[0].Provider, all[1].Provider)
	}
	if !all[0].Blocked(base) {
		t.Error("expected musicbrainz to report blocked at base time")
	}
	if all[0].Blocked(base.Add(2 * time.Hour)) {
		t.Error("expected musicbrainz block to lapse after two hours")
	}
}

func TestClear(t *testing.T) {
	db := setupTestDB(t)
	svc := NewService(db)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	svc.now = fixedClock(base)

	for _, p := range []string{"spotify", "musicbrainz"} {
		if err := svc.RecordRateLimit(ctx, p, time.Hour); err != nil {
			t.Fatalf("RecordRateLimit(%s): %v", p, err)
		}
	}

	n, err := svc.Clear(ctx, "spotify")
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if n != 1 {
		t.Errorf("Clear removed %d rows, want 1", n)
	}

	ok, _, err := svc.CanMakeRequest(ctx, "spotify")
	if err != nil {
		t.Fatalf("CanMakeRequest: %v", err)
	}
	if !ok {
		t.Error("expected spotify to be allowed after clear")
	}

	n, err = svc.Clear(ctx, "")
	if err != nil {
		t.Fatalf("Clear all: %v", err)
	}
	if n != 1 {
		t.Errorf("Clear all removed %d rows, want 1", n)
	}
}
