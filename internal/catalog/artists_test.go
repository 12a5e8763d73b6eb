package catalog

import (
	"context"
	"testing"
	"time"
)

func TestArtistCreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	svc := NewArtistService(db)
	ctx := context.Background()

	a := testArtist("Tiësto")
	if err := svc.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if a.ID == "" {
		t.Fatal("Create did not assign an id")
	}
	if a.NameNormalized != "tiesto" {
		t.Errorf("NameNormalized = %q, want tiesto", a.NameNormalized)
	}

	got, err := svc.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.Name != "Tiësto" {
		t.Errorf("Name = %q, want Tiësto", got.Name)
	}
	if len(got.Genres) != 1 || got.Genres[0] != "house" {
		t.Errorf("Genres = %v, want [house]", got.Genres)
	}
	if got.Popularity != nil {
		t.Errorf("Popularity = %v, want nil before enrichment", *got.Popularity)
	}
	if got.EnrichedAt != nil {
		t.Error("EnrichedAt set before enrichment")
	}
}

func TestArtistGetByIDNotFound(t *testing.T) {
	db := setupTestDB(t)
	svc := NewArtistService(db)

	if _, err := svc.GetByID(context.Background(), "missing"); err == nil {
		t.Error("GetByID for missing artist succeeded, want error")
	}
}

func TestArtistGetByName(t *testing.T) {
	db := setupTestDB(t)
	svc := NewArtistService(db)
	ctx := context.Background()

	a := testArtist("Ólafur Arnalds")
	if err := svc.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Raw spelling with diacritics and different case resolves through
	// the normalized column.
	got, err := svc.GetByName(ctx, "OLAFUR ARNALDS")
	if err != nil {
		t.Fatalf("GetByName: %v", err)
	}
	if got == nil {
		t.Fatal("GetByName returned nil for existing artist")
	}
	if got.ID != a.ID {
		t.Errorf("ID = %q, want %q", got.ID, a.ID)
	}

	missing, err := svc.GetByName(ctx, "Nobody")
	if err != nil {
		t.Fatalf("GetByName for missing: %v", err)
	}
	if missing != nil {
		t.Error("GetByName returned an artist for an unknown name")
	}
}

func TestArtistUpdate(t *testing.T) {
	db := setupTestDB(t)
	svc := NewArtistService(db)
	ctx := context.Background()

	a := testArtist("M83")
	if err := svc.Create(ctx, a); err != nil {
		t.Fatalf("Create: %v", err)
	}

	pop := 78
	now := time.Now().UTC()
	a.SpotifyID = "ab123"
	a.Popularity = &pop
	a.Country = "FR"
	a.EnrichedAt = &now
	if err := svc.Update(ctx, a); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, err := svc.GetByID(ctx, a.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if got.SpotifyID != "ab123" {
		t.Errorf("SpotifyID = %q, want ab123", got.SpotifyID)
	}
	if got.Popularity == nil || *got.Popularity != 78 {
		t.Errorf("Popularity = %v, want 78", got.Popularity)
	}
	if got.Country != "FR" {
		t.Errorf("Country = %q, want FR", got.Country)
	}
	if got.EnrichedAt == nil {
		t.Error("EnrichedAt not persisted")
	}
}

func TestArtistBacklog(t *testing.T) {
	db := setupTestDB(t)
	svc := NewArtistService(db)
	ctx := context.Background()

	first := testArtist("First")
	if err := svc.Create(ctx, first); err != nil {
		t.Fatalf("Create: %v", err)
	}
	second := testArtist("Second")
	if err := svc.Create(ctx, second); err != nil {
		t.Fatalf("Create: %v", err)
	}
	enriched := testArtist("Done")
	now := time.Now().UTC()
	enriched.EnrichedAt = &now
	if err := svc.Create(ctx, enriched); err != nil {
		t.Fatalf("Create: %v", err)
	}

	backlog, err := svc.Backlog(ctx, 10)
	if err != nil {
		t.Fatalf("Backlog: %v", err)
	}
	if len(backlog) != 2 {
		t.Fatalf("Backlog returned %d artists, want 2", len(backlog))
	}
	for _, a := range backlog {
		if a.Name == "Done" {
			t.Error("Backlog included an already enriched artist")
		}
	}

	limited, err := svc.Backlog(ctx, 1)
	if err != nil {
		t.Fatalf("Backlog with limit: %v", err)
	}
	if len(limited) != 1 {
		t.Errorf("Backlog with limit 1 returned %d artists", len(limited))
	}
}

func TestArtistCounts(t *testing.T) {
	db := setupTestDB(t)
	svc := NewArtistService(db)
	ctx := context.Background()

	for _, name := range []string{"A", "B", "C"} {
		if err := svc.Create(ctx, testArtist(name)); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	a, err := svc.GetByName(ctx, "A")
	if err != nil || a == nil {
		t.Fatalf("GetByName: %v", err)
	}
	now := time.Now().UTC()
	a.EnrichedAt = &now
	if err := svc.Update(ctx, a); err != nil {
		t.Fatalf("Update: %v", err)
	}

	total, err := svc.Count(ctx)
	if err != nil {
		t.Fatalf("Count: %v", err)
	}
	if total != 3 {
		t.Errorf("Count = %d, want 3", total)
	}
	enriched, err := svc.CountEnriched(ctx)
	if err != nil {
		t.Fatalf("CountEnriched: %v", err)
	}
	if enriched != 1 {
		t.Errorf("CountEnriched = %d, want 1", enriched)
	}
}
