package catalog

import (
	"database/sql"
	"testing"

	"github.com/sydlexius/needledrop/internal/database"
)

func setupTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("running migrations: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testArtist(name string) *Artist {
	return &Artist{
		Name:   name,
		Genres: []string{"house"},
	}
}

func testTrack(title, artist string) *Track {
	return &Track{
		Title:      title,
		ArtistName: artist,
	}
}

func testMention(setID, rawTitle, rawArtist string) *Mention {
	return &Mention{
		SetID:     setID,
		RawTitle:  rawTitle,
		RawArtist: rawArtist,
		Source:    "tracklist",
	}
}
