package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sydlexius/needledrop/internal/textnorm"
)

// artistColumns is the ordered list of columns for SELECT queries.
const artistColumns = `id, name, name_normalized, spotify_id, musicbrainz_id,
	genres, popularity, image_url, canonical_url, country,
	enriched_at, created_at, updated_at`

// ArtistService provides canonical artist data operations.
type ArtistService struct {
	db *sql.DB
}

// NewArtistService creates an artist service.
func NewArtistService(db *sql.DB) *ArtistService {
	return &ArtistService{db: db}
}

// Create inserts a new artist. The normalized name is computed here so
// stored records always carry it.
func (s *ArtistService) Create(ctx context.Context, a *Artist) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.NameNormalized = textnorm.Normalize(a.Name)
	now := time.Now().UTC()
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artists (
			id, name, name_normalized, spotify_id, musicbrainz_id,
			genres, popularity, image_url, canonical_url, country,
			enriched_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		a.ID, a.Name, a.NameNormalized,
		nullableString(a.SpotifyID), nullableString(a.MusicBrainzID),
		MarshalStringSlice(a.Genres), nullableInt(a.Popularity),
		nullableString(a.ImageURL), nullableString(a.CanonicalURL), nullableString(a.Country),
		formatNullableTime(a.EnrichedAt),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("creating artist: %w", err)
	}
	return nil
}

// GetByID retrieves an artist by primary key.
func (s *ArtistService) GetByID(ctx context.Context, id string) (*Artist, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+artistColumns+` FROM artists WHERE id = ?`, id)
	a, err := scanArtist(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("artist not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting artist by id: %w", err)
	}
	return a, nil
}

// GetByName retrieves an artist by normalized name. Returns nil without
// error when no artist matches.
func (s *ArtistService) GetByName(ctx context.Context, name string) (*Artist, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+artistColumns+` FROM artists WHERE name_normalized = ?`,
		textnorm.Normalize(name))
	a, err := scanArtist(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting artist by name: %w", err)
	}
	return a, nil
}

// All returns every artist, ordered by id for stable iteration.
func (s *ArtistService) All(ctx context.Context) ([]Artist, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+artistColumns+` FROM artists ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing artists: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var artists []Artist
	for rows.Next() {
		a, err := scanArtist(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning artist row: %w", err)
		}
		artists = append(artists, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating artist rows: %w", err)
	}
	return artists, nil
}

// Backlog returns artists still lacking enrichment, oldest first.
func (s *ArtistService) Backlog(ctx context.Context, limit int) ([]Artist, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+artistColumns+` FROM artists
		WHERE enriched_at IS NULL
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing artist backlog: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var artists []Artist
	for rows.Next() {
		a, err := scanArtist(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning artist row: %w", err)
		}
		artists = append(artists, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating artist rows: %w", err)
	}
	return artists, nil
}

// Update modifies an existing artist. The normalized name is recomputed
// from the current display name.
func (s *ArtistService) Update(ctx context.Context, a *Artist) error {
	a.NameNormalized = textnorm.Normalize(a.Name)
	a.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		UPDATE artists SET
			name = ?, name_normalized = ?, spotify_id = ?, musicbrainz_id = ?,
			genres = ?, popularity = ?, image_url = ?, canonical_url = ?, country = ?,
			enriched_at = ?, updated_at = ?
		WHERE id = ?
	`,
		a.Name, a.NameNormalized,
		nullableString(a.SpotifyID), nullableString(a.MusicBrainzID),
		MarshalStringSlice(a.Genres), nullableInt(a.Popularity),
		nullableString(a.ImageURL), nullableString(a.CanonicalURL), nullableString(a.Country),
		formatNullableTime(a.EnrichedAt),
		a.UpdatedAt.Format(time.RFC3339),
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("updating artist: %w", err)
	}
	return nil
}

// Count returns the total number of artists.
func (s *ArtistService) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM artists`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting artists: %w", err)
	}
	return n, nil
}

// CountEnriched returns the number of artists with enrichment applied.
func (s *ArtistService) CountEnriched(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM artists WHERE enriched_at IS NOT NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting enriched artists: %w", err)
	}
	return n, nil
}

// scanArtist scans a database row into an Artist struct.
func scanArtist(row interface{ Scan(...any) error }) (*Artist, error) {
	var a Artist
	var genres string
	var spotifyID, musicbrainzID, imageURL, canonicalURL, country sql.NullString
	var popularity sql.NullInt64
	var enrichedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&a.ID, &a.Name, &a.NameNormalized, &spotifyID, &musicbrainzID,
		&genres, &popularity, &imageURL, &canonicalURL, &country,
		&enrichedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.SpotifyID = spotifyID.String
	a.MusicBrainzID = musicbrainzID.String
	a.Genres = UnmarshalStringSlice(genres)
	if popularity.Valid {
		p := int(popularity.Int64)
		a.Popularity = &p
	}
	a.ImageURL = imageURL.String
	a.CanonicalURL = canonicalURL.String
	a.Country = country.String
	if enrichedAt.Valid {
		t := parseTime(enrichedAt.String)
		a.EnrichedAt = &t
	}
	a.CreatedAt = parseTime(createdAt)
	a.UpdatedAt = parseTime(updatedAt)

	return &a, nil
}
