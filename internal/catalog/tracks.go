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

// trackColumns is the ordered list of columns for SELECT queries.
const trackColumns = `id, title, artist_name, title_normalized, artist_normalized,
	artist_id, spotify_id, musicbrainz_id, isrc, label, release_date,
	tags, popularity, preview_url, artwork_url, canonical_url,
	play_count, enriched_at, created_at, updated_at`

// TrackService provides canonical track data operations.
type TrackService struct {
	db *sql.DB
}

// NewTrackService creates a track service.
func NewTrackService(db *sql.DB) *TrackService {
	return &TrackService{db: db}
}

// Create inserts a new track. Normalized title and artist forms are
// computed here so stored records always carry them.
func (s *TrackService) Create(ctx context.Context, t *Track) error {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	t.TitleNormalized = textnorm.Normalize(t.Title)
	t.ArtistNormalized = textnorm.Normalize(t.ArtistName)
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracks (
			id, title, artist_name, title_normalized, artist_normalized,
			artist_id, spotify_id, musicbrainz_id, isrc, label, release_date,
			tags, popularity, preview_url, artwork_url, canonical_url,
			play_count, enriched_at, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		t.ID, t.Title, t.ArtistName, t.TitleNormalized, t.ArtistNormalized,
		nullableString(t.ArtistID), nullableString(t.SpotifyID), nullableString(t.MusicBrainzID),
		nullableString(t.ISRC), nullableString(t.Label), nullableString(t.ReleaseDate),
		MarshalStringSlice(t.Tags), nullableInt(t.Popularity),
		nullableString(t.PreviewURL), nullableString(t.ArtworkURL), nullableString(t.CanonicalURL),
		t.PlayCount, formatNullableTime(t.EnrichedAt),
		now.Format(time.RFC3339), now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("creating track: %w", err)
	}
	return nil
}

// GetByID retrieves a track by primary key.
func (s *TrackService) GetByID(ctx context.Context, id string) (*Track, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+trackColumns+` FROM tracks WHERE id = ?`, id)
	t, err := scanTrack(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("track not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting track by id: %w", err)
	}
	return t, nil
}

// All returns every track, ordered by id for stable iteration.
func (s *TrackService) All(ctx context.Context) ([]Track, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+trackColumns+` FROM tracks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing tracks: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var tracks []Track
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning track row: %w", err)
		}
		tracks = append(tracks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating track rows: %w", err)
	}
	return tracks, nil
}

// Backlog returns tracks still lacking enrichment, most played first so
// the records listeners actually hit get metadata soonest.
func (s *TrackService) Backlog(ctx context.Context, limit int) ([]Track, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+trackColumns+` FROM tracks
		WHERE enriched_at IS NULL
		ORDER BY play_count DESC, created_at ASC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing track backlog: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var tracks []Track
	for rows.Next() {
		t, err := scanTrack(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning track row: %w", err)
		}
		tracks = append(tracks, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating track rows: %w", err)
	}
	return tracks, nil
}

// Update modifies an existing track. Normalized forms are recomputed from
// the current title and artist name.
func (s *TrackService) Update(ctx context.Context, t *Track) error {
	t.TitleNormalized = textnorm.Normalize(t.Title)
	t.ArtistNormalized = textnorm.Normalize(t.ArtistName)
	t.UpdatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		UPDATE tracks SET
			title = ?, artist_name = ?, title_normalized = ?, artist_normalized = ?,
			artist_id = ?, spotify_id = ?, musicbrainz_id = ?, isrc = ?, label = ?,
			release_date = ?, tags = ?, popularity = ?, preview_url = ?,
			artwork_url = ?, canonical_url = ?, play_count = ?,
			enriched_at = ?, updated_at = ?
		WHERE id = ?
	`,
		t.Title, t.ArtistName, t.TitleNormalized, t.ArtistNormalized,
		nullableString(t.ArtistID), nullableString(t.SpotifyID), nullableString(t.MusicBrainzID),
		nullableString(t.ISRC), nullableString(t.Label), nullableString(t.ReleaseDate),
		MarshalStringSlice(t.Tags), nullableInt(t.Popularity),
		nullableString(t.PreviewURL), nullableString(t.ArtworkURL), nullableString(t.CanonicalURL),
		t.PlayCount, formatNullableTime(t.EnrichedAt),
		t.UpdatedAt.Format(time.RFC3339),
		t.ID,
	)
	if err != nil {
		return fmt.Errorf("updating track: %w", err)
	}
	return nil
}

// Count returns the total number of tracks.
func (s *TrackService) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM tracks`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting tracks: %w", err)
	}
	return n, nil
}

// CountEnriched returns the number of tracks with enrichment applied.
func (s *TrackService) CountEnriched(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM tracks WHERE enriched_at IS NOT NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting enriched tracks: %w", err)
	}
	return n, nil
}

// scanTrack scans a database row into a Track struct.
func scanTrack(row interface{ Scan(...any) error }) (*Track, error) {
	var t Track
	var artistID, spotifyID, musicbrainzID, isrc, label, releaseDate sql.NullString
	var tags string
	var popularity sql.NullInt64
	var previewURL, artworkURL, canonicalURL sql.NullString
	var enrichedAt sql.NullString
	var createdAt, updatedAt string

	err := row.Scan(
		&t.ID, &t.Title, &t.ArtistName, &t.TitleNormalized, &t.ArtistNormalized,
		&artistID, &spotifyID, &musicbrainzID, &isrc, &label, &releaseDate,
		&tags, &popularity, &previewURL, &artworkURL, &canonicalURL,
		&t.PlayCount, &enrichedAt, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	t.ArtistID = artistID.String
	t.SpotifyID = spotifyID.String
	t.MusicBrainzID = musicbrainzID.String
	t.ISRC = isrc.String
	t.Label = label.String
	t.ReleaseDate = releaseDate.String
	t.Tags = UnmarshalStringSlice(tags)
	if popularity.Valid {
		p := int(popularity.Int64)
		t.Popularity = &p
	}
	t.PreviewURL = previewURL.String
	t.ArtworkURL = artworkURL.String
	t.CanonicalURL = canonicalURL.String
	if enrichedAt.Valid {
		ts := parseTime(enrichedAt.String)
		t.EnrichedAt = &ts
	}
	t.CreatedAt = parseTime(createdAt)
	t.UpdatedAt = parseTime(updatedAt)

	return &t, nil
}
