package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/sydlexius/needledrop/internal/textnorm"
)

// AliasService manages alternate spellings for artists and tracks.
// Aliases accumulate as operators merge duplicate records, and the
// matcher consults them after exact matching fails.
type AliasService struct {
	db *sql.DB
}

// NewAliasService creates an alias service.
func NewAliasService(db *sql.DB) *AliasService {
	return &AliasService{db: db}
}

// CreateArtistAlias inserts an artist alias.
func (s *AliasService) CreateArtistAlias(ctx context.Context, a *ArtistAlias) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.AliasNormalized = textnorm.Normalize(a.Alias)
	a.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO artist_aliases (id, artist_id, alias, alias_normalized, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, a.ID, a.ArtistID, a.Alias, a.AliasNormalized, a.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("creating artist alias: %w", err)
	}
	return nil
}

// CreateTrackAlias inserts a track alias.
func (s *AliasService) CreateTrackAlias(ctx context.Context, a *TrackAlias) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	a.AliasNormalized = textnorm.Normalize(a.Alias)
	a.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO track_aliases (id, track_id, alias, alias_normalized, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, a.ID, a.TrackID, a.Alias, a.AliasNormalized, a.CreatedAt.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("creating track alias: %w", err)
	}
	return nil
}

// ArtistAliases returns every artist alias, ordered by id.
func (s *AliasService) ArtistAliases(ctx context.Context) ([]ArtistAlias, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, artist_id, alias, alias_normalized, created_at
		FROM artist_aliases ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("listing artist aliases: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var aliases []ArtistAlias
	for rows.Next() {
		var a ArtistAlias
		var createdAt string
		if err := rows.Scan(&a.ID, &a.ArtistID, &a.Alias, &a.AliasNormalized, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning artist alias row: %w", err)
		}
		a.CreatedAt = parseTime(createdAt)
		aliases = append(aliases, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating artist alias rows: %w", err)
	}
	return aliases, nil
}

// TrackAliases returns every track alias, ordered by id.
func (s *AliasService) TrackAliases(ctx context.Context) ([]TrackAlias, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, track_id, alias, alias_normalized, created_at
		FROM track_aliases ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("listing track aliases: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var aliases []TrackAlias
	for rows.Next() {
		var a TrackAlias
		var createdAt string
		if err := rows.Scan(&a.ID, &a.TrackID, &a.Alias, &a.AliasNormalized, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning track alias row: %w", err)
		}
		a.CreatedAt = parseTime(createdAt)
		aliases = append(aliases, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating track alias rows: %w", err)
	}
	return aliases, nil
}

// DeleteArtistAlias removes an artist alias by id.
func (s *AliasService) DeleteArtistAlias(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM artist_aliases WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting artist alias: %w", err)
	}
	return nil
}

// DeleteTrackAlias removes a track alias by id.
func (s *AliasService) DeleteTrackAlias(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM track_aliases WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting track alias: %w", err)
	}
	return nil
}
