// Package matchcache persists provider lookup outcomes keyed by the
// normalized "artist|title" form. Positive and negative results are both
// cached, permanently: a miss today is assumed to be a miss tomorrow
// unless an operator clears the entries.
package matchcache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/sydlexius/needledrop/internal/textnorm"
)

// Entry is one cached provider outcome.
type Entry struct {
	Provider  string    `json:"provider"`
	Key       string    `json:"key"`
	Found     bool      `json:"found"`
	Payload   string    `json:"payload,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// ProviderStats summarizes cache contents for one provider.
type ProviderStats struct {
	Provider string `json:"provider"`
	Positive int    `json:"positive"`
	Negative int    `json:"negative"`
}

// Service provides match cache operations. Entries are scoped per
// provider: the streaming catalog and the metadata database answer
// different questions, so their entries never shadow each other.
type Service struct {
	db *sql.DB
}

// NewService creates a match cache service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db}
}

// Check looks up the cached outcome for a provider and raw artist/title
// pair. Returns nil without error on a cache miss.
func (s *Service) Check(ctx context.Context, provider, artist, title string) (*Entry, error) {
	key := textnorm.Key(artist, title)

	row := s.db.QueryRowContext(ctx, `
		SELECT provider, key, found, payload, checked_at
		FROM match_cache
		WHERE provider = ? AND key = ?
	`, provider, key)

	var e Entry
	var found int
	var payload sql.NullString
	var checkedAt string
	err := row.Scan(&e.Provider, &e.Key, &found, &payload, &checkedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("checking match cache: %w", err)
	}

	e.Found = found == 1
	e.Payload = payload.String
	if t, err := time.Parse(time.RFC3339, checkedAt); err == nil {
		e.CheckedAt = t
	}
	return &e, nil
}

// Write records a provider outcome, replacing any previous entry for the
// same provider and key (last write wins).
func (s *Service) Write(ctx context.Context, provider, artist, title string, found bool, payload string) error {
	key := textnorm.Key(artist, title)
	now := time.Now().UTC().Format(time.RFC3339)

	var pl any
	if payload != "" {
		pl = payload
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO match_cache (provider, key, found, payload, checked_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(provider, key) DO UPDATE SET
			found = excluded.found,
			payload = excluded.payload,
			checked_at = excluded.checked_at
	`, provider, key, boolToInt(found), pl, now)
	if err != nil {
		return fmt.Errorf("writing match cache: %w", err)
	}
	return nil
}

// Stats returns per-provider positive and negative entry counts.
func (s *Service) Stats(ctx context.Context) ([]ProviderStats, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider,
			SUM(CASE WHEN found = 1 THEN 1 ELSE 0 END),
			SUM(CASE WHEN found = 0 THEN 1 ELSE 0 END)
		FROM match_cache
		GROUP BY provider
		ORDER BY provider
	`)
	if err != nil {
		return nil, fmt.Errorf("reading match cache stats: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var stats []ProviderStats
	for rows.Next() {
		var ps ProviderStats
		if err := rows.Scan(&ps.Provider, &ps.Positive, &ps.Negative); err != nil {
			return nil, fmt.Errorf("scanning match cache stats: %w", err)
		}
		stats = append(stats, ps)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating match cache stats: %w", err)
	}
	return stats, nil
}

// Clear removes all entries for a provider, or every entry when provider
// is empty. Returns the number of rows removed.
func (s *Service) Clear(ctx context.Context, provider string) (int64, error) {
	var res sql.Result
	var err error
	if provider == "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM match_cache`)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM match_cache WHERE provider = ?`, provider)
	}
	if err != nil {
		return 0, fmt.Errorf("clearing match cache: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clearing match cache: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
