// Package budget persists provider throttle state across process
// restarts. Once a provider reports a rate limit, every run consults the
// same blocked-until row before spending another request on it.
package budget

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Status is the budget row for one provider.
type Status struct {
	Provider     string     `json:"provider"`
	BlockedUntil *time.Time `json:"blocked_until,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Blocked reports whether the provider is still blocked at t.
func (s *Status) Blocked(t time.Time) bool {
	return s.BlockedUntil != nil && t.Before(*s.BlockedUntil)
}

// Service tracks per-provider rate budgets.
type Service struct {
	db *sql.DB
	// now is swapped for a fixed clock in tests.
	now func() time.Time
}

// NewService creates a budget service.
func NewService(db *sql.DB) *Service {
	return &Service{db: db, now: time.Now}
}

// CanMakeRequest reports whether the provider may be called now. When
// refused, the second return carries the time the block expires.
func (s *Service) CanMakeRequest(ctx context.Context, provider string) (bool, *time.Time, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT blocked_until FROM rate_budgets WHERE provider = ?`, provider)

	var blockedUntil sql.NullString
	err := row.Scan(&blockedUntil)
	if errors.Is(err, sql.ErrNoRows) {
		return true, nil, nil
	}
	if err != nil {
		return false, nil, fmt.Errorf("reading rate budget: %w", err)
	}
	if !blockedUntil.Valid {
		return true, nil, nil
	}

	until, err := time.Parse(time.RFC3339, blockedUntil.String)
	if err != nil {
		return false, nil, fmt.Errorf("parsing blocked_until: %w", err)
	}
	if s.now().UTC().Before(until) {
		return false, &until, nil
	}
	return true, nil, nil
}

// RecordRateLimit stores blockedUntil = now + retryAfter for the
// provider. The window only ever extends: concurrent or repeated signals
// never shorten an existing block. The caller resolves retryAfter to the
// provider's default backoff when the response carried none.
func (s *Service) RecordRateLimit(ctx context.Context, provider string, retryAfter time.Duration) error {
	now := s.now().UTC()
	until := now.Add(retryAfter).Format(time.RFC3339)

	// RFC3339 UTC strings order lexicographically, so MAX keeps the
	// later expiry.
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO rate_budgets (provider, blocked_until, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(provider) DO UPDATE SET
			blocked_until = MAX(excluded.blocked_until, COALESCE(rate_budgets.blocked_until, '')),
			updated_at = excluded.updated_at
	`, provider, until, now.Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("recording rate limit: %w", err)
	}
	return nil
}

// All returns every budget row, ordered by provider.
func (s *Service) All(ctx context.Context) ([]Status, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider, blocked_until, updated_at
		FROM rate_budgets ORDER BY provider
	`)
	if err != nil {
		return nil, fmt.Errorf("listing rate budgets: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var all []Status
	for rows.Next() {
		var st Status
		var blockedUntil sql.NullString
		var updatedAt string
		if err := rows.Scan(&st.Provider, &blockedUntil, &updatedAt); err != nil {
			return nil, fmt.Errorf("scanning rate budget row: %w", err)
		}
		if blockedUntil.Valid {
			if t, err := time.Parse(time.RFC3339, blockedUntil.String); err == nil {
				st.BlockedUntil = &t
			}
		}
		if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
			st.UpdatedAt = t
		}
		all = append(all, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rate budget rows: %w", err)
	}
	return all, nil
}

// Clear removes the budget row for a provider, or all rows when provider
// is empty. Operator escape hatch for a block that outlived its cause.
func (s *Service) Clear(ctx context.Context, provider string) (int64, error) {
	var res sql.Result
	var err error
	if provider == "" {
		res, err = s.db.ExecContext(ctx, `DELETE FROM rate_budgets`)
	} else {
		res, err = s.db.ExecContext(ctx, `DELETE FROM rate_budgets WHERE provider = ?`, provider)
	}
	if err != nil {
		return 0, fmt.Errorf("clearing rate budget: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("clearing rate budget: %w", err)
	}
	return n, nil
}
