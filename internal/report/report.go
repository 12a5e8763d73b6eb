// Package report builds the operator coverage report: how much of the
// mention backlog is linked, how much of the catalog is enriched, and
// what state the caches, budgets, and recent runs are in.
package report

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sydlexius/needledrop/internal/budget"
	"github.com/sydlexius/needledrop/internal/enrich"
	"github.com/sydlexius/needledrop/internal/matchcache"
)

// LinkageCoverage summarizes mention linkage progress.
type LinkageCoverage struct {
	Total    int            `json:"total"`
	Linked   int            `json:"linked"`
	Unlinked int            `json:"unlinked"`
	ByTier   map[string]int `json:"by_tier"`
}

// EntityCoverage summarizes enrichment progress for one entity class.
type EntityCoverage struct {
	Total    int `json:"total"`
	Enriched int `json:"enriched"`
	Pending  int `json:"pending"`
}

// UnmatchedMention is one unlinked mention surfaced for inspection,
// ordered by how often its set has been played.
type UnmatchedMention struct {
	ID        string `json:"id"`
	RawTitle  string `json:"raw_title"`
	RawArtist string `json:"raw_artist"`
	Source    string `json:"source,omitempty"`
}

// Coverage is the full coverage report.
type Coverage struct {
	GeneratedAt time.Time                  `json:"generated_at"`
	Mentions    LinkageCoverage            `json:"mentions"`
	Tracks      EntityCoverage             `json:"tracks"`
	Artists     EntityCoverage             `json:"artists"`
	Cache       []matchcache.ProviderStats `json:"cache"`
	Budgets     []budget.Status            `json:"budgets"`
	RecentRuns  []enrich.Run               `json:"recent_runs"`
	Unmatched   []UnmatchedMention         `json:"unmatched"`
}

// Service assembles coverage reports.
type Service struct {
	db      *sql.DB
	cache   *matchcache.Service
	budgets *budget.Service
	runs    *enrich.RunService
}

// NewService creates a report service.
func NewService(db *sql.DB, cache *matchcache.Service, budgets *budget.Service, runs *enrich.RunService) *Service {
	return &Service{db: db, cache: cache, budgets: budgets, runs: runs}
}

// unmatchedSampleSize bounds the unmatched mention list in the report.
const unmatchedSampleSize = 10

// Coverage runs all report queries and returns the assembled report.
func (s *Service) Coverage(ctx context.Context) (*Coverage, error) {
	cov := &Coverage{GeneratedAt: time.Now().UTC()}

	var err error
	if cov.Mentions, err = s.linkageCoverage(ctx); err != nil {
		return nil, err
	}
	if cov.Tracks, err = s.entityCoverage(ctx, "tracks"); err != nil {
		return nil, err
	}
	if cov.Artists, err = s.entityCoverage(ctx, "artists"); err != nil {
		return nil, err
	}
	if cov.Cache, err = s.cache.Stats(ctx); err != nil {
		return nil, err
	}
	if cov.Budgets, err = s.budgets.All(ctx); err != nil {
		return nil, err
	}
	if cov.RecentRuns, err = s.runs.Recent(ctx, 5); err != nil {
		return nil, err
	}
	if cov.Unmatched, err = s.unmatchedSample(ctx, unmatchedSampleSize); err != nil {
		return nil, err
	}
	return cov, nil
}

func (s *Service) linkageCoverage(ctx context.Context) (LinkageCoverage, error) {
	lc := LinkageCoverage{ByTier: make(map[string]int)}

	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN track_id IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM mentions
	`).Scan(&lc.Total, &lc.Linked)
	if err != nil {
		return lc, fmt.Errorf("counting mentions: %w", err)
	}
	lc.Unlinked = lc.Total - lc.Linked

	rows, err := s.db.QueryContext(ctx, `
		SELECT match_tier, COUNT(*)
		FROM mentions
		WHERE track_id IS NOT NULL AND match_tier IS NOT NULL
		GROUP BY match_tier
	`)
	if err != nil {
		return lc, fmt.Errorf("counting mentions by tier: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	for rows.Next() {
		var tier string
		var n int
		if err := rows.Scan(&tier, &n); err != nil {
			return lc, fmt.Errorf("scanning tier count: %w", err)
		}
		lc.ByTier[tier] = n
	}
	return lc, rows.Err()
}

// entityCoverage counts enriched rows for tracks or artists. The table
// name comes from a fixed call site, never user input.
func (s *Service) entityCoverage(ctx context.Context, table string) (EntityCoverage, error) {
	var ec EntityCoverage
	query := fmt.Sprintf(`
		SELECT COUNT(*),
			COALESCE(SUM(CASE WHEN enriched_at IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM %s
	`, table)
	if err := s.db.QueryRowContext(ctx, query).Scan(&ec.Total, &ec.Enriched); err != nil {
		return ec, fmt.Errorf("counting %s: %w", table, err)
	}
	ec.Pending = ec.Total - ec.Enriched
	return ec, nil
}

// unmatchedSample returns the unlinked mentions whose linked sets play
// most often, the same priority order the linkage backlog uses.
func (s *Service) unmatchedSample(ctx context.Context, limit int) ([]UnmatchedMention, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, raw_title, raw_artist, source
		FROM mentions
		WHERE track_id IS NULL
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing unmatched mentions: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var out []UnmatchedMention
	for rows.Next() {
		var m UnmatchedMention
		if err := rows.Scan(&m.ID, &m.RawTitle, &m.RawArtist, &m.Source); err != nil {
			return nil, fmt.Errorf("scanning unmatched mention: %w", err)
		}
		out = append(out, m)
	}
	return out, rows.Err()
}
