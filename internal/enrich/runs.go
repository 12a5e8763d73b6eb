package enrich

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Run is one persisted batch run with its aggregate counters.
type Run struct {
	ID         string     `json:"id"`
	Target     Target     `json:"target"`
	DryRun     bool       `json:"dry_run"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	Counters
	Sample    []SampleItem `json:"sample,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}

// RunService provides persistence for run history.
type RunService struct {
	db *sql.DB
}

// NewRunService creates a RunService.
func NewRunService(db *sql.DB) *RunService {
	return &RunService{db: db}
}

// Record persists a finished run's aggregate counters and sample.
func (s *RunService) Record(ctx context.Context, rep *Report) error {
	totals := rep.Totals()
	sample, _ := json.Marshal(rep.Sample)
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enrichment_runs (
			id, target, dry_run, started_at, finished_at,
			processed, enriched, cache_hits, not_found, rate_limited,
			skipped, invalid, stopped_early, sample, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		rep.ID, string(rep.Target), boolToInt(rep.DryRun),
		rep.StartedAt.Format(time.RFC3339), rep.FinishedAt.Format(time.RFC3339),
		totals.Processed, totals.Enriched, totals.CacheHits, totals.NotFound,
		totals.RateLimited, totals.Skipped, totals.Invalid,
		boolToInt(totals.StoppedEarly), string(sample),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("recording enrichment run: %w", err)
	}
	return nil
}

// Recent returns run history ordered by start time descending.
func (s *RunService) Recent(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, target, dry_run, started_at, finished_at,
		       processed, enriched, cache_hits, not_found, rate_limited,
		       skipped, invalid, stopped_early, sample, created_at
		FROM enrichment_runs
		ORDER BY started_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing enrichment runs: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning enrichment run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func scanRun(row interface{ Scan(...any) error }) (*Run, error) {
	var r Run
	var dryRun, stoppedEarly int
	var startedAt, sample, createdAt string
	var finishedAt sql.NullString

	err := row.Scan(
		&r.ID, &r.Target, &dryRun, &startedAt, &finishedAt,
		&r.Processed, &r.Enriched, &r.CacheHits, &r.NotFound, &r.RateLimited,
		&r.Skipped, &r.Invalid, &stoppedEarly, &sample, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	r.DryRun = dryRun == 1
	r.StoppedEarly = stoppedEarly == 1
	r.StartedAt = parseTime(startedAt)
	if finishedAt.Valid {
		t := parseTime(finishedAt.String)
		r.FinishedAt = &t
	}
	if sample != "" {
		_ = json.Unmarshal([]byte(sample), &r.Sample)
	}
	r.CreatedAt = parseTime(createdAt)

	return &r, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339, s)
	return t
}
