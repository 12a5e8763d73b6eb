// Package maintenance keeps the SQLite file healthy over a long-lived
// deployment: periodic query-planner statistics refresh and WAL
// truncation, plus a manual VACUUM escape hatch.
package maintenance

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// Status holds database maintenance status information.
type Status struct {
	DBFileSize     int64  `json:"db_file_size"`
	WALFileSize    int64  `json:"wal_file_size"`
	PageCount      int64  `json:"page_count"`
	PageSize       int64  `json:"page_size"`
	LastOptimizeAt string `json:"last_optimize_at,omitempty"`
}

// Service provides database maintenance operations.
type Service struct {
	db     *sql.DB
	dbPath string
	logger *slog.Logger
}

// NewService creates a maintenance service.
func NewService(db *sql.DB, dbPath string, logger *slog.Logger) *Service {
	return &Service{
		db:     db,
		dbPath: dbPath,
		logger: logger.With(slog.String("component", "maintenance")),
	}
}

// Status returns current database maintenance status.
func (s *Service) Status(ctx context.Context) (*Status, error) {
	st := &Status{}

	if info, err := os.Stat(s.dbPath); err == nil {
		st.DBFileSize = info.Size()
	}
	if info, err := os.Stat(s.dbPath + "-wal"); err == nil {
		st.WALFileSize = info.Size()
	}

	if err := s.db.QueryRowContext(ctx, "PRAGMA page_count").Scan(&st.PageCount); err != nil {
		s.logger.Warn("reading page_count", "error", err)
	}
	if err := s.db.QueryRowContext(ctx, "PRAGMA page_size").Scan(&st.PageSize); err != nil {
		s.logger.Warn("reading page_size", "error", err)
	}

	var lastOpt string
	err := s.db.QueryRowContext(ctx,
		`SELECT value FROM settings WHERE key = 'maintenance.last_optimize_at'`).Scan(&lastOpt)
	if err == nil {
		st.LastOptimizeAt = lastOpt
	}

	return st, nil
}

// Optimize runs PRAGMA optimize followed by a WAL checkpoint and records
// the timestamp in the settings table.
func (s *Service) Optimize(ctx context.Context) error {
	s.logger.Info("running PRAGMA optimize")
	if _, err := s.db.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return fmt.Errorf("PRAGMA optimize: %w", err)
	}

	s.logger.Info("running WAL checkpoint")
	if _, err := s.db.ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		return fmt.Errorf("WAL checkpoint: %w", err)
	}

	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO settings (key, value, updated_at) VALUES ('maintenance.last_optimize_at', ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		now, now)
	if err != nil {
		s.logger.Warn("recording optimize timestamp", "error", err)
	}

	s.logger.Info("optimize complete")
	return nil
}

// Vacuum rebuilds the database file, reclaiming space freed by cleared
// cache entries and pruned run history.
func (s *Service) Vacuum(ctx context.Context) error {
	s.logger.Info("running VACUUM")
	if _, err := s.db.ExecContext(ctx, "VACUUM"); err != nil {
		return fmt.Errorf("VACUUM: %w", err)
	}
	s.logger.Info("vacuum complete")
	return nil
}

// StartScheduler runs optimize on a fixed interval until the context is
// canceled.
func (s *Service) StartScheduler(ctx context.Context, interval time.Duration) {
	s.logger.Info("maintenance scheduler started", slog.String("interval", interval.String()))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("maintenance scheduler stopped")
			return
		case <-ticker.C:
			if err := s.Optimize(ctx); err != nil {
				s.logger.Error("scheduled optimize failed", slog.Any("error", err))
			}
		}
	}
}
