package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// mentionColumns is the ordered list of columns for SELECT queries.
const mentionColumns = `id, set_id, position, raw_title, raw_artist, source,
	track_id, match_tier, match_confidence, linked_at, created_at`

// MentionService provides mention data operations. Mentions arrive from
// ingestion; this service only ever mutates their link fields.
type MentionService struct {
	db *sql.DB
}

// NewMentionService creates a mention service.
func NewMentionService(db *sql.DB) *MentionService {
	return &MentionService{db: db}
}

// Create inserts a new mention.
func (s *MentionService) Create(ctx context.Context, m *Mention) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	m.CreatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO mentions (
			id, set_id, position, raw_title, raw_artist, source,
			track_id, match_tier, match_confidence, linked_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		m.ID, m.SetID, m.Position, m.RawTitle, m.RawArtist, m.Source,
		nullableString(m.TrackID), nullableString(m.MatchTier),
		nullableFloat(m.MatchConfidence), formatNullableTime(m.LinkedAt),
		now.Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("creating mention: %w", err)
	}
	return nil
}

// GetByID retrieves a mention by primary key.
func (s *MentionService) GetByID(ctx context.Context, id string) (*Mention, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+mentionColumns+` FROM mentions WHERE id = ?`, id)
	m, err := scanMention(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("mention not found: %s", id)
	}
	if err != nil {
		return nil, fmt.Errorf("getting mention by id: %w", err)
	}
	return m, nil
}

// Unlinked returns mentions without a canonical link, oldest first.
func (s *MentionService) Unlinked(ctx context.Context, limit int) ([]Mention, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+mentionColumns+` FROM mentions
		WHERE track_id IS NULL
		ORDER BY created_at ASC, id ASC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing unlinked mentions: %w", err)
	}
	defer rows.Close() //nolint:errcheck

	var mentions []Mention
	for rows.Next() {
		m, err := scanMention(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning mention row: %w", err)
		}
		mentions = append(mentions, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating mention rows: %w", err)
	}
	return mentions, nil
}

// Link records a canonical link on a mention. The write is conditional:
// it applies only when the mention is unlinked or the new confidence is
// equal or higher, so a weaker late match never downgrades an existing
// link. Returns true when the link was applied.
func (s *MentionService) Link(ctx context.Context, mentionID, trackID, tier string, confidence float64) (bool, error) {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `
		UPDATE mentions
		SET track_id = ?, match_tier = ?, match_confidence = ?, linked_at = ?
		WHERE id = ?
		  AND (track_id IS NULL OR match_confidence IS NULL OR match_confidence <= ?)
	`, trackID, tier, confidence, now, mentionID, confidence)
	if err != nil {
		return false, fmt.Errorf("linking mention: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("linking mention: %w", err)
	}
	return n > 0, nil
}

// Count returns the total number of mentions.
func (s *MentionService) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM mentions`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting mentions: %w", err)
	}
	return n, nil
}

// CountLinked returns the number of mentions carrying a canonical link.
func (s *MentionService) CountLinked(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM mentions WHERE track_id IS NOT NULL`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting linked mentions: %w", err)
	}
	return n, nil
}

// scanMention scans a database row into a Mention struct.
func scanMention(row interface{ Scan(...any) error }) (*Mention, error) {
	var m Mention
	var trackID, matchTier sql.NullString
	var matchConfidence sql.NullFloat64
	var linkedAt sql.NullString
	var createdAt string

	err := row.Scan(
		&m.ID, &m.SetID, &m.Position, &m.RawTitle, &m.RawArtist, &m.Source,
		&trackID, &matchTier, &matchConfidence, &linkedAt, &createdAt,
	)
	if err != nil {
		return nil, err
	}

	m.TrackID = trackID.String
	m.MatchTier = matchTier.String
	m.MatchConfidence = matchConfidence.Float64
	if linkedAt.Valid {
		t := parseTime(linkedAt.String)
		m.LinkedAt = &t
	}
	m.CreatedAt = parseTime(createdAt)

	return &m, nil
}

// nullableFloat maps zero to NULL; a confidence is only stored once a
// link exists, and qualifying confidences are always positive.
func nullableFloat(f float64) any {
	if f == 0 {
		return nil
	}
	return f
}
