package catalog

import (
	"encoding/json"
	"time"
)

// Artist is a canonical artist record. Normalized forms are computed on
// write and kept alongside the display name for matching and cache keys.
type Artist struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	NameNormalized string     `json:"name_normalized"`
	SpotifyID      string     `json:"spotify_id,omitempty"`
	MusicBrainzID  string     `json:"musicbrainz_id,omitempty"`
	Genres         []string   `json:"genres"`
	Popularity     *int       `json:"popularity,omitempty"`
	ImageURL       string     `json:"image_url,omitempty"`
	CanonicalURL   string     `json:"canonical_url,omitempty"`
	Country        string     `json:"country,omitempty"`
	EnrichedAt     *time.Time `json:"enriched_at,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// Track is a canonical track record. ArtistName is denormalized from the
// tracklist source; ArtistID is set once the artist itself is resolved.
type Track struct {
	ID               string     `json:"id"`
	Title            string     `json:"title"`
	ArtistName       string     `json:"artist_name"`
	TitleNormalized  string     `json:"title_normalized"`
	ArtistNormalized string     `json:"artist_normalized"`
	ArtistID         string     `json:"artist_id,omitempty"`
	SpotifyID        string     `json:"spotify_id,omitempty"`
	MusicBrainzID    string     `json:"musicbrainz_id,omitempty"`
	ISRC             string     `json:"isrc,omitempty"`
	Label            string     `json:"label,omitempty"`
	ReleaseDate      string     `json:"release_date,omitempty"`
	Tags             []string   `json:"tags"`
	Popularity       *int       `json:"popularity,omitempty"`
	PreviewURL       string     `json:"preview_url,omitempty"`
	ArtworkURL       string     `json:"artwork_url,omitempty"`
	CanonicalURL     string     `json:"canonical_url,omitempty"`
	PlayCount        int        `json:"play_count"`
	EnrichedAt       *time.Time `json:"enriched_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// Mention is a raw track reference scraped from a tracklist page, video
// comment, or user submission. Ingestion creates mentions; only the
// linkage resolver mutates them, and only the link fields.
type Mention struct {
	ID              string     `json:"id"`
	SetID           string     `json:"set_id"`
	Position        int        `json:"position"`
	RawTitle        string     `json:"raw_title"`
	RawArtist       string     `json:"raw_artist"`
	Source          string     `json:"source,omitempty"`
	TrackID         string     `json:"track_id,omitempty"`
	MatchTier       string     `json:"match_tier,omitempty"`
	MatchConfidence float64    `json:"match_confidence,omitempty"`
	LinkedAt        *time.Time `json:"linked_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// Linked reports whether the mention carries a canonical link.
func (m *Mention) Linked() bool {
	return m.TrackID != ""
}

// ArtistAlias maps an alternate artist spelling to a canonical artist.
// Aliases are created by operators when merging duplicate records.
type ArtistAlias struct {
	ID              string    `json:"id"`
	ArtistID        string    `json:"artist_id"`
	Alias           string    `json:"alias"`
	AliasNormalized string    `json:"alias_normalized"`
	CreatedAt       time.Time `json:"created_at"`
}

// TrackAlias maps an alternate track title to a canonical track.
type TrackAlias struct {
	ID              string    `json:"id"`
	TrackID         string    `json:"track_id"`
	Alias           string    `json:"alias"`
	AliasNormalized string    `json:"alias_normalized"`
	CreatedAt       time.Time `json:"created_at"`
}

// MarshalStringSlice encodes a string slice as a JSON array string.
func MarshalStringSlice(s []string) string {
	if s == nil {
		return "[]"
	}
	data, _ := json.Marshal(s)
	return string(data)
}

// UnmarshalStringSlice decodes a JSON array string into a string slice.
func UnmarshalStringSlice(data string) []string {
	if data == "" || data == "[]" {
		return nil
	}
	var result []string
	if err := json.Unmarshal([]byte(data), &result); err != nil {
		return nil
	}
	return result
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func formatNullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Format(time.RFC3339)
}

// nullableString maps the empty string to NULL so nullable FK and
// metadata columns stay NULL rather than collecting empty strings.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(p *int) any {
	if p == nil {
		return nil
	}
	return *p
}

// parseTime parses a time string, handling both RFC3339 and SQLite datetime formats.
func parseTime(s string) time.Time {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t
	}
	return time.Time{}
}
