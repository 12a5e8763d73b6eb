package provider

import (
	"context"
	"fmt"
	"time"
)

// ProviderName uniquely identifies a metadata provider.
type ProviderName string

// Known provider names.
const (
	NameSpotify     ProviderName = "spotify"
	NameMusicBrainz ProviderName = "musicbrainz"
)

// AllProviderNames returns all known provider names in consultation order.
// The enrichment runner walks providers in this order, so earlier entries
// win when two providers supply the same field.
func AllProviderNames() []ProviderName {
	return []ProviderName{
		NameSpotify,
		NameMusicBrainz,
	}
}

// DisplayName returns a human-readable name for the provider.
func (n ProviderName) DisplayName() string {
	switch n {
	case NameSpotify:
		return "Spotify"
	case NameMusicBrainz:
		return "MusicBrainz"
	default:
		return string(n)
	}
}

// AccessTier classifies a provider's access model.
type AccessTier string

// Access tier constants for classifying a provider's access model.
const (
	TierFree    AccessTier = "free"     // No key, no limit known
	TierFreeKey AccessTier = "free_key" // Free account/sign-up required
)

// RateLimitInfo documents the known rate limits for a provider.
type RateLimitInfo struct {
	RequestsPerSecond float64 `json:"requests_per_second,omitempty"`
	RequestsPerDay    int     `json:"requests_per_day,omitempty"` // 0 = unknown/unlimited
}

// Capability describes a provider's access model and documented rate limits.
type Capability struct {
	Tier      AccessTier     `json:"tier"`
	HelpURL   string         `json:"help_url,omitempty"`
	RateLimit *RateLimitInfo `json:"rate_limit,omitempty"`
}

// Capabilities returns the known capability metadata for each provider.
func Capabilities() map[ProviderName]Capability {
	return map[ProviderName]Capability{
		NameSpotify: {
			Tier:      TierFreeKey,
			HelpURL:   "https://developer.spotify.com/dashboard",
			RateLimit: &RateLimitInfo{RequestsPerSecond: 5},
		},
		NameMusicBrainz: {
			Tier:      TierFree,
			RateLimit: &RateLimitInfo{RequestsPerSecond: 1},
		},
	}
}

// DefaultBackoff returns the wait applied when a throttled response
// carries no retry hint.
func DefaultBackoff(name ProviderName) time.Duration {
	switch name {
	case NameSpotify:
		return 30 * time.Second
	default:
		return time.Minute
	}
}

// Result is the outcome of a single provider lookup. One shape serves
// both track and artist lookups; fields a provider cannot supply stay
// zero. Results are serialized into the lookup cache, so every field
// carries a JSON tag.
type Result struct {
	Provider      ProviderName `json:"provider"`
	ExternalID    string       `json:"external_id,omitempty"`
	Name          string       `json:"name,omitempty"`
	SpotifyID     string       `json:"spotify_id,omitempty"`
	MusicBrainzID string       `json:"musicbrainz_id,omitempty"`
	ISRC          string       `json:"isrc,omitempty"`
	Label         string       `json:"label,omitempty"`
	ReleaseDate   string       `json:"release_date,omitempty"`
	Tags          []string     `json:"tags,omitempty"`
	Popularity    *int         `json:"popularity,omitempty"`
	PreviewURL    string       `json:"preview_url,omitempty"`
	ArtworkURL    string       `json:"artwork_url,omitempty"`
	ImageURL      string       `json:"image_url,omitempty"`
	CanonicalURL  string       `json:"canonical_url,omitempty"`
	Country       string       `json:"country,omitempty"`
}

// Provider is the interface all metadata source adapters must implement.
type Provider interface {
	// Name returns the unique provider identifier.
	Name() ProviderName

	// RequiresAuth returns true if this provider needs credentials to function.
	RequiresAuth() bool

	// LookupTrack searches the provider for a recording by artist and title.
	// Returns *ErrNotFound when the provider has no match.
	LookupTrack(ctx context.Context, artist, title string) (*Result, error)

	// LookupArtist searches the provider for an artist by name.
	// Returns *ErrNotFound when the provider has no match.
	LookupArtist(ctx context.Context, name string) (*Result, error)
}

// TestableProvider is an optional interface providers can implement
// for the credential verification endpoint.
type TestableProvider interface {
	Provider
	TestConnection(ctx context.Context) error
}

// ErrNotConfigured indicates the provider needs credentials but none are stored.
type ErrNotConfigured struct {
	Provider ProviderName
}

func (e *ErrNotConfigured) Error() string {
	return fmt.Sprintf("provider %s: credentials not configured", e.Provider)
}

// ErrNotFound indicates the provider has no data for the requested item.
// A not-found answer is definitive and cacheable.
type ErrNotFound struct {
	Provider ProviderName
	Query    string
}

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("provider %s: no result for %q", e.Provider, e.Query)
}

// ErrRateLimited indicates the provider refused the call because its
// request budget is exhausted. RetryAfter is always positive: adapters
// substitute the provider default backoff when the response carried no
// hint.
type ErrRateLimited struct {
	Provider   ProviderName
	RetryAfter time.Duration
}

func (e *ErrRateLimited) Error() string {
	return fmt.Sprintf("provider %s: rate limited, retry after %s", e.Provider, e.RetryAfter)
}

// ErrUnavailable indicates a transient failure (network error, timeout,
// server error). The item may succeed on a later run; never cached.
type ErrUnavailable struct {
	Provider ProviderName
	Cause    error
}

func (e *ErrUnavailable) Error() string {
	return fmt.Sprintf("provider %s unavailable: %v", e.Provider, e.Cause)
}

func (e *ErrUnavailable) Unwrap() error { return e.Cause }
