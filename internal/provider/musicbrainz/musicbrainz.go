// Package musicbrainz adapts the MusicBrainz web service to the provider
// interface. No authentication; the etiquette ceiling is one request per
// second with an identifying User-Agent.
package musicbrainz

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sydlexius/needledrop/internal/provider"
	"github.com/sydlexius/needledrop/internal/version"
)

const defaultBaseURL = "https://musicbrainz.org/ws/2"

// Adapter implements the provider.Provider interface for MusicBrainz.
type Adapter struct {
	client  *http.Client
	limiter *provider.RateLimiterMap
	logger  *slog.Logger
	baseURL string
	contact string
}

// New creates a MusicBrainz adapter with the default base URL. The contact
// string goes into the User-Agent per MusicBrainz etiquette.
func New(limiter *provider.RateLimiterMap, logger *slog.Logger, contact string) *Adapter {
	return NewWithBaseURL(limiter, logger, contact, defaultBaseURL)
}

// NewWithBaseURL creates a MusicBrainz adapter with a custom base URL (for testing).
func NewWithBaseURL(limiter *provider.RateLimiterMap, logger *slog.Logger, contact, baseURL string) *Adapter {
	return &Adapter{
		client: &http.Client{
			Timeout: 10 * time.Second,
		},
		limiter: limiter,
		logger:  logger.With(slog.String("provider", "musicbrainz")),
		baseURL: strings.TrimRight(baseURL, "/"),
		contact: contact,
	}
}

// Name returns the provider name.
func (a *Adapter) Name() provider.ProviderName { return provider.NameMusicBrainz }

// RequiresAuth returns whether this provider needs credentials.
func (a *Adapter) RequiresAuth() bool { return false }

// LookupTrack searches MusicBrainz recordings by artist and title and
// returns the highest-scored hit.
func (a *Adapter) LookupTrack(ctx context.Context, artist, title string) (*provider.Result, error) {
	params := url.Values{
		"query": {fmt.Sprintf("recording:%q AND artist:%q", title, artist)},
		"fmt":   {"json"},
		"limit": {"5"},
	}
	reqURL := a.baseURL + "/recording?" + params.Encode()

	body, err := a.doRequest(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var resp RecordingSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing recording search response: %w", err)
	}

	rec := bestRecording(resp.Recordings)
	if rec == nil {
		return nil, &provider.ErrNotFound{
			Provider: provider.NameMusicBrainz,
			Query:    artist + " - " + title,
		}
	}

	return a.mapRecording(rec), nil
}

// LookupArtist searches MusicBrainz artists by name and returns the
// highest-scored hit.
func (a *Adapter) LookupArtist(ctx context.Context, name string) (*provider.Result, error) {
	params := url.Values{
		"query": {fmt.Sprintf("artist:%q", name)},
		"fmt":   {"json"},
		"limit": {"5"},
	}
	reqURL := a.baseURL + "/artist?" + params.Encode()

	body, err := a.doRequest(ctx, reqURL)
	if err != nil {
		return nil, err
	}

	var resp ArtistSearchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing artist search response: %w", err)
	}

	art := bestArtist(resp.Artists)
	if art == nil {
		return nil, &provider.ErrNotFound{
			Provider: provider.NameMusicBrainz,
			Query:    name,
		}
	}

	return a.mapArtist(art), nil
}

// TestConnection verifies connectivity to the MusicBrainz API.
func (a *Adapter) TestConnection(ctx context.Context) error {
	params := url.Values{
		"query": {"artist:test"},
		"fmt":   {"json"},
		"limit": {"1"},
	}
	reqURL := a.baseURL + "/artist?" + params.Encode()
	_, err := a.doRequest(ctx, reqURL)
	return err
}

// bestRecording picks the highest-scored recording; equal scores break
// toward the lexicographically lowest ID so repeated lookups are stable.
func bestRecording(recs []MBRecording) *MBRecording {
	var best *MBRecording
	for i := range recs {
		r := &recs[i]
		if best == nil || r.Score > best.Score || (r.Score == best.Score && r.ID < best.ID) {
			best = r
		}
	}
	return best
}

// bestArtist picks the highest-scored artist with the same tie-break as
// bestRecording.
func bestArtist(artists []MBArtist) *MBArtist {
	var best *MBArtist
	for i := range artists {
		a := &artists[i]
		if best == nil || a.Score > best.Score || (a.Score == best.Score && a.ID < best.ID) {
			best = a
		}
	}
	return best
}

// doRequest executes an HTTP GET with rate limiting and standard headers.
func (a *Adapter) doRequest(ctx context.Context, reqURL string) ([]byte, error) {
	if err := a.limiter.Wait(ctx, provider.NameMusicBrainz); err != nil {
		return nil, &provider.ErrUnavailable{
			Provider: provider.NameMusicBrainz,
			Cause:    fmt.Errorf("rate limiter: %w", err),
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", a.userAgent())
	req.Header.Set("Accept", "application/json")

	a.logger.Debug("requesting", slog.String("url", reqURL))

	resp, err := a.client.Do(req) //nolint:gosec // URL constructed from trusted base + query params
	if err != nil {
		return nil, &provider.ErrUnavailable{
			Provider: provider.NameMusicBrainz,
			Cause:    err,
		}
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode == http.StatusNotFound {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &provider.ErrNotFound{
			Provider: provider.NameMusicBrainz,
			Query:    reqURL,
		}
	}

	// MusicBrainz signals throttling with 503 as well as 429.
	if resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusTooManyRequests {
		_, _ = io.Copy(io.Discard, resp.Body)
		retryAfter := provider.ParseRetryAfter(resp.Header.Get("Retry-After"))
		if retryAfter <= 0 {
			retryAfter = provider.DefaultBackoff(provider.NameMusicBrainz)
		}
		return nil, &provider.ErrRateLimited{
			Provider:   provider.NameMusicBrainz,
			RetryAfter: retryAfter,
		}
	}

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &provider.ErrUnavailable{
			Provider: provider.NameMusicBrainz,
			Cause:    fmt.Errorf("unexpected HTTP %d", resp.StatusCode),
		}
	}

	return io.ReadAll(io.LimitReader(resp.Body, 512*1024))
}

// mapRecording converts a MusicBrainz recording to the common Result type.
func (a *Adapter) mapRecording(rec *MBRecording) *provider.Result {
	res := &provider.Result{
		Provider:      provider.NameMusicBrainz,
		ExternalID:    rec.ID,
		MusicBrainzID: rec.ID,
		Name:          rec.Title,
		ReleaseDate:   rec.FirstReleaseDate,
		CanonicalURL:  "https://musicbrainz.org/recording/" + rec.ID,
	}

	if len(rec.ISRCs) > 0 {
		res.ISRC = rec.ISRCs[0]
	}

	for _, t := range rec.Tags {
		if t.Name != "" && t.Count > 0 {
			res.Tags = append(res.Tags, t.Name)
		}
	}

	// Label and a release date fallback come from the first release
	// carrying them.
	for _, rel := range rec.Releases {
		if res.ReleaseDate == "" && rel.Date != "" {
			res.ReleaseDate = rel.Date
		}
		if res.Label == "" {
			for _, li := range rel.LabelInfo {
				if li.Label.Name != "" {
					res.Label = li.Label.Name
					break
				}
			}
		}
	}

	return res
}

// mapArtist converts a MusicBrainz artist to the common Result type.
func (a *Adapter) mapArtist(art *MBArtist) *provider.Result {
	res := &provider.Result{
		Provider:      provider.NameMusicBrainz,
		ExternalID:    art.ID,
		MusicBrainzID: art.ID,
		Name:          art.Name,
		Country:       art.Country,
		CanonicalURL:  "https://musicbrainz.org/artist/" + art.ID,
	}

	for _, g := range art.Genres {
		if g.Name != "" {
			res.Tags = append(res.Tags, g.Name)
		}
	}
	if len(res.Tags) == 0 {
		for _, t := range art.Tags {
			if t.Name != "" && t.Count > 0 {
				res.Tags = append(res.Tags, t.Name)
			}
		}
	}

	return res
}

func (a *Adapter) userAgent() string {
	ua := fmt.Sprintf("needledrop/%s", version.Version)
	if a.contact != "" {
		ua += fmt.Sprintf(" ( %s )", a.contact)
	}
	return ua
}
