// Package spotify adapts the Spotify Web API to the provider interface.
// It authenticates with the OAuth2 client-credentials flow; the client id
// and secret come from the provider settings store.
package spotify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/sydlexius/needledrop/internal/provider"
	"github.com/sydlexius/needledrop/internal/version"
)

const (
	defaultBaseURL  = "https://api.spotify.com/v1"
	defaultTokenURL = "https://accounts.spotify.com/api/token" //nolint:gosec // endpoint URL, not a credential
)

// Adapter implements the provider.Provider interface for Spotify.
type Adapter struct {
	client   *http.Client
	limiter  *provider.RateLimiterMap
	settings *provider.SettingsService
	logger   *slog.Logger
	baseURL  string
	tokenURL string

	mu          sync.Mutex
	cachedToken *oauth2.Token
	tokenKey    string // client id the cached token was minted for
}

// New creates a Spotify adapter with the default endpoints.
func New(limiter *provider.RateLimiterMap, settings *provider.SettingsService, logger *slog.Logger) *Adapter {
	return NewWithBaseURL(limiter, settings, logger, defaultBaseURL, defaultTokenURL)
}

// NewWithBaseURL creates a Spotify adapter with custom endpoints (for testing).
func NewWithBaseURL(limiter *provider.RateLimiterMap, settings *provider.SettingsService, logger *slog.Logger, baseURL, tokenURL string) *Adapter {
	return &Adapter{
		client:   &http.Client{Timeout: 10 * time.Second},
		limiter:  limiter,
		settings: settings,
		logger:   logger.With(slog.String("provider", "spotify")),
		baseURL:  strings.TrimRight(baseURL, "/"),
		tokenURL: tokenURL,
	}
}

// Name returns the provider name.
func (a *Adapter) Name() provider.ProviderName { return provider.NameSpotify }

// RequiresAuth returns whether this provider needs credentials.
func (a *Adapter) RequiresAuth() bool { return true }

// LookupTrack searches Spotify for a recording by artist and title and
// returns the most popular hit.
func (a *Adapter) LookupTrack(ctx context.Context, artist, title string) (*provider.Result, error) {
	params := url.Values{
		"q":     {fmt.Sprintf("track:%s artist:%s", title, artist)},
		"type":  {"track"},
		"limit": {"5"},
	}
	body, err := a.doRequest(ctx, a.baseURL+"/search?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing track search response: %w", err)
	}

	item := bestTrack(resp.Tracks.Items)
	if item == nil {
		return nil, &provider.ErrNotFound{
			Provider: provider.NameSpotify,
			Query:    artist + " - " + title,
		}
	}

	return a.mapTrack(item), nil
}

// LookupArtist searches Spotify for an artist by name and returns the
// most popular hit.
func (a *Adapter) LookupArtist(ctx context.Context, name string) (*provider.Result, error) {
	params := url.Values{
		"q":     {name},
		"type":  {"artist"},
		"limit": {"5"},
	}
	body, err := a.doRequest(ctx, a.baseURL+"/search?"+params.Encode())
	if err != nil {
		return nil, err
	}

	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parsing artist search response: %w", err)
	}

	item := bestArtist(resp.Artists.Items)
	if item == nil {
		return nil, &provider.ErrNotFound{
			Provider: provider.NameSpotify,
			Query:    name,
		}
	}

	return a.mapArtist(item), nil
}

// TestConnection verifies the stored credentials by minting a token and
// issuing a minimal search.
func (a *Adapter) TestConnection(ctx context.Context) error {
	params := url.Values{
		"q":     {"test"},
		"type":  {"track"},
		"limit": {"1"},
	}
	_, err := a.doRequest(ctx, a.baseURL+"/search?"+params.Encode())
	return err
}

// bestTrack picks the most popular track; equal popularity breaks toward
// the lexicographically lowest ID so repeated lookups are stable. Spotify
// responses carry no relevance score.
func bestTrack(items []trackItem) *trackItem {
	var best *trackItem
	for i := range items {
		t := &items[i]
		if best == nil || t.Popularity > best.Popularity || (t.Popularity == best.Popularity && t.ID < best.ID) {
			best = t
		}
	}
	return best
}

// bestArtist picks the most popular artist with the same tie-break as
// bestTrack.
func bestArtist(items []artistItem) *artistItem {
	var best *artistItem
	for i := range items {
		a := &items[i]
		if best == nil || a.Popularity > best.Popularity || (a.Popularity == best.Popularity && a.ID < best.ID) {
			best = a
		}
	}
	return best
}

// token returns a valid access token, minting one through the
// client-credentials flow when the cached token is absent, expired, or
// was issued for different credentials.
func (a *Adapter) token(ctx context.Context) (string, error) {
	id, err := a.settings.GetCredential(ctx, provider.NameSpotify, "client_id")
	if err != nil {
		return "", fmt.Errorf("getting client id: %w", err)
	}
	secret, err := a.settings.GetCredential(ctx, provider.NameSpotify, "client_secret")
	if err != nil {
		return "", fmt.Errorf("getting client secret: %w", err)
	}
	if id == "" || secret == "" {
		return "", &provider.ErrNotConfigured{Provider: provider.NameSpotify}
	}

	a.mu.Lock()
	if a.cachedToken != nil && a.cachedToken.Valid() && a.tokenKey == id {
		tok := a.cachedToken.AccessToken
		a.mu.Unlock()
		return tok, nil
	}
	a.mu.Unlock()

	conf := &clientcredentials.Config{
		ClientID:     id,
		ClientSecret: secret,
		TokenURL:     a.tokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	// Route the token exchange through our HTTP client so tests can point
	// the adapter at a local server.
	tctx := context.WithValue(ctx, oauth2.HTTPClient, a.client)
	tok, err := conf.Token(tctx)
	if err != nil {
		var rerr *oauth2.RetrieveError
		if errors.As(err, &rerr) && rerr.Response != nil {
			switch rerr.Response.StatusCode {
			case http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden:
				return "", &provider.ErrNotConfigured{Provider: provider.NameSpotify}
			case http.StatusTooManyRequests:
				retryAfter := provider.ParseRetryAfter(rerr.Response.Header.Get("Retry-After"))
				if retryAfter <= 0 {
					retryAfter = provider.DefaultBackoff(provider.NameSpotify)
				}
				return "", &provider.ErrRateLimited{Provider: provider.NameSpotify, RetryAfter: retryAfter}
			}
		}
		return "", &provider.ErrUnavailable{Provider: provider.NameSpotify, Cause: err}
	}

	a.mu.Lock()
	a.cachedToken = tok
	a.tokenKey = id
	a.mu.Unlock()
	return tok.AccessToken, nil
}

// invalidateToken drops the cached token after the API rejected it.
func (a *Adapter) invalidateToken() {
	a.mu.Lock()
	a.cachedToken = nil
	a.mu.Unlock()
}

// doRequest executes an authenticated GET with rate limiting. Transient
// failures retry twice with exponential backoff; throttling and
// credential errors surface immediately.
func (a *Adapter) doRequest(ctx context.Context, reqURL string) ([]byte, error) {
	tok, err := a.token(ctx)
	if err != nil {
		return nil, err
	}

	if err := a.limiter.Wait(ctx, provider.NameSpotify); err != nil {
		return nil, &provider.ErrUnavailable{
			Provider: provider.NameSpotify,
			Cause:    fmt.Errorf("rate limiter: %w", err),
		}
	}

	var body []byte
	backoff := retry.WithMaxRetries(2, retry.NewExponential(200*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		b, err := a.roundTrip(ctx, reqURL, tok)
		if err != nil {
			var unavailable *provider.ErrUnavailable
			if errors.As(err, &unavailable) {
				return retry.RetryableError(err)
			}
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// roundTrip performs one HTTP exchange and classifies the response.
func (a *Adapter) roundTrip(ctx context.Context, reqURL, token string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("User-Agent", fmt.Sprintf("needledrop/%s", version.Version))
	req.Header.Set("Accept", "application/json")

	a.logger.Debug("requesting", slog.String("url", reqURL))

	resp, err := a.client.Do(req) //nolint:gosec // URL constructed from trusted base + query params
	if err != nil {
		return nil, &provider.ErrUnavailable{
			Provider: provider.NameSpotify,
			Cause:    err,
		}
	}
	defer resp.Body.Close() //nolint:errcheck

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		_, _ = io.Copy(io.Discard, resp.Body)
		a.invalidateToken()
		return nil, &provider.ErrNotConfigured{Provider: provider.NameSpotify}

	case resp.StatusCode == http.StatusNotFound:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &provider.ErrNotFound{
			Provider: provider.NameSpotify,
			Query:    reqURL,
		}

	case resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, resp.Body)
		retryAfter := provider.ParseRetryAfter(resp.Header.Get("Retry-After"))
		if retryAfter <= 0 {
			retryAfter = provider.DefaultBackoff(provider.NameSpotify)
		}
		return nil, &provider.ErrRateLimited{
			Provider:   provider.NameSpotify,
			RetryAfter: retryAfter,
		}

	case resp.StatusCode != http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil, &provider.ErrUnavailable{
			Provider: provider.NameSpotify,
			Cause:    fmt.Errorf("unexpected HTTP %d", resp.StatusCode),
		}
	}

	return io.ReadAll(io.LimitReader(resp.Body, 512*1024))
}

// mapTrack converts a Spotify track to the common Result type.
func (a *Adapter) mapTrack(item *trackItem) *provider.Result {
	pop := item.Popularity
	res := &provider.Result{
		Provider:     provider.NameSpotify,
		ExternalID:   item.ID,
		SpotifyID:    item.ID,
		Name:         item.Name,
		ISRC:         item.ExternalIDs.ISRC,
		ReleaseDate:  item.Album.ReleaseDate,
		Popularity:   &pop,
		PreviewURL:   item.PreviewURL,
		CanonicalURL: item.ExternalURLs.Spotify,
	}
	// Spotify orders album images largest first.
	if len(item.Album.Images) > 0 {
		res.ArtworkURL = item.Album.Images[0].URL
	}
	return res
}

// mapArtist converts a Spotify artist to the common Result type.
func (a *Adapter) mapArtist(item *artistItem) *provider.Result {
	pop := item.Popularity
	res := &provider.Result{
		Provider:     provider.NameSpotify,
		ExternalID:   item.ID,
		SpotifyID:    item.ID,
		Name:         item.Name,
		Tags:         item.Genres,
		Popularity:   &pop,
		CanonicalURL: item.ExternalURLs.Spotify,
	}
	if len(item.Images) > 0 {
		res.ImageURL = item.Images[0].URL
	}
	return res
}
