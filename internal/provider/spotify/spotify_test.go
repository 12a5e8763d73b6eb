package spotify

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sydlexius/needledrop/internal/encryption"
	"github.com/sydlexius/needledrop/internal/provider"
	_ "modernc.org/sqlite"
)

func loadFixture(t *testing.T, name string) []byte {
	t.Helper()
	data, err := os.ReadFile("testdata/" + name)
	if err != nil {
		t.Fatalf("loading fixture %s: %v", name, err)
	}
	return data
}

func setupSettings(t *testing.T, clientID, clientSecret string) *provider.SettingsService {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck

	_, err = db.ExecContext(context.Background(), `
		CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)
	`)
	if err != nil {
		t.Fatalf("creating settings table: %v", err)
	}

	key, err := encryption.GenerateKey()
	if err != nil {
		t.Fatalf("generating key: %v", err)
	}
	enc, err := encryption.New(key)
	if err != nil {
		t.Fatalf("creating encryptor: %v", err)
	}
	svc := provider.NewSettingsService(db, enc)

	if clientID != "" {
		err = svc.SetCredentials(context.Background(), provider.NameSpotify, map[string]string{
			"client_id":     clientID,
			"client_secret": clientSecret,
		})
		if err != nil {
			t.Fatalf("storing credentials: %v", err)
		}
	}
	return svc
}

// testServer fakes both the token endpoint and the search API.
type testServer struct {
	*httptest.Server
	tokenCalls  atomic.Int64
	searchCalls atomic.Int64
	flakyCalls  atomic.Int64
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ts := &testServer{}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/token":
			ts.tokenCalls.Add(1)
			id, _, ok := r.BasicAuth()
			if !ok || id == "bad-id" {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusBadRequest)
				w.Write([]byte(`{"error":"invalid_client"}`))
				return
			}
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(map[string]any{ //nolint:errcheck
				"access_token": "test-token-abc",
				"token_type":   "Bearer",
				"expires_in":   3600,
			})

		case "/search":
			ts.searchCalls.Add(1)
			if got := r.Header.Get("Authorization"); got != "Bearer test-token-abc" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			q := r.URL.Query().Get("q")
			switch {
			case strings.Contains(q, "no-such"):
				if r.URL.Query().Get("type") == "artist" {
					w.Write([]byte(`{"artists":{"total":0,"items":[]}}`))
				} else {
					w.Write([]byte(`{"tracks":{"total":0,"items":[]}}`))
				}
			case strings.Contains(q, "One More Time"):
				w.Write(loadFixture(t, "search_track_tie.json"))
			case strings.Contains(q, "throttle"):
				w.Header().Set("Retry-After", "7")
				w.WriteHeader(http.StatusTooManyRequests)
			case strings.Contains(q, "flaky"):
				if ts.flakyCalls.Add(1) < 3 {
					w.WriteHeader(http.StatusInternalServerError)
					return
				}
				w.Write(loadFixture(t, "search_track.json"))
			case r.URL.Query().Get("type") == "artist":
				w.Write(loadFixture(t, "search_artist.json"))
			default:
				w.Write(loadFixture(t, "search_track.json"))
			}

		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(ts.Server.Close)
	return ts
}

func newTestAdapter(t *testing.T, srv *testServer, settings *provider.SettingsService) *Adapter {
	t.Helper()
	limiter := provider.NewRateLimiterMap()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return NewWithBaseURL(limiter, settings, logger, srv.URL, srv.URL+"/api/token")
}

func TestName(t *testing.T) {
	srv := newTestServer(t)
	a := newTestAdapter(t, srv, setupSettings(t, "id", "secret"))
	if a.Name() != provider.NameSpotify {
		t.Errorf("expected %s, got %s", provider.NameSpotify, a.Name())
	}
}

func TestRequiresAuth(t *testing.T) {
	srv := newTestServer(t)
	a := newTestAdapter(t, srv, setupSettings(t, "id", "secret"))
	if !a.RequiresAuth() {
		t.Error("Spotify should require auth")
	}
}

func TestLookupTrack(t *testing.T) {
	srv := newTestServer(t)
	a := newTestAdapter(t, srv, setupSettings(t, "id", "secret"))

	res, err := a.LookupTrack(context.Background(), "M83", "Midnight City")
	if err != nil {
		t.Fatalf("LookupTrack: %v", err)
	}

	if res.Provider != provider.NameSpotify {
		t.Errorf("expected provider spotify, got %s", res.Provider)
	}
	if res.SpotifyID != "5Kskr9LcNYa0tpt5f0ZEJx" {
		t.Errorf("unexpected spotify ID: %s", res.SpotifyID)
	}
	if res.Name != "Midnight City" {
		t.Errorf("expected name Midnight City, got %s", res.Name)
	}
	if res.ISRC != "FRZID1100123" {
		t.Errorf("unexpected ISRC: %s", res.ISRC)
	}
	if res.ReleaseDate != "2011-10-18" {
		t.Errorf("unexpected release date: %s", res.ReleaseDate)
	}
	if res.Popularity == nil || *res.Popularity != 82 {
		t.Errorf("unexpected popularity: %v", res.Popularity)
	}
	if res.PreviewURL != "https://p.scdn.co/mp3-preview/8b5a3d1c" {
		t.Errorf("unexpected preview URL: %s", res.PreviewURL)
	}
	if res.ArtworkURL != "https://i.scdn.co/image/640/hurryup" {
		t.Errorf("expected largest album image, got %s", res.ArtworkURL)
	}
	if res.CanonicalURL != "https://open.spotify.com/track/5Kskr9LcNYa0tpt5f0ZEJx" {
		t.Errorf("unexpected canonical URL: %s", res.CanonicalURL)
	}
}

func TestLookupTrackNotFound(t *testing.T) {
	srv := newTestServer(t)
	a := newTestAdapter(t, srv, setupSettings(t, "id", "secret"))

	_, err := a.LookupTrack(context.Background(), "nobody", "no-such")
	if err == nil {
		t.Fatal("expected error for empty search")
	}
	var notFound *provider.ErrNotFound
	if !errors.As(err, &notFound) {
		t.Errorf("expected ErrNotFound, got %T: %v", err, err)
	}
}

func TestLookupTrackPopularityTieBreak(t *testing.T) {
	srv := newTestServer(t)
	a := newTestAdapter(t, srv, setupSettings(t, "id", "secret"))

	// Both hits share popularity 70; the lexicographically lowest ID wins
	// even though it is listed second.
	res, err := a.LookupTrack(context.Background(), "Daft Punk", "One More Time")
	if err != nil {
		t.Fatalf("LookupTrack: %v", err)
	}
	if res.SpotifyID != "aAAAAAAAAAAAAAAAAAAAA1" {
		t.Errorf("expected tie-break to lowest ID, got %s", res.SpotifyID)
	}
}

func TestLookupTrackRateLimited(t *testing.T) {
	srv := newTestServer(t)
	a := newTestAdapter(t, srv, setupSettings(t, "id", "secret"))

	_, err := a.LookupTrack(context.Background(), "anyone", "throttle")
	if err == nil {
		t.Fatal("expected error for 429 response")
	}
	var rl *provider.ErrRateLimited
	if !errors.As(err, &rl) {
		t.Fatalf("expected ErrRateLimited, got %T: %v", err, err)
	}
	if rl.RetryAfter != 7*time.Second {
		t.Errorf("RetryAfter = %s, want 7s from the header", rl.RetryAfter)
	}
}

func TestLookupTrackRetriesTransient(t *testing.T) {
	srv := newTestServer(t)
	a := newTestAdapter(t, srv, setupSettings(t, "id", "secret"))

	// Server fails twice with 500 before succeeding; the adapter retries
	// through it.
	res, err := a.LookupTrack(context.Background(), "M83", "flaky")
	if err != nil {
		t.Fatalf("LookupTrack after retries: %v", err)
	}
	if res.SpotifyID == "" {
		t.Error("expected a result after retries")
	}
	if got := srv.flakyCalls.Load(); got != 3 {
		t.Errorf("expected 3 attempts, got %d", got)
	}
}

func TestLookupArtist(t *testing.T) {
	srv := newTestServer(t)
	a := newTestAdapter(t, srv, setupSettings(t, "id", "secret"))

	res, err := a.LookupArtist(context.Background(), "M83")
	if err != nil {
		t.Fatalf("LookupArtist: %v", err)
	}

	if res.SpotifyID != "63MQldklfxkjYDoUE4Tppz" {
		t.Errorf("unexpected spotify ID: %s", res.SpotifyID)
	}
	if res.Name != "M83" {
		t.Errorf("expected name M83, got %s", res.Name)
	}
	if len(res.Tags) != 3 || res.Tags[0] != "french shoegaze" {
		t.Errorf("unexpected genres: %v", res.Tags)
	}
	if res.Popularity == nil || *res.Popularity != 75 {
		t.Errorf("unexpected popularity: %v", res.Popularity)
	}
	if res.ImageURL != "https://i.scdn.co/image/640/m83" {
		t.Errorf("unexpected image URL: %s", res.ImageURL)
	}
}

func TestNotConfigured(t *testing.T) {
	srv := newTestServer(t)
	a := newTestAdapter(t, srv, setupSettings(t, "", ""))

	_, err := a.LookupTrack(context.Background(), "M83", "Midnight City")
	if err == nil {
		t.Fatal("expected error without credentials")
	}
	var notConfigured *provider.ErrNotConfigured
	if !errors.As(err, &notConfigured) {
		t.Fatalf("expected ErrNotConfigured, got %T: %v", err, err)
	}
	if got := srv.tokenCalls.Load(); got != 0 {
		t.Errorf("expected no token exchange without credentials, got %d", got)
	}
}

func TestBadCredentials(t *testing.T) {
	srv := newTestServer(t)
	a := newTestAdapter(t, srv, setupSettings(t, "bad-id", "bad-secret"))

	_, err := a.LookupTrack(context.Background(), "M83", "Midnight City")
	if err == nil {
		t.Fatal("expected error for rejected credentials")
	}
	var notConfigured *provider.ErrNotConfigured
	if !errors.As(err, &notConfigured) {
		t.Errorf("expected ErrNotConfigured, got %T: %v", err, err)
	}
}

func TestTokenReused(t *testing.T) {
	srv := newTestServer(t)
	a := newTestAdapter(t, srv, setupSettings(t, "id", "secret"))

	if _, err := a.LookupTrack(context.Background(), "M83", "Midnight City"); err != nil {
		t.Fatalf("first LookupTrack: %v", err)
	}
	if _, err := a.LookupArtist(context.Background(), "M83"); err != nil {
		t.Fatalf("LookupArtist: %v", err)
	}

	if got := srv.tokenCalls.Load(); got != 1 {
		t.Errorf("expected 1 token exchange across calls, got %d", got)
	}
	if got := srv.searchCalls.Load(); got != 2 {
		t.Errorf("expected 2 search calls, got %d", got)
	}
}

func TestTestConnection(t *testing.T) {
	srv := newTestServer(t)
	a := newTestAdapter(t, srv, setupSettings(t, "id", "secret"))

	if err := a.TestConnection(context.Background()); err != nil {
		t.Fatalf("TestConnection: %v", err)
	}
}
