package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sydlexius/needledrop/internal/backup"
	"github.com/sydlexius/needledrop/internal/budget"
	"github.com/sydlexius/needledrop/internal/catalog"
	"github.com/sydlexius/needledrop/internal/database"
	"github.com/sydlexius/needledrop/internal/encryption"
	"github.com/sydlexius/needledrop/internal/enrich"
	"github.com/sydlexius/needledrop/internal/logging"
	"github.com/sydlexius/needledrop/internal/maintenance"
	"github.com/sydlexius/needledrop/internal/matchcache"
	"github.com/sydlexius/needledrop/internal/provider"
	"github.com/sydlexius/needledrop/internal/report"
	"github.com/sydlexius/needledrop/internal/settingsio"
)

const testKey = "0123456789abcde!0123456789abcde!"

type stubProvider struct {
	name provider.ProviderName
	auth bool
}

func (p *stubProvider) Name() provider.ProviderName { return p.name }
func (p *stubProvider) RequiresAuth() bool          { return p.auth }
func (p *stubProvider) LookupTrack(ctx context.Context, artist, title string) (*provider.Result, error) {
	return nil, &provider.ErrNotFound{Provider: p.name, Query: artist + " " + title}
}
func (p *stubProvider) LookupArtist(ctx context.Context, name string) (*provider.Result, error) {
	return nil, &provider.ErrNotFound{Provider: p.name, Query: name}
}

type testEnv struct {
	srv    *httptest.Server
	db     *sql.DB
	cache  *matchcache.Service
	budget *budget.Service
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("opening database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrating database: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	logManager, _ := logging.NewManager(logging.Config{Level: "error", Format: "text"})
	t.Cleanup(func() { logManager.Close() })

	encryptor, err := encryption.New(testKey)
	if err != nil {
		t.Fatalf("creating encryptor: %v", err)
	}

	providerSettings := provider.NewSettingsService(db, encryptor)
	registry := provider.NewRegistry()
	registry.Register(&stubProvider{name: provider.NameSpotify, auth: true})
	registry.Register(&stubProvider{name: provider.NameMusicBrainz})

	cacheService := matchcache.NewService(db)
	budgetService := budget.NewService(db)
	runner := enrich.NewRunner(db, cacheService, budgetService, registry, providerSettings, logger)
	reportService := report.NewService(db, cacheService, budgetService, runner.Runs())

	router := NewRouter(RouterDeps{
		Runner:             runner,
		ReportService:      reportService,
		MentionService:     catalog.NewMentionService(db),
		CacheService:       cacheService,
		BudgetService:      budgetService,
		ProviderSettings:   providerSettings,
		ProviderRegistry:   registry,
		BackupService:      backup.NewService(db, t.TempDir(), 5, logger),
		MaintenanceService: maintenance.NewService(db, ":memory:", logger),
		SettingsIOService:  settingsio.NewService(db, providerSettings),
		LogManager:         logManager,
		DB:                 db,
		Logger:             logger,
	})

	srv := httptest.NewServer(router.Handler())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, db: db, cache: cacheService, budget: budgetService}
}

func (e *testEnv) request(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshaling body: %v", err)
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, e.srv.URL+path, reader)
	if err != nil {
		t.Fatalf("building request: %v", err)
	}
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	data, _ := io.ReadAll(resp.Body)
	if len(data) > 0 && strings.HasPrefix(resp.Header.Get("Content-Type"), "application/json") {
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatalf("decoding response %q: %v", string(data), err)
		}
	}
	return resp, decoded
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.request(t, http.MethodGet, "/api/healthz", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %v, want ok", body["status"])
	}
}

func TestEnrichRejectsInvalidTarget(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.request(t, http.MethodPost, "/api/enrich", map[string]any{"target": "bogus"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestEnrichRejectsOversizedLimit(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.request(t, http.MethodPost, "/api/enrich", map[string]any{"target": "mentions", "limit": 500})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestEnrichEmptyBacklog(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.request(t, http.MethodPost, "/api/enrich", map[string]any{"target": "mentions"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if body["target"] != "mentions" {
		t.Errorf("target = %v, want mentions", body["target"])
	}
	if _, ok := body["sections"]; !ok {
		t.Error("response missing sections")
	}

	resp, runsBody := env.request(t, http.MethodGet, "/api/enrich/runs", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("runs status = %d, want 200", resp.StatusCode)
	}
	runs, ok := runsBody["runs"].([]any)
	if !ok {
		t.Fatalf("runs field = %T, want array", runsBody["runs"])
	}
	if len(runs) != 1 {
		t.Errorf("got %d runs, want 1", len(runs))
	}
}

func TestEnrichRunsRejectsBadLimit(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.request(t, http.MethodGet, "/api/enrich/runs?limit=0", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", resp.StatusCode)
	}
}

func TestCacheStatsAndClear(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	if err := env.cache.Write(ctx, "spotify", "Burial", "Archangel", true, "{}"); err != nil {
		t.Fatalf("seeding cache: %v", err)
	}
	if err := env.cache.Write(ctx, "spotify", "Nobody", "Nothing", false, ""); err != nil {
		t.Fatalf("seeding cache: %v", err)
	}

	resp, body := env.request(t, http.MethodGet, "/api/cache/stats", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stats status = %d, want 200", resp.StatusCode)
	}
	providers, ok := body["providers"].([]any)
	if !ok || len(providers) != 1 {
		t.Fatalf("providers = %v, want one entry", body["providers"])
	}

	resp, _ = env.request(t, http.MethodDelete, "/api/cache?provider=bogus", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("clear unknown provider status = %d, want 400", resp.StatusCode)
	}

	resp, body = env.request(t, http.MethodDelete, "/api/cache?provider=spotify", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("clear status = %d, want 200", resp.StatusCode)
	}
	if body["removed"] != float64(2) {
		t.Errorf("removed = %v, want 2", body["removed"])
	}
}

func TestBudgetEndpoints(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.request(t, http.MethodGet, "/api/budgets", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if budgets, ok := body["budgets"].([]any); !ok || len(budgets) != 0 {
		t.Errorf("budgets = %v, want empty array", body["budgets"])
	}

	resp, _ = env.request(t, http.MethodDelete, "/api/budgets?provider=bogus", nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("clear unknown provider status = %d, want 400", resp.StatusCode)
	}
}

func TestProviderCredentialsLifecycle(t *testing.T) {
	env := newTestEnv(t)

	resp, _ := env.request(t, http.MethodPut, "/api/providers/spotify/credentials",
		map[string]string{"client_id": "id"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("missing field status = %d, want 400", resp.StatusCode)
	}

	resp, body := env.request(t, http.MethodPut, "/api/providers/spotify/credentials",
		map[string]string{"client_id": "id", "client_secret": "secret"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set status = %d, want 200", resp.StatusCode)
	}
	if body["status"] != "saved" {
		t.Errorf("status field = %v, want saved", body["status"])
	}

	resp, body = env.request(t, http.MethodGet, "/api/providers", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d, want 200", resp.StatusCode)
	}
	if _, ok := body["providers"]; !ok {
		t.Error("list response missing providers")
	}

	resp, _ = env.request(t, http.MethodDelete, "/api/providers/spotify/credentials", nil)
	if resp.StatusCode != http.StatusOK {
		t.Errorf("delete status = %d, want 200", resp.StatusCode)
	}

	resp, _ = env.request(t, http.MethodPut, "/api/providers/bogus/credentials",
		map[string]string{"x": "y"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown provider status = %d, want 400", resp.StatusCode)
	}
}

func TestLoggingSettings(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.request(t, http.MethodGet, "/api/settings/logging", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get status = %d, want 200", resp.StatusCode)
	}
	if body["level"] != "error" {
		t.Errorf("level = %v, want error", body["level"])
	}

	resp, _ = env.request(t, http.MethodPut, "/api/settings/logging",
		map[string]string{"level": "bogus"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("invalid level status = %d, want 400", resp.StatusCode)
	}

	resp, body = env.request(t, http.MethodPut, "/api/settings/logging",
		map[string]string{"level": "debug"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("update status = %d, want 200", resp.StatusCode)
	}
	if body["level"] != "debug" {
		t.Errorf("updated level = %v, want debug", body["level"])
	}

	var persisted string
	err := env.db.QueryRow(`SELECT value FROM settings WHERE key = 'logging.level'`).Scan(&persisted)
	if err != nil {
		t.Fatalf("reading persisted level: %v", err)
	}
	if persisted != "debug" {
		t.Errorf("persisted level = %q, want debug", persisted)
	}
}

func TestReportEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.request(t, http.MethodGet, "/api/report", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if _, ok := body["generated_at"]; !ok {
		t.Error("report missing generated_at")
	}
	if _, ok := body["mentions"]; !ok {
		t.Error("report missing mentions coverage")
	}
}

func TestMaintenanceStatusEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, body := env.request(t, http.MethodGet, "/api/maintenance", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if _, ok := body["page_count"]; !ok {
		t.Error("maintenance status missing page_count")
	}
}
