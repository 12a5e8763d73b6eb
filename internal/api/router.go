// Package api exposes the operator HTTP surface: batch triggers, run
// history, coverage reports, cache and budget inspection, and provider
// credential management. JSON only; there is no UI.
package api

import (
	"database/sql"
	"log/slog"
	"net/http"

	"github.com/sydlexius/needledrop/internal/api/middleware"
	"github.com/sydlexius/needledrop/internal/backup"
	"github.com/sydlexius/needledrop/internal/budget"
	"github.com/sydlexius/needledrop/internal/catalog"
	"github.com/sydlexius/needledrop/internal/enrich"
	"github.com/sydlexius/needledrop/internal/logging"
	"github.com/sydlexius/needledrop/internal/maintenance"
	"github.com/sydlexius/needledrop/internal/matchcache"
	"github.com/sydlexius/needledrop/internal/provider"
	"github.com/sydlexius/needledrop/internal/report"
	"github.com/sydlexius/needledrop/internal/settingsio"
)

// RouterDeps bundles all dependencies needed by the HTTP router.
type RouterDeps struct {
	Runner             *enrich.Runner
	ReportService      *report.Service
	MentionService     *catalog.MentionService
	CacheService       *matchcache.Service
	BudgetService      *budget.Service
	ProviderSettings   *provider.SettingsService
	ProviderRegistry   *provider.Registry
	BackupService      *backup.Service
	MaintenanceService *maintenance.Service
	SettingsIOService  *settingsio.Service
	LogManager         *logging.Manager
	DB                 *sql.DB
	Logger             *slog.Logger
	BasePath           string
}

// Router sets up all HTTP routes for the application.
type Router struct {
	runner             *enrich.Runner
	reportService      *report.Service
	mentionService     *catalog.MentionService
	cacheService       *matchcache.Service
	budgetService      *budget.Service
	providerSettings   *provider.SettingsService
	providerRegistry   *provider.Registry
	backupService      *backup.Service
	maintenanceService *maintenance.Service
	settingsIOService  *settingsio.Service
	logManager         *logging.Manager
	db                 *sql.DB
	logger             *slog.Logger
	basePath           string
}

// NewRouter creates a new Router with all routes configured.
func NewRouter(deps RouterDeps) *Router {
	return &Router{
		runner:             deps.Runner,
		reportService:      deps.ReportService,
		mentionService:     deps.MentionService,
		cacheService:       deps.CacheService,
		budgetService:      deps.BudgetService,
		providerSettings:   deps.ProviderSettings,
		providerRegistry:   deps.ProviderRegistry,
		backupService:      deps.BackupService,
		maintenanceService: deps.MaintenanceService,
		settingsIOService:  deps.SettingsIOService,
		logManager:         deps.LogManager,
		db:                 deps.DB,
		logger:             deps.Logger,
		basePath:           deps.BasePath,
	}
}

// Handler returns the fully configured HTTP handler with middleware applied.
func (r *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	bp := r.basePath

	mux.HandleFunc("GET "+bp+"/api/healthz", r.handleHealth)

	// Enrichment runs
	enrichLimiter := middleware.NewIPRateLimiter()
	mux.Handle("POST "+bp+"/api/enrich", enrichLimiter.Middleware(http.HandlerFunc(r.handleEnrich)))
	mux.HandleFunc("GET "+bp+"/api/enrich/runs", r.handleEnrichRuns)

	// Reports and inspection
	mux.HandleFunc("GET "+bp+"/api/report", r.handleReport)
	mux.HandleFunc("GET "+bp+"/api/mentions/unlinked", r.handleUnlinkedMentions)

	// Cache and budget state
	mux.HandleFunc("GET "+bp+"/api/cache/stats", r.handleCacheStats)
	mux.HandleFunc("DELETE "+bp+"/api/cache", r.handleCacheClear)
	mux.HandleFunc("GET "+bp+"/api/budgets", r.handleListBudgets)
	mux.HandleFunc("DELETE "+bp+"/api/budgets", r.handleBudgetClear)

	// Providers
	mux.HandleFunc("GET "+bp+"/api/providers", r.handleListProviders)
	mux.HandleFunc("PUT "+bp+"/api/providers/{name}/credentials", r.handleSetProviderCredentials)
	mux.HandleFunc("DELETE "+bp+"/api/providers/{name}/credentials", r.handleDeleteProviderCredentials)
	mux.HandleFunc("POST "+bp+"/api/providers/{name}/test", r.handleTestProvider)

	// Operational settings
	mux.HandleFunc("GET "+bp+"/api/settings/logging", r.handleGetLogging)
	mux.HandleFunc("PUT "+bp+"/api/settings/logging", r.handleUpdateLogging)
	mux.HandleFunc("POST "+bp+"/api/settings/export", r.handleSettingsExport)
	mux.HandleFunc("POST "+bp+"/api/settings/import", r.handleSettingsImport)

	// Database upkeep
	mux.HandleFunc("POST "+bp+"/api/backups", r.handleBackupCreate)
	mux.HandleFunc("GET "+bp+"/api/backups", r.handleBackupList)
	mux.HandleFunc("GET "+bp+"/api/maintenance", r.handleMaintenanceStatus)
	mux.HandleFunc("POST "+bp+"/api/maintenance/optimize", r.handleMaintenanceOptimize)

	return middleware.Logging(r.logger)(mux)
}
