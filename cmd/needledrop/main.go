package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/sydlexius/needledrop/internal/api"
	"github.com/sydlexius/needledrop/internal/backup"
	"github.com/sydlexius/needledrop/internal/budget"
	"github.com/sydlexius/needledrop/internal/catalog"
	"github.com/sydlexius/needledrop/internal/config"
	"github.com/sydlexius/needledrop/internal/database"
	"github.com/sydlexius/needledrop/internal/encryption"
	"github.com/sydlexius/needledrop/internal/enrich"
	"github.com/sydlexius/needledrop/internal/event"
	"github.com/sydlexius/needledrop/internal/logging"
	"github.com/sydlexius/needledrop/internal/maintenance"
	"github.com/sydlexius/needledrop/internal/matchcache"
	"github.com/sydlexius/needledrop/internal/provider"
	"github.com/sydlexius/needledrop/internal/provider/musicbrainz"
	"github.com/sydlexius/needledrop/internal/provider/spotify"
	"github.com/sydlexius/needledrop/internal/report"
	"github.com/sydlexius/needledrop/internal/settingsio"
	"github.com/sydlexius/needledrop/internal/version"
	"github.com/sydlexius/needledrop/internal/watcher"
)

func main() {
	// Handle subcommands before starting the server
	if len(os.Args) > 1 {
		var err error
		switch os.Args[1] {
		case "sync":
			err = runSync(os.Args[2:])
		case "report":
			err = runReport(os.Args[2:])
		case "export-settings":
			err = runExportSettings(os.Args[2:])
		case "import-settings":
			err = runImportSettings(os.Args[2:])
		case "reset-credentials":
			err = resetCredentials()
		case "serve":
			err = serve()
		case "version":
			fmt.Printf("needledrop %s (%s)\n", version.Version, version.Commit)
		case "help", "-h", "--help":
			usage()
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", os.Args[1])
			usage()
			os.Exit(2)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := serve(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprint(os.Stderr, `usage: needledrop [command]

Commands:
  serve              run the HTTP server (default)
  sync               run one enrichment batch and print the results
  report             print the coverage report
  export-settings    export settings to an encrypted file
  import-settings    import settings from an encrypted file
  reset-credentials  wipe all stored provider credentials
  version            print version information
`)
}

func configPath() string {
	if p := os.Getenv("ND_CONFIG_PATH"); p != "" {
		return p
	}
	return "/data/config.yaml"
}

func serve() error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Set up structured logging via the logging Manager
	logCfg := logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}
	logManager, logger := logging.NewManager(logCfg)
	defer logManager.Close() //nolint:errcheck
	slog.SetDefault(logger)

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Error("closing database", "error", err)
		}
	}()

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("database ready", slog.String("path", cfg.Database.Path))

	// Reload logging settings from DB (overrides config file values if present)
	loadDBLoggingConfig(db, logManager, logger)

	// Resolve encryption key: config/env > file > generate new
	encKey, err := resolveEncryptionKey(cfg, logger)
	if err != nil {
		return fmt.Errorf("resolving encryption key: %w", err)
	}
	encryptor, err := encryption.New(encKey)
	if err != nil {
		return fmt.Errorf("creating encryptor: %w", err)
	}

	// Catalog services
	mentionService := catalog.NewMentionService(db)

	// Provider infrastructure
	rateLimiters := provider.NewRateLimiterMap()
	providerSettings := provider.NewSettingsService(db, encryptor)
	providerRegistry := provider.NewRegistry()
	registerProviders(providerRegistry, cfg, rateLimiters, providerSettings, logger)

	// Enrichment pipeline
	cacheService := matchcache.NewService(db)
	budgetService := budget.NewService(db)
	runner := enrich.NewRunner(db, cacheService, budgetService, providerRegistry, providerSettings, logger)

	eventBus := event.NewBus(logger, 256)
	go eventBus.Start()
	defer eventBus.Stop()
	runner.SetEventBus(eventBus)

	reportService := report.NewService(db, cacheService, budgetService, runner.Runs())
	settingsIOService := settingsio.NewService(db, providerSettings)

	backupDir := cfg.Backup.Path
	if backupDir == "" {
		backupDir = filepath.Join(filepath.Dir(cfg.Database.Path), "backups")
	}
	backupService := backup.NewService(db, backupDir, cfg.Backup.RetentionCount, logger)
	maintenanceService := maintenance.NewService(db, cfg.Database.Path, logger)

	logger.Info("starting needledrop",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit),
	)

	router := api.NewRouter(api.RouterDeps{
		Runner:             runner,
		ReportService:      reportService,
		MentionService:     mentionService,
		CacheService:       cacheService,
		BudgetService:      budgetService,
		ProviderSettings:   providerSettings,
		ProviderRegistry:   providerRegistry,
		BackupService:      backupService,
		MaintenanceService: maintenanceService,
		SettingsIOService:  settingsIOService,
		LogManager:         logManager,
		DB:                 db,
		Logger:             logger,
		BasePath:           cfg.Server.BasePath,
	})

	// Graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if cfg.Backup.Enabled {
		go backupService.StartScheduler(ctx, time.Duration(cfg.Backup.IntervalHours)*time.Hour)
	}

	go maintenanceService.StartScheduler(ctx, 24*time.Hour)

	if cfg.Enrichment.Scheduled {
		target, err := enrich.ParseTarget(cfg.Enrichment.Target)
		if err != nil {
			return fmt.Errorf("configuring enrichment scheduler: %w", err)
		}
		scheduler := enrich.NewScheduler(runner, logger, target, cfg.Enrichment.BatchLimit)
		go scheduler.Start(ctx, time.Duration(cfg.Enrichment.IntervalHours)*time.Hour)
	}

	// Watch the config file so logging tweaks apply without a restart.
	{
		onReload := func(newCfg *config.Config) {
			cur := logManager.Config()
			cur.Level = newCfg.Logging.Level
			cur.Format = newCfg.Logging.Format
			logManager.Reconfigure(cur)
			logger.Info("logging reconfigured from config file",
				slog.String("config", cur.String()))
		}
		watcherService := watcher.NewService(configPath(), onReload, eventBus, logger)
		go watcherService.Start(ctx)
	}

	go func() {
		logger.Info("server starting", slog.String("addr", addr), slog.String("base_path", cfg.Server.BasePath))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	return srv.Shutdown(shutdownCtx)
}

// registerProviders adds all enabled provider adapters to the registry.
func registerProviders(reg *provider.Registry, cfg *config.Config, limiters *provider.RateLimiterMap, settings *provider.SettingsService, logger *slog.Logger) {
	if cfg.Providers.Spotify.Enabled {
		reg.Register(spotify.New(limiters, settings, logger))
	}
	if cfg.Providers.MusicBrainz.Enabled {
		reg.Register(musicbrainz.New(limiters, logger, cfg.Providers.MusicBrainz.Contact))
	}
}

// resolveEncryptionKey determines the encryption key to use.
// Priority: config/ND_ENCRYPTION_KEY > /data/encryption.key file > generate new.
func resolveEncryptionKey(cfg *config.Config, logger *slog.Logger) (string, error) {
	if cfg.Encryption.Key != "" {
		return cfg.Encryption.Key, nil
	}

	dataDir := filepath.Dir(cfg.Database.Path)
	keyFile := filepath.Join(dataDir, "encryption.key")

	// Try loading from file
	data, err := os.ReadFile(keyFile) //nolint:gosec // G304: path derived from trusted config
	if err == nil {
		key := strings.TrimSpace(string(data))
		if key != "" {
			logger.Debug("loaded encryption key from file", slog.String("path", keyFile))
			return key, nil
		}
	}

	key, err := encryption.GenerateKey()
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dataDir, 0o750); err != nil {
		logger.Warn("could not create data directory for encryption key",
			slog.String("path", dataDir), slog.Any("error", err))
		return key, nil
	}

	if err := os.WriteFile(keyFile, []byte(key+"\n"), 0o600); err != nil {
		logger.Warn("could not save encryption key to file",
			slog.String("path", keyFile), slog.Any("error", err))
	} else {
		logger.Warn("generated new encryption key -- back up this file",
			slog.String("path", keyFile))
	}

	return key, nil
}

// loadDBLoggingConfig applies logging settings stored in the database,
// overriding config file values. Settings are written by the logging API.
func loadDBLoggingConfig(db *sql.DB, logManager *logging.Manager, logger *slog.Logger) {
	cfg := logManager.Config()
	found := false

	if v, ok := getDBStringSetting(db, "logging.level"); ok && logging.ValidLevel(v) {
		cfg.Level = v
		found = true
	}
	if v, ok := getDBStringSetting(db, "logging.format"); ok && logging.ValidFormat(v) {
		cfg.Format = v
		found = true
	}
	if v, ok := getDBStringSetting(db, "logging.file_path"); ok {
		cfg.FilePath = v
		found = true
	}
	if v, ok := getDBIntSetting(db, "logging.file_max_size_mb"); ok {
		cfg.FileMaxSizeMB = v
		found = true
	}
	if v, ok := getDBIntSetting(db, "logging.file_max_files"); ok {
		cfg.FileMaxFiles = v
		found = true
	}
	if v, ok := getDBIntSetting(db, "logging.file_max_age_days"); ok {
		cfg.FileMaxAgeDays = v
		found = true
	}

	if found {
		logManager.Reconfigure(cfg)
		logger.Info("applied logging settings from database",
			slog.String("config", cfg.String()))
	}
}

func getDBStringSetting(db *sql.DB, key string) (string, bool) {
	var v string
	err := db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&v)
	if err != nil {
		return "", false
	}
	return v, true
}

func getDBIntSetting(db *sql.DB, key string) (int, bool) {
	v, ok := getDBStringSetting(db, key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

// resetCredentials wipes all stored provider credentials and statuses.
// This is an offline operation intended for recovery when the encryption
// key is lost.
func resetCredentials() error {
	cfg, err := config.Load(configPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer db.Close() //nolint:errcheck

	if err := database.Migrate(db); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	ctx := context.Background()

	res, err := db.ExecContext(ctx, "DELETE FROM settings WHERE key LIKE 'provider.%'")
	if err != nil {
		return fmt.Errorf("clearing provider credentials: %w", err)
	}

	n, _ := res.RowsAffected()
	fmt.Printf("Credentials reset: %d settings rows cleared.\n", n)
	fmt.Println("Re-enter provider credentials via the API before the next enrichment run.")
	return nil
}
