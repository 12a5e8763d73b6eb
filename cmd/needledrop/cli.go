package main

import (
	"bufio"
	"context"
	"database/sql"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"time"

	"golang.org/x/term"

	"github.com/sydlexius/needledrop/internal/budget"
	"github.com/sydlexius/needledrop/internal/config"
	"github.com/sydlexius/needledrop/internal/database"
	"github.com/sydlexius/needledrop/internal/encryption"
	"github.com/sydlexius/needledrop/internal/enrich"
	"github.com/sydlexius/needledrop/internal/matchcache"
	"github.com/sydlexius/needledrop/internal/provider"
	"github.com/sydlexius/needledrop/internal/report"
	"github.com/sydlexius/needledrop/internal/settingsio"
)

// cliApp bundles the services a subcommand needs. Logs go to stderr so
// tables and JSON stay clean on stdout.
type cliApp struct {
	cfg              *config.Config
	db               *sql.DB
	logger           *slog.Logger
	providerSettings *provider.SettingsService
	registry         *provider.Registry
	cache            *matchcache.Service
	budgets          *budget.Service
	runner           *enrich.Runner
}

func openCLI() (*cliApp, error) {
	cfg, err := config.Load(configPath())
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))

	db, err := database.Open(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := database.Migrate(db); err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	encKey, err := resolveEncryptionKey(cfg, logger)
	if err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("resolving encryption key: %w", err)
	}
	encryptor, err := encryption.New(encKey)
	if err != nil {
		db.Close() //nolint:errcheck
		return nil, fmt.Errorf("creating encryptor: %w", err)
	}

	rateLimiters := provider.NewRateLimiterMap()
	providerSettings := provider.NewSettingsService(db, encryptor)
	registry := provider.NewRegistry()
	registerProviders(registry, cfg, rateLimiters, providerSettings, logger)

	cache := matchcache.NewService(db)
	budgets := budget.NewService(db)
	runner := enrich.NewRunner(db, cache, budgets, registry, providerSettings, logger)

	return &cliApp{
		cfg:              cfg,
		db:               db,
		logger:           logger,
		providerSettings: providerSettings,
		registry:         registry,
		cache:            cache,
		budgets:          budgets,
		runner:           runner,
	}, nil
}

func (a *cliApp) Close() {
	a.db.Close() //nolint:errcheck
}

// runSync executes one enrichment batch and prints a per-target summary.
func runSync(args []string) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	targetFlag := fs.String("target", "", "backlog to work through: mentions, tracks, artists, or all")
	limitFlag := fs.Int("limit", 0, "items per target (1-100, default from config)")
	dryRun := fs.Bool("dry-run", false, "compute outcomes without persisting them")
	if err := fs.Parse(args); err != nil {
		return err
	}

	app, err := openCLI()
	if err != nil {
		return err
	}
	defer app.Close()

	rawTarget := *targetFlag
	if rawTarget == "" {
		rawTarget = app.cfg.Enrichment.Target
	}
	target, err := enrich.ParseTarget(rawTarget)
	if err != nil {
		return err
	}

	limit := *limitFlag
	if limit == 0 {
		limit = app.cfg.Enrichment.BatchLimit
	}

	ctx := context.Background()
	rep, err := app.runner.Run(ctx, enrich.Request{
		Target: target,
		Limit:  limit,
		DryRun: *dryRun,
	})
	if err != nil {
		return fmt.Errorf("running batch: %w", err)
	}

	rows := make([][]string, 0, len(rep.Sections)+1)
	for _, sec := range rep.Sections {
		rows = append(rows, counterRow(string(sec.Target), sec.Counters))
	}
	rows = append(rows, counterRow("total", rep.Totals()))

	fmt.Println(renderTable(
		[]string{"Target", "Processed", "Enriched", "Cache Hits", "Not Found", "Rate Limited", "Skipped", "Invalid", "Stopped Early"},
		rows,
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignRight, alignLeft},
	))

	if len(rep.Sample) > 0 {
		sampleRows := make([][]string, 0, len(rep.Sample))
		for _, item := range rep.Sample {
			matched := "no"
			if item.Matched {
				matched = "yes"
			}
			sampleRows = append(sampleRows, []string{
				item.Kind, item.Artist, item.Title, matched, item.Tier, item.Provider,
			})
		}
		fmt.Println(renderTable(
			[]string{"Kind", "Artist", "Title", "Matched", "Tier", "Provider"},
			sampleRows,
			nil,
		))
	}

	fmt.Printf("run %s finished in %s\n", rep.ID, rep.FinishedAt.Sub(rep.StartedAt).Round(time.Millisecond))
	return nil
}

func counterRow(label string, c enrich.Counters) []string {
	stopped := ""
	if c.StoppedEarly {
		stopped = "yes"
	}
	return []string{
		label,
		strconv.Itoa(c.Processed),
		strconv.Itoa(c.Enriched),
		strconv.Itoa(c.CacheHits),
		strconv.Itoa(c.NotFound),
		strconv.Itoa(c.RateLimited),
		strconv.Itoa(c.Skipped),
		strconv.Itoa(c.Invalid),
		stopped,
	}
}

// runReport prints the coverage report as tables, or JSON with -json.
func runReport(args []string) error {
	fs := flag.NewFlagSet("report", flag.ExitOnError)
	asJSON := fs.Bool("json", false, "emit the report as JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}

	app, err := openCLI()
	if err != nil {
		return err
	}
	defer app.Close()

	ctx := context.Background()
	reportService := report.NewService(app.db, app.cache, app.budgets, app.runner.Runs())
	cov, err := reportService.Coverage(ctx)
	if err != nil {
		return fmt.Errorf("building report: %w", err)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cov)
	}

	fmt.Println(renderTable(
		[]string{"", "Total", "Done", "Pending"},
		[][]string{
			{"mentions", strconv.Itoa(cov.Mentions.Total), strconv.Itoa(cov.Mentions.Linked), strconv.Itoa(cov.Mentions.Unlinked)},
			{"tracks", strconv.Itoa(cov.Tracks.Total), strconv.Itoa(cov.Tracks.Enriched), strconv.Itoa(cov.Tracks.Pending)},
			{"artists", strconv.Itoa(cov.Artists.Total), strconv.Itoa(cov.Artists.Enriched), strconv.Itoa(cov.Artists.Pending)},
		},
		[]columnAlignment{alignLeft, alignRight, alignRight, alignRight},
	))

	if len(cov.Mentions.ByTier) > 0 {
		tiers := make([]string, 0, len(cov.Mentions.ByTier))
		for tier := range cov.Mentions.ByTier {
			tiers = append(tiers, tier)
		}
		sort.Strings(tiers)
		tierRows := make([][]string, 0, len(tiers))
		for _, tier := range tiers {
			tierRows = append(tierRows, []string{tier, strconv.Itoa(cov.Mentions.ByTier[tier])})
		}
		fmt.Println(renderTable(
			[]string{"Match Tier", "Links"},
			tierRows,
			[]columnAlignment{alignLeft, alignRight},
		))
	}

	if len(cov.Cache) > 0 {
		cacheRows := make([][]string, 0, len(cov.Cache))
		for _, st := range cov.Cache {
			cacheRows = append(cacheRows, []string{
				st.Provider, strconv.Itoa(st.Positive), strconv.Itoa(st.Negative),
			})
		}
		fmt.Println(renderTable(
			[]string{"Provider", "Cached Hits", "Cached Misses"},
			cacheRows,
			[]columnAlignment{alignLeft, alignRight, alignRight},
		))
	}

	if len(cov.Budgets) > 0 {
		budgetRows := make([][]string, 0, len(cov.Budgets))
		for _, st := range cov.Budgets {
			blocked := "-"
			if st.BlockedUntil != nil {
				blocked = st.BlockedUntil.Format(time.RFC3339)
			}
			budgetRows = append(budgetRows, []string{st.Provider, blocked})
		}
		fmt.Println(renderTable(
			[]string{"Provider", "Blocked Until"},
			budgetRows,
			nil,
		))
	}

	if len(cov.RecentRuns) > 0 {
		runRows := make([][]string, 0, len(cov.RecentRuns))
		for _, run := range cov.RecentRuns {
			runRows = append(runRows, []string{
				run.StartedAt.Format("2006-01-02 15:04"),
				string(run.Target),
				strconv.Itoa(run.Processed),
				strconv.Itoa(run.Enriched),
				strconv.Itoa(run.RateLimited),
			})
		}
		fmt.Println(renderTable(
			[]string{"Started", "Target", "Processed", "Enriched", "Rate Limited"},
			runRows,
			[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignRight},
		))
	}

	if len(cov.Unmatched) > 0 {
		unmatchedRows := make([][]string, 0, len(cov.Unmatched))
		for _, m := range cov.Unmatched {
			unmatchedRows = append(unmatchedRows, []string{m.RawArtist, m.RawTitle, m.Source})
		}
		fmt.Println(renderTable(
			[]string{"Raw Artist", "Raw Title", "Source"},
			unmatchedRows,
			nil,
		))
	}

	return nil
}

// runExportSettings writes an encrypted settings envelope to a file.
func runExportSettings(args []string) error {
	fs := flag.NewFlagSet("export-settings", flag.ExitOnError)
	output := fs.String("output", "", "output file (default needledrop-settings-<timestamp>.json)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	app, err := openCLI()
	if err != nil {
		return err
	}
	defer app.Close()

	passphrase, err := promptPassphrase("Export passphrase: ")
	if err != nil {
		return err
	}
	confirm, err := promptPassphrase("Confirm passphrase: ")
	if err != nil {
		return err
	}
	if passphrase != confirm {
		return fmt.Errorf("passphrases do not match")
	}

	svc := settingsio.NewService(app.db, app.providerSettings)
	env, err := svc.Export(context.Background(), passphrase)
	if err != nil {
		return fmt.Errorf("exporting settings: %w", err)
	}

	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}

	path := *output
	if path == "" {
		path = fmt.Sprintf("needledrop-settings-%s.json", time.Now().UTC().Format("20060102-150405"))
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing export file: %w", err)
	}

	fmt.Printf("Settings exported to %s\n", path)
	return nil
}

// runImportSettings reads an encrypted settings envelope from a file and
// applies it, re-encrypting credentials with this instance's key.
func runImportSettings(args []string) error {
	fs := flag.NewFlagSet("import-settings", flag.ExitOnError)
	input := fs.String("input", "", "envelope file to import (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *input == "" {
		return fmt.Errorf("-input is required")
	}

	data, err := os.ReadFile(*input) //nolint:gosec // G304: operator-supplied path
	if err != nil {
		return fmt.Errorf("reading envelope file: %w", err)
	}

	var env settingsio.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decoding envelope: %w", err)
	}

	app, err := openCLI()
	if err != nil {
		return err
	}
	defer app.Close()

	passphrase, err := promptPassphrase("Import passphrase: ")
	if err != nil {
		return err
	}

	svc := settingsio.NewService(app.db, app.providerSettings)
	res, err := svc.Import(context.Background(), &env, passphrase)
	if err != nil {
		return fmt.Errorf("importing settings: %w", err)
	}

	fmt.Printf("Imported %d settings and credentials for %d providers.\n",
		res.Settings, res.Credentials)
	return nil
}

// promptPassphrase reads a passphrase without echo when stdin is a
// terminal, falling back to a plain line read for piped input.
func promptPassphrase(prompt string) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		fmt.Fprint(os.Stderr, prompt)
		raw, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", fmt.Errorf("reading passphrase: %w", err)
		}
		return string(raw), nil
	}

	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("reading passphrase: %w", err)
	}
	return trimNewline(line), nil
}

func trimNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
