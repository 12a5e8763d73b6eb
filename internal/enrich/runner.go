// Package enrich orchestrates batch runs over the catalog backlogs:
// mention linkage against the in-memory match index, and track/artist
// metadata enrichment through the registered providers with cache and
// rate-budget gating.
package enrich

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sydlexius/needledrop/internal/budget"
	"github.com/sydlexius/needledrop/internal/catalog"
	"github.com/sydlexius/needledrop/internal/event"
	"github.com/sydlexius/needledrop/internal/match"
	"github.com/sydlexius/needledrop/internal/matchcache"
	"github.com/sydlexius/needledrop/internal/provider"
	"github.com/sydlexius/needledrop/internal/textnorm"
)

// ErrRunInProgress is returned when a run is requested while another is active.
var ErrRunInProgress = errors.New("an enrichment run is already in progress")

// Runner executes batch runs. Only one run executes at a time; the
// scheduler and the HTTP trigger share the same instance.
type Runner struct {
	mentions *catalog.MentionService
	tracks   *catalog.TrackService
	artists  *catalog.ArtistService
	aliases  *catalog.AliasService
	runs     *RunService
	cache    *matchcache.Service
	budgets  *budget.Service
	registry *provider.Registry
	settings *provider.SettingsService
	logger   *slog.Logger
	bus      *event.Bus

	mu      sync.Mutex
	running bool
}

// NewRunner creates a Runner. The cache and budget services are injected
// so runs share durable state with the operator surfaces that inspect
// and clear it.
func NewRunner(db *sql.DB, cache *matchcache.Service, budgets *budget.Service, registry *provider.Registry, settings *provider.SettingsService, logger *slog.Logger) *Runner {
	return &Runner{
		mentions: catalog.NewMentionService(db),
		tracks:   catalog.NewTrackService(db),
		artists:  catalog.NewArtistService(db),
		aliases:  catalog.NewAliasService(db),
		runs:     NewRunService(db),
		cache:    cache,
		budgets:  budgets,
		registry: registry,
		settings: settings,
		logger:   logger.With(slog.String("component", "enrich-runner")),
	}
}

// SetEventBus sets the event bus for publishing run events.
func (r *Runner) SetEventBus(bus *event.Bus) {
	r.bus = bus
}

// Runs reports run history through the runner's RunService.
func (r *Runner) Runs() *RunService {
	return r.runs
}

// Run executes one batch run and returns its report. Work persisted
// before an error or a throttle halt is never rolled back; re-invoking
// the same request continues where the previous run left off, because
// enriched records drop out of the backlog and cached keys are answered
// without provider calls.
func (r *Runner) Run(ctx context.Context, req Request) (*Report, error) {
	if _, err := ParseTarget(string(req.Target)); err != nil {
		return nil, err
	}
	limit := req.Limit
	if limit <= 0 || limit > MaxBatchLimit {
		limit = MaxBatchLimit
	}

	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return nil, ErrRunInProgress
	}
	r.running = true
	r.mu.Unlock()
	defer func() {
		r.mu.Lock()
		r.running = false
		r.mu.Unlock()
	}()

	rep := &Report{
		ID:        uuid.New().String(),
		Target:    req.Target,
		Limit:     limit,
		DryRun:    req.DryRun,
		StartedAt: time.Now().UTC(),
	}
	samples := &sampleSet{}
	log := r.logger.With(slog.String("run_id", rep.ID), slog.String("target", string(req.Target)))
	log.Info("enrichment run started", "limit", limit, "dry_run", req.DryRun)

	targets := []Target{req.Target}
	if req.Target == TargetAll {
		targets = []Target{TargetMentions, TargetTracks, TargetArtists}
	}

	for _, t := range targets {
		var sec Counters
		var err error
		switch t {
		case TargetMentions:
			sec, err = r.linkMentions(ctx, limit, req.DryRun, samples)
		case TargetTracks:
			sec, err = r.enrichTracks(ctx, limit, req.DryRun, samples)
		case TargetArtists:
			sec, err = r.enrichArtists(ctx, limit, req.DryRun, samples)
		}
		if err != nil {
			return nil, fmt.Errorf("%s run: %w", t, err)
		}
		rep.Sections = append(rep.Sections, Section{Target: t, Counters: sec})
	}

	rep.FinishedAt = time.Now().UTC()
	rep.Sample = samples.items()

	if err := r.runs.Record(ctx, rep); err != nil {
		log.Warn("recording run history", "error", err)
	}

	totals := rep.Totals()
	log.Info("enrichment run complete",
		"processed", totals.Processed,
		"enriched", totals.Enriched,
		"cache_hits", totals.CacheHits,
		"not_found", totals.NotFound,
		"rate_limited", totals.RateLimited,
		"skipped", totals.Skipped,
		"invalid", totals.Invalid,
		"stopped_early", totals.StoppedEarly,
		"duration", rep.FinishedAt.Sub(rep.StartedAt).String(),
	)
	r.publish(event.RunCompleted, map[string]any{
		"run_id":        rep.ID,
		"target":        string(rep.Target),
		"dry_run":       rep.DryRun,
		"processed":     totals.Processed,
		"enriched":      totals.Enriched,
		"stopped_early": totals.StoppedEarly,
	})
	return rep, nil
}

// linkMentions resolves unlinked mentions against an index built from a
// full catalog scan. Purely local: no provider calls, no cache or budget
// involvement.
func (r *Runner) linkMentions(ctx context.Context, limit int, dryRun bool, samples *sampleSet) (Counters, error) {
	var c Counters

	backlog, err := r.mentions.Unlinked(ctx, limit)
	if err != nil {
		return c, fmt.Errorf("listing mention backlog: %w", err)
	}
	if len(backlog) == 0 {
		return c, nil
	}

	tracks, err := r.tracks.All(ctx)
	if err != nil {
		return c, fmt.Errorf("loading tracks for index: %w", err)
	}
	artists, err := r.artists.All(ctx)
	if err != nil {
		return c, fmt.Errorf("loading artists for index: %w", err)
	}
	artistAliases, err := r.aliases.ArtistAliases(ctx)
	if err != nil {
		return c, fmt.Errorf("loading artist aliases for index: %w", err)
	}
	trackAliases, err := r.aliases.TrackAliases(ctx)
	if err != nil {
		return c, fmt.Errorf("loading track aliases for index: %w", err)
	}

	idx := match.BuildIndex(tracks, artists, artistAliases, trackAliases)
	resolver := match.NewResolver(r.mentions)

	for i := range backlog {
		if ctx.Err() != nil {
			break
		}
		m := &backlog[i]
		c.Processed++

		if textnorm.Normalize(m.RawTitle) == "" && textnorm.Normalize(m.RawArtist) == "" {
			c.Invalid++
			continue
		}

		d, err := resolver.Resolve(ctx, idx, m, dryRun)
		if err != nil {
			r.logger.Warn("resolving mention", "mention_id", m.ID, "error", err)
			c.Skipped++
			continue
		}
		if !d.Matched() {
			samples.add(SampleItem{
				Kind:   KindMention,
				ID:     m.ID,
				Artist: m.RawArtist,
				Title:  m.RawTitle,
			})
			continue
		}

		best := d.Candidate
		samples.add(SampleItem{
			Kind:       KindMention,
			ID:         m.ID,
			Artist:     m.RawArtist,
			Title:      m.RawTitle,
			Matched:    true,
			Tier:       string(best.Tier),
			Confidence: best.Confidence,
		})
		if dryRun || d.Applied {
			c.Enriched++
		}
		if d.Applied {
			r.publish(event.MentionLinked, map[string]any{
				"mention_id": m.ID,
				"track_id":   best.Track.ID,
				"tier":       string(best.Tier),
				"confidence": best.Confidence,
			})
		}
	}
	return c, nil
}

// enrichItem is one backlog record from a provider portion's point of
// view. The lookup and apply closures hide the track/artist difference
// so the portion loop stays shared.
type enrichItem struct {
	kind   string
	id     string
	artist string
	title  string
	lookup func(ctx context.Context, p provider.Provider) (*provider.Result, error)
	apply  func(ctx context.Context, res *provider.Result) (bool, error)
}

func (r *Runner) enrichTracks(ctx context.Context, limit int, dryRun bool, samples *sampleSet) (Counters, error) {
	var c Counters

	backlog, err := r.tracks.Backlog(ctx, limit)
	if err != nil {
		return c, fmt.Errorf("listing track backlog: %w", err)
	}

	var items []enrichItem
	for i := range backlog {
		t := &backlog[i]
		if textnorm.Normalize(t.Title) == "" && textnorm.Normalize(t.ArtistName) == "" {
			c.Processed++
			c.Invalid++
			continue
		}
		items = append(items, enrichItem{
			kind:   KindTrack,
			id:     t.ID,
			artist: t.ArtistName,
			title:  t.Title,
			lookup: func(ctx context.Context, p provider.Provider) (*provider.Result, error) {
				return p.LookupTrack(ctx, t.ArtistName, t.Title)
			},
			apply: func(ctx context.Context, res *provider.Result) (bool, error) {
				if !applyTrackResult(t, res) {
					return false, nil
				}
				if t.EnrichedAt == nil {
					now := time.Now().UTC()
					t.EnrichedAt = &now
				}
				if err := r.tracks.Update(ctx, t); err != nil {
					return false, err
				}
				return true, nil
			},
		})
	}

	if err := r.runPortions(ctx, items, dryRun, &c, samples, event.TrackEnriched); err != nil {
		return c, err
	}
	return c, nil
}

func (r *Runner) enrichArtists(ctx context.Context, limit int, dryRun bool, samples *sampleSet) (Counters, error) {
	var c Counters

	backlog, err := r.artists.Backlog(ctx, limit)
	if err != nil {
		return c, fmt.Errorf("listing artist backlog: %w", err)
	}

	var items []enrichItem
	for i := range backlog {
		a := &backlog[i]
		if textnorm.Normalize(a.Name) == "" {
			c.Processed++
			c.Invalid++
			continue
		}
		items = append(items, enrichItem{
			kind:   KindArtist,
			id:     a.ID,
			artist: a.Name,
			lookup: func(ctx context.Context, p provider.Provider) (*provider.Result, error) {
				return p.LookupArtist(ctx, a.Name)
			},
			apply: func(ctx context.Context, res *provider.Result) (bool, error) {
				if !applyArtistResult(a, res) {
					return false, nil
				}
				if a.EnrichedAt == nil {
					now := time.Now().UTC()
					a.EnrichedAt = &now
				}
				if err := r.artists.Update(ctx, a); err != nil {
					return false, err
				}
				return true, nil
			},
		})
	}

	if err := r.runPortions(ctx, items, dryRun, &c, samples, event.ArtistEnriched); err != nil {
		return c, err
	}
	return c, nil
}

// runPortions walks the registered providers in consultation order; each
// makes an independent pass over the same backlog slice. The items are
// shared, so a later provider's merge fills only fields an earlier one
// left empty.
func (r *Runner) runPortions(ctx context.Context, items []enrichItem, dryRun bool, c *Counters, samples *sampleSet, evType event.Type) error {
	if len(items) == 0 {
		return nil
	}

	providers, err := r.usableProviders(ctx)
	if err != nil {
		return err
	}

	for _, p := range providers {
		po := &portion{
			p:       p,
			name:    string(p.Name()),
			dryRun:  dryRun,
			c:       c,
			samples: samples,
			evType:  evType,
			log:     r.logger.With(slog.String("provider", string(p.Name()))),
		}
		r.runPortion(ctx, po, items)
	}
	return nil
}

// usableProviders filters the registry down to providers whose
// credentials are in place. A run with no usable provider fails before
// touching any item.
func (r *Runner) usableProviders(ctx context.Context) ([]provider.Provider, error) {
	var usable []provider.Provider
	for _, p := range r.registry.All() {
		if p.RequiresAuth() {
			ok, err := r.settings.HasCredentials(ctx, p.Name())
			if err != nil {
				return nil, fmt.Errorf("checking %s credentials: %w", p.Name(), err)
			}
			if !ok {
				r.logger.Info("provider not configured, skipping its portion", "provider", string(p.Name()))
				continue
			}
		}
		usable = append(usable, p)
	}
	if len(usable) == 0 {
		return nil, fmt.Errorf("no configured providers")
	}
	return usable, nil
}

// portion carries one provider's pass state through the item loop.
type portion struct {
	p       provider.Provider
	name    string
	dryRun  bool
	c       *Counters
	samples *sampleSet
	evType  event.Type
	log     *slog.Logger
}

// runPortion processes the backlog slice sequentially for one provider,
// stopping at the first halt signal. A throttle halt leaves the
// remaining items untouched for the next invocation.
func (r *Runner) runPortion(ctx context.Context, po *portion, items []enrichItem) {
	for i := range items {
		if ctx.Err() != nil {
			return
		}
		if halt := r.processItem(ctx, po, &items[i]); halt {
			return
		}
	}
}

// processItem runs the per-item algorithm: cache check, budget gate,
// provider call, cache write, merge persist. Returns true when the
// provider's portion must stop.
func (r *Runner) processItem(ctx context.Context, po *portion, it *enrichItem) (halt bool) {
	entry, err := r.cache.Check(ctx, po.name, it.artist, it.title)
	if err != nil {
		po.log.Warn("checking lookup cache", "id", it.id, "error", err)
		po.c.Processed++
		po.c.Skipped++
		return false
	}
	if entry != nil {
		po.c.Processed++
		po.c.CacheHits++
		if !entry.Found {
			po.c.NotFound++
			po.samples.add(SampleItem{Kind: it.kind, ID: it.id, Artist: it.artist, Title: it.title, Provider: po.name})
			return false
		}
		var res provider.Result
		if err := json.Unmarshal([]byte(entry.Payload), &res); err != nil {
			po.log.Warn("decoding cached payload", "id", it.id, "error", err)
			po.c.Skipped++
			return false
		}
		r.applyResult(ctx, po, it, &res)
		return false
	}

	if po.dryRun {
		po.c.Processed++
		po.c.Skipped++
		return false
	}

	allowed, blockedUntil, err := r.budgets.CanMakeRequest(ctx, po.name)
	if err != nil {
		po.log.Warn("checking rate budget", "id", it.id, "error", err)
		po.c.Processed++
		po.c.Skipped++
		return false
	}
	if !allowed {
		until := ""
		if blockedUntil != nil {
			until = blockedUntil.Format(time.RFC3339)
		}
		po.log.Info("rate budget exhausted, halting provider portion", "blocked_until", until)
		po.c.RateLimited++
		po.c.StoppedEarly = true
		return true
	}

	res, err := it.lookup(ctx, po.p)
	if err != nil {
		return r.handleLookupError(ctx, po, it, err)
	}

	po.c.Processed++
	payload, _ := json.Marshal(res)
	if err := r.cache.Write(ctx, po.name, it.artist, it.title, true, string(payload)); err != nil {
		po.log.Warn("writing lookup cache", "id", it.id, "error", err)
	}
	r.applyResult(ctx, po, it, res)
	return false
}

// handleLookupError sorts a provider error into the taxonomy: not-found
// is cached as a permanent negative, a throttle halts the portion with
// stoppedEarly set, missing credentials halt the portion silently, and
// anything transient skips the item without caching so the next run
// retries it.
func (r *Runner) handleLookupError(ctx context.Context, po *portion, it *enrichItem, err error) (halt bool) {
	var notFound *provider.ErrNotFound
	var rateLimited *provider.ErrRateLimited
	var notConfigured *provider.ErrNotConfigured
	var unavailable *provider.ErrUnavailable

	switch {
	case errors.As(err, &notFound):
		po.c.Processed++
		po.c.NotFound++
		if werr := r.cache.Write(ctx, po.name, it.artist, it.title, false, ""); werr != nil {
			po.log.Warn("writing lookup cache", "id", it.id, "error", werr)
		}
		po.samples.add(SampleItem{Kind: it.kind, ID: it.id, Artist: it.artist, Title: it.title, Provider: po.name})
		return false

	case errors.As(err, &rateLimited):
		po.log.Warn("provider throttled, halting portion", "retry_after", rateLimited.RetryAfter.String())
		if berr := r.budgets.RecordRateLimit(ctx, po.name, rateLimited.RetryAfter); berr != nil {
			po.log.Error("recording rate limit", "error", berr)
		}
		po.c.RateLimited++
		po.c.StoppedEarly = true
		r.publish(event.ProviderThrottled, map[string]any{
			"provider":    po.name,
			"retry_after": rateLimited.RetryAfter.String(),
		})
		return true

	case errors.As(err, &notConfigured):
		po.log.Info("provider not configured, halting portion")
		return true

	case errors.As(err, &unavailable):
		po.log.Warn("provider unavailable, skipping item", "id", it.id, "error", err)
		po.c.Processed++
		po.c.Skipped++
		return false

	default:
		po.log.Warn("provider lookup failed, skipping item", "id", it.id, "error", err)
		po.c.Processed++
		po.c.Skipped++
		return false
	}
}

// applyResult merges a positive result into the canonical record. In a
// dry run the merge is counted but not performed.
func (r *Runner) applyResult(ctx context.Context, po *portion, it *enrichItem, res *provider.Result) {
	po.samples.add(SampleItem{
		Kind:     it.kind,
		ID:       it.id,
		Artist:   it.artist,
		Title:    it.title,
		Matched:  true,
		Provider: string(res.Provider),
	})
	if po.dryRun {
		po.c.Enriched++
		return
	}

	changed, err := it.apply(ctx, res)
	if err != nil {
		po.log.Warn("applying enrichment", "id", it.id, "error", err)
		po.c.Skipped++
		return
	}
	if !changed {
		return
	}
	po.c.Enriched++
	r.publish(po.evType, map[string]any{
		"id":       it.id,
		"provider": string(res.Provider),
	})
}

// applyTrackResult copies result fields the track does not already
// carry. First writer wins: a later provider fills only gaps. Returns
// true when anything changed.
func applyTrackResult(t *catalog.Track, res *provider.Result) bool {
	changed := false
	if t.SpotifyID == "" && res.SpotifyID != "" {
		t.SpotifyID = res.SpotifyID
		changed = true
	}
	if t.MusicBrainzID == "" && res.MusicBrainzID != "" {
		t.MusicBrainzID = res.MusicBrainzID
		changed = true
	}
	if t.ISRC == "" && res.ISRC != "" {
		t.ISRC = res.ISRC
		changed = true
	}
	if t.Label == "" && res.Label != "" {
		t.Label = res.Label
		changed = true
	}
	if t.ReleaseDate == "" && res.ReleaseDate != "" {
		t.ReleaseDate = res.ReleaseDate
		changed = true
	}
	if len(t.Tags) == 0 && len(res.Tags) > 0 {
		t.Tags = res.Tags
		changed = true
	}
	if t.Popularity == nil && res.Popularity != nil {
		v := *res.Popularity
		t.Popularity = &v
		changed = true
	}
	if t.PreviewURL == "" && res.PreviewURL != "" {
		t.PreviewURL = res.PreviewURL
		changed = true
	}
	if t.ArtworkURL == "" && res.ArtworkURL != "" {
		t.ArtworkURL = res.ArtworkURL
		changed = true
	}
	if t.CanonicalURL == "" && res.CanonicalURL != "" {
		t.CanonicalURL = res.CanonicalURL
		changed = true
	}
	return changed
}

// applyArtistResult copies result fields the artist does not already
// carry. Provider tags land in Genres.
func applyArtistResult(a *catalog.Artist, res *provider.Result) bool {
	changed := false
	if a.SpotifyID == "" && res.SpotifyID != "" {
		a.SpotifyID = res.SpotifyID
		changed = true
	}
	if a.MusicBrainzID == "" && res.MusicBrainzID != "" {
		a.MusicBrainzID = res.MusicBrainzID
		changed = true
	}
	if len(a.Genres) == 0 && len(res.Tags) > 0 {
		a.Genres = res.Tags
		changed = true
	}
	if a.Popularity == nil && res.Popularity != nil {
		v := *res.Popularity
		a.Popularity = &v
		changed = true
	}
	if a.ImageURL == "" && res.ImageURL != "" {
		a.ImageURL = res.ImageURL
		changed = true
	}
	if a.CanonicalURL == "" && res.CanonicalURL != "" {
		a.CanonicalURL = res.CanonicalURL
		changed = true
	}
	if a.Country == "" && res.Country != "" {
		a.Country = res.Country
		changed = true
	}
	return changed
}

func (r *Runner) publish(t event.Type, data map[string]any) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(event.Event{Type: t, Data: data})
}
