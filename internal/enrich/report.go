package enrich

import (
	"fmt"
	"time"
)

// Target selects which backlog a run works through.
type Target string

// Run targets. TargetAll runs mentions, then tracks, then artists.
const (
	TargetMentions Target = "mentions"
	TargetTracks   Target = "tracks"
	TargetArtists  Target = "artists"
	TargetAll      Target = "all"
)

// ParseTarget validates a raw target string.
func ParseTarget(s string) (Target, error) {
	switch Target(s) {
	case TargetMentions, TargetTracks, TargetArtists, TargetAll:
		return Target(s), nil
	}
	return "", fmt.Errorf("invalid target %q (want mentions, tracks, artists, or all)", s)
}

// MaxBatchLimit caps how many backlog items a single run pulls per target.
const MaxBatchLimit = 100

// Entity kinds used in sample items.
const (
	KindMention = "mention"
	KindTrack   = "track"
	KindArtist  = "artist"
)

// Request describes one batch invocation.
type Request struct {
	Target Target `json:"target"`
	// Limit bounds the backlog slice per target. Values outside 1..100
	// fall back to MaxBatchLimit.
	Limit int `json:"limit"`
	// DryRun computes and reports outcomes without persisting them.
	// Provider calls are never issued in a dry run; items the cache
	// cannot already answer are counted as skipped.
	DryRun bool `json:"dry_run"`
}

// Counters aggregates per-item outcomes for one target section. For
// provider targets each registered provider makes its own pass over the
// backlog slice, so Processed counts item-passes, not distinct records.
// Enriched counts applied writes: mention links for the mentions target,
// metadata merges for provider targets.
type Counters struct {
	Processed   int `json:"processed"`
	Enriched    int `json:"enriched"`
	CacheHits   int `json:"cache_hits"`
	NotFound    int `json:"not_found"`
	RateLimited int `json:"rate_limited"`
	Skipped     int `json:"skipped"`
	Invalid     int `json:"invalid"`
	// StoppedEarly is set when a provider portion halted on a throttle
	// signal, leaving backlog items for the next invocation.
	StoppedEarly bool `json:"stopped_early"`
}

func (c *Counters) add(other Counters) {
	c.Processed += other.Processed
	c.Enriched += other.Enriched
	c.CacheHits += other.CacheHits
	c.NotFound += other.NotFound
	c.RateLimited += other.RateLimited
	c.Skipped += other.Skipped
	c.Invalid += other.Invalid
	c.StoppedEarly = c.StoppedEarly || other.StoppedEarly
}

// Section is the counter set for one target within a run.
type Section struct {
	Target Target `json:"target"`
	Counters
}

// Report is the outcome of one batch run.
type Report struct {
	ID         string       `json:"id"`
	Target     Target       `json:"target"`
	Limit      int          `json:"limit"`
	DryRun     bool         `json:"dry_run"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt time.Time    `json:"finished_at"`
	Sections   []Section    `json:"sections"`
	Sample     []SampleItem `json:"sample"`
}

// Totals sums the counters across all sections.
func (r *Report) Totals() Counters {
	var t Counters
	for _, s := range r.Sections {
		t.add(s.Counters)
	}
	return t
}

// SampleItem is one matched or unmatched item surfaced for operator
// inspection. Tier and Confidence are set for mention links; Provider is
// set for enrichment lookups.
type SampleItem struct {
	Kind       string  `json:"kind"`
	ID         string  `json:"id"`
	Artist     string  `json:"artist,omitempty"`
	Title      string  `json:"title,omitempty"`
	Matched    bool    `json:"matched"`
	Tier       string  `json:"tier,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Provider   string  `json:"provider,omitempty"`
}

// sampleCap bounds each side of the sample list.
const sampleCap = 10

// sampleSet collects up to sampleCap matched and sampleCap unmatched
// items across a whole run.
type sampleSet struct {
	matched   []SampleItem
	unmatched []SampleItem
}

func (s *sampleSet) add(item SampleItem) {
	if item.Matched {
		if len(s.matched) < sampleCap {
			s.matched = append(s.matched, item)
		}
		return
	}
	if len(s.unmatched) < sampleCap {
		s.unmatched = append(s.unmatched, item)
	}
}

func (s *sampleSet) items() []SampleItem {
	out := make([]SampleItem, 0, len(s.matched)+len(s.unmatched))
	out = append(out, s.matched...)
	out = append(out, s.unmatched...)
	return out
}
