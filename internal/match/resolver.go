package match

import (
	"context"
	"fmt"

	"github.com/sydlexius/needledrop/internal/catalog"
)

// Decision is the outcome of resolving one mention against the index.
type Decision struct {
	Mention   *catalog.Mention
	Candidate *Candidate
	// Applied reports whether the link was persisted. It stays false in
	// dry-run mode and when the monotonic-upgrade rule kept an existing
	// stronger link in place.
	Applied bool
}

// Matched reports whether any qualifying candidate was found.
func (d *Decision) Matched() bool {
	return d.Candidate != nil
}

// Resolver drives mention state transitions. A mention moves from
// Unlinked to Linked when the matcher produces any qualifying candidate;
// the resolver always takes the single best one.
type Resolver struct {
	mentions *catalog.MentionService
}

// NewResolver creates a resolver writing through the given mention service.
func NewResolver(mentions *catalog.MentionService) *Resolver {
	return &Resolver{mentions: mentions}
}

// Resolve matches one mention and, unless dryRun is set, persists the
// best candidate as the mention's link. The persistence write is
// conditional: an existing link is only replaced by an equal-or-higher
// confidence, so re-resolving an already linked mention can upgrade but
// never downgrade it.
func (r *Resolver) Resolve(ctx context.Context, idx *Index, m *catalog.Mention, dryRun bool) (*Decision, error) {
	d := &Decision{Mention: m}

	cands := idx.Match(m.RawTitle, m.RawArtist)
	if len(cands) == 0 {
		return d, nil
	}
	best := cands[0]
	d.Candidate = &best

	if dryRun {
		return d, nil
	}

	applied, err := r.mentions.Link(ctx, m.ID, best.Track.ID, string(best.Tier), best.Confidence)
	if err != nil {
		return nil, fmt.Errorf("resolving mention %s: %w", m.ID, err)
	}
	d.Applied = applied
	return d, nil
}
