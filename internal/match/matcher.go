package match

import (
	"sort"

	"github.com/sydlexius/needledrop/internal/catalog"
	"github.com/sydlexius/needledrop/internal/textnorm"
)

// Tier describes how a mention was matched to a canonical record.
type Tier string

// Match tiers, strongest first.
const (
	TierExact     Tier = "exact"
	TierAlias     Tier = "alias"
	TierTitleOnly Tier = "title-only"
	TierFuzzy     Tier = "fuzzy"
)

// Fixed confidences and fuzzy thresholds.
const (
	exactConfidence     = 1.0
	aliasConfidence     = 0.95
	titleOnlyConfidence = 0.9

	fuzzyTitleThreshold      = 0.8
	fuzzyArtistThreshold     = 0.5
	fuzzyTitleAloneThreshold = 0.95
)

// Candidate is a canonical record qualifying for a mention.
type Candidate struct {
	Track      *catalog.Track
	Tier       Tier
	Confidence float64
	TitleSim   float64
	ArtistSim  float64
}

// Index is an in-memory view of the canonical catalog, built once per
// batch rather than per mention. Lookups are by normalized key so the
// same raw spelling variations always resolve identically.
type Index struct {
	byKey      map[string]*catalog.Track
	byTitle    map[string][]*catalog.Track
	trackAlias map[string][]*catalog.Track
	// artistAlias maps a normalized alias spelling to the normalized
	// canonical names it stands for.
	artistAlias map[string][]string
	tracks      []*catalog.Track
}

// BuildIndex constructs an Index from a full catalog scan. When several
// tracks share a normalized key, the lowest id wins, so exact matching
// never depends on catalog iteration order.
func BuildIndex(tracks []catalog.Track, artists []catalog.Artist, artistAliases []catalog.ArtistAlias, trackAliases []catalog.TrackAlias) *Index {
	idx := &Index{
		byKey:       make(map[string]*catalog.Track, len(tracks)),
		byTitle:     make(map[string][]*catalog.Track),
		trackAlias:  make(map[string][]*catalog.Track),
		artistAlias: make(map[string][]string),
	}

	idx.tracks = make([]*catalog.Track, len(tracks))
	trackByID := make(map[string]*catalog.Track, len(tracks))
	for i := range tracks {
		t := &tracks[i]
		idx.tracks[i] = t
		trackByID[t.ID] = t

		key := t.ArtistNormalized + "|" + t.TitleNormalized
		if exist, ok := idx.byKey[key]; !ok || t.ID < exist.ID {
			idx.byKey[key] = t
		}
		idx.byTitle[t.TitleNormalized] = append(idx.byTitle[t.TitleNormalized], t)
	}

	artistNormByID := make(map[string]string, len(artists))
	for i := range artists {
		artistNormByID[artists[i].ID] = artists[i].NameNormalized
	}
	for _, aa := range artistAliases {
		canon, ok := artistNormByID[aa.ArtistID]
		if !ok {
			continue
		}
		idx.artistAlias[aa.AliasNormalized] = append(idx.artistAlias[aa.AliasNormalized], canon)
	}
	for _, ta := range trackAliases {
		t, ok := trackByID[ta.TrackID]
		if !ok {
			continue
		}
		idx.trackAlias[ta.AliasNormalized] = append(idx.trackAlias[ta.AliasNormalized], t)
	}

	return idx
}

// Match finds candidates for a raw mention. Tiers are tried strongest
// first and the first tier producing any candidate supplies the whole
// result, ordered best first. An empty normalized title matches nothing.
func (idx *Index) Match(rawTitle, rawArtist string) []Candidate {
	normTitle := textnorm.Normalize(rawTitle)
	normArtist := textnorm.Normalize(rawArtist)
	if normTitle == "" {
		return nil
	}

	if t, ok := idx.byKey[normArtist+"|"+normTitle]; ok {
		return []Candidate{{
			Track:      t,
			Tier:       TierExact,
			Confidence: exactConfidence,
			TitleSim:   1.0,
			ArtistSim:  1.0,
		}}
	}

	if cands := idx.matchAlias(rawTitle, rawArtist, normTitle, normArtist); len(cands) > 0 {
		return cands
	}

	if tracks, ok := idx.byTitle[normTitle]; ok && len(tracks) > 0 {
		cands := make([]Candidate, 0, len(tracks))
		for _, t := range tracks {
			cands = append(cands, Candidate{
				Track:      t,
				Tier:       TierTitleOnly,
				Confidence: titleOnlyConfidence,
				TitleSim:   1.0,
				ArtistSim:  textnorm.Similarity(rawArtist, t.ArtistName),
			})
		}
		sortCandidates(cands)
		return cands
	}

	return idx.matchFuzzy(rawTitle, rawArtist)
}

// matchAlias resolves the mention through alias rows: a track alias whose
// artist agrees with the mention, or an artist alias redirecting the
// exact-key lookup. Alias matching is exact-key only.
func (idx *Index) matchAlias(rawTitle, rawArtist, normTitle, normArtist string) []Candidate {
	seen := make(map[string]bool)
	var cands []Candidate

	add := func(t *catalog.Track) {
		if seen[t.ID] {
			return
		}
		seen[t.ID] = true
		cands = append(cands, Candidate{
			Track:      t,
			Tier:       TierAlias,
			Confidence: aliasConfidence,
			TitleSim:   textnorm.Similarity(rawTitle, t.Title),
			ArtistSim:  textnorm.Similarity(rawArtist, t.ArtistName),
		})
	}

	canonArtists := idx.artistAlias[normArtist]

	for _, t := range idx.trackAlias[normTitle] {
		if t.ArtistNormalized == normArtist {
			add(t)
			continue
		}
		for _, canon := range canonArtists {
			if t.ArtistNormalized == canon {
				add(t)
				break
			}
		}
	}

	for _, canon := range canonArtists {
		if t, ok := idx.byKey[canon+"|"+normTitle]; ok {
			add(t)
		}
	}

	sortCandidates(cands)
	return cands
}

// matchFuzzy scans the whole catalog with the similarity scorer.
func (idx *Index) matchFuzzy(rawTitle, rawArtist string) []Candidate {
	var cands []Candidate
	for _, t := range idx.tracks {
		titleSim := textnorm.Similarity(rawTitle, t.Title)
		if titleSim <= fuzzyTitleThreshold {
			continue
		}
		artistSim := textnorm.Similarity(rawArtist, t.ArtistName)
		if artistSim <= fuzzyArtistThreshold && titleSim <= fuzzyTitleAloneThreshold {
			continue
		}
		cands = append(cands, Candidate{
			Track:      t,
			Tier:       TierFuzzy,
			Confidence: titleSim,
			TitleSim:   titleSim,
			ArtistSim:  artistSim,
		})
	}
	sortCandidates(cands)
	return cands
}

// sortCandidates orders candidates best first: highest title similarity,
// then highest artist similarity, then most recent release date, then
// lowest id. The final id comparison makes the order total, so batch
// results never depend on catalog iteration order.
func sortCandidates(cands []Candidate) {
	sort.Slice(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if a.TitleSim != b.TitleSim {
			return a.TitleSim > b.TitleSim
		}
		if a.ArtistSim != b.ArtistSim {
			return a.ArtistSim > b.ArtistSim
		}
		if a.Track.ReleaseDate != b.Track.ReleaseDate {
			return a.Track.ReleaseDate > b.Track.ReleaseDate
		}
		return a.Track.ID < b.Track.ID
	})
}
