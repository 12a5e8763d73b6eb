package musicbrainz

// MusicBrainz API response types.

// RecordingSearchResponse is the top-level response from the recording
// search endpoint.
type RecordingSearchResponse struct {
	Created    string        `json:"created"`
	Count      int           `json:"count"`
	Offset     int           `json:"offset"`
	Recordings []MBRecording `json:"recordings"`
}

// MBRecording represents a MusicBrainz recording entity.
type MBRecording struct {
	ID               string           `json:"id"`
	Score            int              `json:"score"`
	Title            string           `json:"title"`
	Length           int              `json:"length"`
	FirstReleaseDate string           `json:"first-release-date"`
	ArtistCredit     []MBArtistCredit `json:"artist-credit"`
	Releases         []MBRelease      `json:"releases"`
	ISRCs            []string         `json:"isrcs"`
	Tags             []MBTag          `json:"tags"`
}

// MBArtistCredit attributes a recording to one or more artists.
type MBArtistCredit struct {
	Name   string      `json:"name"`
	Artist MBArtistRef `json:"artist"`
}

// MBArtistRef is the embedded artist reference inside a credit.
type MBArtistRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// MBRelease represents a release a recording appears on.
type MBRelease struct {
	ID        string        `json:"id"`
	Title     string        `json:"title"`
	Date      string        `json:"date"`
	Country   string        `json:"country"`
	LabelInfo []MBLabelInfo `json:"label-info"`
}

// MBLabelInfo holds label data within a release.
type MBLabelInfo struct {
	CatalogNumber string     `json:"catalog-number"`
	Label         MBLabelRef `json:"label"`
}

// MBLabelRef is the embedded label reference inside label info.
type MBLabelRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// ArtistSearchResponse is the top-level response from the artist search
// endpoint.
type ArtistSearchResponse struct {
	Created string     `json:"created"`
	Count   int        `json:"count"`
	Offset  int        `json:"offset"`
	Artists []MBArtist `json:"artists"`
}

// MBArtist represents a MusicBrainz artist entity.
type MBArtist struct {
	ID             string    `json:"id"`
	Score          int       `json:"score"`
	Name           string    `json:"name"`
	SortName       string    `json:"sort-name"`
	Type           string    `json:"type"`
	Disambiguation string    `json:"disambiguation"`
	Country        string    `json:"country"`
	Tags           []MBTag   `json:"tags"`
	Genres         []MBGenre `json:"genres"`
}

// MBTag represents a user-submitted tag.
type MBTag struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

// MBGenre represents a genre classification.
type MBGenre struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Count int    `json:"count"`
}
