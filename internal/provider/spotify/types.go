package spotify

// searchResponse is the JSON response from the Spotify search endpoint.
// Only the page matching the requested type is populated.
type searchResponse struct {
	Tracks  trackPage  `json:"tracks"`
	Artists artistPage `json:"artists"`
}

type trackPage struct {
	Items []trackItem `json:"items"`
	Total int         `json:"total"`
}

type artistPage struct {
	Items []artistItem `json:"items"`
	Total int          `json:"total"`
}

// trackItem is a single track entry from the search endpoint.
type trackItem struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Popularity   int          `json:"popularity"`
	DurationMS   int          `json:"duration_ms"`
	PreviewURL   string       `json:"preview_url"`
	ExternalIDs  externalIDs  `json:"external_ids"`
	ExternalURLs externalURLs `json:"external_urls"`
	Album        albumRef     `json:"album"`
	Artists      []artistRef  `json:"artists"`
}

// artistItem is a single artist entry from the search endpoint.
type artistItem struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Popularity   int          `json:"popularity"`
	Genres       []string     `json:"genres"`
	Followers    followers    `json:"followers"`
	Images       []imageRef   `json:"images"`
	ExternalURLs externalURLs `json:"external_urls"`
}

type externalIDs struct {
	ISRC string `json:"isrc"`
}

type externalURLs struct {
	Spotify string `json:"spotify"`
}

type albumRef struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	ReleaseDate string     `json:"release_date"`
	Images      []imageRef `json:"images"`
}

type artistRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type imageRef struct {
	URL    string `json:"url"`
	Width  int    `json:"width"`
	Height int    `json:"height"`
}

type followers struct {
	Total int `json:"total"`
}
