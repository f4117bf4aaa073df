// Package catalog defines core types shared across subsystems.
package catalog

import "time"

// Rating sentinels. The rating column doubles as the enrichment state
// marker: items start at RatingUnenriched and the enrichment pass moves
// them to a real rating, RatingNoMatch, or RatingMatchedEmpty.
const (
	RatingUnenriched   = 0.0
	RatingNoMatch      = 0.01
	RatingMatchedEmpty = 0.1
)

// Item is one catalog entry (movie or series). Slug is the natural key:
// re-ingesting the same slug updates the existing row in place.
type Item struct {
	Slug           string    `json:"slug"`
	Title          string    `json:"title"`
	OriginName     string    `json:"origin_name,omitempty"`
	Description    string    `json:"description,omitempty"`
	ReleaseYear    string    `json:"release_year,omitempty"`
	PosterURL      string    `json:"poster_url,omitempty"`
	ThumbURL       string    `json:"thumb_url,omitempty"`
	Genres         TagSet    `json:"genres"`
	Countries      TagSet    `json:"countries"`
	IsSeries       bool      `json:"is_series"`
	TotalEpisodes  string    `json:"total_episodes,omitempty"`
	CurrentEpisode string    `json:"current_episode,omitempty"`
	Rating         float64   `json:"rating"`
	AgeLimit       int       `json:"age_limit,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// Enriched reports whether the enrichment pass already visited this item,
// successfully or not.
func (i Item) Enriched() bool {
	return i.Rating != RatingUnenriched
}

// Episode is one playable stream of an item. The same logical episode may
// exist once per streaming server, so identity is the
// (item, EpisodeSlug, ServerName) triple.
type Episode struct {
	EpisodeSlug string `json:"episode_slug"`
	ServerName  string `json:"server_name"`
	Name        string `json:"name"`
	StreamURL   string `json:"stream_url"`
}

// Change classifies the outcome of one upsert.
type Change string

// Upsert outcomes, in decreasing order of interest to subscribers.
const (
	// ChangeNew means the slug did not exist before this write.
	ChangeNew Change = "new"
	// ChangeEpisode means the current-episode label moved, i.e. a new
	// episode became available upstream.
	ChangeEpisode Change = "episode"
	// ChangeRefresh means nothing but updated_at changed.
	ChangeRefresh Change = "refresh"
)

// Detail bundles a normalized item with its playable episodes and the raw
// upstream payload it was derived from (kept for optional archiving).
type Detail struct {
	Item     Item
	Episodes []Episode
	Raw      []byte
}
