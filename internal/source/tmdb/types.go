package tmdb

// Wire types for the metadata service. Movie and TV payloads share the
// fields the enrichment pass consumes.

type searchResponse struct {
	Results []searchResult `json:"results"`
}

type searchResult struct {
	ID           int64   `json:"id"`
	Overview     string  `json:"overview"`
	PosterPath   string  `json:"poster_path"`
	BackdropPath string  `json:"backdrop_path"`
	VoteAverage  float64 `json:"vote_average"`
}

type detailResponse struct {
	Genres              []namedRef    `json:"genres"`
	ProductionCountries []countryRef  `json:"production_countries"`
}

type namedRef struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type countryRef struct {
	ISO  string `json:"iso_3166_1"`
	Name string `json:"name"`
}
