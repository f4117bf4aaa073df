package ophim

// Upstream wire types. Only the fields the pipeline consumes are declared;
// the API returns considerably more.

type listResponse struct {
	Items []listItem `json:"items"`
}

type listItem struct {
	Slug string `json:"slug"`
}

type detailResponse struct {
	Movie    detailMovie    `json:"movie"`
	Episodes []detailServer `json:"episodes"`
}

type detailMovie struct {
	Name           string       `json:"name"`
	OriginName     string       `json:"origin_name"`
	Content        string       `json:"content"`
	Type           string       `json:"type"`
	Year           int          `json:"year"`
	PosterURL      string       `json:"poster_url"`
	ThumbURL       string       `json:"thumb_url"`
	EpisodeTotal   string       `json:"episode_total"`
	EpisodeCurrent string       `json:"episode_current"`
	Category       []detailTag  `json:"category"`
	Country        []detailTag  `json:"country"`
}

type detailTag struct {
	Name string `json:"name"`
	Slug string `json:"slug"`
}

type detailServer struct {
	ServerName string         `json:"server_name"`
	ServerData []detailStream `json:"server_data"`
}

type detailStream struct {
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	LinkM3U8 string `json:"link_m3u8"`
}
