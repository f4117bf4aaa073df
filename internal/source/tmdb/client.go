// Package tmdb implements the secondary metadata service client used by
// the enrichment pass.
package tmdb

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/vietphim/catalogd/internal/catalog"
	"github.com/vietphim/catalogd/internal/source"
)

const maxBodyBytes = 2 << 20

// Match is the subset of a search hit the enrichment pass consumes.
type Match struct {
	ID           int64
	Overview     string
	PosterPath   string
	BackdropPath string
	VoteAverage  float64
}

// Detail carries the deeper per-title metadata fetched after a match.
type Detail struct {
	GenreNames   []string
	CountryNames []string
}

// Config captures the client knobs.
type Config struct {
	BaseURL  string
	APIKey   string
	Language string
	Timeout  time.Duration
}

// Client is safe for concurrent use.
type Client struct {
	baseURL  string
	apiKey   string
	language string
	httpc    *http.Client
	retry    *source.RetryPolicy
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient substitutes the HTTP client (tests).
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// NewClient builds a metadata service client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("api key is required")
	}
	language := cfg.Language
	if language == "" {
		language = "vi-VN"
	}
	c := &Client{
		baseURL:  cfg.BaseURL,
		apiKey:   cfg.APIKey,
		language: language,
		httpc:    source.NewHTTPClient(cfg.Timeout),
		retry:    source.NewRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Search looks a title up on the movie or tv endpoint and returns the best
// match, catalog.ErrNoMatch when the service found nothing, or
// catalog.ErrThrottled on 429.
func (c *Client) Search(ctx context.Context, query string, series bool) (Match, error) {
	params := url.Values{
		"api_key":  {c.apiKey},
		"query":    {query},
		"language": {c.language},
	}
	u := fmt.Sprintf("%s/search/%s?%s", c.baseURL, c.endpoint(series), params.Encode())
	body, err := c.get(ctx, u)
	if err != nil {
		return Match{}, fmt.Errorf("search %q: %w", query, err)
	}
	var res searchResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return Match{}, fmt.Errorf("decode search %q: %w", query, err)
	}
	if len(res.Results) == 0 {
		return Match{}, fmt.Errorf("search %q: %w", query, catalog.ErrNoMatch)
	}
	best := res.Results[0]
	return Match{
		ID:           best.ID,
		Overview:     best.Overview,
		PosterPath:   best.PosterPath,
		BackdropPath: best.BackdropPath,
		VoteAverage:  best.VoteAverage,
	}, nil
}

// FetchDetail loads the deeper metadata for a matched title.
func (c *Client) FetchDetail(ctx context.Context, id int64, series bool) (Detail, error) {
	params := url.Values{
		"api_key":  {c.apiKey},
		"language": {c.language},
	}
	u := fmt.Sprintf("%s/%s/%s?%s", c.baseURL, c.endpoint(series), strconv.FormatInt(id, 10), params.Encode())
	body, err := c.get(ctx, u)
	if err != nil {
		return Detail{}, fmt.Errorf("detail %d: %w", id, err)
	}
	var res detailResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return Detail{}, fmt.Errorf("decode detail %d: %w", id, err)
	}
	detail := Detail{}
	for _, g := range res.Genres {
		detail.GenreNames = append(detail.GenreNames, g.Name)
	}
	for _, pc := range res.ProductionCountries {
		detail.CountryNames = append(detail.CountryNames, pc.Name)
	}
	return detail, nil
}

// PosterURL renders a full-size poster image URL for a search hit path.
func PosterURL(path string) string {
	if path == "" {
		return ""
	}
	return "https://image.tmdb.org/t/p/w500" + path
}

// BackdropURL renders a wide backdrop image URL for a search hit path.
func BackdropURL(path string) string {
	if path == "" {
		return ""
	}
	return "https://image.tmdb.org/t/p/w780" + path
}

func (c *Client) endpoint(series bool) string {
	if series {
		return "tv"
	}
	return "movie"
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	var body []byte
	err := c.retry.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpc.Do(req)
		if err != nil {
			return fmt.Errorf("do request: %w", err)
		}
		defer resp.Body.Close() //nolint:errcheck // read-side close

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return catalog.ErrThrottled
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("unexpected status %d", resp.StatusCode)
		}

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		return nil
	})
	return body, err
}
