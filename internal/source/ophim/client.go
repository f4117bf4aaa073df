// Package ophim implements the upstream catalog API client: the page
// lister over the "recently updated" listing and the detail
// fetcher/normalizer for individual items.
package ophim

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/vietphim/catalogd/internal/catalog"
	"github.com/vietphim/catalogd/internal/source"
)

const (
	listingPath = "/danh-sach/phim-moi-cap-nhat"
	detailPath  = "/phim/"

	// maxBodyBytes bounds a single response read; detail payloads run a
	// few hundred KB at most.
	maxBodyBytes = 8 << 20
)

// waiter paces outbound requests; *ratelimit.Limiter satisfies it.
type waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// Config captures the client knobs.
type Config struct {
	BaseURL   string
	UserAgent string
	Timeout   time.Duration
}

// Client is safe for concurrent use by the crawl worker pool: it holds one
// pooled http.Client and no per-request mutable state.
type Client struct {
	baseURL string
	ua      string
	httpc   *http.Client
	retry   *source.RetryPolicy
	limiter waiter
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient substitutes the HTTP client (tests).
func WithHTTPClient(httpc *http.Client) Option {
	return func(c *Client) { c.httpc = httpc }
}

// WithRetryPolicy substitutes the retry policy.
func WithRetryPolicy(p *source.RetryPolicy) Option {
	return func(c *Client) { c.retry = p }
}

// WithLimiter installs a request pacer.
func WithLimiter(l waiter) Option {
	return func(c *Client) { c.limiter = l }
}

// NewClient builds an upstream client.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		return nil, fmt.Errorf("base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	c := &Client{
		baseURL: base,
		ua:      cfg.UserAgent,
		httpc:   source.NewHTTPClient(cfg.Timeout),
		retry:   source.NewRetryPolicy(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ListPage returns the item slugs on one page of the recently-updated
// listing. Any network, status, or decode failure surfaces as an error;
// the caller decides whether to skip the page.
func (c *Client) ListPage(ctx context.Context, page int) ([]string, error) {
	if page <= 0 {
		return nil, fmt.Errorf("page must be positive, got %d", page)
	}
	u := fmt.Sprintf("%s%s?page=%d", c.baseURL, listingPath, page)
	body, err := c.get(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("list page %d: %w", page, err)
	}
	var res listResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("decode page %d listing: %w", page, err)
	}
	slugs := make([]string, 0, len(res.Items))
	for _, item := range res.Items {
		if item.Slug == "" {
			continue
		}
		slugs = append(slugs, item.Slug)
	}
	return slugs, nil
}

// FetchDetail resolves one slug into a normalized catalog Detail. Returns
// catalog.ErrNoPlayable when no server exposes a playable stream and
// catalog.ErrThrottled on upstream 429.
func (c *Client) FetchDetail(ctx context.Context, slug string) (catalog.Detail, error) {
	if slug == "" {
		return catalog.Detail{}, fmt.Errorf("slug is required")
	}
	u := c.baseURL + detailPath + url.PathEscape(slug)
	body, err := c.get(ctx, u)
	if err != nil {
		return catalog.Detail{}, fmt.Errorf("fetch detail %q: %w", slug, err)
	}
	var res detailResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return catalog.Detail{}, fmt.Errorf("decode detail %q: %w", slug, err)
	}
	item, episodes, err := normalizeDetail(slug, res)
	if err != nil {
		return catalog.Detail{}, err
	}
	return catalog.Detail{Item: item, Episodes: episodes, Raw: body}, nil
}

func (c *Client) get(ctx context.Context, rawURL string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, rawURL); err != nil {
			return nil, err
		}
	}
	var body []byte
	err := c.retry.Do(ctx, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return fmt.Errorf("build request: %w", err)
		}
		if c.ua != "" {
			req.Header.Set("User-Agent", c.ua)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpc.Do(req)
		if err != nil {
			return fmt.Errorf("do request: %w", err)
		}
		defer resp.Body.Close() //nolint:errcheck // read-side close

		switch {
		case resp.StatusCode == http.StatusTooManyRequests:
			return fmt.Errorf("GET %s: %w", rawURL, catalog.ErrThrottled)
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("GET %s: unexpected status %d", rawURL, resp.StatusCode)
		}

		body, err = io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		return nil
	})
	return body, err
}

// normalizeDetail turns an upstream detail payload into a catalog item
// plus its playable episodes.
func normalizeDetail(slug string, res detailResponse) (catalog.Item, []catalog.Episode, error) {
	episodes := playableEpisodes(res.Episodes)
	if len(episodes) == 0 {
		return catalog.Item{}, nil, fmt.Errorf("item %q: %w", slug, catalog.ErrNoPlayable)
	}

	m := res.Movie
	item := catalog.Item{
		Slug:           slug,
		Title:          m.Name,
		OriginName:     m.OriginName,
		Description:    m.Content,
		PosterURL:      fixImageURL(m.PosterURL),
		ThumbURL:       fixImageURL(m.ThumbURL),
		Genres:         tagSet(m.Category),
		Countries:      tagSet(m.Country),
		IsSeries:       m.Type == "series",
		TotalEpisodes:  m.EpisodeTotal,
		CurrentEpisode: m.EpisodeCurrent,
		Rating:         catalog.RatingUnenriched,
	}
	if m.Year > 0 {
		item.ReleaseYear = strconv.Itoa(m.Year)
	}
	if item.TotalEpisodes == "" {
		item.TotalEpisodes = "1"
	}
	if item.CurrentEpisode == "" {
		item.CurrentEpisode = "Full"
	}
	if len(item.Countries) == 0 {
		item.Countries = catalog.TagSet{catalog.NewTag("Âu Mỹ", "au-my")}
	}
	return item, episodes, nil
}

// playableEpisodes flattens the server -> episode nesting, keeping only
// entries with a playable stream link.
func playableEpisodes(servers []detailServer) []catalog.Episode {
	var out []catalog.Episode
	for _, srv := range servers {
		server := srv.ServerName
		if server == "" {
			server = "Vietsub #1"
		}
		for _, ep := range srv.ServerData {
			if !playable(ep.LinkM3U8) {
				continue
			}
			out = append(out, catalog.Episode{
				EpisodeSlug: ep.Slug,
				ServerName:  server,
				Name:        ep.Name,
				StreamURL:   strings.TrimSpace(ep.LinkM3U8),
			})
		}
	}
	return out
}

func playable(link string) bool {
	return strings.HasSuffix(strings.ToLower(strings.TrimSpace(link)), ".m3u8")
}

func tagSet(tags []detailTag) catalog.TagSet {
	set := make(catalog.TagSet, 0, len(tags))
	for _, t := range tags {
		if t.Name == "" && t.Slug == "" {
			continue
		}
		set = append(set, catalog.NewTag(t.Name, t.Slug))
	}
	return set
}

// fixImageURL upgrades protocol-relative image references to https.
func fixImageURL(u string) string {
	if strings.HasPrefix(u, "//") {
		return "https:" + u
	}
	return u
}
