package ophim

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/vietphim/catalogd/internal/catalog"
)

const detailPayload = `{
	"movie": {
		"name": "Người Nhện",
		"origin_name": "Spider-Man",
		"content": "Một bộ phim siêu anh hùng.",
		"type": "single",
		"year": 2002,
		"poster_url": "//img.ophim.live/uploads/movies/spider-man-poster.jpg",
		"thumb_url": "https://img.ophim.live/uploads/movies/spider-man-thumb.jpg",
		"episode_total": "1",
		"episode_current": "Full",
		"category": [
			{"name": "Hành Động", "slug": "hanh-dong"},
			{"name": "Phiêu Lưu", "slug": "phieu-luu"}
		],
		"country": [{"name": "Âu Mỹ", "slug": "au-my"}]
	},
	"episodes": [
		{
			"server_name": "Vietsub #1",
			"server_data": [
				{"slug": "tap-1", "name": "Full", "link_m3u8": "http://x/a.m3u8"},
				{"slug": "tap-2", "name": "Trailer", "link_m3u8": ""}
			]
		}
	]
}`

func newTestClient(t *testing.T, handler http.Handler) (*Client, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	client, err := NewClient(Config{BaseURL: srv.URL, UserAgent: "catalogd-test"})
	require.NoError(t, err)
	return client, srv
}

func TestListPageReturnsSlugs(t *testing.T) {
	t.Parallel()

	var gotPath, gotUA, gotQuery string
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotUA = r.Header.Get("User-Agent")
		w.Write([]byte(`{"items":[{"slug":"spider-man"},{"slug":""},{"slug":"one-piece"}]}`)) //nolint:errcheck
	}))

	slugs, err := client.ListPage(context.Background(), 3)
	require.NoError(t, err)
	require.Equal(t, []string{"spider-man", "one-piece"}, slugs)
	require.Equal(t, "/danh-sach/phim-moi-cap-nhat", gotPath)
	require.Equal(t, "page=3", gotQuery)
	require.Equal(t, "catalogd-test", gotUA)
}

func TestListPageRejectsNonPositivePage(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.NotFoundHandler())
	_, err := client.ListPage(context.Background(), 0)
	require.Error(t, err)
}

func TestListPageSurfacesBadStatus(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))

	_, err := client.ListPage(context.Background(), 1)
	require.ErrorContains(t, err, "unexpected status 502")
}

func TestListPageSurfacesMalformedJSON(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte("<html>not json</html>")) //nolint:errcheck
	}))

	_, err := client.ListPage(context.Background(), 1)
	require.ErrorContains(t, err, "decode page")
}

func TestFetchDetailNormalizes(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/phim/spider-man", r.URL.Path)
		w.Write([]byte(detailPayload)) //nolint:errcheck
	}))

	detail, err := client.FetchDetail(context.Background(), "spider-man")
	require.NoError(t, err)

	item := detail.Item
	require.Equal(t, "spider-man", item.Slug)
	require.Equal(t, "Người Nhện", item.Title)
	require.Equal(t, "Spider-Man", item.OriginName)
	require.Equal(t, "2002", item.ReleaseYear)
	require.False(t, item.IsSeries)
	require.Equal(t, catalog.RatingUnenriched, item.Rating)

	// Protocol-relative poster got the https scheme.
	require.Equal(t, "https://img.ophim.live/uploads/movies/spider-man-poster.jpg", item.PosterURL)

	// Both representations of every tag survive normalization.
	require.Contains(t, item.Genres.Display(), "Hành Động")
	require.Contains(t, item.Genres.Display(), "hanh-dong")
	require.Contains(t, item.Countries.Display(), "Âu Mỹ")
	require.Contains(t, item.Countries.Display(), "au-my")

	// The streamless second entry was filtered out.
	require.Len(t, detail.Episodes, 1)
	require.Equal(t, catalog.Episode{
		EpisodeSlug: "tap-1",
		ServerName:  "Vietsub #1",
		Name:        "Full",
		StreamURL:   "http://x/a.m3u8",
	}, detail.Episodes[0])

	require.NotEmpty(t, detail.Raw)
}

func TestFetchDetailNoPlayable(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{
			"movie": {"name": "Trailer Only", "type": "single", "year": 2024},
			"episodes": [{"server_name": "Vietsub #1", "server_data": [
				{"slug": "tap-1", "name": "Full", "link_m3u8": ""},
				{"slug": "tap-2", "name": "Full", "link_m3u8": "http://x/clip.mp4"}
			]}]
		}`)) //nolint:errcheck
	}))

	_, err := client.FetchDetail(context.Background(), "trailer-only")
	require.ErrorIs(t, err, catalog.ErrNoPlayable)
}

func TestFetchDetailThrottled(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusTooManyRequests)
	}))

	_, err := client.FetchDetail(context.Background(), "spider-man")
	require.ErrorIs(t, err, catalog.ErrThrottled)
	// 429 must not be retried.
	require.Equal(t, int32(1), calls.Load())
}

func TestNormalizeDetailDefaults(t *testing.T) {
	t.Parallel()

	item, eps, err := normalizeDetail("mot-phim", detailResponse{
		Movie: detailMovie{Name: "Một Phim", Type: "series"},
		Episodes: []detailServer{{
			ServerData: []detailStream{{Slug: "tap-1", Name: "Tập 01", LinkM3U8: " http://x/1.M3U8 "}},
		}},
	})
	require.NoError(t, err)
	require.True(t, item.IsSeries)
	require.Equal(t, "1", item.TotalEpisodes)
	require.Equal(t, "Full", item.CurrentEpisode)
	require.Empty(t, item.ReleaseYear)
	// Missing country falls back to the default label.
	require.True(t, item.Countries.Contains("au-my"))
	// Missing server name falls back, and the link is trimmed.
	require.Equal(t, "Vietsub #1", eps[0].ServerName)
	require.Equal(t, "http://x/1.M3U8", eps[0].StreamURL)
}
