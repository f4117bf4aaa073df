package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/vietphim/catalogd/internal/catalog"
	"github.com/vietphim/catalogd/internal/storage/memory"
)

func newTestServer(t *testing.T) (*Server, *memory.CatalogStore) {
	t.Helper()
	cat := memory.NewCatalogStore()
	return NewServer(cat, prometheus.NewRegistry(), nil), cat
}

func seed(t *testing.T, cat *memory.CatalogStore) {
	t.Helper()
	_, err := cat.UpsertItem(context.Background(), catalog.Item{
		Slug:   "nguoi-nhen",
		Title:  "Người Nhện",
		Genres: catalog.TagSet{{Name: "Hành Động", Slug: "hanh-dong"}},
	}, []catalog.Episode{
		{EpisodeSlug: "full", ServerName: "Vietsub #1", StreamURL: "https://cdn/full.m3u8"},
	})
	require.NoError(t, err)
	_, err = cat.UpsertItem(context.Background(), catalog.Item{
		Slug:   "phim-hai",
		Title:  "Phim Hài",
		Genres: catalog.TagSet{{Name: "Hài Hước", Slug: "hai-huoc"}},
	}, nil)
	require.NoError(t, err)
}

func doRequest(t *testing.T, s *Server, method, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestMetricsEndpoint(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestListItems(t *testing.T) {
	t.Parallel()

	s, cat := newTestServer(t)
	seed(t, cat)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/items")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Items []catalog.Item `json:"items"`
		Count int            `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, 2, resp.Count)
}

func TestListItemsGenreFilter(t *testing.T) {
	t.Parallel()

	s, cat := newTestServer(t)
	seed(t, cat)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/items?genre=hanh-dong")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Items []catalog.Item `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Items, 1)
	require.Equal(t, "nguoi-nhen", resp.Items[0].Slug)
}

func TestListItemsRejectsBadLimit(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/v1/items?limit=abc")
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetItem(t *testing.T) {
	t.Parallel()

	s, cat := newTestServer(t)
	seed(t, cat)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/items/nguoi-nhen")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Item     catalog.Item      `json:"item"`
		Episodes []catalog.Episode `json:"episodes"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "Người Nhện", resp.Item.Title)
	require.Len(t, resp.Episodes, 1)
}

func TestGetItemNotFound(t *testing.T) {
	t.Parallel()

	s, _ := newTestServer(t)
	rec := doRequest(t, s, http.MethodGet, "/api/v1/items/khong-co")
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBacklog(t *testing.T) {
	t.Parallel()

	s, cat := newTestServer(t)
	seed(t, cat)

	rec := doRequest(t, s, http.MethodGet, "/api/v1/backlog")
	require.Equal(t, http.StatusOK, rec.Code)
	require.JSONEq(t, `{"unenriched":2}`, rec.Body.String())
}
