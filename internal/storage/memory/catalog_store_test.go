package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vietphim/catalogd/internal/catalog"
	"github.com/vietphim/catalogd/internal/store"
)

func TestUpsertClassification(t *testing.T) {
	t.Parallel()

	s := NewCatalogStore()
	ctx := context.Background()

	item := catalog.Item{Slug: "dao-hai-tac", Title: "Đảo Hải Tặc", IsSeries: true, CurrentEpisode: "Tập 1"}

	res, err := s.UpsertItem(ctx, item, nil)
	require.NoError(t, err)
	require.Equal(t, catalog.ChangeNew, res.Change)

	res, err = s.UpsertItem(ctx, item, nil)
	require.NoError(t, err)
	require.Equal(t, catalog.ChangeRefresh, res.Change)

	item.CurrentEpisode = "Tập 2"
	res, err = s.UpsertItem(ctx, item, nil)
	require.NoError(t, err)
	require.Equal(t, catalog.ChangeEpisode, res.Change)
}

func TestUpsertPreservesEnrichment(t *testing.T) {
	t.Parallel()

	s := NewCatalogStore()
	ctx := context.Background()

	item := catalog.Item{Slug: "nguoi-nhen", Title: "Người Nhện"}
	_, err := s.UpsertItem(ctx, item, nil)
	require.NoError(t, err)

	require.NoError(t, s.ApplyEnrichment(ctx, "nguoi-nhen", store.EnrichmentPatch{Rating: 7.3}))

	_, err = s.UpsertItem(ctx, item, nil)
	require.NoError(t, err)

	got, _, err := s.GetItem(ctx, "nguoi-nhen")
	require.NoError(t, err)
	require.Equal(t, 7.3, got.Rating)
}

func TestEpisodesAccumulate(t *testing.T) {
	t.Parallel()

	s := NewCatalogStore()
	ctx := context.Background()

	item := catalog.Item{Slug: "dao-hai-tac", IsSeries: true, CurrentEpisode: "Tập 1"}
	_, err := s.UpsertItem(ctx, item, []catalog.Episode{
		{EpisodeSlug: "tap-1", ServerName: "Vietsub #1", StreamURL: "https://cdn/1.m3u8"},
	})
	require.NoError(t, err)

	// A later crawl carries only the newest episode; the old one stays.
	item.CurrentEpisode = "Tập 2"
	_, err = s.UpsertItem(ctx, item, []catalog.Episode{
		{EpisodeSlug: "tap-2", ServerName: "Vietsub #1", StreamURL: "https://cdn/2.m3u8"},
	})
	require.NoError(t, err)

	_, episodes, err := s.GetItem(ctx, "dao-hai-tac")
	require.NoError(t, err)
	require.Len(t, episodes, 2)
}

func TestRecentItemsFilterAndOrder(t *testing.T) {
	t.Parallel()

	s := NewCatalogStore()
	ctx := context.Background()

	base := time.Unix(1700000000, 0).UTC()
	tick := 0
	s.SetNow(func() time.Time {
		tick++
		return base.Add(time.Duration(tick) * time.Minute)
	})

	_, err := s.UpsertItem(ctx, catalog.Item{
		Slug:   "phim-cu",
		Genres: catalog.TagSet{{Name: "Hành Động", Slug: "hanh-dong"}},
	}, nil)
	require.NoError(t, err)
	_, err = s.UpsertItem(ctx, catalog.Item{
		Slug:   "phim-moi",
		Genres: catalog.TagSet{{Name: "Hành Động", Slug: "hanh-dong"}},
	}, nil)
	require.NoError(t, err)
	_, err = s.UpsertItem(ctx, catalog.Item{
		Slug:   "phim-hai",
		Genres: catalog.TagSet{{Name: "Hài Hước", Slug: "hai-huoc"}},
	}, nil)
	require.NoError(t, err)

	items, err := s.RecentItems(ctx, store.ListFilter{Genre: "hanh-dong"})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "phim-moi", items[0].Slug)
	require.Equal(t, "phim-cu", items[1].Slug)
}

func TestUnenrichedBacklog(t *testing.T) {
	t.Parallel()

	s := NewCatalogStore()
	ctx := context.Background()

	_, err := s.UpsertItem(ctx, catalog.Item{Slug: "a"}, nil)
	require.NoError(t, err)
	_, err = s.UpsertItem(ctx, catalog.Item{Slug: "b"}, nil)
	require.NoError(t, err)

	n, err := s.CountUnenriched(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)

	require.NoError(t, s.ApplyEnrichment(ctx, "a", store.EnrichmentPatch{Rating: catalog.RatingNoMatch}))

	n, err = s.CountUnenriched(ctx)
	require.NoError(t, err)
	require.Equal(t, int64(1), n)

	items, err := s.SelectUnenriched(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "b", items[0].Slug)
}

func TestApplyEnrichmentNotFound(t *testing.T) {
	t.Parallel()

	s := NewCatalogStore()
	err := s.ApplyEnrichment(context.Background(), "khong-co", store.EnrichmentPatch{})
	require.ErrorIs(t, err, store.ErrNotFound)
}
