package postgres

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/require"

	"github.com/vietphim/catalogd/internal/catalog"
	"github.com/vietphim/catalogd/internal/store"
)

func testItem() catalog.Item {
	return catalog.Item{
		Slug:           "nguoi-nhen",
		Title:          "Người Nhện",
		OriginName:     "Spider-Man",
		Description:    "Phim siêu anh hùng",
		ReleaseYear:    "2002",
		PosterURL:      "https://img.ophim.live/poster.jpg",
		ThumbURL:       "https://img.ophim.live/thumb.jpg",
		Genres:         catalog.TagSet{{Name: "Hành Động", Slug: "hanh-dong"}},
		Countries:      catalog.TagSet{{Name: "Âu Mỹ", Slug: "au-my"}},
		IsSeries:       false,
		TotalEpisodes:  "1",
		CurrentEpisode: "Full",
	}
}

func testEpisodes() []catalog.Episode {
	return []catalog.Episode{
		{EpisodeSlug: "full", ServerName: "Vietsub #1", Name: "Full", StreamURL: "https://cdn.example.com/full.m3u8"},
	}
}

func expectItemInsert(mock pgxmock.PgxPoolIface, item catalog.Item, id int64) {
	mock.ExpectQuery("INSERT INTO catalog_items").
		WithArgs(
			item.Slug,
			item.Title,
			item.OriginName,
			item.Description,
			item.ReleaseYear,
			item.PosterURL,
			item.ThumbURL,
			item.Genres.Terms(),
			item.Countries.Terms(),
			item.IsSeries,
			item.TotalEpisodes,
			item.CurrentEpisode,
			item.Rating,
			item.AgeLimit,
		).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(id))
}

func TestUpsertItemNew(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewCatalogStoreWithPool(mock)
	require.NoError(t, err)

	item := testItem()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT current_episode").
		WithArgs(item.Slug).
		WillReturnError(pgx.ErrNoRows)
	expectItemInsert(mock, item, 7)
	mock.ExpectExec("INSERT INTO episodes").
		WithArgs(int64(7), "full", "Vietsub #1", "Full", "https://cdn.example.com/full.m3u8").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	res, err := s.UpsertItem(context.Background(), item, testEpisodes())
	require.NoError(t, err)
	require.Equal(t, catalog.ChangeNew, res.Change)
	require.Equal(t, 1, res.EpisodesWritten)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertItemEpisodeMoved(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewCatalogStoreWithPool(mock)
	require.NoError(t, err)

	item := testItem()
	item.IsSeries = true
	item.CurrentEpisode = "Tập 6"

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT current_episode").
		WithArgs(item.Slug).
		WillReturnRows(pgxmock.NewRows([]string{"current_episode"}).AddRow("Tập 5"))
	expectItemInsert(mock, item, 7)
	mock.ExpectExec("INSERT INTO episodes").
		WithArgs(int64(7), "full", "Vietsub #1", "Full", "https://cdn.example.com/full.m3u8").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	res, err := s.UpsertItem(context.Background(), item, testEpisodes())
	require.NoError(t, err)
	require.Equal(t, catalog.ChangeEpisode, res.Change)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertItemRefresh(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewCatalogStoreWithPool(mock)
	require.NoError(t, err)

	item := testItem()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT current_episode").
		WithArgs(item.Slug).
		WillReturnRows(pgxmock.NewRows([]string{"current_episode"}).AddRow(item.CurrentEpisode))
	expectItemInsert(mock, item, 7)
	mock.ExpectCommit()

	res, err := s.UpsertItem(context.Background(), item, nil)
	require.NoError(t, err)
	require.Equal(t, catalog.ChangeRefresh, res.Change)
	require.Zero(t, res.EpisodesWritten)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertItemRollsBackOnEpisodeError(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewCatalogStoreWithPool(mock)
	require.NoError(t, err)

	item := testItem()

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT current_episode").
		WithArgs(item.Slug).
		WillReturnError(pgx.ErrNoRows)
	expectItemInsert(mock, item, 7)
	mock.ExpectExec("INSERT INTO episodes").
		WillReturnError(fmt.Errorf("connection reset"))
	mock.ExpectRollback()

	_, err = s.UpsertItem(context.Background(), item, testEpisodes())
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertItemRequiresSlug(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewCatalogStoreWithPool(mock)
	require.NoError(t, err)

	_, err = s.UpsertItem(context.Background(), catalog.Item{}, nil)
	require.Error(t, err)
}

func TestGetItem(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewCatalogStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT id, slug, title").
		WithArgs("nguoi-nhen").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "slug", "title", "origin_name", "description", "release_year",
			"poster_url", "thumb_url", "genres", "countries", "is_series",
			"total_episodes", "current_episode", "rating", "age_limit", "updated_at",
		}).AddRow(
			int64(7), "nguoi-nhen", "Người Nhện", "Spider-Man", "", "2002",
			"", "", []string{"Hành Động", "hanh-dong"}, []string{"Âu Mỹ", "au-my"}, false,
			"1", "Full", 7.3, 13, now,
		))
	mock.ExpectQuery("SELECT episode_slug, server_name").
		WithArgs(int64(7)).
		WillReturnRows(pgxmock.NewRows([]string{"episode_slug", "server_name", "name", "stream_url"}).
			AddRow("full", "Vietsub #1", "Full", "https://cdn.example.com/full.m3u8"))

	item, episodes, err := s.GetItem(context.Background(), "nguoi-nhen")
	require.NoError(t, err)
	require.Equal(t, "Người Nhện", item.Title)
	require.Equal(t, catalog.TagSet{{Name: "Hành Động", Slug: "hanh-dong"}}, item.Genres)
	require.Equal(t, 7.3, item.Rating)
	require.Len(t, episodes, 1)
	require.Equal(t, "Vietsub #1", episodes[0].ServerName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetItemNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewCatalogStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT id, slug, title").
		WithArgs("khong-co").
		WillReturnError(pgx.ErrNoRows)

	_, _, err = s.GetItem(context.Background(), "khong-co")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestRecentItemsAppliesFilterAndLimits(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewCatalogStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT slug, title").
		WithArgs("hanh-dong", "", defaultListLimit, 0).
		WillReturnRows(pgxmock.NewRows([]string{
			"slug", "title", "origin_name", "description", "release_year",
			"poster_url", "thumb_url", "genres", "countries", "is_series",
			"total_episodes", "current_episode", "rating", "age_limit", "updated_at",
		}).AddRow(
			"nguoi-nhen", "Người Nhện", "", "", "2002",
			"", "", []string{"Hành Động", "hanh-dong"}, []string{}, false,
			"1", "Full", 0.0, 0, now,
		))

	items, err := s.RecentItems(context.Background(), store.ListFilter{Genre: "hanh-dong"})
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.Equal(t, "nguoi-nhen", items[0].Slug)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectUnenriched(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewCatalogStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()

	mock.ExpectQuery("SELECT slug, title").
		WithArgs(catalog.RatingUnenriched, 100).
		WillReturnRows(pgxmock.NewRows([]string{
			"slug", "title", "origin_name", "description", "release_year",
			"poster_url", "thumb_url", "genres", "countries", "is_series",
			"total_episodes", "current_episode", "rating", "age_limit", "updated_at",
		}).AddRow(
			"nguoi-nhen", "Người Nhện", "", "", "2002",
			"", "", []string{}, []string{}, false,
			"1", "Full", 0.0, 0, now,
		))

	items, err := s.SelectUnenriched(context.Background(), 100)
	require.NoError(t, err)
	require.Len(t, items, 1)
	require.False(t, items[0].Enriched())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSelectUnenrichedZeroLimit(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewCatalogStoreWithPool(mock)
	require.NoError(t, err)

	items, err := s.SelectUnenriched(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestCountUnenriched(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewCatalogStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT COUNT").
		WithArgs(catalog.RatingUnenriched).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(42)))

	n, err := s.CountUnenriched(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(42), n)
}

func TestApplyEnrichment(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewCatalogStoreWithPool(mock)
	require.NoError(t, err)

	patch := store.EnrichmentPatch{
		Description: "Người Nhện trở lại",
		PosterURL:   "https://image.tmdb.org/t/p/w500/p.jpg",
		Genres:      catalog.TagSetFromNames([]string{"Hành Động"}),
		Rating:      7.3,
	}

	mock.ExpectExec("UPDATE catalog_items").
		WithArgs(
			"nguoi-nhen",
			patch.Description,
			patch.PosterURL,
			"",
			patch.Genres.Terms(),
			patch.Countries.Terms(),
			patch.Rating,
		).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err = s.ApplyEnrichment(context.Background(), "nguoi-nhen", patch)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestApplyEnrichmentNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	s, err := NewCatalogStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE catalog_items").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err = s.ApplyEnrichment(context.Background(), "khong-co", store.EnrichmentPatch{Rating: catalog.RatingNoMatch})
	require.ErrorIs(t, err, store.ErrNotFound)
}
