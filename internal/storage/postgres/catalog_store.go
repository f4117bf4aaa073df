// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vietphim/catalogd/internal/catalog"
	"github.com/vietphim/catalogd/internal/store"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// CatalogStoreConfig controls the Postgres connection pool used for
// catalog rows.
type CatalogStoreConfig struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// CatalogStore implements store.CatalogStore on top of Postgres.
type CatalogStore struct {
	pool pgxPool
}

var _ store.CatalogStore = (*CatalogStore)(nil)

// NewCatalogStore creates a Postgres-backed CatalogStore using the
// provided config.
func NewCatalogStore(ctx context.Context, cfg CatalogStoreConfig) (*CatalogStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &CatalogStore{pool: pool}, nil
}

// NewCatalogStoreWithPool constructs a store from an existing pool
// (primarily for testing).
func NewCatalogStoreWithPool(pool pgxPool) (*CatalogStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	return &CatalogStore{pool: pool}, nil
}

// Close releases the underlying pool resources.
func (s *CatalogStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// UpsertItem merges one item plus its episodes inside a single
// transaction. The existing row is locked first so the change
// classification and the write see the same state. Rating and age limit
// are written once on insert and never touched again here; the
// enrichment pass owns them.
func (s *CatalogStore) UpsertItem(
	ctx context.Context,
	item catalog.Item,
	episodes []catalog.Episode,
) (store.UpsertResult, error) {
	if item.Slug == "" {
		return store.UpsertResult{}, fmt.Errorf("item slug is required")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return store.UpsertResult{}, fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	var (
		prevEpisode string
		existed     bool
	)
	err = tx.QueryRow(ctx, `
		SELECT current_episode
		FROM catalog_items
		WHERE slug = $1
		FOR UPDATE;
	`, item.Slug).Scan(&prevEpisode)
	switch {
	case err == nil:
		existed = true
	case errors.Is(err, pgx.ErrNoRows):
		existed = false
	default:
		return store.UpsertResult{}, fmt.Errorf("lock item %q: %w", item.Slug, err)
	}

	var itemID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO catalog_items (
			slug, title, origin_name, description, release_year,
			poster_url, thumb_url, genres, countries, is_series,
			total_episodes, current_episode, rating, age_limit, updated_at
		) VALUES (
			$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,NOW()
		)
		ON CONFLICT (slug) DO UPDATE SET
			title = EXCLUDED.title,
			origin_name = EXCLUDED.origin_name,
			description = EXCLUDED.description,
			release_year = EXCLUDED.release_year,
			poster_url = EXCLUDED.poster_url,
			thumb_url = EXCLUDED.thumb_url,
			genres = EXCLUDED.genres,
			countries = EXCLUDED.countries,
			is_series = EXCLUDED.is_series,
			total_episodes = EXCLUDED.total_episodes,
			current_episode = EXCLUDED.current_episode,
			updated_at = NOW()
		RETURNING id;
	`,
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
	).Scan(&itemID)
	if err != nil {
		return store.UpsertResult{}, fmt.Errorf("upsert item %q: %w", item.Slug, err)
	}

	written := 0
	for _, ep := range episodes {
		_, err := tx.Exec(ctx, `
			INSERT INTO episodes (item_id, episode_slug, server_name, name, stream_url)
			VALUES ($1,$2,$3,$4,$5)
			ON CONFLICT (item_id, episode_slug, server_name) DO UPDATE SET
				name = EXCLUDED.name,
				stream_url = EXCLUDED.stream_url;
		`, itemID, ep.EpisodeSlug, ep.ServerName, ep.Name, ep.StreamURL)
		if err != nil {
			return store.UpsertResult{}, fmt.Errorf(
				"upsert episode %q/%q for %q: %w", ep.EpisodeSlug, ep.ServerName, item.Slug, err)
		}
		written++
	}

	if err := tx.Commit(ctx); err != nil {
		return store.UpsertResult{}, fmt.Errorf("commit upsert %q: %w", item.Slug, err)
	}

	change := catalog.ChangeRefresh
	switch {
	case !existed:
		change = catalog.ChangeNew
	case prevEpisode != item.CurrentEpisode:
		change = catalog.ChangeEpisode
	}
	return store.UpsertResult{Change: change, EpisodesWritten: written}, nil
}

// GetItem loads one item with its episodes or returns store.ErrNotFound.
func (s *CatalogStore) GetItem(ctx context.Context, slug string) (catalog.Item, []catalog.Episode, error) {
	var (
		item      catalog.Item
		itemID    int64
		genres    []string
		countries []string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, slug, title, origin_name, description, release_year,
			poster_url, thumb_url, genres, countries, is_series,
			total_episodes, current_episode, rating, age_limit, updated_at
		FROM catalog_items
		WHERE slug = $1;
	`, slug).Scan(
		&itemID,
		&item.Slug,
		&item.Title,
		&item.OriginName,
		&item.Description,
		&item.ReleaseYear,
		&item.PosterURL,
		&item.ThumbURL,
		&genres,
		&countries,
		&item.IsSeries,
		&item.TotalEpisodes,
		&item.CurrentEpisode,
		&item.Rating,
		&item.AgeLimit,
		&item.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return catalog.Item{}, nil, store.ErrNotFound
		}
		return catalog.Item{}, nil, fmt.Errorf("get item %q: %w", slug, err)
	}
	item.Genres = catalog.TagSetFromTerms(genres)
	item.Countries = catalog.TagSetFromTerms(countries)

	rows, err := s.pool.Query(ctx, `
		SELECT episode_slug, server_name, name, stream_url
		FROM episodes
		WHERE item_id = $1
		ORDER BY id;
	`, itemID)
	if err != nil {
		return catalog.Item{}, nil, fmt.Errorf("list episodes %q: %w", slug, err)
	}
	defer rows.Close()

	var episodes []catalog.Episode
	for rows.Next() {
		var ep catalog.Episode
		if err := rows.Scan(&ep.EpisodeSlug, &ep.ServerName, &ep.Name, &ep.StreamURL); err != nil {
			return catalog.Item{}, nil, fmt.Errorf("scan episode row: %w", err)
		}
		episodes = append(episodes, ep)
	}
	if err := rows.Err(); err != nil {
		return catalog.Item{}, nil, fmt.Errorf("iterate episodes %q: %w", slug, err)
	}
	return item, episodes, nil
}

// RecentItems lists items most-recently-updated first, optionally
// narrowed to an exact tag term (display name or slug).
func (s *CatalogStore) RecentItems(ctx context.Context, filter store.ListFilter) ([]catalog.Item, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	rows, err := s.pool.Query(ctx, `
		SELECT slug, title, origin_name, description, release_year,
			poster_url, thumb_url, genres, countries, is_series,
			total_episodes, current_episode, rating, age_limit, updated_at
		FROM catalog_items
		WHERE ($1 = '' OR $1 = ANY(genres))
		AND ($2 = '' OR $2 = ANY(countries))
		ORDER BY updated_at DESC
		LIMIT $3 OFFSET $4;
	`, filter.Genre, filter.Country, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list recent items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// SelectUnenriched returns up to limit items still carrying the
// unenriched rating sentinel, most recent first so fresh ingests get
// metadata before the long tail.
func (s *CatalogStore) SelectUnenriched(ctx context.Context, limit int) ([]catalog.Item, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT slug, title, origin_name, description, release_year,
			poster_url, thumb_url, genres, countries, is_series,
			total_episodes, current_episode, rating, age_limit, updated_at
		FROM catalog_items
		WHERE rating = $1
		ORDER BY updated_at DESC
		LIMIT $2;
	`, catalog.RatingUnenriched, limit)
	if err != nil {
		return nil, fmt.Errorf("select unenriched: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// CountUnenriched sizes the remaining enrichment backlog.
func (s *CatalogStore) CountUnenriched(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM catalog_items WHERE rating = $1;
	`, catalog.RatingUnenriched).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count unenriched: %w", err)
	}
	return n, nil
}

// ApplyEnrichment patches one existing item in place. Empty patch
// fields keep the stored value; the rating always moves so the item
// leaves the backlog even on a no-match. The updated_at column is the
// upstream freshness marker and stays untouched.
func (s *CatalogStore) ApplyEnrichment(ctx context.Context, slug string, patch store.EnrichmentPatch) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE catalog_items SET
			description = COALESCE(NULLIF($2, ''), description),
			poster_url = COALESCE(NULLIF($3, ''), poster_url),
			thumb_url = COALESCE(NULLIF($4, ''), thumb_url),
			genres = CASE WHEN cardinality($5::text[]) > 0 THEN $5::text[] ELSE genres END,
			countries = CASE WHEN cardinality($6::text[]) > 0 THEN $6::text[] ELSE countries END,
			rating = $7
		WHERE slug = $1;
	`,
		slug,
		patch.Description,
		patch.PosterURL,
		patch.ThumbURL,
		patch.Genres.Terms(),
		patch.Countries.Terms(),
		patch.Rating,
	)
	if err != nil {
		return fmt.Errorf("apply enrichment %q: %w", slug, err)
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func scanItems(rows pgx.Rows) ([]catalog.Item, error) {
	var items []catalog.Item
	for rows.Next() {
		var (
			item      catalog.Item
			genres    []string
			countries []string
		)
		err := rows.Scan(
			&item.Slug,
			&item.Title,
			&item.OriginName,
			&item.Description,
			&item.ReleaseYear,
			&item.PosterURL,
			&item.ThumbURL,
			&genres,
			&countries,
			&item.IsSeries,
			&item.TotalEpisodes,
			&item.CurrentEpisode,
			&item.Rating,
			&item.AgeLimit,
			&item.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan item row: %w", err)
		}
		item.Genres = catalog.TagSetFromTerms(genres)
		item.Countries = catalog.TagSetFromTerms(countries)
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item rows: %w", err)
	}
	return items, nil
}
