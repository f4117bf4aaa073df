// Package memory provides an in-memory CatalogStore used by tests and
// local development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/vietphim/catalogd/internal/catalog"
	"github.com/vietphim/catalogd/internal/store"
)

type record struct {
	item     catalog.Item
	episodes map[[2]string]catalog.Episode
	order    [][2]string
}

// CatalogStore keeps the whole catalog in process memory. It implements
// the same classification and patch semantics as the Postgres store.
type CatalogStore struct {
	mu    sync.Mutex
	items map[string]*record
	now   func() time.Time
}

var _ store.CatalogStore = (*CatalogStore)(nil)

// NewCatalogStore creates an empty in-memory store.
func NewCatalogStore() *CatalogStore {
	return &CatalogStore{
		items: make(map[string]*record),
		now:   time.Now,
	}
}

// SetNow overrides the clock (tests).
func (s *CatalogStore) SetNow(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// Close is a no-op.
func (s *CatalogStore) Close() {}

// UpsertItem merges one item plus its episodes under the store lock.
func (s *CatalogStore) UpsertItem(
	_ context.Context,
	item catalog.Item,
	episodes []catalog.Episode,
) (store.UpsertResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	change := catalog.ChangeRefresh
	rec, ok := s.items[item.Slug]
	if !ok {
		change = catalog.ChangeNew
		rec = &record{episodes: make(map[[2]string]catalog.Episode)}
		s.items[item.Slug] = rec
	} else if rec.item.CurrentEpisode != item.CurrentEpisode {
		change = catalog.ChangeEpisode
	}

	// Rating and age limit belong to the enrichment pass.
	if ok {
		item.Rating = rec.item.Rating
		item.AgeLimit = rec.item.AgeLimit
	}
	item.UpdatedAt = s.now()
	rec.item = item

	for _, ep := range episodes {
		key := [2]string{ep.EpisodeSlug, ep.ServerName}
		if _, seen := rec.episodes[key]; !seen {
			rec.order = append(rec.order, key)
		}
		rec.episodes[key] = ep
	}
	return store.UpsertResult{Change: change, EpisodesWritten: len(episodes)}, nil
}

// GetItem loads one item with its episodes or returns store.ErrNotFound.
func (s *CatalogStore) GetItem(_ context.Context, slug string) (catalog.Item, []catalog.Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.items[slug]
	if !ok {
		return catalog.Item{}, nil, store.ErrNotFound
	}
	episodes := make([]catalog.Episode, 0, len(rec.order))
	for _, key := range rec.order {
		episodes = append(episodes, rec.episodes[key])
	}
	return rec.item, episodes, nil
}

// RecentItems lists items most-recently-updated first.
func (s *CatalogStore) RecentItems(_ context.Context, filter store.ListFilter) ([]catalog.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var items []catalog.Item
	for _, rec := range s.items {
		if filter.Genre != "" && !rec.item.Genres.Contains(filter.Genre) {
			continue
		}
		if filter.Country != "" && !rec.item.Countries.Contains(filter.Country) {
			continue
		}
		items = append(items, rec.item)
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].UpdatedAt.After(items[j].UpdatedAt)
	})

	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return nil, nil
	}
	items = items[offset:]

	limit := filter.Limit
	if limit <= 0 {
		limit = 20
	}
	if limit < len(items) {
		items = items[:limit]
	}
	return items, nil
}

// SelectUnenriched returns up to limit items still carrying the
// unenriched rating sentinel, most recent first.
func (s *CatalogStore) SelectUnenriched(_ context.Context, limit int) ([]catalog.Item, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		return nil, nil
	}
	var items []catalog.Item
	for _, rec := range s.items {
		if !rec.item.Enriched() {
			items = append(items, rec.item)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		return items[i].UpdatedAt.After(items[j].UpdatedAt)
	})
	if limit < len(items) {
		items = items[:limit]
	}
	return items, nil
}

// CountUnenriched sizes the remaining enrichment backlog.
func (s *CatalogStore) CountUnenriched(_ context.Context) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, rec := range s.items {
		if !rec.item.Enriched() {
			n++
		}
	}
	return n, nil
}

// ApplyEnrichment patches one existing item in place.
func (s *CatalogStore) ApplyEnrichment(_ context.Context, slug string, patch store.EnrichmentPatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.items[slug]
	if !ok {
		return store.ErrNotFound
	}
	if patch.Description != "" {
		rec.item.Description = patch.Description
	}
	if patch.PosterURL != "" {
		rec.item.PosterURL = patch.PosterURL
	}
	if patch.ThumbURL != "" {
		rec.item.ThumbURL = patch.ThumbURL
	}
	if len(patch.Genres) > 0 {
		rec.item.Genres = patch.Genres
	}
	if len(patch.Countries) > 0 {
		rec.item.Countries = patch.Countries
	}
	rec.item.Rating = patch.Rating
	return nil
}
