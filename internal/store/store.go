// Package store declares interfaces for persisting the catalog.
// Implementations live in other packages; this package must not import
// database drivers or concrete clients.
package store

import (
	"context"
	"errors"

	"github.com/vietphim/catalogd/internal/catalog"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("catalog record not found")

// UpsertResult reports what one atomic item write actually did.
type UpsertResult struct {
	// Change classifies the write: new item, new episode, or refresh.
	Change catalog.Change
	// EpisodesWritten counts episode rows inserted or updated.
	EpisodesWritten int
}

// EnrichmentPatch carries the fields the enrichment pass may overwrite.
// Zero-valued string fields leave the stored value untouched; Rating is
// always written (it doubles as the enrichment state marker).
type EnrichmentPatch struct {
	Description string
	PosterURL   string
	ThumbURL    string
	Genres      catalog.TagSet
	Countries   catalog.TagSet
	Rating      float64
}

// ListFilter narrows CatalogStore.RecentItems.
type ListFilter struct {
	// Genre and Country match a tag by display name or machine slug.
	Genre   string
	Country string
	Limit   int
	Offset  int
}

// CatalogStore persists catalog items and episodes keyed on content
// identity. All writes for one item happen in a single transaction.
type CatalogStore interface {
	// UpsertItem atomically merges one item plus its playable episodes,
	// keyed on slug and on (item, episode_slug, server_name). The
	// last-updated timestamp moves on every successful write. Episodes
	// that disappeared upstream are never deleted.
	UpsertItem(ctx context.Context, item catalog.Item, episodes []catalog.Episode) (UpsertResult, error)

	// GetItem loads one item with its episodes or returns ErrNotFound.
	GetItem(ctx context.Context, slug string) (catalog.Item, []catalog.Episode, error)
	// RecentItems lists items most-recently-updated first.
	RecentItems(ctx context.Context, filter ListFilter) ([]catalog.Item, error)

	// SelectUnenriched returns up to limit items still carrying the
	// unenriched rating sentinel.
	SelectUnenriched(ctx context.Context, limit int) ([]catalog.Item, error)
	// CountUnenriched sizes the remaining enrichment backlog.
	CountUnenriched(ctx context.Context) (int64, error)
	// ApplyEnrichment patches one existing item. It never creates rows and
	// does not touch the last-updated timestamp.
	ApplyEnrichment(ctx context.Context, slug string, patch EnrichmentPatch) error

	// Close releases the underlying resources.
	Close()
}
