package catalog

import (
	"context"
	"time"
)

// Lister pages through the upstream "recently updated" listing.
type Lister interface {
	ListPage(ctx context.Context, page int) ([]string, error)
}

// DetailFetcher resolves one slug into a normalized Detail.
// Implementations return ErrNoPlayable when every episode lacks a stream
// link and ErrThrottled on upstream 429.
type DetailFetcher interface {
	FetchDetail(ctx context.Context, slug string) (Detail, error)
}

// Archiver persists raw upstream payloads and returns a URI. Optional;
// archiving failures never fail ingestion.
type Archiver interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Publisher pushes change notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}
