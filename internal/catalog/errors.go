package catalog

import "errors"

// Sentinel outcomes checked with errors.Is at pipeline boundaries.
var (
	// ErrNoPlayable marks a detail payload whose servers expose no playable
	// stream link. Not a failure: the item is simply worthless to the
	// catalog and must not be persisted.
	ErrNoPlayable = errors.New("no playable episodes")

	// ErrThrottled marks an HTTP 429 from an upstream service.
	ErrThrottled = errors.New("upstream rate limited")

	// ErrNoMatch marks an enrichment lookup that found nothing.
	ErrNoMatch = errors.New("no metadata match")
)
