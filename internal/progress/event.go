// Package progress defines the event structures emitted by the ingest
// and enrichment workers.
package progress

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/vietphim/catalogd/internal/catalog"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageRunStart Stage = "RUN_START"
	StageRunDone  Stage = "RUN_DONE"
	StageRunError Stage = "RUN_ERROR"

	StagePageDone Stage = "PAGE_DONE"

	StageItemNew     Stage = "ITEM_NEW"
	StageItemEpisode Stage = "ITEM_EPISODE"
	StageItemRefresh Stage = "ITEM_REFRESH"
	StageItemSkip    Stage = "ITEM_SKIP"

	StageEnrichDone Stage = "ENRICH_DONE"
)

// Enrichment outcomes carried in Event.Note for StageEnrichDone.
const (
	OutcomeMatched = "matched"
	OutcomeNoMatch = "no_match"
	OutcomeEmpty   = "empty"
)

// Event captures a single milestone of a crawl or enrichment run.
type Event struct {
	// RunID uniquely identifies one run using the 16-byte UUID form.
	RunID [16]byte
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or item milestone occurred.
	Stage Stage
	// Slug scopes item stages to one catalog entry.
	Slug string
	// Page is the listing page number for page stages.
	Page int
	// Count carries a stage-specific tally: slugs on a page, episodes
	// written for an item, items processed for a run.
	Count int64
	// Dur captures execution latency for item fetches and run completions.
	Dur time.Duration
	// Note lets emitters attach low-volume context (error text, outcome).
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.RunID == [16]byte{} {
		return errors.New("run id is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageRunStart, StageRunDone, StageRunError:
	case StagePageDone:
		if e.Page <= 0 {
			return errors.New("page done requires a page number")
		}
	case StageItemNew, StageItemEpisode, StageItemRefresh, StageItemSkip, StageEnrichDone:
		if e.Slug == "" {
			return fmt.Errorf("%s requires a slug", e.Stage)
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}

// RunUUID converts the binary run ID to uuid.UUID.
func (e Event) RunUUID() uuid.UUID {
	return uuid.UUID(e.RunID)
}

// NewRunID allocates a fresh run identifier.
func NewRunID() [16]byte {
	return UUIDToBytes(uuid.New())
}

// UUIDToBytes encodes a uuid.UUID into the Event form.
func UUIDToBytes(id uuid.UUID) [16]byte {
	var dest [16]byte
	copy(dest[:], id[:])
	return dest
}

// StageForChange maps an upsert classification to its item stage.
func StageForChange(change catalog.Change) Stage {
	switch change {
	case catalog.ChangeNew:
		return StageItemNew
	case catalog.ChangeEpisode:
		return StageItemEpisode
	default:
		return StageItemRefresh
	}
}
