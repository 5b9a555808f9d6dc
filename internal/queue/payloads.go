package queue

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Task type names routed through the asynq mux. Each type lives on its own
// queue so the queues can run with independent concurrency and retry policy.
const (
	TaskLibraryScan      = "scan:library"
	TaskMediaScrape      = "scrape:media"
	TaskCollectionScrape = "scrape:collection"

	QueueScan             = "scan"
	QueueMetadataScrape   = "metadata-scrape"
	QueueCollectionScrape = "collection-scrape"
)

type (
	// LibraryScanRequest asks for a full walk of a library's root directory.
	// Forced re-queues metadata work for media the catalog already knows
	// about, rather than only for new discoveries.
	LibraryScanRequest struct {
		LibraryID uuid.UUID `json:"library_id" validate:"required"`
		Forced    bool      `json:"forced,omitempty"`
	}

	// MediaScrapeRequest asks for metadata to be fetched and merged for a
	// single media item. Provider and ExternalID, when set, pin the scrape to
	// an already-resolved provider identity so no searching occurs. The
	// naming hints are recovered at scan or fan-out time; handlers prefer
	// them over re-parsing the persisted media name, which loses folder
	// context (an episode file rarely repeats its show's name).
	MediaScrapeRequest struct {
		MediaID    uuid.UUID `json:"media_id" validate:"required"`
		Provider   string    `json:"provider,omitempty"`
		ExternalID string    `json:"external_id,omitempty"`

		Title         string `json:"title,omitempty"`
		Year          *int   `json:"year,omitempty"`
		SeasonNumber  *int   `json:"season_number,omitempty"`
		EpisodeNumber *int   `json:"episode_number,omitempty"`

		SkipImages bool `json:"skip_images,omitempty"`
		ImagesOnly bool `json:"images_only,omitempty"`
	}

	// CollectionScrapeRequest asks for metadata to be fetched and merged for
	// a collection (show, season, film grouping, artist or album). For
	// seasons, ParentProvider and ParentExternalID carry the show's resolved
	// identity when the scheduler already knows it; when absent the handler
	// falls back to the parent's persisted details. ParentName carries the
	// enclosing collection's display name, seeding artist-aware album
	// searches without a catalog round trip.
	CollectionScrapeRequest struct {
		CollectionID     uuid.UUID `json:"collection_id" validate:"required"`
		Provider         string    `json:"provider,omitempty"`
		ExternalID       string    `json:"external_id,omitempty"`
		ParentProvider   string    `json:"parent_provider,omitempty"`
		ParentExternalID string    `json:"parent_external_id,omitempty"`
		ParentName       string    `json:"parent_name,omitempty"`
		SkipImages       bool      `json:"skip_images,omitempty"`
		ImagesOnly       bool      `json:"images_only,omitempty"`
	}
)

// ScanTaskID returns the idempotency key for a library scan. One scan per
// library can be queued or running at a time; a finished scan's task is
// cleared before the next is enqueued.
func ScanTaskID(libraryID uuid.UUID) string {
	return fmt.Sprintf("scan-%s", libraryID)
}

// MediaScrapeTaskID returns the idempotency key for a media scrape. Repeat
// requests for the same media item collapse on to the task already queued.
func MediaScrapeTaskID(mediaID uuid.UUID) string {
	return fmt.Sprintf("scrape-%s", mediaID)
}

// ForcedMediaScrapeTaskID returns the key for a forced media rescrape. The
// timestamp component keeps a forced refresh from colliding with a queued
// or running scrape of the same item under the deterministic key.
func ForcedMediaScrapeTaskID(mediaID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("%s-%d", MediaScrapeTaskID(mediaID), at.UnixNano())
}

// CollectionScrapeTaskID returns the key for a collection scrape. The
// timestamp component means collection scrapes never deduplicate against
// earlier requests for the same collection.
func CollectionScrapeTaskID(collectionID uuid.UUID, at time.Time) string {
	return fmt.Sprintf("collection-scrape-%s-%d", collectionID, at.UnixNano())
}

// ParentResolutionDelay returns how long a dependent collection scrape (a
// season or album) should be held back so the scrape of its parent has a
// chance to land first. The delay grows with the number of parent scrapes
// queued ahead of it but never drops below a small floor.
func ParentResolutionDelay(parentCount int) time.Duration {
	delay := time.Duration(parentCount) * 2 * time.Second
	if delay < 5*time.Second {
		return 5 * time.Second
	}
	return delay
}
