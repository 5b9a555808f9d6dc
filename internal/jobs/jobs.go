// Package jobs holds the handlers behind the three task queues: library
// scans, per-media metadata scrapes, and per-collection metadata scrapes.
// Handlers receive already-validated payloads from the queue orchestrator
// and orchestrate the scanner, provider registry and merge layers.
package jobs

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ceres-media/ceres/internal/database"
	"github.com/ceres-media/ceres/internal/library"
	"github.com/ceres-media/ceres/internal/merge"
	"github.com/ceres-media/ceres/internal/queue"
	"github.com/ceres-media/ceres/internal/scanner"
	"github.com/ceres-media/ceres/internal/scrape"
	"github.com/ceres-media/ceres/pkg/logger"
)

var log = logger.Get("Jobs")

type (
	libraryScanner interface {
		ScanLibrary(ctx context.Context, lib *library.Library, forced bool) (*scanner.Outcome, error)
	}

	producer interface {
		ScheduleMediaScrapeIfAbsent(ctx context.Context, request queue.MediaScrapeRequest) error
		ScheduleMediaScrapeForced(ctx context.Context, request queue.MediaScrapeRequest) error
		ScheduleCollectionScrape(ctx context.Context, request queue.CollectionScrapeRequest, delay time.Duration) error
	}

	applier interface {
		Apply(ctx context.Context, record *scrape.Record, target merge.Target, opts merge.Options) error
	}

	catalog interface {
		GetLibrary(db database.Queryable, libraryID uuid.UUID) (*library.Library, error)
		GetMedia(db database.Queryable, mediaID uuid.UUID) (*library.Media, error)
		GetCollection(db database.Queryable, collectionID uuid.UUID) (*library.Collection, error)
		GetDetails(db database.Queryable, ownerID uuid.UUID) (*library.Details, error)
		ListCollectionMedia(db database.Queryable, collectionID uuid.UUID) ([]*library.Media, error)
	}
)
