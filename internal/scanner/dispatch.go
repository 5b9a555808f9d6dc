package scanner

import (
	"context"
	"fmt"
	"time"

	"github.com/ceres-media/ceres/internal/library"
	"github.com/ceres-media/ceres/internal/queue"
)

type jobProducer interface {
	ScheduleMediaScrapeIfAbsent(ctx context.Context, request queue.MediaScrapeRequest) error
	ScheduleMediaScrapeForced(ctx context.Context, request queue.MediaScrapeRequest) error
	ScheduleCollectionScrape(ctx context.Context, request queue.CollectionScrapeRequest, delay time.Duration) error
}

// DispatchJobs enqueues metadata scrapes for everything a scan touched,
// respecting the dependency order between collections: shows, artists and
// films go out immediately, while seasons and albums are delayed in
// proportion to the number of parent jobs queued ahead of them so their
// parent's provider identity has likely been persisted by the time they
// run. Per-media jobs are not enqueued for film libraries; film metadata is
// owned by the collection scrape, which fans out itself.
//
// Enqueue failures are collected and returned; one failed enqueue never
// stops the remaining dispatches.
func DispatchJobs(ctx context.Context, producer jobProducer, lib *library.Library, outcome *Outcome) []error {
	var errs []error

	parents := make([]CollectionOutcome, 0, len(outcome.Collections))
	dependents := make([]CollectionOutcome, 0, len(outcome.Collections))
	for _, entry := range outcome.Collections {
		switch entry.Collection.Type {
		case library.ShowCollection, library.ArtistCollection, library.FilmCollection:
			parents = append(parents, entry)
		case library.SeasonCollection, library.AlbumCollection:
			dependents = append(dependents, entry)
		default:
			// Generic collections have no scrape semantics.
		}
	}

	for _, entry := range parents {
		request := queue.CollectionScrapeRequest{CollectionID: entry.Collection.ID, ParentName: entry.ParentName}
		if err := producer.ScheduleCollectionScrape(ctx, request, 0); err != nil {
			errs = append(errs, fmt.Errorf("failed to enqueue scrape for collection %s: %w", entry.Collection.ID, err))
		}
	}

	delay := queue.ParentResolutionDelay(len(parents))
	for _, entry := range dependents {
		request := queue.CollectionScrapeRequest{CollectionID: entry.Collection.ID, ParentName: entry.ParentName}
		if err := producer.ScheduleCollectionScrape(ctx, request, delay); err != nil {
			errs = append(errs, fmt.Errorf("failed to enqueue scrape for collection %s: %w", entry.Collection.ID, err))
		}
	}

	if lib.Type == library.FilmLibrary {
		return errs
	}

	for _, entry := range outcome.Media {
		request := queue.MediaScrapeRequest{
			MediaID:       entry.Media.ID,
			Title:         entry.Hints.Title,
			Year:          entry.Hints.Year,
			SeasonNumber:  entry.Hints.SeasonNumber,
			EpisodeNumber: entry.Hints.EpisodeNumber,
		}

		var err error
		if entry.Created {
			err = producer.ScheduleMediaScrapeIfAbsent(ctx, request)
		} else {
			// Revisited by a forced scan; the timestamped key means this
			// enqueues even while an earlier scrape is still outstanding.
			err = producer.ScheduleMediaScrapeForced(ctx, request)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to enqueue scrape for media %s: %w", entry.Media.ID, err))
		}
	}

	return errs
}
