package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ceres-media/ceres/internal/library"
	"github.com/ceres-media/ceres/internal/merge"
	"github.com/ceres-media/ceres/internal/queue"
	"github.com/ceres-media/ceres/internal/scanner"
	"github.com/ceres-media/ceres/internal/scrape"
)

// MediaScrapeHandler services the metadata-scrape queue, resolving one
// media item against the provider registry and merging the result.
type MediaScrapeHandler struct {
	db       *sqlx.DB
	store    catalog
	registry *scrape.Registry
	merger   applier
}

func NewMediaScrapeHandler(db *sqlx.DB, store catalog, registry *scrape.Registry, merger applier) *MediaScrapeHandler {
	return &MediaScrapeHandler{db: db, store: store, registry: registry, merger: merger}
}

// Handle fetches and merges metadata for a single media item. A deleted
// target resolves as a no-op, and a scrape which matches nothing completes
// without error or catalog mutation.
func (handler *MediaScrapeHandler) Handle(ctx context.Context, request queue.MediaScrapeRequest) error {
	media, err := handler.store.GetMedia(handler.db, request.MediaID)
	if err != nil {
		if errors.Is(err, library.ErrNotFound) {
			log.Debugf("Scrape requested for media %s which no longer exists; ignoring\n", request.MediaID)
			return nil
		}
		return fmt.Errorf("failed to load media %s: %w", request.MediaID, err)
	}

	lib, err := handler.store.GetLibrary(handler.db, media.LibraryID)
	if err != nil {
		return fmt.Errorf("failed to load library %s for media %s: %w", media.LibraryID, media.ID, err)
	}

	hints := requestHints(request, media.Name)
	record, err := handler.resolve(ctx, lib, request, hints)
	if err != nil {
		return err
	}
	if record == nil {
		log.Infof("No metadata found for media %s (%q); catalog left untouched\n", media.ID, media.Name)
		return nil
	}

	target := merge.Target{ID: media.ID, Kind: library.MediaOwner}
	opts := merge.Options{SkipImages: request.SkipImages, ImagesOnly: request.ImagesOnly}
	return handler.merger.Apply(ctx, record, target, opts)
}

func (handler *MediaScrapeHandler) resolve(ctx context.Context, lib *library.Library, request queue.MediaScrapeRequest, hints scanner.FileHints) (*scrape.Record, error) {
	episodic := hints.SeasonNumber != nil && hints.EpisodeNumber != nil

	if request.Provider != "" && request.ExternalID != "" {
		if episodic {
			return handler.registry.FetchPinned(ctx, request.Provider, func(ctx context.Context, p scrape.Provider) (*scrape.Record, error) {
				return p.FetchEpisode(ctx, request.ExternalID, *hints.SeasonNumber, *hints.EpisodeNumber)
			})
		}
		if lib.Type == library.TelevisionLibrary {
			// The pin names the parent series; fetching that id through the
			// video endpoint would merge the wrong entity.
			return nil, &scrape.PermanentError{Err: fmt.Errorf(
				"media %s is pinned to %s/%s but no season/episode number could be determined",
				request.MediaID, request.Provider, request.ExternalID,
			)}
		}
		return handler.registry.FetchPinned(ctx, request.Provider, func(ctx context.Context, p scrape.Provider) (*scrape.Record, error) {
			return p.FetchVideo(ctx, request.ExternalID)
		})
	}

	if episodic {
		return handler.resolveEpisode(ctx, lib, hints)
	}

	searchHints := scrape.SearchHints{Title: hints.Title, Year: hints.Year}
	return handler.registry.ResolveVideo(ctx, lib.Type, searchHints)
}

// requestHints reconstructs the naming hints for a scrape, preferring the
// scan-time hints carried on the request over re-parsing the persisted
// name. Requests enqueued without hints fall back to the name parse alone.
func requestHints(request queue.MediaScrapeRequest, name string) scanner.FileHints {
	hints := scanner.ParseFileHints(name)
	if request.Title != "" {
		hints.Title = request.Title
	}
	if request.Year != nil {
		hints.Year = request.Year
	}
	if request.SeasonNumber != nil {
		hints.SeasonNumber = request.SeasonNumber
	}
	if request.EpisodeNumber != nil {
		hints.EpisodeNumber = request.EpisodeNumber
	}
	hints.Episodic = hints.SeasonNumber != nil && hints.EpisodeNumber != nil

	return hints
}

// resolveEpisode resolves the owning series first, then fetches the episode
// from whichever provider matched the series.
func (handler *MediaScrapeHandler) resolveEpisode(ctx context.Context, lib *library.Library, hints scanner.FileHints) (*scrape.Record, error) {
	series, err := handler.registry.ResolveSeries(ctx, lib.Type, scrape.SearchHints{Title: hints.Title, Year: hints.Year})
	if err != nil || series == nil {
		return nil, err
	}

	p := handler.registry.Get(series.Provider)
	if p == nil {
		return nil, nil
	}

	record, err := p.FetchEpisode(ctx, series.ExternalID, *hints.SeasonNumber, *hints.EpisodeNumber)
	if err != nil {
		log.Warnf("Provider %s matched series %q but failed to fetch S%02dE%02d: %v\n",
			series.Provider, series.Title, *hints.SeasonNumber, *hints.EpisodeNumber, err)
		return nil, err
	}

	return record, nil
}
