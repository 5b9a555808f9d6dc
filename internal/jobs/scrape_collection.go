package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ceres-media/ceres/internal/library"
	"github.com/ceres-media/ceres/internal/merge"
	"github.com/ceres-media/ceres/internal/queue"
	"github.com/ceres-media/ceres/internal/scanner"
	"github.com/ceres-media/ceres/internal/scrape"
)

// CollectionScrapeHandler services the collection-scrape queue. Shows,
// artists and films resolve through search; seasons require their parent
// show's already-resolved provider identity and fail with a missing-parent
// outcome when it is absent.
type CollectionScrapeHandler struct {
	db       *sqlx.DB
	store    catalog
	registry *scrape.Registry
	merger   applier
	producer producer
}

func NewCollectionScrapeHandler(db *sqlx.DB, store catalog, registry *scrape.Registry, merger applier, producer producer) *CollectionScrapeHandler {
	return &CollectionScrapeHandler{db: db, store: store, registry: registry, merger: merger, producer: producer}
}

func (handler *CollectionScrapeHandler) Handle(ctx context.Context, request queue.CollectionScrapeRequest) error {
	collection, err := handler.store.GetCollection(handler.db, request.CollectionID)
	if err != nil {
		if errors.Is(err, library.ErrNotFound) {
			log.Debugf("Scrape requested for collection %s which no longer exists; ignoring\n", request.CollectionID)
			return nil
		}
		return fmt.Errorf("failed to load collection %s: %w", request.CollectionID, err)
	}

	lib, err := handler.store.GetLibrary(handler.db, collection.LibraryID)
	if err != nil {
		return fmt.Errorf("failed to load library %s for collection %s: %w", collection.LibraryID, collection.ID, err)
	}

	var record *scrape.Record
	switch collection.Type {
	case library.ShowCollection:
		record, err = handler.resolveSearchable(ctx, lib, collection, request, handler.registry.ResolveSeries,
			func(ctx context.Context, p scrape.Provider) (*scrape.Record, error) {
				return p.FetchSeries(ctx, request.ExternalID)
			})
	case library.FilmCollection:
		record, err = handler.resolveSearchable(ctx, lib, collection, request, handler.registry.ResolveVideo,
			func(ctx context.Context, p scrape.Provider) (*scrape.Record, error) {
				return p.FetchVideo(ctx, request.ExternalID)
			})
	case library.ArtistCollection:
		record, err = handler.resolveSearchable(ctx, lib, collection, request, handler.registry.ResolveArtist,
			func(ctx context.Context, p scrape.Provider) (*scrape.Record, error) {
				return p.FetchArtist(ctx, request.ExternalID)
			})
	case library.AlbumCollection:
		record, err = handler.resolveAlbum(ctx, lib, collection, request)
	case library.SeasonCollection:
		record, err = handler.resolveSeason(ctx, collection, request)
	default:
		log.Debugf("Collection %s has type %s which has no scrape semantics; ignoring\n", collection.ID, collection.Type)
		return nil
	}
	if err != nil {
		return err
	}
	if record == nil {
		log.Infof("No metadata found for collection %s (%q); catalog left untouched\n", collection.ID, collection.Name)
		return nil
	}

	target := merge.Target{ID: collection.ID, Kind: library.CollectionOwner}
	opts := merge.Options{SkipImages: request.SkipImages, ImagesOnly: request.ImagesOnly}
	if err := handler.merger.Apply(ctx, record, target, opts); err != nil {
		return err
	}

	// Film and season scrapes own the metadata of the media beneath them:
	// fan out per-media jobs pinned to the provider identity that matched,
	// so the children skip searching entirely.
	switch collection.Type {
	case library.FilmCollection:
		handler.fanOutMedia(ctx, collection.ID, record.Provider, record.ExternalID, nil, request)
	case library.SeasonCollection:
		// Episodes are fetched by (series id, season, episode); pin the
		// parent series identity rather than the season's own.
		parentProvider, parentExternal, _ := handler.parentIdentity(request, collection)
		handler.fanOutMedia(ctx, collection.ID, parentProvider, parentExternal, collection.SeasonNumber, request)
	}

	return nil
}

type (
	resolveFn func(ctx context.Context, libraryType library.LibraryType, hints scrape.SearchHints) (*scrape.Record, error)
	fetchFn   func(ctx context.Context, p scrape.Provider) (*scrape.Record, error)
)

// resolveSearchable covers the collection variants that resolve through
// plain search: a pinned provider identity short-circuits to a direct
// fetch.
func (handler *CollectionScrapeHandler) resolveSearchable(ctx context.Context, lib *library.Library, collection *library.Collection, request queue.CollectionScrapeRequest, resolve resolveFn, fetch fetchFn) (*scrape.Record, error) {
	if request.Provider != "" && request.ExternalID != "" {
		return handler.registry.FetchPinned(ctx, request.Provider, fetch)
	}

	return resolve(ctx, lib.Type, scrape.SearchHints{Title: collection.Name, Year: collection.Year})
}

// resolveAlbum searches with the owning artist's name as an extra hint.
func (handler *CollectionScrapeHandler) resolveAlbum(ctx context.Context, lib *library.Library, collection *library.Collection, request queue.CollectionScrapeRequest) (*scrape.Record, error) {
	if request.Provider != "" && request.ExternalID != "" {
		return handler.registry.FetchPinned(ctx, request.Provider, func(ctx context.Context, p scrape.Provider) (*scrape.Record, error) {
			return p.FetchAlbum(ctx, request.ExternalID)
		})
	}

	hints := scrape.SearchHints{Title: collection.Name, Artist: request.ParentName}
	if hints.Artist == "" && collection.ParentID != nil {
		if parent, err := handler.store.GetCollection(handler.db, *collection.ParentID); err == nil {
			hints.Artist = parent.Name
		}
	}

	return handler.registry.ResolveAlbum(ctx, lib.Type, hints)
}

// resolveSeason fetches a season through the parent show's resolved
// provider identity. With no resolvable parent the job fails with
// ErrMissingParent; the queue's retry policy applies, and the retries will
// keep failing until the parent's own scrape happens to land first.
func (handler *CollectionScrapeHandler) resolveSeason(ctx context.Context, collection *library.Collection, request queue.CollectionScrapeRequest) (*scrape.Record, error) {
	provider, externalID, err := handler.parentIdentity(request, collection)
	if err != nil {
		return nil, err
	}

	if collection.SeasonNumber == nil {
		return nil, &scrape.PermanentError{Err: fmt.Errorf("collection %s has no season number to fetch by", collection.ID)}
	}

	return handler.registry.FetchPinned(ctx, provider, func(ctx context.Context, p scrape.Provider) (*scrape.Record, error) {
		return p.FetchSeason(ctx, externalID, *collection.SeasonNumber)
	})
}

// parentIdentity resolves the provider identity of a season's parent show,
// preferring the identity carried on the job payload and falling back to
// the parent's persisted detail row.
func (handler *CollectionScrapeHandler) parentIdentity(request queue.CollectionScrapeRequest, collection *library.Collection) (string, string, error) {
	if request.ParentProvider != "" && request.ParentExternalID != "" {
		return request.ParentProvider, request.ParentExternalID, nil
	}

	if collection.ParentID == nil {
		return "", "", fmt.Errorf("collection %s has no parent: %w", collection.ID, scrape.ErrMissingParent)
	}

	details, err := handler.store.GetDetails(handler.db, *collection.ParentID)
	if err != nil {
		if errors.Is(err, library.ErrNotFound) {
			return "", "", fmt.Errorf("parent of collection %s is not yet scraped: %w", collection.ID, scrape.ErrMissingParent)
		}
		return "", "", err
	}
	if details.Provider == "" || details.ExternalID == "" {
		return "", "", fmt.Errorf("parent of collection %s carries no provider identity: %w", collection.ID, scrape.ErrMissingParent)
	}

	return details.Provider, details.ExternalID, nil
}

// fanOutMedia enqueues pinned per-media scrapes for everything the
// collection directly owns. Season fan-outs carry the season number and
// the episode number recovered from each file's name, so episodes named
// without a full SxxExx marker still resolve. Enqueue failures are logged;
// the collection scrape itself has already succeeded.
func (handler *CollectionScrapeHandler) fanOutMedia(ctx context.Context, collectionID uuid.UUID, provider string, externalID string, seasonNumber *int, request queue.CollectionScrapeRequest) {
	if provider == "" || externalID == "" {
		return
	}

	media, err := handler.store.ListCollectionMedia(handler.db, collectionID)
	if err != nil {
		log.Errorf("Failed to list media of collection %s for fan-out: %v\n", collectionID, err)
		return
	}

	for _, item := range media {
		mediaRequest := queue.MediaScrapeRequest{
			MediaID:    item.ID,
			Provider:   provider,
			ExternalID: externalID,
			SkipImages: request.SkipImages,
			ImagesOnly: request.ImagesOnly,
		}
		if seasonNumber != nil {
			hints := scanner.ParseFileHints(item.Name)
			if hints.SeasonNumber == nil {
				hints.SeasonNumber = seasonNumber
			}
			if hints.EpisodeNumber == nil {
				hints.EpisodeNumber = scanner.EpisodeNumberFromName(item.Name)
			}
			mediaRequest.SeasonNumber = hints.SeasonNumber
			mediaRequest.EpisodeNumber = hints.EpisodeNumber
		}
		if err := handler.producer.ScheduleMediaScrapeIfAbsent(ctx, mediaRequest); err != nil {
			log.Errorf("Failed to enqueue fan-out scrape for media %s: %v\n", item.ID, err)
		}
	}
}
