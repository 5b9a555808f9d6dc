package internal

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ceres-media/ceres/internal/database"
	"github.com/ceres-media/ceres/internal/event"
	"github.com/ceres-media/ceres/internal/jobs"
	"github.com/ceres-media/ceres/internal/library"
	"github.com/ceres-media/ceres/internal/merge"
	"github.com/ceres-media/ceres/internal/probe"
	"github.com/ceres-media/ceres/internal/providers/musicbrainz"
	"github.com/ceres-media/ceres/internal/providers/tmdb"
	"github.com/ceres-media/ceres/internal/providers/tvdb"
	"github.com/ceres-media/ceres/internal/queue"
	"github.com/ceres-media/ceres/internal/scanner"
	"github.com/ceres-media/ceres/internal/scrape"
	"github.com/ceres-media/ceres/pkg/logger"
)

var log = logger.Get("Core")

// Ceres represents the top-level object for the server, and is responsible
// for initialising the stores, services, job queue and event handling.
type ceresImpl struct {
	eventBus event.EventCoordinator
	config   CeresConfig

	db    database.Manager
	store *library.Store
}

func New(config CeresConfig) *ceresImpl {
	log.Emit(logger.DEBUG, "Bootstrapping Ceres services using config: %#v\n", config)

	return &ceresImpl{
		eventBus: event.New(),
		config:   config,
		db:       database.New(),
		store:    library.NewStore(),
	}
}

// Run will start all of Ceres by bringing up the database connection, the
// metadata providers, the job queue servers and (optionally) the library
// filesystem watcher.
//
// This function will not return until Ceres is stopped. To stop Ceres, the
// provided context must be cancelled. Errors from which Ceres cannot
// recover will also cause it to stop.
func (ceres *ceresImpl) Run(parent context.Context) error {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	crashHandler := func(label string, err error) {
		log.Emit(logger.FATAL, "Service crash (%s)! %s\n", label, err.Error())
		cancel()
	}

	log.Emit(logger.NEW, "Connecting to database...\n")
	if err := ceres.db.Connect(ceres.config.Database); err != nil {
		return err
	}
	db := ceres.db.GetSqlxDb()

	registry := scrape.NewRegistry(
		tmdb.New(ceres.config.TMDB),
		tvdb.New(ceres.config.TVDB),
		musicbrainz.New(ceres.config.MusicBrainz),
	)

	downloader, err := merge.NewImageDownloader(ceres.config.getArtworkDir())
	if err != nil {
		return fmt.Errorf("failed to initialise artwork store: %w", err)
	}

	merger := merge.New(db, ceres.store, downloader, ceres.eventBus)
	scanService := scanner.New(db, ceres.store, probe.New(ceres.config.FFProbeBinPath), ceres.eventBus)

	orchestrator := queue.New(ceres.config.Queue)
	orchestrator.RegisterScanHandler(jobs.NewScanHandler(db, ceres.store, scanService, orchestrator).Handle)
	orchestrator.RegisterMediaScrapeHandler(jobs.NewMediaScrapeHandler(db, ceres.store, registry, merger).Handle)
	orchestrator.RegisterCollectionScrapeHandler(jobs.NewCollectionScrapeHandler(db, ceres.store, registry, merger, orchestrator).Handle)

	wg := &sync.WaitGroup{}
	ceres.spawnAsyncService(ctx, wg, "queue-orchestrator", orchestrator.Run, crashHandler)

	if ceres.config.WatchLibraries {
		libraries, err := ceres.store.ListLibraries(db)
		if err != nil {
			return fmt.Errorf("failed to list libraries for watching: %w", err)
		}

		watcher := scanner.NewWatcher(orchestrator, time.Duration(ceres.config.WatchHoldSeconds)*time.Second)
		ceres.spawnAsyncService(ctx, wg, "library-watcher", func(ctx context.Context) error {
			return watcher.Run(ctx, libraries)
		}, crashHandler)
	}

	log.Emit(logger.SUCCESS, "Ceres services spawned!\n")
	wg.Wait()
	return nil
}

// spawnAsyncService will run the provided service function as it's own
// go-routine, ensuring that the Ceres service waitgroup is updated correctly
func (ceres *ceresImpl) spawnAsyncService(ctx context.Context, wg *sync.WaitGroup, serviceLabel string, service func(context.Context) error, crashHandler func(string, error)) {
	log.Emit(logger.NEW, "Spawning %s\n", serviceLabel)
	wg.Add(1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				crashHandler(serviceLabel, fmt.Errorf("panic %v", r))
			}
		}()

		defer wg.Done()
		if err := service(ctx); err != nil {
			crashHandler(serviceLabel, err)
		}
	}()
}
