package scanner

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ceres-media/ceres/internal/database"
	"github.com/ceres-media/ceres/internal/event"
	"github.com/ceres-media/ceres/internal/library"
	"github.com/ceres-media/ceres/internal/probe"
	"github.com/ceres-media/ceres/pkg/logger"
)

var log = logger.Get("Scanner")

// Directories carrying this suffix hold pre-generated scrub thumbnails for
// the media file they are named after; they are never treated as
// collections.
const trickplaySuffix = ".trickplay"

type (
	prober interface {
		Probe(ctx context.Context, path string) (*probe.Result, error)
	}

	catalog interface {
		GetMediaByPath(db database.Queryable, path string) (*library.Media, error)
		CreateMediaWithStreams(tx *sqlx.Tx, media *library.Media, streams []*library.MediaStream) error
		FindOrCreateCollection(db database.Queryable, libraryID uuid.UUID, name string, parentID *uuid.UUID, collectionType library.CollectionType, hints library.CollectionHints) (*library.Collection, bool, error)
	}

	// MediaOutcome is a media row the scan either created or, on a forced
	// scan, revisited. The hints accompany the row so job dispatch does not
	// need to re-derive them.
	MediaOutcome struct {
		Media   *library.Media
		Hints   FileHints
		Created bool
	}

	// CollectionOutcome is a collection the scan created or revisited.
	// ParentName carries the name of the enclosing collection, which seeds
	// provider searches for seasons and albums.
	CollectionOutcome struct {
		Collection *library.Collection
		ParentName string
		Created    bool
	}

	// Outcome aggregates the result of one library walk. Errors holds the
	// non-fatal failures accumulated along the way; a populated error list
	// does not mean the scan failed.
	Outcome struct {
		FilesFound         int
		FilesProcessed     int
		MediaCreated       int
		CollectionsCreated int

		Errors      []error
		Media       []MediaOutcome
		Collections []CollectionOutcome
	}

	// scannerService walks library roots, mirroring the directory tree in
	// to the catalog. All catalog writes are find-or-create so a re-scan of
	// an unchanged tree is a no-op.
	scannerService struct {
		db       *sqlx.DB
		store    catalog
		prober   prober
		eventBus event.EventDispatcher
	}
)

func New(db *sqlx.DB, store catalog, prober prober, eventBus event.EventDispatcher) *scannerService {
	return &scannerService{db: db, store: store, prober: prober, eventBus: eventBus}
}

// ScanLibrary walks the library's root directory, creating catalog rows for
// anything new. When forced is set, media which already exists is included
// in the outcome (without re-probing) so the caller can re-queue it for a
// metadata refresh.
//
// Cancellation is checked at each directory boundary; a cancelled scan
// returns the context error alongside the partial outcome, and rows already
// created are kept.
func (service *scannerService) ScanLibrary(ctx context.Context, lib *library.Library, forced bool) (*Outcome, error) {
	log.Infof("Beginning scan of library %s (%s) at %s\n", lib.Name, lib.Type, lib.Path)

	state := &walkState{
		library:    lib,
		forced:     forced,
		extensions: lib.Type.Extensions(),
		outcome:    &Outcome{},
	}

	if err := service.walkDirectory(ctx, state, lib.Path, 0, nil, nil); err != nil {
		log.Warnf("Scan of library %s aborted: %v\n", lib.Name, err)
		return state.outcome, err
	}

	service.eventBus.Dispatch(event.SCAN_PROGRESS, event.ScanProgressPayload{LibraryID: lib.ID, Percent: 100})
	service.eventBus.Dispatch(event.SCAN_COMPLETE, lib.ID)

	log.Infof(
		"Scan of library %s complete: %d files found, %d media created, %d collections created, %d errors\n",
		lib.Name, state.outcome.FilesFound, state.outcome.MediaCreated, state.outcome.CollectionsCreated, len(state.outcome.Errors),
	)
	return state.outcome, nil
}

type walkState struct {
	library     *library.Library
	forced      bool
	extensions  map[string]struct{}
	outcome     *Outcome
	lastPercent int
}

// walkDirectory processes one directory and recurses in to its
// subdirectories, accumulating the trail of collection names above it.
// Only cancellation propagates as an error; everything else is accumulated
// on the outcome so a single bad directory never aborts the walk.
func (service *scannerService) walkDirectory(ctx context.Context, state *walkState, path string, depth int, parent *library.Collection, trail []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		log.Warnf("Failed to read directory %s: %v\n", path, err)
		state.outcome.Errors = append(state.outcome.Errors, fmt.Errorf("failed to read directory %s: %w", path, err))
		return nil
	}

	files := make([]string, 0, len(entries))
	dirs := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		// Stat rather than the dirent type so symlinks resolve to their
		// target; broken links are skipped.
		info, err := os.Stat(filepath.Join(path, name))
		if err != nil {
			log.Debugf("Skipping entry %s: %v\n", filepath.Join(path, name), err)
			continue
		}

		if info.IsDir() {
			if strings.HasPrefix(name, ".") || strings.HasSuffix(name, trickplaySuffix) {
				continue
			}
			dirs = append(dirs, name)
			continue
		}

		if _, ok := state.extensions[strings.ToLower(filepath.Ext(name))]; ok {
			files = append(files, name)
		}
	}

	state.outcome.FilesFound += len(files)
	for _, name := range files {
		if err := service.processFile(ctx, state, filepath.Join(path, name), name, parent, trail); err != nil {
			log.Warnf("Failed to ingest %s: %v\n", filepath.Join(path, name), err)
			state.outcome.Errors = append(state.outcome.Errors, err)
		}
		state.outcome.FilesProcessed++
	}
	service.reportProgress(state)

	for _, name := range dirs {
		collection, err := service.processDirectory(state, name, depth, parent)
		if err != nil {
			log.Warnf("Failed to register collection for directory %s: %v\n", filepath.Join(path, name), err)
			state.outcome.Errors = append(state.outcome.Errors, err)
			continue
		}

		if err := service.walkDirectory(ctx, state, filepath.Join(path, name), depth+1, collection, append(trail, collection.Name)); err != nil {
			return err
		}
	}

	return nil
}

// processFile ingests a single media file. New files are probed and
// persisted with their stream facts; files already in the catalog are left
// untouched unless the scan is forced, in which case they are surfaced on
// the outcome for a metadata re-queue without re-probing.
func (service *scannerService) processFile(ctx context.Context, state *walkState, path string, filename string, parent *library.Collection, trail []string) error {
	name := canonicalName(state.library.Type, filename, parent)
	hints := fileHints(state.library.Type, filename, parent, trail)

	existing, err := service.store.GetMediaByPath(service.db, path)
	if err != nil && !errors.Is(err, library.ErrNotFound) {
		return fmt.Errorf("media lookup for %s failed: %w", path, err)
	}

	if existing != nil {
		if state.forced {
			state.outcome.Media = append(state.outcome.Media, MediaOutcome{Media: existing, Hints: hints})
		}
		return nil
	}

	// Probe failures degrade to a zero duration with no streams; the media
	// row is still created.
	result, err := service.prober.Probe(ctx, path)
	if err != nil {
		log.Warnf("Probe of %s failed (media will be created with no stream facts): %v\n", path, err)
		result = &probe.Result{}
	}

	media := &library.Media{
		ID:           uuid.New(),
		LibraryID:    state.library.ID,
		Kind:         state.library.Type.MediaKind(),
		Name:         name,
		Path:         path,
		DurationSecs: result.DurationSecs,
	}
	if parent != nil {
		media.CollectionID = &parent.ID
	}

	streams := make([]*library.MediaStream, 0, len(result.Streams))
	for _, stream := range result.Streams {
		streams = append(streams, &library.MediaStream{
			StreamIndex: stream.Index,
			StreamType:  stream.Type,
			Codec:       stream.Codec,
			Language:    stream.Language,
			Title:       stream.Title,
			Channels:    stream.Channels,
			Width:       stream.Width,
			Height:      stream.Height,
			IsDefault:   stream.Default,
			IsForced:    stream.Forced,
		})
	}

	if err := database.WrapTx(service.db, func(tx *sqlx.Tx) error {
		return service.store.CreateMediaWithStreams(tx, media, streams)
	}); err != nil {
		return fmt.Errorf("failed to persist media for %s: %w", path, err)
	}

	state.outcome.MediaCreated++
	state.outcome.Media = append(state.outcome.Media, MediaOutcome{Media: media, Hints: hints, Created: true})
	return nil
}

// processDirectory finds-or-creates the collection backing a subdirectory.
// The collection variant follows from the library type and the directory's
// depth below the library root.
func (service *scannerService) processDirectory(state *walkState, name string, depth int, parent *library.Collection) (*library.Collection, error) {
	collectionType := classifyDepth(state.library.Type, depth)

	hints := library.CollectionHints{}
	displayName := name
	switch collectionType {
	case library.SeasonCollection:
		hints.SeasonNumber = SeasonNumberFromDirectory(name)
	case library.FilmCollection, library.ShowCollection:
		parsed := ParseFileHints(name)
		hints.Year = parsed.Year
		if parsed.Title != "" {
			displayName = parsed.Title
		}
	}

	var parentID *uuid.UUID
	parentName := ""
	if parent != nil {
		parentID = &parent.ID
		parentName = parent.Name
	}

	collection, created, err := service.store.FindOrCreateCollection(service.db, state.library.ID, displayName, parentID, collectionType, hints)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve collection for directory %s: %w", name, err)
	}

	if created {
		state.outcome.CollectionsCreated++
	}
	if created || state.forced {
		state.outcome.Collections = append(state.outcome.Collections, CollectionOutcome{
			Collection: collection,
			ParentName: parentName,
			Created:    created,
		})
	}

	return collection, nil
}

// reportProgress publishes the approximate completion percentage. The total
// file count is unknown until the walk finishes, so progress is capped at
// 95 until the final completion event.
func (service *scannerService) reportProgress(state *walkState) {
	if state.outcome.FilesFound == 0 {
		return
	}

	percent := state.outcome.FilesProcessed * 100 / state.outcome.FilesFound
	if percent > 95 {
		percent = 95
	}
	if percent == state.lastPercent {
		return
	}

	state.lastPercent = percent
	service.eventBus.Dispatch(event.SCAN_PROGRESS, event.ScanProgressPayload{LibraryID: state.library.ID, Percent: percent})
}

// fileHints derives the naming hints for a media file. The filename parse
// comes first; for television files inside a season directory it is
// backfilled from the surrounding tree, since episode files often carry
// neither show name nor season marker ('Season 1/01 - Pilot.mkv').
func fileHints(libraryType library.LibraryType, filename string, parent *library.Collection, trail []string) FileHints {
	base := strings.TrimSuffix(filename, filepath.Ext(filename))
	hints := ParseFileHints(base)

	if libraryType == library.TelevisionLibrary && parent != nil && parent.Type == library.SeasonCollection {
		if !hints.Episodic && len(trail) > 0 {
			hints.Title = trail[0]
		}
		if hints.SeasonNumber == nil {
			hints.SeasonNumber = parent.SeasonNumber
		}
		if hints.EpisodeNumber == nil {
			hints.EpisodeNumber = EpisodeNumberFromName(base)
		}
		hints.Episodic = hints.SeasonNumber != nil && hints.EpisodeNumber != nil
	}

	return hints
}

// canonicalName derives the display name for a media file. Film libraries
// take the name from the containing directory as folder names carry cleaner
// titles than release filenames.
func canonicalName(libraryType library.LibraryType, filename string, parent *library.Collection) string {
	if libraryType == library.FilmLibrary && parent != nil {
		return parent.Name
	}

	return strings.TrimSuffix(filename, filepath.Ext(filename))
}

// classifyDepth maps a directory's depth below the library root on to the
// collection variant it represents.
func classifyDepth(libraryType library.LibraryType, depth int) library.CollectionType {
	switch libraryType {
	case library.TelevisionLibrary:
		switch depth {
		case 0:
			return library.ShowCollection
		case 1:
			return library.SeasonCollection
		}
	case library.MusicLibrary:
		switch depth {
		case 0:
			return library.ArtistCollection
		case 1:
			return library.AlbumCollection
		}
	case library.FilmLibrary:
		if depth == 0 {
			return library.FilmCollection
		}
	}

	return library.GenericCollection
}
