package jobs

import (
	"context"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/ceres-media/ceres/internal/library"
	"github.com/ceres-media/ceres/internal/queue"
	"github.com/ceres-media/ceres/internal/scanner"
)

// ScanHandler services the scan queue: it walks the requested library and
// enqueues metadata scrapes for whatever the walk touched.
type ScanHandler struct {
	db       *sqlx.DB
	store    catalog
	scanner  libraryScanner
	producer producer
}

func NewScanHandler(db *sqlx.DB, store catalog, scanner libraryScanner, producer producer) *ScanHandler {
	return &ScanHandler{db: db, store: store, scanner: scanner, producer: producer}
}

// Handle runs a library scan to completion. A library deleted between
// enqueue and execution resolves as a no-op; cancellation surfaces as the
// context error with already-created rows left in place.
func (handler *ScanHandler) Handle(ctx context.Context, request queue.LibraryScanRequest) error {
	lib, err := handler.store.GetLibrary(handler.db, request.LibraryID)
	if err != nil {
		if errors.Is(err, library.ErrNotFound) {
			log.Warnf("Scan requested for library %s which no longer exists; ignoring\n", request.LibraryID)
			return nil
		}
		return fmt.Errorf("failed to load library %s: %w", request.LibraryID, err)
	}

	outcome, err := handler.scanner.ScanLibrary(ctx, lib, request.Forced)
	if err != nil {
		return err
	}
	for _, scanErr := range outcome.Errors {
		log.Warnf("Scan of library %s: %v\n", lib.Name, scanErr)
	}

	for _, dispatchErr := range scanner.DispatchJobs(ctx, handler.producer, lib, outcome) {
		log.Errorf("Scan of library %s: %v\n", lib.Name, dispatchErr)
	}

	return nil
}
