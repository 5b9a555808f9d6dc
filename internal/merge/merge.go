// Package merge applies scraped metadata records to persisted catalog
// entities. Detail rows are upserted, credits replaced wholesale, and
// artwork downloaded concurrently; every operation is idempotent so
// re-applying the same record is harmless.
package merge

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/ceres-media/ceres/internal/database"
	"github.com/ceres-media/ceres/internal/event"
	"github.com/ceres-media/ceres/internal/library"
	"github.com/ceres-media/ceres/internal/scrape"
	"github.com/ceres-media/ceres/pkg/logger"
)

var log = logger.Get("Merge")

type (
	catalog interface {
		UpsertDetails(db database.Queryable, details *library.Details) error
		RenameMedia(db database.Queryable, mediaID uuid.UUID, name string) error
		RenameCollection(db database.Queryable, collectionID uuid.UUID, name string) error
		CountImages(db database.Queryable, ownerID uuid.UUID, imageType library.ImageType) (int, error)
		SaveImage(db database.Queryable, image *library.Image) error
		FindOrCreatePerson(db database.Queryable, name string, provider string, externalID string) (*library.Person, error)
		SetPersonPhoto(db database.Queryable, personID uuid.UUID, path string) error
		ReplaceCredits(db database.Queryable, ownerID uuid.UUID, credits []*library.Credit) error
	}

	// Target identifies the catalog entity a record is merged on to.
	Target struct {
		ID   uuid.UUID
		Kind library.OwnerKind
	}

	// Options gates which parts of the record are applied. ImagesOnly
	// restricts the merge to artwork (and credit photos); SkipImages keeps
	// existing artwork, fetching images only for kinds the target has none
	// of.
	Options struct {
		SkipImages bool
		ImagesOnly bool
	}

	mergeService struct {
		db       *sqlx.DB
		store    catalog
		images   *imageDownloader
		eventBus event.EventDispatcher
	}
)

func New(db *sqlx.DB, store catalog, images *imageDownloader, eventBus event.EventDispatcher) *mergeService {
	return &mergeService{db: db, store: store, images: images, eventBus: eventBus}
}

// Apply merges a scraped record on to the target entity. Structured fields
// and credits are written unless the options restrict the merge to images;
// artwork downloads run concurrently and their failures are logged per
// image without failing the merge.
func (service *mergeService) Apply(ctx context.Context, record *scrape.Record, target Target, opts Options) error {
	if record == nil {
		return errors.New("cannot merge a nil record")
	}

	if !opts.ImagesOnly {
		if err := service.applyDetails(record, target); err != nil {
			return err
		}
		if err := service.applyCredits(ctx, record, target, opts); err != nil {
			return err
		}
	} else if err := service.refreshCreditPhotos(ctx, record); err != nil {
		return err
	}

	service.applyImages(ctx, record, target, opts)

	switch target.Kind {
	case library.MediaOwner:
		service.eventBus.Dispatch(event.MEDIA_UPDATE, target.ID)
	case library.CollectionOwner:
		service.eventBus.Dispatch(event.COLLECTION_UPDATE, target.ID)
	}

	return nil
}

// applyDetails upserts the structured fields and corrects the owning
// entity's display name when the record carries a cleaner title.
func (service *mergeService) applyDetails(record *scrape.Record, target Target) error {
	details := &library.Details{
		OwnerID:       target.ID,
		OwnerKind:     target.Kind,
		Provider:      record.Provider,
		ExternalID:    record.ExternalID,
		Title:         record.Title,
		ReleaseDate:   record.ReleaseDate,
		Year:          record.Year,
		Rating:        record.Rating,
		SeasonNumber:  record.SeasonNumber,
		EpisodeNumber: record.EpisodeNumber,
	}
	if record.Tagline != nil {
		details.Tagline = *record.Tagline
	}
	if record.Description != nil {
		details.Description = *record.Description
	}
	if len(record.Genres) > 0 {
		details.Genres = database.NewJsonColumn(record.Genres)
	}

	if err := service.store.UpsertDetails(service.db, details); err != nil {
		return fmt.Errorf("failed to upsert details for %s %s: %w", target.Kind, target.ID, err)
	}

	if record.Title != "" {
		var err error
		switch target.Kind {
		case library.MediaOwner:
			err = service.store.RenameMedia(service.db, target.ID, record.Title)
		case library.CollectionOwner:
			err = service.store.RenameCollection(service.db, target.ID, record.Title)
		}
		if err != nil {
			return fmt.Errorf("failed to apply scraped title to %s %s: %w", target.Kind, target.ID, err)
		}
	}

	return nil
}

// applyCredits replaces the target's credit list with the fetched set.
// Replacement is wholesale so credits removed upstream do not linger; each
// credit's person is resolved by its provider identity first so repeated
// merges never duplicate people.
func (service *mergeService) applyCredits(ctx context.Context, record *scrape.Record, target Target, opts Options) error {
	if len(record.Credits) == 0 {
		return nil
	}

	credits := make([]*library.Credit, 0, len(record.Credits))
	for _, entry := range record.Credits {
		person, err := service.store.FindOrCreatePerson(service.db, entry.Name, record.Provider, entry.ExternalID)
		if err != nil {
			return fmt.Errorf("failed to resolve person %q (%s): %w", entry.Name, entry.ExternalID, err)
		}

		if person.PhotoPath == nil && entry.PhotoURL != "" && !opts.SkipImages {
			service.downloadPersonPhoto(ctx, person, entry.PhotoURL)
		}

		credit := &library.Credit{
			OwnerID:  target.ID,
			PersonID: person.ID,
			Role:     entry.Role,
			Position: entry.Position,
		}
		if entry.Character != nil {
			credit.Character = *entry.Character
		}
		credits = append(credits, credit)
	}

	if err := service.store.ReplaceCredits(service.db, target.ID, credits); err != nil {
		return fmt.Errorf("failed to replace credits for %s %s: %w", target.Kind, target.ID, err)
	}

	return nil
}

// refreshCreditPhotos re-fetches missing cast photos during an images-only
// merge without touching the credit rows themselves.
func (service *mergeService) refreshCreditPhotos(ctx context.Context, record *scrape.Record) error {
	for _, entry := range record.Credits {
		if entry.PhotoURL == "" {
			continue
		}

		person, err := service.store.FindOrCreatePerson(service.db, entry.Name, record.Provider, entry.ExternalID)
		if err != nil {
			return fmt.Errorf("failed to resolve person %q (%s): %w", entry.Name, entry.ExternalID, err)
		}
		if person.PhotoPath == nil {
			service.downloadPersonPhoto(ctx, person, entry.PhotoURL)
		}
	}

	return nil
}

func (service *mergeService) downloadPersonPhoto(ctx context.Context, person *library.Person, url string) {
	path, err := service.images.Download(ctx, url, fmt.Sprintf("person-%s", person.ID))
	if err != nil {
		log.Warnf("Failed to download photo for person %s: %v\n", person.ID, err)
		return
	}

	if err := service.store.SetPersonPhoto(service.db, person.ID, path); err != nil {
		log.Warnf("Failed to record photo for person %s: %v\n", person.ID, err)
	}
}

// applyImages downloads the record's artwork. Each image kind is fetched
// concurrently; a failed download is logged and never aborts its siblings.
// With SkipImages set, a kind is only fetched when the target currently has
// no image of that kind, so a text refresh cannot clobber existing art but
// a blank target still gets some.
func (service *mergeService) applyImages(ctx context.Context, record *scrape.Record, target Target, opts Options) {
	if len(record.Images) == 0 {
		return
	}

	wanted := make(map[library.ImageType]string, len(record.Images))
	for imageType, url := range record.Images {
		if url == "" {
			continue
		}

		if opts.SkipImages {
			count, err := service.store.CountImages(service.db, target.ID, imageType)
			if err != nil {
				log.Warnf("Failed to count %s images for %s %s: %v\n", imageType, target.Kind, target.ID, err)
				continue
			}
			if count > 0 {
				continue
			}
		}

		wanted[imageType] = url
	}
	if len(wanted) == 0 {
		return
	}

	outcomes := service.images.DownloadAll(ctx, target.ID, wanted)
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			log.Warnf("Failed to download %s image for %s %s: %v\n", outcome.Type, target.Kind, target.ID, outcome.Err)
			continue
		}

		image := &library.Image{
			OwnerID:   target.ID,
			Type:      outcome.Type,
			SourceURL: outcome.URL,
			Path:      outcome.Path,
			IsPrimary: true,
		}
		if err := service.store.SaveImage(service.db, image); err != nil {
			log.Warnf("Failed to record %s image for %s %s: %v\n", outcome.Type, target.Kind, target.ID, err)
		}
	}
}
