package library

import (
	"database/sql"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/ceres-media/ceres/internal/database"
	"github.com/ceres-media/ceres/pkg/logger"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// ErrNotFound is returned when a catalog row a caller asked for does not
// exist. Consumers that treat a missing target as a no-op (e.g. a scrape
// job whose media was deleted before it ran) are expected to test for this
// error specifically.
var ErrNotFound = errors.New("catalog entity does not exist")

var log = logger.Get("Library")

type Store struct{}

func NewStore() *Store {
	return &Store{}
}

// --- Libraries ---

func (store *Store) CreateLibrary(db database.Queryable, library *Library) error {
	if library.ID == uuid.Nil {
		library.ID = uuid.New()
	}

	_, err := db.Exec(`
		INSERT INTO libraries(id, name, path, type, created_at, updated_at)
		VALUES ($1, $2, $3, $4, current_timestamp, current_timestamp)
	`, library.ID, library.Name, library.Path, library.Type)
	if err != nil {
		return fmt.Errorf("failed to insert new library: %w", err)
	}

	return nil
}

func (store *Store) GetLibrary(db database.Queryable, libraryID uuid.UUID) (*Library, error) {
	var library Library
	if err := db.Get(&library, `SELECT * FROM libraries WHERE id=$1`, libraryID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, err
	}

	return &library, nil
}

func (store *Store) ListLibraries(db database.Queryable) ([]*Library, error) {
	var libraries []*Library
	if err := db.Select(&libraries, `SELECT * FROM libraries ORDER BY created_at`); err != nil {
		return nil, err
	}

	return libraries, nil
}

// --- Media ---

// GetMediaByPath looks up a media row using its canonical absolute path,
// which is the uniqueness key for media.
func (store *Store) GetMediaByPath(db database.Queryable, path string) (*Media, error) {
	var media Media
	if err := db.Get(&media, `SELECT * FROM media WHERE path=$1`, path); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, err
	}

	return &media, nil
}

func (store *Store) GetMedia(db database.Queryable, mediaID uuid.UUID) (*Media, error) {
	var media Media
	if err := db.Get(&media, `SELECT * FROM media WHERE id=$1`, mediaID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, err
	}

	return &media, nil
}

// CreateMediaWithStreams transactionally inserts a media row alongside the
// stream rows the prober extracted for it. The media path conflict is left
// to surface as an error; the scanner only calls this for paths it has
// confirmed to be absent.
func (store *Store) CreateMediaWithStreams(tx *sqlx.Tx, media *Media, streams []*MediaStream) error {
	if media.ID == uuid.Nil {
		media.ID = uuid.New()
	}

	_, err := tx.Exec(`
		INSERT INTO media(id, library_id, collection_id, kind, name, path, duration_secs, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, current_timestamp, current_timestamp)
	`, media.ID, media.LibraryID, media.CollectionID, media.Kind, media.Name, media.Path, media.DurationSecs)
	if err != nil {
		return fmt.Errorf("failed to insert new media: %w", err)
	}

	if len(streams) == 0 {
		return nil
	}

	for _, stream := range streams {
		if stream.ID == uuid.Nil {
			stream.ID = uuid.New()
		}
		stream.MediaID = media.ID
	}

	if _, err := tx.NamedExec(`
		INSERT INTO media_streams(id, media_id, stream_index, stream_type, codec, language, title, channels, width, height, is_default, is_forced)
		VALUES (:id, :media_id, :stream_index, :stream_type, :codec, :language, :title, :channels, :width, :height, :is_default, :is_forced)
	`, streams); err != nil {
		return fmt.Errorf("failed to insert media streams: %w", err)
	}

	return nil
}

func (store *Store) GetMediaStreams(db database.Queryable, mediaID uuid.UUID) ([]*MediaStream, error) {
	var streams []*MediaStream
	if err := db.Select(&streams, `SELECT * FROM media_streams WHERE media_id=$1 ORDER BY stream_index`, mediaID); err != nil {
		return nil, err
	}

	return streams, nil
}

// RenameMedia updates the display name of a media row; used when a scraped
// record carries a cleaner title than the one derived from the filename.
func (store *Store) RenameMedia(db database.Queryable, mediaID uuid.UUID, name string) error {
	_, err := db.Exec(`UPDATE media SET name=$1, updated_at=current_timestamp WHERE id=$2`, name, mediaID)
	return err
}

// ListCollectionMedia returns the media rows directly owned by the given
// collection, ordered by path so episode fan-out is deterministic.
func (store *Store) ListCollectionMedia(db database.Queryable, collectionID uuid.UUID) ([]*Media, error) {
	var media []*Media
	if err := db.Select(&media, `SELECT * FROM media WHERE collection_id=$1 ORDER BY path`, collectionID); err != nil {
		return nil, err
	}

	return media, nil
}

// --- Collections ---

// CollectionHints carries the optional facts a scanner recovers from the
// on-disk naming of a directory, applied when creating (or reclassifying)
// the backing collection.
type CollectionHints struct {
	SeasonNumber *int
	Year         *int
}

// FindOrCreateCollection resolves the collection for (library, name, parent),
// creating it when absent. The returned boolean reports whether a new row
// was created by this call. When a collection already exists but a rescan
// has reclassified it (e.g. depth changes after a library re-type), its type
// and hints are updated in place. The unique index on (library, name,
// parent) makes concurrent creation self-correcting: a conflicting insert
// is swallowed and the winning row re-read.
func (store *Store) FindOrCreateCollection(
	db database.Queryable,
	libraryID uuid.UUID,
	name string,
	parentID *uuid.UUID,
	collectionType CollectionType,
	hints CollectionHints,
) (*Collection, bool, error) {
	existing, err := store.getCollectionByIdentity(db, libraryID, name, parentID)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, false, err
	}

	if existing != nil {
		if existing.Type != collectionType {
			log.Debugf("Collection %s reclassified %s -> %s\n", existing.ID, existing.Type, collectionType)
			if _, err := db.Exec(`
				UPDATE collections SET type=$1, season_number=COALESCE($2, season_number), year=COALESCE($3, year), updated_at=current_timestamp
				WHERE id=$4
			`, collectionType, hints.SeasonNumber, hints.Year, existing.ID); err != nil {
				return nil, false, err
			}

			existing.Type = collectionType
		}

		return existing, false, nil
	}

	collection := &Collection{
		ID:           uuid.New(),
		LibraryID:    libraryID,
		ParentID:     parentID,
		Type:         collectionType,
		Name:         name,
		SeasonNumber: hints.SeasonNumber,
		Year:         hints.Year,
	}

	if _, err := db.Exec(`
		INSERT INTO collections(id, library_id, parent_id, type, name, season_number, year, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, current_timestamp, current_timestamp)
		ON CONFLICT DO NOTHING
	`, collection.ID, collection.LibraryID, collection.ParentID, collection.Type, collection.Name, collection.SeasonNumber, collection.Year); err != nil {
		return nil, false, fmt.Errorf("failed to insert new collection: %w", err)
	}

	// Re-read in case a concurrent insert won the conflict.
	winner, err := store.getCollectionByIdentity(db, libraryID, name, parentID)
	if err != nil {
		return nil, false, err
	}

	return winner, winner.ID == collection.ID, nil
}

func (store *Store) GetCollection(db database.Queryable, collectionID uuid.UUID) (*Collection, error) {
	var collection Collection
	if err := db.Get(&collection, `SELECT * FROM collections WHERE id=$1`, collectionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, err
	}

	return &collection, nil
}

func (store *Store) RenameCollection(db database.Queryable, collectionID uuid.UUID, name string) error {
	_, err := db.Exec(`UPDATE collections SET name=$1, updated_at=current_timestamp WHERE id=$2`, name, collectionID)
	return err
}

func (store *Store) getCollectionByIdentity(db database.Queryable, libraryID uuid.UUID, name string, parentID *uuid.UUID) (*Collection, error) {
	predicate := sq.Eq{"library_id": libraryID, "name": name}
	if parentID == nil {
		predicate["parent_id"] = nil
	} else {
		predicate["parent_id"] = *parentID
	}

	query, args, err := sq.Select("*").From("collections").Where(predicate).PlaceholderFormat(sq.Dollar).ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build collection identity query: %w", err)
	}

	var collection Collection
	if err := db.Get(&collection, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, err
	}

	return &collection, nil
}
