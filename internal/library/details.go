package library

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/ceres-media/ceres/internal/database"
	"github.com/google/uuid"
)

// UpsertDetails writes the scraped metadata for an owner, creating the row
// if absent and overwriting it field-by-field when present. The owner_id
// uniqueness means repeated application of the same record is a no-op.
func (store *Store) UpsertDetails(db database.Queryable, details *Details) error {
	if details.ID == uuid.Nil {
		details.ID = uuid.New()
	}

	_, err := db.NamedExec(`
		INSERT INTO details(id, owner_id, owner_kind, provider, external_id, title, tagline, description,
			release_date, year, rating, season_number, episode_number, genres, created_at, updated_at)
		VALUES (:id, :owner_id, :owner_kind, :provider, :external_id, :title, :tagline, :description,
			:release_date, :year, :rating, :season_number, :episode_number, :genres, current_timestamp, current_timestamp)
		ON CONFLICT(owner_id) DO UPDATE SET
			provider=EXCLUDED.provider,
			external_id=EXCLUDED.external_id,
			title=EXCLUDED.title,
			tagline=EXCLUDED.tagline,
			description=EXCLUDED.description,
			release_date=EXCLUDED.release_date,
			year=EXCLUDED.year,
			rating=EXCLUDED.rating,
			season_number=EXCLUDED.season_number,
			episode_number=EXCLUDED.episode_number,
			genres=EXCLUDED.genres,
			updated_at=current_timestamp
	`, details)
	if err != nil {
		return fmt.Errorf("failed to upsert details for owner %s: %w", details.OwnerID, err)
	}

	return nil
}

// GetDetails returns the detail row for the given owner, or ErrNotFound if
// the owner has never been scraped.
func (store *Store) GetDetails(db database.Queryable, ownerID uuid.UUID) (*Details, error) {
	var details Details
	if err := db.Get(&details, `SELECT * FROM details WHERE owner_id=$1`, ownerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}

		return nil, err
	}

	return &details, nil
}
