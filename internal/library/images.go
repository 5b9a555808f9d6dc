package library

import (
	"fmt"

	"github.com/ceres-media/ceres/internal/database"
	"github.com/google/uuid"
)

// CountImages returns how many images of the given type the owner currently
// has. The merge layer uses this to gate image refreshes: a skip-images
// apply still downloads art for an owner with a zero count.
func (store *Store) CountImages(db database.Queryable, ownerID uuid.UUID, imageType ImageType) (int, error) {
	var count int
	if err := db.Get(&count, `SELECT COUNT(*) FROM images WHERE owner_id=$1 AND image_type=$2`, ownerID, imageType); err != nil {
		return 0, err
	}

	return count, nil
}

// SaveImage records a downloaded artwork asset. When the image is marked
// primary, any previous primary of the same type for the owner is demoted
// first so the at-most-one-primary invariant holds.
func (store *Store) SaveImage(db database.Queryable, image *Image) error {
	if image.ID == uuid.Nil {
		image.ID = uuid.New()
	}

	if image.IsPrimary {
		if _, err := db.Exec(`
			UPDATE images SET is_primary=false WHERE owner_id=$1 AND image_type=$2 AND is_primary
		`, image.OwnerID, image.Type); err != nil {
			return fmt.Errorf("failed to demote previous primary image: %w", err)
		}
	}

	if _, err := db.Exec(`
		INSERT INTO images(id, owner_id, image_type, source_url, path, is_primary, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, current_timestamp)
	`, image.ID, image.OwnerID, image.Type, image.SourceURL, image.Path, image.IsPrimary); err != nil {
		return fmt.Errorf("failed to insert image for owner %s: %w", image.OwnerID, err)
	}

	return nil
}

// GetImages returns all images for an owner, primaries first.
func (store *Store) GetImages(db database.Queryable, ownerID uuid.UUID) ([]*Image, error) {
	var images []*Image
	if err := db.Select(&images, `SELECT * FROM images WHERE owner_id=$1 ORDER BY is_primary DESC, created_at`, ownerID); err != nil {
		return nil, err
	}

	return images, nil
}
