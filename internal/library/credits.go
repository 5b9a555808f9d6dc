package library

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/ceres-media/ceres/internal/database"
	"github.com/google/uuid"
)

// FindOrCreatePerson resolves a person row by the external identity a
// provider reported for them, creating the row when it is first seen.
// Matching on (provider, external_id) rather than name keeps two distinct
// "John Smith"s apart while deduplicating the same actor across targets.
func (store *Store) FindOrCreatePerson(db database.Queryable, name string, provider string, externalID string) (*Person, error) {
	var person Person
	err := db.Get(&person, `SELECT * FROM people WHERE provider=$1 AND external_id=$2`, provider, externalID)
	if err == nil {
		return &person, nil
	} else if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	person = Person{
		ID:         uuid.New(),
		Name:       name,
		Provider:   provider,
		ExternalID: externalID,
	}

	if _, err := db.Exec(`
		INSERT INTO people(id, name, provider, external_id) VALUES ($1, $2, $3, $4)
		ON CONFLICT(provider, external_id) DO NOTHING
	`, person.ID, person.Name, person.Provider, person.ExternalID); err != nil {
		return nil, fmt.Errorf("failed to insert person %q: %w", name, err)
	}

	// Re-read in case a concurrent insert won the conflict.
	if err := db.Get(&person, `SELECT * FROM people WHERE provider=$1 AND external_id=$2`, provider, externalID); err != nil {
		return nil, err
	}

	return &person, nil
}

// SetPersonPhoto records the downloaded photo path for a person. It is only
// applied if the person currently has no photo; an existing photo is never
// clobbered by a later scrape.
func (store *Store) SetPersonPhoto(db database.Queryable, personID uuid.UUID, path string) error {
	_, err := db.Exec(`UPDATE people SET photo_path=$1 WHERE id=$2 AND photo_path IS NULL`, path, personID)
	return err
}

// ReplaceCredits swaps the full credit list for an owner: all existing
// credit rows are deleted and the provided set inserted. Wholesale
// replacement (rather than diffing) guarantees stale attributions cannot
// survive a re-scrape. Person rows referenced by the credits must already
// exist.
func (store *Store) ReplaceCredits(db database.Queryable, ownerID uuid.UUID, credits []*Credit) error {
	if _, err := db.Exec(`DELETE FROM credits WHERE owner_id=$1`, ownerID); err != nil {
		return fmt.Errorf("failed to clear credits for owner %s: %w", ownerID, err)
	}

	if len(credits) == 0 {
		return nil
	}

	for _, credit := range credits {
		if credit.ID == uuid.Nil {
			credit.ID = uuid.New()
		}
		credit.OwnerID = ownerID
	}

	if _, err := db.NamedExec(`
		INSERT INTO credits(id, owner_id, person_id, role, character, position)
		VALUES (:id, :owner_id, :person_id, :role, :character, :position)
	`, credits); err != nil {
		return fmt.Errorf("failed to insert credits for owner %s: %w", ownerID, err)
	}

	return nil
}

// GetCredits returns the credit list for an owner in display order.
func (store *Store) GetCredits(db database.Queryable, ownerID uuid.UUID) ([]*Credit, error) {
	var credits []*Credit
	if err := db.Select(&credits, `SELECT * FROM credits WHERE owner_id=$1 ORDER BY position`, ownerID); err != nil {
		return nil, err
	}

	return credits, nil
}
