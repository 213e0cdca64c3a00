package repository

import (
	"context"

	"github.com/rs567/vitals/internal/model"
)

// DocumentRepository defines data access for document metadata records using
// SQL queries only. No business logic here — strictly persistence operations.
//
// A metadata record shares its id with the blob it describes; keeping the two
// in step (create ordering, delete pairing, rollback) is the service's job.
type DocumentRepository interface {
	// Create inserts a new metadata record for an already-written blob.
	Create(ctx context.Context, doc *model.Document) error

	// FindByID returns a document's metadata record by its ID.
	// Missing rows surface as sql.ErrNoRows.
	FindByID(ctx context.Context, id string) (*model.Document, error)

	// Update merges the given fields into an existing record. Unset fields
	// keep their prior values; extension-map keys are merged, not replaced.
	// The merge happens inside a single UPDATE so concurrent updates to
	// different fields cannot lose each other. Returns false if id is unknown.
	Update(ctx context.Context, id string, upd model.MetadataUpdate) (bool, error)

	// Delete removes a record by ID, reporting whether a row existed.
	// Deleting a missing id is not an error.
	Delete(ctx context.Context, id string) (bool, error)

	// ListIDs returns the ids of all stored records, newest first.
	ListIDs(ctx context.Context) ([]string, error)
}
