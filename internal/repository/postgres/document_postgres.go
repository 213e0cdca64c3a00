package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/rs567/vitals/internal/model"
	"github.com/rs567/vitals/internal/repository"
)

// DocumentPostgres is a PostgreSQL implementation of repository.DocumentRepository.
// It uses database/sql with parameterized queries and contains no business logic.
// Tags and the extension map are stored as JSONB so partial updates can merge
// server-side.
type DocumentPostgres struct {
	db *sql.DB
}

// NewDocumentPostgres creates a new DocumentPostgres repository.
func NewDocumentPostgres(db *sql.DB) *DocumentPostgres {
	return &DocumentPostgres{db: db}
}

var _ repository.DocumentRepository = (*DocumentPostgres)(nil)

// Create inserts a new metadata row.
func (r *DocumentPostgres) Create(ctx context.Context, doc *model.Document) error {
	const q = `
		INSERT INTO documents (id, filename, storage_path, size, content_type, tags, doctor, date_of_service, upload_time, extra)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	tags, err := json.Marshal(doc.Metadata.Tags)
	if err != nil {
		return fmt.Errorf("marshal tags: %w", err)
	}
	extra := doc.Metadata.Extra
	if extra == nil {
		extra = map[string]string{}
	}
	extraJSON, err := json.Marshal(extra)
	if err != nil {
		return fmt.Errorf("marshal extra: %w", err)
	}

	var dos sql.NullTime
	if doc.Metadata.DateOfService != nil {
		dos = sql.NullTime{Time: doc.Metadata.DateOfService.Time, Valid: true}
	}

	_, err = r.db.ExecContext(ctx, q,
		doc.ID,
		doc.Filename,
		doc.StoragePath,
		doc.Size,
		doc.ContentType,
		tags,
		doc.Metadata.Doctor,
		dos,
		doc.Metadata.UploadTime,
		extraJSON,
	)
	return err
}

// FindByID fetches a single metadata row by its ID.
func (r *DocumentPostgres) FindByID(ctx context.Context, id string) (*model.Document, error) {
	const q = `
		SELECT id, filename, storage_path, size, content_type, tags, doctor, date_of_service, upload_time, extra
		FROM documents
		WHERE id = $1
	`
	row := r.db.QueryRowContext(ctx, q, id)

	var (
		d         model.Document
		tags      []byte
		dos       sql.NullTime
		extraJSON []byte
	)
	if err := row.Scan(
		&d.ID,
		&d.Filename,
		&d.StoragePath,
		&d.Size,
		&d.ContentType,
		&tags,
		&d.Metadata.Doctor,
		&dos,
		&d.Metadata.UploadTime,
		&extraJSON,
	); err != nil {
		return nil, err
	}

	if err := json.Unmarshal(tags, &d.Metadata.Tags); err != nil {
		return nil, fmt.Errorf("unmarshal tags: %w", err)
	}
	if len(extraJSON) > 0 {
		var extra map[string]string
		if err := json.Unmarshal(extraJSON, &extra); err != nil {
			return nil, fmt.Errorf("unmarshal extra: %w", err)
		}
		if len(extra) > 0 {
			d.Metadata.Extra = extra
		}
	}
	if dos.Valid {
		d.Metadata.DateOfService = &model.Date{Time: dos.Time}
	}
	return &d, nil
}

// Update merges the given fields into a row in one statement. NULL arguments
// leave the corresponding column untouched; the extension map is merged with
// the JSONB concatenation operator. upload_time is never part of the SET list.
func (r *DocumentPostgres) Update(ctx context.Context, id string, upd model.MetadataUpdate) (bool, error) {
	const q = `
		UPDATE documents
		SET tags            = COALESCE($2::jsonb, tags),
		    doctor          = COALESCE($3, doctor),
		    date_of_service = COALESCE($4, date_of_service),
		    extra           = extra || COALESCE($5::jsonb, '{}'::jsonb)
		WHERE id = $1
	`
	var tags any
	if upd.Tags != nil {
		b, err := json.Marshal(upd.Tags)
		if err != nil {
			return false, fmt.Errorf("marshal tags: %w", err)
		}
		tags = b
	}
	var doctor any
	if upd.Doctor != nil {
		doctor = *upd.Doctor
	}
	var dos any
	if upd.DateOfService != nil {
		dos = upd.DateOfService.Time
	}
	var extra any
	if len(upd.Extra) > 0 {
		b, err := json.Marshal(upd.Extra)
		if err != nil {
			return false, fmt.Errorf("marshal extra: %w", err)
		}
		extra = b
	}

	res, err := r.db.ExecContext(ctx, q, id, tags, doctor, dos, extra)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Delete removes a row by ID and reports whether it existed.
func (r *DocumentPostgres) Delete(ctx context.Context, id string) (bool, error) {
	const q = `DELETE FROM documents WHERE id = $1`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ListIDs returns all document ids, newest upload first.
func (r *DocumentPostgres) ListIDs(ctx context.Context) ([]string, error) {
	const q = `SELECT id FROM documents ORDER BY upload_time DESC, id DESC`
	rows, err := r.db.QueryContext(ctx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}
