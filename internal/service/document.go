package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/rs567/vitals/internal/model"
	"github.com/rs567/vitals/internal/repository"
	"github.com/rs567/vitals/internal/staging"
	"github.com/rs567/vitals/internal/storage"
)

// Closed error taxonomy. Callers match with errors.Is to distinguish
// terminal failures (ErrNotFound, ErrInvalidInput) from retryable ones
// (ErrStorageUnavailable) and from the delete-specific partial state.
var (
	ErrNotFound           = errors.New("document not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrStorageUnavailable = errors.New("storage unavailable")
	ErrPartialDelete      = errors.New("partial delete: document left inconsistent")
)

// storeTimeout bounds every call to the blob and metadata stores. A blocked
// backend surfaces as ErrStorageUnavailable rather than hanging the request.
const storeTimeout = 30 * time.Second

// DocumentService defines the use cases for handling documents. A document is
// one blob plus one metadata record under the same id; operations here keep
// the two sides from diverging.
type DocumentService interface {
	// Upload stores the payload, then its metadata record. When the metadata
	// write fails the blob is rolled back before the error is returned, so no
	// orphaned blob is left behind. meta carries caller-supplied initial
	// fields; the zero value yields the defaults (tags ["unsorted"], upload
	// time now).
	Upload(ctx context.Context, r io.Reader, originalFilename string, contentType string, size int64, meta model.MetadataUpdate) (*model.Document, error)

	// Retrieve returns the payload stream and the document record. A missing
	// blob or metadata record both surface as ErrNotFound.
	Retrieve(ctx context.Context, id string) (io.ReadCloser, *model.Document, error)

	// GetMetadata returns the metadata record only.
	GetMetadata(ctx context.Context, id string) (*model.Document, error)

	// Delete removes metadata first, then the blob. Both deletions are
	// attempted even if one fails; a single-sided failure is reported as
	// ErrPartialDelete, distinct from ErrNotFound.
	Delete(ctx context.Context, id string) error

	// UpdateMetadata merges the given fields into the record. Unspecified
	// fields keep their prior values.
	UpdateMetadata(ctx context.Context, id string, upd model.MetadataUpdate) error

	// ListIDs returns all known document ids.
	ListIDs(ctx context.Context) ([]string, error)

	// Export writes the payload into destDir under the original filename,
	// suffixing the name on collision. An empty destDir targets the staging
	// outbox.
	Export(ctx context.Context, id string, destDir string) (string, error)

	// ExportAll exports every known document, best-effort: per-item failures
	// are logged and skipped, never aborting the batch.
	ExportAll(ctx context.Context, destDir string) ([]string, error)

	// IngestStaging uploads every file in the staging import folder with
	// default metadata, removing each file after its upload succeeds.
	// Best-effort like ExportAll.
	IngestStaging(ctx context.Context) ([]string, error)

	// PresignedURL returns a time-limited download link for the blob.
	PresignedURL(ctx context.Context, id string, expiry time.Duration) (string, error)

	// Orphans reports blob keys that have no metadata record. A non-empty
	// result means a past upload rollback or delete left the stores
	// inconsistent.
	Orphans(ctx context.Context) ([]string, error)
}

// documentService is a concrete implementation of DocumentService.
type documentService struct {
	store storage.Storage
	repo  repository.DocumentRepository
	area  *staging.Area
}

// NewDocumentService constructs a new DocumentService.
func NewDocumentService(store storage.Storage, repo repository.DocumentRepository, area *staging.Area) DocumentService {
	return &documentService{store: store, repo: repo, area: area}
}

func (s *documentService) Upload(ctx context.Context, r io.Reader, originalFilename string, contentType string, size int64, meta model.MetadataUpdate) (*model.Document, error) {
	if r == nil {
		return nil, fmt.Errorf("%w: reader is nil", ErrInvalidInput)
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	// The id is generated here, once, and keys both stores. It is never
	// reused: a re-upload of the same content is a new document.
	id := uuid.New().String()
	ext := filepath.Ext(originalFilename)
	key := filepath.ToSlash(filepath.Join("documents", id+ext))

	md := model.DefaultMetadata(time.Now())
	meta.Apply(&md)

	putCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	objInfo, err := s.store.Put(putCtx, key, r, storage.PutObjectOptions{
		Size:        size,
		ContentType: contentType,
		Metadata: map[string]string{
			"original-filename": originalFilename,
		},
	})
	if err != nil {
		return nil, storeFailure("upload to storage", err)
	}

	doc := &model.Document{
		ID:          id,
		Filename:    originalFilename,
		StoragePath: objInfo.Key,
		Size:        objInfo.Size,
		ContentType: contentType,
		Metadata:    md,
	}

	createCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	if err := s.repo.Create(createCtx, doc); err != nil {
		// Roll back the blob so no orphan survives a metadata failure.
		delCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
		defer cancel()
		if delErr := s.store.Delete(delCtx, key); delErr != nil {
			return nil, fmt.Errorf("metadata save failed: %v; rollback delete failed: %v", err, delErr)
		}
		return nil, storeFailure("metadata save failed", err)
	}
	return doc, nil
}

func (s *documentService) Retrieve(ctx context.Context, id string) (io.ReadCloser, *model.Document, error) {
	doc, err := s.findByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	// The returned stream is lazy and stays bound to this context, so the
	// cancel must live until the caller closes the stream, not until this
	// function returns.
	getCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	rc, _, err := s.store.Get(getCtx, doc.StoragePath)
	if err != nil {
		cancel()
		if storage.IsNotFound(err) {
			// Metadata exists but the blob is gone: the document is not
			// retrievable, which callers see as not found.
			return nil, nil, fmt.Errorf("%w: blob missing for id %s", ErrNotFound, id)
		}
		return nil, nil, storeFailure("fetch blob", err)
	}
	return &payloadStream{ReadCloser: rc, cancel: cancel}, doc, nil
}

// payloadStream keeps the store-call context alive for as long as the caller
// reads the payload, releasing it on Close.
type payloadStream struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (p *payloadStream) Close() error {
	err := p.ReadCloser.Close()
	p.cancel()
	return err
}

func (s *documentService) GetMetadata(ctx context.Context, id string) (*model.Document, error) {
	return s.findByID(ctx, id)
}

func (s *documentService) Delete(ctx context.Context, id string) error {
	doc, err := s.findByID(ctx, id)
	if err != nil {
		return err
	}

	// Metadata first, then blob. Both sides are attempted regardless of the
	// other's outcome so a half-deleted document is reported, not silent.
	metaCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	_, metaErr := s.repo.Delete(metaCtx, id)

	blobCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), storeTimeout)
	defer cancel()
	blobErr := s.store.Delete(blobCtx, doc.StoragePath)

	switch {
	case metaErr == nil && blobErr == nil:
		return nil
	case metaErr != nil && blobErr != nil:
		return storeFailure("delete document", errors.Join(metaErr, blobErr))
	case metaErr != nil:
		return fmt.Errorf("%w: blob removed but metadata delete failed: %v", ErrPartialDelete, metaErr)
	default:
		return fmt.Errorf("%w: metadata removed but blob delete failed: %v", ErrPartialDelete, blobErr)
	}
}

func (s *documentService) UpdateMetadata(ctx context.Context, id string, upd model.MetadataUpdate) error {
	if id == "" {
		return fmt.Errorf("%w: id is required", ErrInvalidInput)
	}
	if upd.IsZero() {
		return fmt.Errorf("%w: no metadata fields to update", ErrInvalidInput)
	}
	if err := upd.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}

	updCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	ok, err := s.repo.Update(updCtx, id, upd)
	if err != nil {
		return storeFailure("update metadata", err)
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *documentService) ListIDs(ctx context.Context) ([]string, error) {
	listCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	ids, err := s.repo.ListIDs(listCtx)
	if err != nil {
		return nil, storeFailure("list ids", err)
	}
	return ids, nil
}

func (s *documentService) Export(ctx context.Context, id string, destDir string) (string, error) {
	if destDir == "" {
		destDir = s.area.Path(staging.OutboxDir)
	}

	rc, doc, err := s.Retrieve(ctx, id)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	path, err := staging.WriteUnique(destDir, doc.Filename, rc)
	if err != nil {
		return "", err
	}
	return path, nil
}

func (s *documentService) ExportAll(ctx context.Context, destDir string) ([]string, error) {
	ids, err := s.ListIDs(ctx)
	if err != nil {
		return nil, err
	}

	paths := make([]string, 0, len(ids))
	for _, id := range ids {
		path, err := s.Export(ctx, id, destDir)
		if err != nil {
			logEvent("export_item_failed", map[string]any{"document_id": id, "error_message": err.Error()})
			continue
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (s *documentService) IngestStaging(ctx context.Context) ([]string, error) {
	names, err := s.area.ListFiles(staging.ImportDir)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(names))
	for _, name := range names {
		id, err := s.ingestOne(ctx, name)
		if err != nil {
			logEvent("ingest_item_failed", map[string]any{"filename": name, "error_message": err.Error()})
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *documentService) ingestOne(ctx context.Context, name string) (string, error) {
	path := filepath.Join(s.area.Path(staging.ImportDir), name)
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	contentType := mime.TypeByExtension(filepath.Ext(name))
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	doc, err := s.Upload(ctx, f, name, contentType, info.Size(), model.MetadataUpdate{})
	if err != nil {
		return "", err
	}
	if err := s.area.Remove(staging.ImportDir, name); err != nil {
		logEvent("ingest_cleanup_failed", map[string]any{"filename": name, "error_message": err.Error()})
	}
	return doc.ID, nil
}

func (s *documentService) PresignedURL(ctx context.Context, id string, expiry time.Duration) (string, error) {
	doc, err := s.findByID(ctx, id)
	if err != nil {
		return "", err
	}

	signCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	u, err := s.store.PresignGet(signCtx, doc.StoragePath, expiry)
	if err != nil {
		return "", storeFailure("presign url", err)
	}
	return u, nil
}

func (s *documentService) Orphans(ctx context.Context) ([]string, error) {
	listCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	keys, err := s.store.List(listCtx)
	if err != nil {
		return nil, storeFailure("list blobs", err)
	}

	ids, err := s.ListIDs(ctx)
	if err != nil {
		return nil, err
	}
	known := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		known[id] = struct{}{}
	}

	// Blob keys are documents/<id><ext>; a key whose id has no metadata
	// record is an orphan.
	orphans := make([]string, 0)
	for _, key := range keys {
		base := filepath.Base(key)
		id := base[:len(base)-len(filepath.Ext(base))]
		if _, ok := known[id]; !ok {
			orphans = append(orphans, key)
		}
	}
	return orphans, nil
}

func (s *documentService) findByID(ctx context.Context, id string) (*model.Document, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: id is required", ErrInvalidInput)
	}

	findCtx, cancel := context.WithTimeout(ctx, storeTimeout)
	defer cancel()
	doc, err := s.repo.FindByID(findCtx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storeFailure("find document", err)
	}
	return doc, nil
}

// storeFailure wraps a backing-store error, promoting timeouts and
// cancellations to ErrStorageUnavailable so callers can tell an unreachable
// store apart from a missing document.
func storeFailure(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %s: %v", ErrStorageUnavailable, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func logEvent(event string, fields map[string]any) {
	entry := map[string]any{
		"ts":        time.Now().UTC().Format(time.RFC3339Nano),
		"level":     "error",
		"component": "service",
		"event":     event,
	}
	for k, v := range fields {
		entry[k] = v
	}
	if b, err := json.Marshal(entry); err == nil {
		log.SetFlags(0)
		log.Println(string(b))
	}
}
