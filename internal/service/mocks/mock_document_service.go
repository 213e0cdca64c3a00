package mocks

import (
	"context"
	"io"
	"time"

	"github.com/rs567/vitals/internal/model"
	"github.com/stretchr/testify/mock"
)

type MockDocumentService struct {
	mock.Mock
}

func (m *MockDocumentService) Upload(ctx context.Context, r io.Reader, originalFilename string, contentType string, size int64, meta model.MetadataUpdate) (*model.Document, error) {
	args := m.Called(ctx, r, originalFilename, contentType, size, meta)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Document), args.Error(1)
}

func (m *MockDocumentService) Retrieve(ctx context.Context, id string) (io.ReadCloser, *model.Document, error) {
	args := m.Called(ctx, id)
	var rc io.ReadCloser
	if args.Get(0) != nil {
		rc = args.Get(0).(io.ReadCloser)
	}
	var doc *model.Document
	if args.Get(1) != nil {
		doc = args.Get(1).(*model.Document)
	}
	return rc, doc, args.Error(2)
}

func (m *MockDocumentService) GetMetadata(ctx context.Context, id string) (*model.Document, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Document), args.Error(1)
}

func (m *MockDocumentService) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockDocumentService) UpdateMetadata(ctx context.Context, id string, upd model.MetadataUpdate) error {
	args := m.Called(ctx, id, upd)
	return args.Error(0)
}

func (m *MockDocumentService) ListIDs(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockDocumentService) Export(ctx context.Context, id string, destDir string) (string, error) {
	args := m.Called(ctx, id, destDir)
	return args.String(0), args.Error(1)
}

func (m *MockDocumentService) ExportAll(ctx context.Context, destDir string) ([]string, error) {
	args := m.Called(ctx, destDir)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockDocumentService) IngestStaging(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockDocumentService) Orphans(ctx context.Context) ([]string, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

func (m *MockDocumentService) PresignedURL(ctx context.Context, id string, expiry time.Duration) (string, error) {
	args := m.Called(ctx, id, expiry)
	return args.String(0), args.Error(1)
}
