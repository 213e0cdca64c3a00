package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rs567/vitals/internal/model"
	"github.com/rs567/vitals/internal/service"
	serviceMocks "github.com/rs567/vitals/internal/service/mocks"
)

func TestHealthCheck(t *testing.T) {
	db, dbMock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	app := fiber.New()
	app.Get("/health", HealthCheck(db))

	t.Run("healthy", func(t *testing.T) {
		dbMock.ExpectPing().WillReturnError(nil)

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]string
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "healthy", body["status"])
	})

	t.Run("unhealthy", func(t *testing.T) {
		dbMock.ExpectPing().WillReturnError(errors.New("db error"))

		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

		var body errorPayload
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "SERVICE_UNAVAILABLE", body.Error.Code)
	})
}

func TestLivenessProbe(t *testing.T) {
	app := fiber.New()
	app.Get("/healthz", LivenessProbe())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	resp, _ := app.Test(req)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func multipartBody(t *testing.T, filename, content string, metadata string) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	require.NoError(t, err)
	part.Write([]byte(content))
	if metadata != "" {
		require.NoError(t, writer.WriteField("metadata", metadata))
	}
	writer.Close()
	return body, writer.FormDataContentType()
}

func TestUploadDocument(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := fiber.New()
	app.Post("/docs", UploadDocument(mockSvc))

	t.Run("success", func(t *testing.T) {
		body, ct := multipartBody(t, "bill.pdf", "hello world", "")

		expectedDoc := &model.Document{ID: uuid.New().String(), Filename: "bill.pdf"}
		mockSvc.On("Upload", mock.Anything, mock.Anything, "bill.pdf", mock.Anything, mock.Anything, model.MetadataUpdate{}).
			Return(expectedDoc, nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/docs", body)
		req.Header.Set("Content-Type", ct)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result map[string]string
		json.NewDecoder(resp.Body).Decode(&result)
		assert.Equal(t, expectedDoc.ID, result["file_id"])
		assert.Equal(t, "file uploaded", result["message"])
		mockSvc.AssertExpectations(t)
	})

	t.Run("with metadata", func(t *testing.T) {
		body, ct := multipartBody(t, "labs.pdf", "hello", `{"tags":["lab_results"],"doctor":"Dr. Chen"}`)

		doctor := "Dr. Chen"
		want := model.MetadataUpdate{Tags: []string{"lab_results"}, Doctor: &doctor}
		mockSvc.On("Upload", mock.Anything, mock.Anything, "labs.pdf", mock.Anything, mock.Anything, want).
			Return(&model.Document{ID: uuid.New().String()}, nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/docs", body)
		req.Header.Set("Content-Type", ct)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})

	t.Run("no file", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/docs", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "FILE_REQUIRED", res.Error.Code)
	})

	t.Run("malformed metadata", func(t *testing.T) {
		body, ct := multipartBody(t, "bill.pdf", "hello", `{not json`)

		req := httptest.NewRequest(http.MethodPost, "/docs", body)
		req.Header.Set("Content-Type", ct)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "INVALID_METADATA", res.Error.Code)
	})

	t.Run("storage unavailable", func(t *testing.T) {
		body, ct := multipartBody(t, "bill.pdf", "hello", "")

		mockSvc.On("Upload", mock.Anything, mock.Anything, "bill.pdf", mock.Anything, mock.Anything, mock.Anything).
			Return(nil, service.ErrStorageUnavailable).Once()

		req := httptest.NewRequest(http.MethodPost, "/docs", body)
		req.Header.Set("Content-Type", ct)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})
}

func TestDownloadDocument(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := fiber.New()
	app.Get("/docs/:id", DownloadDocument(mockSvc))

	t.Run("success", func(t *testing.T) {
		id := uuid.New().String()
		doc := &model.Document{ID: id, Filename: "bill.pdf", ContentType: "application/pdf", Size: 7}
		mockSvc.On("Retrieve", mock.Anything, id).
			Return(io.NopCloser(strings.NewReader("payload")), doc, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/docs/"+id, nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, `attachment; filename="bill.pdf"`, resp.Header.Get("Content-Disposition"))
		assert.Equal(t, "application/pdf", resp.Header.Get("Content-Type"))

		b, _ := io.ReadAll(resp.Body)
		assert.Equal(t, "payload", string(b))
		mockSvc.AssertExpectations(t)
	})

	t.Run("full payload served when recorded size is stale", func(t *testing.T) {
		id := uuid.New().String()
		doc := &model.Document{ID: id, Filename: "bill.pdf", Size: 2}
		mockSvc.On("Retrieve", mock.Anything, id).
			Return(io.NopCloser(strings.NewReader("payload")), doc, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/docs/"+id, nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		b, _ := io.ReadAll(resp.Body)
		assert.Equal(t, "payload", string(b))
		mockSvc.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		id := uuid.New().String()
		mockSvc.On("Retrieve", mock.Anything, id).Return(nil, nil, service.ErrNotFound).Once()

		req := httptest.NewRequest(http.MethodGet, "/docs/"+id, nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "NOT_FOUND", res.Error.Code)
		mockSvc.AssertExpectations(t)
	})

	t.Run("invalid id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/docs/not-a-uuid", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "INVALID_ID", res.Error.Code)
	})
}

func TestDeleteDocument(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := fiber.New()
	app.Delete("/docs/:id", DeleteDocument(mockSvc))

	t.Run("success", func(t *testing.T) {
		id := uuid.New().String()
		mockSvc.On("Delete", mock.Anything, id).Return(nil).Once()

		req := httptest.NewRequest(http.MethodDelete, "/docs/"+id, nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var body map[string]string
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "document deleted", body["message"])
		mockSvc.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		id := uuid.New().String()
		mockSvc.On("Delete", mock.Anything, id).Return(service.ErrNotFound).Once()

		req := httptest.NewRequest(http.MethodDelete, "/docs/"+id, nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})

	t.Run("partial delete reported distinctly", func(t *testing.T) {
		id := uuid.New().String()
		mockSvc.On("Delete", mock.Anything, id).Return(service.ErrPartialDelete).Once()

		req := httptest.NewRequest(http.MethodDelete, "/docs/"+id, nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "PARTIAL_DELETE", res.Error.Code)
		mockSvc.AssertExpectations(t)
	})
}

func TestUpdateMetadata(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := fiber.New()
	app.Post("/docs/meta/:id", UpdateMetadata(mockSvc))

	t.Run("success", func(t *testing.T) {
		id := uuid.New().String()
		doctor := "X"
		want := model.MetadataUpdate{Doctor: &doctor}
		mockSvc.On("UpdateMetadata", mock.Anything, id, want).Return(nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/docs/meta/"+id, strings.NewReader(`{"doctor":"X"}`))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})

	t.Run("invalid body", func(t *testing.T) {
		id := uuid.New().String()
		req := httptest.NewRequest(http.MethodPost, "/docs/meta/"+id, strings.NewReader(`{bad`))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("update failed", func(t *testing.T) {
		id := uuid.New().String()
		mockSvc.On("UpdateMetadata", mock.Anything, id, mock.Anything).
			Return(service.ErrInvalidInput).Once()

		req := httptest.NewRequest(http.MethodPost, "/docs/meta/"+id, strings.NewReader(`{}`))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})
}

func TestGetMetadata(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := fiber.New()
	app.Get("/docs/meta/:id", GetMetadata(mockSvc))

	t.Run("success", func(t *testing.T) {
		id := uuid.New().String()
		doc := &model.Document{ID: id, Filename: "bill.pdf", Metadata: model.Metadata{Tags: []string{"unsorted"}}}
		mockSvc.On("GetMetadata", mock.Anything, id).Return(doc, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/docs/meta/"+id, nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var result model.Document
		json.NewDecoder(resp.Body).Decode(&result)
		assert.Equal(t, id, result.ID)
		assert.Equal(t, []string{"unsorted"}, result.Metadata.Tags)
		mockSvc.AssertExpectations(t)
	})

	t.Run("not found", func(t *testing.T) {
		id := uuid.New().String()
		mockSvc.On("GetMetadata", mock.Anything, id).Return(nil, service.ErrNotFound).Once()

		req := httptest.NewRequest(http.MethodGet, "/docs/meta/"+id, nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})
}

func TestListDocumentIDs(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := fiber.New()
	app.Get("/docs/meta/all", ListDocumentIDs(mockSvc))

	ids := []string{uuid.New().String(), uuid.New().String()}
	mockSvc.On("ListIDs", mock.Anything).Return(ids, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/docs/meta/all", nil)
	resp, _ := app.Test(req)

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string][]string
	json.NewDecoder(resp.Body).Decode(&body)
	assert.Equal(t, ids, body["message"])
	mockSvc.AssertExpectations(t)
}

func TestPresignDocument(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := fiber.New()
	app.Get("/docs/:id/link", PresignDocument(mockSvc))

	t.Run("default expiry", func(t *testing.T) {
		id := uuid.New().String()
		mockSvc.On("PresignedURL", mock.Anything, id, mock.Anything).
			Return("https://minio.local/signed", nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/docs/"+id+"/link", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		var body map[string]string
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, "https://minio.local/signed", body["url"])
		mockSvc.AssertExpectations(t)
	})

	t.Run("bad expiry", func(t *testing.T) {
		id := uuid.New().String()
		req := httptest.NewRequest(http.MethodGet, "/docs/"+id+"/link?expiry=soon", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})
}

func TestStagingEndpoints(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := fiber.New()
	app.Post("/docs/import", ImportStaging(mockSvc))
	app.Post("/docs/export", ExportDocuments(mockSvc))

	t.Run("import", func(t *testing.T) {
		mockSvc.On("IngestStaging", mock.Anything).Return([]string{"id-1"}, nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/docs/import", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})

	t.Run("export to named dir", func(t *testing.T) {
		mockSvc.On("ExportAll", mock.Anything, "/tmp/out").Return([]string{"/tmp/out/a.pdf"}, nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/docs/export", strings.NewReader(`{"dir":"/tmp/out"}`))
		req.Header.Set("Content-Type", "application/json")
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)

		var body map[string]any
		json.NewDecoder(resp.Body).Decode(&body)
		assert.Equal(t, []any{"/tmp/out/a.pdf"}, body["paths"])
		mockSvc.AssertExpectations(t)
	})

	t.Run("export defaults to outbox", func(t *testing.T) {
		mockSvc.On("ExportAll", mock.Anything, "").Return([]string{}, nil).Once()

		req := httptest.NewRequest(http.MethodPost, "/docs/export", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})
}

func TestListOrphans(t *testing.T) {
	mockSvc := new(serviceMocks.MockDocumentService)
	app := fiber.New()
	app.Get("/docs/orphans", ListOrphans(mockSvc))

	mockSvc.On("Orphans", mock.Anything).Return([]string{"documents/dangling.pdf"}, nil).Once()

	req := httptest.NewRequest(http.MethodGet, "/docs/orphans", nil)
	resp, _ := app.Test(req)

	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string][]string
	json.NewDecoder(resp.Body).Decode(&body)
	assert.Equal(t, []string{"documents/dangling.pdf"}, body["orphans"])
	mockSvc.AssertExpectations(t)
}

func TestRouting(t *testing.T) {
	app := fiber.New(fiber.Config{
		ErrorHandler: ErrorHandler(),
	})

	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mockSvc := new(serviceMocks.MockDocumentService)
	RegisterRoutes(app, db, mockSvc)

	t.Run("not found route", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/non-existent", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "NOT_FOUND", res.Error.Code)
	})

	t.Run("method not allowed", func(t *testing.T) {
		// Health endpoint only allows GET
		req := httptest.NewRequest(http.MethodPost, "/health", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
		var res errorPayload
		json.NewDecoder(resp.Body).Decode(&res)
		assert.Equal(t, "METHOD_NOT_ALLOWED", res.Error.Code)
	})

	t.Run("meta list route wins over meta id route", func(t *testing.T) {
		mockSvc.On("ListIDs", mock.Anything).Return([]string{}, nil).Once()

		req := httptest.NewRequest(http.MethodGet, "/docs/meta/all", nil)
		resp, _ := app.Test(req)

		assert.Equal(t, http.StatusOK, resp.StatusCode)
		mockSvc.AssertExpectations(t)
	})
}
