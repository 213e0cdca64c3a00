package handler

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/rs567/vitals/internal/model"
	"github.com/rs567/vitals/internal/service"
)

// HealthCheck reports readiness: the metadata store must answer a ping.
func HealthCheck(db *sql.DB) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.UserContext(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			return writeError(c, fiber.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "dependency unavailable")
		}
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "healthy"})
	}
}

// LivenessProbe is a plain liveness check with no dependencies.
func LivenessProbe() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	}
}

// UploadDocument handles POST /docs (multipart/form-data, field name: file).
// An optional "metadata" form field carries a JSON object with initial
// metadata; absent, the document gets the defaults.
func UploadDocument(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		fh, err := c.FormFile("file")
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_REQUIRED", "file is required")
		}

		var meta model.MetadataUpdate
		if raw := c.FormValue("metadata"); raw != "" {
			if err := json.Unmarshal([]byte(raw), &meta); err != nil {
				return writeError(c, fiber.StatusBadRequest, "INVALID_METADATA", "metadata is not a valid JSON object")
			}
		}

		f, err := fh.Open()
		if err != nil {
			return writeError(c, fiber.StatusBadRequest, "FILE_OPEN_ERROR", "cannot open uploaded file")
		}
		defer f.Close()

		ct := fh.Header.Get("Content-Type")
		if ct == "" {
			ct = "application/octet-stream"
		}

		doc, err := docSvc.Upload(c.UserContext(), f, fh.Filename, ct, fh.Size, meta)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(fiber.Map{
			"message": "file uploaded",
			"file_id": doc.ID,
		})
	}
}

// DownloadDocument handles GET /docs/:id, streaming the payload back with a
// Content-Disposition carrying the original filename.
func DownloadDocument(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := parseID(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}

		rc, doc, err := docSvc.Retrieve(c.UserContext(), id)
		if err != nil {
			return writeServiceError(c, err)
		}

		c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", doc.Filename))
		if doc.ContentType != "" {
			c.Set(fiber.HeaderContentType, doc.ContentType)
		}
		// Stream to EOF rather than trusting the recorded size; the blob is
		// authoritative for its own length.
		return c.SendStream(rc)
	}
}

// DeleteDocument handles DELETE /docs/:id.
func DeleteDocument(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := parseID(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		if err := docSvc.Delete(c.UserContext(), id); err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(fiber.Map{"message": "document deleted"})
	}
}

// UpdateMetadata handles POST /docs/meta/:id with a JSON body of metadata
// fields. Fields absent from the body keep their prior values.
func UpdateMetadata(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := parseID(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}

		var upd model.MetadataUpdate
		if err := json.Unmarshal(c.Body(), &upd); err != nil {
			return writeError(c, fiber.StatusBadRequest, "INVALID_METADATA", "body is not a valid metadata object")
		}

		if err := docSvc.UpdateMetadata(c.UserContext(), id, upd); err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(fiber.Map{"message": "metadata updated"})
	}
}

// GetMetadata handles GET /docs/meta/:id.
func GetMetadata(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := parseID(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}
		doc, err := docSvc.GetMetadata(c.UserContext(), id)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(doc)
	}
}

// ListDocumentIDs handles GET /docs/meta/all.
func ListDocumentIDs(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ids, err := docSvc.ListIDs(c.UserContext())
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(fiber.Map{"message": ids})
	}
}

// PresignDocument handles GET /docs/:id/link, returning a time-limited
// download URL. The expiry query parameter takes a Go duration, default 15m.
func PresignDocument(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id, ok := parseID(c)
		if !ok {
			return writeError(c, fiber.StatusBadRequest, "INVALID_ID", "invalid id format")
		}

		expiry := 15 * time.Minute
		if raw := c.Query("expiry"); raw != "" {
			d, err := time.ParseDuration(raw)
			if err != nil || d <= 0 {
				return writeError(c, fiber.StatusBadRequest, "INVALID_EXPIRY", "expiry must be a positive duration")
			}
			expiry = d
		}

		u, err := docSvc.PresignedURL(c.UserContext(), id, expiry)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(fiber.Map{"url": u})
	}
}

// ImportStaging handles POST /docs/import: every file in the staging import
// folder is uploaded with default metadata, best-effort.
func ImportStaging(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		ids, err := docSvc.IngestStaging(c.UserContext())
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(fiber.Map{
			"message":  "staging import complete",
			"file_ids": ids,
		})
	}
}

// ListOrphans handles GET /docs/orphans, reporting blob keys with no
// metadata record.
func ListOrphans(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		keys, err := docSvc.Orphans(c.UserContext())
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(fiber.Map{"orphans": keys})
	}
}

// ExportDocuments handles POST /docs/export with an optional JSON body
// {"dir": "..."}; without it documents land in the staging outbox.
func ExportDocuments(docSvc service.DocumentService) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var body struct {
			Dir string `json:"dir"`
		}
		if len(c.Body()) > 0 {
			if err := json.Unmarshal(c.Body(), &body); err != nil {
				return writeError(c, fiber.StatusBadRequest, "INVALID_BODY", "body is not a valid JSON object")
			}
		}

		paths, err := docSvc.ExportAll(c.UserContext(), body.Dir)
		if err != nil {
			return writeServiceError(c, err)
		}
		return c.JSON(fiber.Map{
			"message": "export complete",
			"paths":   paths,
		})
	}
}

func parseID(c *fiber.Ctx) (string, bool) {
	id := c.Params("id")
	if _, err := uuid.Parse(id); err != nil {
		return "", false
	}
	return id, true
}
