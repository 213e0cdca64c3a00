package handler

import (
	"database/sql"

	"github.com/gofiber/fiber/v2"

	"github.com/rs567/vitals/internal/service"
)

// RegisterRoutes attaches HTTP routes to the provided Fiber app.
// Handlers stay thin: parse, delegate to the service, translate errors.
func RegisterRoutes(app *fiber.App, db *sql.DB, docSvc service.DocumentService) {
	// Serve OpenAPI spec and Swagger UI
	app.Get("/openapi.yaml", func(c *fiber.Ctx) error {
		c.Type("yaml")
		return c.SendFile("openapi.yaml")
	})
	app.Get("/swagger", func(c *fiber.Ctx) error {
		html := `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="UTF-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>API Docs</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.ui = SwaggerUIBundle({
      url: '/openapi.yaml',
      dom_id: '#swagger-ui',
      presets: [SwaggerUIBundle.presets.apis],
      layout: 'BaseLayout'
    });
  </script>
</body>
</html>`
		return c.Type("html").SendString(html)
	})

	// Health endpoint: checks DB connectivity only
	app.Get("/health", HealthCheck(db))

	// Simple liveness probe
	app.Get("/healthz", LivenessProbe())

	// Document lifecycle
	app.Post("/docs", UploadDocument(docSvc))

	// Metadata routes go before /docs/:id so "meta" never parses as an id;
	// /docs/meta/all must precede /docs/meta/:id.
	app.Get("/docs/meta/all", ListDocumentIDs(docSvc))
	app.Get("/docs/meta/:id", GetMetadata(docSvc))
	app.Post("/docs/meta/:id", UpdateMetadata(docSvc))

	// Staging side-channel: bulk import from the import folder, bulk export
	// to the outbox or a caller-named directory.
	app.Post("/docs/import", ImportStaging(docSvc))
	app.Post("/docs/export", ExportDocuments(docSvc))

	// Consistency report: blob keys with no metadata record
	app.Get("/docs/orphans", ListOrphans(docSvc))

	app.Get("/docs/:id", DownloadDocument(docSvc))
	app.Get("/docs/:id/link", PresignDocument(docSvc))
	app.Delete("/docs/:id", DeleteDocument(docSvc))
}
