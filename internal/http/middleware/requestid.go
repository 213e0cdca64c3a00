package middleware

import (
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

const (
	// RequestIDHeader carries the request ID on requests and responses.
	RequestIDHeader = "X-Request-ID"
	// RequestIDLocalKey is where the request ID lives in Fiber's context locals.
	RequestIDLocalKey = "request_id"
)

// RequestID propagates an incoming X-Request-ID header, generating a fresh
// UUID when the client sent none. The ID is stored in context locals for the
// logger and error envelope, and echoed back on the response.
func RequestID() fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := c.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}

		c.Locals(RequestIDLocalKey, id)
		c.Set(RequestIDHeader, id)

		return c.Next()
	}
}
