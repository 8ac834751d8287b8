package middleware

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/wb-go/wbf/ginext"

	"github.com/petbotlabs/room-render/internal/api/respond"
)

// CORSMiddleware allows cross-origin access to the job API; the caller
// is a bot backend, not a browser, so the policy stays permissive.
func CORSMiddleware() func(c *ginext.Context) {
	return func(c *ginext.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

// BearerAuth rejects requests lacking the configured bearer token. An
// empty token disables authentication entirely.
func BearerAuth(token string) func(c *ginext.Context) {
	return func(c *ginext.Context) {
		if token == "" {
			c.Next()
			return
		}

		auth := c.GetHeader("Authorization")
		if got, ok := strings.CutPrefix(auth, "Bearer "); !ok || got != token {
			respond.Fail(c, http.StatusUnauthorized, fmt.Errorf("missing or invalid bearer token"))
			c.Abort()
			return
		}

		c.Next()
	}
}

// BodyLimit caps the request body size; oversized submissions fail on read.
func BodyLimit(maxBytes int64) func(c *ginext.Context) {
	return func(c *ginext.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
