package middleware

import (
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/gin-gonic/gin"
)

// ContextRequestIDKey is the gin context key under which the request ID
// is stored.
const ContextRequestIDKey = "request_id"

// HeaderRequestID is the header carrying the request ID.
const HeaderRequestID = "X-Request-ID"

// RequestID adds a unique request ID to each request. An incoming
// X-Request-ID header is honored so callers can correlate across hops.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = generateRequestID()
		}
		c.Set(ContextRequestIDKey, requestID)
		c.Writer.Header().Set(HeaderRequestID, requestID)
		c.Next()
	}
}

// GetRequestID returns the request ID stored by the middleware, or the
// incoming header when the middleware did not run.
func GetRequestID(c *gin.Context) string {
	if id := c.GetString(ContextRequestIDKey); id != "" {
		return id
	}
	return c.GetHeader(HeaderRequestID)
}

// generateRequestID generates a unique request ID
func generateRequestID() string {
	bytes := make([]byte, 16)
	if _, err := rand.Read(bytes); err != nil {
		// Fallback to timestamp-based ID if crypto/rand fails
		return time.Now().Format("20060102150405")
	}
	return hex.EncodeToString(bytes)
}
