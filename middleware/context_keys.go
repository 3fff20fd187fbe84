package middleware

import "github.com/gin-gonic/gin"

// contextKey defines a type for context keys to avoid collisions.
type contextKey string

const (
	// UserIDKey holds the authenticated subject (string).
	UserIDKey contextKey = "userID"
	// RequestIDKey holds the request id (string).
	RequestIDKey contextKey = "request_id"
)

// GetUserID returns the authenticated subject, or "" for anonymous requests.
func GetUserID(c *gin.Context) string {
	return c.GetString(string(UserIDKey))
}
