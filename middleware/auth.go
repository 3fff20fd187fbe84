package middleware

import (
	"crypto/subtle"
	"errors"
	"strings"

	apperrors "github.com/NomadCrew/nomad-realtime/errors"
	"github.com/NomadCrew/nomad-realtime/logger"
	"github.com/gin-gonic/gin"
)

const internalTokenHeader = "X-Internal-Token"

// TokenFromRequest returns the bearer token, falling back to the "token"
// query parameter that browsers use for websocket upgrades.
func TokenFromRequest(c *gin.Context) string {
	if header := c.GetHeader("Authorization"); strings.HasPrefix(header, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	}
	return c.Query("token")
}

// AuthMiddleware rejects requests without a valid token and stores the token
// subject under UserIDKey.
func AuthMiddleware(v Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		log := logger.GetLogger()

		token := TokenFromRequest(c)
		if token == "" {
			_ = c.Error(apperrors.AuthRequired("Authorization required"))
			c.Abort()
			return
		}

		userID, err := v.Validate(token)
		if err != nil {
			log.Warnw("Invalid JWT token",
				"error", err,
				"token", logger.MaskJWT(token),
				"path", c.Request.URL.Path,
				"client_ip", c.ClientIP())
			_ = c.Error(tokenError(err))
			c.Abort()
			return
		}

		c.Set(string(UserIDKey), userID)
		c.Next()
	}
}

// OptionalAuth sets UserIDKey when a valid token is present and lets every
// request through. Invalid tokens are treated as anonymous.
func OptionalAuth(v Validator) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token := TokenFromRequest(c); token != "" {
			if userID, err := v.Validate(token); err == nil {
				c.Set(string(UserIDKey), userID)
			} else {
				logger.GetLogger().Debugw("Ignoring invalid token on optional route", "error", err, "path", c.Request.URL.Path)
			}
		}
		c.Next()
	}
}

// InternalAuth guards service-to-service routes with a shared token. An empty
// configured token disables the routes.
func InternalAuth(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		got := c.GetHeader(internalTokenHeader)
		if expected == "" || subtle.ConstantTimeCompare([]byte(got), []byte(expected)) != 1 {
			_ = c.Error(apperrors.AuthRequired("Invalid internal token"))
			c.Abort()
			return
		}
		c.Next()
	}
}

func tokenError(err error) *apperrors.AppError {
	appErr := apperrors.AuthRequired("Invalid authentication token")
	if errors.Is(err, ErrTokenExpired) {
		appErr.Message = "Your session has expired"
		appErr.Code = "token_expired"
	}
	return appErr
}
