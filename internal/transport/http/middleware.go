package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vovakirdan/msgroom-server/internal/auth"
)

// ErrorResponse represents an error response body.
type ErrorResponse struct {
	Error string `json:"error"`
}

// AdminAuthMiddleware accepts requests carrying the admin secret or a token
// issued by POST /token as a bearer credential.
func AdminAuthMiddleware(authService *auth.Service, logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		err := authService.Authorize(c.GetHeader("Authorization"))
		switch {
		case err == nil:
			c.Next()
		case errors.Is(err, auth.ErrDisabled):
			c.AbortWithStatusJSON(http.StatusForbidden, ErrorResponse{Error: "control plane disabled"})
		case errors.Is(err, auth.ErrMissingCredentials):
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "missing authorization header"})
		default:
			logger.Debug().Err(err).Str("path", c.Request.URL.Path).Msg("admin auth failed")
			c.AbortWithStatusJSON(http.StatusUnauthorized, ErrorResponse{Error: "invalid credentials"})
		}
	}
}

// LoggerMiddleware creates a middleware that logs HTTP requests.
func LoggerMiddleware(logger *zerolog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		logger.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Msg("http request")
	}
}
