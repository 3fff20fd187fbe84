package middleware

import (
	"net/http"
	"strconv"

	apperrors "github.com/NomadCrew/nomad-realtime/errors"
	"github.com/NomadCrew/nomad-realtime/logger"
	"github.com/gin-gonic/gin"
)

type ErrorResponse struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

// ErrorHandler renders the last error attached to the gin context.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		last := c.Errors.Last()
		err := last.Err

		if appErr, ok := apperrors.As(err); ok {
			status := appErr.HTTPStatus
			if status == 0 {
				status = http.StatusInternalServerError
			}
			logger.LogHTTPError(c, err, status, string(appErr.Type)+" error")

			resp := ErrorResponse{
				Type:    string(appErr.Type),
				Code:    appErr.Code,
				Message: appErr.Message,
			}
			if resp.Code == "" {
				resp.Code = strconv.Itoa(status)
			}
			// Database and server details stay in the logs.
			if appErr.Detail != "" && (gin.IsDebugging() || status < http.StatusInternalServerError) {
				resp.Detail = appErr.Detail
			}
			c.JSON(status, resp)
			return
		}

		if last.Type == gin.ErrorTypeBind {
			logger.LogHTTPError(c, err, http.StatusBadRequest, "Request binding error")
			c.JSON(http.StatusBadRequest, ErrorResponse{
				Type:    string(apperrors.ValidationError),
				Code:    strconv.Itoa(http.StatusBadRequest),
				Message: "Failed to bind request",
				Detail:  err.Error(),
			})
			return
		}

		logger.LogHTTPError(c, err, http.StatusInternalServerError, "Unexpected server error")
		resp := ErrorResponse{
			Type:    string(apperrors.ServerError),
			Code:    strconv.Itoa(http.StatusInternalServerError),
			Message: "Internal Server Error",
		}
		if gin.IsDebugging() {
			resp.Detail = err.Error()
		}
		c.JSON(http.StatusInternalServerError, resp)
	}
}
