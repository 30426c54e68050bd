package middleware

import (
	"runtime/debug"
	"time"

	"github.com/gin-gonic/gin"

	apperrors "github.com/RitaChen0/QuantLab-sub000/internal/errors"
	"github.com/RitaChen0/QuantLab-sub000/internal/logging"
)

// ErrorResponse is the envelope every failed request returns
type ErrorResponse struct {
	Success   bool      `json:"success"`
	Code      string    `json:"code"`
	Message   string    `json:"message"`
	Path      string    `json:"path"`
	Timestamp time.Time `json:"timestamp"`
}

// Recovery converts panics into internal-error responses
func Recovery(logger *logging.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logger.WithFields(logging.Fields{
			"panic":  recovered,
			"stack":  string(debug.Stack()),
			"path":   c.Request.URL.Path,
			"method": c.Request.Method,
		}).Error("panic recovered")

		writeError(c, apperrors.New(apperrors.ErrCodeInternal, "internal server error", nil))
	})
}

// ErrorHandler maps application errors collected during the request to
// HTTP responses. Handlers attach errors with c.Error and return.
func ErrorHandler(logger *logging.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last().Err

		appErr := apperrors.AsAppError(err)
		if appErr == nil {
			appErr = apperrors.Wrap(err, apperrors.ErrCodeInternal, "internal server error")
		}

		entry := logger.WithFields(logging.Fields{
			"error_code": string(appErr.Code),
			"method":     c.Request.Method,
			"path":       c.Request.URL.Path,
			"ip":         c.ClientIP(),
		}).WithError(appErr)
		if appErr.HTTPStatus() >= 500 {
			entry.Error("request failed")
		} else {
			entry.Warn("request rejected")
		}

		writeError(c, appErr)
	}
}

func writeError(c *gin.Context, appErr *apperrors.AppError) {
	c.AbortWithStatusJSON(appErr.HTTPStatus(), ErrorResponse{
		Success:   false,
		Code:      string(appErr.Code),
		Message:   appErr.Message,
		Path:      c.Request.URL.Path,
		Timestamp: time.Now(),
	})
}
