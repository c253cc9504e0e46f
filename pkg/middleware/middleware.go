package middleware

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"fwupdate/internal/logger"
	apperrors "fwupdate/pkg/errors"
	"fwupdate/pkg/logging"
	"fwupdate/pkg/metrics"
)

const HeaderRequestID = "X-Request-ID"

// LoggerMiddleware logs one line per request and records its route metrics.
// Requests that matched no route are counted under "unmatched".
func LoggerMiddleware(log logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()
		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		metrics.ObserveHTTPRequest(route, c.Request.Method, status, latency)

		fields := []interface{}{
			"status", status,
			"latency", latency,
			"client_ip", c.ClientIP(),
			"method", c.Request.Method,
			"route", route,
			"path", c.Request.URL.Path,
		}
		if msg := c.Errors.ByType(gin.ErrorTypePrivate).String(); msg != "" {
			fields = append(fields, "error", msg)
		}

		ctx := c.Request.Context()
		switch {
		case status >= http.StatusInternalServerError:
			log.ErrorwCtx(ctx, "HTTP request", fields...)
		case status >= http.StatusBadRequest:
			log.WarnwCtx(ctx, "HTTP request", fields...)
		default:
			log.InfowCtx(ctx, "HTTP request", fields...)
		}
	}
}

// RecoveryMiddleware turns a handler panic into a 500 with the standard
// error body.
func RecoveryMiddleware(log logger.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		err := apperrors.RecoverPanic(recovered)
		log.ErrorwCtx(c.Request.Context(), "Panic recovered",
			"error", err,
			"path", c.Request.URL.Path,
			"method", c.Request.Method,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, apperrors.ToErrorResponse(apperrors.ErrInternal))
	})
}

// RequestIDMiddleware echoes X-Request-ID, generating one when absent, and
// puts it on the request context for log correlation.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader(HeaderRequestID)
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header(HeaderRequestID, requestID)
		c.Request = c.Request.WithContext(logging.WithRequestID(c.Request.Context(), requestID))
		c.Next()
	}
}
