package request

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	apperrors "fwupdate/pkg/errors"
	"fwupdate/pkg/metrics"
)

const (
	headerAPIKey        = "x-api-key"
	headerAuthorization = "authorization"
)

// HeaderLookup returns a header value and whether the header was sent.
// Name matching must be case-insensitive.
type HeaderLookup func(name string) (string, bool)

// MapHeaders builds a HeaderLookup over a raw header map whose key case is
// not normalised, as API Gateway delivers them.
func MapHeaders(headers map[string]string) HeaderLookup {
	lower := make(map[string]string, len(headers))
	for k, v := range headers {
		lower[strings.ToLower(k)] = v
	}
	return func(name string) (string, bool) {
		v, ok := lower[strings.ToLower(name)]
		return v, ok
	}
}

// HTTPHeaders builds a HeaderLookup over a net/http header.
func HTTPHeaders(header http.Header) HeaderLookup {
	return func(name string) (string, bool) {
		values, ok := header[http.CanonicalHeaderKey(name)]
		if !ok || len(values) == 0 {
			return "", false
		}
		return values[0], true
	}
}

// RequireToken rejects requests that fail Authenticate with a 401 JSON error.
func RequireToken(expected string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := Authenticate(HTTPHeaders(c.Request.Header), expected); err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, apperrors.ToErrorResponse(err))
			return
		}
		c.Next()
	}
}

// Authenticate checks the shared secret sent in x-api-key or Authorization.
// x-api-key wins when it is non-empty; a "Bearer " prefix is optional.
func Authenticate(lookup HeaderLookup, expected string) error {
	header, ok := lookup(headerAPIKey)
	if !ok || header == "" {
		header, ok = lookup(headerAuthorization)
	}
	if !ok {
		return authFailure("missing_header", "Missing authorization header")
	}

	if strings.TrimSpace(header) == "" {
		return authFailure("empty_token", "Empty authorization token")
	}

	token := header
	if len(header) >= 7 && strings.EqualFold(header[:7], "bearer ") {
		token = header[7:]
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return authFailure("empty_token", "Empty authorization token")
	}

	if expected == "" {
		return authFailure("not_configured", "Authentication not configured")
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(expected)) != 1 {
		return authFailure("invalid_token", "Invalid authorization token")
	}

	return nil
}

func authFailure(reason, message string) error {
	metrics.IncAuthFailure(reason)
	return apperrors.ErrUnauthorized.WithMessage("%s", message)
}
