package tracing

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// untracedPaths are polled by infrastructure and only add noise.
var untracedPaths = []string{"/health", "/metrics", "/swagger/"}

// GinMiddleware starts a server span per request. otelgin names spans after
// the matched route, so rule ids in paths do not become span names.
func GinMiddleware(serviceName string) gin.HandlerFunc {
	return otelgin.Middleware(serviceName,
		otelgin.WithFilter(func(r *http.Request) bool {
			for _, p := range untracedPaths {
				if strings.HasPrefix(r.URL.Path, p) {
					return false
				}
			}
			return true
		}),
	)
}

// Transport wraps an outbound transport with client spans. peer names the
// remote service in span names, for example "notehub".
func Transport(base http.RoundTripper, peer string) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport
	}
	return otelhttp.NewTransport(base,
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return fmt.Sprintf("%s %s %s", peer, r.Method, r.URL.Path)
		}),
	)
}
