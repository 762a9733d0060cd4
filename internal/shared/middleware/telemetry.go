package middleware

import (
	"net/http"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// Telemetry opens the server span and records the standard otelhttp
// metrics. Health probes are not traced. Tracing later renames the span
// after the matched route.
func Telemetry(next http.Handler) http.Handler {
	return otelhttp.NewHandler(next, "bankfeed-api",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/health"
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	)
}
