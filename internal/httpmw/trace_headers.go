package httpmw

import (
	"net/http"

	"go.opentelemetry.io/otel/trace"
)

const (
	defaultTraceHeader = "X-Trace-Id"
	// traceresponse is the W3C Trace Context response header.
	traceResponseHeader = "Traceresponse"
)

// TraceResponseHeaders exposes the server span's trace id to clients, both
// under traceHeader (default X-Trace-Id) and as a W3C traceresponse value.
// Headers are set before next runs so redirects carry them too.
func TraceResponseHeaders(traceHeader string) func(http.Handler) http.Handler {
	if traceHeader == "" {
		traceHeader = defaultTraceHeader
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if sc := trace.SpanContextFromContext(r.Context()); sc.IsValid() {
				h := w.Header()
				h.Set(traceHeader, sc.TraceID().String())
				h.Set(traceResponseHeader, traceResponse(sc))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func traceResponse(sc trace.SpanContext) string {
	flags := "00"
	if sc.IsSampled() {
		flags = "01"
	}
	return "00-" + sc.TraceID().String() + "-" + sc.SpanID().String() + "-" + flags
}
