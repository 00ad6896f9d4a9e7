package httpmw

import (
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-edge/internal/log"
	"github.com/keithlinneman/linnemanlabs-edge/internal/pathutil"
)

// InvariantError is the panic value PathNormalizer raises when the rebuilt
// request-URI does not parse. Canonicalization only ever drops '/' from a
// well-formed path, so seeing one means the input was not a request-URI to
// begin with (or the rules are broken). Recover turns it into a 500.
type InvariantError struct {
	RequestURI string
	Err        error
}

func (e *InvariantError) Error() string {
	return "httpmw: canonical request uri " + strconv.Quote(e.RequestURI) + " rejected: " + e.Err.Error()
}

func (e *InvariantError) Unwrap() error { return e.Err }

// NormalizeOption configures a PathNormalizer.
type NormalizeOption func(*normalizeConfig)

type normalizeConfig struct {
	onRewrite func(from, to string)
}

// WithOnRewrite registers a callback run after each rewritten request, used for
// incrementing prometheus counters. It is not called for no-op requests.
func WithOnRewrite(fn func(from, to string)) NormalizeOption {
	return func(c *normalizeConfig) {
		c.onRewrite = fn
	}
}

// PathNormalizer rewrites the request path to its canonical form (no trailing
// slash, no repeated slashes, "/" for nothing) before calling the inner handler.
// The query string is carried over byte for byte. It never short-circuits.
type PathNormalizer[H http.Handler] struct {
	next H
	cfg  normalizeConfig
}

func NewPathNormalizer[H http.Handler](next H, opts ...NormalizeOption) *PathNormalizer[H] {
	n := &PathNormalizer[H]{next: next}
	for _, o := range opts {
		o(&n.cfg)
	}
	return n
}

// NormalizePath is the Chain-compatible form of NewPathNormalizer.
func NormalizePath(opts ...NormalizeOption) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return NewPathNormalizer(next, opts...)
	}
}

func (n *PathNormalizer[H]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if from, to, ok := canonicalizeRequest(r); ok {
		ctx := r.Context()
		log.FromContext(ctx).Debug(ctx, "request path normalized",
			"url.path.original", from,
			"url.path", to,
		)
		if span := trace.SpanFromContext(ctx); span.IsRecording() {
			span.SetAttributes(attribute.String("url.path.original", from))
		}
		if n.cfg.onRewrite != nil {
			n.cfg.onRewrite(from, to)
		}
	}
	n.next.ServeHTTP(w, r)
}

// canonicalizeRequest rewrites r in place when its path is not canonical and
// reports the escaped path before and after. An empty path is left for the
// router to interpret. When the path is already canonical r is not touched.
func canonicalizeRequest(r *http.Request) (from, to string, rewritten bool) {
	if r.URL == nil {
		return "", "", false
	}
	from = r.URL.EscapedPath()
	if from == "" {
		return from, from, false
	}
	to = pathutil.Canonical(from)
	if to == from {
		return from, to, false
	}

	requestURI := to
	if r.URL.ForceQuery || r.URL.RawQuery != "" {
		requestURI += "?" + r.URL.RawQuery
	}
	u, err := url.ParseRequestURI(requestURI)
	if err != nil {
		panic(&InvariantError{RequestURI: requestURI, Err: err})
	}

	r.URL.Path = u.Path
	r.URL.RawPath = u.RawPath
	r.RequestURI = requestURI

	// a mounted sub-router matches on RoutePath instead of the URL
	if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePath != "" && !pathutil.IsCanonical(rctx.RoutePath) {
		rctx.RoutePath = pathutil.Canonical(rctx.RoutePath)
	}
	return from, to, true
}
