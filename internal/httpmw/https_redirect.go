package httpmw

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-edge/internal/log"
)

// DefaultHTTPSPort is the port browsers assume for https:// URLs.
const DefaultHTTPSPort uint16 = 443

// RedirectOption configures an HTTPSRedirector.
type RedirectOption func(*redirectConfig)

type redirectConfig struct {
	port                uint16
	trustForwardedProto bool
	onRedirect          func(location string)
}

// WithHTTPSPort sets the port the redirect targets. 0 means DefaultHTTPSPort.
func WithHTTPSPort(port uint16) RedirectOption {
	return func(c *redirectConfig) {
		if port == 0 {
			port = DefaultHTTPSPort
		}
		c.port = port
	}
}

// WithTrustForwardedProto makes X-Forwarded-Proto authoritative for the scheme.
// Only enable behind a TLS terminating proxy, with ClientIP configured to
// strip the header from everyone else.
func WithTrustForwardedProto(trust bool) RedirectOption {
	return func(c *redirectConfig) {
		c.trustForwardedProto = trust
	}
}

// WithOnRedirect registers a callback run for every redirect issued.
func WithOnRedirect(fn func(location string)) RedirectOption {
	return func(c *redirectConfig) {
		c.onRedirect = fn
	}
}

// HTTPSRedirector passes https requests through untouched and answers every
// other request with a 301 to the https equivalent, without calling the
// inner handler.
type HTTPSRedirector[H http.Handler] struct {
	next H
	cfg  redirectConfig
}

func NewHTTPSRedirector[H http.Handler](next H, opts ...RedirectOption) *HTTPSRedirector[H] {
	h := &HTTPSRedirector[H]{
		next: next,
		cfg:  redirectConfig{port: DefaultHTTPSPort},
	}
	for _, o := range opts {
		o(&h.cfg)
	}
	return h
}

// RedirectHTTPS is the Chain-compatible form of NewHTTPSRedirector.
func RedirectHTTPS(opts ...RedirectOption) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return NewHTTPSRedirector(next, opts...)
	}
}

func (h *HTTPSRedirector[H]) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if RequestScheme(r, h.cfg.trustForwardedProto) == "https" {
		h.next.ServeHTTP(w, r)
		return
	}

	location := RedirectTarget(r, h.cfg.port)
	w.Header().Set("Location", location)
	w.WriteHeader(http.StatusMovedPermanently)

	ctx := r.Context()
	log.FromContext(ctx).Debug(ctx, "redirected plaintext request to https",
		"location", location,
	)
	if span := trace.SpanFromContext(ctx); span.IsRecording() {
		span.SetAttributes(attribute.String("http.response.header.location", location))
	}
	if h.cfg.onRedirect != nil {
		h.cfg.onRedirect(location)
	}
}

// RedirectTarget builds the https:// URL for r.
//
// Any port on the request host is dropped. With port == DefaultHTTPSPort
// (or 0) the target carries no port, otherwise it carries port. Path and
// query are copied verbatim from the request as it is now.
func RedirectTarget(r *http.Request, port uint16) string {
	host := r.Host
	if host == "" && r.URL != nil {
		host = r.URL.Host
	}
	hostname := hostnameOf(host)

	var b strings.Builder
	b.WriteString("https://")
	// only a real IPv6 literal is bracketed, anything else is used as is
	if ip := net.ParseIP(hostname); ip != nil && strings.IndexByte(hostname, ':') >= 0 {
		b.WriteString("[" + hostname + "]")
	} else {
		b.WriteString(hostname)
	}
	if port != 0 && port != DefaultHTTPSPort {
		b.WriteString(":" + strconv.FormatUint(uint64(port), 10))
	}
	b.WriteString(requestPathQuery(r))
	return b.String()
}

// hostnameOf strips an explicit port from host. Anything net.SplitHostPort
// rejects (no port, garbage) is taken whole as the hostname; a bracketed
// IPv6 literal without a port loses its brackets so they are not doubled.
func hostnameOf(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	if len(host) >= 2 && host[0] == '[' && host[len(host)-1] == ']' {
		return host[1 : len(host)-1]
	}
	return host
}
