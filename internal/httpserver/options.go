package httpserver

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-edge/internal/health"
	"github.com/keithlinneman/linnemanlabs-edge/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-edge/internal/log"
)

type Options struct {
	Logger       log.Logger
	Port         int
	UseRecoverMW bool
	OnPanic      func()
	MetricsMW    func(http.Handler) http.Handler
	RateLimitMW  func(http.Handler) http.Handler
	ClientIPOpts httpmw.ClientIPOptions
	Security     httpmw.SecurityHeadersOptions

	// NormalizePaths canonicalizes request paths before routing.
	NormalizePaths bool
	NormalizeOpts  []httpmw.NormalizeOption

	// EnforceHTTPS redirects plaintext requests to https.
	EnforceHTTPS bool
	RedirectOpts []httpmw.RedirectOption

	// MaxBodyBytes limits request bodies forwarded upstream, 0 for no limit.
	MaxBodyBytes int64

	// Upstream serves everything that is not a health route. nil replies 404.
	Upstream http.Handler

	Health    health.Probe
	Readiness health.Probe
}
