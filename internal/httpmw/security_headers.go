package httpmw

import (
	"net/http"
	"strconv"
	"time"
)

// SecurityHeadersOptions configures SecurityHeaders.
type SecurityHeadersOptions struct {
	// HSTSMaxAge is the Strict-Transport-Security max-age. 0 disables HSTS.
	HSTSMaxAge time.Duration
	// HSTSIncludeSubdomains adds includeSubDomains to the HSTS header.
	HSTSIncludeSubdomains bool
	// TrustForwardedProto decides https via X-Forwarded-Proto, see RequestScheme.
	TrustForwardedProto bool
}

// SecurityHeaders adds headers that are safe for any upstream application.
//
// Strict-Transport-Security is only sent on responses to https requests,
// browsers ignore it over plaintext (RFC 6797 section 7.2) and the redirect
// to https is what gets them there in the first place.
func SecurityHeaders(opts SecurityHeadersOptions) func(http.Handler) http.Handler {
	var hsts string
	if opts.HSTSMaxAge > 0 {
		hsts = "max-age=" + strconv.FormatInt(int64(opts.HSTSMaxAge/time.Second), 10)
		if opts.HSTSIncludeSubdomains {
			hsts += "; includeSubDomains"
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			if hsts != "" && RequestScheme(r, opts.TrustForwardedProto) == "https" {
				h.Set("Strict-Transport-Security", hsts)
			}

			// Disable MIME type sniffing
			h.Set("X-Content-Type-Options", "nosniff")

			// Old clickjacking protection, dont allow embedding in frames
			h.Set("X-Frame-Options", "DENY")

			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")

			// Prevent Adobe Flash and Acrobat from loading content
			h.Set("X-Permitted-Cross-Domain-Policies", "none")

			next.ServeHTTP(w, r)
		})
	}
}
