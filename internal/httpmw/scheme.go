package httpmw

import (
	"net/http"
	"strings"
)

// RequestScheme reports the scheme the client used to reach the edge.
//
// With trustForwarded set, the first X-Forwarded-Proto value wins (a TLS
// terminating load balancer in front of us). ClientIP strips that header from
// untrusted peers, so it must run before anything that trusts it.
// Otherwise only the connection itself is consulted.
func RequestScheme(r *http.Request, trustForwarded bool) string {
	if trustForwarded {
		if xf := r.Header.Get("X-Forwarded-Proto"); xf != "" {
			first, _, _ := strings.Cut(xf, ",")
			if s := strings.ToLower(strings.TrimSpace(first)); s != "" {
				return s
			}
		}
	}
	if r.TLS != nil {
		return "https"
	}
	return "http"
}

// requestPathQuery renders the request's current path and query exactly as
// they are on the wire, without substituting "/" for an empty path.
func requestPathQuery(r *http.Request) string {
	if r.URL == nil {
		return ""
	}
	p := r.URL.EscapedPath()
	if r.URL.ForceQuery || r.URL.RawQuery != "" {
		return p + "?" + r.URL.RawQuery
	}
	return p
}
