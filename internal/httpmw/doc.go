// Package httpmw provides the HTTP middleware of the edge pipeline.
//
// The two request filters are PathNormalizer, which rewrites the request path
// to its canonical form before routing, and HTTPSRedirector, which answers
// plaintext requests with a 301 to the https equivalent. Both are generic
// over the inner handler type and hold only immutable configuration, so one
// instance serves every request concurrently. NormalizePath and RedirectHTTPS
// adapt them to the func(http.Handler) http.Handler shape used by Chain.
//
// The rest is the ambient stack they run inside: security headers, panic
// recovery, request IDs, client IP resolution, request-scoped logging and
// access logs, trace headers and route annotation. httpserver.NewHandler
// decides the order.
//
// User-supplied header values are kept out of logs, apart from the query
// string which is logged as-is.
package httpmw
