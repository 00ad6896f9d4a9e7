// Package ratelimit is per-client token-bucket rate limiting for the public
// edge listener.
//
// It is in-memory and per instance. It blunts a single client flooding the
// edge (redirect loops from misconfigured clients included) and reports who
// is being limited. It does not stop distributed floods or bandwidth abuse;
// that belongs to the load balancer or CDN in front.
//
// The client key comes from httpmw.ClientIPFromContext, so the ClientIP
// middleware must run first.
package ratelimit
