// Package requestid propagates a per-request identifier through the
// X-Request-ID header and the request context.
package requestid
