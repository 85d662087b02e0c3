// Package httpserver runs an http.Handler with configured timeouts and
// graceful shutdown, and provides liveness and readiness probe handlers.
//
// Run blocks until the context is cancelled or the listener fails; the
// caller owns signal handling, typically through signal.NotifyContext.
package httpserver
