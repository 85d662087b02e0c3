// Package handler adapts typed request handlers to net/http.
//
// A HandlerFunc receives a Context and a request value populated by binders
// and returns a Response that renders itself. Wrap turns it into an
// http.HandlerFunc:
//
//	r.Post("/subscriptions/{subscriptionID}/debit", handler.Wrap(debit,
//		handler.WithBinders[handler.Context, DebitRequest](binder.Path(chi.URLParam)),
//		handler.WithErrorHandler[handler.Context, DebitRequest](renderError),
//	))
//
// JSON responses share one envelope with data, meta and error members.
package handler
