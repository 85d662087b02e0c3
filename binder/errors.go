package binder

import "errors"

var (
	// ErrNotApplicable tells handler.Wrap to skip a binder for this request.
	ErrNotApplicable = errors.New("binder not applicable")

	ErrUnsupportedMediaType = errors.New("unsupported media type")
	ErrMissingContentType   = errors.New("missing content type")
	ErrInvalidJSON          = errors.New("invalid JSON")
	ErrInvalidPath          = errors.New("invalid path parameter")
)
