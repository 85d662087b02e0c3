// Package binder populates request structs for handler.Wrap.
//
// JSON decodes the body strictly. Path copies router parameters into fields
// tagged `path:"name"`.
package binder
