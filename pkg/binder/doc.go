// Package binder decodes HTTP request data into request structs.
//
// Two binders are provided:
//
//   - JSON(maxBytes): strict JSON bodies (unknown fields and trailing data rejected)
//   - Query(): URL query parameters via `query:"name"` struct tags
//
// Both return func(*http.Request, any) error so handlers can run them in sequence:
//
//	var req ListRequest
//	if err := binder.Query()(r, &req); err != nil {
//		return JSONError(err)
//	}
//
// Binding failures wrap ErrFailedToParseJSON, ErrFailedToParseQuery,
// ErrUnsupportedMediaType, ErrMissingContentType or ErrBodyTooLarge.
package binder
