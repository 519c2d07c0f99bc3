package binder

import "net/http"

// Query returns a binder that fills struct fields tagged `query:"name"` from
// the URL query. Slices accept repeated and comma-separated values; pointers
// stay nil when the parameter is absent.
//
//	type ListRequest struct {
//		Status []string `query:"status"` // ?status=active,past_due
//		Limit  int64    `query:"limit"`
//		Desc   *bool    `query:"desc"`
//	}
func Query() func(r *http.Request, v any) error {
	return func(r *http.Request, v any) error {
		return bindToStruct(v, "query", r.URL.Query(), ErrFailedToParseQuery)
	}
}
