package binder_test

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alipala/language-tutor-sub001/pkg/binder"
)

type listRequest struct {
	Status []string `query:"status"`
	Plan   string   `query:"plan"`
	Skip   int64    `query:"skip"`
	Desc   *bool    `query:"desc"`
	Secret string   `query:"-"`
}

func TestQuery(t *testing.T) {
	t.Parallel()

	t.Run("binds scalars, slices and pointers", func(t *testing.T) {
		t.Parallel()

		r := httptest.NewRequest(http.MethodGet, "/?status=active,past_due&status=canceled&plan=pro&skip=20&desc=true&secret=x", nil)
		var req listRequest
		require.NoError(t, binder.Query()(r, &req))

		assert.Equal(t, []string{"active", "past_due", "canceled"}, req.Status)
		assert.Equal(t, "pro", req.Plan)
		assert.Equal(t, int64(20), req.Skip)
		require.NotNil(t, req.Desc)
		assert.True(t, *req.Desc)
		assert.Empty(t, req.Secret)
	})

	t.Run("absent pointer stays nil", func(t *testing.T) {
		t.Parallel()

		var req listRequest
		require.NoError(t, binder.Query()(httptest.NewRequest(http.MethodGet, "/", nil), &req))
		assert.Nil(t, req.Desc)
		assert.Nil(t, req.Status)
	})

	t.Run("invalid integer", func(t *testing.T) {
		t.Parallel()

		var req listRequest
		err := binder.Query()(httptest.NewRequest(http.MethodGet, "/?skip=ten", nil), &req)
		require.ErrorIs(t, err, binder.ErrFailedToParseQuery)
		assert.Contains(t, err.Error(), "skip")
	})

	t.Run("non-pointer target", func(t *testing.T) {
		t.Parallel()

		err := binder.Query()(httptest.NewRequest(http.MethodGet, "/", nil), listRequest{})
		require.ErrorIs(t, err, binder.ErrFailedToParseQuery)
	})
}

type overrideRequest struct {
	Actor  string `json:"actor"`
	Reason string `json:"reason"`
}

func TestJSON(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		contentType string
		body        string
		want        error
	}{
		{name: "valid", contentType: "application/json; charset=utf-8", body: `{"actor":"ops","reason":"refund"}`},
		{name: "missing content type", body: `{}`, want: binder.ErrMissingContentType},
		{name: "wrong media type", contentType: "text/plain", body: `{}`, want: binder.ErrUnsupportedMediaType},
		{name: "unknown field", contentType: "application/json", body: `{"actor":"ops","role":"root"}`, want: binder.ErrFailedToParseJSON},
		{name: "empty body", contentType: "application/json", body: ``, want: binder.ErrFailedToParseJSON},
		{name: "trailing data", contentType: "application/json", body: `{"actor":"ops"}{}`, want: binder.ErrFailedToParseJSON},
		{name: "too large", contentType: "application/json", body: `{"actor":"` + strings.Repeat("a", 64) + `"}`, want: binder.ErrBodyTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			if tt.contentType != "" {
				r.Header.Set("Content-Type", tt.contentType)
			}
			var req overrideRequest
			err := binder.JSON(48)(r, &req)
			if tt.want != nil {
				require.ErrorIs(t, err, tt.want)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, overrideRequest{Actor: "ops", Reason: "refund"}, req)
		})
	}
}
