package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/iota-uz/branchboard/pkg/composables"
)

func TestWriteError(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteError(rec, http.StatusConflict, "LOCKED", "busy", nil))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.JSONEq(t, `{"code":"LOCKED","message":"busy"}`, rec.Body.String())
}

func TestWriteJSON_NilPayload(t *testing.T) {
	rec := httptest.NewRecorder()
	require.NoError(t, WriteJSON(rec, http.StatusNoContent, nil))
	require.Equal(t, http.StatusNoContent, rec.Code)
	require.Empty(t, rec.Body.String())
	require.NoError(t, WriteJSON(nil, http.StatusOK, "ignored"))
}

func TestWriteRequestError(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(composables.WithRequestID(req.Context(), "req-7"))
	rec := httptest.NewRecorder()
	require.NoError(t, WriteRequestError(rec, req, http.StatusBadRequest, "BAD_REQUEST", "nope"))

	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	require.Equal(t, "req-7", env.Meta["request_id"])

	rec = httptest.NewRecorder()
	require.NoError(t, WriteRequestError(rec, httptest.NewRequest(http.MethodGet, "/", nil), http.StatusBadRequest, "BAD_REQUEST", "nope"))
	require.NotContains(t, rec.Body.String(), "meta")
}
