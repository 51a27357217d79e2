package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestWriteErrorClientError(t *testing.T) {
	rec := httptest.NewRecorder()
	err := NewError("illegal_transition", "cannot move order\nfrom pending", http.StatusBadRequest).
		WithDetails(map[string]any{"validTransitions": []string{"confirmed", "cancelled"}}).
		WithRequestID("req-1")

	WriteError(context.Background(), rec, err)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	body := decodeEnvelope(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "cannot move order from pending", body["message"])
	assert.Equal(t, "illegal_transition", body["error"])
	assert.Equal(t, "req-1", body["requestId"])
	assert.Equal(t, []any{"confirmed", "cancelled"}, body["validTransitions"])
}

func TestWriteErrorRedactsInternalErrors(t *testing.T) {
	rec := httptest.NewRecorder()
	err := Internal(errors.New("firestore: deadline exceeded")).WithDetails(map[string]any{"collection": "orders"})

	WriteError(context.Background(), rec, err)

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeEnvelope(t, rec)
	assert.Equal(t, "internal server error", body["message"])
	assert.NotContains(t, body, "error")
	assert.NotContains(t, body, "collection")
}

func TestWriteErrorKeepsUnavailableCode(t *testing.T) {
	rec := httptest.NewRecorder()
	err := NewError("dependency_unavailable", "a dependency is temporarily unavailable; retry later", http.StatusServiceUnavailable)
	err.Cause = "mongo: server selection timeout"

	WriteError(context.Background(), rec, err)

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	body := decodeEnvelope(t, rec)
	assert.Equal(t, "dependency_unavailable", body["error"])
	assert.NotContains(t, rec.Body.String(), "server selection")
}

func TestWriteErrorExposesCauseInDebug(t *testing.T) {
	rec := httptest.NewRecorder()
	ctx := WithDebug(context.Background(), true)

	WriteError(ctx, rec, Internal(errors.New("firestore: deadline exceeded")))

	body := decodeEnvelope(t, rec)
	assert.Equal(t, "internal server error", body["message"])
	assert.Equal(t, "firestore: deadline exceeded", body["error"])
}

func TestDebugMiddleware(t *testing.T) {
	handler := DebugMiddleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteError(r.Context(), w, Internal(errors.New("boom")))
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, "boom", decodeEnvelope(t, rec)["error"])
}
