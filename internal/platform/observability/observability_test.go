package observability

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ilakkiyam/api/internal/platform/requestctx"
)

func TestParseCloudTrace(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		ok      bool
		sampled bool
	}{
		{name: "decimal span sampled", header: "105445aa7843bc8bf206b12000100000/1;o=1", ok: true, sampled: true},
		{name: "hex span", header: "105445aa7843bc8bf206b12000100000/00f067aa0ba902b7", ok: true},
		{name: "missing span", header: "105445aa7843bc8bf206b12000100000", ok: false},
		{name: "short trace", header: "abc/1;o=1", ok: false},
		{name: "zero span", header: "105445aa7843bc8bf206b12000100000/0;o=1", ok: false},
		{name: "empty", header: "", ok: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			sc, ok := parseCloudTrace(tc.header)
			require.Equal(t, tc.ok, ok)
			if ok {
				assert.Equal(t, "105445aa7843bc8bf206b12000100000", sc.TraceID().String())
				assert.Equal(t, tc.sampled, sc.IsSampled())
				assert.True(t, sc.IsRemote())
			}
		})
	}
}

func TestRecoveryMiddlewareWritesEnvelope(t *testing.T) {
	handler := RecoveryMiddleware()(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/orders", nil))

	require.Equal(t, http.StatusInternalServerError, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "internal server error", body["message"])
}

func TestRequestLoggerLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	chain := func(status int) http.Handler {
		return InjectLoggerMiddleware(zap.New(core))(RequestLoggerMiddleware()(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		})))
	}

	chain(http.StatusOK).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/a", nil))
	chain(http.StatusConflict).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/b", nil))
	chain(http.StatusServiceUnavailable).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/c", nil))

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.InfoLevel, entries[0].Level)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
	assert.Equal(t, int64(http.StatusConflict), entries[1].ContextMap()["status"])
}

func TestEventLoggerPrefersRequestLogger(t *testing.T) {
	fallbackCore, fallbackLogs := observer.New(zapcore.DebugLevel)
	requestCore, requestLogs := observer.New(zapcore.DebugLevel)
	log := EventLogger(zap.New(fallbackCore))

	log(context.Background(), "order.proof.cleanup.failed", map[string]any{"order": "ORD-00001"})
	log(requestctx.WithLogger(context.Background(), zap.New(requestCore)), "order.event.published", nil)

	require.Equal(t, 1, fallbackLogs.Len())
	assert.Equal(t, zapcore.WarnLevel, fallbackLogs.All()[0].Level)
	assert.Equal(t, "ORD-00001", fallbackLogs.All()[0].ContextMap()["order"])
	require.Equal(t, 1, requestLogs.Len())
	assert.Equal(t, zapcore.InfoLevel, requestLogs.All()[0].Level)
}
