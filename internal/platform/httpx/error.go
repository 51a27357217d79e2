package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/ilakkiyam/api/internal/platform/requestctx"
)

const internalErrorMessage = "internal server error"

type debugContextKey struct{}

// Error represents the canonical JSON error envelope returned by the API.
type Error struct {
	Code      string
	Message   string
	Status    int
	RequestID string
	Details   map[string]any
	// Cause is the internal error text. 5xx responses log it; a 500 also writes it when debug
	// output is enabled on the request context.
	Cause string
}

// NewError constructs a new Error with the provided parameters.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    sanitize(code, 80),
		Message: sanitize(message, 512),
		Status:  status,
	}
}

// Internal builds a redacted 500 carrying the underlying error for debug output.
func Internal(err error) Error {
	e := NewError("internal_error", internalErrorMessage, http.StatusInternalServerError)
	if err != nil {
		e.Cause = sanitize(err.Error(), 1024)
	}
	return e
}

// WithRequestID sets the request identifier on the error payload.
func (e Error) WithRequestID(id string) Error {
	e.RequestID = sanitize(id, 80)
	return e
}

// WithDetails attaches additional JSON-serialisable fields merged into the envelope.
func (e Error) WithDetails(details map[string]any) Error {
	if len(details) == 0 {
		return e
	}
	copyDetails := make(map[string]any, len(details))
	for k, v := range details {
		copyDetails[k] = v
	}
	e.Details = copyDetails
	return e
}

// WithDebug marks the context so WriteError exposes internal causes of 5xx errors.
func WithDebug(ctx context.Context, enabled bool) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, debugContextKey{}, enabled)
}

// DebugMiddleware enables or disables internal error output for every request.
func DebugMiddleware(enabled bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(WithDebug(r.Context(), enabled)))
		})
	}
}

func debugEnabled(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	enabled, _ := ctx.Value(debugContextKey{}).(bool)
	return enabled
}

// WriteError writes the structured error as JSON to the provided response writer.
func WriteError(ctx context.Context, w http.ResponseWriter, err Error) {
	status := err.Status
	if status == 0 {
		status = http.StatusInternalServerError
	}

	requestID := err.RequestID
	if requestID == "" {
		requestID = sanitize(middleware.GetReqID(ctx), 80)
	}

	redact := status == http.StatusInternalServerError
	payload := map[string]any{}
	if !redact || debugEnabled(ctx) {
		for k, v := range err.Details {
			payload[k] = v
		}
	}
	payload["success"] = false

	if redact {
		payload["message"] = internalErrorMessage
		if debugEnabled(ctx) && err.Cause != "" {
			payload["error"] = err.Cause
		}
	} else {
		payload["message"] = err.Message
		if err.Code != "" {
			payload["error"] = err.Code
		}
	}

	if requestID != "" {
		payload["requestId"] = requestID
	}

	if status >= http.StatusInternalServerError {
		requestctx.Logger(ctx).Sugar().Errorw("request failed", "status", status, "code", err.Code, "cause", err.Cause)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

// WriteJSON writes payload as a JSON response with the given status.
func WriteJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func sanitize(value string, limit int) string {
	if limit <= 0 {
		limit = 256
	}
	value = strings.ReplaceAll(value, "\n", " ")
	value = strings.ReplaceAll(value, "\r", " ")
	value = strings.TrimSpace(value)
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}
