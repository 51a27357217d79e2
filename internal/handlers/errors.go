package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/ilakkiyam/api/internal/platform/httpx"
	"github.com/ilakkiyam/api/internal/services"
)

type fieldErrorPayload struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// writeServiceError maps the service error taxonomy onto HTTP statuses.
func writeServiceError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		validation *services.ValidationError
		illegal    *services.IllegalTransitionError
	)
	switch {
	case errors.As(err, &validation):
		writeValidationError(ctx, w, validation.Fields)
	case errors.As(err, &illegal):
		valid := make([]string, 0, len(illegal.Valid))
		for _, status := range illegal.Valid {
			valid = append(valid, string(status))
		}
		httpx.WriteError(ctx, w, httpx.NewError("illegal_transition",
			fmt.Sprintf("cannot change order status from %s to %s", illegal.From, illegal.To),
			http.StatusBadRequest).WithDetails(map[string]any{"validTransitions": valid}))
	case errors.Is(err, services.ErrPaymentFinalized):
		httpx.WriteError(ctx, w, httpx.NewError("payment_finalized", "payment has already been verified or rejected", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidState):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_state", "operation is not allowed in the order's current status", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderInvalidInput), errors.Is(err, services.ErrCounterInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request is invalid", http.StatusBadRequest))
	case errors.Is(err, services.ErrOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("forbidden", "you do not have access to this order", http.StatusForbidden))
	case errors.Is(err, services.ErrOrderNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("order_not_found", "order not found", http.StatusNotFound))
	case errors.Is(err, services.ErrOrderConflict):
		httpx.WriteError(ctx, w, httpx.NewError("order_conflict", "order was modified by another request; reload and retry", http.StatusConflict))
	case errors.Is(err, services.ErrOrderUnavailable):
		unavailable := httpx.NewError("dependency_unavailable", "a dependency is temporarily unavailable; retry later", http.StatusServiceUnavailable)
		unavailable.Cause = err.Error()
		httpx.WriteError(ctx, w, unavailable)
	default:
		httpx.WriteError(ctx, w, httpx.Internal(err))
	}
}

func writeValidationError(ctx context.Context, w http.ResponseWriter, fields []services.FieldError) {
	payload := make([]fieldErrorPayload, 0, len(fields))
	for _, f := range fields {
		payload = append(payload, fieldErrorPayload{Field: f.Field, Message: f.Message})
	}
	message := "request validation failed"
	if len(fields) == 1 {
		message = fields[0].Message
	}
	httpx.WriteError(ctx, w, httpx.NewError("validation_failed", message, http.StatusBadRequest).
		WithDetails(map[string]any{"fields": payload}))
}

func writeServiceUnavailable(ctx context.Context, w http.ResponseWriter, name string) {
	httpx.WriteError(ctx, w, httpx.NewError("service_unavailable", name+" service unavailable", http.StatusServiceUnavailable))
}
