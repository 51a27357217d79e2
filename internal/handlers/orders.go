package handlers

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/ilakkiyam/api/internal/domain"
	"github.com/ilakkiyam/api/internal/platform/auth"
	"github.com/ilakkiyam/api/internal/platform/httpx"
	"github.com/ilakkiyam/api/internal/platform/pagination"
	"github.com/ilakkiyam/api/internal/services"
)

const checkoutWindow = time.Minute

// OrderHandlers serves the /orders endpoints for customers and staff.
type OrderHandlers struct {
	authn     *auth.Authenticator
	orders    services.OrderService
	payments  services.PaymentService
	checkout  []func(http.Handler) http.Handler
	limiter   rateLimiter
	maxUpload int64
}

// OrderHandlerOption customises OrderHandlers.
type OrderHandlerOption func(*OrderHandlers)

// WithCheckoutRateLimit limits order creation per user per minute. Zero disables the limit.
func WithCheckoutRateLimit(perMinute int, clock func() time.Time) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.limiter = newWindowLimiter(perMinute, checkoutWindow, clock)
	}
}

// WithMaxUploadBytes bounds payment proof uploads.
func WithMaxUploadBytes(n int64) OrderHandlerOption {
	return func(h *OrderHandlers) {
		if n > 0 {
			h.maxUpload = n
		}
	}
}

// WithCheckoutMiddlewares wraps POST /orders only, e.g. with the idempotency guard.
func WithCheckoutMiddlewares(mw ...func(http.Handler) http.Handler) OrderHandlerOption {
	return func(h *OrderHandlers) {
		h.checkout = append(h.checkout, mw...)
	}
}

// NewOrderHandlers constructs a new OrderHandlers instance.
func NewOrderHandlers(authn *auth.Authenticator, orders services.OrderService, payments services.PaymentService, opts ...OrderHandlerOption) *OrderHandlers {
	h := &OrderHandlers{
		authn:     authn,
		orders:    orders,
		payments:  payments,
		maxUpload: defaultUploadLimit,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}
	return h
}

// Routes registers the /orders endpoints.
func (h *OrderHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Use(h.authn.RequireAuth())
	staff := auth.RequireRole(auth.RoleStaff, auth.RoleAdmin)

	r.With(h.checkout...).Post("/", h.createOrder)
	r.Get("/", h.listOrders)
	r.With(staff).Get("/stats", h.orderStats)
	r.Get("/{orderID}", h.getOrder)
	r.Post("/{orderID}/cancel", h.cancelOrder)
	r.Get("/{orderID}/payment/proof", h.paymentProof)

	r.Group(func(r chi.Router) {
		r.Use(staff)
		r.Post("/{orderID}/status", h.updateStatus)
		r.Post("/{orderID}/payment/verify", h.verifyPayment)
		r.Post("/{orderID}/payment/reject", h.rejectPayment)
		r.Put("/{orderID}/shipping", h.updateShipping)
		r.Delete("/{orderID}", h.deleteOrder)
	})
}

func actorFrom(ctx context.Context) (services.Actor, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok {
		return services.Actor{}, false
	}
	return services.Actor{ID: identity.UID, Staff: identity.IsStaff()}, true
}

// begin resolves the caller and reports false after writing a response when the request cannot
// proceed.
func (h *OrderHandlers) begin(w http.ResponseWriter, r *http.Request, svc any) (services.Actor, bool) {
	ctx := r.Context()
	if svc == nil {
		writeServiceUnavailable(ctx, w, "order")
		return services.Actor{}, false
	}
	actor, ok := actorFrom(ctx)
	if !ok {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return services.Actor{}, false
	}
	return actor, true
}

func (h *OrderHandlers) createOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r, h.orders)
	if !ok {
		return
	}
	if h.limiter != nil {
		if allowed, retry := h.limiter.Allow(actor.ID); !allowed {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(retry.Seconds()))))
			httpx.WriteError(ctx, w, httpx.NewError("rate_limited", "too many checkout attempts; try again shortly", http.StatusTooManyRequests))
			return
		}
	}

	in, err := parseCheckout(w, r, h.maxUpload)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	if len(in.fields) > 0 {
		writeValidationError(ctx, w, in.fields)
		return
	}

	order, err := h.orders.CreateOrder(ctx, in.request.toCommand(actor.ID, in.proof))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Location", fmt.Sprintf("%s/orders/%s", defaultAPIPrefix, order.ID))
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "Order placed successfully",
		"data":    newOrderPayload(ctx, order, services.ValidTransitions(order.Status)),
	})
}

func (h *OrderHandlers) listOrders(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r, h.orders)
	if !ok {
		return
	}
	filter, fields := parseListFilter(r)
	if len(fields) > 0 {
		writeValidationError(ctx, w, fields)
		return
	}

	page, err := h.orders.ListOrders(ctx, actor, filter)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	items := make([]orderPayload, 0, len(page.Items))
	for _, order := range page.Items {
		items = append(items, newOrderPayload(ctx, order, services.ValidTransitions(order.Status)))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    items,
		"pagination": paginationPayload{
			Page:        page.Page.Page,
			Limit:       page.Page.Limit,
			Total:       page.Page.Total,
			TotalPages:  page.Page.TotalPages,
			HasNextPage: page.Page.HasNextPage,
			HasPrevPage: page.Page.HasPrevPage,
		},
		"summary": summaryPayload{
			TotalOrders: page.Summary.TotalOrders,
			TotalAmount: money(page.Summary.TotalAmount),
		},
	})
}

func parseListFilter(r *http.Request) (services.OrderListFilter, []services.FieldError) {
	query := r.URL.Query()
	var fields []services.FieldError

	params, err := pagination.Parse(query)
	var perrs pagination.Errors
	if errors.As(err, &perrs) {
		for _, fe := range perrs {
			fields = append(fields, services.FieldError{Field: fe.Field, Message: fe.Message})
		}
	}

	filter := services.OrderListFilter{
		UserID:             strings.TrimSpace(query.Get("userId")),
		PaymentMethod:      domain.PaymentMethod(strings.ToLower(strings.TrimSpace(query.Get("paymentMethod")))),
		VerificationStatus: domain.VerificationStatus(strings.ToLower(strings.TrimSpace(query.Get("verificationStatus")))),
		Pagination:         domain.OffsetPagination{Page: params.Page, Limit: params.Limit},
		SortBy:             domain.OrderSortField(params.SortBy),
		SortOrder:          domain.SortOrder(params.SortOrder),
	}
	for _, raw := range query["status"] {
		for _, part := range strings.Split(raw, ",") {
			if part = strings.ToLower(strings.TrimSpace(part)); part != "" {
				filter.Statuses = append(filter.Statuses, domain.OrderStatus(part))
			}
		}
	}
	if raw := strings.TrimSpace(query.Get("dateFrom")); raw != "" {
		if ts, err := parseDateParam(raw, false); err != nil {
			fields = append(fields, services.FieldError{Field: "dateFrom", Message: "dateFrom must be RFC3339 or YYYY-MM-DD"})
		} else {
			filter.DateRange.From = &ts
		}
	}
	if raw := strings.TrimSpace(query.Get("dateTo")); raw != "" {
		if ts, err := parseDateParam(raw, true); err != nil {
			fields = append(fields, services.FieldError{Field: "dateTo", Message: "dateTo must be RFC3339 or YYYY-MM-DD"})
		} else {
			filter.DateRange.To = &ts
		}
	}
	return filter, fields
}

// parseDateParam accepts RFC3339 timestamps or calendar dates. A date used as an upper bound
// covers the whole day.
func parseDateParam(raw string, endOfDay bool) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339Nano, raw); err == nil {
		return ts.UTC(), nil
	}
	day, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, err
	}
	if endOfDay {
		return day.Add(24*time.Hour - time.Nanosecond), nil
	}
	return day, nil
}

func (h *OrderHandlers) orderStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if _, ok := h.begin(w, r, h.orders); !ok {
		return
	}
	stats, err := h.orders.OrderStats(ctx)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "data": newStatsPayload(ctx, stats)})
}

func (h *OrderHandlers) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r, h.orders)
	if !ok {
		return
	}
	order, err := h.orders.GetOrder(ctx, actor, orderIDParam(r))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data":    newOrderPayload(ctx, order, services.ValidTransitions(order.Status)),
	})
}

func (h *OrderHandlers) updateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r, h.orders)
	if !ok {
		return
	}
	var req updateStatusRequest
	if err := decodeJSONBody(w, r, maxJSONBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	cmd := services.TransitionStatusCommand{
		OrderID:         orderIDParam(r),
		Status:          domain.OrderStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		ActorID:         actor.ID,
		Notes:           req.Notes,
		ExpectedVersion: req.ExpectedVersion,
	}
	if req.ShippingInfo != nil {
		cmd.Shipment = &services.ShipmentDetails{TrackingNumber: req.ShippingInfo.TrackingNumber, Carrier: req.ShippingInfo.Carrier}
	}
	order, err := h.orders.TransitionStatus(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeOrderResult(ctx, w, fmt.Sprintf("Order status updated to %s", order.Status), order)
}

func (h *OrderHandlers) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r, h.orders)
	if !ok {
		return
	}
	var req cancelRequest
	if err := decodeOptionalJSONBody(w, r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	order, err := h.orders.CancelOrder(ctx, services.CancelOrderCommand{
		OrderID:         orderIDParam(r),
		Actor:           actor,
		Reason:          req.Reason,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeOrderResult(ctx, w, "Order cancelled", order)
}

func (h *OrderHandlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r, h.payments)
	if !ok {
		return
	}
	var req verifyPaymentRequest
	if err := decodeOptionalJSONBody(w, r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	order, err := h.payments.VerifyPayment(ctx, services.VerifyPaymentCommand{
		OrderID:         orderIDParam(r),
		ActorID:         actor.ID,
		TransactionID:   req.TransactionID,
		Notes:           req.Notes,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeOrderResult(ctx, w, "Payment verified", order)
}

func (h *OrderHandlers) rejectPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r, h.payments)
	if !ok {
		return
	}
	var req rejectPaymentRequest
	if err := decodeOptionalJSONBody(w, r, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	order, err := h.payments.RejectPayment(ctx, services.RejectPaymentCommand{
		OrderID:         orderIDParam(r),
		ActorID:         actor.ID,
		Reason:          req.Reason,
		ExpectedVersion: req.ExpectedVersion,
	})
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeOrderResult(ctx, w, "Payment rejected", order)
}

func (h *OrderHandlers) paymentProof(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r, h.orders)
	if !ok {
		return
	}
	signed, err := h.orders.PaymentProofURL(ctx, actor, orderIDParam(r))
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"data": map[string]any{
			"url":       signed.URL,
			"expiresAt": signed.ExpiresAt.UTC(),
		},
	})
}

func (h *OrderHandlers) updateShipping(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r, h.orders)
	if !ok {
		return
	}
	var req updateShippingRequest
	if err := decodeJSONBody(w, r, maxJSONBodySize, &req); err != nil {
		writeBodyError(ctx, w, err)
		return
	}
	cmd := services.UpdateShippingCommand{
		OrderID:         orderIDParam(r),
		ActorID:         actor.ID,
		Enabled:         req.Enabled,
		Cost:            req.Cost,
		ExpectedVersion: req.ExpectedVersion,
	}
	if req.Address != nil {
		addr := req.Address.toDomain()
		cmd.Address = &addr
	}
	order, err := h.orders.UpdateShipping(ctx, cmd)
	if err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	writeOrderResult(ctx, w, "Shipping updated", order)
}

func (h *OrderHandlers) deleteOrder(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actor, ok := h.begin(w, r, h.orders)
	if !ok {
		return
	}
	if err := h.orders.DeleteOrder(ctx, services.OrderActionCommand{OrderID: orderIDParam(r), ActorID: actor.ID}); err != nil {
		writeServiceError(ctx, w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Order deleted"})
}

func orderIDParam(r *http.Request) string {
	return strings.TrimSpace(chi.URLParam(r, "orderID"))
}

func writeOrderResult(ctx context.Context, w http.ResponseWriter, message string, order domain.Order) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": message,
		"order":   newOrderPayload(ctx, order, services.ValidTransitions(order.Status)),
	})
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body is too large", http.StatusRequestEntityTooLarge))
	case errors.Is(err, errEmptyBody):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "request body is required", http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}
