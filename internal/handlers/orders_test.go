package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domain "github.com/ilakkiyam/api/internal/domain"
	"github.com/ilakkiyam/api/internal/platform/idempotency"
	"github.com/ilakkiyam/api/internal/services"
)

var handlerNow = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

func sampleOrder(status domain.OrderStatus) domain.Order {
	return domain.Order{
		ID:          "ORD-00001",
		OrderNumber: 1,
		UserID:      "user-1",
		User:        domain.Contact{Name: "Kavya", Email: "kavya@example.com", Phone: "+94 77 000 0000"},
		Billing:     domain.Address{Line1: "12 Temple Rd", City: "Jaffna", PostalCode: "40000", Country: "LK"},
		Books: []domain.OrderLine{{
			BookID: "B1", Title: "Thirukkural", Quantity: 2,
			Price: decimal.RequireFromString("10.00"), Subtotal: decimal.RequireFromString("20.00"),
		}},
		Payment: domain.Payment{Method: domain.PaymentMethodFBX, VerificationStatus: domain.VerificationPending},
		Totals: domain.OrderTotals{
			Subtotal:     decimal.RequireFromString("20"),
			ShippingCost: decimal.Zero,
			Total:        decimal.RequireFromString("20"),
		},
		Status:    status,
		OrderType: domain.OrderTypeBuyNow,
		Version:   1,
		CreatedAt: handlerNow,
		UpdatedAt: handlerNow,
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body), rec.Body.String())
	return body
}

func jsonRequest(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

const checkoutJSON = `{
	"customer": {"name": "Kavya", "email": "kavya@example.com", "phone": "+94 77 000 0000"},
	"billing": {"line1": "12 Temple Rd", "city": "Jaffna", "postalCode": "40000", "country": "LK"},
	"items": [{"bookId": "B1", "quantity": 2}],
	"paymentMethod": "FBX",
	"orderType": "buy_now",
	"totals": {"total": 1}
}`

func TestCreateOrderJSON(t *testing.T) {
	var got services.CreateOrderCommand
	orders := &stubOrderService{createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
		got = cmd
		return sampleOrder(domain.OrderStatusPending), nil
	}}
	router := newOrderRouter(t, orders, nil)

	rec := do(router, jsonRequest(http.MethodPost, "/api/v1/orders", checkoutJSON), "user-token")

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "/api/v1/orders/ORD-00001", rec.Header().Get("Location"))
	assert.Equal(t, "user-1", got.UserID)
	assert.Equal(t, domain.PaymentMethodFBX, got.PaymentMethod)
	assert.Equal(t, []services.OrderItemInput{{BookID: "B1", Quantity: 2}}, got.Items)
	assert.Nil(t, got.Proof)

	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	data := body["data"].(map[string]any)
	assert.Equal(t, "ORD-00001", data["orderId"])
	assert.Equal(t, 20.0, data["totals"].(map[string]any)["total"])
	assert.Equal(t, []any{"confirmed", "cancelled"}, data["validTransitions"])
	assert.Equal(t, "Pending", data["statusLabel"])
}

func multipartCheckout(t *testing.T, fields map[string]string, proof []byte, proofType string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if proof != nil {
		header := textproto.MIMEHeader{}
		header.Set("Content-Disposition", `form-data; name="paymentProof"; filename="receipt.png"`)
		header.Set("Content-Type", proofType)
		part, err := mw.CreatePart(header)
		require.NoError(t, err)
		_, err = part.Write(proof)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	req := httptest.NewRequest(http.MethodPost, "/api/v1/orders", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

var pngBytes = append([]byte("\x89PNG\r\n\x1a\n"), bytes.Repeat([]byte{0}, 32)...)

func TestCreateOrderMultipartFlatItemsAndProof(t *testing.T) {
	var (
		got       services.CreateOrderCommand
		proofBody []byte
	)
	orders := &stubOrderService{createFn: func(_ context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
		got = cmd
		if cmd.Proof != nil {
			proofBody, _ = io.ReadAll(cmd.Proof.Body)
		}
		return sampleOrder(domain.OrderStatusPending), nil
	}}
	router := newOrderRouter(t, orders, nil)

	req := multipartCheckout(t, map[string]string{
		"customer":          `{"name":"Kavya","email":"kavya@example.com","phone":"1"}`,
		"billing":           `{"line1":"12 Temple Rd","city":"Jaffna","postalCode":"40000","country":"LK"}`,
		"shipping":          `{"enabled":true,"address":{"line1":"1 Main St","city":"Colombo","postalCode":"00100","country":"LK"}}`,
		"items[1][bookId]":  "B2",
		"items[1][quantity]": "1",
		"items[0][bookId]":  "B1",
		"items[0][quantity]": "2",
		"paymentMethod":     "epayum",
		"transactionId":     "TX-1",
	}, pngBytes, "image/png")
	rec := do(router, req, "user-token")

	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, []services.OrderItemInput{{BookID: "B1", Quantity: 2}, {BookID: "B2", Quantity: 1}}, got.Items)
	assert.True(t, got.Shipping.Enabled)
	require.NotNil(t, got.Shipping.Address)
	assert.Equal(t, "Colombo", got.Shipping.Address.City)
	require.NotNil(t, got.Proof)
	assert.Equal(t, "image/png", got.Proof.ContentType)
	assert.Equal(t, "receipt.png", got.Proof.FileName)
	assert.Equal(t, int64(len(pngBytes)), got.Proof.Size)
	assert.Equal(t, pngBytes, proofBody)
}

func TestCreateOrderMultipartRejectsBadInputBeforeService(t *testing.T) {
	orders := &stubOrderService{createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
		t.Fatal("service must not be called")
		return services.Order{}, nil
	}}
	router := newOrderRouter(t, orders, nil, WithMaxUploadBytes(1024))

	t.Run("proof type", func(t *testing.T) {
		req := multipartCheckout(t, map[string]string{"items": `[{"bookId":"B1","quantity":1}]`}, []byte("plain words"), "text/plain")
		rec := do(router, req, "user-token")
		require.Equal(t, http.StatusBadRequest, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "validation_failed", body["error"])
		fields := body["fields"].([]any)
		assert.Equal(t, "paymentProof", fields[0].(map[string]any)["field"])
	})

	t.Run("bad json field and quantity", func(t *testing.T) {
		req := multipartCheckout(t, map[string]string{"customer": "{", "items[0][quantity]": "two"}, nil, "")
		rec := do(router, req, "user-token")
		require.Equal(t, http.StatusBadRequest, rec.Code)
		fields := decodeBody(t, rec)["fields"].([]any)
		assert.Len(t, fields, 2)
	})

	t.Run("item index out of range", func(t *testing.T) {
		req := multipartCheckout(t, map[string]string{
			"items[0][bookId]":                    "B1",
			"items[0][quantity]":                  "1",
			"items[99999999999999999999][bookId]": "B2",
		}, nil, "")
		rec := do(router, req, "user-token")
		require.Equal(t, http.StatusBadRequest, rec.Code)
		fields := decodeBody(t, rec)["fields"].([]any)
		require.Len(t, fields, 1)
		assert.Equal(t, "items[99999999999999999999][bookId]", fields[0].(map[string]any)["field"])
	})

	t.Run("proof too large", func(t *testing.T) {
		req := multipartCheckout(t, map[string]string{}, bytes.Repeat([]byte("a"), 2048), "image/png")
		rec := do(router, req, "user-token")
		require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	})
}

func TestCreateOrderValidationErrorListsFields(t *testing.T) {
	orders := &stubOrderService{createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
		return services.Order{}, &services.ValidationError{Fields: []services.FieldError{
			{Field: "customer.email", Message: "email is invalid"},
			{Field: "items", Message: "at least one item is required"},
		}}
	}}
	router := newOrderRouter(t, orders, nil)

	rec := do(router, jsonRequest(http.MethodPost, "/api/v1/orders", `{}`), "user-token")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "request validation failed", body["message"])
	assert.Len(t, body["fields"], 2)
}

func TestCreateOrderRateLimited(t *testing.T) {
	orders := &stubOrderService{createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
		return sampleOrder(domain.OrderStatusPending), nil
	}}
	router := newOrderRouter(t, orders, nil, WithCheckoutRateLimit(1, func() time.Time { return handlerNow }))

	first := do(router, jsonRequest(http.MethodPost, "/api/v1/orders", checkoutJSON), "user-token")
	second := do(router, jsonRequest(http.MethodPost, "/api/v1/orders", checkoutJSON), "user-token")
	other := do(router, jsonRequest(http.MethodPost, "/api/v1/orders", checkoutJSON), "staff-token")

	assert.Equal(t, http.StatusCreated, first.Code)
	require.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.Equal(t, "60", second.Header().Get("Retry-After"))
	assert.Equal(t, http.StatusCreated, other.Code)
}

func TestCreateOrderRateLimitedRetryWithSameKeySucceeds(t *testing.T) {
	calls := 0
	orders := &stubOrderService{createFn: func(context.Context, services.CreateOrderCommand) (services.Order, error) {
		calls++
		return sampleOrder(domain.OrderStatusPending), nil
	}}
	now := handlerNow
	clock := func() time.Time { return now }
	router := newOrderRouter(t, orders, nil,
		WithCheckoutRateLimit(1, clock),
		WithCheckoutMiddlewares(idempotency.Guard(idempotency.NewMemoryStore(), idempotency.WithClock(clock))))
	checkout := func(key string) *httptest.ResponseRecorder {
		req := jsonRequest(http.MethodPost, "/api/v1/orders", checkoutJSON)
		req.Header.Set(idempotency.DefaultHeader, key)
		return do(router, req, "user-token")
	}

	require.Equal(t, http.StatusCreated, checkout("a").Code)
	require.Equal(t, http.StatusTooManyRequests, checkout("b").Code)
	now = now.Add(2 * time.Minute)
	retry := checkout("b")

	assert.Equal(t, http.StatusCreated, retry.Code)
	assert.Empty(t, retry.Header().Get(idempotency.ReplayHeader))
	assert.Equal(t, 2, calls)
}

func TestOrderRoutesRequireAuthentication(t *testing.T) {
	router := newOrderRouter(t, &stubOrderService{}, nil)

	rec := do(router, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil), "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = do(router, httptest.NewRequest(http.MethodGet, "/api/v1/orders", nil), "forged")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestStaffOnlyRoutesRejectCustomers(t *testing.T) {
	router := newOrderRouter(t, &stubOrderService{}, &stubPaymentService{})
	routes := []struct{ method, path string }{
		{http.MethodGet, "/api/v1/orders/stats"},
		{http.MethodPost, "/api/v1/orders/ORD-00001/status"},
		{http.MethodPost, "/api/v1/orders/ORD-00001/payment/verify"},
		{http.MethodPost, "/api/v1/orders/ORD-00001/payment/reject"},
		{http.MethodPut, "/api/v1/orders/ORD-00001/shipping"},
		{http.MethodDelete, "/api/v1/orders/ORD-00001"},
	}
	for _, route := range routes {
		t.Run(route.method+" "+route.path, func(t *testing.T) {
			rec := do(router, jsonRequest(route.method, route.path, `{}`), "user-token")
			assert.Equal(t, http.StatusForbidden, rec.Code)
		})
	}
}

func TestUpdateStatusIllegalTransition(t *testing.T) {
	orders := &stubOrderService{transitionFn: func(_ context.Context, cmd services.TransitionStatusCommand) (services.Order, error) {
		assert.Equal(t, domain.OrderStatusProcessing, cmd.Status)
		return services.Order{}, &services.IllegalTransitionError{
			From:  domain.OrderStatusPending,
			To:    domain.OrderStatusProcessing,
			Valid: []domain.OrderStatus{domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
		}
	}}
	router := newOrderRouter(t, orders, nil)

	rec := do(router, jsonRequest(http.MethodPost, "/api/v1/orders/ORD-00001/status", `{"status":"Processing"}`), "staff-token")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "illegal_transition", body["error"])
	assert.Equal(t, "cannot change order status from pending to processing", body["message"])
	assert.Equal(t, []any{"confirmed", "cancelled"}, body["validTransitions"])
}

func TestUpdateStatusShipsWithTracking(t *testing.T) {
	var got services.TransitionStatusCommand
	orders := &stubOrderService{transitionFn: func(_ context.Context, cmd services.TransitionStatusCommand) (services.Order, error) {
		got = cmd
		return sampleOrder(domain.OrderStatusShipped), nil
	}}
	router := newOrderRouter(t, orders, nil)

	rec := do(router, jsonRequest(http.MethodPost, "/api/v1/orders/ORD-00001/status",
		`{"status":"shipped","notes":"left depot","shippingInfo":{"trackingNumber":"LK123","carrier":"SL Post"},"expectedVersion":4}`), "staff-token")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "ORD-00001", got.OrderID)
	assert.Equal(t, "staff-1", got.ActorID)
	require.NotNil(t, got.Shipment)
	assert.Equal(t, "LK123", got.Shipment.TrackingNumber)
	require.NotNil(t, got.ExpectedVersion)
	assert.Equal(t, int64(4), *got.ExpectedVersion)
	body := decodeBody(t, rec)
	assert.Equal(t, "Order status updated to shipped", body["message"])
	assert.Equal(t, "shipped", body["order"].(map[string]any)["status"])
}

func TestServiceErrorMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{name: "not found", err: fmt.Errorf("%w: ORD-9", services.ErrOrderNotFound), status: http.StatusNotFound, code: "order_not_found"},
		{name: "forbidden", err: services.ErrOrderForbidden, status: http.StatusForbidden, code: "forbidden"},
		{name: "conflict", err: fmt.Errorf("%w: version", services.ErrOrderConflict), status: http.StatusConflict, code: "order_conflict"},
		{name: "finalized", err: services.ErrPaymentFinalized, status: http.StatusBadRequest, code: "payment_finalized"},
		{name: "invalid state", err: services.ErrOrderInvalidState, status: http.StatusBadRequest, code: "invalid_state"},
		{name: "unavailable", err: fmt.Errorf("%w: db down", services.ErrOrderUnavailable), status: http.StatusServiceUnavailable, code: "dependency_unavailable"},
		{name: "unexpected", err: errors.New("db down"), status: http.StatusInternalServerError},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			orders := &stubOrderService{getFn: func(context.Context, services.Actor, string) (services.Order, error) {
				return services.Order{}, tc.err
			}}
			rec := do(newOrderRouter(t, orders, nil), httptest.NewRequest(http.MethodGet, "/api/v1/orders/ORD-9", nil), "user-token")

			require.Equal(t, tc.status, rec.Code)
			body := decodeBody(t, rec)
			if tc.status == http.StatusInternalServerError {
				assert.Equal(t, "internal server error", body["message"])
				assert.NotContains(t, rec.Body.String(), "db down")
				return
			}
			assert.Equal(t, tc.code, body["error"])
			assert.NotContains(t, rec.Body.String(), "db down")
		})
	}
}

func TestGetOrderPassesActorAndLocalisesLabels(t *testing.T) {
	var gotActor services.Actor
	orders := &stubOrderService{getFn: func(_ context.Context, actor services.Actor, id string) (services.Order, error) {
		gotActor = actor
		assert.Equal(t, "ORD-00001", id)
		return sampleOrder(domain.OrderStatusPending), nil
	}}
	router := newOrderRouter(t, orders, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/orders/ORD-00001", nil)
	req.Header.Set("Accept-Language", "ta-LK, en;q=0.5")
	rec := do(router, req, "staff-token")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, services.Actor{ID: "staff-1", Staff: true}, gotActor)
	assert.Equal(t, "ta", rec.Header().Get("Content-Language"))
	data := decodeBody(t, rec)["data"].(map[string]any)
	assert.Equal(t, "நிலுவையில்", data["statusLabel"])
	assert.Equal(t, "வங்கி வைப்பு", data["payment"].(map[string]any)["methodLabel"])
}

func TestListOrdersParsesFilters(t *testing.T) {
	var (
		gotActor  services.Actor
		gotFilter services.OrderListFilter
	)
	orders := &stubOrderService{listFn: func(_ context.Context, actor services.Actor, filter services.OrderListFilter) (services.OrderPage, error) {
		gotActor, gotFilter = actor, filter
		return services.OrderPage{
			Items:   []domain.Order{sampleOrder(domain.OrderStatusConfirmed)},
			Page:    domain.NewPageInfo(domain.OffsetPagination{Page: 2, Limit: 10}, 11),
			Summary: domain.OrderSummary{TotalOrders: 11, TotalAmount: decimal.RequireFromString("220")},
		}, nil
	}}
	router := newOrderRouter(t, orders, nil)

	rec := do(router, httptest.NewRequest(http.MethodGet,
		"/api/v1/orders?status=pending,Confirmed&paymentMethod=fbx&page=2&limit=10&sortBy=-total&dateFrom=2026-02-01&dateTo=2026-02-28", nil), "user-token")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, services.Actor{ID: "user-1"}, gotActor)
	assert.Equal(t, []domain.OrderStatus{domain.OrderStatusPending, domain.OrderStatusConfirmed}, gotFilter.Statuses)
	assert.Equal(t, domain.PaymentMethodFBX, gotFilter.PaymentMethod)
	assert.Equal(t, domain.OffsetPagination{Page: 2, Limit: 10}, gotFilter.Pagination)
	assert.Equal(t, domain.OrderSortTotal, gotFilter.SortBy)
	assert.Equal(t, domain.SortDesc, gotFilter.SortOrder)
	require.NotNil(t, gotFilter.DateRange.From)
	require.NotNil(t, gotFilter.DateRange.To)
	assert.Equal(t, time.Date(2026, 2, 28, 23, 59, 59, 999999999, time.UTC), *gotFilter.DateRange.To)

	body := decodeBody(t, rec)
	pagination := body["pagination"].(map[string]any)
	assert.Equal(t, 2.0, pagination["totalPages"])
	assert.Equal(t, false, pagination["hasNextPage"])
	assert.Equal(t, true, pagination["hasPrevPage"])
	assert.Equal(t, 220.0, body["summary"].(map[string]any)["totalAmount"])
	assert.Len(t, body["data"], 1)
}

func TestListOrdersRejectsMalformedQuery(t *testing.T) {
	orders := &stubOrderService{listFn: func(context.Context, services.Actor, services.OrderListFilter) (services.OrderPage, error) {
		t.Fatal("service must not be called")
		return services.OrderPage{}, nil
	}}
	rec := do(newOrderRouter(t, orders, nil), httptest.NewRequest(http.MethodGet, "/api/v1/orders?page=x&dateFrom=yesterday", nil), "user-token")

	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Len(t, decodeBody(t, rec)["fields"], 2)
}

func TestOrderStats(t *testing.T) {
	orders := &stubOrderService{statsFn: func(context.Context) (services.OrderStats, error) {
		return domain.OrderStats{
			ByStatus: []domain.OrderStatusStat{
				{Status: domain.OrderStatusPending, Count: 2, TotalAmount: decimal.RequireFromString("30.5")},
				{Status: domain.OrderStatusDelivered, Count: 1, TotalAmount: decimal.RequireFromString("12")},
			},
			TotalOrders:  3,
			TotalRevenue: decimal.RequireFromString("42.5"),
		}, nil
	}}
	rec := do(newOrderRouter(t, orders, nil), httptest.NewRequest(http.MethodGet, "/api/v1/orders/stats", nil), "staff-token")

	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]any)
	assert.Equal(t, 3.0, data["totalOrders"])
	assert.Equal(t, 42.5, data["totalRevenue"])
	assert.Len(t, data["byStatus"], 2)
}

func TestCancelOrderWithoutBody(t *testing.T) {
	var got services.CancelOrderCommand
	orders := &stubOrderService{cancelFn: func(_ context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
		got = cmd
		return sampleOrder(domain.OrderStatusCancelled), nil
	}}
	rec := do(newOrderRouter(t, orders, nil), httptest.NewRequest(http.MethodPost, "/api/v1/orders/ORD-00001/cancel", nil), "user-token")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, services.Actor{ID: "user-1"}, got.Actor)
	order := decodeBody(t, rec)["order"].(map[string]any)
	assert.Equal(t, []any{}, order["validTransitions"])
}

func TestPaymentReviewRoutes(t *testing.T) {
	var (
		verified services.VerifyPaymentCommand
		rejected services.RejectPaymentCommand
	)
	payments := &stubPaymentService{
		verifyFn: func(_ context.Context, cmd services.VerifyPaymentCommand) (services.Order, error) {
			verified = cmd
			return sampleOrder(domain.OrderStatusConfirmed), nil
		},
		rejectFn: func(_ context.Context, cmd services.RejectPaymentCommand) (services.Order, error) {
			rejected = cmd
			return services.Order{}, services.ErrPaymentFinalized
		},
	}
	router := newOrderRouter(t, &stubOrderService{}, payments)

	rec := do(router, jsonRequest(http.MethodPost, "/api/v1/orders/ORD-00001/payment/verify", `{"transactionId":"TX-9"}`), "staff-token")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Payment verified", decodeBody(t, rec)["message"])
	assert.Equal(t, "TX-9", verified.TransactionID)
	assert.Equal(t, "staff-1", verified.ActorID)

	rec = do(router, jsonRequest(http.MethodPost, "/api/v1/orders/ORD-00001/payment/reject", `{"reason":"blurry receipt"}`), "staff-token")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "payment_finalized", decodeBody(t, rec)["error"])
	assert.Equal(t, "blurry receipt", rejected.Reason)
}

func TestPaymentRoutesWithoutService(t *testing.T) {
	rec := do(newOrderRouter(t, &stubOrderService{}, nil), jsonRequest(http.MethodPost, "/api/v1/orders/ORD-00001/payment/verify", `{}`), "staff-token")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestUpdateShippingParsesCost(t *testing.T) {
	var got services.UpdateShippingCommand
	orders := &stubOrderService{shippingFn: func(_ context.Context, cmd services.UpdateShippingCommand) (services.Order, error) {
		got = cmd
		return sampleOrder(domain.OrderStatusConfirmed), nil
	}}
	router := newOrderRouter(t, orders, nil)

	rec := do(router, jsonRequest(http.MethodPut, "/api/v1/orders/ORD-00001/shipping",
		`{"enabled":true,"cost":"25.99","address":{"line1":"1 Main St","city":"Colombo","postalCode":"00100","country":"LK"}}`), "staff-token")

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, got.Cost)
	assert.True(t, got.Cost.Equal(decimal.RequireFromString("25.99")))
	require.NotNil(t, got.Address)
	assert.Equal(t, "Colombo", got.Address.City)

	rec = do(router, jsonRequest(http.MethodPut, "/api/v1/orders/ORD-00001/shipping", `{"enabled":`), "staff-token")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteOrder(t *testing.T) {
	orders := &stubOrderService{deleteFn: func(_ context.Context, cmd services.OrderActionCommand) error {
		if cmd.OrderID == "ORD-00002" {
			return &services.IllegalTransitionError{From: domain.OrderStatusConfirmed}
		}
		return nil
	}}
	router := newOrderRouter(t, orders, nil)

	rec := do(router, httptest.NewRequest(http.MethodDelete, "/api/v1/orders/ORD-00001", nil), "staff-token")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Order deleted", decodeBody(t, rec)["message"])

	rec = do(router, httptest.NewRequest(http.MethodDelete, "/api/v1/orders/ORD-00002", nil), "staff-token")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentProofURL(t *testing.T) {
	expires := handlerNow.Add(5 * time.Minute)
	orders := &stubOrderService{proofFn: func(_ context.Context, actor services.Actor, id string) (services.SignedURL, error) {
		if actor.ID != "user-1" {
			return services.SignedURL{}, errors.New("unexpected actor")
		}
		return services.SignedURL{URL: "https://storage.googleapis.com/proofs/x?X-Goog-Signature=abc", ExpiresAt: expires}, nil
	}}
	rec := do(newOrderRouter(t, orders, nil), httptest.NewRequest(http.MethodGet, "/api/v1/orders/ORD-00001/payment/proof", nil), "user-token")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
	data := decodeBody(t, rec)["data"].(map[string]any)
	assert.Contains(t, data["url"], "X-Goog-Signature")
	assert.Equal(t, expires.Format(time.RFC3339), data["expiresAt"])
}
