package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	firebaseauth "firebase.google.com/go/v4/auth"

	"github.com/ilakkiyam/api/internal/platform/auth"
	"github.com/ilakkiyam/api/internal/services"
)

type stubVerifier struct{}

func (stubVerifier) VerifyIDToken(_ context.Context, token string) (*firebaseauth.Token, error) {
	switch token {
	case "user-token":
		return &firebaseauth.Token{UID: "user-1", Claims: map[string]any{"email": "reader@example.com"}}, nil
	case "staff-token":
		return &firebaseauth.Token{UID: "staff-1", Claims: map[string]any{"role": "staff"}}, nil
	default:
		return nil, errors.New("invalid token")
	}
}

type stubOrderService struct {
	createFn     func(context.Context, services.CreateOrderCommand) (services.Order, error)
	getFn        func(context.Context, services.Actor, string) (services.Order, error)
	listFn       func(context.Context, services.Actor, services.OrderListFilter) (services.OrderPage, error)
	statsFn      func(context.Context) (services.OrderStats, error)
	transitionFn func(context.Context, services.TransitionStatusCommand) (services.Order, error)
	cancelFn     func(context.Context, services.CancelOrderCommand) (services.Order, error)
	shippingFn   func(context.Context, services.UpdateShippingCommand) (services.Order, error)
	deleteFn     func(context.Context, services.OrderActionCommand) error
	proofFn      func(context.Context, services.Actor, string) (services.SignedURL, error)
}

var errNotStubbed = errors.New("not stubbed")

func (s *stubOrderService) CreateOrder(ctx context.Context, cmd services.CreateOrderCommand) (services.Order, error) {
	if s.createFn == nil {
		return services.Order{}, errNotStubbed
	}
	return s.createFn(ctx, cmd)
}

func (s *stubOrderService) GetOrder(ctx context.Context, actor services.Actor, id string) (services.Order, error) {
	if s.getFn == nil {
		return services.Order{}, errNotStubbed
	}
	return s.getFn(ctx, actor, id)
}

func (s *stubOrderService) ListOrders(ctx context.Context, actor services.Actor, filter services.OrderListFilter) (services.OrderPage, error) {
	if s.listFn == nil {
		return services.OrderPage{}, errNotStubbed
	}
	return s.listFn(ctx, actor, filter)
}

func (s *stubOrderService) OrderStats(ctx context.Context) (services.OrderStats, error) {
	if s.statsFn == nil {
		return services.OrderStats{}, errNotStubbed
	}
	return s.statsFn(ctx)
}

func (s *stubOrderService) TransitionStatus(ctx context.Context, cmd services.TransitionStatusCommand) (services.Order, error) {
	if s.transitionFn == nil {
		return services.Order{}, errNotStubbed
	}
	return s.transitionFn(ctx, cmd)
}

func (s *stubOrderService) ShipOrder(context.Context, services.ShipOrderCommand) (services.Order, error) {
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) DeliverOrder(context.Context, services.OrderActionCommand) (services.Order, error) {
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) CancelOrder(ctx context.Context, cmd services.CancelOrderCommand) (services.Order, error) {
	if s.cancelFn == nil {
		return services.Order{}, errNotStubbed
	}
	return s.cancelFn(ctx, cmd)
}

func (s *stubOrderService) RefundOrder(context.Context, services.OrderActionCommand) (services.Order, error) {
	return services.Order{}, errNotStubbed
}

func (s *stubOrderService) UpdateShipping(ctx context.Context, cmd services.UpdateShippingCommand) (services.Order, error) {
	if s.shippingFn == nil {
		return services.Order{}, errNotStubbed
	}
	return s.shippingFn(ctx, cmd)
}

func (s *stubOrderService) DeleteOrder(ctx context.Context, cmd services.OrderActionCommand) error {
	if s.deleteFn == nil {
		return errNotStubbed
	}
	return s.deleteFn(ctx, cmd)
}

func (s *stubOrderService) PaymentProofURL(ctx context.Context, actor services.Actor, id string) (services.SignedURL, error) {
	if s.proofFn == nil {
		return services.SignedURL{}, errNotStubbed
	}
	return s.proofFn(ctx, actor, id)
}

type stubPaymentService struct {
	verifyFn func(context.Context, services.VerifyPaymentCommand) (services.Order, error)
	rejectFn func(context.Context, services.RejectPaymentCommand) (services.Order, error)
}

func (s *stubPaymentService) VerifyPayment(ctx context.Context, cmd services.VerifyPaymentCommand) (services.Order, error) {
	if s.verifyFn == nil {
		return services.Order{}, errNotStubbed
	}
	return s.verifyFn(ctx, cmd)
}

func (s *stubPaymentService) RejectPayment(ctx context.Context, cmd services.RejectPaymentCommand) (services.Order, error) {
	if s.rejectFn == nil {
		return services.Order{}, errNotStubbed
	}
	return s.rejectFn(ctx, cmd)
}

type stubSystemService struct {
	report services.SystemHealthReport
	err    error
}

func (s *stubSystemService) HealthReport(context.Context) (services.SystemHealthReport, error) {
	return s.report, s.err
}

func newOrderRouter(t *testing.T, orders services.OrderService, payments services.PaymentService, opts ...OrderHandlerOption) http.Handler {
	t.Helper()
	h := NewOrderHandlers(auth.NewAuthenticator(stubVerifier{}), orders, payments, opts...)
	return NewRouter(WithOrderRoutes(h.Routes))
}

func do(router http.Handler, req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}
