package services

import (
	"context"

	"github.com/shopspring/decimal"

	domain "github.com/ilakkiyam/api/internal/domain"
	"github.com/ilakkiyam/api/internal/repositories"
)

// Type aliases expose domain models to the services package without reversing dependency direction.
type (
	Order              = domain.Order
	OrderStatus        = domain.OrderStatus
	OrderPage          = domain.OrderPage
	OrderStats         = domain.OrderStats
	SystemHealthReport = domain.SystemHealthReport
	SignedURL          = domain.SignedURL
	ProofUpload        = domain.ProofUpload
	OrderListFilter    = repositories.OrderListFilter
)

// OrderService owns the order lifecycle: checkout, status workflow, shipping and reporting.
type OrderService interface {
	CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error)
	GetOrder(ctx context.Context, actor Actor, orderID string) (Order, error)
	ListOrders(ctx context.Context, actor Actor, filter OrderListFilter) (OrderPage, error)
	OrderStats(ctx context.Context) (OrderStats, error)
	TransitionStatus(ctx context.Context, cmd TransitionStatusCommand) (Order, error)
	ShipOrder(ctx context.Context, cmd ShipOrderCommand) (Order, error)
	DeliverOrder(ctx context.Context, cmd OrderActionCommand) (Order, error)
	CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error)
	RefundOrder(ctx context.Context, cmd OrderActionCommand) (Order, error)
	UpdateShipping(ctx context.Context, cmd UpdateShippingCommand) (Order, error)
	DeleteOrder(ctx context.Context, cmd OrderActionCommand) error
	PaymentProofURL(ctx context.Context, actor Actor, orderID string) (SignedURL, error)
}

// PaymentService handles staff review of manual payments.
type PaymentService interface {
	VerifyPayment(ctx context.Context, cmd VerifyPaymentCommand) (Order, error)
	RejectPayment(ctx context.Context, cmd RejectPaymentCommand) (Order, error)
}

// CounterService hands out sequence numbers backed by the counter repository.
type CounterService interface {
	Next(ctx context.Context, name string, step int64) (int64, error)
	NextOrderID(ctx context.Context) (string, int64, error)
}

// SystemService aggregates utility endpoints such as health checks.
type SystemService interface {
	HealthReport(ctx context.Context) (SystemHealthReport, error)
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event domain.OrderEvent) error
}

// ProofStorage keeps uploaded payment proofs.
type ProofStorage interface {
	PutProof(ctx context.Context, upload ProofUpload) (string, error)
	DeleteProof(ctx context.Context, objectPath string) error
	SignedProofURL(ctx context.Context, objectPath string) (SignedURL, error)
}

// Actor is the authenticated caller on whose behalf an operation runs.
type Actor struct {
	ID    string
	Staff bool
}

// Command and DTO definitions ------------------------------------------------

type CreateOrderCommand struct {
	UserID        string
	Customer      domain.Contact
	Billing       domain.Address
	Items         []OrderItemInput
	PaymentMethod domain.PaymentMethod
	TransactionID string
	Shipping      ShippingInput
	OrderType     domain.OrderType
	Notes         string
	Proof         *ProofUpload
}

type OrderItemInput struct {
	BookID   string
	Quantity int
}

type ShippingInput struct {
	Enabled bool
	Address *domain.Address
}

// ShipmentDetails carries carrier data recorded when an order ships.
type ShipmentDetails struct {
	TrackingNumber string
	Carrier        string
}

type TransitionStatusCommand struct {
	OrderID         string
	Status          domain.OrderStatus
	ActorID         string
	Notes           string
	Shipment        *ShipmentDetails
	ExpectedVersion *int64
}

type ShipOrderCommand struct {
	OrderID         string
	ActorID         string
	Notes           string
	Shipment        ShipmentDetails
	ExpectedVersion *int64
}

type OrderActionCommand struct {
	OrderID         string
	ActorID         string
	Notes           string
	ExpectedVersion *int64
}

type CancelOrderCommand struct {
	OrderID         string
	Actor           Actor
	Reason          string
	ExpectedVersion *int64
}

type UpdateShippingCommand struct {
	OrderID         string
	ActorID         string
	Enabled         bool
	Address         *domain.Address
	Cost            *decimal.Decimal
	ExpectedVersion *int64
}

type VerifyPaymentCommand struct {
	OrderID         string
	ActorID         string
	TransactionID   string
	Notes           string
	ExpectedVersion *int64
}

type RejectPaymentCommand struct {
	OrderID         string
	ActorID         string
	Reason          string
	ExpectedVersion *int64
}
