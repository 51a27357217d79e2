package domain

import (
	"io"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

// SortOrder indicates ascending or descending ordering for list queries.
type SortOrder string

const (
	// SortAsc sorts results in ascending order.
	SortAsc SortOrder = "asc"
	// SortDesc sorts results in descending order.
	SortDesc SortOrder = "desc"
)

// RangeQuery represents inclusive range filters for numeric or timestamp fields.
type RangeQuery[T comparable] struct {
	From *T
	To   *T
}

// OffsetPagination requests a numbered page of results.
type OffsetPagination struct {
	Page  int
	Limit int
}

// Skip returns the number of records preceding the requested page.
func (p OffsetPagination) Skip() int {
	if p.Page <= 1 || p.Limit <= 0 {
		return 0
	}
	if p.Page-1 > math.MaxInt/p.Limit {
		return math.MaxInt
	}
	return (p.Page - 1) * p.Limit
}

// PageInfo summarises an offset-paginated result set.
type PageInfo struct {
	Page        int
	Limit       int
	Total       int64
	TotalPages  int
	HasNextPage bool
	HasPrevPage bool
}

// NewPageInfo derives page metadata from the requested page and the total number of matches.
func NewPageInfo(p OffsetPagination, total int64) PageInfo {
	info := PageInfo{Page: p.Page, Limit: p.Limit, Total: total}
	if info.Page < 1 {
		info.Page = 1
	}
	if info.Limit > 0 {
		info.TotalPages = int((total + int64(info.Limit) - 1) / int64(info.Limit))
	}
	info.HasNextPage = info.Page < info.TotalPages
	info.HasPrevPage = info.Page > 1
	return info
}

// OrderStatus enumerates lifecycle states of an order.
type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusConfirmed  OrderStatus = "confirmed"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
)

// OrderStatuses lists every status in lifecycle order.
var OrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusRefunded,
}

// Valid reports whether the status is part of the known vocabulary.
func (s OrderStatus) Valid() bool {
	for _, candidate := range OrderStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions leave this status.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusCancelled || s == OrderStatusRefunded
}

// OrderType records how the order was placed.
type OrderType string

const (
	OrderTypeBuyNow       OrderType = "buy_now"
	OrderTypeCartCheckout OrderType = "cart_checkout"
)

// Valid reports whether the order type is recognised.
func (t OrderType) Valid() bool {
	return t == OrderTypeBuyNow || t == OrderTypeCartCheckout
}

// PaymentMethod enumerates the manual payment channels the store accepts.
type PaymentMethod string

const (
	// PaymentMethodEpayum is an electronic transfer confirmed by an uploaded receipt.
	PaymentMethodEpayum PaymentMethod = "epayum"
	// PaymentMethodFBX is a direct bank deposit.
	PaymentMethodFBX PaymentMethod = "fbx"
)

// Valid reports whether the payment method is supported.
func (m PaymentMethod) Valid() bool {
	return m == PaymentMethodEpayum || m == PaymentMethodFBX
}

// VerificationStatus tracks staff review of a payment.
type VerificationStatus string

const (
	VerificationPending  VerificationStatus = "pending"
	VerificationVerified VerificationStatus = "verified"
	VerificationRejected VerificationStatus = "rejected"
)

// Valid reports whether the verification status is recognised.
func (v VerificationStatus) Valid() bool {
	switch v {
	case VerificationPending, VerificationVerified, VerificationRejected:
		return true
	default:
		return false
	}
}

// Final reports whether the payment review has concluded.
func (v VerificationStatus) Final() bool {
	return v == VerificationVerified || v == VerificationRejected
}

// ShippingStatus is the fulfilment projection of the order status.
type ShippingStatus string

const (
	ShippingPending    ShippingStatus = "pending"
	ShippingProcessing ShippingStatus = "processing"
	ShippingShipped    ShippingStatus = "shipped"
	ShippingDelivered  ShippingStatus = "delivered"
	ShippingCancelled  ShippingStatus = "cancelled"
)

// Contact is a snapshot of the customer's contact details at checkout.
type Contact struct {
	Name  string
	Email string
	Phone string
}

// Address captures a postal address.
type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// IsZero reports whether no address field is populated.
func (a Address) IsZero() bool {
	return a == Address{}
}

// OrderLine is one book entry with title and price snapshots taken at checkout.
type OrderLine struct {
	BookID   string
	Title    string
	TitleTa  string
	Quantity int
	Price    decimal.Decimal
	Subtotal decimal.Decimal
}

// Payment records how the order is paid and the staff review outcome.
type Payment struct {
	Method             PaymentMethod
	Instructions       string
	File               string
	BankDetails        string
	TransactionID      string
	VerificationStatus VerificationStatus
	VerifiedBy         string
	VerifiedAt         *time.Time
	RejectionReason    string
}

// Shipping holds delivery details. Cost is nil when the default shipping charge applies.
type Shipping struct {
	Enabled        bool
	Address        *Address
	Cost           *decimal.Decimal
	TrackingNumber string
	Carrier        string
	ShippingStatus ShippingStatus
	ShippedAt      *time.Time
	DeliveredAt    *time.Time
}

// OrderTotals holds the derived monetary rollups.
type OrderTotals struct {
	Subtotal     decimal.Decimal
	ShippingCost decimal.Decimal
	Total        decimal.Decimal
}

// StatusHistoryEntry is one append-only audit record of a status change.
type StatusHistoryEntry struct {
	Status    OrderStatus
	Timestamp time.Time
	UpdatedBy string
	Notes     string
}

// Order is a customer purchase and its fulfilment state.
type Order struct {
	ID            string
	OrderNumber   int64
	UserID        string
	User          Contact
	Billing       Address
	Books         []OrderLine
	Payment       Payment
	Shipping      Shipping
	Totals        OrderTotals
	Status        OrderStatus
	OrderType     OrderType
	Notes         string
	StatusHistory []StatusHistoryEntry
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Clone returns a deep copy so callers can mutate without aliasing persisted state.
func (o Order) Clone() Order {
	out := o
	if len(o.Books) > 0 {
		out.Books = append([]OrderLine(nil), o.Books...)
	}
	if len(o.StatusHistory) > 0 {
		out.StatusHistory = append([]StatusHistoryEntry(nil), o.StatusHistory...)
	}
	out.Payment.VerifiedAt = cloneTime(o.Payment.VerifiedAt)
	if o.Shipping.Address != nil {
		addr := *o.Shipping.Address
		out.Shipping.Address = &addr
	}
	if o.Shipping.Cost != nil {
		cost := *o.Shipping.Cost
		out.Shipping.Cost = &cost
	}
	out.Shipping.ShippedAt = cloneTime(o.Shipping.ShippedAt)
	out.Shipping.DeliveredAt = cloneTime(o.Shipping.DeliveredAt)
	return out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Book is the catalog entry used to snapshot titles and prices at checkout.
type Book struct {
	ID      string
	Title   string
	TitleTa string
	Price   decimal.Decimal
	Active  bool
}

// OrderSortField names the supported list sort keys.
type OrderSortField string

const (
	OrderSortCreatedAt   OrderSortField = "createdAt"
	OrderSortTotal       OrderSortField = "total"
	OrderSortStatus      OrderSortField = "status"
	OrderSortOrderNumber OrderSortField = "orderNumber"
)

// Valid reports whether the sort field is supported.
func (f OrderSortField) Valid() bool {
	switch f {
	case OrderSortCreatedAt, OrderSortTotal, OrderSortStatus, OrderSortOrderNumber:
		return true
	default:
		return false
	}
}

// OrderSummary aggregates the filtered set behind a listing.
type OrderSummary struct {
	TotalOrders int64
	TotalAmount decimal.Decimal
}

// OrderPage is one page of orders along with paging metadata.
type OrderPage struct {
	Items   []Order
	Page    PageInfo
	Summary OrderSummary
}

// OrderStatusStat is the aggregate for a single status bucket.
type OrderStatusStat struct {
	Status      OrderStatus
	Count       int64
	TotalAmount decimal.Decimal
}

// OrderStats reports order counts and revenue grouped by status.
type OrderStats struct {
	ByStatus     []OrderStatusStat
	TotalOrders  int64
	TotalRevenue decimal.Decimal
}

// OrderEvent is emitted after an order mutation is persisted.
type OrderEvent struct {
	ID             string
	Type           string
	OrderID        string
	UserID         string
	Status         OrderStatus
	PreviousStatus OrderStatus
	ActorID        string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// HealthStatus is the outcome of a readiness probe.
type HealthStatus string

const (
	HealthStatusOK       HealthStatus = "ok"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusError    HealthStatus = "error"
)

// SystemHealthCheck is the result of one dependency probe.
type SystemHealthCheck struct {
	Status    HealthStatus
	Detail    string
	Error     string
	Latency   time.Duration
	CheckedAt time.Time
}

// SystemHealthReport aggregates dependency probes.
type SystemHealthReport struct {
	Status      HealthStatus
	Checks      map[string]SystemHealthCheck
	Version     string
	CommitSHA   string
	Environment string
	Uptime      time.Duration
	GeneratedAt time.Time
}

// SignedURL is a time-limited download link for a stored object.
type SignedURL struct {
	URL       string
	ExpiresAt time.Time
}

// ProofUpload is a payment proof file attached to checkout.
type ProofUpload struct {
	OrderID     string
	FileName    string
	ContentType string
	Size        int64
	Body        io.Reader
}
