package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/ilakkiyam/api/internal/domain"
	"github.com/ilakkiyam/api/internal/platform/requestctx"
)

// money renders a decimal as a JSON number with two fraction digits.
func money(d decimal.Decimal) json.Number {
	return json.Number(d.StringFixed(2))
}

type contactPayload struct {
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
}

type addressPayload struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country"`
}

func (a addressPayload) toDomain() domain.Address {
	return domain.Address{
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

func newAddressPayload(a domain.Address) addressPayload {
	return addressPayload{
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

type orderLinePayload struct {
	BookID   string      `json:"bookId"`
	Title    string      `json:"title"`
	TitleTa  string      `json:"titleTa,omitempty"`
	Quantity int         `json:"quantity"`
	Price    json.Number `json:"price"`
	Subtotal json.Number `json:"subtotal"`
}

type paymentPayload struct {
	Method                  domain.PaymentMethod      `json:"method"`
	MethodLabel             string                    `json:"methodLabel"`
	Instructions            string                    `json:"instructions,omitempty"`
	HasProof                bool                      `json:"hasProof"`
	BankDetails             string                    `json:"bankDetails,omitempty"`
	TransactionID           string                    `json:"transactionId,omitempty"`
	VerificationStatus      domain.VerificationStatus `json:"verificationStatus"`
	VerificationStatusLabel string                    `json:"verificationStatusLabel"`
	VerifiedBy              string                    `json:"verifiedBy,omitempty"`
	VerifiedAt              *time.Time                `json:"verifiedAt,omitempty"`
	RejectionReason         string                    `json:"rejectionReason,omitempty"`
}

type shippingPayload struct {
	Enabled        bool                  `json:"enabled"`
	Address        *addressPayload       `json:"address,omitempty"`
	Cost           *json.Number          `json:"cost,omitempty"`
	TrackingNumber string                `json:"trackingNumber,omitempty"`
	Carrier        string                `json:"carrier,omitempty"`
	ShippingStatus domain.ShippingStatus `json:"shippingStatus,omitempty"`
	ShippedAt      *time.Time            `json:"shippedAt,omitempty"`
	DeliveredAt    *time.Time            `json:"deliveredAt,omitempty"`
}

type totalsPayload struct {
	Subtotal     json.Number `json:"subtotal"`
	ShippingCost json.Number `json:"shippingCost"`
	Total        json.Number `json:"total"`
}

type historyPayload struct {
	Status      domain.OrderStatus `json:"status"`
	StatusLabel string             `json:"statusLabel"`
	Timestamp   time.Time          `json:"timestamp"`
	UpdatedBy   string             `json:"updatedBy"`
	Notes       string             `json:"notes,omitempty"`
}

type orderPayload struct {
	OrderID          string               `json:"orderId"`
	OrderNumber      int64                `json:"orderNumber"`
	UserID           string               `json:"userId"`
	User             contactPayload       `json:"user"`
	Billing          addressPayload       `json:"billing"`
	Books            []orderLinePayload   `json:"books"`
	Payment          paymentPayload       `json:"payment"`
	Shipping         shippingPayload      `json:"shipping"`
	Totals           totalsPayload        `json:"totals"`
	Status           domain.OrderStatus   `json:"status"`
	StatusLabel      string               `json:"statusLabel"`
	ValidTransitions []domain.OrderStatus `json:"validTransitions"`
	OrderType        domain.OrderType     `json:"orderType"`
	Notes            string               `json:"notes,omitempty"`
	StatusHistory    []historyPayload     `json:"statusHistory"`
	Version          int64                `json:"version"`
	CreatedAt        time.Time            `json:"createdAt"`
	UpdatedAt        time.Time            `json:"updatedAt"`
}

func newOrderPayload(ctx context.Context, order domain.Order, next []domain.OrderStatus) orderPayload {
	tag := requestctx.Locale(ctx)
	payload := orderPayload{
		OrderID:     order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		User:        contactPayload{Name: order.User.Name, Email: order.User.Email, Phone: order.User.Phone},
		Billing:     newAddressPayload(order.Billing),
		Books:       make([]orderLinePayload, 0, len(order.Books)),
		Payment: paymentPayload{
			Method:                  order.Payment.Method,
			MethodLabel:             domain.PaymentMethodLabel(order.Payment.Method, tag),
			Instructions:            order.Payment.Instructions,
			HasProof:                order.Payment.File != "",
			BankDetails:             order.Payment.BankDetails,
			TransactionID:           order.Payment.TransactionID,
			VerificationStatus:      order.Payment.VerificationStatus,
			VerificationStatusLabel: domain.VerificationLabel(order.Payment.VerificationStatus, tag),
			VerifiedBy:              order.Payment.VerifiedBy,
			VerifiedAt:              order.Payment.VerifiedAt,
			RejectionReason:         order.Payment.RejectionReason,
		},
		Shipping: shippingPayload{
			Enabled:        order.Shipping.Enabled,
			TrackingNumber: order.Shipping.TrackingNumber,
			Carrier:        order.Shipping.Carrier,
			ShippingStatus: order.Shipping.ShippingStatus,
			ShippedAt:      order.Shipping.ShippedAt,
			DeliveredAt:    order.Shipping.DeliveredAt,
		},
		Totals: totalsPayload{
			Subtotal:     money(order.Totals.Subtotal),
			ShippingCost: money(order.Totals.ShippingCost),
			Total:        money(order.Totals.Total),
		},
		Status:           order.Status,
		StatusLabel:      domain.StatusLabel(order.Status, tag),
		ValidTransitions: next,
		OrderType:        order.OrderType,
		Notes:            order.Notes,
		StatusHistory:    make([]historyPayload, 0, len(order.StatusHistory)),
		Version:          order.Version,
		CreatedAt:        order.CreatedAt,
		UpdatedAt:        order.UpdatedAt,
	}
	if payload.ValidTransitions == nil {
		payload.ValidTransitions = []domain.OrderStatus{}
	}
	for _, line := range order.Books {
		payload.Books = append(payload.Books, orderLinePayload{
			BookID:   line.BookID,
			Title:    line.Title,
			TitleTa:  line.TitleTa,
			Quantity: line.Quantity,
			Price:    money(line.Price),
			Subtotal: money(line.Subtotal),
		})
	}
	if order.Shipping.Address != nil {
		addr := newAddressPayload(*order.Shipping.Address)
		payload.Shipping.Address = &addr
	}
	if order.Shipping.Cost != nil {
		cost := money(*order.Shipping.Cost)
		payload.Shipping.Cost = &cost
	}
	for _, entry := range order.StatusHistory {
		payload.StatusHistory = append(payload.StatusHistory, historyPayload{
			Status:      entry.Status,
			StatusLabel: domain.StatusLabel(entry.Status, tag),
			Timestamp:   entry.Timestamp,
			UpdatedBy:   entry.UpdatedBy,
			Notes:       entry.Notes,
		})
	}
	return payload
}

type paginationPayload struct {
	Page        int   `json:"page"`
	Limit       int   `json:"limit"`
	Total       int64 `json:"total"`
	TotalPages  int   `json:"totalPages"`
	HasNextPage bool  `json:"hasNextPage"`
	HasPrevPage bool  `json:"hasPrevPage"`
}

type summaryPayload struct {
	TotalOrders int64       `json:"totalOrders"`
	TotalAmount json.Number `json:"totalAmount"`
}

type statusStatPayload struct {
	Status      domain.OrderStatus `json:"status"`
	Label       string             `json:"label"`
	Count       int64              `json:"count"`
	TotalAmount json.Number        `json:"totalAmount"`
}

type statsPayload struct {
	ByStatus     []statusStatPayload `json:"byStatus"`
	TotalOrders  int64               `json:"totalOrders"`
	TotalRevenue json.Number         `json:"totalRevenue"`
}

func newStatsPayload(ctx context.Context, stats domain.OrderStats) statsPayload {
	tag := requestctx.Locale(ctx)
	payload := statsPayload{
		ByStatus:     make([]statusStatPayload, 0, len(stats.ByStatus)),
		TotalOrders:  stats.TotalOrders,
		TotalRevenue: money(stats.TotalRevenue),
	}
	for _, s := range stats.ByStatus {
		payload.ByStatus = append(payload.ByStatus, statusStatPayload{
			Status:      s.Status,
			Label:       domain.StatusLabel(s.Status, tag),
			Count:       s.Count,
			TotalAmount: money(s.TotalAmount),
		})
	}
	return payload
}
