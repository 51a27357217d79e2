package firestore

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/ilakkiyam/api/internal/domain"
)

type orderDocument struct {
	OrderNumber   int64             `firestore:"orderNumber"`
	UserID        string            `firestore:"userId"`
	User          contactDocument   `firestore:"user"`
	Billing       addressDocument   `firestore:"billing"`
	Books         []lineDocument    `firestore:"books"`
	Payment       paymentDocument   `firestore:"payment"`
	Shipping      shippingDocument  `firestore:"shipping"`
	Totals        totalsDocument    `firestore:"totals"`
	Status        string            `firestore:"status"`
	OrderType     string            `firestore:"orderType"`
	Notes         string            `firestore:"notes,omitempty"`
	StatusHistory []historyDocument `firestore:"statusHistory"`
	Version       int64             `firestore:"version"`
	CreatedAt     time.Time         `firestore:"createdAt"`
	UpdatedAt     time.Time         `firestore:"updatedAt"`
}

type contactDocument struct {
	Name  string `firestore:"name"`
	Email string `firestore:"email"`
	Phone string `firestore:"phone"`
}

type addressDocument struct {
	Line1      string `firestore:"line1"`
	Line2      string `firestore:"line2,omitempty"`
	City       string `firestore:"city"`
	State      string `firestore:"state,omitempty"`
	PostalCode string `firestore:"postalCode"`
	Country    string `firestore:"country"`
}

type lineDocument struct {
	BookID   string  `firestore:"bookId"`
	Title    string  `firestore:"title"`
	TitleTa  string  `firestore:"titleTa,omitempty"`
	Quantity int     `firestore:"quantity"`
	Price    float64 `firestore:"price"`
	Subtotal float64 `firestore:"subtotal"`
}

type paymentDocument struct {
	Method             string     `firestore:"method"`
	Instructions       string     `firestore:"instructions,omitempty"`
	File               string     `firestore:"file,omitempty"`
	BankDetails        string     `firestore:"bankDetails,omitempty"`
	TransactionID      string     `firestore:"transactionId,omitempty"`
	VerificationStatus string     `firestore:"verificationStatus"`
	VerifiedBy         string     `firestore:"verifiedBy,omitempty"`
	VerifiedAt         *time.Time `firestore:"verifiedAt,omitempty"`
	RejectionReason    string     `firestore:"rejectionReason,omitempty"`
}

type shippingDocument struct {
	Enabled        bool             `firestore:"enabled"`
	Address        *addressDocument `firestore:"address,omitempty"`
	Cost           *float64         `firestore:"cost,omitempty"`
	TrackingNumber string           `firestore:"trackingNumber,omitempty"`
	Carrier        string           `firestore:"carrier,omitempty"`
	ShippingStatus string           `firestore:"shippingStatus"`
	ShippedAt      *time.Time       `firestore:"shippedAt,omitempty"`
	DeliveredAt    *time.Time       `firestore:"deliveredAt,omitempty"`
}

type totalsDocument struct {
	Subtotal     float64 `firestore:"subtotal"`
	ShippingCost float64 `firestore:"shippingCost"`
	Total        float64 `firestore:"total"`
}

type historyDocument struct {
	Status    string    `firestore:"status"`
	Timestamp time.Time `firestore:"timestamp"`
	UpdatedBy string    `firestore:"updatedBy,omitempty"`
	Notes     string    `firestore:"notes,omitempty"`
}

func money(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f).Round(2)
}

func amount(d decimal.Decimal) float64 {
	return d.Round(2).InexactFloat64()
}

func encodeAddress(a domain.Address) addressDocument {
	return addressDocument{
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

func decodeAddress(a addressDocument) domain.Address {
	return domain.Address{
		Line1:      a.Line1,
		Line2:      a.Line2,
		City:       a.City,
		State:      a.State,
		PostalCode: a.PostalCode,
		Country:    a.Country,
	}
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		User:        contactDocument{Name: order.User.Name, Email: order.User.Email, Phone: order.User.Phone},
		Billing:     encodeAddress(order.Billing),
		Payment: paymentDocument{
			Method:             string(order.Payment.Method),
			Instructions:       order.Payment.Instructions,
			File:               order.Payment.File,
			BankDetails:        order.Payment.BankDetails,
			TransactionID:      order.Payment.TransactionID,
			VerificationStatus: string(order.Payment.VerificationStatus),
			VerifiedBy:         order.Payment.VerifiedBy,
			VerifiedAt:         order.Payment.VerifiedAt,
			RejectionReason:    order.Payment.RejectionReason,
		},
		Shipping: shippingDocument{
			Enabled:        order.Shipping.Enabled,
			TrackingNumber: order.Shipping.TrackingNumber,
			Carrier:        order.Shipping.Carrier,
			ShippingStatus: string(order.Shipping.ShippingStatus),
			ShippedAt:      order.Shipping.ShippedAt,
			DeliveredAt:    order.Shipping.DeliveredAt,
		},
		Totals: totalsDocument{
			Subtotal:     amount(order.Totals.Subtotal),
			ShippingCost: amount(order.Totals.ShippingCost),
			Total:        amount(order.Totals.Total),
		},
		Status:    string(order.Status),
		OrderType: string(order.OrderType),
		Notes:     order.Notes,
		Version:   order.Version,
		CreatedAt: order.CreatedAt,
		UpdatedAt: order.UpdatedAt,
	}
	if order.Shipping.Address != nil {
		addr := encodeAddress(*order.Shipping.Address)
		doc.Shipping.Address = &addr
	}
	if order.Shipping.Cost != nil {
		cost := amount(*order.Shipping.Cost)
		doc.Shipping.Cost = &cost
	}
	doc.Books = make([]lineDocument, 0, len(order.Books))
	for _, line := range order.Books {
		doc.Books = append(doc.Books, lineDocument{
			BookID:   line.BookID,
			Title:    line.Title,
			TitleTa:  line.TitleTa,
			Quantity: line.Quantity,
			Price:    amount(line.Price),
			Subtotal: amount(line.Subtotal),
		})
	}
	doc.StatusHistory = make([]historyDocument, 0, len(order.StatusHistory))
	for _, entry := range order.StatusHistory {
		doc.StatusHistory = append(doc.StatusHistory, historyDocument{
			Status:    string(entry.Status),
			Timestamp: entry.Timestamp,
			UpdatedBy: entry.UpdatedBy,
			Notes:     entry.Notes,
		})
	}
	return doc
}

func decodeOrder(id string, doc orderDocument) domain.Order {
	order := domain.Order{
		ID:          id,
		OrderNumber: doc.OrderNumber,
		UserID:      doc.UserID,
		User:        domain.Contact{Name: doc.User.Name, Email: doc.User.Email, Phone: doc.User.Phone},
		Billing:     decodeAddress(doc.Billing),
		Payment: domain.Payment{
			Method:             domain.PaymentMethod(doc.Payment.Method),
			Instructions:       doc.Payment.Instructions,
			File:               doc.Payment.File,
			BankDetails:        doc.Payment.BankDetails,
			TransactionID:      doc.Payment.TransactionID,
			VerificationStatus: domain.VerificationStatus(doc.Payment.VerificationStatus),
			VerifiedBy:         doc.Payment.VerifiedBy,
			VerifiedAt:         utcPointer(doc.Payment.VerifiedAt),
			RejectionReason:    doc.Payment.RejectionReason,
		},
		Shipping: domain.Shipping{
			Enabled:        doc.Shipping.Enabled,
			TrackingNumber: doc.Shipping.TrackingNumber,
			Carrier:        doc.Shipping.Carrier,
			ShippingStatus: domain.ShippingStatus(doc.Shipping.ShippingStatus),
			ShippedAt:      utcPointer(doc.Shipping.ShippedAt),
			DeliveredAt:    utcPointer(doc.Shipping.DeliveredAt),
		},
		Totals: domain.OrderTotals{
			Subtotal:     money(doc.Totals.Subtotal),
			ShippingCost: money(doc.Totals.ShippingCost),
			Total:        money(doc.Totals.Total),
		},
		Status:    domain.OrderStatus(doc.Status),
		OrderType: domain.OrderType(doc.OrderType),
		Notes:     doc.Notes,
		Version:   doc.Version,
		CreatedAt: doc.CreatedAt.UTC(),
		UpdatedAt: doc.UpdatedAt.UTC(),
	}
	if doc.Shipping.Address != nil {
		addr := decodeAddress(*doc.Shipping.Address)
		order.Shipping.Address = &addr
	}
	if doc.Shipping.Cost != nil {
		cost := money(*doc.Shipping.Cost)
		order.Shipping.Cost = &cost
	}
	for _, line := range doc.Books {
		order.Books = append(order.Books, domain.OrderLine{
			BookID:   line.BookID,
			Title:    line.Title,
			TitleTa:  line.TitleTa,
			Quantity: line.Quantity,
			Price:    money(line.Price),
			Subtotal: money(line.Subtotal),
		})
	}
	for _, entry := range doc.StatusHistory {
		order.StatusHistory = append(order.StatusHistory, domain.StatusHistoryEntry{
			Status:    domain.OrderStatus(entry.Status),
			Timestamp: entry.Timestamp.UTC(),
			UpdatedBy: entry.UpdatedBy,
			Notes:     entry.Notes,
		})
	}
	return order
}

func utcPointer(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
