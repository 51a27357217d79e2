package mongo

import (
	"time"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ilakkiyam/api/internal/domain"
)

type orderDocument struct {
	ID            string            `bson:"_id"`
	OrderNumber   int64             `bson:"orderNumber"`
	UserID        string            `bson:"userId"`
	User          contactDocument   `bson:"user"`
	Billing       addressDocument   `bson:"billing"`
	Books         []lineDocument    `bson:"books"`
	Payment       paymentDocument   `bson:"payment"`
	Shipping      shippingDocument  `bson:"shipping"`
	Totals        totalsDocument    `bson:"totals"`
	Status        string            `bson:"status"`
	OrderType     string            `bson:"orderType"`
	Notes         string            `bson:"notes,omitempty"`
	StatusHistory []historyDocument `bson:"statusHistory"`
	Version       int64             `bson:"version"`
	CreatedAt     time.Time         `bson:"createdAt"`
	UpdatedAt     time.Time         `bson:"updatedAt"`
}

type contactDocument struct {
	Name  string `bson:"name"`
	Email string `bson:"email"`
	Phone string `bson:"phone"`
}

type addressDocument struct {
	Line1      string `bson:"line1"`
	Line2      string `bson:"line2,omitempty"`
	City       string `bson:"city"`
	State      string `bson:"state,omitempty"`
	PostalCode string `bson:"postalCode"`
	Country    string `bson:"country"`
}

type lineDocument struct {
	BookID   string               `bson:"bookId"`
	Title    string               `bson:"title"`
	TitleTa  string               `bson:"titleTa,omitempty"`
	Quantity int                  `bson:"quantity"`
	Price    primitive.Decimal128 `bson:"price"`
	Subtotal primitive.Decimal128 `bson:"subtotal"`
}

type paymentDocument struct {
	Method             string     `bson:"method"`
	Instructions       string     `bson:"instructions,omitempty"`
	File               string     `bson:"file,omitempty"`
	BankDetails        string     `bson:"bankDetails,omitempty"`
	TransactionID      string     `bson:"transactionId,omitempty"`
	VerificationStatus string     `bson:"verificationStatus"`
	VerifiedBy         string     `bson:"verifiedBy,omitempty"`
	VerifiedAt         *time.Time `bson:"verifiedAt,omitempty"`
	RejectionReason    string     `bson:"rejectionReason,omitempty"`
}

type shippingDocument struct {
	Enabled        bool                  `bson:"enabled"`
	Address        *addressDocument      `bson:"address,omitempty"`
	Cost           *primitive.Decimal128 `bson:"cost,omitempty"`
	TrackingNumber string                `bson:"trackingNumber,omitempty"`
	Carrier        string                `bson:"carrier,omitempty"`
	ShippingStatus string                `bson:"shippingStatus"`
	ShippedAt      *time.Time            `bson:"shippedAt,omitempty"`
	DeliveredAt    *time.Time            `bson:"deliveredAt,omitempty"`
}

type totalsDocument struct {
	Subtotal     primitive.Decimal128 `bson:"subtotal"`
	ShippingCost primitive.Decimal128 `bson:"shippingCost"`
	Total        primitive.Decimal128 `bson:"total"`
}

type historyDocument struct {
	Status    string    `bson:"status"`
	Timestamp time.Time `bson:"timestamp"`
	UpdatedBy string    `bson:"updatedBy,omitempty"`
	Notes     string    `bson:"notes,omitempty"`
}

// toDecimal128 cannot fail for values produced by decimal.Decimal.String.
func toDecimal128(d decimal.Decimal) primitive.Decimal128 {
	v, err := primitive.ParseDecimal128(d.String())
	if err != nil {
		return primitive.NewDecimal128(0, 0)
	}
	return v
}

func fromDecimal128(v primitive.Decimal128) decimal.Decimal {
	d, err := decimal.NewFromString(v.String())
	if err != nil {
		return decimal.Zero
	}
	return d
}

func encodeAddress(a domain.Address) addressDocument {
	return addressDocument(a)
}

func decodeAddress(a addressDocument) domain.Address {
	return domain.Address(a)
}

func encodeOrder(order domain.Order) orderDocument {
	doc := orderDocument{
		ID:          order.ID,
		OrderNumber: order.OrderNumber,
		UserID:      order.UserID,
		User:        contactDocument(order.User),
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
			Subtotal:     toDecimal128(order.Totals.Subtotal),
			ShippingCost: toDecimal128(order.Totals.ShippingCost),
			Total:        toDecimal128(order.Totals.Total),
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
		cost := toDecimal128(*order.Shipping.Cost)
		doc.Shipping.Cost = &cost
	}
	doc.Books = make([]lineDocument, 0, len(order.Books))
	for _, line := range order.Books {
		doc.Books = append(doc.Books, lineDocument{
			BookID:   line.BookID,
			Title:    line.Title,
			TitleTa:  line.TitleTa,
			Quantity: line.Quantity,
			Price:    toDecimal128(line.Price),
			Subtotal: toDecimal128(line.Subtotal),
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

func decodeOrder(doc orderDocument) domain.Order {
	order := domain.Order{
		ID:          doc.ID,
		OrderNumber: doc.OrderNumber,
		UserID:      doc.UserID,
		User:        domain.Contact(doc.User),
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
			Subtotal:     fromDecimal128(doc.Totals.Subtotal),
			ShippingCost: fromDecimal128(doc.Totals.ShippingCost),
			Total:        fromDecimal128(doc.Totals.Total),
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
		cost := fromDecimal128(*doc.Shipping.Cost)
		order.Shipping.Cost = &cost
	}
	for _, line := range doc.Books {
		order.Books = append(order.Books, domain.OrderLine{
			BookID:   line.BookID,
			Title:    line.Title,
			TitleTa:  line.TitleTa,
			Quantity: line.Quantity,
			Price:    fromDecimal128(line.Price),
			Subtotal: fromDecimal128(line.Subtotal),
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
