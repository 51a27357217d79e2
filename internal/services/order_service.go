package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/ilakkiyam/api/internal/domain"
	"github.com/ilakkiyam/api/internal/platform/textutil"
	"github.com/ilakkiyam/api/internal/repositories"
)

const (
	maxOrderLines    = 50
	maxLineQuantity  = 100
	maxNotesRunes    = 1000
	maxHistoryRunes  = 500
	defaultPageLimit = 20
	maxPageLimit     = 100
	maxPage          = 100000
)

// customerCancellable lists the statuses from which an owner may cancel their own order.
var customerCancellable = map[domain.OrderStatus]bool{
	domain.OrderStatusPending:   true,
	domain.OrderStatusConfirmed: true,
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders              repositories.OrderRepository
	Books               repositories.BookRepository
	Counters            CounterService
	Proofs              ProofStorage
	Events              OrderEventPublisher
	Meter               metric.Meter
	Clock               func() time.Time
	IDGenerator         func() string
	Logger              Logger
	DefaultShippingCost decimal.Decimal
	// PaymentInstructions maps each payment method to the text shown to the customer.
	PaymentInstructions map[domain.PaymentMethod]string
	BankDetails         string
}

type orderService struct {
	*orderCore
	books        repositories.BookRepository
	counters     CounterService
	proofs       ProofStorage
	instructions map[domain.PaymentMethod]string
	bankDetails  string
}

var _ OrderService = (*orderService)(nil)

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Books == nil {
		return nil, errors.New("order service: book repository is required")
	}
	if deps.Counters == nil {
		return nil, errors.New("order service: counter service is required")
	}
	if deps.DefaultShippingCost.IsNegative() {
		return nil, errors.New("order service: default shipping cost must not be negative")
	}

	core, err := newOrderCore(deps.Orders, deps.Clock, deps.IDGenerator, deps.Events, deps.Logger, deps.Meter, deps.DefaultShippingCost)
	if err != nil {
		return nil, fmt.Errorf("order service: %w", err)
	}

	return &orderService{
		orderCore:    core,
		books:        deps.Books,
		counters:     deps.Counters,
		proofs:       deps.Proofs,
		instructions: deps.PaymentInstructions,
		bankDetails:  deps.BankDetails,
	}, nil
}

func (s *orderService) CreateOrder(ctx context.Context, cmd CreateOrderCommand) (Order, error) {
	cmd, verr := validateCreateOrder(cmd)
	if err := verr.errOrNil(); err != nil {
		return Order{}, err
	}

	lines, err := s.snapshotLines(ctx, cmd.Items)
	if err != nil {
		return Order{}, err
	}

	orderID, seq, err := s.counters.NextOrderID(ctx)
	if err != nil {
		// No fallback ID: checkout fails when the counter cannot allocate.
		return Order{}, fmt.Errorf("%w: allocate order id: %w", ErrOrderUnavailable, err)
	}

	now := s.now()
	order := Order{
		ID:          orderID,
		OrderNumber: seq,
		UserID:      cmd.UserID,
		User:        cmd.Customer,
		Billing:     cmd.Billing,
		Books:       lines,
		Payment: domain.Payment{
			Method:             cmd.PaymentMethod,
			Instructions:       s.instructions[cmd.PaymentMethod],
			BankDetails:        s.bankDetails,
			TransactionID:      cmd.TransactionID,
			VerificationStatus: domain.VerificationPending,
		},
		Shipping: domain.Shipping{
			Enabled:        cmd.Shipping.Enabled,
			Address:        cmd.Shipping.Address,
			ShippingStatus: domain.ShippingPending,
		},
		Status:    domain.OrderStatusPending,
		OrderType: cmd.OrderType,
		Notes:     cmd.Notes,
		Version:   1,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if order.Shipping.Enabled {
		cost := s.defaultShippingCost
		order.Shipping.Cost = &cost
	}
	recomputeTotals(&order, s.defaultShippingCost)

	if cmd.Proof != nil {
		if s.proofs == nil {
			return Order{}, fmt.Errorf("%w: payment proof storage not configured", ErrOrderUnavailable)
		}
		proof := *cmd.Proof
		proof.OrderID = orderID
		path, err := s.proofs.PutProof(ctx, proof)
		if err != nil {
			return Order{}, fmt.Errorf("%w: store payment proof: %w", ErrOrderUnavailable, err)
		}
		order.Payment.File = path
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		if order.Payment.File != "" {
			if cleanupErr := s.proofs.DeleteProof(ctx, order.Payment.File); cleanupErr != nil {
				s.logger(ctx, "order.proof.cleanup.failed", map[string]any{
					"order": orderID,
					"path":  order.Payment.File,
					"error": cleanupErr.Error(),
				})
			}
		}
		return Order{}, mapRepositoryError(err)
	}

	s.metrics.created.Add(ctx, 1, metric.WithAttributes(
		attribute.String("payment_method", string(order.Payment.Method)),
		attribute.String("order_type", string(order.OrderType)),
	))
	s.publish(ctx, domain.OrderEvent{
		Type:       orderEventCreated,
		OrderID:    order.ID,
		UserID:     order.UserID,
		Status:     order.Status,
		ActorID:    cmd.UserID,
		OccurredAt: now,
		Metadata: map[string]any{
			"total":         order.Totals.Total.StringFixed(moneyPlaces),
			"paymentMethod": string(order.Payment.Method),
			"hasProof":      order.Payment.File != "",
		},
	})

	return order, nil
}

func validateCreateOrder(cmd CreateOrderCommand) (CreateOrderCommand, *ValidationError) {
	verr := &ValidationError{}

	cmd.UserID = strings.TrimSpace(cmd.UserID)
	if cmd.UserID == "" {
		verr.add("userId", "user id is required")
	}

	cmd.Customer.Name = strings.TrimSpace(cmd.Customer.Name)
	cmd.Customer.Email = strings.TrimSpace(cmd.Customer.Email)
	cmd.Customer.Phone = strings.TrimSpace(cmd.Customer.Phone)
	if cmd.Customer.Name == "" {
		verr.add("user.name", "name is required")
	}
	if cmd.Customer.Email == "" {
		verr.add("user.email", "email is required")
	} else if addr, err := mail.ParseAddress(cmd.Customer.Email); err != nil || addr.Address != cmd.Customer.Email {
		verr.add("user.email", "email is invalid")
	}
	if cmd.Customer.Phone == "" {
		verr.add("user.phone", "phone is required")
	}

	cmd.Billing = normalizeAddress(cmd.Billing)
	validateAddress(verr, "billing", cmd.Billing)

	switch {
	case len(cmd.Items) == 0:
		verr.add("books", "at least one book is required")
	case len(cmd.Items) > maxOrderLines:
		verr.add("books", fmt.Sprintf("at most %d books per order", maxOrderLines))
	}
	seen := make(map[string]int, len(cmd.Items))
	for i := range cmd.Items {
		item := &cmd.Items[i]
		item.BookID = strings.TrimSpace(item.BookID)
		field := fmt.Sprintf("books[%d]", i)
		if item.BookID == "" {
			verr.add(field+".bookId", "book id is required")
		} else if first, dup := seen[item.BookID]; dup {
			verr.add(field+".bookId", fmt.Sprintf("duplicate of books[%d]", first))
		} else {
			seen[item.BookID] = i
		}
		if item.Quantity < 1 || item.Quantity > maxLineQuantity {
			verr.add(field+".quantity", fmt.Sprintf("quantity must be between 1 and %d", maxLineQuantity))
		}
	}

	if !cmd.PaymentMethod.Valid() {
		verr.add("payment.method", "payment method must be epayum or fbx")
	}
	cmd.TransactionID = strings.TrimSpace(cmd.TransactionID)

	if cmd.OrderType == "" {
		cmd.OrderType = domain.OrderTypeBuyNow
	}
	if !cmd.OrderType.Valid() {
		verr.add("orderType", "order type must be buy_now or cart_checkout")
	}

	if cmd.Shipping.Enabled {
		if cmd.Shipping.Address == nil || cmd.Shipping.Address.IsZero() {
			verr.add("shipping.address", "shipping address is required when shipping is enabled")
		} else {
			addr := normalizeAddress(*cmd.Shipping.Address)
			validateAddress(verr, "shipping.address", addr)
			cmd.Shipping.Address = &addr
		}
	} else {
		cmd.Shipping.Address = nil
	}

	cmd.Notes = textutil.SanitizePlainText(cmd.Notes, maxNotesRunes)
	return cmd, verr
}

func normalizeAddress(a domain.Address) domain.Address {
	return domain.Address{
		Line1:      strings.TrimSpace(a.Line1),
		Line2:      strings.TrimSpace(a.Line2),
		City:       strings.TrimSpace(a.City),
		State:      strings.TrimSpace(a.State),
		PostalCode: strings.TrimSpace(a.PostalCode),
		Country:    strings.TrimSpace(a.Country),
	}
}

func validateAddress(verr *ValidationError, prefix string, a domain.Address) {
	if a.Line1 == "" {
		verr.add(prefix+".line1", "address line is required")
	}
	if a.City == "" {
		verr.add(prefix+".city", "city is required")
	}
	if a.PostalCode == "" {
		verr.add(prefix+".postalCode", "postal code is required")
	}
	if a.Country == "" {
		verr.add(prefix+".country", "country is required")
	}
}

// snapshotLines resolves catalog titles and prices. Prices supplied by clients are never used.
func (s *orderService) snapshotLines(ctx context.Context, items []OrderItemInput) ([]domain.OrderLine, error) {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.BookID)
	}
	books, err := s.books.FindByIDs(ctx, ids)
	if err != nil {
		return nil, mapRepositoryError(err)
	}

	verr := &ValidationError{}
	lines := make([]domain.OrderLine, 0, len(items))
	for i, item := range items {
		book, ok := books[item.BookID]
		field := fmt.Sprintf("books[%d].bookId", i)
		switch {
		case !ok:
			verr.add(field, "book not found")
			continue
		case !book.Active:
			verr.add(field, "book is not available")
			continue
		case book.Price.IsNegative():
			verr.add(field, "book has an invalid price")
			continue
		}
		lines = append(lines, domain.OrderLine{
			BookID:   book.ID,
			Title:    book.Title,
			TitleTa:  book.TitleTa,
			Quantity: item.Quantity,
			Price:    book.Price,
		})
	}
	if err := verr.errOrNil(); err != nil {
		return nil, err
	}
	return lines, nil
}

func (s *orderService) GetOrder(ctx context.Context, actor Actor, orderID string) (Order, error) {
	order, err := s.load(ctx, orderID, nil)
	if err != nil {
		return Order{}, err
	}
	if err := authorizeOwner(actor, order); err != nil {
		return Order{}, err
	}
	return order, nil
}

func authorizeOwner(actor Actor, order Order) error {
	if actor.Staff {
		return nil
	}
	if strings.TrimSpace(actor.ID) == "" || order.UserID != actor.ID {
		return fmt.Errorf("%w: order %s belongs to another user", ErrOrderForbidden, order.ID)
	}
	return nil
}

func (s *orderService) ListOrders(ctx context.Context, actor Actor, filter OrderListFilter) (OrderPage, error) {
	filter, verr := normalizeListFilter(filter)
	if err := verr.errOrNil(); err != nil {
		return OrderPage{}, err
	}
	if !actor.Staff {
		if filter.UserID != "" && filter.UserID != actor.ID {
			return OrderPage{}, fmt.Errorf("%w: cannot list orders of another user", ErrOrderForbidden)
		}
		filter.UserID = actor.ID
	}

	page, err := s.orders.List(ctx, filter)
	if err != nil {
		return OrderPage{}, mapRepositoryError(err)
	}
	return page, nil
}

func normalizeListFilter(filter OrderListFilter) (OrderListFilter, *ValidationError) {
	verr := &ValidationError{}
	filter.UserID = strings.TrimSpace(filter.UserID)

	if filter.Pagination.Page == 0 {
		filter.Pagination.Page = 1
	}
	if filter.Pagination.Page < 1 || filter.Pagination.Page > maxPage {
		verr.add("page", fmt.Sprintf("page must be between 1 and %d", maxPage))
	}
	if filter.Pagination.Limit == 0 {
		filter.Pagination.Limit = defaultPageLimit
	}
	if filter.Pagination.Limit < 1 || filter.Pagination.Limit > maxPageLimit {
		verr.add("limit", fmt.Sprintf("limit must be between 1 and %d", maxPageLimit))
	}

	if filter.SortBy == "" {
		filter.SortBy = domain.OrderSortCreatedAt
	}
	if !filter.SortBy.Valid() {
		verr.add("sortBy", "sortBy must be one of createdAt, total, status, orderNumber")
	}
	switch filter.SortOrder {
	case "":
		filter.SortOrder = domain.SortDesc
	case domain.SortAsc, domain.SortDesc:
	default:
		verr.add("sortOrder", "sortOrder must be asc or desc")
	}

	for _, status := range filter.Statuses {
		if !status.Valid() {
			verr.add("status", fmt.Sprintf("unknown status %q", status))
		}
	}
	if filter.PaymentMethod != "" && !filter.PaymentMethod.Valid() {
		verr.add("paymentMethod", "payment method must be epayum or fbx")
	}
	if filter.VerificationStatus != "" && !filter.VerificationStatus.Valid() {
		verr.add("verificationStatus", "verification status must be pending, verified or rejected")
	}
	if from, to := filter.DateRange.From, filter.DateRange.To; from != nil && to != nil && from.After(*to) {
		verr.add("dateRange", "start date must not be after end date")
	}
	return filter, verr
}

func (s *orderService) OrderStats(ctx context.Context) (OrderStats, error) {
	stats, err := s.orders.Stats(ctx)
	if err != nil {
		return OrderStats{}, mapRepositoryError(err)
	}
	return stats, nil
}

func (s *orderService) TransitionStatus(ctx context.Context, cmd TransitionStatusCommand) (Order, error) {
	target := domain.OrderStatus(strings.TrimSpace(string(cmd.Status)))
	if !target.Valid() {
		return Order{}, NewValidationError("status", fmt.Sprintf("unknown status %q", cmd.Status))
	}

	order, err := s.load(ctx, cmd.OrderID, cmd.ExpectedVersion)
	if err != nil {
		return Order{}, err
	}
	return s.transition(ctx, order, target, strings.TrimSpace(cmd.ActorID), cmd.Notes, cmd.Shipment)
}

func (s *orderService) transition(ctx context.Context, order Order, target domain.OrderStatus, actor, notes string, shipment *ShipmentDetails) (Order, error) {
	now := s.now()
	previous := order.Status
	if shipment != nil {
		shipment = &ShipmentDetails{
			TrackingNumber: strings.TrimSpace(shipment.TrackingNumber),
			Carrier:        strings.TrimSpace(shipment.Carrier),
		}
	}

	updated := order.Clone()
	if err := applyStatusTransition(&updated, target, actor, textutil.SanitizePlainText(notes, maxHistoryRunes), shipment, now); err != nil {
		return Order{}, err
	}
	if err := s.save(ctx, &updated, now); err != nil {
		return Order{}, err
	}

	s.recordTransition(ctx, previous, target)
	metadata := map[string]any{}
	if shipment != nil && shipment.TrackingNumber != "" {
		metadata["trackingNumber"] = shipment.TrackingNumber
	}
	s.publish(ctx, statusEvent(updated, previous, actor, now, metadata))
	return updated, nil
}

func (s *orderService) ShipOrder(ctx context.Context, cmd ShipOrderCommand) (Order, error) {
	shipment := cmd.Shipment
	return s.TransitionStatus(ctx, TransitionStatusCommand{
		OrderID:         cmd.OrderID,
		Status:          domain.OrderStatusShipped,
		ActorID:         cmd.ActorID,
		Notes:           cmd.Notes,
		Shipment:        &shipment,
		ExpectedVersion: cmd.ExpectedVersion,
	})
}

func (s *orderService) DeliverOrder(ctx context.Context, cmd OrderActionCommand) (Order, error) {
	return s.TransitionStatus(ctx, TransitionStatusCommand{
		OrderID:         cmd.OrderID,
		Status:          domain.OrderStatusDelivered,
		ActorID:         cmd.ActorID,
		Notes:           cmd.Notes,
		ExpectedVersion: cmd.ExpectedVersion,
	})
}

func (s *orderService) RefundOrder(ctx context.Context, cmd OrderActionCommand) (Order, error) {
	return s.TransitionStatus(ctx, TransitionStatusCommand{
		OrderID:         cmd.OrderID,
		Status:          domain.OrderStatusRefunded,
		ActorID:         cmd.ActorID,
		Notes:           cmd.Notes,
		ExpectedVersion: cmd.ExpectedVersion,
	})
}

// CancelOrder lets staff cancel along the transition table and owners cancel their own pending or
// confirmed orders.
func (s *orderService) CancelOrder(ctx context.Context, cmd CancelOrderCommand) (Order, error) {
	order, err := s.load(ctx, cmd.OrderID, cmd.ExpectedVersion)
	if err != nil {
		return Order{}, err
	}
	if err := authorizeOwner(cmd.Actor, order); err != nil {
		return Order{}, err
	}
	if !cmd.Actor.Staff && !customerCancellable[order.Status] {
		return Order{}, fmt.Errorf("%w: orders in status %q can only be cancelled by staff", ErrOrderInvalidState, order.Status)
	}

	notes := strings.TrimSpace(cmd.Reason)
	if notes == "" && !cmd.Actor.Staff {
		notes = "Cancelled by customer"
	}
	return s.transition(ctx, order, domain.OrderStatusCancelled, strings.TrimSpace(cmd.Actor.ID), notes, nil)
}

// UpdateShipping changes shipping before the order ships. Totals follow from the new shipping state.
func (s *orderService) UpdateShipping(ctx context.Context, cmd UpdateShippingCommand) (Order, error) {
	if cmd.Cost != nil && cmd.Cost.IsNegative() {
		return Order{}, NewValidationError("cost", "shipping cost must not be negative")
	}

	order, err := s.load(ctx, cmd.OrderID, cmd.ExpectedVersion)
	if err != nil {
		return Order{}, err
	}
	switch order.Status {
	case domain.OrderStatusShipped, domain.OrderStatusDelivered, domain.OrderStatusCancelled, domain.OrderStatusRefunded:
		return Order{}, fmt.Errorf("%w: shipping cannot change once an order is %s", ErrOrderInvalidState, order.Status)
	}

	updated := order.Clone()
	updated.Shipping.Enabled = cmd.Enabled
	if cmd.Address != nil {
		addr := normalizeAddress(*cmd.Address)
		updated.Shipping.Address = &addr
	}
	if cmd.Cost != nil {
		cost := *cmd.Cost
		updated.Shipping.Cost = &cost
	}
	if updated.Shipping.Enabled {
		verr := &ValidationError{}
		if updated.Shipping.Address == nil || updated.Shipping.Address.IsZero() {
			verr.add("address", "shipping address is required when shipping is enabled")
		} else {
			validateAddress(verr, "address", *updated.Shipping.Address)
		}
		if err := verr.errOrNil(); err != nil {
			return Order{}, err
		}
		if updated.Shipping.Cost == nil {
			cost := s.defaultShippingCost
			updated.Shipping.Cost = &cost
		}
	}

	now := s.now()
	if err := s.save(ctx, &updated, now); err != nil {
		return Order{}, err
	}

	actor := strings.TrimSpace(cmd.ActorID)
	s.publish(ctx, domain.OrderEvent{
		Type:       orderEventShippingUpdated,
		OrderID:    updated.ID,
		UserID:     updated.UserID,
		Status:     updated.Status,
		ActorID:    actor,
		OccurredAt: now,
		Metadata: map[string]any{
			"enabled":      updated.Shipping.Enabled,
			"shippingCost": updated.Totals.ShippingCost.StringFixed(moneyPlaces),
			"total":        updated.Totals.Total.StringFixed(moneyPlaces),
		},
	})
	return updated, nil
}

// DeleteOrder removes a pending order and its payment proof.
func (s *orderService) DeleteOrder(ctx context.Context, cmd OrderActionCommand) error {
	order, err := s.load(ctx, cmd.OrderID, cmd.ExpectedVersion)
	if err != nil {
		return err
	}
	if order.Status != domain.OrderStatusPending {
		return fmt.Errorf("%w: only pending orders can be deleted, order is %s", ErrOrderInvalidState, order.Status)
	}
	if err := s.orders.DeleteIfStatus(ctx, order.ID, domain.OrderStatusPending); err != nil {
		return mapRepositoryError(err)
	}

	if order.Payment.File != "" && s.proofs != nil {
		if err := s.proofs.DeleteProof(ctx, order.Payment.File); err != nil {
			s.logger(ctx, "order.proof.cleanup.failed", map[string]any{
				"order": order.ID,
				"path":  order.Payment.File,
				"error": err.Error(),
			})
		}
	}

	s.publish(ctx, domain.OrderEvent{
		Type:           orderEventDeleted,
		OrderID:        order.ID,
		UserID:         order.UserID,
		PreviousStatus: order.Status,
		ActorID:        strings.TrimSpace(cmd.ActorID),
		OccurredAt:     s.now(),
	})
	return nil
}

func (s *orderService) PaymentProofURL(ctx context.Context, actor Actor, orderID string) (SignedURL, error) {
	order, err := s.GetOrder(ctx, actor, orderID)
	if err != nil {
		return SignedURL{}, err
	}
	if order.Payment.File == "" {
		return SignedURL{}, fmt.Errorf("%w: order %s has no payment proof", ErrOrderNotFound, order.ID)
	}
	if s.proofs == nil {
		return SignedURL{}, fmt.Errorf("%w: payment proof storage not configured", ErrOrderUnavailable)
	}
	url, err := s.proofs.SignedProofURL(ctx, order.Payment.File)
	if err != nil {
		return SignedURL{}, fmt.Errorf("%w: sign payment proof url: %w", ErrOrderUnavailable, err)
	}
	return url, nil
}
