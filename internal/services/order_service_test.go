package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	domain "github.com/ilakkiyam/api/internal/domain"
	"github.com/ilakkiyam/api/internal/repositories"
)

type repoError struct {
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e repoError) Error() string {
	switch {
	case e.notFound:
		return "not found"
	case e.conflict:
		return "conflict"
	default:
		return "unavailable"
	}
}

func (e repoError) IsNotFound() bool    { return e.notFound }
func (e repoError) IsConflict() bool    { return e.conflict }
func (e repoError) IsUnavailable() bool { return e.unavailable }

// memoryOrderRepo applies the same conditional-write rules as the real stores.
type memoryOrderRepo struct {
	mu       sync.Mutex
	orders   map[string]domain.Order
	inserts  int
	updates  int
	insertFn func(domain.Order) error
	updateFn func(domain.Order, int64) error
	lastList repositories.OrderListFilter
}

func newMemoryOrderRepo(orders ...domain.Order) *memoryOrderRepo {
	repo := &memoryOrderRepo{orders: map[string]domain.Order{}}
	for _, o := range orders {
		repo.orders[o.ID] = o.Clone()
	}
	return repo
}

func (r *memoryOrderRepo) Insert(_ context.Context, order domain.Order) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.insertFn != nil {
		if err := r.insertFn(order); err != nil {
			return err
		}
	}
	if _, exists := r.orders[order.ID]; exists {
		return repoError{conflict: true}
	}
	r.inserts++
	r.orders[order.ID] = order.Clone()
	return nil
}

func (r *memoryOrderRepo) Update(_ context.Context, order domain.Order, expectedVersion int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.updateFn != nil {
		if err := r.updateFn(order, expectedVersion); err != nil {
			return err
		}
	}
	current, ok := r.orders[order.ID]
	if !ok {
		return repoError{notFound: true}
	}
	if current.Version != expectedVersion {
		return repoError{conflict: true}
	}
	r.updates++
	r.orders[order.ID] = order.Clone()
	return nil
}

func (r *memoryOrderRepo) DeleteIfStatus(_ context.Context, orderID string, status domain.OrderStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	current, ok := r.orders[orderID]
	if !ok {
		return repoError{notFound: true}
	}
	if current.Status != status {
		return repoError{conflict: true}
	}
	delete(r.orders, orderID)
	return nil
}

func (r *memoryOrderRepo) FindByID(_ context.Context, orderID string) (domain.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, repoError{notFound: true}
	}
	return order.Clone(), nil
}

func (r *memoryOrderRepo) List(_ context.Context, filter repositories.OrderListFilter) (domain.OrderPage, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastList = filter
	var items []domain.Order
	for _, o := range r.orders {
		if filter.UserID != "" && o.UserID != filter.UserID {
			continue
		}
		items = append(items, o.Clone())
	}
	return domain.OrderPage{Items: items, Page: domain.NewPageInfo(filter.Pagination, int64(len(items)))}, nil
}

func (r *memoryOrderRepo) Stats(context.Context) (domain.OrderStats, error) {
	return domain.OrderStats{}, nil
}

func (r *memoryOrderRepo) get(t *testing.T, id string) domain.Order {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	order, ok := r.orders[id]
	if !ok {
		t.Fatalf("order %s not stored", id)
	}
	return order
}

type stubBookRepo struct {
	books map[string]domain.Book
	err   error
}

func (s *stubBookRepo) FindByIDs(_ context.Context, ids []string) (map[string]domain.Book, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := map[string]domain.Book{}
	for _, id := range ids {
		if b, ok := s.books[id]; ok {
			out[id] = b
		}
	}
	return out, nil
}

type captureOrderEvents struct {
	mu     sync.Mutex
	events []domain.OrderEvent
	err    error
}

func (c *captureOrderEvents) PublishOrderEvent(_ context.Context, event domain.OrderEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return c.err
}

type stubProofStorage struct {
	puts    []ProofUpload
	deleted []string
	putErr  error
}

func (s *stubProofStorage) PutProof(_ context.Context, upload ProofUpload) (string, error) {
	if s.putErr != nil {
		return "", s.putErr
	}
	s.puts = append(s.puts, upload)
	return "payment-proofs/" + upload.OrderID + "/" + upload.FileName, nil
}

func (s *stubProofStorage) DeleteProof(_ context.Context, path string) error {
	s.deleted = append(s.deleted, path)
	return nil
}

func (s *stubProofStorage) SignedProofURL(_ context.Context, path string) (SignedURL, error) {
	return SignedURL{URL: "https://storage.example/" + path, ExpiresAt: time.Date(2026, 3, 1, 0, 15, 0, 0, time.UTC)}, nil
}

var testNow = time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)

type orderFixture struct {
	repo     *memoryOrderRepo
	counters *stubCounterRepository
	events   *captureOrderEvents
	proofs   *stubProofStorage
	orders   OrderService
	payments PaymentService
}

func newOrderFixture(t *testing.T, seed ...domain.Order) *orderFixture {
	t.Helper()
	f := &orderFixture{
		repo:     newMemoryOrderRepo(seed...),
		counters: &stubCounterRepository{},
		events:   &captureOrderEvents{},
		proofs:   &stubProofStorage{},
	}
	counterSvc, err := NewCounterService(CounterServiceDeps{Repository: f.counters})
	if err != nil {
		t.Fatalf("counter service: %v", err)
	}
	books := &stubBookRepo{books: map[string]domain.Book{
		"B1": {ID: "B1", Title: "Thirukkural", TitleTa: "திருக்குறள்", Price: decimal.RequireFromString("10.00"), Active: true},
		"B2": {ID: "B2", Title: "Ponniyin Selvan", Price: decimal.RequireFromString("24.50"), Active: true},
		"B3": {ID: "B3", Title: "Out of print", Price: decimal.RequireFromString("5"), Active: false},
	}}
	f.orders, err = NewOrderService(OrderServiceDeps{
		Orders:              f.repo,
		Books:               books,
		Counters:            counterSvc,
		Proofs:              f.proofs,
		Events:              f.events,
		Clock:               func() time.Time { return testNow },
		IDGenerator:         func() string { return "01TEST" },
		DefaultShippingCost: decimal.RequireFromString("3.00"),
		PaymentInstructions: map[domain.PaymentMethod]string{domain.PaymentMethodEpayum: "Transfer via ePayum"},
		BankDetails:         "Indian Bank 1234",
	})
	if err != nil {
		t.Fatalf("order service: %v", err)
	}
	f.payments, err = NewPaymentService(PaymentServiceDeps{
		Orders:              f.repo,
		Events:              f.events,
		Clock:               func() time.Time { return testNow },
		DefaultShippingCost: decimal.RequireFromString("3.00"),
	})
	if err != nil {
		t.Fatalf("payment service: %v", err)
	}
	return f
}

func validCreateCommand() CreateOrderCommand {
	return CreateOrderCommand{
		UserID:        "user-1",
		Customer:      domain.Contact{Name: "Kavya", Email: "kavya@example.com", Phone: "+61 400 000 000"},
		Billing:       domain.Address{Line1: "12 Elm St", City: "Sydney", PostalCode: "2000", Country: "AU"},
		Items:         []OrderItemInput{{BookID: "B1", Quantity: 2}},
		PaymentMethod: domain.PaymentMethodEpayum,
	}
}

func seededOrder(id string, status domain.OrderStatus) domain.Order {
	price := decimal.RequireFromString("10.00")
	return domain.Order{
		ID:     id,
		UserID: "user-1",
		Books:  []domain.OrderLine{{BookID: "B1", Title: "Thirukkural", Quantity: 1, Price: price, Subtotal: price}},
		Payment: domain.Payment{
			Method:             domain.PaymentMethodFBX,
			VerificationStatus: domain.VerificationPending,
		},
		Totals:    domain.OrderTotals{Subtotal: price, ShippingCost: decimal.Zero, Total: price},
		Status:    status,
		Version:   3,
		CreatedAt: testNow.Add(-time.Hour),
	}
}

func TestCreateOrderSnapshotsCatalogAndComputesTotals(t *testing.T) {
	f := newOrderFixture(t)

	order, err := f.orders.CreateOrder(context.Background(), validCreateCommand())
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	if order.ID != "ORD-00001" || order.OrderNumber != 1 {
		t.Fatalf("unexpected id %s/%d", order.ID, order.OrderNumber)
	}
	if !order.Totals.Subtotal.Equal(decimal.RequireFromString("20.00")) ||
		!order.Totals.ShippingCost.IsZero() ||
		!order.Totals.Total.Equal(decimal.RequireFromString("20.00")) {
		t.Fatalf("unexpected totals: %+v", order.Totals)
	}
	if order.Status != domain.OrderStatusPending || order.Payment.VerificationStatus != domain.VerificationPending {
		t.Fatalf("unexpected initial state: %s/%s", order.Status, order.Payment.VerificationStatus)
	}
	if order.Books[0].Title != "Thirukkural" || order.Books[0].TitleTa != "திருக்குறள்" {
		t.Fatalf("expected catalog snapshot, got %+v", order.Books[0])
	}
	if order.Payment.Instructions != "Transfer via ePayum" || order.Payment.BankDetails != "Indian Bank 1234" {
		t.Fatalf("expected payment instructions, got %+v", order.Payment)
	}
	if len(order.StatusHistory) != 0 {
		t.Fatalf("expected empty history at creation, got %d", len(order.StatusHistory))
	}
	if order.Version != 1 || order.OrderType != domain.OrderTypeBuyNow {
		t.Fatalf("unexpected version/type %d/%s", order.Version, order.OrderType)
	}
	stored := f.repo.get(t, "ORD-00001")
	if !stored.Totals.Total.Equal(order.Totals.Total) {
		t.Fatalf("stored total mismatch")
	}
	if len(f.events.events) != 1 || f.events.events[0].Type != orderEventCreated || f.events.events[0].ID != "evt_01TEST" {
		t.Fatalf("expected order.created event, got %+v", f.events.events)
	}
}

func TestCreateOrderShippingSnapshotsDefaultCost(t *testing.T) {
	f := newOrderFixture(t)
	cmd := validCreateCommand()
	cmd.Shipping = ShippingInput{Enabled: true, Address: &domain.Address{Line1: "1 Main Rd", City: "Chennai", PostalCode: "600001", Country: "IN"}}
	cmd.Notes = "<b>Gift</b> wrap please"

	order, err := f.orders.CreateOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if !order.Totals.ShippingCost.Equal(decimal.RequireFromString("3.00")) || !order.Totals.Total.Equal(decimal.RequireFromString("23.00")) {
		t.Fatalf("unexpected totals: %+v", order.Totals)
	}
	if order.Shipping.Cost == nil || !order.Shipping.Cost.Equal(decimal.RequireFromString("3")) {
		t.Fatalf("expected snapshot shipping cost, got %v", order.Shipping.Cost)
	}
	if order.Notes != "Gift wrap please" {
		t.Fatalf("expected sanitized notes, got %q", order.Notes)
	}
}

func TestCreateOrderValidationCollectsFields(t *testing.T) {
	f := newOrderFixture(t)
	cmd := CreateOrderCommand{
		UserID:        "user-1",
		Customer:      domain.Contact{Name: " ", Email: "not-an-email"},
		Items:         []OrderItemInput{{BookID: "B1", Quantity: 0}, {BookID: "B1", Quantity: 101}},
		PaymentMethod: "cash",
		Shipping:      ShippingInput{Enabled: true},
	}

	_, err := f.orders.CreateOrder(context.Background(), cmd)
	var verr *ValidationError
	if !errors.As(err, &verr) || !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected validation error, got %v", err)
	}
	fields := map[string]bool{}
	for _, fe := range verr.Fields {
		fields[fe.Field] = true
	}
	for _, want := range []string{"user.name", "user.email", "user.phone", "billing.line1", "books[0].quantity", "books[1].bookId", "books[1].quantity", "payment.method", "shipping.address"} {
		if !fields[want] {
			t.Errorf("expected field %s in %v", want, verr.Fields)
		}
	}
	if len(f.counters.nextCalls) != 0 {
		t.Fatalf("counter must not be consumed on invalid input")
	}
}

func TestCreateOrderRejectsUnknownAndInactiveBooks(t *testing.T) {
	f := newOrderFixture(t)
	cmd := validCreateCommand()
	cmd.Items = []OrderItemInput{{BookID: "B3", Quantity: 1}, {BookID: "missing", Quantity: 1}}

	_, err := f.orders.CreateOrder(context.Background(), cmd)
	var verr *ValidationError
	if !errors.As(err, &verr) || len(verr.Fields) != 2 {
		t.Fatalf("expected two field errors, got %v", err)
	}
	if verr.Fields[0].Message != "book is not available" || verr.Fields[1].Message != "book not found" {
		t.Fatalf("unexpected messages: %+v", verr.Fields)
	}
}

func TestCreateOrderFailsWhenCounterUnavailable(t *testing.T) {
	f := newOrderFixture(t)
	f.counters.nextFn = func(context.Context, string, int64) (int64, error) {
		return 0, repositories.NewCounterError(repositories.CounterErrorUnavailable, "down", nil)
	}

	_, err := f.orders.CreateOrder(context.Background(), validCreateCommand())
	if !errors.Is(err, ErrOrderUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if f.repo.inserts != 0 {
		t.Fatalf("expected no insert without an order id")
	}
}

func TestCreateOrderUploadsProofAndCompensatesOnInsertFailure(t *testing.T) {
	f := newOrderFixture(t)
	cmd := validCreateCommand()
	cmd.Proof = &ProofUpload{FileName: "receipt.pdf", ContentType: "application/pdf", Size: 4, Body: strings.NewReader("%PDF")}

	order, err := f.orders.CreateOrder(context.Background(), cmd)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	if order.Payment.File != "payment-proofs/ORD-00001/receipt.pdf" {
		t.Fatalf("unexpected proof path %q", order.Payment.File)
	}
	if len(f.proofs.puts) != 1 || f.proofs.puts[0].OrderID != "ORD-00001" {
		t.Fatalf("expected proof upload keyed by order id, got %+v", f.proofs.puts)
	}

	f.repo.insertFn = func(domain.Order) error { return repoError{unavailable: true} }
	cmd.Proof = &ProofUpload{FileName: "receipt.pdf", Body: io.LimitReader(strings.NewReader("data"), 4)}
	if _, err := f.orders.CreateOrder(context.Background(), cmd); !errors.Is(err, ErrOrderUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
	if len(f.proofs.deleted) != 1 || f.proofs.deleted[0] != "payment-proofs/ORD-00002/receipt.pdf" {
		t.Fatalf("expected compensating proof delete, got %+v", f.proofs.deleted)
	}
}

func TestCreateOrderConcurrentCallsGetDistinctIDs(t *testing.T) {
	f := newOrderFixture(t)
	before := f.counters.seq

	var wg sync.WaitGroup
	ids := make([]string, 2)
	for i := range ids {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			order, err := f.orders.CreateOrder(context.Background(), validCreateCommand())
			if err != nil {
				t.Errorf("CreateOrder: %v", err)
				return
			}
			ids[idx] = order.ID
		}(i)
	}
	wg.Wait()

	if ids[0] == ids[1] || ids[0] == "" {
		t.Fatalf("expected distinct ids, got %v", ids)
	}
	if f.counters.seq-before != 2 {
		t.Fatalf("expected sequence to advance by 2, got %d", f.counters.seq-before)
	}
}

func TestUpdateShippingRecomputesTotals(t *testing.T) {
	f := newOrderFixture(t)
	order, err := f.orders.CreateOrder(context.Background(), validCreateCommand())
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	cost := decimal.RequireFromString("5.99")
	updated, err := f.orders.UpdateShipping(context.Background(), UpdateShippingCommand{
		OrderID: order.ID,
		ActorID: "staff-1",
		Enabled: true,
		Address: &domain.Address{Line1: "1 Main Rd", City: "Chennai", PostalCode: "600001", Country: "IN"},
		Cost:    &cost,
	})
	if err != nil {
		t.Fatalf("UpdateShipping: %v", err)
	}
	if !updated.Totals.Total.Equal(decimal.RequireFromString("25.99")) {
		t.Fatalf("expected total 25.99, got %s", updated.Totals.Total)
	}
	if updated.Version != order.Version+1 {
		t.Fatalf("expected version bump, got %d", updated.Version)
	}

	disabled, err := f.orders.UpdateShipping(context.Background(), UpdateShippingCommand{OrderID: order.ID, Enabled: false})
	if err != nil {
		t.Fatalf("UpdateShipping disable: %v", err)
	}
	if !disabled.Totals.ShippingCost.IsZero() || !disabled.Totals.Total.Equal(decimal.RequireFromString("20")) {
		t.Fatalf("expected shipping to cost nothing once disabled, got %+v", disabled.Totals)
	}

	if _, err := f.orders.UpdateShipping(context.Background(), UpdateShippingCommand{OrderID: order.ID, Enabled: true, Cost: &cost}); err != nil {
		t.Fatalf("re-enable with stored address: %v", err)
	}
	negative := decimal.NewFromInt(-1)
	if _, err := f.orders.UpdateShipping(context.Background(), UpdateShippingCommand{OrderID: order.ID, Cost: &negative}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for negative cost, got %v", err)
	}
}

func TestTransitionStatusRejectsSkippingConfirmation(t *testing.T) {
	f := newOrderFixture(t, seededOrder("ORD-00007", domain.OrderStatusPending))

	_, err := f.orders.TransitionStatus(context.Background(), TransitionStatusCommand{
		OrderID: "ORD-00007",
		Status:  domain.OrderStatusProcessing,
		ActorID: "staff-1",
	})
	var illegal *IllegalTransitionError
	if !errors.As(err, &illegal) || !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected illegal transition, got %v", err)
	}
	if len(illegal.Valid) != 2 || illegal.Valid[0] != domain.OrderStatusConfirmed || illegal.Valid[1] != domain.OrderStatusCancelled {
		t.Fatalf("unexpected valid transitions %v", illegal.Valid)
	}
	stored := f.repo.get(t, "ORD-00007")
	if stored.Status != domain.OrderStatusPending || len(stored.StatusHistory) != 0 || f.repo.updates != 0 {
		t.Fatalf("expected order untouched, got %+v", stored)
	}
}

func TestTransitionStatusFullLifecycle(t *testing.T) {
	f := newOrderFixture(t)
	create := validCreateCommand()
	create.Shipping = ShippingInput{Enabled: true, Address: &domain.Address{Line1: "1 Main Rd", City: "Chennai", PostalCode: "600001", Country: "IN"}}
	order, err := f.orders.CreateOrder(context.Background(), create)
	if err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}

	steps := []domain.OrderStatus{
		domain.OrderStatusConfirmed,
		domain.OrderStatusProcessing,
		domain.OrderStatusShipped,
		domain.OrderStatusDelivered,
		domain.OrderStatusRefunded,
	}
	for i, status := range steps {
		cmd := TransitionStatusCommand{OrderID: order.ID, Status: status, ActorID: "staff-1", Notes: fmt.Sprintf("step %d", i+1)}
		if status == domain.OrderStatusShipped {
			cmd.Shipment = &ShipmentDetails{TrackingNumber: " AU123 ", Carrier: "AusPost"}
		}
		order, err = f.orders.TransitionStatus(context.Background(), cmd)
		if err != nil {
			t.Fatalf("transition to %s: %v", status, err)
		}
	}

	if len(order.StatusHistory) != 5 {
		t.Fatalf("expected 5 history entries, got %d", len(order.StatusHistory))
	}
	for i, entry := range order.StatusHistory {
		if entry.Status != steps[i] || entry.UpdatedBy != "staff-1" || !entry.Timestamp.Equal(testNow) {
			t.Fatalf("unexpected history entry %d: %+v", i, entry)
		}
	}
	if order.Shipping.TrackingNumber != "AU123" || order.Shipping.ShippedAt == nil || order.Shipping.DeliveredAt == nil {
		t.Fatalf("expected fulfilment details, got %+v", order.Shipping)
	}
	if order.Shipping.ShippingStatus != domain.ShippingDelivered {
		t.Fatalf("expected shipping status delivered, got %s", order.Shipping.ShippingStatus)
	}
	if order.Version != 6 {
		t.Fatalf("expected version 6 after five updates, got %d", order.Version)
	}
	if !order.Totals.Total.Equal(order.Totals.Subtotal.Add(order.Totals.ShippingCost)) {
		t.Fatalf("totals invariant broken: %+v", order.Totals)
	}
}

func TestTransitionStatusEveryPairFollowsTable(t *testing.T) {
	for _, from := range domain.OrderStatuses {
		for _, to := range domain.OrderStatuses {
			t.Run(fmt.Sprintf("%s_to_%s", from, to), func(t *testing.T) {
				f := newOrderFixture(t, seededOrder("ORD-00001", from))
				order, err := f.orders.TransitionStatus(context.Background(), TransitionStatusCommand{
					OrderID: "ORD-00001",
					Status:  to,
					ActorID: "staff-1",
				})
				stored := f.repo.get(t, "ORD-00001")
				if canTransition(from, to) {
					if err != nil {
						t.Fatalf("expected legal transition, got %v", err)
					}
					if order.Status != to || len(stored.StatusHistory) != 1 || stored.StatusHistory[0].Status != to {
						t.Fatalf("expected one history entry for %s, got %+v", to, stored.StatusHistory)
					}
					return
				}
				var illegal *IllegalTransitionError
				if !errors.As(err, &illegal) {
					t.Fatalf("expected illegal transition, got %v", err)
				}
				if stored.Status != from || len(stored.StatusHistory) != 0 {
					t.Fatalf("expected untouched order, got %s with %d entries", stored.Status, len(stored.StatusHistory))
				}
			})
		}
	}
}

func TestTransitionStatusValidatesInputAndVersion(t *testing.T) {
	f := newOrderFixture(t, seededOrder("ORD-00001", domain.OrderStatusPending))

	if _, err := f.orders.TransitionStatus(context.Background(), TransitionStatusCommand{OrderID: "ORD-00001", Status: "lost"}); !errors.Is(err, ErrOrderInvalidInput) {
		t.Fatalf("expected invalid input for unknown status, got %v", err)
	}
	if _, err := f.orders.TransitionStatus(context.Background(), TransitionStatusCommand{OrderID: "ORD-09999", Status: domain.OrderStatusConfirmed}); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	stale := int64(1)
	if _, err := f.orders.TransitionStatus(context.Background(), TransitionStatusCommand{OrderID: "ORD-00001", Status: domain.OrderStatusConfirmed, ExpectedVersion: &stale}); !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected conflict for stale expected version, got %v", err)
	}

	f.repo.updateFn = func(domain.Order, int64) error { return repoError{conflict: true} }
	if _, err := f.orders.TransitionStatus(context.Background(), TransitionStatusCommand{OrderID: "ORD-00001", Status: domain.OrderStatusConfirmed}); !errors.Is(err, ErrOrderConflict) {
		t.Fatalf("expected conflict from concurrent writer, got %v", err)
	}
	if len(f.events.events) != 0 {
		t.Fatalf("expected no events for failed transitions")
	}
}

func TestConvenienceTransitionsUseTable(t *testing.T) {
	f := newOrderFixture(t, seededOrder("ORD-00001", domain.OrderStatusProcessing))
	ctx := context.Background()

	if _, err := f.orders.RefundOrder(ctx, OrderActionCommand{OrderID: "ORD-00001"}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected refund of processing order to fail, got %v", err)
	}
	shipped, err := f.orders.ShipOrder(ctx, ShipOrderCommand{OrderID: "ORD-00001", ActorID: "staff", Shipment: ShipmentDetails{Carrier: "India Post"}})
	if err != nil || shipped.Status != domain.OrderStatusShipped || shipped.Shipping.Carrier != "India Post" {
		t.Fatalf("ship: %v %+v", err, shipped.Shipping)
	}
	delivered, err := f.orders.DeliverOrder(ctx, OrderActionCommand{OrderID: "ORD-00001"})
	if err != nil || delivered.Status != domain.OrderStatusDelivered {
		t.Fatalf("deliver: %v", err)
	}
	refunded, err := f.orders.RefundOrder(ctx, OrderActionCommand{OrderID: "ORD-00001"})
	if err != nil || refunded.Status != domain.OrderStatusRefunded {
		t.Fatalf("refund: %v", err)
	}
}

func TestCancelOrderOwnershipRules(t *testing.T) {
	f := newOrderFixture(t,
		seededOrder("ORD-00001", domain.OrderStatusPending),
		seededOrder("ORD-00002", domain.OrderStatusProcessing),
	)
	ctx := context.Background()
	owner := Actor{ID: "user-1"}

	if _, err := f.orders.CancelOrder(ctx, CancelOrderCommand{OrderID: "ORD-00001", Actor: Actor{ID: "intruder"}}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := f.orders.CancelOrder(ctx, CancelOrderCommand{OrderID: "ORD-00002", Actor: owner}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected customers blocked after processing, got %v", err)
	}
	cancelled, err := f.orders.CancelOrder(ctx, CancelOrderCommand{OrderID: "ORD-00001", Actor: owner})
	if err != nil {
		t.Fatalf("owner cancel: %v", err)
	}
	if cancelled.Status != domain.OrderStatusCancelled || cancelled.StatusHistory[0].Notes != "Cancelled by customer" {
		t.Fatalf("unexpected cancelled order %+v", cancelled.StatusHistory)
	}
	byStaff, err := f.orders.CancelOrder(ctx, CancelOrderCommand{OrderID: "ORD-00002", Actor: Actor{ID: "staff-1", Staff: true}, Reason: "Out of stock"})
	if err != nil || byStaff.Status != domain.OrderStatusCancelled {
		t.Fatalf("staff cancel: %v", err)
	}
}

func TestGetAndListOrdersEnforceOwnership(t *testing.T) {
	other := seededOrder("ORD-00002", domain.OrderStatusPending)
	other.UserID = "user-2"
	f := newOrderFixture(t, seededOrder("ORD-00001", domain.OrderStatusPending), other)
	ctx := context.Background()

	if _, err := f.orders.GetOrder(ctx, Actor{ID: "user-1"}, "ORD-00002"); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
	if _, err := f.orders.GetOrder(ctx, Actor{ID: "staff", Staff: true}, "ORD-00002"); err != nil {
		t.Fatalf("staff get: %v", err)
	}

	page, err := f.orders.ListOrders(ctx, Actor{ID: "user-1"}, OrderListFilter{})
	if err != nil {
		t.Fatalf("ListOrders: %v", err)
	}
	if f.repo.lastList.UserID != "user-1" || len(page.Items) != 1 {
		t.Fatalf("expected list forced to caller, got filter %+v", f.repo.lastList)
	}
	if f.repo.lastList.Pagination.Page != 1 || f.repo.lastList.Pagination.Limit != 20 ||
		f.repo.lastList.SortBy != domain.OrderSortCreatedAt || f.repo.lastList.SortOrder != domain.SortDesc {
		t.Fatalf("expected defaults, got %+v", f.repo.lastList)
	}
	if _, err := f.orders.ListOrders(ctx, Actor{ID: "user-1"}, OrderListFilter{UserID: "user-2"}); !errors.Is(err, ErrOrderForbidden) {
		t.Fatalf("expected forbidden listing another user, got %v", err)
	}
}

func TestListOrdersValidatesFilter(t *testing.T) {
	f := newOrderFixture(t)
	from := testNow
	to := testNow.Add(-time.Hour)

	_, err := f.orders.ListOrders(context.Background(), Actor{ID: "staff", Staff: true}, OrderListFilter{
		Pagination:    domain.OffsetPagination{Page: -1, Limit: 101},
		SortBy:        "price",
		SortOrder:     "up",
		Statuses:      []domain.OrderStatus{"lost"},
		PaymentMethod: "cash",
		DateRange:     domain.RangeQuery[time.Time]{From: &from, To: &to},
	})
	var verr *ValidationError
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(verr.Fields) != 7 {
		t.Fatalf("expected 7 field errors, got %+v", verr.Fields)
	}
}

func TestListOrdersRejectsOutOfRangePage(t *testing.T) {
	f := newOrderFixture(t)
	for _, page := range []int{100001, 100000000000000000} {
		_, err := f.orders.ListOrders(context.Background(), Actor{ID: "staff", Staff: true}, OrderListFilter{
			Pagination: domain.OffsetPagination{Page: page, Limit: 100},
		})
		var verr *ValidationError
		if !errors.As(err, &verr) {
			t.Fatalf("page %d: expected validation error, got %v", page, err)
		}
		if len(verr.Fields) != 1 || verr.Fields[0].Field != "page" {
			t.Fatalf("page %d: expected a page field error, got %+v", page, verr.Fields)
		}
	}
}

func TestDeleteOrderOnlyWhilePending(t *testing.T) {
	pending := seededOrder("ORD-00001", domain.OrderStatusPending)
	pending.Payment.File = "payment-proofs/ORD-00001/proof.png"
	f := newOrderFixture(t, pending, seededOrder("ORD-00002", domain.OrderStatusConfirmed))
	ctx := context.Background()

	if err := f.orders.DeleteOrder(ctx, OrderActionCommand{OrderID: "ORD-00002"}); !errors.Is(err, ErrOrderInvalidState) {
		t.Fatalf("expected invalid state, got %v", err)
	}
	if err := f.orders.DeleteOrder(ctx, OrderActionCommand{OrderID: "ORD-00001", ActorID: "staff"}); err != nil {
		t.Fatalf("DeleteOrder: %v", err)
	}
	if _, err := f.orders.GetOrder(ctx, Actor{Staff: true}, "ORD-00001"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found after delete, got %v", err)
	}
	if len(f.proofs.deleted) != 1 {
		t.Fatalf("expected proof removal, got %v", f.proofs.deleted)
	}
}

func TestPaymentProofURL(t *testing.T) {
	withProof := seededOrder("ORD-00001", domain.OrderStatusPending)
	withProof.Payment.File = "payment-proofs/ORD-00001/proof.png"
	f := newOrderFixture(t, withProof, seededOrder("ORD-00002", domain.OrderStatusPending))

	url, err := f.orders.PaymentProofURL(context.Background(), Actor{ID: "user-1"}, "ORD-00001")
	if err != nil {
		t.Fatalf("PaymentProofURL: %v", err)
	}
	if !strings.HasSuffix(url.URL, "ORD-00001/proof.png") {
		t.Fatalf("unexpected url %s", url.URL)
	}
	if _, err := f.orders.PaymentProofURL(context.Background(), Actor{ID: "user-1"}, "ORD-00002"); !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected not found without proof, got %v", err)
	}
}

func TestPublishFailureDoesNotFailOperation(t *testing.T) {
	f := newOrderFixture(t)
	f.events.err = errors.New("pubsub down")

	if _, err := f.orders.CreateOrder(context.Background(), validCreateCommand()); err != nil {
		t.Fatalf("expected create to succeed despite publish failure, got %v", err)
	}
}
