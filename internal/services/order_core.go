package services

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"

	domain "github.com/ilakkiyam/api/internal/domain"
	"github.com/ilakkiyam/api/internal/repositories"
)

const (
	orderEventCreated         = "order.created"
	orderEventStatusChanged   = "order.status.changed"
	orderEventShippingUpdated = "order.shipping.updated"
	orderEventDeleted         = "order.deleted"
	paymentEventVerified      = "payment.verified"
	paymentEventRejected      = "payment.rejected"

	eventIDPrefix = "evt_"
	meterName     = "github.com/ilakkiyam/api/internal/services"
)

// Logger receives structured service events. main wires it to zap.
type Logger func(ctx context.Context, event string, fields map[string]any)

type orderMetrics struct {
	created       metric.Int64Counter
	transitions   metric.Int64Counter
	verifications metric.Int64Counter
}

func newOrderMetrics(meter metric.Meter) (orderMetrics, error) {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter(meterName)
	}
	created, err := meter.Int64Counter("orders.created", metric.WithDescription("Orders placed at checkout"))
	if err != nil {
		return orderMetrics{}, err
	}
	transitions, err := meter.Int64Counter("orders.status_transitions", metric.WithDescription("Applied order status transitions"))
	if err != nil {
		return orderMetrics{}, err
	}
	verifications, err := meter.Int64Counter("payments.verifications", metric.WithDescription("Payment review outcomes"))
	if err != nil {
		return orderMetrics{}, err
	}
	return orderMetrics{created: created, transitions: transitions, verifications: verifications}, nil
}

// orderCore holds the load/mutate/persist/publish cycle shared by the order and payment services.
type orderCore struct {
	orders              repositories.OrderRepository
	clock               func() time.Time
	newID               func() string
	events              OrderEventPublisher
	logger              Logger
	metrics             orderMetrics
	defaultShippingCost decimal.Decimal
}

func newOrderCore(orders repositories.OrderRepository, clock func() time.Time, idGen func() string, events OrderEventPublisher, logger Logger, meter metric.Meter, defaultShipping decimal.Decimal) (*orderCore, error) {
	if clock == nil {
		clock = time.Now
	}
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	metrics, err := newOrderMetrics(meter)
	if err != nil {
		return nil, fmt.Errorf("order metrics: %w", err)
	}
	return &orderCore{
		orders: orders,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:               idGen,
		events:              events,
		logger:              logger,
		metrics:             metrics,
		defaultShippingCost: defaultShipping,
	}, nil
}

func (c *orderCore) now() time.Time {
	return c.clock()
}

// load fetches the order and checks the caller's expected version, if any.
func (c *orderCore) load(ctx context.Context, orderID string, expectedVersion *int64) (Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return Order{}, NewValidationError("orderId", "order id is required")
	}
	order, err := c.orders.FindByID(ctx, orderID)
	if err != nil {
		return Order{}, mapRepositoryError(err)
	}
	if expectedVersion != nil && *expectedVersion != order.Version {
		return Order{}, fmt.Errorf("%w: order %s is at version %d, expected %d", ErrOrderConflict, orderID, order.Version, *expectedVersion)
	}
	return order, nil
}

// save recomputes totals, bumps the version and writes conditionally on the version that was loaded.
func (c *orderCore) save(ctx context.Context, order *Order, now time.Time) error {
	loaded := order.Version
	recomputeTotals(order, c.defaultShippingCost)
	order.Version = loaded + 1
	order.UpdatedAt = now
	if err := c.orders.Update(ctx, *order, loaded); err != nil {
		order.Version = loaded
		return mapRepositoryError(err)
	}
	return nil
}

func (c *orderCore) recordTransition(ctx context.Context, from, to domain.OrderStatus) {
	c.metrics.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(to)),
	))
}

func (c *orderCore) publish(ctx context.Context, event domain.OrderEvent) {
	if c.events == nil {
		return
	}
	if event.ID == "" {
		event.ID = eventIDPrefix + c.newID()
	}
	if event.Metadata != nil {
		event.Metadata = maps.Clone(event.Metadata)
	}
	if err := c.events.PublishOrderEvent(ctx, event); err != nil {
		c.logger(ctx, "order.event.publish.failed", map[string]any{
			"type":   event.Type,
			"order":  event.OrderID,
			"error":  err.Error(),
			"status": string(event.Status),
		})
	}
}

func statusEvent(order Order, previous domain.OrderStatus, actor string, now time.Time, metadata map[string]any) domain.OrderEvent {
	return domain.OrderEvent{
		Type:           orderEventStatusChanged,
		OrderID:        order.ID,
		UserID:         order.UserID,
		Status:         order.Status,
		PreviousStatus: previous,
		ActorID:        actor,
		OccurredAt:     now,
		Metadata:       metadata,
	}
}
