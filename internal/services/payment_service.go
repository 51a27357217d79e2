package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	domain "github.com/ilakkiyam/api/internal/domain"
	"github.com/ilakkiyam/api/internal/platform/textutil"
	"github.com/ilakkiyam/api/internal/repositories"
)

const maxReasonRunes = 500

// PaymentServiceDeps bundles collaborators required to construct the payment service.
type PaymentServiceDeps struct {
	Orders      repositories.OrderRepository
	Events      OrderEventPublisher
	Meter       metric.Meter
	Clock       func() time.Time
	IDGenerator func() string
	Logger      Logger
	// DefaultShippingCost must match the order service so recomputed totals agree.
	DefaultShippingCost decimal.Decimal
}

type paymentService struct {
	*orderCore
}

var _ PaymentService = (*paymentService)(nil)

// NewPaymentService constructs the staff payment review workflow.
func NewPaymentService(deps PaymentServiceDeps) (PaymentService, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment service: order repository is required")
	}
	core, err := newOrderCore(deps.Orders, deps.Clock, deps.IDGenerator, deps.Events, deps.Logger, deps.Meter, deps.DefaultShippingCost)
	if err != nil {
		return nil, fmt.Errorf("payment service: %w", err)
	}
	return &paymentService{orderCore: core}, nil
}

// VerifyPayment accepts a pending payment. A pending order is confirmed through the transition
// table; an order already in fulfilment keeps its status.
func (s *paymentService) VerifyPayment(ctx context.Context, cmd VerifyPaymentCommand) (Order, error) {
	order, err := s.load(ctx, cmd.OrderID, cmd.ExpectedVersion)
	if err != nil {
		return Order{}, err
	}
	if err := ensurePaymentPending(order); err != nil {
		return Order{}, err
	}
	if order.Status.Terminal() {
		return Order{}, &IllegalTransitionError{
			From:  order.Status,
			To:    domain.OrderStatusConfirmed,
			Valid: ValidTransitions(order.Status),
		}
	}

	actor := strings.TrimSpace(cmd.ActorID)
	now := s.now()
	previous := order.Status
	updated := order.Clone()

	if updated.Status == domain.OrderStatusPending {
		notes := textutil.SanitizePlainText(cmd.Notes, maxHistoryRunes)
		if notes == "" {
			notes = "Payment verified"
		}
		if err := applyStatusTransition(&updated, domain.OrderStatusConfirmed, actor, notes, nil, now); err != nil {
			return Order{}, err
		}
	}

	verifiedAt := now
	updated.Payment.VerificationStatus = domain.VerificationVerified
	updated.Payment.VerifiedBy = actor
	updated.Payment.VerifiedAt = &verifiedAt
	updated.Payment.RejectionReason = ""
	if txID := strings.TrimSpace(cmd.TransactionID); txID != "" {
		updated.Payment.TransactionID = txID
	}

	if err := s.save(ctx, &updated, now); err != nil {
		return Order{}, err
	}

	s.recordOutcome(ctx, domain.VerificationVerified, updated.Payment.Method)
	if previous != updated.Status {
		s.recordTransition(ctx, previous, updated.Status)
	}
	event := statusEvent(updated, previous, actor, now, map[string]any{"transactionId": updated.Payment.TransactionID})
	event.Type = paymentEventVerified
	s.publish(ctx, event)
	return updated, nil
}

// RejectPayment refuses a pending payment and cancels the order through the transition table.
func (s *paymentService) RejectPayment(ctx context.Context, cmd RejectPaymentCommand) (Order, error) {
	reason := textutil.SanitizePlainText(cmd.Reason, maxReasonRunes)
	if reason == "" {
		return Order{}, NewValidationError("reason", "rejection reason is required")
	}

	order, err := s.load(ctx, cmd.OrderID, cmd.ExpectedVersion)
	if err != nil {
		return Order{}, err
	}
	if err := ensurePaymentPending(order); err != nil {
		return Order{}, err
	}

	actor := strings.TrimSpace(cmd.ActorID)
	now := s.now()
	previous := order.Status
	updated := order.Clone()

	if err := applyStatusTransition(&updated, domain.OrderStatusCancelled, actor, "Payment rejected: "+reason, nil, now); err != nil {
		return Order{}, err
	}
	rejectedAt := now
	updated.Payment.VerificationStatus = domain.VerificationRejected
	updated.Payment.VerifiedBy = actor
	updated.Payment.VerifiedAt = &rejectedAt
	updated.Payment.RejectionReason = reason

	if err := s.save(ctx, &updated, now); err != nil {
		return Order{}, err
	}

	s.recordOutcome(ctx, domain.VerificationRejected, updated.Payment.Method)
	s.recordTransition(ctx, previous, updated.Status)
	event := statusEvent(updated, previous, actor, now, map[string]any{"reason": reason})
	event.Type = paymentEventRejected
	s.publish(ctx, event)
	return updated, nil
}

// ensurePaymentPending makes verified and rejected terminal for the payment review.
func ensurePaymentPending(order Order) error {
	if order.Payment.VerificationStatus.Final() {
		return fmt.Errorf("%w: payment for order %s is already %s", ErrPaymentFinalized, order.ID, order.Payment.VerificationStatus)
	}
	return nil
}

func (s *paymentService) recordOutcome(ctx context.Context, outcome domain.VerificationStatus, method domain.PaymentMethod) {
	s.metrics.verifications.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", string(outcome)),
		attribute.String("payment_method", string(method)),
	))
}
