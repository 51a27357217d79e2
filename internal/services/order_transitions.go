package services

import (
	"slices"
	"time"

	domain "github.com/ilakkiyam/api/internal/domain"
)

// orderStateTransitions is the only source of allowed status changes. Terminal statuses have no entry.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPending:    {domain.OrderStatusConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusConfirmed:  {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing: {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:    {domain.OrderStatusDelivered, domain.OrderStatusCancelled},
	domain.OrderStatusDelivered:  {domain.OrderStatusRefunded},
}

// ValidTransitions lists the statuses reachable from current in one step.
func ValidTransitions(current domain.OrderStatus) []domain.OrderStatus {
	return slices.Clone(orderStateTransitions[current])
}

func canTransition(current, target domain.OrderStatus) bool {
	return slices.Contains(orderStateTransitions[current], target)
}

// applyStatusTransition moves order to target, appends exactly one history entry and projects the
// new status onto the shipping sub-state. The order is left untouched when the edge is illegal.
func applyStatusTransition(order *domain.Order, target domain.OrderStatus, actor, notes string, shipment *ShipmentDetails, now time.Time) error {
	current := order.Status
	if !canTransition(current, target) {
		return &IllegalTransitionError{From: current, To: target, Valid: ValidTransitions(current)}
	}

	order.Status = target
	order.StatusHistory = append(order.StatusHistory, domain.StatusHistoryEntry{
		Status:    target,
		Timestamp: now,
		UpdatedBy: actor,
		Notes:     notes,
	})

	// Orders without shipping have no fulfilment record to project onto.
	if !order.Shipping.Enabled {
		return nil
	}
	switch target {
	case domain.OrderStatusProcessing:
		order.Shipping.ShippingStatus = domain.ShippingProcessing
	case domain.OrderStatusShipped:
		order.Shipping.ShippingStatus = domain.ShippingShipped
		order.Shipping.ShippedAt = &now
		if shipment != nil {
			if shipment.TrackingNumber != "" {
				order.Shipping.TrackingNumber = shipment.TrackingNumber
			}
			if shipment.Carrier != "" {
				order.Shipping.Carrier = shipment.Carrier
			}
		}
	case domain.OrderStatusDelivered:
		order.Shipping.ShippingStatus = domain.ShippingDelivered
		order.Shipping.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		order.Shipping.ShippingStatus = domain.ShippingCancelled
	}
	return nil
}
