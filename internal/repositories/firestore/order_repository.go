package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"github.com/shopspring/decimal"
	"google.golang.org/api/iterator"

	"github.com/ilakkiyam/api/internal/domain"
	pfirestore "github.com/ilakkiyam/api/internal/platform/firestore"
	"github.com/ilakkiyam/api/internal/repositories"
)

const ordersCollection = "orders"

var orderSortPaths = map[domain.OrderSortField]string{
	domain.OrderSortCreatedAt:   "createdAt",
	domain.OrderSortTotal:       "totals.total",
	domain.OrderSortStatus:      "status",
	domain.OrderSortOrderNumber: "orderNumber",
}

// OrderRepository persists orders in the Firestore "orders" collection keyed by order ID.
type OrderRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a Firestore-backed order repository.
func NewOrderRepository(provider *pfirestore.Provider) (*OrderRepository, error) {
	if provider == nil {
		return nil, errors.New("order repository requires firestore provider")
	}
	return &OrderRepository{provider: provider}, nil
}

func (r *OrderRepository) collection(ctx context.Context) (*firestore.CollectionRef, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, pfirestore.WrapError("orders.client", err)
	}
	return client.Collection(ordersCollection), nil
}

// Insert creates the order document. Firestore rejects duplicates with AlreadyExists.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	if _, err := coll.Doc(order.ID).Create(ctx, encodeOrder(order)); err != nil {
		return pfirestore.WrapError("orders.insert", err)
	}
	return nil
}

// Update replaces the order when the stored version still equals expectedVersion.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order, expectedVersion int64) error {
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	ref := coll.Doc(order.ID)
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		current, err := r.readInTx(tx, ref)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return pfirestore.Conflict("orders.update", fmt.Sprintf("order %s version %d does not match expected %d", order.ID, current.Version, expectedVersion))
		}
		return tx.Set(ref, encodeOrder(order))
	}, pfirestore.WithTxName("orders.update"))
}

// DeleteIfStatus deletes the order only when its stored status still equals status.
func (r *OrderRepository) DeleteIfStatus(ctx context.Context, orderID string, status domain.OrderStatus) error {
	coll, err := r.collection(ctx)
	if err != nil {
		return err
	}
	ref := coll.Doc(orderID)
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		current, err := r.readInTx(tx, ref)
		if err != nil {
			return err
		}
		if domain.OrderStatus(current.Status) != status {
			return pfirestore.Conflict("orders.delete", fmt.Sprintf("order %s is %s, not %s", orderID, current.Status, status))
		}
		return tx.Delete(ref)
	}, pfirestore.WithTxName("orders.delete"))
}

func (r *OrderRepository) readInTx(tx *firestore.Transaction, ref *firestore.DocumentRef) (orderDocument, error) {
	snapshot, err := tx.Get(ref)
	if err != nil {
		return orderDocument{}, pfirestore.WrapError("orders.get", err)
	}
	var doc orderDocument
	if err := snapshot.DataTo(&doc); err != nil {
		return orderDocument{}, fmt.Errorf("firestore orders decode %s: %w", ref.ID, err)
	}
	return doc, nil
}

// FindByID loads a single order.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if strings.TrimSpace(orderID) == "" {
		return domain.Order{}, pfirestore.NotFound("orders.get", "order id is required")
	}
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.Order{}, err
	}
	snapshot, err := coll.Doc(orderID).Get(ctx)
	if err != nil {
		return domain.Order{}, pfirestore.WrapError("orders.get", err)
	}
	var doc orderDocument
	if err := snapshot.DataTo(&doc); err != nil {
		return domain.Order{}, fmt.Errorf("firestore orders decode %s: %w", orderID, err)
	}
	return decodeOrder(snapshot.Ref.ID, doc), nil
}

// List returns one offset page of matching orders plus count and revenue over the full match set.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.OrderPage, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.OrderPage{}, err
	}
	base := applyOrderFilters(coll.Query, filter)

	aggregates, err := base.NewAggregationQuery().
		WithCount("total").
		WithSum("totals.total", "amount").
		Get(ctx)
	if err != nil {
		return domain.OrderPage{}, pfirestore.WrapError("orders.count", err)
	}
	total, err := pfirestore.AggregateInt(aggregates, "total")
	if err != nil {
		return domain.OrderPage{}, err
	}
	amountSum, err := pfirestore.AggregateFloat(aggregates, "amount")
	if err != nil {
		return domain.OrderPage{}, err
	}

	path := orderSortPaths[filter.SortBy]
	if path == "" {
		path = orderSortPaths[domain.OrderSortCreatedAt]
	}
	direction := firestore.Desc
	if filter.SortOrder == domain.SortAsc {
		direction = firestore.Asc
	}
	query := base.OrderBy(path, direction).Offset(filter.Pagination.Skip())
	if filter.Pagination.Limit > 0 {
		query = query.Limit(filter.Pagination.Limit)
	}

	iter := query.Documents(ctx)
	defer iter.Stop()

	var items []domain.Order
	for {
		snapshot, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return domain.OrderPage{}, pfirestore.WrapError("orders.list", err)
		}
		var doc orderDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return domain.OrderPage{}, fmt.Errorf("firestore orders decode %s: %w", snapshot.Ref.ID, err)
		}
		items = append(items, decodeOrder(snapshot.Ref.ID, doc))
	}

	return domain.OrderPage{
		Items: items,
		Page:  domain.NewPageInfo(filter.Pagination, total),
		Summary: domain.OrderSummary{
			TotalOrders: total,
			TotalAmount: money(amountSum),
		},
	}, nil
}

// Stats aggregates count and revenue per status. Firestore has no group-by, so each status
// bucket is its own aggregation query.
func (r *OrderRepository) Stats(ctx context.Context) (domain.OrderStats, error) {
	coll, err := r.collection(ctx)
	if err != nil {
		return domain.OrderStats{}, err
	}

	stats := domain.OrderStats{TotalRevenue: decimal.Zero}
	for _, status := range domain.OrderStatuses {
		q := coll.Where("status", "==", string(status))
		result, err := q.NewAggregationQuery().
			WithCount("count").
			WithSum("totals.total", "amount").
			Get(ctx)
		if err != nil {
			return domain.OrderStats{}, pfirestore.WrapError("orders.stats", err)
		}
		count, err := pfirestore.AggregateInt(result, "count")
		if err != nil {
			return domain.OrderStats{}, err
		}
		if count == 0 {
			continue
		}
		sum, err := pfirestore.AggregateFloat(result, "amount")
		if err != nil {
			return domain.OrderStats{}, err
		}
		bucket := domain.OrderStatusStat{Status: status, Count: count, TotalAmount: money(sum)}
		stats.ByStatus = append(stats.ByStatus, bucket)
		stats.TotalOrders += count
		stats.TotalRevenue = stats.TotalRevenue.Add(bucket.TotalAmount)
	}
	return stats, nil
}

func applyOrderFilters(query firestore.Query, filter repositories.OrderListFilter) firestore.Query {
	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		query = query.Where("userId", "==", userID)
	}
	switch len(filter.Statuses) {
	case 0:
	case 1:
		query = query.Where("status", "==", string(filter.Statuses[0]))
	default:
		values := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			values = append(values, string(status))
		}
		query = query.Where("status", "in", values)
	}
	if filter.PaymentMethod != "" {
		query = query.Where("payment.method", "==", string(filter.PaymentMethod))
	}
	if filter.VerificationStatus != "" {
		query = query.Where("payment.verificationStatus", "==", string(filter.VerificationStatus))
	}
	if filter.DateRange.From != nil {
		query = query.Where("createdAt", ">=", filter.DateRange.From.UTC())
	}
	if filter.DateRange.To != nil {
		query = query.Where("createdAt", "<=", filter.DateRange.To.UTC())
	}
	return query
}
