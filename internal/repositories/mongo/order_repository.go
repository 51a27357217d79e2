// Package mongo implements the repository interfaces on MongoDB.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/ilakkiyam/api/internal/domain"
	pmongo "github.com/ilakkiyam/api/internal/platform/mongo"
	"github.com/ilakkiyam/api/internal/repositories"
)

const ordersCollection = "orders"

var orderSortPaths = map[domain.OrderSortField]string{
	domain.OrderSortCreatedAt:   "createdAt",
	domain.OrderSortTotal:       "totals.total",
	domain.OrderSortStatus:      "status",
	domain.OrderSortOrderNumber: "orderNumber",
}

// OrderRepository stores orders in the "orders" collection with _id set to the order ID.
type OrderRepository struct {
	coll *mongo.Collection
}

var _ repositories.OrderRepository = (*OrderRepository)(nil)

// NewOrderRepository constructs a MongoDB-backed order repository.
func NewOrderRepository(client *pmongo.Client) (*OrderRepository, error) {
	if client == nil {
		return nil, errors.New("order repository requires mongo client")
	}
	return &OrderRepository{coll: client.Collection(ordersCollection)}, nil
}

func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if strings.TrimSpace(order.ID) == "" {
		return errors.New("order repository: order id is required")
	}
	if _, err := r.coll.InsertOne(ctx, encodeOrder(order)); err != nil {
		return pmongo.WrapError("orders.insert", err)
	}
	return nil
}

// Update replaces the document only if {_id, version} still matches.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order, expectedVersion int64) error {
	result, err := r.coll.ReplaceOne(ctx, bson.M{"_id": order.ID, "version": expectedVersion}, encodeOrder(order))
	if err != nil {
		return pmongo.WrapError("orders.update", err)
	}
	if result.MatchedCount == 0 {
		return r.missOrConflict(ctx, "orders.update", order.ID,
			fmt.Sprintf("order %s version does not match expected %d", order.ID, expectedVersion))
	}
	return nil
}

func (r *OrderRepository) DeleteIfStatus(ctx context.Context, orderID string, status domain.OrderStatus) error {
	result, err := r.coll.DeleteOne(ctx, bson.M{"_id": orderID, "status": string(status)})
	if err != nil {
		return pmongo.WrapError("orders.delete", err)
	}
	if result.DeletedCount == 0 {
		return r.missOrConflict(ctx, "orders.delete", orderID,
			fmt.Sprintf("order %s is not %s", orderID, status))
	}
	return nil
}

// missOrConflict distinguishes a missing document from a failed precondition after a
// conditional write matched nothing.
func (r *OrderRepository) missOrConflict(ctx context.Context, op, orderID, message string) error {
	count, err := r.coll.CountDocuments(ctx, bson.M{"_id": orderID}, options.Count().SetLimit(1))
	if err != nil {
		return pmongo.WrapError(op, err)
	}
	if count == 0 {
		return pmongo.NotFound(op, fmt.Sprintf("order %s not found", orderID))
	}
	return pmongo.Conflict(op, message)
}

func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	var doc orderDocument
	if err := r.coll.FindOne(ctx, bson.M{"_id": orderID}).Decode(&doc); err != nil {
		return domain.Order{}, pmongo.WrapError("orders.get", err)
	}
	return decodeOrder(doc), nil
}

type summaryRow struct {
	Count  int64                `bson:"count"`
	Amount primitive.Decimal128 `bson:"amount"`
}

// List runs the summary aggregation over the whole match set, then fetches one page.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) (domain.OrderPage, error) {
	match := orderFilter(filter)

	summary := domain.OrderSummary{TotalAmount: decimal.Zero}
	cursor, err := r.coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "amount", Value: bson.D{{Key: "$sum", Value: "$totals.total"}}},
		}}},
	})
	if err != nil {
		return domain.OrderPage{}, pmongo.WrapError("orders.summary", err)
	}
	var rows []summaryRow
	if err := cursor.All(ctx, &rows); err != nil {
		return domain.OrderPage{}, pmongo.WrapError("orders.summary", err)
	}
	if len(rows) > 0 {
		summary.TotalOrders = rows[0].Count
		summary.TotalAmount = fromDecimal128(rows[0].Amount)
	}

	path := orderSortPaths[filter.SortBy]
	if path == "" {
		path = orderSortPaths[domain.OrderSortCreatedAt]
	}
	direction := -1
	if filter.SortOrder == domain.SortAsc {
		direction = 1
	}
	findOpts := options.Find().
		SetSort(bson.D{{Key: path, Value: direction}, {Key: "_id", Value: direction}}).
		SetSkip(int64(filter.Pagination.Skip()))
	if filter.Pagination.Limit > 0 {
		findOpts.SetLimit(int64(filter.Pagination.Limit))
	}

	found, err := r.coll.Find(ctx, match, findOpts)
	if err != nil {
		return domain.OrderPage{}, pmongo.WrapError("orders.list", err)
	}
	var docs []orderDocument
	if err := found.All(ctx, &docs); err != nil {
		return domain.OrderPage{}, pmongo.WrapError("orders.list", err)
	}
	items := make([]domain.Order, 0, len(docs))
	for _, doc := range docs {
		items = append(items, decodeOrder(doc))
	}

	return domain.OrderPage{
		Items:   items,
		Page:    domain.NewPageInfo(filter.Pagination, summary.TotalOrders),
		Summary: summary,
	}, nil
}

type statusRow struct {
	Status string               `bson:"_id"`
	Count  int64                `bson:"count"`
	Amount primitive.Decimal128 `bson:"amount"`
}

// Stats groups orders by status in a single aggregation.
func (r *OrderRepository) Stats(ctx context.Context) (domain.OrderStats, error) {
	cursor, err := r.coll.Aggregate(ctx, mongo.Pipeline{
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: "$status"},
			{Key: "count", Value: bson.D{{Key: "$sum", Value: 1}}},
			{Key: "amount", Value: bson.D{{Key: "$sum", Value: "$totals.total"}}},
		}}},
	})
	if err != nil {
		return domain.OrderStats{}, pmongo.WrapError("orders.stats", err)
	}
	var rows []statusRow
	if err := cursor.All(ctx, &rows); err != nil {
		return domain.OrderStats{}, pmongo.WrapError("orders.stats", err)
	}

	byStatus := make(map[domain.OrderStatus]statusRow, len(rows))
	for _, row := range rows {
		byStatus[domain.OrderStatus(row.Status)] = row
	}
	stats := domain.OrderStats{TotalRevenue: decimal.Zero}
	for _, status := range domain.OrderStatuses {
		row, ok := byStatus[status]
		if !ok || row.Count == 0 {
			continue
		}
		bucket := domain.OrderStatusStat{Status: status, Count: row.Count, TotalAmount: fromDecimal128(row.Amount)}
		stats.ByStatus = append(stats.ByStatus, bucket)
		stats.TotalOrders += bucket.Count
		stats.TotalRevenue = stats.TotalRevenue.Add(bucket.TotalAmount)
	}
	return stats, nil
}

func orderFilter(filter repositories.OrderListFilter) bson.M {
	match := bson.M{}
	if userID := strings.TrimSpace(filter.UserID); userID != "" {
		match["userId"] = userID
	}
	switch len(filter.Statuses) {
	case 0:
	case 1:
		match["status"] = string(filter.Statuses[0])
	default:
		values := make([]string, 0, len(filter.Statuses))
		for _, status := range filter.Statuses {
			values = append(values, string(status))
		}
		match["status"] = bson.M{"$in": values}
	}
	if filter.PaymentMethod != "" {
		match["payment.method"] = string(filter.PaymentMethod)
	}
	if filter.VerificationStatus != "" {
		match["payment.verificationStatus"] = string(filter.VerificationStatus)
	}
	created := bson.M{}
	if filter.DateRange.From != nil {
		created["$gte"] = filter.DateRange.From.UTC()
	}
	if filter.DateRange.To != nil {
		created["$lte"] = filter.DateRange.To.UTC()
	}
	if len(created) > 0 {
		match["createdAt"] = created
	}
	return match
}
