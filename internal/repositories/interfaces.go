package repositories

import (
	"context"
	"time"

	"github.com/ilakkiyam/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderRepository persists orders. Mutations are conditional so concurrent writers cannot
// silently overwrite each other.
type OrderRepository interface {
	// Insert stores a new order. Returns a conflict RepositoryError if the ID already exists.
	Insert(ctx context.Context, order domain.Order) error
	// Update replaces the stored order only when its persisted version equals expectedVersion.
	// A version mismatch is reported as a conflict RepositoryError.
	Update(ctx context.Context, order domain.Order, expectedVersion int64) error
	// DeleteIfStatus removes the order only when it currently has the given status.
	DeleteIfStatus(ctx context.Context, orderID string, status domain.OrderStatus) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) (domain.OrderPage, error)
	Stats(ctx context.Context) (domain.OrderStats, error)
}

// OrderListFilter narrows order listings. Zero-valued fields do not filter.
type OrderListFilter struct {
	UserID             string
	Statuses           []domain.OrderStatus
	PaymentMethod      domain.PaymentMethod
	VerificationStatus domain.VerificationStatus
	DateRange          domain.RangeQuery[time.Time]
	Pagination         domain.OffsetPagination
	SortBy             domain.OrderSortField
	SortOrder          domain.SortOrder
}

// BookRepository reads catalog entries used to snapshot line items.
type BookRepository interface {
	// FindByIDs returns the books that exist keyed by ID. Missing IDs are simply absent from the map.
	FindByIDs(ctx context.Context, ids []string) (map[string]domain.Book, error)
}

// CounterRepository provides transaction-safe sequence numbers.
type CounterRepository interface {
	Next(ctx context.Context, counterID string, step int64) (int64, error)
	Configure(ctx context.Context, counterID string, cfg CounterConfig) error
}

// CounterConfig customises increment behaviour and bounds for a counter.
type CounterConfig struct {
	Step         int64
	MaxValue     *int64
	InitialValue *int64
}

// HealthRepository reports dependency readiness.
type HealthRepository interface {
	Collect(ctx context.Context) (domain.SystemHealthReport, error)
}
