package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	pfirestore "github.com/ilakkiyam/api/internal/platform/firestore"
	"github.com/ilakkiyam/api/internal/repositories"
)

const countersCollection = "counters"

// counterDocument mirrors {_id: <name>, seq: <int>}; the document ID is the counter name.
type counterDocument struct {
	Seq       int64     `firestore:"seq"`
	Step      int64     `firestore:"step,omitempty"`
	MaxValue  *int64    `firestore:"maxValue,omitempty"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

// CounterRepository implements repositories.CounterRepository backed by Firestore transactions.
type CounterRepository struct {
	provider *pfirestore.Provider
	clock    func() time.Time
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

// NewCounterRepository constructs a Firestore-backed counter repository.
func NewCounterRepository(provider *pfirestore.Provider) (*CounterRepository, error) {
	if provider == nil {
		return nil, errors.New("counter repository requires firestore provider")
	}
	return &CounterRepository{
		provider: provider,
		clock:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Next atomically increments the counter and returns the new sequence value. The read and the
// write happen in one transaction, so concurrent callers never observe the same value.
func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, fmt.Sprintf("step must be positive, got %d", step), nil)
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return 0, repositories.NewCounterError(repositories.CounterErrorUnavailable, "counter store unavailable", err)
	}
	ref := client.Collection(countersCollection).Doc(id)

	var next int64
	err = r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		now := r.clock()
		snapshot, err := tx.Get(ref)
		if status.Code(err) == codes.NotFound {
			increment := step
			if increment <= 0 {
				increment = 1
			}
			next = increment
			return tx.Create(ref, counterDocument{Seq: increment, UpdatedAt: now})
		}
		if err != nil {
			return err
		}

		var doc counterDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return fmt.Errorf("firestore counters decode %s: %w", id, err)
		}
		increment := step
		if increment <= 0 {
			increment = max(doc.Step, 1)
		}
		value := doc.Seq + increment
		if doc.MaxValue != nil && value > *doc.MaxValue {
			return repositories.NewCounterError(repositories.CounterErrorExhausted, fmt.Sprintf("counter %s exceeded max value %d", id, *doc.MaxValue), nil)
		}
		next = value
		return tx.Update(ref, []firestore.Update{
			{Path: "seq", Value: value},
			{Path: "updatedAt", Value: now},
		})
	}, pfirestore.WithTxName("counters.next"))
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) {
			return 0, counterErr
		}
		wrapped := pfirestore.WrapError("counters.next", err)
		var repoErr *pfirestore.Error
		if errors.As(wrapped, &repoErr) && repoErr.IsUnavailable() {
			return 0, repositories.NewCounterError(repositories.CounterErrorUnavailable, "counter store unavailable", wrapped)
		}
		return 0, wrapped
	}
	return next, nil
}

// Configure seeds or adjusts a counter: step size, upper bound, or current sequence value.
func (r *CounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}

	payload := map[string]any{"updatedAt": r.clock()}
	if cfg.Step > 0 {
		payload["step"] = cfg.Step
	}
	if cfg.MaxValue != nil {
		payload["maxValue"] = *cfg.MaxValue
	}
	if cfg.InitialValue != nil {
		payload["seq"] = *cfg.InitialValue
	}

	client, err := r.provider.Client(ctx)
	if err != nil {
		return err
	}
	if _, err := client.Collection(countersCollection).Doc(id).Set(ctx, payload, firestore.MergeAll); err != nil {
		return pfirestore.WrapError("counters.configure", err)
	}
	return nil
}
