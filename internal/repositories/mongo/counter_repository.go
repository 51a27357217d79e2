package mongo

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	pmongo "github.com/ilakkiyam/api/internal/platform/mongo"
	"github.com/ilakkiyam/api/internal/repositories"
)

const countersCollection = "counters"

type counterDocument struct {
	ID        string    `bson:"_id"`
	Seq       int64     `bson:"seq"`
	Step      int64     `bson:"step,omitempty"`
	MaxValue  *int64    `bson:"maxValue,omitempty"`
	UpdatedAt time.Time `bson:"updatedAt"`
}

// CounterRepository allocates sequence values with findOneAndUpdate($inc), which MongoDB applies
// atomically per document.
type CounterRepository struct {
	coll  *mongo.Collection
	clock func() time.Time
}

var _ repositories.CounterRepository = (*CounterRepository)(nil)

// NewCounterRepository constructs a MongoDB-backed counter repository.
func NewCounterRepository(client *pmongo.Client) (*CounterRepository, error) {
	if client == nil {
		return nil, errors.New("counter repository requires mongo client")
	}
	return &CounterRepository{
		coll:  client.Collection(countersCollection),
		clock: func() time.Time { return time.Now().UTC() },
	}, nil
}

func (r *CounterRepository) Next(ctx context.Context, counterID string, step int64) (int64, error) {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	if step < 0 {
		return 0, repositories.NewCounterError(repositories.CounterErrorInvalidInput, fmt.Sprintf("step must be positive, got %d", step), nil)
	}
	if step == 0 {
		configured, err := r.configuredStep(ctx, id)
		if err != nil {
			return 0, err
		}
		step = configured
	}

	// The bound check lives in the filter so an exhausted counter is never incremented.
	filter := bson.M{
		"_id": id,
		"$or": bson.A{
			bson.M{"maxValue": bson.M{"$exists": false}},
			bson.M{"$expr": bson.M{"$lte": bson.A{bson.M{"$add": bson.A{"$seq", step}}, "$maxValue"}}},
		},
	}
	update := bson.M{
		"$inc": bson.M{"seq": step},
		"$set": bson.M{"updatedAt": r.clock()},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	// A concurrent first upsert can race on _id; the loser retries against the existing document.
	for attempt := 0; attempt < 2; attempt++ {
		var doc counterDocument
		err := r.coll.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
		if err == nil {
			return doc.Seq, nil
		}
		if mongo.IsDuplicateKeyError(err) {
			exists, countErr := r.exists(ctx, id)
			if countErr != nil {
				return 0, countErr
			}
			if exists && attempt == 0 {
				if exhausted, checkErr := r.exhausted(ctx, id, step); checkErr != nil {
					return 0, checkErr
				} else if exhausted {
					return 0, repositories.NewCounterError(repositories.CounterErrorExhausted, fmt.Sprintf("counter %s exceeded max value", id), nil)
				}
				continue
			}
		}
		return 0, r.wrap(err)
	}
	return 0, repositories.NewCounterError(repositories.CounterErrorUnavailable, "counter allocation retries exhausted", nil)
}

func (r *CounterRepository) configuredStep(ctx context.Context, id string) (int64, error) {
	var doc counterDocument
	err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return 1, nil
	}
	if err != nil {
		return 0, r.wrap(err)
	}
	return max(doc.Step, 1), nil
}

func (r *CounterRepository) exists(ctx context.Context, id string) (bool, error) {
	count, err := r.coll.CountDocuments(ctx, bson.M{"_id": id}, options.Count().SetLimit(1))
	if err != nil {
		return false, r.wrap(err)
	}
	return count > 0, nil
}

func (r *CounterRepository) exhausted(ctx context.Context, id string, step int64) (bool, error) {
	var doc counterDocument
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return false, r.wrap(err)
	}
	return doc.MaxValue != nil && doc.Seq+step > *doc.MaxValue, nil
}

func (r *CounterRepository) wrap(err error) error {
	wrapped := pmongo.WrapError("counters.next", err)
	var repoErr *pmongo.Error
	if errors.As(wrapped, &repoErr) && repoErr.IsUnavailable() {
		return repositories.NewCounterError(repositories.CounterErrorUnavailable, "counter store unavailable", wrapped)
	}
	return wrapped
}

func (r *CounterRepository) Configure(ctx context.Context, counterID string, cfg repositories.CounterConfig) error {
	id := strings.TrimSpace(counterID)
	if id == "" {
		return repositories.NewCounterError(repositories.CounterErrorInvalidInput, "counter id is required", nil)
	}
	set := bson.M{"updatedAt": r.clock()}
	if cfg.Step > 0 {
		set["step"] = cfg.Step
	}
	if cfg.MaxValue != nil {
		set["maxValue"] = *cfg.MaxValue
	}
	update := bson.M{"$set": set}
	if cfg.InitialValue != nil {
		set["seq"] = *cfg.InitialValue
	} else {
		update["$setOnInsert"] = bson.M{"seq": int64(0)}
	}
	if _, err := r.coll.UpdateOne(ctx, bson.M{"_id": id}, update, options.Update().SetUpsert(true)); err != nil {
		return pmongo.WrapError("counters.configure", err)
	}
	return nil
}
