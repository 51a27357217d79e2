package mongo

import (
	"context"
	"errors"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/ilakkiyam/api/internal/domain"
	pmongo "github.com/ilakkiyam/api/internal/platform/mongo"
	"github.com/ilakkiyam/api/internal/repositories"
)

const booksCollection = "books"

type bookDocument struct {
	ID      string               `bson:"_id"`
	Title   string               `bson:"title"`
	TitleTa string               `bson:"titleTa"`
	Price   primitive.Decimal128 `bson:"price"`
	Active  bool                 `bson:"active"`
}

// BookRepository reads catalog entries from the "books" collection.
type BookRepository struct {
	coll *mongo.Collection
}

var _ repositories.BookRepository = (*BookRepository)(nil)

// NewBookRepository constructs a MongoDB-backed catalog reader.
func NewBookRepository(client *pmongo.Client) (*BookRepository, error) {
	if client == nil {
		return nil, errors.New("book repository requires mongo client")
	}
	return &BookRepository{coll: client.Collection(booksCollection)}, nil
}

func (r *BookRepository) FindByIDs(ctx context.Context, ids []string) (map[string]domain.Book, error) {
	unique := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}
	books := make(map[string]domain.Book, len(unique))
	if len(unique) == 0 {
		return books, nil
	}

	cursor, err := r.coll.Find(ctx, bson.M{"_id": bson.M{"$in": unique}})
	if err != nil {
		return nil, pmongo.WrapError("books.find", err)
	}
	var docs []bookDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, pmongo.WrapError("books.find", err)
	}
	for _, doc := range docs {
		books[doc.ID] = domain.Book{
			ID:      doc.ID,
			Title:   doc.Title,
			TitleTa: doc.TitleTa,
			Price:   fromDecimal128(doc.Price),
			Active:  doc.Active,
		}
	}
	return books, nil
}
