package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"

	"github.com/ilakkiyam/api/internal/domain"
	pfirestore "github.com/ilakkiyam/api/internal/platform/firestore"
	"github.com/ilakkiyam/api/internal/repositories"
)

const booksCollection = "books"

type bookDocument struct {
	Title   string  `firestore:"title"`
	TitleTa string  `firestore:"titleTa"`
	Price   float64 `firestore:"price"`
	Active  bool    `firestore:"active"`
}

// BookRepository reads catalog entries from the "books" collection.
type BookRepository struct {
	provider *pfirestore.Provider
}

var _ repositories.BookRepository = (*BookRepository)(nil)

// NewBookRepository constructs a Firestore-backed catalog reader.
func NewBookRepository(provider *pfirestore.Provider) (*BookRepository, error) {
	if provider == nil {
		return nil, errors.New("book repository requires firestore provider")
	}
	return &BookRepository{provider: provider}, nil
}

// FindByIDs fetches all requested books in one batched read.
func (r *BookRepository) FindByIDs(ctx context.Context, ids []string) (map[string]domain.Book, error) {
	client, err := r.provider.Client(ctx)
	if err != nil {
		return nil, pfirestore.WrapError("books.client", err)
	}

	seen := make(map[string]struct{}, len(ids))
	refs := make([]*firestore.DocumentRef, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" || strings.Contains(id, "/") {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		refs = append(refs, client.Collection(booksCollection).Doc(id))
	}
	books := make(map[string]domain.Book, len(refs))
	if len(refs) == 0 {
		return books, nil
	}

	snapshots, err := client.GetAll(ctx, refs)
	if err != nil {
		return nil, pfirestore.WrapError("books.get_all", err)
	}
	for _, snapshot := range snapshots {
		if snapshot == nil || !snapshot.Exists() {
			continue
		}
		var doc bookDocument
		if err := snapshot.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("firestore books decode %s: %w", snapshot.Ref.ID, err)
		}
		books[snapshot.Ref.ID] = domain.Book{
			ID:      snapshot.Ref.ID,
			Title:   doc.Title,
			TitleTa: doc.TitleTa,
			Price:   money(doc.Price),
			Active:  doc.Active,
		}
	}
	return books, nil
}
