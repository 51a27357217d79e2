package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ilakkiyam/api/internal/repositories"
)

const (
	orderIDCounter = "orderId"
	orderIDPrefix  = "ORD-"
)

// CounterServiceDeps bundles collaborators required to construct a counter service instance.
type CounterServiceDeps struct {
	Repository repositories.CounterRepository
}

type counterService struct {
	repo repositories.CounterRepository
}

var _ CounterService = (*counterService)(nil)

// NewCounterService constructs a service that manages counter sequences on top of the repository.
func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}
	return &counterService{repo: deps.Repository}, nil
}

func (s *counterService) Next(ctx context.Context, name string, step int64) (int64, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("%w: name is required", ErrCounterInvalidInput)
	}

	value, err := s.repo.Next(ctx, name, step)
	if err != nil {
		if counterErr := repositories.CounterErrorOf(err); counterErr != nil {
			switch counterErr.Code {
			case repositories.CounterErrorInvalidInput:
				return 0, fmt.Errorf("%w: %s", ErrCounterInvalidInput, counterErr.Message)
			case repositories.CounterErrorExhausted:
				return 0, fmt.Errorf("%w: %s", ErrCounterExhausted, counterErr.Message)
			}
		}
		return 0, err
	}
	return value, nil
}

// NextOrderID allocates the next order sequence and formats it as ORD-00001. Sequences past
// 99999 widen rather than wrap.
func (s *counterService) NextOrderID(ctx context.Context) (string, int64, error) {
	seq, err := s.Next(ctx, orderIDCounter, 1)
	if err != nil {
		return "", 0, err
	}
	return FormatOrderID(seq), seq, nil
}

// FormatOrderID renders a sequence value as an order ID.
func FormatOrderID(seq int64) string {
	return fmt.Sprintf("%s%05d", orderIDPrefix, seq)
}
