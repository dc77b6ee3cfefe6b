package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/lumastore/api/internal/repositories"
)

const orderNumberPrefix = "LS"

var (
	// ErrCounterInvalidInput indicates the caller supplied invalid counter parameters.
	ErrCounterInvalidInput = errors.New("counter: invalid input")
	// ErrCounterExhausted indicates the requested counter cannot increment further due to max bounds.
	ErrCounterExhausted = errors.New("counter: exhausted")
)

// CounterServiceDeps bundles collaborators required to construct a counter service instance.
type CounterServiceDeps struct {
	Repository repositories.CounterRepository
	Clock      func() time.Time
}

type counterService struct {
	repo  repositories.CounterRepository
	clock func() time.Time

	configMu   sync.Mutex
	configured map[string]struct{}
}

// NewCounterService constructs a service that manages sequence counters on top of the repository.
func NewCounterService(deps CounterServiceDeps) (CounterService, error) {
	if deps.Repository == nil {
		return nil, errors.New("counter service: repository is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	return &counterService{
		repo: deps.Repository,
		clock: func() time.Time {
			return clock().UTC()
		},
		configured: make(map[string]struct{}),
	}, nil
}

// NextOrderNumber allocates the next value of the per-year order sequence and
// formats it as the human-facing order number. The sequence is backed by a
// transactional counter, so concurrent checkouts never share a number.
func (s *counterService) NextOrderNumber(ctx context.Context) (string, error) {
	now := s.clock()
	counterID := fmt.Sprintf("orders:%04d", now.Year())

	if err := s.ensureConfiguration(ctx, counterID); err != nil {
		return "", err
	}

	value, err := s.repo.Next(ctx, counterID, 1)
	if err != nil {
		var counterErr *repositories.CounterError
		if errors.As(err, &counterErr) {
			switch counterErr.Code {
			case repositories.CounterErrorInvalidInput:
				return "", fmt.Errorf("%w: %s", ErrCounterInvalidInput, counterErr.Message)
			case repositories.CounterErrorExhausted:
				return "", fmt.Errorf("%w: %s", ErrCounterExhausted, counterErr.Message)
			}
		}
		return "", err
	}

	return fmt.Sprintf("%s-%04d-%06d", orderNumberPrefix, now.Year(), value), nil
}

func (s *counterService) ensureConfiguration(ctx context.Context, counterID string) error {
	s.configMu.Lock()
	defer s.configMu.Unlock()

	if _, ok := s.configured[counterID]; ok {
		return nil
	}

	// Only the step is pinned here: Configure merges, and re-seeding the
	// initial value on process restart would rewind a live sequence.
	if err := s.repo.Configure(ctx, counterID, repositories.CounterConfig{Step: 1}); err != nil {
		return err
	}
	s.configured[counterID] = struct{}{}
	return nil
}

var _ CounterService = (*counterService)(nil)
