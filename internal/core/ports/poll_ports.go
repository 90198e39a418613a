package ports

import (
	"context"

	"github.com/google/uuid"
	"github.com/livepoll/api/internal/core/domain"
)

type PollRepository interface {
	Save(ctx context.Context, poll *domain.Poll) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.Poll, error)
	GetAll(ctx context.Context) ([]*domain.Poll, error)

	// IncrementOption applies a server-side relative increment to one
	// option's vote counter and returns the poll snapshot reflecting it.
	// Concurrent increments on the same poll must never lose updates.
	IncrementOption(ctx context.Context, pollID, optionID uuid.UUID) (*domain.Poll, error)
}

type CreatePollInput struct {
	Question string
	Options  []string
}

type PollService interface {
	Create(ctx context.Context, input CreatePollInput) (*domain.Poll, error)
	GetPoll(ctx context.Context, id string) (*domain.Poll, error)
	ListPolls(ctx context.Context) ([]*domain.Poll, error)
}
