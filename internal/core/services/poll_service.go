package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/livepoll/api/internal/core/domain"
	"github.com/livepoll/api/internal/core/ports"
)

const (
	maxQuestionLength = 500
	maxOptionLength   = 100
)

type pollService struct {
	repo ports.PollRepository
}

func NewPollService(repo ports.PollRepository) ports.PollService {
	return &pollService{
		repo: repo,
	}
}

func (s *pollService) Create(ctx context.Context, input ports.CreatePollInput) (*domain.Poll, error) {
	question := strings.TrimSpace(input.Question)
	if question == "" {
		return nil, errors.New("question is required")
	}
	if len(question) > maxQuestionLength {
		return nil, errors.New("question cannot exceed 500 characters")
	}
	if len(input.Options) < 2 {
		return nil, errors.New("poll must have at least 2 options")
	}

	pollID := uuid.New()
	now := time.Now()

	poll := &domain.Poll{
		ID:        pollID,
		Question:  question,
		CreatedAt: now,
	}

	for i, optText := range input.Options {
		text := strings.TrimSpace(optText)
		if text == "" {
			return nil, errors.New("options cannot be empty")
		}
		if len(text) > maxOptionLength {
			return nil, errors.New("option text cannot exceed 100 characters")
		}
		poll.Options = append(poll.Options, domain.PollOption{
			ID:       uuid.New(),
			PollID:   pollID,
			Text:     text,
			Position: i,
		})
	}

	if err := s.repo.Save(ctx, poll); err != nil {
		return nil, err
	}

	return poll, nil
}

func (s *pollService) GetPoll(ctx context.Context, id string) (*domain.Poll, error) {
	pollID, err := uuid.Parse(id)
	if err != nil {
		return nil, domain.ErrInvalidPollID
	}

	return s.repo.GetByID(ctx, pollID)
}

func (s *pollService) ListPolls(ctx context.Context) ([]*domain.Poll, error) {
	return s.repo.GetAll(ctx)
}
