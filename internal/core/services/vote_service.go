package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/livepoll/api/internal/core/domain"
	"github.com/livepoll/api/internal/core/ports"
)

type VoteServiceConfig struct {
	// EnforceIPCheck gates the ip-based duplicate check. The fingerprint
	// check is always enforced.
	EnforceIPCheck bool
}

type voteService struct {
	pollRepo  ports.PollRepository
	voteRepo  ports.VoteRepository
	publisher ports.PollPublisher
	cfg       VoteServiceConfig
	logger    *slog.Logger
}

func NewVoteService(pollRepo ports.PollRepository, voteRepo ports.VoteRepository, publisher ports.PollPublisher, cfg VoteServiceConfig, logger *slog.Logger) ports.VoteService {
	return &voteService{
		pollRepo:  pollRepo,
		voteRepo:  voteRepo,
		publisher: publisher,
		cfg:       cfg,
		logger:    logger,
	}
}

// SubmitVote runs one vote submission through a single fixed pipeline:
// validate poll, validate option, atomic ledger insert, atomic tally
// increment, publish. The ledger insert is the duplicate guard; by the time
// the increment runs the vote is already accepted.
func (s *voteService) SubmitVote(ctx context.Context, input ports.SubmitVoteInput) (*ports.SubmitVoteResult, error) {
	if input.Identity.IPAddress == "" || input.Identity.Fingerprint == "" {
		return nil, domain.ErrMissingIdentity
	}

	poll, err := s.pollRepo.GetByID(ctx, input.PollID)
	if err != nil {
		return nil, err
	}
	if !poll.HasOption(input.OptionID) {
		return nil, domain.ErrOptionNotFound
	}

	vote, err := s.voteRepo.TryRecord(ctx, input.PollID, input.Identity, s.cfg.EnforceIPCheck)
	if err != nil {
		return nil, err
	}

	updated, err := s.pollRepo.IncrementOption(ctx, input.PollID, input.OptionID)
	if err != nil {
		// The ledger entry exists but the tally does not reflect it.
		// Surface this distinctly so operators can reconcile the drift.
		s.logger.Error("tally increment failed after ledger write",
			"poll_id", input.PollID, "option_id", input.OptionID, "vote_id", vote.ID, "error", err)
		return nil, fmt.Errorf("%w: %w", domain.ErrTallyUpdate, err)
	}

	s.publisher.Publish(poll.ID, updated)

	return &ports.SubmitVoteResult{Poll: updated, Vote: vote}, nil
}
