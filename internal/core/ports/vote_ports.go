package ports

import (
	"context"

	"github.com/google/uuid"
	"github.com/livepoll/api/internal/core/domain"
)

// VoteRepository is the append-only ledger of accepted votes and the single
// source of truth for duplicate detection.
type VoteRepository interface {
	// TryRecord atomically checks and inserts a ledger entry. If an entry
	// for the same poll already exists with the same fingerprint, or (when
	// enforceIP is set) the same ip address, it fails with the matching
	// duplicate error and writes nothing. The check and the insert are
	// indivisible with respect to concurrent calls.
	TryRecord(ctx context.Context, pollID uuid.UUID, identity domain.VoterIdentity, enforceIP bool) (*domain.Vote, error)

	CountByPoll(ctx context.Context, pollID uuid.UUID) (int64, error)
}

type SubmitVoteInput struct {
	PollID   uuid.UUID
	OptionID uuid.UUID
	Identity domain.VoterIdentity
}

type SubmitVoteResult struct {
	Poll *domain.Poll
	Vote *domain.Vote
}

type VoteService interface {
	SubmitVote(ctx context.Context, input SubmitVoteInput) (*SubmitVoteResult, error)
}

// PollPublisher delivers an updated poll snapshot to every live viewer of
// that poll. Delivery is best-effort; failures must not affect the vote.
type PollPublisher interface {
	Publish(pollID uuid.UUID, poll *domain.Poll)
}
