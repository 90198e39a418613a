package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/livepoll/api/internal/core/domain"
	"github.com/livepoll/api/internal/core/ports"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"

	fingerprintConstraint = "votes_poll_id_fingerprint_key"
	ipConstraint          = "votes_poll_id_ip_address_key"
)

type voteRepository struct {
	db *sql.DB
}

func NewVoteRepository(db *sql.DB) ports.VoteRepository {
	return &voteRepository{
		db: db,
	}
}

// TryRecord inserts the ledger entry and lets the database's unique
// indexes arbitrate duplicates. There is no prior existence read: of two
// racing inserts for the same identity, the second one fails at write time
// with a constraint violation, which is mapped to the typed duplicate
// outcome here.
func (r *voteRepository) TryRecord(ctx context.Context, pollID uuid.UUID, identity domain.VoterIdentity, enforceIP bool) (*domain.Vote, error) {
	vote := &domain.Vote{
		ID:          uuid.New(),
		PollID:      pollID,
		IPAddress:   identity.IPAddress,
		Fingerprint: identity.Fingerprint,
		VotedAt:     time.Now(),
	}

	query := `
		INSERT INTO votes (id, poll_id, ip_address, fingerprint, ip_enforced, voted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.db.ExecContext(ctx, query,
		vote.ID, vote.PollID, vote.IPAddress, vote.Fingerprint, enforceIP, vote.VotedAt)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch {
			case pqErr.Code == uniqueViolation && pqErr.Constraint == fingerprintConstraint:
				return nil, domain.ErrDuplicateFingerprint
			case pqErr.Code == uniqueViolation && pqErr.Constraint == ipConstraint:
				return nil, domain.ErrDuplicateIP
			case pqErr.Code == foreignKeyViolation:
				// The poll vanished between validation and insert.
				return nil, domain.ErrPollNotFound
			}
		}
		return nil, fmt.Errorf("failed to record vote: %w", err)
	}

	return vote, nil
}

func (r *voteRepository) CountByPoll(ctx context.Context, pollID uuid.UUID) (int64, error) {
	query := `SELECT COUNT(*) FROM votes WHERE poll_id = $1`
	var count int64
	if err := r.db.QueryRowContext(ctx, query, pollID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count votes: %w", err)
	}
	return count, nil
}
