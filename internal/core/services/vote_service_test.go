package services

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/livepoll/api/internal/core/domain"
	"github.com/livepoll/api/internal/core/ports"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakePollRepo keeps polls in memory behind a mutex so increments are
// atomic with respect to concurrent callers, mirroring the contract the
// postgres adapter provides.
type fakePollRepo struct {
	mu      sync.Mutex
	polls   map[uuid.UUID]*domain.Poll
	failInc bool
}

func newFakePollRepo() *fakePollRepo {
	return &fakePollRepo{polls: make(map[uuid.UUID]*domain.Poll)}
}

func (r *fakePollRepo) Save(_ context.Context, poll *domain.Poll) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polls[poll.ID] = poll
	return nil
}

func (r *fakePollRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Poll, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	poll, ok := r.polls[id]
	if !ok {
		return nil, domain.ErrPollNotFound
	}
	return snapshot(poll), nil
}

func (r *fakePollRepo) GetAll(_ context.Context) ([]*domain.Poll, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*domain.Poll
	for _, p := range r.polls {
		out = append(out, snapshot(p))
	}
	return out, nil
}

func (r *fakePollRepo) IncrementOption(_ context.Context, pollID, optionID uuid.UUID) (*domain.Poll, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failInc {
		return nil, errors.New("storage unavailable")
	}
	poll, ok := r.polls[pollID]
	if !ok {
		return nil, domain.ErrPollNotFound
	}
	for i := range poll.Options {
		if poll.Options[i].ID == optionID {
			poll.Options[i].Votes++
			return snapshot(poll), nil
		}
	}
	return nil, domain.ErrPollNotFound
}

func snapshot(p *domain.Poll) *domain.Poll {
	cp := *p
	cp.Options = append([]domain.PollOption(nil), p.Options...)
	return &cp
}

// fakeVoteRepo enforces both uniqueness dimensions under one lock, so the
// check-and-insert is indivisible like the real unique indexes.
type fakeVoteRepo struct {
	mu           sync.Mutex
	byFP         map[string]bool
	byIP         map[string]bool
	entries      []*domain.Vote
	missingPolls map[uuid.UUID]bool
}

func newFakeVoteRepo() *fakeVoteRepo {
	return &fakeVoteRepo{
		byFP:         make(map[string]bool),
		byIP:         make(map[string]bool),
		missingPolls: make(map[uuid.UUID]bool),
	}
}

func (r *fakeVoteRepo) TryRecord(_ context.Context, pollID uuid.UUID, identity domain.VoterIdentity, enforceIP bool) (*domain.Vote, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.missingPolls[pollID] {
		return nil, domain.ErrPollNotFound
	}

	fpKey := pollID.String() + "|" + identity.Fingerprint
	ipKey := pollID.String() + "|" + identity.IPAddress
	if enforceIP && r.byIP[ipKey] {
		return nil, domain.ErrDuplicateIP
	}
	if r.byFP[fpKey] {
		return nil, domain.ErrDuplicateFingerprint
	}

	vote := &domain.Vote{
		ID:          uuid.New(),
		PollID:      pollID,
		IPAddress:   identity.IPAddress,
		Fingerprint: identity.Fingerprint,
		VotedAt:     time.Now(),
	}
	r.byFP[fpKey] = true
	if enforceIP {
		r.byIP[ipKey] = true
	}
	r.entries = append(r.entries, vote)
	return vote, nil
}

func (r *fakeVoteRepo) CountByPoll(_ context.Context, pollID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, v := range r.entries {
		if v.PollID == pollID {
			n++
		}
	}
	return n, nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*domain.Poll
}

func (p *fakePublisher) Publish(_ uuid.UUID, poll *domain.Poll) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, poll)
}

func (p *fakePublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.events)
}

type voteFixture struct {
	pollRepo  *fakePollRepo
	voteRepo  *fakeVoteRepo
	publisher *fakePublisher
	poll      *domain.Poll
}

func newVoteFixture(t *testing.T, enforceIP bool) (ports.VoteService, *voteFixture) {
	t.Helper()

	pollID := uuid.New()
	poll := &domain.Poll{
		ID:       pollID,
		Question: "tabs or spaces?",
		Options: []domain.PollOption{
			{ID: uuid.New(), PollID: pollID, Text: "A"},
			{ID: uuid.New(), PollID: pollID, Text: "B", Position: 1},
		},
		CreatedAt: time.Now(),
	}

	fx := &voteFixture{
		pollRepo:  newFakePollRepo(),
		voteRepo:  newFakeVoteRepo(),
		publisher: &fakePublisher{},
		poll:      poll,
	}
	require.NoError(t, fx.pollRepo.Save(context.Background(), poll))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewVoteService(fx.pollRepo, fx.voteRepo, fx.publisher, VoteServiceConfig{EnforceIPCheck: enforceIP}, logger)
	return svc, fx
}

func (fx *voteFixture) tally(t *testing.T) map[string]int64 {
	t.Helper()
	poll, err := fx.pollRepo.GetByID(context.Background(), fx.poll.ID)
	require.NoError(t, err)
	out := make(map[string]int64)
	for _, opt := range poll.Options {
		out[opt.Text] = opt.Votes
	}
	return out
}

func submit(svc ports.VoteService, fx *voteFixture, option int, ip, fp string) (*ports.SubmitVoteResult, error) {
	return svc.SubmitVote(context.Background(), ports.SubmitVoteInput{
		PollID:   fx.poll.ID,
		OptionID: fx.poll.Options[option].ID,
		Identity: domain.VoterIdentity{IPAddress: ip, Fingerprint: fp},
	})
}

func TestSubmitVoteAccepted(t *testing.T) {
	svc, fx := newVoteFixture(t, true)

	result, err := submit(svc, fx, 0, "1.2.3.4", "f1")
	require.NoError(t, err)

	assert.Equal(t, int64(1), result.Poll.Options[0].Votes)
	assert.Equal(t, int64(0), result.Poll.Options[1].Votes)
	assert.Equal(t, fx.poll.ID, result.Vote.PollID)
	assert.Equal(t, "1.2.3.4", result.Vote.IPAddress)
	assert.Equal(t, "f1", result.Vote.Fingerprint)
	assert.False(t, result.Vote.VotedAt.IsZero())

	assert.Equal(t, 1, fx.publisher.count(), "exactly one publish per accepted vote")
	count, err := fx.voteRepo.CountByPoll(context.Background(), fx.poll.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}

func TestSubmitVoteDeduplication(t *testing.T) {
	svc, fx := newVoteFixture(t, true)

	_, err := submit(svc, fx, 0, "1.2.3.4", "f1")
	require.NoError(t, err)

	// Same fingerprint from a different ip is still a duplicate.
	_, err = submit(svc, fx, 1, "5.6.7.8", "f1")
	assert.ErrorIs(t, err, domain.ErrDuplicateFingerprint)

	// Different fingerprint behind the same ip is rejected on the ip
	// dimension while the check is enforced.
	_, err = submit(svc, fx, 1, "1.2.3.4", "f2")
	assert.ErrorIs(t, err, domain.ErrDuplicateIP)

	assert.Equal(t, map[string]int64{"A": 1, "B": 0}, fx.tally(t))
	assert.Equal(t, 1, fx.publisher.count(), "rejected votes must not publish")
}

func TestSubmitVoteIPCheckDisabled(t *testing.T) {
	svc, fx := newVoteFixture(t, false)

	_, err := submit(svc, fx, 0, "1.2.3.4", "f1")
	require.NoError(t, err)

	// Shared ip is fine with the check off; the fingerprint check stays on.
	_, err = submit(svc, fx, 1, "1.2.3.4", "f2")
	require.NoError(t, err)

	_, err = submit(svc, fx, 1, "9.9.9.9", "f2")
	assert.ErrorIs(t, err, domain.ErrDuplicateFingerprint)

	assert.Equal(t, map[string]int64{"A": 1, "B": 1}, fx.tally(t))
}

func TestSubmitVoteUnknownPoll(t *testing.T) {
	svc, fx := newVoteFixture(t, true)

	_, err := svc.SubmitVote(context.Background(), ports.SubmitVoteInput{
		PollID:   uuid.New(),
		OptionID: fx.poll.Options[0].ID,
		Identity: domain.VoterIdentity{IPAddress: "1.2.3.4", Fingerprint: "f1"},
	})
	assert.ErrorIs(t, err, domain.ErrPollNotFound)
	assert.Equal(t, 0, fx.publisher.count())
}

func TestSubmitVoteUnknownOption(t *testing.T) {
	svc, fx := newVoteFixture(t, true)

	_, err := svc.SubmitVote(context.Background(), ports.SubmitVoteInput{
		PollID:   fx.poll.ID,
		OptionID: uuid.New(),
		Identity: domain.VoterIdentity{IPAddress: "1.2.3.4", Fingerprint: "f1"},
	})
	assert.ErrorIs(t, err, domain.ErrOptionNotFound)

	count, countErr := fx.voteRepo.CountByPoll(context.Background(), fx.poll.ID)
	require.NoError(t, countErr)
	assert.Equal(t, int64(0), count, "no ledger entry for a rejected vote")
	assert.Equal(t, map[string]int64{"A": 0, "B": 0}, fx.tally(t))
	assert.Equal(t, 0, fx.publisher.count())
}

func TestSubmitVoteMissingIdentity(t *testing.T) {
	svc, fx := newVoteFixture(t, true)

	_, err := submit(svc, fx, 0, "", "f1")
	assert.ErrorIs(t, err, domain.ErrMissingIdentity)

	_, err = submit(svc, fx, 0, "1.2.3.4", "")
	assert.ErrorIs(t, err, domain.ErrMissingIdentity)
}

func TestSubmitVotePollVanishedAtLedgerWrite(t *testing.T) {
	svc, fx := newVoteFixture(t, true)
	fx.voteRepo.missingPolls[fx.poll.ID] = true

	_, err := submit(svc, fx, 0, "1.2.3.4", "f1")
	assert.ErrorIs(t, err, domain.ErrPollNotFound)
	assert.Equal(t, map[string]int64{"A": 0, "B": 0}, fx.tally(t))
}

func TestSubmitVoteTallyFailureAfterLedgerWrite(t *testing.T) {
	svc, fx := newVoteFixture(t, true)
	fx.pollRepo.failInc = true

	_, err := submit(svc, fx, 0, "1.2.3.4", "f1")
	assert.ErrorIs(t, err, domain.ErrTallyUpdate)
	assert.NotErrorIs(t, err, domain.ErrDuplicateFingerprint)
	assert.Equal(t, 0, fx.publisher.count(), "failed increments must not publish")
}

func TestConcurrentSameFingerprintAcceptsExactlyOne(t *testing.T) {
	svc, fx := newVoteFixture(t, true)

	const attempts = 25
	results := make(chan error, attempts)

	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := submit(svc, fx, i%2, fmt.Sprintf("10.0.0.%d", i), "same-device")
			results <- err
		}(i)
	}
	wg.Wait()
	close(results)

	var accepted, duplicates int
	for err := range results {
		switch {
		case err == nil:
			accepted++
		case errors.Is(err, domain.ErrDuplicateFingerprint):
			duplicates++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	assert.Equal(t, 1, accepted)
	assert.Equal(t, attempts-1, duplicates)

	tally := fx.tally(t)
	count, err := fx.voteRepo.CountByPoll(context.Background(), fx.poll.ID)
	require.NoError(t, err)
	assert.Equal(t, count, tally["A"]+tally["B"], "tally must equal ledger size")
	assert.Equal(t, 1, fx.publisher.count())
}

func TestConcurrentDistinctVotersAllAccepted(t *testing.T) {
	svc, fx := newVoteFixture(t, true)

	const voters = 20
	var wg sync.WaitGroup
	errs := make(chan error, voters)
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := submit(svc, fx, i%2, fmt.Sprintf("10.1.0.%d", i), fmt.Sprintf("device-%d", i))
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		require.NoError(t, err)
	}

	tally := fx.tally(t)
	assert.Equal(t, int64(voters), tally["A"]+tally["B"], "no increment may be lost")
	assert.Equal(t, voters, fx.publisher.count())
}
