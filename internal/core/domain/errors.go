package domain

import "errors"

var (
	ErrPollNotFound         = errors.New("poll not found")
	ErrInvalidPollID        = errors.New("invalid poll id")
	ErrOptionNotFound       = errors.New("option not found for this poll")
	ErrDuplicateFingerprint = errors.New("a vote with this fingerprint already exists for this poll")
	ErrDuplicateIP          = errors.New("a vote from this ip address already exists for this poll")
	ErrMissingIdentity      = errors.New("ip address and fingerprint are required")
	ErrTallyUpdate          = errors.New("vote was recorded but the tally update failed")
	ErrInternal             = errors.New("internal server error")
)
