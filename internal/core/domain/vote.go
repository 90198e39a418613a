package domain

import (
	"time"

	"github.com/google/uuid"
)

// VoterIdentity carries the two independent deduplication signals for a
// voter: the origin IP and an opaque client-supplied fingerprint. Neither
// is authoritative on its own.
type VoterIdentity struct {
	IPAddress   string
	Fingerprint string
}

// Vote is a ledger entry recording one accepted vote. Entries are written
// exactly once and never mutated.
type Vote struct {
	ID          uuid.UUID `json:"id"`
	PollID      uuid.UUID `json:"poll_id"`
	IPAddress   string    `json:"ip_address"`
	Fingerprint string    `json:"fingerprint"`
	VotedAt     time.Time `json:"voted_at"`
}
