package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/livepoll/api/internal/core/domain"
	"github.com/livepoll/api/internal/core/ports"
)

type VoteHandler struct {
	service ports.VoteService
	logger  *slog.Logger
}

func NewVoteHandler(service ports.VoteService, logger *slog.Logger) *VoteHandler {
	return &VoteHandler{
		service: service,
		logger:  logger,
	}
}

type voteRequest struct {
	OptionID    uuid.UUID `json:"option_id"`
	Fingerprint string    `json:"fingerprint"`
}

type voteResponse struct {
	Poll *domain.Poll `json:"poll"`
	Vote *domain.Vote `json:"vote"`
}

func (h *VoteHandler) VoteOnPoll(w http.ResponseWriter, r *http.Request) {
	pollIDStr := chi.URLParam(r, "id")
	pollID, err := uuid.Parse(pollIDStr)
	if err != nil {
		http.Error(w, domain.ErrInvalidPollID.Error(), http.StatusBadRequest)
		return
	}

	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OptionID == uuid.Nil || req.Fingerprint == "" {
		http.Error(w, "missing required fields: option_id, fingerprint", http.StatusBadRequest)
		return
	}

	input := ports.SubmitVoteInput{
		PollID:   pollID,
		OptionID: req.OptionID,
		Identity: domain.VoterIdentity{
			IPAddress:   clientIP(r),
			Fingerprint: req.Fingerprint,
		},
	}

	result, err := h.service.SubmitVote(r.Context(), input)
	if err != nil {
		h.writeVoteError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(voteResponse{Poll: result.Poll, Vote: result.Vote}); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func (h *VoteHandler) writeVoteError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrMissingIdentity), errors.Is(err, domain.ErrOptionNotFound):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrPollNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrDuplicateFingerprint), errors.Is(err, domain.ErrDuplicateIP):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, domain.ErrTallyUpdate):
		// Ledger and tally may have drifted; the client can retry safely
		// because the duplicate guard will reject a re-submission.
		http.Error(w, domain.ErrTallyUpdate.Error(), http.StatusInternalServerError)
	default:
		h.logger.Error("vote submission failed", "path", r.URL.Path, "error", err)
		http.Error(w, "could not record vote, please try again", http.StatusInternalServerError)
	}
}

// clientIP resolves the best-effort origin address: the first hop in
// X-Forwarded-For when present, otherwise the transport peer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if first, _, found := strings.Cut(fwd, ","); found || first != "" {
			return strings.TrimSpace(first)
		}
	}

	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}
