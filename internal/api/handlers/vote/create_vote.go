package vote

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"Sutian/internal/api/handlers"
	"Sutian/internal/core/votes"
)

// CreateVoteHandler handles vote creation
type CreateVoteHandler struct {
	service votes.Service
	logger  *slog.Logger
}

// NewCreateVoteHandler creates a new create vote handler
func NewCreateVoteHandler(service votes.Service, logger *slog.Logger) *CreateVoteHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CreateVoteHandler{
		service: service,
		logger:  logger,
	}
}

// CreateVoteInput represents the request body for casting a vote
type CreateVoteInput struct {
	TargetID string `json:"targetId"`
	VoteType string `json:"voteType"`
}

// HandleCreateVote casts or changes the caller's vote on a definition
// POST /api/votes
//
// Request body: { "targetId": "<definition uuid>", "voteType": "upvote" | "downvote" }
func (h *CreateVoteHandler) HandleCreateVote(w http.ResponseWriter, r *http.Request) {
	var req CreateVoteInput
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4<<10)).Decode(&req); err != nil {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "Invalid request body")
		return
	}

	if req.TargetID == "" {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "targetId is required")
		return
	}

	voteType, err := votes.ParseVoteType(req.VoteType)
	if err != nil {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "voteType must be 'upvote' or 'downvote'")
		return
	}

	result, err := h.service.SubmitVote(r.Context(), req.TargetID, voteType)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	handlers.WriteJSON(w, http.StatusOK, result)
}
