package vote

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"Sutian/internal/api/handlers"
	"Sutian/internal/core/votes"
)

// DeleteVoteHandler handles vote deletion
type DeleteVoteHandler struct {
	service votes.Service
	logger  *slog.Logger
}

// NewDeleteVoteHandler creates a new delete vote handler
func NewDeleteVoteHandler(service votes.Service, logger *slog.Logger) *DeleteVoteHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DeleteVoteHandler{
		service: service,
		logger:  logger,
	}
}

// HandleDeleteVote removes the caller's vote from a definition
// DELETE /api/votes/{targetId}
func (h *DeleteVoteHandler) HandleDeleteVote(w http.ResponseWriter, r *http.Request) {
	targetID := chi.URLParam(r, "targetId")
	if targetID == "" {
		handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "targetId is required")
		return
	}

	result, err := h.service.RemoveVote(r.Context(), targetID)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}

	handlers.WriteJSON(w, http.StatusOK, result)
}
