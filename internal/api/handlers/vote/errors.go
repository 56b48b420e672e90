package vote

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"Sutian/internal/api/handlers"
	"Sutian/internal/core/votes"
)

// handleServiceError converts vote service errors to HTTP responses.
// The error name in the body is the vote error kind.
func handleServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var voteErr *votes.Error
	if !errors.As(err, &voteErr) {
		logger.Error("vote handler error", "error", err)
		handlers.WriteError(w, http.StatusInternalServerError, "InternalServerError", "An internal error occurred")
		return
	}

	switch voteErr.Kind {
	case votes.KindValidation:
		handlers.WriteError(w, http.StatusBadRequest, string(voteErr.Kind), voteErr.Message)
	case votes.KindUnauthorized:
		handlers.WriteError(w, http.StatusUnauthorized, string(voteErr.Kind), voteErr.Message)
	case votes.KindSelfVote, votes.KindForbidden:
		handlers.WriteError(w, http.StatusForbidden, string(voteErr.Kind), voteErr.Message)
	case votes.KindNotFound:
		handlers.WriteError(w, http.StatusNotFound, string(voteErr.Kind), voteErr.Message)
	case votes.KindDuplicateVote:
		handlers.WriteError(w, http.StatusConflict, string(voteErr.Kind), voteErr.Message)
	case votes.KindRateLimited:
		handlers.WriteError(w, http.StatusTooManyRequests, string(voteErr.Kind), voteErr.Message)
	case votes.KindRemote:
		// Local state was already rolled back; the cause stays in the logs
		logger.Warn("vote persistence failed", "error", err)
		status := http.StatusBadGateway
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusGatewayTimeout
		}
		handlers.WriteError(w, status, string(voteErr.Kind), "Failed to save vote, please try again")
	default:
		logger.Error("unclassified vote error", "kind", voteErr.Kind, "error", err)
		handlers.WriteError(w, http.StatusInternalServerError, "InternalServerError", "An internal error occurred")
	}
}
