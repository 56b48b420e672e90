package vote

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"Sutian/internal/api/handlers"
	"Sutian/internal/core/votes"
)

const (
	defaultTopLimit = 10
	maxTopLimit     = 100
	maxMyVoteIDs    = 100
)

// QueryHandler serves the read-only vote endpoints
type QueryHandler struct {
	service votes.Service
	logger  *slog.Logger
}

// NewQueryHandler creates a new vote query handler
func NewQueryHandler(service votes.Service, logger *slog.Logger) *QueryHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &QueryHandler{service: service, logger: logger}
}

// HandleGetSummary returns the vote summary of a definition. The caller's own
// vote is included when the request is authenticated.
// GET /api/targets/{targetId}/votes
func (h *QueryHandler) HandleGetSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.Summary(r.Context(), chi.URLParam(r, "targetId"))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, summary)
}

// HandleGetTarget returns a definition's counters. The caller's own vote is
// included when the request is authenticated.
// GET /api/targets/{targetId}
func (h *QueryHandler) HandleGetTarget(w http.ResponseWriter, r *http.Request) {
	target, err := h.service.TargetView(r.Context(), chi.URLParam(r, "targetId"))
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	handlers.WriteJSON(w, http.StatusOK, target)
}

// MyVotesOutput is the response body of the own votes endpoint
type MyVotesOutput struct {
	Votes map[string]votes.VoteType `json:"votes"`
}

// HandleGetMyVotes returns the caller's votes, keyed by definition id.
// targetIds is a comma separated list; without it every vote is returned.
// GET /api/votes/me?targetIds=a,b
func (h *QueryHandler) HandleGetMyVotes(w http.ResponseWriter, r *http.Request) {
	var targetIDs []string
	if raw := r.URL.Query().Get("targetIds"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				targetIDs = append(targetIDs, id)
			}
		}
		if len(targetIDs) > maxMyVoteIDs {
			handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "at most 100 targetIds per request")
			return
		}
	}

	userVotes, err := h.service.UserVotes(r.Context(), targetIDs)
	if err != nil {
		handleServiceError(w, h.logger, err)
		return
	}
	if userVotes == nil {
		userVotes = map[string]votes.VoteType{}
	}
	handlers.WriteJSON(w, http.StatusOK, MyVotesOutput{Votes: userVotes})
}

// TopTargetsOutput is the response body of the top voted endpoint
type TopTargetsOutput struct {
	Targets []votes.TargetScore `json:"targets"`
}

// HandleGetTop returns the highest scoring definitions
// GET /api/votes/top?limit=N
func (h *QueryHandler) HandleGetTop(w http.ResponseWriter, r *http.Request) {
	limit := defaultTopLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			handlers.WriteError(w, http.StatusBadRequest, "InvalidRequest", "limit must be a positive integer")
			return
		}
		limit = min(n, maxTopLimit)
	}

	targets := h.service.TopTargets(limit)
	if targets == nil {
		targets = []votes.TargetScore{}
	}
	handlers.WriteJSON(w, http.StatusOK, TopTargetsOutput{Targets: targets})
}

// HandleGetIntegrity runs the vote index consistency check.
// Responds 200 when the indexes agree and 500 with the findings when not.
// GET /api/votes/integrity
func (h *QueryHandler) HandleGetIntegrity(w http.ResponseWriter, r *http.Request) {
	report := h.service.Integrity()
	if report.Errors == nil {
		report.Errors = []string{}
	}

	status := http.StatusOK
	if !report.IsValid {
		h.logger.Error("vote index integrity check failed", "errors", len(report.Errors))
		status = http.StatusInternalServerError
	}
	handlers.WriteJSON(w, status, report)
}
