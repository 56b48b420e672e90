package routes

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"Sutian/internal/api/handlers/vote"
	"Sutian/internal/api/middleware"
	"Sutian/internal/core/votes"
)

// VoteRouteOptions configures the vote endpoints
type VoteRouteOptions struct {
	// WriteLimiter throttles vote writes per user. Optional.
	WriteLimiter *middleware.RateLimiter
	// Stream serves GET /api/votes/stream. Optional.
	Stream         *vote.StreamHub
	Logger         *slog.Logger
	AllowedOrigins []string
	// AdminRoles may call the operational endpoints. Defaults to service_role.
	AdminRoles []string
}

// RegisterVoteRoutes registers the vote API on the router
func RegisterVoteRoutes(r chi.Router, service votes.Service, authMiddleware *middleware.AuthMiddleware, opts VoteRouteOptions) {
	createVoteHandler := vote.NewCreateVoteHandler(service, opts.Logger)
	deleteVoteHandler := vote.NewDeleteVoteHandler(service, opts.Logger)
	queryHandler := vote.NewQueryHandler(service, opts.Logger)

	adminRoles := opts.AdminRoles
	if len(adminRoles) == 0 {
		adminRoles = []string{"service_role"}
	}

	r.Route("/api", func(r chi.Router) {
		// On the subrouter so preflight requests for any route get answered
		r.Use(corsMiddleware(opts.AllowedOrigins))

		// Writes require authentication; the limiter keys on the user id set by RequireAuth
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.RequireAuth)
			if opts.WriteLimiter != nil {
				r.Use(opts.WriteLimiter.Middleware)
			}
			r.Post("/votes", createVoteHandler.HandleCreateVote)
			r.Delete("/votes/{targetId}", deleteVoteHandler.HandleDeleteVote)
		})

		// Reads work anonymously; a valid token adds the caller's own vote
		r.Group(func(r chi.Router) {
			r.Use(authMiddleware.OptionalAuth)
			r.Get("/targets/{targetId}", queryHandler.HandleGetTarget)
			r.Get("/targets/{targetId}/votes", queryHandler.HandleGetSummary)
		})
		r.Get("/votes/top", queryHandler.HandleGetTop)
		r.With(authMiddleware.RequireAuth).Get("/votes/me", queryHandler.HandleGetMyVotes)

		// The integrity report names users, so it is limited to operators
		r.With(authMiddleware.RequireAuth, middleware.RequireRole(adminRoles...)).
			Get("/votes/integrity", queryHandler.HandleGetIntegrity)

		if opts.Stream != nil {
			r.Get("/votes/stream", opts.Stream.HandleStream)
		}
	})
}

// corsMiddleware allows the web app and the Capacitor shells to call the API
func corsMiddleware(allowedOrigins []string) func(next http.Handler) http.Handler {
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: allowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{
			"Accept",
			"Authorization",
			"Content-Type",
		},
		AllowCredentials: false,
		MaxAge:           300,
	})
}
