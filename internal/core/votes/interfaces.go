package votes

import "context"

// Service is the vote API used by the HTTP layer. *Coordinator implements it.
type Service interface {
	// SubmitVote casts or changes the current user's vote on a target.
	// Flow: authenticate -> validate -> resolve target -> VoteModel decision ->
	// optimistic update -> persist -> broadcast (or roll back on failure)
	SubmitVote(ctx context.Context, targetID string, voteType VoteType) (*VoteResult, error)

	// RemoveVote deletes the current user's vote on a target
	RemoveVote(ctx context.Context, targetID string) (*VoteResult, error)

	// Summary returns the vote summary for a target, with the current user's
	// vote if the request is authenticated
	Summary(ctx context.Context, targetID string) (VoteSummary, error)

	// TargetView returns a target's counters, with the current user's vote if
	// the request is authenticated
	TargetView(ctx context.Context, targetID string) (Target, error)

	// UserVotes returns the current user's votes keyed by target, limited to
	// targetIDs unless it is empty
	UserVotes(ctx context.Context, targetIDs []string) (map[string]VoteType, error)

	// TopTargets ranks targets by score
	TopTargets(limit int) []TargetScore

	// Integrity runs the VoteModel cross-index check
	Integrity() IntegrityReport

	// OnVoteUpdate registers an observer for vote changes. Call the returned
	// func to unsubscribe.
	OnVoteUpdate(handler VoteUpdateHandler) (unsubscribe func())
}

// Persistence is the remote vote store. Votes are addressed by (targetID, userID).
type Persistence interface {
	// UpsertVote inserts or updates the vote on unique (targetID, userID)
	UpsertVote(ctx context.Context, targetID, userID string, voteType VoteType) (*VoteRecord, error)

	// DeleteVote removes the vote. Deleting a missing vote is not an error.
	DeleteVote(ctx context.Context, targetID, userID string) error

	// FetchVotesForUser bulk loads a user's votes on the given targets.
	// An empty targetIDs slice loads every vote by the user.
	FetchVotesForUser(ctx context.Context, userID string, targetIDs []string) ([]*VoteRecord, error)

	// FetchAggregate returns the stored counters for a target
	FetchAggregate(ctx context.Context, targetID string) (*Aggregate, error)

	// ListAll returns every stored vote, used to rebuild the VoteModel
	ListAll(ctx context.Context) ([]*VoteRecord, error)
}

// RemoteEventHandler consumes realtime vote events
type RemoteEventHandler func(ctx context.Context, ev RemoteEvent)

// Realtime delivers changes to the votes table made by any client
type Realtime interface {
	// Subscribe starts delivering events to handler until unsubscribe is called
	// or ctx is cancelled
	Subscribe(ctx context.Context, handler RemoteEventHandler) (unsubscribe func(), err error)
}

// Identity resolves the signed-in user. A nil user with nil error means the
// caller is anonymous.
type Identity interface {
	CurrentUser(ctx context.Context) (*User, error)
}

// Validator checks input shape only. Business rules belong to VoteModel.
type Validator interface {
	ValidateTargetID(targetID string) error
	ValidateVoteInput(targetID string, voteType VoteType) error
}

// TargetLoader loads a target the cache does not hold yet.
// Returns an error matching ErrNotFound for unknown targets.
type TargetLoader interface {
	LoadTarget(ctx context.Context, targetID string) (*Target, error)
}
