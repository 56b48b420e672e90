package votes

import (
	"fmt"
	"time"
)

// VoteType is the direction of a vote on a community definition
type VoteType string

const (
	VoteUp   VoteType = "upvote"
	VoteDown VoteType = "downvote"
)

// Valid reports whether t is one of the known vote types
func (t VoteType) Valid() bool {
	return t == VoteUp || t == VoteDown
}

// Ptr returns a pointer to a copy of t. Handy for optional vote types.
func (t VoteType) Ptr() *VoteType {
	return &t
}

// ParseVoteType converts a raw string into a VoteType
func ParseVoteType(raw string) (VoteType, error) {
	t := VoteType(raw)
	if !t.Valid() {
		return "", NewValidationError("voteType", fmt.Sprintf("must be %q or %q, got %q", VoteUp, VoteDown, raw))
	}
	return t, nil
}

// Vote is a single user's vote on a target (a community-submitted definition).
// At most one Vote exists per (UserID, TargetID) pair.
type Vote struct {
	CreatedAt time.Time `json:"createdAt"`
	ID        string    `json:"id"`
	TargetID  string    `json:"targetId"`
	UserID    string    `json:"userId"`
	VoteType  VoteType  `json:"voteType"`
}

func (v *Vote) clone() *Vote {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

// CreateVoteRequest is the caller-supplied input for casting a vote
type CreateVoteRequest struct {
	TargetID string   `json:"targetId"`
	VoteType VoteType `json:"voteType"`
}

// VoteRecord is a vote row as stored remotely and as carried by realtime events
type VoteRecord struct {
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	ID        string    `json:"id" db:"id"`
	TargetID  string    `json:"target_id" db:"target_id"`
	UserID    string    `json:"user_id" db:"user_id"`
	VoteType  VoteType  `json:"vote_type" db:"vote_type"`
}

func (r *VoteRecord) toVote() *Vote {
	return &Vote{
		ID:        r.ID,
		TargetID:  r.TargetID,
		UserID:    r.UserID,
		VoteType:  r.VoteType,
		CreatedAt: r.CreatedAt,
	}
}

// VoteSummary is the derived aggregate for one target.
// UserVote is nil when the requesting user has not voted (or no user was given).
type VoteSummary struct {
	UserVote  *VoteType `json:"userVote,omitempty"`
	TargetID  string    `json:"targetId"`
	Upvotes   int       `json:"upvotes"`
	Downvotes int       `json:"downvotes"`
	Score     int       `json:"score"`
}

// TargetScore is one row of the top-voted ranking
type TargetScore struct {
	TargetID string `json:"targetId"`
	Score    int    `json:"score"`
}

// TimeWindow bounds a vote count query. Both ends are inclusive.
type TimeWindow struct {
	Start time.Time
	End   time.Time
}

func (w *TimeWindow) contains(t time.Time) bool {
	if w == nil {
		return true
	}
	return !t.Before(w.Start) && !t.After(w.End)
}

// IntegrityReport is the result of a cross-index consistency check
type IntegrityReport struct {
	Errors  []string `json:"errors"`
	IsValid bool     `json:"isValid"`
}

// Aggregate is the remotely maintained counter set for a target
type Aggregate struct {
	Score     int `json:"score"`
	Upvotes   int `json:"upvotes"`
	Downvotes int `json:"downvotes"`
}

// User is the authenticated voter
type User struct {
	ID string `json:"id"`
}

// Target is the vote core's view of a community definition: the author (for the
// self-vote rule) plus a display cache of the vote counters.
// UserVote is only populated on per-user views, never in the shared cache.
type Target struct {
	UserVote     *VoteType `json:"userVote,omitempty"`
	ID           string    `json:"id"`
	AuthorUserID string    `json:"authorUserId"`
	VoteScore    int       `json:"voteScore"`
	Upvotes      int       `json:"upvotes"`
	Downvotes    int       `json:"downvotes"`
}

// VoteResult is returned by the coordinator after a successful vote change
type VoteResult struct {
	Vote             *Vote     `json:"vote,omitempty"`
	PreviousVoteType *VoteType `json:"previousVoteType,omitempty"`
	NewVoteType      *VoteType `json:"newVoteType,omitempty"`
	Target           Target    `json:"target"`
}

func voteTypeOf(v *Vote) *VoteType {
	if v == nil {
		return nil
	}
	return v.VoteType.Ptr()
}
