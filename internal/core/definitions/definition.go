package definitions

import (
	"context"
	"errors"
	"time"
)

// ErrDefinitionNotFound is returned when no definition has the requested id
var ErrDefinitionNotFound = errors.New("definition not found")

// Definition is a community-submitted explanation of a dictionary headword.
// It is the target that users vote on.
type Definition struct {
	CreatedAt    time.Time `json:"createdAt" db:"created_at"`
	ID           string    `json:"id" db:"id"`
	Headword     string    `json:"headword" db:"headword"`
	Content      string    `json:"content" db:"content"`
	AuthorUserID string    `json:"authorUserId" db:"author_user_id"`
	Upvotes      int       `json:"upvotes" db:"upvotes"`
	Downvotes    int       `json:"downvotes" db:"downvotes"`
	VoteScore    int       `json:"voteScore" db:"vote_score"`
}

// Repository reads definitions
type Repository interface {
	GetByID(ctx context.Context, id string) (*Definition, error)

	// ListByIDs returns the definitions that exist among ids, in no particular order
	ListByIDs(ctx context.Context, ids []string) ([]*Definition, error)
}
