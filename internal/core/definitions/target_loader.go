package definitions

import (
	"context"
	"errors"
	"fmt"

	"Sutian/internal/core/votes"
)

// TargetLoader adapts a definition Repository to the vote coordinator
type TargetLoader struct {
	repo Repository
}

// NewTargetLoader creates a loader backed by repo
func NewTargetLoader(repo Repository) *TargetLoader {
	return &TargetLoader{repo: repo}
}

// LoadTarget implements votes.TargetLoader
func (l *TargetLoader) LoadTarget(ctx context.Context, id string) (*votes.Target, error) {
	def, err := l.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrDefinitionNotFound) {
			return nil, fmt.Errorf("definition %s: %w", id, votes.ErrNotFound)
		}
		return nil, err
	}
	t := ToTarget(def)
	return &t, nil
}

// Preload registers every existing definition among ids with the coordinator
func (l *TargetLoader) Preload(ctx context.Context, coord *votes.Coordinator, ids []string) (int, error) {
	defs, err := l.repo.ListByIDs(ctx, ids)
	if err != nil {
		return 0, fmt.Errorf("failed to preload definitions: %w", err)
	}
	for _, def := range defs {
		coord.RegisterTarget(ToTarget(def))
	}
	return len(defs), nil
}

// ToTarget is the vote core's view of a definition
func ToTarget(def *Definition) votes.Target {
	return votes.Target{
		ID:           def.ID,
		AuthorUserID: def.AuthorUserID,
		VoteScore:    def.VoteScore,
		Upvotes:      def.Upvotes,
		Downvotes:    def.Downvotes,
	}
}
