package votes

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransitionDelta(t *testing.T) {
	up, down := VoteUp.Ptr(), VoteDown.Ptr()

	tests := []struct {
		prev *VoteType
		next *VoteType
		name string
		want Delta
	}{
		{name: "none to up", prev: nil, next: up, want: Delta{Score: 1, Upvotes: 1}},
		{name: "none to down", prev: nil, next: down, want: Delta{Score: -1, Downvotes: 1}},
		{name: "up to down", prev: up, next: down, want: Delta{Score: -2, Upvotes: -1, Downvotes: 1}},
		{name: "down to up", prev: down, next: up, want: Delta{Score: 2, Upvotes: 1, Downvotes: -1}},
		{name: "up to none", prev: up, next: nil, want: Delta{Score: -1, Upvotes: -1}},
		{name: "down to none", prev: down, next: nil, want: Delta{Score: 1, Downvotes: -1}},
		{name: "up to up", prev: up, next: up, want: Delta{}},
		{name: "none to none", prev: nil, next: nil, want: Delta{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := TransitionDelta(tt.prev, tt.next)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, got.Upvotes-got.Downvotes, got.Score)
			assert.Equal(t, tt.want.IsZero(), got.IsZero())

			// Applying a delta and its inverse is a no-op
			target := Target{VoteScore: 5, Upvotes: 7, Downvotes: 2}
			target.apply(got)
			target.apply(got.Inverse())
			assert.Equal(t, Target{VoteScore: 5, Upvotes: 7, Downvotes: 2}, target)
		})
	}
}

func TestTransitionDelta_ChainsToSummary(t *testing.T) {
	// none -> up -> down -> none leaves the counters where they started
	up, down := VoteUp.Ptr(), VoteDown.Ptr()
	target := Target{}

	target.apply(TransitionDelta(nil, up))
	assert.Equal(t, Target{VoteScore: 1, Upvotes: 1}, target)

	target.apply(TransitionDelta(up, down))
	assert.Equal(t, Target{VoteScore: -1, Downvotes: 1}, target)

	target.apply(TransitionDelta(down, nil))
	assert.Equal(t, Target{}, target)
}
