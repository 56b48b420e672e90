package votes

// Delta is the change a vote transition makes to a target's counters
type Delta struct {
	Score     int `json:"score"`
	Upvotes   int `json:"upvotes"`
	Downvotes int `json:"downvotes"`
}

// TransitionDelta returns the counter change for moving from prev to next.
// A nil vote type means "no vote".
//
//	none -> up    +1 +1  0
//	none -> down  -1  0 +1
//	up   -> down  -2 -1 +1
//	down -> up    +2 +1 -1
//	up   -> none  -1 -1  0
//	down -> none  +1  0 -1
func TransitionDelta(prev, next *VoteType) Delta {
	return contribution(next).sub(contribution(prev))
}

// Inverse undoes d
func (d Delta) Inverse() Delta {
	return Delta{Score: -d.Score, Upvotes: -d.Upvotes, Downvotes: -d.Downvotes}
}

// IsZero reports whether d changes nothing
func (d Delta) IsZero() bool {
	return d == Delta{}
}

func (d Delta) sub(o Delta) Delta {
	return Delta{Score: d.Score - o.Score, Upvotes: d.Upvotes - o.Upvotes, Downvotes: d.Downvotes - o.Downvotes}
}

func contribution(t *VoteType) Delta {
	if t == nil {
		return Delta{}
	}
	switch *t {
	case VoteUp:
		return Delta{Score: 1, Upvotes: 1}
	case VoteDown:
		return Delta{Score: -1, Downvotes: 1}
	}
	return Delta{}
}

// apply adds d to the target's counters
func (t *Target) apply(d Delta) {
	t.VoteScore += d.Score
	t.Upvotes += d.Upvotes
	t.Downvotes += d.Downvotes
}

func (t *Target) setCounters(agg Aggregate) {
	t.VoteScore = agg.Score
	t.Upvotes = agg.Upvotes
	t.Downvotes = agg.Downvotes
}
