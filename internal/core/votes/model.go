package votes

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// VoteModel is the in-memory index of who voted what on which target.
// It performs no I/O. All three indexes are changed only through index/unindex,
// so a vote is either present in all of them or in none.
type VoteModel struct {
	byID     map[string]*Vote
	byUser   map[string]map[string]*Vote // userID -> targetID -> vote
	byTarget map[string][]*Vote          // targetID -> votes
	now      func() time.Time
	newID    func() string
	mu       sync.RWMutex
}

// ModelOption customizes a VoteModel
type ModelOption func(*VoteModel)

// WithModelClock overrides the clock used for vote timestamps
func WithModelClock(now func() time.Time) ModelOption {
	return func(m *VoteModel) { m.now = now }
}

// WithIDGenerator overrides how new vote ids are minted
func WithIDGenerator(newID func() string) ModelOption {
	return func(m *VoteModel) { m.newID = newID }
}

// NewVoteModel creates an empty vote index
func NewVoteModel(opts ...ModelOption) *VoteModel {
	m := &VoteModel{
		byID:     make(map[string]*Vote),
		byUser:   make(map[string]map[string]*Vote),
		byTarget: make(map[string][]*Vote),
		now:      func() time.Time { return time.Now().UTC() },
		newID:    func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateVote records userID's vote on req.TargetID.
//   - voting on your own target fails with SELF_VOTE
//   - repeating the same vote type fails with DUPLICATE_VOTE
//   - a different vote type replaces the existing vote (same id, new type and timestamp)
//
// Input shape is validated by the caller; only business rules are checked here.
func (m *VoteModel) CreateVote(req CreateVoteRequest, userID, targetAuthorID string) (*Vote, error) {
	if userID == targetAuthorID {
		return nil, ErrSelfVote
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if existing := m.byUser[userID][req.TargetID]; existing != nil {
		if existing.VoteType == req.VoteType {
			return nil, newError(KindDuplicateVote, "you have already cast a %s on this definition", req.VoteType)
		}
		updated := existing.clone()
		updated.VoteType = req.VoteType
		updated.CreatedAt = m.now()
		m.put(updated)
		return updated.clone(), nil
	}

	vote := &Vote{
		ID:        m.newID(),
		TargetID:  req.TargetID,
		UserID:    userID,
		VoteType:  req.VoteType,
		CreatedAt: m.now(),
	}
	m.put(vote)
	return vote.clone(), nil
}

// RemoveVote deletes a vote. Only the vote's owner may remove it.
func (m *VoteModel) RemoveVote(voteID, requestingUserID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	vote, ok := m.byID[voteID]
	if !ok {
		return false, newError(KindNotFound, "vote %s not found", voteID)
	}
	if vote.UserID != requestingUserID {
		return false, ErrForbidden
	}

	m.unindex(vote)
	return true, nil
}

// GetVote returns a copy of the vote with the given id
func (m *VoteModel) GetVote(voteID string) (*Vote, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	vote, ok := m.byID[voteID]
	return vote.clone(), ok
}

// GetUserVote returns a copy of userID's vote on targetID
func (m *VoteModel) GetUserVote(userID, targetID string) (*Vote, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	vote, ok := m.byUser[userID][targetID]
	return vote.clone(), ok
}

// GetVotesForUser returns copies of every vote by userID, keyed by target
func (m *VoteModel) GetVotesForUser(userID string) map[string]*Vote {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make(map[string]*Vote, len(m.byUser[userID]))
	for targetID, v := range m.byUser[userID] {
		out[targetID] = v.clone()
	}
	return out
}

// GetVoteSummary counts the votes on targetID. If userID is non-empty the
// summary also carries that user's current vote type.
func (m *VoteModel) GetVoteSummary(targetID, userID string) VoteSummary {
	m.mu.RLock()
	defer m.mu.RUnlock()

	summary := VoteSummary{TargetID: targetID}
	for _, v := range m.byTarget[targetID] {
		switch v.VoteType {
		case VoteUp:
			summary.Upvotes++
		case VoteDown:
			summary.Downvotes++
		}
	}
	summary.Score = summary.Upvotes - summary.Downvotes

	if userID != "" {
		if v, ok := m.byUser[userID][targetID]; ok {
			summary.UserVote = v.VoteType.Ptr()
		}
	}
	return summary
}

// CalculateScore returns upvotes minus downvotes for targetID, 0 when there are no votes
func (m *VoteModel) CalculateScore(targetID string) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return scoreOf(m.byTarget[targetID])
}

// GetTopVotedTargets ranks targets by score, highest first. Equal scores are
// ordered by target id ascending. limit <= 0 returns every target.
func (m *VoteModel) GetTopVotedTargets(limit int) []TargetScore {
	m.mu.RLock()
	ranked := make([]TargetScore, 0, len(m.byTarget))
	for targetID, list := range m.byTarget {
		ranked = append(ranked, TargetScore{TargetID: targetID, Score: scoreOf(list)})
	}
	m.mu.RUnlock()

	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].TargetID < ranked[j].TargetID
	})

	if limit > 0 && len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return ranked
}

// GetUserVoteCount counts userID's votes, optionally restricted to votes whose
// CreatedAt falls inside window
func (m *VoteModel) GetUserVoteCount(userID string, window *TimeWindow) int {
	m.mu.RLock()
	defer m.mu.RUnlock()

	count := 0
	for _, v := range m.byUser[userID] {
		if window.contains(v.CreatedAt) {
			count++
		}
	}
	return count
}

// HasUserReachedVoteLimit reports whether userID already has limit or more votes in window
func (m *VoteModel) HasUserReachedVoteLimit(userID string, limit int, window *TimeWindow) bool {
	return m.GetUserVoteCount(userID, window) >= limit
}

// ValidateIntegrity cross-checks the three indexes. It never mutates.
func (m *VoteModel) ValidateIntegrity() IntegrityReport {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var errs []string

	for userID, targets := range m.byUser {
		for targetID, v := range targets {
			stored, ok := m.byID[v.ID]
			switch {
			case !ok:
				errs = append(errs, fmt.Sprintf("byUser[%s][%s]: vote %s missing from byId", userID, targetID, v.ID))
			case stored.UserID != userID || stored.TargetID != targetID:
				errs = append(errs, fmt.Sprintf("byUser[%s][%s]: vote %s belongs to user %s target %s",
					userID, targetID, v.ID, stored.UserID, stored.TargetID))
			case stored.VoteType != v.VoteType:
				errs = append(errs, fmt.Sprintf("byUser[%s][%s]: vote %s type %s differs from byId type %s",
					userID, targetID, v.ID, v.VoteType, stored.VoteType))
			}
		}
	}

	for targetID, list := range m.byTarget {
		seen := make(map[string]string, len(list)) // userID -> voteID
		for _, v := range list {
			stored, ok := m.byID[v.ID]
			switch {
			case !ok:
				errs = append(errs, fmt.Sprintf("byTarget[%s]: vote %s missing from byId", targetID, v.ID))
			case stored.TargetID != targetID || stored.UserID != v.UserID:
				errs = append(errs, fmt.Sprintf("byTarget[%s]: vote %s belongs to user %s target %s",
					targetID, v.ID, stored.UserID, stored.TargetID))
			}
			if other, dup := seen[v.UserID]; dup {
				errs = append(errs, fmt.Sprintf("user %s has two votes on target %s (%s, %s)", v.UserID, targetID, other, v.ID))
			}
			seen[v.UserID] = v.ID
		}
	}

	for id, v := range m.byID {
		if v.ID != id {
			errs = append(errs, fmt.Sprintf("byId[%s]: holds vote with id %s", id, v.ID))
		}
		if indexed, ok := m.byUser[v.UserID][v.TargetID]; !ok || indexed.ID != id {
			errs = append(errs, fmt.Sprintf("byId[%s]: not reachable from byUser[%s][%s]", id, v.UserID, v.TargetID))
		}
	}

	return IntegrityReport{IsValid: len(errs) == 0, Errors: errs}
}

// Len returns the number of votes held
func (m *VoteModel) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.byID)
}

// Restore puts the (userID, targetID) pair back to snapshot. A nil snapshot
// means the pair had no vote. Used to undo an optimistic change.
func (m *VoteModel) Restore(userID, targetID string, snapshot *Vote) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if current := m.byUser[userID][targetID]; current != nil {
		m.unindex(current)
	}
	if snapshot != nil {
		m.put(snapshot.clone())
	}
}

// ApplyRemote stores a vote that the remote store already accepted, bypassing
// business rules. It returns the vote previously held for the same pair.
func (m *VoteModel) ApplyRemote(v Vote) *Vote {
	m.mu.Lock()
	defer m.mu.Unlock()

	prev := m.byUser[v.UserID][v.TargetID].clone()
	if v.ID == "" {
		if prev != nil {
			v.ID = prev.ID
		} else {
			v.ID = m.newID()
		}
	}
	if v.CreatedAt.IsZero() {
		v.CreatedAt = m.now()
	}
	m.put(&v)
	return prev
}

// DeleteRemote drops the pair's vote, if any, and returns it
func (m *VoteModel) DeleteRemote(userID, targetID string) *Vote {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.byUser[userID][targetID]
	if current == nil {
		return nil
	}
	m.unindex(current)
	return current.clone()
}

// Load replaces the whole index with votes. Later entries win when two votes
// share a (user, target) pair.
func (m *VoteModel) Load(votes []*Vote) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.byID = make(map[string]*Vote, len(votes))
	m.byUser = make(map[string]map[string]*Vote)
	m.byTarget = make(map[string][]*Vote)
	for _, v := range votes {
		if v == nil {
			continue
		}
		m.put(v.clone())
	}
}

// put stores v, replacing whatever vote the pair or the id held before.
// Must be called with the write lock held.
func (m *VoteModel) put(v *Vote) {
	if current := m.byUser[v.UserID][v.TargetID]; current != nil {
		m.unindex(current)
	}
	if current, ok := m.byID[v.ID]; ok {
		m.unindex(current)
	}
	m.index(v)
}

// index and unindex are the only functions that touch the maps
func (m *VoteModel) index(v *Vote) {
	m.byID[v.ID] = v

	targets := m.byUser[v.UserID]
	if targets == nil {
		targets = make(map[string]*Vote)
		m.byUser[v.UserID] = targets
	}
	targets[v.TargetID] = v

	m.byTarget[v.TargetID] = append(m.byTarget[v.TargetID], v)
}

func (m *VoteModel) unindex(v *Vote) {
	delete(m.byID, v.ID)

	if targets := m.byUser[v.UserID]; targets != nil {
		if targets[v.TargetID] != nil && targets[v.TargetID].ID == v.ID {
			delete(targets, v.TargetID)
		}
		if len(targets) == 0 {
			delete(m.byUser, v.UserID)
		}
	}

	list := m.byTarget[v.TargetID]
	kept := list[:0]
	for _, other := range list {
		if other.ID != v.ID {
			kept = append(kept, other)
		}
	}
	if len(kept) == 0 {
		delete(m.byTarget, v.TargetID)
	} else {
		m.byTarget[v.TargetID] = kept
	}
}

func scoreOf(list []*Vote) int {
	score := 0
	for _, v := range list {
		switch v.VoteType {
		case VoteUp:
			score++
		case VoteDown:
			score--
		}
	}
	return score
}
