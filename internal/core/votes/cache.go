package votes

import (
	"log/slog"
	"sync"
	"time"
)

// CachedVote is a user's vote as held in the display cache
type CachedVote struct {
	VoteType VoteType
	VoteID   string
}

// VoteCache is the per-user display cache of votes ("userVotes"). It is kept in
// lockstep with remote state: written optimistically, rolled back on failure.
type VoteCache struct {
	votes    map[string]map[string]*CachedVote // userID -> targetID -> vote
	hydrated map[string]time.Time              // userID -> last bulk hydrate
	logger   *slog.Logger
	mu       sync.RWMutex
}

// NewVoteCache creates an empty vote cache
func NewVoteCache(logger *slog.Logger) *VoteCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &VoteCache{
		votes:    make(map[string]map[string]*CachedVote),
		hydrated: make(map[string]time.Time),
		logger:   logger,
	}
}

// GetVotesForUser returns a copy of all cached votes for a user
func (c *VoteCache) GetVotesForUser(userID string) map[string]CachedVote {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make(map[string]CachedVote, len(c.votes[userID]))
	for targetID, v := range c.votes[userID] {
		out[targetID] = *v
	}
	return out
}

// GetVote returns a copy of the cached vote for a target, or nil
func (c *VoteCache) GetVote(userID, targetID string) *CachedVote {
	c.mu.RLock()
	defer c.mu.RUnlock()

	v := c.votes[userID][targetID]
	if v == nil {
		return nil
	}
	cp := *v
	return &cp
}

// HydratedAt returns when the user's votes were last bulk loaded
func (c *VoteCache) HydratedAt(userID string) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	at, ok := c.hydrated[userID]
	return at, ok
}

// MergeVotesForUser stores a bulk-loaded set of votes. Targets in targetIDs that
// are absent from votes are cleared, other cached targets are left alone.
func (c *VoteCache) MergeVotesForUser(userID string, targetIDs []string, votes map[string]*CachedVote) {
	c.mu.Lock()
	defer c.mu.Unlock()

	userVotes := c.votes[userID]
	if userVotes == nil {
		userVotes = make(map[string]*CachedVote)
		c.votes[userID] = userVotes
	}
	for _, targetID := range targetIDs {
		if _, ok := votes[targetID]; !ok {
			delete(userVotes, targetID)
		}
	}
	for targetID, v := range votes {
		cp := *v
		userVotes[targetID] = &cp
	}
	c.hydrated[userID] = time.Now()

	c.logger.Debug("vote cache hydrated",
		"user", userID,
		"vote_count", len(votes))
}

// SetVote adds or updates a single vote in the cache
func (c *VoteCache) SetVote(userID, targetID string, vote *CachedVote) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.votes[userID] == nil {
		c.votes[userID] = make(map[string]*CachedVote)
	}
	cp := *vote
	c.votes[userID][targetID] = &cp

	c.logger.Debug("vote cached",
		"user", userID,
		"target", targetID,
		"vote_type", vote.VoteType)
}

// RemoveVote removes a vote from the cache
func (c *VoteCache) RemoveVote(userID, targetID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.votes[userID] != nil {
		delete(c.votes[userID], targetID)
		if len(c.votes[userID]) == 0 {
			delete(c.votes, userID)
		}

		c.logger.Debug("vote removed from cache",
			"user", userID,
			"target", targetID)
	}
}

// Restore puts a previously snapshotted entry back; nil removes the entry
func (c *VoteCache) Restore(userID, targetID string, snapshot *CachedVote) {
	if snapshot == nil {
		c.RemoveVote(userID, targetID)
		return
	}
	c.SetVote(userID, targetID, snapshot)
}

// Users returns every user with cached votes or a recorded hydration
func (c *VoteCache) Users() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	seen := make(map[string]struct{}, len(c.votes)+len(c.hydrated))
	for userID := range c.votes {
		seen[userID] = struct{}{}
	}
	for userID := range c.hydrated {
		seen[userID] = struct{}{}
	}
	users := make([]string, 0, len(seen))
	for userID := range seen {
		users = append(users, userID)
	}
	return users
}

// Invalidate removes all cached votes for a user
func (c *VoteCache) Invalidate(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.votes, userID)
	delete(c.hydrated, userID)

	c.logger.Debug("vote cache invalidated", "user", userID)
}
