package votes

import (
	"errors"
	"fmt"
	"time"
)

// Config validation errors
var (
	// ErrInvalidRemoteTimeout is returned when RemoteTimeout is not positive
	ErrInvalidRemoteTimeout = errors.New("RemoteTimeout must be positive")
	// ErrInvalidTargetCacheSize is returned when TargetCacheSize is not positive
	ErrInvalidTargetCacheSize = errors.New("TargetCacheSize must be positive")
	// ErrInvalidVoteLimit is returned when VoteLimit is negative
	ErrInvalidVoteLimit = errors.New("VoteLimit cannot be negative")
	// ErrInvalidVoteLimitWindow is returned when a vote limit is set without a window
	ErrInvalidVoteLimitWindow = errors.New("VoteLimitWindow must be positive when VoteLimit is set")
	// ErrInvalidUserVotesTTL is returned when UserVotesTTL is negative
	ErrInvalidUserVotesTTL = errors.New("UserVotesTTL cannot be negative")
	// ErrInvalidBreaker is returned when the circuit breaker settings are inconsistent
	ErrInvalidBreaker = errors.New("BreakerCooldown must be positive when BreakerThreshold is set")
)

// Config holds the Coordinator settings
type Config struct {
	// RemoteTimeout bounds every persistence call. A timed out call is rolled back.
	RemoteTimeout time.Duration

	// VoteLimit is the maximum number of new votes a user may cast within
	// VoteLimitWindow. 0 disables the limit. Changing an existing vote's type
	// does not count as a new vote.
	VoteLimit       int
	VoteLimitWindow time.Duration

	// BreakerThreshold is the number of consecutive persistence failures after
	// which calls fail fast for BreakerCooldown. 0 disables the breaker.
	BreakerThreshold int
	BreakerCooldown  time.Duration

	// TargetCacheSize is the number of definitions kept in the target cache
	TargetCacheSize int

	// AggregateRefreshPerSecond throttles counter refreshes after realtime
	// events. 0 disables the refresh and keeps the locally computed counters.
	AggregateRefreshPerSecond float64

	// UserVotesTTL is how long a user's bulk loaded votes are served from the
	// display cache before UserVotes fetches them again. 0 always refetches.
	UserVotesTTL time.Duration
}

// DefaultConfig returns the settings used when nothing is configured
func DefaultConfig() Config {
	return Config{
		RemoteTimeout:             10 * time.Second,
		VoteLimit:                 0,
		VoteLimitWindow:           time.Hour,
		BreakerThreshold:          5,
		BreakerCooldown:           30 * time.Second,
		TargetCacheSize:           10000,
		AggregateRefreshPerSecond: 20,
		UserVotesTTL:              5 * time.Minute,
	}
}

// Validate checks the configuration for invalid values
func (c Config) Validate() error {
	if c.RemoteTimeout <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidRemoteTimeout, c.RemoteTimeout)
	}
	if c.TargetCacheSize <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidTargetCacheSize, c.TargetCacheSize)
	}
	if c.VoteLimit < 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidVoteLimit, c.VoteLimit)
	}
	if c.VoteLimit > 0 && c.VoteLimitWindow <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidVoteLimitWindow, c.VoteLimitWindow)
	}
	if c.BreakerThreshold > 0 && c.BreakerCooldown <= 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidBreaker, c.BreakerCooldown)
	}
	if c.UserVotesTTL < 0 {
		return fmt.Errorf("%w: got %v", ErrInvalidUserVotesTTL, c.UserVotesTTL)
	}
	return nil
}
