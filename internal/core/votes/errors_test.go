package votes

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesByKind(t *testing.T) {
	err := newError(KindNotFound, "vote %s not found", "v1")

	assert.ErrorIs(t, err, ErrNotFound)
	assert.NotErrorIs(t, err, ErrForbidden)
	assert.True(t, IsNotFound(err))
	assert.True(t, IsNotFound(fmt.Errorf("lookup: %w", err)))
	assert.Equal(t, "vote v1 not found", err.Error())
}

func TestError_RemoteWrapsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := remoteError("persist vote", cause)

	assert.ErrorIs(t, err, ErrRemote)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, KindRemote, KindOf(err))
	assert.Equal(t, "failed to persist vote: connection reset", err.Error())
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(NewValidationError("voteType", "required")))
	assert.Equal(t, KindSelfVote, KindOf(fmt.Errorf("wrapped: %w", ErrSelfVote)))
	assert.Equal(t, ErrorKind(""), KindOf(errors.New("plain")))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
}

func TestIsConflict(t *testing.T) {
	assert.True(t, IsConflict(ErrSelfVote))
	assert.True(t, IsConflict(newError(KindDuplicateVote, "again")))
	assert.False(t, IsConflict(ErrNotFound))
}

func TestInputValidator(t *testing.T) {
	v := NewInputValidator()

	tests := []struct {
		name     string
		targetID string
		voteType VoteType
		wantErr  bool
	}{
		{name: "valid upvote", targetID: defA, voteType: VoteUp},
		{name: "valid downvote", targetID: defB, voteType: VoteDown},
		{name: "empty target", targetID: "", voteType: VoteUp, wantErr: true},
		{name: "target not a uuid", targetID: "def-1", voteType: VoteUp, wantErr: true},
		{name: "empty vote type", targetID: defA, voteType: "", wantErr: true},
		{name: "unknown vote type", targetID: defA, voteType: "sideways", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.ValidateVoteInput(tt.targetID, tt.voteType)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrValidation)
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestParseVoteType(t *testing.T) {
	vt, err := ParseVoteType("downvote")
	assert.NoError(t, err)
	assert.Equal(t, VoteDown, vt)

	_, err = ParseVoteType("UPVOTE")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(c *Config)
		wantErr error
	}{
		{name: "default config", modify: func(*Config) {}},
		{name: "zero timeout", modify: func(c *Config) { c.RemoteTimeout = 0 }, wantErr: ErrInvalidRemoteTimeout},
		{name: "zero cache size", modify: func(c *Config) { c.TargetCacheSize = 0 }, wantErr: ErrInvalidTargetCacheSize},
		{name: "negative vote limit", modify: func(c *Config) { c.VoteLimit = -1 }, wantErr: ErrInvalidVoteLimit},
		{
			name:    "vote limit without window",
			modify:  func(c *Config) { c.VoteLimit = 5; c.VoteLimitWindow = 0 },
			wantErr: ErrInvalidVoteLimitWindow,
		},
		{
			name:    "breaker without cooldown",
			modify:  func(c *Config) { c.BreakerThreshold = 3; c.BreakerCooldown = 0 },
			wantErr: ErrInvalidBreaker,
		},
		{name: "breaker disabled", modify: func(c *Config) { c.BreakerThreshold = 0; c.BreakerCooldown = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)
			err := cfg.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}
