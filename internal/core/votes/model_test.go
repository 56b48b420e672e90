package votes

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	alice  = "alice"
	bob    = "bob"
	carol  = "carol"
	author = "author"
	defA   = "11111111-1111-4111-8111-111111111111"
	defB   = "22222222-2222-4222-8222-222222222222"
	defC   = "33333333-3333-4333-8333-333333333333"
)

// newTestModel returns a model with deterministic ids and a settable clock
func newTestModel(t *testing.T) (*VoteModel, *time.Time) {
	t.Helper()
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	seq := 0
	m := NewVoteModel(
		WithModelClock(func() time.Time { return now }),
		WithIDGenerator(func() string {
			seq++
			return fmt.Sprintf("vote-%d", seq)
		}),
	)
	return m, &now
}

func castVote(t *testing.T, m *VoteModel, userID, targetID string, vt VoteType) *Vote {
	t.Helper()
	v, err := m.CreateVote(CreateVoteRequest{TargetID: targetID, VoteType: vt}, userID, author)
	require.NoError(t, err)
	return v
}

func TestVoteModel_CreateVote(t *testing.T) {
	m, now := newTestModel(t)

	v := castVote(t, m, alice, defA, VoteUp)

	assert.Equal(t, "vote-1", v.ID)
	assert.Equal(t, alice, v.UserID)
	assert.Equal(t, defA, v.TargetID)
	assert.Equal(t, VoteUp, v.VoteType)
	assert.Equal(t, *now, v.CreatedAt)
	assert.Equal(t, 1, m.Len())

	stored, ok := m.GetUserVote(alice, defA)
	require.True(t, ok)
	assert.Equal(t, v, stored)
}

func TestVoteModel_CreateVote_SelfVote(t *testing.T) {
	m, _ := newTestModel(t)

	_, err := m.CreateVote(CreateVoteRequest{TargetID: defA, VoteType: VoteUp}, author, author)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSelfVote)
	assert.Equal(t, KindSelfVote, KindOf(err))
	assert.Equal(t, 0, m.Len())
	assert.True(t, m.ValidateIntegrity().IsValid)
}

func TestVoteModel_CreateVote_Duplicate(t *testing.T) {
	m, _ := newTestModel(t)
	first := castVote(t, m, alice, defA, VoteUp)

	_, err := m.CreateVote(CreateVoteRequest{TargetID: defA, VoteType: VoteUp}, alice, author)

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateVote)
	assert.Contains(t, err.Error(), "upvote")

	stored, ok := m.GetVote(first.ID)
	require.True(t, ok)
	assert.Equal(t, first, stored, "duplicate must leave the model unchanged")
	assert.Equal(t, 1, m.Len())
}

func TestVoteModel_CreateVote_ChangesType(t *testing.T) {
	m, now := newTestModel(t)
	first := castVote(t, m, alice, defA, VoteUp)

	*now = now.Add(time.Minute)
	changed := castVote(t, m, alice, defA, VoteDown)

	assert.Equal(t, first.ID, changed.ID, "changing type keeps the vote id")
	assert.Equal(t, VoteDown, changed.VoteType)
	assert.Equal(t, *now, changed.CreatedAt)
	assert.Equal(t, 1, m.Len())
	assert.Equal(t, -1, m.CalculateScore(defA))

	summary := m.GetVoteSummary(defA, alice)
	assert.Equal(t, 0, summary.Upvotes)
	assert.Equal(t, 1, summary.Downvotes)
	assert.True(t, m.ValidateIntegrity().IsValid)
}

func TestVoteModel_ReturnsCopies(t *testing.T) {
	m, _ := newTestModel(t)
	v := castVote(t, m, alice, defA, VoteUp)

	v.VoteType = VoteDown
	v.UserID = "mallory"

	stored, ok := m.GetVote(v.ID)
	require.True(t, ok)
	assert.Equal(t, VoteUp, stored.VoteType)
	assert.Equal(t, alice, stored.UserID)
	assert.True(t, m.ValidateIntegrity().IsValid)
}

func TestVoteModel_RemoveVote(t *testing.T) {
	tests := []struct {
		name      string
		voteID    func(v *Vote) string
		requester string
		wantKind  ErrorKind
		wantLen   int
	}{
		{
			name:      "owner removes vote",
			voteID:    func(v *Vote) string { return v.ID },
			requester: alice,
			wantLen:   0,
		},
		{
			name:      "unknown vote id",
			voteID:    func(*Vote) string { return "missing" },
			requester: alice,
			wantKind:  KindNotFound,
			wantLen:   1,
		},
		{
			name:      "other user cannot remove",
			voteID:    func(v *Vote) string { return v.ID },
			requester: bob,
			wantKind:  KindForbidden,
			wantLen:   1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestModel(t)
			v := castVote(t, m, alice, defA, VoteUp)

			removed, err := m.RemoveVote(tt.voteID(v), tt.requester)

			if tt.wantKind != "" {
				require.Error(t, err)
				assert.False(t, removed)
				assert.Equal(t, tt.wantKind, KindOf(err))
			} else {
				require.NoError(t, err)
				assert.True(t, removed)
				_, ok := m.GetUserVote(alice, defA)
				assert.False(t, ok)
			}
			assert.Equal(t, tt.wantLen, m.Len())
			assert.True(t, m.ValidateIntegrity().IsValid)
		})
	}
}

func TestVoteModel_SummaryMatchesIndexes(t *testing.T) {
	m, _ := newTestModel(t)
	castVote(t, m, alice, defA, VoteUp)
	castVote(t, m, bob, defA, VoteUp)
	castVote(t, m, carol, defA, VoteDown)
	castVote(t, m, alice, defB, VoteDown)

	summary := m.GetVoteSummary(defA, carol)

	assert.Equal(t, defA, summary.TargetID)
	assert.Equal(t, 2, summary.Upvotes)
	assert.Equal(t, 1, summary.Downvotes)
	assert.Equal(t, summary.Upvotes-summary.Downvotes, summary.Score)
	assert.Equal(t, summary.Score, m.CalculateScore(defA))
	require.NotNil(t, summary.UserVote)
	assert.Equal(t, VoteDown, *summary.UserVote)

	anon := m.GetVoteSummary(defA, "")
	assert.Nil(t, anon.UserVote)

	none := m.GetVoteSummary(defA, "nobody")
	assert.Nil(t, none.UserVote)
}

func TestVoteModel_CalculateScore_NoVotes(t *testing.T) {
	m, _ := newTestModel(t)

	assert.Equal(t, 0, m.CalculateScore(defC))
	summary := m.GetVoteSummary(defC, alice)
	assert.Equal(t, VoteSummary{TargetID: defC}, summary)
}

func TestVoteModel_GetTopVotedTargets(t *testing.T) {
	m, _ := newTestModel(t)
	// defA: +2, defB: -1, defC: +2
	castVote(t, m, alice, defA, VoteUp)
	castVote(t, m, bob, defA, VoteUp)
	castVote(t, m, alice, defB, VoteDown)
	castVote(t, m, carol, defC, VoteUp)
	castVote(t, m, bob, defC, VoteUp)

	tests := []struct {
		name  string
		limit int
		want  []TargetScore
	}{
		{
			name:  "all targets with ties broken by id",
			limit: 0,
			want: []TargetScore{
				{TargetID: defA, Score: 2},
				{TargetID: defC, Score: 2},
				{TargetID: defB, Score: -1},
			},
		},
		{
			name:  "limited",
			limit: 2,
			want: []TargetScore{
				{TargetID: defA, Score: 2},
				{TargetID: defC, Score: 2},
			},
		},
		{
			name:  "limit above count",
			limit: 10,
			want: []TargetScore{
				{TargetID: defA, Score: 2},
				{TargetID: defC, Score: 2},
				{TargetID: defB, Score: -1},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, m.GetTopVotedTargets(tt.limit))
		})
	}
}

func TestVoteModel_GetTopVotedTargets_DropsEmptyTargets(t *testing.T) {
	m, _ := newTestModel(t)
	v := castVote(t, m, alice, defA, VoteUp)
	_, err := m.RemoveVote(v.ID, alice)
	require.NoError(t, err)

	assert.Empty(t, m.GetTopVotedTargets(0))
}

func TestVoteModel_UserVoteCountAndLimit(t *testing.T) {
	m, now := newTestModel(t)
	start := *now

	castVote(t, m, alice, defA, VoteUp)
	*now = now.Add(30 * time.Minute)
	castVote(t, m, alice, defB, VoteUp)
	*now = now.Add(2 * time.Hour)
	castVote(t, m, alice, defC, VoteDown)

	assert.Equal(t, 3, m.GetUserVoteCount(alice, nil))
	assert.Equal(t, 0, m.GetUserVoteCount(bob, nil))

	firstHour := &TimeWindow{Start: start, End: start.Add(time.Hour)}
	assert.Equal(t, 2, m.GetUserVoteCount(alice, firstHour))

	inclusive := &TimeWindow{Start: start, End: start}
	assert.Equal(t, 1, m.GetUserVoteCount(alice, inclusive), "window ends are inclusive")

	assert.True(t, m.HasUserReachedVoteLimit(alice, 2, firstHour))
	assert.False(t, m.HasUserReachedVoteLimit(alice, 3, firstHour))
	assert.True(t, m.HasUserReachedVoteLimit(bob, 0, nil))
}

func TestVoteModel_ValidateIntegrity_DetectsCorruption(t *testing.T) {
	tests := []struct {
		name    string
		corrupt func(m *VoteModel, v *Vote)
	}{
		{
			name: "missing from byId",
			corrupt: func(m *VoteModel, v *Vote) {
				delete(m.byID, v.ID)
			},
		},
		{
			name: "missing from byUser",
			corrupt: func(m *VoteModel, v *Vote) {
				delete(m.byUser[v.UserID], v.TargetID)
			},
		},
		{
			name: "type mismatch between indexes",
			corrupt: func(m *VoteModel, v *Vote) {
				stale := *m.byID[v.ID]
				stale.VoteType = VoteDown
				m.byUser[v.UserID][v.TargetID] = &stale
			},
		},
		{
			name: "two votes for one user on a target",
			corrupt: func(m *VoteModel, v *Vote) {
				extra := &Vote{ID: "extra", UserID: v.UserID, TargetID: v.TargetID, VoteType: VoteDown}
				m.byTarget[v.TargetID] = append(m.byTarget[v.TargetID], extra)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestModel(t)
			v := castVote(t, m, alice, defA, VoteUp)
			castVote(t, m, bob, defA, VoteUp)
			require.True(t, m.ValidateIntegrity().IsValid)

			tt.corrupt(m, v)
			report := m.ValidateIntegrity()

			assert.False(t, report.IsValid)
			assert.NotEmpty(t, report.Errors)
		})
	}
}

func TestVoteModel_ValidateIntegrity_DoesNotMutate(t *testing.T) {
	m, _ := newTestModel(t)
	castVote(t, m, alice, defA, VoteUp)
	delete(m.byID, "vote-1")

	first := m.ValidateIntegrity()
	second := m.ValidateIntegrity()

	assert.Equal(t, first, second)
	assert.Len(t, m.byTarget[defA], 1)
}

func TestVoteModel_Restore(t *testing.T) {
	m, _ := newTestModel(t)
	original := castVote(t, m, alice, defA, VoteUp)

	castVote(t, m, alice, defA, VoteDown)
	m.Restore(alice, defA, original)

	stored, ok := m.GetUserVote(alice, defA)
	require.True(t, ok)
	assert.Equal(t, original, stored)

	m.Restore(alice, defA, nil)
	_, ok = m.GetUserVote(alice, defA)
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
	assert.True(t, m.ValidateIntegrity().IsValid)
}

func TestVoteModel_ApplyRemote(t *testing.T) {
	m, _ := newTestModel(t)
	local := castVote(t, m, alice, defA, VoteUp)

	prev := m.ApplyRemote(Vote{ID: "row-9", UserID: alice, TargetID: defA, VoteType: VoteDown})

	require.NotNil(t, prev)
	assert.Equal(t, local.ID, prev.ID)
	_, ok := m.GetVote(local.ID)
	assert.False(t, ok, "re-keyed vote drops the old id")

	stored, ok := m.GetUserVote(alice, defA)
	require.True(t, ok)
	assert.Equal(t, "row-9", stored.ID)
	assert.Equal(t, VoteDown, stored.VoteType)
	assert.False(t, stored.CreatedAt.IsZero())
	assert.Equal(t, 1, m.Len())
	assert.True(t, m.ValidateIntegrity().IsValid)

	// Remote votes bypass the self-vote rule: the store already accepted them
	assert.Nil(t, m.ApplyRemote(Vote{UserID: author, TargetID: defA, VoteType: VoteUp}))
	assert.Equal(t, 2, m.Len())
}

func TestVoteModel_DeleteRemote(t *testing.T) {
	m, _ := newTestModel(t)
	v := castVote(t, m, alice, defA, VoteUp)

	removed := m.DeleteRemote(alice, defA)
	require.NotNil(t, removed)
	assert.Equal(t, v.ID, removed.ID)
	assert.Nil(t, m.DeleteRemote(alice, defA))
	assert.Equal(t, 0, m.Len())
}

func TestVoteModel_Load(t *testing.T) {
	m, _ := newTestModel(t)
	castVote(t, m, alice, defC, VoteUp)

	m.Load([]*Vote{
		{ID: "a", UserID: alice, TargetID: defA, VoteType: VoteUp},
		{ID: "b", UserID: bob, TargetID: defA, VoteType: VoteDown},
		nil,
		{ID: "c", UserID: bob, TargetID: defA, VoteType: VoteUp},
	})

	assert.Equal(t, 2, m.Len(), "later entry replaces the earlier vote of the same pair")
	assert.Equal(t, 2, m.CalculateScore(defA))
	assert.Equal(t, 0, m.CalculateScore(defC))
	assert.True(t, m.ValidateIntegrity().IsValid)
}

func TestVoteModel_GetVotesForUser(t *testing.T) {
	m, _ := newTestModel(t)
	castVote(t, m, alice, defA, VoteUp)
	castVote(t, m, alice, defB, VoteDown)
	castVote(t, m, bob, defA, VoteDown)

	held := m.GetVotesForUser(alice)

	require.Len(t, held, 2)
	assert.Equal(t, VoteUp, held[defA].VoteType)
	assert.Equal(t, VoteDown, held[defB].VoteType)
	held[defA].VoteType = VoteDown
	v, _ := m.GetUserVote(alice, defA)
	assert.Equal(t, VoteUp, v.VoteType, "returned votes are copies")
	assert.Empty(t, m.GetVotesForUser(carol))
}

func TestVoteModel_IntegrityAfterMixedOperations(t *testing.T) {
	m, _ := newTestModel(t)
	users := []string{alice, bob, carol}
	targets := []string{defA, defB, defC}

	for i := 0; i < 30; i++ {
		user := users[i%len(users)]
		target := targets[(i/len(users))%len(targets)]
		vt := VoteUp
		if i%2 == 0 {
			vt = VoteDown
		}
		_, _ = m.CreateVote(CreateVoteRequest{TargetID: target, VoteType: vt}, user, author)
		if i%7 == 0 {
			if v, ok := m.GetUserVote(user, target); ok {
				_, err := m.RemoveVote(v.ID, user)
				require.NoError(t, err)
			}
		}
		require.True(t, m.ValidateIntegrity().IsValid, "iteration %d", i)
	}

	for _, target := range targets {
		s := m.GetVoteSummary(target, "")
		assert.Equal(t, s.Upvotes-s.Downvotes, m.CalculateScore(target))
		assert.LessOrEqual(t, s.Upvotes+s.Downvotes, len(users))
	}
}
