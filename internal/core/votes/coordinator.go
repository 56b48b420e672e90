package votes

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Coordinator bridges the VoteModel to remote persistence and realtime events.
// It applies vote changes optimistically, persists them, rolls back on failure
// and broadcasts every applied change to registered observers.
//
// Operations on the same (user, target) pair are serialized; other pairs run
// concurrently. Observers are called while that pair is locked, so an observer
// must not synchronously vote on the same pair. LoadFromStore excludes every
// pair operation while it rebuilds.
type Coordinator struct {
	model     *VoteModel
	store     Persistence
	identity  Identity
	validator Validator
	loader    TargetLoader
	targets   *TargetCache
	userVotes *VoteCache
	observers *observerSet
	locks     *keyedMutex
	resync    sync.RWMutex // held shared by pair operations, exclusively by LoadFromStore
	breaker   *circuitBreaker
	refresh   *rate.Limiter
	logger    *slog.Logger
	now       func() time.Time
	cfg       Config
}

// Option customizes a Coordinator
type Option func(*Coordinator)

// WithValidator replaces the default input validator
func WithValidator(v Validator) Option {
	return func(c *Coordinator) { c.validator = v }
}

// WithTargetLoader lets the coordinator load definitions missing from the cache
func WithTargetLoader(l TargetLoader) Option {
	return func(c *Coordinator) { c.loader = l }
}

// WithClock overrides the clock used for events and vote limits
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// NewCoordinator creates a coordinator around model. store and identity are
// required; pass a fresh NewVoteModel() when starting empty.
func NewCoordinator(model *VoteModel, store Persistence, identity Identity, cfg Config, logger *slog.Logger, opts ...Option) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid vote config: %w", err)
	}
	if model == nil || store == nil || identity == nil {
		return nil, fmt.Errorf("vote coordinator requires a model, a store and an identity provider")
	}
	if logger == nil {
		logger = slog.Default()
	}

	targets, err := NewTargetCache(cfg.TargetCacheSize)
	if err != nil {
		return nil, err
	}

	c := &Coordinator{
		model:     model,
		store:     store,
		identity:  identity,
		validator: NewInputValidator(),
		targets:   targets,
		userVotes: NewVoteCache(logger),
		observers: newObserverSet(logger),
		locks:     newKeyedMutex(),
		breaker:   newCircuitBreaker(cfg.BreakerThreshold, cfg.BreakerCooldown, logger),
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
		cfg:       cfg,
	}
	if cfg.AggregateRefreshPerSecond > 0 {
		burst := int(math.Ceil(cfg.AggregateRefreshPerSecond))
		c.refresh = rate.NewLimiter(rate.Limit(cfg.AggregateRefreshPerSecond), burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Model exposes the underlying vote index
func (c *Coordinator) Model() *VoteModel {
	return c.model
}

// RegisterTarget adds a loaded definition to the target cache
func (c *Coordinator) RegisterTarget(t Target) {
	c.targets.Put(t)
}

// LoadFromStore rebuilds the VoteModel from every stored vote, then resets the
// cached target counters and the per-user display cache from the new model.
// Used at startup and after a realtime reconnect, when events may have been
// missed.
func (c *Coordinator) LoadFromStore(ctx context.Context) (int, error) {
	c.resync.Lock()
	defer c.resync.Unlock()

	var records []*VoteRecord
	err := c.persist(ctx, "list_votes", func(ctx context.Context) error {
		var err error
		records, err = c.store.ListAll(ctx)
		return err
	})
	if err != nil {
		return 0, remoteError("load votes", err)
	}

	list := make([]*Vote, 0, len(records))
	for _, rec := range records {
		list = append(list, rec.toVote())
	}
	c.model.Load(list)

	targets := c.targets.Reconcile(c.modelAggregate)
	users := c.rebuildUserVotes(list)

	c.logger.Info("vote model loaded",
		"vote_count", c.model.Len(),
		"targets_reconciled", targets,
		"users_rebuilt", users)
	return c.model.Len(), nil
}

// HydrateUserVotes bulk loads userID's votes on targetIDs into the display
// cache. An empty targetIDs loads every vote by the user.
func (c *Coordinator) HydrateUserVotes(ctx context.Context, userID string, targetIDs []string) error {
	c.resync.RLock()
	defer c.resync.RUnlock()

	var records []*VoteRecord
	err := c.persist(ctx, "fetch_user_votes", func(ctx context.Context) error {
		var err error
		records, err = c.store.FetchVotesForUser(ctx, userID, targetIDs)
		return err
	})
	if err != nil {
		return remoteError("fetch user votes", err)
	}

	cached := make(map[string]*CachedVote, len(records))
	for _, rec := range records {
		if !rec.VoteType.Valid() {
			continue
		}
		cached[rec.TargetID] = &CachedVote{VoteType: rec.VoteType, VoteID: rec.ID}

		// A vote the model already holds may be newer than the fetched row
		unlock := c.locks.Lock(voteKey(userID, rec.TargetID))
		if current, ok := c.model.GetUserVote(userID, rec.TargetID); ok {
			cached[rec.TargetID] = &CachedVote{VoteType: current.VoteType, VoteID: current.ID}
		} else {
			v := rec.toVote()
			v.UserID = userID
			c.model.ApplyRemote(*v)
		}
		unlock()
	}

	stale := targetIDs
	if len(targetIDs) == 0 {
		// Full load: drop cached targets the store no longer has, unless the
		// model picked the vote up after the fetch.
		stale = nil
		for targetID := range c.userVotes.GetVotesForUser(userID) {
			if _, ok := cached[targetID]; ok {
				continue
			}
			if _, ok := c.model.GetUserVote(userID, targetID); !ok {
				stale = append(stale, targetID)
			}
		}
	}
	c.userVotes.MergeVotesForUser(userID, stale, cached)
	return nil
}

// UserVotes returns the current user's votes keyed by target, limited to
// targetIDs unless it is empty. The display cache is refilled from the store
// when its last bulk load is older than UserVotesTTL.
func (c *Coordinator) UserVotes(ctx context.Context, targetIDs []string) (map[string]VoteType, error) {
	user, err := c.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	for _, id := range targetIDs {
		if err := c.validator.ValidateTargetID(id); err != nil {
			return nil, err
		}
	}

	if at, ok := c.userVotes.HydratedAt(user.ID); !ok || time.Since(at) >= c.cfg.UserVotesTTL {
		if err := c.HydrateUserVotes(ctx, user.ID, nil); err != nil {
			return nil, err
		}
	}

	cached := c.userVotes.GetVotesForUser(user.ID)
	out := make(map[string]VoteType, len(cached))
	if len(targetIDs) == 0 {
		for targetID, v := range cached {
			out[targetID] = v.VoteType
		}
		return out, nil
	}
	for _, targetID := range targetIDs {
		if v, ok := cached[targetID]; ok {
			out[targetID] = v.VoteType
		}
	}
	return out, nil
}

// SubmitVote casts or changes the current user's vote on targetID
func (c *Coordinator) SubmitVote(ctx context.Context, targetID string, voteType VoteType) (*VoteResult, error) {
	user, err := c.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.validator.ValidateVoteInput(targetID, voteType); err != nil {
		return nil, err
	}
	target, err := c.resolveTarget(ctx, targetID)
	if err != nil {
		return nil, err
	}

	c.resync.RLock()
	defer c.resync.RUnlock()
	unlock := c.locks.Lock(voteKey(user.ID, targetID))
	defer unlock()

	prevVote, _ := c.model.GetUserVote(user.ID, targetID)
	if prevVote == nil && c.limitReached(user.ID) {
		return nil, newError(KindRateLimited, "vote limit of %d per %s reached", c.cfg.VoteLimit, c.cfg.VoteLimitWindow)
	}
	prevCached := c.userVotes.GetVote(user.ID, targetID)

	vote, err := c.model.CreateVote(CreateVoteRequest{TargetID: targetID, VoteType: voteType}, user.ID, target.AuthorUserID)
	if err != nil {
		return nil, err
	}

	prevType := voteTypeOf(prevVote)
	delta := TransitionDelta(prevType, &voteType)
	c.userVotes.SetVote(user.ID, targetID, &CachedVote{VoteType: voteType, VoteID: vote.ID})
	c.targets.BeginWrite(targetID)
	defer c.targets.EndWrite(targetID)
	c.targets.Apply(targetID, delta)

	var record *VoteRecord
	err = c.persist(ctx, "upsert_vote", func(ctx context.Context) error {
		var err error
		record, err = c.store.UpsertVote(ctx, targetID, user.ID, voteType)
		return err
	})
	if err != nil {
		c.rollback(user.ID, targetID, prevVote, prevCached, delta)
		c.logger.Error("failed to persist vote, local state rolled back",
			"error", err,
			"voter", user.ID,
			"target", targetID,
			"vote_type", voteType)
		return nil, remoteError("persist vote", err)
	}

	// Adopt the remote row id so realtime echoes line up with the local vote
	if record != nil && record.ID != "" && record.ID != vote.ID {
		vote.ID = record.ID
		if !record.CreatedAt.IsZero() {
			vote.CreatedAt = record.CreatedAt
		}
		c.model.ApplyRemote(*vote)
		c.userVotes.SetVote(user.ID, targetID, &CachedVote{VoteType: voteType, VoteID: vote.ID})
	}

	view := c.targetView(targetID, voteType.Ptr())

	c.logger.Info("vote submitted",
		"voter", user.ID,
		"target", targetID,
		"vote_type", voteType,
		"previous", derefType(prevType),
		"score", view.VoteScore)

	c.observers.broadcast(VoteUpdateEvent{
		TargetID:         targetID,
		UserID:           user.ID,
		NewVoteType:      voteType.Ptr(),
		PreviousVoteType: prevType,
		Timestamp:        c.now(),
		Source:           SourceLocal,
		Target:           view,
	})

	return &VoteResult{
		Vote:             vote,
		PreviousVoteType: prevType,
		NewVoteType:      voteType.Ptr(),
		Target:           view,
	}, nil
}

// RemoveVote deletes the current user's vote on targetID. Removing a vote that
// does not exist fails with NOT_FOUND.
func (c *Coordinator) RemoveVote(ctx context.Context, targetID string) (*VoteResult, error) {
	user, err := c.currentUser(ctx)
	if err != nil {
		return nil, err
	}
	if err := c.validator.ValidateTargetID(targetID); err != nil {
		return nil, err
	}

	c.resync.RLock()
	defer c.resync.RUnlock()
	unlock := c.locks.Lock(voteKey(user.ID, targetID))
	defer unlock()

	prevCached := c.userVotes.GetVote(user.ID, targetID)
	prevVote, ok := c.model.GetUserVote(user.ID, targetID)
	if !ok {
		if prevCached != nil {
			c.userVotes.RemoveVote(user.ID, targetID)
		}
		return nil, newError(KindNotFound, "no vote on definition %s to remove", targetID)
	}

	if _, err := c.model.RemoveVote(prevVote.ID, user.ID); err != nil {
		return nil, err
	}

	prevType := prevVote.VoteType.Ptr()
	delta := TransitionDelta(prevType, nil)
	c.userVotes.RemoveVote(user.ID, targetID)
	c.targets.BeginWrite(targetID)
	defer c.targets.EndWrite(targetID)
	c.targets.Apply(targetID, delta)

	err = c.persist(ctx, "delete_vote", func(ctx context.Context) error {
		return c.store.DeleteVote(ctx, targetID, user.ID)
	})
	if err != nil {
		c.rollback(user.ID, targetID, prevVote, prevCached, delta)
		c.logger.Error("failed to delete vote, local state rolled back",
			"error", err,
			"voter", user.ID,
			"target", targetID)
		return nil, remoteError("delete vote", err)
	}

	view := c.targetView(targetID, nil)

	c.logger.Info("vote removed",
		"voter", user.ID,
		"target", targetID,
		"previous", *prevType,
		"score", view.VoteScore)

	c.observers.broadcast(VoteUpdateEvent{
		TargetID:         targetID,
		UserID:           user.ID,
		PreviousVoteType: prevType,
		Timestamp:        c.now(),
		Source:           SourceLocal,
		Target:           view,
	})

	return &VoteResult{
		PreviousVoteType: prevType,
		Target:           view,
	}, nil
}

// HandleRemoteEvent applies a change made by another client (or the echo of our
// own write) through the same delta logic as local votes.
func (c *Coordinator) HandleRemoteEvent(ctx context.Context, ev RemoteEvent) {
	rec := ev.New
	if ev.EventType == EventDelete {
		rec = ev.Old
	}
	if rec == nil {
		c.logger.Warn("vote event without a record", "event_type", ev.EventType)
		return
	}

	userID, targetID := rec.UserID, rec.TargetID
	if (userID == "" || targetID == "") && rec.ID != "" {
		if v, ok := c.model.GetVote(rec.ID); ok {
			userID, targetID = v.UserID, v.TargetID
		}
	}
	if userID == "" || targetID == "" {
		c.logger.Warn("vote event cannot be matched to a vote",
			"event_type", ev.EventType,
			"vote_id", rec.ID)
		return
	}

	c.resync.RLock()
	defer c.resync.RUnlock()
	unlock := c.locks.Lock(voteKey(userID, targetID))
	defer unlock()

	var prev *Vote
	var next *VoteType
	switch ev.EventType {
	case EventInsert, EventUpdate:
		if !rec.VoteType.Valid() {
			c.logger.Warn("vote event with invalid vote type",
				"vote_type", rec.VoteType,
				"vote_id", rec.ID)
			return
		}
		v := rec.toVote()
		v.UserID, v.TargetID = userID, targetID
		prev = c.model.ApplyRemote(*v)
		next = rec.VoteType.Ptr()
		current, _ := c.model.GetUserVote(userID, targetID)
		c.userVotes.SetVote(userID, targetID, &CachedVote{VoteType: rec.VoteType, VoteID: current.ID})
	case EventDelete:
		prev = c.model.DeleteRemote(userID, targetID)
		c.userVotes.RemoveVote(userID, targetID)
	default:
		c.logger.Warn("unknown vote event type", "event_type", ev.EventType)
		return
	}

	prevType := voteTypeOf(prev)
	delta := TransitionDelta(prevType, next)
	if delta.IsZero() {
		c.logger.Debug("vote event already applied",
			"event_type", ev.EventType,
			"voter", userID,
			"target", targetID)
		return
	}

	c.targets.Apply(targetID, delta)
	c.refreshAggregate(ctx, targetID)

	c.observers.broadcast(VoteUpdateEvent{
		TargetID:         targetID,
		UserID:           userID,
		NewVoteType:      next,
		PreviousVoteType: prevType,
		Timestamp:        c.now(),
		Source:           SourceRemote,
		Target:           c.targetView(targetID, next),
	})
}

// SubscribeRealtime routes events from rt into HandleRemoteEvent
func (c *Coordinator) SubscribeRealtime(ctx context.Context, rt Realtime) (func(), error) {
	unsubscribe, err := rt.Subscribe(ctx, c.HandleRemoteEvent)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to vote events: %w", err)
	}
	return unsubscribe, nil
}

// OnVoteUpdate registers an observer for applied vote changes
func (c *Coordinator) OnVoteUpdate(handler VoteUpdateHandler) func() {
	return c.observers.add(handler)
}

// Summary returns the vote summary for targetID. Anonymous callers get no UserVote.
func (c *Coordinator) Summary(ctx context.Context, targetID string) (VoteSummary, error) {
	if err := c.validator.ValidateTargetID(targetID); err != nil {
		return VoteSummary{}, err
	}
	return c.model.GetVoteSummary(targetID, c.optionalUserID(ctx)), nil
}

// TargetView returns the cached target with the current user's vote filled in
func (c *Coordinator) TargetView(ctx context.Context, targetID string) (Target, error) {
	if err := c.validator.ValidateTargetID(targetID); err != nil {
		return Target{}, err
	}
	t, err := c.resolveTarget(ctx, targetID)
	if err != nil {
		return Target{}, err
	}
	if userID := c.optionalUserID(ctx); userID != "" {
		if v := c.userVotes.GetVote(userID, targetID); v != nil {
			t.UserVote = v.VoteType.Ptr()
		}
	}
	return t, nil
}

// TopTargets ranks targets by score
func (c *Coordinator) TopTargets(limit int) []TargetScore {
	return c.model.GetTopVotedTargets(limit)
}

// Integrity runs the VoteModel consistency check
func (c *Coordinator) Integrity() IntegrityReport {
	return c.model.ValidateIntegrity()
}

func (c *Coordinator) currentUser(ctx context.Context) (*User, error) {
	user, err := c.identity.CurrentUser(ctx)
	if err != nil {
		return nil, &Error{Kind: KindUnauthorized, Message: "failed to resolve current user", Err: err}
	}
	if user == nil || user.ID == "" {
		return nil, ErrUnauthorized
	}
	return user, nil
}

func (c *Coordinator) optionalUserID(ctx context.Context) string {
	user, err := c.identity.CurrentUser(ctx)
	if err != nil || user == nil {
		return ""
	}
	return user.ID
}

func (c *Coordinator) resolveTarget(ctx context.Context, targetID string) (Target, error) {
	if t, ok := c.targets.Get(targetID); ok {
		return t, nil
	}
	if c.loader == nil {
		return Target{}, newError(KindNotFound, "definition %s is not loaded", targetID)
	}

	t, err := c.loader.LoadTarget(ctx, targetID)
	if err != nil {
		if IsNotFound(err) {
			return Target{}, newError(KindNotFound, "definition %s not found", targetID)
		}
		return Target{}, remoteError("load definition", err)
	}
	c.targets.Put(*t)

	loaded, _ := c.targets.Get(targetID)
	return loaded, nil
}

// targetView is the cached target for the acting user. Falls back to the
// VoteModel counts when the target has been evicted.
func (c *Coordinator) targetView(targetID string, userVote *VoteType) Target {
	t, ok := c.targets.Get(targetID)
	if !ok {
		s := c.model.GetVoteSummary(targetID, "")
		t = Target{ID: targetID, VoteScore: s.Score, Upvotes: s.Upvotes, Downvotes: s.Downvotes}
	}
	t.UserVote = userVote
	return t
}

// rollback restores the pair and the target counters to their pre-call state.
// The inverse delta is exact because no remote aggregate is accepted for the
// target while the write is in flight.
func (c *Coordinator) rollback(userID, targetID string, prevVote *Vote, prevCached *CachedVote, applied Delta) {
	c.model.Restore(userID, targetID, prevVote)
	c.userVotes.Restore(userID, targetID, prevCached)
	c.targets.Apply(targetID, applied.Inverse())
}

// persist runs one remote call under the configured timeout and circuit breaker.
// The caller's cancellation is not propagated: an in-flight vote either lands
// or times out, it is never abandoned halfway.
func (c *Coordinator) persist(ctx context.Context, op string, call func(context.Context) error) error {
	if err := c.breaker.canAttempt(op); err != nil {
		return err
	}

	callCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.cfg.RemoteTimeout)
	defer cancel()

	if err := call(callCtx); err != nil {
		c.breaker.recordFailure(op, err)
		return err
	}
	c.breaker.recordSuccess(op)
	return nil
}

// refreshAggregate replaces the target counters with the stored aggregate.
// It is skipped while a local write on the target is in flight, and the result
// is dropped if the counters moved during the fetch, so the optimistic deltas
// and their rollbacks never mix with a remote snapshot.
func (c *Coordinator) refreshAggregate(ctx context.Context, targetID string) {
	if c.refresh == nil || !c.refresh.Allow() {
		return
	}
	if _, ok := c.targets.Get(targetID); !ok || c.targets.Pending(targetID) > 0 {
		return
	}

	since := c.targets.Mark()
	var agg *Aggregate
	err := c.persist(ctx, "fetch_aggregate", func(ctx context.Context) error {
		var err error
		agg, err = c.store.FetchAggregate(ctx, targetID)
		return err
	})
	if err != nil {
		c.logger.Warn("failed to refresh vote aggregate",
			"error", err,
			"target", targetID)
		return
	}
	if _, ok := c.targets.SetAggregate(targetID, *agg, since); !ok {
		c.logger.Debug("vote aggregate changed during refresh, keeping local counters",
			"target", targetID)
	}
}

func (c *Coordinator) modelAggregate(targetID string) Aggregate {
	s := c.model.GetVoteSummary(targetID, "")
	return Aggregate{Score: s.Score, Upvotes: s.Upvotes, Downvotes: s.Downvotes}
}

// rebuildUserVotes refills the display cache from the model for every user
// it held before and every user in list
func (c *Coordinator) rebuildUserVotes(list []*Vote) int {
	users := make(map[string]struct{})
	for _, userID := range c.userVotes.Users() {
		users[userID] = struct{}{}
	}
	for _, v := range list {
		if v != nil {
			users[v.UserID] = struct{}{}
		}
	}

	for userID := range users {
		c.userVotes.Invalidate(userID)
		held := c.model.GetVotesForUser(userID)
		cached := make(map[string]*CachedVote, len(held))
		for targetID, v := range held {
			cached[targetID] = &CachedVote{VoteType: v.VoteType, VoteID: v.ID}
		}
		c.userVotes.MergeVotesForUser(userID, nil, cached)
	}
	return len(users)
}

func (c *Coordinator) limitReached(userID string) bool {
	if c.cfg.VoteLimit <= 0 {
		return false
	}
	now := c.now()
	window := &TimeWindow{Start: now.Add(-c.cfg.VoteLimitWindow), End: now}
	return c.model.HasUserReachedVoteLimit(userID, c.cfg.VoteLimit, window)
}

func derefType(t *VoteType) string {
	if t == nil {
		return "none"
	}
	return string(*t)
}
