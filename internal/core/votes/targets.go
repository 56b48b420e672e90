package votes

import (
	"fmt"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

// TargetCache holds the definitions the vote core has loaded: author id for the
// self-vote rule and the displayed counters. Least recently used entries are
// evicted once the cache is full.
//
// Every counter change is stamped with a cache-wide sequence number. A remote
// aggregate is only accepted for a target with no write in flight and no
// counter change since the caller took its Mark.
type TargetCache struct {
	entries *lru.Cache[string, *targetEntry]
	pending map[string]int // targetID -> local writes awaiting persistence
	seq     uint64
	mu      sync.Mutex // guards counter updates on cached entries
}

type targetEntry struct {
	target  Target
	touched uint64
}

// NewTargetCache creates a cache holding at most size targets
func NewTargetCache(size int) (*TargetCache, error) {
	entries, err := lru.New[string, *targetEntry](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create target cache: %w", err)
	}
	return &TargetCache{entries: entries, pending: make(map[string]int)}, nil
}

// Put stores a copy of t. Any per-user UserVote on t is dropped.
func (c *TargetCache) Put(t Target) {
	c.mu.Lock()
	defer c.mu.Unlock()

	t.UserVote = nil
	c.seq++
	c.entries.Add(t.ID, &targetEntry{target: t, touched: c.seq})
}

// Get returns a copy of the cached target
func (c *TargetCache) Get(id string) (Target, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Get(id)
	if !ok {
		return Target{}, false
	}
	return e.target, true
}

// Apply adds d to the target's counters and returns the updated copy.
// Returns false when the target is not cached.
func (c *TargetCache) Apply(id string, d Delta) (Target, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Peek(id)
	if !ok {
		return Target{}, false
	}
	e.target.apply(d)
	c.touchLocked(id)
	return e.target, true
}

// BeginWrite marks a local write on id as in flight. Every call must be paired
// with EndWrite once the write is persisted or rolled back.
func (c *TargetCache) BeginWrite(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.pending[id]++
	c.touchLocked(id)
}

// EndWrite clears one in-flight write on id
func (c *TargetCache) EndWrite(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending[id] <= 1 {
		delete(c.pending, id)
	} else {
		c.pending[id]--
	}
	c.touchLocked(id)
}

// Pending reports the number of local writes in flight on id
func (c *TargetCache) Pending(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending[id]
}

// Mark returns the current change sequence, to be handed to SetAggregate
func (c *TargetCache) Mark() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.seq
}

// SetAggregate overwrites the counters with authoritative remote values. The
// values are dropped, returning false, when the target is not cached, has a
// local write in flight or its counters changed after since was marked.
func (c *TargetCache) SetAggregate(id string, agg Aggregate, since uint64) (Target, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries.Peek(id)
	if !ok || c.pending[id] > 0 || e.touched > since {
		return Target{}, false
	}
	e.target.setCounters(agg)
	c.touchLocked(id)
	return e.target, true
}

// Reconcile overwrites the counters of every cached target with count(id) and
// returns the number of targets updated. The caller must ensure no local write
// is in flight.
func (c *TargetCache) Reconcile(count func(id string) Aggregate) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, id := range c.entries.Keys() {
		e, ok := c.entries.Peek(id)
		if !ok {
			continue
		}
		e.target.setCounters(count(id))
		c.touchLocked(id)
		n++
	}
	return n
}

// Len returns the number of cached targets
func (c *TargetCache) Len() int {
	return c.entries.Len()
}

// touchLocked stamps id with a new sequence number. Must hold c.mu.
func (c *TargetCache) touchLocked(id string) {
	c.seq++
	if e, ok := c.entries.Peek(id); ok {
		e.touched = c.seq
	}
}
