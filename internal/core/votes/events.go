package votes

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"
)

// RemoteEventType is the kind of row change reported by the realtime channel
type RemoteEventType string

const (
	EventInsert RemoteEventType = "insert"
	EventUpdate RemoteEventType = "update"
	EventDelete RemoteEventType = "delete"
)

// RemoteEvent is a change to the votes table delivered by a Realtime source
type RemoteEvent struct {
	New       *VoteRecord     `json:"new,omitempty"`
	Old       *VoteRecord     `json:"old,omitempty"`
	EventType RemoteEventType `json:"eventType"`
}

// ParseRemoteEvent decodes a realtime payload. Event types are case-insensitive
// so raw trigger output ("INSERT") is accepted.
func ParseRemoteEvent(payload []byte) (*RemoteEvent, error) {
	var ev RemoteEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("failed to parse vote event: %w", err)
	}
	ev.EventType = RemoteEventType(strings.ToLower(string(ev.EventType)))
	switch ev.EventType {
	case EventInsert, EventUpdate, EventDelete:
	default:
		return nil, fmt.Errorf("unknown vote event type %q", ev.EventType)
	}
	return &ev, nil
}

// Event sources
const (
	SourceLocal  = "local"
	SourceRemote = "remote"
)

// VoteUpdateEvent is broadcast to observers after every applied vote change
type VoteUpdateEvent struct {
	Timestamp        time.Time `json:"timestamp"`
	NewVoteType      *VoteType `json:"newVoteType"`
	PreviousVoteType *VoteType `json:"previousVoteType"`
	TargetID         string    `json:"targetId"`
	UserID           string    `json:"userId,omitempty"`
	Source           string    `json:"source"`
	Target           Target    `json:"target"`
}

// VoteUpdateHandler receives vote updates
type VoteUpdateHandler func(VoteUpdateEvent)

// observerSet fans events out to subscribers in subscription order.
// A panicking subscriber is logged and skipped; the others still get the event.
type observerSet struct {
	subs   map[uint64]VoteUpdateHandler
	logger *slog.Logger
	next   uint64
	mu     sync.RWMutex
}

func newObserverSet(logger *slog.Logger) *observerSet {
	return &observerSet{
		subs:   make(map[uint64]VoteUpdateHandler),
		logger: logger,
	}
}

func (o *observerSet) add(h VoteUpdateHandler) func() {
	o.mu.Lock()
	id := o.next
	o.next++
	o.subs[id] = h
	o.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			o.mu.Lock()
			delete(o.subs, id)
			o.mu.Unlock()
		})
	}
}

func (o *observerSet) len() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return len(o.subs)
}

func (o *observerSet) broadcast(ev VoteUpdateEvent) {
	o.mu.RLock()
	ids := make([]uint64, 0, len(o.subs))
	for id := range o.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	handlers := make([]VoteUpdateHandler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, o.subs[id])
	}
	o.mu.RUnlock()

	for _, h := range handlers {
		o.deliver(h, ev)
	}
}

func (o *observerSet) deliver(h VoteUpdateHandler, ev VoteUpdateEvent) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("vote update observer panicked",
				"panic", r,
				"target", ev.TargetID,
				"source", ev.Source)
		}
	}()
	h(ev)
}
