// Package pglisten delivers vote changes published by the votes table trigger
// over PostgreSQL LISTEN/NOTIFY.
package pglisten

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lib/pq"

	"Sutian/internal/core/votes"
)

// DefaultChannel is the channel the notify_vote_change trigger publishes on
const DefaultChannel = "vote_changes"

// Listener implements votes.Realtime on top of pq.Listener
type Listener struct {
	logger               *slog.Logger
	onReconnect          func(ctx context.Context)
	dsn                  string
	channel              string
	minReconnectInterval time.Duration
	maxReconnectInterval time.Duration
	pingInterval         time.Duration
}

// Option customizes a Listener
type Option func(*Listener)

// WithChannel overrides the notification channel
func WithChannel(channel string) Option {
	return func(l *Listener) { l.channel = channel }
}

// WithReconnectInterval sets the pq.Listener reconnect backoff bounds
func WithReconnectInterval(minInterval, maxInterval time.Duration) Option {
	return func(l *Listener) {
		l.minReconnectInterval = minInterval
		l.maxReconnectInterval = maxInterval
	}
}

// WithPingInterval sets how often an idle connection is checked
func WithPingInterval(d time.Duration) Option {
	return func(l *Listener) { l.pingInterval = d }
}

// WithReconnectHook is called after the connection was re-established.
// Notifications sent while disconnected are lost, so callers usually resync here.
func WithReconnectHook(fn func(ctx context.Context)) Option {
	return func(l *Listener) { l.onReconnect = fn }
}

// NewListener creates a listener for dsn. Nothing connects until Subscribe.
func NewListener(dsn string, logger *slog.Logger, opts ...Option) *Listener {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Listener{
		logger:               logger,
		dsn:                  dsn,
		channel:              DefaultChannel,
		minReconnectInterval: time.Second,
		maxReconnectInterval: time.Minute,
		pingInterval:         90 * time.Second,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Subscribe starts listening and feeds each notification to handler. The
// returned func stops the listener and waits for the delivery loop to exit.
func (l *Listener) Subscribe(ctx context.Context, handler votes.RemoteEventHandler) (func(), error) {
	listener := pq.NewListener(l.dsn, l.minReconnectInterval, l.maxReconnectInterval, l.logEvent)
	if err := listener.Listen(l.channel); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("failed to listen on %s: %w", l.channel, err)
	}

	l.logger.Info("listening for vote changes", "channel", l.channel)

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.run(ctx, listener, handler)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
			if err := listener.Close(); err != nil {
				l.logger.Warn("failed to close vote listener", "error", err)
			}
		})
	}, nil
}

func (l *Listener) run(ctx context.Context, listener *pq.Listener, handler votes.RemoteEventHandler) {
	ticker := time.NewTicker(l.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("vote listener shutting down", "channel", l.channel)
			return
		case n, ok := <-listener.Notify:
			if !ok {
				return
			}
			if n == nil {
				// pq sends nil after a reconnect
				l.logger.Warn("vote listener reconnected, notifications may have been missed", "channel", l.channel)
				if l.onReconnect != nil {
					l.onReconnect(ctx)
				}
				continue
			}
			l.dispatch(ctx, n.Extra, handler)
		case <-ticker.C:
			go func() {
				if err := listener.Ping(); err != nil {
					l.logger.Warn("vote listener ping failed", "error", err)
				}
			}()
		}
	}
}

// dispatch parses one notification payload and hands it to handler.
// Malformed payloads are logged and dropped.
func (l *Listener) dispatch(ctx context.Context, payload string, handler votes.RemoteEventHandler) {
	ev, err := votes.ParseRemoteEvent([]byte(payload))
	if err != nil {
		l.logger.Warn("dropping malformed vote notification",
			"error", err,
			"channel", l.channel)
		return
	}
	handler(ctx, *ev)
}

func (l *Listener) logEvent(ev pq.ListenerEventType, err error) {
	switch ev {
	case pq.ListenerEventConnected:
		l.logger.Info("vote listener connected", "channel", l.channel)
	case pq.ListenerEventDisconnected:
		l.logger.Warn("vote listener disconnected", "channel", l.channel, "error", err)
	case pq.ListenerEventReconnected:
		l.logger.Info("vote listener reconnected", "channel", l.channel)
	case pq.ListenerEventConnectionAttemptFailed:
		l.logger.Warn("vote listener connection attempt failed", "channel", l.channel, "error", err)
	}
}
