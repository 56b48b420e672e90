// Package wsfeed consumes vote change events from a hosted realtime websocket
// endpoint. Each text message is one JSON vote event.
package wsfeed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"Sutian/internal/core/votes"
)

// Connector implements votes.Realtime over a websocket connection that is
// re-established whenever it drops
type Connector struct {
	dialer           *websocket.Dialer
	header           http.Header
	logger           *slog.Logger
	onReconnect      func(ctx context.Context)
	wsURL            string
	subscribeMessage []byte
	reconnectDelay   time.Duration
	pingInterval     time.Duration
	readTimeout      time.Duration
}

// Option customizes a Connector
type Option func(*Connector)

// WithHeader adds headers (API keys, Authorization) to the handshake
func WithHeader(header http.Header) Option {
	return func(c *Connector) { c.header = header }
}

// WithSubscribeMessage is sent once after every successful connect
func WithSubscribeMessage(msg []byte) Option {
	return func(c *Connector) { c.subscribeMessage = msg }
}

// WithReconnectDelay sets the wait between connection attempts
func WithReconnectDelay(d time.Duration) Option {
	return func(c *Connector) { c.reconnectDelay = d }
}

// WithKeepalive sets the ping interval and the read deadline extended by each pong
func WithKeepalive(pingInterval, readTimeout time.Duration) Option {
	return func(c *Connector) {
		c.pingInterval = pingInterval
		c.readTimeout = readTimeout
	}
}

// WithReconnectHook is called once a dropped connection is re-established and
// subscribed, before any new event is read. Events sent while disconnected are
// lost, so callers usually resync here.
func WithReconnectHook(fn func(ctx context.Context)) Option {
	return func(c *Connector) { c.onReconnect = fn }
}

// NewConnector creates a connector for wsURL
func NewConnector(wsURL string, logger *slog.Logger, opts ...Option) *Connector {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Connector{
		dialer:         websocket.DefaultDialer,
		logger:         logger,
		wsURL:          wsURL,
		reconnectDelay: 5 * time.Second,
		pingInterval:   30 * time.Second,
		readTimeout:    60 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe runs the connect loop in the background until the returned func
// is called or ctx is cancelled
func (c *Connector) Subscribe(ctx context.Context, handler votes.RemoteEventHandler) (func(), error) {
	if c.wsURL == "" {
		return nil, errors.New("realtime websocket URL is not configured")
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = c.Start(ctx, handler)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

// Start consumes events until ctx is cancelled, reconnecting on errors
func (c *Connector) Start(ctx context.Context, handler votes.RemoteEventHandler) error {
	c.logger.Info("starting realtime vote feed", "url", c.wsURL)

	connectedBefore := false
	for {
		connected, err := c.connect(ctx, handler, connectedBefore)
		connectedBefore = connectedBefore || connected
		if err != nil && ctx.Err() == nil {
			c.logger.Warn("realtime vote feed connection error, retrying",
				"error", err,
				"retry_in", c.reconnectDelay)
		}

		select {
		case <-ctx.Done():
			c.logger.Info("realtime vote feed shutting down")
			return ctx.Err()
		case <-time.After(c.reconnectDelay):
		}
	}
}

// connect establishes one websocket connection and processes events until it
// fails. It reports whether the subscription was established.
func (c *Connector) connect(ctx context.Context, handler votes.RemoteEventHandler, reconnect bool) (bool, error) {
	conn, _, err := c.dialer.DialContext(ctx, c.wsURL, c.header)
	if err != nil {
		return false, fmt.Errorf("failed to connect to realtime feed: %w", err)
	}
	defer func() {
		if closeErr := conn.Close(); closeErr != nil && !errors.Is(closeErr, websocket.ErrCloseSent) {
			c.logger.Debug("failed to close websocket connection", "error", closeErr)
		}
	}()

	c.logger.Info("connected to realtime vote feed")

	if len(c.subscribeMessage) > 0 {
		if err := conn.WriteMessage(websocket.TextMessage, c.subscribeMessage); err != nil {
			return false, fmt.Errorf("failed to send subscribe message: %w", err)
		}
	}

	if reconnect && c.onReconnect != nil {
		c.logger.Warn("realtime vote feed reconnected, events may have been missed")
		c.onReconnect(ctx)
	}

	if err := conn.SetReadDeadline(time.Now().Add(c.readTimeout)); err != nil {
		c.logger.Warn("failed to set read deadline", "error", err)
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	})

	done := make(chan struct{})
	var closeOnce sync.Once
	stop := func() { closeOnce.Do(func() { close(done) }) }
	defer stop()

	// Ping ticker; also unblocks ReadMessage when ctx is cancelled
	go func() {
		ticker := time.NewTicker(c.pingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second)); err != nil {
					c.logger.Warn("failed to send ping", "error", err)
					stop()
					_ = conn.Close()
					return
				}
			case <-ctx.Done():
				_ = conn.Close()
				return
			case <-done:
				return
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return true, fmt.Errorf("read error: %w", err)
		}

		ev, err := votes.ParseRemoteEvent(message)
		if err != nil {
			c.logger.Warn("dropping malformed realtime message", "error", err)
			continue
		}
		handler(ctx, *ev)
	}
}
