package wsfeed

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"Sutian/internal/core/votes"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newFeedServer sends messages on each new connection and then closes it
func newFeedServer(t *testing.T, perConn func(n int32) []string, gotSubscribe chan<- string) *httptest.Server {
	t.Helper()
	upgrader := websocket.Upgrader{}
	var conns int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("apikey"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = conn.Close() }()

		n := atomic.AddInt32(&conns, 1)
		if gotSubscribe != nil {
			_, msg, err := conn.ReadMessage()
			if err == nil {
				select {
				case gotSubscribe <- string(msg):
				default:
				}
			}
		}
		for _, msg := range perConn(n) {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return
			}
		}
		// Keep the first connection briefly open so the client reads everything
		time.Sleep(50 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestConnector_DeliversEventsAndReconnects(t *testing.T) {
	srv := newFeedServer(t, func(n int32) []string {
		if n == 1 {
			return []string{
				`{"eventType":"INSERT","new":{"id":"v1","target_id":"t1","user_id":"u1","vote_type":"upvote"}}`,
				`garbage`,
			}
		}
		return []string{`{"eventType":"DELETE","old":{"id":"v1","target_id":"t1","user_id":"u1","vote_type":"upvote"}}`}
	}, nil)

	events := make(chan votes.RemoteEvent, 4)
	c := NewConnector(wsURL(srv), quietLogger(),
		WithHeader(http.Header{"apikey": []string{"secret"}}),
		WithReconnectDelay(10*time.Millisecond),
	)

	unsubscribe, err := c.Subscribe(context.Background(), func(_ context.Context, ev votes.RemoteEvent) {
		select {
		case events <- ev:
		default:
		}
	})
	require.NoError(t, err)
	defer unsubscribe()

	for _, want := range []votes.RemoteEventType{votes.EventInsert, votes.EventDelete} {
		select {
		case ev := <-events:
			assert.Equal(t, want, ev.EventType)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s event", want)
		}
	}
}

func TestConnector_ReconnectHookRunsBeforeNewEvents(t *testing.T) {
	srv := newFeedServer(t, func(n int32) []string {
		if n == 1 {
			return []string{`{"eventType":"INSERT","new":{"id":"v1","target_id":"t1","user_id":"u1","vote_type":"upvote"}}`}
		}
		return []string{`{"eventType":"DELETE","old":{"id":"v1","target_id":"t1","user_id":"u1","vote_type":"upvote"}}`}
	}, nil)

	steps := make(chan string, 8)
	c := NewConnector(wsURL(srv), quietLogger(),
		WithHeader(http.Header{"apikey": []string{"secret"}}),
		WithReconnectDelay(10*time.Millisecond),
		WithReconnectHook(func(context.Context) {
			select {
			case steps <- "resync":
			default:
			}
		}),
	)

	unsubscribe, err := c.Subscribe(context.Background(), func(_ context.Context, ev votes.RemoteEvent) {
		select {
		case steps <- string(ev.EventType):
		default:
		}
	})
	require.NoError(t, err)
	defer unsubscribe()

	for _, want := range []string{string(votes.EventInsert), "resync", string(votes.EventDelete)} {
		select {
		case got := <-steps:
			assert.Equal(t, want, got)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %s", want)
		}
	}
}

func TestConnector_SendsSubscribeMessage(t *testing.T) {
	subscribed := make(chan string, 1)
	srv := newFeedServer(t, func(int32) []string { return nil }, subscribed)

	c := NewConnector(wsURL(srv), quietLogger(),
		WithHeader(http.Header{"apikey": []string{"secret"}}),
		WithSubscribeMessage([]byte(`{"topic":"votes"}`)),
		WithReconnectDelay(time.Second),
	)
	unsubscribe, err := c.Subscribe(context.Background(), func(context.Context, votes.RemoteEvent) {})
	require.NoError(t, err)
	defer unsubscribe()

	select {
	case msg := <-subscribed:
		assert.Equal(t, `{"topic":"votes"}`, msg)
	case <-time.After(2 * time.Second):
		t.Fatal("subscribe message not received")
	}
}

func TestConnector_UnsubscribeStopsLoop(t *testing.T) {
	c := NewConnector("ws://127.0.0.1:1/unreachable", quietLogger(), WithReconnectDelay(10*time.Millisecond))

	unsubscribe, err := c.Subscribe(context.Background(), func(context.Context, votes.RemoteEvent) {})
	require.NoError(t, err)

	stopped := make(chan struct{})
	go func() {
		unsubscribe()
		unsubscribe()
		close(stopped)
	}()

	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("unsubscribe did not stop the connect loop")
	}
}

func TestConnector_RequiresURL(t *testing.T) {
	_, err := NewConnector("", nil).Subscribe(context.Background(), func(context.Context, votes.RemoteEvent) {})
	assert.Error(t, err)
}
