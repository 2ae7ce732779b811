package remote

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
)

func TestWSSubscriber_DeliversAndReconnects(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var conns atomic.Int32
	var auth atomic.Value

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		switch conns.Add(1) {
		case 1:
			conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"insert","entity_type":"post","entity_id":"p1","payload":{"text":"a"}}`))
			conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
			conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"update","entity_type":"post","entity_id":"p1","rev":2}`))
			// drop the connection
		default:
			conn.WriteMessage(websocket.TextMessage, []byte(`{"kind":"delete","entity_type":"post","entity_id":"p1"}`))
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	sub := NewWSSubscriber(url, "tok",
		WithReconnectDelay(10*time.Millisecond),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)

	got := make(chan string, 8)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- sub.Subscribe(ctx,
			func(ev Event) { got <- ev.String() },
			func() { got <- "reconnect" },
		)
	}()

	var seen []string
	for len(seen) < 4 {
		select {
		case s := <-got:
			seen = append(seen, s)
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out, saw %v", seen)
		}
	}
	assert.Equal(t, []string{
		"insert post/p1",
		"update post/p1",
		"reconnect",
		"delete post/p1",
	}, seen)
	assert.Equal(t, "Bearer tok", auth.Load())

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("subscribe did not return after cancel")
	}
}

func TestWSSubscriber_StopsWhileDialFails(t *testing.T) {
	sub := NewWSSubscriber("ws://127.0.0.1:1/nowhere", "",
		WithReconnectDelay(5*time.Millisecond),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.NoError(t, sub.Subscribe(ctx, func(Event) {}, nil))
}
