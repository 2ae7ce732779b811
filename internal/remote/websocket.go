package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Stream defaults.
const (
	DefaultReconnectDelay = 2 * time.Second
	DefaultReadTimeout    = 90 * time.Second
)

// WSSubscriber reads JSON Event frames from a websocket and reconnects after
// every drop with a fixed delay. Events missed while disconnected are lost;
// onReconnect tells the caller to refetch.
type WSSubscriber struct {
	url            string
	token          string
	dialer         *websocket.Dialer
	reconnectDelay time.Duration
	readTimeout    time.Duration
	logger         *slog.Logger
}

var _ Subscriber = (*WSSubscriber)(nil)

// WSOption configures a WSSubscriber.
type WSOption func(*WSSubscriber)

// WithReconnectDelay sets the pause between connection attempts.
func WithReconnectDelay(d time.Duration) WSOption {
	return func(s *WSSubscriber) { s.reconnectDelay = d }
}

// WithReadTimeout sets how long a silent connection is kept. Servers are
// expected to ping more often than this.
func WithReadTimeout(d time.Duration) WSOption {
	return func(s *WSSubscriber) { s.readTimeout = d }
}

// WithLogger sets the logger for connection state changes.
func WithLogger(l *slog.Logger) WSOption {
	return func(s *WSSubscriber) { s.logger = l }
}

// NewWSSubscriber creates a subscriber for a ws:// or wss:// url.
func NewWSSubscriber(url, token string, opts ...WSOption) *WSSubscriber {
	s := &WSSubscriber{
		url:            url,
		token:          token,
		dialer:         websocket.DefaultDialer,
		reconnectDelay: DefaultReconnectDelay,
		readTimeout:    DefaultReadTimeout,
		logger:         slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Subscribe runs the connect/read loop until ctx is cancelled.
func (s *WSSubscriber) Subscribe(ctx context.Context, handler func(Event), onReconnect func()) error {
	connected := false
	for {
		conn, err := s.dial(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("event stream connect failed", "url", s.url, "error", err)
		} else {
			if connected && onReconnect != nil {
				onReconnect()
			}
			connected = true
			s.logger.Info("event stream connected", "url", s.url)

			err = s.read(ctx, conn, handler)
			if ctx.Err() != nil {
				return nil
			}
			s.logger.Warn("event stream disconnected", "url", s.url, "error", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *WSSubscriber) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if s.token != "" {
		header.Set("Authorization", "Bearer "+s.token)
	}
	conn, resp, err := s.dialer.DialContext(ctx, s.url, header)
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, fmt.Errorf("%w: dial %s: status %d", ErrUnauthorized, s.url, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnavailable, s.url, err)
	}
	return conn, nil
}

// read delivers frames until the connection fails or ctx is cancelled.
func (s *WSSubscriber) read(ctx context.Context, conn *websocket.Conn, handler func(Event)) error {
	defer conn.Close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		messageType, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			if len(message) == 0 {
				// keepalive
				continue
			}
			var ev Event
			if err := json.Unmarshal(message, &ev); err != nil {
				s.logger.Warn("dropping malformed event frame", "error", err, "bytes", len(message))
				continue
			}
			handler(ev)
		}
	}
}
