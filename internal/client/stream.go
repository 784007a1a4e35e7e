package client

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"messenger/internal/domain/chat"
)

const (
	reconnectMin = time.Second
	reconnectMax = 30 * time.Second
)

// Stream maintains the WebSocket connection feeding a session. It
// reconnects with exponential backoff and tells the session after each
// reconnect so it can reconcile what the dead socket missed.
type Stream struct {
	URL     string
	Token   string
	Session *Session
	Logger  *slog.Logger

	Dialer *websocket.Dialer

	mu   sync.Mutex
	subs []string
	conn *websocket.Conn
}

func NewStream(wsURL, token string, session *Session, logger *slog.Logger) *Stream {
	return &Stream{
		URL:     wsURL,
		Token:   token,
		Session: session,
		Logger:  logger,
		Dialer:  websocket.DefaultDialer,
	}
}

// Run keeps the stream alive until ctx is cancelled.
func (s *Stream) Run(ctx context.Context) {
	backoff := reconnectMin
	first := true
	for {
		if ctx.Err() != nil {
			return
		}
		conn, err := s.dial(ctx)
		if err != nil {
			if s.Logger != nil {
				s.Logger.Debug("stream dial failed", "error", err)
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > reconnectMax {
				backoff = reconnectMax
			}
			continue
		}
		backoff = reconnectMin
		s.setConn(conn)
		s.replaySubscriptions(conn)
		if !first {
			s.Session.Reconnected(ctx)
		}
		first = false
		s.read(ctx, conn)
		s.setConn(nil)
	}
}

// Subscribe asks the server to push conversation-scoped events for a
// conversation over this stream. The subscription survives reconnects.
func (s *Stream) Subscribe(conversationID string) {
	s.mu.Lock()
	for _, id := range s.subs {
		if id == conversationID {
			s.mu.Unlock()
			return
		}
	}
	s.subs = append(s.subs, conversationID)
	if s.conn != nil {
		s.writeSubscribe(s.conn, conversationID)
	}
	s.mu.Unlock()
}

func (s *Stream) setConn(conn *websocket.Conn) {
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
}

func (s *Stream) replaySubscriptions(conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.subs {
		s.writeSubscribe(conn, id)
	}
}

// writeSubscribe is called with s.mu held so frames never interleave.
func (s *Stream) writeSubscribe(conn *websocket.Conn, conversationID string) {
	err := conn.WriteJSON(map[string]string{
		"type":            "subscribe",
		"conversation_id": conversationID,
	})
	if err != nil && s.Logger != nil {
		s.Logger.Debug("subscribe frame failed", "conversation_id", conversationID, "error", err)
	}
}

func (s *Stream) dial(ctx context.Context) (*websocket.Conn, error) {
	header := http.Header{}
	if s.Token != "" {
		header.Set("Authorization", "Bearer "+s.Token)
	}
	conn, resp, err := s.Dialer.DialContext(ctx, s.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

func (s *Stream) read(ctx context.Context, conn *websocket.Conn) {
	done := make(chan struct{})
	defer close(done)
	defer conn.Close()
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if s.Logger != nil && ctx.Err() == nil {
				s.Logger.Debug("stream read failed", "error", err)
			}
			return
		}
		var ev chat.Event
		if err := json.Unmarshal(raw, &ev); err != nil {
			continue
		}
		s.Session.HandleEvent(ev)
	}
}
