package client

import (
	"context"
	"net/http"
	"net/http/httptest"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestStreamReadWatcherExitsWithConnection(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		conn.Close()
	}))
	defer srv.Close()

	stream := NewStream("ws"+strings.TrimPrefix(srv.URL, "http"), "", nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	baseline := runtime.NumGoroutine()
	for i := 0; i < 20; i++ {
		conn, err := stream.dial(ctx)
		if err != nil {
			t.Fatalf("dial: %v", err)
		}
		stream.read(ctx, conn)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if runtime.NumGoroutine() <= baseline+2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("goroutines after 20 reconnects = %d, baseline %d", runtime.NumGoroutine(), baseline)
}
