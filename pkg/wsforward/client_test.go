package wsforward

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"go.uber.org/zap"
)

type frame struct {
	DeviceID string `json:"deviceId"`
}

func TestSendDeliversJSONFrame(t *testing.T) {
	received := make(chan frame, 1)
	authHeader := make(chan string, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader <- r.Header.Get("Authorization")
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		defer conn.CloseNow()

		var f frame
		if err := wsjson.Read(r.Context(), conn, &f); err != nil {
			return
		}
		received <- f
		// hold the connection until the client goes away
		_, _, _ = conn.Read(r.Context())
	}))
	defer srv.Close()

	c := New("ws"+strings.TrimPrefix(srv.URL, "http"), "tok", zap.NewNop())
	defer c.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if !c.IsConnected() {
		t.Fatal("expected connected")
	}
	if got := <-authHeader; got != "Bearer tok" {
		t.Errorf("Authorization = %q", got)
	}

	if err := c.Send(ctx, frame{DeviceID: "meter-3"}); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case f := <-received:
		if f.DeviceID != "meter-3" {
			t.Errorf("got %+v", f)
		}
	case <-ctx.Done():
		t.Fatal("frame not received")
	}
}

func TestSendWhileDisconnected(t *testing.T) {
	c := New("ws://127.0.0.1:1/never", "", zap.NewNop())
	err := c.Send(context.Background(), frame{})
	if !errors.Is(err, ErrNotConnected) {
		t.Fatalf("err = %v, want ErrNotConnected", err)
	}
}

func TestConnectAfterClose(t *testing.T) {
	c := New("ws://127.0.0.1:1/never", "", zap.NewNop())
	_ = c.Close()
	if err := c.Connect(context.Background()); err == nil {
		t.Fatal("expected error after Close")
	}
}
