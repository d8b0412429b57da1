package stream

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// markerServer serves a websocket endpoint that writes the given samples and
// then keeps the connection open until the test ends.
func markerServer(t *testing.T, samples []Sample) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for _, s := range samples {
			if err := conn.WriteJSON(s); err != nil {
				return
			}
		}
		// Hold the connection open; the client closes first.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestResolve_DeliversSamplesInOrder(t *testing.T) {
	want := []Sample{
		{Code: 201, Timestamp: 10.5},
		{Code: 203, Timestamp: 41.0},
		{Code: 204, Timestamp: 341.2},
	}
	in, err := Resolve(markerServer(t, want), time.Second)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	defer in.Close()

	for i, w := range want {
		select {
		case got := <-in.Samples():
			if got != w {
				t.Errorf("sample %d = %+v, want %+v", i, got, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for sample %d", i)
		}
	}
}

func TestResolve_Unreachable(t *testing.T) {
	_, err := Resolve("ws://127.0.0.1:1/stream", 200*time.Millisecond)
	if !errors.Is(err, ErrNoStream) {
		t.Fatalf("expected ErrNoStream, got %v", err)
	}
}

func TestClose_EndsSampleChannel(t *testing.T) {
	in, err := Resolve(markerServer(t, nil), time.Second)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if err := in.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	select {
	case _, ok := <-in.Samples():
		if ok {
			t.Fatal("received sample after Close")
		}
	case <-time.After(time.Second):
		t.Fatal("sample channel did not close")
	}
	// Second Close is a no-op.
	if err := in.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
