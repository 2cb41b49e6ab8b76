package nodes

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"relaymeter/internal/domain"
)

type fallbackCall struct {
	Addr    string
	Service string
	Remote  bool
}

type fakeFallback struct {
	mu    sync.Mutex
	calls []fallbackCall
}

func (f *fakeFallback) PauseService(_ context.Context, addr, service, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fallbackCall{Addr: addr, Service: service})
	return nil
}

func (f *fakeFallback) PauseRemoteService(_ context.Context, addr, service, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fallbackCall{Addr: addr, Service: service, Remote: true})
	return nil
}

func (f *fakeFallback) all() []fallbackCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]fallbackCall(nil), f.calls...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestFallbackWhenNoSession(t *testing.T) {
	fb := &fakeFallback{}
	hub := NewHub(fb, testLogger())

	node := domain.Node{ID: 1, Address: "10.0.0.1:9000", Secret: "s"}
	if err := hub.PauseService(context.Background(), node, "7_3_0"); err != nil {
		t.Fatal(err)
	}
	if err := hub.PauseRemoteService(context.Background(), node, "7_3_0"); err != nil {
		t.Fatal(err)
	}

	calls := fb.all()
	if len(calls) != 2 {
		t.Fatalf("expected 2 fallback calls, got %v", calls)
	}
	if calls[0].Remote || !calls[1].Remote {
		t.Fatalf("expected local then remote, got %v", calls)
	}
	if calls[0].Addr != "10.0.0.1:9000" || calls[0].Service != "7_3_0" {
		t.Fatalf("unexpected fallback call %v", calls[0])
	}
}

func TestSessionDeliveryPreferred(t *testing.T) {
	fb := &fakeFallback{}
	hub := NewHub(fb, testLogger())
	node := domain.Node{ID: 1, Address: "10.0.0.1:9000", Secret: "s"}

	received := make(chan Command, 1)
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		go hub.HandleSession(node, conn)
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	agent, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer agent.Close()
	go func() {
		for {
			_, data, err := agent.ReadMessage()
			if err != nil {
				return
			}
			var cmd Command
			if err := json.Unmarshal(data, &cmd); err == nil {
				received <- cmd
			}
		}
	}()

	// Wait for the hub to register the session.
	deadline := time.Now().Add(2 * time.Second)
	for !hub.Connected(node.ID) {
		if time.Now().After(deadline) {
			t.Fatalf("session never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	if err := hub.PauseService(context.Background(), node, "7_3_0"); err != nil {
		t.Fatal(err)
	}

	select {
	case cmd := <-received:
		if cmd.Type != CommandPauseService || cmd.Service != "7_3_0" {
			t.Fatalf("unexpected command %+v", cmd)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("command never arrived over the session")
	}
	if len(fb.all()) != 0 {
		t.Fatalf("fallback must not fire when the session works: %v", fb.all())
	}
}

func TestExpireStaleClosesSession(t *testing.T) {
	fb := &fakeFallback{}
	hub := NewHub(fb, testLogger())
	node := domain.Node{ID: 1, Address: "10.0.0.1:9000", Secret: "s"}

	done := make(chan struct{})
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Error(err)
			return
		}
		go func() {
			hub.HandleSession(node, conn)
			close(done)
		}()
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	agent, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer agent.Close()

	deadline := time.Now().Add(2 * time.Second)
	for !hub.Connected(node.ID) {
		if time.Now().After(deadline) {
			t.Fatalf("session never registered")
		}
		time.Sleep(10 * time.Millisecond)
	}

	// Zero timeout expires everything immediately.
	hub.ExpireStale(0)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("read loop should end once the session is closed")
	}
	if hub.Connected(node.ID) {
		t.Fatalf("session should be gone after expiry")
	}
}
