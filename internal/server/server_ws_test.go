package server

import (
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"relaymeter/internal/domain"
	"relaymeter/internal/flow"
	"relaymeter/internal/nodes"
)

func (e *testEnv) wsURL(secret string) string {
	return "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/v1/nodes/ws?secret=" + secret
}

func TestNodeWSRejectsUnknownSecret(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seed(t, 100)

	conn, resp, err := websocket.DefaultDialer.Dial(env.wsURL("wrong"), nil)
	if err == nil {
		conn.Close()
		t.Fatal("handshake succeeded with unknown secret")
	}
	if resp == nil || resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("handshake response = %v, want 401", resp)
	}
}

func TestNodeWSCommandDelivery(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	node, _, user, forward := env.seed(t, 0)

	conn, _, err := websocket.DefaultDialer.Dial(env.wsURL("node-secret"), nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(2 * time.Second)
	for !env.hub.Connected(node.ID) {
		if time.Now().After(deadline) {
			t.Fatal("node never registered on the hub")
		}
		time.Sleep(5 * time.Millisecond)
	}

	service := domain.BuildServiceKey(forward.ID, user.ID, domain.SentinelGrantID)
	code, body := env.postReport(t, "node-secret",
		fmt.Sprintf(`[{"n":%q,"u":10,"d":10}]`, service))
	if code != http.StatusOK || body != flow.OutcomeOK {
		t.Fatalf("got %d %q, want 200 ok", code, body)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var cmd nodes.Command
	if err := conn.ReadJSON(&cmd); err != nil {
		t.Fatalf("read command: %v", err)
	}
	if cmd.Type != nodes.CommandPauseService || cmd.Service != service {
		t.Fatalf("command = %+v, want pause_service for %s", cmd, service)
	}
	if calls := env.ctrl.snapshot(); len(calls) != 0 {
		t.Fatalf("fallback used despite live channel: %v", calls)
	}
}
