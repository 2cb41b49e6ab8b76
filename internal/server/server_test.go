package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"relaymeter/internal/config"
	"relaymeter/internal/domain"
	"relaymeter/internal/flow"
	"relaymeter/internal/nodes"
	"relaymeter/internal/store/sqlite"
)

type fakeCommander struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeCommander) record(op, addr, service string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, op+" "+addr+" "+service)
}

func (f *fakeCommander) PauseService(_ context.Context, addr, service, _ string) error {
	f.record("pause", addr, service)
	return nil
}

func (f *fakeCommander) PauseRemoteService(_ context.Context, addr, service, _ string) error {
	f.record("pause_remote", addr, service)
	return nil
}

func (f *fakeCommander) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

type testEnv struct {
	srv   *httptest.Server
	store *sqlite.Store
	hub   *nodes.Hub
	ctrl  *fakeCommander
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := sqlite.Open(filepath.Join(t.TempDir(), "relaymeter.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctrl := &fakeCommander{}
	hub := nodes.NewHub(ctrl, logger)
	svc := flow.NewService(st, hub, logger)

	cfg := config.ServerConfig{MaxBodyBytes: 1 << 20}
	srv := httptest.NewServer(New(cfg, st, hub, svc, logger).Handler())
	t.Cleanup(srv.Close)

	return &testEnv{srv: srv, store: st, hub: hub, ctrl: ctrl}
}

func (e *testEnv) postReport(t *testing.T, secret, body string) (int, string) {
	t.Helper()
	resp, err := http.Post(e.srv.URL+"/flow/upload?secret="+secret, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("post report: %v", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read response: %v", err)
	}
	return resp.StatusCode, strings.TrimSpace(string(data))
}

// seed creates a node, a direct bidirectional tunnel, a user, and a forward,
// returning them for assertions.
func (e *testEnv) seed(t *testing.T, quotaGB int64) (domain.Node, domain.Tunnel, domain.User, domain.Forward) {
	t.Helper()
	ctx := context.Background()

	node, err := e.store.CreateNode(ctx, "edge-1", "127.0.0.1:18080", "node-secret")
	if err != nil {
		t.Fatalf("create node: %v", err)
	}
	tunnel, err := e.store.CreateTunnel(ctx, "t1", node.ID, nil, domain.BillingBidirectional, domain.TopologyDirect)
	if err != nil {
		t.Fatalf("create tunnel: %v", err)
	}
	user, err := e.store.CreateUser(ctx, "alice", quotaGB, nil)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	forward, err := e.store.CreateForward(ctx, user.ID, tunnel.ID, "fwd-1")
	if err != nil {
		t.Fatalf("create forward: %v", err)
	}
	return node, tunnel, user, forward
}

func TestFlowUploadAccounting(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, _, user, forward := env.seed(t, 100)

	service := domain.BuildServiceKey(forward.ID, user.ID, domain.SentinelGrantID)
	code, body := env.postReport(t, "node-secret",
		fmt.Sprintf(`[{"n":%q,"u":100,"d":200}]`, service))
	if code != http.StatusOK || body != flow.OutcomeOK {
		t.Fatalf("got %d %q, want 200 ok", code, body)
	}

	got, err := env.store.ForwardByID(context.Background(), forward.ID)
	if err != nil {
		t.Fatalf("reload forward: %v", err)
	}
	if got.InBytes != 200 || got.OutBytes != 100 {
		t.Fatalf("forward counters = %d/%d, want 200/100", got.InBytes, got.OutBytes)
	}
	if got.Status != domain.ForwardStatusActive {
		t.Fatalf("forward status = %q, want active", got.Status)
	}

	u, err := env.store.UserByID(context.Background(), user.ID)
	if err != nil {
		t.Fatalf("reload user: %v", err)
	}
	if u.InBytes != 200 || u.OutBytes != 100 {
		t.Fatalf("user counters = %d/%d, want 200/100", u.InBytes, u.OutBytes)
	}
	if calls := env.ctrl.snapshot(); len(calls) != 0 {
		t.Fatalf("unexpected pause commands: %v", calls)
	}
}

func TestFlowUploadUnknownSecret(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seed(t, 100)

	code, body := env.postReport(t, "wrong", `[{"n":"1_1_0","u":1,"d":1}]`)
	if code != http.StatusOK || body != flow.OutcomeUnauthorized {
		t.Fatalf("got %d %q, want 200 err1", code, body)
	}
}

func TestFlowUploadMethodNotAllowed(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	resp, err := http.Get(env.srv.URL + "/flow/upload?secret=node-secret")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}

func TestFlowUploadUndecodableBody(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	_, _, _, forward := env.seed(t, 100)

	code, body := env.postReport(t, "node-secret", `{"not":"an array"`)
	if code != http.StatusOK || body != flow.OutcomeOK {
		t.Fatalf("got %d %q, want 200 ok", code, body)
	}

	got, err := env.store.ForwardByID(context.Background(), forward.ID)
	if err != nil {
		t.Fatalf("reload forward: %v", err)
	}
	if got.InBytes != 0 || got.OutBytes != 0 {
		t.Fatalf("counters changed on undecodable body: %d/%d", got.InBytes, got.OutBytes)
	}
}

func TestFlowUploadQuotaEnforcement(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	node, _, user, forward := env.seed(t, 0)

	service := domain.BuildServiceKey(forward.ID, user.ID, domain.SentinelGrantID)
	code, body := env.postReport(t, "node-secret",
		fmt.Sprintf(`[{"n":%q,"u":10,"d":10}]`, service))
	if code != http.StatusOK || body != flow.OutcomeOK {
		t.Fatalf("got %d %q, want 200 ok", code, body)
	}

	got, err := env.store.ForwardByID(context.Background(), forward.ID)
	if err != nil {
		t.Fatalf("reload forward: %v", err)
	}
	if got.Status != domain.ForwardStatusPaused {
		t.Fatalf("forward status = %q, want paused", got.Status)
	}

	want := "pause " + node.Address + " " + service
	calls := env.ctrl.snapshot()
	if len(calls) != 1 || calls[0] != want {
		t.Fatalf("pause commands = %v, want [%q]", calls, want)
	}
}

func TestFlowUploadRateLimited(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	env.seed(t, 100)

	limited := false
	for i := 0; i < 10; i++ {
		code, _ := env.postReport(t, "node-secret", `[]`)
		if code == http.StatusTooManyRequests {
			limited = true
			break
		}
	}
	if !limited {
		t.Fatal("burst of reports was never rate limited")
	}
}

func TestFlowTestEndpoint(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	resp, err := http.Get(env.srv.URL + "/flow/test")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(data) != "test" {
		t.Fatalf("got %d %q, want 200 test", resp.StatusCode, data)
	}
}

func TestHealthz(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	resp, err := http.Get(env.srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestRateLimiterAllowAndCleanup(t *testing.T) {
	t.Parallel()

	rl := newRateLimiter()
	allowed := 0
	for i := 0; i < 20; i++ {
		if rl.allow("secret-a") {
			allowed++
		}
	}
	if allowed < 1 || allowed > int(reportBurstLimit) {
		t.Fatalf("allowed %d calls, want between 1 and %v", allowed, reportBurstLimit)
	}
	// An unrelated key has its own bucket.
	if !rl.allow("secret-b") {
		t.Fatal("fresh key unexpectedly limited")
	}

	rl.cleanup(time.Now().Add(reportCleanupAge + time.Minute))
	if !rl.allow("secret-a") {
		t.Fatal("bucket not replenished after cleanup eviction")
	}
}
