package cli

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"relaymeter/internal/domain"
	"relaymeter/internal/gost"
	"relaymeter/internal/store/sqlite"
)

// runAdmin dispatches the inventory commands. They operate directly on the
// database and are meant for provisioning scripts, not for a running
// server's hot path.
func runAdmin(ctx context.Context, args []string) int {
	if len(args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: relaymeter admin <node|tunnel|user|forward|grant> <verb> [flags]")
		return 2
	}
	entity, verb := args[0], args[1]
	args = args[2:]

	switch entity + " " + verb {
	case "node add":
		return runNodeAdd(ctx, args)
	case "tunnel add":
		return runTunnelAdd(ctx, args)
	case "user add":
		return runUserAdd(ctx, args)
	case "user disable":
		return runUserSetStatus(ctx, args, domain.UserStatusDisabled)
	case "user enable":
		return runUserSetStatus(ctx, args, domain.UserStatusActive)
	case "forward add":
		return runForwardAdd(ctx, args)
	case "forward resume":
		return runForwardResume(ctx, args)
	case "grant add":
		return runGrantAdd(ctx, args)
	case "grant disable":
		return runGrantSetStatus(ctx, args, domain.GrantStatusDisabled)
	case "grant enable":
		return runGrantSetStatus(ctx, args, domain.GrantStatusActive)
	default:
		fmt.Fprintf(os.Stderr, "unknown admin command: %s %s\n", entity, verb)
		return 2
	}
}

func defaultDBPath() string {
	if v := os.Getenv("RELAYMETER_DB_PATH"); v != "" {
		return v
	}
	return "./relaymeter.db"
}

func openAdminStore(dbPath string) (*sqlite.Store, int) {
	store, err := sqlite.Open(dbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "db error:", err)
		return nil, 1
	}
	return store, 0
}

func parseExpiry(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("invalid expiry %q, want RFC 3339: %w", s, err)
	}
	return &t, nil
}

func runNodeAdd(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("node-add", flag.ContinueOnError)
	var dbPath, name, address, secret string
	fs.StringVar(&dbPath, "db", defaultDBPath(), "sqlite db path")
	fs.StringVar(&name, "name", "", "node name")
	fs.StringVar(&address, "address", "", "agent management address (host:port)")
	fs.StringVar(&secret, "secret", "", "node secret (generated when empty)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if name == "" || address == "" {
		fmt.Fprintln(os.Stderr, "missing --name or --address")
		return 2
	}

	store, code := openAdminStore(dbPath)
	if code != 0 {
		return code
	}
	defer func() { _ = store.Close() }()

	node, err := store.CreateNode(ctx, name, address, secret)
	if err != nil {
		fmt.Fprintln(os.Stderr, "create node:", err)
		return 1
	}
	fmt.Println("id:", node.ID)
	fmt.Println("address:", node.Address)
	fmt.Println("secret:", node.Secret)
	return 0
}

func runTunnelAdd(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("tunnel-add", flag.ContinueOnError)
	var dbPath, name, billing, topology string
	var ingress, egress int64
	fs.StringVar(&dbPath, "db", defaultDBPath(), "sqlite db path")
	fs.StringVar(&name, "name", "", "tunnel name")
	fs.Int64Var(&ingress, "ingress", 0, "ingress node id")
	fs.Int64Var(&egress, "egress", 0, "egress node id (relay pairs only)")
	fs.StringVar(&billing, "billing", domain.BillingBidirectional, "billing mode: bidirectional|upload_only")
	fs.StringVar(&topology, "topology", domain.TopologyDirect, "topology: direct|relay_pair")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if name == "" || ingress == 0 {
		fmt.Fprintln(os.Stderr, "missing --name or --ingress")
		return 2
	}
	if billing != domain.BillingBidirectional && billing != domain.BillingUploadOnly {
		fmt.Fprintln(os.Stderr, "invalid --billing:", billing)
		return 2
	}
	if topology != domain.TopologyDirect && topology != domain.TopologyRelayPair {
		fmt.Fprintln(os.Stderr, "invalid --topology:", topology)
		return 2
	}
	var egressID *int64
	if egress != 0 {
		egressID = &egress
	}
	if topology == domain.TopologyRelayPair && egressID == nil {
		fmt.Fprintln(os.Stderr, "relay_pair topology requires --egress")
		return 2
	}

	store, code := openAdminStore(dbPath)
	if code != 0 {
		return code
	}
	defer func() { _ = store.Close() }()

	tunnel, err := store.CreateTunnel(ctx, name, ingress, egressID, billing, topology)
	if err != nil {
		fmt.Fprintln(os.Stderr, "create tunnel:", err)
		return 1
	}
	fmt.Println("id:", tunnel.ID)
	return 0
}

func runUserAdd(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("user-add", flag.ContinueOnError)
	var dbPath, name, expiry string
	var quotaGB int64
	fs.StringVar(&dbPath, "db", defaultDBPath(), "sqlite db path")
	fs.StringVar(&name, "name", "", "user name")
	fs.Int64Var(&quotaGB, "quota-gb", 0, "account traffic quota in GB")
	fs.StringVar(&expiry, "expires", "", "account expiry (RFC 3339, empty for none)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if name == "" {
		fmt.Fprintln(os.Stderr, "missing --name")
		return 2
	}
	expiresAt, err := parseExpiry(expiry)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	store, code := openAdminStore(dbPath)
	if code != 0 {
		return code
	}
	defer func() { _ = store.Close() }()

	user, err := store.CreateUser(ctx, name, quotaGB, expiresAt)
	if err != nil {
		fmt.Fprintln(os.Stderr, "create user:", err)
		return 1
	}
	fmt.Println("id:", user.ID)
	return 0
}

func runForwardAdd(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("forward-add", flag.ContinueOnError)
	var dbPath, name string
	var userID, tunnelID int64
	fs.StringVar(&dbPath, "db", defaultDBPath(), "sqlite db path")
	fs.StringVar(&name, "name", "", "forward name")
	fs.Int64Var(&userID, "user", 0, "owning user id")
	fs.Int64Var(&tunnelID, "tunnel", 0, "tunnel id")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if name == "" || userID == 0 || tunnelID == 0 {
		fmt.Fprintln(os.Stderr, "missing --name, --user or --tunnel")
		return 2
	}

	store, code := openAdminStore(dbPath)
	if code != 0 {
		return code
	}
	defer func() { _ = store.Close() }()

	forward, err := store.CreateForward(ctx, userID, tunnelID, name)
	if err != nil {
		fmt.Fprintln(os.Stderr, "create forward:", err)
		return 1
	}
	fmt.Println("id:", forward.ID)
	fmt.Println("service:", domain.BuildServiceKey(forward.ID, userID, domain.SentinelGrantID))
	return 0
}

func runGrantAdd(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("grant-add", flag.ContinueOnError)
	var dbPath, expiry string
	var userID, tunnelID, quotaGB int64
	fs.StringVar(&dbPath, "db", defaultDBPath(), "sqlite db path")
	fs.Int64Var(&userID, "user", 0, "user id")
	fs.Int64Var(&tunnelID, "tunnel", 0, "tunnel id")
	fs.Int64Var(&quotaGB, "quota-gb", 0, "grant traffic quota in GB")
	fs.StringVar(&expiry, "expires", "", "grant expiry (RFC 3339, empty for none)")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if userID == 0 || tunnelID == 0 {
		fmt.Fprintln(os.Stderr, "missing --user or --tunnel")
		return 2
	}
	expiresAt, err := parseExpiry(expiry)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 2
	}

	store, code := openAdminStore(dbPath)
	if code != 0 {
		return code
	}
	defer func() { _ = store.Close() }()

	grant, err := store.CreateGrant(ctx, userID, tunnelID, quotaGB, expiresAt)
	if err != nil {
		fmt.Fprintln(os.Stderr, "create grant:", err)
		return 1
	}
	fmt.Println("id:", grant.ID)
	return 0
}

func runUserSetStatus(ctx context.Context, args []string, status string) int {
	fs := flag.NewFlagSet("user-status", flag.ContinueOnError)
	var dbPath string
	var id int64
	fs.StringVar(&dbPath, "db", defaultDBPath(), "sqlite db path")
	fs.Int64Var(&id, "id", 0, "user id")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if id == 0 {
		fmt.Fprintln(os.Stderr, "missing --id")
		return 2
	}

	store, code := openAdminStore(dbPath)
	if code != 0 {
		return code
	}
	defer func() { _ = store.Close() }()

	if err := store.SetUserStatus(ctx, id, status); err != nil {
		fmt.Fprintln(os.Stderr, "set user status:", err)
		return 1
	}
	fmt.Println("status:", status)
	return 0
}

func runGrantSetStatus(ctx context.Context, args []string, status string) int {
	fs := flag.NewFlagSet("grant-status", flag.ContinueOnError)
	var dbPath string
	var id int64
	fs.StringVar(&dbPath, "db", defaultDBPath(), "sqlite db path")
	fs.Int64Var(&id, "id", 0, "grant id")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if id == 0 {
		fmt.Fprintln(os.Stderr, "missing --id")
		return 2
	}

	store, code := openAdminStore(dbPath)
	if code != 0 {
		return code
	}
	defer func() { _ = store.Close() }()

	if err := store.SetGrantStatus(ctx, id, status); err != nil {
		fmt.Fprintln(os.Stderr, "set grant status:", err)
		return 1
	}
	fmt.Println("status:", status)
	return 0
}

// runForwardResume reactivates a paused forward and pushes resume commands
// to the tunnel's nodes. The status write is authoritative; delivery is best
// effort, an unreachable node just leaves the service paused until its agent
// reconciles.
func runForwardResume(ctx context.Context, args []string) int {
	fs := flag.NewFlagSet("forward-resume", flag.ContinueOnError)
	var dbPath string
	var id int64
	var timeout time.Duration
	fs.StringVar(&dbPath, "db", defaultDBPath(), "sqlite db path")
	fs.Int64Var(&id, "id", 0, "forward id")
	fs.DurationVar(&timeout, "timeout", 10*time.Second, "node command timeout")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if id == 0 {
		fmt.Fprintln(os.Stderr, "missing --id")
		return 2
	}

	store, code := openAdminStore(dbPath)
	if code != 0 {
		return code
	}
	defer func() { _ = store.Close() }()

	forward, err := store.ForwardByID(ctx, id)
	if err != nil {
		fmt.Fprintln(os.Stderr, "forward lookup:", err)
		return 1
	}
	if err := store.SetForwardStatus(ctx, id, domain.ForwardStatusActive); err != nil {
		fmt.Fprintln(os.Stderr, "set forward status:", err)
		return 1
	}

	grantID := domain.SentinelGrantID
	if g, err := store.GrantForUserTunnel(ctx, forward.UserID, forward.TunnelID); err == nil {
		grantID = g.ID
	}
	service := domain.BuildServiceKey(forward.ID, forward.UserID, grantID)

	tunnel, err := store.TunnelByID(ctx, forward.TunnelID)
	if err != nil {
		fmt.Fprintln(os.Stderr, "warning: tunnel lookup failed, no resume command sent:", err)
		return 0
	}
	client := gost.New(timeout)
	if ingress, err := store.NodeByID(ctx, tunnel.IngressNodeID); err != nil {
		fmt.Fprintln(os.Stderr, "warning: ingress node lookup failed:", err)
	} else if err := client.ResumeService(ctx, ingress.Address, service, ingress.Secret); err != nil {
		fmt.Fprintln(os.Stderr, "warning: resume command failed:", err)
	}
	if tunnel.Topology == domain.TopologyRelayPair && tunnel.EgressNodeID != nil {
		if egress, err := store.NodeByID(ctx, *tunnel.EgressNodeID); err != nil {
			fmt.Fprintln(os.Stderr, "warning: egress node lookup failed:", err)
		} else if err := client.ResumeRemoteService(ctx, egress.Address, service, egress.Secret); err != nil {
			fmt.Fprintln(os.Stderr, "warning: remote resume command failed:", err)
		}
	}

	fmt.Println("status:", domain.ForwardStatusActive)
	return 0
}
