// Package domain defines the core data types shared across the relaymeter
// server, store, and node command layers.
package domain

import "time"

// Billing mode constants select how a tunnel's traffic is charged to users
// and grants. Forward-level counters are always bidirectional.
const (
	BillingUploadOnly    = "upload_only"
	BillingBidirectional = "bidirectional"
)

// Topology constants describe how many managed nodes a tunnel spans.
const (
	TopologyDirect    = "direct"
	TopologyRelayPair = "relay_pair"
)

// Forward status constants. The accounting core only ever transitions
// active -> paused; resuming is an administrative action.
const (
	ForwardStatusActive = "active"
	ForwardStatusPaused = "paused"
)

// User status constants.
const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
)

// Grant status constants.
const (
	GrantStatusActive   = "active"
	GrantStatusDisabled = "disabled"
)

// BytesPerGB converts quota gigabytes to bytes (GiB).
const BytesPerGB = int64(1) << 30

// Node represents a managed proxy agent that runs forwarding services and
// reports their traffic.
type Node struct {
	ID        int64
	Name      string
	Address   string // host:port of the agent management API
	Secret    string
	CreatedAt time.Time
}

// Tunnel is a reusable network path definition. EgressNodeID is nil for
// direct tunnels; relay-pair tunnels span an ingress and an egress node.
type Tunnel struct {
	ID            int64
	Name          string
	IngressNodeID int64
	EgressNodeID  *int64
	Billing       string
	Topology      string
	CreatedAt     time.Time
}

// Forward is a configured proxied endpoint instance belonging to one user
// and bound to one tunnel. Its counters track both directions regardless of
// the tunnel's billing mode.
type Forward struct {
	ID        int64
	UserID    int64
	TunnelID  int64
	Name      string
	InBytes   int64
	OutBytes  int64
	Status    string
	CreatedAt time.Time
}

// User owns forwards and carries an account-wide traffic quota.
// ExpiresAt nil means the account never expires.
type User struct {
	ID        int64
	Name      string
	InBytes   int64
	OutBytes  int64
	QuotaGB   int64
	ExpiresAt *time.Time
	Status    string
	CreatedAt time.Time
}

// UserTunnelGrant scopes one user's permission and quota on one tunnel.
// A forward without per-grant accounting references the sentinel grant id 0.
type UserTunnelGrant struct {
	ID        int64
	UserID    int64
	TunnelID  int64
	InBytes   int64
	OutBytes  int64
	QuotaGB   int64
	ExpiresAt *time.Time
	Status    string
	CreatedAt time.Time
}

// QuotaBytes returns the user's quota in bytes.
func (u User) QuotaBytes() int64 {
	return u.QuotaGB * BytesPerGB
}

// QuotaBytes returns the grant's quota in bytes.
func (g UserTunnelGrant) QuotaBytes() int64 {
	return g.QuotaGB * BytesPerGB
}

// TrafficRecord is one entry of a node's traffic report batch. The field
// names mirror the reporting agents' wire format. Upload and Download are
// pointers so that absent samples can be told apart from zero ones.
type TrafficRecord struct {
	Service  string `json:"n"`
	Upload   *int64 `json:"u"`
	Download *int64 `json:"d"`
}
