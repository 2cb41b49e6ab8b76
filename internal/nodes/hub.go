// Package nodes tracks live agent control channels and delivers service
// commands over them, falling back to the agents' HTTP management API when
// no channel is connected.
package nodes

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"relaymeter/internal/domain"
)

// Command frame types pushed to connected agents.
const (
	CommandPauseService       = "pause_service"
	CommandPauseRemoteService = "pause_remote_service"
)

// Command is the JSON frame sent over an agent control channel.
type Command struct {
	Type    string `json:"type"`
	Service string `json:"service"`
}

// Commander is the HTTP fallback used when a node has no live session.
// Satisfied by [gost.Client].
type Commander interface {
	PauseService(ctx context.Context, addr, service, secret string) error
	PauseRemoteService(ctx context.Context, addr, service, secret string) error
}

// Hub tracks one control session per node and implements the flow
// controller on top of them.
type Hub struct {
	log      *slog.Logger
	fallback Commander

	mu       sync.RWMutex
	sessions map[int64]*session
}

// NewHub returns a Hub delivering through live sessions first and the given
// fallback second.
func NewHub(fallback Commander, logger *slog.Logger) *Hub {
	return &Hub{
		log:      logger,
		fallback: fallback,
		sessions: map[int64]*session{},
	}
}

// PauseService delivers a pause command for the named service to the node's
// ingress surface.
func (h *Hub) PauseService(ctx context.Context, node domain.Node, service string) error {
	return h.deliver(ctx, node, Command{Type: CommandPauseService, Service: service})
}

// PauseRemoteService delivers a pause command for the egress-side peer of a
// relay-pair service.
func (h *Hub) PauseRemoteService(ctx context.Context, node domain.Node, service string) error {
	return h.deliver(ctx, node, Command{Type: CommandPauseRemoteService, Service: service})
}

func (h *Hub) deliver(ctx context.Context, node domain.Node, cmd Command) error {
	if sess := h.session(node.ID); sess != nil {
		err := sess.send(cmd)
		if err == nil {
			return nil
		}
		h.log.Warn("session delivery failed, falling back to http",
			"node", node.ID, "type", cmd.Type, "err", err)
		h.drop(node.ID, sess)
	}
	var err error
	switch cmd.Type {
	case CommandPauseRemoteService:
		err = h.fallback.PauseRemoteService(ctx, node.Address, cmd.Service, node.Secret)
	default:
		err = h.fallback.PauseService(ctx, node.Address, cmd.Service, node.Secret)
	}
	if err != nil {
		return &domain.CommandError{NodeID: node.ID, Service: cmd.Service, Op: cmd.Type, Err: err}
	}
	return nil
}

// HandleSession registers the connection as the node's control channel and
// runs its read loop until the agent disconnects. Inbound frames are only
// heartbeats; their arrival refreshes the session's last-seen time.
func (h *Hub) HandleSession(node domain.Node, conn *websocket.Conn) {
	sess := newSession(node.ID, conn)

	h.mu.Lock()
	if prev, ok := h.sessions[node.ID]; ok {
		prev.close()
	}
	h.sessions[node.ID] = sess
	h.mu.Unlock()

	h.log.Info("node control channel connected", "node", node.ID)
	sess.readLoop()
	h.drop(node.ID, sess)
	h.log.Info("node control channel disconnected", "node", node.ID)
}

// ExpireStale closes sessions that have not sent a heartbeat within timeout.
func (h *Hub) ExpireStale(timeout time.Duration) {
	cutoff := time.Now().Add(-timeout).UnixNano()

	h.mu.Lock()
	var stale []*session
	for id, sess := range h.sessions {
		if sess.lastSeen() < cutoff {
			stale = append(stale, sess)
			delete(h.sessions, id)
		}
	}
	h.mu.Unlock()

	for _, sess := range stale {
		h.log.Warn("closing stale node control channel", "node", sess.nodeID)
		sess.close()
	}
}

// Connected reports whether the node currently has a live control channel.
func (h *Hub) Connected(nodeID int64) bool {
	return h.session(nodeID) != nil
}

func (h *Hub) session(nodeID int64) *session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[nodeID]
}

func (h *Hub) drop(nodeID int64, sess *session) {
	h.mu.Lock()
	if h.sessions[nodeID] == sess {
		delete(h.sessions, nodeID)
	}
	h.mu.Unlock()
	sess.close()
}
