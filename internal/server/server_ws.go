package server

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleNodeWS authenticates an edge node by its secret and attaches it to
// the hub as a long-lived command channel.  A node without a live channel is
// still reachable through the HTTP fallback, so upgrade failures here are
// not fatal for enforcement.
func (s *Server) handleNodeWS(w http.ResponseWriter, r *http.Request) {
	secret := strings.TrimSpace(r.URL.Query().Get("secret"))
	if secret == "" {
		http.Error(w, "missing secret", http.StatusBadRequest)
		return
	}
	node, err := s.store.NodeBySecret(r.Context(), secret)
	if err != nil {
		http.Error(w, "invalid secret", http.StatusUnauthorized)
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "node_id", node.ID, "err", err)
		return
	}

	s.log.Info("node connected", "node_id", node.ID)
	s.hub.HandleSession(node, conn)
}
