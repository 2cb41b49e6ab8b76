package nodes

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const sessionWriteTimeout = 10 * time.Second
const sessionReadLimit = 4 * 1024

type session struct {
	nodeID           int64
	conn             *websocket.Conn
	writeMu          sync.Mutex
	lastSeenUnixNano atomic.Int64
	closing          atomic.Bool
}

func newSession(nodeID int64, conn *websocket.Conn) *session {
	s := &session{nodeID: nodeID, conn: conn}
	s.touch()
	return s
}

func (s *session) send(cmd Command) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if err := s.conn.SetWriteDeadline(time.Now().Add(sessionWriteTimeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(cmd)
}

// readLoop drains inbound frames until the connection dies. Agents only send
// heartbeats; any frame counts as one.
func (s *session) readLoop() {
	s.conn.SetReadLimit(sessionReadLimit)
	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			return
		}
		s.touch()
	}
}

func (s *session) touch() {
	s.lastSeenUnixNano.Store(time.Now().UnixNano())
}

func (s *session) lastSeen() int64 {
	return s.lastSeenUnixNano.Load()
}

func (s *session) close() {
	if s.closing.Swap(true) {
		return
	}
	_ = s.conn.Close()
}
