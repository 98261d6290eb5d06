package protocol

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"

	"github.com/WPN214/wpn114network/internal/session"
	"github.com/WPN214/wpn114network/internal/tree"
)

// wsTransport adapts *websocket.Conn to session.Transport, serializing
// writes with a mutex since gorilla's Conn forbids concurrent writers.
type wsTransport struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (t *wsTransport) WriteText(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) WriteBinary(data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}

// udpSocket adapts *net.UDPConn to session.UDPSender.
type udpSocket struct {
	conn *net.UDPConn
}

func (u *udpSocket) SendTo(ip string, port int, data []byte) error {
	if u.conn == nil {
		return fmt.Errorf("protocol: no udp socket configured")
	}
	addr := &net.UDPAddr{IP: net.ParseIP(ip), Port: port}
	_, err := u.conn.WriteToUDP(data, addr)
	return err
}

var sessionCounter int64

func nextSessionID() string {
	id := atomic.AddInt64(&sessionCounter, 1)
	return fmt.Sprintf("sess-%d", id)
}

// HandleWebSocket upgrades r into a WebSocket, registers a Session on
// s, and runs its read loop until the connection closes (spec.md §4.4's
// Dialing -> Handshaking -> Open transition happens across the HTTP
// upgrade at the top of this function; the Session is created only once
// the upgrade has succeeded and is moved straight to Open).
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Debug("websocket upgrade failed")
		return
	}

	host, _ := splitHostPort(r.RemoteAddr)
	transport := &wsTransport{conn: conn}
	udp := &udpSocket{conn: s.UDPConn}

	sess := session.New(nextSessionID(), host, transport, udp)
	sess.SetState(session.Open)
	s.AddSession(sess)

	log := s.log.WithField("session", sess.ID)
	log.Info("session opened")

	defer func() {
		// Close detaches sess from every node it subscribed to, which
		// mutates those nodes' listener maps; it must run on the tree
		// loop like every other tree touch (spec.md §5).
		s.Loop.Do(func(_ *tree.Tree) { sess.Close() })
		s.RemoveSession(sess.ID)
		log.Info("session closed")
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		switch msgType {
		case websocket.TextMessage:
			s.HandleCommand(sess, data)
		case websocket.BinaryMessage:
			s.HandleBinary(sess, data)
		default:
			log.WithField("type", msgType).Debug("ignoring unsupported frame type")
		}
	}
}
