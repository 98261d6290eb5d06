package session

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/WPN214/wpn114network/internal/osc"
	"github.com/WPN214/wpn114network/internal/tree"
)

// Transport is the minimal WebSocket surface a Session needs to push
// frames to its peer. The protocol package's connection wrapper
// implements this over *websocket.Conn.
type Transport interface {
	WriteText(data []byte) error
	WriteBinary(data []byte) error
	Close() error
}

// UDPSender hands a datagram to the server's shared UDP socket, addressed
// to a peer's negotiated return port (spec.md §4.5, "Value fan-out").
type UDPSender interface {
	SendTo(ip string, port int, data []byte) error
}

// Session is one connected peer: its transport, negotiated UDP return
// path, and subscription table (spec.md §4.4).
type Session struct {
	ID        string
	PeerIP    string
	Transport Transport
	UDP       UDPSender

	mu         sync.Mutex
	state      State
	returnPort int

	listenNodes    map[string]*tree.Node // exact LISTEN subscriptions
	listenAllNodes map[string]*tree.Node // prefix LISTEN_ALL subscriptions

	log *logrus.Entry
}

// New constructs a Session in the Dialing state.
func New(id string, peerIP string, t Transport, udp UDPSender) *Session {
	return &Session{
		ID:             id,
		PeerIP:         peerIP,
		Transport:      t,
		UDP:            udp,
		state:          Dialing,
		listenNodes:    make(map[string]*tree.Node),
		listenAllNodes: make(map[string]*tree.Node),
		log:            logrus.WithField("session", id),
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// SetState forces a state transition, logging it. Any state may move to
// Closed (socket close, read error, explicit shutdown); the happy path is
// Dialing -> Handshaking -> Open -> OscStreamingNegotiated.
func (s *Session) SetState(next State) {
	s.mu.Lock()
	prev := s.state
	s.state = next
	s.mu.Unlock()
	s.log.WithFields(logrus.Fields{"from": prev, "to": next}).Debug("session state transition")
}

// ReturnPort is the peer's negotiated UDP return port, or 0 if
// START_OSC_STREAMING has not yet been received.
func (s *Session) ReturnPort() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.returnPort
}

// NegotiateOscStreaming records the peer's return UDP port and moves the
// session to OscStreamingNegotiated (spec.md §4.4).
func (s *Session) NegotiateOscStreaming(localServerPort int) {
	s.mu.Lock()
	s.returnPort = localServerPort
	s.state = OscStreamingNegotiated
	s.mu.Unlock()
	s.log.WithField("return_port", localServerPort).Debug("osc streaming negotiated")
}

// Listen subscribes the session to exact-match delivery on path,
// autovivifying the node if absent.
func (s *Session) Listen(t *tree.Tree, path string) {
	n := t.FindOrCreate(path)
	n.AddListener(s)
	s.mu.Lock()
	s.listenNodes[path] = n
	s.mu.Unlock()
}

// Ignore undoes Listen for path.
func (s *Session) Ignore(path string) {
	s.mu.Lock()
	n, ok := s.listenNodes[path]
	delete(s.listenNodes, path)
	s.mu.Unlock()
	if ok {
		n.RemoveListener(s)
	}
}

// ListenAll subscribes the session to prefix-match delivery rooted at
// path: this node and every descendant.
func (s *Session) ListenAll(t *tree.Tree, path string) {
	n := t.FindOrCreate(path)
	n.AddListenAll(s)
	s.mu.Lock()
	s.listenAllNodes[path] = n
	s.mu.Unlock()
}

// IgnoreAll undoes ListenAll for path.
func (s *Session) IgnoreAll(path string) {
	s.mu.Lock()
	n, ok := s.listenAllNodes[path]
	delete(s.listenAllNodes, path)
	s.mu.Unlock()
	if ok {
		n.RemoveListenAll(s)
	}
}

// Deliver implements tree.Listener: it is called once per node value
// change the session is subscribed to, and chooses WS vs UDP transport
// per spec.md §4.5's fan-out rule.
func (s *Session) Deliver(path string, v osc.Value, critical bool) {
	msg := osc.NewMessage(path, v)
	enc, err := osc.EncodeMessage(msg)
	if err != nil {
		s.log.WithError(err).WithField("path", path).Warn("failed to encode outgoing osc message")
		return
	}

	port := s.ReturnPort()
	if critical || port == 0 {
		if err := s.Transport.WriteBinary(enc); err != nil {
			s.log.WithError(err).Debug("websocket write failed, closing session")
			s.SetState(Closing)
		}
		return
	}
	if err := s.UDP.SendTo(s.PeerIP, port, enc); err != nil {
		s.log.WithError(err).WithField("path", path).Warn("udp send failed")
	}
}

// SendCommand writes a JSON command frame ({"COMMAND": name, "DATA":
// data}) as a WebSocket text frame, used for PATH_ADDED/PATH_REMOVED
// broadcasts and command replies.
func (s *Session) SendCommand(payload []byte) error {
	return s.Transport.WriteText(payload)
}

// Close detaches the session from every node it subscribed to and closes
// its transport. Safe to call more than once.
func (s *Session) Close() error {
	s.mu.Lock()
	listens := s.listenNodes
	listenAlls := s.listenAllNodes
	s.listenNodes = make(map[string]*tree.Node)
	s.listenAllNodes = make(map[string]*tree.Node)
	s.state = Closed
	s.mu.Unlock()

	for _, n := range listens {
		n.RemoveListener(s)
	}
	for _, n := range listenAlls {
		n.RemoveListenAll(s)
	}
	if s.Transport == nil {
		return nil
	}
	return s.Transport.Close()
}

func (s *Session) String() string {
	return fmt.Sprintf("Session{%s peer=%s state=%s}", s.ID, s.PeerIP, s.State())
}
