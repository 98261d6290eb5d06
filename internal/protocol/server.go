package protocol

import (
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/WPN214/wpn114network/internal/dirwatch"
	"github.com/WPN214/wpn114network/internal/osc"
	"github.com/WPN214/wpn114network/internal/session"
	"github.com/WPN214/wpn114network/internal/tree"
)

// HostInfo is the payload served for GET /?HOST_INFO (spec.md §6).
type HostInfo struct {
	Name         string
	OscPort      int
	OscTransport string
	Extensions   map[string]bool
}

func (h HostInfo) toJSON() map[string]interface{} {
	return map[string]interface{}{
		"NAME":          h.Name,
		"OSC_PORT":      h.OscPort,
		"OSC_TRANSPORT": h.OscTransport,
		"EXTENSIONS":    h.Extensions,
	}
}

// DefaultExtensions matches the EXTENSIONS toggles this node supports,
// mirroring original_source/source/oscquery/device.cpp's extension map.
func DefaultExtensions() map[string]bool {
	return map[string]bool{
		"ACCESS":        true,
		"VALUE":         true,
		"RANGE":         true,
		"DESCRIPTION":   true,
		"TAGS":          true,
		"EXTENDED_TYPE": true,
		"UNIT":          false,
		"CRITICAL":      true,
		"CLIPMODE":      true,
		"LISTEN":        true,
		"PATH_CHANGED":  false,
		"PATH_REMOVED":  true,
		"PATH_ADDED":    true,
		"PATH_RENAMED":  false,
		"OSC_STREAMING": true,
		"HTML":          false,
		"ECHO":          false,
	}
}

// Server is the protocol engine's server side: it answers HTTP GETs,
// dispatches WebSocket commands and binary OSC frames, and broadcasts
// tree mutations to every open session (spec.md §4.5). It implements
// tree.EventSink. Every read or mutation of Tree happens inside a
// closure submitted to Loop (spec.md §5): Server itself never calls a
// Tree/Node method from outside one, so sessions running in their own
// WebSocket read-loop goroutines never race each other over the tree's
// maps.
type Server struct {
	Tree    *tree.Tree
	Loop    *tree.Loop
	Info    HostInfo
	UDPConn *net.UDPConn
	replies *ReplyManager

	mu       sync.Mutex
	sessions map[string]*session.Session

	log *logrus.Entry
}

// NewServer wires a protocol engine on top of t, answering as info, and
// starts the tree loop that serializes every access to t.
func NewServer(t *tree.Tree, info HostInfo, udp *net.UDPConn) *Server {
	s := &Server{
		Tree:     t,
		Loop:     tree.NewLoop(t),
		Info:     info,
		UDPConn:  udp,
		replies:  NewReplyManager(),
		sessions: make(map[string]*session.Session),
		log:      logrus.WithField("component", "protocol.Server"),
	}
	t.SetSink(s)
	return s
}

// MountDirectory mirrors a filesystem directory into the tree at
// mountPath, as file/folder extended_type nodes (spec.md §4.9).
func (s *Server) MountDirectory(mountPath, root string) error {
	var err error
	s.Loop.Do(func(t *tree.Tree) {
		err = dirwatch.Mirror(t, mountPath, root)
	})
	return err
}

// AddSession registers a session so it receives broadcasts.
func (s *Server) AddSession(sess *session.Session) {
	s.mu.Lock()
	s.sessions[sess.ID] = sess
	s.mu.Unlock()
}

// RemoveSession drops a session from the broadcast set (call on close).
func (s *Server) RemoveSession(id string) {
	s.mu.Lock()
	delete(s.sessions, id)
	s.mu.Unlock()
}

// broadcast is called from tree.EventSink hooks, which run on the tree
// loop goroutine; the actual writes are handed off to their own goroutine
// so a slow or stuck peer can never stall the loop that every session
// depends on (spec.md §5).
func (s *Server) broadcast(frame []byte) {
	s.mu.Lock()
	targets := make([]*session.Session, 0, len(s.sessions))
	for _, sess := range s.sessions {
		targets = append(targets, sess)
	}
	s.mu.Unlock()

	go func() {
		for _, sess := range targets {
			if err := sess.SendCommand(frame); err != nil {
				s.log.WithError(err).WithField("session", sess.ID).Debug("broadcast write failed")
			}
		}
	}()
}

// NodeAdded implements tree.EventSink: broadcasts PATH_ADDED.
func (s *Server) NodeAdded(n *tree.Node) {
	frame, err := commandFrame("PATH_ADDED", map[string]interface{}{n.Name(): n.ToJSON()})
	if err != nil {
		s.log.WithError(err).Warn("failed to encode PATH_ADDED")
		return
	}
	s.broadcast(frame)
}

// NodeReplaced implements tree.EventSink: treated identically to
// NodeAdded for broadcast purposes (the path's shape changed in place).
func (s *Server) NodeReplaced(n *tree.Node) {
	s.NodeAdded(n)
}

// NodeRemoved implements tree.EventSink: broadcasts PATH_REMOVED.
func (s *Server) NodeRemoved(path string) {
	frame, err := commandFrame("PATH_REMOVED", path)
	if err != nil {
		s.log.WithError(err).Warn("failed to encode PATH_REMOVED")
		return
	}
	s.broadcast(frame)
}

// ValueChanged implements tree.EventSink. Per-session fan-out already
// happens through tree.Node.deliver calling each Listener's Deliver
// (implemented by Session); the sink hook only needs to log here.
func (s *Server) ValueChanged(n *tree.Node, v osc.Value) {
	s.log.WithField("path", n.Path()).Trace("value changed")
}

// ValueReceived implements tree.EventSink; logs every inbound write whose
// value coerced to the node's type, whether or not it changed the value.
func (s *Server) ValueReceived(n *tree.Node, v osc.Value) {
	s.log.WithField("path", n.Path()).Trace("value received")
}

// ServeHTTP answers GET /path[?ATTR] per spec.md §4.5. Every lookup into
// the tree runs inside a single Loop.Do call so the node it reads cannot
// be mutated out from under it by a concurrent session.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path
	if path == "" {
		path = "/"
	}
	query := r.URL.RawQuery

	if query == "HOST_INFO" {
		body, err := json.Marshal(s.Info.toJSON())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		s.replies.EnqueueJSON(r.RemoteAddr, w, body)
		return
	}

	var (
		body       []byte
		marshalErr error
		fileData   []byte
		fileType   string
		isFile     bool
		found      bool
	)

	s.Loop.Do(func(t *tree.Tree) {
		n := t.Find(path)
		if n == nil {
			return
		}
		found = true

		if n.ExtendedType() == "file" {
			isFile = true
			filePath := n.Value().String()
			data, err := dirwatch.ReadFile(filePath)
			if err != nil {
				found = false
				return
			}
			fileData = data
			fileType = dirwatch.ContentType(filePath, data)
			return
		}

		if query == "" {
			body, marshalErr = json.Marshal(n.ToJSON())
			return
		}

		val, ok := n.AttributeValue(query)
		if !ok {
			found = false
			return
		}
		body, marshalErr = json.Marshal(map[string]interface{}{query: val})
	})

	if !found {
		notFound(w)
		return
	}
	if isFile {
		writeFile(w, fileType, fileData)
		return
	}
	if marshalErr != nil {
		http.Error(w, marshalErr.Error(), http.StatusInternalServerError)
		return
	}
	s.replies.EnqueueJSON(r.RemoteAddr, w, body)
}

// HandleCommand dispatches one decoded WebSocket command JSON object from
// sess, per spec.md §4.5's server command dispatch table.
func (s *Server) HandleCommand(sess *session.Session, raw []byte) {
	var obj struct {
		Command string          `json:"COMMAND"`
		Data    json.RawMessage `json:"DATA"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		s.log.WithError(err).WithField("session", sess.ID).Debug("malformed command json, dropping")
		return
	}

	log := s.log.WithFields(logrus.Fields{"session": sess.ID, "command": obj.Command})

	switch obj.Command {
	case "LISTEN":
		var path string
		if json.Unmarshal(obj.Data, &path) == nil {
			s.Loop.Do(func(t *tree.Tree) { sess.Listen(t, path) })
		}
	case "IGNORE":
		var path string
		if json.Unmarshal(obj.Data, &path) == nil {
			s.Loop.Do(func(t *tree.Tree) { sess.Ignore(path) })
		}
	case "LISTEN_ALL":
		var path string
		if json.Unmarshal(obj.Data, &path) == nil {
			s.Loop.Do(func(t *tree.Tree) { sess.ListenAll(t, path) })
		}
	case "IGNORE_ALL":
		var path string
		if json.Unmarshal(obj.Data, &path) == nil {
			s.Loop.Do(func(t *tree.Tree) { sess.IgnoreAll(path) })
		}
	case "START_OSC_STREAMING":
		var data struct {
			LocalServerPort int `json:"LOCAL_SERVER_PORT"`
		}
		if json.Unmarshal(obj.Data, &data) == nil {
			sess.NegotiateOscStreaming(data.LocalServerPort)
		}
	default:
		log.Debug("unknown command, dropping")
	}
}

// HandleBinary decodes an OSC frame from sess and applies it quietly
// (without echoing back to sess) to the matched node, per spec.md §4.5.
func (s *Server) HandleBinary(sess *session.Session, frame []byte) {
	msg, err := osc.Decode(frame)
	if err != nil {
		s.log.WithError(err).WithField("session", sess.ID).Debug("malformed osc frame, dropping")
		return
	}

	s.Loop.Do(func(t *tree.Tree) {
		n := t.Find(msg.Address)
		if n == nil {
			s.log.WithField("address", msg.Address).Debug("osc message for unknown address, dropping")
			return
		}
		v, ok := msg.Scalar()
		if !ok {
			v = osc.List(msg.Arguments...)
		}
		if err := n.SetValueQuiet(v, sess); err != nil {
			s.log.WithError(err).WithField("address", msg.Address).Debug("set_value_quiet failed")
		}
	})
}

// upgrader is the shared gorilla/websocket upgrader for incoming
// connections.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func splitHostPort(addr string) (string, int) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return addr, 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}

