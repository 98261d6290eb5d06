package protocol

import (
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/WPN214/wpn114network/internal/osc"
	"github.com/WPN214/wpn114network/internal/tree"
)

// Client mirrors a remote OSCQuery node's tree locally and relays value
// traffic over WebSocket/UDP, per spec.md §4.5's client protocol intake.
// Its UDP read loop, WebSocket read loop, and the synchronous HTTP
// bootstrap in Dial all run in different goroutines; every one of them
// touches the tree only through Loop (spec.md §5), the same discipline
// Server follows on the host side.
type Client struct {
	Tree     *tree.Tree
	Loop     *tree.Loop
	HostAddr string
	HostPort int

	httpClient *http.Client
	ws         *websocket.Conn
	udpConn    *net.UDPConn
	localUDP   int

	returnPort int
	log        *logrus.Entry
}

// NewClient returns a client bound to a local tree mirror, unconnected.
func NewClient(t *tree.Tree) *Client {
	return &Client{
		Tree:       t,
		Loop:       tree.NewLoop(t),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		log:        logrus.WithField("component", "protocol.Client"),
	}
}

// Query returns the JSON-encoded Namespace projection of path, reading
// the mirrored tree on the loop goroutine so it cannot race the
// WebSocket/UDP read loops still ingesting updates.
func (c *Client) Query(path string) ([]byte, error) {
	var (
		out []byte
		err error
	)
	c.Loop.Do(func(t *tree.Tree) {
		out, err = t.Query(path)
	})
	return out, err
}

func (c *Client) hostURL() string {
	return fmt.Sprintf("http://%s:%d", c.HostAddr, c.HostPort)
}

func (c *Client) wsURL() string {
	return fmt.Sprintf("ws://%s:%d/", c.HostAddr, c.HostPort)
}

// Dial connects to a fixed host:port (spec.md §4.4's Dialing state).
func (c *Client) Dial(host string, port int) error {
	c.HostAddr = host
	c.HostPort = port

	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{Port: 0})
	if err != nil {
		return err
	}
	c.udpConn = udpConn
	c.localUDP = udpConn.LocalAddr().(*net.UDPAddr).Port

	conn, _, err := websocket.DefaultDialer.Dial(c.wsURL(), nil)
	if err != nil {
		udpConn.Close()
		return err
	}
	c.ws = conn

	go c.readUDP()
	go c.readWebSocket()

	if err := c.requestHTTP("/?HOST_INFO"); err != nil {
		c.log.WithError(err).Warn("failed to request HOST_INFO")
	}
	if err := c.requestHTTP("/"); err != nil {
		c.log.WithError(err).Warn("failed to request namespace tree")
	}
	return nil
}

// requestHTTP fetches path from the connected host and feeds the JSON
// body through the same intake path as a WebSocket text frame.
func (c *Client) requestHTTP(path string) error {
	resp, err := c.httpClient.Get(c.hostURL() + path)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var body map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return err
	}
	c.handleJSONObject(body)
	return nil
}

// readWebSocket is the client's WS read loop: text frames carry JSON
// commands/tree updates, binary frames carry OSC.
func (c *Client) readWebSocket() {
	for {
		msgType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.log.WithError(err).Debug("websocket read loop ending")
			return
		}
		switch msgType {
		case websocket.TextMessage:
			var obj map[string]interface{}
			if err := json.Unmarshal(data, &obj); err != nil {
				c.log.WithError(err).Debug("malformed json frame, dropping")
				continue
			}
			c.handleJSONObject(obj)
		case websocket.BinaryMessage:
			c.handleOscFrame(data)
		}
	}
}

// readUDP relays datagrams through the same path as a WS binary frame
// (spec.md §4.5: "UDP datagram: same as binary frame path").
func (c *Client) readUDP() {
	buf := make([]byte, 65536)
	for {
		n, _, err := c.udpConn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		c.handleOscFrame(append([]byte(nil), buf[:n]...))
	}
}

func (c *Client) handleOscFrame(data []byte) {
	msg, err := osc.Decode(data)
	if err != nil {
		c.log.WithError(err).Debug("malformed osc frame, dropping")
		return
	}
	c.Loop.Do(func(t *tree.Tree) {
		n := t.Find(msg.Address)
		if n == nil {
			c.log.WithField("address", msg.Address).Debug("osc message for unknown address, dropping")
			return
		}
		v, ok := msg.Scalar()
		if !ok {
			v = osc.List(msg.Arguments...)
		}
		if err := n.SetValue(v); err != nil {
			c.log.WithError(err).WithField("address", msg.Address).Debug("set_value failed")
		}
	})
}

// handleJSONObject dispatches one decoded JSON object per spec.md §4.5's
// client intake rules: a COMMAND object, a namespace tree (FULL_PATH), or
// a host-info reply (OSC_PORT).
func (c *Client) handleJSONObject(obj map[string]interface{}) {
	if cmd, ok := obj["COMMAND"].(string); ok {
		c.handleCommand(cmd, obj["DATA"])
		return
	}
	if _, ok := obj["OSC_PORT"]; ok {
		c.handleHostInfo(obj)
		return
	}
	if _, ok := obj["FULL_PATH"]; ok {
		c.handleNamespace(obj)
		return
	}
}

func (c *Client) handleCommand(cmd string, data interface{}) {
	switch cmd {
	case "PATH_ADDED":
		entries, ok := data.(map[string]interface{})
		if !ok {
			return
		}
		c.Loop.Do(func(t *tree.Tree) {
			for _, raw := range entries {
				obj, ok := raw.(map[string]interface{})
				if !ok {
					continue
				}
				path, _ := obj["FULL_PATH"].(string)
				if path == "" {
					continue
				}
				n := t.FindOrCreate(path)
				if err := n.Update(obj); err != nil {
					c.log.WithError(err).WithField("path", path).Warn("failed to ingest PATH_ADDED node")
				}
			}
		})
	case "PATH_REMOVED":
		path, ok := data.(string)
		if !ok {
			return
		}
		c.Loop.Do(func(t *tree.Tree) {
			if err := t.RemoveSubnode(path); err != nil {
				c.log.WithError(err).WithField("path", path).Debug("path_removed for unknown node")
			}
		})
	default:
		c.log.WithField("command", cmd).Debug("unhandled command")
	}
}

func (c *Client) handleNamespace(obj map[string]interface{}) {
	c.Loop.Do(func(t *tree.Tree) {
		if err := t.Root().Update(obj); err != nil {
			c.log.WithError(err).Warn("failed to ingest namespace tree")
		}
	})
}

func (c *Client) handleHostInfo(info map[string]interface{}) {
	ext, _ := info["EXTENSIONS"].(map[string]interface{})
	streaming, _ := ext["OSC_STREAMING"].(bool)
	if !streaming {
		return
	}
	if err := c.requestStreamStart(); err != nil {
		c.log.WithError(err).Warn("failed to negotiate osc streaming")
	}
}

// requestStreamStart sends START_OSC_STREAMING so the host begins
// routing non-critical updates to this client's local UDP port.
func (c *Client) requestStreamStart() error {
	frame, err := commandFrame("START_OSC_STREAMING", map[string]interface{}{
		"LOCAL_SERVER_PORT": c.localUDP,
		"LOCAL_SENDER_PORT": c.localUDP,
	})
	if err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// Listen asks the host to LISTEN on path.
func (c *Client) Listen(path string) error { return c.sendPathCommand("LISTEN", path) }

// Ignore asks the host to IGNORE path.
func (c *Client) Ignore(path string) error { return c.sendPathCommand("IGNORE", path) }

// ListenAll asks the host to LISTEN_ALL at path.
func (c *Client) ListenAll(path string) error { return c.sendPathCommand("LISTEN_ALL", path) }

// IgnoreAll asks the host to IGNORE_ALL at path.
func (c *Client) IgnoreAll(path string) error { return c.sendPathCommand("IGNORE_ALL", path) }

func (c *Client) sendPathCommand(command, path string) error {
	frame, err := commandFrame(command, path)
	if err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, frame)
}

// Close tears down the WebSocket and UDP sockets and stops the tree loop.
func (c *Client) Close() error {
	var firstErr error
	if c.ws != nil {
		if err := c.ws.Close(); err != nil {
			firstErr = err
		}
	}
	if c.udpConn != nil {
		if err := c.udpConn.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	c.Loop.Close()
	return firstErr
}
