package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WPN214/wpn114network/internal/osc"
	"github.com/WPN214/wpn114network/internal/tree"
)

type fakeTransport struct {
	text   [][]byte
	binary [][]byte
	closed bool
	failWS bool
}

func (f *fakeTransport) WriteText(data []byte) error {
	f.text = append(f.text, data)
	return nil
}

func (f *fakeTransport) WriteBinary(data []byte) error {
	if f.failWS {
		return assert.AnError
	}
	f.binary = append(f.binary, data)
	return nil
}

func (f *fakeTransport) Close() error {
	f.closed = true
	return nil
}

type fakeUDP struct {
	sent []struct {
		ip   string
		port int
		data []byte
	}
}

func (u *fakeUDP) SendTo(ip string, port int, data []byte) error {
	u.sent = append(u.sent, struct {
		ip   string
		port int
		data []byte
	}{ip, port, data})
	return nil
}

func TestDeliverCriticalUsesWebSocket(t *testing.T) {
	tr := fakeTransport{}
	udp := fakeUDP{}
	s := New("s1", "127.0.0.1", &tr, &udp)
	s.NegotiateOscStreaming(9000)

	s.Deliver("/x", osc.Float(1), true)

	assert.Len(t, tr.binary, 1)
	assert.Empty(t, udp.sent)
}

func TestDeliverNonCriticalWithReturnPortUsesUDP(t *testing.T) {
	tr := fakeTransport{}
	udp := fakeUDP{}
	s := New("s1", "127.0.0.1", &tr, &udp)
	s.NegotiateOscStreaming(9000)

	s.Deliver("/x", osc.Float(1), false)

	assert.Empty(t, tr.binary)
	require.Len(t, udp.sent, 1)
	assert.Equal(t, 9000, udp.sent[0].port)
}

func TestDeliverNonCriticalWithoutReturnPortUsesWebSocket(t *testing.T) {
	tr := fakeTransport{}
	udp := fakeUDP{}
	s := New("s1", "127.0.0.1", &tr, &udp)

	s.Deliver("/x", osc.Float(1), false)

	assert.Len(t, tr.binary, 1)
	assert.Empty(t, udp.sent)
}

func TestListenSubscribesToTreeNode(t *testing.T) {
	transport := &fakeTransport{}
	tr := New("s1", "127.0.0.1", transport, &fakeUDP{})
	treeObj := tree.New()
	n := treeObj.FindOrCreate("/a")

	tr.Listen(treeObj, "/a")
	require.NoError(t, n.SetValue(osc.Int(1)))
	assert.Len(t, transport.binary, 1, "a LISTEN subscriber receives the value change")
}

func TestCloseRemovesAllSubscriptions(t *testing.T) {
	treeObj := tree.New()
	transport := &fakeTransport{}
	s := New("s1", "127.0.0.1", transport, &fakeUDP{})

	s.Listen(treeObj, "/a")
	s.ListenAll(treeObj, "/b")

	require.NoError(t, s.Close())
	assert.True(t, transport.closed)

	require.NoError(t, treeObj.Find("/a").SetValue(osc.Int(1)))
	require.NoError(t, treeObj.Find("/b").SetValue(osc.Int(1)))
	assert.Empty(t, transport.binary, "a closed session receives no further deliveries")

	n := treeObj.FindOrCreate("/a")
	n.RemoveListener(s) // idempotent: already removed by Close
	_ = n
}

func TestFailedWebSocketWriteMovesSessionToClosing(t *testing.T) {
	transport := &fakeTransport{failWS: true}
	s := New("s1", "127.0.0.1", transport, &fakeUDP{})

	s.Deliver("/x", osc.Int(1), true)
	assert.Equal(t, Closing, s.State())
}
