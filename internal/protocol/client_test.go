package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WPN214/wpn114network/internal/osc"
	"github.com/WPN214/wpn114network/internal/tree"
)

func newTestClient() (*Client, *tree.Tree) {
	t := tree.New()
	return NewClient(t), t
}

func TestHandleOscFrameAppliesValue(t *testing.T) {
	c, tr := newTestClient()
	tr.Link("/x", tree.NodeAttrs{Type: osc.TypeInt, Value: osc.Int(0)})

	frame, err := osc.Encode("/x", osc.Int(7))
	require.NoError(t, err)

	c.handleOscFrame(frame)
	i, _ := tr.Find("/x").Value().Int()
	assert.Equal(t, int32(7), i)
}

func TestHandleOscFrameUnknownAddressDropped(t *testing.T) {
	c, _ := newTestClient()
	frame, err := osc.Encode("/nope", osc.Int(1))
	require.NoError(t, err)
	c.handleOscFrame(frame) // must not panic
}

func TestHandleCommandPathAddedIngestsNode(t *testing.T) {
	c, tr := newTestClient()

	c.handleCommand("PATH_ADDED", map[string]interface{}{
		"freq": map[string]interface{}{
			"FULL_PATH": "/freq",
			"TYPE":      "f",
			"VALUE":     1.5,
		},
	})

	n := tr.Find("/freq")
	require.NotNil(t, n)
	f, _ := n.Value().Float()
	assert.Equal(t, float32(1.5), f)
}

func TestHandleCommandPathRemovedDropsNode(t *testing.T) {
	c, tr := newTestClient()
	tr.FindOrCreate("/gone")

	c.handleCommand("PATH_REMOVED", "/gone")

	assert.Nil(t, tr.Find("/gone"))
}

func TestHandleNamespaceUpdatesRoot(t *testing.T) {
	c, tr := newTestClient()

	c.handleNamespace(map[string]interface{}{
		"FULL_PATH": "/",
		"CONTENTS": map[string]interface{}{
			"freq": map[string]interface{}{
				"FULL_PATH": "/freq",
				"TYPE":      "f",
				"VALUE":     2.0,
			},
		},
	})

	require.NotNil(t, tr.Find("/freq"))
}

func TestHandleJSONObjectDispatchesByShape(t *testing.T) {
	c, tr := newTestClient()

	c.handleJSONObject(map[string]interface{}{
		"COMMAND": "PATH_REMOVED",
		"DATA":    "/missing",
	})
	assert.Nil(t, tr.Find("/missing"))

	c.handleJSONObject(map[string]interface{}{
		"FULL_PATH": "/",
		"CONTENTS":  map[string]interface{}{},
	})
	assert.Equal(t, "/", tr.Root().Path())
}

func TestHandleHostInfoSkipsStreamStartWhenUnsupported(t *testing.T) {
	c, _ := newTestClient()
	// ws is nil; if this tried to negotiate it would panic on a nil dereference.
	c.handleHostInfo(map[string]interface{}{
		"EXTENSIONS": map[string]interface{}{"OSC_STREAMING": false},
	})
}
