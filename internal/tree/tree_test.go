package tree

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WPN214/wpn114network/internal/osc"
)

type countingSink struct {
	added     []string
	replaced  []string
	removed   []string
	changed   []string
}

func (s *countingSink) NodeAdded(n *Node)              { s.added = append(s.added, n.Path()) }
func (s *countingSink) NodeReplaced(n *Node)           { s.replaced = append(s.replaced, n.Path()) }
func (s *countingSink) NodeRemoved(path string)        { s.removed = append(s.removed, path) }
func (s *countingSink) ValueChanged(n *Node, v osc.Value) { s.changed = append(s.changed, n.Path()) }
func (s *countingSink) ValueReceived(n *Node, v osc.Value) {}

func TestFindOrCreateIsIdempotent(t *testing.T) {
	tr := New()
	sink := &countingSink{}
	tr.SetSink(sink)

	a := tr.FindOrCreate("/foo/bar")
	b := tr.FindOrCreate("/foo/bar")

	assert.Same(t, a, b)
	assert.Equal(t, []string{"/foo", "/foo/bar"}, sink.added, "second call creates nothing new")
}

func TestFindOrCreateFiresParentBeforeChild(t *testing.T) {
	tr := New()
	sink := &countingSink{}
	tr.SetSink(sink)

	tr.FindOrCreate("/a/b/c")
	require.Equal(t, []string{"/a", "/a/b", "/a/b/c"}, sink.added)
}

func TestLinkReplaceAdoptsChildrenAndFiresReplaced(t *testing.T) {
	tr := New()
	tr.Link("/a", NodeAttrs{Type: osc.TypeNone})
	tr.FindOrCreate("/a/child")

	sink := &countingSink{}
	tr.SetSink(sink)

	tr.Link("/a", NodeAttrs{Type: osc.TypeFloat, Value: osc.Float(1)})

	assert.Equal(t, []string{"/a"}, sink.replaced)
	assert.Empty(t, sink.added)
	assert.NotNil(t, tr.Find("/a/child"), "replacing a node must preserve its subtree")
}

func TestRemoveSubnodeFiresChildrenBeforeParent(t *testing.T) {
	tr := New()
	tr.FindOrCreate("/a/b/c")

	sink := &countingSink{}
	tr.SetSink(sink)

	require.NoError(t, tr.RemoveSubnode("/a"))
	assert.Equal(t, []string{"/a/b/c", "/a/b", "/a"}, sink.removed)
	assert.Nil(t, tr.Find("/a"))
}

func TestClearSubnodesRemovesInInsertionOrder(t *testing.T) {
	tr := New()
	tr.FindOrCreate("/z")
	tr.FindOrCreate("/a")
	tr.FindOrCreate("/m")

	sink := &countingSink{}
	tr.SetSink(sink)

	tr.ClearSubnodes(tr.Root())
	assert.Equal(t, []string{"/z", "/a", "/m"}, sink.removed)
	assert.Equal(t, 0, tr.Root().NSubnodes())
}

func TestQueryProducesOrderedNamespaceJSON(t *testing.T) {
	tr := New()
	tr.FindOrCreate("/z")
	tr.Link("/a", NodeAttrs{Type: osc.TypeFloat, Access: AccessRW, Value: osc.Float(0.5)})

	raw, err := tr.Query("/")
	require.NoError(t, err)

	zIdx := strings.Index(string(raw), `"z":`)
	aIdx := strings.Index(string(raw), `"a":`)
	require.NotEqual(t, -1, zIdx)
	require.NotEqual(t, -1, aIdx)
	assert.Less(t, zIdx, aIdx, "CONTENTS must list subnodes in insertion order, not alphabetically")

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, "/", decoded["FULL_PATH"])

	contents, ok := decoded["CONTENTS"].(map[string]interface{})
	require.True(t, ok)
	aNode, ok := contents["a"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "f", aNode["TYPE"])
	assert.Equal(t, 0.5, aNode["VALUE"])
	assert.Equal(t, float64(3), aNode["ACCESS"])
}

func TestQueryMissingPathErrors(t *testing.T) {
	tr := New()
	_, err := tr.Query("/nope")
	assert.Error(t, err)
}

func TestNodeUpdateIngestsContentsRecursively(t *testing.T) {
	tr := New()
	root := tr.FindOrCreate("/")

	var payload map[string]interface{}
	raw := []byte(`{
		"FULL_PATH": "/",
		"CONTENTS": {
			"freq": {"FULL_PATH": "/freq", "TYPE": "f", "ACCESS": 3, "VALUE": 2.5}
		}
	}`)
	require.NoError(t, json.Unmarshal(raw, &payload))
	require.NoError(t, root.Update(payload))

	freq := tr.Find("/freq")
	require.NotNil(t, freq)
	assert.Equal(t, osc.TypeFloat, freq.Type())
	f, _ := freq.Value().Float()
	assert.Equal(t, float32(2.5), f)
	assert.Equal(t, AccessRW, freq.Access())
}

func TestAttributeValueSingleAttribute(t *testing.T) {
	tr := New()
	n := tr.Link("/x", NodeAttrs{Type: osc.TypeBool, Value: osc.Bool(true), Critical: true})

	v, ok := n.AttributeValue("TYPE")
	require.True(t, ok)
	assert.Equal(t, "T", v)

	v, ok = n.AttributeValue("CRITICAL")
	require.True(t, ok)
	assert.Equal(t, true, v)

	_, ok = n.AttributeValue("NOT_A_REAL_ATTR")
	assert.False(t, ok)
}
