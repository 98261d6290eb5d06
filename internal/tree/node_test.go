package tree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/WPN214/wpn114network/internal/osc"
)

type fakeListener struct {
	deliveries []delivery
}

type delivery struct {
	path     string
	value    osc.Value
	critical bool
}

func (f *fakeListener) Deliver(path string, v osc.Value, critical bool) {
	f.deliveries = append(f.deliveries, delivery{path, v, critical})
}

func TestSetValueEmitsOnChangeOnly(t *testing.T) {
	tr := New()
	n := tr.Link("/x", NodeAttrs{Type: osc.TypeFloat, Value: osc.Float(1)})
	l := &fakeListener{}
	n.AddListener(l)

	require.NoError(t, n.SetValue(osc.Float(2)))
	require.NoError(t, n.SetValue(osc.Float(2))) // no-op: same value

	require.Len(t, l.deliveries, 1)
	assert.Equal(t, "/x", l.deliveries[0].path)
	f, _ := l.deliveries[0].value.Float()
	assert.Equal(t, float32(2), f)
}

func TestSetValueCoercesIntToFloat(t *testing.T) {
	tr := New()
	n := tr.Link("/x", NodeAttrs{Type: osc.TypeFloat, Value: osc.Float(0)})
	require.NoError(t, n.SetValue(osc.Int(4)))
	f, ok := n.Value().Float()
	require.True(t, ok)
	assert.Equal(t, float32(4), f)
}

func TestSetValueQuietExcludesOrigin(t *testing.T) {
	tr := New()
	n := tr.Link("/x", NodeAttrs{Type: osc.TypeInt, Value: osc.Int(0)})
	origin := &fakeListener{}
	other := &fakeListener{}
	n.AddListener(origin)
	n.AddListener(other)

	require.NoError(t, n.SetValueQuiet(osc.Int(5), origin))

	assert.Empty(t, origin.deliveries, "origin must not receive its own echoed update")
	require.Len(t, other.deliveries, 1)
	i, _ := other.deliveries[0].value.Int()
	assert.Equal(t, int32(5), i)
}

func TestListenAllReceivesDescendantUpdates(t *testing.T) {
	tr := New()
	tr.Link("/a/b", NodeAttrs{Type: osc.TypeInt, Value: osc.Int(0)})
	a := tr.Find("/a")
	b := tr.Find("/a/b")

	l := &fakeListener{}
	a.AddListenAll(l)

	require.NoError(t, b.SetValue(osc.Int(9)))
	require.Len(t, l.deliveries, 1)
	assert.Equal(t, "/a/b", l.deliveries[0].path)
}

func TestListenAllReceivesUpdatesOnSubscribedNodeItself(t *testing.T) {
	tr := New()
	tr.Link("/a/b/c", NodeAttrs{Type: osc.TypeInt, Value: osc.Int(0)})
	a := tr.Find("/a")
	b := tr.Find("/a/b")
	c := tr.Find("/a/b/c")

	l := &fakeListener{}
	a.AddListenAll(l)

	require.NoError(t, a.SetValue(osc.Int(1)))
	require.NoError(t, b.SetValue(osc.Int(2)))
	require.NoError(t, c.SetValue(osc.Int(3)))

	require.Len(t, l.deliveries, 3, "LISTEN_ALL /a must also fire for /a itself, not only descendants")
	assert.Equal(t, "/a", l.deliveries[0].path)
	assert.Equal(t, "/a/b", l.deliveries[1].path)
	assert.Equal(t, "/a/b/c", l.deliveries[2].path)
}

func TestListenerNotifiedOnceWhenBothModesApply(t *testing.T) {
	tr := New()
	n := tr.Link("/a/b", NodeAttrs{Type: osc.TypeInt, Value: osc.Int(0)})
	a := tr.Find("/a")

	l := &fakeListener{}
	n.AddListener(l)
	a.AddListenAll(l)

	require.NoError(t, n.SetValue(osc.Int(3)))
	assert.Len(t, l.deliveries, 1, "a listener subscribed both ways still gets one delivery")
}

func TestSubnodesPreserveInsertionOrder(t *testing.T) {
	tr := New()
	tr.FindOrCreate("/z")
	tr.FindOrCreate("/a")
	tr.FindOrCreate("/m")

	names := make([]string, 0, 3)
	for _, c := range tr.Root().Subnodes() {
		names = append(names, c.Name())
	}
	assert.Equal(t, []string{"z", "a", "m"}, names)
}

func TestDropListenerClearsBothTables(t *testing.T) {
	tr := New()
	n := tr.FindOrCreate("/a")
	l := &fakeListener{}
	n.AddListener(l)
	n.AddListenAll(l)
	n.DropListener(l)

	require.NoError(t, n.SetValue(osc.Int(1)))
	assert.Empty(t, l.deliveries)
}
