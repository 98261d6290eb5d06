package tree

import (
	"fmt"
	"strings"
	"sync"

	"github.com/WPN214/wpn114network/internal/osc"
)

// EventSink receives tree mutation notifications. The protocol engine
// registers one sink per tree to broadcast PATH_ADDED/PATH_REMOVED frames
// (spec.md §3 invariants, §5 ordering guarantees). Value delivery to
// subscribers does not go through the sink: Node fans values out to its
// Listeners directly.
type EventSink interface {
	NodeAdded(n *Node)
	NodeReplaced(n *Node)
	NodeRemoved(path string)
	ValueChanged(n *Node, v osc.Value)
	ValueReceived(n *Node, v osc.Value)
}

// NodeAttrs is the set of attributes supplied when creating or replacing a
// node through Tree.Link.
type NodeAttrs struct {
	Type         osc.Type
	Access       Access
	Value        osc.Value
	DefaultValue osc.Value
	Range        Range
	Description  string
	Tags         []string
	Critical     bool
	Clipmode     Clipmode
	ExtendedType string
}

// Tree owns exactly one root node at path "/" and is the sole owner of every
// node beneath it (spec.md §3). Nodes are addressed by id within an arena
// map rather than by direct pointer linkage between parent and child.
type Tree struct {
	nodes  map[nodeID]*Node
	nextID nodeID
	root   *Node
	sink   EventSink
}

var (
	singletonMu sync.Mutex
	singleton   *Tree
)

// New returns an empty Tree containing only its root node.
func New() *Tree {
	t := &Tree{nodes: make(map[nodeID]*Node)}
	t.root = newNode(t, 0, noParent, "")
	t.nodes[0] = t.root
	t.nextID = 1
	return t
}

// SetSingleton designates t as the process-wide default tree used by
// factory paths that have no explicit tree handle (spec.md §9,
// "Singleton tree"). Passing nil clears it.
func SetSingleton(t *Tree) {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	singleton = t
}

// Singleton returns the process-wide default tree, or nil if unset.
func Singleton() *Tree {
	singletonMu.Lock()
	defer singletonMu.Unlock()
	return singleton
}

// SetSink installs the tree's event sink, replacing any previous one.
func (t *Tree) SetSink(sink EventSink) { t.sink = sink }

// Root returns the tree's root node.
func (t *Tree) Root() *Node { return t.root }

func (t *Tree) node(id nodeID) *Node { return t.nodes[id] }

func (t *Tree) allocID() nodeID {
	id := t.nextID
	t.nextID++
	return id
}

// splitPath splits an absolute path into its segments. "" and "/" both
// refer to root and yield no segments.
func splitPath(path string) []string {
	path = strings.TrimPrefix(path, "/")
	path = strings.TrimSuffix(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

// ParentPath returns everything before the final "/" in p.
func ParentPath(p string) string {
	idx := strings.LastIndex(p, "/")
	if idx <= 0 {
		return "/"
	}
	return p[:idx]
}

// Find descends path by name, case-sensitively, returning nil if any
// segment is missing.
func (t *Tree) Find(path string) *Node {
	cur := t.root
	for _, seg := range splitPath(path) {
		cur = cur.Subnode(seg)
		if cur == nil {
			return nil
		}
	}
	return cur
}

// FindOrCreate descends path, inserting each missing segment as a
// None-typed node, and returns the leaf. Calling it twice with the same
// path is idempotent: the second call creates nothing new (spec.md §8,
// Testable Property #3).
func (t *Tree) FindOrCreate(path string) *Node {
	cur := t.root
	for _, seg := range splitPath(path) {
		child := cur.Subnode(seg)
		if child == nil {
			child = newNode(t, t.allocID(), cur.id, seg)
			t.nodes[child.id] = child
			cur.addChild(child)
			if t.sink != nil {
				t.sink.NodeAdded(child)
			}
		}
		cur = child
	}
	return cur
}

// Link inserts a node at path with the given attributes. If a node already
// exists there, the new node adopts the old node's children, the old node
// is detached and destroyed, and a single NodeReplaced event fires instead
// of a remove+add pair (spec.md §4.2).
func (t *Tree) Link(path string, attrs NodeAttrs) *Node {
	parentPath := ParentPath(path)
	name := path[strings.LastIndex(path, "/")+1:]
	parent := t.FindOrCreate(parentPath)

	fresh := newNode(t, t.allocID(), parent.id, name)
	applyAttrs(fresh, attrs)

	if existingID, ok := parent.childByName[name]; ok {
		existing := t.node(existingID)
		fresh.childOrder = existing.childOrder
		fresh.childByName = existing.childByName
		for _, cid := range fresh.childOrder {
			t.node(cid).parent = fresh.id
		}
		delete(t.nodes, existingID)
		parent.childByName[name] = fresh.id
		for i, id := range parent.childOrder {
			if id == existingID {
				parent.childOrder[i] = fresh.id
				break
			}
		}
		t.nodes[fresh.id] = fresh
		if t.sink != nil {
			t.sink.NodeReplaced(fresh)
		}
		return fresh
	}

	t.nodes[fresh.id] = fresh
	parent.addChild(fresh)
	if t.sink != nil {
		t.sink.NodeAdded(fresh)
	}
	return fresh
}

func applyAttrs(n *Node, a NodeAttrs) {
	n.typ = a.Type
	n.access = a.Access
	n.value = a.Value
	n.defaultValue = a.DefaultValue
	n.rng = a.Range
	n.description = a.Description
	n.tags = a.Tags
	n.critical = a.Critical
	n.clipmode = a.Clipmode
	n.extendedType = a.ExtendedType
}

// RemoveSubnode detaches and destroys the node at path along with its
// entire subtree, emitting node_removed for each destroyed node in reverse
// tree order (children before parents).
func (t *Tree) RemoveSubnode(path string) error {
	n := t.Find(path)
	if n == nil {
		return fmt.Errorf("tree: no node at %q", path)
	}
	if n.parent == noParent {
		return fmt.Errorf("tree: cannot remove root")
	}
	parent := t.node(n.parent)
	parent.removeChildByName(n.name)
	t.destroySubtree(n)
	return nil
}

func (t *Tree) destroySubtree(n *Node) {
	for _, child := range n.Subnodes() {
		t.destroySubtree(child)
	}
	path := n.Path()
	delete(t.nodes, n.id)
	if t.sink != nil {
		t.sink.NodeRemoved(path)
	}
}

// ClearSubnodes removes and destroys every direct subnode of n, in
// insertion order, emitting node_removed for each (spec.md §9 resolves the
// "clear_subnodes is a no-op" ambiguity this way).
func (t *Tree) ClearSubnodes(n *Node) {
	children := append([]nodeID(nil), n.childOrder...)
	for _, id := range children {
		t.destroySubtree(t.node(id))
	}
	n.childOrder = nil
	n.childByName = make(map[string]nodeID)
}
