package tree

import (
	"fmt"

	"github.com/WPN214/wpn114network/internal/osc"
)

// nodeID identifies a node within its owning Tree's arena. Nodes reference
// their parent and children by id rather than by pointer, per the design
// note on avoiding cyclic parent/child back-pointers (spec.md §9).
type nodeID int

const noParent nodeID = -1

// Listener receives value deliveries for paths it has subscribed to,
// directly (LISTEN) or through an ancestor's prefix subscription
// (LISTEN_ALL). Session implementations decide, from critical and their
// own transport state, whether to write a WebSocket binary frame or a UDP
// datagram (spec.md §4.5, transport selection).
type Listener interface {
	Deliver(path string, v osc.Value, critical bool)
}

// Node is a single addressable point in the parameter tree (spec.md §3).
type Node struct {
	id     nodeID
	tree   *Tree
	parent nodeID
	name   string

	typ          osc.Type
	access       Access
	value        osc.Value
	defaultValue osc.Value
	rng          Range
	description  string
	tags         []string
	critical     bool
	clipmode     Clipmode
	extendedType string

	childOrder []nodeID
	childByName map[string]nodeID

	listeners map[Listener]bool
	listenAll map[Listener]bool
}

func newNode(t *Tree, id, parent nodeID, name string) *Node {
	return &Node{
		id:          id,
		tree:        t,
		parent:      parent,
		name:        name,
		childByName: make(map[string]nodeID),
		listeners:   make(map[Listener]bool),
		listenAll:   make(map[Listener]bool),
	}
}

// Name returns the node's last path segment ("" for root).
func (n *Node) Name() string { return n.name }

// Path returns the node's absolute path, recomputed from the arena so it
// stays correct across renames/reparenting.
func (n *Node) Path() string {
	if n.parent == noParent {
		return "/"
	}
	parent := n.tree.node(n.parent)
	if parent.parent == noParent {
		return "/" + n.name
	}
	return parent.Path() + "/" + n.name
}

func (n *Node) Type() osc.Type          { return n.typ }
func (n *Node) Access() Access          { return n.access }
func (n *Node) Value() osc.Value        { return n.value }
func (n *Node) DefaultValue() osc.Value { return n.defaultValue }
func (n *Node) Range() Range            { return n.rng }
func (n *Node) Description() string     { return n.description }
func (n *Node) Tags() []string          { return n.tags }
func (n *Node) Critical() bool          { return n.critical }
func (n *Node) Clipmode() Clipmode      { return n.clipmode }
func (n *Node) ExtendedType() string    { return n.extendedType }

func (n *Node) SetType(t osc.Type)             { n.typ = t }
func (n *Node) SetAccess(a Access)             { n.access = a }
func (n *Node) SetDefaultValue(v osc.Value)    { n.defaultValue = v }
func (n *Node) SetRange(r Range)               { n.rng = r }
func (n *Node) SetDescription(d string)        { n.description = d }
func (n *Node) SetTags(tags []string)          { n.tags = tags }
func (n *Node) SetCritical(c bool)             { n.critical = c }
func (n *Node) SetClipmode(c Clipmode)         { n.clipmode = c }
func (n *Node) SetExtendedType(e string)       { n.extendedType = e }

// SetValue applies v, emitting value_received for every value that coerces
// to the node's type and value_changed (plus a push to every subscriber)
// only if the coerced value differs from the current one (spec.md §4.3). A
// value that fails coercion returns the error and emits neither.
func (n *Node) SetValue(v osc.Value) error {
	return n.setValue(v, nil)
}

// SetValueQuiet applies v as SetValue does, but excludes origin from the
// subscriber push — used when the value arrived from that peer, so it is
// not echoed back to its sender (spec.md §4.3, Testable Property #5).
func (n *Node) SetValueQuiet(v osc.Value, origin Listener) error {
	return n.setValue(v, origin)
}

func (n *Node) setValue(v osc.Value, exclude Listener) error {
	coerced := v
	if n.typ != osc.TypeNone && v.Kind() != osc.TypeNone && v.Kind() != n.typ {
		c, err := v.CoerceTo(n.typ)
		if err != nil {
			return err
		}
		coerced = c
	}

	if n.tree.sink != nil {
		n.tree.sink.ValueReceived(n, coerced)
	}

	if coerced.Equal(n.value) {
		return nil
	}
	n.value = coerced

	if n.tree.sink != nil {
		n.tree.sink.ValueChanged(n, coerced)
	}
	n.deliver(coerced, exclude)
	return nil
}

// deliver fans the value out to this node's exact listeners plus every
// ancestor's listen-all listeners, each recipient notified at most once.
func (n *Node) deliver(v osc.Value, exclude Listener) {
	path := n.Path()
	seen := make(map[Listener]bool)
	send := func(set map[Listener]bool) {
		for l := range set {
			if l == exclude || seen[l] {
				continue
			}
			seen[l] = true
			l.Deliver(path, v, n.critical)
		}
	}

	send(n.listeners)
	// n's own listen-all subscribers (LISTEN_ALL on n itself, not just its
	// descendants), then every ancestor's listen-all up to and including root.
	for cur := n; ; {
		send(cur.listenAll)
		if cur.parent == noParent {
			break
		}
		cur = n.tree.node(cur.parent)
	}
}

// AddListener subscribes l to exact-match (LISTEN) delivery on this node.
func (n *Node) AddListener(l Listener) { n.listeners[l] = true }

// RemoveListener undoes AddListener; idempotent.
func (n *Node) RemoveListener(l Listener) { delete(n.listeners, l) }

// AddListenAll subscribes l to prefix-match (LISTEN_ALL) delivery: this
// node and every descendant.
func (n *Node) AddListenAll(l Listener) { n.listenAll[l] = true }

// RemoveListenAll undoes AddListenAll; idempotent.
func (n *Node) RemoveListenAll(l Listener) { delete(n.listenAll, l) }

// DropListener removes l from every subscription table on this node,
// regardless of mode. Session.Close does not call it; it undoes each
// subscription with RemoveListener/RemoveListenAll.
func (n *Node) DropListener(l Listener) {
	delete(n.listeners, l)
	delete(n.listenAll, l)
}

// NSubnodes returns the number of direct children.
func (n *Node) NSubnodes() int { return len(n.childOrder) }

// Subnode returns the direct child named name, or nil.
func (n *Node) Subnode(name string) *Node {
	id, ok := n.childByName[name]
	if !ok {
		return nil
	}
	return n.tree.node(id)
}

// SubnodeAt returns the direct child at the given insertion-order index, or
// nil if out of range.
func (n *Node) SubnodeAt(index int) *Node {
	if index < 0 || index >= len(n.childOrder) {
		return nil
	}
	return n.tree.node(n.childOrder[index])
}

// Subnodes returns direct children in insertion order.
func (n *Node) Subnodes() []*Node {
	out := make([]*Node, len(n.childOrder))
	for i, id := range n.childOrder {
		out[i] = n.tree.node(id)
	}
	return out
}

// Collect performs a depth-first walk collecting every node (at or below n)
// whose name exactly matches name, appending them to bucket.
func (n *Node) Collect(name string, bucket *[]*Node) {
	if n.name == name {
		*bucket = append(*bucket, n)
	}
	for _, child := range n.Subnodes() {
		child.Collect(name, bucket)
	}
}

// addChild links child as a direct subnode, appending it to insertion order.
// It does not check for an existing child of the same name; replacing one
// (adopting its children) is done by Tree.Link.
func (n *Node) addChild(child *Node) {
	child.parent = n.id
	n.childOrder = append(n.childOrder, child.id)
	n.childByName[child.name] = child.id
}

func (n *Node) removeChildByName(name string) (nodeID, bool) {
	id, ok := n.childByName[name]
	if !ok {
		return 0, false
	}
	delete(n.childByName, name)
	for i, cid := range n.childOrder {
		if cid == id {
			n.childOrder = append(n.childOrder[:i], n.childOrder[i+1:]...)
			break
		}
	}
	return id, true
}

func (n *Node) String() string {
	return fmt.Sprintf("Node{%s type=%s value=%v}", n.Path(), n.typ, n.value)
}
