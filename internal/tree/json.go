package tree

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/WPN214/wpn114network/internal/osc"
)

// orderedObject marshals as a JSON object whose keys appear in the order
// they were added, so that CONTENTS preserves subnode insertion order
// (spec.md §3 invariant: "insertion order is preserved and is the
// enumeration order").
type orderedObject struct {
	keys []string
	vals []interface{}
}

func (o *orderedObject) set(key string, val interface{}) {
	o.keys = append(o.keys, key)
	o.vals = append(o.vals, val)
}

func (o orderedObject) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(o.vals[i])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// valueToJSON renders a tree value into its §6 Namespace JSON representation.
func valueToJSON(v osc.Value) interface{} {
	switch v.Kind() {
	case osc.TypeNone:
		return nil
	case osc.TypeBool:
		b, _ := v.Bool()
		return b
	case osc.TypeInt:
		i, _ := v.Int()
		return i
	case osc.TypeFloat:
		f, _ := v.Float()
		return f
	case osc.TypeString, osc.TypeFile:
		return v.String()
	case osc.TypeChar:
		c, _ := v.Char()
		return string(rune(c))
	case osc.TypeImpulse:
		return true
	case osc.TypeVec2f, osc.TypeVec3f, osc.TypeVec4f:
		vec, _ := v.Vec()
		arity := v.Kind().Arity()
		arr := make([]float32, arity)
		copy(arr, vec[:arity])
		return arr
	case osc.TypeList:
		list, _ := v.List()
		arr := make([]interface{}, len(list))
		for i, e := range list {
			arr[i] = valueToJSON(e)
		}
		return arr
	default:
		return nil
	}
}

// jsonToValue parses a decoded JSON value back into a typed tree Value. When
// typ is TypeNone (an unset/autovivified node), the shape is inferred from
// the JSON value's own Go type.
func jsonToValue(raw interface{}, typ osc.Type) (osc.Value, error) {
	if raw == nil {
		return osc.None(), nil
	}
	switch typ {
	case osc.TypeBool:
		if b, ok := raw.(bool); ok {
			return osc.Bool(b), nil
		}
	case osc.TypeInt:
		if f, ok := raw.(float64); ok {
			return osc.Int(int32(f)), nil
		}
	case osc.TypeFloat:
		if f, ok := raw.(float64); ok {
			return osc.Float(float32(f)), nil
		}
	case osc.TypeString, osc.TypeFile:
		if s, ok := raw.(string); ok {
			return osc.String(s), nil
		}
	case osc.TypeChar:
		if s, ok := raw.(string); ok && len(s) > 0 {
			return osc.Char(s[0]), nil
		}
	case osc.TypeImpulse:
		return osc.Impulse(), nil
	case osc.TypeVec2f, osc.TypeVec3f, osc.TypeVec4f:
		arr, ok := raw.([]interface{})
		if !ok {
			break
		}
		var f [4]float32
		for i := 0; i < typ.Arity() && i < len(arr); i++ {
			if v, ok := arr[i].(float64); ok {
				f[i] = float32(v)
			}
		}
		switch typ {
		case osc.TypeVec2f:
			return osc.Vec2f(f[0], f[1]), nil
		case osc.TypeVec3f:
			return osc.Vec3f(f[0], f[1], f[2]), nil
		default:
			return osc.Vec4f(f[0], f[1], f[2], f[3]), nil
		}
	case osc.TypeList:
		arr, ok := raw.([]interface{})
		if !ok {
			break
		}
		vals := make([]osc.Value, len(arr))
		for i, e := range arr {
			v, err := genericJSONToValue(e)
			if err != nil {
				return osc.Value{}, err
			}
			vals[i] = v
		}
		return osc.List(vals...), nil
	}
	return genericJSONToValue(raw)
}

// genericJSONToValue infers a Value's kind from a raw decoded JSON value's
// Go type, for nodes with no declared type yet (e.g. freshly
// find_or_create'd mirror nodes).
func genericJSONToValue(raw interface{}) (osc.Value, error) {
	switch v := raw.(type) {
	case nil:
		return osc.None(), nil
	case bool:
		return osc.Bool(v), nil
	case float64:
		return osc.Float(float32(v)), nil
	case string:
		return osc.String(v), nil
	case []interface{}:
		vals := make([]osc.Value, len(v))
		for i, e := range v {
			ev, err := genericJSONToValue(e)
			if err != nil {
				return osc.Value{}, err
			}
			vals[i] = ev
		}
		return osc.List(vals...), nil
	default:
		return osc.Value{}, fmt.Errorf("tree: cannot interpret JSON value %#v", raw)
	}
}

// typeTag resolves a node's OSC type-tag, picking "T"/"F" for bool nodes
// from the current value since osc.Type.Tag() cannot encode that by itself.
func typeTag(t osc.Type, v osc.Value) string {
	if t == osc.TypeBool {
		if b, ok := v.Bool(); ok && b {
			return "T"
		}
		return "F"
	}
	return t.Tag()
}

func accessCode(a Access) int {
	switch a {
	case AccessRead:
		return 1
	case AccessWrite:
		return 2
	case AccessRW:
		return 3
	default:
		return 0
	}
}

func codeToAccess(c int) Access {
	switch c {
	case 1:
		return AccessRead
	case 2:
		return AccessWrite
	case 3:
		return AccessRW
	default:
		return AccessNone
	}
}

func clipCode(c Clipmode) int {
	switch c {
	case ClipLow:
		return 1
	case ClipHigh:
		return 2
	case ClipBoth:
		return 3
	default:
		return 0
	}
}

// ToJSON builds the §6 Namespace JSON projection of n and its full subtree.
func (n *Node) ToJSON() interface{} {
	o := &orderedObject{}
	o.set("FULL_PATH", n.Path())

	if n.parent != noParent {
		o.set("ACCESS", accessCode(n.access))
		if tag := typeTag(n.typ, n.value); tag != "" {
			o.set("TYPE", tag)
		}
		if n.value.Kind() != osc.TypeNone {
			o.set("VALUE", valueToJSON(n.value))
		}
		if n.critical {
			o.set("CRITICAL", true)
		}
		if n.extendedType != "" {
			o.set("EXTENDED_TYPE", n.extendedType)
		}
		if n.description != "" {
			o.set("DESCRIPTION", n.description)
		}
		if len(n.tags) > 0 {
			o.set("TAGS", n.tags)
		}
		if !n.rng.IsZero() {
			rangeObj := &orderedObject{}
			if n.rng.Min.Kind() != osc.TypeNone {
				rangeObj.set("MIN", valueToJSON(n.rng.Min))
			}
			if n.rng.Max.Kind() != osc.TypeNone {
				rangeObj.set("MAX", valueToJSON(n.rng.Max))
			}
			if len(n.rng.Vals) > 0 {
				vals := make([]interface{}, len(n.rng.Vals))
				for i, v := range n.rng.Vals {
					vals[i] = valueToJSON(v)
				}
				rangeObj.set("VALS", vals)
			}
			o.set("RANGE", rangeObj)
		}
		if n.clipmode != ClipNone {
			o.set("CLIPMODE", clipCode(n.clipmode))
		}
	}

	if len(n.childOrder) > 0 || n.parent == noParent {
		contents := &orderedObject{}
		for _, child := range n.Subnodes() {
			contents.set(child.name, child.ToJSON())
		}
		o.set("CONTENTS", contents)
	}

	return o
}

// AttributeValue extracts a single named attribute's JSON-equivalent value,
// used to answer HTTP GET requests whose query string names one attribute
// (spec.md §4.5).
func (n *Node) AttributeValue(attr string) (interface{}, bool) {
	switch attr {
	case "FULL_PATH":
		return n.Path(), true
	case "ACCESS":
		return accessCode(n.access), true
	case "TYPE":
		return typeTag(n.typ, n.value), true
	case "VALUE":
		return valueToJSON(n.value), true
	case "CRITICAL":
		return n.critical, true
	case "EXTENDED_TYPE":
		return n.extendedType, true
	case "DESCRIPTION":
		return n.description, true
	case "TAGS":
		return n.tags, true
	case "CLIPMODE":
		return clipCode(n.clipmode), true
	default:
		return nil, false
	}
}

// Update applies the JSON attribute subset in obj to n and recursively
// builds/updates children from obj's CONTENTS, per spec.md §4.2 (used by a
// client mirroring a server's pushed namespace tree).
func (n *Node) Update(obj map[string]interface{}) error {
	if tag, ok := obj["TYPE"].(string); ok {
		n.typ = typeFromTag(tag)
	}
	if a, ok := obj["ACCESS"].(float64); ok {
		n.access = codeToAccess(int(a))
	}
	if raw, ok := obj["VALUE"]; ok {
		v, err := jsonToValue(raw, n.typ)
		if err != nil {
			return err
		}
		n.value = v
	}
	if c, ok := obj["CRITICAL"].(bool); ok {
		n.critical = c
	}
	if et, ok := obj["EXTENDED_TYPE"].(string); ok {
		n.extendedType = et
	}
	if d, ok := obj["DESCRIPTION"].(string); ok {
		n.description = d
	}
	if tagsRaw, ok := obj["TAGS"].([]interface{}); ok {
		tags := make([]string, 0, len(tagsRaw))
		for _, tr := range tagsRaw {
			if s, ok := tr.(string); ok {
				tags = append(tags, s)
			}
		}
		n.tags = tags
	}
	if contents, ok := obj["CONTENTS"].(map[string]interface{}); ok {
		for name, childRaw := range contents {
			childObj, ok := childRaw.(map[string]interface{})
			if !ok {
				continue
			}
			base := n.Path()
			if base == "/" {
				base = ""
			}
			child := n.tree.FindOrCreate(base + "/" + name)
			if err := child.Update(childObj); err != nil {
				return err
			}
		}
	}
	return nil
}

// typeFromTag maps an OSC type-tag character back to a Type, for ingesting
// a peer's namespace JSON.
func typeFromTag(tag string) osc.Type {
	switch tag {
	case "i":
		return osc.TypeInt
	case "f":
		return osc.TypeFloat
	case "s":
		return osc.TypeString
	case "c":
		return osc.TypeChar
	case "I":
		return osc.TypeImpulse
	case "T", "F":
		return osc.TypeBool
	case "ff":
		return osc.TypeVec2f
	case "fff":
		return osc.TypeVec3f
	case "ffff":
		return osc.TypeVec4f
	default:
		return osc.TypeNone
	}
}

// Query returns the JSON-encoded Namespace projection of the subtree rooted
// at path, or an error if no node exists there.
func (t *Tree) Query(path string) ([]byte, error) {
	n := t.Find(path)
	if n == nil {
		return nil, fmt.Errorf("tree: no node at %q", path)
	}
	return json.Marshal(n.ToJSON())
}
