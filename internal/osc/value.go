// Package osc implements the OSC 1.0 wire format: message encoding/decoding
// and the dynamically-typed argument values a parameter tree node can hold.
package osc

import (
	"fmt"
	"strconv"
)

// Type identifies the shape of a Value. It doubles as a node's declared
// attribute type (spec data model §3) and as an OSC argument kind.
type Type int

const (
	TypeNone Type = iota
	TypeBool
	TypeInt
	TypeFloat
	TypeString
	TypeChar
	TypeImpulse
	TypeList
	TypeVec2f
	TypeVec3f
	TypeVec4f
	TypeFile
)

func (t Type) String() string {
	switch t {
	case TypeNone:
		return "None"
	case TypeBool:
		return "Bool"
	case TypeInt:
		return "Int"
	case TypeFloat:
		return "Float"
	case TypeString:
		return "String"
	case TypeChar:
		return "Char"
	case TypeImpulse:
		return "Impulse"
	case TypeList:
		return "List"
	case TypeVec2f:
		return "Vec2f"
	case TypeVec3f:
		return "Vec3f"
	case TypeVec4f:
		return "Vec4f"
	case TypeFile:
		return "File"
	default:
		return "Unknown"
	}
}

// Tag returns the canonical OSC type-tag character(s) for the type, as
// enumerated in spec.md §3. TypeList has no fixed tag: it expands into the
// tags of its elements at encode time.
func (t Type) Tag() string {
	switch t {
	case TypeNone:
		return ""
	case TypeBool:
		return "" // resolved to T or F per the actual bool value
	case TypeInt:
		return "i"
	case TypeFloat:
		return "f"
	case TypeString:
		return "s"
	case TypeChar:
		return "c"
	case TypeImpulse:
		return "I"
	case TypeVec2f:
		return "ff"
	case TypeVec3f:
		return "fff"
	case TypeVec4f:
		return "ffff"
	case TypeFile:
		return "s"
	case TypeList:
		return ""
	default:
		return "N"
	}
}

// Value is a tagged union holding one OSC/tree argument. The zero Value is
// TypeNone (absent value).
type Value struct {
	kind Type
	b    bool
	i    int32
	f    float32
	s    string
	c    byte
	vec  [4]float32
	list []Value
}

func None() Value                 { return Value{kind: TypeNone} }
func Bool(v bool) Value           { return Value{kind: TypeBool, b: v} }
func Int(v int32) Value           { return Value{kind: TypeInt, i: v} }
func Float(v float32) Value       { return Value{kind: TypeFloat, f: v} }
func String(v string) Value       { return Value{kind: TypeString, s: v} }
func Char(v byte) Value           { return Value{kind: TypeChar, c: v} }
func Impulse() Value              { return Value{kind: TypeImpulse} }
func File(path string) Value      { return Value{kind: TypeFile, s: path} }
func List(vals ...Value) Value    { return Value{kind: TypeList, list: vals} }
func Vec2f(x, y float32) Value    { return Value{kind: TypeVec2f, vec: [4]float32{x, y}} }
func Vec3f(x, y, z float32) Value { return Value{kind: TypeVec3f, vec: [4]float32{x, y, z}} }
func Vec4f(x, y, z, w float32) Value {
	return Value{kind: TypeVec4f, vec: [4]float32{x, y, z, w}}
}

func (v Value) Kind() Type { return v.kind }

func (v Value) Bool() (bool, bool)     { return v.b, v.kind == TypeBool }
func (v Value) Int() (int32, bool)     { return v.i, v.kind == TypeInt }
func (v Value) Float() (float32, bool) { return v.f, v.kind == TypeFloat }
func (v Value) String() string {
	switch v.kind {
	case TypeString, TypeFile:
		return v.s
	case TypeInt:
		return strconv.FormatInt(int64(v.i), 10)
	case TypeFloat:
		return strconv.FormatFloat(float64(v.f), 'g', -1, 32)
	case TypeBool:
		return strconv.FormatBool(v.b)
	case TypeChar:
		return string(rune(v.c))
	default:
		return ""
	}
}
func (v Value) Char() (byte, bool)      { return v.c, v.kind == TypeChar }
func (v Value) List() ([]Value, bool)   { return v.list, v.kind == TypeList }
func (v Value) Vec() ([4]float32, bool) {
	switch v.kind {
	case TypeVec2f, TypeVec3f, TypeVec4f:
		return v.vec, true
	default:
		return [4]float32{}, false
	}
}

// Arity reports how many scalar components a vector type carries.
func (t Type) Arity() int {
	switch t {
	case TypeVec2f:
		return 2
	case TypeVec3f:
		return 3
	case TypeVec4f:
		return 4
	default:
		return 0
	}
}

// Equal compares two values by kind and content. Used by codec round-trip
// tests and by Node.set_value's change detection.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case TypeNone, TypeImpulse:
		return true
	case TypeBool:
		return v.b == o.b
	case TypeInt:
		return v.i == o.i
	case TypeFloat:
		return v.f == o.f
	case TypeString, TypeFile:
		return v.s == o.s
	case TypeChar:
		return v.c == o.c
	case TypeVec2f, TypeVec3f, TypeVec4f:
		return v.vec == o.vec
	case TypeList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// CoerceTo converts v to the given type per spec.md §4.3's edge-case rules:
// int widens to float, float truncates to int, any value coerces to None,
// and any value converts to a string via String(): scalars give their
// decimal/text form, while lists, vectors, impulses and None give "" (no
// JSON rendering is produced). Every other pair fails with ErrTypeMismatch.
func (v Value) CoerceTo(t Type) (Value, error) {
	if v.kind == t {
		return v, nil
	}
	switch t {
	case TypeFloat:
		if i, ok := v.Int(); ok {
			return Float(float32(i)), nil
		}
	case TypeInt:
		if f, ok := v.Float(); ok {
			return Int(int32(f)), nil
		}
	case TypeString:
		return String(v.String()), nil
	case TypeNone:
		return None(), nil
	}
	return Value{}, fmt.Errorf("%w: cannot coerce %s to %s", ErrTypeMismatch, v.kind, t)
}

// Flatten expands a value into the flat sequence of scalar OSC arguments it
// encodes to: vectors become N floats, lists are recursively flattened,
// everything else is a single-element sequence.
func (v Value) Flatten() []Value {
	switch v.kind {
	case TypeVec2f, TypeVec3f, TypeVec4f:
		n := v.kind.Arity()
		out := make([]Value, n)
		for i := 0; i < n; i++ {
			out[i] = Float(v.vec[i])
		}
		return out
	case TypeList:
		var out []Value
		for _, e := range v.list {
			out = append(out, e.Flatten()...)
		}
		return out
	default:
		return []Value{v}
	}
}
