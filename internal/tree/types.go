// Package tree implements the OSCQuery parameter tree: the hierarchical,
// typed, addressable namespace a server publishes and a client mirrors
// (spec.md §3, §4.2, §4.3).
package tree

import "github.com/WPN214/wpn114network/internal/osc"

// Access describes who may read/write a node's value.
type Access int

const (
	AccessNone Access = iota
	AccessRead
	AccessWrite
	AccessRW
)

// Clipmode describes how a node's value should be clamped against its Range.
type Clipmode int

const (
	ClipNone Clipmode = iota
	ClipLow
	ClipHigh
	ClipBoth
)

// Range bounds a node's value, optionally enumerating discrete allowed
// values.
type Range struct {
	Min  osc.Value
	Max  osc.Value
	Vals []osc.Value
}

func (r Range) IsZero() bool {
	return r.Min.Kind() == osc.TypeNone && r.Max.Kind() == osc.TypeNone && len(r.Vals) == 0
}
