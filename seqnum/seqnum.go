// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package seqnum defines the types and arithmetic used for TCP sequence
// number handling.
//
// All comparisons between sequence numbers must be done through this
// package's operators, never through the underlying uint32's native
// ordering: sequence space wraps, and "less than" only makes sense relative
// to a reference point.
package seqnum

// Value represents the value of a sequence number.
type Value uint32

// Size represents the size (length) of a sequence number window.
type Size uint32

// LessThan checks if v is before w, i.e. if v is earlier in the sequence
// space than w, given the half-open circle convention: v < w iff
// (w - v) mod 2^32 is in (0, 2^31).
func (v Value) LessThan(w Value) bool {
	d := uint32(w - v)
	return d != 0 && d < 1<<31
}

// LessThanEq checks if v is before or equal to w.
func (v Value) LessThanEq(w Value) bool {
	if v == w {
		return true
	}
	return v.LessThan(w)
}

// InWindow checks if v is in the seqnum window starting at 'first' and
// spanning 'size' bytes, i.e. if (v - first) mod 2^32 < size.
func (v Value) InWindow(first Value, size Size) bool {
	return first.Size(v) < size
}

// Size calculates the size of the window defined by [v, w), i.e. the number
// of values in the interval starting at v (inclusive) up to but not
// including w.
func (v Value) Size(w Value) Size {
	return Size(w - v)
}

// Add calculates the sequence number following the [v, v+delta) interval.
func (v Value) Add(delta Size) Value {
	return v + Value(delta)
}

// Subtract subtracts delta from v.
func (v Value) Subtract(delta Size) Value {
	return v - Value(delta)
}

// UpdateForward updates v such that it becomes v + delta.
func (v *Value) UpdateForward(delta Size) {
	*v += Value(delta)
}
