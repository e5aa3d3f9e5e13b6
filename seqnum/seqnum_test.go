// Copyright 2016 The Netstack Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package seqnum

import "testing"

func TestLessThan(t *testing.T) {
	cases := []struct {
		a, b Value
		want bool
	}{
		{0, 1, true},
		{1, 0, false},
		{0, 0, false},
		{0xffffffff, 0, true},
		{0, 0xffffffff, false},
		{1 << 31, 0, false},
	}
	for _, c := range cases {
		if got := c.a.LessThan(c.b); got != c.want {
			t.Errorf("(%d).LessThan(%d) = %v, want %v", c.a, c.b, got, c.want)
		}
	}
}

func TestInWindow(t *testing.T) {
	cases := []struct {
		v, first Value
		size     Size
		want     bool
	}{
		{100, 100, 10, true},
		{109, 100, 10, true},
		{110, 100, 10, false},
		{99, 100, 10, false},
		{0, 0xfffffffe, 10, true},
	}
	for _, c := range cases {
		if got := c.v.InWindow(c.first, c.size); got != c.want {
			t.Errorf("(%d).InWindow(%d, %d) = %v, want %v", c.v, c.first, c.size, got, c.want)
		}
	}
}

func TestAddSubtractRoundTrip(t *testing.T) {
	v := Value(0xfffffff0)
	w := v.Add(32)
	if w != 16 {
		t.Errorf("Add wrapped incorrectly: got %d, want 16", w)
	}
	if w.Subtract(32) != v {
		t.Errorf("Subtract did not undo Add: got %d, want %d", w.Subtract(32), v)
	}
}

func TestUpdateForward(t *testing.T) {
	v := Value(10)
	v.UpdateForward(5)
	if v != 15 {
		t.Errorf("UpdateForward: got %d, want 15", v)
	}
}
