package storage

import (
	"bytes"
	"fmt"
)

// Endpoint is the kind of a scan boundary.
type Endpoint int

const (
	Inclusive Endpoint = iota
	Exclusive
	Inf
)

func (e Endpoint) String() string {
	switch e {
	case Inclusive:
		return "inclusive"
	case Exclusive:
		return "exclusive"
	case Inf:
		return "inf"
	}
	return fmt.Sprintf("endpoint(%d)", int(e))
}

// Range is a key interval of one storage. An Inf endpoint ignores its key.
type Range struct {
	Left     []byte
	LeftEnd  Endpoint
	Right    []byte
	RightEnd Endpoint
}

// FullRange covers every key.
var FullRange = Range{LeftEnd: Inf, RightEnd: Inf}

// PointRange covers exactly key.
func PointRange(key []byte) Range {
	return Range{Left: key, LeftEnd: Inclusive, Right: key, RightEnd: Inclusive}
}

func (r Range) aboveLeft(key []byte) bool {
	switch r.LeftEnd {
	case Inclusive:
		return bytes.Compare(key, r.Left) >= 0
	case Exclusive:
		return bytes.Compare(key, r.Left) > 0
	}
	return true
}

func (r Range) belowRight(key []byte) bool {
	switch r.RightEnd {
	case Inclusive:
		return bytes.Compare(key, r.Right) <= 0
	case Exclusive:
		return bytes.Compare(key, r.Right) < 0
	}
	return true
}

// Contains reports whether key lies in the range.
func (r Range) Contains(key []byte) bool {
	return r.aboveLeft(key) && r.belowRight(key)
}

// Empty reports whether no key can lie in the range.
func (r Range) Empty() bool {
	if r.LeftEnd == Inf || r.RightEnd == Inf {
		return false
	}
	c := bytes.Compare(r.Left, r.Right)
	if c > 0 {
		return true
	}
	return c == 0 && (r.LeftEnd == Exclusive || r.RightEnd == Exclusive)
}

// Overlaps reports whether some key may lie in both ranges. It errs on the side of true around exclusive endpoints.
func (r Range) Overlaps(o Range) bool {
	if r.Empty() || o.Empty() {
		return false
	}
	if r.RightEnd != Inf && o.LeftEnd != Inf && bytes.Compare(r.Right, o.Left) < 0 {
		return false
	}
	if o.RightEnd != Inf && r.LeftEnd != Inf && bytes.Compare(o.Right, r.Left) < 0 {
		return false
	}
	return true
}

func (r Range) String() string {
	l, rr := "(-inf", "+inf)"
	switch r.LeftEnd {
	case Inclusive:
		l = fmt.Sprintf("[%q", r.Left)
	case Exclusive:
		l = fmt.Sprintf("(%q", r.Left)
	}
	switch r.RightEnd {
	case Inclusive:
		rr = fmt.Sprintf("%q]", r.Right)
	case Exclusive:
		rr = fmt.Sprintf("%q)", r.Right)
	}
	return l + ", " + rr
}
