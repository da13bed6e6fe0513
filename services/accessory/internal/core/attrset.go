// services/accessory/internal/core/attrset.go
package core

import "accessorycard-go/errcode"

// AttrSet is a fixed-capacity, terminator-backed attribute array. The last
// entry is reserved and always nil. Release frees every contained attribute.
type AttrSet struct {
	entries []*Attribute
	n       int
}

// NewAttrSet allocates a set of the given capacity, terminator included.
func NewAttrSet(capacity int) *AttrSet {
	if capacity < 1 {
		capacity = 1
	}
	return &AttrSet{entries: make([]*Attribute, capacity)}
}

// Add appends a to the set. The terminator slot can never be filled.
func (s *AttrSet) Add(a *Attribute) error {
	if a == nil {
		return errcode.InvalidAttribute
	}
	if s.n >= len(s.entries)-1 {
		return errcode.AttrSetFull
	}
	s.entries[s.n] = a
	s.n++
	return nil
}

func (s *AttrSet) Len() int { return s.n }
func (s *AttrSet) Cap() int { return len(s.entries) }

// Complete reports whether every non-terminator entry is populated.
func (s *AttrSet) Complete() bool { return s != nil && s.n == len(s.entries)-1 }

// Entries returns a copy of the full fixed-length array, terminator included.
func (s *AttrSet) Entries() []*Attribute {
	out := make([]*Attribute, len(s.entries))
	copy(out, s.entries)
	return out
}

// Attrs returns the populated entries in insertion order.
func (s *AttrSet) Attrs() []*Attribute {
	out := make([]*Attribute, s.n)
	copy(out, s.entries[:s.n])
	return out
}

func (s *AttrSet) Lookup(name string) *Attribute {
	for _, a := range s.entries[:s.n] {
		if a.Name() == name {
			return a
		}
	}
	return nil
}

// Release frees every contained attribute and empties the set. Safe on nil
// and on an already released set.
func (s *AttrSet) Release() {
	if s == nil {
		return
	}
	for i := 0; i < s.n; i++ {
		s.entries[i].Release()
		s.entries[i] = nil
	}
	s.n = 0
}
