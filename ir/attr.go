package ir

import (
	"encoding/binary"
	"sort"

	"github.com/gogpu/ttlc/ttlcerr"
)

// AttrHandle addresses a hash-consed Attr inside one Context's uniquer.
type AttrHandle uint32

// Well-known dictionary keys recognized by analyses/passes (§3.2).
const (
	AttrKeySubgroupSize  = "subgroup_size"
	AttrKeyWorkGroupSize = "work_group_size"
	AttrKeyAlignment     = "alignment"
	AttrKeyShapeGCD      = "shape_gcd"
	AttrKeyStrideGCD     = "stride_gcd"
	AttrKeyAlign         = "align" // not written by any pass; alignment-propagation sets the ops' Align fields instead
)

// AttrKind is the closed sum type of attribute variants (§3.2), following
// the same marker-interface idiom as TypeInner.
type AttrKind interface{ attrKind() }

type BoolAttr struct{ Value bool }

func (BoolAttr) attrKind() {}

type IntAttr struct{ Value int64 }

func (IntAttr) attrKind() {}

type StringAttr struct{ Value string }

func (StringAttr) attrKind() {}

type ArrayAttr struct{ Elements []AttrHandle }

func (ArrayAttr) attrKind() {}

// DictEntry is one (key, value) pair of a dictionary attribute, kept
// sorted by Key to support binary-search Find (§3.2, §4.2).
type DictEntry struct {
	Key   string
	Value AttrHandle
}

type DictAttr struct{ Entries []DictEntry } // sorted by Key, unique

func (DictAttr) attrKind() {}

// Attr wraps an AttrKind variant.
type Attr struct{ Kind AttrKind }

// Attr resolves h to its canonical Attr.
func (c *Context) Attr(h AttrHandle) Attr { return c.attrUniquer.get(uint32(h)) }

// BoolAttrGet hash-cons a boolean attribute.
func (c *Context) BoolAttrGet(v bool) AttrHandle {
	h := newHash()
	b := byte(0)
	if v {
		b = 1
	}
	writeHash(h, []byte{attrTagBool, b})
	return AttrHandle(c.attrUniquer.getOrCreate(h.Sum64(), func(a Attr) bool {
		x, ok := a.Kind.(BoolAttr)
		return ok && x.Value == v
	}, func() Attr { return Attr{BoolAttr{v}} }))
}

// IntAttrGet hash-cons an integer(i64) attribute.
func (c *Context) IntAttrGet(v int64) AttrHandle {
	h := newHash()
	var buf [9]byte
	buf[0] = attrTagInt
	binary.LittleEndian.PutUint64(buf[1:], uint64(v))
	writeHash(h, buf[:])
	return AttrHandle(c.attrUniquer.getOrCreate(h.Sum64(), func(a Attr) bool {
		x, ok := a.Kind.(IntAttr)
		return ok && x.Value == v
	}, func() Attr { return Attr{IntAttr{v}} }))
}

// StringAttrGet hash-cons a string attribute.
func (c *Context) StringAttrGet(v string) AttrHandle {
	h := newHash()
	writeHash(h, []byte{attrTagString})
	writeHash(h, []byte(v))
	return AttrHandle(c.attrUniquer.getOrCreate(h.Sum64(), func(a Attr) bool {
		x, ok := a.Kind.(StringAttr)
		return ok && x.Value == v
	}, func() Attr { return Attr{StringAttr{v}} }))
}

// ArrayAttrGet hash-cons an ordered sequence of attributes.
func (c *Context) ArrayAttrGet(elems []AttrHandle) AttrHandle {
	h := newHash()
	writeHash(h, []byte{attrTagArray})
	var buf [4]byte
	for _, e := range elems {
		binary.LittleEndian.PutUint32(buf[:], uint32(e))
		writeHash(h, buf[:])
	}
	return AttrHandle(c.attrUniquer.getOrCreate(h.Sum64(), func(a Attr) bool {
		x, ok := a.Kind.(ArrayAttr)
		return ok && handleSliceEqual(x.Elements, elems)
	}, func() Attr { return Attr{ArrayAttr{append([]AttrHandle(nil), elems...)}} }))
}

// DictAttrGet sorts entries by key, rejects duplicate keys with
// StatusInvalidArguments (the original's duplicate_key_in_dictionary),
// and returns the hash-consed dictionary, mirroring get_unsorted (§4.2).
func (c *Context) DictAttrGet(entries []DictEntry, loc ttlcerr.Location) (AttrHandle, error) {
	sorted := append([]DictEntry(nil), entries...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Key < sorted[j].Key })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].Key == sorted[i-1].Key {
			return 0, ttlcerr.Newf(loc, ttlcerr.StatusInvalidArguments, "duplicate key %q in dictionary", sorted[i].Key)
		}
	}

	h := newHash()
	writeHash(h, []byte{attrTagDict})
	var buf [4]byte
	for _, e := range sorted {
		writeHash(h, []byte(e.Key))
		binary.LittleEndian.PutUint32(buf[:], uint32(e.Value))
		writeHash(h, buf[:])
	}
	idx := c.attrUniquer.getOrCreate(h.Sum64(), func(a Attr) bool {
		x, ok := a.Kind.(DictAttr)
		if !ok || len(x.Entries) != len(sorted) {
			return false
		}
		for i := range sorted {
			if x.Entries[i] != sorted[i] {
				return false
			}
		}
		return true
	}, func() Attr { return Attr{DictAttr{sorted}} })
	return AttrHandle(idx), nil
}

// Find performs binary search for key in a dictionary attribute's sorted
// entries (§4.2), returning the matching handle and true, or the zero
// value and false.
func Find(dict DictAttr, key string) (AttrHandle, bool) {
	i := sort.Search(len(dict.Entries), func(i int) bool { return dict.Entries[i].Key >= key })
	if i < len(dict.Entries) && dict.Entries[i].Key == key {
		return dict.Entries[i].Value, true
	}
	return 0, false
}

const (
	attrTagBool byte = iota
	attrTagInt
	attrTagString
	attrTagArray
	attrTagDict
)

func handleSliceEqual(a, b []AttrHandle) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
