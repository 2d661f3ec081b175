package ir

import (
	"encoding/binary"
	"math"

	"github.com/gogpu/ttlc/ttlcerr"
)

// TypeHandle addresses a hash-consed Type inside one Context's uniquer.
// Handles from different contexts must never be compared or mixed (§3.1).
type TypeHandle uint32

// Dynamic is the sentinel (spec §3.3: INT64_MIN) meaning "determined at
// run time" wherever a shape, stride, group size, or group offset would
// otherwise carry a static value.
const Dynamic int64 = math.MinInt64

// IsDynamic reports whether v is the Dynamic sentinel.
func IsDynamic(v int64) bool { return v == Dynamic }

// ScalarKind enumerates the element types scalar() and memref() accept.
type ScalarKind int

const (
	ScalarBool ScalarKind = iota
	ScalarIndex
	ScalarI8
	ScalarI16
	ScalarI32
	ScalarI64
	ScalarU8
	ScalarU16
	ScalarU32
	ScalarU64
	ScalarF32
	ScalarF64
	ScalarBF16
	ScalarF16
)

// Size returns the element's storage size in bytes.
func (k ScalarKind) Size() int64 {
	switch k {
	case ScalarBool, ScalarI8, ScalarU8:
		return 1
	case ScalarI16, ScalarU16, ScalarF16, ScalarBF16:
		return 2
	case ScalarI32, ScalarU32, ScalarF32, ScalarIndex:
		return 4
	case ScalarI64, ScalarU64, ScalarF64:
		return 8
	}
	return 0
}

// AddressSpace is the memory space a memref type is attached to.
type AddressSpace int

const (
	AddressGlobal AddressSpace = iota
	AddressLocal
)

// MatrixUse labels which operand slot of coopmatrix_mul_add a coopmatrix
// value plays: the two multiplicands or the accumulator.
type MatrixUse int

const (
	MatrixUseA MatrixUse = iota
	MatrixUseB
	MatrixUseAcc
)

// TypeInner is the closed sum type of data-type variants (§3.3), modeled
// after naga's TypeInner/typeInner() marker-interface idiom (ir/ir.go).
type TypeInner interface{ typeInner() }

type VoidType struct{}

func (VoidType) typeInner() {}

type BoolType struct{}

func (BoolType) typeInner() {}

type ScalarType struct{ Kind ScalarKind }

func (ScalarType) typeInner() {}

// MemrefType is a typed, strided, possibly multi-dimensional view over a
// region of addrspace-qualified memory (§3.3). Shape/Stride entries may
// be Dynamic. len(Shape) == len(Stride) is enforced at construction.
type MemrefType struct {
	Element   TypeHandle // must resolve to a ScalarType
	Shape     []int64
	Stride    []int64
	AddrSpace AddressSpace
}

func (MemrefType) typeInner() {}

// GroupType is an array-of-memrefs value with a base-pointer offset
// (§3.3), used to pass batches of tensors to a kernel.
type GroupType struct {
	Inner  TypeHandle // must resolve to a MemrefType
	Size   int64
	Offset int64
}

func (GroupType) typeInner() {}

// CoopmatrixType is a cooperative-matrix tile distributed across a
// subgroup (§3.3, glossary).
type CoopmatrixType struct {
	Component TypeHandle // must resolve to a ScalarType
	Rows      int64
	Cols      int64
	Use       MatrixUse
}

func (CoopmatrixType) typeInner() {}

// Type wraps a TypeInner variant; Context hands out TypeHandle values
// that resolve back to one of these via Context.Type.
type Type struct{ Inner TypeInner }

// Type resolves h to its canonical Type.
func (c *Context) Type(h TypeHandle) Type { return c.typeUniquer.get(uint32(h)) }

// VoidType returns the context-wide singleton void type.
func (c *Context) VoidType() TypeHandle {
	if !c.hasVoid {
		c.voidTy = TypeHandle(c.typeUniquer.getOrCreate(hashTag(tagVoid), func(t Type) bool {
			_, ok := t.Inner.(VoidType)
			return ok
		}, func() Type { return Type{VoidType{}} }))
		c.hasVoid = true
	}
	return c.voidTy
}

// BoolType returns the context-wide singleton bool type.
func (c *Context) BoolType() TypeHandle {
	if !c.hasBool {
		c.boolTy = TypeHandle(c.typeUniquer.getOrCreate(hashTag(tagBool), func(t Type) bool {
			_, ok := t.Inner.(BoolType)
			return ok
		}, func() Type { return Type{BoolType{}} }))
		c.hasBool = true
	}
	return c.boolTy
}

// ScalarTypeGet returns the hash-consed scalar type for kind.
func (c *Context) ScalarTypeGet(kind ScalarKind) TypeHandle {
	h := newHash()
	writeHash(h, []byte{tagScalar, byte(kind)})
	return TypeHandle(c.typeUniquer.getOrCreate(h.Sum64(), func(t Type) bool {
		s, ok := t.Inner.(ScalarType)
		return ok && s.Kind == kind
	}, func() Type { return Type{ScalarType{Kind: kind}} }))
}

// CanonicalStride computes [1, s0, s0*s1, ...] for shape, propagating
// Dynamic once an earlier dimension is dynamic, mirroring
// memref_data_type::canonical_stride in original_source/src/node/data_type.cpp.
func CanonicalStride(shape []int64) []int64 {
	if len(shape) == 0 {
		return nil
	}
	stride := make([]int64, len(shape))
	for i := range stride {
		stride[i] = Dynamic
	}
	stride[0] = 1
	for i := 0; i < len(shape)-1 && !IsDynamic(shape[i]); i++ {
		stride[i+1] = stride[i] * shape[i]
	}
	return stride
}

// MemrefTypeGet hash-cons memref(element, shape, stride, addrspace),
// computing the canonical stride when stride is empty, matching
// memref_data_type::get.
func (c *Context) MemrefTypeGet(element TypeHandle, shape, stride []int64, addrspace AddressSpace, loc ttlcerr.Location) (TypeHandle, error) {
	if _, ok := c.Type(element).Inner.(ScalarType); !ok {
		return 0, ttlcerr.New(loc, ttlcerr.StatusIRExpectedScalar)
	}
	if len(stride) == 0 {
		stride = CanonicalStride(shape)
	}
	if len(stride) != len(shape) {
		return 0, ttlcerr.New(loc, ttlcerr.StatusIRShapeStrideMismatch)
	}
	for _, s := range shape {
		if s < 0 && !IsDynamic(s) {
			return 0, ttlcerr.New(loc, ttlcerr.StatusIRInvalidShape)
		}
	}
	for _, s := range stride {
		if s < 0 && !IsDynamic(s) {
			return 0, ttlcerr.New(loc, ttlcerr.StatusIRInvalidShape)
		}
	}

	h := newHash()
	writeHash(h, []byte{tagMemref})
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[:4], uint32(element))
	writeHash(h, buf[:4])
	for _, s := range shape {
		binary.LittleEndian.PutUint64(buf[:], uint64(s))
		writeHash(h, buf[:])
	}
	for _, s := range stride {
		binary.LittleEndian.PutUint64(buf[:], uint64(s))
		writeHash(h, buf[:])
	}
	writeHash(h, []byte{byte(addrspace)})

	idx := c.typeUniquer.getOrCreate(h.Sum64(), func(t Type) bool {
		m, ok := t.Inner.(MemrefType)
		return ok && m.Element == element && m.AddrSpace == addrspace &&
			int64SliceEqual(m.Shape, shape) && int64SliceEqual(m.Stride, stride)
	}, func() Type {
		return Type{MemrefType{Element: element, Shape: append([]int64(nil), shape...), Stride: append([]int64(nil), stride...), AddrSpace: addrspace}}
	})
	return TypeHandle(idx), nil
}

// SizeInBytes returns the memref's total byte footprint, or Dynamic if
// any shape/stride entry is dynamic (§3.3).
func (c *Context) SizeInBytes(m MemrefType) int64 {
	for _, s := range m.Shape {
		if IsDynamic(s) {
			return Dynamic
		}
	}
	for _, s := range m.Stride {
		if IsDynamic(s) {
			return Dynamic
		}
	}
	elem := c.Type(m.Element).Inner.(ScalarType)
	size := elem.Kind.Size()
	if len(m.Shape) > 0 {
		size *= m.Stride[len(m.Stride)-1] * m.Shape[len(m.Shape)-1]
	}
	return size
}

// GroupTypeGet hash-cons group(inner, size, offset).
func (c *Context) GroupTypeGet(inner TypeHandle, size, offset int64, loc ttlcerr.Location) (TypeHandle, error) {
	if _, ok := c.Type(inner).Inner.(MemrefType); !ok {
		return 0, ttlcerr.New(loc, ttlcerr.StatusIRExpectedMemref)
	}
	if size < 0 && !IsDynamic(size) {
		return 0, ttlcerr.New(loc, ttlcerr.StatusIRInvalidShape)
	}
	if offset < 0 && !IsDynamic(offset) {
		return 0, ttlcerr.New(loc, ttlcerr.StatusIRInvalidOffset)
	}

	h := newHash()
	var buf [8]byte
	writeHash(h, []byte{tagGroup})
	binary.LittleEndian.PutUint32(buf[:4], uint32(inner))
	writeHash(h, buf[:4])
	binary.LittleEndian.PutUint64(buf[:], uint64(size))
	writeHash(h, buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(offset))
	writeHash(h, buf[:])

	idx := c.typeUniquer.getOrCreate(h.Sum64(), func(t Type) bool {
		g, ok := t.Inner.(GroupType)
		return ok && g.Inner == inner && g.Size == size && g.Offset == offset
	}, func() Type { return Type{GroupType{Inner: inner, Size: size, Offset: offset}} })
	return TypeHandle(idx), nil
}

// isPositivePowerOfTwo mirrors util::is_positive_power_of_two.
func isPositivePowerOfTwo(v int64) bool { return v > 0 && v&(v-1) == 0 }

// CoopmatrixTypeGet hash-cons coopmatrix(component, rows, cols, use),
// enforcing rows is a positive power of two and cols > 0 (§3.3).
func (c *Context) CoopmatrixTypeGet(component TypeHandle, rows, cols int64, use MatrixUse, loc ttlcerr.Location) (TypeHandle, error) {
	if _, ok := c.Type(component).Inner.(ScalarType); !ok {
		return 0, ttlcerr.New(loc, ttlcerr.StatusIRExpectedScalar)
	}
	if rows < 0 || IsDynamic(rows) {
		return 0, ttlcerr.New(loc, ttlcerr.StatusIRInvalidShape)
	}
	if !isPositivePowerOfTwo(rows) {
		return 0, ttlcerr.New(loc, ttlcerr.StatusIRUnsupportedCoopmatrixShape)
	}
	if cols <= 0 || IsDynamic(cols) {
		return 0, ttlcerr.New(loc, ttlcerr.StatusIRInvalidShape)
	}

	h := newHash()
	var buf [8]byte
	writeHash(h, []byte{tagCoopmatrix})
	binary.LittleEndian.PutUint32(buf[:4], uint32(component))
	writeHash(h, buf[:4])
	binary.LittleEndian.PutUint64(buf[:], uint64(rows))
	writeHash(h, buf[:])
	binary.LittleEndian.PutUint64(buf[:], uint64(cols))
	writeHash(h, buf[:])
	writeHash(h, []byte{byte(use)})

	idx := c.typeUniquer.getOrCreate(h.Sum64(), func(t Type) bool {
		m, ok := t.Inner.(CoopmatrixType)
		return ok && m.Component == component && m.Rows == rows && m.Cols == cols && m.Use == use
	}, func() Type {
		return Type{CoopmatrixType{Component: component, Rows: rows, Cols: cols, Use: use}}
	})
	return TypeHandle(idx), nil
}

const (
	tagVoid byte = iota
	tagBool
	tagScalar
	tagMemref
	tagGroup
	tagCoopmatrix
)

func hashTag(tag byte) uint64 {
	h := newHash()
	writeHash(h, []byte{tag})
	return h.Sum64()
}

func int64SliceEqual(a, b []int64) bool {
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
