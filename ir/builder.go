package ir

import "github.com/gogpu/ttlc/ttlcerr"

// Builder wraps one function's arenas with a "current insertion point"
// (a region and the position inside it to append to), performing the
// per-instruction operand/shape/type checks described in §4.5 at
// construction time rather than as a separate late pass — mirroring
// ir/validate.go's switch-per-kind structure but returning (Value, error)
// from each call instead of collecting a deferred error list, per
// SPEC_FULL.md §4's "builder performs checks at construction time" note.
type Builder struct {
	Ctx    *Context
	Fn     *Function
	Region RegionHandle
}

// NewBuilder returns a Builder appending to region of fn.
func NewBuilder(ctx *Context, fn *Function, region RegionHandle) *Builder {
	return &Builder{Ctx: ctx, Fn: fn, Region: region}
}

func (b *Builder) append(op OpKind, operands []ValueHandle, resultTypes []TypeHandle, regions []RegionHandle, loc ttlcerr.Location) []ValueHandle {
	inst := Instruction{Op: op, Operands: operands, Regions: regions, Loc: loc}
	ih := b.Fn.AppendInst(b.Region, inst)
	results := make([]ValueHandle, len(resultTypes))
	for i, ty := range resultTypes {
		results[i] = b.Fn.NewValue(ty, ih, i)
	}
	b.Fn.Instructions[ih].Results = results
	return results
}

func (b *Builder) typeOf(v ValueHandle) Type { return b.Ctx.Type(b.Fn.Values[v].Type) }

func (b *Builder) scalarKind(v ValueHandle) (ScalarKind, bool) {
	s, ok := b.typeOf(v).Inner.(ScalarType)
	if !ok {
		return 0, false
	}
	return s.Kind, true
}

func (b *Builder) memref(v ValueHandle) (MemrefType, bool) {
	m, ok := b.typeOf(v).Inner.(MemrefType)
	return m, ok
}

func (b *Builder) coopmatrix(v ValueHandle) (CoopmatrixType, bool) {
	m, ok := b.typeOf(v).Inner.(CoopmatrixType)
	return m, ok
}

// Arith builds arith(op, a, b): two scalars or two coopmatrices of
// identical type; result type = operand type (§3.4).
func (b *Builder) Arith(op ArithOp, a, b_ ValueHandle, loc ttlcerr.Location) (ValueHandle, error) {
	tA, tB := b.Fn.Values[a].Type, b.Fn.Values[b_].Type
	if tA != tB {
		return 0, ttlcerr.New(loc, ttlcerr.StatusIRScalarMismatch)
	}
	if _, ok := b.scalarKind(a); !ok {
		if _, ok := b.coopmatrix(a); !ok {
			return 0, ttlcerr.New(loc, ttlcerr.StatusIRExpectedMemrefOrScalar)
		}
	}
	res := b.append(Arith{Op: op}, []ValueHandle{a, b_}, []TypeHandle{tA}, nil, loc)
	return res[0], nil
}

// ArithUnary builds arith_unary(op, a): result type = operand type.
func (b *Builder) ArithUnary(op ArithUnaryOp, a ValueHandle, loc ttlcerr.Location) (ValueHandle, error) {
	res := b.append(ArithUnary{Op: op}, []ValueHandle{a}, []TypeHandle{b.Fn.Values[a].Type}, nil, loc)
	return res[0], nil
}

// Cmp builds cmp(cond, a, b) -> bool.
func (b *Builder) Cmp(cond CmpCond, a, b_ ValueHandle, loc ttlcerr.Location) (ValueHandle, error) {
	if b.Fn.Values[a].Type != b.Fn.Values[b_].Type {
		return 0, ttlcerr.New(loc, ttlcerr.StatusIRScalarMismatch)
	}
	res := b.append(Cmp{Cond: cond}, []ValueHandle{a, b_}, []TypeHandle{b.Ctx.BoolType()}, nil, loc)
	return res[0], nil
}

// Cast builds cast(a, toTy): scalar->scalar or coopmatrix->coopmatrix
// (component only).
func (b *Builder) Cast(a ValueHandle, toTy TypeHandle, loc ttlcerr.Location) (ValueHandle, error) {
	_, aScalar := b.scalarKind(a)
	_, toScalar := b.Ctx.Type(toTy).Inner.(ScalarType)
	_, aCoop := b.coopmatrix(a)
	_, toCoop := b.Ctx.Type(toTy).Inner.(CoopmatrixType)
	if !((aScalar && toScalar) || (aCoop && toCoop)) {
		return 0, ttlcerr.New(loc, ttlcerr.StatusIRScalarMismatch)
	}
	res := b.append(Cast{ToType: toTy}, []ValueHandle{a}, []TypeHandle{toTy}, nil, loc)
	return res[0], nil
}

// Constant builds constant(value, type).
func (b *Builder) Constant(value ConstantValue, ty TypeHandle, loc ttlcerr.Location) ValueHandle {
	res := b.append(Constant{Value: value, Type: ty}, nil, []TypeHandle{ty}, nil, loc)
	return res[0]
}

// Alloca builds alloca(ty) -> memref, StackPtr unassigned (-1) until
// transform.SetStackPtr runs (§4.7 step 3). alloca is collective-only,
// enforced by check-ir rather than here since it needs the enclosing
// region's kind.
func (b *Builder) Alloca(ty TypeHandle, loc ttlcerr.Location) (ValueHandle, error) {
	if _, ok := b.Ctx.Type(ty).Inner.(MemrefType); !ok {
		return 0, ttlcerr.New(loc, ttlcerr.StatusIRExpectedMemref)
	}
	res := b.append(Alloca{ResultType: ty, StackPtr: -1}, nil, []TypeHandle{ty}, nil, loc)
	return res[0], nil
}

// Load builds load(src, indices...) -> scalar or group element.
func (b *Builder) Load(src ValueHandle, indices []ValueHandle, loc ttlcerr.Location) (ValueHandle, error) {
	m, isMemref := b.memref(src)
	g, isGroup := b.Ctx.Type(b.Fn.Values[src].Type).Inner.(GroupType)
	var resultTy TypeHandle
	switch {
	case isMemref:
		if len(indices) != len(m.Shape) {
			return 0, ttlcerr.New(loc, ttlcerr.StatusIRInvalidNumberOfIndices)
		}
		resultTy = m.Element
	case isGroup:
		if len(indices) != 1 {
			return 0, ttlcerr.New(loc, ttlcerr.StatusIRInvalidNumberOfIndices)
		}
		resultTy = g.Inner
	default:
		return 0, ttlcerr.New(loc, ttlcerr.StatusIRExpectedMemrefOrGroup)
	}
	operands := append([]ValueHandle{src}, indices...)
	res := b.append(Load{NumIndices: len(indices)}, operands, []TypeHandle{resultTy}, nil, loc)
	return res[0], nil
}

// Store builds store(val, dst, indices...).
func (b *Builder) Store(val, dst ValueHandle, indices []ValueHandle, loc ttlcerr.Location) error {
	return b.store(val, dst, indices, false, loc)
}

// StoreAtomic builds store(val, dst, indices...) marked atomic, used by
// lower-linalg when the BLAS primitive it is expanding was built with its
// own Atomic flag set.
func (b *Builder) StoreAtomic(val, dst ValueHandle, indices []ValueHandle, loc ttlcerr.Location) error {
	return b.store(val, dst, indices, true, loc)
}

func (b *Builder) store(val, dst ValueHandle, indices []ValueHandle, atomic bool, loc ttlcerr.Location) error {
	m, ok := b.memref(dst)
	if !ok {
		return ttlcerr.New(loc, ttlcerr.StatusIRExpectedMemref)
	}
	if len(indices) != len(m.Shape) {
		return ttlcerr.New(loc, ttlcerr.StatusIRInvalidNumberOfIndices)
	}
	if b.Fn.Values[val].Type != m.Element {
		return ttlcerr.New(loc, ttlcerr.StatusIRScalarMismatch)
	}
	operands := append([]ValueHandle{val, dst}, indices...)
	b.append(Store{NumIndices: len(indices), Atomic: atomic}, operands, nil, nil, loc)
	return nil
}

// Expand builds expand(src, mode, newShape): at most one entry of
// newShape may be Dynamic, and when every entry and src.Shape[mode] are
// static their product must equal src.Shape[mode] (§4.5).
func (b *Builder) Expand(src ValueHandle, mode int, newShape []int64, loc ttlcerr.Location) (ValueHandle, error) {
	m, ok := b.memref(src)
	if !ok {
		return 0, ttlcerr.New(loc, ttlcerr.StatusIRExpectedMemref)
	}
	if mode < 0 || mode >= len(m.Shape) {
		return 0, ttlcerr.New(loc, ttlcerr.StatusIROutOfBounds)
	}
	if len(newShape) < 2 {
		return 0, ttlcerr.New(loc, ttlcerr.StatusIRExpandShapeOrderTooSmall)
	}
	dynCount := 0
	product := int64(1)
	for _, s := range newShape {
		if IsDynamic(s) {
			dynCount++
			continue
		}
		product *= s
	}
	if dynCount > 1 {
		return 0, ttlcerr.New(loc, ttlcerr.StatusIRMultipleDynamicModes)
	}
	if dynCount == 0 && !IsDynamic(m.Shape[mode]) && product != m.Shape[mode] {
		return 0, ttlcerr.New(loc, ttlcerr.StatusIRExpandShapeMismatch)
	}

	shape := make([]int64, 0, len(m.Shape)-1+len(newShape))
	shape = append(shape, m.Shape[:mode]...)
	shape = append(shape, newShape...)
	shape = append(shape, m.Shape[mode+1:]...)
	resultTy, err := b.Ctx.MemrefTypeGet(m.Element, shape, nil, m.AddrSpace, loc)
	if err != nil {
		return 0, err
	}
	res := b.append(Expand{Mode: mode, NewShape: newShape}, []ValueHandle{src}, []TypeHandle{resultTy}, nil, loc)
	return res[0], nil
}

// Fuse builds fuse(src, from, to): collapses dimensions [from,to] of the
// operand memref into one.
func (b *Builder) Fuse(src ValueHandle, from, to int, loc ttlcerr.Location) (ValueHandle, error) {
	m, ok := b.memref(src)
	if !ok {
		return 0, ttlcerr.New(loc, ttlcerr.StatusIRExpectedMemref)
	}
	if from < 0 || to >= len(m.Shape) || from > to {
		return 0, ttlcerr.New(loc, ttlcerr.StatusIROutOfBounds)
	}
	fused := int64(1)
	dynamic := false
	for i := from; i <= to; i++ {
		if IsDynamic(m.Shape[i]) {
			dynamic = true
			break
		}
		fused *= m.Shape[i]
	}
	if dynamic {
		fused = Dynamic
	}
	shape := make([]int64, 0, len(m.Shape)-(to-from))
	shape = append(shape, m.Shape[:from]...)
	shape = append(shape, fused)
	shape = append(shape, m.Shape[to+1:]...)
	resultTy, err := b.Ctx.MemrefTypeGet(m.Element, shape, nil, m.AddrSpace, loc)
	if err != nil {
		return 0, err
	}
	res := b.append(Fuse{From: from, To: to}, []ValueHandle{src}, []TypeHandle{resultTy}, nil, loc)
	return res[0], nil
}

// Subview builds subview(src, offsets, sizes): a memref slice.
func (b *Builder) Subview(src ValueHandle, offsets, sizes []ValueHandle, staticSizes []int64, loc ttlcerr.Location) (ValueHandle, error) {
	m, ok := b.memref(src)
	if !ok {
		return 0, ttlcerr.New(loc, ttlcerr.StatusIRExpectedMemref)
	}
	if len(offsets) != len(m.Shape) || len(staticSizes) != len(m.Shape) {
		return 0, ttlcerr.New(loc, ttlcerr.StatusIRInvalidNumberOfIndices)
	}
	resultTy, err := b.Ctx.MemrefTypeGet(m.Element, staticSizes, nil, m.AddrSpace, loc)
	if err != nil {
		return 0, err
	}
	operands := append(append([]ValueHandle{src}, offsets...), sizes...)
	res := b.append(Subview{NumIndices: len(offsets)}, operands, []TypeHandle{resultTy}, nil, loc)
	return res[0], nil
}

// SizeOp builds size(src, mode) -> index.
func (b *Builder) SizeOp(src ValueHandle, mode int, loc ttlcerr.Location) (ValueHandle, error) {
	m, ok := b.memref(src)
	if !ok {
		return 0, ttlcerr.New(loc, ttlcerr.StatusIRExpectedMemref)
	}
	if mode < 0 || mode >= len(m.Shape) {
		return 0, ttlcerr.New(loc, ttlcerr.StatusIROutOfBounds)
	}
	res := b.append(Size{Mode: mode}, []ValueHandle{src}, []TypeHandle{b.Ctx.ScalarTypeGet(ScalarIndex)}, nil, loc)
	return res[0], nil
}

// rank2Memref requires v to be a rank-2 memref and returns it.
func (b *Builder) rank2Memref(v ValueHandle, loc ttlcerr.Location) (MemrefType, error) {
	m, ok := b.memref(v)
	if !ok {
		return MemrefType{}, ttlcerr.New(loc, ttlcerr.StatusIRExpectedMemref)
	}
	if len(m.Shape) != 2 {
		return MemrefType{}, ttlcerr.New(loc, ttlcerr.StatusIRIncompatibleShapes)
	}
	return m, nil
}

func dims(m MemrefType, t Transpose) (rows, cols int64) {
	if t == Trans {
		return m.Shape[1], m.Shape[0]
	}
	return m.Shape[0], m.Shape[1]
}

func shapesCompatible(a, b int64) bool { return IsDynamic(a) || IsDynamic(b) || a == b }

// Gemm builds gemm(tA, tB, alpha, A, B, beta, C, atomic): A, B, C all
// rank-2 memrefs; the contracted dimensions match modulo tA/tB (§4.5).
func (b *Builder) Gemm(ta, tb Transpose, alpha, a, b_, beta, c ValueHandle, atomic bool, loc ttlcerr.Location) error {
	ma, err := b.rank2Memref(a, loc)
	if err != nil {
		return err
	}
	mb, err := b.rank2Memref(b_, loc)
	if err != nil {
		return err
	}
	mc, err := b.rank2Memref(c, loc)
	if err != nil {
		return err
	}
	aRows, aCols := dims(ma, ta)
	bRows, bCols := dims(mb, tb)
	if !shapesCompatible(aCols, bRows) {
		return ttlcerr.New(loc, ttlcerr.StatusIRIncompatibleShapes)
	}
	if !shapesCompatible(aRows, mc.Shape[0]) || !shapesCompatible(bCols, mc.Shape[1]) {
		return ttlcerr.New(loc, ttlcerr.StatusIRIncompatibleShapes)
	}
	b.append(Gemm{TA: ta, TB: tb, Atomic: atomic}, []ValueHandle{alpha, a, b_, beta, c}, nil, nil, loc)
	return nil
}

// Gemv builds gemv(tA, alpha, A, x, beta, y, atomic).
func (b *Builder) Gemv(ta Transpose, alpha, a, x, beta, y ValueHandle, atomic bool, loc ttlcerr.Location) error {
	ma, err := b.rank2Memref(a, loc)
	if err != nil {
		return err
	}
	aRows, aCols := dims(ma, ta)
	mx, ok := b.memref(x)
	if !ok || len(mx.Shape) != 1 {
		return ttlcerr.New(loc, ttlcerr.StatusIRIncompatibleShapes)
	}
	my, ok := b.memref(y)
	if !ok || len(my.Shape) != 1 {
		return ttlcerr.New(loc, ttlcerr.StatusIRIncompatibleShapes)
	}
	if !shapesCompatible(aCols, mx.Shape[0]) || !shapesCompatible(aRows, my.Shape[0]) {
		return ttlcerr.New(loc, ttlcerr.StatusIRIncompatibleShapes)
	}
	b.append(Gemv{TA: ta, Atomic: atomic}, []ValueHandle{alpha, a, x, beta, y}, nil, nil, loc)
	return nil
}

// Ger builds ger(alpha, x, y, beta, C, atomic): C := alpha*x*y^T + beta*C.
func (b *Builder) Ger(alpha, x, y, beta, c ValueHandle, atomic bool, loc ttlcerr.Location) error {
	mx, ok := b.memref(x)
	if !ok || len(mx.Shape) != 1 {
		return ttlcerr.New(loc, ttlcerr.StatusIRIncompatibleShapes)
	}
	my, ok := b.memref(y)
	if !ok || len(my.Shape) != 1 {
		return ttlcerr.New(loc, ttlcerr.StatusIRIncompatibleShapes)
	}
	mc, err := b.rank2Memref(c, loc)
	if err != nil {
		return err
	}
	if !shapesCompatible(mx.Shape[0], mc.Shape[0]) || !shapesCompatible(my.Shape[0], mc.Shape[1]) {
		return ttlcerr.New(loc, ttlcerr.StatusIRIncompatibleShapes)
	}
	b.append(Ger{Atomic: atomic}, []ValueHandle{alpha, x, y, beta, c}, nil, nil, loc)
	return nil
}

// Hadamard builds hadamard(alpha, A, B, beta, C, atomic): C := alpha*(A.*B)+beta*C.
func (b *Builder) Hadamard(alpha, a, b_, beta, c ValueHandle, atomic bool, loc ttlcerr.Location) error {
	ma, err := b.rank2Memref(a, loc)
	if err != nil {
		return err
	}
	mb, err := b.rank2Memref(b_, loc)
	if err != nil {
		return err
	}
	mc, err := b.rank2Memref(c, loc)
	if err != nil {
		return err
	}
	if !shapesCompatible(ma.Shape[0], mb.Shape[0]) || !shapesCompatible(ma.Shape[1], mb.Shape[1]) ||
		!shapesCompatible(ma.Shape[0], mc.Shape[0]) || !shapesCompatible(ma.Shape[1], mc.Shape[1]) {
		return ttlcerr.New(loc, ttlcerr.StatusIRIncompatibleShapes)
	}
	b.append(Hadamard{Atomic: atomic}, []ValueHandle{alpha, a, b_, beta, c}, nil, nil, loc)
	return nil
}

// Axpby builds axpby(tA, alpha, A, beta, B, atomic): B := alpha*opA(A) + beta*B.
func (b *Builder) Axpby(ta Transpose, alpha, a, beta, bmem ValueHandle, atomic bool, loc ttlcerr.Location) error {
	ma, ok := b.memref(a)
	if !ok {
		return ttlcerr.New(loc, ttlcerr.StatusIRExpectedMemref)
	}
	mb, ok := b.memref(bmem)
	if !ok || len(mb.Shape) != len(ma.Shape) {
		return ttlcerr.New(loc, ttlcerr.StatusIRIncompatibleShapes)
	}
	b.append(Axpby{TA: ta, Atomic: atomic}, []ValueHandle{alpha, a, beta, bmem}, nil, nil, loc)
	return nil
}

// Sum builds sum(tA, alpha, A, beta, B, atomic): B := alpha*reduce(opA(A)) + beta*B.
func (b *Builder) Sum(ta Transpose, alpha, a, beta, bmem ValueHandle, atomic bool, loc ttlcerr.Location) error {
	if _, ok := b.memref(a); !ok {
		return ttlcerr.New(loc, ttlcerr.StatusIRExpectedMemref)
	}
	if _, ok := b.memref(bmem); !ok {
		return ttlcerr.New(loc, ttlcerr.StatusIRExpectedMemref)
	}
	b.append(Sum{TA: ta, Atomic: atomic}, []ValueHandle{alpha, a, beta, bmem}, nil, nil, loc)
	return nil
}

// CoopmatrixLoad builds coopmatrix_load(src, pos0, pos1, resultTy, transpose).
func (b *Builder) CoopmatrixLoad(src, pos0, pos1 ValueHandle, resultTy TypeHandle, transpose bool, loc ttlcerr.Location) (ValueHandle, error) {
	if _, ok := b.memref(src); !ok {
		return 0, ttlcerr.New(loc, ttlcerr.StatusIRExpectedMemref)
	}
	if _, ok := b.Ctx.Type(resultTy).Inner.(CoopmatrixType); !ok {
		return 0, ttlcerr.New(loc, ttlcerr.StatusIRExpectedVectorOrMatrix)
	}
	res := b.append(CoopmatrixLoad{ResultType: resultTy, Transpose: transpose}, []ValueHandle{src, pos0, pos1}, []TypeHandle{resultTy}, nil, loc)
	return res[0], nil
}

// CoopmatrixStore builds coopmatrix_store(flag, val, dst, pos0, pos1).
func (b *Builder) CoopmatrixStore(flag CoopStoreFlag, val, dst, pos0, pos1 ValueHandle, loc ttlcerr.Location) error {
	if _, ok := b.coopmatrix(val); !ok {
		return ttlcerr.New(loc, ttlcerr.StatusIRExpectedVectorOrMatrix)
	}
	if _, ok := b.memref(dst); !ok {
		return ttlcerr.New(loc, ttlcerr.StatusIRExpectedMemref)
	}
	b.append(CoopmatrixStore{Flag: flag}, []ValueHandle{val, dst, pos0, pos1}, nil, nil, loc)
	return nil
}

// CoopmatrixMulAdd builds coopmatrix_mul_add(a, b, c) -> d, requiring
// a.Use==A, b.Use==B, c.Use==Acc and compatible M/N/K (§4.5).
func (b *Builder) CoopmatrixMulAdd(a, b_, c ValueHandle, loc ttlcerr.Location) (ValueHandle, error) {
	ma, ok := b.coopmatrix(a)
	if !ok || ma.Use != MatrixUseA {
		return 0, ttlcerr.New(loc, ttlcerr.StatusIRExpectedVectorOrMatrix)
	}
	mb, ok := b.coopmatrix(b_)
	if !ok || mb.Use != MatrixUseB {
		return 0, ttlcerr.New(loc, ttlcerr.StatusIRExpectedVectorOrMatrix)
	}
	mc, ok := b.coopmatrix(c)
	if !ok || mc.Use != MatrixUseAcc {
		return 0, ttlcerr.New(loc, ttlcerr.StatusIRExpectedVectorOrMatrix)
	}
	if !shapesCompatible(ma.Rows, mc.Rows) || !shapesCompatible(mb.Cols, mc.Cols) || !shapesCompatible(ma.Cols, mb.Rows) {
		return 0, ttlcerr.New(loc, ttlcerr.StatusIRIncompatibleShapes)
	}
	res := b.append(CoopmatrixMulAdd{}, []ValueHandle{a, b_, c}, []TypeHandle{b.Fn.Values[c].Type}, nil, loc)
	return res[0], nil
}

// CoopmatrixScale builds coopmatrix_scale(alpha, b) -> result.
func (b *Builder) CoopmatrixScale(alpha, bmat ValueHandle, loc ttlcerr.Location) (ValueHandle, error) {
	if _, ok := b.coopmatrix(bmat); !ok {
		return 0, ttlcerr.New(loc, ttlcerr.StatusIRExpectedVectorOrMatrix)
	}
	res := b.append(CoopmatrixScale{}, []ValueHandle{alpha, bmat}, []TypeHandle{b.Fn.Values[bmat].Type}, nil, loc)
	return res[0], nil
}

// GroupID/GroupSize/NumSubgroups/SubgroupID/SubgroupLocalID/SubgroupSize
// all take no operands and produce one index-typed or i32-typed result.
func (b *Builder) GroupID(loc ttlcerr.Location) ValueHandle {
	return b.append(GroupID{}, nil, []TypeHandle{b.Ctx.ScalarTypeGet(ScalarIndex)}, nil, loc)[0]
}
func (b *Builder) GroupSize(loc ttlcerr.Location) ValueHandle {
	return b.append(GroupSize{}, nil, []TypeHandle{b.Ctx.ScalarTypeGet(ScalarIndex)}, nil, loc)[0]
}
func (b *Builder) NumSubgroups(loc ttlcerr.Location) ValueHandle {
	return b.append(NumSubgroups{}, nil, []TypeHandle{b.Ctx.ScalarTypeGet(ScalarI32)}, nil, loc)[0]
}
func (b *Builder) SubgroupID(loc ttlcerr.Location) ValueHandle {
	return b.append(SubgroupID{}, nil, []TypeHandle{b.Ctx.ScalarTypeGet(ScalarI32)}, nil, loc)[0]
}
func (b *Builder) SubgroupLocalID(loc ttlcerr.Location) ValueHandle {
	return b.append(SubgroupLocalID{}, nil, []TypeHandle{b.Ctx.ScalarTypeGet(ScalarI32)}, nil, loc)[0]
}
func (b *Builder) SubgroupSize(loc ttlcerr.Location) ValueHandle {
	return b.append(SubgroupSize{}, nil, []TypeHandle{b.Ctx.ScalarTypeGet(ScalarI32)}, nil, loc)[0]
}

// SubgroupBroadcast builds subgroup_broadcast(a, lane).
func (b *Builder) SubgroupBroadcast(a, lane ValueHandle, loc ttlcerr.Location) ValueHandle {
	return b.append(SubgroupBroadcast{}, []ValueHandle{a, lane}, []TypeHandle{b.Fn.Values[a].Type}, nil, loc)[0]
}

// Barrier builds barrier(fence_flags).
func (b *Builder) Barrier(flags FenceFlags, loc ttlcerr.Location) {
	b.append(Barrier{Flags: flags}, nil, nil, nil, loc)
}

// LifetimeStop builds lifetime_stop(obj), paired with an earlier alloca.
func (b *Builder) LifetimeStop(obj ValueHandle, loc ttlcerr.Location) {
	b.append(LifetimeStop{}, []ValueHandle{obj}, nil, nil, loc)
}

// Yield builds yield(vals...), the terminator of a region that yields
// values.
func (b *Builder) Yield(vals []ValueHandle, loc ttlcerr.Location) {
	b.append(Yield{}, vals, nil, nil, loc)
}

// If builds if(cond, then, else?) with declared result types; the caller
// fills the then/else regions via NewBuilder(ctx, fn, region) before
// sealing them with Yield. Returns the result values and the two (or one)
// child region handles.
func (b *Builder) If(cond ValueHandle, resultTypes []TypeHandle, hasElse bool, loc ttlcerr.Location) ([]ValueHandle, RegionHandle, RegionHandle) {
	ih := InstHandle(len(b.Fn.Instructions))
	thenRegion := b.Fn.NewRegion(RegionMixed, ih)
	var elseRegion RegionHandle
	regions := []RegionHandle{thenRegion}
	if hasElse {
		elseRegion = b.Fn.NewRegion(RegionMixed, ih)
		regions = append(regions, elseRegion)
	}
	inst := Instruction{Op: If{ResultTypes: resultTypes}, Operands: []ValueHandle{cond}, Regions: regions, Loc: loc}
	got := b.Fn.AppendInst(b.Region, inst)
	results := make([]ValueHandle, len(resultTypes))
	for i, ty := range resultTypes {
		results[i] = b.Fn.NewValue(ty, got, i)
	}
	b.Fn.Instructions[got].Results = results
	return results, thenRegion, elseRegion
}

// For builds for(loopVarTy, from, to, step?, initValues...); the body
// region's parameters are [loop_var, iter_args...] and its kind is
// mixed. Returns the result values (mirroring initValues) and the body
// region for the caller to populate and seal with Yield.
func (b *Builder) For(loopVarTy TypeHandle, from, to ValueHandle, step *ValueHandle, initValues []ValueHandle, loc ttlcerr.Location) ([]ValueHandle, RegionHandle) {
	operands := []ValueHandle{from, to}
	hasStep := step != nil
	if hasStep {
		operands = append(operands, *step)
	}
	operands = append(operands, initValues...)

	ih := InstHandle(len(b.Fn.Instructions))
	body := b.Fn.NewRegion(RegionMixed, ih)
	params := make([]ValueHandle, 1+len(initValues))
	params[0] = ValueHandle(len(b.Fn.Values))
	b.Fn.Values = append(b.Fn.Values, Value{Type: loopVarTy, DefKind: DefParam, DefRegion: body, ParamIdx: 0})
	for i, iv := range initValues {
		ty := b.Fn.Values[iv].Type
		params[i+1] = ValueHandle(len(b.Fn.Values))
		b.Fn.Values = append(b.Fn.Values, Value{Type: ty, DefKind: DefParam, DefRegion: body, ParamIdx: i + 1})
	}
	b.Fn.Regions[body].Params = params

	inst := Instruction{Op: For{LoopVarType: loopVarTy, HasStep: hasStep}, Operands: operands, Regions: []RegionHandle{body}, Loc: loc}
	got := b.Fn.AppendInst(b.Region, inst)
	results := make([]ValueHandle, len(initValues))
	for i, iv := range initValues {
		results[i] = b.Fn.NewValue(b.Fn.Values[iv].Type, got, i)
	}
	b.Fn.Instructions[got].Results = results
	return results, body
}

// Foreach builds foreach(loopVarTy, from, to); the body region's single
// parameter is the loop variable and its kind is spmd (§3.4).
func (b *Builder) Foreach(loopVarTy TypeHandle, from, to ValueHandle, loc ttlcerr.Location) RegionHandle {
	ih := InstHandle(len(b.Fn.Instructions))
	body := b.Fn.NewRegion(RegionSPMD, ih)
	p := ValueHandle(len(b.Fn.Values))
	b.Fn.Values = append(b.Fn.Values, Value{Type: loopVarTy, DefKind: DefParam, DefRegion: body, ParamIdx: 0})
	b.Fn.Regions[body].Params = []ValueHandle{p}

	inst := Instruction{Op: Foreach{LoopVarType: loopVarTy}, Operands: []ValueHandle{from, to}, Regions: []RegionHandle{body}, Loc: loc}
	b.Fn.AppendInst(b.Region, inst)
	return body
}

// Parallel builds parallel(body): switches the enclosing kind from
// collective to spmd for the instructions inside body.
func (b *Builder) Parallel(loc ttlcerr.Location) RegionHandle {
	ih := InstHandle(len(b.Fn.Instructions))
	body := b.Fn.NewRegion(RegionSPMD, ih)
	b.Fn.AppendInst(b.Region, Instruction{Op: Parallel{}, Regions: []RegionHandle{body}, Loc: loc})
	return body
}

// CoopmatrixApply builds coopmatrix_apply(b) with a scalar function
// region the caller populates over the component scalar type.
func (b *Builder) CoopmatrixApply(operand ValueHandle, loc ttlcerr.Location) (ValueHandle, RegionHandle, error) {
	m, ok := b.coopmatrix(operand)
	if !ok {
		return 0, 0, ttlcerr.New(loc, ttlcerr.StatusIRExpectedVectorOrMatrix)
	}
	ih := InstHandle(len(b.Fn.Instructions))
	body := b.Fn.NewRegion(RegionMixed, ih)
	p := ValueHandle(len(b.Fn.Values))
	b.Fn.Values = append(b.Fn.Values, Value{Type: m.Component, DefKind: DefParam, DefRegion: body, ParamIdx: 0})
	b.Fn.Regions[body].Params = []ValueHandle{p}

	inst := Instruction{Op: CoopmatrixApply{}, Operands: []ValueHandle{operand}, Regions: []RegionHandle{body}, Loc: loc}
	got := b.Fn.AppendInst(b.Region, inst)
	res := b.Fn.NewValue(b.Fn.Values[operand].Type, got, 0)
	b.Fn.Instructions[got].Results = []ValueHandle{res}
	return res, body, nil
}
