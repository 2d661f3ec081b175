package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gogpu/ttlc/ir"
	"github.com/gogpu/ttlc/ttlcerr"
)

// buildTwoAllocas builds a function with two f32[4] allocas, the first
// fully live (a load right after it), the second given an explicit
// non-overlapping stack offset so alias/stack analysis has something to
// report without depending on transform.SetStackPtr.
func buildTwoAllocas(t *testing.T) (*ir.Context, *ir.Function) {
	t.Helper()
	ctx := ir.NewContext()
	prog := ir.NewProgram(ctx)
	f32 := ctx.ScalarTypeGet(ir.ScalarF32)
	idx := ctx.ScalarTypeGet(ir.ScalarIndex)
	memref, err := ctx.MemrefTypeGet(f32, []int64{4}, ir.CanonicalStride([]int64{4}), ir.AddressLocal, ttlcerr.Location{})
	require.NoError(t, err)

	fi, _ := prog.AddFunction("two_allocas", nil)
	fn := &prog.Functions[fi]
	b := ir.NewBuilder(ctx, fn, fn.Body)

	a0, err := b.Alloca(memref, ttlcerr.Location{})
	require.NoError(t, err)
	a1, err := b.Alloca(memref, ttlcerr.Location{})
	require.NoError(t, err)

	setStackPtr(fn, a0, 0)
	setStackPtr(fn, a1, 16)

	i0 := b.Constant(ir.ConstantValue{Int: 0, IsInt: true}, idx, ttlcerr.Location{})
	_, err = b.Load(a0, []ir.ValueHandle{i0}, ttlcerr.Location{})
	require.NoError(t, err)
	b.LifetimeStop(a0, ttlcerr.Location{})
	return ctx, fn
}

// setStackPtr rewrites the Alloca instruction that produced v's stack_ptr
// field, standing in for transform.SetStackPtr (not imported here to keep
// this package's tests independent of transform, mirroring the original's
// analysis/pass test split).
func setStackPtr(fn *ir.Function, v ir.ValueHandle, ptr int64) {
	ih := fn.Values[v].DefInst
	inst := &fn.Instructions[ih]
	op := inst.Op.(ir.Alloca)
	op.StackPtr = ptr
	inst.Op = op
}

func TestAliasDistinctAllocasDoNotAlias(t *testing.T) {
	ctx, fn := buildTwoAllocas(t)
	r := Alias(ctx, fn)

	a0 := fn.Regions[fn.Body].Insts[0]
	a1 := fn.Regions[fn.Body].Insts[1]
	v0 := fn.Instructions[a0].Results[0]
	v1 := fn.Instructions[a1].Results[0]

	assert.False(t, r.Alias(v0, v1), "expected non-overlapping allocas not to alias")
	assert.True(t, r.Alias(v0, v0), "expected a value to alias itself")

	alloc, ok := r.Allocation(v0)
	require.True(t, ok)
	assert.Equal(t, int64(0), alloc.Start)
	assert.Equal(t, int64(16), alloc.Stop)
}

func TestAliasSubviewSharesRoot(t *testing.T) {
	ctx := ir.NewContext()
	prog := ir.NewProgram(ctx)
	f32 := ctx.ScalarTypeGet(ir.ScalarF32)
	idx := ctx.ScalarTypeGet(ir.ScalarIndex)
	memref, err := ctx.MemrefTypeGet(f32, []int64{8}, ir.CanonicalStride([]int64{8}), ir.AddressGlobal, ttlcerr.Location{})
	require.NoError(t, err)
	fi, params := prog.AddFunction("subview_alias", []ir.TypeHandle{memref})
	fn := &prog.Functions[fi]
	b := ir.NewBuilder(ctx, fn, fn.Body)

	off := b.Constant(ir.ConstantValue{Int: 2, IsInt: true}, idx, ttlcerr.Location{})
	sub, err := b.Subview(params[0], []ir.ValueHandle{off}, nil, []int64{4}, ttlcerr.Location{})
	require.NoError(t, err)

	r := Alias(ctx, fn)
	assert.True(t, r.Alias(params[0], sub), "expected a subview to alias its source memref")
	assert.Equal(t, params[0], r.Root(sub))
}

func TestGCDConstantAndArith(t *testing.T) {
	ctx := ir.NewContext()
	prog := ir.NewProgram(ctx)
	idx := ctx.ScalarTypeGet(ir.ScalarIndex)
	fi, _ := prog.AddFunction("gcd_fn", nil)
	fn := &prog.Functions[fi]
	b := ir.NewBuilder(ctx, fn, fn.Body)

	six := b.Constant(ir.ConstantValue{Int: 6, IsInt: true}, idx, ttlcerr.Location{})
	four := b.Constant(ir.ConstantValue{Int: 4, IsInt: true}, idx, ttlcerr.Location{})
	sum, err := b.Arith(ir.ArithAdd, six, four, ttlcerr.Location{})
	require.NoError(t, err)
	prod, err := b.Arith(ir.ArithMul, six, four, ttlcerr.Location{})
	require.NoError(t, err)

	r := GCD(fn)
	assert.Equal(t, int64(6), r.Get(six))
	assert.Equal(t, int64(2), r.Get(sum), "gcd(6+4) should be 2")
	assert.Equal(t, int64(24), r.Get(prod), "gcd(6*4) should be 24")
}

func TestMemrefDefaultsToCoreAlignment(t *testing.T) {
	ctx := ir.NewContext()
	prog := ir.NewProgram(ctx)
	f32 := ctx.ScalarTypeGet(ir.ScalarF32)
	memref, err := ctx.MemrefTypeGet(f32, []int64{16}, ir.CanonicalStride([]int64{16}), ir.AddressGlobal, ttlcerr.Location{})
	require.NoError(t, err)
	fi, _ := prog.AddFunction("memref_fn", []ir.TypeHandle{memref})
	fn := &prog.Functions[fi]

	r := Memref(ctx, fn, nil, 16)
	info, ok := r.Get(fn.Regions[fn.Body].Params[0])
	require.True(t, ok, "expected memref-info for the memref parameter")
	assert.Equal(t, int64(16), info.Alignment, "core default alignment")
	assert.Equal(t, int64(4), info.ElementSize)
}

func TestStackHighWaterMark(t *testing.T) {
	ctx, fn := buildTwoAllocas(t)
	hwm, err := StackHighWaterMark(ctx, fn)
	require.NoError(t, err)
	assert.Equal(t, int64(32), hwm, "second alloca sits at offset 16 with size 16")
}
