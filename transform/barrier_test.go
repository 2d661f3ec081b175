package transform

import (
	"testing"

	"github.com/gogpu/ttlc/ir"
	"github.com/gogpu/ttlc/ttlcerr"
)

func TestInsertBarrierOnStoreThenLoad(t *testing.T) {
	ctx := ir.NewContext()
	prog := ir.NewProgram(ctx)
	f32 := ctx.ScalarTypeGet(ir.ScalarF32)
	idx := ctx.ScalarTypeGet(ir.ScalarIndex)
	memref, err := ctx.MemrefTypeGet(f32, []int64{4}, ir.CanonicalStride([]int64{4}), ir.AddressGlobal, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("MemrefTypeGet: %v", err)
	}

	fi, params := prog.AddFunction("store_then_load", []ir.TypeHandle{memref})
	fn := &prog.Functions[fi]
	b := ir.NewBuilder(ctx, fn, fn.Body)

	i0 := b.Constant(ir.ConstantValue{Int: 0, IsInt: true}, idx, ttlcerr.Location{})
	val := b.Constant(ir.ConstantValue{Float: 1, IsInt: false}, f32, ttlcerr.Location{})
	if err := b.Store(val, params[0], []ir.ValueHandle{i0}, ttlcerr.Location{}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, err := b.Load(params[0], []ir.ValueHandle{i0}, ttlcerr.Location{}); err != nil {
		t.Fatalf("Load: %v", err)
	}

	InsertBarrier(ctx, fn)

	var sawStore, sawBarrier, sawLoad bool
	var storeIdx, barrierIdx, loadIdx int
	for i, ih := range fn.Regions[fn.Body].Insts {
		switch op := fn.Instructions[ih].Op.(type) {
		case ir.Store:
			sawStore, storeIdx = true, i
		case ir.Barrier:
			if op.Flags&ir.FenceGlobal == 0 {
				t.Errorf("expected the inserted barrier to fence the global address space, got flags %v", op.Flags)
			}
			sawBarrier, barrierIdx = true, i
		case ir.Load:
			sawLoad, loadIdx = true, i
		}
	}
	if !sawStore || !sawBarrier || !sawLoad {
		t.Fatalf("expected store, barrier, load in sequence; got store=%v barrier=%v load=%v", sawStore, sawBarrier, sawLoad)
	}
	if !(storeIdx < barrierIdx && barrierIdx < loadIdx) {
		t.Errorf("expected order store(%d) < barrier(%d) < load(%d)", storeIdx, barrierIdx, loadIdx)
	}
}

func TestInsertBarrierSkipsDisjointAccesses(t *testing.T) {
	ctx := ir.NewContext()
	prog := ir.NewProgram(ctx)
	f32 := ctx.ScalarTypeGet(ir.ScalarF32)
	idx := ctx.ScalarTypeGet(ir.ScalarIndex)
	memrefA, err := ctx.MemrefTypeGet(f32, []int64{4}, ir.CanonicalStride([]int64{4}), ir.AddressGlobal, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("MemrefTypeGet: %v", err)
	}
	memrefB, err := ctx.MemrefTypeGet(f32, []int64{4}, ir.CanonicalStride([]int64{4}), ir.AddressGlobal, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("MemrefTypeGet: %v", err)
	}

	fi, params := prog.AddFunction("disjoint", []ir.TypeHandle{memrefA, memrefB})
	fn := &prog.Functions[fi]
	b := ir.NewBuilder(ctx, fn, fn.Body)

	i0 := b.Constant(ir.ConstantValue{Int: 0, IsInt: true}, idx, ttlcerr.Location{})
	val := b.Constant(ir.ConstantValue{Float: 1, IsInt: false}, f32, ttlcerr.Location{})
	if err := b.Store(val, params[0], []ir.ValueHandle{i0}, ttlcerr.Location{}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	if _, err := b.Load(params[1], []ir.ValueHandle{i0}, ttlcerr.Location{}); err != nil {
		t.Fatalf("Load: %v", err)
	}

	InsertBarrier(ctx, fn)

	for _, ih := range fn.Regions[fn.Body].Insts {
		if _, ok := fn.Instructions[ih].Op.(ir.Barrier); ok {
			t.Fatal("did not expect a barrier between accesses to two distinct parameters")
		}
	}
}
