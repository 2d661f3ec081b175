package transform

import (
	"testing"

	"github.com/gogpu/ttlc/ir"
	"github.com/gogpu/ttlc/ttlcerr"
)

// buildAllocaThenLoad builds a function with one local f32[4] alloca
// loaded from once, nothing else touching it afterward, so
// InsertLifetimeStop has exactly one place to splice a LifetimeStop.
func buildAllocaThenLoad(t *testing.T) (*ir.Context, *ir.Function) {
	t.Helper()
	ctx := ir.NewContext()
	prog := ir.NewProgram(ctx)
	f32 := ctx.ScalarTypeGet(ir.ScalarF32)
	idx := ctx.ScalarTypeGet(ir.ScalarIndex)
	memref, err := ctx.MemrefTypeGet(f32, []int64{4}, ir.CanonicalStride([]int64{4}), ir.AddressLocal, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("MemrefTypeGet: %v", err)
	}

	fi, _ := prog.AddFunction("alloca_load", nil)
	fn := &prog.Functions[fi]
	b := ir.NewBuilder(ctx, fn, fn.Body)

	av, err := b.Alloca(memref, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("Alloca: %v", err)
	}
	i0 := b.Constant(ir.ConstantValue{Int: 0, IsInt: true}, idx, ttlcerr.Location{})
	if _, err := b.Load(av, []ir.ValueHandle{i0}, ttlcerr.Location{}); err != nil {
		t.Fatalf("Load: %v", err)
	}
	return ctx, fn
}

func TestInsertLifetimeStopSplicesAfterLastUse(t *testing.T) {
	ctx, fn := buildAllocaThenLoad(t)
	InsertLifetimeStop(ctx, fn)

	var sawLifetimeStop, sawLoad bool
	var lifetimeIdx, loadIdx int
	for i, ih := range fn.Regions[fn.Body].Insts {
		switch fn.Instructions[ih].Op.(type) {
		case ir.LifetimeStop:
			sawLifetimeStop = true
			lifetimeIdx = i
		case ir.Load:
			sawLoad = true
			loadIdx = i
		}
	}
	if !sawLifetimeStop {
		t.Fatal("expected a LifetimeStop instruction to be inserted")
	}
	if !sawLoad {
		t.Fatal("expected the original Load to survive")
	}
	if lifetimeIdx <= loadIdx {
		t.Errorf("LifetimeStop at %d, want it after the Load at %d", lifetimeIdx, loadIdx)
	}
}
