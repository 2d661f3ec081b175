package transform

import (
	"testing"

	"github.com/gogpu/ttlc/ir"
	"github.com/gogpu/ttlc/ttlcerr"
)

func TestAlignmentPropagationAnnotatesAlignedLoad(t *testing.T) {
	ctx := ir.NewContext()
	prog := ir.NewProgram(ctx)
	f32 := ctx.ScalarTypeGet(ir.ScalarF32)
	idx := ctx.ScalarTypeGet(ir.ScalarIndex)
	memref, err := ctx.MemrefTypeGet(f32, []int64{8}, ir.CanonicalStride([]int64{8}), ir.AddressGlobal, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("MemrefTypeGet: %v", err)
	}
	fi, params := prog.AddFunction("aligned_load", []ir.TypeHandle{memref})
	fn := &prog.Functions[fi]
	b := ir.NewBuilder(ctx, fn, fn.Body)

	i0 := b.Constant(ir.ConstantValue{Int: 0, IsInt: true}, idx, ttlcerr.Location{})
	loadVal, err := b.Load(params[0], []ir.ValueHandle{i0}, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	_ = loadVal

	AlignmentPropagation(ctx, fn, map[int]int32{0: 16})

	loadIh := fn.Regions[fn.Body].Insts[len(fn.Regions[fn.Body].Insts)-1]
	load, ok := fn.Instructions[loadIh].Op.(ir.Load)
	if !ok {
		t.Fatalf("expected last instruction to be the Load, got %T", fn.Instructions[loadIh].Op)
	}
	if load.Align != 16 {
		t.Errorf("Load.Align = %d, want 16 (propagated from the 16-byte-aligned parameter)", load.Align)
	}
}

func TestAlignmentPropagationLeavesUnknownAlignmentAtZero(t *testing.T) {
	ctx := ir.NewContext()
	prog := ir.NewProgram(ctx)
	f32 := ctx.ScalarTypeGet(ir.ScalarF32)
	idx := ctx.ScalarTypeGet(ir.ScalarIndex)
	memref, err := ctx.MemrefTypeGet(f32, []int64{8}, ir.CanonicalStride([]int64{8}), ir.AddressGlobal, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("MemrefTypeGet: %v", err)
	}
	fi, params := prog.AddFunction("unannotated_load", []ir.TypeHandle{memref})
	fn := &prog.Functions[fi]
	b := ir.NewBuilder(ctx, fn, fn.Body)

	i0 := b.Constant(ir.ConstantValue{Int: 0, IsInt: true}, idx, ttlcerr.Location{})
	if _, err := b.Load(params[0], []ir.ValueHandle{i0}, ttlcerr.Location{}); err != nil {
		t.Fatalf("Load: %v", err)
	}

	AlignmentPropagation(ctx, fn, nil)

	loadIh := fn.Regions[fn.Body].Insts[len(fn.Regions[fn.Body].Insts)-1]
	load := fn.Instructions[loadIh].Op.(ir.Load)
	if load.Align != 0 {
		t.Errorf("Load.Align = %d, want 0 (no alignment attribute supplied)", load.Align)
	}
}
