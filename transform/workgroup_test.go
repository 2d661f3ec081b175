package transform

import (
	"testing"

	"github.com/gogpu/ttlc/ir"
	"github.com/gogpu/ttlc/ttlcerr"
)

func withSizes(t *testing.T, ctx *ir.Context, fn *ir.Function, subgroupSize, wgs0, wgs1 int64) {
	t.Helper()
	h, err := ctx.DictAttrGet([]ir.DictEntry{
		{Key: ir.AttrKeySubgroupSize, Value: ctx.IntAttrGet(subgroupSize)},
		{Key: ir.AttrKeyWorkGroupSize, Value: ctx.ArrayAttrGet([]ir.AttrHandle{
			ctx.IntAttrGet(wgs0), ctx.IntAttrGet(wgs1),
		})},
	}, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("DictAttrGet: %v", err)
	}
	fn.Attrs = h
}

func TestInferWorkGroupSizeAcceptsExplicitValidSizes(t *testing.T) {
	ctx := ir.NewContext()
	prog := ir.NewProgram(ctx)
	fi, _ := prog.AddFunction("explicit_sizes", nil)
	fn := &prog.Functions[fi]
	withSizes(t, ctx, fn, 16, 32, 1)

	if err := InferWorkGroupSize(ctx, fn, ir.PVCCoreInfo()); err != nil {
		t.Fatalf("InferWorkGroupSize: %v", err)
	}
	sgs, wgs, err := readSizes(ctx, fn)
	if err != nil {
		t.Fatalf("readSizes: %v", err)
	}
	if sgs != 16 || wgs != [2]int32{32, 1} {
		t.Errorf("got subgroup_size=%d work_group_size=%v, want 16 [32 1] (explicit values preserved)", sgs, wgs)
	}
}

func TestInferWorkGroupSizeRejectsIndivisibleWorkGroupSize(t *testing.T) {
	ctx := ir.NewContext()
	prog := ir.NewProgram(ctx)
	fi, _ := prog.AddFunction("bad_divisibility", nil)
	fn := &prog.Functions[fi]
	withSizes(t, ctx, fn, 16, 17, 1)

	if err := InferWorkGroupSize(ctx, fn, ir.PVCCoreInfo()); err == nil {
		t.Fatal("expected an error: work_group_size[0]=17 is not divisible by subgroup_size=16")
	}
}

func TestInferWorkGroupSizeRejectsUnsupportedSubgroupSize(t *testing.T) {
	ctx := ir.NewContext()
	prog := ir.NewProgram(ctx)
	fi, _ := prog.AddFunction("bad_subgroup_size", nil)
	fn := &prog.Functions[fi]
	withSizes(t, ctx, fn, 7, 7, 1)

	if err := InferWorkGroupSize(ctx, fn, ir.PVCCoreInfo()); err == nil {
		t.Fatal("expected an error: PVC does not support subgroup_size=7")
	}
}

func TestInferWorkGroupSizeRejectsOverLimitWorkGroupSize(t *testing.T) {
	ctx := ir.NewContext()
	prog := ir.NewProgram(ctx)
	fi, _ := prog.AddFunction("over_limit", nil)
	fn := &prog.Functions[fi]
	withSizes(t, ctx, fn, 16, 1040, 1)

	if err := InferWorkGroupSize(ctx, fn, ir.PVCCoreInfo()); err == nil {
		t.Fatal("expected an error: 1040 exceeds PVC's 1024 MaxWorkGroupSize at subgroup_size=16")
	}
}

func TestInferWorkGroupSizeFillsUnsetSizes(t *testing.T) {
	ctx := ir.NewContext()
	prog := ir.NewProgram(ctx)
	f32 := ctx.ScalarTypeGet(ir.ScalarF32)
	memref, err := ctx.MemrefTypeGet(f32, []int64{64, 64}, ir.CanonicalStride([]int64{64, 64}), ir.AddressGlobal, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("MemrefTypeGet: %v", err)
	}
	fi, params := prog.AddFunction("gemm_shape", []ir.TypeHandle{memref, memref, memref})
	fn := &prog.Functions[fi]
	b := ir.NewBuilder(ctx, fn, fn.Body)
	one := b.Constant(ir.ConstantValue{Float: 1, IsInt: false}, f32, ttlcerr.Location{})
	if err := b.Gemm(ir.NoTrans, ir.NoTrans, one, params[0], params[1], one, params[2], false, ttlcerr.Location{}); err != nil {
		t.Fatalf("Gemm: %v", err)
	}

	if err := InferWorkGroupSize(ctx, fn, ir.PVCCoreInfo()); err != nil {
		t.Fatalf("InferWorkGroupSize: %v", err)
	}
	sgs, wgs, err := readSizes(ctx, fn)
	if err != nil {
		t.Fatalf("readSizes: %v", err)
	}
	if sgs == 0 || wgs[0] == 0 || wgs[1] == 0 {
		t.Errorf("expected InferWorkGroupSize to fill in unset sizes from the GEMM shape, got subgroup_size=%d work_group_size=%v", sgs, wgs)
	}
}
