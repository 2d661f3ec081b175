package transform

import (
	"testing"

	"github.com/gogpu/ttlc/ir"
	"github.com/gogpu/ttlc/ttlcerr"
)

// setLoadAlign patches a just-built CoopmatrixLoad's Align field: the
// builder has no alignment parameter (that's alignment-propagation's job),
// so tests that need a block-i/o-eligible load set it directly.
func setLoadAlign(fn *ir.Function, v ir.ValueHandle, align int32) {
	ih := fn.Values[v].DefInst
	load := fn.Instructions[ih].Op.(ir.CoopmatrixLoad)
	load.Align = align
	fn.Instructions[ih].Op = load
}

func buildDPASGemm(t *testing.T) (*ir.Context, *ir.Function, ir.ValueHandle) {
	t.Helper()
	ctx := ir.NewContext()
	prog := ir.NewProgram(ctx)
	bf16 := ctx.ScalarTypeGet(ir.ScalarBF16)
	f32 := ctx.ScalarTypeGet(ir.ScalarF32)
	idx := ctx.ScalarTypeGet(ir.ScalarIndex)

	memrefA, err := ctx.MemrefTypeGet(bf16, []int64{8, 16}, ir.CanonicalStride([]int64{8, 16}), ir.AddressGlobal, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("MemrefTypeGet A: %v", err)
	}
	memrefB, err := ctx.MemrefTypeGet(bf16, []int64{16, 16}, ir.CanonicalStride([]int64{16, 16}), ir.AddressGlobal, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("MemrefTypeGet B: %v", err)
	}
	memrefC, err := ctx.MemrefTypeGet(f32, []int64{8, 16}, ir.CanonicalStride([]int64{8, 16}), ir.AddressGlobal, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("MemrefTypeGet C: %v", err)
	}

	coopA, err := ctx.CoopmatrixTypeGet(bf16, 8, 16, ir.MatrixUseA, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("CoopmatrixTypeGet A: %v", err)
	}
	coopB, err := ctx.CoopmatrixTypeGet(bf16, 16, 16, ir.MatrixUseB, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("CoopmatrixTypeGet B: %v", err)
	}
	coopAcc, err := ctx.CoopmatrixTypeGet(f32, 8, 16, ir.MatrixUseAcc, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("CoopmatrixTypeGet Acc: %v", err)
	}

	fi, params := prog.AddFunction("dpas_gemm", []ir.TypeHandle{memrefA, memrefB, memrefC})
	fn := &prog.Functions[fi]
	b := ir.NewBuilder(ctx, fn, fn.Body)
	i0 := b.Constant(ir.ConstantValue{Int: 0, IsInt: true}, idx, ttlcerr.Location{})

	aMat, err := b.CoopmatrixLoad(params[0], i0, i0, coopA, false, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("CoopmatrixLoad A: %v", err)
	}
	bMat, err := b.CoopmatrixLoad(params[1], i0, i0, coopB, false, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("CoopmatrixLoad B: %v", err)
	}
	accMat, err := b.CoopmatrixLoad(params[2], i0, i0, coopAcc, false, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("CoopmatrixLoad acc: %v", err)
	}
	setLoadAlign(fn, aMat, 8)
	setLoadAlign(fn, bMat, 8)
	setLoadAlign(fn, accMat, 8)

	dMat, err := b.CoopmatrixMulAdd(aMat, bMat, accMat, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("CoopmatrixMulAdd: %v", err)
	}
	if err := b.CoopmatrixStore(ir.CoopStoreRegular, dMat, params[2], i0, i0, ttlcerr.Location{}); err != nil {
		t.Fatalf("CoopmatrixStore: %v", err)
	}
	storeIh := fn.Regions[fn.Body].Insts[len(fn.Regions[fn.Body].Insts)-1]
	store := fn.Instructions[storeIh].Op.(ir.CoopmatrixStore)
	store.Align = 8
	fn.Instructions[storeIh].Op = store

	return ctx, fn, dMat
}

func TestLowerCoopmatrixAcceptsSupportedDPASShape(t *testing.T) {
	ctx, fn, _ := buildDPASGemm(t)

	if err := LowerCoopmatrix(ctx, fn, ir.PVCCoreInfo(), 16); err != nil {
		t.Errorf("LowerCoopmatrix: %v (PVC's subgroup-size-16 table supports bf16xbf16->f32 at MNK{8,16,16})", err)
	}
}

func TestLowerCoopmatrixRejectsUnknownSubgroupSize(t *testing.T) {
	ctx, fn, _ := buildDPASGemm(t)

	if err := LowerCoopmatrix(ctx, fn, ir.PVCCoreInfo(), 8); err == nil {
		t.Fatal("expected an error: PVC's MatrixExtTable has no entry at subgroup_size=8")
	}
}

func TestLowerCoopmatrixRejectsUnsupportedComponentType(t *testing.T) {
	ctx := ir.NewContext()
	prog := ir.NewProgram(ctx)
	i32 := ctx.ScalarTypeGet(ir.ScalarI32)
	idx := ctx.ScalarTypeGet(ir.ScalarIndex)
	memref, err := ctx.MemrefTypeGet(i32, []int64{8, 16}, ir.CanonicalStride([]int64{8, 16}), ir.AddressGlobal, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("MemrefTypeGet: %v", err)
	}
	coopA, err := ctx.CoopmatrixTypeGet(i32, 8, 16, ir.MatrixUseA, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("CoopmatrixTypeGet: %v", err)
	}

	fi, params := prog.AddFunction("unsupported_component", []ir.TypeHandle{memref})
	fn := &prog.Functions[fi]
	b := ir.NewBuilder(ctx, fn, fn.Body)
	i0 := b.Constant(ir.ConstantValue{Int: 0, IsInt: true}, idx, ttlcerr.Location{})
	if _, err := b.CoopmatrixLoad(params[0], i0, i0, coopA, false, ttlcerr.Location{}); err != nil {
		t.Fatalf("CoopmatrixLoad: %v", err)
	}

	err = LowerCoopmatrix(ctx, fn, ir.PVCCoreInfo(), 16)
	if err == nil {
		t.Fatal("expected an error: PVC's matrix extension has no i32 precision entry")
	}
	if ce, ok := err.(*ttlcerr.CompilationError); ok && ce.Status != ttlcerr.StatusIRUnsupportedCoopmatrixShape {
		t.Errorf("Status = %v, want StatusIRUnsupportedCoopmatrixShape", ce.Status)
	}
}

func TestMatrixExtSeedsLoadsAndPropagatesThroughMulAdd(t *testing.T) {
	ctx, fn, dMat := buildDPASGemm(t)
	mext, ok := ir.PVCCoreInfo().MatrixExt(16)
	if !ok {
		t.Fatal("PVCCoreInfo: no matrix extension at subgroup_size=16")
	}

	capability := MatrixExt(ctx, fn, mext)
	if !capability.Have(dMat) {
		t.Error("expected the mul-add result to retain matrix-extension capability through a supported DPAS shape")
	}
}
