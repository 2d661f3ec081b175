package transform

import (
	"testing"

	"github.com/gogpu/ttlc/ir"
	"github.com/gogpu/ttlc/ttlcerr"
)

func TestLowerLinalgReplacesAxpbyWithParallel(t *testing.T) {
	ctx := ir.NewContext()
	prog := ir.NewProgram(ctx)
	f32 := ctx.ScalarTypeGet(ir.ScalarF32)
	memref, err := ctx.MemrefTypeGet(f32, []int64{16}, ir.CanonicalStride([]int64{16}), ir.AddressGlobal, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("MemrefTypeGet: %v", err)
	}
	fi, params := prog.AddFunction("axpby_fn", []ir.TypeHandle{memref, memref})
	fn := &prog.Functions[fi]
	b := ir.NewBuilder(ctx, fn, fn.Body)

	alpha := b.Constant(ir.ConstantValue{Float: 2, IsInt: false}, f32, ttlcerr.Location{})
	beta := b.Constant(ir.ConstantValue{Float: 1, IsInt: false}, f32, ttlcerr.Location{})
	if err := b.Axpby(ir.NoTrans, alpha, params[0], beta, params[1], false, ttlcerr.Location{}); err != nil {
		t.Fatalf("Axpby: %v", err)
	}

	if err := LowerLinalg(ctx, fn); err != nil {
		t.Fatalf("LowerLinalg: %v", err)
	}

	var sawParallel, sawAxpby bool
	for _, ih := range fn.Regions[fn.Body].Insts {
		switch fn.Instructions[ih].Op.(type) {
		case ir.Parallel:
			sawParallel = true
		case ir.Axpby:
			sawAxpby = true
		}
	}
	if sawAxpby {
		t.Error("expected lower-linalg to remove the Axpby instruction")
	}
	if !sawParallel {
		t.Error("expected lower-linalg to introduce a Parallel instruction realizing the axpby loop")
	}
	if err := ir.Check(prog); err != nil {
		t.Errorf("Check after LowerLinalg: %v", err)
	}
}

// TestLowerGemmIndexesBWithContractionDimFirst builds a non-square gemm
// (M=2, K=3, N=4, so a transposed B index would read out of bounds or
// the wrong element) and walks the lowered loop nest to confirm the
// load from B uses [k, j] in that order, not [j, k].
func TestLowerGemmIndexesBWithContractionDimFirst(t *testing.T) {
	ctx := ir.NewContext()
	prog := ir.NewProgram(ctx)
	f32 := ctx.ScalarTypeGet(ir.ScalarF32)
	aTy, err := ctx.MemrefTypeGet(f32, []int64{2, 3}, ir.CanonicalStride([]int64{2, 3}), ir.AddressGlobal, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("MemrefTypeGet(a): %v", err)
	}
	bTy, err := ctx.MemrefTypeGet(f32, []int64{3, 4}, ir.CanonicalStride([]int64{3, 4}), ir.AddressGlobal, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("MemrefTypeGet(b): %v", err)
	}
	cTy, err := ctx.MemrefTypeGet(f32, []int64{2, 4}, ir.CanonicalStride([]int64{2, 4}), ir.AddressGlobal, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("MemrefTypeGet(c): %v", err)
	}
	fi, params := prog.AddFunction("gemm_fn", []ir.TypeHandle{aTy, bTy, cTy})
	fn := &prog.Functions[fi]
	b := ir.NewBuilder(ctx, fn, fn.Body)

	alpha := b.Constant(ir.ConstantValue{Float: 1, IsInt: false}, f32, ttlcerr.Location{})
	beta := b.Constant(ir.ConstantValue{Float: 1, IsInt: false}, f32, ttlcerr.Location{})
	if err := b.Gemm(ir.NoTrans, ir.NoTrans, alpha, params[0], params[1], beta, params[2], false, ttlcerr.Location{}); err != nil {
		t.Fatalf("Gemm: %v", err)
	}

	if err := LowerLinalg(ctx, fn); err != nil {
		t.Fatalf("LowerLinalg: %v", err)
	}

	bParam := params[1]

	// The Parallel takes the gemm's position, after the alpha/beta constants.
	parallelIH := fn.Regions[fn.Body].Insts[2]
	parallelInst := fn.Instructions[parallelIH]
	if _, ok := parallelInst.Op.(ir.Parallel); !ok {
		t.Fatalf("expected the gemm to be replaced with a Parallel, got %T", parallelInst.Op)
	}
	rI := parallelInst.Regions[0]

	foreachIH, ok := findInst(fn, rI, func(op ir.Instruction) bool {
		_, ok := op.Op.(ir.Foreach)
		return ok
	})
	if !ok {
		t.Fatal("expected an outer Foreach over C's rows")
	}
	rJOuter := fn.Instructions[foreachIH].Regions[0]

	foreachJH, ok := findInst(fn, rJOuter, func(op ir.Instruction) bool {
		_, ok := op.Op.(ir.Foreach)
		return ok
	})
	if !ok {
		t.Fatal("expected an inner Foreach over C's columns")
	}
	rJ := fn.Instructions[foreachJH].Regions[0]
	jParam := fn.Regions[rJ].Params[0]

	forKH, ok := findInst(fn, rJ, func(op ir.Instruction) bool {
		_, ok := op.Op.(ir.For)
		return ok
	})
	if !ok {
		t.Fatal("expected a For loop reducing over the contraction dimension k")
	}
	rK := fn.Instructions[forKH].Regions[0]
	kParam := fn.Regions[rK].Params[0]

	loadH, ok := findInst(fn, rK, func(inst ir.Instruction) bool {
		l, ok := inst.Op.(ir.Load)
		return ok && len(inst.Operands) == int(l.NumIndices)+1 && inst.Operands[0] == bParam
	})
	if !ok {
		t.Fatal("expected a Load reading from B inside the k-reduction loop")
	}
	load := fn.Instructions[loadH]
	if got := load.Operands[1:]; len(got) != 2 || got[0] != kParam || got[1] != jParam {
		t.Errorf("B load operands = %v, want [k=%v, j=%v] (contraction dim first)", got, kParam, jParam)
	}
}

// findInst searches region rh's direct instructions for one matching pred.
func findInst(fn *ir.Function, rh ir.RegionHandle, pred func(ir.Instruction) bool) (ir.InstHandle, bool) {
	for _, ih := range fn.Regions[rh].Insts {
		if pred(fn.Instructions[ih]) {
			return ih, true
		}
	}
	return 0, false
}
