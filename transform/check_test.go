package transform

import (
	"testing"

	"github.com/gogpu/ttlc/ir"
	"github.com/gogpu/ttlc/ttlcerr"
)

func TestCheckRejectsCollectiveOpInSPMDRegion(t *testing.T) {
	ctx := ir.NewContext()
	prog := ir.NewProgram(ctx)
	idx := ctx.ScalarTypeGet(ir.ScalarIndex)
	fi, _ := prog.AddFunction("bad_foreach", nil)
	fn := &prog.Functions[fi]
	b := ir.NewBuilder(ctx, fn, fn.Body)

	from := b.Constant(ir.ConstantValue{Int: 0, IsInt: true}, idx, ttlcerr.Location{})
	to := b.Constant(ir.ConstantValue{Int: 4, IsInt: true}, idx, ttlcerr.Location{})
	body := b.Foreach(idx, from, to, ttlcerr.Location{})

	// barrier is collective-only (§4.7 testable property 3) and must not
	// appear inside a foreach's spmd body.
	bodyB := ir.NewBuilder(ctx, fn, body)
	bodyB.Barrier(ir.FenceGlobal, ttlcerr.Location{})

	if err := Check(prog); err == nil {
		t.Fatal("expected Check to reject a collective barrier inside an spmd foreach body")
	}
}

func TestCheckRejectsMismatchedIfYieldTypes(t *testing.T) {
	ctx := ir.NewContext()
	prog := ir.NewProgram(ctx)
	i32 := ctx.ScalarTypeGet(ir.ScalarI32)
	f32 := ctx.ScalarTypeGet(ir.ScalarF32)
	boolTy := ctx.ScalarTypeGet(ir.ScalarBool)
	fi, _ := prog.AddFunction("mismatched_if", nil)
	fn := &prog.Functions[fi]
	b := ir.NewBuilder(ctx, fn, fn.Body)

	cond := b.Constant(ir.ConstantValue{Int: 1, IsInt: true}, boolTy, ttlcerr.Location{})
	_, thenR, elseR := b.If(cond, []ir.TypeHandle{i32}, true, ttlcerr.Location{})

	thenB := ir.NewBuilder(ctx, fn, thenR)
	thenVal := thenB.Constant(ir.ConstantValue{Int: 1, IsInt: true}, i32, ttlcerr.Location{})
	thenB.Yield([]ir.ValueHandle{thenVal}, ttlcerr.Location{})

	elseB := ir.NewBuilder(ctx, fn, elseR)
	elseVal := elseB.Constant(ir.ConstantValue{Float: 1, IsInt: false}, f32, ttlcerr.Location{})
	elseB.Yield([]ir.ValueHandle{elseVal}, ttlcerr.Location{})

	if err := Check(prog); err == nil {
		t.Fatal("expected Check to reject an if whose then/else branches yield mismatched types (i32 vs f32)")
	}
}

func TestCheckAcceptsWellFormedProgram(t *testing.T) {
	ctx := ir.NewContext()
	prog := ir.NewProgram(ctx)
	idx := ctx.ScalarTypeGet(ir.ScalarIndex)
	fi, _ := prog.AddFunction("fine", nil)
	fn := &prog.Functions[fi]
	b := ir.NewBuilder(ctx, fn, fn.Body)
	b.Constant(ir.ConstantValue{Int: 1, IsInt: true}, idx, ttlcerr.Location{})

	if err := Check(prog); err != nil {
		t.Errorf("Check: %v", err)
	}
}
