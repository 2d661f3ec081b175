package ir

import (
	"testing"

	"github.com/gogpu/ttlc/ttlcerr"
)

// buildAddTwo builds a function with two f32 memref parameters, y[0] =
// x[0] + x[1], returning the program and the function index.
func buildAddTwo(t *testing.T) (*Program, int) {
	t.Helper()
	ctx := NewContext()
	prog := NewProgram(ctx)

	f32 := ctx.ScalarTypeGet(ScalarF32)
	idx := ctx.ScalarTypeGet(ScalarIndex)
	memref, err := ctx.MemrefTypeGet(f32, []int64{2}, CanonicalStride([]int64{2}), AddressGlobal, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("MemrefTypeGet: %v", err)
	}

	fi, params := prog.AddFunction("add_two", []TypeHandle{memref, memref})
	fn := &prog.Functions[fi]
	b := NewBuilder(ctx, fn, fn.Body)

	i0 := b.Constant(ConstantValue{Int: 0, IsInt: true}, idx, ttlcerr.Location{})
	i1 := b.Constant(ConstantValue{Int: 1, IsInt: true}, idx, ttlcerr.Location{})

	x0, err := b.Load(params[0], []ValueHandle{i0}, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("Load x0: %v", err)
	}
	x1, err := b.Load(params[0], []ValueHandle{i1}, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("Load x1: %v", err)
	}
	sum, err := b.Arith(ArithAdd, x0, x1, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("Arith: %v", err)
	}
	if err := b.Store(sum, params[1], []ValueHandle{i0}, ttlcerr.Location{}); err != nil {
		t.Fatalf("Store: %v", err)
	}
	return prog, fi
}

func TestBuilderAddTwoChecks(t *testing.T) {
	prog, fi := buildAddTwo(t)
	fn := &prog.Functions[fi]

	if len(fn.Instructions) == 0 {
		t.Fatal("expected instructions to be appended")
	}
	if err := Check(prog); err != nil {
		t.Fatalf("Check: %v", err)
	}
}

func TestBuilderArithRejectsTypeMismatch(t *testing.T) {
	ctx := NewContext()
	prog := NewProgram(ctx)
	f32 := ctx.ScalarTypeGet(ScalarF32)
	i32 := ctx.ScalarTypeGet(ScalarI32)

	fi, params := prog.AddFunction("mismatch", []TypeHandle{f32, i32})
	fn := &prog.Functions[fi]
	b := NewBuilder(ctx, fn, fn.Body)

	if _, err := b.Arith(ArithAdd, params[0], params[1], ttlcerr.Location{}); err == nil {
		t.Fatal("expected Arith to reject operands of different scalar kind")
	}
}

func TestBuilderIfYieldArity(t *testing.T) {
	ctx := NewContext()
	prog := NewProgram(ctx)
	boolTy := ctx.BoolType()
	f32 := ctx.ScalarTypeGet(ScalarF32)

	fi, params := prog.AddFunction("select_one", []TypeHandle{boolTy, f32})
	fn := &prog.Functions[fi]
	b := NewBuilder(ctx, fn, fn.Body)

	results, thenR, elseR := b.If(params[0], []TypeHandle{f32}, true, ttlcerr.Location{})
	if len(results) != 1 {
		t.Fatalf("expected 1 if-result, got %d", len(results))
	}

	thenB := NewBuilder(ctx, fn, thenR)
	thenB.Yield([]ValueHandle{params[1]}, ttlcerr.Location{})
	elseB := NewBuilder(ctx, fn, elseR)
	elseB.Yield([]ValueHandle{params[1]}, ttlcerr.Location{})

	if err := Check(prog); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if err := CheckYieldArity(fn); err != nil {
		t.Fatalf("CheckYieldArity: %v", err)
	}
}

func TestBuilderForLoopCarriesIterArg(t *testing.T) {
	ctx := NewContext()
	prog := NewProgram(ctx)
	idx := ctx.ScalarTypeGet(ScalarIndex)
	f32 := ctx.ScalarTypeGet(ScalarF32)

	fi, _ := prog.AddFunction("accumulate", nil)
	fn := &prog.Functions[fi]
	b := NewBuilder(ctx, fn, fn.Body)

	from := b.Constant(ConstantValue{Int: 0, IsInt: true}, idx, ttlcerr.Location{})
	to := b.Constant(ConstantValue{Int: 8, IsInt: true}, idx, ttlcerr.Location{})
	zero := b.Constant(ConstantValue{Float: 0, IsInt: false}, f32, ttlcerr.Location{})

	results, body := b.For(idx, from, to, nil, []ValueHandle{zero}, ttlcerr.Location{})
	if len(results) != 1 {
		t.Fatalf("expected 1 loop-carried result, got %d", len(results))
	}

	bodyB := NewBuilder(ctx, fn, body)
	acc := fn.Regions[body].Params[1]
	one := bodyB.Constant(ConstantValue{Float: 1, IsInt: false}, f32, ttlcerr.Location{})
	next, err := bodyB.Arith(ArithAdd, acc, one, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("Arith: %v", err)
	}
	bodyB.Yield([]ValueHandle{next}, ttlcerr.Location{})

	if err := Check(prog); err != nil {
		t.Fatalf("Check: %v", err)
	}
	if err := CheckYieldArity(fn); err != nil {
		t.Fatalf("CheckYieldArity: %v", err)
	}
}
