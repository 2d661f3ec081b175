package spirv

import (
	"testing"

	"github.com/gogpu/ttlc/ir"
	"github.com/gogpu/ttlc/ttlcerr"
)

func magicNumberOf(t *testing.T, binary []byte) uint32 {
	t.Helper()
	if len(binary) < 20 {
		t.Fatalf("binary too short: %d bytes", len(binary))
	}
	return uint32(binary[0]) | uint32(binary[1])<<8 | uint32(binary[2])<<16 | uint32(binary[3])<<24
}

func TestCompileEmptyProgram(t *testing.T) {
	ctx := ir.NewContext()
	prog := ir.NewProgram(ctx)

	module, err := NewBackend(ctx, DefaultOptions()).Compile(prog)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if magicNumberOf(t, module.Assemble()) != MagicNumber {
		t.Error("assembled binary does not start with the SPIR-V magic number")
	}
}

func TestCompileScalarArithFunction(t *testing.T) {
	ctx := ir.NewContext()
	prog := ir.NewProgram(ctx)
	f32 := ctx.ScalarTypeGet(ir.ScalarF32)
	fi, params := prog.AddFunction("add_scalars", []ir.TypeHandle{f32, f32})
	fn := &prog.Functions[fi]
	b := ir.NewBuilder(ctx, fn, fn.Body)
	if _, err := b.Arith(ir.ArithAdd, params[0], params[1], ttlcerr.Location{}); err != nil {
		t.Fatalf("Arith: %v", err)
	}

	module, err := NewBackend(ctx, DefaultOptions()).Compile(prog)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	binary := module.Assemble()
	if magicNumberOf(t, binary) != MagicNumber {
		t.Error("assembled binary does not start with the SPIR-V magic number")
	}
}

func TestCompileMemrefLoadStoreFunction(t *testing.T) {
	ctx := ir.NewContext()
	prog := ir.NewProgram(ctx)
	f32 := ctx.ScalarTypeGet(ir.ScalarF32)
	idx := ctx.ScalarTypeGet(ir.ScalarIndex)
	memref, err := ctx.MemrefTypeGet(f32, []int64{16}, ir.CanonicalStride([]int64{16}), ir.AddressGlobal, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("MemrefTypeGet: %v", err)
	}
	fi, params := prog.AddFunction("copy_one", []ir.TypeHandle{memref, memref})
	fn := &prog.Functions[fi]
	b := ir.NewBuilder(ctx, fn, fn.Body)
	i0 := b.Constant(ir.ConstantValue{Int: 0, IsInt: true}, idx, ttlcerr.Location{})
	v, err := b.Load(params[0], []ir.ValueHandle{i0}, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := b.Store(v, params[1], []ir.ValueHandle{i0}, ttlcerr.Location{}); err != nil {
		t.Fatalf("Store: %v", err)
	}

	module, err := NewBackend(ctx, DefaultOptions()).Compile(prog)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if magicNumberOf(t, module.Assemble()) != MagicNumber {
		t.Error("assembled binary does not start with the SPIR-V magic number")
	}
}

func TestCompileForLoopFunction(t *testing.T) {
	ctx := ir.NewContext()
	prog := ir.NewProgram(ctx)
	idx := ctx.ScalarTypeGet(ir.ScalarIndex)
	fi, _ := prog.AddFunction("count_to_four", nil)
	fn := &prog.Functions[fi]
	b := ir.NewBuilder(ctx, fn, fn.Body)

	from := b.Constant(ir.ConstantValue{Int: 0, IsInt: true}, idx, ttlcerr.Location{})
	to := b.Constant(ir.ConstantValue{Int: 4, IsInt: true}, idx, ttlcerr.Location{})
	step := b.Constant(ir.ConstantValue{Int: 1, IsInt: true}, idx, ttlcerr.Location{})
	_, loopBody := b.For(idx, from, to, &step, nil, ttlcerr.Location{})
	bodyB := ir.NewBuilder(ctx, fn, loopBody)
	bodyB.Yield(nil, ttlcerr.Location{})

	module, err := NewBackend(ctx, DefaultOptions()).Compile(prog)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if magicNumberOf(t, module.Assemble()) != MagicNumber {
		t.Error("assembled binary does not start with the SPIR-V magic number")
	}
}

func TestCompileDeclaresCooperativeMatrixCapabilityWhenUsed(t *testing.T) {
	ctx := ir.NewContext()
	prog := ir.NewProgram(ctx)
	bf16 := ctx.ScalarTypeGet(ir.ScalarBF16)
	idx := ctx.ScalarTypeGet(ir.ScalarIndex)
	memref, err := ctx.MemrefTypeGet(bf16, []int64{8, 16}, ir.CanonicalStride([]int64{8, 16}), ir.AddressGlobal, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("MemrefTypeGet: %v", err)
	}
	coopA, err := ctx.CoopmatrixTypeGet(bf16, 8, 16, ir.MatrixUseA, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("CoopmatrixTypeGet: %v", err)
	}
	fi, params := prog.AddFunction("load_tile", []ir.TypeHandle{memref})
	fn := &prog.Functions[fi]
	b := ir.NewBuilder(ctx, fn, fn.Body)
	i0 := b.Constant(ir.ConstantValue{Int: 0, IsInt: true}, idx, ttlcerr.Location{})
	if _, err := b.CoopmatrixLoad(params[0], i0, i0, coopA, false, ttlcerr.Location{}); err != nil {
		t.Fatalf("CoopmatrixLoad: %v", err)
	}

	backend := NewBackend(ctx, DefaultOptions())
	module, err := backend.Compile(prog)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !backend.usesCoopmatrix {
		t.Error("expected scanCapabilities to observe the coopmatrix type and set usesCoopmatrix")
	}
	if magicNumberOf(t, module.Assemble()) != MagicNumber {
		t.Error("assembled binary does not start with the SPIR-V magic number")
	}
}
