package compiler

import (
	"strings"
	"testing"

	"github.com/gogpu/ttlc/ir"
	"github.com/gogpu/ttlc/ttlcerr"
)

func buildAxpbyProgram(t *testing.T) *ir.Program {
	t.Helper()
	ctx := ir.NewContext()
	prog := ir.NewProgram(ctx)
	f32 := ctx.ScalarTypeGet(ir.ScalarF32)
	memref, err := ctx.MemrefTypeGet(f32, []int64{64}, ir.CanonicalStride([]int64{64}), ir.AddressGlobal, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("MemrefTypeGet: %v", err)
	}
	fi, params := prog.AddFunction("axpby_kernel", []ir.TypeHandle{memref, memref})
	fn := &prog.Functions[fi]
	b := ir.NewBuilder(ctx, fn, fn.Body)
	alpha := b.Constant(ir.ConstantValue{Float: 2, IsInt: false}, f32, ttlcerr.Location{})
	beta := b.Constant(ir.ConstantValue{Float: 1, IsInt: false}, f32, ttlcerr.Location{})
	if err := b.Axpby(ir.NoTrans, alpha, params[0], beta, params[1], false, ttlcerr.Location{}); err != nil {
		t.Fatalf("Axpby: %v", err)
	}
	return prog
}

func TestCompileToSPIRVAndAssembleEndToEnd(t *testing.T) {
	prog := buildAxpbyProgram(t)

	binary, err := CompileToSPIRVAndAssemble(prog, DefaultOptions())
	if err != nil {
		t.Fatalf("CompileToSPIRVAndAssemble: %v", err)
	}
	if len(binary) < 20 {
		t.Fatalf("binary too short: %d bytes", len(binary))
	}
	magic := uint32(binary[0]) | uint32(binary[1])<<8 | uint32(binary[2])<<16 | uint32(binary[3])<<24
	const spirvMagicNumber = 0x07230203
	if magic != spirvMagicNumber {
		t.Errorf("invalid SPIR-V magic number: got 0x%08x, want 0x%08x", magic, spirvMagicNumber)
	}
}

func TestCompileToSPIRVRunsFixedPipelineStages(t *testing.T) {
	prog := buildAxpbyProgram(t)
	fn := &prog.Functions[0]

	if _, err := CompileToSPIRV(prog, DefaultOptions()); err != nil {
		t.Fatalf("CompileToSPIRV: %v", err)
	}

	var sawAxpby, sawParallel, sawLifetimeStop bool
	for _, ih := range fn.Regions[fn.Body].Insts {
		switch fn.Instructions[ih].Op.(type) {
		case ir.Axpby:
			sawAxpby = true
		case ir.Parallel:
			sawParallel = true
		case ir.LifetimeStop:
			sawLifetimeStop = true
		}
	}
	if sawAxpby {
		t.Error("expected lower-linalg to have removed the Axpby instruction")
	}
	if !sawParallel {
		t.Error("expected lower-linalg to have introduced a Parallel loop nest")
	}
	_ = sawLifetimeStop // axpby_kernel allocates no locals, so no lifetime_stop is expected either way

	sgs, wgs, err := readSizesForTest(prog.Ctx, fn)
	if err != nil {
		t.Fatalf("reading work_group_size: %v", err)
	}
	if sgs == 0 || wgs[0] == 0 {
		t.Error("expected work-group-size to have filled in subgroup_size/work_group_size")
	}
}

func TestListFunctionPassesIncludesPipelineAndDumpPasses(t *testing.T) {
	names := ListFunctionPasses()
	want := []string{"insert-lifetime-stop", "set-stack-ptr", "lower-coopmatrix", "lower-linalg",
		"work-group-size", "alignment-propagation", "insert-barrier",
		"dump-gcd", "dump-memref", "dump-alias", "dump-stack"}
	if len(names) != len(want) {
		t.Fatalf("ListFunctionPasses() = %v, want %v", names, want)
	}
	for i, n := range want {
		if names[i] != n {
			t.Errorf("ListFunctionPasses()[%d] = %q, want %q", i, names[i], n)
		}
	}
}

func TestRunFunctionPassDumpGCD(t *testing.T) {
	ctx := ir.NewContext()
	prog := ir.NewProgram(ctx)
	idx := ctx.ScalarTypeGet(ir.ScalarIndex)
	fi, _ := prog.AddFunction("gcd_fixture", nil)
	fn := &prog.Functions[fi]
	b := ir.NewBuilder(ctx, fn, fn.Body)
	b.Constant(ir.ConstantValue{Int: 8, IsInt: true}, idx, ttlcerr.Location{})

	out, err := RunFunctionPass(ctx, fn, "dump-gcd", DefaultOptions())
	if err != nil {
		t.Fatalf("RunFunctionPass(dump-gcd): %v", err)
	}
	if !strings.Contains(out, "gcd=8") {
		t.Errorf("dump-gcd output = %q, want it to mention gcd=8", out)
	}
}

func TestRunFunctionPassUnknownNameErrors(t *testing.T) {
	ctx := ir.NewContext()
	prog := ir.NewProgram(ctx)
	fi, _ := prog.AddFunction("empty", nil)
	fn := &prog.Functions[fi]

	if _, err := RunFunctionPass(ctx, fn, "not-a-real-pass", DefaultOptions()); err == nil {
		t.Fatal("expected an error for an unknown pass name")
	}
}

func readSizesForTest(ctx *ir.Context, fn *ir.Function) (int32, [2]int32, error) {
	dict, ok := ctx.Attr(fn.Attrs).Kind.(ir.DictAttr)
	if !ok {
		return 0, [2]int32{}, nil
	}
	var sgs int32
	if v, ok := ir.Find(dict, ir.AttrKeySubgroupSize); ok {
		if a, ok := ctx.Attr(v).Kind.(ir.IntAttr); ok {
			sgs = int32(a.Value)
		}
	}
	var wgs [2]int32
	if v, ok := ir.Find(dict, ir.AttrKeyWorkGroupSize); ok {
		if a, ok := ctx.Attr(v).Kind.(ir.ArrayAttr); ok && len(a.Elements) == 2 {
			for i, e := range a.Elements {
				if iv, ok := ctx.Attr(e).Kind.(ir.IntAttr); ok {
					wgs[i] = int32(iv.Value)
				}
			}
		}
	}
	return sgs, wgs, nil
}
