// Package compiler wires the C7 transform passes and the C8-C10 SPIR-V
// backend into the fixed compilation pipeline of §4.10, the Go analogue
// of naga.go's Compile/CompileWithOptions entry points. Unlike naga
// (whose pipeline runs once per module for a single target), this
// backend's every pass operates per-function (§4.7: "each C7 pass runs
// once per function, in program order"), so the driver loops the fixed
// stage order over prog.Functions before handing the whole program to
// the SPIR-V backend.
package compiler

import (
	"errors"
	"fmt"

	"github.com/gogpu/ttlc/ir"
	"github.com/gogpu/ttlc/spirv"
	"github.com/gogpu/ttlc/transform"
	"github.com/gogpu/ttlc/ttlcerr"
)

// Options configures a compilation run: the target device's capability
// table and the SPIR-V serialization options, mirroring naga's
// CompileOptions split between semantic knobs (Validate, Debug) and the
// output-format Options struct it forwards to the backend unchanged.
type Options struct {
	// Core describes the target device; PVCCoreInfo() is a sensible
	// default for Intel Xe-HPC.
	Core *ir.CoreInfo

	// SPIRV controls the emitted module's version and addressing width.
	SPIRV spirv.Options
}

// DefaultOptions targets ir.PVCCoreInfo() with spirv.DefaultOptions().
func DefaultOptions() Options {
	return Options{Core: ir.PVCCoreInfo(), SPIRV: spirv.DefaultOptions()}
}

// stage is one named, per-function pipeline step. Naming every stage
// (rather than inlining the pipeline as one long function body) is what
// lets ListFunctionPasses/RunFunctionPass (§6, SPEC_FULL §10.2) run any
// single stage by name for debugging without duplicating its order.
type stage struct {
	name string
	run  func(ctx *ir.Context, fn *ir.Function, opts Options) error
}

// pipeline is the fixed C7/C8 stage order (§4.10): insert-lifetime-stop,
// set-stack-ptr, lower-coopmatrix, lower-linalg, work-group-size,
// alignment-propagation, insert-barrier, then codegen (handled
// separately by CompileToSPIRV once every function has been transformed,
// since SPIR-V generation is whole-program, not per-function). Grounded
// on naga.go's CompileWithOptions stage comment listing each step in
// execution order.
var pipeline = []stage{
	{"insert-lifetime-stop", func(ctx *ir.Context, fn *ir.Function, _ Options) error {
		transform.InsertLifetimeStop(ctx, fn)
		return nil
	}},
	{"set-stack-ptr", func(ctx *ir.Context, fn *ir.Function, _ Options) error {
		return transform.SetStackPtr(ctx, fn)
	}},
	{"lower-coopmatrix", func(ctx *ir.Context, fn *ir.Function, opts Options) error {
		if !usesCoopmatrix(ctx, fn) {
			return nil
		}
		subgroupSize, _, err := currentSubgroupSize(ctx, fn)
		if err != nil {
			return err
		}
		if subgroupSize == 0 {
			subgroupSize = defaultMatrixExtSubgroupSize(opts.Core)
		}
		return transform.LowerCoopmatrix(ctx, fn, opts.Core, subgroupSize)
	}},
	{"lower-linalg", func(ctx *ir.Context, fn *ir.Function, _ Options) error {
		return transform.LowerLinalg(ctx, fn)
	}},
	{"work-group-size", func(ctx *ir.Context, fn *ir.Function, opts Options) error {
		return transform.InferWorkGroupSize(ctx, fn, opts.Core)
	}},
	{"alignment-propagation", func(ctx *ir.Context, fn *ir.Function, _ Options) error {
		transform.AlignmentPropagation(ctx, fn, nil)
		return nil
	}},
	{"insert-barrier", func(ctx *ir.Context, fn *ir.Function, _ Options) error {
		transform.InsertBarrier(ctx, fn)
		return nil
	}},
}

// usesCoopmatrix reports whether any value in fn has a coopmatrix type,
// so lower-coopmatrix (and the subgroup-size lookup it needs) can be
// skipped entirely for kernels that never touch the matrix extension —
// InferWorkGroupSize has not run yet at this point in the fixed order,
// so no function-level subgroup_size may exist yet either.
func usesCoopmatrix(ctx *ir.Context, fn *ir.Function) bool {
	for _, v := range fn.Values {
		if _, ok := ctx.Type(v.Type).Inner.(ir.CoopmatrixType); ok {
			return true
		}
	}
	return false
}

// currentSubgroupSize reads whatever subgroup_size attribute fn already
// carries (e.g. an explicit author annotation), returning 0 if absent.
// Duplicated in spirv/codegen.go's readWorkGroupAttrs for the same
// reason: the two packages cannot share an unexported helper.
func currentSubgroupSize(ctx *ir.Context, fn *ir.Function) (int32, bool, error) {
	dict, ok := ctx.Attr(fn.Attrs).Kind.(ir.DictAttr)
	if !ok {
		return 0, false, nil
	}
	v, ok := ir.Find(dict, ir.AttrKeySubgroupSize)
	if !ok {
		return 0, false, nil
	}
	a, ok := ctx.Attr(v).Kind.(ir.IntAttr)
	if !ok {
		return 0, false, nil
	}
	return int32(a.Value), true, nil
}

// defaultMatrixExtSubgroupSize picks a subgroup size for matrix-ext
// capability analysis when the author left subgroup_size unset: the
// smallest size the device actually has a matrix-extension table for,
// since work-group-size inference (which runs later in the fixed order)
// is always free to widen it afterward and lower-coopmatrix only needs
// an answer to "which coopmatrix values can use the hardware path",
// which this device's smallest supported size always has an opinion on
// if it has one at all.
func defaultMatrixExtSubgroupSize(core *ir.CoreInfo) int32 {
	best := int32(0)
	for sgs := range core.MatrixExtTable {
		if best == 0 || sgs < best {
			best = sgs
		}
	}
	return best
}

// runPipeline runs every stage of pipeline, in order, over every
// function of prog, stopping at the first error.
func runPipeline(prog *ir.Program, opts Options) error {
	for i := range prog.Functions {
		fn := &prog.Functions[i]
		for _, st := range pipeline {
			if err := st.run(prog.Ctx, fn, opts); err != nil {
				return fmt.Errorf("%s: function %q: %w", st.name, fn.Name, err)
			}
		}
	}
	return nil
}

// CompileToSPIRV runs the fixed C7 transform pipeline over every
// function of prog and lowers the result into an open SPIR-V
// ModuleBuilder (C8-C9), stopping before serialization so callers that
// want to inspect or further decorate the module (debug tooling, a
// disassembler) can do so before paying for Assemble. Grounded on
// naga.go's CompileWithOptions, split at the same point naga.go splits
// Compile/GenerateSPIRV. The first CompilationError that stops the run is
// also passed to prog.Ctx.ReportError before it is returned.
func CompileToSPIRV(prog *ir.Program, opts Options) (module *spirv.ModuleBuilder, err error) {
	defer func() {
		var ce *ttlcerr.CompilationError
		if errors.As(err, &ce) {
			prog.Ctx.ReportError(ce)
		}
	}()
	if err := transform.Check(prog); err != nil {
		return nil, fmt.Errorf("check: %w", err)
	}
	if err := runPipeline(prog, opts); err != nil {
		return nil, err
	}
	backend := spirv.NewBackend(prog.Ctx, opts.SPIRV)
	module, err = backend.Compile(prog)
	if err != nil {
		return nil, fmt.Errorf("codegen: %w", err)
	}
	return module, nil
}

// CompileToSPIRVAndAssemble runs CompileToSPIRV and serializes the
// result to its binary word stream (C10), the one-call entry point
// analogous to naga.Compile.
func CompileToSPIRVAndAssemble(prog *ir.Program, opts Options) ([]byte, error) {
	module, err := CompileToSPIRV(prog, opts)
	if err != nil {
		return nil, err
	}
	return module.Assemble(), nil
}

var errUnknownPass = ttlcerr.New(ttlcerr.Location{}, ttlcerr.StatusInternalCompilerError)

// ListFunctionPasses returns the names RunFunctionPass accepts, in
// pipeline order followed by the read-only dump passes of §6/SPEC_FULL
// §10.2 (gcd, memref, alias, stack).
func ListFunctionPasses() []string {
	names := make([]string, 0, len(pipeline)+len(dumpPasses))
	for _, st := range pipeline {
		names = append(names, st.name)
	}
	for _, d := range dumpPasses {
		names = append(names, d.name)
	}
	return names
}

// RunFunctionPass runs one named pass (a pipeline transform stage or a
// dump analysis) against a single function, the tooling entry point
// named in SPEC_FULL §10.2's DOMAIN STACK expansion: a CLI or test
// harness that wants to observe one stage's effect in isolation rather
// than running the whole fixed pipeline. For a transform stage this
// mutates fn in place and returns "", nil on success; for a dump pass it
// leaves fn untouched and returns the rendered analysis text.
func RunFunctionPass(ctx *ir.Context, fn *ir.Function, name string, opts Options) (string, error) {
	for _, st := range pipeline {
		if st.name == name {
			return "", st.run(ctx, fn, opts)
		}
	}
	for _, d := range dumpPasses {
		if d.name == name {
			return d.run(ctx, fn, opts), nil
		}
	}
	return "", fmt.Errorf("unknown function pass %q: %w", name, errUnknownPass)
}
