package compiler

import (
	"fmt"
	"sort"
	"strings"

	"github.com/gogpu/ttlc/analysis"
	"github.com/gogpu/ttlc/ir"
)

// dumpPass is a read-only analysis exposed as a named RunFunctionPass
// entry (§6, SPEC_FULL §10.2): it renders one of the analysis package's
// query results as text instead of mutating the function, giving a CLI
// or test harness the same "inspect one stage in isolation" ergonomics
// the transform stages get from pipeline, without needing the analysis
// package's Go types in its own vocabulary.
type dumpPass struct {
	name string
	run  func(ctx *ir.Context, fn *ir.Function, opts Options) string
}

var dumpPasses = []dumpPass{
	{"dump-gcd", dumpGCD},
	{"dump-memref", dumpMemref},
	{"dump-alias", dumpAlias},
	{"dump-stack", dumpStack},
}

func valueLabel(fn *ir.Function, v ir.ValueHandle) string {
	if name := fn.Values[v].Name; name != "" {
		return name
	}
	return fmt.Sprintf("%%%d", v)
}

// dumpGCD renders the per-value GCD lattice analysis.GCD computes over
// index-typed SSA values (§4.6), the offset-divisibility facts
// alignment-propagation consumes.
func dumpGCD(_ *ir.Context, fn *ir.Function, _ Options) string {
	r := analysis.GCD(fn)
	var sb strings.Builder
	fmt.Fprintf(&sb, "gcd analysis: %s\n", fn.Name)
	for v := range fn.Values {
		vh := ir.ValueHandle(v)
		if g, ok := r.GetIf(vh); ok {
			fmt.Fprintf(&sb, "  %s: gcd=%d\n", valueLabel(fn, vh), g)
		}
	}
	return sb.String()
}

// dumpMemref renders analysis.Memref's per-parameter alignment/shape-gcd/
// stride-gcd facts, seeded from opts.Core.DefaultAlignment since no
// caller-supplied per-parameter alignment attributes are modeled in this
// backend's Function type (§4.6).
func dumpMemref(ctx *ir.Context, fn *ir.Function, opts Options) string {
	r := analysis.Memref(ctx, fn, nil, int64(opts.Core.DefaultAlignment))
	var sb strings.Builder
	fmt.Fprintf(&sb, "memref-info analysis: %s\n", fn.Name)
	for _, p := range fn.Regions[fn.Body].Params {
		info, ok := r.Get(p)
		if !ok {
			continue
		}
		fmt.Fprintf(&sb, "  %s: alignment=%d element_size=%d shape_gcd=%v stride_gcd=%v\n",
			valueLabel(fn, p), info.Alignment, info.ElementSize, info.ShapeGCD, info.StrideGCD)
	}
	return sb.String()
}

// dumpAlias renders analysis.Alias's root-allocation map over every
// memref-typed value, the may-alias facts insert-barrier and
// insert-lifetime-stop consult.
func dumpAlias(ctx *ir.Context, fn *ir.Function, _ Options) string {
	r := analysis.Alias(ctx, fn)
	var sb strings.Builder
	fmt.Fprintf(&sb, "alias analysis: %s\n", fn.Name)
	var memrefs []ir.ValueHandle
	for v := range fn.Values {
		vh := ir.ValueHandle(v)
		if _, ok := ctx.Type(fn.Values[vh].Type).Inner.(ir.MemrefType); ok {
			memrefs = append(memrefs, vh)
		}
	}
	sort.Slice(memrefs, func(i, j int) bool { return memrefs[i] < memrefs[j] })
	for _, v := range memrefs {
		root := r.Root(v)
		line := fmt.Sprintf("  %s: root=%s", valueLabel(fn, v), valueLabel(fn, root))
		if alloc, ok := r.Allocation(v); ok {
			line += fmt.Sprintf(" range=[%d,%d)", alloc.Start, alloc.Stop)
		}
		sb.WriteString(line + "\n")
	}
	return sb.String()
}

// dumpStack renders the function's local-memory stack high-water mark,
// the figure a runtime needs to size the kernel's workgroup-local
// allocation (§4.7 step 3's companion query).
func dumpStack(ctx *ir.Context, fn *ir.Function, _ Options) string {
	hwm, err := analysis.StackHighWaterMark(ctx, fn)
	if err != nil {
		return fmt.Sprintf("stack high-water mark: %s: error: %v\n", fn.Name, err)
	}
	return fmt.Sprintf("stack high-water mark: %s: %d bytes\n", fn.Name, hwm)
}
