// Package analysis implements the read-only queries the transform passes
// consult: alias analysis, GCD (divisibility) analysis, memref-alignment
// analysis, and the stack high-water-mark query (§4.6, C6). Each is
// grounded on the matching file under
// original_source/src/analysis/*.cpp, kept in the same pre-order-walk
// visitor shape as the original but expressed as a Go switch over
// ir.OpKind instead of C++ virtual dispatch.
package analysis

import "github.com/gogpu/ttlc/ir"

// Allocation is the byte interval an alloca occupies once
// transform.SetStackPtr has run; alias analysis uses it to detect
// overlapping, and therefore aliasing, stack objects.
type Allocation struct{ Start, Stop int64 }

// AliasResult is the outcome of one function's alias analysis: a root map
// (value -> ultimate source it was derived from via expand/fuse/subview)
// and an allocation map (alloca result -> byte interval), mirroring
// aa_results in original_source/src/analysis/alias.cpp.
type AliasResult struct {
	alias  map[ir.ValueHandle]ir.ValueHandle
	allocs map[ir.ValueHandle]Allocation
}

// Root returns the ultimate source value v was derived from by a chain of
// expand/fuse/subview, or v itself if it is not derived from anything
// (e.g. a parameter or a fresh alloca).
func (r *AliasResult) Root(v ir.ValueHandle) ir.ValueHandle {
	for {
		next, ok := r.alias[v]
		if !ok {
			return v
		}
		v = next
	}
}

// Allocation returns the byte interval recorded for an alloca result, if
// transform.SetStackPtr has assigned one.
func (r *AliasResult) Allocation(v ir.ValueHandle) (Allocation, bool) {
	a, ok := r.allocs[v]
	return a, ok
}

// Alias reports whether a and b may refer to overlapping memory: their
// roots coincide, or (when both roots have an assigned allocation) their
// byte ranges overlap (§4.6).
func (r *AliasResult) Alias(a, b ir.ValueHandle) bool {
	ra, rb := r.Root(a), r.Root(b)
	if ra == rb {
		return true
	}
	allocA, okA := r.allocs[ra]
	allocB, okB := r.allocs[rb]
	if okA && okB {
		return allocA.Start < allocB.Stop && allocB.Start < allocA.Stop
	}
	return false
}

// Alias runs alias analysis over fn's body, the direct Go analogue of
// alias_analysis::run_on_function + alias_analysis_visitor.
func Alias(ctx *ir.Context, fn *ir.Function) *AliasResult {
	r := &AliasResult{alias: make(map[ir.ValueHandle]ir.ValueHandle), allocs: make(map[ir.ValueHandle]Allocation)}
	walkPreOrder(fn, fn.Body, func(ih ir.InstHandle) {
		inst := &fn.Instructions[ih]
		switch op := inst.Op.(type) {
		case ir.Alloca:
			if op.StackPtr >= 0 {
				m := ctx.Type(op.ResultType).Inner.(ir.MemrefType)
				size := ctx.SizeInBytes(m)
				r.allocs[inst.Results[0]] = Allocation{Start: op.StackPtr, Stop: op.StackPtr + size}
			}
		case ir.Expand:
			r.alias[inst.Results[0]] = r.Root(inst.Operands[0])
		case ir.Fuse:
			r.alias[inst.Results[0]] = r.Root(inst.Operands[0])
		case ir.Subview:
			r.alias[inst.Results[0]] = r.Root(inst.Operands[0])
		}
	})
	return r
}

// walkPreOrder visits every instruction in region (and its children) in
// pre-order, the Go analogue of support/walk.hpp's walk<pre_order>.
func walkPreOrder(fn *ir.Function, region ir.RegionHandle, visit func(ir.InstHandle)) {
	for _, ih := range fn.Regions[region].Insts {
		visit(ih)
		for _, child := range fn.Instructions[ih].Regions {
			walkPreOrder(fn, child, visit)
		}
	}
}
