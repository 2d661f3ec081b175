// Package transform implements the C7 fixed pipeline's IR-to-IR passes:
// insert-lifetime-stop, set-stack-ptr, lower-coopmatrix, lower-linalg,
// work-group-size inference, alignment-propagation, and insert-barrier
// (§4.7). Each pass is grounded on the matching file under
// original_source/src/pass/*.cpp and consumes the analysis package's
// read-only queries rather than recomputing them inline, mirroring the
// original's pass-plus-analysis split.
package transform

import (
	"github.com/gogpu/ttlc/analysis"
	"github.com/gogpu/ttlc/ir"
)

// InsertLifetimeStop walks fn's body backward, region by region, and
// splices a LifetimeStop right after the last touch of each alloca's
// root value (C7 step 2), grounded verbatim on
// original_source/src/pass/insert_lifetime_stop.cpp.
func InsertLifetimeStop(ctx *ir.Context, fn *ir.Function) {
	aa := analysis.Alias(ctx, fn)
	runOnRegionBackward(ctx, fn, fn.Body, aa)
}

func runOnRegionBackward(ctx *ir.Context, fn *ir.Function, rh ir.RegionHandle, aa *analysis.AliasResult) map[ir.ValueHandle]bool {
	rgnOps := map[ir.ValueHandle]bool{}
	if len(fn.Regions[rh].Insts) == 0 {
		return rgnOps
	}

	var allocas []ir.ValueHandle
	for _, ih := range fn.Regions[rh].Insts {
		if _, ok := fn.Instructions[ih].Op.(ir.Alloca); ok {
			allocas = append(allocas, fn.Instructions[ih].Results[0])
		}
	}

	pos := len(fn.Regions[rh].Insts)
	for pos > 0 {
		ih := fn.Regions[rh].Insts[pos-1]
		inst := fn.Instructions[ih]

		for _, child := range inst.Regions {
			for v := range runOnRegionBackward(ctx, fn, child, aa) {
				rgnOps[v] = true
			}
		}
		for _, v := range inst.Operands {
			if isMemref(ctx, fn, v) {
				rgnOps[aa.Root(v)] = true
			}
		}
		for _, v := range inst.Results {
			if isMemref(ctx, fn, v) {
				rgnOps[aa.Root(v)] = true
			}
		}

		var remaining []ir.ValueHandle
		for _, a := range allocas {
			if rgnOps[a] {
				fn.InsertInstBefore(rh, pos, ir.Instruction{
					Op:       ir.LifetimeStop{},
					Operands: []ir.ValueHandle{a},
					Loc:      inst.Loc,
				})
			} else {
				remaining = append(remaining, a)
			}
		}
		allocas = remaining
		pos--
	}
	return rgnOps
}

func isMemref(ctx *ir.Context, fn *ir.Function, v ir.ValueHandle) bool {
	_, ok := ctx.Type(fn.Values[v].Type).Inner.(ir.MemrefType)
	return ok
}
