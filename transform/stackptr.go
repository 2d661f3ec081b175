package transform

import (
	"github.com/gogpu/ttlc/ir"
	"github.com/gogpu/ttlc/ttlcerr"
)

// stackAllocation tracks one still-live alloca's byte interval while
// set-stack-ptr walks the function, the Go analogue of set_stack_ptr_pass's
// local allocation list in original_source/src/pass/stack.cpp.
type stackAllocation struct {
	value      ir.ValueHandle
	start, end int64
}

// SetStackPtr assigns every Alloca a byte offset into the function's
// local-memory stack (C7 step 3): it walks the body pre-order keeping a
// list of live allocations sorted by start offset, reusing the first gap
// an alloca fits into and freeing an allocation when its LifetimeStop is
// reached. Grounded verbatim on
// original_source/src/pass/stack.cpp's set_stack_ptr_pass.
func SetStackPtr(ctx *ir.Context, fn *ir.Function) error {
	var allocs []stackAllocation
	var firstErr error

	walkInstructions(fn, fn.Body, func(ih ir.InstHandle) {
		if firstErr != nil {
			return
		}
		inst := &fn.Instructions[ih]
		switch op := inst.Op.(type) {
		case ir.Alloca:
			m, ok := ctx.Type(op.ResultType).Inner.(ir.MemrefType)
			if !ok {
				firstErr = ttlcerr.New(inst.Loc, ttlcerr.StatusIRExpectedMemref)
				return
			}
			align := ctx.Type(m.Element).Inner.(ir.ScalarType).Kind.Size()
			size := ctx.SizeInBytes(m)

			var stackPtr int64
			pos := len(allocs)
			for i, a := range allocs {
				if a.start-stackPtr >= size {
					pos = i
					break
				}
				stackPtr = ((a.end - 1) / align + 1) * align
			}
			allocs = append(allocs, stackAllocation{})
			copy(allocs[pos+1:], allocs[pos:])
			allocs[pos] = stackAllocation{value: inst.Results[0], start: stackPtr, end: stackPtr + size}

			op.StackPtr = stackPtr
			inst.Op = op

		case ir.LifetimeStop:
			target := inst.Operands[0]
			count := 0
			kept := allocs[:0]
			for _, a := range allocs {
				if a.value == target {
					count++
					continue
				}
				kept = append(kept, a)
			}
			allocs = kept
			if count != 1 {
				firstErr = ttlcerr.Newf(inst.Loc, ttlcerr.StatusInternalCompilerError,
					"incorrect lifetime_stop: value not found in list of allocations")
			}
		}
	})

	return firstErr
}

// walkInstructions visits every instruction in region (and its children)
// in pre-order, operating directly on fn.Instructions so callers may
// mutate the visited instruction in place.
func walkInstructions(fn *ir.Function, region ir.RegionHandle, visit func(ir.InstHandle)) {
	for _, ih := range fn.Regions[region].Insts {
		visit(ih)
		for _, child := range fn.Instructions[ih].Regions {
			walkInstructions(fn, child, visit)
		}
	}
}
