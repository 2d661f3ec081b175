package analysis

import (
	"github.com/gogpu/ttlc/ir"
	"github.com/gogpu/ttlc/ttlcerr"
)

// StackHighWaterMark returns the total number of bytes the function needs
// for its alloca'd stack objects, once transform.SetStackPtr has assigned
// each alloca a byte offset: the high-water mark is the max over every
// alloca of stack_ptr + size_in_bytes, grounded verbatim on
// original_source/src/analysis/stack.cpp's stack_high_water_mark.
func StackHighWaterMark(ctx *ir.Context, fn *ir.Function) (int64, error) {
	var mark int64
	var firstErr error
	walkPreOrder(fn, fn.Body, func(ih ir.InstHandle) {
		if firstErr != nil {
			return
		}
		inst := &fn.Instructions[ih]
		alloc, ok := inst.Op.(ir.Alloca)
		if !ok {
			return
		}
		m, ok := ctx.Type(alloc.ResultType).Inner.(ir.MemrefType)
		if !ok {
			firstErr = ttlcerr.New(inst.Loc, ttlcerr.StatusIRExpectedMemref)
			return
		}
		size := ctx.SizeInBytes(m)
		if end := alloc.StackPtr + size; end > mark {
			mark = end
		}
	})
	if firstErr != nil {
		return 0, firstErr
	}
	return mark, nil
}
