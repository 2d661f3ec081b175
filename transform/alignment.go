package transform

import (
	"github.com/gogpu/ttlc/analysis"
	"github.com/gogpu/ttlc/ir"
)

// allocaMaxAlignment bounds how far set-stack-ptr-derived alignment may be
// doubled, mirroring alignment_propagation_helper::alloca_max_alignment.
const allocaMaxAlignment = 64

// AlignmentResult records the largest alignment known to hold for a
// parameter, an alloca, a value derived through expand/fuse, or a value
// loaded from a group (§4.7 step 7); subview results are not tracked.
// Values absent from the map have no alignment guarantee beyond the
// type's own element alignment.
type AlignmentResult struct {
	known map[ir.ValueHandle]int32
}

func (r *AlignmentResult) Get(v ir.ValueHandle) int32 {
	if a, ok := r.known[v]; ok {
		return a
	}
	return 0
}

func (r *AlignmentResult) set(v ir.ValueHandle, align int32) {
	if align != 0 {
		r.known[v] = align
	}
}

// AlignmentPropagation infers per-value alignment from GCD analysis and
// propagates it onto load/store/cooperative-matrix-load/
// cooperative-matrix-store instructions (recorded in the op's Align
// field) so codegen may pick aligned block-i/o
// forms, the Go analogue of alignment_propagation_pass (C7 step 7).
// Grounded verbatim on
// original_source/src/pass/alignment_propagation.cpp.
func AlignmentPropagation(ctx *ir.Context, fn *ir.Function, paramAlign map[int]int32) *AlignmentResult {
	gcd := analysis.GCD(fn)
	r := &AlignmentResult{known: make(map[ir.ValueHandle]int32)}

	for i, p := range fn.Regions[fn.Body].Params {
		if a, ok := paramAlign[i]; ok {
			r.set(p, a)
		}
	}

	walkInstructions(fn, fn.Body, func(ih ir.InstHandle) {
		inst := &fn.Instructions[ih]
		switch op := inst.Op.(type) {
		case ir.Alloca:
			if op.StackPtr >= 0 {
				rt, ok := memrefOperandType(ctx, fn, inst.Results[0])
				if !ok {
					return
				}
				i := elementAlignment(ctx, rt)
				for i < allocaMaxAlignment {
					i2 := 2 * i
					if op.StackPtr%int64(i2) != 0 {
						break
					}
					i = i2
				}
				if elemAlign := elementAlignment(ctx, rt); i > elemAlign {
					r.set(inst.Results[0], i)
				}
			}

		case ir.Expand:
			r.set(inst.Results[0], r.Get(inst.Operands[0]))
		case ir.Fuse:
			r.set(inst.Results[0], r.Get(inst.Operands[0]))

		case ir.CoopmatrixLoad:
			gcds := []int64{gcd.Get(inst.Operands[1]), gcd.Get(inst.Operands[2])}
			if align := computeMaxAlignment(ctx, fn, r, inst.Operands[0], gcds); align != 0 {
				op.Align = align
				inst.Op = op
			}

		case ir.CoopmatrixStore:
			gcds := []int64{gcd.Get(inst.Operands[2]), gcd.Get(inst.Operands[3])}
			if align := computeMaxAlignment(ctx, fn, r, inst.Operands[1], gcds); align != 0 {
				op.Align = align
				inst.Op = op
			}

		case ir.Load:
			if _, ok := memrefOperandType(ctx, fn, inst.Operands[0]); !ok {
				r.set(inst.Results[0], r.Get(inst.Operands[0]))
				return
			}
			gcds := make([]int64, op.NumIndices)
			for i := 0; i < op.NumIndices; i++ {
				gcds[i] = gcd.Get(inst.Operands[1+i])
			}
			if align := computeMaxAlignment(ctx, fn, r, inst.Operands[0], gcds); align != 0 {
				op.Align = align
				inst.Op = op
			}

		case ir.Store:
			gcds := make([]int64, op.NumIndices)
			for i := 0; i < op.NumIndices; i++ {
				gcds[i] = gcd.Get(inst.Operands[2+i])
			}
			if align := computeMaxAlignment(ctx, fn, r, inst.Operands[1], gcds); align != 0 {
				op.Align = align
				inst.Op = op
			}
		}
	})

	return r
}

func memrefOperandType(ctx *ir.Context, fn *ir.Function, v ir.ValueHandle) (ir.MemrefType, bool) {
	m, ok := ctx.Type(fn.Values[v].Type).Inner.(ir.MemrefType)
	return m, ok
}

func elementAlignment(ctx *ir.Context, m ir.MemrefType) int32 {
	return int32(ctx.Type(m.Element).Inner.(ir.ScalarType).Kind.Size())
}

// computeMaxAlignment halves a known alignment until offsetGCDs/stride
// prove it divides the access's byte offset evenly, mirroring
// alignment_propagation_helper::compute_max_alignment and is_aligned.
func computeMaxAlignment(ctx *ir.Context, fn *ir.Function, r *AlignmentResult, operand ir.ValueHandle, offsetGCDs []int64) int32 {
	opAlign := r.Get(operand)
	m, ok := memrefOperandType(ctx, fn, operand)
	if !ok || opAlign == 0 {
		return 0
	}
	styBytes := elementAlignment(ctx, m)
	baseAlign := elementAlignment(ctx, m)

	for align := opAlign; align > baseAlign; align /= 2 {
		if isAligned(offsetGCDs, m.Stride, int64(align)/int64(styBytes)) {
			return align
		}
	}
	return 0
}

func isAligned(offsetGCDs, stride []int64, alignment int64) bool {
	n := len(offsetGCDs)
	if len(stride) < n {
		n = len(stride)
	}
	for i := 0; i < n; i++ {
		a, b := offsetGCDs[i], stride[i]
		if ir.IsDynamic(b) {
			if a%alignment != 0 {
				return false
			}
		} else if (a*b)%alignment != 0 {
			return false
		}
	}
	return true
}
