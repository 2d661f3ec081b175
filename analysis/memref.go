package analysis

import "github.com/gogpu/ttlc/ir"

// MemrefInfo is the per-value alignment/shape/stride knowledge tracked
// for memref-typed values (§4.6 "Memref-info analysis"): the initial
// state comes from a function parameter's attribute dict (alignment,
// shape_gcd, stride_gcd) or the core-info default. It is a read-only
// query (used by the dump-memref pass); transform.AlignmentPropagation
// (C7 step 7) keeps its own per-value alignment map and does not read it.
type MemrefInfo struct {
	Alignment   int64
	ElementSize int64
	ShapeGCD    []int64
	StrideGCD   []int64
}

// MemrefResult maps memref-typed values to their MemrefInfo.
type MemrefResult struct {
	ctx  *ir.Context
	info map[ir.ValueHandle]MemrefInfo
}

func (r *MemrefResult) Get(v ir.ValueHandle) (MemrefInfo, bool) {
	info, ok := r.info[v]
	return info, ok
}

func (r *MemrefResult) set(v ir.ValueHandle, info MemrefInfo) { r.info[v] = info }

// ComputeMaxAlignment returns the largest divisor of alignment that is
// also consistent with offsetGCD (i.e. the largest power-of-two-ish
// divisor of alignment that divides offsetGCD too), mirroring
// compute_max_alignment (§4.6).
func ComputeMaxAlignment(alignment, offsetGCD int64) int64 {
	if offsetGCD == 0 {
		return alignment
	}
	g := gcd(alignment, offsetGCD)
	if g == 0 {
		return alignment
	}
	return g
}

// Memref runs memref-info analysis over fn's body. defaultAlignment is
// the core-info default alignment (§4.6) used when a parameter carries no
// "alignment" attribute.
func Memref(ctx *ir.Context, fn *ir.Function, paramAttrs map[int]ir.AttrHandle, defaultAlignment int64) *MemrefResult {
	r := &MemrefResult{ctx: ctx, info: make(map[ir.ValueHandle]MemrefInfo)}

	for i, p := range fn.Regions[fn.Body].Params {
		m, ok := ctx.Type(fn.Values[p].Type).Inner.(ir.MemrefType)
		if !ok {
			continue
		}
		info := MemrefInfo{
			Alignment:   defaultAlignment,
			ElementSize: ctx.Type(m.Element).Inner.(ir.ScalarType).Kind.Size(),
			ShapeGCD:    make([]int64, len(m.Shape)),
			StrideGCD:   make([]int64, len(m.Stride)),
		}
		if ah, ok := paramAttrs[i]; ok {
			dict, ok := ctx.Attr(ah).Kind.(ir.DictAttr)
			if ok {
				if v, ok := ir.Find(dict, ir.AttrKeyAlignment); ok {
					if a, ok := ctx.Attr(v).Kind.(ir.IntAttr); ok {
						info.Alignment = a.Value
					}
				}
				if v, ok := ir.Find(dict, ir.AttrKeyShapeGCD); ok {
					info.ShapeGCD = intArrayAttr(ctx, v)
				}
				if v, ok := ir.Find(dict, ir.AttrKeyStrideGCD); ok {
					info.StrideGCD = intArrayAttr(ctx, v)
				}
			}
		}
		r.set(p, info)
	}

	walkPreOrder(fn, fn.Body, func(ih ir.InstHandle) {
		inst := &fn.Instructions[ih]
		alloc, ok := inst.Op.(ir.Alloca)
		if !ok {
			return
		}
		m := ctx.Type(alloc.ResultType).Inner.(ir.MemrefType)
		align := m.Element // element alignment doubled while stack_ptr is congruent, per §4.6
		elemAlign := ctx.Type(align).Inner.(ir.ScalarType).Kind.Size()
		info := MemrefInfo{
			Alignment:   doubleWhileCongruent(elemAlign, alloc.StackPtr),
			ElementSize: elemAlign,
			ShapeGCD:    append([]int64(nil), m.Shape...),
			StrideGCD:   append([]int64(nil), m.Stride...),
		}
		r.set(inst.Results[0], info)
	})

	return r
}

// doubleWhileCongruent doubles alignment as long as stackPtr (once
// assigned) remains a multiple of it, matching "alloca results use their
// declared alignment, doubled as long as the stack pointer is congruent"
// (§4.6). An unassigned (-1) stack pointer leaves the base alignment
// untouched.
func doubleWhileCongruent(alignment, stackPtr int64) int64 {
	if stackPtr < 0 || alignment <= 0 {
		return alignment
	}
	for stackPtr%(alignment*2) == 0 {
		alignment *= 2
	}
	return alignment
}

func intArrayAttr(ctx *ir.Context, h ir.AttrHandle) []int64 {
	arr, ok := ctx.Attr(h).Kind.(ir.ArrayAttr)
	if !ok {
		return nil
	}
	out := make([]int64, len(arr.Elements))
	for i, e := range arr.Elements {
		if v, ok := ctx.Attr(e).Kind.(ir.IntAttr); ok {
			out[i] = v.Value
		}
	}
	return out
}
