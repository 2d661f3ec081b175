package analysis

import "github.com/gogpu/ttlc/ir"

// GCDResult infers, per scalar value, the product of known prime
// factors — used by alignment-propagation to prove that access offsets
// are multiples of a candidate alignment. Grounded verbatim on
// original_source/src/analysis/gcd.cpp's gcd_analysis_result/gcd_helper.
type GCDResult struct{ gcd map[ir.ValueHandle]int64 }

// Get returns the known GCD for v, defaulting to 1 when nothing is known
// (§4.6).
func (r *GCDResult) Get(v ir.ValueHandle) int64 {
	if g, ok := r.gcd[v]; ok {
		return g
	}
	return 1
}

// GetIf returns the known GCD for v without defaulting, and whether one
// is recorded at all.
func (r *GCDResult) GetIf(v ir.ValueHandle) (int64, bool) {
	g, ok := r.gcd[v]
	return g, ok
}

func (r *GCDResult) set(v ir.ValueHandle, g int64) { r.gcd[v] = g }

func gcd(a, b int64) int64 {
	a, b = abs64(a), abs64(b)
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

// GCD runs GCD analysis over fn's body, the Go analogue of
// gcd_analysis::run_on_function + gcd_helper.
func GCD(fn *ir.Function) *GCDResult {
	r := &GCDResult{gcd: make(map[ir.ValueHandle]int64)}
	walkPreOrder(fn, fn.Body, func(ih ir.InstHandle) {
		inst := &fn.Instructions[ih]
		switch op := inst.Op.(type) {
		case ir.Arith:
			ga, gb := r.Get(inst.Operands[0]), r.Get(inst.Operands[1])
			switch op.Op {
			case ir.ArithAdd, ir.ArithSub:
				r.set(inst.Results[0], gcd(ga, gb))
			case ir.ArithMul:
				r.set(inst.Results[0], ga*gb)
			case ir.ArithDiv:
				if gb != 0 && ga%gb == 0 {
					r.set(inst.Results[0], ga/gb)
				} else {
					r.set(inst.Results[0], 1)
				}
			}
		case ir.ArithUnary:
			switch op.Op {
			case ir.ArithAbs, ir.ArithNot:
				if g, ok := r.GetIf(inst.Operands[0]); ok {
					r.set(inst.Results[0], g)
				}
			}
		case ir.Cast:
			if g, ok := r.GetIf(inst.Operands[0]); ok {
				r.set(inst.Results[0], g)
			}
		case ir.Constant:
			if op.Value.IsInt {
				r.set(inst.Results[0], abs64(op.Value.Int))
			}
		case ir.SubgroupBroadcast:
			if g, ok := r.GetIf(inst.Operands[0]); ok {
				r.set(inst.Results[0], g)
			}
		}
	})
	// For's loop variable is a region parameter, not an instruction
	// result, so it is set in a second pass once the body region (and
	// therefore its parameter handle) is known.
	walkPreOrder(fn, fn.Body, func(ih ir.InstHandle) {
		inst := &fn.Instructions[ih]
		op, ok := inst.Op.(ir.For)
		if !ok || !op.HasStep {
			return
		}
		from, step := inst.Operands[0], inst.Operands[2]
		loopVar := fn.Regions[inst.Regions[0]].Params[0]
		r.set(loopVar, gcd(r.Get(from), r.Get(step)))
	})
	return r
}
