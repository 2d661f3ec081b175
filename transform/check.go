package transform

import "github.com/gogpu/ttlc/ir"

// Check is the pipeline's first stage, re-exporting ir.Check so the
// driver's stage list reads uniformly even though the verifier itself
// lives in ir (it only depends on ir's own invariants). Grounded on
// original_source/src/pass/check_ir.cpp.
func Check(prog *ir.Program) error {
	return ir.Check(prog)
}
