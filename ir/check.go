package ir

import "github.com/gogpu/ttlc/ttlcerr"

// Check is the whole-module verifier (C7 step 1, "check-ir"): it asserts
// that every region's kind is consistent with the execution kind each of
// its instructions requires, and that if/for yield arity and types agree
// across arms (§4.7 step 1, testable properties 3 and 4). It is grounded
// on original_source/src/pass/check_ir.cpp and modeled after naga's
// Validator/ValidateModule structure (ir/validate.go), generalized from
// naga's stage-specific rules to TTL's collective/spmd soundness rules.
//
// Unlike Builder, which rejects malformed operand shapes at construction
// time, Check runs once the whole function body exists, because
// execution-kind soundness is a property of an instruction's *enclosing*
// region, which may not be known yet when the instruction is built
// inside a still-open region (e.g. a foreach body under construction).
func Check(prog *Program) error {
	for fi := range prog.Functions {
		if err := checkFunction(&prog.Functions[fi]); err != nil {
			return err
		}
	}
	return nil
}

func checkFunction(fn *Function) error {
	if err := checkRegion(fn, fn.Body); err != nil {
		return err
	}
	return CheckYieldArity(fn)
}

func checkRegion(fn *Function, rh RegionHandle) error {
	region := &fn.Regions[rh]
	for i, ih := range region.Insts {
		inst := &fn.Instructions[ih]
		if err := checkExecutionKind(inst, region.Kind, inst.Loc); err != nil {
			return err
		}
		if err := checkYield(fn, inst, i, len(region.Insts)); err != nil {
			return err
		}
		for _, child := range inst.Regions {
			if err := checkRegion(fn, child); err != nil {
				return err
			}
		}
	}
	return nil
}

// checkExecutionKind rejects a collective-only opcode in an spmd region
// and an spmd-only opcode in a collective region (testable property 3).
// A "mixed" region or a "mixed" opcode imposes no constraint.
func checkExecutionKind(inst *Instruction, regionKind RegionKind, loc ttlcerr.Location) error {
	opKind := ExecutionKindOf(inst.Op)
	switch {
	case opKind == KindCollective && regionKind == RegionSPMD:
		return ttlcerr.New(loc, ttlcerr.StatusIRUnsupportedExecutionKind)
	case opKind == KindSPMD && regionKind == RegionCollective:
		return ttlcerr.New(loc, ttlcerr.StatusIRUnsupportedExecutionKind)
	}
	return nil
}

// checkYield enforces that yield appears only as a region's last
// instruction. Arity/type agreement across if/for arms (testable
// property 4) is checked separately by CheckYieldArity, which checkFunction
// also runs.
func checkYield(fn *Function, inst *Instruction, pos, regionLen int) error {
	if _, ok := inst.Op.(Yield); !ok {
		return nil
	}
	if pos != regionLen-1 {
		return ttlcerr.New(inst.Loc, ttlcerr.StatusIRUnexpectedYield)
	}
	return nil
}

// CheckYieldArity verifies that every branch region of an If (or the body
// region of a For) ends in a Yield whose operand count and types match
// the declared result types, per §3.4/§4.7 step 1. It is split out from
// checkRegion because it needs the declared result types of the owning
// instruction, which checkRegion's generic walk does not carry.
func CheckYieldArity(fn *Function) error {
	for i := range fn.Instructions {
		inst := &fn.Instructions[i]
		switch op := inst.Op.(type) {
		case If:
			for _, r := range inst.Regions {
				if err := checkBranchYield(fn, r, op.ResultTypes, inst.Loc); err != nil {
					return err
				}
			}
		case For:
			if len(inst.Regions) == 1 {
				if err := checkBranchYield(fn, inst.Regions[0], resultTypesOf(fn, inst.Results), inst.Loc); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func resultTypesOf(fn *Function, results []ValueHandle) []TypeHandle {
	types := make([]TypeHandle, len(results))
	for i, r := range results {
		types[i] = fn.Values[r].Type
	}
	return types
}

func checkBranchYield(fn *Function, region RegionHandle, want []TypeHandle, loc ttlcerr.Location) error {
	r := &fn.Regions[region]
	if len(r.Insts) == 0 {
		if len(want) != 0 {
			return ttlcerr.New(loc, ttlcerr.StatusIRYieldMismatch)
		}
		return nil
	}
	last := fn.Instructions[r.Insts[len(r.Insts)-1]]
	y, ok := last.Op.(Yield)
	_ = y
	if !ok {
		if len(want) != 0 {
			return ttlcerr.New(loc, ttlcerr.StatusIRYieldMismatch)
		}
		return nil
	}
	if len(last.Operands) != len(want) {
		return ttlcerr.New(loc, ttlcerr.StatusIRYieldMismatch)
	}
	for i, v := range last.Operands {
		if fn.Values[v].Type != want[i] {
			return ttlcerr.New(loc, ttlcerr.StatusIRYieldMismatch)
		}
	}
	return nil
}
