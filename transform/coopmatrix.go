package transform

import (
	"github.com/gogpu/ttlc/ir"
	"github.com/gogpu/ttlc/ttlcerr"
)

// MatrixExtCapability is the outcome of matrix-ext analysis: the set of
// coopmatrix-typed values that CAN be realized through the device's
// hardware matrix extension, computed as a worklist fixed-point starting
// from every coopmatrix value the device's type table admits and then
// killing any that fail an op-specific hardware constraint (transpose
// direction, 2-D block-i/o alignment, store flag, matching shapes across
// a for/if's iter-args). Grounded on
// original_source/src/analysis/matrix_ext.cpp's matrix_ext_analysis.
type MatrixExtCapability struct {
	have map[ir.ValueHandle]bool
}

func (r *MatrixExtCapability) Have(v ir.ValueHandle) bool { return r.have[v] }

// MatrixExt runs matrix-ext analysis over fn's body against info's
// matrix-extension table for the function's required subgroup size.
func MatrixExt(ctx *ir.Context, fn *ir.Function, mext ir.MatrixExtInfo) *MatrixExtCapability {
	r := &MatrixExtCapability{have: make(map[ir.ValueHandle]bool)}
	var queue []ir.InstHandle

	seedInst := func(ih ir.InstHandle) {
		inst := &fn.Instructions[ih]
		hasAtLeastOne := false
		addIf := func(v ir.ValueHandle) {
			ct, ok := ctx.Type(fn.Values[v].Type).Inner.(ir.CoopmatrixType)
			if !ok {
				return
			}
			comp, ok := ctx.Type(ct.Component).Inner.(ir.ScalarType)
			if !ok {
				return
			}
			if mext.HaveType(comp.Kind, ct.Rows, ct.Cols, ct.Use) {
				r.have[v] = true
				hasAtLeastOne = true
			}
		}
		for _, v := range inst.Results {
			addIf(v)
		}
		for _, child := range inst.Regions {
			for _, p := range fn.Regions[child].Params {
				addIf(p)
			}
		}
		_, isStore := inst.Op.(ir.CoopmatrixStore)
		if hasAtLeastOne || isStore {
			queue = append(queue, ih)
		}
	}
	walkInstructions(fn, fn.Body, seedInst)

	kill := func(v ir.ValueHandle) {
		if !r.have[v] {
			return
		}
		delete(r.have, v)
		val := &fn.Values[v]
		if val.DefKind == ir.DefResult {
			queue = append(queue, val.DefInst)
		}
		for _, use := range val.Uses {
			owner := &fn.Instructions[use.Owner]
			if _, ok := owner.Op.(ir.Yield); ok {
				if fn.Regions[owner.Parent].HasDefiner {
					queue = append(queue, fn.Regions[owner.Parent].DefiningInst)
				}
				continue
			}
			queue = append(queue, use.Owner)
		}
	}

	for len(queue) > 0 {
		ih := queue[0]
		queue = queue[1:]
		inst := &fn.Instructions[ih]

		switch op := inst.Op.(type) {
		case ir.Arith:
			kill(inst.Operands[0])
			kill(inst.Operands[1])
			kill(inst.Results[0])
		case ir.ArithUnary:
			kill(inst.Operands[0])
			kill(inst.Results[0])
		case ir.Cast:
			kill(inst.Operands[0])
			kill(inst.Results[0])
		case ir.CoopmatrixLoad:
			transposeOK := !op.Transpose
			blockOK := transposeOK && check2DBlockIO(ctx, fn, mext.BlockIO, inst.Operands[0], op.Align)
			if !blockOK {
				kill(inst.Results[0])
			}
		case ir.CoopmatrixMulAdd:
			at := coopmatrixOf(ctx, fn, inst.Operands[0])
			bt := coopmatrixOf(ctx, fn, inst.Operands[1])
			ct := coopmatrixOf(ctx, fn, inst.Operands[2])
			rt := coopmatrixOf(ctx, fn, inst.Results[0])
			haveGemm := r.Have(inst.Operands[0]) && r.Have(inst.Operands[1]) && r.Have(inst.Operands[2]) && r.Have(inst.Results[0]) &&
				mext.HaveGemm(scalarKindOf(ctx, at.Component), scalarKindOf(ctx, bt.Component), scalarKindOf(ctx, ct.Component), scalarKindOf(ctx, rt.Component), rt.Rows, rt.Cols, at.Cols)
			if !haveGemm {
				kill(inst.Operands[0])
				kill(inst.Operands[1])
				kill(inst.Operands[2])
				kill(inst.Results[0])
			}
		case ir.CoopmatrixScale:
			kill(inst.Operands[1])
			kill(inst.Results[0])
		case ir.CoopmatrixStore:
			vt := coopmatrixOf(ctx, fn, inst.Operands[0])
			storeFlagOK := op.Flag == ir.CoopStoreRegular
			useOK := vt.Use == ir.MatrixUseAcc
			blockOK := storeFlagOK && useOK && check2DBlockIO(ctx, fn, mext.BlockIO, inst.Operands[1], op.Align)
			if !blockOK {
				kill(inst.Operands[0])
			}
		case ir.For:
			checkLoopCarried(ctx, fn, r, kill, inst)
		case ir.If:
			checkBranches(ctx, fn, r, kill, inst)
		}
	}

	return r
}

func coopmatrixOf(ctx *ir.Context, fn *ir.Function, v ir.ValueHandle) ir.CoopmatrixType {
	ct, _ := ctx.Type(fn.Values[v].Type).Inner.(ir.CoopmatrixType)
	return ct
}

func scalarKindOf(ctx *ir.Context, h ir.TypeHandle) ir.ScalarKind {
	s, _ := ctx.Type(h).Inner.(ir.ScalarType)
	return s.Kind
}

func check2DBlockIO(ctx *ir.Context, fn *ir.Function, blockIO ir.MatrixExtBlockIOInfo, operand ir.ValueHandle, align int32) bool {
	m, ok := memrefOperandType(ctx, fn, operand)
	if !ok || len(m.Stride) < 2 {
		return false
	}
	elementSize := int32(ctx.Type(m.Element).Inner.(ir.ScalarType).Kind.Size())
	baseOK := align >= blockIO.BaseAddressAlignment
	byteStride := int32(m.Stride[1]) * elementSize
	strideOK := m.Stride[0] == 1 &&
		byteStride >= blockIO.MinStride && byteStride <= blockIO.MaxStride &&
		byteStride%blockIO.StrideAlignment == 0
	addrspaceOK := m.AddrSpace == ir.AddressGlobal
	return baseOK && strideOK && addrspaceOK
}

func checkLoopCarried(ctx *ir.Context, fn *ir.Function, r *MatrixExtCapability, kill func(ir.ValueHandle), inst *ir.Instruction) {
	if len(inst.Results) == 0 || len(inst.Regions) != 1 {
		return
	}
	body := &fn.Regions[inst.Regions[0]]
	if len(body.Insts) == 0 {
		return
	}
	last := fn.Instructions[body.Insts[len(body.Insts)-1]]
	yield, ok := last.Op.(ir.Yield)
	_ = yield
	if !ok || len(last.Operands) != len(inst.Results) {
		return
	}
	numIterArgs := len(body.Params) - 1
	for i, res := range inst.Results {
		if i >= numIterArgs {
			break
		}
		iterArg := body.Params[1+i]
		if _, ok := ctx.Type(fn.Values[res].Type).Inner.(ir.CoopmatrixType); !ok {
			continue
		}
		yieldOp := last.Operands[i]
		if !r.Have(res) || !r.Have(iterArg) || !r.Have(yieldOp) {
			kill(res)
			kill(iterArg)
			kill(yieldOp)
		}
	}
}

func checkBranches(ctx *ir.Context, fn *ir.Function, r *MatrixExtCapability, kill func(ir.ValueHandle), inst *ir.Instruction) {
	if len(inst.Results) == 0 || len(inst.Regions) != 2 {
		return
	}
	thenLast := lastYield(fn, inst.Regions[0])
	elseLast := lastYield(fn, inst.Regions[1])
	if thenLast == nil || elseLast == nil || len(thenLast.Operands) != len(inst.Results) || len(elseLast.Operands) != len(inst.Results) {
		return
	}
	for i, res := range inst.Results {
		if _, ok := ctx.Type(fn.Values[res].Type).Inner.(ir.CoopmatrixType); !ok {
			continue
		}
		a, b := thenLast.Operands[i], elseLast.Operands[i]
		if !r.Have(res) || !r.Have(a) || !r.Have(b) {
			kill(res)
			kill(a)
			kill(b)
		}
	}
}

func lastYield(fn *ir.Function, rh ir.RegionHandle) *ir.Instruction {
	insts := fn.Regions[rh].Insts
	if len(insts) == 0 {
		return nil
	}
	last := &fn.Instructions[insts[len(insts)-1]]
	if _, ok := last.Op.(ir.Yield); !ok {
		return nil
	}
	return last
}

// LowerCoopmatrix runs matrix-ext analysis for fn's required subgroup
// size and verifies every coopmatrix load/store/mul-add/scale it contains
// maps onto the device's hardware matrix extension: this port of the
// original carries no scalar-vector fallback path (lower_coopmatrix.cpp's
// generator always falls through unreplaced), so an unmappable op is
// reported as unsupported rather than silently lowered, grounded on
// original_source/src/pass/lower_coopmatrix.cpp's
// lower_coopmatrix_pass::run_on_function.
func LowerCoopmatrix(ctx *ir.Context, fn *ir.Function, info *ir.CoreInfo, subgroupSize int32) error {
	mext, ok := info.MatrixExt(subgroupSize)
	if !ok {
		return ttlcerr.New(ttlcerr.Location{}, ttlcerr.StatusUnsupportedSubgroupSize)
	}
	capability := MatrixExt(ctx, fn, mext)

	var firstErr error
	walkInstructions(fn, fn.Body, func(ih ir.InstHandle) {
		if firstErr != nil {
			return
		}
		inst := &fn.Instructions[ih]
		switch inst.Op.(type) {
		case ir.CoopmatrixLoad, ir.CoopmatrixStore, ir.CoopmatrixMulAdd, ir.CoopmatrixScale:
			for _, v := range inst.Results {
				if _, isCoop := ctx.Type(fn.Values[v].Type).Inner.(ir.CoopmatrixType); isCoop && !capability.Have(v) {
					firstErr = ttlcerr.New(inst.Loc, ttlcerr.StatusIRUnsupportedCoopmatrixShape)
				}
			}
		}
	})
	return firstErr
}
