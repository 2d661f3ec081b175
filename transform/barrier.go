package transform

import (
	"github.com/gogpu/ttlc/analysis"
	"github.com/gogpu/ttlc/ir"
)

// readsWrites is the per-address-space read/write set accumulated while
// scanning a region, mirroring insert_barrier_pass::reads_writes in
// original_source/src/pass/insert_barrier.cpp. Only two address spaces
// exist (global, local), so the pair of maps is indexed directly by
// ir.AddressSpace rather than through an address_space_to_index lookup.
type readsWrites struct {
	reads  [2]map[ir.ValueHandle]bool
	writes [2]map[ir.ValueHandle]bool
}

func newReadsWrites() readsWrites {
	return readsWrites{
		reads:  [2]map[ir.ValueHandle]bool{{}, {}},
		writes: [2]map[ir.ValueHandle]bool{{}, {}},
	}
}

func (rw *readsWrites) clear(as ir.AddressSpace) {
	rw.reads[as] = map[ir.ValueHandle]bool{}
	rw.writes[as] = map[ir.ValueHandle]bool{}
}

func (rw *readsWrites) emplaceRead(as ir.AddressSpace, v ir.ValueHandle)  { rw.reads[as][v] = true }
func (rw *readsWrites) emplaceWrite(as ir.AddressSpace, v ir.ValueHandle) { rw.writes[as][v] = true }

func (rw *readsWrites) merge(other readsWrites) {
	for as := range rw.reads {
		for v := range other.reads[as] {
			rw.reads[as][v] = true
		}
		for v := range other.writes[as] {
			rw.writes[as][v] = true
		}
	}
}

func intersects(a, b map[ir.ValueHandle]bool, aa *analysis.AliasResult) bool {
	for av := range a {
		for bv := range b {
			if aa.Alias(av, bv) {
				return true
			}
		}
	}
	return false
}

func (rw *readsWrites) raw(as ir.AddressSpace, other readsWrites, aa *analysis.AliasResult) bool {
	return intersects(rw.reads[as], other.writes[as], aa)
}
func (rw *readsWrites) war(as ir.AddressSpace, other readsWrites, aa *analysis.AliasResult) bool {
	return intersects(rw.writes[as], other.reads[as], aa)
}
func (rw *readsWrites) waw(as ir.AddressSpace, other readsWrites, aa *analysis.AliasResult) bool {
	return intersects(rw.writes[as], other.writes[as], aa)
}
func (rw *readsWrites) rawWarOrWaw(as ir.AddressSpace, other readsWrites, aa *analysis.AliasResult) bool {
	return rw.raw(as, other, aa) || rw.war(as, other, aa) || rw.waw(as, other, aa)
}

// addressSpaces enumerates every address space insert-barrier fences over,
// in FenceFlags bit order.
var addressSpaces = [...]ir.AddressSpace{ir.AddressGlobal, ir.AddressLocal}

func fenceBit(as ir.AddressSpace) ir.FenceFlags {
	if as == ir.AddressLocal {
		return ir.FenceLocal
	}
	return ir.FenceGlobal
}

// InsertBarrier synthesizes barrier instructions wherever two instructions
// in the same non-spmd region touch overlapping memory without an
// intervening barrier, the Go analogue of insert_barrier_pass::run_on_function in
// original_source/src/pass/insert_barrier.cpp. It rewrites fn.Body (and
// every region reachable from it) in place.
func InsertBarrier(ctx *ir.Context, fn *ir.Function) {
	aa := analysis.Alias(ctx, fn)
	runOnRegion(ctx, fn, fn.Body, aa, true)
}

// runOnRegion mirrors insert_barrier_pass::run_on_region: a forward scan
// over region accumulating an "invisible" read/write set (rw not yet
// covered by a barrier), recursing into every child region first (no
// barrier is inserted inside a child region that is itself spmd, or
// inside anything nested in one, since barrier is a collective
// instruction that check-ir rejects in an spmd region),
// then inserting a barrier in front of any instruction whose own
// reads/writes race with the invisible set, narrowed to exactly the
// address spaces that raced.
func runOnRegion(ctx *ir.Context, fn *ir.Function, rh ir.RegionHandle, aa *analysis.AliasResult, insertBarriers bool) readsWrites {
	invisible := newReadsWrites()
	insts := fn.Regions[rh].Insts
	out := make([]ir.InstHandle, 0, len(insts))

	for _, ih := range insts {
		inst := fn.Instructions[ih]
		if barrier, ok := inst.Op.(ir.Barrier); ok && insertBarriers {
			for _, as := range addressSpaces {
				if barrier.Flags&fenceBit(as) != 0 {
					invisible.clear(as)
				}
			}
			out = append(out, ih)
			continue
		}

		rw := newReadsWrites()
		for _, child := range fn.Instructions[ih].Regions {
			childInsertBarriers := insertBarriers && fn.Regions[child].Kind != ir.RegionSPMD
			rw.merge(runOnRegion(ctx, fn, child, aa, childInsertBarriers))
		}
		instReadsWrites(ctx, fn, &inst, &rw)

		if insertBarriers {
			var flags ir.FenceFlags
			for _, as := range addressSpaces {
				if invisible.rawWarOrWaw(as, rw, aa) {
					flags |= fenceBit(as)
					invisible.clear(as)
				}
			}
			if flags != 0 {
				bh := ir.InstHandle(len(fn.Instructions))
				fn.Instructions = append(fn.Instructions, ir.Instruction{Op: ir.Barrier{Flags: flags}, Loc: inst.Loc, Parent: rh})
				out = append(out, bh)
			}
		}

		out = append(out, ih)
		invisible.merge(rw)
	}

	fn.Regions[rh].Insts = out
	return invisible
}

// instReadsWrites records inst's own memory touches into rw, mirroring the
// visit(overloaded{...}) block in run_on_region: blas_a2 (Axpby, Sum) reads
// A and writes B; blas_a3 (Gemm, Gemv, Ger, Hadamard) reads A and B and
// writes C; load reads its source; store writes its destination; every
// other instruction (notably CoopmatrixLoad/CoopmatrixStore, which the
// original never visits here either) touches nothing.
func instReadsWrites(ctx *ir.Context, fn *ir.Function, inst *ir.Instruction, rw *readsWrites) {
	touch := func(v ir.ValueHandle, write bool) {
		m, ok := ctx.Type(fn.Values[v].Type).Inner.(ir.MemrefType)
		if !ok {
			return
		}
		if write {
			rw.emplaceWrite(m.AddrSpace, v)
		} else {
			rw.emplaceRead(m.AddrSpace, v)
		}
	}

	switch inst.Op.(type) {
	case ir.Axpby:
		touch(inst.Operands[1], false)
		touch(inst.Operands[3], true)
	case ir.Sum:
		touch(inst.Operands[1], false)
		touch(inst.Operands[3], true)
	case ir.Gemm:
		touch(inst.Operands[1], false)
		touch(inst.Operands[2], false)
		touch(inst.Operands[4], true)
	case ir.Gemv:
		touch(inst.Operands[1], false)
		touch(inst.Operands[2], false)
		touch(inst.Operands[4], true)
	case ir.Ger:
		touch(inst.Operands[1], false)
		touch(inst.Operands[2], false)
		touch(inst.Operands[4], true)
	case ir.Hadamard:
		touch(inst.Operands[1], false)
		touch(inst.Operands[2], false)
		touch(inst.Operands[4], true)
	case ir.Load:
		touch(inst.Operands[0], false)
	case ir.Store:
		touch(inst.Operands[1], true)
	}
}
