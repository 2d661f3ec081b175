package ir

import "github.com/gogpu/ttlc/ttlcerr"

// ValueHandle, InstHandle, and RegionHandle are arena indices scoped to
// one Function, the Go realization of the spec's reference-counted graph
// as an index-addressed arena (Design Notes §9, SPEC_FULL.md §3): cross-
// references become indices instead of the original's cyclic
// value<->instruction ownership, while def-use splicing stays O(1)
// amortized via use-list append + swap-delete (the arena-friendly
// analogue of the intrusive doubly-linked list named in §3.4/§4.4).
type (
	ValueHandle  uint32
	InstHandle   uint32
	RegionHandle uint32
)

// invalidHandle marks "no defining instruction" / "no parent region".
const invalidHandle = ^uint32(0)

// RegionKind classifies what may legally execute inside a region (§3.4,
// glossary "Collective region"/"SPMD region"); check-ir enforces that
// every instruction's required kind matches its enclosing region's.
type RegionKind int

const (
	RegionMixed RegionKind = iota
	RegionCollective
	RegionSPMD
)

func (k RegionKind) String() string {
	switch k {
	case RegionCollective:
		return "collective"
	case RegionSPMD:
		return "spmd"
	default:
		return "mixed"
	}
}

// ValueDefKind tags whether a Value is a region block parameter or an
// instruction result.
type ValueDefKind int

const (
	DefParam ValueDefKind = iota
	DefResult
)

// Use is one consumer's operand slot referencing a Value, the arena
// analogue of the spec's intrusive {owner, value, prev, next} use node
// (§4.4). OperandIndex identifies which of Owner's Operands slots this
// use occupies, letting RemoveUse patch a specific slot when splicing.
type Use struct {
	Owner        InstHandle
	OperandIndex int
}

// Value is either a region parameter or an instruction result (§3.4).
// Uses is its def-use list. Go has no destructors, so nothing checks it
// automatically when a value is dropped; HasUses is the query a caller
// runs to assert no remaining uses (§4.4, testable property 10).
type Value struct {
	Type TypeHandle
	Name string

	DefKind  ValueDefKind
	DefRegion RegionHandle // valid when DefKind == DefParam
	ParamIdx  int
	DefInst   InstHandle // valid when DefKind == DefResult
	ResultIdx int

	Uses []Use
}

// Region is an ordered instruction list plus typed block parameters
// (§3.4). DefiningInst is invalid for a function body.
type Region struct {
	Kind         RegionKind
	Params       []ValueHandle
	Insts        []InstHandle
	DefiningInst InstHandle
	HasDefiner   bool
}

// Instruction is one opcode application: 0..n operands (uses), 0..n
// results (owned values), 0..n child regions, an attribute dict, and a
// source location (§3.4).
type Instruction struct {
	Op       OpKind
	Operands []ValueHandle
	Results  []ValueHandle
	Regions  []RegionHandle
	Attrs    AttrHandle
	HasAttrs bool
	Loc      ttlcerr.Location
	Parent   RegionHandle
}

// Function is a named kernel: its body region's parameters are the
// function's arguments (§3.4 — "Parameters live as the region's block
// parameters"). Values/Instructions/Regions are per-function arenas.
type Function struct {
	Name  string
	Body  RegionHandle
	Attrs AttrHandle

	Values       []Value
	Instructions []Instruction
	Regions      []Region
}

// Program is an ordered, owned list of functions bound to one Context
// (§3.4).
type Program struct {
	Ctx       *Context
	Functions []Function
	Loc       ttlcerr.Location
}

// NewProgram creates an empty program against ctx.
func NewProgram(ctx *Context) *Program { return &Program{Ctx: ctx} }

// newFunction appends an empty function (with an empty collective body
// region, per §3.4 "kind of a function body is collective") and returns
// its index.
func (p *Program) newFunction(name string) int {
	fn := Function{Name: name}
	fn.Regions = append(fn.Regions, Region{Kind: RegionCollective, DefiningInst: InstHandle(invalidHandle)})
	fn.Body = 0
	p.Functions = append(p.Functions, fn)
	return len(p.Functions) - 1
}

// AddFunction creates a new function named name with parameter types
// paramTypes, bound as the body region's block parameters, and returns
// its index plus the created parameter handles.
func (p *Program) AddFunction(name string, paramTypes []TypeHandle) (int, []ValueHandle) {
	fi := p.newFunction(name)
	fn := &p.Functions[fi]
	params := make([]ValueHandle, len(paramTypes))
	for i, ty := range paramTypes {
		vh := ValueHandle(len(fn.Values))
		fn.Values = append(fn.Values, Value{Type: ty, DefKind: DefParam, DefRegion: fn.Body, ParamIdx: i})
		params[i] = vh
	}
	fn.Regions[fn.Body].Params = params
	return fi, params
}

// NewRegion allocates an empty region of the given kind, owned by inst
// (the instruction that will hold it as a child region), and returns its
// handle. Callers append it to inst.Regions themselves once inst exists.
func (fn *Function) NewRegion(kind RegionKind, owner InstHandle) RegionHandle {
	rh := RegionHandle(len(fn.Regions))
	fn.Regions = append(fn.Regions, Region{Kind: kind, DefiningInst: owner, HasDefiner: owner != InstHandle(invalidHandle)})
	return rh
}

// NewValue allocates a result value of type ty, owned by inst at result
// index idx.
func (fn *Function) NewValue(ty TypeHandle, inst InstHandle, idx int) ValueHandle {
	vh := ValueHandle(len(fn.Values))
	fn.Values = append(fn.Values, Value{Type: ty, DefKind: DefResult, DefInst: inst, ResultIdx: idx})
	return vh
}

// AddUse appends a use of value v at owner's OperandIndex slot to v's
// def-use list (§4.4 "insert use at head of new list" — order doesn't
// matter here since consumers only test set membership, so append is
// sufficient and keeps the arena representation simple).
func (fn *Function) AddUse(v ValueHandle, owner InstHandle, operandIndex int) {
	val := &fn.Values[v]
	val.Uses = append(val.Uses, Use{Owner: owner, OperandIndex: operandIndex})
}

// RemoveUse deletes the use of v owned by owner at operandIndex via
// swap-delete, the arena-friendly analogue of unlinking an intrusive
// list node (§4.4).
func (fn *Function) RemoveUse(v ValueHandle, owner InstHandle, operandIndex int) {
	val := &fn.Values[v]
	for i, u := range val.Uses {
		if u.Owner == owner && u.OperandIndex == operandIndex {
			last := len(val.Uses) - 1
			val.Uses[i] = val.Uses[last]
			val.Uses = val.Uses[:last]
			return
		}
	}
}

// HasUses reports whether v still has any recorded use, the dynamic half
// of testable property 10 ("no dangling uses").
func (fn *Function) HasUses(v ValueHandle) bool { return len(fn.Values[v].Uses) > 0 }

// AppendInst appends a fully-built instruction to region and records a
// use for every operand, wiring def-use per §4.4.
func (fn *Function) AppendInst(region RegionHandle, inst Instruction) InstHandle {
	ih := InstHandle(len(fn.Instructions))
	inst.Parent = region
	fn.Instructions = append(fn.Instructions, inst)
	fn.Regions[region].Insts = append(fn.Regions[region].Insts, ih)
	for i, operand := range inst.Operands {
		fn.AddUse(operand, ih, i)
	}
	return ih
}

// RemoveInst unlinks inst from its parent region's instruction list and
// removes the uses it held on its operands, the inverse of AppendInst.
// The caller must ensure inst.Results have no remaining uses first
// (§3.4 "ownership", testable property 10).
func (fn *Function) RemoveInst(inst InstHandle) {
	in := &fn.Instructions[inst]
	for i, operand := range in.Operands {
		fn.RemoveUse(operand, inst, i)
	}
	region := &fn.Regions[in.Parent]
	for i, h := range region.Insts {
		if h == inst {
			region.Insts = append(region.Insts[:i], region.Insts[i+1:]...)
			break
		}
	}
}

// InsertInstBefore inserts a fully-built instruction into region
// immediately before the instruction at position pos in region.Insts
// (used by passes that splice new instructions in program order, e.g.
// insert-lifetime-stop, insert-barrier).
func (fn *Function) InsertInstBefore(region RegionHandle, pos int, inst Instruction) InstHandle {
	ih := InstHandle(len(fn.Instructions))
	inst.Parent = region
	fn.Instructions = append(fn.Instructions, inst)
	for i, operand := range inst.Operands {
		fn.AddUse(operand, ih, i)
	}
	r := &fn.Regions[region]
	r.Insts = append(r.Insts, 0)
	copy(r.Insts[pos+1:], r.Insts[pos:])
	r.Insts[pos] = ih
	return ih
}
