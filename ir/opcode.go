package ir

// OpKind is the closed sum type of instruction opcodes (§3.4 "Opcode
// set"), grounded on original_source/src/node/inst_node.hpp's
// arith_inst/blas_a2_inst/blas_a3_inst/loop_inst class hierarchy, adapted
// to naga's ExpressionKind/StatementKind closed-interface idiom
// (ir/expression.go, ir/statement.go): each concrete struct carries only
// the opcode's own enum/literal parameters, while the operand and result
// Values it reads/produces live in the owning Instruction's Operands and
// Results slices, in the fixed per-opcode order documented below.
type OpKind interface{ opKind() }

// ExecutionKind reports whether an opcode may appear in a collective
// region, an spmd region, or either ("mixed"), per §3.4's per-opcode
// table and the inst_kind field on every original inst_node subclass.
type ExecutionKind int

const (
	KindMixed ExecutionKind = iota
	KindCollective
	KindSPMD
)

// ExecutionKindOf returns the opcode's required execution kind, used by
// check-ir (testable property 3).
func ExecutionKindOf(o OpKind) ExecutionKind {
	switch o.(type) {
	case Alloca, Barrier, Parallel, LifetimeStop,
		Axpby, Sum, Gemm, Gemv, Ger, Hadamard:
		return KindCollective
	case SubgroupID, SubgroupLocalID:
		return KindSPMD
	default:
		return KindMixed
	}
}

// ArithOp enumerates arith's binary operators (§3.4).
type ArithOp int

const (
	ArithAdd ArithOp = iota
	ArithSub
	ArithMul
	ArithDiv
	ArithRem
	ArithShl
	ArithShr
	ArithAnd
	ArithOr
	ArithXor
	ArithMin
	ArithMax
)

// Arith: two scalars or two coopmatrices of identical type; operands
// [a, b]; results [result].
type Arith struct{ Op ArithOp }

func (Arith) opKind() {}

// ArithUnaryOp enumerates arith_unary's operators (§3.4).
type ArithUnaryOp int

const (
	ArithNeg ArithUnaryOp = iota
	ArithNot
	ArithAbs
)

// ArithUnary: operands [a]; results [result].
type ArithUnary struct{ Op ArithUnaryOp }

func (ArithUnary) opKind() {}

// CmpCond enumerates cmp's comparison operators (§3.4).
type CmpCond int

const (
	CmpEQ CmpCond = iota
	CmpNE
	CmpGT
	CmpGE
	CmpLT
	CmpLE
)

// Cmp: operands [a, b]; result is bool; results [result].
type Cmp struct{ Cond CmpCond }

func (Cmp) opKind() {}

// Cast: scalar->scalar or coopmatrix->coopmatrix (component only).
// operands [a]; results [result] of type ToType.
type Cast struct{ ToType TypeHandle }

func (Cast) opKind() {}

// ConstantValue is the literal payload of a constant instruction: either
// an integer or a floating-point bit pattern, tagged by the result type.
type ConstantValue struct {
	Int   int64
	Float float64
	IsInt bool
}

// Constant: no operands; results [result] of type Type.
type Constant struct {
	Value ConstantValue
	Type  TypeHandle
}

func (Constant) opKind() {}

// Alloca: allocates a memref in local address space. No operands;
// results [result]; StackPtr is assigned by transform.SetStackPtr (C7
// step 3) and starts at -1 (unassigned), mirroring alloca_inst::stack_ptr.
type Alloca struct {
	ResultType TypeHandle
	StackPtr   int64
}

func (Alloca) opKind() {}

// Load: operands [src, indices...]; results [result] (scalar, or group
// element when src is a group type). Align is filled in by
// alignment-propagation (0 means "unknown").
type Load struct {
	NumIndices int
	Align      int32
}

func (Load) opKind() {}

// Store: operands [val, dst, indices...]; no results. Align is filled in
// by alignment-propagation (0 means "unknown"). Atomic marks a store
// lower-linalg emitted on behalf of a BLAS primitive with its own Atomic
// flag set, telling codegen to emit an atomic add instead of a plain
// store.
type Store struct {
	NumIndices int
	Align      int32
	Atomic     bool
}

func (Store) opKind() {}

// Expand: splits dimension Mode of the operand memref into NewShape.
// operands [src]; results [result].
type Expand struct {
	Mode     int
	NewShape []int64 // static entries; Dynamic marks an unknown entry (no operand supplies it)
}

func (Expand) opKind() {}

// Fuse: collapses dimensions [From, To] of the operand memref.
// operands [src]; results [result].
type Fuse struct{ From, To int }

func (Fuse) opKind() {}

// Subview: slices the operand memref. operands
// [src, offsets..., sizes...]; results [result].
type Subview struct{ NumIndices int }

func (Subview) opKind() {}

// Size: mode's extent as an index value. operands [src]; results [result].
type Size struct{ Mode int }

func (Size) opKind() {}

// Transpose flags tA/tB on the BLAS primitives (§3.4).
type Transpose int

const (
	NoTrans Transpose = iota
	Trans
)

// Axpby: B := alpha*opA(A) + beta*B. operands [alpha, A, beta, B]; no results.
type Axpby struct {
	TA     Transpose
	Atomic bool
}

func (Axpby) opKind() {}

// Sum: B := alpha*reduce(opA(A)) + beta*B. operands [alpha, A, beta, B]; no results.
type Sum struct {
	TA     Transpose
	Atomic bool
}

func (Sum) opKind() {}

// Gemm: C := alpha*opA(A)*opB(B) + beta*C. operands [alpha, A, B, beta, C]; no results.
type Gemm struct {
	TA, TB Transpose
	Atomic bool
}

func (Gemm) opKind() {}

// Gemv: y := alpha*opA(A)*x + beta*y. operands [alpha, A, x, beta, y]; no results.
type Gemv struct {
	TA     Transpose
	Atomic bool
}

func (Gemv) opKind() {}

// Ger: C := alpha*x*y^T + beta*C. operands [alpha, x, y, beta, C]; no results.
type Ger struct{ Atomic bool }

func (Ger) opKind() {}

// Hadamard: C := alpha*(A .* B) + beta*C. operands [alpha, A, B, beta, C]; no results.
type Hadamard struct{ Atomic bool }

func (Hadamard) opKind() {}

// CoopmatrixLoad: loads a 2-D tile from a memref. operands [src, pos0, pos1]; results [result].
// Align is filled in by alignment-propagation (0 means "unknown").
type CoopmatrixLoad struct {
	ResultType TypeHandle
	Transpose  bool
	Align      int32
}

func (CoopmatrixLoad) opKind() {}

// CoopStoreFlag enumerates coopmatrix_store's store semantics.
type CoopStoreFlag int

const (
	CoopStoreRegular CoopStoreFlag = iota
	CoopStoreAtomicAdd
)

// CoopmatrixStore: operands [val, dst, pos0, pos1]; no results. Align is
// filled in by alignment-propagation (0 means "unknown").
type CoopmatrixStore struct {
	Flag  CoopStoreFlag
	Align int32
}

func (CoopmatrixStore) opKind() {}

// CoopmatrixMulAdd: d := a*b + c, with matching M/N/K shapes (§4.5).
// operands [a, b, c]; results [result].
type CoopmatrixMulAdd struct{}

func (CoopmatrixMulAdd) opKind() {}

// CoopmatrixScale: operands [alpha, b]; results [result].
type CoopmatrixScale struct{}

func (CoopmatrixScale) opKind() {}

// CoopmatrixApply: element-wise application of a scalar function region
// over every component. operands [b]; regions [body]; results [result].
type CoopmatrixApply struct{}

func (CoopmatrixApply) opKind() {}

// For: operands [from, to, step?, init_values...]; regions [body]; body
// parameters are [loop_var, iter_args...]; results mirror init_values.
// body kind is mixed (§3.4).
type For struct {
	LoopVarType TypeHandle
	HasStep     bool
}

func (For) opKind() {}

// Foreach: operands [from, to]; regions [body]; body kind is spmd; no
// results (§3.4).
type Foreach struct{ LoopVarType TypeHandle }

func (Foreach) opKind() {}

// If: operands [cond]; regions [then, else?]; both regions yield the
// same result shape (§3.4, testable property 4).
type If struct{ ResultTypes []TypeHandle }

func (If) opKind() {}

// Parallel: switches enclosing kind from collective to spmd.
// regions [body]; no operands, no results.
type Parallel struct{}

func (Parallel) opKind() {}

// Yield: operands are the yielded values; must be the terminator of a
// region that yields values (§3.4).
type Yield struct{}

func (Yield) opKind() {}

// GroupID/GroupSize/NumSubgroups/SubgroupID/SubgroupLocalID/SubgroupSize:
// no operands; results [result] (index or i32 per §4.8).
type (
	GroupID         struct{}
	GroupSize       struct{}
	NumSubgroups    struct{}
	SubgroupID      struct{}
	SubgroupLocalID struct{}
	SubgroupSize    struct{}
)

func (GroupID) opKind()         {}
func (GroupSize) opKind()       {}
func (NumSubgroups) opKind()    {}
func (SubgroupID) opKind()      {}
func (SubgroupLocalID) opKind() {}
func (SubgroupSize) opKind()    {}

// SubgroupBroadcast: operands [a, lane]; results [result].
type SubgroupBroadcast struct{}

func (SubgroupBroadcast) opKind() {}

// FenceFlags is a bitset over address spaces, carried by barrier (§3.4,
// glossary "Fence flags").
type FenceFlags uint32

const (
	FenceGlobal FenceFlags = 1 << iota
	FenceLocal
)

// Barrier: no operands, no results; collective-only.
type Barrier struct{ Flags FenceFlags }

func (Barrier) opKind() {}

// LifetimeStop: paired with Alloca; inserted by transform.InsertLifetimeStop
// (C7 step 2). operands [obj]; no results.
type LifetimeStop struct{}

func (LifetimeStop) opKind() {}
