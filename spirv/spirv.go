// Package spirv lowers post-pass TTL IR into a SPIR-V module and
// serializes it to the binary word stream consumed by Intel's OpenCL and
// Level Zero GPU runtimes (§4.8-§4.9, C8-C10).
package spirv

// Version represents a SPIR-V version.
type Version struct {
	Major uint8
	Minor uint8
}

var (
	Version1_0 = Version{1, 0}
	Version1_3 = Version{1, 3}
	Version1_6 = Version{1, 6}
)

// SPIR-V magic number and header constants.
const (
	MagicNumber = 0x07230203
	GeneratorID = 0x00000000 // unregistered generator
)

// OpCode represents a SPIR-V opcode. Numeric values are the fixed
// Khronos standard, kept in the same table-per-category layout as
// naga's spirv/spirv.go; graphics-only opcodes naga carries (image
// sampling, fragment kill, vector shuffle) are dropped since the only
// execution model this backend ever targets is Kernel.
type OpCode uint16

const (
	OpNop           OpCode = 0
	OpSource        OpCode = 3
	OpName          OpCode = 5
	OpExtension     OpCode = 10
	OpExtInstImport OpCode = 11
	OpExtInst       OpCode = 12
	OpMemoryModel   OpCode = 14
	OpEntryPoint    OpCode = 15
	OpExecutionMode OpCode = 16
	OpCapability    OpCode = 17

	OpTypeVoid         OpCode = 19
	OpTypeBool         OpCode = 20
	OpTypeInt          OpCode = 21
	OpTypeFloat        OpCode = 22
	OpTypeVector       OpCode = 23
	OpTypeArray        OpCode = 28
	OpTypeRuntimeArray OpCode = 29
	OpTypeStruct       OpCode = 30
	OpTypePointer      OpCode = 32
	OpTypeFunction     OpCode = 33

	OpConstantTrue      OpCode = 41
	OpConstantFalse     OpCode = 42
	OpConstant          OpCode = 43
	OpConstantComposite OpCode = 44

	OpFunction          OpCode = 54
	OpFunctionParameter OpCode = 55
	OpFunctionEnd       OpCode = 56
	OpFunctionCall      OpCode = 57
	OpVariable          OpCode = 59
	OpLoad              OpCode = 61
	OpStore             OpCode = 62
	OpAccessChain       OpCode = 65

	OpDecorate       OpCode = 71
	OpMemberDecorate OpCode = 72

	OpCompositeConstruct OpCode = 80
	OpCompositeExtract   OpCode = 81
	OpCompositeInsert    OpCode = 82

	OpConvertFToU OpCode = 109
	OpConvertFToS OpCode = 110
	OpConvertSToF OpCode = 111
	OpConvertUToF OpCode = 112
	OpUConvert    OpCode = 113
	OpSConvert    OpCode = 114
	OpFConvert    OpCode = 115
	OpBitcast     OpCode = 124

	OpSNegate OpCode = 126
	OpFNegate OpCode = 127
	OpIAdd    OpCode = 128
	OpFAdd    OpCode = 129
	OpISub    OpCode = 130
	OpFSub    OpCode = 131
	OpIMul    OpCode = 132
	OpFMul    OpCode = 133
	OpSDiv    OpCode = 135
	OpUDiv    OpCode = 137
	OpSMod    OpCode = 139
	OpFMod    OpCode = 141
	OpUMod    OpCode = 142

	OpLogicalEqual    OpCode = 164
	OpLogicalNotEqual OpCode = 165
	OpLogicalOr       OpCode = 166
	OpLogicalAnd      OpCode = 167
	OpLogicalNot      OpCode = 168
	OpSelect          OpCode = 169

	OpIEqual               OpCode = 170
	OpINotEqual            OpCode = 171
	OpUGreaterThan         OpCode = 172
	OpSGreaterThan         OpCode = 173
	OpUGreaterThanEqual    OpCode = 174
	OpSGreaterThanEqual    OpCode = 175
	OpULessThan            OpCode = 176
	OpSLessThan            OpCode = 177
	OpULessThanEqual       OpCode = 178
	OpSLessThanEqual       OpCode = 179
	OpFOrdEqual            OpCode = 180
	OpFOrdNotEqual         OpCode = 182
	OpFOrdLessThan         OpCode = 184
	OpFOrdGreaterThan      OpCode = 186
	OpFOrdLessThanEqual    OpCode = 188
	OpFOrdGreaterThanEqual OpCode = 190

	OpShiftRightLogical    OpCode = 194
	OpShiftRightArithmetic OpCode = 195
	OpShiftLeftLogical     OpCode = 196
	OpBitwiseOr            OpCode = 197
	OpBitwiseXor           OpCode = 198
	OpBitwiseAnd           OpCode = 199
	OpNot                  OpCode = 200

	OpControlBarrier   OpCode = 224
	OpMemoryBarrier    OpCode = 225
	OpAtomicLoad       OpCode = 227
	OpAtomicStore      OpCode = 228
	OpAtomicExchange   OpCode = 229
	OpAtomicIIncrement OpCode = 232
	OpAtomicIDecrement OpCode = 233
	OpAtomicIAdd       OpCode = 234
	OpAtomicISub       OpCode = 235

	OpLoopMerge         OpCode = 246
	OpSelectionMerge    OpCode = 247
	OpLabel             OpCode = 248
	OpBranch            OpCode = 249
	OpBranchConditional OpCode = 250
	OpReturn            OpCode = 253
	OpReturnValue       OpCode = 254
	OpUnreachable       OpCode = 255
)

// Cooperative-matrix opcodes from the SPV_KHR_cooperative_matrix
// extension, used by the KHR path of lower-coopmatrix's downstream
// codegen (§10.1 DOMAIN STACK).
const (
	OpTypeCooperativeMatrixKHR   OpCode = 4456
	OpCooperativeMatrixLoadKHR   OpCode = 4457
	OpCooperativeMatrixStoreKHR  OpCode = 4458
	OpCooperativeMatrixMulAddKHR OpCode = 4459
	OpCooperativeMatrixLengthKHR OpCode = 4460
)

// Decoration represents a SPIR-V decoration.
type Decoration uint32

const (
	DecorationArrayStride   Decoration = 6
	DecorationFuncParamAttr Decoration = 38
	DecorationLinkageAttributes Decoration = 41
	DecorationAlignment     Decoration = 44
)

// LinkageType values for a DecorationLinkageAttributes decoration, used
// to call externally-defined OpenCL C runtime builtins (get_group_id and
// friends) that this backend never defines itself (§10.1 DOMAIN STACK).
type LinkageType uint32

const (
	LinkageTypeExport LinkageType = 0
	LinkageTypeImport LinkageType = 1
)

// FuncParamAttr values (used with DecorationFuncParamAttr on pointer
// kernel arguments).
type FuncParamAttr uint32

const FuncParamAttrNoAlias FuncParamAttr = 4

// ExecutionModel represents a SPIR-V execution model. This backend only
// ever emits Kernel (§4.8: "Each TTL function becomes one SPIR-V
// OpEntryPoint (Kernel)"), so Kernel is the only value defined here.
type ExecutionModel uint32

const ExecutionModelKernel ExecutionModel = 6

// ExecutionMode represents a SPIR-V execution mode.
type ExecutionMode uint32

const (
	ExecutionModeLocalSize      ExecutionMode = 17
	ExecutionModeLocalSizeHint  ExecutionMode = 18
	ExecutionModeContractionOff ExecutionMode = 31
)

// StorageClass represents a SPIR-V storage class.
type StorageClass uint32

const (
	StorageClassUniformConstant StorageClass = 0
	StorageClassWorkgroup       StorageClass = 4
	StorageClassCrossWorkgroup  StorageClass = 5
	StorageClassPrivate         StorageClass = 6
	StorageClassFunction        StorageClass = 7
	StorageClassGeneric         StorageClass = 8
)

// AddressingModel represents a SPIR-V addressing model. Kernel
// execution always uses a physical addressing model since memref
// pointers are real device addresses, not logical handles.
type AddressingModel uint32

const (
	AddressingModelPhysical32 AddressingModel = 1
	AddressingModelPhysical64 AddressingModel = 2
)

// MemoryModel represents a SPIR-V memory model.
type MemoryModel uint32

const MemoryModelOpenCL MemoryModel = 2

// FunctionControl represents OpFunction's function-control mask.
type FunctionControl uint32

const FunctionControlNone FunctionControl = 0x0

// Capability represents a SPIR-V capability.
type Capability uint32

const (
	CapabilityAddresses            Capability = 4
	CapabilityLinkage              Capability = 5
	CapabilityKernel               Capability = 6
	CapabilityInt8                 Capability = 39
	CapabilityInt16                Capability = 22
	CapabilityInt64                Capability = 11
	CapabilityFloat16              Capability = 9
	CapabilityFloat64              Capability = 10
	CapabilityGroups               Capability = 18
	CapabilityGenericPointer       Capability = 38
	CapabilityCooperativeMatrixKHR Capability = 6022
)

// Memory scope for control/memory barriers and atomics.
const (
	ScopeDevice    uint32 = 1
	ScopeWorkgroup uint32 = 2
	ScopeSubgroup  uint32 = 3
)

// Memory semantics bits for control/memory barriers and atomics.
const (
	MemorySemanticsNone                  uint32 = 0x0
	MemorySemanticsAcquire               uint32 = 0x2
	MemorySemanticsRelease               uint32 = 0x4
	MemorySemanticsAcquireRelease        uint32 = 0x8
	MemorySemanticsSequentiallyConsistent uint32 = 0x10
	MemorySemanticsWorkgroupMemory       uint32 = 0x100
	MemorySemanticsCrossWorkgroupMemory  uint32 = 0x200
)

// SelectionControl flags for OpSelectionMerge.
type SelectionControl uint32

const SelectionControlNone SelectionControl = 0x0

// LoopControl flags for OpLoopMerge.
type LoopControl uint32

const LoopControlNone LoopControl = 0x0

// CooperativeMatrixLayout is the memory layout operand of the
// SPV_KHR_cooperative_matrix load/store instructions.
type CooperativeMatrixLayout uint32

const (
	CooperativeMatrixLayoutRowMajorKHR    CooperativeMatrixLayout = 0
	CooperativeMatrixLayoutColumnMajorKHR CooperativeMatrixLayout = 1
)

// CooperativeMatrixUse is OpTypeCooperativeMatrixKHR's Use operand; its
// values match ir.MatrixUse's ordering (A/B/Accumulator) directly.
type CooperativeMatrixUse uint32

const (
	CooperativeMatrixUseMatrixAKHR           CooperativeMatrixUse = 0
	CooperativeMatrixUseMatrixBKHR           CooperativeMatrixUse = 1
	CooperativeMatrixUseMatrixAccumulatorKHR CooperativeMatrixUse = 2
)
