package spirv

// Instruction is one SPIR-V instruction awaiting serialization: an
// opcode plus its operand words (result type id, result id, operands),
// matching naga's spirv/writer.go Instruction.
type Instruction struct {
	Opcode OpCode
	Words  []uint32
}

// InstructionBuilder accumulates the operand words of one instruction
// before it is sealed with Build, matching naga's InstructionBuilder.
type InstructionBuilder struct {
	words []uint32
}

func NewInstructionBuilder() *InstructionBuilder {
	return &InstructionBuilder{words: make([]uint32, 0, 8)}
}

func (b *InstructionBuilder) AddWord(word uint32) { b.words = append(b.words, word) }

// AddString appends a null-terminated, word-padded UTF-8 string.
func (b *InstructionBuilder) AddString(s string) {
	bytes := []byte(s)
	if len(bytes) == 0 || bytes[len(bytes)-1] != 0 {
		bytes = append(bytes, 0)
	}
	for len(bytes)%4 != 0 {
		bytes = append(bytes, 0)
	}
	for i := 0; i < len(bytes); i += 4 {
		word := uint32(bytes[i]) | uint32(bytes[i+1])<<8 | uint32(bytes[i+2])<<16 | uint32(bytes[i+3])<<24
		b.words = append(b.words, word)
	}
}

func (b *InstructionBuilder) Build(opcode OpCode) Instruction {
	return Instruction{Opcode: opcode, Words: b.words}
}

// ModuleBuilder builds a complete SPIR-V module section by section, in
// the fixed order the Khronos spec requires, matching naga's
// spirv/writer.go ModuleBuilder. Adapted from naga's GLCompute/Vertex/
// Fragment-oriented builder to the single Kernel execution model this
// backend ever emits (§4.8): OpenCL memory model, CrossWorkgroup/
// Workgroup storage classes instead of a descriptor-set/binding model,
// and no image/sampler section since TTL has no texture types.
type ModuleBuilder struct {
	version   Version
	generator uint32
	bound     uint32
	schema    uint32

	capabilities   []Instruction
	extensions     []Instruction
	extInstImports []Instruction
	memoryModel    *Instruction
	entryPoints    []Instruction
	executionModes []Instruction
	debugNames     []Instruction
	annotations    []Instruction
	types          []Instruction
	globalVars     []Instruction
	functions      []Instruction

	nextID uint32
}

func NewModuleBuilder(version Version) *ModuleBuilder {
	return &ModuleBuilder{
		version: version,
		nextID:  1,
	}
}

func (b *ModuleBuilder) AllocID() uint32 {
	id := b.nextID
	b.nextID++
	return id
}

func (b *ModuleBuilder) AddCapability(capability Capability) {
	ib := NewInstructionBuilder()
	ib.AddWord(uint32(capability))
	b.capabilities = append(b.capabilities, ib.Build(OpCapability))
}

func (b *ModuleBuilder) AddExtension(name string) {
	ib := NewInstructionBuilder()
	ib.AddString(name)
	b.extensions = append(b.extensions, ib.Build(OpExtension))
}

func (b *ModuleBuilder) AddExtInstImport(name string) uint32 {
	id := b.AllocID()
	ib := NewInstructionBuilder()
	ib.AddWord(id)
	ib.AddString(name)
	b.extInstImports = append(b.extInstImports, ib.Build(OpExtInstImport))
	return id
}

func (b *ModuleBuilder) SetMemoryModel(addressing AddressingModel, memory MemoryModel) {
	ib := NewInstructionBuilder()
	ib.AddWord(uint32(addressing))
	ib.AddWord(uint32(memory))
	inst := ib.Build(OpMemoryModel)
	b.memoryModel = &inst
}

// AddEntryPoint adds OpEntryPoint. interfaces lists every OpVariable the
// entry point's body touches; for Kernel there are none (arguments pass
// as OpFunctionParameter, not module-scope interface variables), so
// callers typically pass nil.
func (b *ModuleBuilder) AddEntryPoint(execModel ExecutionModel, funcID uint32, name string, interfaces []uint32) {
	ib := NewInstructionBuilder()
	ib.AddWord(uint32(execModel))
	ib.AddWord(funcID)
	ib.AddString(name)
	for _, iface := range interfaces {
		ib.AddWord(iface)
	}
	b.entryPoints = append(b.entryPoints, ib.Build(OpEntryPoint))
}

func (b *ModuleBuilder) AddExecutionMode(entryPoint uint32, mode ExecutionMode, params ...uint32) {
	ib := NewInstructionBuilder()
	ib.AddWord(entryPoint)
	ib.AddWord(uint32(mode))
	for _, p := range params {
		ib.AddWord(p)
	}
	b.executionModes = append(b.executionModes, ib.Build(OpExecutionMode))
}

func (b *ModuleBuilder) AddName(id uint32, name string) {
	ib := NewInstructionBuilder()
	ib.AddWord(id)
	ib.AddString(name)
	b.debugNames = append(b.debugNames, ib.Build(OpName))
}

func (b *ModuleBuilder) AddDecorate(id uint32, decoration Decoration, params ...uint32) {
	ib := NewInstructionBuilder()
	ib.AddWord(id)
	ib.AddWord(uint32(decoration))
	for _, p := range params {
		ib.AddWord(p)
	}
	b.annotations = append(b.annotations, ib.Build(OpDecorate))
}

// AddDecorateLinkage adds an OpDecorate LinkageAttributes, the mechanism
// used to call an externally-defined OpenCL C runtime function (the
// get_group_id family) that this module never defines a body for.
func (b *ModuleBuilder) AddDecorateLinkage(id uint32, name string, linkageType LinkageType) {
	ib := NewInstructionBuilder()
	ib.AddWord(id)
	ib.AddWord(uint32(DecorationLinkageAttributes))
	ib.AddString(name)
	ib.AddWord(uint32(linkageType))
	b.annotations = append(b.annotations, ib.Build(OpDecorate))
}

func (b *ModuleBuilder) AddTypeVoid() uint32 {
	id := b.AllocID()
	ib := NewInstructionBuilder()
	ib.AddWord(id)
	b.types = append(b.types, ib.Build(OpTypeVoid))
	return id
}

func (b *ModuleBuilder) AddTypeBool() uint32 {
	id := b.AllocID()
	ib := NewInstructionBuilder()
	ib.AddWord(id)
	b.types = append(b.types, ib.Build(OpTypeBool))
	return id
}

func (b *ModuleBuilder) AddTypeFloat(width uint32) uint32 {
	id := b.AllocID()
	ib := NewInstructionBuilder()
	ib.AddWord(id)
	ib.AddWord(width)
	b.types = append(b.types, ib.Build(OpTypeFloat))
	return id
}

func (b *ModuleBuilder) AddTypeInt(width uint32, signed bool) uint32 {
	id := b.AllocID()
	ib := NewInstructionBuilder()
	ib.AddWord(id)
	ib.AddWord(width)
	if signed {
		ib.AddWord(1)
	} else {
		ib.AddWord(0)
	}
	b.types = append(b.types, ib.Build(OpTypeInt))
	return id
}

func (b *ModuleBuilder) AddTypeArray(elementType, lengthConstID uint32) uint32 {
	id := b.AllocID()
	ib := NewInstructionBuilder()
	ib.AddWord(id)
	ib.AddWord(elementType)
	ib.AddWord(lengthConstID)
	b.types = append(b.types, ib.Build(OpTypeArray))
	return id
}

func (b *ModuleBuilder) AddTypeRuntimeArray(elementType uint32) uint32 {
	id := b.AllocID()
	ib := NewInstructionBuilder()
	ib.AddWord(id)
	ib.AddWord(elementType)
	b.types = append(b.types, ib.Build(OpTypeRuntimeArray))
	return id
}

func (b *ModuleBuilder) AddTypePointer(storageClass StorageClass, baseType uint32) uint32 {
	id := b.AllocID()
	ib := NewInstructionBuilder()
	ib.AddWord(id)
	ib.AddWord(uint32(storageClass))
	ib.AddWord(baseType)
	b.types = append(b.types, ib.Build(OpTypePointer))
	return id
}

func (b *ModuleBuilder) AddTypeFunction(returnType uint32, paramTypes ...uint32) uint32 {
	id := b.AllocID()
	ib := NewInstructionBuilder()
	ib.AddWord(id)
	ib.AddWord(returnType)
	for _, p := range paramTypes {
		ib.AddWord(p)
	}
	b.types = append(b.types, ib.Build(OpTypeFunction))
	return id
}

func (b *ModuleBuilder) AddTypeStruct(memberTypes ...uint32) uint32 {
	id := b.AllocID()
	ib := NewInstructionBuilder()
	ib.AddWord(id)
	for _, m := range memberTypes {
		ib.AddWord(m)
	}
	b.types = append(b.types, ib.Build(OpTypeStruct))
	return id
}

func (b *ModuleBuilder) AddConstant(typeID uint32, words ...uint32) uint32 {
	id := b.AllocID()
	ib := NewInstructionBuilder()
	ib.AddWord(typeID)
	ib.AddWord(id)
	for _, w := range words {
		ib.AddWord(w)
	}
	b.types = append(b.types, ib.Build(OpConstant))
	return id
}

func (b *ModuleBuilder) AddConstantTrue(typeID uint32) uint32 {
	id := b.AllocID()
	ib := NewInstructionBuilder()
	ib.AddWord(typeID)
	ib.AddWord(id)
	b.types = append(b.types, ib.Build(OpConstantTrue))
	return id
}

func (b *ModuleBuilder) AddConstantFalse(typeID uint32) uint32 {
	id := b.AllocID()
	ib := NewInstructionBuilder()
	ib.AddWord(typeID)
	ib.AddWord(id)
	b.types = append(b.types, ib.Build(OpConstantFalse))
	return id
}

func (b *ModuleBuilder) AddConstantComposite(typeID uint32, constituents ...uint32) uint32 {
	id := b.AllocID()
	ib := NewInstructionBuilder()
	ib.AddWord(typeID)
	ib.AddWord(id)
	for _, c := range constituents {
		ib.AddWord(c)
	}
	b.types = append(b.types, ib.Build(OpConstantComposite))
	return id
}

// AddVariable adds an OpVariable. A Function-storage variable is appended
// to the current function body (codegen's hoisted locals, emitted right
// after the entry label); any other storage class becomes a module-scope
// global (codegen's per-alloca arrays).
func (b *ModuleBuilder) AddVariable(pointerType uint32, storageClass StorageClass) uint32 {
	id := b.AllocID()
	ib := NewInstructionBuilder()
	ib.AddWord(pointerType)
	ib.AddWord(id)
	ib.AddWord(uint32(storageClass))
	if storageClass == StorageClassFunction {
		b.functions = append(b.functions, ib.Build(OpVariable))
		return id
	}
	b.globalVars = append(b.globalVars, ib.Build(OpVariable))
	return id
}

func (b *ModuleBuilder) AddFunction(funcType, returnType uint32, control FunctionControl) uint32 {
	id := b.AllocID()
	ib := NewInstructionBuilder()
	ib.AddWord(returnType)
	ib.AddWord(id)
	ib.AddWord(uint32(control))
	ib.AddWord(funcType)
	b.functions = append(b.functions, ib.Build(OpFunction))
	return id
}

func (b *ModuleBuilder) AddFunctionParameter(typeID uint32) uint32 {
	id := b.AllocID()
	ib := NewInstructionBuilder()
	ib.AddWord(typeID)
	ib.AddWord(id)
	b.functions = append(b.functions, ib.Build(OpFunctionParameter))
	return id
}

func (b *ModuleBuilder) AddLabel() uint32 {
	id := b.AllocID()
	b.AddLabelID(id)
	return id
}

// AddLabelID emits OpLabel for an id allocated earlier (used for loop/if
// control-flow targets, which must be known before the branch that jumps
// to them is emitted).
func (b *ModuleBuilder) AddLabelID(id uint32) {
	ib := NewInstructionBuilder()
	ib.AddWord(id)
	b.functions = append(b.functions, ib.Build(OpLabel))
}

func (b *ModuleBuilder) AddReturn() {
	b.functions = append(b.functions, NewInstructionBuilder().Build(OpReturn))
}

func (b *ModuleBuilder) AddFunctionEnd() {
	b.functions = append(b.functions, NewInstructionBuilder().Build(OpFunctionEnd))
}

func (b *ModuleBuilder) AddBinaryOp(opcode OpCode, resultType, left, right uint32) uint32 {
	resultID := b.AllocID()
	ib := NewInstructionBuilder()
	ib.AddWord(resultType)
	ib.AddWord(resultID)
	ib.AddWord(left)
	ib.AddWord(right)
	b.functions = append(b.functions, ib.Build(opcode))
	return resultID
}

func (b *ModuleBuilder) AddUnaryOp(opcode OpCode, resultType, operand uint32) uint32 {
	resultID := b.AllocID()
	ib := NewInstructionBuilder()
	ib.AddWord(resultType)
	ib.AddWord(resultID)
	ib.AddWord(operand)
	b.functions = append(b.functions, ib.Build(opcode))
	return resultID
}

func (b *ModuleBuilder) AddLoad(resultType, pointer uint32) uint32 {
	resultID := b.AllocID()
	ib := NewInstructionBuilder()
	ib.AddWord(resultType)
	ib.AddWord(resultID)
	ib.AddWord(pointer)
	b.functions = append(b.functions, ib.Build(OpLoad))
	return resultID
}

func (b *ModuleBuilder) AddStore(pointer, value uint32) {
	ib := NewInstructionBuilder()
	ib.AddWord(pointer)
	ib.AddWord(value)
	b.functions = append(b.functions, ib.Build(OpStore))
}

func (b *ModuleBuilder) AddAccessChain(resultType, base uint32, indices ...uint32) uint32 {
	resultID := b.AllocID()
	ib := NewInstructionBuilder()
	ib.AddWord(resultType)
	ib.AddWord(resultID)
	ib.AddWord(base)
	for _, idx := range indices {
		ib.AddWord(idx)
	}
	b.functions = append(b.functions, ib.Build(OpAccessChain))
	return resultID
}

func (b *ModuleBuilder) AddCompositeExtract(resultType, composite uint32, indices ...uint32) uint32 {
	resultID := b.AllocID()
	ib := NewInstructionBuilder()
	ib.AddWord(resultType)
	ib.AddWord(resultID)
	ib.AddWord(composite)
	for _, idx := range indices {
		ib.AddWord(idx)
	}
	b.functions = append(b.functions, ib.Build(OpCompositeExtract))
	return resultID
}

func (b *ModuleBuilder) AddSelect(resultType, condition, accept, reject uint32) uint32 {
	resultID := b.AllocID()
	ib := NewInstructionBuilder()
	ib.AddWord(resultType)
	ib.AddWord(resultID)
	ib.AddWord(condition)
	ib.AddWord(accept)
	ib.AddWord(reject)
	b.functions = append(b.functions, ib.Build(OpSelect))
	return resultID
}

func (b *ModuleBuilder) AddSelectionMerge(mergeLabel uint32, control SelectionControl) {
	ib := NewInstructionBuilder()
	ib.AddWord(mergeLabel)
	ib.AddWord(uint32(control))
	b.functions = append(b.functions, ib.Build(OpSelectionMerge))
}

func (b *ModuleBuilder) AddLoopMerge(mergeLabel, continueLabel uint32, control LoopControl) {
	ib := NewInstructionBuilder()
	ib.AddWord(mergeLabel)
	ib.AddWord(continueLabel)
	ib.AddWord(uint32(control))
	b.functions = append(b.functions, ib.Build(OpLoopMerge))
}

func (b *ModuleBuilder) AddBranch(label uint32) {
	ib := NewInstructionBuilder()
	ib.AddWord(label)
	b.functions = append(b.functions, ib.Build(OpBranch))
}

func (b *ModuleBuilder) AddBranchConditional(condition, trueLabel, falseLabel uint32) {
	ib := NewInstructionBuilder()
	ib.AddWord(condition)
	ib.AddWord(trueLabel)
	ib.AddWord(falseLabel)
	b.functions = append(b.functions, ib.Build(OpBranchConditional))
}

// AddControlBarrier adds OpControlBarrier, used to realize a `barrier`
// instruction's fence flags (§4.8: "barrier -> OpControlBarrier/
// OpMemoryBarrier with Workgroup scope and AcquireRelease |
// CrossWorkgroup|Workgroup semantics per fence flags").
func (b *ModuleBuilder) AddControlBarrier(execution, memory, semanticsConstID uint32) {
	ib := NewInstructionBuilder()
	ib.AddWord(execution)
	ib.AddWord(memory)
	ib.AddWord(semanticsConstID)
	b.functions = append(b.functions, ib.Build(OpControlBarrier))
}

// AddAtomicIAdd adds OpAtomicIAdd, used by a store instruction whose
// Atomic flag marks it as lower-linalg's accumulation into a shared
// reduction target (§10.1 DOMAIN STACK).
func (b *ModuleBuilder) AddAtomicIAdd(resultType, pointer, scope, semantics, value uint32) uint32 {
	resultID := b.AllocID()
	ib := NewInstructionBuilder()
	ib.AddWord(resultType)
	ib.AddWord(resultID)
	ib.AddWord(pointer)
	ib.AddWord(scope)
	ib.AddWord(semantics)
	ib.AddWord(value)
	b.functions = append(b.functions, ib.Build(OpAtomicIAdd))
	return resultID
}

func (b *ModuleBuilder) AddFunctionCall(resultType, function uint32, args ...uint32) uint32 {
	resultID := b.AllocID()
	ib := NewInstructionBuilder()
	ib.AddWord(resultType)
	ib.AddWord(resultID)
	ib.AddWord(function)
	for _, a := range args {
		ib.AddWord(a)
	}
	b.functions = append(b.functions, ib.Build(OpFunctionCall))
	return resultID
}

// AddTypeCooperativeMatrixKHR adds an OpTypeCooperativeMatrixKHR, used by
// CoopmatrixType's lowering (§10.1 DOMAIN STACK).
func (b *ModuleBuilder) AddTypeCooperativeMatrixKHR(component, scope, rows, cols, use uint32) uint32 {
	id := b.AllocID()
	ib := NewInstructionBuilder()
	ib.AddWord(id)
	ib.AddWord(component)
	ib.AddWord(scope)
	ib.AddWord(rows)
	ib.AddWord(cols)
	ib.AddWord(use)
	b.types = append(b.types, ib.Build(OpTypeCooperativeMatrixKHR))
	return id
}

func (b *ModuleBuilder) AddCooperativeMatrixLoadKHR(resultType, pointer, layout uint32, memoryOperands ...uint32) uint32 {
	resultID := b.AllocID()
	ib := NewInstructionBuilder()
	ib.AddWord(resultType)
	ib.AddWord(resultID)
	ib.AddWord(pointer)
	ib.AddWord(layout)
	for _, m := range memoryOperands {
		ib.AddWord(m)
	}
	b.functions = append(b.functions, ib.Build(OpCooperativeMatrixLoadKHR))
	return resultID
}

func (b *ModuleBuilder) AddCooperativeMatrixStoreKHR(pointer, object, layout uint32, memoryOperands ...uint32) {
	ib := NewInstructionBuilder()
	ib.AddWord(pointer)
	ib.AddWord(object)
	ib.AddWord(layout)
	for _, m := range memoryOperands {
		ib.AddWord(m)
	}
	b.functions = append(b.functions, ib.Build(OpCooperativeMatrixStoreKHR))
}

func (b *ModuleBuilder) AddCooperativeMatrixMulAddKHR(resultType, a, bOperand, c uint32) uint32 {
	resultID := b.AllocID()
	ib := NewInstructionBuilder()
	ib.AddWord(resultType)
	ib.AddWord(resultID)
	ib.AddWord(a)
	ib.AddWord(bOperand)
	ib.AddWord(c)
	b.functions = append(b.functions, ib.Build(OpCooperativeMatrixMulAddKHR))
	return resultID
}

func (b *ModuleBuilder) AddExtInst(resultType, extSet, instruction uint32, operands ...uint32) uint32 {
	resultID := b.AllocID()
	ib := NewInstructionBuilder()
	ib.AddWord(resultType)
	ib.AddWord(resultID)
	ib.AddWord(extSet)
	ib.AddWord(instruction)
	for _, op := range operands {
		ib.AddWord(op)
	}
	b.functions = append(b.functions, ib.Build(OpExtInst))
	return resultID
}
