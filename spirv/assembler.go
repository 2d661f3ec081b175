package spirv

import "encoding/binary"

// Encode serializes one instruction to its word stream: a header word
// `(word_count << 16) | opcode` followed by the operand words (§4.9),
// matching naga's spirv/writer.go Instruction.Encode.
func (i Instruction) Encode() []uint32 {
	wordCount := uint32(len(i.Words) + 1)
	out := make([]uint32, 0, wordCount)
	out = append(out, (wordCount<<16)|uint32(i.Opcode))
	out = append(out, i.Words...)
	return out
}

// Assemble serializes the module to the little-endian 32-bit word
// stream: the SPIR-V header (magic, version, generator, id bound,
// schema) followed by every section in the fixed Khronos order,
// matching naga's spirv/writer.go ModuleBuilder.Build. Grounded on
// spec.md §4.9's byte-for-byte description of the header and section
// layout.
func (b *ModuleBuilder) Assemble() []byte {
	b.bound = b.nextID

	totalWords := 5
	totalWords += countWords(b.capabilities)
	totalWords += countWords(b.extensions)
	totalWords += countWords(b.extInstImports)
	if b.memoryModel != nil {
		totalWords += len(b.memoryModel.Encode())
	}
	totalWords += countWords(b.entryPoints)
	totalWords += countWords(b.executionModes)
	totalWords += countWords(b.debugNames)
	totalWords += countWords(b.annotations)
	totalWords += countWords(b.types)
	totalWords += countWords(b.globalVars)
	totalWords += countWords(b.functions)

	buf := make([]byte, totalWords*4)
	off := 0
	off = putWord(buf, off, MagicNumber)
	off = putWord(buf, off, versionToWord(b.version))
	off = putWord(buf, off, b.generator)
	off = putWord(buf, off, b.bound)
	off = putWord(buf, off, b.schema)

	off = writeInstructions(buf, off, b.capabilities)
	off = writeInstructions(buf, off, b.extensions)
	off = writeInstructions(buf, off, b.extInstImports)
	if b.memoryModel != nil {
		off = writeInstruction(buf, off, *b.memoryModel)
	}
	off = writeInstructions(buf, off, b.entryPoints)
	off = writeInstructions(buf, off, b.executionModes)
	off = writeInstructions(buf, off, b.debugNames)
	off = writeInstructions(buf, off, b.annotations)
	off = writeInstructions(buf, off, b.types)
	off = writeInstructions(buf, off, b.globalVars)
	_ = writeInstructions(buf, off, b.functions)

	return buf
}

func countWords(insts []Instruction) int {
	n := 0
	for _, inst := range insts {
		n += len(inst.Encode())
	}
	return n
}

func writeInstructions(buf []byte, off int, insts []Instruction) int {
	for _, inst := range insts {
		off = writeInstruction(buf, off, inst)
	}
	return off
}

func writeInstruction(buf []byte, off int, inst Instruction) int {
	for _, w := range inst.Encode() {
		off = putWord(buf, off, w)
	}
	return off
}

func putWord(buf []byte, off int, w uint32) int {
	binary.LittleEndian.PutUint32(buf[off:], w)
	return off + 4
}

func versionToWord(v Version) uint32 {
	return uint32(v.Major)<<16 | uint32(v.Minor)<<8
}
