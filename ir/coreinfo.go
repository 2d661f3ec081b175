package ir

// GemmMNK is one matrix-extension-supported GEMM tile shape (M, N, K),
// mirroring matrix_ext_info.hpp's gemm_mnk.
type GemmMNK struct{ M, N, K int64 }

// MatrixExtType describes one matrix-extension-accelerated precision
// combination: operand kinds a/b, the accumulator kinds it supports, and
// the (M, N, K) tile shapes it is implemented for. Grounded on
// original_source/src/matrix_ext_info.hpp's matrix_ext_type.
type MatrixExtType struct {
	A, B ScalarKind
	Acc  []ScalarKind
	MNK  []GemmMNK
}

func (t MatrixExtType) haveAcc(acc ScalarKind) bool {
	for _, a := range t.Acc {
		if a == acc {
			return true
		}
	}
	return false
}

func (t MatrixExtType) haveMNK(m, n, k int64) bool {
	for _, mnk := range t.MNK {
		if (mnk.M == Dynamic || mnk.M == m) && (mnk.N == Dynamic || mnk.N == n) && (mnk.K == Dynamic || mnk.K == k) {
			return true
		}
	}
	return false
}

// MatrixExtBlockIOInfo is the device's 2-D block-load/store constraint
// set, checked by lower-coopmatrix before mapping a coopmatrix load/store
// onto the hardware block-i/o instruction. Grounded verbatim on
// original_source/src/matrix_ext_info.hpp's matrix_ext_block_io_info.
type MatrixExtBlockIOInfo struct {
	BaseAddressAlignment int32
	MinStride, MaxStride int32
	Pos0Alignment        int32
	StrideAlignment      int32
	WidthAlignment       int32
}

// MatrixExtInfo is one subgroup size's matrix-extension capability set,
// grounded on original_source/src/matrix_ext_info.hpp's matrix_ext_info.
type MatrixExtInfo struct {
	RequiredSubgroupSize int32
	BlockIO              MatrixExtBlockIOInfo
	Types                []MatrixExtType
}

// HaveDPAS reports whether this subgroup size has any matrix-extension
// precision support at all.
func (m MatrixExtInfo) HaveDPAS() bool { return len(m.Types) > 0 }

func (m MatrixExtInfo) precisionFor(a, b ScalarKind) (MatrixExtType, bool) {
	for _, t := range m.Types {
		if t.A == a && t.B == b {
			return t, true
		}
	}
	return MatrixExtType{}, false
}

// HavePrecision reports whether the extension supports a/b operands
// accumulating into acc.
func (m MatrixExtInfo) HavePrecision(a, b, acc ScalarKind) bool {
	t, ok := m.precisionFor(a, b)
	return ok && t.haveAcc(acc)
}

// HaveGemm reports whether the extension can perform a (M, N, K) GEMM
// with operand kinds a, b, accumulator c and result kind d (c and d must
// agree, matching how the extension always accumulates in place).
func (m MatrixExtInfo) HaveGemm(a, b, c, d ScalarKind, mTile, n, k int64) bool {
	if c != d {
		return false
	}
	t, ok := m.precisionFor(a, b)
	return ok && t.haveAcc(c) && t.haveMNK(mTile, n, k)
}

// HaveType reports whether a coopmatrix of the given component/shape/use
// could in principle be realized through the matrix extension (ignoring
// operand-pairing, which HaveGemm/HavePrecision check separately).
func (m MatrixExtInfo) HaveType(sty ScalarKind, rows, cols int64, use MatrixUse) bool {
	for _, t := range m.Types {
		if t.A == sty || t.B == sty || t.haveAcc(sty) {
			return rows > 0 && cols > 0
		}
	}
	return false
}

// CoreConfig is the per-subgroup-size resource limit set consulted by
// work-group-size inference, mirroring the original's core_config
// (returned by tinytc_core_info::get_core_config).
type CoreConfig struct {
	MaxWorkGroupSize int32
}

// CoreInfo describes one target device's capabilities consulted by the
// C7 transform passes and the SPIR-V backend (SPEC_FULL.md §10 DOMAIN
// STACK): subgroup sizes it supports, the default memref alignment used
// when a parameter carries no explicit "alignment" attribute, its
// matrix-extension capability table keyed by subgroup size, its
// per-subgroup-size resource limits, and the SPIR-V capability/extension
// names the backend must declare for it.
type CoreInfo struct {
	SubgroupSizes    []int32
	DefaultAlignment int32
	MatrixExtTable   map[int32]MatrixExtInfo
	CoreConfigTable  map[int32]CoreConfig
	Capabilities     []string
	Extensions       []string
}

// MatrixExt returns the matrix-extension capability set for subgroupSize,
// if the device has one.
func (c *CoreInfo) MatrixExt(subgroupSize int32) (MatrixExtInfo, bool) {
	m, ok := c.MatrixExtTable[subgroupSize]
	return m, ok
}

// GetCoreConfig returns the resource limits for subgroupSize, if known.
func (c *CoreInfo) GetCoreConfig(subgroupSize int32) (CoreConfig, bool) {
	cfg, ok := c.CoreConfigTable[subgroupSize]
	return cfg, ok
}

// SupportsSubgroupSize reports whether sgs is one of the device's
// supported subgroup sizes.
func (c *CoreInfo) SupportsSubgroupSize(sgs int32) bool {
	for _, s := range c.SubgroupSizes {
		if s == sgs {
			return true
		}
	}
	return false
}

// PVCCoreInfo returns a CoreInfo modeling Intel's Ponte Vecchio (Xe-HPC)
// GPU: subgroup sizes {16, 32}, DPAS support for bf16/f16 operands
// accumulating in f32, and the 2-D block-i/o alignment constraints Xe-HPC
// imposes. Grounded on the shape of
// original_source/src/matrix_ext_info.hpp's pvc_matrix_ext_types
// (the table's exact contents are PVC-internal constants not present in
// the filtered original_source tree, so the entries here are a
// plausible, documented approximation rather than a verbatim port).
func PVCCoreInfo() *CoreInfo {
	blockIO := MatrixExtBlockIOInfo{
		BaseAddressAlignment: 8,
		MinStride:            8,
		MaxStride:            1 << 20,
		Pos0Alignment:        1,
		StrideAlignment:      8,
		WidthAlignment:       4,
	}
	dpasTypes := []MatrixExtType{
		{A: ScalarBF16, B: ScalarBF16, Acc: []ScalarKind{ScalarF32}, MNK: []GemmMNK{{M: 8, N: 16, K: 16}}},
		{A: ScalarF16, B: ScalarF16, Acc: []ScalarKind{ScalarF32}, MNK: []GemmMNK{{M: 8, N: 16, K: 16}}},
	}
	return &CoreInfo{
		SubgroupSizes:    []int32{16, 32},
		DefaultAlignment: 16,
		MatrixExtTable: map[int32]MatrixExtInfo{
			16: {RequiredSubgroupSize: 16, BlockIO: blockIO, Types: dpasTypes},
		},
		CoreConfigTable: map[int32]CoreConfig{
			16: {MaxWorkGroupSize: 1024},
			32: {MaxWorkGroupSize: 1024},
		},
		Capabilities: []string{"Shader", "Int64", "Float16", "Int16"},
	}
}
