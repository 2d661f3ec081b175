// Package ir implements the TTL compiler's language-neutral intermediate
// representation: a hash-consed attribute/type uniquer (C1-C3) and a
// mutable program/function/region/instruction/value graph (C4), together
// with the builder/verifier that constructs and checks it (C5).
//
// The IR is deliberately narrow: it models batched BLAS-like tensor
// kernels with optional cooperative-matrix operations, not a general
// SSA language. See the package-level doc comments on types.go, attr.go,
// and ir.go for the exact variant sets.
package ir

import (
	"hash"
	"hash/fnv"
	"sync/atomic"

	"github.com/gogpu/ttlc/ttlcerr"
)

// TriState is the three-valued setting an optimization flag can take:
// the flag's own default, or an explicit override.
type TriState int

const (
	FlagDefault TriState = iota
	FlagDisabled
	FlagEnabled
)

// source is one registered (name, text) pair, addressed by a 1-based id.
type source struct {
	name string
	text string
}

// Context owns every hash-consed Type and Attr created against it, the
// source-text table used to render diagnostics, the error reporter, and
// the optimization settings. It is the Go analogue of tinytc_compiler_context:
// reference-counted because FFI-style callers retain/release it, but
// single-writer like every other IR structure (ir/context.go, §3.1, §5).
type Context struct {
	refcount atomic.Int32

	sources []source

	typeUniquer *uniquer[Type]
	attrUniquer *uniquer[Attr]

	reporter ttlcerr.Reporter

	optLevel int
	optFlags map[string]TriState

	// singletons, filled lazily
	voidTy TypeHandle
	boolTy TypeHandle
	hasVoid, hasBool bool
}

// NewContext creates a context with one reference already held and the
// default stderr reporter installed.
func NewContext() *Context {
	c := &Context{
		typeUniquer: newUniquer[Type](),
		attrUniquer: newUniquer[Attr](),
		reporter:    ttlcerr.DefaultReporter,
		optFlags:    make(map[string]TriState),
	}
	c.refcount.Store(1)
	return c
}

// Retain increments the reference count, matching tinytc_compiler_context_retain.
func (c *Context) Retain() { c.refcount.Add(1) }

// Release decrements the reference count. The caller must not use c after
// the count reaches zero; there is nothing further to free on the Go side
// since the garbage collector reclaims the uniquer tables, but the count
// is kept so embedding code (e.g. a future cgo shim) can rely on the same
// retain/release discipline the spec requires (§5).
func (c *Context) Release() { c.refcount.Add(-1) }

// AddSource registers a (name, text) pair and returns its stable 1-based
// source id, per §4.1 add_source.
func (c *Context) AddSource(name, text string) int {
	c.sources = append(c.sources, source{name: name, text: text})
	return len(c.sources)
}

// SourceText returns the text registered for id, or "" if id is invalid.
func (c *Context) SourceText(id int) string {
	if id < 1 || id > len(c.sources) {
		return ""
	}
	return c.sources[id-1].text
}

// SourceName returns the name registered for id, or "" if id is invalid.
func (c *Context) SourceName(id int) string {
	if id < 1 || id > len(c.sources) {
		return ""
	}
	return c.sources[id-1].name
}

// SetReporter installs the callback invoked by ReportError.
func (c *Context) SetReporter(r ttlcerr.Reporter) { c.reporter = r }

// ReportError formats the error's source snippet (when the location names
// a registered source) and forwards it to the installed reporter, per
// §4.1 report_error.
func (c *Context) ReportError(err *ttlcerr.CompilationError) {
	if c.reporter == nil {
		return
	}
	text := ""
	for _, s := range c.sources {
		if s.name == err.Location.Source {
			text = s.text
			break
		}
	}
	c.reporter(err.Location.Source, text, err)
}

// SetOptimizationLevel sets the 0-2 optimization level (§3.1 d).
func (c *Context) SetOptimizationLevel(level int) { c.optLevel = level }

// OptimizationLevel returns the current optimization level.
func (c *Context) OptimizationLevel() int { return c.optLevel }

// SetOptimizationFlag overrides a named tri-state flag, e.g. "unsafe-fp-math".
func (c *Context) SetOptimizationFlag(name string, state TriState) {
	c.optFlags[name] = state
}

// OptimizationFlag returns the effective state of a named flag, defaulting
// to FlagDefault when unset.
func (c *Context) OptimizationFlag(name string) TriState {
	return c.optFlags[name]
}

// uniquer is the generic hash-cons table shared by Type and Attr: a
// map[uint64][]entry bucket keyed by a 64-bit FNV-1a structural hash,
// collisions resolved by linear scan with structural equality (§4.1,
// §9 "Hash-consing"). It generalizes ir/registry.go's string-keyed
// TypeRegistry.GetOrCreate to the spec's numeric-hash requirement.
type uniquer[T any] struct {
	buckets map[uint64][]uint32
	values  []T
}

func newUniquer[T any]() *uniquer[T] {
	return &uniquer[T]{buckets: make(map[uint64][]uint32)}
}

// getOrCreate returns the handle (index into values) of an existing entry
// structurally equal to payload (per eq), or appends a freshly built one.
func (u *uniquer[T]) getOrCreate(hash uint64, eq func(T) bool, make func() T) uint32 {
	for _, idx := range u.buckets[hash] {
		if eq(u.values[idx]) {
			return idx
		}
	}
	idx := uint32(len(u.values))
	u.values = append(u.values, make())
	u.buckets[hash] = append(u.buckets[hash], idx)
	return idx
}

func (u *uniquer[T]) get(idx uint32) T { return u.values[idx] }

// newHash starts an FNV-1a digest for a structural payload; callers feed
// it a stable byte encoding of the value's fields via writeHash and read
// the final digest with Sum64.
func newHash() hash.Hash64 { return fnv.New64a() }

func writeHash(h hash.Hash64, b []byte) { h.Write(b) }
