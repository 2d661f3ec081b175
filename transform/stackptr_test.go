package transform

import (
	"testing"

	"github.com/gogpu/ttlc/ir"
	"github.com/gogpu/ttlc/ttlcerr"
)

func allocaF32x4(t *testing.T, ctx *ir.Context) ir.TypeHandle {
	t.Helper()
	f32 := ctx.ScalarTypeGet(ir.ScalarF32)
	memref, err := ctx.MemrefTypeGet(f32, []int64{4}, ir.CanonicalStride([]int64{4}), ir.AddressLocal, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("MemrefTypeGet: %v", err)
	}
	return memref
}

func TestSetStackPtrReusesFreedSlot(t *testing.T) {
	ctx := ir.NewContext()
	prog := ir.NewProgram(ctx)
	memref := allocaF32x4(t, ctx)

	fi, _ := prog.AddFunction("reuse_slot", nil)
	fn := &prog.Functions[fi]
	b := ir.NewBuilder(ctx, fn, fn.Body)

	a, err := b.Alloca(memref, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("Alloca a: %v", err)
	}
	b.LifetimeStop(a, ttlcerr.Location{})
	c, err := b.Alloca(memref, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("Alloca c: %v", err)
	}

	if err := SetStackPtr(ctx, fn); err != nil {
		t.Fatalf("SetStackPtr: %v", err)
	}

	aPtr := fn.Instructions[fn.Values[a].DefInst].Op.(ir.Alloca).StackPtr
	cPtr := fn.Instructions[fn.Values[c].DefInst].Op.(ir.Alloca).StackPtr
	if aPtr != 0 {
		t.Errorf("a.StackPtr = %d, want 0", aPtr)
	}
	if cPtr != 0 {
		t.Errorf("c.StackPtr = %d, want 0 (reusing a's freed slot)", cPtr)
	}
}

func TestSetStackPtrPacksConcurrentAllocas(t *testing.T) {
	ctx := ir.NewContext()
	prog := ir.NewProgram(ctx)
	memref := allocaF32x4(t, ctx)

	fi, _ := prog.AddFunction("concurrent_allocas", nil)
	fn := &prog.Functions[fi]
	b := ir.NewBuilder(ctx, fn, fn.Body)

	a, err := b.Alloca(memref, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("Alloca a: %v", err)
	}
	c, err := b.Alloca(memref, ttlcerr.Location{})
	if err != nil {
		t.Fatalf("Alloca c: %v", err)
	}

	if err := SetStackPtr(ctx, fn); err != nil {
		t.Fatalf("SetStackPtr: %v", err)
	}

	aPtr := fn.Instructions[fn.Values[a].DefInst].Op.(ir.Alloca).StackPtr
	cPtr := fn.Instructions[fn.Values[c].DefInst].Op.(ir.Alloca).StackPtr
	if aPtr == cPtr {
		t.Fatalf("both-live allocas must not share an offset: a=%d c=%d", aPtr, cPtr)
	}
}

func TestSetStackPtrRejectsMismatchedLifetimeStop(t *testing.T) {
	ctx := ir.NewContext()
	prog := ir.NewProgram(ctx)
	memref := allocaF32x4(t, ctx)

	fi, params := prog.AddFunction("bad_lifetime_stop", []ir.TypeHandle{memref})
	fn := &prog.Functions[fi]
	b := ir.NewBuilder(ctx, fn, fn.Body)

	// LifetimeStop on a value that was never live as an alloca (a
	// parameter) must be rejected, since set_stack_ptr_pass requires
	// every lifetime_stop to match exactly one still-live allocation.
	b.LifetimeStop(params[0], ttlcerr.Location{})

	if err := SetStackPtr(ctx, fn); err == nil {
		t.Fatal("expected an error for a lifetime_stop with no matching live allocation")
	}
}
