package runtime

import (
	stderrors "errors"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/briolang/brio/abi"
	"github.com/briolang/brio/bytecode"
	"github.com/briolang/brio/errors"
	"github.com/briolang/brio/ffi"
	"github.com/briolang/brio/internal/testkit"
	"github.com/briolang/brio/marshal"
	"github.com/briolang/brio/memory"
)

func newRuntime(t *testing.T, path string, opts Options) *Runtime {
	t.Helper()
	rt, err := New(path, opts)
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	return rt
}

func TestInvokeFibonacci(t *testing.T) {
	path := testkit.FibImage().WriteTo(t, t.TempDir(), "math.brio")
	rt := newRuntime(t, path, Options{})

	out, err := Invoke(rt, "fibonacci", int64(10))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out != int64(55) {
		t.Errorf("fibonacci(10) = %v, want 55", out)
	}
}

func TestFindFunctionNotFound(t *testing.T) {
	path := testkit.FibImage().WriteTo(t, t.TempDir(), "math.brio")
	rt := newRuntime(t, path, Options{})

	_, err := rt.FindFunction("nonexistent")
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseExec, Kind: errors.KindNotFound}) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestInvokeArgumentTypeMismatch(t *testing.T) {
	path := testkit.FibImage().WriteTo(t, t.TempDir(), "math.brio")
	rt := newRuntime(t, path, Options{})

	_, err := Invoke(rt, "fibonacci", float64(10))
	if err == nil {
		t.Fatal("expected type mismatch")
	}
	msg := err.Error()
	if !strings.Contains(msg, "core::i64") || !strings.Contains(msg, "core::f64") {
		t.Errorf("mismatch must cite both type names, got %q", msg)
	}
}

func TestInvokeArgumentCountMismatch(t *testing.T) {
	path := testkit.FibImage().WriteTo(t, t.TempDir(), "math.brio")
	rt := newRuntime(t, path, Options{})

	_, err := Invoke(rt, "fibonacci", int64(1), int64(2))
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseMarshal, Kind: errors.KindSignature}) {
		t.Fatalf("expected signature error, got %v", err)
	}
}

func TestExternInjection(t *testing.T) {
	types := memory.NewTable()
	mul, err := ffi.NewFunction("host_mul", func(a, b int64) int64 { return a * b }, types)
	if err != nil {
		t.Fatalf("new function: %v", err)
	}

	path := testkit.ExternImage().WriteTo(t, t.TempDir(), "calc.brio")
	rt := newRuntime(t, path, Options{Types: types, Functions: []*ffi.FunctionDefinition{mul}})

	out, err := Invoke(rt, "apply", int64(3), int64(4))
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if out != int64(15) {
		t.Errorf("apply(3, 4) = %v, want 15", out)
	}
}

func TestExternMissingFailsConstruction(t *testing.T) {
	path := testkit.ExternImage().WriteTo(t, t.TempDir(), "calc.brio")

	_, err := New(path, Options{})
	var miss *errors.MissingExternsError
	if !stderrors.As(err, &miss) {
		t.Fatalf("expected missing externs, got %v", err)
	}
}

func TestUpdateWithoutChangeReturnsFalse(t *testing.T) {
	path := testkit.FibImage().WriteTo(t, t.TempDir(), "math.brio")
	rt := newRuntime(t, path, Options{})

	changed, err := rt.Update()
	if err != nil || changed {
		t.Fatalf("update on unchanged file = (%v, %v), want (false, nil)", changed, err)
	}

	// A touched file with identical content is still no change.
	touch(t, path)
	changed, err = rt.Update()
	if err != nil || changed {
		t.Fatalf("update on touched file = (%v, %v), want (false, nil)", changed, err)
	}
}

func TestUpdateReloadsChangedModule(t *testing.T) {
	dir := t.TempDir()
	path := testkit.FibImage().WriteTo(t, dir, "math.brio")
	rt := newRuntime(t, path, Options{})

	v2 := testkit.FibImage()
	v2.Function("double", []abi.TypeId{testkit.I64}, testkit.Ref(testkit.I64),
		bytecode.NewAssembler(0).LoadArg(0).PushInt(2).MulInt().Return())
	v2.WriteTo(t, dir, "math.brio")
	touch(t, path)

	changed, err := rt.Update()
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !changed {
		t.Fatal("update must report the reload")
	}

	out, err := Invoke(rt, "double", int64(21))
	if err != nil {
		t.Fatalf("invoke after reload: %v", err)
	}
	if out != int64(42) {
		t.Errorf("double(21) = %v, want 42", out)
	}
}

func TestUpdateFailureKeepsOldModule(t *testing.T) {
	dir := t.TempDir()
	path := testkit.FibImage().WriteTo(t, dir, "math.brio")
	rt := newRuntime(t, path, Options{})

	if err := os.WriteFile(path, []byte("garbage"), 0o644); err != nil {
		t.Fatalf("corrupt image: %v", err)
	}
	touch(t, path)

	if _, err := rt.Update(); err == nil {
		t.Fatal("update of corrupt image must fail")
	}

	out, err := Invoke(rt, "fibonacci", int64(10))
	if err != nil {
		t.Fatalf("invoke after failed update: %v", err)
	}
	if out != int64(55) {
		t.Errorf("fibonacci(10) = %v after failed update, want 55", out)
	}
}

func TestHotReloadKeepsRootedObject(t *testing.T) {
	dir := t.TempDir()
	path := testkit.GeometryImage().WriteTo(t, dir, "geometry.brio")
	rt := newRuntime(t, path, Options{})

	out, err := Invoke(rt, "new_vector2", 1.5, 2.5)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	vec, ok := out.(*marshal.StructRef)
	if !ok {
		t.Fatalf("new_vector2 returned %T, want *marshal.StructRef", out)
	}
	defer vec.Release()

	// Recompiled module: Vector2 unchanged, one extra function.
	v2 := testkit.GeometryImage()
	v2.Function("vector2_x", []abi.TypeId{testkit.Vector2Id}, testkit.Ref(testkit.F64),
		bytecode.NewAssembler(0).LoadArg(0).GetField(0).Return())
	v2.WriteTo(t, dir, "geometry.brio")
	touch(t, path)

	changed, err := rt.Update()
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !changed {
		t.Fatal("update must report the reload")
	}

	rt.GCCollect()
	x, err := vec.Field("x")
	if err != nil {
		t.Fatalf("field read after reload: %v", err)
	}
	if x != 1.5 {
		t.Errorf("x = %v after reload, want 1.5", x)
	}

	sum, err := Invoke(rt, "vector2_sum", vec)
	if err != nil {
		t.Fatalf("invoke with pre-reload handle: %v", err)
	}
	if sum != 4.0 {
		t.Errorf("vector2_sum = %v, want 4", sum)
	}
}

func TestGCPassthrough(t *testing.T) {
	path := testkit.GeometryImage().WriteTo(t, t.TempDir(), "geometry.brio")
	rt := newRuntime(t, path, Options{})

	vecType, ok := rt.TypeInfoByName("geometry::Vector2")
	if !ok {
		t.Fatal("Vector2 not registered")
	}

	p, err := rt.GCAlloc(vecType)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if rt.GCPtrType(p) != vecType {
		t.Error("ptr type mismatch")
	}

	rt.GCRoot(p)
	rt.GCCollect()
	if rt.GCStats().ObjectCount == 0 {
		t.Fatal("rooted object reclaimed")
	}
	rt.GCUnroot(p)

	if !rt.GCCollect() {
		t.Error("collect must reclaim the unrooted object")
	}
}

func TestConstructArray(t *testing.T) {
	path := testkit.FibImage().WriteTo(t, t.TempDir(), "math.brio")
	rt := newRuntime(t, path, Options{})

	i64, ok := rt.TypeInfoByName("core::i64")
	if !ok {
		t.Fatal("core::i64 not registered")
	}

	arr, err := rt.ConstructArray(i64, int64(1), int64(2), int64(3))
	if err != nil {
		t.Fatalf("construct array: %v", err)
	}
	defer arr.Release()

	if arr.Len() != 3 {
		t.Fatalf("len = %d, want 3", arr.Len())
	}
	got, err := arr.At(1)
	if err != nil {
		t.Fatalf("at: %v", err)
	}
	if got != int64(2) {
		t.Errorf("arr[1] = %v, want 2", got)
	}

	// Element values must refuse silent coercion.
	if _, err := rt.ConstructArray(i64, "not an integer"); err == nil {
		t.Error("string element must not marshal into an i64 array")
	}
}

// touch bumps the file's mtime past filesystem timestamp granularity.
func touch(t *testing.T, path string) {
	t.Helper()
	future := time.Now().Add(2 * time.Second)
	if err := os.Chtimes(path, future, future); err != nil {
		t.Fatalf("touch %s: %v", path, err)
	}
}
