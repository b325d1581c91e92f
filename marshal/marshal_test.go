package marshal

import (
	stderrors "errors"
	"strings"
	"testing"

	"github.com/briolang/brio/abi"
	"github.com/briolang/brio/errors"
	"github.com/briolang/brio/ffi"
	"github.com/briolang/brio/gc"
	"github.com/briolang/brio/memory"
)

func setup(t *testing.T) (*memory.Table, *gc.Collector, *Marshaler) {
	t.Helper()
	table := memory.NewTable()
	heap := gc.NewCollector()

	f32 := abi.PrimF32.TypeId()
	defs := []abi.TypeDefinition{
		{
			Name: "demo::Vector2", Id: abi.ConcreteId(abi.NewGuid("demo::Vector2")),
			Size: 8, Alignment: 4,
			Struct: abi.StructDefinition{
				MemoryKind:   abi.MemoryKindGc,
				FieldNames:   []string{"x", "y"},
				FieldTypes:   []abi.TypeId{f32, f32},
				FieldOffsets: []uint32{0, 4},
			},
		},
		{
			Name: "demo::Color", Id: abi.ConcreteId(abi.NewGuid("demo::Color")),
			Size: 3, Alignment: 1,
			Struct: abi.StructDefinition{
				MemoryKind:   abi.MemoryKindValue,
				FieldNames:   []string{"r", "g", "b"},
				FieldTypes:   []abi.TypeId{abi.PrimU8.TypeId(), abi.PrimU8.TypeId(), abi.PrimU8.TypeId()},
				FieldOffsets: []uint32{0, 1, 2},
			},
		},
	}
	if _, err := table.RegisterModuleTypes(defs); err != nil {
		t.Fatalf("register types: %v", err)
	}
	return table, heap, New(table, heap)
}

func TestPrimitiveRoundTrips(t *testing.T) {
	table, _, m := setup(t)

	cases := []struct {
		prim abi.Primitive
		host any
	}{
		{abi.PrimBool, true},
		{abi.PrimI8, int8(-7)},
		{abi.PrimI16, int16(-300)},
		{abi.PrimI32, int32(1 << 20)},
		{abi.PrimI64, int64(-1 << 40)},
		{abi.PrimU8, uint8(200)},
		{abi.PrimU16, uint16(40000)},
		{abi.PrimU32, uint32(1 << 30)},
		{abi.PrimU64, uint64(1) << 60},
		{abi.PrimF32, float32(1.5)},
		{abi.PrimF64, 2.25},
	}
	for _, tc := range cases {
		pt := table.Primitive(tc.prim)
		v, err := m.ToValue(pt, tc.host)
		if err != nil {
			t.Fatalf("%s to: %v", tc.prim.Name(), err)
		}

		buf := make([]byte, pt.Size())
		if err := m.WriteAt(pt, buf, 0, v); err != nil {
			t.Fatalf("%s write: %v", tc.prim.Name(), err)
		}
		back, err := m.ReadAt(pt, buf, 0)
		if err != nil {
			t.Fatalf("%s read: %v", tc.prim.Name(), err)
		}
		host, err := m.FromValue(back)
		if err != nil {
			t.Fatalf("%s from: %v", tc.prim.Name(), err)
		}
		if host != tc.host {
			t.Errorf("%s round trip = %v (%T), want %v (%T)",
				tc.prim.Name(), host, host, tc.host, tc.host)
		}
	}
}

func TestIntegerWidthChecking(t *testing.T) {
	table, _, m := setup(t)

	i8 := table.Primitive(abi.PrimI8)
	if _, err := m.ToValue(i8, 300); err == nil {
		t.Error("300 must not fit core::i8")
	}
	if _, err := m.ToValue(i8, 127); err != nil {
		t.Errorf("127 fits core::i8: %v", err)
	}

	u16 := table.Primitive(abi.PrimU16)
	if _, err := m.ToValue(u16, uint(1<<20)); err == nil {
		t.Error("1<<20 must not fit core::u16")
	}
}

func TestFloatNarrowingChecking(t *testing.T) {
	table, _, m := setup(t)

	f32 := table.Primitive(abi.PrimF32)
	v, err := m.ToValue(f32, 1.5)
	if err != nil {
		t.Fatalf("1.5 fits core::f32: %v", err)
	}
	if v.Float() != 1.5 {
		t.Errorf("value = %v, want 1.5", v.Float())
	}

	if _, err := m.ToValue(f32, 1e39); err == nil {
		t.Error("1e39 must not fit core::f32")
	}
	if _, err := m.ToValue(f32, 0.1); err == nil {
		t.Error("0.1 loses precision in core::f32 and must be rejected")
	}
}

func TestMismatchCitesBothTypeNames(t *testing.T) {
	table, _, m := setup(t)

	i64 := table.Primitive(abi.PrimI64)
	_, err := m.ToValue(i64, 3.5)
	if err == nil {
		t.Fatal("expected mismatch")
	}
	msg := err.Error()
	if !strings.Contains(msg, "core::i64") || !strings.Contains(msg, "core::f64") {
		t.Errorf("message must cite expected and found names: %q", msg)
	}
}

func TestValueStructCopyIndependence(t *testing.T) {
	_, _, m := setup(t)

	orig, err := m.NewStruct("demo::Color")
	if err != nil {
		t.Fatalf("new struct: %v", err)
	}
	if err := orig.SetField("r", uint8(10)); err != nil {
		t.Fatalf("set field: %v", err)
	}

	// Crossing the boundary copies a value struct.
	v, err := m.ToValue(orig.Type(), orig)
	if err != nil {
		t.Fatalf("to value: %v", err)
	}
	copied, err := m.FromValue(v)
	if err != nil {
		t.Fatalf("from value: %v", err)
	}
	dup := copied.(*StructRef)

	if err := orig.SetField("r", uint8(99)); err != nil {
		t.Fatalf("mutate original: %v", err)
	}
	got, err := dup.Field("r")
	if err != nil {
		t.Fatalf("read copy: %v", err)
	}
	if got.(uint8) != 10 {
		t.Errorf("copy observed the original's mutation: r = %v", got)
	}
}

func TestGcStructAliasing(t *testing.T) {
	_, heap, m := setup(t)

	ref, err := m.NewStruct("demo::Vector2")
	if err != nil {
		t.Fatalf("new struct: %v", err)
	}
	if err := ref.SetField("x", float32(1.0)); err != nil {
		t.Fatalf("set field: %v", err)
	}

	// A second handle to the same object sees mutations from the first.
	v, _ := m.ToValue(ref.Type(), ref)
	other, err := m.FromValue(v)
	if err != nil {
		t.Fatalf("from value: %v", err)
	}
	alias := other.(*StructRef)

	if err := ref.SetField("x", float32(42.5)); err != nil {
		t.Fatalf("mutate: %v", err)
	}
	got, err := alias.Field("x")
	if err != nil {
		t.Fatalf("read alias: %v", err)
	}
	if got.(float32) != 42.5 {
		t.Errorf("alias x = %v, want 42.5", got)
	}

	// Rooted handles keep the object alive across collections.
	heap.Collect()
	if got, _ := alias.Field("x"); got.(float32) != 42.5 {
		t.Error("rooted handle lost its object across a collection")
	}

	alias.Release()
	ref.Release()
	if !heap.Collect() {
		t.Error("fully released object must be reclaimed")
	}
}

func TestFieldNotFound(t *testing.T) {
	_, _, m := setup(t)

	ref, _ := m.NewStruct("demo::Vector2")
	defer ref.Release()

	_, err := ref.Field("z")
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseMarshal, Kind: errors.KindNotFound}) {
		t.Errorf("expected not_found, got %v", err)
	}
}

func TestArrayBoundsChecking(t *testing.T) {
	table, _, m := setup(t)

	arr, err := m.NewArray(table.Primitive(abi.PrimI64), 3)
	if err != nil {
		t.Fatalf("new array: %v", err)
	}
	defer arr.Release()

	for i := 0; i < 3; i++ {
		if err := arr.SetAt(i, int64(i*10)); err != nil {
			t.Fatalf("set %d: %v", i, err)
		}
	}
	got, err := arr.At(2)
	if err != nil || got.(int64) != 20 {
		t.Fatalf("At(2) = (%v, %v), want 20", got, err)
	}

	for _, i := range []int{-1, 3, 100} {
		if _, err := arr.At(i); !stderrors.Is(err, &errors.Error{Phase: errors.PhaseMarshal, Kind: errors.KindOutOfBounds}) {
			t.Errorf("At(%d): expected out_of_bounds, got %v", i, err)
		}
		if err := arr.SetAt(i, int64(0)); err == nil {
			t.Errorf("SetAt(%d): expected out_of_bounds", i)
		}
	}
}

func TestArrayOfGcStructs(t *testing.T) {
	_, _, m := setup(t)

	vec, err := m.NewStruct("demo::Vector2")
	if err != nil {
		t.Fatalf("new struct: %v", err)
	}
	if err := vec.SetField("y", float32(7.0)); err != nil {
		t.Fatalf("set field: %v", err)
	}

	arr, err := m.NewArray(vec.Type(), 2)
	if err != nil {
		t.Fatalf("new array: %v", err)
	}
	if err := arr.SetAt(0, vec); err != nil {
		t.Fatalf("store handle: %v", err)
	}

	out, err := arr.At(0)
	if err != nil {
		t.Fatalf("load handle: %v", err)
	}
	elem := out.(*StructRef)
	if got, _ := elem.Field("y"); got.(float32) != 7.0 {
		t.Errorf("element y = %v, want 7.0", got)
	}

	// Unset elements read back as the null reference.
	if empty, err := arr.At(1); err != nil || empty != nil {
		t.Errorf("At(1) = (%v, %v), want nil", empty, err)
	}

	elem.Release()
	vec.Release()
	arr.Release()
}

func TestCheckArgs(t *testing.T) {
	table, _, m := setup(t)
	i64 := table.Primitive(abi.PrimI64)
	f64 := table.Primitive(abi.PrimF64)

	proto := &ffi.FunctionPrototype{
		Name:          "add",
		ArgumentTypes: []*memory.Type{i64, i64},
		ReturnType:    i64,
	}

	if err := m.CheckArgs(proto, []ffi.Value{ffi.MakeInt(i64, 1), ffi.MakeInt(i64, 2)}); err != nil {
		t.Errorf("matching args rejected: %v", err)
	}

	err := m.CheckArgs(proto, []ffi.Value{ffi.MakeInt(i64, 1)})
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseMarshal, Kind: errors.KindSignature}) {
		t.Errorf("arity mismatch: expected signature error, got %v", err)
	}

	err = m.CheckArgs(proto, []ffi.Value{ffi.MakeInt(i64, 1), ffi.MakeFloat(f64, 2)})
	if err == nil || !strings.Contains(err.Error(), "core::i64") || !strings.Contains(err.Error(), "core::f64") {
		t.Errorf("type mismatch must cite both names, got %v", err)
	}
}

func TestReleasedHandlePanics(t *testing.T) {
	_, _, m := setup(t)

	ref, _ := m.NewStruct("demo::Vector2")
	ref.Release()

	defer func() {
		if recover() == nil {
			t.Error("expected use after release to panic")
		}
	}()
	_, _ = ref.Field("x")
}
