package memory

import (
	"testing"

	"github.com/briolang/brio/abi"
)

func structDef(name string, kind abi.StructMemoryKind, fields ...abi.TypeId) abi.TypeDefinition {
	names := make([]string, len(fields))
	offsets := make([]uint32, len(fields))
	var offset uint32
	for i := range fields {
		names[i] = string(rune('a' + i))
		offsets[i] = offset
		offset += 8 // generous; boundary sizes are all <= 8 in these tests
	}
	return abi.TypeDefinition{
		Name:      name,
		Id:        abi.ConcreteId(abi.NewGuid(name)),
		Size:      offset,
		Alignment: 8,
		Struct: abi.StructDefinition{
			MemoryKind:   kind,
			FieldNames:   names,
			FieldTypes:   fields,
			FieldOffsets: offsets,
		},
	}
}

func TestResolvePrimitives(t *testing.T) {
	table := NewTable()

	ty, err := table.Resolve(abi.PrimI64.TypeId())
	if err != nil {
		t.Fatalf("resolve i64: %v", err)
	}
	if ty.Name() != "core::i64" || ty.Size() != 8 {
		t.Errorf("unexpected type: %s size %d", ty.Name(), ty.Size())
	}

	if _, err := table.Resolve(abi.PrimI128.TypeId()); err == nil {
		t.Error("reserved 128-bit primitive must not resolve")
	}
}

func TestResolveCompositeReturnsIdenticalInstance(t *testing.T) {
	table := NewTable()
	ptrId := abi.PointerId(abi.PrimI64.TypeId(), true)

	first, err := table.Resolve(ptrId)
	if err != nil {
		t.Fatalf("resolve pointer: %v", err)
	}
	second, err := table.Resolve(ptrId)
	if err != nil {
		t.Fatalf("resolve pointer again: %v", err)
	}
	if first != second {
		t.Error("repeated composite resolution must return the identical instance")
	}
	if first.Name() != "*mut core::i64" {
		t.Errorf("unexpected pointer name %q", first.Name())
	}

	arr, err := table.Resolve(abi.ArrayId(abi.PrimI64.TypeId()))
	if err != nil {
		t.Fatalf("resolve array: %v", err)
	}
	arr2, _ := table.Resolve(abi.ArrayId(abi.PrimI64.TypeId()))
	if arr != arr2 {
		t.Error("array types must be interned")
	}
	if arr.Name() != "[core::i64]" {
		t.Errorf("unexpected array name %q", arr.Name())
	}
}

func TestRegisterReusesSharedTypes(t *testing.T) {
	table := NewTable()
	def := structDef("demo::Vector2", abi.MemoryKindGc, abi.PrimF32.TypeId(), abi.PrimF32.TypeId())

	first, err := table.RegisterModuleTypes([]abi.TypeDefinition{def})
	if err != nil {
		t.Fatalf("register module A: %v", err)
	}
	second, err := table.RegisterModuleTypes([]abi.TypeDefinition{def})
	if err != nil {
		t.Fatalf("register module B: %v", err)
	}

	if first[0] != second[0] {
		t.Error("module B must observe the identical instance module A registered")
	}
	if got := first[0].RefCount(); got != 2 {
		t.Errorf("expected 2 references (one per module), got %d", got)
	}

	// Releasing one module's reference keeps the type alive.
	table.ReleaseType(second[0])
	if _, ok := table.FindByName("demo::Vector2"); !ok {
		t.Fatal("type must survive while another module references it")
	}
	table.ReleaseType(first[0])
	if _, ok := table.FindByName("demo::Vector2"); ok {
		t.Error("type must be destroyed once the last reference is released")
	}
}

func TestRegisterDetectsGuidCollision(t *testing.T) {
	table := NewTable()
	a := structDef("demo::A", abi.MemoryKindValue, abi.PrimI32.TypeId())
	b := structDef("demo::B", abi.MemoryKindValue, abi.PrimI32.TypeId())
	b.Id = a.Id // same guid, different fully-qualified name

	if _, err := table.RegisterModuleTypes([]abi.TypeDefinition{a}); err != nil {
		t.Fatalf("register A: %v", err)
	}
	if _, err := table.RegisterModuleTypes([]abi.TypeDefinition{b}); err == nil {
		t.Error("guid collision between distinct names must be rejected")
	}
}

func TestRegisterCyclicStruct(t *testing.T) {
	table := NewTable()
	node := structDef("demo::Node", abi.MemoryKindGc,
		abi.PrimI64.TypeId(),
		abi.ConcreteId(abi.NewGuid("demo::Node")))

	types, err := table.RegisterModuleTypes([]abi.TypeDefinition{node})
	if err != nil {
		t.Fatalf("register cyclic struct: %v", err)
	}

	info, ok := types[0].AsStruct()
	if !ok {
		t.Fatal("expected struct payload")
	}
	if info.Fields[1].Type != types[0] {
		t.Error("self-referential field must resolve to the owning type")
	}
}

func TestRegisterRollbackLeavesTableUnchanged(t *testing.T) {
	table := NewTable()
	before := table.Len()

	good := structDef("demo::Good", abi.MemoryKindValue, abi.PrimI32.TypeId())
	bad := structDef("demo::Bad", abi.MemoryKindValue,
		abi.ConcreteId(abi.NewGuid("demo::DoesNotExist")))

	if _, err := table.RegisterModuleTypes([]abi.TypeDefinition{good, bad}); err == nil {
		t.Fatal("expected unresolved field type to fail the batch")
	}
	if table.Len() != before {
		t.Errorf("registry changed by a failed batch: %d -> %d entries", before, table.Len())
	}
	if _, ok := table.FindByName("demo::Good"); ok {
		t.Error("partial registration leaked demo::Good")
	}
}

func TestStructLayout(t *testing.T) {
	table := NewTable()
	i8, _ := table.Resolve(abi.PrimI8.TypeId())
	i64, _ := table.Resolve(abi.PrimI64.TypeId())
	f32, _ := table.Resolve(abi.PrimF32.TypeId())

	layout := StructLayout([]*Type{i8, i64, f32})
	if layout.Offsets[0] != 0 || layout.Offsets[1] != 8 || layout.Offsets[2] != 16 {
		t.Errorf("unexpected offsets %v", layout.Offsets)
	}
	if layout.Size != 24 || layout.Alignment != 8 {
		t.Errorf("unexpected layout %+v", layout)
	}

	empty := StructLayout(nil)
	if empty.Size != 0 || empty.Alignment != 1 {
		t.Errorf("empty struct layout %+v", empty)
	}
}

func TestGcFieldOccupiesHandleWord(t *testing.T) {
	table := NewTable()
	vec := structDef("demo::Big", abi.MemoryKindGc,
		abi.PrimF64.TypeId(), abi.PrimF64.TypeId(), abi.PrimF64.TypeId())
	types, err := table.RegisterModuleTypes([]abi.TypeDefinition{vec})
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	size, align := types[0].BoundaryLayout()
	if size != Word || align != Word {
		t.Errorf("gc struct boundary layout = (%d, %d), want handle word", size, align)
	}

	stride := ArrayStride(types[0])
	if stride != Word {
		t.Errorf("gc element stride = %d, want %d", stride, Word)
	}
	i8, _ := table.Resolve(abi.PrimI8.TypeId())
	if ArrayStride(i8) != 1 || ArrayDataOffset(i8) != ArrayHeaderSize {
		t.Error("byte-wide elements pack with stride 1 right after the header")
	}
}
