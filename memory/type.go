package memory

import (
	"sync/atomic"

	"github.com/briolang/brio/abi"
)

// Word is the boundary representation width of any indirect value (gc
// handles, pointers, array handles).
const Word uint32 = 8

// Field describes one struct field. Its lifetime is bound to the owning
// StructInfo and must not outlive it.
type Field struct {
	Name   string
	Type   *Type
	Offset uint32
}

// StructInfo is the payload of a struct type.
type StructInfo struct {
	MemoryKind abi.StructMemoryKind
	Fields     []Field
}

// Field returns the field with the given name.
func (s *StructInfo) Field(name string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

// PointerInfo is the payload of a pointer type.
type PointerInfo struct {
	Pointee *Type
	Mutable bool
}

// ArrayInfo is the payload of an array type.
type ArrayInfo struct {
	Element *Type
}

// Type is the resolved, queryable description of a type. Instances are
// interned by the Table: two resolutions of the same TypeId yield the same
// pointer, so identity comparison is pointer comparison.
type Type struct {
	payload any // abi.Primitive | *StructInfo | *PointerInfo | *ArrayInfo
	name    string
	id      abi.TypeId
	size    uint32
	align   uint32
	refs    atomic.Int32
}

// Name returns the display name, e.g. "core::i64", "demo::Vector2",
// "*mut demo::Vector2" or "[core::i64]".
func (t *Type) Name() string { return t.name }

// Id returns the type's identifier.
func (t *Type) Id() abi.TypeId { return t.id }

// Size returns the inline size of the type in bytes.
func (t *Type) Size() uint32 { return t.size }

// Alignment returns the alignment of the type in bytes.
func (t *Type) Alignment() uint32 { return t.align }

// AsPrimitive returns the primitive payload, if this is a primitive type.
func (t *Type) AsPrimitive() (abi.Primitive, bool) {
	p, ok := t.payload.(abi.Primitive)
	return p, ok
}

// AsStruct returns the struct payload, if this is a struct type.
func (t *Type) AsStruct() (*StructInfo, bool) {
	s, ok := t.payload.(*StructInfo)
	return s, ok
}

// AsPointer returns the pointer payload, if this is a pointer type.
func (t *Type) AsPointer() (*PointerInfo, bool) {
	p, ok := t.payload.(*PointerInfo)
	return p, ok
}

// AsArray returns the array payload, if this is an array type.
func (t *Type) AsArray() (*ArrayInfo, bool) {
	a, ok := t.payload.(*ArrayInfo)
	return a, ok
}

// IsGcStruct reports whether values of this type live on the collector's
// heap and cross boundaries by handle.
func (t *Type) IsGcStruct() bool {
	s, ok := t.AsStruct()
	return ok && s.MemoryKind == abi.MemoryKindGc
}

// IsValueStruct reports whether values of this type are copied field-wise.
func (t *Type) IsValueStruct() bool {
	s, ok := t.AsStruct()
	return ok && s.MemoryKind == abi.MemoryKindValue
}

// BoundaryLayout returns the size and alignment a value of this type
// occupies when embedded in another object or passed across the ABI:
// gc structs and arrays are represented by a handle word, everything else
// is stored inline.
func (t *Type) BoundaryLayout() (size, align uint32) {
	if t.IsGcStruct() {
		return Word, Word
	}
	if _, ok := t.AsArray(); ok {
		return Word, Word
	}
	return t.size, t.align
}

// RefCount returns the current reference count. Exposed for tests and
// diagnostics.
func (t *Type) RefCount() int32 {
	return t.refs.Load()
}

func (t *Type) retain() {
	t.refs.Add(1)
}

// release decrements and reports whether the count hit zero. Going below
// zero is a caller contract violation.
func (t *Type) release() bool {
	n := t.refs.Add(-1)
	if n < 0 {
		panic("memory: reference count underflow on type " + t.name)
	}
	return n == 0
}
