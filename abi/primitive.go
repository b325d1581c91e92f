package abi

// Primitive enumerates the fixed primitive type set. The 128-bit widths are
// reserved by the ABI but unimplemented; the type registry rejects them.
type Primitive uint8

const (
	PrimBool Primitive = iota + 1
	PrimI8
	PrimI16
	PrimI32
	PrimI64
	PrimI128
	PrimU8
	PrimU16
	PrimU32
	PrimU64
	PrimU128
	PrimF32
	PrimF64
	// PrimEmpty is the zero-sized unit type. Functions returning it still
	// produce a value that participates in type checking.
	PrimEmpty
	// PrimVoid marks "never returns". It is distinct from PrimEmpty: a void
	// function produces no value and is never type-checked against a
	// concrete return type.
	PrimVoid
)

var primitiveNames = map[Primitive]string{
	PrimBool:  "core::bool",
	PrimI8:    "core::i8",
	PrimI16:   "core::i16",
	PrimI32:   "core::i32",
	PrimI64:   "core::i64",
	PrimI128:  "core::i128",
	PrimU8:    "core::u8",
	PrimU16:   "core::u16",
	PrimU32:   "core::u32",
	PrimU64:   "core::u64",
	PrimU128:  "core::u128",
	PrimF32:   "core::f32",
	PrimF64:   "core::f64",
	PrimEmpty: "core::empty",
	PrimVoid:  "core::void",
}

var primitiveSizes = map[Primitive][2]uint32{
	PrimBool:  {1, 1},
	PrimI8:    {1, 1},
	PrimI16:   {2, 2},
	PrimI32:   {4, 4},
	PrimI64:   {8, 8},
	PrimI128:  {16, 16},
	PrimU8:    {1, 1},
	PrimU16:   {2, 2},
	PrimU32:   {4, 4},
	PrimU64:   {8, 8},
	PrimU128:  {16, 16},
	PrimF32:   {4, 4},
	PrimF64:   {8, 8},
	PrimEmpty: {0, 1},
	PrimVoid:  {0, 1},
}

var primitiveByGuid map[Guid]Primitive

func init() {
	primitiveByGuid = make(map[Guid]Primitive, len(primitiveNames))
	for p, name := range primitiveNames {
		primitiveByGuid[NewGuid(name)] = p
	}
}

// Name returns the fully-qualified name, e.g. "core::i64".
func (p Primitive) Name() string {
	return primitiveNames[p]
}

// Guid returns the content-derived identifier of the primitive.
func (p Primitive) Guid() Guid {
	return NewGuid(p.Name())
}

// TypeId returns the concrete TypeId of the primitive.
func (p Primitive) TypeId() TypeId {
	return ConcreteId(p.Guid())
}

// Size returns the size of the primitive in bytes.
func (p Primitive) Size() uint32 {
	return primitiveSizes[p][0]
}

// Alignment returns the alignment of the primitive in bytes.
func (p Primitive) Alignment() uint32 {
	return primitiveSizes[p][1]
}

// Valid reports whether p is a known primitive.
func (p Primitive) Valid() bool {
	_, ok := primitiveNames[p]
	return ok
}

// Implemented reports whether the primitive is usable at runtime. The
// 128-bit widths are reserved only.
func (p Primitive) Implemented() bool {
	return p.Valid() && p != PrimI128 && p != PrimU128
}

// LookupPrimitive resolves a Guid to a primitive, if it names one.
func LookupPrimitive(g Guid) (Primitive, bool) {
	p, ok := primitiveByGuid[g]
	return p, ok
}

// Primitives returns all primitives in declaration order.
func Primitives() []Primitive {
	return []Primitive{
		PrimBool,
		PrimI8, PrimI16, PrimI32, PrimI64, PrimI128,
		PrimU8, PrimU16, PrimU32, PrimU64, PrimU128,
		PrimF32, PrimF64,
		PrimEmpty, PrimVoid,
	}
}
