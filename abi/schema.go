package abi

// StructMemoryKind determines how instances of a struct type are allocated
// and passed across the ABI boundary. It is immutable for the lifetime of a
// type definition and determines marshaling strategy unconditionally.
type StructMemoryKind uint8

const (
	// MemoryKindGc structs are heap-allocated by the garbage collector and
	// always passed by a stable indirect handle (reference semantics).
	MemoryKindGc StructMemoryKind = iota
	// MemoryKindValue structs are allocated inline; passing, copying or
	// returning one performs a field-wise byte copy (value semantics).
	MemoryKindValue
)

// String returns "gc" or "value".
func (k StructMemoryKind) String() string {
	if k == MemoryKindValue {
		return "value"
	}
	return "gc"
}

// StructDefinition describes the layout of a struct type. Field data is
// stored as parallel arrays.
type StructDefinition struct {
	MemoryKind   StructMemoryKind
	FieldNames   []string
	FieldTypes   []TypeId
	FieldOffsets []uint32
}

// TypeDefinition is a type exported or locally defined by a module.
// Primitive definitions never appear in images; modules only define structs.
type TypeDefinition struct {
	Name      string
	Id        TypeId
	Size      uint32
	Alignment uint32
	Struct    StructDefinition
}

// FunctionFlags annotate dispatch table entries.
type FunctionFlags uint8

const (
	// FlagExtern marks a prototype the module declares but does not
	// implement; the loader must bind it from host-injected functions.
	FlagExtern FunctionFlags = 1 << iota
)

// FunctionPrototype declares a function before linking: its name, ordered
// argument TypeIds and optional return TypeId. A nil ReturnType means the
// function returns void (no value at all, as opposed to core::empty).
type FunctionPrototype struct {
	Name          string
	ArgumentTypes []TypeId
	ReturnType    *TypeId
}

// CodeSpan locates a function body inside the image's code section.
// Extern prototypes carry a zero span.
type CodeSpan struct {
	Offset uint32
	Length uint32
}

// DispatchTable pairs function prototypes with their body locations.
// Prototypes, spans and flags are parallel arrays for cache locality;
// resolved callable pointers are produced by the loader, not stored here.
type DispatchTable struct {
	Prototypes []FunctionPrototype
	Spans      []CodeSpan
	Flags      []FunctionFlags
}

// Len returns the number of dispatch entries.
func (d *DispatchTable) Len() int {
	return len(d.Prototypes)
}

// ModuleImage is the parsed form of a compiled module artifact: the
// ABI-versioned tables the loader links into a live module.
type ModuleImage struct {
	// Version is the embedded ABI version; must equal Version to load.
	Version uint32
	// Name is the module's own name (used for diagnostics).
	Name string
	// Dependencies lists paths of modules that must be loaded first,
	// relative to this image's directory.
	Dependencies []string
	// Types are the module's exported/locally defined struct types.
	Types []TypeDefinition
	// TypeRefs is the type lookup table: every TypeId the module's code
	// references by slot (NewStruct/NewArray operands index into it).
	// Entries may name primitives, module types, or composites.
	TypeRefs []TypeId
	// Dispatch lists every function the module defines or references.
	Dispatch DispatchTable
	// Code is the bytecode section CodeSpans index into.
	Code []byte
}
