// Package testkit builds small module images for tests: assembled bytecode
// bodies wrapped in encoded images, written to temporary directories.
package testkit

import (
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/briolang/brio/abi"
	"github.com/briolang/brio/bytecode"
)

// ImageBuilder accumulates the tables of one module image.
type ImageBuilder struct {
	img abi.ModuleImage
}

// NewImage starts an image for the named module.
func NewImage(name string) *ImageBuilder {
	return &ImageBuilder{img: abi.ModuleImage{Version: abi.Version, Name: name}}
}

// Dependency declares a sibling artifact that must be loaded first.
func (b *ImageBuilder) Dependency(path string) *ImageBuilder {
	b.img.Dependencies = append(b.img.Dependencies, path)
	return b
}

// StructType adds a struct definition to the image's type table.
func (b *ImageBuilder) StructType(def abi.TypeDefinition) *ImageBuilder {
	b.img.Types = append(b.img.Types, def)
	return b
}

// TypeRef appends id to the type lookup table and returns its slot.
func (b *ImageBuilder) TypeRef(id abi.TypeId) uint32 {
	b.img.TypeRefs = append(b.img.TypeRefs, id)
	return uint32(len(b.img.TypeRefs) - 1)
}

// Function adds a defined function; its slot is the dispatch index.
func (b *ImageBuilder) Function(name string, args []abi.TypeId, ret *abi.TypeId, body *bytecode.Assembler) uint32 {
	code := body.MustBytes()
	span := abi.CodeSpan{Offset: uint32(len(b.img.Code)), Length: uint32(len(code))}
	b.img.Code = append(b.img.Code, code...)
	b.img.Dispatch.Prototypes = append(b.img.Dispatch.Prototypes,
		abi.FunctionPrototype{Name: name, ArgumentTypes: args, ReturnType: ret})
	b.img.Dispatch.Spans = append(b.img.Dispatch.Spans, span)
	b.img.Dispatch.Flags = append(b.img.Dispatch.Flags, 0)
	return uint32(b.img.Dispatch.Len() - 1)
}

// Extern adds a declared-but-unimplemented prototype.
func (b *ImageBuilder) Extern(name string, args []abi.TypeId, ret *abi.TypeId) uint32 {
	b.img.Dispatch.Prototypes = append(b.img.Dispatch.Prototypes,
		abi.FunctionPrototype{Name: name, ArgumentTypes: args, ReturnType: ret})
	b.img.Dispatch.Spans = append(b.img.Dispatch.Spans, abi.CodeSpan{})
	b.img.Dispatch.Flags = append(b.img.Dispatch.Flags, abi.FlagExtern)
	return uint32(b.img.Dispatch.Len() - 1)
}

// Image returns the accumulated image.
func (b *ImageBuilder) Image() *abi.ModuleImage {
	return &b.img
}

// Encode returns the image in wire form.
func (b *ImageBuilder) Encode() []byte {
	return abi.Encode(&b.img)
}

// WriteTo encodes the image into dir under the given file name and returns
// the full path.
func (b *ImageBuilder) WriteTo(t *testing.T, dir, name string) string {
	t.Helper()
	return writeFile(t, dir, name, b.Encode())
}

// WriteGzipTo is WriteTo with the artifact gzip-compressed.
func (b *ImageBuilder) WriteGzipTo(t *testing.T, dir, name string) string {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(b.Encode()); err != nil {
		t.Fatalf("compress image: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("compress image: %v", err)
	}
	return writeFile(t, dir, name, buf.Bytes())
}

func writeFile(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write image %s: %v", name, err)
	}
	return path
}

// I64 and F64 are the TypeIds tests reach for constantly.
var (
	I64 = abi.PrimI64.TypeId()
	F64 = abi.PrimF64.TypeId()
)

// Ref returns a pointer to id, for return-type fields.
func Ref(id abi.TypeId) *abi.TypeId { return &id }

// FibImage builds module "math" exporting fibonacci(core::i64) -> core::i64
// and add(core::i64, core::i64) -> core::i64.
func FibImage() *ImageBuilder {
	b := NewImage("math")

	// fib occupies slot 0 so its body can call itself.
	fib := bytecode.NewAssembler(0).
		LoadArg(0).PushInt(2).LtInt().BranchFalse("recurse").
		LoadArg(0).Return().
		Label("recurse").
		LoadArg(0).PushInt(1).SubInt().Call(0, 1).
		LoadArg(0).PushInt(2).SubInt().Call(0, 1).
		AddInt().Return()
	b.Function("fibonacci", []abi.TypeId{I64}, Ref(I64), fib)

	add := bytecode.NewAssembler(0).
		LoadArg(0).LoadArg(1).AddInt().Return()
	b.Function("add", []abi.TypeId{I64, I64}, Ref(I64), add)

	return b
}

// ExternImage builds module "calc" that declares extern host_mul and
// exports apply(a, b) = host_mul(a, b) + a.
func ExternImage() *ImageBuilder {
	b := NewImage("calc")
	mul := b.Extern("host_mul", []abi.TypeId{I64, I64}, Ref(I64))

	apply := bytecode.NewAssembler(0).
		LoadArg(0).LoadArg(1).Call(mul, 2).
		LoadArg(0).AddInt().Return()
	b.Function("apply", []abi.TypeId{I64, I64}, Ref(I64), apply)

	return b
}

// Vector2Id identifies the gc struct geometry::Vector2 used by GeometryImage.
var Vector2Id = abi.ConcreteId(abi.NewGuid("geometry::Vector2"))

// GeometryImage builds module "geometry" with a gc struct Vector2{x, y:
// core::f64} and functions to construct one and sum its components.
func GeometryImage() *ImageBuilder {
	b := NewImage("geometry")
	b.StructType(abi.TypeDefinition{
		Name:      "geometry::Vector2",
		Id:        Vector2Id,
		Size:      16,
		Alignment: 8,
		Struct: abi.StructDefinition{
			MemoryKind:   abi.MemoryKindGc,
			FieldNames:   []string{"x", "y"},
			FieldTypes:   []abi.TypeId{F64, F64},
			FieldOffsets: []uint32{0, 8},
		},
	})
	vecSlot := b.TypeRef(Vector2Id)

	newVec := bytecode.NewAssembler(1).
		NewStruct(vecSlot).StoreLocal(0).
		LoadLocal(0).LoadArg(0).SetField(0).
		LoadLocal(0).LoadArg(1).SetField(1).
		LoadLocal(0).Return()
	b.Function("new_vector2", []abi.TypeId{F64, F64}, Ref(Vector2Id), newVec)

	sum := bytecode.NewAssembler(0).
		LoadArg(0).GetField(0).
		LoadArg(0).GetField(1).
		AddFloat().Return()
	b.Function("vector2_sum", []abi.TypeId{Vector2Id}, Ref(F64), sum)

	return b
}
