package marshal

import (
	"github.com/briolang/brio/errors"
	"github.com/briolang/brio/gc"
	"github.com/briolang/brio/memory"
)

// StructRef is the host-side view of a struct value.
//
// For gc-kind structs it holds a rooted heap handle: field access aliases
// the live object, mutations are visible through every other handle, and the
// root is dropped by Release. For value-kind structs it owns an independent
// byte copy; Release is a no-op and mutations never affect the source.
type StructRef struct {
	m        *Marshaler
	typ      *memory.Type
	ptr      gc.Ptr
	data     []byte
	released bool
}

func (m *Marshaler) wrapStruct(t *memory.Type, p gc.Ptr) *StructRef {
	m.heap.Root(p)
	return &StructRef{m: m, typ: t, ptr: p}
}

// NewStruct allocates a fresh zeroed instance of the named struct type: on
// the heap for gc-kind, as an owned buffer for value-kind.
func (m *Marshaler) NewStruct(name string) (*StructRef, error) {
	t, ok := m.types.FindByName(name)
	if !ok {
		return nil, errors.NotFound(errors.PhaseMarshal, "type", name)
	}
	if _, isStruct := t.AsStruct(); !isStruct {
		return nil, errors.TypeMismatch(errors.PhaseMarshal, []string{name}, "struct", t.Name())
	}
	if t.IsGcStruct() {
		p, err := m.heap.Alloc(t)
		if err != nil {
			return nil, err
		}
		return m.wrapStruct(t, p), nil
	}
	return &StructRef{m: m, typ: t, data: make([]byte, t.Size())}, nil
}

// Type returns the struct's type.
func (r *StructRef) Type() *memory.Type { return r.typ }

func (r *StructRef) check() {
	if r.released {
		panic("marshal: use of released struct reference to " + r.typ.Name())
	}
}

func (r *StructRef) storage() []byte {
	if r.typ.IsGcStruct() {
		return r.ptr.Bytes()
	}
	return r.data
}

func (r *StructRef) field(name string) (memory.Field, error) {
	info, _ := r.typ.AsStruct()
	f, ok := info.Field(name)
	if !ok {
		return memory.Field{}, errors.NotFound(errors.PhaseMarshal,
			"field", r.typ.Name()+"."+name)
	}
	return f, nil
}

// Field reads a field by name. Gc-kind fields come back as live rooted
// references to the same heap object; value-kind fields as copies.
func (r *StructRef) Field(name string) (any, error) {
	r.check()
	f, err := r.field(name)
	if err != nil {
		return nil, err
	}
	v, err := r.m.ReadAt(f.Type, r.storage(), f.Offset)
	if err != nil {
		return nil, err
	}
	return r.m.FromValue(v)
}

// SetField writes a field by name, converting the host value to the field's
// declared type. Replacing a field swaps the bytes in place.
func (r *StructRef) SetField(name string, host any) error {
	r.check()
	f, err := r.field(name)
	if err != nil {
		return err
	}
	v, err := r.m.ToValue(f.Type, host)
	if err != nil {
		return err
	}
	return r.m.WriteAt(f.Type, r.storage(), f.Offset, v)
}

// Release drops the handle's root. Using the reference afterwards panics;
// releasing twice panics. Value-kind references only invalidate themselves.
func (r *StructRef) Release() {
	r.check()
	r.released = true
	if r.typ.IsGcStruct() {
		r.m.heap.Unroot(r.ptr)
	}
}
