package marshal

import (
	"github.com/briolang/brio/abi"
	"github.com/briolang/brio/errors"
	"github.com/briolang/brio/gc"
	"github.com/briolang/brio/memory"
)

// ArrayRef is the host-side view of a gc array: a rooted heap handle with
// bounds-checked element access. The raw in-module representation performs
// no checking; every index going through this type does.
type ArrayRef struct {
	m        *Marshaler
	typ      *memory.Type
	elem     *memory.Type
	ptr      gc.Ptr
	released bool
}

func (m *Marshaler) wrapArray(t *memory.Type, p gc.Ptr) *ArrayRef {
	m.heap.Root(p)
	info, _ := t.AsArray()
	return &ArrayRef{m: m, typ: t, elem: info.Element, ptr: p}
}

// NewArray allocates a gc array of the registry's `[elem]` type with the
// given length and returns a rooted reference to it.
func (m *Marshaler) NewArray(elem *memory.Type, length int) (*ArrayRef, error) {
	t, err := m.types.Resolve(abi.ArrayId(elem.Id()))
	if err != nil {
		return nil, err
	}
	p, err := m.heap.AllocArray(t, length, length)
	if err != nil {
		return nil, err
	}
	return m.wrapArray(t, p), nil
}

// Type returns the array's type.
func (a *ArrayRef) Type() *memory.Type { return a.typ }

// Element returns the element type.
func (a *ArrayRef) Element() *memory.Type { return a.elem }

func (a *ArrayRef) check() {
	if a.released {
		panic("marshal: use of released array reference to " + a.typ.Name())
	}
}

// Len returns the array's length.
func (a *ArrayRef) Len() int {
	a.check()
	return a.m.heap.ArrayLen(a.ptr)
}

// Cap returns the array's capacity.
func (a *ArrayRef) Cap() int {
	a.check()
	return a.m.heap.ArrayCap(a.ptr)
}

func (a *ArrayRef) offsetOf(i int) (uint32, error) {
	if i < 0 || i >= a.Len() {
		return 0, errors.OutOfBounds(errors.PhaseMarshal, i, a.Len())
	}
	return memory.ArrayDataOffset(a.elem) + uint32(i)*memory.ArrayStride(a.elem), nil
}

// At reads the element at index i.
func (a *ArrayRef) At(i int) (any, error) {
	a.check()
	off, err := a.offsetOf(i)
	if err != nil {
		return nil, err
	}
	v, err := a.m.ReadAt(a.elem, a.ptr.Bytes(), off)
	if err != nil {
		return nil, err
	}
	return a.m.FromValue(v)
}

// SetAt writes the element at index i, converting the host value to the
// element type.
func (a *ArrayRef) SetAt(i int, host any) error {
	a.check()
	off, err := a.offsetOf(i)
	if err != nil {
		return err
	}
	v, err := a.m.ToValue(a.elem, host)
	if err != nil {
		return err
	}
	return a.m.WriteAt(a.elem, a.ptr.Bytes(), off, v)
}

// Release drops the handle's root. Using the reference afterwards panics.
func (a *ArrayRef) Release() {
	a.check()
	a.released = true
	a.m.heap.Unroot(a.ptr)
}
