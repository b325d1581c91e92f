package marshal

import (
	"encoding/binary"
	"fmt"
	"math"

	"fortio.org/safecast"

	"github.com/briolang/brio/abi"
	"github.com/briolang/brio/errors"
	"github.com/briolang/brio/ffi"
	"github.com/briolang/brio/gc"
	"github.com/briolang/brio/memory"
)

// Marshaler converts values at one runtime instance's boundary. It is bound
// to the instance's type registry and heap.
type Marshaler struct {
	types *memory.Table
	heap  *gc.Collector
}

// New creates a marshaler over the given registry and heap.
func New(types *memory.Table, heap *gc.Collector) *Marshaler {
	return &Marshaler{types: types, heap: heap}
}

// Heap exposes the collector for wrappers that need to root handles.
func (m *Marshaler) Heap() *gc.Collector { return m.heap }

// ReadAt decodes the value of type t stored at off in buf, using the type's
// boundary layout: gc structs and arrays are stored as handle words, value
// structs inline, primitives by width.
func (m *Marshaler) ReadAt(t *memory.Type, buf []byte, off uint32) (ffi.Value, error) {
	size, _ := t.BoundaryLayout()
	if uint64(off)+uint64(size) > uint64(len(buf)) {
		return ffi.Value{}, errors.OutOfBounds(errors.PhaseMarshal, int(off), len(buf))
	}

	if p, ok := t.AsPrimitive(); ok {
		return readPrimitive(t, p, buf[off:]), nil
	}
	if t.IsValueStruct() {
		data := make([]byte, t.Size())
		copy(data, buf[off:])
		return ffi.MakeStruct(t, data), nil
	}
	if t.IsGcStruct() {
		key := binary.LittleEndian.Uint64(buf[off:])
		return ffi.MakeRef(t, m.heap.Deref(key)), nil
	}
	if _, ok := t.AsArray(); ok {
		key := binary.LittleEndian.Uint64(buf[off:])
		return ffi.MakeRef(t, m.heap.Deref(key)), nil
	}
	return ffi.Value{}, errors.Unsupported(errors.PhaseMarshal, "reading "+t.Name())
}

// WriteAt encodes v into buf at off. v's type must be exactly t.
func (m *Marshaler) WriteAt(t *memory.Type, buf []byte, off uint32, v ffi.Value) error {
	if v.Type() != t {
		return errors.TypeMismatch(errors.PhaseMarshal, nil, t.Name(), v.TypeName())
	}
	size, _ := t.BoundaryLayout()
	if uint64(off)+uint64(size) > uint64(len(buf)) {
		return errors.OutOfBounds(errors.PhaseMarshal, int(off), len(buf))
	}

	if p, ok := t.AsPrimitive(); ok {
		writePrimitive(p, buf[off:], v)
		return nil
	}
	if t.IsValueStruct() {
		copy(buf[off:off+t.Size()], v.Raw())
		return nil
	}
	if t.IsGcStruct() {
		binary.LittleEndian.PutUint64(buf[off:], v.Ref().Key())
		return nil
	}
	if _, ok := t.AsArray(); ok {
		binary.LittleEndian.PutUint64(buf[off:], v.Ref().Key())
		return nil
	}
	return errors.Unsupported(errors.PhaseMarshal, "writing "+t.Name())
}

func readPrimitive(t *memory.Type, p abi.Primitive, buf []byte) ffi.Value {
	switch p {
	case abi.PrimBool:
		return ffi.MakeBool(t, buf[0] != 0)
	case abi.PrimI8:
		return ffi.MakeInt(t, int64(int8(buf[0])))
	case abi.PrimI16:
		return ffi.MakeInt(t, int64(int16(binary.LittleEndian.Uint16(buf))))
	case abi.PrimI32:
		return ffi.MakeInt(t, int64(int32(binary.LittleEndian.Uint32(buf))))
	case abi.PrimI64:
		return ffi.MakeInt(t, int64(binary.LittleEndian.Uint64(buf)))
	case abi.PrimU8:
		return ffi.MakeUint(t, uint64(buf[0]))
	case abi.PrimU16:
		return ffi.MakeUint(t, uint64(binary.LittleEndian.Uint16(buf)))
	case abi.PrimU32:
		return ffi.MakeUint(t, uint64(binary.LittleEndian.Uint32(buf)))
	case abi.PrimU64:
		return ffi.MakeUint(t, binary.LittleEndian.Uint64(buf))
	case abi.PrimF32:
		return ffi.MakeFloat(t, float64(math.Float32frombits(binary.LittleEndian.Uint32(buf))))
	case abi.PrimF64:
		return ffi.MakeFloat(t, math.Float64frombits(binary.LittleEndian.Uint64(buf)))
	}
	return ffi.Unit() // core::empty occupies no storage
}

func writePrimitive(p abi.Primitive, buf []byte, v ffi.Value) {
	switch p {
	case abi.PrimBool:
		if v.Bool() {
			buf[0] = 1
		} else {
			buf[0] = 0
		}
	case abi.PrimI8, abi.PrimU8:
		buf[0] = byte(v.Word())
	case abi.PrimI16, abi.PrimU16:
		binary.LittleEndian.PutUint16(buf, uint16(v.Word()))
	case abi.PrimI32, abi.PrimU32:
		binary.LittleEndian.PutUint32(buf, uint32(v.Word()))
	case abi.PrimI64, abi.PrimU64:
		binary.LittleEndian.PutUint64(buf, v.Word())
	case abi.PrimF32:
		binary.LittleEndian.PutUint32(buf, math.Float32bits(float32(v.Float())))
	case abi.PrimF64:
		binary.LittleEndian.PutUint64(buf, math.Float64bits(v.Float()))
	}
}

// ToValue converts a host Go value into a boundary value of type t. Integer
// widths are range-checked; out-of-range values and unconvertible kinds
// report a type mismatch citing both names.
func (m *Marshaler) ToValue(t *memory.Type, host any) (ffi.Value, error) {
	if p, ok := t.AsPrimitive(); ok {
		return m.primitiveToValue(t, p, host)
	}
	switch h := host.(type) {
	case *StructRef:
		if h.typ != t {
			return ffi.Value{}, errors.TypeMismatch(errors.PhaseMarshal, nil, t.Name(), h.typ.Name())
		}
		if t.IsGcStruct() {
			return ffi.MakeRef(t, h.ptr), nil
		}
		data := make([]byte, t.Size())
		copy(data, h.data)
		return ffi.MakeStruct(t, data), nil
	case *ArrayRef:
		if h.typ != t {
			return ffi.Value{}, errors.TypeMismatch(errors.PhaseMarshal, nil, t.Name(), h.typ.Name())
		}
		return ffi.MakeRef(t, h.ptr), nil
	}
	return ffi.Value{}, errors.TypeMismatch(errors.PhaseMarshal, nil, t.Name(), HostTypeName(host))
}

func (m *Marshaler) primitiveToValue(t *memory.Type, p abi.Primitive, host any) (ffi.Value, error) {
	mismatch := func() (ffi.Value, error) {
		return ffi.Value{}, errors.TypeMismatch(errors.PhaseMarshal, nil, t.Name(), HostTypeName(host))
	}
	switch p {
	case abi.PrimBool:
		b, ok := host.(bool)
		if !ok {
			return mismatch()
		}
		return ffi.MakeBool(t, b), nil
	case abi.PrimI8, abi.PrimI16, abi.PrimI32, abi.PrimI64:
		i, ok := hostInt(host)
		if !ok {
			return mismatch()
		}
		if err := checkSignedWidth(p, i); err != nil {
			return ffi.Value{}, err
		}
		return ffi.MakeInt(t, i), nil
	case abi.PrimU8, abi.PrimU16, abi.PrimU32, abi.PrimU64:
		u, ok := hostUint(host)
		if !ok {
			return mismatch()
		}
		if err := checkUnsignedWidth(p, u); err != nil {
			return ffi.Value{}, err
		}
		return ffi.MakeUint(t, u), nil
	case abi.PrimF32:
		switch f := host.(type) {
		case float32:
			return ffi.MakeFloat(t, float64(f)), nil
		case float64:
			n, err := safecast.Convert[float32](f)
			if err != nil {
				return ffi.Value{}, errors.Wrap(errors.PhaseMarshal, errors.KindTypeMismatch, err,
					fmt.Sprintf("%v does not fit core::f32", f))
			}
			return ffi.MakeFloat(t, float64(n)), nil
		}
		return mismatch()
	case abi.PrimF64:
		switch f := host.(type) {
		case float32:
			return ffi.MakeFloat(t, float64(f)), nil
		case float64:
			return ffi.MakeFloat(t, f), nil
		}
		return mismatch()
	case abi.PrimEmpty:
		if host == nil {
			return ffi.Unit(), nil
		}
		return mismatch()
	}
	return ffi.Value{}, errors.Unsupported(errors.PhaseMarshal, t.Name())
}

func hostInt(host any) (int64, bool) {
	switch v := host.(type) {
	case int:
		return int64(v), true
	case int8:
		return int64(v), true
	case int16:
		return int64(v), true
	case int32:
		return int64(v), true
	case int64:
		return v, true
	}
	return 0, false
}

func hostUint(host any) (uint64, bool) {
	switch v := host.(type) {
	case uint:
		return uint64(v), true
	case uint8:
		return uint64(v), true
	case uint16:
		return uint64(v), true
	case uint32:
		return uint64(v), true
	case uint64:
		return v, true
	}
	return 0, false
}

func checkSignedWidth(p abi.Primitive, v int64) error {
	var err error
	switch p {
	case abi.PrimI8:
		_, err = safecast.Conv[int8](v)
	case abi.PrimI16:
		_, err = safecast.Conv[int16](v)
	case abi.PrimI32:
		_, err = safecast.Conv[int32](v)
	}
	if err != nil {
		return errors.Wrap(errors.PhaseMarshal, errors.KindTypeMismatch, err,
			fmt.Sprintf("%d does not fit %s", v, p.Name()))
	}
	return nil
}

func checkUnsignedWidth(p abi.Primitive, v uint64) error {
	var err error
	switch p {
	case abi.PrimU8:
		_, err = safecast.Conv[uint8](v)
	case abi.PrimU16:
		_, err = safecast.Conv[uint16](v)
	case abi.PrimU32:
		_, err = safecast.Conv[uint32](v)
	}
	if err != nil {
		return errors.Wrap(errors.PhaseMarshal, errors.KindTypeMismatch, err,
			fmt.Sprintf("%d does not fit %s", v, p.Name()))
	}
	return nil
}

// FromValue converts a boundary value into its host representation.
// Primitives map to the matching Go type; gc structs and arrays come back as
// rooted references that the caller must Release.
func (m *Marshaler) FromValue(v ffi.Value) (any, error) {
	if v.IsUnit() {
		return nil, nil
	}
	t := v.Type()
	if p, ok := t.AsPrimitive(); ok {
		switch p {
		case abi.PrimBool:
			return v.Bool(), nil
		case abi.PrimI8:
			return int8(v.Int()), nil
		case abi.PrimI16:
			return int16(v.Int()), nil
		case abi.PrimI32:
			return int32(v.Int()), nil
		case abi.PrimI64:
			return v.Int(), nil
		case abi.PrimU8:
			return uint8(v.Uint()), nil
		case abi.PrimU16:
			return uint16(v.Uint()), nil
		case abi.PrimU32:
			return uint32(v.Uint()), nil
		case abi.PrimU64:
			return v.Uint(), nil
		case abi.PrimF32:
			return float32(v.Float()), nil
		case abi.PrimF64:
			return v.Float(), nil
		case abi.PrimEmpty:
			return nil, nil
		}
		return nil, errors.Unsupported(errors.PhaseMarshal, t.Name())
	}
	if t.IsValueStruct() {
		data := make([]byte, t.Size())
		copy(data, v.Raw())
		return &StructRef{m: m, typ: t, data: data}, nil
	}
	if t.IsGcStruct() {
		if v.Ref().IsNil() {
			return nil, nil
		}
		return m.wrapStruct(t, v.Ref()), nil
	}
	if _, ok := t.AsArray(); ok {
		if v.Ref().IsNil() {
			return nil, nil
		}
		return m.wrapArray(t, v.Ref()), nil
	}
	return nil, errors.Unsupported(errors.PhaseMarshal, t.Name())
}

// CheckArgs verifies the values match the prototype's argument list exactly,
// by type identity.
func (m *Marshaler) CheckArgs(proto *ffi.FunctionPrototype, args []ffi.Value) error {
	if len(args) != len(proto.ArgumentTypes) {
		return errors.Signature("%s expects %d arguments, got %d",
			proto.Signature(), len(proto.ArgumentTypes), len(args))
	}
	for i, a := range args {
		want := proto.ArgumentTypes[i]
		if a.Type() != want {
			return errors.TypeMismatch(errors.PhaseMarshal,
				[]string{proto.Name, fmt.Sprintf("arg[%d]", i)}, want.Name(), a.TypeName())
		}
	}
	return nil
}

// HostTypeName names a host Go value in boundary terms, for error messages.
func HostTypeName(host any) string {
	switch h := host.(type) {
	case nil:
		return "core::empty"
	case bool:
		return "core::bool"
	case int8:
		return "core::i8"
	case int16:
		return "core::i16"
	case int32:
		return "core::i32"
	case int, int64:
		return "core::i64"
	case uint8:
		return "core::u8"
	case uint16:
		return "core::u16"
	case uint32:
		return "core::u32"
	case uint, uint64:
		return "core::u64"
	case float32:
		return "core::f32"
	case float64:
		return "core::f64"
	case *StructRef:
		return h.typ.Name()
	case *ArrayRef:
		return h.typ.Name()
	}
	return fmt.Sprintf("%T", host)
}
