package ffi

import (
	"math"

	"github.com/briolang/brio/gc"
	"github.com/briolang/brio/memory"
)

// Value is one typed value crossing the host/module boundary. Primitives are
// packed into a single word; value structs carry their payload bytes; gc
// structs and arrays carry a heap handle. The zero Value is the unit value.
type Value struct {
	typ  *memory.Type
	word uint64
	data []byte
	ref  gc.Ptr
}

// Unit returns the unit value, produced by functions with no return type.
func Unit() Value {
	return Value{}
}

// MakeBool packs a bool into a boundary value of type t.
func MakeBool(t *memory.Type, v bool) Value {
	var w uint64
	if v {
		w = 1
	}
	return Value{typ: t, word: w}
}

// MakeInt packs a signed integer into a boundary value of type t. Narrower
// widths are stored sign-extended.
func MakeInt(t *memory.Type, v int64) Value {
	return Value{typ: t, word: uint64(v)}
}

// MakeUint packs an unsigned integer into a boundary value of type t.
func MakeUint(t *memory.Type, v uint64) Value {
	return Value{typ: t, word: v}
}

// MakeFloat packs a float into a boundary value of type t. f32 values are
// stored at f64 precision and truncated on read.
func MakeFloat(t *memory.Type, v float64) Value {
	return Value{typ: t, word: math.Float64bits(v)}
}

// MakeRef wraps a heap handle (gc struct or array) as a boundary value.
func MakeRef(t *memory.Type, p gc.Ptr) Value {
	return Value{typ: t, ref: p, word: p.Key()}
}

// MakeStruct wraps the payload bytes of a value struct. The Value takes
// ownership of data; callers pass a copy when the source buffer is shared.
func MakeStruct(t *memory.Type, data []byte) Value {
	return Value{typ: t, data: data}
}

// Type returns the value's type, or nil for the unit value.
func (v Value) Type() *memory.Type { return v.typ }

// IsUnit reports whether this is the unit value.
func (v Value) IsUnit() bool { return v.typ == nil }

// Bool unpacks a bool value.
func (v Value) Bool() bool { return v.word != 0 }

// Int unpacks a signed integer value.
func (v Value) Int() int64 { return int64(v.word) }

// Uint unpacks an unsigned integer value.
func (v Value) Uint() uint64 { return v.word }

// Float unpacks a float value.
func (v Value) Float() float64 { return math.Float64frombits(v.word) }

// Ref unpacks a heap handle value.
func (v Value) Ref() gc.Ptr { return v.ref }

// Raw returns the payload bytes of a value struct.
func (v Value) Raw() []byte { return v.data }

// Word returns the packed representation. Handles yield their slot key.
func (v Value) Word() uint64 { return v.word }

// TypeName returns the value's type name, or "core::empty" for unit.
func (v Value) TypeName() string {
	if v.typ == nil {
		return "core::empty"
	}
	return v.typ.Name()
}
