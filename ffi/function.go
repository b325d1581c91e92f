package ffi

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/briolang/brio/abi"
	"github.com/briolang/brio/errors"
	"github.com/briolang/brio/memory"
)

// FunctionPrototype is a fully resolved function signature: every argument
// and return type points into the shared type registry.
type FunctionPrototype struct {
	Name          string
	ArgumentTypes []*memory.Type
	ReturnType    *memory.Type // nil for functions that return nothing
}

// Signature renders the prototype in source form, e.g.
// "fn add(core::i64, core::i64) -> core::i64".
func (p *FunctionPrototype) Signature() string {
	var sb strings.Builder
	sb.WriteString("fn ")
	sb.WriteString(p.Name)
	sb.WriteByte('(')
	for i, a := range p.ArgumentTypes {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(a.Name())
	}
	sb.WriteByte(')')
	if p.ReturnType != nil {
		sb.WriteString(" -> ")
		sb.WriteString(p.ReturnType.Name())
	}
	return sb.String()
}

// Equal reports whether two prototypes describe the same signature. Types
// are interned, so comparison is by identity.
func (p *FunctionPrototype) Equal(other *FunctionPrototype) bool {
	if p.Name != other.Name || p.ReturnType != other.ReturnType {
		return false
	}
	if len(p.ArgumentTypes) != len(other.ArgumentTypes) {
		return false
	}
	for i, a := range p.ArgumentTypes {
		if a != other.ArgumentTypes[i] {
			return false
		}
	}
	return true
}

// FunctionDefinition is a callable bound to a prototype. Module functions
// are backed by the bytecode interpreter, host functions by wrapped Go
// functions.
type FunctionDefinition struct {
	Prototype FunctionPrototype
	Call      func(args []Value) (Value, error)
}

var errType = reflect.TypeOf((*error)(nil)).Elem()

var primitiveByKind = map[reflect.Kind]abi.Primitive{
	reflect.Bool:    abi.PrimBool,
	reflect.Int8:    abi.PrimI8,
	reflect.Int16:   abi.PrimI16,
	reflect.Int32:   abi.PrimI32,
	reflect.Int64:   abi.PrimI64,
	reflect.Int:     abi.PrimI64,
	reflect.Uint8:   abi.PrimU8,
	reflect.Uint16:  abi.PrimU16,
	reflect.Uint32:  abi.PrimU32,
	reflect.Uint64:  abi.PrimU64,
	reflect.Uint:    abi.PrimU64,
	reflect.Float32: abi.PrimF32,
	reflect.Float64: abi.PrimF64,
}

// NewFunction wraps a plain Go function as a host function definition,
// deriving the prototype from the Go signature. Parameters and the optional
// single result must be primitive-mappable (bool, fixed-width integers,
// int/uint as their 64-bit forms, floats); a trailing error result is
// allowed and surfaces as a call failure.
func NewFunction(name string, fn any, types *memory.Table) (*FunctionDefinition, error) {
	rv := reflect.ValueOf(fn)
	rt := rv.Type()
	if rv.Kind() != reflect.Func {
		return nil, errors.New(errors.PhaseLink, errors.KindTypeMismatch).
			Found(rt.String()).
			Detail("extern %q must be a function", name).
			Build()
	}
	if rt.IsVariadic() {
		return nil, errors.Unsupported(errors.PhaseLink, fmt.Sprintf("variadic extern %q", name))
	}

	proto := FunctionPrototype{Name: name}
	for i := 0; i < rt.NumIn(); i++ {
		t, err := primitiveTypeFor(rt.In(i), types)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseLink, errors.KindUnsupported, err,
				fmt.Sprintf("extern %q parameter %d", name, i))
		}
		proto.ArgumentTypes = append(proto.ArgumentTypes, t)
	}

	hasErr := false
	switch rt.NumOut() {
	case 0:
	case 1:
		if rt.Out(0) == errType {
			hasErr = true
		} else {
			t, err := primitiveTypeFor(rt.Out(0), types)
			if err != nil {
				return nil, errors.Wrap(errors.PhaseLink, errors.KindUnsupported, err,
					fmt.Sprintf("extern %q return value", name))
			}
			proto.ReturnType = t
		}
	case 2:
		if rt.Out(1) != errType {
			return nil, errors.Unsupported(errors.PhaseLink,
				fmt.Sprintf("extern %q second return value must be error", name))
		}
		hasErr = true
		t, err := primitiveTypeFor(rt.Out(0), types)
		if err != nil {
			return nil, errors.Wrap(errors.PhaseLink, errors.KindUnsupported, err,
				fmt.Sprintf("extern %q return value", name))
		}
		proto.ReturnType = t
	default:
		return nil, errors.Unsupported(errors.PhaseLink,
			fmt.Sprintf("extern %q returns %d values", name, rt.NumOut()))
	}

	def := &FunctionDefinition{Prototype: proto}
	def.Call = func(args []Value) (Value, error) {
		if len(args) != len(def.Prototype.ArgumentTypes) {
			return Value{}, errors.Signature("extern %q expects %d arguments, got %d",
				name, len(def.Prototype.ArgumentTypes), len(args))
		}
		in := make([]reflect.Value, len(args))
		for i, a := range args {
			want := def.Prototype.ArgumentTypes[i]
			if a.Type() != want {
				return Value{}, errors.TypeMismatch(errors.PhaseExec,
					[]string{name, fmt.Sprintf("arg[%d]", i)}, want.Name(), a.TypeName())
			}
			in[i] = unpackArg(rt.In(i), a)
		}

		out := rv.Call(in)
		if hasErr {
			if errVal := out[len(out)-1]; !errVal.IsNil() {
				return Value{}, errors.Wrap(errors.PhaseExec, errors.KindInvalidInput,
					errVal.Interface().(error), fmt.Sprintf("extern %q failed", name))
			}
		}
		if def.Prototype.ReturnType == nil {
			return Unit(), nil
		}
		return packResult(def.Prototype.ReturnType, out[0]), nil
	}
	return def, nil
}

func primitiveTypeFor(t reflect.Type, types *memory.Table) (*memory.Type, error) {
	p, ok := primitiveByKind[t.Kind()]
	if !ok {
		return nil, fmt.Errorf("go type %s has no boundary representation", t)
	}
	return types.Primitive(p), nil
}

func unpackArg(t reflect.Type, v Value) reflect.Value {
	rv := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.Bool:
		rv.SetBool(v.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		rv.SetInt(v.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		rv.SetUint(v.Uint())
	case reflect.Float32, reflect.Float64:
		rv.SetFloat(v.Float())
	}
	return rv
}

func packResult(t *memory.Type, out reflect.Value) Value {
	switch out.Kind() {
	case reflect.Bool:
		return MakeBool(t, out.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return MakeInt(t, out.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return MakeUint(t, out.Uint())
	case reflect.Float32, reflect.Float64:
		return MakeFloat(t, out.Float())
	}
	return Unit()
}
