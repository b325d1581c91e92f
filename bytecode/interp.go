package bytecode

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/briolang/brio/abi"
	"github.com/briolang/brio/errors"
	"github.com/briolang/brio/ffi"
	"github.com/briolang/brio/memory"
)

// Env is the interpreter's window into the owning module: dispatch calls,
// heap allocation, and structured access all go through it.
type Env interface {
	// CallSlot invokes the function bound to a dispatch table slot.
	CallSlot(slot uint32, args []ffi.Value) (ffi.Value, error)
	// NewStruct allocates a zeroed instance of the type bound to a type
	// slot.
	NewStruct(typeSlot uint32) (ffi.Value, error)
	// NewArray allocates an array of the type bound to a type slot.
	NewArray(typeSlot uint32, length int64) (ffi.Value, error)
	// FieldGet reads a struct field by declaration index.
	FieldGet(obj ffi.Value, field uint16) (ffi.Value, error)
	// FieldSet writes a struct field by declaration index.
	FieldSet(obj ffi.Value, field uint16, v ffi.Value) error
	// ElemGet reads an array element.
	ElemGet(arr ffi.Value, index int64) (ffi.Value, error)
	// ElemSet writes an array element.
	ElemSet(arr ffi.Value, index int64, v ffi.Value) error
}

// Interp executes code spans. One instance is shared by all functions of a
// runtime; it is stateless between calls.
type Interp struct {
	i64Type  *memory.Type
	f64Type  *memory.Type
	boolType *memory.Type
}

// NewInterp creates an interpreter bound to a type registry.
func NewInterp(types *memory.Table) *Interp {
	return &Interp{
		i64Type:  types.Primitive(abi.PrimI64),
		f64Type:  types.Primitive(abi.PrimF64),
		boolType: types.Primitive(abi.PrimBool),
	}
}

type frame struct {
	code   []byte // instruction stream, header stripped
	ip     int
	args   []ffi.Value
	locals []ffi.Value
	stack  []ffi.Value
}

func (f *frame) push(v ffi.Value) {
	f.stack = append(f.stack, v)
}

func (f *frame) pop() (ffi.Value, error) {
	if len(f.stack) == 0 {
		return ffi.Value{}, errors.InvalidData(errors.PhaseExec, "operand stack underflow")
	}
	v := f.stack[len(f.stack)-1]
	f.stack = f.stack[:len(f.stack)-1]
	return v, nil
}

func (f *frame) pop2() (a, b ffi.Value, err error) {
	if b, err = f.pop(); err != nil {
		return
	}
	a, err = f.pop()
	return
}

func (f *frame) u16() (uint16, error) {
	if f.ip+2 > len(f.code) {
		return 0, errors.InvalidData(errors.PhaseExec, "truncated instruction stream")
	}
	v := binary.LittleEndian.Uint16(f.code[f.ip:])
	f.ip += 2
	return v, nil
}

func (f *frame) u32() (uint32, error) {
	if f.ip+4 > len(f.code) {
		return 0, errors.InvalidData(errors.PhaseExec, "truncated instruction stream")
	}
	v := binary.LittleEndian.Uint32(f.code[f.ip:])
	f.ip += 4
	return v, nil
}

func (f *frame) u64() (uint64, error) {
	if f.ip+8 > len(f.code) {
		return 0, errors.InvalidData(errors.PhaseExec, "truncated instruction stream")
	}
	v := binary.LittleEndian.Uint64(f.code[f.ip:])
	f.ip += 8
	return v, nil
}

// Exec runs one code span to completion and returns the function's result
// (the unit value for void returns). Falling off the end of the stream is a
// void return.
func (in *Interp) Exec(env Env, code []byte, args []ffi.Value) (ffi.Value, error) {
	if len(code) < 2 {
		return ffi.Value{}, errors.InvalidData(errors.PhaseExec, "code span shorter than its header")
	}
	locals := binary.LittleEndian.Uint16(code[0:2])
	f := &frame{
		code:   code[2:],
		args:   args,
		locals: make([]ffi.Value, locals),
		stack:  make([]ffi.Value, 0, 8),
	}

	for f.ip < len(f.code) {
		op := Op(f.code[f.ip])
		f.ip++

		switch op {
		case OpPushInt:
			raw, err := f.u64()
			if err != nil {
				return ffi.Value{}, err
			}
			f.push(ffi.MakeInt(in.i64Type, int64(raw)))

		case OpPushFloat:
			raw, err := f.u64()
			if err != nil {
				return ffi.Value{}, err
			}
			f.push(ffi.MakeFloat(in.f64Type, math.Float64frombits(raw)))

		case OpPushBool:
			if f.ip >= len(f.code) {
				return ffi.Value{}, errors.InvalidData(errors.PhaseExec, "truncated instruction stream")
			}
			f.push(ffi.MakeBool(in.boolType, f.code[f.ip] != 0))
			f.ip++

		case OpPushUnit:
			f.push(ffi.Unit())

		case OpPop:
			if _, err := f.pop(); err != nil {
				return ffi.Value{}, err
			}

		case OpLoadArg:
			i, err := f.u16()
			if err != nil {
				return ffi.Value{}, err
			}
			if int(i) >= len(f.args) {
				return ffi.Value{}, errors.OutOfBounds(errors.PhaseExec, int(i), len(f.args))
			}
			f.push(f.args[i])

		case OpLoadLocal:
			i, err := f.u16()
			if err != nil {
				return ffi.Value{}, err
			}
			if int(i) >= len(f.locals) {
				return ffi.Value{}, errors.OutOfBounds(errors.PhaseExec, int(i), len(f.locals))
			}
			f.push(f.locals[i])

		case OpStoreLocal:
			i, err := f.u16()
			if err != nil {
				return ffi.Value{}, err
			}
			if int(i) >= len(f.locals) {
				return ffi.Value{}, errors.OutOfBounds(errors.PhaseExec, int(i), len(f.locals))
			}
			v, err := f.pop()
			if err != nil {
				return ffi.Value{}, err
			}
			f.locals[i] = v

		case OpAddInt, OpSubInt, OpMulInt, OpDivInt:
			a, b, err := f.pop2()
			if err != nil {
				return ffi.Value{}, err
			}
			var r int64
			switch op {
			case OpAddInt:
				r = a.Int() + b.Int()
			case OpSubInt:
				r = a.Int() - b.Int()
			case OpMulInt:
				r = a.Int() * b.Int()
			case OpDivInt:
				if b.Int() == 0 {
					return ffi.Value{}, errors.InvalidInput(errors.PhaseExec, "integer division by zero")
				}
				r = a.Int() / b.Int()
			}
			f.push(ffi.MakeInt(in.i64Type, r))

		case OpNegInt:
			a, err := f.pop()
			if err != nil {
				return ffi.Value{}, err
			}
			f.push(ffi.MakeInt(in.i64Type, -a.Int()))

		case OpEqInt, OpNeInt, OpLtInt, OpLeInt, OpGtInt, OpGeInt:
			a, b, err := f.pop2()
			if err != nil {
				return ffi.Value{}, err
			}
			var r bool
			switch op {
			case OpEqInt:
				r = a.Int() == b.Int()
			case OpNeInt:
				r = a.Int() != b.Int()
			case OpLtInt:
				r = a.Int() < b.Int()
			case OpLeInt:
				r = a.Int() <= b.Int()
			case OpGtInt:
				r = a.Int() > b.Int()
			case OpGeInt:
				r = a.Int() >= b.Int()
			}
			f.push(ffi.MakeBool(in.boolType, r))

		case OpAddFloat, OpSubFloat, OpMulFloat, OpDivFloat:
			a, b, err := f.pop2()
			if err != nil {
				return ffi.Value{}, err
			}
			var r float64
			switch op {
			case OpAddFloat:
				r = a.Float() + b.Float()
			case OpSubFloat:
				r = a.Float() - b.Float()
			case OpMulFloat:
				r = a.Float() * b.Float()
			case OpDivFloat:
				r = a.Float() / b.Float()
			}
			f.push(ffi.MakeFloat(in.f64Type, r))

		case OpEqFloat, OpLtFloat, OpLeFloat:
			a, b, err := f.pop2()
			if err != nil {
				return ffi.Value{}, err
			}
			var r bool
			switch op {
			case OpEqFloat:
				r = a.Float() == b.Float()
			case OpLtFloat:
				r = a.Float() < b.Float()
			case OpLeFloat:
				r = a.Float() <= b.Float()
			}
			f.push(ffi.MakeBool(in.boolType, r))

		case OpNot:
			a, err := f.pop()
			if err != nil {
				return ffi.Value{}, err
			}
			f.push(ffi.MakeBool(in.boolType, !a.Bool()))

		case OpJump:
			target, err := f.u32()
			if err != nil {
				return ffi.Value{}, err
			}
			if int(target) > len(f.code) {
				return ffi.Value{}, errors.OutOfBounds(errors.PhaseExec, int(target), len(f.code))
			}
			f.ip = int(target)

		case OpBranchFalse:
			target, err := f.u32()
			if err != nil {
				return ffi.Value{}, err
			}
			cond, err := f.pop()
			if err != nil {
				return ffi.Value{}, err
			}
			if !cond.Bool() {
				if int(target) > len(f.code) {
					return ffi.Value{}, errors.OutOfBounds(errors.PhaseExec, int(target), len(f.code))
				}
				f.ip = int(target)
			}

		case OpCall:
			slot, err := f.u32()
			if err != nil {
				return ffi.Value{}, err
			}
			argc, err := f.u16()
			if err != nil {
				return ffi.Value{}, err
			}
			if int(argc) > len(f.stack) {
				return ffi.Value{}, errors.InvalidData(errors.PhaseExec,
					fmt.Sprintf("call needs %d arguments, stack holds %d", argc, len(f.stack)))
			}
			callArgs := make([]ffi.Value, argc)
			copy(callArgs, f.stack[len(f.stack)-int(argc):])
			f.stack = f.stack[:len(f.stack)-int(argc)]
			out, err := env.CallSlot(slot, callArgs)
			if err != nil {
				return ffi.Value{}, err
			}
			f.push(out)

		case OpNewStruct:
			slot, err := f.u32()
			if err != nil {
				return ffi.Value{}, err
			}
			v, err := env.NewStruct(slot)
			if err != nil {
				return ffi.Value{}, err
			}
			f.push(v)

		case OpNewArray:
			slot, err := f.u32()
			if err != nil {
				return ffi.Value{}, err
			}
			length, err := f.pop()
			if err != nil {
				return ffi.Value{}, err
			}
			v, err := env.NewArray(slot, length.Int())
			if err != nil {
				return ffi.Value{}, err
			}
			f.push(v)

		case OpGetField:
			field, err := f.u16()
			if err != nil {
				return ffi.Value{}, err
			}
			obj, err := f.pop()
			if err != nil {
				return ffi.Value{}, err
			}
			v, err := env.FieldGet(obj, field)
			if err != nil {
				return ffi.Value{}, err
			}
			f.push(v)

		case OpSetField:
			field, err := f.u16()
			if err != nil {
				return ffi.Value{}, err
			}
			obj, v, err := f.pop2()
			if err != nil {
				return ffi.Value{}, err
			}
			if err := env.FieldSet(obj, field, v); err != nil {
				return ffi.Value{}, err
			}

		case OpLoadElem:
			arr, index, err := f.pop2()
			if err != nil {
				return ffi.Value{}, err
			}
			v, err := env.ElemGet(arr, index.Int())
			if err != nil {
				return ffi.Value{}, err
			}
			f.push(v)

		case OpStoreElem:
			v, err := f.pop()
			if err != nil {
				return ffi.Value{}, err
			}
			arr, index, err := f.pop2()
			if err != nil {
				return ffi.Value{}, err
			}
			if err := env.ElemSet(arr, index.Int(), v); err != nil {
				return ffi.Value{}, err
			}

		case OpReturn:
			return f.pop()

		case OpReturnVoid:
			return ffi.Unit(), nil

		default:
			return ffi.Value{}, errors.InvalidData(errors.PhaseExec,
				fmt.Sprintf("unknown opcode %s at offset %d", op, f.ip-1))
		}
	}
	return ffi.Unit(), nil
}
