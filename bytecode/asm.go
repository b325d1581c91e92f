package bytecode

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/briolang/brio/errors"
)

// Assembler builds one code span. Jump targets are symbolic labels resolved
// when Bytes is called.
type Assembler struct {
	buf    []byte
	locals uint16
	labels map[string]uint32
	fixups []fixup
}

type fixup struct {
	at    int // offset of the u32 placeholder in buf
	label string
}

// NewAssembler starts a span with the given number of local slots.
func NewAssembler(locals uint16) *Assembler {
	return &Assembler{
		locals: locals,
		labels: make(map[string]uint32),
	}
}

// Label binds name to the current position.
func (a *Assembler) Label(name string) *Assembler {
	a.labels[name] = uint32(len(a.buf))
	return a
}

func (a *Assembler) op(o Op) *Assembler {
	a.buf = append(a.buf, byte(o))
	return a
}

func (a *Assembler) u16(v uint16) {
	a.buf = binary.LittleEndian.AppendUint16(a.buf, v)
}

func (a *Assembler) u32(v uint32) {
	a.buf = binary.LittleEndian.AppendUint32(a.buf, v)
}

func (a *Assembler) u64(v uint64) {
	a.buf = binary.LittleEndian.AppendUint64(a.buf, v)
}

func (a *Assembler) target(label string) {
	a.fixups = append(a.fixups, fixup{at: len(a.buf), label: label})
	a.u32(0)
}

func (a *Assembler) PushInt(v int64) *Assembler {
	a.op(OpPushInt).u64(uint64(v))
	return a
}

func (a *Assembler) PushFloat(v float64) *Assembler {
	a.op(OpPushFloat).u64(math.Float64bits(v))
	return a
}

func (a *Assembler) PushBool(v bool) *Assembler {
	a.op(OpPushBool)
	if v {
		a.buf = append(a.buf, 1)
	} else {
		a.buf = append(a.buf, 0)
	}
	return a
}

func (a *Assembler) PushUnit() *Assembler { return a.op(OpPushUnit) }
func (a *Assembler) Pop() *Assembler      { return a.op(OpPop) }

func (a *Assembler) LoadArg(i uint16) *Assembler {
	a.op(OpLoadArg).u16(i)
	return a
}

func (a *Assembler) LoadLocal(i uint16) *Assembler {
	a.op(OpLoadLocal).u16(i)
	return a
}

func (a *Assembler) StoreLocal(i uint16) *Assembler {
	a.op(OpStoreLocal).u16(i)
	return a
}

func (a *Assembler) AddInt() *Assembler { return a.op(OpAddInt) }
func (a *Assembler) SubInt() *Assembler { return a.op(OpSubInt) }
func (a *Assembler) MulInt() *Assembler { return a.op(OpMulInt) }
func (a *Assembler) DivInt() *Assembler { return a.op(OpDivInt) }
func (a *Assembler) NegInt() *Assembler { return a.op(OpNegInt) }
func (a *Assembler) EqInt() *Assembler  { return a.op(OpEqInt) }
func (a *Assembler) NeInt() *Assembler  { return a.op(OpNeInt) }
func (a *Assembler) LtInt() *Assembler  { return a.op(OpLtInt) }
func (a *Assembler) LeInt() *Assembler  { return a.op(OpLeInt) }
func (a *Assembler) GtInt() *Assembler  { return a.op(OpGtInt) }
func (a *Assembler) GeInt() *Assembler  { return a.op(OpGeInt) }

func (a *Assembler) AddFloat() *Assembler { return a.op(OpAddFloat) }
func (a *Assembler) SubFloat() *Assembler { return a.op(OpSubFloat) }
func (a *Assembler) MulFloat() *Assembler { return a.op(OpMulFloat) }
func (a *Assembler) DivFloat() *Assembler { return a.op(OpDivFloat) }
func (a *Assembler) EqFloat() *Assembler  { return a.op(OpEqFloat) }
func (a *Assembler) LtFloat() *Assembler  { return a.op(OpLtFloat) }
func (a *Assembler) LeFloat() *Assembler  { return a.op(OpLeFloat) }

func (a *Assembler) Not() *Assembler { return a.op(OpNot) }

func (a *Assembler) Jump(label string) *Assembler {
	a.op(OpJump).target(label)
	return a
}

func (a *Assembler) BranchFalse(label string) *Assembler {
	a.op(OpBranchFalse).target(label)
	return a
}

func (a *Assembler) Call(slot uint32, argc uint16) *Assembler {
	a.op(OpCall).u32(slot)
	a.u16(argc)
	return a
}

func (a *Assembler) NewStruct(typeSlot uint32) *Assembler {
	a.op(OpNewStruct).u32(typeSlot)
	return a
}

func (a *Assembler) NewArray(typeSlot uint32) *Assembler {
	a.op(OpNewArray).u32(typeSlot)
	return a
}

func (a *Assembler) GetField(i uint16) *Assembler {
	a.op(OpGetField).u16(i)
	return a
}

func (a *Assembler) SetField(i uint16) *Assembler {
	a.op(OpSetField).u16(i)
	return a
}

func (a *Assembler) LoadElem() *Assembler  { return a.op(OpLoadElem) }
func (a *Assembler) StoreElem() *Assembler { return a.op(OpStoreElem) }

func (a *Assembler) Return() *Assembler     { return a.op(OpReturn) }
func (a *Assembler) ReturnVoid() *Assembler { return a.op(OpReturnVoid) }

// Bytes resolves labels and returns the finished span: the local count
// header followed by the instruction stream.
func (a *Assembler) Bytes() ([]byte, error) {
	for _, f := range a.fixups {
		pos, ok := a.labels[f.label]
		if !ok {
			return nil, errors.InvalidData(errors.PhaseLoad, fmt.Sprintf("undefined label %q", f.label))
		}
		binary.LittleEndian.PutUint32(a.buf[f.at:], pos)
	}
	out := make([]byte, 2, 2+len(a.buf))
	binary.LittleEndian.PutUint16(out, a.locals)
	return append(out, a.buf...), nil
}

// MustBytes is Bytes for statically known-good spans; it panics on
// unresolved labels.
func (a *Assembler) MustBytes() []byte {
	b, err := a.Bytes()
	if err != nil {
		panic(err)
	}
	return b
}
