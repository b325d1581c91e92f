package loader

import (
	"fmt"

	"github.com/briolang/brio/abi"
	"github.com/briolang/brio/errors"
	"github.com/briolang/brio/ffi"
	"github.com/briolang/brio/memory"
)

// Module is a linked, callable module: registered types, the resolved type
// slot table, and the bound dispatch table.
type Module struct {
	Name   string
	Path   string
	Digest Digest

	image     *abi.ModuleImage
	ownTypes  []*memory.Type // registered by this module; released on unlink
	slots     []*memory.Type // resolved TypeRefs, retained
	protoRefs []*memory.Type // prototype argument/return types, retained
	functions []*ffi.FunctionDefinition
	exports   map[string]*ffi.FunctionDefinition
}

// Function returns the module's exported function with the exact given name.
func (m *Module) Function(name string) (*ffi.FunctionDefinition, bool) {
	def, ok := m.exports[name]
	return def, ok
}

// Functions returns the exported function names in dispatch order.
func (m *Module) Functions() []string {
	names := make([]string, 0, len(m.exports))
	for i, p := range m.image.Dispatch.Prototypes {
		if m.image.Dispatch.Flags[i]&abi.FlagExtern == 0 {
			names = append(names, p.Name)
		}
	}
	return names
}

// Dependencies returns the image's declared dependency artifacts.
func (m *Module) Dependencies() []string {
	return m.image.Dependencies
}

// moduleEnv is the interpreter's view of one module: calls resolve through
// the module's dispatch table, type slots through its TypeRefs.
type moduleEnv struct {
	l *Loader
	m *Module
}

func (e *moduleEnv) slotType(slot uint32) (*memory.Type, error) {
	if int(slot) >= len(e.m.slots) {
		return nil, errors.OutOfBounds(errors.PhaseExec, int(slot), len(e.m.slots))
	}
	return e.m.slots[slot], nil
}

func (e *moduleEnv) CallSlot(slot uint32, args []ffi.Value) (ffi.Value, error) {
	if int(slot) >= len(e.m.functions) {
		return ffi.Value{}, errors.OutOfBounds(errors.PhaseExec, int(slot), len(e.m.functions))
	}
	return e.m.functions[slot].Call(args)
}

func (e *moduleEnv) NewStruct(typeSlot uint32) (ffi.Value, error) {
	t, err := e.slotType(typeSlot)
	if err != nil {
		return ffi.Value{}, err
	}
	if t.IsGcStruct() {
		p, err := e.l.heap.Alloc(t)
		if err != nil {
			return ffi.Value{}, err
		}
		return ffi.MakeRef(t, p), nil
	}
	if t.IsValueStruct() {
		return ffi.MakeStruct(t, make([]byte, t.Size())), nil
	}
	return ffi.Value{}, errors.New(errors.PhaseExec, errors.KindInvalidData).
		Found(t.Name()).
		Detail("new.struct requires a struct type slot").
		Build()
}

func (e *moduleEnv) NewArray(typeSlot uint32, length int64) (ffi.Value, error) {
	t, err := e.slotType(typeSlot)
	if err != nil {
		return ffi.Value{}, err
	}
	if _, ok := t.AsArray(); !ok {
		return ffi.Value{}, errors.New(errors.PhaseExec, errors.KindInvalidData).
			Found(t.Name()).
			Detail("new.array requires an array type slot").
			Build()
	}
	if length < 0 {
		return ffi.Value{}, errors.InvalidInput(errors.PhaseExec,
			fmt.Sprintf("negative array length %d", length))
	}
	p, err := e.l.heap.AllocArray(t, int(length), int(length))
	if err != nil {
		return ffi.Value{}, err
	}
	return ffi.MakeRef(t, p), nil
}

func (e *moduleEnv) fieldOf(obj ffi.Value, field uint16) (memory.Field, []byte, error) {
	t := obj.Type()
	if t == nil {
		return memory.Field{}, nil, errors.InvalidData(errors.PhaseExec, "field access on the unit value")
	}
	st, ok := t.AsStruct()
	if !ok {
		return memory.Field{}, nil, errors.TypeMismatch(errors.PhaseExec, nil, "struct", t.Name())
	}
	if int(field) >= len(st.Fields) {
		return memory.Field{}, nil, errors.OutOfBounds(errors.PhaseExec, int(field), len(st.Fields))
	}

	var storage []byte
	if t.IsGcStruct() {
		if obj.Ref().IsNil() {
			return memory.Field{}, nil, errors.InvalidData(errors.PhaseExec,
				"field access through a null "+t.Name()+" reference")
		}
		storage = obj.Ref().Bytes()
	} else {
		storage = obj.Raw()
	}
	return st.Fields[field], storage, nil
}

func (e *moduleEnv) FieldGet(obj ffi.Value, field uint16) (ffi.Value, error) {
	f, storage, err := e.fieldOf(obj, field)
	if err != nil {
		return ffi.Value{}, err
	}
	return e.l.codec.ReadAt(f.Type, storage, f.Offset)
}

func (e *moduleEnv) FieldSet(obj ffi.Value, field uint16, v ffi.Value) error {
	f, storage, err := e.fieldOf(obj, field)
	if err != nil {
		return err
	}
	return e.l.codec.WriteAt(f.Type, storage, f.Offset, v)
}

func (e *moduleEnv) elemOf(arr ffi.Value, index int64) (*memory.Type, []byte, uint32, error) {
	t := arr.Type()
	if t == nil {
		return nil, nil, 0, errors.InvalidData(errors.PhaseExec, "element access on the unit value")
	}
	info, ok := t.AsArray()
	if !ok {
		return nil, nil, 0, errors.TypeMismatch(errors.PhaseExec, nil, "array", t.Name())
	}
	if arr.Ref().IsNil() {
		return nil, nil, 0, errors.InvalidData(errors.PhaseExec,
			"element access through a null "+t.Name()+" reference")
	}
	length := e.l.heap.ArrayLen(arr.Ref())
	if index < 0 || index >= int64(length) {
		return nil, nil, 0, errors.OutOfBounds(errors.PhaseExec, int(index), length)
	}
	off := memory.ArrayDataOffset(info.Element) + uint32(index)*memory.ArrayStride(info.Element)
	return info.Element, arr.Ref().Bytes(), off, nil
}

func (e *moduleEnv) ElemGet(arr ffi.Value, index int64) (ffi.Value, error) {
	elem, storage, off, err := e.elemOf(arr, index)
	if err != nil {
		return ffi.Value{}, err
	}
	return e.l.codec.ReadAt(elem, storage, off)
}

func (e *moduleEnv) ElemSet(arr ffi.Value, index int64, v ffi.Value) error {
	elem, storage, off, err := e.elemOf(arr, index)
	if err != nil {
		return err
	}
	return e.l.codec.WriteAt(elem, storage, off, v)
}
