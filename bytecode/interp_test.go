package bytecode

import (
	stderrors "errors"
	"testing"

	"github.com/briolang/brio/abi"
	"github.com/briolang/brio/errors"
	"github.com/briolang/brio/ffi"
	"github.com/briolang/brio/memory"
)

// stubEnv routes interpreter side effects to test hooks.
type stubEnv struct {
	call      func(slot uint32, args []ffi.Value) (ffi.Value, error)
	newStruct func(typeSlot uint32) (ffi.Value, error)
	fieldGet  func(obj ffi.Value, field uint16) (ffi.Value, error)
	fieldSet  func(obj ffi.Value, field uint16, v ffi.Value) error
}

func (e *stubEnv) CallSlot(slot uint32, args []ffi.Value) (ffi.Value, error) {
	return e.call(slot, args)
}

func (e *stubEnv) NewStruct(typeSlot uint32) (ffi.Value, error) {
	return e.newStruct(typeSlot)
}

func (e *stubEnv) NewArray(typeSlot uint32, length int64) (ffi.Value, error) {
	return ffi.Value{}, errors.Unsupported(errors.PhaseExec, "new array")
}

func (e *stubEnv) FieldGet(obj ffi.Value, field uint16) (ffi.Value, error) {
	return e.fieldGet(obj, field)
}

func (e *stubEnv) FieldSet(obj ffi.Value, field uint16, v ffi.Value) error {
	return e.fieldSet(obj, field, v)
}

func (e *stubEnv) ElemGet(arr ffi.Value, index int64) (ffi.Value, error) {
	return ffi.Value{}, errors.Unsupported(errors.PhaseExec, "elem get")
}

func (e *stubEnv) ElemSet(arr ffi.Value, index int64, v ffi.Value) error {
	return errors.Unsupported(errors.PhaseExec, "elem set")
}

func TestExecArithmetic(t *testing.T) {
	types := memory.NewTable()
	in := NewInterp(types)

	code := NewAssembler(0).
		PushInt(6).
		PushInt(7).
		MulInt().
		PushInt(2).
		SubInt().
		Return().
		MustBytes()

	out, err := in.Exec(&stubEnv{}, code, nil)
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if out.Int() != 40 {
		t.Errorf("result = %d, want 40", out.Int())
	}
}

func TestExecBranchesAndLocals(t *testing.T) {
	types := memory.NewTable()
	in := NewInterp(types)
	i64 := types.Primitive(abi.PrimI64)

	// abs(x): if x < 0 { -x } else { x }
	code := NewAssembler(1).
		LoadArg(0).
		StoreLocal(0).
		LoadLocal(0).
		PushInt(0).
		LtInt().
		BranchFalse("positive").
		LoadLocal(0).
		NegInt().
		Return().
		Label("positive").
		LoadLocal(0).
		Return().
		MustBytes()

	for _, tc := range []struct{ in, want int64 }{{-5, 5}, {7, 7}, {0, 0}} {
		out, err := in.Exec(&stubEnv{}, code, []ffi.Value{ffi.MakeInt(i64, tc.in)})
		if err != nil {
			t.Fatalf("abs(%d): %v", tc.in, err)
		}
		if out.Int() != tc.want {
			t.Errorf("abs(%d) = %d, want %d", tc.in, out.Int(), tc.want)
		}
	}
}

func TestExecLoop(t *testing.T) {
	types := memory.NewTable()
	in := NewInterp(types)
	i64 := types.Primitive(abi.PrimI64)

	// sum 1..n with a loop: local0 = acc, local1 = i
	code := NewAssembler(2).
		PushInt(0).
		StoreLocal(0).
		PushInt(1).
		StoreLocal(1).
		Label("loop").
		LoadLocal(1).
		LoadArg(0).
		LeInt().
		BranchFalse("done").
		LoadLocal(0).
		LoadLocal(1).
		AddInt().
		StoreLocal(0).
		LoadLocal(1).
		PushInt(1).
		AddInt().
		StoreLocal(1).
		Jump("loop").
		Label("done").
		LoadLocal(0).
		Return().
		MustBytes()

	out, err := in.Exec(&stubEnv{}, code, []ffi.Value{ffi.MakeInt(i64, 10)})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if out.Int() != 55 {
		t.Errorf("sum(10) = %d, want 55", out.Int())
	}
}

func TestExecRecursiveCall(t *testing.T) {
	types := memory.NewTable()
	in := NewInterp(types)
	i64 := types.Primitive(abi.PrimI64)

	// fib(n): if n <= 1 { n } else { fib(n-1) + fib(n-2) }
	code := NewAssembler(0).
		LoadArg(0).
		PushInt(1).
		LeInt().
		BranchFalse("recurse").
		LoadArg(0).
		Return().
		Label("recurse").
		LoadArg(0).
		PushInt(1).
		SubInt().
		Call(0, 1).
		LoadArg(0).
		PushInt(2).
		SubInt().
		Call(0, 1).
		AddInt().
		Return().
		MustBytes()

	env := &stubEnv{}
	env.call = func(slot uint32, args []ffi.Value) (ffi.Value, error) {
		if slot != 0 {
			t.Fatalf("unexpected dispatch slot %d", slot)
		}
		return in.Exec(env, code, args)
	}

	out, err := in.Exec(env, code, []ffi.Value{ffi.MakeInt(i64, 10)})
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if out.Int() != 55 {
		t.Errorf("fib(10) = %d, want 55", out.Int())
	}
}

func TestExecFloatOps(t *testing.T) {
	types := memory.NewTable()
	in := NewInterp(types)

	code := NewAssembler(0).
		PushFloat(1.5).
		PushFloat(2.5).
		AddFloat().
		PushFloat(2.0).
		DivFloat().
		Return().
		MustBytes()

	out, err := in.Exec(&stubEnv{}, code, nil)
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if out.Float() != 2.0 {
		t.Errorf("result = %v, want 2.0", out.Float())
	}
}

func TestExecDivisionByZero(t *testing.T) {
	types := memory.NewTable()
	in := NewInterp(types)

	code := NewAssembler(0).
		PushInt(1).
		PushInt(0).
		DivInt().
		Return().
		MustBytes()

	_, err := in.Exec(&stubEnv{}, code, nil)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseExec, Kind: errors.KindInvalidInput}) {
		t.Errorf("expected exec invalid_input, got %v", err)
	}
}

func TestExecRejectsMalformedCode(t *testing.T) {
	types := memory.NewTable()
	in := NewInterp(types)

	cases := map[string][]byte{
		"short header":     {0x01},
		"unknown opcode":   {0, 0, 0xff},
		"truncated push":   {0, 0, byte(OpPushInt), 1, 2},
		"stack underflow":  NewAssembler(0).AddInt().MustBytes(),
		"bad arg index":    NewAssembler(0).LoadArg(3).Return().MustBytes(),
		"bad local index":  NewAssembler(1).LoadLocal(9).Return().MustBytes(),
		"return w/o value": NewAssembler(0).Return().MustBytes(),
	}
	for name, code := range cases {
		if _, err := in.Exec(&stubEnv{}, code, nil); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestExecStructOps(t *testing.T) {
	types := memory.NewTable()
	in := NewInterp(types)
	i64 := types.Primitive(abi.PrimI64)

	// new obj; obj.f1 = 42; return obj.f1
	code := NewAssembler(1).
		NewStruct(7).
		StoreLocal(0).
		LoadLocal(0).
		PushInt(42).
		SetField(1).
		LoadLocal(0).
		GetField(1).
		Return().
		MustBytes()

	fields := map[uint16]ffi.Value{}
	env := &stubEnv{
		newStruct: func(typeSlot uint32) (ffi.Value, error) {
			if typeSlot != 7 {
				t.Fatalf("unexpected type slot %d", typeSlot)
			}
			return ffi.MakeStruct(i64, make([]byte, 8)), nil
		},
		fieldSet: func(obj ffi.Value, field uint16, v ffi.Value) error {
			fields[field] = v
			return nil
		},
		fieldGet: func(obj ffi.Value, field uint16) (ffi.Value, error) {
			return fields[field], nil
		},
	}

	out, err := in.Exec(env, code, nil)
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if out.Int() != 42 {
		t.Errorf("field round trip = %d, want 42", out.Int())
	}
}

func TestAssemblerRejectsUndefinedLabel(t *testing.T) {
	_, err := NewAssembler(0).Jump("nowhere").Bytes()
	if err == nil {
		t.Fatal("expected undefined label error")
	}
}

func TestFallingOffTheEndReturnsUnit(t *testing.T) {
	types := memory.NewTable()
	in := NewInterp(types)

	out, err := in.Exec(&stubEnv{}, NewAssembler(0).MustBytes(), nil)
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if !out.IsUnit() {
		t.Error("empty body must produce the unit value")
	}
}
