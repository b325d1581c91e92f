package ffi

import (
	stderrors "errors"
	"fmt"
	"strings"
	"testing"

	"github.com/briolang/brio/abi"
	"github.com/briolang/brio/errors"
	"github.com/briolang/brio/memory"
)

func TestNewFunctionDerivesPrototype(t *testing.T) {
	types := memory.NewTable()
	def, err := NewFunction("add", func(a, b int64) int64 { return a + b }, types)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}

	want := "fn add(core::i64, core::i64) -> core::i64"
	if got := def.Prototype.Signature(); got != want {
		t.Errorf("signature = %q, want %q", got, want)
	}

	i64 := types.Primitive(abi.PrimI64)
	out, err := def.Call([]Value{MakeInt(i64, 2), MakeInt(i64, 40)})
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	if out.Int() != 42 {
		t.Errorf("result = %d, want 42", out.Int())
	}
}

func TestNewFunctionKindTable(t *testing.T) {
	types := memory.NewTable()
	cases := []struct {
		fn   any
		want string
	}{
		{func(bool) bool { return false }, "fn f(core::bool) -> core::bool"},
		{func(int8, uint16) {}, "fn f(core::i8, core::u16)"},
		{func(int, uint) {}, "fn f(core::i64, core::u64)"},
		{func(float32) float64 { return 0 }, "fn f(core::f32) -> core::f64"},
	}
	for _, tc := range cases {
		def, err := NewFunction("f", tc.fn, types)
		if err != nil {
			t.Fatalf("wrap %T: %v", tc.fn, err)
		}
		if got := def.Prototype.Signature(); got != tc.want {
			t.Errorf("%T: signature = %q, want %q", tc.fn, got, tc.want)
		}
	}
}

func TestNewFunctionRejectsUnmappableTypes(t *testing.T) {
	types := memory.NewTable()
	for _, fn := range []any{
		func(string) {},
		func() []byte { return nil },
		func(...int64) {},
		42,
	} {
		if _, err := NewFunction("bad", fn, types); err == nil {
			t.Errorf("%T: expected rejection", fn)
		}
	}
}

func TestNewFunctionRejectsNonFunction(t *testing.T) {
	types := memory.NewTable()
	_, err := NewFunction("host_log", 42, types)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseLink, Kind: errors.KindTypeMismatch}) {
		t.Fatalf("expected link type mismatch, got %v", err)
	}
	if got := err.Error(); !strings.Contains(got, `extern "host_log" must be a function`) {
		t.Errorf("error must name the extern: %q", got)
	}
}

func TestCallChecksArgumentTypes(t *testing.T) {
	types := memory.NewTable()
	def, _ := NewFunction("square", func(x int64) int64 { return x * x }, types)

	f64 := types.Primitive(abi.PrimF64)
	_, err := def.Call([]Value{MakeFloat(f64, 3.0)})
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseExec, Kind: errors.KindTypeMismatch}) {
		t.Fatalf("expected exec type mismatch, got %v", err)
	}
	if got := err.Error(); !strings.Contains(got, "core::i64") || !strings.Contains(got, "core::f64") {
		t.Errorf("error must cite both type names: %q", got)
	}

	_, err = def.Call(nil)
	if !stderrors.Is(err, &errors.Error{Phase: errors.PhaseMarshal, Kind: errors.KindSignature}) {
		t.Errorf("expected signature error for arity mismatch, got %v", err)
	}
}

func TestTrailingErrorResult(t *testing.T) {
	types := memory.NewTable()
	def, err := NewFunction("checked_div", func(a, b int64) (int64, error) {
		if b == 0 {
			return 0, fmt.Errorf("division by zero")
		}
		return a / b, nil
	}, types)
	if err != nil {
		t.Fatalf("wrap: %v", err)
	}

	i64 := types.Primitive(abi.PrimI64)
	out, err := def.Call([]Value{MakeInt(i64, 84), MakeInt(i64, 2)})
	if err != nil || out.Int() != 42 {
		t.Fatalf("call = (%v, %v), want 42", out.Int(), err)
	}

	_, err = def.Call([]Value{MakeInt(i64, 1), MakeInt(i64, 0)})
	if err == nil || !strings.Contains(err.Error(), "division by zero") {
		t.Errorf("host error must propagate, got %v", err)
	}
}

func TestPrototypeEqualIsStructural(t *testing.T) {
	types := memory.NewTable()
	a, _ := NewFunction("f", func(int64) int64 { return 0 }, types)
	b, _ := NewFunction("f", func(int64) int64 { return 1 }, types)
	c, _ := NewFunction("f", func(int64) float64 { return 0 }, types)

	if !a.Prototype.Equal(&b.Prototype) {
		t.Error("same signature must compare equal")
	}
	if a.Prototype.Equal(&c.Prototype) {
		t.Error("different return types must not compare equal")
	}
}
