package runtime

import (
	"github.com/briolang/brio/errors"
	"github.com/briolang/brio/ffi"
)

// Function is a named handle into the root module's dispatch table. It
// resolves the definition on every call, so a handle obtained before a
// reload transparently calls the reloaded body, and calling a function the
// reload removed reports not-found instead of running stale code.
type Function struct {
	rt   *Runtime
	name string
}

// Name returns the exact exported name the handle was created with.
func (f *Function) Name() string { return f.name }

// Call invokes the function with host-side arguments, marshaling them
// against the current prototype and unmarshaling the result. Argument count
// and every argument type must match the declared signature exactly.
func (f *Function) Call(args ...any) (any, error) {
	def, ok := f.rt.Module().Function(f.name)
	if !ok {
		return nil, errors.NotFound(errors.PhaseExec, "function", f.name)
	}

	proto := &def.Prototype
	if len(args) != len(proto.ArgumentTypes) {
		return nil, errors.Signature("%s expects %d argument(s), got %d",
			proto.Signature(), len(proto.ArgumentTypes), len(args))
	}

	codec := f.rt.Marshaler()
	vals := make([]ffi.Value, len(args))
	for i, arg := range args {
		v, err := codec.ToValue(proto.ArgumentTypes[i], arg)
		if err != nil {
			return nil, err
		}
		vals[i] = v
	}

	out, err := def.Call(vals)
	if err != nil {
		return nil, err
	}
	if proto.ReturnType == nil {
		return nil, nil
	}
	return codec.FromValue(out)
}

// Invoke finds name in the runtime's root module and calls it in one step.
func Invoke(rt *Runtime, name string, args ...any) (any, error) {
	fn, err := rt.FindFunction(name)
	if err != nil {
		return nil, err
	}
	return fn.Call(args...)
}
