// Package errors provides structured error types for the brio runtime.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type carries the expected/found type names for
// mismatches, a field path, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseMarshal, errors.KindTypeMismatch).
//		Path("argument", "0").
//		Expected("core::i64").
//		Found("core::f64").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.NotFound(errors.PhaseRuntime, "function", "fibonacci")
//	err := errors.OutOfBounds(errors.PhaseMarshal, 3, 3)
//
// All errors implement the standard error interface and support errors.Is/As.
// Every fallible runtime API returns an error value; no panics cross a public
// contract edge except invariant violations (root-count underflow,
// use-after-release), which are caller bugs and abort.
package errors
