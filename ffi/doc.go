// Package ffi defines the resolved call surface between the host and loaded
// modules: boundary values, resolved function prototypes, and callable
// function definitions.
//
// A FunctionDefinition is the unit the dispatch table binds to. Module
// functions get their definitions from the loader (backed by the bytecode
// interpreter); host functions are wrapped from plain Go functions with
// NewFunction, which derives the prototype from the Go signature via
// reflection.
package ffi
