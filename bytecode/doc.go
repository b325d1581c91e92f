// Package bytecode defines the instruction set module function bodies are
// compiled to, an assembler for producing code spans, and the interpreter
// that executes them.
//
// A code span starts with a little-endian u16 local slot count followed by
// the instruction stream. Instructions are one opcode byte plus fixed-width
// little-endian operands; jump targets are absolute offsets into the
// instruction stream. The interpreter is stack based and reaches back into
// the runtime through the Env interface for calls, allocation, and field or
// element access.
package bytecode
