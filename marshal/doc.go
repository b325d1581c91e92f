// Package marshal converts values between host Go representations and the
// ABI boundary representation, per resolved type.
//
// Primitives copy byte-for-byte (the ABI fixes their widths). Value structs
// are copied field-wise at every crossing; the host-side StructRef owns an
// independent byte buffer. Gc structs cross as stable heap handles; the
// host-side StructRef roots the handle for its lifetime and aliases the heap
// object. Arrays cross as handles with bounds-checked element access; the
// raw in-module representation performs no checking of its own.
//
// All argument and return type checking happens here, by type identity, and
// mismatches report both the expected and found type names.
package marshal
