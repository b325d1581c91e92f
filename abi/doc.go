// Package abi defines the versioned binary contract between the brio
// compiler and the runtime: type identities, the primitive type set, and
// the module image schema (type definitions, dispatch table, dependency
// list, code section).
//
// The schema is pure data. It fixes explicit counts, parallel arrays for
// table-like data, and little-endian primitive widths so that any compiler
// back end emits and any loader parses images identically. Changing the
// schema requires bumping Version; the loader rejects images whose embedded
// version differs, without best-effort interpretation.
package abi
