// Package runtime is the host-facing entry point: it owns one loaded module
// set with its type registry and heap, exposes function and type lookup,
// invokes module functions with full boundary marshaling, and applies
// hot-reloads when the host asks for them.
//
// Reload detection is host-driven. Update compares the backing file against
// the fingerprint taken at the previous check and relinks only when the
// content actually changed.
package runtime
