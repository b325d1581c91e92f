// Package memory holds the process-local type registry: the resolved,
// queryable description of every type any loaded module defines or
// references, keyed by abi.TypeId and shared across modules.
//
// Types are reference counted. A module retains every type it registers or
// references; host-facing handles retain the types they wrap. A type is
// destroyed only when its count reaches zero, at which point it releases the
// types it composes (pointee, element, fields). Cyclic struct references are
// representable because the registry is an arena keyed by TypeId rather than
// a tree of owning pointers.
package memory
