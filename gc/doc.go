// Package gc implements the runtime's root-tracked mark-sweep collector
// for heap-allocated struct and array instances.
//
// A Ptr is a stable handle: it names a slot, and the slot holds the object's
// backing storage. The collector only ever updates slots, never handles, so
// a Ptr survives any relocation of backing storage. Inside object storage,
// references to other heap objects are stored as 8-byte slot keys, which is
// the in-memory representation module code and the marshaling layer read and
// write.
//
// Rooting is reentrant: rooting an object N times requires N unroots before
// it becomes collectible. An object is reachable if it is rooted or
// reachable from the fields of a reachable object, traversing gc-kind fields
// directly or through value-kind wrapper structs. Unrooting below zero is a
// caller contract violation and panics.
package gc
