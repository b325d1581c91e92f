package abi

import (
	"crypto/md5"
	"encoding/hex"
)

// Version is the ABI version this package describes. The loader rejects
// module images embedding any other value.
const Version uint32 = 1

// Guid is a 128-bit content-derived identifier for a concrete type,
// computed from the fully-qualified type name. A Guid is stable across
// recompilation as long as the name does not change, which is what makes
// hot-reload type reconciliation possible. Collisions between distinct
// names are detected and rejected at registration time.
type Guid [16]byte

// NewGuid computes the Guid for a fully-qualified type name.
func NewGuid(fullyQualifiedName string) Guid {
	return md5.Sum([]byte(fullyQualifiedName))
}

// String returns the Guid as lowercase hex.
func (g Guid) String() string {
	return hex.EncodeToString(g[:])
}

// TypeIdKind discriminates the structural forms a type reference can take.
type TypeIdKind uint8

const (
	// IdConcrete identifies a type by its Guid.
	IdConcrete TypeIdKind = iota
	// IdPointer wraps another TypeId plus a mutability flag.
	IdPointer
	// IdArray wraps an element TypeId.
	IdArray
)

// TypeId is a globally unique, structural identifier for a type. Identity
// and equality are structural over this representation.
type TypeId struct {
	Pointee *TypeId // pointer/array only
	Kind    TypeIdKind
	Guid    Guid // concrete only
	Mutable bool // pointer only
}

// ConcreteId returns the TypeId for a concrete Guid.
func ConcreteId(g Guid) TypeId {
	return TypeId{Kind: IdConcrete, Guid: g}
}

// PointerId returns the TypeId for a pointer to pointee.
func PointerId(pointee TypeId, mutable bool) TypeId {
	p := pointee
	return TypeId{Kind: IdPointer, Pointee: &p, Mutable: mutable}
}

// ArrayId returns the TypeId for an array of element.
func ArrayId(element TypeId) TypeId {
	e := element
	return TypeId{Kind: IdArray, Pointee: &e}
}

// Equal reports structural equality.
func (t TypeId) Equal(o TypeId) bool {
	if t.Kind != o.Kind {
		return false
	}
	switch t.Kind {
	case IdConcrete:
		return t.Guid == o.Guid
	case IdPointer:
		return t.Mutable == o.Mutable && t.Pointee.Equal(*o.Pointee)
	case IdArray:
		return t.Pointee.Equal(*o.Pointee)
	}
	return false
}

// Key returns a canonical string usable as a map key. Two TypeIds are
// structurally equal exactly when their keys are equal.
func (t TypeId) Key() string {
	switch t.Kind {
	case IdConcrete:
		return t.Guid.String()
	case IdPointer:
		if t.Mutable {
			return "*mut " + t.Pointee.Key()
		}
		return "*const " + t.Pointee.Key()
	case IdArray:
		return "[" + t.Pointee.Key() + "]"
	}
	return "<invalid>"
}

// String implements fmt.Stringer using the canonical key.
func (t TypeId) String() string {
	return t.Key()
}
