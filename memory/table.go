package memory

import (
	"sync"

	"github.com/briolang/brio/abi"
	"github.com/briolang/brio/errors"
)

// Table is the process-local type registry shared by every module a runtime
// loads. Mutations (register/retain/release) are safe under concurrent use;
// resolution takes only a read lock unless a composite type has to be
// synthesized.
type Table struct {
	mu     sync.RWMutex
	byKey  map[string]*Type
	byName map[string]*Type
}

// NewTable creates a registry pre-populated with the implemented primitive
// types. The table holds one permanent reference to each primitive.
func NewTable() *Table {
	t := &Table{
		byKey:  make(map[string]*Type),
		byName: make(map[string]*Type),
	}
	for _, p := range abi.Primitives() {
		if !p.Implemented() {
			continue
		}
		ty := &Type{
			name:    p.Name(),
			id:      p.TypeId(),
			size:    p.Size(),
			align:   p.Alignment(),
			payload: p,
		}
		ty.refs.Store(1)
		t.byKey[ty.id.Key()] = ty
		t.byName[ty.name] = ty
	}
	return t
}

// Resolve looks up the type for id. Pointer and array ids are resolved
// structurally: the pointee/element is resolved and the composite is
// synthesized and cached, so repeated resolution of the same composite
// returns the identical *Type. The returned reference is borrowed; callers
// that must keep the type alive across module unload call Retain.
func (t *Table) Resolve(id abi.TypeId) (*Type, error) {
	key := id.Key()

	t.mu.RLock()
	ty, ok := t.byKey[key]
	t.mu.RUnlock()
	if ok {
		return ty, nil
	}

	if id.Kind == abi.IdConcrete {
		return nil, errors.UnresolvedType(errors.PhaseRuntime, key)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	return t.resolveLocked(id, nil)
}

// resolveLocked resolves under the write lock, synthesizing composites as
// needed. When journal is non-nil, synthesized entries are recorded so a
// failed registration batch can remove them again.
func (t *Table) resolveLocked(id abi.TypeId, journal *registration) (*Type, error) {
	key := id.Key()
	if ty, ok := t.byKey[key]; ok {
		return ty, nil
	}

	if id.Kind == abi.IdConcrete {
		return nil, errors.UnresolvedType(errors.PhaseLink, key)
	}

	inner, err := t.resolveLocked(*id.Pointee, journal)
	if err != nil {
		return nil, err
	}

	var ty *Type
	switch id.Kind {
	case abi.IdPointer:
		prefix := "*const "
		if id.Mutable {
			prefix = "*mut "
		}
		ty = &Type{
			name:    prefix + inner.name,
			id:      id,
			size:    Word,
			align:   Word,
			payload: &PointerInfo{Pointee: inner, Mutable: id.Mutable},
		}
	case abi.IdArray:
		ty = &Type{
			name:    "[" + inner.name + "]",
			id:      id,
			size:    Word,
			align:   Word,
			payload: &ArrayInfo{Element: inner},
		}
	default:
		return nil, errors.InvalidData(errors.PhaseLink, "unknown type id kind")
	}

	// The cache entry owns one reference to itself and one to its inner type.
	ty.refs.Store(1)
	inner.retain()
	t.byKey[key] = ty
	t.byName[ty.name] = ty
	if journal != nil {
		journal.synthesized = append(journal.synthesized, ty)
	}
	return ty, nil
}

// Primitive returns the registered type of an implemented primitive. It
// panics on the reserved 128-bit widths; those never resolve.
func (t *Table) Primitive(p abi.Primitive) *Type {
	if !p.Implemented() {
		panic("memory: primitive " + p.Name() + " is reserved and unimplemented")
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.byKey[p.TypeId().Key()]
}

// FindByName returns the type with the given display name, if registered.
func (t *Table) FindByName(name string) (*Type, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ty, ok := t.byName[name]
	return ty, ok
}

// Retain increments the reference count of the type for id.
func (t *Table) Retain(id abi.TypeId) error {
	t.mu.RLock()
	ty, ok := t.byKey[id.Key()]
	t.mu.RUnlock()
	if !ok {
		return errors.UnresolvedType(errors.PhaseRuntime, id.Key())
	}
	ty.retain()
	return nil
}

// Release decrements the reference count of the type for id. Releasing to
// zero destroys the type and transitively releases the types it composes.
func (t *Table) Release(id abi.TypeId) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	ty, ok := t.byKey[id.Key()]
	if !ok {
		return errors.UnresolvedType(errors.PhaseRuntime, id.Key())
	}
	t.releaseLocked(ty)
	return nil
}

// ReleaseType is Release for an already-resolved handle.
func (t *Table) ReleaseType(ty *Type) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.releaseLocked(ty)
}

// RetainType is Retain for an already-resolved handle.
func (t *Table) RetainType(ty *Type) {
	ty.retain()
}

func (t *Table) releaseLocked(ty *Type) {
	if !ty.release() {
		return
	}
	t.removeLocked(ty)

	switch payload := ty.payload.(type) {
	case *StructInfo:
		for _, f := range payload.Fields {
			t.releaseLocked(f.Type)
		}
	case *PointerInfo:
		t.releaseLocked(payload.Pointee)
	case *ArrayInfo:
		t.releaseLocked(payload.Element)
	}
}

func (t *Table) removeLocked(ty *Type) {
	delete(t.byKey, ty.id.Key())
	if cur, ok := t.byName[ty.name]; ok && cur == ty {
		delete(t.byName, ty.name)
	}
}

// Len returns the number of registered types.
func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.byKey)
}

// registration journals one RegisterModuleTypes batch so it can be undone.
type registration struct {
	reused      []*Type
	created     []*Type
	synthesized []*Type
	fieldRefs   []*Type
}

// RegisterModuleTypes inserts a module's type definitions. Types whose
// TypeId is already registered (defined by a dependency or by a prior
// version of the same module) are reused with their count incremented, so
// every module observes the identical *Type instance. On any failure the
// whole batch is rolled back and the registry is left unchanged.
//
// The returned slice is parallel to defs; the caller owns one reference to
// each entry and releases them when the module is unloaded.
func (t *Table) RegisterModuleTypes(defs []abi.TypeDefinition) ([]*Type, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	journal := &registration{}
	out := make([]*Type, len(defs))

	fail := func(err error) ([]*Type, error) {
		t.rollbackLocked(journal)
		return nil, err
	}

	// Phase 1: insert shells (or reuse) so that cyclic and intra-batch
	// field references resolve.
	for i := range defs {
		def := &defs[i]
		if def.Id.Kind != abi.IdConcrete {
			return fail(errors.InvalidData(errors.PhaseLink,
				"module type "+def.Name+" must have a concrete type id"))
		}

		key := def.Id.Key()
		if existing, ok := t.byKey[key]; ok {
			if existing.name != def.Name {
				return fail(errors.New(errors.PhaseLink, errors.KindDuplicate).
					Detail("type id collision: %q and %q share guid %s", existing.name, def.Name, key).
					Build())
			}
			existing.retain()
			journal.reused = append(journal.reused, existing)
			out[i] = existing
			continue
		}

		ty := &Type{
			name:    def.Name,
			id:      def.Id,
			size:    def.Size,
			align:   def.Alignment,
			payload: &StructInfo{MemoryKind: def.Struct.MemoryKind},
		}
		ty.refs.Store(1)
		t.byKey[key] = ty
		t.byName[def.Name] = ty
		journal.created = append(journal.created, ty)
		out[i] = ty
	}

	// Phase 2: resolve field types for freshly created shells.
	created := make(map[*Type]bool, len(journal.created))
	for _, ty := range journal.created {
		created[ty] = true
	}
	for i := range defs {
		ty := out[i]
		if !created[ty] {
			continue
		}
		def := &defs[i]
		info := ty.payload.(*StructInfo)
		info.Fields = make([]Field, len(def.Struct.FieldNames))

		for j := range def.Struct.FieldNames {
			fieldType, err := t.resolveLocked(def.Struct.FieldTypes[j], journal)
			if err != nil {
				return fail(errors.Wrap(errors.PhaseLink, errors.KindUnresolvedType, err,
					"field "+def.Name+"."+def.Struct.FieldNames[j]))
			}
			fieldType.retain()
			journal.fieldRefs = append(journal.fieldRefs, fieldType)

			offset := def.Struct.FieldOffsets[j]
			fieldSize, _ := fieldType.BoundaryLayout()
			if uint64(offset)+uint64(fieldSize) > uint64(def.Size) {
				return fail(errors.InvalidData(errors.PhaseLink,
					"field "+def.Name+"."+def.Struct.FieldNames[j]+" exceeds declared struct size"))
			}

			info.Fields[j] = Field{
				Name:   def.Struct.FieldNames[j],
				Type:   fieldType,
				Offset: offset,
			}
		}
	}

	return out, nil
}

func (t *Table) rollbackLocked(journal *registration) {
	// Component references taken in phase 2 are journaled in fieldRefs, so
	// strip the field lists of batch-created shells first; otherwise
	// releasing a created type would release its components a second time.
	for _, ty := range journal.created {
		ty.payload.(*StructInfo).Fields = nil
	}
	for _, ty := range journal.fieldRefs {
		t.releaseLocked(ty)
	}
	for _, ty := range journal.created {
		t.releaseLocked(ty)
	}
	for _, ty := range journal.reused {
		t.releaseLocked(ty)
	}
	// Composites synthesized for this batch hold one cache reference each;
	// inner-before-outer order means outer release cascades into inner.
	for i := len(journal.synthesized) - 1; i >= 0; i-- {
		ty := journal.synthesized[i]
		if _, ok := t.byKey[ty.id.Key()]; ok {
			t.releaseLocked(ty)
		}
	}
}
