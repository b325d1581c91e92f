package abi

import (
	"bytes"

	"github.com/briolang/brio/abi/internal/binary"
	"github.com/briolang/brio/errors"
)

const (
	maxTableEntries = 1 << 20
	maxCodeSize     = 1 << 28
)

// IsImage reports whether data begins with the raw image magic.
func IsImage(data []byte) bool {
	return len(data) >= len(Magic) && bytes.Equal(data[:len(Magic)], Magic[:])
}

// Decode parses an image in the fixed ABI layout. The embedded version is
// validated before anything else is interpreted; a mismatch fails with a
// version-mismatch error and no partial result.
func Decode(data []byte) (*ModuleImage, error) {
	if !IsImage(data) {
		return nil, errors.InvalidData(errors.PhaseLoad, "not a brio library image (bad magic)")
	}

	r := binary.NewReader(data)
	if _, err := r.ReadBytes(len(Magic)); err != nil {
		return nil, errors.Load("read magic", err)
	}

	version, err := r.ReadFixedU32()
	if err != nil {
		return nil, errors.Load("read ABI version", err)
	}
	if version != Version {
		return nil, errors.VersionMismatch(Version, version)
	}

	img := &ModuleImage{Version: version}

	if img.Name, err = r.ReadString(); err != nil {
		return nil, errors.Load("read module name", err)
	}

	if img.Dependencies, err = decodeStrings(r, "dependency"); err != nil {
		return nil, err
	}

	typeCount, err := r.ReadU32()
	if err != nil {
		return nil, errors.Load("read type count", err)
	}
	if typeCount > maxTableEntries {
		return nil, errors.InvalidData(errors.PhaseLoad, "type table too large")
	}
	img.Types = make([]TypeDefinition, typeCount)
	for i := range img.Types {
		if err := decodeTypeDefinition(r, &img.Types[i]); err != nil {
			return nil, err
		}
	}

	refCount, err := r.ReadU32()
	if err != nil {
		return nil, errors.Load("read type ref count", err)
	}
	if refCount > maxTableEntries {
		return nil, errors.InvalidData(errors.PhaseLoad, "type ref table too large")
	}
	img.TypeRefs = make([]TypeId, refCount)
	for i := range img.TypeRefs {
		if img.TypeRefs[i], err = decodeTypeId(r); err != nil {
			return nil, err
		}
	}

	if err := decodeDispatchTable(r, &img.Dispatch); err != nil {
		return nil, err
	}

	codeLen, err := r.ReadU32()
	if err != nil {
		return nil, errors.Load("read code section length", err)
	}
	if codeLen > maxCodeSize {
		return nil, errors.InvalidData(errors.PhaseLoad, "code section too large")
	}
	if img.Code, err = r.ReadBytes(int(codeLen)); err != nil {
		return nil, errors.Load("read code section", err)
	}

	if err := validateSpans(img); err != nil {
		return nil, err
	}
	return img, nil
}

func decodeStrings(r *binary.Reader, what string) ([]string, error) {
	count, err := r.ReadU32()
	if err != nil {
		return nil, errors.Load("read "+what+" count", err)
	}
	if count > maxTableEntries {
		return nil, errors.InvalidData(errors.PhaseLoad, what+" table too large")
	}
	out := make([]string, count)
	for i := range out {
		if out[i], err = r.ReadString(); err != nil {
			return nil, errors.Load("read "+what, err)
		}
	}
	return out, nil
}

func decodeTypeId(r *binary.Reader) (TypeId, error) {
	kind, err := r.ReadByte()
	if err != nil {
		return TypeId{}, errors.Load("read type id kind", err)
	}
	switch TypeIdKind(kind) {
	case IdConcrete:
		raw, err := r.ReadBytes(16)
		if err != nil {
			return TypeId{}, errors.Load("read type guid", err)
		}
		var g Guid
		copy(g[:], raw)
		return ConcreteId(g), nil
	case IdPointer:
		mutable, err := r.ReadByte()
		if err != nil {
			return TypeId{}, errors.Load("read pointer mutability", err)
		}
		pointee, err := decodeTypeId(r)
		if err != nil {
			return TypeId{}, err
		}
		return PointerId(pointee, mutable != 0), nil
	case IdArray:
		element, err := decodeTypeId(r)
		if err != nil {
			return TypeId{}, err
		}
		return ArrayId(element), nil
	}
	return TypeId{}, errors.InvalidData(errors.PhaseLoad, "unknown type id kind")
}

func decodeTypeDefinition(r *binary.Reader, def *TypeDefinition) error {
	var err error
	if def.Name, err = r.ReadString(); err != nil {
		return errors.Load("read type name", err)
	}
	if def.Id, err = decodeTypeId(r); err != nil {
		return err
	}
	if def.Size, err = r.ReadU32(); err != nil {
		return errors.Load("read type size", err)
	}
	if def.Alignment, err = r.ReadU32(); err != nil {
		return errors.Load("read type alignment", err)
	}

	kind, err := r.ReadByte()
	if err != nil {
		return errors.Load("read struct memory kind", err)
	}
	if kind > byte(MemoryKindValue) {
		return errors.InvalidData(errors.PhaseLoad, "unknown struct memory kind")
	}
	def.Struct.MemoryKind = StructMemoryKind(kind)

	fieldCount, err := r.ReadU32()
	if err != nil {
		return errors.Load("read field count", err)
	}
	if fieldCount > maxTableEntries {
		return errors.InvalidData(errors.PhaseLoad, "field table too large")
	}

	def.Struct.FieldNames = make([]string, fieldCount)
	for i := range def.Struct.FieldNames {
		if def.Struct.FieldNames[i], err = r.ReadString(); err != nil {
			return errors.Load("read field name", err)
		}
	}
	def.Struct.FieldTypes = make([]TypeId, fieldCount)
	for i := range def.Struct.FieldTypes {
		if def.Struct.FieldTypes[i], err = decodeTypeId(r); err != nil {
			return err
		}
	}
	def.Struct.FieldOffsets = make([]uint32, fieldCount)
	for i := range def.Struct.FieldOffsets {
		if def.Struct.FieldOffsets[i], err = r.ReadU32(); err != nil {
			return errors.Load("read field offset", err)
		}
	}
	return nil
}

func decodeDispatchTable(r *binary.Reader, d *DispatchTable) error {
	count, err := r.ReadU32()
	if err != nil {
		return errors.Load("read dispatch count", err)
	}
	if count > maxTableEntries {
		return errors.InvalidData(errors.PhaseLoad, "dispatch table too large")
	}

	d.Prototypes = make([]FunctionPrototype, count)
	for i := range d.Prototypes {
		p := &d.Prototypes[i]
		if p.Name, err = r.ReadString(); err != nil {
			return errors.Load("read function name", err)
		}
		argCount, err := r.ReadU32()
		if err != nil {
			return errors.Load("read argument count", err)
		}
		if argCount > maxTableEntries {
			return errors.InvalidData(errors.PhaseLoad, "argument list too large")
		}
		p.ArgumentTypes = make([]TypeId, argCount)
		for j := range p.ArgumentTypes {
			if p.ArgumentTypes[j], err = decodeTypeId(r); err != nil {
				return err
			}
		}
		hasReturn, err := r.ReadByte()
		if err != nil {
			return errors.Load("read return marker", err)
		}
		if hasReturn != 0 {
			ret, err := decodeTypeId(r)
			if err != nil {
				return err
			}
			p.ReturnType = &ret
		}
	}

	d.Spans = make([]CodeSpan, count)
	for i := range d.Spans {
		if d.Spans[i].Offset, err = r.ReadU32(); err != nil {
			return errors.Load("read code span offset", err)
		}
		if d.Spans[i].Length, err = r.ReadU32(); err != nil {
			return errors.Load("read code span length", err)
		}
	}

	d.Flags = make([]FunctionFlags, count)
	for i := range d.Flags {
		b, err := r.ReadByte()
		if err != nil {
			return errors.Load("read function flags", err)
		}
		d.Flags[i] = FunctionFlags(b)
	}
	return nil
}

func validateSpans(img *ModuleImage) error {
	for i, span := range img.Dispatch.Spans {
		extern := img.Dispatch.Flags[i]&FlagExtern != 0
		if extern {
			if span.Length != 0 {
				return errors.InvalidData(errors.PhaseLoad,
					"extern function "+img.Dispatch.Prototypes[i].Name+" carries a code span")
			}
			continue
		}
		end := uint64(span.Offset) + uint64(span.Length)
		if end > uint64(len(img.Code)) {
			return errors.InvalidData(errors.PhaseLoad,
				"code span for "+img.Dispatch.Prototypes[i].Name+" exceeds code section")
		}
	}
	return nil
}
