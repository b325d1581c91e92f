package abi

import (
	"github.com/briolang/brio/abi/internal/binary"
)

// Magic identifies a raw brio library image.
var Magic = [4]byte{'B', 'R', 'L', 'B'}

// Encode serializes an image in the fixed ABI layout: magic, version, then
// the dependency, type, dispatch and code sections in order.
func Encode(img *ModuleImage) []byte {
	w := binary.NewWriter()

	w.WriteBytes(Magic[:])
	w.WriteFixedU32(img.Version)
	w.WriteString(img.Name)

	w.WriteU32(uint32(len(img.Dependencies)))
	for _, dep := range img.Dependencies {
		w.WriteString(dep)
	}

	w.WriteU32(uint32(len(img.Types)))
	for i := range img.Types {
		encodeTypeDefinition(w, &img.Types[i])
	}

	w.WriteU32(uint32(len(img.TypeRefs)))
	for _, id := range img.TypeRefs {
		encodeTypeId(w, id)
	}

	encodeDispatchTable(w, &img.Dispatch)

	w.WriteU32(uint32(len(img.Code)))
	w.WriteBytes(img.Code)

	return w.Bytes()
}

func encodeTypeId(w *binary.Writer, id TypeId) {
	w.Byte(byte(id.Kind))
	switch id.Kind {
	case IdConcrete:
		w.WriteBytes(id.Guid[:])
	case IdPointer:
		if id.Mutable {
			w.Byte(1)
		} else {
			w.Byte(0)
		}
		encodeTypeId(w, *id.Pointee)
	case IdArray:
		encodeTypeId(w, *id.Pointee)
	}
}

func encodeTypeDefinition(w *binary.Writer, def *TypeDefinition) {
	w.WriteString(def.Name)
	encodeTypeId(w, def.Id)
	w.WriteU32(def.Size)
	w.WriteU32(def.Alignment)
	w.Byte(byte(def.Struct.MemoryKind))

	w.WriteU32(uint32(len(def.Struct.FieldNames)))
	for _, name := range def.Struct.FieldNames {
		w.WriteString(name)
	}
	for _, id := range def.Struct.FieldTypes {
		encodeTypeId(w, id)
	}
	for _, off := range def.Struct.FieldOffsets {
		w.WriteU32(off)
	}
}

func encodeDispatchTable(w *binary.Writer, d *DispatchTable) {
	w.WriteU32(uint32(d.Len()))
	for i := range d.Prototypes {
		p := &d.Prototypes[i]
		w.WriteString(p.Name)
		w.WriteU32(uint32(len(p.ArgumentTypes)))
		for _, id := range p.ArgumentTypes {
			encodeTypeId(w, id)
		}
		if p.ReturnType != nil {
			w.Byte(1)
			encodeTypeId(w, *p.ReturnType)
		} else {
			w.Byte(0)
		}
	}
	for _, span := range d.Spans {
		w.WriteU32(span.Offset)
		w.WriteU32(span.Length)
	}
	for _, flags := range d.Flags {
		w.Byte(byte(flags))
	}
}
