package memory

// AlignTo rounds v up to the next multiple of align. align must be a power
// of two.
func AlignTo(v, align uint32) uint32 {
	if align <= 1 {
		return v
	}
	return (v + align - 1) &^ (align - 1)
}

// Layout is the computed size/alignment of a struct plus its field offsets.
type Layout struct {
	Offsets   []uint32
	Size      uint32
	Alignment uint32
}

// StructLayout computes the inline layout for the given ordered field types,
// using each field's boundary representation (gc references occupy one
// handle word). This is what the compiler emits into images; the registry
// uses it to validate declared offsets.
func StructLayout(fieldTypes []*Type) Layout {
	if len(fieldTypes) == 0 {
		return Layout{Size: 0, Alignment: 1}
	}

	offsets := make([]uint32, len(fieldTypes))
	maxAlign := uint32(1)
	offset := uint32(0)

	for i, ft := range fieldTypes {
		size, align := ft.BoundaryLayout()
		offset = AlignTo(offset, align)
		offsets[i] = offset
		if align > maxAlign {
			maxAlign = align
		}
		offset += size
	}

	return Layout{
		Offsets:   offsets,
		Size:      AlignTo(offset, maxAlign),
		Alignment: maxAlign,
	}
}

// ArrayHeaderWords is the number of u64 words preceding array elements:
// length then capacity.
const ArrayHeaderWords = 2

// ArrayHeaderSize is the byte size of the array header.
const ArrayHeaderSize uint32 = ArrayHeaderWords * 8

// ArrayStride returns the distance between consecutive elements: the
// element's boundary size rounded up to its boundary alignment.
func ArrayStride(element *Type) uint32 {
	size, align := element.BoundaryLayout()
	return AlignTo(size, align)
}

// ArrayDataOffset returns the offset of element 0: the header padded to the
// element's boundary alignment.
func ArrayDataOffset(element *Type) uint32 {
	_, align := element.BoundaryLayout()
	return AlignTo(ArrayHeaderSize, align)
}
