package gc

import (
	"encoding/binary"
	"testing"

	"github.com/briolang/brio/abi"
	"github.com/briolang/brio/memory"
)

// registers a gc struct demo::Node { value: i64, next: demo::Node }, a
// value-kind struct demo::Pair { first: i64, second: demo::Node }, and a gc
// struct demo::Holder { pair: demo::Pair } embedding it.
func nodeTypes(t *testing.T, table *memory.Table) (node, holder *memory.Type) {
	t.Helper()
	nodeId := abi.ConcreteId(abi.NewGuid("demo::Node"))
	pairId := abi.ConcreteId(abi.NewGuid("demo::Pair"))
	defs := []abi.TypeDefinition{
		{
			Name: "demo::Node", Id: nodeId, Size: 16, Alignment: 8,
			Struct: abi.StructDefinition{
				MemoryKind:   abi.MemoryKindGc,
				FieldNames:   []string{"value", "next"},
				FieldTypes:   []abi.TypeId{abi.PrimI64.TypeId(), nodeId},
				FieldOffsets: []uint32{0, 8},
			},
		},
		{
			Name: "demo::Pair", Id: pairId, Size: 16, Alignment: 8,
			Struct: abi.StructDefinition{
				MemoryKind:   abi.MemoryKindValue,
				FieldNames:   []string{"first", "second"},
				FieldTypes:   []abi.TypeId{abi.PrimI64.TypeId(), nodeId},
				FieldOffsets: []uint32{0, 8},
			},
		},
		{
			Name: "demo::Holder", Id: abi.ConcreteId(abi.NewGuid("demo::Holder")), Size: 16, Alignment: 8,
			Struct: abi.StructDefinition{
				MemoryKind:   abi.MemoryKindGc,
				FieldNames:   []string{"pair"},
				FieldTypes:   []abi.TypeId{pairId},
				FieldOffsets: []uint32{0},
			},
		},
	}
	types, err := table.RegisterModuleTypes(defs)
	if err != nil {
		t.Fatalf("register types: %v", err)
	}
	return types[0], types[2]
}

func TestAllocZeroedAndTyped(t *testing.T) {
	table := memory.NewTable()
	node, _ := nodeTypes(t, table)
	c := NewCollector()

	p, err := c.Alloc(node)
	if err != nil {
		t.Fatalf("alloc: %v", err)
	}
	if p.Type() != node {
		t.Error("TypeOf must recover the allocation type")
	}
	for _, b := range p.Bytes() {
		if b != 0 {
			t.Fatal("allocation must be zeroed")
		}
	}

	i64, _ := table.Resolve(abi.PrimI64.TypeId())
	if _, err := c.Alloc(i64); err == nil {
		t.Error("only gc structs are heap allocated")
	}
}

func TestRootingIsReentrantAndBalanced(t *testing.T) {
	table := memory.NewTable()
	node, _ := nodeTypes(t, table)
	c := NewCollector()

	p, _ := c.Alloc(node)
	c.Root(p)
	c.Root(p)
	c.Root(p)

	c.Unroot(p)
	c.Unroot(p)
	if c.Collect() {
		t.Fatal("object with an outstanding root must not be reclaimed")
	}
	if p.Type() != node {
		t.Fatal("rooted object must stay usable")
	}

	c.Unroot(p)
	if !c.Collect() {
		t.Error("fully unrooted object must be reclaimed")
	}
}

func TestUnrootBelowZeroPanics(t *testing.T) {
	table := memory.NewTable()
	node, _ := nodeTypes(t, table)
	c := NewCollector()
	p, _ := c.Alloc(node)

	defer func() {
		if recover() == nil {
			t.Error("expected root-count underflow to panic")
		}
	}()
	c.Unroot(p)
}

func TestCollectFollowsGcFields(t *testing.T) {
	table := memory.NewTable()
	node, _ := nodeTypes(t, table)
	c := NewCollector()

	head, _ := c.Alloc(node)
	mid, _ := c.Alloc(node)
	tail, _ := c.Alloc(node)
	c.SetRefAt(head, 8, mid)
	c.SetRefAt(mid, 8, tail)
	c.Root(head)

	if c.Collect() {
		t.Error("everything reachable from the root is live")
	}
	if c.Stats().ObjectCount != 3 {
		t.Errorf("expected 3 live objects, have %d", c.Stats().ObjectCount)
	}

	// Cut the chain: tail becomes unreachable.
	c.SetRefAt(mid, 8, Ptr{})
	if !c.Collect() {
		t.Error("unreachable tail must be reclaimed")
	}
	if got := c.Stats().ObjectCount; got != 2 {
		t.Errorf("expected 2 live objects, have %d", got)
	}

	c.Unroot(head)
	c.Collect()
	if got := c.Stats().ObjectCount; got != 0 {
		t.Errorf("expected empty heap, have %d objects", got)
	}
}

func TestCollectTracesThroughValueStruct(t *testing.T) {
	table := memory.NewTable()
	node, holder := nodeTypes(t, table)
	c := NewCollector()

	inner, _ := c.Alloc(node)
	outer, _ := c.Alloc(holder)
	// Holder embeds demo::Pair inline; the pair's gc field sits at offset 8.
	c.SetRefAt(outer, 8, inner)
	c.Root(outer)

	c.Collect()
	if c.Deref(inner.Key()).IsNil() {
		t.Error("reference inside an embedded value struct must be traced")
	}
	c.Unroot(outer)
}

func TestArrayAllocationAndTracing(t *testing.T) {
	table := memory.NewTable()
	node, _ := nodeTypes(t, table)
	c := NewCollector()

	arrType, err := table.Resolve(abi.ArrayId(node.Id()))
	if err != nil {
		t.Fatalf("resolve array type: %v", err)
	}

	arr, err := c.AllocArray(arrType, 3, 4)
	if err != nil {
		t.Fatalf("alloc array: %v", err)
	}
	if c.ArrayLen(arr) != 3 || c.ArrayCap(arr) != 4 {
		t.Errorf("len/cap = %d/%d, want 3/4", c.ArrayLen(arr), c.ArrayCap(arr))
	}

	// Header is length then capacity.
	raw := arr.Bytes()
	if binary.LittleEndian.Uint64(raw[0:8]) != 3 || binary.LittleEndian.Uint64(raw[8:16]) != 4 {
		t.Error("array header mismatch")
	}

	elem, _ := c.Alloc(node)
	info, _ := arrType.AsArray()
	offset := memory.ArrayDataOffset(info.Element) + memory.ArrayStride(info.Element)
	c.SetRefAt(arr, offset, elem) // element 1
	c.Root(arr)

	c.Collect()
	if c.Deref(elem.Key()).IsNil() {
		t.Error("array element must be traced")
	}

	// Shrinking the live prefix makes the element collectible.
	if err := c.SetArrayLen(arr, 1); err != nil {
		t.Fatalf("set len: %v", err)
	}
	c.Collect()
	if !c.Deref(elem.Key()).IsNil() {
		t.Error("element beyond the live prefix must be reclaimed")
	}

	if err := c.SetArrayLen(arr, 9); err == nil {
		t.Error("length beyond capacity must be rejected")
	}
	c.Unroot(arr)
}

func TestStatsTrackAllocations(t *testing.T) {
	table := memory.NewTable()
	node, _ := nodeTypes(t, table)
	c := NewCollector()

	p, _ := c.Alloc(node)
	stats := c.Stats()
	if stats.ObjectCount != 1 || stats.AllocatedMemory != uint64(node.Size()) {
		t.Errorf("unexpected stats %+v", stats)
	}

	_ = p
	c.Collect()
	stats = c.Stats()
	if stats.ObjectCount != 0 || stats.AllocatedMemory != 0 {
		t.Errorf("stats after reclaim %+v", stats)
	}
}
