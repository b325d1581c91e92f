package gc

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/briolang/brio/abi"
	"github.com/briolang/brio/errors"
	"github.com/briolang/brio/memory"
)

// Stats reports collector usage.
type Stats struct {
	AllocatedMemory uint64
	ObjectCount     int
}

// slot is the indirection cell a Ptr names. The collector may replace
// storage during a collection pass; it never invalidates the slot itself
// while the object is live.
type slot struct {
	typ     *memory.Type
	storage []byte
	key     uint64
	roots   atomic.Int32
	marked  bool
	alive   bool
	// arrays only
	length   int
	capacity int
}

// Ptr is an opaque, stable handle to a heap object. The zero Ptr is the
// null reference.
type Ptr struct {
	s *slot
}

// IsNil reports whether p is the null reference.
func (p Ptr) IsNil() bool {
	return p.s == nil
}

// Type recovers the type of a live object. Calling it on a pointer whose
// object has been collected is a caller contract violation.
func (p Ptr) Type() *memory.Type {
	p.check()
	return p.s.typ
}

// Bytes returns the object's current backing storage. The slice is only
// valid until the next collection; holders that span a collection point
// must re-read through the handle.
func (p Ptr) Bytes() []byte {
	p.check()
	return p.s.storage
}

// Key returns the slot key stored inside other objects' fields to reference
// this object.
func (p Ptr) Key() uint64 {
	if p.s == nil {
		return 0
	}
	return p.s.key
}

func (p Ptr) check() {
	if p.s == nil {
		panic("gc: nil handle dereference")
	}
	if !p.s.alive {
		panic(fmt.Sprintf("gc: use of collected object (slot %d, type %s)", p.s.key, p.s.typ.Name()))
	}
}

// Collector owns one runtime instance's heap.
type Collector struct {
	mu        sync.Mutex
	objects   map[uint64]*slot
	nextKey   uint64
	allocated uint64
}

// NewCollector creates an empty heap.
func NewCollector() *Collector {
	return &Collector{
		objects: make(map[uint64]*slot, 64),
		nextKey: 1,
	}
}

// Alloc allocates zeroed storage for one instance of t, which must be a
// gc-kind struct type. The returned handle is unrooted.
func (c *Collector) Alloc(t *memory.Type) (Ptr, error) {
	if !t.IsGcStruct() {
		return Ptr{}, errors.New(errors.PhaseGC, errors.KindInvalidInput).
			Found(t.Name()).
			Detail("only gc-kind structs are heap allocated").
			Build()
	}
	return c.insert(t, make([]byte, t.Size()), 0, 0), nil
}

// AllocArray allocates a gc array of the given array type with the given
// length and capacity (capacity is raised to length when smaller). Storage
// is the header followed by capacity zeroed, stride-aligned elements.
func (c *Collector) AllocArray(arrayType *memory.Type, length, capacity int) (Ptr, error) {
	info, ok := arrayType.AsArray()
	if !ok {
		return Ptr{}, errors.New(errors.PhaseGC, errors.KindInvalidInput).
			Found(arrayType.Name()).
			Detail("not an array type").
			Build()
	}
	if length < 0 || capacity < 0 {
		return Ptr{}, errors.InvalidInput(errors.PhaseGC, "negative array length or capacity")
	}
	if capacity < length {
		capacity = length
	}

	stride := memory.ArrayStride(info.Element)
	dataOffset := memory.ArrayDataOffset(info.Element)
	total := uint64(dataOffset) + uint64(stride)*uint64(capacity)
	storage := make([]byte, total)
	binary.LittleEndian.PutUint64(storage[0:8], uint64(length))
	binary.LittleEndian.PutUint64(storage[8:16], uint64(capacity))

	return c.insert(arrayType, storage, length, capacity), nil
}

func (c *Collector) insert(t *memory.Type, storage []byte, length, capacity int) Ptr {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := &slot{
		typ:      t,
		storage:  storage,
		key:      c.nextKey,
		alive:    true,
		length:   length,
		capacity: capacity,
	}
	c.nextKey++
	c.objects[s.key] = s
	c.allocated += uint64(len(storage))
	return Ptr{s: s}
}

// Root increments the object's root count, keeping it (and everything
// reachable from it) alive across collections.
func (c *Collector) Root(p Ptr) {
	p.check()
	p.s.roots.Add(1)
}

// Unroot decrements the object's root count. Unrooting below zero panics:
// it is a caller contract violation that would corrupt liveness tracking.
func (c *Collector) Unroot(p Ptr) {
	p.check()
	if p.s.roots.Add(-1) < 0 {
		panic(fmt.Sprintf("gc: root count underflow (slot %d, type %s)", p.s.key, p.s.typ.Name()))
	}
}

// TypeOf recovers the type of a live object.
func (c *Collector) TypeOf(p Ptr) *memory.Type {
	return p.Type()
}

// Deref resolves a slot key read out of object storage back to a handle.
// A zero key is the null reference.
func (c *Collector) Deref(key uint64) Ptr {
	if key == 0 {
		return Ptr{}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.objects[key]
	if !ok {
		return Ptr{}
	}
	return Ptr{s: s}
}

// RefAt reads the gc reference embedded at offset in p's storage.
func (c *Collector) RefAt(p Ptr, offset uint32) Ptr {
	raw := binary.LittleEndian.Uint64(p.Bytes()[offset : offset+8])
	return c.Deref(raw)
}

// SetRefAt stores the gc reference v at offset in p's storage.
func (c *Collector) SetRefAt(p Ptr, offset uint32, v Ptr) {
	binary.LittleEndian.PutUint64(p.Bytes()[offset:offset+8], v.Key())
}

// ArrayLen returns the length of a gc array.
func (c *Collector) ArrayLen(p Ptr) int {
	p.check()
	return p.s.length
}

// ArrayCap returns the capacity of a gc array.
func (c *Collector) ArrayCap(p Ptr) int {
	p.check()
	return p.s.capacity
}

// SetArrayLen shrinks or grows the live prefix of a gc array within its
// capacity.
func (c *Collector) SetArrayLen(p Ptr, length int) error {
	p.check()
	if length < 0 || length > p.s.capacity {
		return errors.OutOfBounds(errors.PhaseGC, length, p.s.capacity)
	}
	p.s.length = length
	binary.LittleEndian.PutUint64(p.s.storage[0:8], uint64(length))
	return nil
}

// Stats returns current heap statistics.
func (c *Collector) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Stats{
		AllocatedMemory: c.allocated,
		ObjectCount:     len(c.objects),
	}
}

// Collect performs a full mark-sweep pass and reports whether any memory
// was reclaimed. It must not run while a caller is mid-access to an
// unrooted handle obtained before the call.
func (c *Collector) Collect() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range c.objects {
		s.marked = false
	}

	var stack []*slot
	for _, s := range c.objects {
		if s.roots.Load() > 0 {
			s.marked = true
			stack = append(stack, s)
		}
	}

	for len(stack) > 0 {
		s := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		c.traceLocked(s, func(key uint64) {
			if target, ok := c.objects[key]; ok && !target.marked {
				target.marked = true
				stack = append(stack, target)
			}
		})
	}

	reclaimed := false
	for key, s := range c.objects {
		if s.marked {
			continue
		}
		c.allocated -= uint64(len(s.storage))
		s.alive = false
		s.storage = nil
		delete(c.objects, key)
		reclaimed = true
	}
	return reclaimed
}

// traceLocked visits every slot key stored in s, traversing gc-kind fields
// directly and recursing through value-kind wrapper structs.
func (c *Collector) traceLocked(s *slot, visit func(key uint64)) {
	if info, ok := s.typ.AsArray(); ok {
		stride := memory.ArrayStride(info.Element)
		dataOffset := memory.ArrayDataOffset(info.Element)
		for i := 0; i < s.length; i++ {
			c.traceValue(s.storage, dataOffset+uint32(i)*stride, info.Element, visit)
		}
		return
	}
	if info, ok := s.typ.AsStruct(); ok {
		for _, f := range info.Fields {
			c.traceValue(s.storage, f.Offset, f.Type, visit)
		}
	}
}

func (c *Collector) traceValue(storage []byte, offset uint32, t *memory.Type, visit func(key uint64)) {
	if t.IsGcStruct() {
		if key := binary.LittleEndian.Uint64(storage[offset : offset+8]); key != 0 {
			visit(key)
		}
		return
	}
	if _, ok := t.AsArray(); ok {
		if key := binary.LittleEndian.Uint64(storage[offset : offset+8]); key != 0 {
			visit(key)
		}
		return
	}
	if info, ok := t.AsStruct(); ok && info.MemoryKind == abi.MemoryKindValue {
		for _, f := range info.Fields {
			c.traceValue(storage, offset+f.Offset, f.Type, visit)
		}
	}
}
