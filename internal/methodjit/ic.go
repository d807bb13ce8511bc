package methodjit

import (
	"github.com/neonux/tracejit/internal/asmir"
	"github.com/neonux/tracejit/internal/jitrt"
	"github.com/neonux/tracejit/internal/shapeface"
)

// ICKind enumerates the inline-cache flavors spec §4.9 names: "GET, SET,
// NAME, BIND, CALL (method lookup with receiver coercion for primitive
// receivers), GET-ELEM and SET-ELEM (indexed with string keys), LENGTH".
type ICKind uint8

const (
	ICGet ICKind = iota
	ICSet
	ICName
	ICBind
	ICCall
	ICCallGlobal
	ICSetGlobal
	ICGetElem
	ICSetElem
	ICLength
)

// Stub is one generated PIC chain link (spec §4.9 PIC "a sequence of
// proto-chain walks ... a final slot load/store"). Kept as bookkeeping
// over the native code a real assembler would emit; this package models
// the chain structure and patching protocol, not instruction encoding.
type Stub struct {
	Shape       shapeface.ShapeID
	Offset      shapeface.SlotOffset
	ProtoWalks  int
	EntryLabel  asmir.CodeLocationLabel
	next        *Stub
}

// Cache is the shared patching machinery MIC and PIC both sit on (spec
// §4.9 "Two flavors share a patching machinery"). A MIC is simply a Cache
// whose MaxStubs is 1 — Reset always returns it to the inline-only state.
type Cache struct {
	Kind ICKind

	// InlineShapeGuard is the immediate operand location patched on first
	// miss (spec §4.9 "an inline shape guard whose immediate is patched on
	// first miss").
	InlineShapeGuard asmir.CodeLocationLabel
	// InlineLoadStore is the single load/store whose offset is patched.
	InlineLoadStore asmir.CodeLocationLabel
	// Storeback is where a stub jumps back to on a hit (spec §4.9 "a jump
	// back to the cache's storeback label").
	Storeback asmir.CodeLocationLabel

	LastShape  shapeface.ShapeID
	LastOffset shapeface.SlotOffset

	// NeedsWriteBarrier reports whether this cache's inline/stub stores
	// write a value into a heap object's slot rather than read one: SET and
	// SET-ELEM write a (possibly pointer) value into an object property or
	// element, which may create an old-to-young reference, so the
	// architecture backend emitting this cache's load/store must also emit
	// a call to gcface.WriteBarrier.OnSlotWrite there (spec §4.8/§9). GET
	// kinds never write, so never need one.
	NeedsWriteBarrier bool

	stubs    *Stub // head of the chain, most-recently-attached first.
	stubCnt  int
	maxStubs int
	maxProto int

	repatch asmir.RepatchBuffer
}

// NewCache builds a Cache bound to a concrete RepatchBuffer for patching
// the inline shape guard and chain links.
func NewCache(kind ICKind, repatch asmir.RepatchBuffer, maxStubs, maxProto int) *Cache {
	return &Cache{
		Kind:              kind,
		repatch:           repatch,
		maxStubs:          maxStubs,
		maxProto:          maxProto,
		LastShape:         shapeface.InvalidShape,
		LastOffset:        shapeface.NoSlot,
		NeedsWriteBarrier: kind == ICSet || kind == ICSetElem,
	}
}

// Probe is the resolver's step 1 (spec §4.9 "Resolves the property via
// the slower property lookup").
func Probe(table shapeface.ShapeTable, shape shapeface.ShapeID, atom shapeface.AtomID) shapeface.ProbeResult {
	return table.Probe(shape, atom)
}

// ShouldAttachStub is the resolver's step 2 decision (spec §4.9): attach
// only if the property was found, the stub count is below the cap, and
// the prototype walk depth is within the supplemented bound (see
// SPEC_FULL.md: MAX_PROTO_CHAIN_WALK).
func (c *Cache) ShouldAttachStub(res shapeface.ProbeResult) bool {
	if !res.Found {
		return false
	}
	if c.stubCnt >= c.maxStubs {
		return false
	}
	if res.ProtoChainDepth > c.maxProto {
		return false
	}
	return true
}

// AttachStub assembles and chains a new stub for shape (spec §4.9 steps 3
// and 4): patches the previous stub's (or the inline path's) shape-guard
// jump target to the new stub's entry.
func (c *Cache) AttachStub(shape shapeface.ShapeID, res shapeface.ProbeResult, entry asmir.CodeLocationLabel) (*Stub, error) {
	if !c.ShouldAttachStub(res) {
		return nil, jitrt.ErrStubChainFull
	}
	stub := &Stub{Shape: shape, Offset: res.Offset, ProtoWalks: res.ProtoChainDepth, EntryLabel: entry, next: c.stubs}

	var patchTarget asmir.CodeLocationLabel
	if c.stubs == nil {
		patchTarget = c.InlineShapeGuard
	} else {
		patchTarget = c.stubs.EntryLabel
	}
	if c.repatch != nil {
		if err := c.repatch.RepatchJump(patchTarget, uint64(entry.Offset)); err != nil {
			return nil, err
		}
	}

	c.stubs = stub
	c.stubCnt++
	c.LastShape, c.LastOffset = shape, res.Offset
	return stub, nil
}

// Reset walks the cache back to its initial inline-only state (spec
// §4.9 "Reset: on recompilation of the owning script, each IC is walked
// and reset to the initial inline-only state; owned executable pools of
// stubs are freed").
func (c *Cache) Reset() {
	c.stubs = nil
	c.stubCnt = 0
	c.LastShape = shapeface.InvalidShape
	c.LastOffset = shapeface.NoSlot
}

// StubCount reports the chain's current length, for tests and diagnostics.
func (c *Cache) StubCount() int { return c.stubCnt }

// Shapes reports every shape this Cache currently has a fast path for
// (the inline guard's last-seen shape plus every stub in the chain), for
// on_shape_change (spec §6) to decide which caches a shape mutation
// invalidates without the embedder having to track the reverse mapping
// itself.
func (c *Cache) Shapes() []shapeface.ShapeID {
	var shapes []shapeface.ShapeID
	if c.LastShape != shapeface.InvalidShape {
		shapes = append(shapes, c.LastShape)
	}
	for s := c.stubs; s != nil; s = s.next {
		shapes = append(shapes, s.Shape)
	}
	return shapes
}

// Lookup walks the chain for shape, mirroring what the generated native
// stub chain does at runtime, for property P7 (IC consistency) tests that
// don't want to emit real machine code to exercise the chain.
func (c *Cache) Lookup(shape shapeface.ShapeID) (shapeface.SlotOffset, bool) {
	if shape == c.LastShape {
		return c.LastOffset, true
	}
	for s := c.stubs; s != nil; s = s.next {
		if s.Shape == shape {
			return s.Offset, true
		}
	}
	return shapeface.NoSlot, false
}
