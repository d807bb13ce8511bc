// Package shapeface specifies the object/property model as an external
// collaborator (spec §1: "The object and property model; the core
// consumes a shape identifier, a slot map accessor, and a property cache
// probe"). Inline Caches (internal/methodjit/ic) and TraceRecorder's
// property-access recording handlers are built entirely against this
// seam; no concrete object representation lives in this module.
package shapeface

import "github.com/neonux/tracejit/internal/value"

// ShapeID identifies one object "shape" (the structural layout — set of
// property names/ids in insertion order — shared by every object that
// reached it via the same sequence of property additions). Comparable,
// process-unique for the shape's lifetime.
type ShapeID uint64

// InvalidShape never names a real shape; used as the zero value for an
// InlineCache's "no shape observed yet" state.
const InvalidShape ShapeID = 0

// AtomID identifies a property name/symbol the runtime has interned.
type AtomID uint32

// SlotOffset is a byte or slot-index offset into an object's slot
// storage, as returned by a successful Probe. Its unit is opaque to the
// core; it is only ever fed back into the embedder's own load/store
// emission.
type SlotOffset int32

const NoSlot SlotOffset = -1

// ProbeResult is what a property cache probe reports for one (shape,
// atom) pair.
type ProbeResult struct {
	// Found is false if atom does not resolve to an own or inherited data
	// slot on this shape (e.g. it is an accessor, or absent).
	Found bool
	// Offset is the resolved slot offset, valid only if Found.
	Offset SlotOffset
	// ProtoChainDepth is how many prototype links were walked to resolve
	// atom; used against the supplemented MAX_PROTO_CHAIN_WALK cap (spec
	// Open Questions / SUPPLEMENTED FEATURES) so a PIC never attaches a
	// stub for a property resolved arbitrarily far up a prototype chain.
	ProtoChainDepth int
}

// ShapeTable is the probe + mutation-notification surface the core reads
// and subscribes to. A concrete embedder's object model implements it;
// the core never constructs or owns a ShapeTable.
type ShapeTable interface {
	// Probe resolves atom against shape's own and inherited slots.
	Probe(shape ShapeID, atom AtomID) ProbeResult
	// ShapeOf returns the current shape of obj. obj is an opaque handle
	// the core received from the interpreter (an interpface.FrameView
	// slot's payload, unboxed via value.Value) and never dereferences
	// itself.
	ShapeOf(obj value.Value) ShapeID
}

// ShapeChangeListener is notified by the embedder whenever a shape
// transition occurs that might invalidate a previously-cached (shape,
// atom)->offset mapping (spec §6 on_shape_change). MethodJIT's
// InlineCache registry implements this to reset affected MIC/PIC sites.
type ShapeChangeListener interface {
	OnShapeChange(shape ShapeID)
}
