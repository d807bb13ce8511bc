// Package gcface specifies the garbage collector as an external
// collaborator (spec §1: "The garbage collector; specified only by its
// contract for rooting, write barriers at slot writes, and a tracing
// callback invoked on live stack frames and cached pointers"). The core
// never implements a collector, and never calls WriteBarrier itself: like
// the actual idiv/arithmetic machine code MethodCompiler's compileMod and
// ChooseArithTemplate only decide about, the barrier call is emitted as
// part of the architecture-specific native code a SET-kind InlineCache
// compiles to (see methodjit.Cache.NeedsWriteBarrier), which is where a
// concrete (container, old, new) triple first exists at all — FrameState's
// tracker and TraceRecorder's IR only ever hold symbolic entries/refs, not
// runtime values, before that code runs. Stack-local stores (FrameState's
// StoreLocal, TraceRecorder's EmitStore) never need one either way: the
// stack is always scanned directly as a root set (spec §6 mark_stack), so
// a generational collector's barrier — needed only when an older heap
// object's field comes to point at a younger one — has nothing to do
// there. The core answers the collector's mark-time walk (spec §6
// mark_stack) by implementing stackspace.Tracer over its own frame chain.
package gcface

import (
	"github.com/neonux/tracejit/internal/stackspace"
	"github.com/neonux/tracejit/internal/value"
)

// WriteBarrier is invoked by the native code a SET-kind InlineCache
// compiles to, immediately after a slot write that may have created a new
// pointer from an old object to a younger one. The embedder's collector
// implements it; no Go code in this module calls it.
type WriteBarrier interface {
	// OnSlotWrite reports that container (an opaque object handle) had its
	// slot at offset updated from old to new.
	OnSlotWrite(container, old, new value.Value)
}

// Rooter is how the collector learns about JIT-owned roots that are not
// reachable through the interpreter's own stack walk: compiled code's
// constant pools (boxed object literals embedded in native code) and any
// InlineCache-owned stub that pins an object (spec §4.9 PIC stubs
// reference shapes, which are themselves GC-managed in a full embedder).
type Rooter interface {
	// AddRoot registers ptr as a GC root until the matching RemoveRoot.
	AddRoot(ptr value.Value)
	RemoveRoot(ptr value.Value)
}

// Tracer is the collector's concrete implementation of
// stackspace.Tracer, re-exported here so callers reason about the GC
// contract through this package rather than importing stackspace
// directly for that purpose. The core's mark_stack external interface
// (spec §6) is simply: for every live segment, call
// stackspace.Space.Mark(frameRanges, tracer).
type Tracer = stackspace.Tracer
