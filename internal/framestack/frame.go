// Package framestack implements the StackFrame/StackSegment/FrameRegs model
// (spec §3) and the per-execution-context ContextStack operations (spec
// §4.2), layered on top of internal/stackspace.Space. Grounded on wazero's
// callFrame/moduleContext/stackContext split (internal/engine/compiler/engine.go):
// a fixed-size header type embedded ahead of the local/expression data it
// describes, with save/restore handled by copying a small register triple.
package framestack

import (
	"github.com/neonux/tracejit/internal/value"
)

// Flag bits carried by a StackFrame (spec §3 StackFrame flag bits).
type Flag uint8

const (
	FlagConstructing Flag = 1 << iota
	FlagEval
	FlagGenerator
	FlagHasCallObject
)

// RejoinState names where a suspended frame should resume once the
// Recompiler's trampoline hands control back to the interpreter (spec §3
// StackFrame "field naming where to resume").
type RejoinState struct {
	// ScriptedPC is valid when Kind == RejoinScripted: resume interpretation
	// at this bytecode PC.
	ScriptedPC uint32
	Kind       RejoinKind
}

type RejoinKind uint8

const (
	// RejoinNone means the frame was never redirected by the Recompiler.
	RejoinNone RejoinKind = iota
	// RejoinScripted means the frame should resume interpretation at
	// RejoinState.ScriptedPC (spec §4.10 "the scripted rejoin state").
	RejoinScripted
	// RejoinStub means the frame returned mid-stub-call and must resume via
	// the stub-rejoin trampoline rather than at a specific bytecode PC.
	RejoinStub
	// RejoinNativeCallInProgress is the native-call special case (spec
	// §4.10 item 3): the frame is suspended inside an in-progress native
	// call whose IC stub pool has been orphaned to the context.
	RejoinNativeCallInProgress
)

// Frame is the spec §3 StackFrame: a fixed header plus, conceptually, the
// inline locals/expression-stack region that follows it in the owning
// Space. The header fields here hold everything the header itself names;
// the local/expr data lives in the Space slots [LocalsBase, LocalsBase+Count).
type Frame struct {
	// Prev points to the calling frame. Never changed after push except by
	// Recompiler frame expansion, which splices synthetic frames in.
	Prev *Frame

	Script   ScriptRef
	Callee   ObjectRef // the callee, if any (nil for the outermost frame)
	Receiver value.Value
	ArgvBase int // index into the owning Space where argv begins
	ArgCount int

	ReturnValue value.Value

	// PC is the bytecode PC saved when this frame is suspended.
	PC uint32

	ScopeChain ObjectRef

	Flags Flag

	Rejoin RejoinState

	// LocalsBase/LocalsCount and ExprBase/ExprCount locate this frame's
	// inline locals and expression stack within the owning Space, in that
	// order as spec §3 requires ("inline: the local variables and the
	// expression stack in that order").
	LocalsBase, LocalsCount int
	ExprBase, ExprCount     int

	// floating marks a generator frame copied out of live stack space
	// (spec §4.2 push_generator_frame); frame expansion must refuse to act
	// on a floating frame (spec §9 open question, resolved in DESIGN.md).
	floating bool
}

// ScriptRef and ObjectRef are opaque handles into the external object/
// script model; this package never dereferences them, matching spec §1's
// carve-out of the object/property model as an external collaborator.
type ScriptRef interface{ ScriptID() uint32 }
type ObjectRef interface{ ObjectID() uintptr }

func (f *Frame) HasFlag(flag Flag) bool { return f.Flags&flag != 0 }

func (f *Frame) IsFloating() bool { return f.floating }

// Extent returns the [base, base+length) this frame occupies in its Space,
// spanning locals then the expression stack, used by stackspace.Mark to
// report a single live FrameRange per frame.
func (f *Frame) Extent() (base, length int) {
	base = f.LocalsBase
	length = (f.ExprBase + f.ExprCount) - f.LocalsBase
	return
}
