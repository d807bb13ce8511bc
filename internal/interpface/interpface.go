// Package interpface specifies the bytecode interpreter as an external
// collaborator (spec §1: "The bytecode interpreter proper; the core
// consumes an interpreter step/dispatch interface and a bytecode opcode
// enumeration"). Nothing here executes script code; it is the seam
// TraceRecorder and MethodCompiler emit calls against and the shape the
// embedder's real interpreter must satisfy.
//
// Grounded on wazero's interpreter engine/function seam
// (internal/engine/interpreter/interpreter.go's callEngine.callNativeFunc
// opcode-dispatch loop calling into a *function/*code pair it never
// constructs itself) generalized from a host-call boundary to a stepping
// bytecode interpreter.
package interpface

import "github.com/neonux/tracejit/internal/value"

// Opcode is the bytecode operation enumeration the core reasons about.
// The concrete set belongs to the embedder; the core only needs a stable,
// comparable identity plus the handful of opcodes it special-cases
// (TRACE, IFEQ/IFNE comparison fusion, MOD, CALL family).
type Opcode uint16

// Opcodes the core special-cases by name (spec §4.5 "Loop back to the
// same pc" / §4.8 fused compare-and-branch / arithmetic templates). An
// embedder's full enumeration is free to define many more; these are the
// only ones TraceRecorder/MethodCompiler need to recognize structurally.
const (
	OpUnknown Opcode = iota
	OpTrace          // loop-edge marker; on_loop_edge fires here.
	OpIfEQ
	OpIfNE
	OpMod
	OpCall
	OpCallGlobal
	OpGetElem
	OpSetElem
	OpGetProp
	OpSetProp
	OpGetGlobal
	OpSetGlobal
	OpBindName
	OpLength
	OpReturn
)

// PC is an opaque bytecode program counter: an offset into a Script's
// instruction stream. The core treats it as a comparable key, never
// arithmetic on its internal representation.
type PC uint32

// Script identifies one compilation unit of bytecode. The core is handed
// a Script reference by the interpreter at on_method_entry / on_loop_edge
// and threads it opaquely through FrameState, TraceFragment, and CallSite
// records.
type Script interface {
	// ID is a process-unique identifier, stable for the Script's lifetime;
	// used as the script_id component of Oracle keys (spec §4.4) and as a
	// map key for compiled-code lookup (spec §4.6, §4.8.2).
	ID() uint32
	// OpcodeAt returns the opcode at pc.
	OpcodeAt(pc PC) Opcode
	// NumSlots returns the number of interpreter stack slots this script's
	// frame uses, for FrameState sizing (spec §4.7).
	NumSlots() int
	// NumArgs returns the number of formal arguments.
	NumArgs() int
}

// Stepper is the interpreter step/dispatch seam (spec §1): the core calls
// into it to resume bytecode execution after a guard exit or a
// deoptimization, and the interpreter calls into the core's External
// Interfaces (spec §6: on_loop_edge, on_method_entry, on_trap_toggle) at
// the points the spec names.
type Stepper interface {
	// Step executes exactly one opcode at pc against frame, returning the
	// next pc and any host exception raised.
	Step(script Script, pc PC, frame FrameView) (next PC, err error)
}

// FrameView is the read/write accessor the core and the interpreter share
// for one activation's interpreter-visible slots, independent of whether
// the frame currently lives in jitted native state or interpreter state.
type FrameView interface {
	Slot(i int) value.Value
	SetSlot(i int, v value.Value)
	Argv() []value.Value
}
