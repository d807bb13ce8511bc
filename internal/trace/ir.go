// Package trace implements TraceJIT (spec §4.5–§4.6): the recorder that
// turns a hot loop's interpreted execution into a type-specialized linear
// IR trace, the guard/snapshot machinery that lets a trace bail safely
// back to the interpreter, the four-stage expression filter chain that
// cleans up and demotes the recorded IR, and the monitor that owns the
// fragment cache and dispatches between recording, executing, and
// extending trees.
//
// Grounded on wazero's internal/engine/compiler: a linear instruction
// buffer built up during one compilation pass (here: one recording pass),
// a location tracker mapping abstract values to concrete IR nodes
// (compiler_value_location.go generalized from register/stack locations
// to the trace Tracker below), and a dedicated package per major
// subsystem.
package trace

import "fmt"

// Op enumerates the low-level IR operations the recorder emits and the
// filter chain rewrites. This is the "low-level intermediate
// representation" named in spec §1(A); it is intentionally small — just
// enough to express numeric specialization, guards, and loads/stores.
type Op uint8

const (
	OpNop Op = iota
	OpLoadSlot
	OpLoadGlobal
	OpStoreSlot
	OpStoreGlobal
	OpInt32ToDouble   // i2f
	OpDoubleToInt32   // int32-ization with overflow guard
	OpInt32Add
	OpInt32Sub
	OpInt32Neg
	OpInt32Mul
	OpDoubleAdd
	OpDoubleSub
	OpDoubleNeg
	OpDoubleMul
	OpCompareEQ
	OpCompareNE
	OpCompareLT
	OpCompareLE
	OpCompareGT
	OpCompareGE
	OpIntCompareEQ
	OpIntCompareNE
	OpIntCompareLT
	OpIntCompareLE
	OpIntCompareGT
	OpIntCompareGE
	OpGuard
	OpLoopEdgeGuard
	OpCallTree // inner compiled-trace call (spec §4.5 "call_tree IR op")
	OpUnboxInt
	OpUnboxDouble
)

func (o Op) String() string {
	names := [...]string{
		"nop", "load_slot", "load_global", "store_slot", "store_global",
		"i2f", "f2i", "i32.add", "i32.sub", "i32.neg", "i32.mul",
		"f64.add", "f64.sub", "f64.neg", "f64.mul",
		"cmp.eq", "cmp.ne", "cmp.lt", "cmp.le", "cmp.gt", "cmp.ge",
		"icmp.eq", "icmp.ne", "icmp.lt", "icmp.le", "icmp.gt", "icmp.ge",
		"guard", "loop_edge_guard", "call_tree", "unbox.int", "unbox.double",
	}
	if int(o) < len(names) {
		return names[o]
	}
	return "unknown"
}

// Kind classifies the numeric domain an instruction's result lives in;
// used by the filter chain's FuncFilter stage to recognize demotable
// patterns without re-deriving it from Op each time.
type Kind uint8

const (
	KindNone Kind = iota
	KindInt32
	KindDouble
	KindBoolean
)

// Ref names one instruction's result by its position in the Fragment's
// instruction list — a stable identity across filter rewrites, since
// filters replace instructions in place rather than renumbering.
type Ref int

const NoRef Ref = -1

// Instruction is one recorded IR node.
type Instruction struct {
	Op       Op
	Kind     Kind
	A, B     Ref // operand instruction refs; NoRef if unused.
	Imm      int64
	SideExit *SideExit // non-nil only for OpGuard / OpLoopEdgeGuard.

	// Promoted marks an OpInt32ToDouble instruction that the recorder's
	// Import emitted for an int slot, so FuncFilter can match it back to
	// an int32 op by a later demotion rule
	// (spec §4.5 FuncFilter "recognizes f64_neg of an i2f as i32_neg").
	Promoted bool
}

func (in Instruction) String() string {
	return fmt.Sprintf("%s(%d,%d imm=%d)", in.Op, in.A, in.B, in.Imm)
}

// Buffer is the append-only instruction list a Fragment's recording
// session writes into. It is the innermost stage of the expression filter
// chain (spec §4.5 "a LirBufWriter (raw emission)").
type Buffer struct {
	instrs []Instruction
}

func NewBuffer() *Buffer { return &Buffer{} }

// Emit appends in and returns its Ref.
func (b *Buffer) Emit(in Instruction) Ref {
	b.instrs = append(b.instrs, in)
	return Ref(len(b.instrs) - 1)
}

// At returns the instruction at ref.
func (b *Buffer) At(ref Ref) Instruction { return b.instrs[ref] }

// Replace overwrites the instruction at ref in place without disturbing
// later Refs; Fragment.ExtendAt uses it to attach an extension to a
// guard's SideExit (the filter chain rewrites instructions before they
// are emitted instead).
func (b *Buffer) Replace(ref Ref, in Instruction) { b.instrs[ref] = in }

// Len returns the number of emitted instructions.
func (b *Buffer) Len() int { return len(b.instrs) }

// Instructions returns the full recorded list, for handoff to the
// Assembler IR lowering stage (not implemented by this package; spec
// scopes the macro-assembler itself as an external collaborator reached
// through internal/asmir).
func (b *Buffer) Instructions() []Instruction { return b.instrs }
