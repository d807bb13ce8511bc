// Package asmir specifies the Assembler IR contract (spec §4.3): linear
// emission of platform-independent pseudo-instructions, Label binding and
// Jump patching, a LinkBuffer phase that resolves jumps into an executable
// region, and a RepatchBuffer phase that edits already-linked code
// in-place. The macro-assembler itself is an external collaborator (spec
// §1); this package only specifies the operations TraceRecorder,
// MethodCompiler, and the Recompiler need from it. internal/asmir/goasm
// supplies the concrete implementation, backed by golang-asm.
//
// Grounded on wazero's internal/asm package (assembler.go, impl.go,
// golang_asm/golang_asm.go): a Node/Label/Jump vocabulary plus a
// BaseAssemblerImpl shared across architectures, and a named adapter
// package for each concrete backend.
package asmir

import "fmt"

// Register is an opaque, architecture-specific register identifier; zero
// value NilRegister means "no register assigned".
type Register int32

const NilRegister Register = 0

// Label names a position in the instruction stream that has not yet been
// assigned an address. Binding happens once, when the assembler emits the
// instruction the label refers to.
type Label struct {
	id   int
	node Node
}

// NewLabel constructs a Label with the given identity; node is nil until
// the owning Assembler binds it.
func NewLabel(id int, node Node) Label { return Label{id: id, node: node} }

// SetNode is called by an Assembler implementation once it knows which
// Node a previously-unbound Label resolves to.
func (l *Label) SetNode(n Node) { l.node = n }

// Node returns the bound Node, or nil if the Label has not been bound yet.
func (l Label) Node() Node { return l.node }

func (l Label) IsBound() bool { return l.node != nil }

// Node is a single emitted pseudo-instruction. Jump nodes additionally
// satisfy Jump.
type Node interface {
	fmt.Stringer
	// OffsetInBinary returns this node's offset in the final linked binary;
	// only valid after LinkBuffer.Finalize.
	OffsetInBinary() uint64
}

// Jump is a Node representing a branch/call whose target can be rewritten
// after emission — at link time (AssignTarget) or, for already-linked code,
// at repatch time (see RepatchBuffer).
type Jump interface {
	Node
	// AssignTarget binds this jump's destination to target's bound Label.
	// Both the jump and target must belong to the same Assembler.
	AssignTarget(target Label)
}

// DataLabel marks a constant-pool entry (e.g. a double literal) emitted
// into the code stream; MethodCompiler's constant-double pool (spec §4.8.2
// "Patch every constant-double reference to point at an appended double
// pool") is built from these.
type DataLabel struct {
	node Node
}

// Assembler is the subset of the macro-assembler + linker the core relies
// on (spec §4.3). Concrete architectures (and the golang-asm adapter) embed
// a base implementation of the Label/Jump bookkeeping and add the actual
// instruction-emission methods TraceRecorder/MethodCompiler call.
type Assembler interface {
	// NewLabel allocates an unbound Label.
	NewLabel() Label
	// Bind binds label to the next instruction emitted.
	Bind(label *Label)
	// Link resolves every Jump's target and copies the assembled
	// instructions into dst, returning handles to every requested Label
	// (spec: "LinkBuffer phase that ... resolves all jumps, copies code
	// into place, and returns CodeLocationLabel handles").
	Link(dst []byte) (CodeLocation, error)
}

// CodeLocationLabel is a resolved, absolute handle to a Label inside
// linked code.
type CodeLocationLabel struct {
	Offset uint64
}

// CodeLocation is the result of a successful Link: the final machine code
// plus a lookup from every Label requested before linking to its resolved
// offset.
type CodeLocation struct {
	Code   []byte
	Labels map[Label]CodeLocationLabel
}

// RepatchBuffer is a scoped view over already-linked code that rewrites a
// single instruction in place — a jump target, an immediate shape, or an
// LEA<->load opcode substitution (spec §4.3) — toggling W^X protection
// around the edit and guaranteeing the CPU observes either the old or the
// new instruction, never a tear (spec binary-level contract).
type RepatchBuffer interface {
	// RepatchJump rewrites the jump at loc to target newTarget.
	RepatchJump(loc CodeLocationLabel, newTarget uint64) error
	// RepatchImmediate rewrites the immediate operand at loc (e.g. a PIC's
	// shape guard, spec §4.9).
	RepatchImmediate(loc CodeLocationLabel, value int64) error
	// RepatchLoadToLEA / RepatchLEAToLoad perform the opcode substitution
	// spec §4.3 names explicitly.
	RepatchLoadToLEA(loc CodeLocationLabel) error
	RepatchLEAToLoad(loc CodeLocationLabel) error
}
