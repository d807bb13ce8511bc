// Package goasm backs the asmir.Assembler contract with
// github.com/twitchyliquid64/golang-asm, the same library wazero used
// before it grew its own native assemblers (internal/asm/golang_asm). Every
// emitted node is a golang-asm *obj.Prog; linking delegates to goasm's own
// builder, and Node bookkeeping (jump target assignment, branch-target
// deferral) mirrors wazero's GolangAsmBaseAssembler.
package goasm

import (
	"fmt"

	goasm "github.com/twitchyliquid64/golang-asm"
	"github.com/twitchyliquid64/golang-asm/obj"

	"github.com/neonux/tracejit/internal/asmir"
	"github.com/neonux/tracejit/internal/codecache"
)

// node wraps a golang-asm *obj.Prog to satisfy asmir.Node/asmir.Jump.
type node struct {
	prog *obj.Prog
}

func (n *node) String() string { return n.prog.String() }

func (n *node) OffsetInBinary() uint64 { return uint64(n.prog.Pc) }

func (n *node) AssignTarget(target asmir.Label) {
	if tn, ok := target.Node().(*node); ok {
		n.prog.To.SetTarget(tn.prog)
	}
}

// Builder is the goasm-backed asmir.Assembler. Callers obtain one per
// function being compiled (MethodCompiler) or per trace being recorded
// (TraceRecorder), emit through the arch-specific wrapper built on top of
// NewProg/AddInstruction, then call Link once emission is complete.
type Builder struct {
	b                         *goasm.Builder
	nextLabelID               int
	pendingBranchTargetOnNext []*asmir.Label
}

// New constructs a Builder targeting the given GOARCH ("amd64" or "arm64"),
// mirroring wazero's NewGolangAsmBaseAssembler(arch).
func New(arch string) (*Builder, error) {
	b, err := goasm.NewBuilder(arch, 1024)
	if err != nil {
		return nil, fmt.Errorf("goasm: failed to create assembly builder: %w", err)
	}
	return &Builder{b: b}, nil
}

// NewProg allocates a new instruction for an architecture-specific wrapper
// to fill in before calling AddInstruction.
func (a *Builder) NewProg() *obj.Prog { return a.b.NewProg() }

// AddInstruction appends prog to the instruction stream and resolves any
// labels deferred via SetJumpTargetOnNext onto it.
func (a *Builder) AddInstruction(prog *obj.Prog) asmir.Node {
	a.b.AddInstruction(prog)
	n := &node{prog: prog}
	for _, pending := range a.pendingBranchTargetOnNext {
		pending.SetNode(n)
	}
	a.pendingBranchTargetOnNext = nil
	return n
}

// NewLabel implements asmir.Assembler.
func (a *Builder) NewLabel() asmir.Label {
	a.nextLabelID++
	return asmir.NewLabel(a.nextLabelID, nil)
}

// Bind implements asmir.Assembler: the label resolves to the next
// instruction emitted via AddInstruction.
func (a *Builder) Bind(label *asmir.Label) {
	a.pendingBranchTargetOnNext = append(a.pendingBranchTargetOnNext, label)
}

// Link implements asmir.Assembler: assembles the instruction stream, copies
// the result into dst if non-nil, and returns the assembled code. The
// returned Labels map is always empty: label offsets are not collected
// here, and no codecache.Page is allocated (see LinkToPage for that).
func (a *Builder) Link(dst []byte) (asmir.CodeLocation, error) {
	code := a.b.Assemble()
	if dst != nil {
		copy(dst, code)
	}
	return asmir.CodeLocation{Code: code, Labels: map[asmir.Label]asmir.CodeLocationLabel{}}, nil
}

// LinkToPage assembles and copies the result into a fresh executable
// codecache.Page, flipping it RX before returning — the concrete
// implementation of spec §4.3's LinkBuffer phase ("given a destination
// executable memory region, resolves all jumps, copies code into place").
func (a *Builder) LinkToPage() (*codecache.Page, error) {
	code := a.b.Assemble()
	page, err := codecache.Alloc(len(code))
	if err != nil {
		return nil, err
	}
	if err := page.Patch(func(mem []byte) { copy(mem, code) }); err != nil {
		return nil, err
	}
	return page, nil
}
