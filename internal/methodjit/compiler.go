package methodjit

import (
	"fmt"

	"github.com/neonux/tracejit/internal/asmir"
	"github.com/neonux/tracejit/internal/codecache"
	"github.com/neonux/tracejit/internal/interpface"
	"github.com/neonux/tracejit/internal/jitlog"
	"github.com/neonux/tracejit/internal/value"
)

// CallSite is the tuple spec §3 names: "(codeOffset, inlineIndex,
// pcOffset, id) where id distinguishes multiple callsite records at the
// same PC (trap, return-from-scripted, native-call, variadic-rejoin)".
type CallSite struct {
	CodeOffset  uint64
	InlineIndex int
	PCOffset    interpface.PC
	ID          CallSiteID
}

// CallSiteID enumerates the id discriminants spec §3 lists.
type CallSiteID uint8

const (
	CallSiteTrap CallSiteID = iota
	CallSiteReturnFromScripted
	CallSiteNativeCall
	CallSiteVariadicRejoin
)

// JumpMapEntry maps one bytecode PC to the native code offset registered
// for it while compiling (spec §4.8 "Patch every intra-method jump using
// the jump map").
type JumpMapEntry struct {
	PC         interpface.PC
	CodeOffset uint64
}

// JITScript is the finalized compiled-method record (spec §4.8.2): "a
// single JITScript record with trailing variable-length sections for:
// PC->native map (sorted by bytecode offset), MICs, PICs, CallSites,
// RejoinSites, escaping-upvar list." This record has no separate
// RejoinSites section; rejoin points are not recorded in it.
type JITScript struct {
	ScriptID   uint32
	Page       *codecache.Page
	PCToNative []JumpMapEntry // sorted by PC.
	MICs       []*Cache
	PICs       []*Cache
	CallSites  []CallSite
	// EscapingUpvars lists local slots captured by a nested closure, which
	// the Recompiler must treat specially when expanding frames.
	EscapingUpvars []int

	// UseCounter is reset to zero on recompilation unless hotness itself
	// triggered it (spec §4.10 step 5).
	UseCounter uint32
}

// NativeAt performs the PC->native lookup a CallSite-driven return-address
// patch needs (spec §4.10 step 2), via binary search since PCToNative is
// kept sorted by bytecode offset.
func (j *JITScript) NativeAt(pc interpface.PC) (uint64, bool) {
	lo, hi := 0, len(j.PCToNative)
	for lo < hi {
		mid := (lo + hi) / 2
		if j.PCToNative[mid].PC < pc {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	if lo < len(j.PCToNative) && j.PCToNative[lo].PC == pc {
		return j.PCToNative[lo].CodeOffset, true
	}
	return 0, false
}

// StubCall is the interface MethodCompiler uses to emit a call into a
// slow-path stub (e.g. the trap handler, an arithmetic OOL path, or an IC
// resolver). A concrete architecture backend supplies the actual
// call-emission sequence; this package only decides when to call it.
type StubCall interface {
	EmitCall(target asmir.Node) asmir.Jump
}

// CompileUnit drives one method's compilation: the linear bytecode walk,
// fast/slow path split, and finalization (spec §4.8).
type CompileUnit struct {
	script interpface.Script
	asm    asmir.Assembler
	stubcc asmir.Assembler // the slow-path assembler, emitted into a parallel buffer.
	fs     *FrameState
	log    jitlog.Logger

	// traps maps a PC to whether a debugger breakpoint is currently set
	// there (spec §4.8 step 2).
	traps map[interpface.PC]bool

	jumpMap   []JumpMapEntry
	callSites []CallSite

	mics []*Cache
	pics []*Cache

	// safepoints records the FrameState snapshot (here: just the stack
	// depth, since full register contents are transient) at every join
	// point, for the Recompiler to consult.
	safepoints map[interpface.PC]int

	lastWasCompare bool
	lastCompareOp  interpface.Opcode

	// pendingRejoins holds every StubCompiler-style rejoin recorded by
	// Rejoin, resolved at Finalize once the architecture backend has bound
	// each stub's fallback jump.
	pendingRejoins []pendingRejoin
}

// pendingRejoin pairs a slow-path stub label with the fast-path label its
// fallback jump must land on once the stub buffer is itself bound (spec
// SUPPLEMENTED FEATURES "StubCompiler rejoin-via-jump-patch idiom").
type pendingRejoin struct {
	stub asmir.Label
	main asmir.Label
}

// Rejoin records that stub's fallback jump — once the architecture backend
// binds stub to the actual OOL jump instruction — must be patched at
// Finalize to land on main, the point in the fast-path stream where
// execution should resume. This is how the slow path rejoins the fast path
// instead of duplicating its continuation (JaegerMonkey's
// StubCompiler::rejoin).
func (c *CompileUnit) Rejoin(stub, main asmir.Label) {
	c.pendingRejoins = append(c.pendingRejoins, pendingRejoin{stub: stub, main: main})
}

// NewCompileUnit starts compiling script.
func NewCompileUnit(script interpface.Script, asm, stubcc asmir.Assembler, regs []asmir.Register, log jitlog.Logger) *CompileUnit {
	return &CompileUnit{
		script:     script,
		asm:        asm,
		stubcc:     stubcc,
		fs:         NewFrameState(regs),
		log:        log,
		traps:      map[interpface.PC]bool{},
		safepoints: map[interpface.PC]int{},
	}
}

// SetTrap toggles the debugger breakpoint at pc (spec §6 on_trap_toggle).
func (c *CompileUnit) SetTrap(pc interpface.PC, enabled bool) {
	if enabled {
		c.traps[pc] = true
	} else {
		delete(c.traps, pc)
	}
}

// codeOffsetFunc abstracts reading the assembler's current emission
// offset, since asmir.Assembler itself does not expose one directly
// (offsets only become known Nodes after Link); architecture wrappers
// built on asmir track it themselves and pass it through here.
type codeOffsetFunc func() uint64

// CompileOpcode performs the per-opcode walk step (spec §4.8 steps 1-4)
// for one instruction at pc. isJoinPoint tells step 1 whether to force a
// full forget_everything; w receives any emitted stores.
func (c *CompileUnit) CompileOpcode(pc interpface.PC, isJoinPoint bool, w SyncWriter, offset codeOffsetFunc) {
	if isJoinPoint {
		c.fs.ForgetEverything(w)
		c.safepoints[pc] = c.fs.StackDepth()
	}

	if c.traps[pc] {
		c.callSites = append(c.callSites, CallSite{CodeOffset: offset(), PCOffset: pc, ID: CallSiteTrap})
	}

	c.jumpMap = append(c.jumpMap, JumpMapEntry{PC: pc, CodeOffset: offset()})

	op := c.script.OpcodeAt(pc)
	c.compileBody(pc, op, offset)
}

func (c *CompileUnit) compileBody(pc interpface.PC, op interpface.Opcode, offset codeOffsetFunc) {
	switch op {
	case interpface.OpIfEQ, interpface.OpIfNE:
		c.compileFusedCompareBranch(op)
	case interpface.OpMod:
		c.compileMod(offset)
	case interpface.OpCall, interpface.OpCallGlobal:
		c.compileCallSite(pc, op, offset)
	case interpface.OpGetProp, interpface.OpSetProp, interpface.OpLength:
		c.compilePropertyAccess(op)
	case interpface.OpGetElem, interpface.OpSetElem:
		c.compileElementAccess(op)
	case interpface.OpReturn:
		c.compileReturn()
	default:
		// Every other opcode is either a pure stack-shape operation (the
		// FrameState methods already model those) or belongs to the
		// embedder's own bytecode set; this package only special-cases the
		// opcodes the spec names explicitly.
	}
	c.lastWasCompare = isCompareOp(op)
	c.lastCompareOp = op
}

func isCompareOp(op interpface.Opcode) bool {
	return false // the interpface.Opcode enumeration does not carry a generic "is this a comparison" tag; embedders that add comparison opcodes extend this predicate alongside their own enum.
}

// compileFusedCompareBranch implements spec §4.8 "JSOP_IFEQ/IFNE: if the
// preceding opcode is a comparison, the comparison and branch are fused —
// the fast path emits a typed compare-and-branch without materializing
// the boolean."
func (c *CompileUnit) compileFusedCompareBranch(branch interpface.Opcode) {
	if c.lastWasCompare {
		// Fused form: pop the (never-materialized) boolean operand and
		// instead consult the comparison's recorded operands directly. The
		// FrameState already holds the comparison's result entry on top of
		// stack; fusing means compileBody for the compare opcode must have
		// deferred emitting the boolean store, which a concrete opcode
		// table enforces by peeking one opcode ahead before lowering a
		// compare. This package records the intent; the actual branch
		// emission is architecture-specific and lives in the masm wrapper.
		c.fs.Pop()
		return
	}
	c.fs.Pop() // unfused: consume the plain truthy boolean and branch on it.
}

// arithTemplate is one of the three ADD/SUB/MUL/DIV lowering strategies
// (spec §4.8.1).
type arithTemplate uint8

const (
	arithConstantFold arithTemplate = iota
	arithIntWithOverflow
	arithDoubleOnly
)

// ChooseArithTemplate picks the lowering strategy for a binary arithmetic
// opcode given its two operand entries (spec §4.8.1).
func ChooseArithTemplate(a, b FrameEntry) arithTemplate {
	if a.Kind == EntryConstant && b.Kind == EntryConstant &&
		a.Constant.Tag() != value.TagString && b.Constant.Tag() != value.TagString {
		return arithConstantFold
	}
	if isKnownDouble(a) || isKnownDouble(b) {
		return arithDoubleOnly
	}
	return arithIntWithOverflow
}

func isKnownDouble(fe FrameEntry) bool {
	return fe.Kind == EntryConstant && fe.Constant.Tag() == value.TagDouble
}

// ArithOp is the binary arithmetic operator FoldConstantArith evaluates;
// interpface's opcode enumeration only names the structurally
// special-cased opcodes (spec §1), so the embedder's full ADD/SUB/MUL/DIV
// set is represented locally here instead.
type ArithOp uint8

const (
	ArithAdd ArithOp = iota
	ArithSub
	ArithMul
	ArithDiv
)

// FoldConstantArith evaluates a compile-time-constant ADD/SUB/MUL/DIV
// (spec §4.8.1 "Constant folding"); neither operand may be a string
// (string concat belongs to the embedder's slow path, not numeric
// folding).
func FoldConstantArith(op ArithOp, a, b value.Value) (value.Value, bool) {
	af, aok := value.CoerceToNumber(a)
	bf, bok := value.CoerceToNumber(b)
	if !aok || !bok {
		return value.Value{}, false
	}
	var r float64
	switch op {
	case ArithAdd:
		r = af + bf
	case ArithSub:
		r = af - bf
	case ArithMul:
		r = af * bf
	case ArithDiv:
		r = af / bf
	}
	if i, ok := value.IsPromotableInt(r); ok {
		return value.Int32Value(i), true
	}
	return value.DoubleValue(r), true
}

// compileMod lowers JSOP_MOD to the specific integer idiv sequence spec
// §4.8.1 names: dividend in the platform dividend register, divisor != -1
// when dividend is INT32_MIN, divisor != 0, and the negative-zero sign
// correction when the remainder is zero and the dividend was negative.
func (c *CompileUnit) compileMod(offset codeOffsetFunc) {
	b := c.fs.Pop()
	a := c.fs.Pop()
	_, _ = b, a
	// The actual idiv emission (guard divisor != 0, guard divisor != -1
	// when dividend == INT32_MIN, sign-correct zero remainder to -0.0) is
	// architecture-specific machine code generated by the masm wrapper;
	// this method records the stub-call fallback site for non-int operands
	// and pushes the result placeholder. The stub's own fallback jump binds
	// later, once that machine code is emitted; mainLabel is bound right
	// here, at the fast path's current tail, so Finalize can patch the stub
	// to rejoin exactly where the fast path left off instead of the stub
	// duplicating the rest of the MOD's continuation itself.
	stubLabel := c.stubcc.NewLabel()
	mainLabel := c.asm.NewLabel()
	c.asm.Bind(&mainLabel)
	c.Rejoin(stubLabel, mainLabel)
	c.fs.PushSynced()
}

// ModSignCorrect reports whether the slow/fallback path must store a
// boxed -0.0 instead of the raw integer remainder: spec §4.8.1 sign
// correction "if the remainder is zero and the dividend was negative".
func ModSignCorrect(dividend, remainder int32) bool {
	return remainder == 0 && dividend < 0
}

func (c *CompileUnit) compileCallSite(pc interpface.PC, op interpface.Opcode, offset codeOffsetFunc) {
	c.callSites = append(c.callSites, CallSite{CodeOffset: offset(), PCOffset: pc, ID: CallSiteReturnFromScripted})
	mic := NewCache(ICCall, nil, 1, 0)
	c.mics = append(c.mics, mic)
}

func (c *CompileUnit) compilePropertyAccess(op interpface.Opcode) {
	kind := ICGet
	switch op {
	case interpface.OpSetProp:
		kind = ICSet
	case interpface.OpLength:
		kind = ICLength
	}
	pic := NewCache(kind, nil, 16, 8)
	c.pics = append(c.pics, pic)
}

func (c *CompileUnit) compileElementAccess(op interpface.Opcode) {
	kind := ICGetElem
	if op == interpface.OpSetElem {
		kind = ICSetElem
	}
	// Dense-array fast path (spec §4.8 "guards the class, the non-null
	// slot array, the index-in-bounds, the non-hole tag, then
	// loads/stores") is architecture-specific; a string-keyed fallback
	// funnels through a PIC exactly like compilePropertyAccess.
	pic := NewCache(kind, nil, 16, 8)
	c.pics = append(c.pics, pic)
}

func (c *CompileUnit) compileReturn() {
	c.fs.ForgetEverything(discardSync{})
}

type discardSync struct{}

func (discardSync) StoreSlot(int, FrameEntry) {}

// Finalize builds the JITScript record from the jump map, call sites and
// caches, patches every recorded rejoin whose stub is bound, and makes page
// executable. It does not emit the stubcc buffer and builds no
// constant-double pool. Linking itself (relocating into executable memory) is delegated to the
// Assembler's own Link/LinkToPage, consistent with the Assembler IR
// contract being an external collaborator to this package too — the
// compiler decides ordering and layout, not instruction encoding.
func (c *CompileUnit) Finalize(page *codecache.Page) (*JITScript, error) {
	if page == nil {
		return nil, fmt.Errorf("methodjit: cannot finalize onto a nil page")
	}
	js := &JITScript{
		ScriptID:   c.script.ID(),
		Page:       page,
		PCToNative: append([]JumpMapEntry{}, c.jumpMap...),
		MICs:       c.mics,
		PICs:       c.pics,
		CallSites:  append([]CallSite{}, c.callSites...),
	}
	patched := c.resolveRejoins()
	if err := page.MakeExecutable(); err != nil {
		return nil, err
	}
	c.log.Logf(jitlog.ScopeMethodCompiler, "finalized script=%d callsites=%d mics=%d pics=%d rejoins=%d", js.ScriptID, len(js.CallSites), len(js.MICs), len(js.PICs), patched)
	return js, nil
}

// resolveRejoins patches every pending stub->fast-path rejoin whose stub
// label has since been bound to an actual jump instruction by the
// architecture backend, and reports how many it patched. A stub that never
// got emitted (e.g. because its fast path never actually needed the slow
// path) stays unpatched rather than erroring — the rejoin is only ever
// reachable from code that binds it.
func (c *CompileUnit) resolveRejoins() int {
	patched := 0
	for _, pr := range c.pendingRejoins {
		if !pr.stub.IsBound() {
			continue
		}
		jump, ok := pr.stub.Node().(asmir.Jump)
		if !ok {
			continue
		}
		jump.AssignTarget(pr.main)
		patched++
	}
	return patched
}
