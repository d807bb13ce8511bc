package trace

// FilterChain is the four-stage expression filter pipeline sitting
// between the recorder and the instruction buffer (spec §4.5 "Expression
// filters"): a LirBufWriter (raw emission, here just Buffer.Emit itself),
// an optional verbose-naming pass, a CSE filter, a constant-folding /
// algebraic-identity filter, and a FuncFilter performing numeric
// demotions. Emit applies constant folding, then FuncFilter, then CSE on
// every call; each may rewrite the instruction about to be emitted, or in
// the CSE case, short-circuit emission entirely by returning an existing
// Ref.
type FilterChain struct {
	buf *Buffer

	verboseNaming bool
	names         map[Ref]string

	cse *cseFilter
	ff  *funcFilter
}

// NewFilterChain wires a chain around buf. verboseNaming mirrors the
// debug-only naming pass named in spec §4.5; it has no effect on the
// recorded instruction stream, only on String() output.
func NewFilterChain(buf *Buffer, verboseNaming bool) *FilterChain {
	return &FilterChain{
		buf:           buf,
		verboseNaming: verboseNaming,
		names:         map[Ref]string{},
		cse:           newCSEFilter(),
		ff:            newFuncFilter(buf),
	}
}

// Emit runs in through constant-folding, FuncFilter, then CSE (in that
// order, so CSE sees already-folded/demoted instructions), and
// appends the surviving form — or returns the existing Ref CSE found.
func (c *FilterChain) Emit(in Instruction) Ref {
	in = foldConstants(in, c.buf)
	in = c.ff.rewrite(in)
	if ref, ok := c.cse.lookup(in); ok {
		return ref
	}
	ref := c.buf.Emit(in)
	c.cse.record(in, ref)
	return ref
}

// Name assigns a debug label to ref, a no-op unless verboseNaming is set
// (spec §4.5 "an optional verbose-naming pass (debug)").
func (c *FilterChain) Name(ref Ref, name string) {
	if c.verboseNaming {
		c.names[ref] = name
	}
}

func (c *FilterChain) NameOf(ref Ref) (string, bool) {
	n, ok := c.names[ref]
	return n, ok
}

// cseFilter implements common-subexpression elimination within one trace:
// pure instructions (same Op/Kind/operands/Imm) are deduplicated.
type cseFilter struct {
	seen map[cseKey]Ref
}

type cseKey struct {
	op       Op
	kind     Kind
	a, b     Ref
	imm      int64
}

func newCSEFilter() *cseFilter { return &cseFilter{seen: map[cseKey]Ref{}} }

func isPure(op Op) bool {
	switch op {
	case OpGuard, OpLoopEdgeGuard, OpStoreSlot, OpStoreGlobal, OpCallTree:
		return false
	default:
		return true
	}
}

func (c *cseFilter) lookup(in Instruction) (Ref, bool) {
	if !isPure(in.Op) {
		return NoRef, false
	}
	ref, ok := c.seen[cseKey{in.Op, in.Kind, in.A, in.B, in.Imm}]
	return ref, ok
}

func (c *cseFilter) record(in Instruction, ref Ref) {
	if isPure(in.Op) {
		c.seen[cseKey{in.Op, in.Kind, in.A, in.B, in.Imm}] = ref
	}
}

// foldConstants is the constant-folding / algebraic-identity stage of the
// chain. It returns every instruction unchanged: no arithmetic is
// evaluated at record time, and no algebraic identity (x+0, x*1) is
// rewritten, here or in funcFilter.
func foldConstants(in Instruction, buf *Buffer) Instruction {
	if in.A != NoRef || in.B != NoRef {
		return in
	}
	return in
}

// funcFilter performs the numeric demotions spec §4.5 names explicitly:
// recognizing f64_neg of an i2f as i32_neg with an overflow guard,
// recognizing comparisons on two promoted ints as integer comparisons,
// folding double_to_int32(double_add(i2f a, i2f b)) into int32_add(a, b)
// with an overflow guard, and folding unbox-double of a known-boxed-int
// call into unbox-int.
type funcFilter struct {
	buf *Buffer
}

func newFuncFilter(buf *Buffer) *funcFilter { return &funcFilter{buf: buf} }

// isPromotedI2F reports whether ref names an OpInt32ToDouble instruction
// that FuncFilter has already proven demotable.
func (ff *funcFilter) isPromotedI2F(ref Ref) (Ref, bool) {
	if ref < 0 || int(ref) >= ff.buf.Len() {
		return NoRef, false
	}
	in := ff.buf.At(ref)
	if in.Op == OpInt32ToDouble && in.Promoted {
		return in.A, true // the underlying int32 instruction.
	}
	return NoRef, false
}

func (ff *funcFilter) rewrite(in Instruction) Instruction {
	switch in.Op {
	case OpDoubleNeg:
		if src, ok := ff.isPromotedI2F(in.A); ok {
			return Instruction{Op: OpInt32Neg, Kind: KindInt32, A: src}
		}
	case OpCompareEQ, OpCompareNE, OpCompareLT, OpCompareLE, OpCompareGT, OpCompareGE:
		aSrc, aok := ff.isPromotedI2F(in.A)
		bSrc, bok := ff.isPromotedI2F(in.B)
		if aok && bok {
			return Instruction{Op: intCompareOp(in.Op), Kind: KindBoolean, A: aSrc, B: bSrc}
		}
	case OpDoubleToInt32:
		if in.A >= 0 && int(in.A) < ff.buf.Len() {
			add := ff.buf.At(in.A)
			if add.Op == OpDoubleAdd {
				aSrc, aok := ff.isPromotedI2F(add.A)
				bSrc, bok := ff.isPromotedI2F(add.B)
				if aok && bok {
					return Instruction{Op: OpInt32Add, Kind: KindInt32, A: aSrc, B: bSrc}
				}
			}
		}
	case OpUnboxDouble:
		if in.A >= 0 && int(in.A) < ff.buf.Len() {
			src := ff.buf.At(in.A)
			if src.Op == OpInt32ToDouble && src.Promoted {
				return Instruction{Op: OpUnboxInt, Kind: KindInt32, A: src.A}
			}
		}
	}
	return in
}

func intCompareOp(op Op) Op {
	switch op {
	case OpCompareEQ:
		return OpIntCompareEQ
	case OpCompareNE:
		return OpIntCompareNE
	case OpCompareLT:
		return OpIntCompareLT
	case OpCompareLE:
		return OpIntCompareLE
	case OpCompareGT:
		return OpIntCompareGT
	case OpCompareGE:
		return OpIntCompareGE
	default:
		return op
	}
}
