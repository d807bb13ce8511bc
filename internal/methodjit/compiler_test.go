package methodjit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neonux/tracejit/internal/asmir"
	"github.com/neonux/tracejit/internal/codecache"
	"github.com/neonux/tracejit/internal/interpface"
	"github.com/neonux/tracejit/internal/jitlog"
	"github.com/neonux/tracejit/internal/value"
)

func TestChooseArithTemplateConstantFold(t *testing.T) {
	a := FrameEntry{Kind: EntryConstant, Constant: value.Int32Value(2)}
	b := FrameEntry{Kind: EntryConstant, Constant: value.Int32Value(3)}
	require.Equal(t, arithConstantFold, ChooseArithTemplate(a, b))
}

func TestChooseArithTemplateDoubleOnly(t *testing.T) {
	a := FrameEntry{Kind: EntryConstant, Constant: value.DoubleValue(1.5)}
	b := FrameEntry{Kind: EntryRegisterData}
	require.Equal(t, arithDoubleOnly, ChooseArithTemplate(a, b))
}

func TestChooseArithTemplateIntWithOverflowByDefault(t *testing.T) {
	a := FrameEntry{Kind: EntryRegisterData}
	b := FrameEntry{Kind: EntryRegisterData}
	require.Equal(t, arithIntWithOverflow, ChooseArithTemplate(a, b))
}

func TestFoldConstantArithPromotesIntegralResultToInt32(t *testing.T) {
	v, ok := FoldConstantArith(ArithAdd, value.Int32Value(2), value.Int32Value(3))
	require.True(t, ok)
	require.Equal(t, value.TagInt32, v.Tag())
	require.Equal(t, int32(5), v.Int32())
}

func TestFoldConstantArithKeepsFractionalResultAsDouble(t *testing.T) {
	v, ok := FoldConstantArith(ArithDiv, value.Int32Value(1), value.Int32Value(4))
	require.True(t, ok)
	require.Equal(t, value.TagDouble, v.Tag())
	require.InDelta(t, 0.25, v.Double(), 1e-9)
}

func TestModSignCorrectNegativeZero(t *testing.T) {
	require.True(t, ModSignCorrect(-4, 0))
	require.False(t, ModSignCorrect(4, 0))
	require.False(t, ModSignCorrect(-4, 1))
}

func TestJITScriptNativeAtBinarySearch(t *testing.T) {
	js := &JITScript{PCToNative: []JumpMapEntry{
		{PC: 0, CodeOffset: 0},
		{PC: 4, CodeOffset: 16},
		{PC: 8, CodeOffset: 40},
	}}
	off, ok := js.NativeAt(4)
	require.True(t, ok)
	require.Equal(t, uint64(16), off)

	_, ok = js.NativeAt(5)
	require.False(t, ok)
}

type fakeScript struct {
	id  uint32
	ops map[interpface.PC]interpface.Opcode
}

func (f *fakeScript) ID() uint32 { return f.id }
func (f *fakeScript) OpcodeAt(pc interpface.PC) interpface.Opcode {
	return f.ops[pc]
}
func (f *fakeScript) NumSlots() int { return 4 }
func (f *fakeScript) NumArgs() int  { return 0 }

func TestCompileOpcodeRecordsJumpMapAndTrapCallSite(t *testing.T) {
	script := &fakeScript{id: 1, ops: map[interpface.PC]interpface.Opcode{0: interpface.OpReturn}}
	unit := NewCompileUnit(script, nil, nil, regs(4), nil)
	unit.SetTrap(0, true)

	offset := uint64(0)
	off := func() uint64 { return offset }

	unit.CompileOpcode(0, true, discardSync{}, off)

	require.Len(t, unit.jumpMap, 1)
	require.Len(t, unit.callSites, 1)
	require.Equal(t, CallSiteTrap, unit.callSites[0].ID)
}

// fakeNode/fakeJump/fakeAssembler stand in for an architecture masm
// wrapper: just enough of the asmir.Assembler contract to exercise label
// binding and jump patching without any real instruction encoding.
type fakeNode struct{ name string }

func (n *fakeNode) String() string        { return n.name }
func (n *fakeNode) OffsetInBinary() uint64 { return 0 }

type fakeJump struct {
	fakeNode
	target asmir.Label
}

func (j *fakeJump) AssignTarget(target asmir.Label) { j.target = target }

type fakeAssembler struct{ nextID int }

func (a *fakeAssembler) NewLabel() asmir.Label {
	a.nextID++
	return asmir.NewLabel(a.nextID, nil)
}

func (a *fakeAssembler) Bind(label *asmir.Label) {
	label.SetNode(&fakeNode{name: "bound"})
}

func (a *fakeAssembler) Link(dst []byte) (asmir.CodeLocation, error) {
	return asmir.CodeLocation{Code: dst}, nil
}

func TestCompileModRecordsRejoinAndBindsMainLabel(t *testing.T) {
	script := &fakeScript{id: 1}
	unit := NewCompileUnit(script, &fakeAssembler{}, &fakeAssembler{}, regs(4), jitlog.Discard)
	unit.fs.PushConstant(value.Int32Value(7))
	unit.fs.PushConstant(value.StringValue(1))

	unit.compileMod(func() uint64 { return 0 })

	require.Len(t, unit.pendingRejoins, 1)
	rejoin := unit.pendingRejoins[0]
	require.False(t, rejoin.stub.IsBound())
	require.True(t, rejoin.main.IsBound())
}

func TestFinalizePatchesRejoinOnceStubIsBound(t *testing.T) {
	script := &fakeScript{id: 1}
	unit := NewCompileUnit(script, &fakeAssembler{}, &fakeAssembler{}, regs(4), jitlog.Discard)
	unit.fs.PushConstant(value.Int32Value(7))
	unit.fs.PushConstant(value.StringValue(1))
	unit.compileMod(func() uint64 { return 0 })
	require.Len(t, unit.pendingRejoins, 1)

	// Simulate the architecture backend later emitting the stub's OOL
	// fallback jump and binding the stub label to it.
	jump := &fakeJump{}
	unit.pendingRejoins[0].stub.SetNode(jump)

	page, err := codecache.Alloc(64)
	require.NoError(t, err)

	js, err := unit.Finalize(page)
	require.NoError(t, err)
	require.NotNil(t, js)
	require.Equal(t, unit.pendingRejoins[0].main, jump.target)
}

func TestFinalizeLeavesUnboundStubUnpatched(t *testing.T) {
	script := &fakeScript{id: 1}
	unit := NewCompileUnit(script, &fakeAssembler{}, &fakeAssembler{}, regs(4), jitlog.Discard)
	unit.fs.PushConstant(value.Int32Value(7))
	unit.fs.PushConstant(value.StringValue(1))
	unit.compileMod(func() uint64 { return 0 })

	page, err := codecache.Alloc(64)
	require.NoError(t, err)

	_, err = unit.Finalize(page)
	require.NoError(t, err)
	// The stub never got emitted by an architecture backend in this test,
	// so its label stays unbound and resolveRejoins must not panic trying
	// to patch it.
	require.False(t, unit.pendingRejoins[0].stub.IsBound())
}
