package tracejit

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/neonux/tracejit/internal/asmir"
	"github.com/neonux/tracejit/internal/codecache"
	"github.com/neonux/tracejit/internal/config"
	"github.com/neonux/tracejit/internal/interpface"
	"github.com/neonux/tracejit/internal/methodjit"
	"github.com/neonux/tracejit/internal/shapeface"
	"github.com/neonux/tracejit/internal/value"
)

type fakeScript struct {
	id uint32
}

func (f fakeScript) ID() uint32                                 { return f.id }
func (f fakeScript) OpcodeAt(pc interpface.PC) interpface.Opcode { return interpface.OpUnknown }
func (f fakeScript) NumSlots() int                               { return 4 }
func (f fakeScript) NumArgs() int                                { return 0 }

type fakeShapeTable struct{}

func (fakeShapeTable) Probe(shapeface.ShapeID, shapeface.AtomID) shapeface.ProbeResult {
	return shapeface.ProbeResult{}
}
func (fakeShapeTable) ShapeOf(value.Value) shapeface.ShapeID { return shapeface.InvalidShape }

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	cfg := config.New(config.WithStackReservationBytes(4096))
	return NewEngine(cfg, fakeShapeTable{})
}

func TestOnMethodEntryMissUntilRegistered(t *testing.T) {
	e := newTestEngine(t)
	script := fakeScript{id: 1}

	_, ok := e.OnMethodEntry(script)
	require.False(t, ok)

	page, err := codecache.Alloc(16)
	require.NoError(t, err)
	require.NoError(t, page.MakeExecutable())
	e.RegisterCompiledScript(&methodjit.JITScript{
		ScriptID:   script.ID(),
		Page:       page,
		PCToNative: []methodjit.JumpMapEntry{{PC: 0, CodeOffset: 8}},
	})

	entry, ok := e.OnMethodEntry(script)
	require.True(t, ok)
	require.Equal(t, uint64(8), entry.Offset)
}

func TestOnShapeChangeResetsOnlyMatchingCaches(t *testing.T) {
	e := newTestEngine(t)
	script := fakeScript{id: 2}

	hit := methodjit.NewCache(methodjit.ICGet, nil, 16, 8)
	_, err := hit.AttachStub(shapeface.ShapeID(7), shapeface.ProbeResult{Found: true, Offset: 4}, asmir.CodeLocationLabel{Offset: 10})
	require.NoError(t, err)

	miss := methodjit.NewCache(methodjit.ICGet, nil, 16, 8)
	_, err = miss.AttachStub(shapeface.ShapeID(9), shapeface.ProbeResult{Found: true, Offset: 4}, asmir.CodeLocationLabel{Offset: 20})
	require.NoError(t, err)

	e.RegisterCompiledScript(&methodjit.JITScript{
		ScriptID: script.ID(),
		PICs:     []*methodjit.Cache{hit, miss},
	})

	e.OnShapeChange(shapeface.ShapeID(7))
	require.Equal(t, 0, hit.StubCount())
	require.Equal(t, 1, miss.StubCount())
}

func TestFlushAllDropsCompiledScripts(t *testing.T) {
	e := newTestEngine(t)
	page, err := codecache.Alloc(16)
	require.NoError(t, err)
	require.NoError(t, page.MakeExecutable())
	e.RegisterCompiledScript(&methodjit.JITScript{ScriptID: 3, Page: page})

	require.NoError(t, e.FlushAll())

	_, ok := e.OnMethodEntry(fakeScript{id: 3})
	require.False(t, ok)
}

func TestOnTrapToggleDropsCompiledScript(t *testing.T) {
	e := newTestEngine(t)
	page, err := codecache.Alloc(16)
	require.NoError(t, err)
	require.NoError(t, page.MakeExecutable())
	script := fakeScript{id: 4}
	e.RegisterCompiledScript(&methodjit.JITScript{ScriptID: script.ID(), Page: page})

	require.NoError(t, e.OnTrapToggle(script, 0, true))

	_, ok := e.OnMethodEntry(script)
	require.False(t, ok)
}

func TestMarkStackHandlesEmptyContext(t *testing.T) {
	e := newTestEngine(t)
	e.MarkStack(noopTracer{})
}

type noopTracer struct{}

func (noopTracer) TraceFrame(int, int)        {}
func (noopTracer) TraceConservative(int, int) {}
