// Package tracejit wires StackSpace, ContextStack, the Oracle, TraceJIT,
// and MethodJIT into the single Engine an embedder constructs, exposing
// exactly the external interfaces spec §6 names. Grounded on wazero's
// *runtime facade methods (builder.go, e.g. NewHostModuleBuilder): a thin
// root-level type whose methods compose internal engine/store machinery it
// owns the lifetime of, exposing only the handful of entry points a host
// actually calls.
package tracejit

import (
	"sort"

	"github.com/neonux/tracejit/internal/config"
	"github.com/neonux/tracejit/internal/framestack"
	"github.com/neonux/tracejit/internal/gcface"
	"github.com/neonux/tracejit/internal/interpface"
	"github.com/neonux/tracejit/internal/jitlog"
	"github.com/neonux/tracejit/internal/methodjit"
	"github.com/neonux/tracejit/internal/oracle"
	"github.com/neonux/tracejit/internal/shapeface"
	"github.com/neonux/tracejit/internal/stackspace"
	"github.com/neonux/tracejit/internal/trace"
	"github.com/neonux/tracejit/internal/value"
)

// NativeEntry is what on_method_entry hands back: a page and the code
// offset within it to jump to, or the zero value if the script is not
// (yet) compiled.
type NativeEntry struct {
	Page   interface{ Bytes() []byte }
	Offset uint64
}

// Engine is the single object an embedder constructs and drives through
// the spec §6 external interfaces. It owns the StackSpace, one default
// ContextStack, the process-wide Oracle, the TraceMonitor, and every
// compiled MethodJIT script.
type Engine struct {
	cfg config.EngineConfig
	log jitlog.Logger

	space *stackspace.Space
	ctx   *framestack.ContextStack

	oracle  *oracle.Oracle
	monitor *trace.Monitor

	shapes      shapeface.ShapeTable
	compartment *methodjit.Compartment
	recompiler  *methodjit.Recompiler
	scripts     map[uint32]*methodjit.JITScript
}

// NewEngine builds an Engine from cfg, bound to shapes for PIC/MIC
// resolution (spec §1's object/property model collaborator).
func NewEngine(cfg config.EngineConfig, shapes shapeface.ShapeTable) *Engine {
	// StackSpace reserves Value slots, not raw bytes; the wire encodings
	// (spec §3 nunbox/punbox) are both 8 bytes, so that is the conversion
	// this constructor uses between the config's byte budget and the
	// reservation stackspace.New wants.
	reservationValues := cfg.StackReservationBytes / 8
	space := stackspace.New(reservationValues)

	orc := oracle.New(cfg.OracleBitmapSize)
	compartment := &methodjit.Compartment{}

	return &Engine{
		cfg:         cfg,
		log:         cfg.Logger,
		space:       space,
		ctx:         framestack.New(space),
		oracle:      orc,
		monitor:     trace.NewMonitor(cfg, orc),
		shapes:      shapes,
		compartment: compartment,
		recompiler:  methodjit.NewRecompiler(compartment, cfg.Logger),
		scripts:     map[uint32]*methodjit.JITScript{},
	}
}

// Context returns the Engine's default ContextStack, for an embedder that
// runs a single execution context per Engine (spec §4.2/§5 "stack memory
// is owned by exactly one context at a time").
func (e *Engine) Context() *framestack.ContextStack { return e.ctx }

// RegisterCompiledScript installs js as script.ID()'s compiled code,
// making it visible to future OnMethodEntry calls. A concrete
// MethodCompiler-driven compile pipeline (CompileUnit -> Finalize) calls
// this once it has a finished JITScript.
func (e *Engine) RegisterCompiledScript(js *methodjit.JITScript) {
	e.scripts[js.ScriptID] = js
}

// OnLoopEdge implements spec §6 on_loop_edge(old_pc, inline_call_count).
// inline_call_count is folded into liveSlots' length here because the
// concrete recording depth bound (maxCallDepth) is TraceRecorder's own
// concern (spec §4.5); this entry point only decides continue-interpreting
// vs. continue-at-current-pc.
func (e *Engine) OnLoopEdge(script interpface.Script, oldPC interpface.PC, liveSlots []value.Value) (bool, error) {
	outcome, err := e.monitor.OnLoopEdge(script.ID(), oldPC, liveSlots)
	if err != nil {
		return false, err
	}
	if outcome == trace.OutcomeExecutedFragment {
		frag, ok := e.monitor.LookupFragment(oldPC)
		if !ok {
			return false, nil
		}
		if _, err := e.monitor.Execute(frag, liveSlots); err != nil {
			return false, err
		}
	}
	return outcome != trace.OutcomeContinueInterpreting, nil
}

// OnMethodEntry implements spec §6 on_method_entry(script) -> NativeCode?.
func (e *Engine) OnMethodEntry(script interpface.Script) (NativeEntry, bool) {
	js, ok := e.scripts[script.ID()]
	if !ok || js.Page == nil {
		return NativeEntry{}, false
	}
	off, ok := js.NativeAt(0)
	if !ok {
		return NativeEntry{}, false
	}
	return NativeEntry{Page: js.Page, Offset: off}, true
}

// OnTrapToggle implements spec §6 on_trap_toggle(script, pc, enabled):
// toggling a debugger breakpoint inside already-compiled code invalidates
// that code, so the next OnMethodEntry falls back to the interpreter until
// a fresh CompileUnit (with the trap now set via SetTrap) recompiles it.
func (e *Engine) OnTrapToggle(script interpface.Script, pc interpface.PC, enabled bool) error {
	old, ok := e.scripts[script.ID()]
	if !ok {
		return nil
	}
	e.recompiler.UnlinkCallerICs(old.MICs)
	e.recompiler.UnlinkCallerICs(old.PICs)
	if err := e.recompiler.ReleaseCode(old, false); err != nil {
		return err
	}
	delete(e.scripts, script.ID())
	return nil
}

// OnShapeChange implements spec §6 on_shape_change(shape): every IC across
// every compiled script that currently fast-paths shape is reset, since
// the transition that produced this notification may have invalidated the
// (shape, atom)->offset mapping the IC cached.
func (e *Engine) OnShapeChange(shape shapeface.ShapeID) {
	for _, js := range e.scripts {
		for _, c := range js.MICs {
			if hasShape(c, shape) {
				c.Reset()
			}
		}
		for _, c := range js.PICs {
			if hasShape(c, shape) {
				c.Reset()
			}
		}
	}
}

func hasShape(c *methodjit.Cache, shape shapeface.ShapeID) bool {
	for _, s := range c.Shapes() {
		if s == shape {
			return true
		}
	}
	return false
}

// FlushAll implements spec §6 flush_all(): a global cache flush triggered
// by memory pressure. It drops the TraceMonitor's fragment cache and the
// Oracle's marks, and releases every compiled MethodJIT script, so a
// subsequent on_method_entry falls back to interpreting until warmup earns
// recompilation again.
func (e *Engine) FlushAll() error {
	e.monitor.Flush()
	for id, js := range e.scripts {
		if err := e.recompiler.ReleaseCode(js, false); err != nil {
			return err
		}
		delete(e.scripts, id)
	}
	return nil
}

// MarkStack implements spec §6 mark_stack(tracer): walks the default
// context's live frame chain and delegates to StackSpace.Mark, which fills
// in the conservative gaps between frames.
func (e *Engine) MarkStack(tracer gcface.Tracer) {
	var ranges []stackspace.FrameRange
	it := e.ctx.Iterate()
	for it.Next() {
		fp := it.Current().FP
		if fp == nil {
			continue
		}
		base, length := fp.Extent()
		ranges = append(ranges, stackspace.FrameRange{Base: base, Length: length})
	}
	// Iterate walks innermost-first (highest base first); Mark expects
	// frames ascending by Base so it can walk its own cursor backwards.
	sort.Slice(ranges, func(i, j int) bool { return ranges[i].Base < ranges[j].Base })
	e.space.Mark(ranges, tracer)
}

// ExpandInlineFrames implements spec §6 expand_inline_frames(context,
// all_or_topmost), invoked by the host before inspecting frames (e.g. for
// exception handling).
func (e *Engine) ExpandInlineFrames(ctx *framestack.ContextStack, desc []methodjit.InlineFrameDescriptor, scope methodjit.ExpandAllOrTopmost) error {
	return e.recompiler.ExpandInlineFrames(ctx, desc, scope)
}
