// Package methodjit implements MethodJIT (spec §4.7–§4.10): the abstract
// frame tracker used while compiling one method's bytecode linearly, the
// compiler that walks opcodes emitting fast/slow native code, the inline
// cache machinery at property/global/call sites, and the on-stack
// recompiler that rebuilds native frames when type assumptions break.
//
// Grounded on wazero's internal/engine/compiler valueLocationStack
// (compiler_value_location.go): a slice of per-slot location records plus
// a stack pointer and a used-register set, mutated in place as each
// opcode compiles, generalized here from wazero's register/stack duality
// to the richer entry kinds (constant, copy, memory) the spec names.
package methodjit

import (
	"fmt"

	"github.com/neonux/tracejit/internal/asmir"
	"github.com/neonux/tracejit/internal/value"
)

// EntryKind classifies how a FrameEntry's value is currently held.
type EntryKind uint8

const (
	EntryMemory EntryKind = iota
	EntryConstant
	EntryRegisterData
	EntryCopy
)

// FrameEntry is one tracker entry — spec §3 "a data rematerialization
// (known-constant/in-register/in-memory with payload), whether the entry
// is a copy of another entry (with an index), whether it is a copy
// target". Entries are addressed by their position in FrameState.tracker,
// which is also their creation order (spec §4.7 "the tracker indexes
// entries in order of creation").
type FrameEntry struct {
	Kind EntryKind

	// Constant holds the value when Kind == EntryConstant.
	Constant value.Value

	// TypeReg / DataReg hold register assignments when the entry's type
	// tag and/or payload currently live in a register; asmir.NilRegister
	// means "not in a register, consult memory".
	TypeReg, DataReg asmir.Register

	// CopyOf names the tracker index this entry copies, valid only when
	// Kind == EntryCopy. Spec invariant P6: CopyOf must be strictly less
	// than this entry's own tracker index.
	CopyOf int

	// IsCopyTarget marks an entry that one or more later entries copy;
	// store_local consults this to know it must redirect copies rather
	// than overwrite in place.
	IsCopyTarget bool

	// Synced reports whether memory already holds this entry's current
	// value (spec §4.7 sync: "emit stores for every entry that is not
	// already synced in memory").
	Synced bool
}

func (fe FrameEntry) String() string {
	switch fe.Kind {
	case EntryConstant:
		return fmt.Sprintf("const(%s)", fe.Constant.Tag())
	case EntryCopy:
		return fmt.Sprintf("copy(of=%d)", fe.CopyOf)
	case EntryRegisterData:
		return fmt.Sprintf("reg(type=%d,data=%d)", fe.TypeReg, fe.DataReg)
	default:
		return "memory"
	}
}

// RegisterFile is the two-list register allocation policy (spec §4.7):
// a bitmask of free registers and an owner map from register to the
// tracker index presently holding it.
type RegisterFile struct {
	free  map[asmir.Register]bool
	owner map[asmir.Register]int // register -> tracker index
}

func NewRegisterFile(all []asmir.Register) *RegisterFile {
	free := make(map[asmir.Register]bool, len(all))
	for _, r := range all {
		free[r] = true
	}
	return &RegisterFile{free: free, owner: map[asmir.Register]int{}}
}

// Allocate returns a free register, or NilRegister with ok=false if none
// is available — the caller must then call EvictSomething.
func (rf *RegisterFile) Allocate(trackerIdx int) (asmir.Register, bool) {
	for r, isFree := range rf.free {
		if isFree {
			rf.free[r] = false
			rf.owner[r] = trackerIdx
			return r, true
		}
	}
	return asmir.NilRegister, false
}

// Release returns reg to the free list.
func (rf *RegisterFile) Release(reg asmir.Register) {
	if reg == asmir.NilRegister {
		return
	}
	rf.free[reg] = true
	delete(rf.owner, reg)
}

// EvictSomething picks a victim register not in mask to free up,
// preferring one already synced (no spill needed) per spec §4.7
// "evict_something(mask) picks a victim preferring synced entries (no
// spill emitted), falling back to any, and emits a spill" — the spill
// emission itself is the caller's (FrameState.sync's) responsibility;
// this just decides which register and reports whether its owner needs
// spilling.
func (rf *RegisterFile) EvictSomething(mask map[asmir.Register]bool, entries []FrameEntry) (reg asmir.Register, ownerIdx int, needsSpill bool, ok bool) {
	var fallbackReg asmir.Register = asmir.NilRegister
	var fallbackIdx int
	for r, idx := range rf.owner {
		if mask[r] {
			continue
		}
		if idx < len(entries) && entries[idx].Synced {
			return r, idx, false, true
		}
		if fallbackReg == asmir.NilRegister {
			fallbackReg, fallbackIdx = r, idx
		}
	}
	if fallbackReg != asmir.NilRegister {
		return fallbackReg, fallbackIdx, true, true
	}
	return asmir.NilRegister, 0, false, false
}

// FrameState is the MethodJIT abstract frame (spec §4.7): a stack-indexed
// base-pointer array (baseOf below) plus a tracker of entries in creation
// order.
type FrameState struct {
	tracker []FrameEntry
	// baseOf maps a logical stack slot (0 = bottom of the method's value
	// stack) to the tracker index currently backing it; -1 means the slot
	// was never pushed in this compile unit and must be lazily
	// materialized as a memory entry on first peek.
	baseOf []int
	sp     int

	regs *RegisterFile
}

func NewFrameState(regs []asmir.Register) *FrameState {
	return &FrameState{regs: NewRegisterFile(regs)}
}

func (fs *FrameState) StackDepth() int { return fs.sp }

func (fs *FrameState) ensureBaseCap(n int) {
	for len(fs.baseOf) < n {
		fs.baseOf = append(fs.baseOf, -1)
	}
}

func (fs *FrameState) pushEntry(fe FrameEntry) int {
	idx := len(fs.tracker)
	fs.tracker = append(fs.tracker, fe)
	fs.ensureBaseCap(fs.sp + 1)
	fs.baseOf[fs.sp] = idx
	fs.sp++
	return idx
}

// PushConstant appends a compile-time-known value (spec §4.7
// push_constant).
func (fs *FrameState) PushConstant(v value.Value) int {
	return fs.pushEntry(FrameEntry{Kind: EntryConstant, Constant: v, Synced: false})
}

// PushTyped appends an entry whose type tag and payload already live in
// registers (spec §4.7 push_typed).
func (fs *FrameState) PushTyped(typeReg, dataReg asmir.Register) int {
	return fs.pushEntry(FrameEntry{Kind: EntryRegisterData, TypeReg: typeReg, DataReg: dataReg})
}

// PushSynced appends an entry whose value is already resident in memory
// (spec §4.7 push_synced), e.g. a slot produced by a stub call return.
func (fs *FrameState) PushSynced() int {
	return fs.pushEntry(FrameEntry{Kind: EntryMemory, Synced: true})
}

// Peek returns the tracker index at logical depth from the top (depth 0
// = top of stack), lazily materializing a memory entry if the slot was
// never pushed this compile unit (spec §4.7 peek).
func (fs *FrameState) Peek(depth int) int {
	slot := fs.sp - 1 - depth
	fs.ensureBaseCap(slot + 1)
	if fs.baseOf[slot] == -1 {
		idx := len(fs.tracker)
		fs.tracker = append(fs.tracker, FrameEntry{Kind: EntryMemory, Synced: true})
		fs.baseOf[slot] = idx
	}
	return fs.baseOf[slot]
}

func (fs *FrameState) Entry(idx int) FrameEntry { return fs.tracker[idx] }

// Pop detaches the top entry, releasing any register it owns.
func (fs *FrameState) Pop() FrameEntry {
	idx := fs.baseOf[fs.sp-1]
	fe := fs.tracker[idx]
	fs.releaseEntryRegs(fe)
	fs.sp--
	return fe
}

// PopN pops n entries (spec §4.7 popn).
func (fs *FrameState) PopN(n int) {
	for i := 0; i < n; i++ {
		fs.Pop()
	}
}

func (fs *FrameState) releaseEntryRegs(fe FrameEntry) {
	if fe.Kind == EntryRegisterData {
		fs.regs.Release(fe.TypeReg)
		if fe.DataReg != fe.TypeReg {
			fs.regs.Release(fe.DataReg)
		}
	}
}

// Dup duplicates the top entry as a copy rather than a fresh load (spec
// §4.7 dup).
func (fs *FrameState) Dup() int {
	return fs.dupAt(fs.sp - 1)
}

// Dup2 duplicates the top two entries, preserving their order.
func (fs *FrameState) Dup2() {
	a := fs.dupAt(fs.sp - 2)
	_ = a
	fs.dupAt(fs.sp - 2) // the just-duplicated top-2 slot is now one deeper; dup it too.
}

func (fs *FrameState) dupAt(slot int) int {
	src := fs.baseOf[slot]
	fs.tracker[src].IsCopyTarget = true
	return fs.pushEntry(FrameEntry{Kind: EntryCopy, CopyOf: src})
}

// Shift rotates the top n entries, moving the top entry down to depth n-1
// and every entry above that depth up by one position (spec §4.7
// shift(n)).
func (fs *FrameState) Shift(n int) {
	if n <= 1 {
		return
	}
	top := fs.sp - n
	moved := fs.baseOf[fs.sp-1]
	copy(fs.baseOf[top+1:fs.sp], fs.baseOf[top:fs.sp-1])
	fs.baseOf[top] = moved
}

// Shimmy removes the entry at depth n from beneath the top of stack,
// collapsing everything above it down by one (spec §4.7 shimmy(n)).
func (fs *FrameState) Shimmy(n int) {
	if n <= 0 {
		return
	}
	top := fs.sp - 1 - n
	copy(fs.baseOf[top:fs.sp-1], fs.baseOf[top+1:fs.sp])
	fs.sp--
}

// TempRegForType ensures idx's type tag is in a register, loading from
// memory (or the backing copy) as needed; may evict another entry (spec
// §4.7 temp_reg_for_type).
func (fs *FrameState) TempRegForType(idx int) asmir.Register {
	fe := &fs.tracker[idx]
	if fe.Kind == EntryCopy {
		return fs.TempRegForType(fe.CopyOf)
	}
	if fe.TypeReg != asmir.NilRegister {
		return fe.TypeReg
	}
	reg := fs.allocateFor(idx)
	fe.TypeReg = reg
	return reg
}

// TempRegForData is TempRegForType's counterpart for an entry's payload.
func (fs *FrameState) TempRegForData(idx int) asmir.Register {
	fe := &fs.tracker[idx]
	if fe.Kind == EntryCopy {
		return fs.TempRegForData(fe.CopyOf)
	}
	if fe.DataReg != asmir.NilRegister {
		return fe.DataReg
	}
	reg := fs.allocateFor(idx)
	fe.DataReg = reg
	return reg
}

// CopyDataIntoReg ensures idx is backed by a mutable register holding a
// duplicate of its value — needed before an operation that clobbers its
// operand in place (spec §4.7 copy_data_into_reg).
func (fs *FrameState) CopyDataIntoReg(idx int) asmir.Register {
	fe := &fs.tracker[idx]
	if fe.Kind == EntryCopy {
		// Materialize a fresh register for the copy itself so mutating it
		// never corrupts the original's backing entry.
		orig := fs.TempRegForData(fe.CopyOf)
		reg := fs.allocateFor(idx)
		fe.DataReg = reg
		fe.Kind = EntryRegisterData
		_ = orig // the caller emits the actual mov; this only assigns bookkeeping.
		return reg
	}
	return fs.TempRegForData(idx)
}

func (fs *FrameState) allocateFor(idx int) asmir.Register {
	reg, ok := fs.regs.Allocate(idx)
	if ok {
		return reg
	}
	victim, ownerIdx, needsSpill, ok := fs.regs.EvictSomething(nil, fs.tracker)
	if !ok {
		return asmir.NilRegister
	}
	if needsSpill {
		fs.tracker[ownerIdx].Synced = false // caller's sync pass will see this and spill.
	}
	fs.regs.Release(victim)
	fs.regs.Allocate(idx)
	return victim
}

// SyncWriter is what sync emits stores through; MethodCompiler supplies a
// concrete implementation backed by an asmir.Assembler.
type SyncWriter interface {
	StoreSlot(slot int, fe FrameEntry)
}

// Sync emits stores for every entry not already synced in memory,
// leaving register contents undisturbed (spec §4.7 sync, invariant P5).
func (fs *FrameState) Sync(w SyncWriter) {
	for slot := 0; slot < fs.sp; slot++ {
		idx := fs.baseOf[slot]
		if idx == -1 {
			continue
		}
		fe := &fs.tracker[idx]
		if fe.Synced {
			continue
		}
		w.StoreSlot(slot, *fe)
		fe.Synced = true
	}
}

// SyncAndKill syncs every entry whose register falls in mask, then
// forgets (releases) those registers — the precondition for a stub call
// that may clobber volatile registers (spec §4.7 sync_and_kill).
func (fs *FrameState) SyncAndKill(w SyncWriter, mask map[asmir.Register]bool) {
	for slot := 0; slot < fs.sp; slot++ {
		idx := fs.baseOf[slot]
		if idx == -1 {
			continue
		}
		fe := &fs.tracker[idx]
		if fe.Kind != EntryRegisterData {
			continue
		}
		if mask[fe.TypeReg] || mask[fe.DataReg] {
			if !fe.Synced {
				w.StoreSlot(slot, *fe)
				fe.Synced = true
			}
			fs.releaseEntryRegs(*fe)
			fe.TypeReg, fe.DataReg = asmir.NilRegister, asmir.NilRegister
		}
	}
}

// ForgetEverything syncs and drops all tracker state — used at every
// block boundary and safepoint (spec §4.7 forget_everything).
func (fs *FrameState) ForgetEverything(w SyncWriter) {
	for slot := 0; slot < fs.sp; slot++ {
		idx := fs.baseOf[slot]
		if idx == -1 {
			continue
		}
		fe := &fs.tracker[idx]
		if !fe.Synced {
			w.StoreSlot(slot, *fe)
		}
		fs.releaseEntryRegs(*fe)
	}
	fs.tracker = fs.tracker[:0]
	for i := range fs.baseOf {
		fs.baseOf[i] = -1
	}
}

// StoreLocal sets local n to the entry at top-of-stack (spec §4.7
// store_local), preserving invariant P6 (every copy entry's tracker index
// is strictly greater than its copy target's). A naive redirect of
// existing copies of local n's prior backing entry to the (almost always
// more recently created, hence higher-indexed) top-of-stack entry would
// point an earlier copy at a later target and violate P6. Instead, when
// the new entry's index is greater than the prior entry's, the two
// tracker slots are swapped in place: the prior (lower) index now holds
// the new value's content, so every existing copy of it — whose own
// index is necessarily greater than priorIdx, since P6 already held
// before this call — keeps pointing at the same (now-updated) index and
// transparently observes the new value, with no ordering violated.
//
// This never emits a gcface.WriteBarrier call: local n is a stack slot,
// always scanned directly as a GC root (spec §6 mark_stack), so a
// generational barrier — which only matters for a heap object's field
// coming to point at a younger object — has no bearing here.
func (fs *FrameState) StoreLocal(n int) {
	newIdx := fs.baseOf[fs.sp-1]
	priorIdx := fs.baseOf[n]

	if priorIdx == -1 || priorIdx == newIdx {
		fs.ensureBaseCap(n + 1)
		fs.baseOf[n] = newIdx
		fs.tracker[newIdx].IsCopyTarget = true
		return
	}

	if priorIdx < newIdx {
		// If the entry being stored is itself a copy, swapping it down to
		// priorIdx unchanged can violate P6: its CopyOf was only guaranteed
		// to be below newIdx, not below priorIdx. Resolve it first.
		if fs.tracker[newIdx].Kind == EntryCopy {
			k := fs.tracker[newIdx].CopyOf
			for k > priorIdx && fs.tracker[k].Kind == EntryCopy {
				k = fs.tracker[k].CopyOf
			}
			switch {
			case k == priorIdx:
				// The stored value is a copy of local n's own current value
				// (e.g. dup then store back into the same local): no-op.
				fs.tracker[priorIdx].IsCopyTarget = true
				fs.baseOf[n] = priorIdx
				return
			case k > priorIdx:
				// k names a concrete entry strictly between priorIdx and
				// newIdx; no index below priorIdx can express this copy, so
				// skip the swap optimization and just rebind the local.
				fs.baseOf[n] = newIdx
				fs.tracker[newIdx].IsCopyTarget = true
				return
			default:
				// k < priorIdx: retarget through the resolved target so the
				// copy stays valid once moved down to priorIdx.
				fs.tracker[newIdx].CopyOf = k
			}
		}

		fs.tracker[priorIdx], fs.tracker[newIdx] = fs.tracker[newIdx], fs.tracker[priorIdx]
		fs.tracker[priorIdx].IsCopyTarget = true
		fs.baseOf[fs.sp-1] = priorIdx
		fs.baseOf[n] = priorIdx
		return
	}

	// priorIdx > newIdx: the local's prior value was created after the
	// value now being stored into it: no existing copy can reference
	// newIdx yet at an index below it, so a direct redirect is safe.
	for i := range fs.tracker {
		if fs.tracker[i].Kind == EntryCopy && fs.tracker[i].CopyOf == priorIdx {
			fs.tracker[i].CopyOf = newIdx
		}
	}
	fs.ensureBaseCap(n + 1)
	fs.baseOf[n] = newIdx
	fs.tracker[newIdx].IsCopyTarget = true
}

// CheckCopyOrdering verifies spec invariant P6 across the whole tracker —
// exposed for tests, not called on the hot compile path.
func (fs *FrameState) CheckCopyOrdering() bool {
	for i, fe := range fs.tracker {
		if fe.Kind == EntryCopy && fe.CopyOf >= i {
			return false
		}
	}
	return true
}
