// Package codecache owns executable page allocation, the W^X toggling
// required around RepatchBuffer edits, and instruction-cache flushing
// (spec §4.3 LinkBuffer/RepatchBuffer contracts, §6 binary-level
// contracts). Grounded on wazero's internal/platform.MmapCodeSegment /
// MprotectRX pattern (internal/engine/wazevo/engine.go), reimplemented here
// over golang.org/x/sys/unix directly since this module has no internal
// platform-abstraction package of its own to adapt.
package codecache

import (
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"
)

// Page is a single mmap'd code allocation. Its bytes are either RW
// (during linking/patching) or RX (while live native code points into it);
// never both, per the W^X contract.
type Page struct {
	mem      []byte
	writable bool
}

// Alloc reserves a zero-filled anonymous mapping at least size bytes long,
// initially writable so a LinkBuffer can copy code into it.
func Alloc(size int) (*Page, error) {
	if size <= 0 {
		size = 1
	}
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("codecache: mmap %d bytes: %w", size, err)
	}
	return &Page{mem: mem, writable: true}, nil
}

// Bytes exposes the raw backing memory. Callers must not retain it across
// a MakeExecutable/MakeWritable transition without re-fetching.
func (p *Page) Bytes() []byte { return p.mem }

// MakeExecutable flips the page from RW to RX and flushes the instruction
// cache, the transition LinkBuffer.finalize performs (spec §4.3: "After
// finalize, code pages are executable and instruction-cache flushed").
func (p *Page) MakeExecutable() error {
	if !p.writable {
		return nil
	}
	if err := unix.Mprotect(p.mem, unix.PROT_READ|unix.PROT_EXEC); err != nil {
		return fmt.Errorf("codecache: mprotect RX: %w", err)
	}
	p.writable = false
	flushInstructionCache(p.mem)
	return nil
}

// MakeWritable flips the page back to RW so a RepatchBuffer can edit
// in-place (spec §4.3 RepatchBuffer: "after toggling W^X protection").
// Patching itself must leave the page RX again before it is next executed.
func (p *Page) MakeWritable() error {
	if p.writable {
		return nil
	}
	if err := unix.Mprotect(p.mem, unix.PROT_READ|unix.PROT_WRITE); err != nil {
		return fmt.Errorf("codecache: mprotect RW: %w", err)
	}
	p.writable = true
	return nil
}

// Patch performs a single scoped RW->edit->RX cycle, guaranteeing the page
// never observes an intermediate state where it is both writable and
// executable (spec binary-level contract: pages are W^X).
func (p *Page) Patch(fn func(mem []byte)) error {
	if err := p.MakeWritable(); err != nil {
		return err
	}
	fn(p.mem)
	return p.MakeExecutable()
}

// Release unmaps the page. Callers must ensure no native return address or
// cached code pointer still references it (the Recompiler's "orphaning" of
// in-flight native-call pools exists precisely to delay this, spec §4.10).
func (p *Page) Release() error {
	if p.mem == nil {
		return nil
	}
	err := unix.Munmap(p.mem)
	p.mem = nil
	return err
}

// flushInstructionCache is a no-op on amd64 (its instruction cache is
// coherent with data writes) and would call the arch-specific cache-flush
// primitive on arm64; this module does not emit arm64 native code directly
// (it delegates encoding to internal/asmir/goasm, which flushes via
// golang-asm's own linker), so this stays a documented stub rather than
// duplicating that logic.
func flushInstructionCache(mem []byte) {
	if runtime.GOARCH == "arm64" {
		// golang-asm's obj.Link.Assemble already issues the cache-flush
		// syscall for code it emits; nothing further needed here for
		// Pages used purely as a destination buffer.
		_ = mem
	}
}
