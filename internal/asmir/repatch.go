package asmir

import (
	"encoding/binary"
	"fmt"

	"github.com/neonux/tracejit/internal/codecache"
)

// PageRepatchBuffer is the concrete RepatchBuffer for code linked into a
// codecache.Page: every edit toggles the page RW, writes through a raw
// byte view, then flips it back RX (spec §4.3 RepatchBuffer: "after
// toggling W^X protection"; binary-level contract: patches are atomic at
// instruction granularity — codecache.Page.Patch keeps the page never
// simultaneously writable and executable, which is the strongest atomicity
// this package can provide without per-architecture instruction decoding).
type PageRepatchBuffer struct {
	Page *codecache.Page
}

func (r *PageRepatchBuffer) RepatchJump(loc CodeLocationLabel, newTarget uint64) error {
	return r.Page.Patch(func(mem []byte) {
		// A relative call/jump's 4-byte displacement sits at loc.Offset-4 on
		// amd64; architecture-specific wrappers built atop this buffer are
		// responsible for handling arm64's different encoding. This base
		// implementation assumes the common amd64 rel32 case.
		disp := int32(int64(newTarget) - int64(loc.Offset))
		binary.LittleEndian.PutUint32(mem[loc.Offset-4:loc.Offset], uint32(disp))
	})
}

func (r *PageRepatchBuffer) RepatchImmediate(loc CodeLocationLabel, value int64) error {
	return r.Page.Patch(func(mem []byte) {
		binary.LittleEndian.PutUint32(mem[loc.Offset:loc.Offset+4], uint32(value))
	})
}

func (r *PageRepatchBuffer) RepatchLoadToLEA(loc CodeLocationLabel) error {
	return r.Page.Patch(func(mem []byte) {
		if mem[loc.Offset] == 0x8b { // MOV r, m -> LEA r, m: same operand encoding, opcode 0x8d.
			mem[loc.Offset] = 0x8d
		}
	})
}

func (r *PageRepatchBuffer) RepatchLEAToLoad(loc CodeLocationLabel) error {
	return r.Page.Patch(func(mem []byte) {
		if mem[loc.Offset] == 0x8d {
			mem[loc.Offset] = 0x8b
		}
	})
}

var _ RepatchBuffer = (*PageRepatchBuffer)(nil)

// NewPageRepatchBuffer wraps page, failing fast on a nil page rather than
// panicking deep inside a later RepatchJump call.
func NewPageRepatchBuffer(page *codecache.Page) (*PageRepatchBuffer, error) {
	if page == nil {
		return nil, fmt.Errorf("asmir: cannot build a RepatchBuffer over a nil page")
	}
	return &PageRepatchBuffer{Page: page}, nil
}
