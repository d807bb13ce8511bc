package value

// Encoding names one of the two wire-compatible layouts a Value can be
// serialized to/from when it crosses into native code (spec §3, §6
// "Value encoding is fixed at build time as either nunbox or punbox").
// The Value type above is the in-Go representation used by both tiers;
// Encoding only governs how MethodJIT/TraceJIT lay a Value out in the
// native frame so generated code can load/store it directly.
type Encoding uint8

const (
	// Nunbox stores a Value as two adjacent 32-bit machine words: tag then
	// payload. This is the layout used on 32-bit target architectures,
	// where a native pointer and the numeric payload both fit a register.
	Nunbox Encoding = iota
	// Punbox stores a Value as a single 64-bit machine word: the payload in
	// the low 56 bits, the tag in the top byte. This is the layout used on
	// 64-bit target architectures.
	Punbox
)

func (e Encoding) String() string {
	if e == Punbox {
		return "punbox"
	}
	return "nunbox"
}

// WordSizeInBytes is how many bytes a Value occupies in a native frame
// under this Encoding: 8 for both (two 32-bit words for Nunbox, one 64-bit
// word for Punbox).
func (e Encoding) WordSizeInBytes() int {
	if e == Punbox {
		return 8
	}
	return 8 // nunbox: 2x4 bytes, still 8 bytes total per slot.
}

// punboxTagShift places the tag in the top byte of the 64-bit word, leaving
// payload bits free for a pointer or a float64-compatible NaN-boxed double.
const punboxTagShift = 56

// Encode lays a Value out as the native-frame bit pattern under this
// Encoding. Nunbox packs (tag:32 | payload:32) big-endian-in-register
// (tag is the high word); Punbox packs (tag:8 | payload:56).
func (e Encoding) Encode(v Value) uint64 {
	switch e {
	case Punbox:
		return uint64(v.tag)<<punboxTagShift | (v.payload &^ (uint64(0xff) << punboxTagShift))
	default: // Nunbox
		return uint64(v.tag)<<32 | (v.payload & 0xffffffff)
	}
}

// Decode is the inverse of Encode: given a native-frame bit pattern
// produced under this Encoding, reconstruct the in-Go Value. Decode only
// sees the word, so a double comes back with the payload bits the Encoding
// kept (the low 56 under Punbox, the low 32 under Nunbox); DecodeDouble
// rebuilds a double from its full 64-bit payload instead.
func (e Encoding) Decode(word uint64) Value {
	switch e {
	case Punbox:
		tag := Tag(word >> punboxTagShift)
		payload := word &^ (uint64(0xff) << punboxTagShift)
		return Value{tag: tag, payload: payload}
	default: // Nunbox
		tag := Tag(word >> 32)
		payload := word & 0xffffffff
		return Value{tag: tag, payload: payload}
	}
}

// DecodeDouble reconstructs a double Value from its full un-truncated
// 64-bit IEEE payload alone (no tag word is needed), for code paths
// that keep the tag and payload in separate machine words (Nunbox, or a
// Punbox NaN-boxing variant that spills overflowing doubles to memory).
func DecodeDouble(payload uint64) Value {
	return Value{tag: TagDouble, payload: payload}
}
