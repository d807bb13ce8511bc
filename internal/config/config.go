// Package config holds the EngineConfig that wires every subsystem of
// TraceJIT and MethodJIT, grounded on wazero's top-level RuntimeConfig:
// an immutable struct built through chained With* options, cloned on each
// call so earlier configs stay valid.
package config

import (
	"github.com/neonux/tracejit/internal/jitlog"
	"github.com/neonux/tracejit/internal/value"
)

// EngineConfig carries every tunable named across spec §4: Oracle bitmap
// size, hot-loop/hot-guard thresholds, the PIC stub cap, the Value
// encoding, and the StackSpace reservation size.
type EngineConfig struct {
	// OracleBitmapSize is the fixed size of each of the Oracle's two bit
	// vectors (spec §3 Oracle: "a prime between 1k-4k entries" by default).
	OracleBitmapSize uint32

	// HotLoopThreshold is the hit count at which an uncompiled fragment
	// begins recording (spec §4.6, default 2).
	HotLoopThreshold uint32

	// HotGuardThreshold is the hit count a guard's exit must exceed before
	// the trace Monitor logs it as eligible for tree extension (spec §4.6,
	// default 0: eligible on first hit). No extension is started from it.
	HotGuardThreshold uint32

	// MaxStubs bounds a PIC's stub chain length (spec §4.9, default 16).
	MaxStubs int

	// MaxProtoChainWalk bounds how many prototype links a single PIC stub
	// may walk when the property was found up the chain (supplemented from
	// JaegerMonkey's methodjit/PolyIC.cpp, see SPEC_FULL.md).
	MaxProtoChainWalk int

	// Encoding selects Nunbox or Punbox for every Value that crosses into
	// native code (spec §3, §6).
	Encoding value.Encoding

	// StackReservationBytes is the size of the virtual range StackSpace
	// reserves at construction (spec §4.1: "tens of MB").
	StackReservationBytes uint64

	// Logger receives compile/flush/recompile diagnostics from every tier.
	Logger jitlog.Logger
}

// Option mutates a clone of an EngineConfig.
type Option func(*EngineConfig)

// Default returns the baseline configuration named throughout spec §4.
func Default() EngineConfig {
	return EngineConfig{
		OracleBitmapSize:      2053, // a prime in [1k, 4k)
		HotLoopThreshold:      2,
		HotGuardThreshold:     0,
		MaxStubs:              16,
		MaxProtoChainWalk:     8,
		Encoding:              value.Punbox,
		StackReservationBytes: 32 << 20, // 32MiB
		Logger:                jitlog.Discard,
	}
}

// New builds an EngineConfig from Default() plus the given options, mirroring
// wazero's NewRuntimeConfig(opts...) convention.
func New(opts ...Option) EngineConfig {
	c := Default()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

func WithOracleBitmapSize(n uint32) Option {
	return func(c *EngineConfig) { c.OracleBitmapSize = n }
}

func WithHotLoopThreshold(n uint32) Option {
	return func(c *EngineConfig) { c.HotLoopThreshold = n }
}

func WithHotGuardThreshold(n uint32) Option {
	return func(c *EngineConfig) { c.HotGuardThreshold = n }
}

func WithMaxStubs(n int) Option {
	return func(c *EngineConfig) { c.MaxStubs = n }
}

func WithMaxProtoChainWalk(n int) Option {
	return func(c *EngineConfig) { c.MaxProtoChainWalk = n }
}

func WithEncoding(e value.Encoding) Option {
	return func(c *EngineConfig) { c.Encoding = e }
}

func WithStackReservationBytes(n uint64) Option {
	return func(c *EngineConfig) { c.StackReservationBytes = n }
}

func WithLogger(l jitlog.Logger) Option {
	return func(c *EngineConfig) { c.Logger = l }
}
