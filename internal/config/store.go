package config

import (
	"sync/atomic"

	"github.com/dyxium/dia-core/internal/risk"
)

// LimitsStore holds the current risk file and swaps it atomically on
// reload. Readers never observe a half-applied file, and a failed reload
// keeps the previous configuration.
type LimitsStore struct {
	path    string
	current atomic.Pointer[RiskFile]
	reloads atomic.Uint64
}

// NewLimitsStore loads path and returns a store serving it
func NewLimitsStore(path string) (*LimitsStore, error) {
	rf, err := LoadRiskFile(path)
	if err != nil {
		return nil, err
	}
	s := &LimitsStore{path: path}
	s.current.Store(rf)
	return s, nil
}

// NewStaticLimitsStore serves a fixed risk file; Reload is a no-op
func NewStaticLimitsStore(rf *RiskFile) *LimitsStore {
	s := &LimitsStore{}
	s.current.Store(rf)
	return s
}

// Reload re-reads the file. On error the previous snapshot stays active.
func (s *LimitsStore) Reload() error {
	if s.path == "" {
		return nil
	}
	rf, err := LoadRiskFile(s.path)
	if err != nil {
		return err
	}
	s.current.Store(rf)
	s.reloads.Add(1)
	return nil
}

// Current returns the active snapshot. Callers must not modify it.
func (s *LimitsStore) Current() *RiskFile {
	return s.current.Load()
}

// LimitsFor returns the effective limits for symbol from the active snapshot
func (s *LimitsStore) LimitsFor(symbol string) risk.RiskLimits {
	return s.Current().LimitsFor(symbol)
}

// SizingFor returns the effective sizing policy for symbol
func (s *LimitsStore) SizingFor(symbol string) SizingPolicy {
	return s.Current().SizingFor(symbol)
}

// Reloads returns the number of successful reloads
func (s *LimitsStore) Reloads() uint64 {
	return s.reloads.Load()
}
