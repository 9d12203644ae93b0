// Package tuning holds the live-adjustable voice parameters and the running
// quality counters of a call. Everything here is safe for concurrent use: the
// capture callback, the playback device and the session owner all touch it.
package tuning

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

type Sensitivity string

const (
	SensitivityHigh Sensitivity = "HIGH"
	SensitivityLow  Sensitivity = "LOW"
)

func ParseSensitivity(s string) (Sensitivity, error) {
	switch Sensitivity(strings.ToUpper(strings.TrimSpace(s))) {
	case SensitivityHigh:
		return SensitivityHigh, nil
	case SensitivityLow:
		return SensitivityLow, nil
	}
	return "", fmt.Errorf("unknown sensitivity %q (use HIGH or LOW)", s)
}

const (
	MinEchoThreshold = 0.001
	MaxEchoThreshold = 1.0
)

type Config struct {
	EchoThreshold       float64     `yaml:"echo_threshold" json:"energyThreshold"`
	TurnCompleteDelayMs uint32      `yaml:"turn_complete_delay_ms" json:"turnCompleteDelayMs"`
	SilenceDurationMs   uint32      `yaml:"silence_duration_ms" json:"silenceDurationMs"`
	PrefixPaddingMs     uint32      `yaml:"prefix_padding_ms" json:"prefixPaddingMs"`
	StartSensitivity    Sensitivity `yaml:"start_sensitivity" json:"startSensitivity"`
	EndSensitivity      Sensitivity `yaml:"end_sensitivity" json:"endSensitivity"`
}

func DefaultConfig() Config {
	return Config{
		EchoThreshold:       0.05,
		TurnCompleteDelayMs: 500,
		SilenceDurationMs:   800,
		PrefixPaddingMs:     20,
		StartSensitivity:    SensitivityHigh,
		EndSensitivity:      SensitivityHigh,
	}
}

// Normalize clamps the echo threshold and replaces unknown sensitivities
// with the defaults.
func (c Config) Normalize() Config {
	c.EchoThreshold = clampThreshold(c.EchoThreshold)
	def := DefaultConfig()
	if _, err := ParseSensitivity(string(c.StartSensitivity)); err != nil {
		c.StartSensitivity = def.StartSensitivity
	} else {
		c.StartSensitivity = Sensitivity(strings.ToUpper(string(c.StartSensitivity)))
	}
	if _, err := ParseSensitivity(string(c.EndSensitivity)); err != nil {
		c.EndSensitivity = def.EndSensitivity
	} else {
		c.EndSensitivity = Sensitivity(strings.ToUpper(string(c.EndSensitivity)))
	}
	return c
}

// handshakeEqual reports whether the fields sent in the setup message match.
func (c Config) handshakeEqual(o Config) bool {
	return c.SilenceDurationMs == o.SilenceDurationMs &&
		c.PrefixPaddingMs == o.PrefixPaddingMs &&
		c.StartSensitivity == o.StartSensitivity &&
		c.EndSensitivity == o.EndSensitivity
}

func clampThreshold(v float64) float64 {
	if v != v || v < MinEchoThreshold { // NaN or too small
		return MinEchoThreshold
	}
	if v > MaxEchoThreshold {
		return MaxEchoThreshold
	}
	return v
}

type Store struct {
	mu      sync.RWMutex
	cfg     Config
	metrics Metrics
}

func NewStore(cfg Config) *Store {
	return &Store{cfg: cfg.Normalize()}
}

func (s *Store) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

func (s *Store) SetConfig(cfg Config) {
	s.mu.Lock()
	s.cfg = cfg.Normalize()
	s.mu.Unlock()
}

// Reconfigured reports whether any activity-detection field differs from the
// defaults, i.e. whether the setup message must carry explicit thresholds.
func (s *Store) Reconfigured() bool {
	return !s.Config().handshakeEqual(DefaultConfig())
}

func (s *Store) EchoThreshold() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.EchoThreshold
}

func (s *Store) SetEchoThreshold(v float64) {
	s.mu.Lock()
	s.cfg.EchoThreshold = clampThreshold(v)
	s.mu.Unlock()
}

func (s *Store) TurnCompleteDelay() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return time.Duration(s.cfg.TurnCompleteDelayMs) * time.Millisecond
}

func (s *Store) SetTurnCompleteDelay(d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.mu.Lock()
	s.cfg.TurnCompleteDelayMs = uint32(d / time.Millisecond)
	s.mu.Unlock()
}

func (s *Store) SetSilenceDuration(d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.mu.Lock()
	s.cfg.SilenceDurationMs = uint32(d / time.Millisecond)
	s.mu.Unlock()
}

func (s *Store) SetPrefixPadding(d time.Duration) {
	if d < 0 {
		d = 0
	}
	s.mu.Lock()
	s.cfg.PrefixPaddingMs = uint32(d / time.Millisecond)
	s.mu.Unlock()
}

func (s *Store) SetStartSensitivity(v Sensitivity) error {
	v, err := ParseSensitivity(string(v))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg.StartSensitivity = v
	s.mu.Unlock()
	return nil
}

func (s *Store) SetEndSensitivity(v Sensitivity) error {
	v, err := ParseSensitivity(string(v))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.cfg.EndSensitivity = v
	s.mu.Unlock()
	return nil
}

func (s *Store) Metrics() *Metrics { return &s.metrics }
