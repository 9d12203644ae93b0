package tuning

import (
	"math"
	"sync"
	"sync/atomic"
	"time"
)

type Metrics struct {
	turns            atomic.Uint64
	interrupts       atomic.Uint64
	dropped          atomic.Uint64
	conversionErrors atomic.Uint64
	lastLatencyMs    atomic.Int64

	latMu      sync.Mutex
	latencySum time.Duration
	latencyN   int

	// written by the capture callback
	lastRMS atomic.Uint64 // math.Float64bits
	gated   atomic.Bool
}

type Snapshot struct {
	TurnCount             uint64
	InterruptCount        uint64
	DroppedAudioCount     uint64
	ConversionErrors      uint64
	LastResponseLatencyMs int64
	AvgResponseLatencyMs  int64
	LatencySamples        int
	LastRMS               float64
	Gated                 bool
}

func (m *Metrics) IncTurn()            { m.turns.Add(1) }
func (m *Metrics) IncInterrupt()       { m.interrupts.Add(1) }
func (m *Metrics) IncDropped()         { m.dropped.Add(1) }
func (m *Metrics) IncConversionError() { m.conversionErrors.Add(1) }

func (m *Metrics) TurnCount() uint64         { return m.turns.Load() }
func (m *Metrics) InterruptCount() uint64    { return m.interrupts.Load() }
func (m *Metrics) DroppedAudioCount() uint64 { return m.dropped.Load() }

func (m *Metrics) AddLatency(d time.Duration) {
	if d < 0 {
		d = 0
	}
	m.lastLatencyMs.Store(d.Milliseconds())
	m.latMu.Lock()
	m.latencySum += d
	m.latencyN++
	m.latMu.Unlock()
}

// AverageLatency is zero when no sample has been recorded.
func (m *Metrics) AverageLatency() time.Duration {
	m.latMu.Lock()
	defer m.latMu.Unlock()
	if m.latencyN == 0 {
		return 0
	}
	return m.latencySum / time.Duration(m.latencyN)
}

// SetLevel records the last captured frame energy and whether the echo gate
// held it back.
func (m *Metrics) SetLevel(rms float64, gated bool) {
	m.lastRMS.Store(math.Float64bits(rms))
	m.gated.Store(gated)
}

func (m *Metrics) Gated() bool { return m.gated.Load() }

func (m *Metrics) LastRMS() float64 { return math.Float64frombits(m.lastRMS.Load()) }

func (m *Metrics) Snapshot() Snapshot {
	m.latMu.Lock()
	n := m.latencyN
	var avg time.Duration
	if n > 0 {
		avg = m.latencySum / time.Duration(n)
	}
	m.latMu.Unlock()
	return Snapshot{
		TurnCount:             m.turns.Load(),
		InterruptCount:        m.interrupts.Load(),
		DroppedAudioCount:     m.dropped.Load(),
		ConversionErrors:      m.conversionErrors.Load(),
		LastResponseLatencyMs: m.lastLatencyMs.Load(),
		AvgResponseLatencyMs:  avg.Milliseconds(),
		LatencySamples:        n,
		LastRMS:               m.LastRMS(),
		Gated:                 m.gated.Load(),
	}
}

func (m *Metrics) Reset() {
	m.turns.Store(0)
	m.interrupts.Store(0)
	m.dropped.Store(0)
	m.conversionErrors.Store(0)
	m.lastLatencyMs.Store(0)
	m.latMu.Lock()
	m.latencySum = 0
	m.latencyN = 0
	m.latMu.Unlock()
	m.lastRMS.Store(0)
	m.gated.Store(false)
}
