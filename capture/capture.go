// Package capture turns microphone frames into wire-format audio blocks. It
// runs on the audio device's callback thread, so nothing in it blocks.
package capture

import (
	"fmt"
	"sync"
	"sync/atomic"

	"warmcall/codec"
	"warmcall/log"
	"warmcall/tuning"
)

const DefaultQueueSize = 64

type Pipeline struct {
	conv     *codec.Converter
	store    *tuning.Store
	muted    func() bool
	speaking func() bool

	mu     sync.Mutex
	closed bool
	out    chan []byte

	frames    atomic.Uint64
	forwarded atomic.Uint64
	gated     atomic.Uint64
	overflow  atomic.Uint64
}

// New builds a pipeline for frames in the native format. muted and speaking
// are polled once per frame.
func New(native codec.Format, store *tuning.Store, muted, speaking func() bool, queueSize int) (*Pipeline, error) {
	conv, err := codec.NewConverter(native, codec.WireInput)
	if err != nil {
		return nil, fmt.Errorf("capture converter: %w", err)
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	return &Pipeline{
		conv:     conv,
		store:    store,
		muted:    muted,
		speaking: speaking,
		out:      make(chan []byte, queueSize),
	}, nil
}

// Frames yields 16 kHz mono PCM16 blocks in capture order. It is closed by
// Close.
func (p *Pipeline) Frames() <-chan []byte { return p.out }

// HandleFrame is the device data callback.
func (p *Pipeline) HandleFrame(data []byte, _ uint32) {
	p.frames.Add(1)
	if p.muted != nil && p.muted() {
		return
	}

	metrics := p.store.Metrics()
	rms := codec.RMS(data)
	gated := p.speaking != nil && p.speaking() && rms <= p.store.EchoThreshold()
	metrics.SetLevel(rms, gated)
	if gated {
		p.gated.Add(1)
		return
	}

	pcm, err := p.conv.Convert(data)
	if err != nil {
		metrics.IncConversionError()
		log.Warnf("capture: dropping frame: %v", err)
		return
	}
	if len(pcm) == 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	select {
	case p.out <- pcm:
		p.forwarded.Add(1)
	default:
		if n := p.overflow.Add(1); n == 1 || n%50 == 0 {
			log.Warnf("capture: send queue full, dropped %d frames", n)
		}
	}
}

// Close ends Frames. Later frames are discarded.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.out)
	}
}

type Stats struct {
	Frames    uint64
	Forwarded uint64
	Gated     uint64
	Overflow  uint64
}

func (p *Pipeline) Stats() Stats {
	return Stats{
		Frames:    p.frames.Load(),
		Forwarded: p.forwarded.Load(),
		Gated:     p.gated.Load(),
		Overflow:  p.overflow.Load(),
	}
}
