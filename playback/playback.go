// Package playback queues model audio for the output device and enforces
// turn boundaries: audio tagged with anything but the current turn is dropped.
package playback

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"warmcall/codec"
	"warmcall/log"
	"warmcall/tuning"
)

// DefaultMaxBuffered caps queued audio; anything past it is dropped.
const DefaultMaxBuffered = 2 * time.Minute

type Pipeline struct {
	device  codec.Format
	metrics *tuning.Metrics
	current atomic.Uint64

	convMu sync.Mutex
	conv   *codec.Converter

	mu          sync.Mutex
	queue       [][]byte
	buffered    int
	maxBuffered int
	played      uint64
}

func New(device codec.Format, metrics *tuning.Metrics) (*Pipeline, error) {
	if err := device.Validate(); err != nil {
		return nil, fmt.Errorf("playback format: %w", err)
	}
	return &Pipeline{
		device:      device,
		metrics:     metrics,
		maxBuffered: int(DefaultMaxBuffered.Seconds()) * device.SampleRate * device.FrameBytes(),
	}, nil
}

func (p *Pipeline) Format() codec.Format { return p.device }

// Turn is the turn currently allowed to play.
func (p *Pipeline) Turn() uint64 { return p.current.Load() }

// Advance drops everything queued and accepts audio for turn from now on.
func (p *Pipeline) Advance(turn uint64) {
	p.current.Store(turn)
	p.Flush()
}

// Flush drops everything queued without changing the turn.
func (p *Pipeline) Flush() {
	p.mu.Lock()
	p.queue = nil
	p.buffered = 0
	p.mu.Unlock()

	// resampler history belongs to the flushed audio
	p.convMu.Lock()
	p.conv = nil
	p.convMu.Unlock()
}

// Enqueue converts c to the device format and queues it. It reports false
// when the chunk was dropped.
func (p *Pipeline) Enqueue(c codec.Chunk) bool {
	if c.Turn != p.current.Load() {
		p.metrics.IncDropped()
		return false
	}

	pcm, err := p.convert(c)
	if err != nil {
		p.metrics.IncConversionError()
		log.Warnf("playback: dropping chunk: %v", err)
		return false
	}
	if len(pcm) == 0 {
		return true
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if c.Turn != p.current.Load() {
		p.metrics.IncDropped()
		return false
	}
	if p.buffered+len(pcm) > p.maxBuffered {
		p.metrics.IncDropped()
		return false
	}
	p.queue = append(p.queue, pcm)
	p.buffered += len(pcm)
	return true
}

func (p *Pipeline) convert(c codec.Chunk) ([]byte, error) {
	p.convMu.Lock()
	defer p.convMu.Unlock()
	if p.conv == nil || p.conv.Source() != c.Format {
		conv, err := codec.NewConverter(c.Format, p.device)
		if err != nil {
			return nil, err
		}
		p.conv = conv
	}
	return p.conv.Convert(c.Data)
}

// Fill is the device pull callback. Whatever the queue cannot cover is
// silence.
func (p *Pipeline) Fill(out []byte) {
	p.mu.Lock()
	n := 0
	for n < len(out) && len(p.queue) > 0 {
		head := p.queue[0]
		c := copy(out[n:], head)
		n += c
		if c == len(head) {
			p.queue[0] = nil
			p.queue = p.queue[1:]
		} else {
			p.queue[0] = head[c:]
		}
	}
	p.buffered -= n
	p.played += uint64(n)
	p.mu.Unlock()

	clear(out[n:])
}

// Pending is the amount of queued audio not yet pulled by the device.
func (p *Pipeline) Pending() time.Duration {
	p.mu.Lock()
	n := p.buffered
	p.mu.Unlock()
	return time.Duration(p.device.Duration(n) * float64(time.Second))
}

// Played is the total number of audio bytes handed to the device.
func (p *Pipeline) Played() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.played
}
