package codec

import (
	"encoding/binary"
	"fmt"
	"sync"

	resampling "github.com/tphakala/go-audio-resampling"
)

// Converter turns PCM16 in one Format into another. It keeps resampler state
// between calls, so one Converter serves one continuous stream.
type Converter struct {
	src Format
	dst Format

	mu        sync.Mutex
	resampler resampling.Resampler
}

func NewConverter(src, dst Format) (*Converter, error) {
	if err := src.Validate(); err != nil {
		return nil, fmt.Errorf("source format: %w", err)
	}
	if err := dst.Validate(); err != nil {
		return nil, fmt.Errorf("target format: %w", err)
	}
	c := &Converter{src: src, dst: dst}
	if src.SampleRate != dst.SampleRate {
		rs, err := resampling.New(&resampling.Config{
			InputRate:  float64(src.SampleRate),
			OutputRate: float64(dst.SampleRate),
			Channels:   dst.Channels,
			Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
		})
		if err != nil {
			return nil, fmt.Errorf("creating resampler %d->%d: %w", src.SampleRate, dst.SampleRate, err)
		}
		c.resampler = rs
	}
	return c, nil
}

func (c *Converter) Source() Format { return c.src }
func (c *Converter) Target() Format { return c.dst }

// Convert returns a new buffer; pcm is never modified. A resampler may hold
// back a few samples, so output length is not an exact ratio of input length.
func (c *Converter) Convert(pcm []byte) ([]byte, error) {
	if len(pcm)%c.src.FrameBytes() != 0 {
		return nil, fmt.Errorf("frame of %d bytes is not aligned to %s", len(pcm), c.src)
	}
	if len(pcm) == 0 {
		return nil, nil
	}

	mixed := remix(pcm, c.src.Channels, c.dst.Channels)
	if c.resampler == nil {
		return mixed, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	input := make([]float64, len(mixed)/2)
	for i := range input {
		sample := int16(binary.LittleEndian.Uint16(mixed[i*2:]))
		input[i] = float64(sample) / 32768.0
	}

	output, err := c.resampler.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resampling: %w", err)
	}

	// keep whole frames only
	n := len(output) / c.dst.Channels * c.dst.Channels
	out := make([]byte, n*2)
	for i, s := range output[:n] {
		var sample int16
		switch {
		case s >= 1.0:
			sample = 32767
		case s <= -1.0:
			sample = -32768
		default:
			sample = int16(s * 32767.0)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(sample))
	}
	return out, nil
}

// remix converts between mono and stereo. Downmix averages L and R.
func remix(pcm []byte, from, to int) []byte {
	if from == to {
		out := make([]byte, len(pcm))
		copy(out, pcm)
		return out
	}
	if from == 2 && to == 1 {
		frames := len(pcm) / 4
		out := make([]byte, frames*2)
		for i := range frames {
			l := int16(binary.LittleEndian.Uint16(pcm[i*4:]))
			r := int16(binary.LittleEndian.Uint16(pcm[i*4+2:]))
			m := int16((int32(l) + int32(r)) / 2)
			binary.LittleEndian.PutUint16(out[i*2:], uint16(m))
		}
		return out
	}
	// mono to stereo
	frames := len(pcm) / 2
	out := make([]byte, frames*4)
	for i := range frames {
		copy(out[i*4:], pcm[i*2:i*2+2])
		copy(out[i*4+2:], pcm[i*2:i*2+2])
	}
	return out
}
