package capture

import (
	"encoding/binary"
	"math"
	"sync/atomic"
	"testing"

	"warmcall/codec"
	"warmcall/tuning"
)

func tone(rate, ms int, amp float64) []byte {
	n := rate * ms / 1000
	buf := make([]byte, n*2)
	for i := range n {
		s := int16(amp * 32767 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

type flags struct {
	muted, speaking atomic.Bool
}

func newPipeline(t *testing.T, native codec.Format, queue int) (*Pipeline, *tuning.Store, *flags) {
	t.Helper()
	store := tuning.NewStore(tuning.DefaultConfig())
	f := &flags{}
	p, err := New(native, store, f.muted.Load, f.speaking.Load, queue)
	if err != nil {
		t.Fatal(err)
	}
	return p, store, f
}

func drain(p *Pipeline) int {
	n := 0
	for {
		select {
		case <-p.Frames():
			n++
		default:
			return n
		}
	}
}

func TestEchoGate(t *testing.T) {
	// threshold 0.05; a 0.02 amplitude tone has RMS ~0.014, 0.5 has ~0.35
	quiet := tone(16000, 20, 0.02)
	loud := tone(16000, 20, 0.5)

	for _, tt := range []struct {
		name     string
		speaking bool
		frame    []byte
		forward  bool
	}{
		{"quiet while silent", false, quiet, true},
		{"loud while silent", false, loud, true},
		{"quiet while speaking", true, quiet, false},
		{"loud while speaking", true, loud, true},
	} {
		t.Run(tt.name, func(t *testing.T) {
			p, store, f := newPipeline(t, codec.WireInput, 8)
			f.speaking.Store(tt.speaking)
			p.HandleFrame(tt.frame, uint32(len(tt.frame)/2))

			if got := drain(p) == 1; got != tt.forward {
				t.Errorf("forwarded = %v, want %v", got, tt.forward)
			}
			if gated := store.Metrics().Gated(); gated == tt.forward {
				t.Errorf("gated gauge = %v", gated)
			}
			if store.Metrics().LastRMS() == 0 {
				t.Error("last RMS not recorded")
			}
		})
	}
}

func TestEchoGateFollowsThreshold(t *testing.T) {
	p, store, f := newPipeline(t, codec.WireInput, 8)
	f.speaking.Store(true)
	frame := tone(16000, 20, 0.02)

	p.HandleFrame(frame, 320)
	store.SetEchoThreshold(0.001)
	p.HandleFrame(frame, 320)

	if n := drain(p); n != 1 {
		t.Errorf("forwarded %d frames, want 1 after lowering the threshold", n)
	}
	if s := p.Stats(); s.Gated != 1 || s.Frames != 2 {
		t.Errorf("stats = %+v", s)
	}
}

func TestMutedDropsEverything(t *testing.T) {
	p, _, f := newPipeline(t, codec.WireInput, 8)
	f.muted.Store(true)
	p.HandleFrame(tone(16000, 20, 0.5), 320)
	if n := drain(p); n != 0 {
		t.Errorf("forwarded %d frames while muted", n)
	}
	f.muted.Store(false)
	p.HandleFrame(tone(16000, 20, 0.5), 320)
	if n := drain(p); n != 1 {
		t.Errorf("forwarded %d frames after unmute, want 1", n)
	}
}

func TestConvertsNativeFormat(t *testing.T) {
	p, _, _ := newPipeline(t, codec.Format{SampleRate: 48000, Channels: 2}, 64)
	mono := tone(48000, 100, 0.5)
	stereo := make([]byte, len(mono)*2)
	for i := 0; i < len(mono)/2; i++ {
		copy(stereo[i*4:], mono[i*2:i*2+2])
		copy(stereo[i*4+2:], mono[i*2:i*2+2])
	}
	for range 5 {
		p.HandleFrame(stereo, uint32(len(stereo)/4))
	}
	p.Close()

	total := 0
	for pcm := range p.Frames() {
		total += len(pcm)
	}
	// 500ms at 16 kHz mono is 16000 bytes; the resampler may hold some back
	if total < 8000 || total > 17600 {
		t.Errorf("got %d bytes of 16 kHz audio, want about 16000", total)
	}
}

func TestMisalignedFrameCounted(t *testing.T) {
	p, store, _ := newPipeline(t, codec.Format{SampleRate: 16000, Channels: 2}, 8)
	p.HandleFrame([]byte{1, 2, 3, 4, 5, 6}, 1)
	if n := drain(p); n != 0 {
		t.Errorf("forwarded %d frames", n)
	}
	if got := store.Metrics().Snapshot().ConversionErrors; got != 1 {
		t.Errorf("conversion errors = %d, want 1", got)
	}
}

func TestQueueFullDrops(t *testing.T) {
	p, _, _ := newPipeline(t, codec.WireInput, 2)
	frame := tone(16000, 20, 0.5)
	for range 5 {
		p.HandleFrame(frame, 320)
	}
	if n := drain(p); n != 2 {
		t.Errorf("queued %d frames, want 2", n)
	}
	if s := p.Stats(); s.Overflow != 3 {
		t.Errorf("overflow = %d, want 3", s.Overflow)
	}
}

func TestFrameAfterClose(t *testing.T) {
	p, _, _ := newPipeline(t, codec.WireInput, 2)
	p.Close()
	p.Close()
	p.HandleFrame(tone(16000, 20, 0.5), 320) // must not panic
	if _, ok := <-p.Frames(); ok {
		t.Error("expected closed queue")
	}
}
