package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

const fakeFrameSize = 1024

// FakeContext stands in for the sound server: capture replays PCM from a WAV
// file and playback pulls into memory.
type FakeContext struct {
	pcm      []byte
	format   StreamConfig
	realtime bool

	// CaptureErr and PlaybackErr make the next device open fail.
	CaptureErr  error
	PlaybackErr error

	mu        sync.Mutex
	captures  []*FakeCapture
	playbacks []*FakePlayback
}

func NewFakeContext(wavPath string, realtime bool) (*FakeContext, error) {
	data, err := os.ReadFile(wavPath)
	if err != nil {
		return nil, err
	}
	pcm, format, err := parseWAV(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", wavPath, err)
	}
	return NewFakeContextPCM(pcm, format, realtime), nil
}

func NewFakeContextPCM(pcm []byte, format StreamConfig, realtime bool) *FakeContext {
	return &FakeContext{pcm: pcm, format: format, realtime: realtime}
}

// parseWAV returns the data chunk and format of a PCM16 WAV file. Files
// without a RIFF header are treated as raw 16 kHz mono after a 44-byte skip.
func parseWAV(data []byte) ([]byte, StreamConfig, error) {
	def := StreamConfig{SampleRate: 16000, Channels: 1}
	if len(data) < 12 || !bytes.Equal(data[0:4], []byte("RIFF")) || !bytes.Equal(data[8:12], []byte("WAVE")) {
		if len(data) > WAVHeaderSize {
			data = data[WAVHeaderSize:]
		}
		return data, def, nil
	}
	format := def
	var haveFmt bool
	for pos := 12; pos+8 <= len(data); {
		id := string(data[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(data[pos+4:]))
		body := data[pos+8:]
		if size > len(body) {
			size = len(body)
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return nil, def, errors.New("short fmt chunk")
			}
			if tag := binary.LittleEndian.Uint16(body[0:]); tag != 1 {
				return nil, def, fmt.Errorf("unsupported wav encoding %d", tag)
			}
			if bits := binary.LittleEndian.Uint16(body[14:]); bits != 16 {
				return nil, def, fmt.Errorf("unsupported bit depth %d", bits)
			}
			format.Channels = uint32(binary.LittleEndian.Uint16(body[2:]))
			format.SampleRate = binary.LittleEndian.Uint32(body[4:])
			haveFmt = true
		case "data":
			if !haveFmt {
				return nil, def, errors.New("data chunk before fmt chunk")
			}
			return body[:size], format, nil
		}
		pos += 8 + size + size%2
	}
	return nil, def, errors.New("no data chunk")
}

func (f *FakeContext) Devices(kind Kind) ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake-" + kind.String(), Name: "Fake " + kind.String()}}, nil
}

func (f *FakeContext) Close() {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, _ StreamConfig) (CaptureDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CaptureErr != nil {
		return nil, f.CaptureErr
	}
	c := &FakeCapture{pcm: f.pcm, config: f.format, realtime: f.realtime, audioDone: make(chan struct{})}
	f.captures = append(f.captures, c)
	return c, nil
}

func (f *FakeContext) NewPlayback(_ *DeviceInfo, config StreamConfig) (PlaybackDevice, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PlaybackErr != nil {
		return nil, f.PlaybackErr
	}
	p := &FakePlayback{config: config, realtime: f.realtime}
	f.playbacks = append(f.playbacks, p)
	return p, nil
}

// LastCapture returns the most recently opened capture device, or nil.
func (f *FakeContext) LastCapture() *FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.captures) == 0 {
		return nil
	}
	return f.captures[len(f.captures)-1]
}

func (f *FakeContext) LastPlayback() *FakePlayback {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.playbacks) == 0 {
		return nil
	}
	return f.playbacks[len(f.playbacks)-1]
}

func (f *FakeContext) Opened() (captures, playbacks int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.captures), len(f.playbacks)
}

type FakeCapture struct {
	pcm       []byte
	config    StreamConfig
	realtime  bool
	audioDone chan struct{}

	mu       sync.Mutex
	cb       DataCallback
	running  bool
	closed   bool
	stopCh   chan struct{}
	feedDone chan struct{}
}

func (f *FakeCapture) Config() StreamConfig { return f.config }

// AudioDone is closed once the whole file has been delivered.
func (f *FakeCapture) AudioDone() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.audioDone
}

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

func (f *FakeCapture) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *FakeCapture) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// Feed delivers pcm to the callback as one hardware frame, as long as the
// device is running.
func (f *FakeCapture) Feed(pcm []byte) {
	f.mu.Lock()
	cb := f.cb
	running := f.running
	f.mu.Unlock()
	if cb == nil || !running {
		return
	}
	frameBytes := int(f.config.Channels) * 2
	cb(pcm, uint32(len(pcm)/frameBytes))
}

func (f *FakeCapture) chunkBytes() int {
	return fakeFrameSize * int(f.config.Channels) * 2
}

func (f *FakeCapture) feedChunk(cb DataCallback, pos int) int {
	end := min(pos+f.chunkBytes(), len(f.pcm))
	chunk := make([]byte, end-pos)
	copy(chunk, f.pcm[pos:end])
	cb(chunk, uint32(len(chunk)/(int(f.config.Channels)*2)))
	return end
}

func (f *FakeCapture) Start() error {
	f.mu.Lock()
	if f.running {
		f.mu.Unlock()
		return nil
	}
	f.running = true
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	cb := f.cb
	audioDone := f.audioDone
	f.mu.Unlock()

	if !f.realtime {
		if cb != nil {
			for pos := 0; pos < len(f.pcm); {
				pos = f.feedChunk(cb, pos)
			}
		}
		close(audioDone)
		close(f.feedDone)
		return nil
	}

	interval := time.Duration(fakeFrameSize) * time.Second / time.Duration(f.config.SampleRate)
	go func() {
		defer close(f.feedDone)
		pos := 0
		silence := make([]byte, f.chunkBytes())
		audioFinished := false

		for {
			select {
			case <-f.stopCh:
				return
			default:
			}

			f.mu.Lock()
			cb := f.cb
			f.mu.Unlock()
			if cb == nil {
				time.Sleep(time.Millisecond)
				continue
			}

			if pos < len(f.pcm) {
				pos = f.feedChunk(cb, pos)
			} else {
				if !audioFinished {
					audioFinished = true
					close(audioDone)
				}
				cb(silence, fakeFrameSize)
			}

			select {
			case <-f.stopCh:
				return
			case <-time.After(interval):
			}
		}
	}()
	return nil
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	if !f.running {
		f.mu.Unlock()
		return
	}
	f.running = false
	close(f.stopCh)
	done := f.feedDone
	f.mu.Unlock()
	<-done

	// fresh channel so a restarted device replays the file
	f.mu.Lock()
	f.audioDone = make(chan struct{})
	f.mu.Unlock()
}

func (f *FakeCapture) Close() {
	f.Stop()
	f.mu.Lock()
	f.closed = true
	f.cb = nil
	f.mu.Unlock()
}

// FakePlayback pulls from its source either on demand (Pull) or, in realtime
// mode, every 20ms while started. Pulled buffers that are not all silence are
// kept for inspection.
type FakePlayback struct {
	config   StreamConfig
	realtime bool

	mu      sync.Mutex
	src     FillCallback
	running bool
	closed  bool
	played  []byte
	stopCh  chan struct{}
	done    chan struct{}
}

func (p *FakePlayback) Config() StreamConfig { return p.config }

func (p *FakePlayback) SetSource(src FillCallback) {
	p.mu.Lock()
	p.src = src
	p.mu.Unlock()
}

func (p *FakePlayback) ClearSource() {
	p.mu.Lock()
	p.src = nil
	p.mu.Unlock()
}

func (p *FakePlayback) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.running
}

func (p *FakePlayback) Closed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// Pull asks the source for frames frames, as a device callback would.
func (p *FakePlayback) Pull(frames int) []byte {
	p.mu.Lock()
	src := p.src
	p.mu.Unlock()
	out := make([]byte, frames*int(p.config.Channels)*2)
	if src != nil {
		src(out)
	}
	if !isSilent(out) {
		p.mu.Lock()
		p.played = append(p.played, out...)
		p.mu.Unlock()
	}
	return out
}

// Played returns everything non-silent pulled so far.
func (p *FakePlayback) Played() []byte {
	p.mu.Lock()
	defer p.mu.Unlock()
	return bytes.Clone(p.played)
}

func (p *FakePlayback) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return nil
	}
	p.running = true
	if !p.realtime {
		return nil
	}
	p.stopCh = make(chan struct{})
	p.done = make(chan struct{})
	frames := int(p.config.SampleRate) / 50
	go func(stop <-chan struct{}, done chan<- struct{}) {
		defer close(done)
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				p.Pull(frames)
			}
		}
	}(p.stopCh, p.done)
	return nil
}

func (p *FakePlayback) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	stop, done := p.stopCh, p.done
	p.stopCh, p.done = nil, nil
	p.mu.Unlock()
	if stop != nil {
		close(stop)
		<-done
	}
}

func (p *FakePlayback) Close() {
	p.Stop()
	p.mu.Lock()
	p.closed = true
	p.src = nil
	p.mu.Unlock()
}

func isSilent(b []byte) bool {
	for _, v := range b {
		if v != 0 {
			return false
		}
	}
	return true
}
