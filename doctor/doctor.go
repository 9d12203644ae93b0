// Package doctor runs the -doctor diagnostics: credentials, audio devices and
// a live handshake with the endpoint.
package doctor

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"warmcall/audio"
	"warmcall/codec"
	"warmcall/live"
	"warmcall/playback"
	"warmcall/transport"
	"warmcall/tuning"
)

const (
	defaultListen  = 2 * time.Second
	defaultTimeout = 20 * time.Second
	toneDuration   = 400 * time.Millisecond

	// below this peak the microphone is probably muted in the OS mixer
	silentPeak = 0.001
)

var errSkipped = errors.New("skipped")

type Options struct {
	APIKey   string
	Endpoint string
	Model    string
	Out      io.Writer

	// Devices replaces the system audio context; Dialer replaces the
	// websocket dialer built from Endpoint and APIKey.
	Devices audio.Context
	Dialer  transport.Dialer

	Listen  time.Duration
	Timeout time.Duration
}

type checker struct {
	opts    Options
	devices audio.Context
}

// Run executes every check and returns an exit code (0=all pass, 1=any fail).
func Run(opts Options) int {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Listen <= 0 {
		opts.Listen = defaultListen
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	c := &checker{opts: opts, devices: opts.Devices}
	defer c.close()

	out := opts.Out
	fmt.Fprintln(out, "warmcall doctor - system diagnostics")
	fmt.Fprintln(out, "====================================")

	checks := []struct {
		name string
		run  func() (string, error)
	}{
		{"API key", c.checkKey},
		{"Audio system", c.checkAudio},
		{"Microphone", c.checkMicrophone},
		{"Speaker", c.checkSpeaker},
		{"Live endpoint", c.checkHandshake},
	}

	allPass := true
	for i, ch := range checks {
		fmt.Fprintf(out, "\n[%d/%d] %s\n", i+1, len(checks), ch.name)
		detail, err := ch.run()
		switch {
		case errors.Is(err, errSkipped):
			fmt.Fprintf(out, "  SKIP: %s\n", detail)
		case err != nil:
			allPass = false
			fmt.Fprintf(out, "  FAIL: %v\n", err)
		default:
			fmt.Fprintf(out, "  PASS: %s\n", detail)
		}
	}

	fmt.Fprintln(out)
	if allPass {
		fmt.Fprintln(out, "All checks passed!")
		return 0
	}
	fmt.Fprintln(out, "Some checks failed. See details above.")
	return 1
}

func (c *checker) close() {
	if c.devices != nil && c.opts.Devices == nil {
		c.devices.Close()
	}
}

func (c *checker) checkKey() (string, error) {
	key := c.opts.APIKey
	if key == "" {
		return "", fmt.Errorf("GEMINI_API_KEY is not set")
	}
	if strings.TrimSpace(key) != key {
		return "", fmt.Errorf("GEMINI_API_KEY has surrounding whitespace")
	}
	return fmt.Sprintf("key present (%d chars)", len(key)), nil
}

func (c *checker) checkAudio() (string, error) {
	if c.devices == nil {
		ctx, err := audio.NewContext()
		if err != nil {
			return "", fmt.Errorf("cannot connect to audio: %w", err)
		}
		c.devices = ctx
	}
	var counts []string
	for _, kind := range []audio.Kind{audio.Capture, audio.Playback} {
		devices, err := c.devices.Devices(kind)
		if err != nil {
			return "", fmt.Errorf("listing %s devices: %w", kind, err)
		}
		if len(devices) == 0 {
			return "", fmt.Errorf("no %s devices found", kind)
		}
		for _, d := range devices {
			if audio.IsBluetooth(d.Name) {
				fmt.Fprintf(c.opts.Out, "  note: %q is Bluetooth; call audio may degrade\n", d.Name)
			}
		}
		counts = append(counts, fmt.Sprintf("%d %s", len(devices), kind))
	}
	return strings.Join(counts, ", ") + " devices", nil
}

func (c *checker) checkMicrophone() (string, error) {
	if c.devices == nil {
		return "no audio system", errSkipped
	}
	dev, err := c.devices.NewCapture(nil, audio.StreamConfig{
		SampleRate: uint32(live.DefaultCapture.SampleRate),
		Channels:   uint32(live.DefaultCapture.Channels),
	})
	if err != nil {
		return "", fmt.Errorf("opening microphone: %w", err)
	}
	defer dev.Close()

	var mu sync.Mutex
	var frames uint64
	var peak float64
	dev.SetCallback(func(data []byte, frameCount uint32) {
		rms := codec.RMS(data)
		mu.Lock()
		frames += uint64(frameCount)
		peak = max(peak, rms)
		mu.Unlock()
	})
	if err := dev.Start(); err != nil {
		return "", fmt.Errorf("starting microphone: %w", err)
	}
	fmt.Fprintf(c.opts.Out, "  Listening for %v, say something...\n", c.opts.Listen)
	time.Sleep(c.opts.Listen)
	dev.Stop()
	dev.ClearCallback()

	mu.Lock()
	defer mu.Unlock()
	if frames == 0 {
		return "", fmt.Errorf("no audio captured")
	}
	if peak < silentPeak {
		fmt.Fprintln(c.opts.Out, "  warning: microphone is silent; check the OS mute switch")
	}
	return fmt.Sprintf("%d frames, peak level %.3f", frames, peak), nil
}

func (c *checker) checkSpeaker() (string, error) {
	if c.devices == nil {
		return "no audio system", errSkipped
	}
	dev, err := c.devices.NewPlayback(nil, audio.StreamConfig{
		SampleRate: uint32(live.DefaultPlayback.SampleRate),
		Channels:   uint32(live.DefaultPlayback.Channels),
	})
	if err != nil {
		return "", fmt.Errorf("opening speaker: %w", err)
	}
	defer dev.Close()

	cfg := dev.Config()
	pipe, err := playback.New(codec.Format{SampleRate: int(cfg.SampleRate), Channels: int(cfg.Channels)}, &tuning.Metrics{})
	if err != nil {
		return "", err
	}
	// the endpoint's own format exercises the same conversion as a call
	if !pipe.Enqueue(codec.Chunk{Data: tone(codec.OutputSampleRate, toneDuration), Format: codec.WireOutput}) {
		return "", fmt.Errorf("could not queue test tone")
	}
	dev.SetSource(pipe.Fill)
	if err := dev.Start(); err != nil {
		return "", fmt.Errorf("starting speaker: %w", err)
	}
	time.Sleep(toneDuration + 100*time.Millisecond)
	dev.Stop()
	dev.ClearSource()
	return fmt.Sprintf("played a %v test tone at %dHz %dch", toneDuration, cfg.SampleRate, cfg.Channels), nil
}

func (c *checker) checkHandshake() (string, error) {
	if c.opts.APIKey == "" && c.opts.Dialer == nil {
		return "no API key", errSkipped
	}
	if c.devices == nil {
		return "no audio system", errSkipped
	}
	dialer := c.opts.Dialer
	if dialer == nil {
		d, err := transport.NewGeminiDialer(c.opts.Endpoint, c.opts.APIKey)
		if err != nil {
			return "", err
		}
		dialer = d
	}

	engine := live.New(live.Config{Model: c.opts.Model, MaxReconnects: 1}, dialer, c.devices, tuning.NewStore(tuning.DefaultConfig()))
	defer engine.Close()
	engine.Configure("Say hello.", "")

	ctx, cancel := context.WithTimeout(context.Background(), c.opts.Timeout)
	defer cancel()
	start := time.Now()
	if err := engine.Connect(ctx); err != nil {
		return "", fmt.Errorf("connecting: %w", err)
	}
	opened := time.Since(start)

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		st := engine.State()
		switch st.Status {
		case live.Connected:
			ready := time.Since(start)
			if err := engine.Disconnect(ctx); err != nil {
				return "", err
			}
			return fmt.Sprintf("channel open in %dms, session ready in %dms", opened.Milliseconds(), ready.Milliseconds()), nil
		case live.Failed:
			return "", fmt.Errorf("handshake failed: %s", st.Reason)
		}
		select {
		case <-ticker.C:
		case <-ctx.Done():
			return "", fmt.Errorf("no setup confirmation within %v", c.opts.Timeout)
		}
	}
}

func tone(rate int, d time.Duration) []byte {
	n := int(float64(rate) * d.Seconds())
	buf := make([]byte, n*2)
	for i := range n {
		s := int16(0.3 * 32767 * math.Sin(2*math.Pi*440*float64(i)/float64(rate)))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}
