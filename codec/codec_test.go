package codec

import (
	"encoding/binary"
	"math"
	"testing"
)

func genTone(rate int, freq float64, durationMs int, amp float64) []byte {
	n := rate * durationMs / 1000
	buf := make([]byte, n*2)
	for i := 0; i < n; i++ {
		sample := int16(amp * 32767 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(sample))
	}
	return buf
}

func TestRMSSilence(t *testing.T) {
	if got := RMS(make([]byte, 640)); got != 0 {
		t.Errorf("RMS(silence) = %v, want 0", got)
	}
	if got := RMS(nil); got != 0 {
		t.Errorf("RMS(nil) = %v, want 0", got)
	}
}

func TestRMSSine(t *testing.T) {
	// RMS of a sine is amplitude/sqrt(2)
	got := RMS(genTone(16000, 440, 100, 0.5))
	want := 0.5 / math.Sqrt2
	if math.Abs(got-want) > 0.01 {
		t.Errorf("RMS = %.4f, want ~%.4f", got, want)
	}
}

func TestRMSOddLength(t *testing.T) {
	pcm := []byte{0xff, 0x7f, 0x01}
	if got := RMS(pcm); got < 0.99 {
		t.Errorf("RMS = %v, trailing byte should be ignored", got)
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	if _, err := Decode("not base64!!"); err == nil {
		t.Error("expected error for invalid base64")
	}
	if _, err := Decode(Encode([]byte{1, 2, 3})); err == nil {
		t.Error("expected error for odd byte count")
	}
	data, err := Decode(Encode([]byte{1, 2, 3, 4}))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(data) != 4 {
		t.Errorf("len = %d, want 4", len(data))
	}
}

func TestFormatValidate(t *testing.T) {
	for _, tt := range []struct {
		f  Format
		ok bool
	}{
		{WireInput, true},
		{WireOutput, true},
		{Format{SampleRate: 48000, Channels: 2}, true},
		{Format{SampleRate: 0, Channels: 1}, false},
		{Format{SampleRate: 16000, Channels: 3}, false},
	} {
		err := tt.f.Validate()
		if (err == nil) != tt.ok {
			t.Errorf("Validate(%+v) err = %v, want ok=%v", tt.f, err, tt.ok)
		}
	}
}

func TestFormatDuration(t *testing.T) {
	if got := WireOutput.Duration(48000); got != 1.0 {
		t.Errorf("Duration = %v, want 1.0", got)
	}
}

func TestConverterPassthrough(t *testing.T) {
	c, err := NewConverter(WireInput, WireInput)
	if err != nil {
		t.Fatal(err)
	}
	in := genTone(16000, 440, 20, 0.3)
	out, err := c.Convert(in)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != string(in) {
		t.Error("passthrough changed samples")
	}
	out[0] ^= 0xff
	if out[0] == in[0] {
		t.Error("passthrough must return a copy")
	}
}

func TestConverterStereoToMono(t *testing.T) {
	c, err := NewConverter(Format{SampleRate: 16000, Channels: 2}, WireInput)
	if err != nil {
		t.Fatal(err)
	}
	in := make([]byte, 8)
	binary.LittleEndian.PutUint16(in[0:], uint16(int16(1000)))
	binary.LittleEndian.PutUint16(in[2:], uint16(int16(3000)))
	binary.LittleEndian.PutUint16(in[4:], uint16(int16(-200)))
	binary.LittleEndian.PutUint16(in[6:], uint16(int16(-400)))

	out, err := c.Convert(in)
	if err != nil {
		t.Fatal(err)
	}
	if len(out) != 4 {
		t.Fatalf("len = %d, want 4", len(out))
	}
	if got := int16(binary.LittleEndian.Uint16(out[0:])); got != 2000 {
		t.Errorf("frame 0 = %d, want 2000", got)
	}
	if got := int16(binary.LittleEndian.Uint16(out[2:])); got != -300 {
		t.Errorf("frame 1 = %d, want -300", got)
	}
}

func TestConverterMonoToStereo(t *testing.T) {
	c, err := NewConverter(WireOutput, Format{SampleRate: OutputSampleRate, Channels: 2})
	if err != nil {
		t.Fatal(err)
	}
	in := []byte{0x10, 0x00, 0x20, 0x00}
	out, err := c.Convert(in)
	if err != nil {
		t.Fatal(err)
	}
	want := []byte{0x10, 0x00, 0x10, 0x00, 0x20, 0x00, 0x20, 0x00}
	if string(out) != string(want) {
		t.Errorf("got %v, want %v", out, want)
	}
}

func TestConverterMisaligned(t *testing.T) {
	c, err := NewConverter(Format{SampleRate: 48000, Channels: 2}, WireInput)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.Convert(make([]byte, 6)); err == nil {
		t.Error("expected error for misaligned stereo frame")
	}
}

func TestConverterResample(t *testing.T) {
	c, err := NewConverter(Format{SampleRate: 48000, Channels: 1}, WireInput)
	if err != nil {
		t.Fatal(err)
	}
	var total int
	for range 10 {
		out, err := c.Convert(genTone(48000, 440, 100, 0.5))
		if err != nil {
			t.Fatalf("Convert: %v", err)
		}
		total += len(out)
	}
	want := 16000 * 2 // one second at 16kHz mono
	if total < want/2 || total > want*11/10 {
		t.Errorf("resampled %d bytes, want about %d", total, want)
	}
}

func TestNewConverterInvalid(t *testing.T) {
	if _, err := NewConverter(Format{}, WireInput); err == nil {
		t.Error("expected error for zero source format")
	}
}

func TestParseMIME(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want Format
		ok   bool
	}{
		{"audio/pcm;rate=24000", Format{SampleRate: 24000, Channels: 1}, true},
		{"audio/pcm; rate=16000", Format{SampleRate: 16000, Channels: 1}, true},
		{"audio/pcm", WireOutput, true},
		{"audio/pcm;rate=abc", Format{}, false},
		{"image/png", Format{}, false},
		{"", Format{}, false},
	} {
		got, ok := ParseMIME(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ParseMIME(%q) = %v, %v; want %v, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
