package codec

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"math"
	"mime"
	"strconv"
)

const (
	InputSampleRate  = 16000
	OutputSampleRate = 24000
	Channels         = 1
	BitsPerSample    = 16

	InputMIMEType = "audio/pcm;rate=16000"
)

// Format describes interleaved signed 16-bit little-endian PCM.
type Format struct {
	SampleRate int
	Channels   int
}

var (
	// WireInput is what the endpoint expects from the microphone.
	WireInput = Format{SampleRate: InputSampleRate, Channels: Channels}
	// WireOutput is what the endpoint streams back.
	WireOutput = Format{SampleRate: OutputSampleRate, Channels: Channels}
)

func (f Format) FrameBytes() int { return f.Channels * BitsPerSample / 8 }

func (f Format) Validate() error {
	if f.SampleRate <= 0 {
		return fmt.Errorf("invalid sample rate %d", f.SampleRate)
	}
	if f.Channels < 1 || f.Channels > 2 {
		return fmt.Errorf("unsupported channel count %d", f.Channels)
	}
	return nil
}

func (f Format) String() string {
	return fmt.Sprintf("PCM16 %dHz %dch", f.SampleRate, f.Channels)
}

// Duration returns the play time of n bytes in this format, in seconds.
func (f Format) Duration(n int) float64 {
	fb := f.FrameBytes()
	if fb == 0 || f.SampleRate == 0 {
		return 0
	}
	return float64(n/fb) / float64(f.SampleRate)
}

// Chunk is an immutable block of audio. Turn is zero for outbound audio.
type Chunk struct {
	Data   []byte
	Format Format
	Turn   uint64
}

// RMS returns the root-mean-square energy of a PCM16 frame normalized to [0,1].
// All channels are averaged together.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sumSquares float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(binary.LittleEndian.Uint16(pcm[i:]))
		normalized := float64(sample) / 32768.0
		sumSquares += normalized * normalized
	}
	return math.Sqrt(sumSquares / float64(n))
}

func Encode(pcm []byte) string {
	return base64.StdEncoding.EncodeToString(pcm)
}

func Decode(s string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("decoding audio payload: %w", err)
	}
	if len(data)%2 != 0 {
		return nil, fmt.Errorf("decoding audio payload: odd byte count %d", len(data))
	}
	return data, nil
}

// ParseMIME reads a raw PCM media type such as "audio/pcm;rate=24000". A
// missing rate means the endpoint's output rate.
func ParseMIME(mimeType string) (Format, bool) {
	mt, params, err := mime.ParseMediaType(mimeType)
	if err != nil || (mt != "audio/pcm" && mt != "audio/l16") {
		return Format{}, false
	}
	f := WireOutput
	if r, ok := params["rate"]; ok {
		rate, err := strconv.Atoi(r)
		if err != nil || rate <= 0 {
			return Format{}, false
		}
		f.SampleRate = rate
	}
	return f, true
}
