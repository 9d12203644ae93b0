package audio

import (
	"fmt"
	"strings"
)

const WAVHeaderSize = 44

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// DataCallback receives interleaved little-endian PCM16 captured by the device.
type DataCallback func(data []byte, frameCount uint32)

// FillCallback must fill out completely with interleaved little-endian PCM16.
// It runs on the device's audio thread.
type FillCallback func(out []byte)

type StreamConfig struct {
	SampleRate uint32
	Channels   uint32
}

type Kind int

const (
	Capture Kind = iota
	Playback
)

func (k Kind) String() string {
	if k == Playback {
		return "output"
	}
	return "input"
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices(kind Kind) ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config StreamConfig) (CaptureDevice, error)
	NewPlayback(device *DeviceInfo, config StreamConfig) (PlaybackDevice, error)
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	// Config is the format delivered to the callback.
	Config() StreamConfig
	SetCallback(cb DataCallback)
	ClearCallback()
}

type PlaybackDevice interface {
	Start() error
	Stop()
	Close()
	// Config is the format the source must produce.
	Config() StreamConfig
	SetSource(src FillCallback)
	ClearSource()
}

func FindDevice(ctx Context, kind Kind, name string) (*DeviceInfo, error) {
	devices, err := ctx.Devices(kind)
	if err != nil {
		return nil, err
	}
	lower := strings.ToLower(name)
	for i := range devices {
		if strings.ToLower(devices[i].Name) == lower {
			return &devices[i], nil
		}
	}
	for i := range devices {
		if strings.Contains(strings.ToLower(devices[i].Name), lower) {
			return &devices[i], nil
		}
	}
	return nil, fmt.Errorf("no %s device matching %q", kind, name)
}
