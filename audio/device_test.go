package audio

import (
	"bytes"
	"errors"
	"strings"
	"testing"
)

// keyReader returns one key per Read, like a raw terminal.
type keyReader struct{ keys []string }

func (r *keyReader) Read(p []byte) (int, error) {
	if len(r.keys) == 0 {
		return 0, errors.New("eof")
	}
	k := r.keys[0]
	r.keys = r.keys[1:]
	return copy(p, k), nil
}

func TestKeyAction(t *testing.T) {
	tests := []struct {
		in   string
		want pickAction
	}{
		{"\r", pickConfirm},
		{"\x03", pickCancel},
		{"q", pickCancel},
		{"j", pickDown},
		{"k", pickUp},
		{"\x1b[A", pickUp},
		{"\x1b[B", pickDown},
		{"\x1b[C", pickNone},
		{"x", pickNone},
	}
	for _, tt := range tests {
		if got := keyAction([]byte(tt.in)); got != tt.want {
			t.Errorf("keyAction(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func pickerDevices() []DeviceInfo {
	return []DeviceInfo{{ID: "a", Name: "Built-in Microphone"}, {ID: "b", Name: "AirPods Pro"}}
}

func TestPickerDefaultFirst(t *testing.T) {
	var out bytes.Buffer
	d, err := runPicker(&picker{kind: Capture, devices: pickerDevices()}, &keyReader{keys: []string{"\r"}}, &out)
	if err != nil {
		t.Fatal(err)
	}
	if d != nil {
		t.Errorf("got %+v, want system default", d)
	}
	if !strings.Contains(out.String(), "Select microphone") || !strings.Contains(out.String(), "headset profile") {
		t.Errorf("render:\n%q", out.String())
	}
}

func TestPickerMoveAndClamp(t *testing.T) {
	keys := []string{"\x1b[B", "j", "j", "j", "k", "\r"}
	d, err := runPicker(&picker{kind: Playback, devices: pickerDevices()}, &keyReader{keys: keys}, &bytes.Buffer{})
	if err != nil {
		t.Fatal(err)
	}
	if d == nil || d.ID != "a" {
		t.Errorf("got %+v, want device a", d)
	}
}

func TestPickerCancel(t *testing.T) {
	_, err := runPicker(&picker{devices: pickerDevices()}, &keyReader{keys: []string{"q"}}, &bytes.Buffer{})
	if !errors.Is(err, ErrSelectionCancelled) {
		t.Errorf("err = %v", err)
	}
}
