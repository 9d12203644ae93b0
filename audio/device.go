package audio

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// ErrSelectionCancelled is returned when the user leaves the picker with
// Ctrl+C or q.
var ErrSelectionCancelled = errors.New("device selection cancelled")

type pickAction int

const (
	pickNone pickAction = iota
	pickUp
	pickDown
	pickConfirm
	pickCancel
)

// keyAction maps one read from a raw terminal to a picker action.
func keyAction(b []byte) pickAction {
	switch {
	case len(b) == 1:
		switch b[0] {
		case '\r', '\n':
			return pickConfirm
		case 3, 'q':
			return pickCancel
		case 'k':
			return pickUp
		case 'j':
			return pickDown
		}
	case len(b) == 3 && b[0] == 0x1b && b[1] == '[':
		switch b[2] {
		case 'A':
			return pickUp
		case 'B':
			return pickDown
		}
	}
	return pickNone
}

// picker is the list state. Entry 0 is the system default.
type picker struct {
	kind    Kind
	devices []DeviceInfo
	cursor  int
}

func (p *picker) apply(a pickAction) {
	switch a {
	case pickUp:
		if p.cursor > 0 {
			p.cursor--
		}
	case pickDown:
		if p.cursor < len(p.devices) {
			p.cursor++
		}
	}
}

// selected returns nil for the system default.
func (p *picker) selected() *DeviceInfo {
	if p.cursor == 0 {
		return nil
	}
	return &p.devices[p.cursor-1]
}

func (p *picker) lines() int { return len(p.devices) + 3 }

func (p *picker) render(w io.Writer) {
	var b strings.Builder
	b.WriteString("\r\x1b[J")
	fmt.Fprintf(&b, "Select %s for the call (↑/↓, Enter to confirm, q to cancel):\r\n\r\n", deviceNoun(p.kind))
	for i := 0; i <= len(p.devices); i++ {
		name := "System default"
		if i > 0 {
			d := p.devices[i-1]
			name = d.Name
			if IsBluetooth(d.Name) {
				name += " \x1b[33m[headset profile, call audio degrades]\x1b[0m"
			}
		}
		if i == p.cursor {
			fmt.Fprintf(&b, "  \x1b[1;36m▶ %s\x1b[0m\r\n", name)
		} else {
			fmt.Fprintf(&b, "    %s\r\n", name)
		}
	}
	io.WriteString(w, b.String())
}

func deviceNoun(k Kind) string {
	if k == Playback {
		return "speaker"
	}
	return "microphone"
}

// SelectDevice lets the user pick a device on the terminal. A nil device
// with a nil error means the system default.
func SelectDevice(ctx Context, k Kind) (*DeviceInfo, error) {
	devices, err := ctx.Devices(k)
	if err != nil {
		return nil, fmt.Errorf("enumerating devices: %w", err)
	}
	if len(devices) == 0 {
		return nil, fmt.Errorf("no %s devices found", deviceNoun(k))
	}

	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return nil, fmt.Errorf("-setup needs an interactive terminal")
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, fmt.Errorf("setting raw mode: %w", err)
	}
	defer term.Restore(fd, oldState)

	return runPicker(&picker{kind: k, devices: devices}, os.Stdin, os.Stdout)
}

func runPicker(p *picker, in io.Reader, out io.Writer) (*DeviceInfo, error) {
	p.render(out)
	buf := make([]byte, 3)
	for {
		n, err := in.Read(buf)
		if err != nil {
			return nil, fmt.Errorf("reading input: %w", err)
		}
		switch a := keyAction(buf[:n]); a {
		case pickConfirm:
			io.WriteString(out, "\r\n")
			return p.selected(), nil
		case pickCancel:
			io.WriteString(out, "\r\n")
			return nil, ErrSelectionCancelled
		default:
			p.apply(a)
		}
		fmt.Fprintf(out, "\x1b[%dA", p.lines())
		p.render(out)
	}
}
