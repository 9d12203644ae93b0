package live

import (
	"strings"
	"sync"
)

// transcript accumulates both sides of the current exchange. It is written
// by the engine loop and read by observers.
type transcript struct {
	mu     sync.Mutex
	input  strings.Builder
	output strings.Builder
}

func (t *transcript) appendInput(s string) {
	t.mu.Lock()
	t.input.WriteString(s)
	t.mu.Unlock()
}

func (t *transcript) appendOutput(s string) {
	t.mu.Lock()
	t.output.WriteString(s)
	t.mu.Unlock()
}

func (t *transcript) snapshot() (input, output string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.input.String(), t.output.String()
}

// take returns the accumulated exchange and clears it.
func (t *transcript) take() (input, output string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	input, output = t.input.String(), t.output.String()
	t.input.Reset()
	t.output.Reset()
	return input, output
}

func (t *transcript) reset() {
	t.mu.Lock()
	t.input.Reset()
	t.output.Reset()
	t.mu.Unlock()
}
