package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"warmcall/live"
	"warmcall/log"
	"warmcall/tuning"
)

const (
	defaultPrompt = "You are a warm, attentive companion talking with the user on a phone call."

	tuningFileName    = "tuning.yaml"
	tuningLogFileName = "tuning_logs.jsonl"

	echoStep = 0.01
)

type exchange struct {
	Input, Output string
}

// status is what the display layers show about a call.
type status struct {
	State    live.State
	Turn     uint64
	Speaking bool
	Muted    bool
	Metrics  tuning.Snapshot
	Tuning   tuning.Config
	Input    string
	Output   string
	Elapsed  time.Duration
	Rating   int
}

// call ties one engine to the files and user actions around it.
type call struct {
	engine     *live.Engine
	store      *tuning.Store
	tuningPath string
	logPath    string
	memoryPath string
	started    time.Time

	mu         sync.Mutex
	rating     int
	note       string
	last       exchange
	onExchange func(exchange)
	finished   bool
}

func newCall(engine *live.Engine, store *tuning.Store, tuningPath, logDir string) *call {
	c := &call{
		engine:     engine,
		store:      store,
		tuningPath: tuningPath,
		logPath:    filepath.Join(logDir, tuningLogFileName),
		started:    time.Now(),
	}
	engine.OnTurn(c.turnDone)
	return c
}

// notify sets the function that receives every completed exchange.
func (c *call) notify(fn func(exchange)) {
	c.mu.Lock()
	c.onExchange = fn
	c.mu.Unlock()
}

func (c *call) turnDone(input, output string) {
	log.TurnText(input, output)
	x := exchange{Input: input, Output: output}
	c.mu.Lock()
	c.last = x
	fn := c.onExchange
	c.mu.Unlock()
	if fn != nil {
		fn(x)
	}
}

func (c *call) lastExchange() exchange {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *call) status() status {
	in, out := c.engine.Transcripts()
	c.mu.Lock()
	rating := c.rating
	c.mu.Unlock()
	return status{
		State:    c.engine.State(),
		Turn:     c.engine.TurnID(),
		Speaking: c.engine.ModelSpeaking(),
		Muted:    c.engine.MicMuted(),
		Metrics:  c.store.Metrics().Snapshot(),
		Tuning:   c.store.Config(),
		Input:    in,
		Output:   out,
		Elapsed:  time.Since(c.started),
		Rating:   rating,
	}
}

func (c *call) connect(ctx context.Context) error {
	return c.engine.Connect(ctx)
}

func (c *call) toggleMute() bool {
	muted := !c.engine.MicMuted()
	c.engine.SetMicMuted(muted)
	return muted
}

func (c *call) setMuted(muted bool) { c.engine.SetMicMuted(muted) }

func (c *call) adjustEcho(delta float64) float64 {
	c.store.SetEchoThreshold(c.store.EchoThreshold() + delta)
	return c.store.EchoThreshold()
}

func (c *call) saveTuning() error {
	if c.tuningPath == "" {
		return fmt.Errorf("no tuning file configured")
	}
	if err := tuning.Save(c.tuningPath, c.store.Config()); err != nil {
		return err
	}
	log.Infof("tuning saved to %s", c.tuningPath)
	return nil
}

func (c *call) rate(n int) {
	c.mu.Lock()
	c.rating = min(max(n, 0), 5)
	c.mu.Unlock()
}

func (c *call) setNote(note string) {
	c.mu.Lock()
	c.note = note
	c.mu.Unlock()
}

// reloadMemory rereads the memory file. The new context is sent with the
// next handshake.
func (c *call) reloadMemory() error {
	if c.memoryPath == "" {
		return fmt.Errorf("no memory file configured")
	}
	memory, err := readText(c.memoryPath)
	if err != nil {
		return err
	}
	c.engine.UpdateMemoryContext(memory)
	return nil
}

// finish records the call in the tuning log and disconnects. Metrics are
// read before Disconnect resets them. Calls without turns or a rating are
// not recorded.
func (c *call) finish(ctx context.Context) error {
	c.mu.Lock()
	if c.finished {
		c.mu.Unlock()
		return nil
	}
	c.finished = true
	rating, note := c.rating, c.note
	c.mu.Unlock()

	snap := c.store.Metrics().Snapshot()
	var logErr error
	if snap.TurnCount > 0 || rating > 0 {
		entry := tuning.NewLogEntry(c.store.Config(), snap, time.Since(c.started), rating, note)
		if logErr = tuning.AppendLog(c.logPath, entry); logErr != nil {
			log.Errorf("tuning log: %v", logErr)
		} else {
			log.Infof("tuning log entry %s written", entry.ID)
		}
	}
	if err := c.engine.Disconnect(ctx); err != nil {
		return err
	}
	return logErr
}

// readText returns the trimmed content of path, or "" for an empty path.
func readText(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", path, err)
	}
	return strings.TrimSpace(string(data)), nil
}
