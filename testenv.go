package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"warmcall/audio"
	"warmcall/live"
	"warmcall/log"
)

var (
	connectTimeout = 20 * time.Second
	waitTimeout    = 60 * time.Second
	pollInterval   = 20 * time.Millisecond
)

var errQuit = errors.New("quit")

// scriptRunner drives a call from line commands instead of a terminal:
//
//	CONNECT | DISCONNECT | WAIT_CONNECTED | WAIT_TURN | WAIT_AUDIO_DONE
//	MUTE | UNMUTE | SAVE | RATE n | NOTE text | ECHO x | SLEEP ms | STATUS | QUIT
type scriptRunner struct {
	call  *call
	audio *audio.FakeContext
	out   io.Writer
	turns chan exchange
}

func newScriptRunner(c *call, fake *audio.FakeContext, out io.Writer) *scriptRunner {
	r := &scriptRunner{call: c, audio: fake, out: out, turns: make(chan exchange, 64)}
	c.notify(func(x exchange) {
		select {
		case r.turns <- x:
		default:
			log.Warn("test mode: turn buffer full")
		}
	})
	return r
}

// run executes commands until QUIT or end of input, then finishes the call.
func (r *scriptRunner) run(ctx context.Context, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if err := r.exec(ctx, line); err != nil {
			if errors.Is(err, errQuit) {
				break
			}
			fmt.Fprintf(r.out, "error: %s: %v\n", line, err)
			log.Errorf("test mode: %s: %v", line, err)
		}
		if ctx.Err() != nil {
			break
		}
	}

	finishCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if ferr := r.call.finish(finishCtx); ferr != nil {
		return ferr
	}
	return scanner.Err()
}

func (r *scriptRunner) exec(ctx context.Context, line string) error {
	cmd, arg, _ := strings.Cut(line, " ")
	arg = strings.TrimSpace(arg)
	switch strings.ToUpper(cmd) {
	case "CONNECT":
		cctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		if err := r.call.connect(cctx); err != nil {
			return err
		}
		fmt.Fprintln(r.out, "channel open")
	case "DISCONNECT":
		if err := r.call.engine.Disconnect(ctx); err != nil {
			return err
		}
		fmt.Fprintln(r.out, "disconnected")
	case "WAIT_CONNECTED":
		if err := r.waitFor(ctx, func(s live.State) bool { return s.Status == live.Connected }); err != nil {
			return err
		}
		fmt.Fprintln(r.out, "connected")
	case "WAIT_TURN":
		select {
		case x := <-r.turns:
			fmt.Fprintf(r.out, "turn: %q -> %q\n", x.Input, x.Output)
		case <-time.After(waitTimeout):
			return fmt.Errorf("no turn within %v", waitTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	case "WAIT_AUDIO_DONE":
		capDev := r.audio.LastCapture()
		if capDev == nil {
			return fmt.Errorf("no capture device open")
		}
		select {
		case <-capDev.AudioDone():
			fmt.Fprintln(r.out, "audio done")
		case <-time.After(waitTimeout):
			return fmt.Errorf("audio not done within %v", waitTimeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	case "MUTE":
		r.call.setMuted(true)
	case "UNMUTE":
		r.call.setMuted(false)
	case "SAVE":
		if err := r.call.saveTuning(); err != nil {
			return err
		}
		fmt.Fprintln(r.out, "tuning saved")
	case "RATE":
		n, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("bad rating %q", arg)
		}
		r.call.rate(n)
	case "NOTE":
		r.call.setNote(arg)
	case "ECHO":
		v, err := strconv.ParseFloat(arg, 64)
		if err != nil {
			return fmt.Errorf("bad threshold %q", arg)
		}
		r.call.store.SetEchoThreshold(v)
	case "SLEEP":
		ms, err := strconv.Atoi(arg)
		if err != nil {
			return fmt.Errorf("bad duration %q", arg)
		}
		select {
		case <-time.After(time.Duration(ms) * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	case "STATUS":
		st := r.call.status()
		fmt.Fprintf(r.out, "status: %s; %s\n", st.summary(), st.metricsLine())
	case "QUIT":
		return errQuit
	default:
		return fmt.Errorf("unknown command")
	}
	return nil
}

// waitFor polls the engine state until cond holds. Exhausted retries end the
// wait early.
func (r *scriptRunner) waitFor(ctx context.Context, cond func(live.State) bool) error {
	deadline := time.Now().Add(waitTimeout)
	for {
		s := r.call.engine.State()
		if cond(s) {
			return nil
		}
		if errors.Is(s.Err(), live.ErrRetriesExhausted) {
			return s.Err()
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("still %s after %v", s, waitTimeout)
		}
		select {
		case <-time.After(pollInterval):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
