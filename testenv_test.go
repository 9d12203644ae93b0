package main

import (
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"warmcall/audio"
	"warmcall/live"
	"warmcall/transport"
	"warmcall/tuning"
)

type testCall struct {
	call   *call
	dialer *transport.FakeDialer
	audio  *audio.FakeContext
	logDir string
}

func newTestCall(t *testing.T) *testCall {
	t.Helper()
	dir := t.TempDir()
	tone := make([]byte, 16000/5*2)
	for i := range len(tone) / 2 {
		s := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/16000))
		binary.LittleEndian.PutUint16(tone[i*2:], uint16(s))
	}
	fake := audio.NewFakeContextPCM(tone, audio.StreamConfig{SampleRate: 16000, Channels: 1}, false)
	d := transport.NewFakeDialer()
	store := tuning.NewStore(tuning.DefaultConfig())
	engine := live.New(live.Config{}, d, fake, store)
	t.Cleanup(engine.Close)
	engine.Configure(defaultPrompt, "")
	return &testCall{
		call:   newCall(engine, store, filepath.Join(dir, tuningFileName), dir),
		dialer: d,
		audio:  fake,
		logDir: dir,
	}
}

// serve completes the handshake on the next connection and then sends
// frames, one per element.
func (tc *testCall) serve(t *testing.T, frames ...string) {
	t.Helper()
	go func() {
		server := <-tc.dialer.Accepted
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := server.Recv(ctx); err != nil {
			return
		}
		server.Send(ctx, []byte(`{"setupComplete":{}}`))
		for _, f := range frames {
			server.Send(ctx, []byte(f))
		}
	}()
}

func runScript(t *testing.T, tc *testCall, script string) string {
	t.Helper()
	var out bytes.Buffer
	r := newScriptRunner(tc.call, tc.audio, &out)
	if err := r.run(context.Background(), strings.NewReader(script)); err != nil {
		t.Fatalf("run: %v\n%s", err, out.String())
	}
	return out.String()
}

func TestScriptConnectSaveRate(t *testing.T) {
	tc := newTestCall(t)
	tc.serve(t)

	out := runScript(t, tc, "CONNECT\nWAIT_CONNECTED\nECHO 0.2\nSAVE\nRATE 4\nNOTE felt slow\nSTATUS\nQUIT\n")
	for _, want := range []string{"channel open", "connected", "tuning saved", "status: connected | turn 0"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}

	cfg, err := tuning.Load(filepath.Join(tc.logDir, tuningFileName))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.EchoThreshold != 0.2 {
		t.Errorf("saved echo threshold = %v", cfg.EchoThreshold)
	}

	entries, err := tuning.LoadLogs(filepath.Join(tc.logDir, tuningLogFileName))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Rating != 4 || entries[0].Note != "felt slow" || entries[0].EnergyThreshold != 0.2 {
		t.Errorf("tuning log = %+v", entries)
	}
	if st := tc.call.engine.State(); st.Status != live.Disconnected {
		t.Errorf("state after quit = %v", st)
	}
}

func TestScriptWaitTurn(t *testing.T) {
	tc := newTestCall(t)
	tc.serve(t,
		`{"serverContent":{"inputTranscription":{"text":"hello"}}}`,
		`{"serverContent":{"outputTranscription":{"text":"hi, how was your day?"},"turnComplete":true}}`,
	)

	out := runScript(t, tc, "CONNECT\nWAIT_CONNECTED\nWAIT_TURN\nQUIT\n")
	if !strings.Contains(out, `turn: "hello" -> "hi, how was your day?"`) {
		t.Errorf("output:\n%s", out)
	}
	if x := tc.call.lastExchange(); x.Input != "hello" {
		t.Errorf("last exchange = %+v", x)
	}
}

func TestScriptAudioDoneAndMute(t *testing.T) {
	tc := newTestCall(t)
	tc.serve(t)

	out := runScript(t, tc, "CONNECT\nWAIT_CONNECTED\nWAIT_AUDIO_DONE\nMUTE\nSTATUS\nUNMUTE\nQUIT\n")
	if !strings.Contains(out, "audio done") || !strings.Contains(out, "| muted") {
		t.Errorf("output:\n%s", out)
	}
}

func TestScriptErrorsContinue(t *testing.T) {
	tc := newTestCall(t)
	out := runScript(t, tc, "# comment\nFROB\nRATE x\nWAIT_AUDIO_DONE\nSLEEP 1\nQUIT\nCONNECT\n")
	for _, want := range []string{"error: FROB: unknown command", `error: RATE x: bad rating "x"`, "no capture device open"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q\n%s", want, out)
		}
	}
	if tc.dialer.Dials() != 0 {
		t.Error("command after QUIT was run")
	}
	if _, err := os.Stat(filepath.Join(tc.logDir, tuningLogFileName)); !os.IsNotExist(err) {
		t.Error("call without turns or rating was logged")
	}
}

func TestScriptConnectFailure(t *testing.T) {
	tc := newTestCall(t)
	tc.dialer.FailNext(os.ErrPermission)
	out := runScript(t, tc, "CONNECT\nQUIT\n")
	if !strings.Contains(out, "error: CONNECT:") {
		t.Errorf("output:\n%s", out)
	}
}
