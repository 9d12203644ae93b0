package main

import (
	"strings"
	"testing"
	"time"

	"warmcall/live"
	"warmcall/tuning"
)

func TestSummary(t *testing.T) {
	tests := []struct {
		name string
		st   status
		want string
	}{
		{"disconnected", status{State: live.State{Status: live.Disconnected}}, "disconnected"},
		{"listening", status{State: live.State{Status: live.Connected}, Turn: 2}, "connected | turn 2 | listening"},
		{"speaking muted", status{State: live.State{Status: live.Connected}, Turn: 3, Speaking: true, Muted: true}, "connected | turn 3 | speaking | muted"},
		{"failed", status{State: live.State{Status: live.Failed, Reason: "retries exhausted"}}, "error: retries exhausted"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.st.summary(); got != tt.want {
				t.Errorf("summary() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestMetricsAndTuningLines(t *testing.T) {
	st := status{
		Metrics: tuning.Snapshot{TurnCount: 4, InterruptCount: 1, DroppedAudioCount: 7, LastResponseLatencyMs: 420, AvgResponseLatencyMs: 380},
		Tuning:  tuning.DefaultConfig(),
	}
	if got := st.metricsLine(); got != "turns 4  interrupts 1  dropped 7  latency 420ms (avg 380ms)" {
		t.Errorf("metricsLine() = %q", got)
	}
	if got := st.tuningLine(); !strings.Contains(got, "echo 0.050") || !strings.Contains(got, "end HIGH") {
		t.Errorf("tuningLine() = %q", got)
	}
}

func TestLevelMeter(t *testing.T) {
	silent := levelMeter(0, 0.05, 20)
	if len(silent) != 20 || strings.Contains(silent, "#") {
		t.Errorf("silent meter = %q", silent)
	}
	full := levelMeter(1, 0.05, 20)
	if strings.Count(full, "#") != 19 || strings.Count(full, "|") != 1 {
		t.Errorf("full meter = %q", full)
	}
	// -30 dBFS sits half way
	half := levelMeter(0.0316, 1, 20)
	if n := strings.Count(half, "#"); n != 10 {
		t.Errorf("half meter has %d marks: %q", n, half)
	}
}

func TestFormatElapsed(t *testing.T) {
	if got := formatElapsed(83*time.Second + 400*time.Millisecond); got != "01:23" {
		t.Errorf("formatElapsed = %q", got)
	}
}

func TestWrapText(t *testing.T) {
	lines := wrapText("the quick brown fox jumps over the lazy dog", 10)
	for _, l := range lines {
		if len(l) > 10 {
			t.Errorf("line %q longer than 10", l)
		}
	}
	if strings.Join(lines, " ") != "the quick brown fox jumps over the lazy dog" {
		t.Errorf("wrap lost words: %q", lines)
	}
	if got := wrapText("", 10); len(got) != 1 || got[0] != "" {
		t.Errorf("empty wrap = %q", got)
	}
}
