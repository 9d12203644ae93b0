package main

import (
	"fmt"
	"math"
	"strings"
	"time"

	"warmcall/live"
)

const meterWidth = 20

// summary is the one-line status used by the headless mode and the TUI.
func (s status) summary() string {
	parts := []string{s.State.String()}
	if s.State.Status == live.Connected {
		parts = append(parts, fmt.Sprintf("turn %d", s.Turn))
		if s.Speaking {
			parts = append(parts, "speaking")
		} else {
			parts = append(parts, "listening")
		}
	}
	if s.Muted {
		parts = append(parts, "muted")
	}
	return strings.Join(parts, " | ")
}

func (s status) metricsLine() string {
	m := s.Metrics
	return fmt.Sprintf("turns %d  interrupts %d  dropped %d  latency %dms (avg %dms)",
		m.TurnCount, m.InterruptCount, m.DroppedAudioCount, m.LastResponseLatencyMs, m.AvgResponseLatencyMs)
}

func (s status) tuningLine() string {
	t := s.Tuning
	return fmt.Sprintf("echo %.3f  turn delay %dms  silence %dms  start %s  end %s",
		t.EchoThreshold, t.TurnCompleteDelayMs, t.SilenceDurationMs, t.StartSensitivity, t.EndSensitivity)
}

// levelMeter draws the microphone level on a log scale from -60 dBFS to 0,
// with the echo threshold marked.
func levelMeter(rms, threshold float64, width int) string {
	if width < 2 {
		width = 2
	}
	filled := int(math.Round(dbPosition(rms) * float64(width)))
	mark := min(int(dbPosition(threshold)*float64(width)), width-1)

	var b strings.Builder
	for i := range width {
		switch {
		case i == mark:
			b.WriteByte('|')
		case i < filled:
			b.WriteByte('#')
		default:
			b.WriteByte('.')
		}
	}
	return b.String()
}

func dbPosition(v float64) float64 {
	if v <= 0 {
		return 0
	}
	db := 20 * math.Log10(v)
	return min(max((db+60)/60, 0), 1)
}

func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%02d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func wrapText(text string, width int) []string {
	if len(text) == 0 {
		return []string{""}
	}
	if width <= 0 {
		width = 1
	}

	var lines []string
	for len(text) > width {
		splitAt := width
		for i := width; i > 0; i-- {
			if text[i] == ' ' {
				splitAt = i
				break
			}
		}
		lines = append(lines, text[:splitAt])
		text = strings.TrimLeft(text[splitAt:], " ")
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}
