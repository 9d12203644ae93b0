package main

import (
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"warmcall/live"
	"warmcall/tuning"
)

type fakeController struct {
	st      status
	muted   bool
	echo    float64
	saveErr error
	saves   int
	reloads int
	rating  int
}

func newFakeController() *fakeController {
	return &fakeController{
		st:   status{State: live.State{Status: live.Connected}, Tuning: tuning.DefaultConfig()},
		echo: 0.05,
	}
}

func (f *fakeController) status() status {
	s := f.st
	s.Muted = f.muted
	s.Rating = f.rating
	s.Tuning.EchoThreshold = f.echo
	return s
}

func (f *fakeController) toggleMute() bool {
	f.muted = !f.muted
	return f.muted
}

func (f *fakeController) adjustEcho(delta float64) float64 {
	f.echo += delta
	return f.echo
}

func (f *fakeController) saveTuning() error {
	f.saves++
	return f.saveErr
}

func (f *fakeController) reloadMemory() error {
	f.reloads++
	return nil
}

func (f *fakeController) rate(n int) { f.rating = n }

func press(m tea.Model, key string) (tea.Model, tea.Cmd) {
	var msg tea.KeyMsg
	switch key {
	case "ctrl+c":
		msg = tea.KeyMsg{Type: tea.KeyCtrlC}
	default:
		msg = tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(key)}
	}
	return m.Update(msg)
}

func TestMuteKey(t *testing.T) {
	ctl := newFakeController()
	m, _ := press(newTUIModel(ctl, ""), "m")
	if !ctl.muted {
		t.Fatal("m did not mute")
	}
	view := m.View()
	if !strings.Contains(view, "microphone muted") || !strings.Contains(view, "muted") {
		t.Errorf("view does not show mute:\n%s", view)
	}
	press(m, "m")
	if ctl.muted {
		t.Error("second m did not unmute")
	}
}

func TestSaveKey(t *testing.T) {
	ctl := newFakeController()
	m, _ := press(newTUIModel(ctl, ""), "s")
	if ctl.saves != 1 || !strings.Contains(m.View(), "tuning saved") {
		t.Errorf("saves = %d\n%s", ctl.saves, m.View())
	}

	ctl.saveErr = errors.New("read-only file system")
	m, _ = press(m, "s")
	if !strings.Contains(m.View(), "save failed: read-only file system") {
		t.Errorf("save error not shown:\n%s", m.View())
	}
}

func TestEchoKeys(t *testing.T) {
	ctl := newFakeController()
	var m tea.Model = newTUIModel(ctl, "")
	m, _ = press(m, "+")
	m, _ = press(m, "+")
	m, _ = press(m, "-")
	if ctl.echo < 0.059 || ctl.echo > 0.061 {
		t.Errorf("echo = %v, want 0.06", ctl.echo)
	}
	if !strings.Contains(m.View(), "echo threshold 0.060") {
		t.Errorf("view:\n%s", m.View())
	}
}

func TestRatingKeys(t *testing.T) {
	ctl := newFakeController()
	m, _ := press(newTUIModel(ctl, ""), "4")
	if ctl.rating != 4 {
		t.Errorf("rating = %d", ctl.rating)
	}
	if !strings.Contains(m.View(), "rating 4/5") {
		t.Errorf("view:\n%s", m.View())
	}
}

func TestReloadKey(t *testing.T) {
	ctl := newFakeController()
	press(newTUIModel(ctl, ""), "l")
	if ctl.reloads != 1 {
		t.Errorf("reloads = %d", ctl.reloads)
	}
}

func TestQuitKeys(t *testing.T) {
	for _, key := range []string{"q", "ctrl+c"} {
		m, cmd := press(newTUIModel(newFakeController(), ""), key)
		if cmd == nil {
			t.Fatalf("%s: no command", key)
		}
		if _, ok := cmd().(tea.QuitMsg); !ok {
			t.Errorf("%s: command is not quit", key)
		}
		if m.View() != "" {
			t.Errorf("%s: view not cleared", key)
		}
	}
}

func TestTickRefreshesStatus(t *testing.T) {
	ctl := newFakeController()
	var m tea.Model = newTUIModel(ctl, "mic: system default  speaker: system default")
	ctl.st.Turn = 7
	ctl.st.Input = "what's the weather"
	m, cmd := m.Update(tickMsg{})
	if cmd == nil {
		t.Error("tick did not schedule the next tick")
	}
	view := m.View()
	for _, want := range []string{"turn 7", "you:  what's the weather", "mic: system default"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q:\n%s", want, view)
		}
	}
}

func TestExchangeShownAfterTurn(t *testing.T) {
	ctl := newFakeController()
	var m tea.Model = newTUIModel(ctl, "")
	if !strings.Contains(m.View(), "No conversation yet") {
		t.Error("placeholder missing")
	}
	m, _ = m.Update(exchangeMsg{Input: "hi", Output: "hello there"})
	view := m.View()
	if !strings.Contains(view, "you:  hi") || !strings.Contains(view, "them: hello there") {
		t.Errorf("view:\n%s", view)
	}
}

func TestNoticeMsg(t *testing.T) {
	var m tea.Model = newTUIModel(newFakeController(), "")
	m, _ = m.Update(noticeMsg{text: "connect failed: boom", err: true})
	if !strings.Contains(m.View(), "connect failed: boom") {
		t.Errorf("view:\n%s", m.View())
	}
}
