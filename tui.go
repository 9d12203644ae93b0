package main

import (
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"warmcall/live"
)

// controller is the part of a call the TUI drives.
type controller interface {
	status() status
	toggleMute() bool
	adjustEcho(delta float64) float64
	saveTuning() error
	reloadMemory() error
	rate(n int)
}

type tickMsg time.Time
type exchangeMsg exchange
type noticeMsg struct {
	text string
	err  bool
}

const refreshInterval = 100 * time.Millisecond

var (
	titleStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("212"))
	dimStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
	helpStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("239"))
	keyStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("239")).Bold(true)
	userStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("4"))
	modelStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	warnStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("208"))
	errorStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	meterStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	gatedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("236"))
	stateStyles = map[live.Status]lipgloss.Style{
		live.Disconnected: dimStyle,
		live.Connecting:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		live.Connected:    lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true),
		live.Failed:       errorStyle,
	}
)

type tuiModel struct {
	ctl      controller
	device   string
	st       status
	last     exchange
	notice   noticeMsg
	width    int
	quitting bool
}

func newTUIModel(ctl controller, deviceLine string) tuiModel {
	return tuiModel{ctl: ctl, device: deviceLine, st: ctl.status()}
}

func newTUIProgram(ctl controller, deviceLine string) *tea.Program {
	return tea.NewProgram(newTUIModel(ctl, deviceLine), tea.WithAltScreen())
}

func tuiTick() tea.Cmd {
	return tea.Tick(refreshInterval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

func (m tuiModel) Init() tea.Cmd {
	return tuiTick()
}

func (m tuiModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width

	case tea.KeyMsg:
		return m.handleKey(msg.String())

	case tickMsg:
		m.st = m.ctl.status()
		return m, tuiTick()

	case exchangeMsg:
		m.last = exchange(msg)

	case noticeMsg:
		m.notice = msg
	}
	return m, nil
}

func (m tuiModel) handleKey(key string) (tea.Model, tea.Cmd) {
	switch key {
	case "q", "ctrl+c":
		m.quitting = true
		return m, tea.Quit
	case "m":
		if m.ctl.toggleMute() {
			m.notice = noticeMsg{text: "microphone muted"}
		} else {
			m.notice = noticeMsg{text: "microphone on"}
		}
	case "s":
		if err := m.ctl.saveTuning(); err != nil {
			m.notice = noticeMsg{text: "save failed: " + err.Error(), err: true}
		} else {
			m.notice = noticeMsg{text: "tuning saved"}
		}
	case "l":
		if err := m.ctl.reloadMemory(); err != nil {
			m.notice = noticeMsg{text: "memory reload failed: " + err.Error(), err: true}
		} else {
			m.notice = noticeMsg{text: "memory reloaded, applies on the next connection"}
		}
	case "+", "=":
		m.notice = noticeMsg{text: fmt.Sprintf("echo threshold %.3f", m.ctl.adjustEcho(echoStep))}
	case "-":
		m.notice = noticeMsg{text: fmt.Sprintf("echo threshold %.3f", m.ctl.adjustEcho(-echoStep))}
	case "0", "1", "2", "3", "4", "5":
		n := int(key[0] - '0')
		m.ctl.rate(n)
		m.notice = noticeMsg{text: fmt.Sprintf("call rated %d/5", n)}
	}
	m.st = m.ctl.status()
	return m, nil
}

func (m tuiModel) View() string {
	if m.quitting {
		return ""
	}
	width := m.width
	if width <= 0 {
		width = 80
	}
	st := m.st

	var lines []string
	stateStyle, ok := stateStyles[st.State.Status]
	if !ok {
		stateStyle = dimStyle
	}
	lines = append(lines,
		titleStyle.Render("warmcall")+"  "+stateStyle.Render(st.summary())+"  "+dimStyle.Render(formatElapsed(st.Elapsed)))

	meter := levelMeter(st.Metrics.LastRMS, st.Tuning.EchoThreshold, meterWidth)
	micLine := "mic " + meterStyle.Render(meter)
	switch {
	case st.Muted:
		micLine = "mic " + gatedStyle.Render(meter) + warnStyle.Render(" muted")
	case st.Metrics.Gated:
		micLine = "mic " + gatedStyle.Render(meter) + dimStyle.Render(" echo gate")
	}
	lines = append(lines, micLine)
	if m.device != "" {
		lines = append(lines, dimStyle.Render(m.device))
	}
	lines = append(lines, dimStyle.Render(st.metricsLine()), dimStyle.Render(st.tuningLine()), "")

	wrap := max(width-8, 20)
	if st.Input != "" || st.Output != "" {
		lines = append(lines, renderExchange(exchange{Input: st.Input, Output: st.Output}, wrap)...)
	} else if m.last.Input != "" || m.last.Output != "" {
		lines = append(lines, renderExchange(m.last, wrap)...)
	} else {
		lines = append(lines, dimStyle.Render("No conversation yet"))
	}
	lines = append(lines, "")

	if m.notice.text != "" {
		if m.notice.err {
			lines = append(lines, errorStyle.Render(m.notice.text))
		} else {
			lines = append(lines, warnStyle.Render(m.notice.text))
		}
	}
	if st.Rating > 0 {
		lines = append(lines, dimStyle.Render(fmt.Sprintf("rating %d/5", st.Rating)))
	}
	lines = append(lines, helpLine(), helpStyle.Render("warmcall "+version))
	return strings.Join(lines, "\n")
}

func renderExchange(x exchange, width int) []string {
	var out []string
	if x.Input != "" {
		for i, l := range wrapText(x.Input, width) {
			prefix := "      "
			if i == 0 {
				prefix = "you:  "
			}
			out = append(out, userStyle.Render(prefix+l))
		}
	}
	if x.Output != "" {
		for i, l := range wrapText(x.Output, width) {
			prefix := "      "
			if i == 0 {
				prefix = "them: "
			}
			out = append(out, modelStyle.Render(prefix+l))
		}
	}
	return out
}

func helpLine() string {
	keys := []struct{ key, what string }{
		{"m", "mute"},
		{"+/-", "echo"},
		{"s", "save"},
		{"l", "memory"},
		{"1-5", "rate"},
		{"q", "hang up"},
	}
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = keyStyle.Render(k.key) + helpStyle.Render(" "+k.what)
	}
	return strings.Join(parts, helpStyle.Render("  "))
}
