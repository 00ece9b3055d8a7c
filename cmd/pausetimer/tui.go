package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/BYTE-6D65/pausetimer/pkg/config"
	"github.com/BYTE-6D65/pausetimer/pkg/histogram"
	"github.com/BYTE-6D65/pausetimer/pkg/telemetry"
	"github.com/BYTE-6D65/pausetimer/pkg/workload"
)

// Real time a demo run should take, whatever its virtual length
const demoWallTime = 6 * time.Second

// View states
type viewState int

const (
	viewMenu viewState = iota
	viewRunning
	viewResults
)

// Model holds the state of the TUI
type model struct {
	state     viewState
	cursor    int
	scenarios []workload.Scenario
	width     int
	height    int

	// Run
	scenario workload.Scenario
	cancel   context.CancelFunc
	progress *workload.Progress
	result   *workload.Result
	runErr   error

	// Animation
	spinnerFrame int
}

// Styles
var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#7D56F4")).
			PaddingLeft(2)

	menuItemStyle = lipgloss.NewStyle().
			PaddingLeft(4)

	selectedItemStyle = lipgloss.NewStyle().
				PaddingLeft(2).
				Foreground(lipgloss.Color("#7D56F4")).
				Bold(true)

	descriptionStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#626262")).
				PaddingLeft(6)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#626262")).
			PaddingTop(1).
			PaddingLeft(2)

	panelStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#7D56F4")).
			Padding(0, 2).
			MarginLeft(2)

	uncorrectedTitle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FFB800"))
	correctedTitle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#50FA7B"))

	errorMessageStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("#FF5555")).
				Foreground(lipgloss.Color("#FF5555")).
				Padding(0, 2).
				MarginTop(1).
				MarginLeft(2)

	successMessageStyle = lipgloss.NewStyle().
				Border(lipgloss.RoundedBorder()).
				BorderForeground(lipgloss.Color("#50FA7B")).
				Foreground(lipgloss.Color("#50FA7B")).
				Padding(0, 2).
				MarginTop(1).
				MarginLeft(2)
)

// Messages
type runCompleteMsg struct {
	result *workload.Result
	err    error
}

type runProgressMsg workload.Progress

type tickMsg struct{}

// Global program reference for sending progress updates
var globalProgram *tea.Program

func initialModel() model {
	return model{
		state:     viewMenu,
		scenarios: workload.Scenarios(),
	}
}

func (m model) Init() tea.Cmd {
	return nil
}

func tick() tea.Cmd {
	return tea.Tick(100*time.Millisecond, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKeyPress(msg)

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case runCompleteMsg:
		if m.cancel != nil {
			m.cancel()
			m.cancel = nil
		}
		m.result = msg.result
		m.runErr = msg.err
		m.state = viewResults
		return m, nil

	case runProgressMsg:
		p := workload.Progress(msg)
		m.progress = &p
		return m, nil

	case tickMsg:
		if m.state == viewRunning {
			m.spinnerFrame = (m.spinnerFrame + 1) % 10
			return m, tick()
		}
	}

	return m, nil
}

func (m model) handleKeyPress(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.state {
	case viewMenu:
		return m.handleMenuKeys(msg)
	case viewRunning:
		if msg.String() == "ctrl+c" || msg.String() == "esc" {
			if m.cancel != nil {
				m.cancel()
			}
		}
		return m, nil
	case viewResults:
		return m.handleResultsKeys(msg)
	}
	return m, nil
}

func (m model) handleMenuKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	// The last entry is Exit
	last := len(m.scenarios)

	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit

	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}

	case "down", "j":
		if m.cursor < last {
			m.cursor++
		}

	case "enter", " ":
		if m.cursor == last {
			return m, tea.Quit
		}

		ctx, cancel := context.WithCancel(context.Background())
		m.scenario = m.scenarios[m.cursor]
		m.cancel = cancel
		m.progress = nil
		m.result = nil
		m.runErr = nil
		m.state = viewRunning
		return m, tea.Batch(runScenario(ctx, m.scenario), tick())
	}
	return m, nil
}

func (m model) handleResultsKeys(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		return m, tea.Quit

	case "enter", " ", "esc":
		m.state = viewMenu
		m.result = nil
		m.runErr = nil
		m.progress = nil
	}
	return m, nil
}

func (m model) View() string {
	switch m.state {
	case viewMenu:
		return m.renderMenu()
	case viewRunning:
		return m.renderRunning()
	case viewResults:
		return m.renderResults()
	}
	return ""
}

func (m model) renderMenu() string {
	s := titleStyle.Render("⏱  Pausetimer Demo - Coordinated Omission") + "\n\n"

	for i, sc := range m.scenarios {
		s += m.renderChoice(i, sc.Name) + "\n"
		s += descriptionStyle.Render(sc.Description) + "\n"
	}
	s += m.renderChoice(len(m.scenarios), "Exit") + "\n"

	s += helpStyle.Render("\nUse ↑/↓ or j/k to navigate • Enter to select • q to quit")
	return s
}

func (m model) renderChoice(i int, label string) string {
	if m.cursor == i {
		return selectedItemStyle.Render("▶ " + label)
	}
	return menuItemStyle.Render("  " + label)
}

func (m model) renderRunning() string {
	s := titleStyle.Render(fmt.Sprintf("⚡ Running %s...", m.scenario.Name)) + "\n\n"
	s += "  " + m.spinner() + " Replaying requests in virtual time\n\n"

	p := m.progress
	if p == nil {
		s += "  Initializing...\n"
		s += helpStyle.Render("Esc to cancel")
		return s
	}

	percentage := float64(p.Requests) / float64(p.Total) * 100
	barWidth := 40
	filled := int(percentage / 100 * float64(barWidth))
	bar := "[" + strings.Repeat("█", filled) + strings.Repeat("░", barWidth-filled) + "]"

	s += fmt.Sprintf("  %s %.1f%%\n\n", bar, percentage)
	s += fmt.Sprintf("  Requests:   %d / %d\n", p.Requests, p.Total)
	s += fmt.Sprintf("  Virtual:    %v\n", p.Virtual.Round(time.Millisecond))
	s += fmt.Sprintf("  Stalls:     %d\n", p.Stalls)
	s += fmt.Sprintf("  Backfilled: %d\n\n", p.Backfilled)

	s += renderSideBySide(p.Uncorrected, p.Corrected) + "\n"
	s += helpStyle.Render("Esc to cancel")
	return s
}

func (m model) renderResults() string {
	if m.runErr != nil {
		return titleStyle.Render("❌ Run Failed") + "\n\n" +
			errorMessageStyle.Render(m.runErr.Error()) + "\n\n" +
			helpStyle.Render("Press Enter to go back")
	}
	if m.result == nil {
		return "No results available"
	}

	r := m.result
	header := titleStyle.Render("✅ Run Complete") + "\n"
	summary := successMessageStyle.Render(fmt.Sprintf(
		"%d requests over %v virtual (%v wall)\n%d stalls, %d pauses, %d samples backfilled",
		r.Requests, r.Virtual.Round(time.Millisecond), r.Wall.Round(time.Millisecond),
		r.Stalls, r.Pauses, r.Backfilled,
	))

	return header + summary + "\n\n" +
		renderSideBySide(r.Uncorrected, r.Corrected) +
		helpStyle.Render("\nPress Enter to pick another scenario • q to quit")
}

// renderSideBySide shows both snapshots next to each other.
func renderSideBySide(uncorrected, corrected histogram.Snapshot) string {
	left := panelStyle.Render(uncorrectedTitle.Render("uncorrected") + "\n" + renderSnapshot(uncorrected))
	right := panelStyle.Render(correctedTitle.Render("corrected") + "\n" + renderSnapshot(corrected))
	return lipgloss.JoinHorizontal(lipgloss.Top, left, right)
}

func renderSnapshot(s histogram.Snapshot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "count  %d\n", s.Count)
	fmt.Fprintf(&sb, "mean   %.3f%s\n", s.Mean(), s.Unit)
	fmt.Fprintf(&sb, "max    %.3f%s", s.Max, s.Unit)
	for _, p := range s.Percentiles {
		fmt.Fprintf(&sb, "\np%-5g %v", p.Percentile*100, time.Duration(p.Value))
	}
	return sb.String()
}

func (m model) spinner() string {
	frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
	return frames[m.spinnerFrame]
}

func runScenario(ctx context.Context, scenario workload.Scenario) tea.Cmd {
	return func() tea.Msg {
		cfg, err := config.LoadFromEnv()
		if err != nil {
			return runCompleteMsg{err: err}
		}

		total := int(scenario.Duration / scenario.Rate)
		scenario.Pace = demoWallTime / time.Duration(max(total, 1))

		result, err := workload.Run(ctx, scenario, workload.Options{
			Timer:         cfg.TimerOptions(),
			Metrics:       telemetry.Default(),
			ProgressEvery: max(total/100, 1),
			Progress: func(p workload.Progress) {
				// Send progress update to the global program
				if globalProgram != nil {
					globalProgram.Send(runProgressMsg(p))
				}
			},
		})

		return runCompleteMsg{result: result, err: err}
	}
}

func startTUI() error {
	m := initialModel()
	p := tea.NewProgram(m, tea.WithAltScreen())

	// Set the global program reference for progress updates
	globalProgram = p

	_, err := p.Run()
	return err
}
