// internal/tui/board.go
//
// The run board renders one pipeline run live. It follows The Elm
// Architecture bubbletea imposes: engine observer callbacks become
// messages, Update folds them into the model, View draws the board.
package tui

import (
	"fmt"
	"sort"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/legwork-ci/legwork/internal/engine"
	"github.com/legwork-ci/legwork/internal/stage"
	"github.com/legwork-ci/legwork/internal/trigger"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	legStyle     = lipgloss.NewStyle().Bold(true)
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50"))
	failStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	skipStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	runningStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#F7B801"))
	detailStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#A0AEC0"))
)

// Messages fed by the engine observer.
type legStartedMsg struct{ leg string }

type stageStartedMsg struct{ leg, stageName string }

type stageFinishedMsg struct {
	leg    string
	record engine.StageRecord
}

type legFinishedMsg struct{ result engine.LegResult }

type runFinishedMsg struct{ result engine.RunResult }

type runErrorMsg struct{ err error }

type legState struct {
	name     string
	running  string
	finished bool
	result   engine.LegResult
	stages   []engine.StageRecord
}

// Board is the bubbletea model for one run.
type Board struct {
	event    trigger.Event
	spinner  spinner.Model
	legs     map[string]*legState
	order    []string
	done     bool
	err      error
	runState engine.RunResult
}

// NewBoard builds a board for the given trigger.
func NewBoard(evt trigger.Event) Board {
	sp := spinner.New()
	sp.Spinner = spinner.Dot
	return Board{
		event:   evt,
		spinner: sp,
		legs:    map[string]*legState{},
	}
}

// Init starts the spinner tick loop.
func (b Board) Init() tea.Cmd {
	return b.spinner.Tick
}

// Update folds one message into the board.
func (b Board) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c":
			return b, tea.Quit
		}
		return b, nil
	case spinner.TickMsg:
		var cmd tea.Cmd
		b.spinner, cmd = b.spinner.Update(msg)
		return b, cmd
	case legStartedMsg:
		b.leg(msg.leg)
		return b, nil
	case stageStartedMsg:
		b.leg(msg.leg).running = msg.stageName
		return b, nil
	case stageFinishedMsg:
		state := b.leg(msg.leg)
		state.running = ""
		state.stages = append(state.stages, msg.record)
		return b, nil
	case legFinishedMsg:
		state := b.leg(msg.result.Leg)
		state.finished = true
		state.result = msg.result
		return b, nil
	case runFinishedMsg:
		b.done = true
		b.runState = msg.result
		return b, tea.Quit
	case runErrorMsg:
		b.done = true
		b.err = msg.err
		return b, tea.Quit
	}
	return b, nil
}

func (b *Board) leg(name string) *legState {
	if state, ok := b.legs[name]; ok {
		return state
	}
	state := &legState{name: name}
	b.legs[name] = state
	b.order = append(b.order, name)
	sort.Strings(b.order)
	return state
}

// View renders the board.
func (b Board) View() string {
	var out strings.Builder
	out.WriteString(titleStyle.Render("legwork · "+b.event.Describe()) + "\n\n")
	for _, name := range b.order {
		state := b.legs[name]
		out.WriteString(legStyle.Render(name))
		if state.finished {
			out.WriteString("  " + statusLabel(string(state.result.Status)))
		} else if state.running != "" {
			out.WriteString("  " + runningStyle.Render(b.spinner.View()+state.running))
		}
		out.WriteString("\n")
		for _, record := range state.stages {
			out.WriteString(fmt.Sprintf("  %s %s", stageGlyph(record.Status), record.Name))
			if record.Message != "" {
				out.WriteString(detailStyle.Render("  " + record.Message))
			}
			out.WriteString("\n")
		}
		if state.finished && state.result.Reason != "" {
			out.WriteString(failStyle.Render("  ✗ "+state.result.Reason) + "\n")
		}
		out.WriteString("\n")
	}
	switch {
	case b.err != nil:
		out.WriteString(failStyle.Render("run error: "+b.err.Error()) + "\n")
	case b.done:
		out.WriteString("run " + statusLabel(string(b.runState.Status)) + "\n")
	default:
		out.WriteString(detailStyle.Render("q to quit") + "\n")
	}
	return out.String()
}

func statusLabel(status string) string {
	switch status {
	case string(engine.StatusPassed):
		return okStyle.Render("passed")
	case string(engine.StatusFailed):
		return failStyle.Render("failed")
	default:
		return detailStyle.Render(status)
	}
}

func stageGlyph(status stage.Status) string {
	switch status {
	case stage.StatusOK:
		return okStyle.Render("✓")
	case stage.StatusFailed:
		return failStyle.Render("✗")
	case stage.StatusSkipped:
		return skipStyle.Render("‐")
	default:
		return " "
	}
}
