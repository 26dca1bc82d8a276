package tui

import (
	tea "github.com/charmbracelet/bubbletea"

	"github.com/legwork-ci/legwork/internal/engine"
)

// Sender is the slice of *tea.Program the observer needs; tests swap in a
// recorder.
type Sender interface {
	Send(msg tea.Msg)
}

// Observer forwards engine progress into the board as bubbletea messages.
// Engine callbacks arrive from leg goroutines; Program.Send is safe for that.
type Observer struct {
	program Sender
}

// NewObserver wires an observer to a running program.
func NewObserver(program Sender) *Observer {
	return &Observer{program: program}
}

func (o *Observer) LegStarted(leg string) {
	o.program.Send(legStartedMsg{leg: leg})
}

func (o *Observer) StageStarted(leg, stageName string) {
	o.program.Send(stageStartedMsg{leg: leg, stageName: stageName})
}

func (o *Observer) StageFinished(leg string, record engine.StageRecord) {
	o.program.Send(stageFinishedMsg{leg: leg, record: record})
}

func (o *Observer) LegFinished(result engine.LegResult) {
	o.program.Send(legFinishedMsg{result: result})
}

// RunFinished closes the board once the engine returns.
func (o *Observer) RunFinished(result engine.RunResult) {
	o.program.Send(runFinishedMsg{result: result})
}

// RunFailed closes the board on a setup error.
func (o *Observer) RunFailed(err error) {
	o.program.Send(runErrorMsg{err: err})
}
