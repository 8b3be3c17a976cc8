package tui

import (
	"context"
	"sync/atomic"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kingrea/buckling-automation/internal/automation"
	"github.com/kingrea/buckling-automation/internal/runs"
)

// BatchRunner executes a batch. *runs.Manager implements it.
type BatchRunner interface {
	Run(ctx context.Context, req runs.Request) (runs.Report, error)
}

type batchStatusMsg struct {
	message string
}

type batchResultMsg struct {
	index  int
	result automation.ResultRow
}

type batchFinishedMsg struct {
	report runs.Report
	err    error
}

// batch is one run in flight. Its goroutine reports through events in the
// order the orchestrator produced them and closes the channel when done.
type batch struct {
	rows   []automation.InputRow
	events chan tea.Msg
	stop   atomic.Bool
}

func startBatch(ctx context.Context, runner BatchRunner, rows []automation.InputRow) *batch {
	b := &batch{
		rows:   rows,
		events: make(chan tea.Msg, 64),
	}
	send := func(msg tea.Msg) {
		select {
		case b.events <- msg:
		case <-ctx.Done():
		}
	}
	observer := automation.ObserverFuncs{
		OnStatus: func(message string) { send(batchStatusMsg{message: message}) },
		OnResult: func(index int, _ automation.InputRow, result automation.ResultRow) {
			send(batchResultMsg{index: index, result: result})
		},
	}
	go func() {
		defer close(b.events)
		report, err := runner.Run(ctx, runs.Request{
			Rows:      rows,
			Source:    "tui",
			Observer:  observer,
			StopCheck: b.stop.Load,
		})
		send(batchFinishedMsg{report: report, err: err})
	}()
	return b
}

// requestStop asks the batch to end before its next row.
func (b *batch) requestStop() {
	b.stop.Store(true)
}

// waitForEvent delivers the next batch event to Update.
func (b *batch) waitForEvent() tea.Cmd {
	events := b.events
	return func() tea.Msg {
		msg, ok := <-events
		if !ok {
			return nil
		}
		return msg
	}
}
