// internal/tui/app.go
//
// This is the main TUI (Terminal User Interface) for buckling automation.
// It uses bubbletea, which follows The Elm Architecture:
//
// 1. Model: the input rows, results and batch state
// 2. Update: a function that updates state based on messages
// 3. View: a function that renders state to a string
//
// Batches run on their own goroutine; their status and result events come
// back into Update as messages, one at a time and in order.

package tui

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/table"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/kingrea/buckling-automation/internal/automation"
	"github.com/kingrea/buckling-automation/internal/config"
	"github.com/kingrea/buckling-automation/internal/history"
	"github.com/kingrea/buckling-automation/internal/logbook"
	"github.com/kingrea/buckling-automation/internal/tabular"
)

const (
	logRefreshInterval = time.Second
	logPanelLines      = 8
	exportTimeLayout   = "20060102-150405"
)

// pane is the table that has keyboard focus.
type pane int

const (
	paneInputs pane = iota
	paneResults
)

// column indexes of the input table.
const (
	colDepth = iota
	colSurfaceWeight
)

// AppOption customizes App construction for tests and alternate runtimes.
type AppOption func(*App)

// WithClipboard overrides the system clipboard.
func WithClipboard(cb tabular.Clipboard) AppOption {
	return func(a *App) {
		if cb != nil {
			a.clipboard = cb
		}
	}
}

// WithLogbook shows the tail of book under the tables.
func WithLogbook(book *logbook.Logbook) AppOption {
	return func(a *App) {
		a.logbook = book
	}
}

// WithRows preloads the input table.
func WithRows(rows []automation.InputRow) AppOption {
	return func(a *App) {
		a.rows = append([]automation.InputRow(nil), rows...)
	}
}

// WithClock allows tests to control export file names.
func WithClock(clock func() time.Time) AppOption {
	return func(a *App) {
		if clock != nil {
			a.clock = clock
		}
	}
}

type logRefreshMsg struct{}

// App is the main application model. In bubbletea, this holds ALL your state.
type App struct {
	config    *config.Config
	runner    BatchRunner
	logbook   *logbook.Logbook
	clipboard tabular.Clipboard
	clock     func() time.Time

	ctx    context.Context
	cancel context.CancelFunc

	rows    []automation.InputRow
	results []automation.ResultRow
	// resultRows are the inputs the current results belong to.
	resultRows []automation.InputRow

	inputs      table.Model
	output      table.Model
	editor      textinput.Model
	focus       pane
	editing     bool
	editRow     int
	editCol     int
	active      *batch
	stopping    bool
	statusMsg   string
	lastRunID   string
	lastOutcome history.Status

	width  int
	height int
}

// NewApp creates the TUI around runner. cfg supplies the export directory
// and driver name shown in the header.
func NewApp(cfg *config.Config, runner BatchRunner, opts ...AppOption) *App {
	ctx, cancel := context.WithCancel(context.Background())
	editor := textinput.New()
	editor.Prompt = "› "
	editor.CharLimit = 32

	a := &App{
		config:    cfg,
		runner:    runner,
		clipboard: tabular.SystemClipboard{},
		clock:     time.Now,
		ctx:       ctx,
		cancel:    cancel,
		inputs:    newTable(inputColumns(), true),
		output:    newTable(resultColumns(), false),
		editor:    editor,
		statusMsg: "Ready",
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	a.refreshInputs()
	a.refreshResults()
	a.logInfo("Session opened · driver: %s", a.driverName())
	return a
}

func newTable(columns []table.Column, focused bool) table.Model {
	t := table.New(
		table.WithColumns(columns),
		table.WithFocused(focused),
		table.WithHeight(12),
	)
	styles := table.DefaultStyles()
	styles.Header = styles.Header.
		BorderStyle(lipgloss.NormalBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		BorderBottom(true).
		Bold(true)
	styles.Selected = styles.Selected.
		Foreground(lipgloss.Color("#FFFFFF")).
		Background(lipgloss.Color("#5B8DEF")).
		Bold(false)
	t.SetStyles(styles)
	return t
}

func inputColumns() []table.Column {
	return []table.Column{
		{Title: "#", Width: 4},
		{Title: tabular.HeaderDepth, Width: 14},
		{Title: tabular.HeaderSurfaceWeight, Width: 22},
	}
}

func resultColumns() []table.Column {
	return []table.Column{
		{Title: "#", Width: 4},
		{Title: tabular.HeaderDepth, Width: 12},
		{Title: tabular.HeaderSurfaceWeight, Width: 22},
		{Title: tabular.HeaderResult, Width: 14},
	}
}

func (a *App) driverName() string {
	if a.config == nil || a.config.Project.Surface.Driver == "" {
		return "unknown"
	}
	return a.config.Project.Surface.Driver
}

func (a *App) logInfo(format string, args ...any) {
	if a.logbook == nil {
		return
	}
	a.logbook.Info(format, args...)
}

func (a *App) logWarn(format string, args ...any) {
	if a.logbook == nil {
		return
	}
	a.logbook.Warn(format, args...)
}

func (a *App) logError(format string, args ...any) {
	if a.logbook == nil {
		return
	}
	a.logbook.Error(format, args...)
}

// Running reports whether a batch is in flight.
func (a *App) Running() bool {
	return a.active != nil
}

// Init is called once when the program starts.
func (a *App) Init() tea.Cmd {
	return a.scheduleLogRefresh()
}

func (a *App) scheduleLogRefresh() tea.Cmd {
	return tea.Tick(logRefreshInterval, func(time.Time) tea.Msg {
		return logRefreshMsg{}
	})
}

// Update is called when a message is received.
func (a *App) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {

	case tea.WindowSizeMsg:
		a.width = msg.Width
		a.height = msg.Height
		height := max(5, msg.Height-18)
		a.inputs.SetHeight(height)
		a.output.SetHeight(height)
		return a, nil

	case logRefreshMsg:
		// The View re-reads the logbook tail; ticking is enough to repaint.
		return a, a.scheduleLogRefresh()

	case batchStatusMsg:
		if !a.stopping || msg.message == "Stopped by user" {
			a.statusMsg = msg.message
		}
		return a, a.nextBatchEvent()

	case batchResultMsg:
		a.results = append(a.results, msg.result)
		a.refreshResults()
		return a, a.nextBatchEvent()

	case batchFinishedMsg:
		return a.handleBatchFinished(msg)

	case tea.KeyMsg:
		if a.editing {
			return a.updateEditor(msg)
		}
		return a.handleKey(msg)
	}

	return a, nil
}

func (a *App) nextBatchEvent() tea.Cmd {
	if a.active == nil {
		return nil
	}
	return a.active.waitForEvent()
}

func (a *App) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "q":
		if a.active != nil {
			a.active.requestStop()
		}
		a.cancel()
		return a, tea.Quit
	case "tab":
		a.toggleFocus()
		return a, nil
	case "r":
		return a, a.startRun()
	case "s", "esc":
		a.requestStop()
		return a, nil
	case "c":
		a.copyResults()
		return a, nil
	case "x":
		a.exportResults()
		return a, nil
	}

	if a.focus == paneResults {
		var cmd tea.Cmd
		a.output, cmd = a.output.Update(msg)
		return a, cmd
	}

	switch msg.String() {
	case "a":
		return a, a.addRow()
	case "enter", "e":
		return a, a.beginEdit(a.inputs.Cursor(), colDepth)
	case "d", "delete", "backspace":
		a.deleteRow()
		return a, nil
	case "p", "ctrl+v":
		a.pasteRows()
		return a, nil
	}
	var cmd tea.Cmd
	a.inputs, cmd = a.inputs.Update(msg)
	return a, cmd
}

func (a *App) toggleFocus() {
	if a.focus == paneInputs {
		a.focus = paneResults
		a.inputs.Blur()
		a.output.Focus()
		return
	}
	a.focus = paneInputs
	a.output.Blur()
	a.inputs.Focus()
}

// inputsLocked mirrors the disabled buttons of a running batch.
func (a *App) inputsLocked() bool {
	if a.active != nil {
		a.statusMsg = "Batch running · press s to stop"
		return true
	}
	return false
}

func (a *App) addRow() tea.Cmd {
	if a.inputsLocked() {
		return nil
	}
	a.rows = append(a.rows, automation.InputRow{})
	a.refreshInputs()
	a.inputs.SetCursor(len(a.rows) - 1)
	return a.beginEdit(len(a.rows)-1, colDepth)
}

func (a *App) deleteRow() {
	if a.inputsLocked() || len(a.rows) == 0 {
		return
	}
	idx := a.inputs.Cursor()
	if idx < 0 || idx >= len(a.rows) {
		return
	}
	a.rows = append(a.rows[:idx], a.rows[idx+1:]...)
	a.refreshInputs()
	if idx >= len(a.rows) && len(a.rows) > 0 {
		a.inputs.SetCursor(len(a.rows) - 1)
	}
	a.statusMsg = fmt.Sprintf("Removed row %d", idx+1)
}

func (a *App) pasteRows() {
	if a.inputsLocked() {
		return
	}
	text, err := a.clipboard.ReadText()
	if err != nil {
		a.statusMsg = "Clipboard does not contain text data."
		a.logWarn("Paste failed: %v", err)
		return
	}
	rows, err := tabular.ParseClipboard(text)
	if err != nil {
		a.statusMsg = "No tabular rows detected in the clipboard."
		return
	}
	a.rows = append(a.rows, rows...)
	a.refreshInputs()
	a.statusMsg = fmt.Sprintf("Pasted %d rows", len(rows))
	a.logInfo("Pasted %d rows from the clipboard", len(rows))
}

func (a *App) beginEdit(row, col int) tea.Cmd {
	if a.inputsLocked() || row < 0 || row >= len(a.rows) {
		return nil
	}
	a.editing = true
	a.editRow = row
	a.editCol = col
	a.editor.SetValue(a.cellValue(row, col))
	a.editor.CursorEnd()
	return a.editor.Focus()
}

func (a *App) cellValue(row, col int) string {
	if col == colDepth {
		return a.rows[row].Depth
	}
	return a.rows[row].SurfaceWeight
}

// updateEditor handles keys while a cell is being edited. Enter commits and
// moves from depth to surface weight; tab commits without leaving the row.
func (a *App) updateEditor(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		a.endEdit()
		return a, nil
	case "enter", "tab":
		a.commitEdit()
		if a.editCol == colDepth {
			return a, a.beginEdit(a.editRow, colSurfaceWeight)
		}
		if msg.String() == "tab" {
			return a, a.beginEdit(a.editRow, colDepth)
		}
		a.endEdit()
		return a, nil
	}
	var cmd tea.Cmd
	a.editor, cmd = a.editor.Update(msg)
	return a, cmd
}

func (a *App) commitEdit() {
	value := strings.TrimSpace(a.editor.Value())
	if a.editRow < 0 || a.editRow >= len(a.rows) {
		return
	}
	if a.editCol == colDepth {
		a.rows[a.editRow].Depth = value
	} else {
		a.rows[a.editRow].SurfaceWeight = value
	}
	a.refreshInputs()
}

func (a *App) endEdit() {
	a.editing = false
	a.editor.Blur()
	a.editor.SetValue("")
}

// collectRows returns the rows with at least one value, as the batch sees them.
func (a *App) collectRows() []automation.InputRow {
	rows := make([]automation.InputRow, 0, len(a.rows))
	for _, row := range a.rows {
		if strings.TrimSpace(row.Depth) == "" && strings.TrimSpace(row.SurfaceWeight) == "" {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

func (a *App) startRun() tea.Cmd {
	if a.active != nil {
		a.statusMsg = "Batch already running."
		return nil
	}
	if a.runner == nil {
		a.statusMsg = "No control surface configured."
		return nil
	}
	rows := a.collectRows()
	if len(rows) == 0 {
		a.statusMsg = "Add at least one input row."
		return nil
	}
	a.results = nil
	a.resultRows = rows
	a.refreshResults()
	a.stopping = false
	a.active = startBatch(a.ctx, a.runner, rows)
	a.statusMsg = fmt.Sprintf("Starting batch of %d rows...", len(rows))
	return a.active.waitForEvent()
}

func (a *App) requestStop() {
	if a.active == nil || a.stopping {
		return
	}
	a.active.requestStop()
	a.stopping = true
	a.statusMsg = "Stopping..."
}

func (a *App) handleBatchFinished(msg batchFinishedMsg) (tea.Model, tea.Cmd) {
	a.active = nil
	a.stopping = false
	a.lastRunID = msg.report.RunID
	a.lastOutcome = msg.report.Status
	switch {
	case errors.Is(msg.err, context.Canceled):
		a.statusMsg = fmt.Sprintf("Cancelled after %d rows", len(a.results))
	case msg.err != nil:
		a.statusMsg = fmt.Sprintf("Error: %v", msg.err)
		a.logError("Batch failed: %v", msg.err)
	case msg.report.Status == history.StatusStopped:
		a.statusMsg = fmt.Sprintf("Stopped after %d of %d rows", len(a.results), len(a.resultRows))
	default:
		// A stop pressed during the last row arrives too late to matter.
		a.statusMsg = fmt.Sprintf("Completed %d rows", len(a.results))
	}
	return a, nil
}

func (a *App) copyResults() {
	if len(a.results) == 0 {
		a.statusMsg = "No results to copy yet."
		return
	}
	if err := a.clipboard.WriteText(tabular.FormatResults(a.results)); err != nil {
		a.statusMsg = fmt.Sprintf("Copy failed: %v", err)
		a.logWarn("Copy results failed: %v", err)
		return
	}
	a.statusMsg = "Results copied to clipboard."
}

func (a *App) exportResults() {
	if len(a.results) == 0 {
		a.statusMsg = "No results to export yet."
		return
	}
	dir := "."
	if a.config != nil {
		dir = a.config.ExportsDir()
	}
	name := fmt.Sprintf("results-%s.xlsx", a.clock().Format(exportTimeLayout))
	path := filepath.Join(dir, name)
	if err := tabular.WriteResultsFile(path, a.resultRows, a.results); err != nil {
		a.statusMsg = fmt.Sprintf("Export failed: %v", err)
		a.logError("Export failed: %v", err)
		return
	}
	a.statusMsg = "Exported " + path
	a.logInfo("Exported %d results to %s", len(a.results), path)
}

func (a *App) refreshInputs() {
	rows := make([]table.Row, len(a.rows))
	for i, row := range a.rows {
		rows[i] = table.Row{fmt.Sprintf("%d", i+1), row.Depth, row.SurfaceWeight}
	}
	a.inputs.SetRows(rows)
}

func (a *App) refreshResults() {
	rows := make([]table.Row, len(a.results))
	for i, result := range a.results {
		var in automation.InputRow
		if i < len(a.resultRows) {
			in = a.resultRows[i]
		}
		rows[i] = table.Row{fmt.Sprintf("%d", i+1), in.Depth, in.SurfaceWeight, result.Value}
	}
	a.output.SetRows(rows)
	if len(rows) > 0 {
		a.output.SetCursor(len(rows) - 1)
	}
}

// View renders the current state to a string.
func (a *App) View() string {
	header := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#FF6B6B")).
		Render("⬡ BUCKLING AUTOMATION")
	driver := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		Render(" · driver " + a.driverName())

	left := lipgloss.JoinVertical(lipgloss.Left,
		a.paneTitle("Input Rows", paneInputs),
		a.inputs.View(),
		a.renderEditor(),
	)
	right := lipgloss.JoinVertical(lipgloss.Left,
		a.paneTitle("Results", paneResults),
		a.output.View(),
	)
	body := lipgloss.JoinHorizontal(lipgloss.Top, a.box(left), a.box(right))

	sections := []string{header + driver, body}
	if logPanel := a.renderLogPanel(); logPanel != "" {
		sections = append(sections, logPanel)
	}
	status := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#DDDDDD")).
		Render(a.statusMsg)
	help := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#888888")).
		Render(a.helpLine())
	sections = append(sections, status, help)
	return strings.Join(sections, "\n")
}

func (a *App) paneTitle(title string, p pane) string {
	style := lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#888888"))
	if a.focus == p {
		style = style.Foreground(lipgloss.Color("#5B8DEF"))
	}
	return style.Render(title)
}

func (a *App) box(content string) string {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(content)
}

func (a *App) renderEditor() string {
	if !a.editing {
		return ""
	}
	label := tabular.HeaderDepth
	if a.editCol == colSurfaceWeight {
		label = tabular.HeaderSurfaceWeight
	}
	return fmt.Sprintf("Row %d · %s\n%s", a.editRow+1, label, a.editor.View())
}

func (a *App) helpLine() string {
	switch {
	case a.editing:
		return "enter next/commit · tab other column · esc cancel"
	case a.active != nil:
		return "s stop · tab switch pane · q quit"
	}
	return "a add · e edit · d delete · p paste · r run · c copy · x export · tab switch pane · q quit"
}

func (a *App) renderLogPanel() string {
	if a.logbook == nil {
		return ""
	}
	lines, total := a.logbook.Tail(logPanelLines)
	if len(lines) == 0 {
		return ""
	}
	fileName := filepath.Base(a.logbook.Path())
	if fileName == "." || fileName == "" {
		fileName = "log"
	}
	head := lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#5B8DEF")).
		Render(fmt.Sprintf("LOG · %s · %d entries", fileName, total))
	body := lipgloss.NewStyle().
		Foreground(lipgloss.Color("#AAAAAA")).
		Render(strings.Join(lines, "\n"))
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#444444")).
		Padding(0, 1).
		Render(fmt.Sprintf("%s\n%s", head, body))
}
