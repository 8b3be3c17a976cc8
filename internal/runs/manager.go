// Package runs serialises batches against the one application window and
// records each of them. Both the terminal UI and the HTTP bridge submit
// batches through a Manager.
package runs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/kingrea/buckling-automation/internal/automation"
	"github.com/kingrea/buckling-automation/internal/history"
	"github.com/kingrea/buckling-automation/internal/logbook"
	"github.com/kingrea/buckling-automation/internal/surface"
)

// ErrBusy is returned when a batch is already driving the application.
var ErrBusy = errors.New("runs: a batch is already running")

// Logger receives diagnostic lines.
type Logger interface {
	Printf(format string, args ...any)
}

// Request is one batch submission.
type Request struct {
	Rows []automation.InputRow
	// Source names the front end that submitted the batch (tui, bridge, cli).
	Source string
	// Observer receives the orchestrator's status and result events.
	Observer automation.Observer
	// StopCheck is polled before each row.
	StopCheck func() bool
}

// Report summarises a finished batch.
type Report struct {
	RunID      string                 `json:"run_id"`
	Status     history.Status         `json:"status"`
	Results    []automation.ResultRow `json:"results"`
	Rows       int                    `json:"rows"`
	Session    automation.Session     `json:"-"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
}

// Manager owns the exclusive right to drive the control surface.
type Manager struct {
	connect surface.Connector
	driver  string
	settler automation.Settler
	store   *history.Store
	journal *logbook.Logbook
	logger  Logger
	clock   func() time.Time

	busy atomic.Bool
}

// Option customizes a Manager.
type Option func(*Manager)

// WithHistory records every batch in store.
func WithHistory(store *history.Store) Option {
	return func(m *Manager) {
		m.store = store
	}
}

// WithLogbook journals every batch to book.
func WithLogbook(book *logbook.Logbook) Option {
	return func(m *Manager) {
		m.journal = book
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(m *Manager) {
		if l != nil {
			m.logger = l
		}
	}
}

// WithSettler sets the settle policy passed to the orchestrator.
func WithSettler(s automation.Settler) Option {
	return func(m *Manager) {
		m.settler = s
	}
}

// WithDriverName labels recorded runs with the surface driver in use.
func WithDriverName(name string) Option {
	return func(m *Manager) {
		m.driver = name
	}
}

// NewManager returns a Manager that attaches through connect for each batch.
func NewManager(connect surface.Connector, opts ...Option) *Manager {
	m := &Manager{
		connect: connect,
		settler: automation.Settler{Interval: automation.DefaultPollInterval},
		logger:  nopLogger{},
		clock:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(m)
		}
	}
	return m
}

// Busy reports whether a batch is running.
func (m *Manager) Busy() bool {
	return m.busy.Load()
}

// History returns the run store, or nil when runs are not recorded.
func (m *Manager) History() *history.Store {
	return m.store
}

// Run executes one batch. It returns ErrBusy without touching the
// application when another batch holds the surface. The report is filled in
// even when the batch fails; err is the orchestrator's error unchanged.
func (m *Manager) Run(ctx context.Context, req Request) (Report, error) {
	if !m.busy.CompareAndSwap(false, true) {
		return Report{}, ErrBusy
	}
	defer m.busy.Store(false)

	report := Report{Rows: len(req.Rows), StartedAt: m.clock()}
	report.RunID = m.startRecord(ctx, req)
	journal := m.runJournal(report.RunID)
	journal.Info("started %d rows from %s on %s", len(req.Rows), sourceName(req.Source), m.driverName())

	var stopped atomic.Bool
	stopCheck := func() bool {
		if req.StopCheck != nil && req.StopCheck() {
			stopped.Store(true)
			return true
		}
		return false
	}
	observer := &recordingObserver{
		manager: m,
		ctx:     context.WithoutCancel(ctx),
		runID:   report.RunID,
		journal: journal,
		next:    req.Observer,
		report:  &report,
	}

	orch := automation.New(m.connect,
		automation.WithSettler(m.settler),
		automation.WithObserver(observer),
		automation.WithStopCheck(stopCheck),
	)
	results, err := orch.RunBatch(ctx, req.Rows)
	report.Results = results
	report.FinishedAt = m.clock()

	switch {
	case err == nil && stopped.Load():
		report.Status = history.StatusStopped
		journal.Warn("stopped after %d of %d rows", len(results), len(req.Rows))
	case err == nil:
		report.Status = history.StatusCompleted
		journal.Info("completed %d rows in %s", len(results), report.FinishedAt.Sub(report.StartedAt).Round(time.Millisecond))
	case errors.Is(err, context.Canceled):
		report.Status = history.StatusStopped
		journal.Warn("cancelled after %d of %d rows", len(results), len(req.Rows))
	default:
		report.Status = history.StatusFailed
		journal.Error("failed after %d of %d rows: %v", len(results), len(req.Rows), err)
		m.logger.Printf("run %s failed: %v", report.RunID, err)
	}
	m.finishRecord(context.WithoutCancel(ctx), report.RunID, report.Status, err)
	return report, err
}

func (m *Manager) startRecord(ctx context.Context, req Request) string {
	if m.store == nil {
		return ""
	}
	rows := make([]history.Row, len(req.Rows))
	for i, row := range req.Rows {
		rows[i] = history.Row{Index: i, Depth: row.Depth, SurfaceWeight: row.SurfaceWeight}
	}
	id, err := m.store.StartRun(ctx, history.NewRun{Source: sourceName(req.Source), Driver: m.driverName(), Rows: rows})
	if err != nil {
		m.logger.Printf("history: start run: %v", err)
		return ""
	}
	return id
}

func (m *Manager) finishRecord(ctx context.Context, runID string, status history.Status, runErr error) {
	if m.store == nil || runID == "" {
		return
	}
	if err := m.store.FinishRun(ctx, runID, status, runErr); err != nil {
		m.logger.Printf("history: finish run %s: %v", runID, err)
	}
}

func (m *Manager) runJournal(runID string) journal {
	if m.journal == nil {
		return nopJournal{}
	}
	if runID == "" {
		return m.journal
	}
	return m.journal.Run(runID)
}

func (m *Manager) driverName() string {
	if m.driver == "" {
		return "unknown"
	}
	return m.driver
}

func sourceName(source string) string {
	if source == "" {
		return "api"
	}
	return source
}

// recordingObserver stores results as they arrive and forwards every event.
type recordingObserver struct {
	manager *Manager
	ctx     context.Context
	runID   string
	journal journal
	next    automation.Observer
	report  *Report
}

func (o *recordingObserver) Status(message string) {
	if o.next != nil {
		o.next.Status(message)
	}
}

func (o *recordingObserver) Result(index int, row automation.InputRow, result automation.ResultRow) {
	o.journal.Info("row %d: depth %s, surface weight %s -> %s", index+1, row.Depth, row.SurfaceWeight, result.Value)
	if store := o.manager.store; store != nil && o.runID != "" {
		if err := store.RecordResult(o.ctx, o.runID, index, result.Value); err != nil {
			o.manager.logger.Printf("history: record %s[%d]: %v", o.runID, index, err)
		}
	}
	if o.next != nil {
		o.next.Result(index, row, result)
	}
}

func (o *recordingObserver) SessionStarted(session automation.Session) {
	o.report.Session = session
	o.journal.Info("form opened at depth %s, surface weight %s, output %s",
		session.DepthBaseline, session.SurfaceLoadBaseline, session.PreviousOutput)
	if so, ok := o.next.(automation.SessionObserver); ok {
		so.SessionStarted(session)
	}
}

type journal interface {
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopJournal struct{}

func (nopJournal) Info(string, ...any)  {}
func (nopJournal) Warn(string, ...any)  {}
func (nopJournal) Error(string, ...any) {}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}

// String renders a one-line summary.
func (r Report) String() string {
	return fmt.Sprintf("%s: %d/%d rows", r.Status, len(r.Results), r.Rows)
}
