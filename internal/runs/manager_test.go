package runs

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kingrea/buckling-automation/internal/automation"
	"github.com/kingrea/buckling-automation/internal/config"
	"github.com/kingrea/buckling-automation/internal/history"
	"github.com/kingrea/buckling-automation/internal/logbook"
	"github.com/kingrea/buckling-automation/internal/surface"
)

func fastSettler() automation.Settler {
	return automation.Settler{
		Interval: time.Millisecond,
		Sleep:    func(ctx context.Context, _ time.Duration) error { return ctx.Err() },
	}
}

func newTestManager(t *testing.T, connect surface.Connector) (*Manager, *history.Store, *logbook.Logbook) {
	t.Helper()
	dir := t.TempDir()
	store, err := history.Open(filepath.Join(dir, "history.db"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	book, err := logbook.New(filepath.Join(dir, "journey.log"))
	if err != nil {
		t.Fatalf("open logbook: %v", err)
	}
	m := NewManager(connect,
		WithHistory(store),
		WithLogbook(book),
		WithSettler(fastSettler()),
		WithDriverName(config.DriverSimulator),
	)
	return m, store, book
}

var sampleRows = []automation.InputRow{
	{Depth: "5374", SurfaceWeight: "138661.3"},
	{Depth: "5206", SurfaceWeight: "135469.6"},
}

func TestRunRecordsCompletedBatch(t *testing.T) {
	sim := surface.NewSimulator(surface.WithSettlePolls(1))
	m, store, book := newTestManager(t, sim.Connector())

	var statuses []string
	report, err := m.Run(context.Background(), Request{
		Rows:     sampleRows,
		Source:   "test",
		Observer: automation.ObserverFuncs{OnStatus: func(s string) { statuses = append(statuses, s) }},
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.Status != history.StatusCompleted || len(report.Results) != 2 || report.RunID == "" {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.Session.SurfaceLoadBaseline != "140000" {
		t.Fatalf("session baseline = %+v", report.Session)
	}
	if len(statuses) == 0 || statuses[len(statuses)-1] != "Completed 2 rows" {
		t.Fatalf("statuses = %v", statuses)
	}

	run, err := store.GetRun(context.Background(), report.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != history.StatusCompleted || run.Source != "test" || run.Driver != "simulator" {
		t.Fatalf("stored run %+v", run)
	}
	for i, row := range run.Rows {
		if !row.HasResult || row.Result != report.Results[i].Value {
			t.Fatalf("row %d = %+v, want result %q", i, row, report.Results[i].Value)
		}
	}

	lines, _ := book.Tail(20)
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "run "+report.RunID[:8]) || !strings.Contains(joined, "completed 2 rows") {
		t.Fatalf("journal missing run lines:\n%s", joined)
	}
	if m.Busy() {
		t.Fatalf("manager still busy after run")
	}
}

func TestRunReportsStop(t *testing.T) {
	sim := surface.NewSimulator(surface.WithSettlePolls(0))
	m, store, _ := newTestManager(t, sim.Connector())

	results := 0
	report, err := m.Run(context.Background(), Request{
		Rows: sampleRows,
		Observer: automation.ObserverFuncs{
			OnResult: func(int, automation.InputRow, automation.ResultRow) { results++ },
		},
		StopCheck: func() bool { return results >= 1 },
	})
	if err != nil {
		t.Fatalf("stop must not be an error: %v", err)
	}
	if report.Status != history.StatusStopped || len(report.Results) != 1 {
		t.Fatalf("report = %+v", report)
	}
	run, _ := store.GetRun(context.Background(), report.RunID)
	if run.Status != history.StatusStopped || run.ResultCount != 1 || run.Source != "api" {
		t.Fatalf("stored run %+v", run)
	}
}

func TestRunRecordsCancelledSettleAsStopped(t *testing.T) {
	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	// The simulator never settles within the test, so the batch can only end
	// through the cancelled context.
	sim := surface.NewSimulator(surface.WithSettlePolls(1000))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sleeps := 0
	m := NewManager(sim.Connector(),
		WithHistory(store),
		WithSettler(automation.Settler{
			Interval: time.Millisecond,
			Sleep: func(ctx context.Context, _ time.Duration) error {
				sleeps++
				cancel()
				return ctx.Err()
			},
		}),
	)

	report, err := m.Run(ctx, Request{Rows: sampleRows, Source: "test"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if sleeps == 0 {
		t.Fatalf("cancel must arrive during a settle wait")
	}
	if report.Status != history.StatusStopped || len(report.Results) != 0 {
		t.Fatalf("report = %+v", report)
	}
	run, err := store.GetRun(context.Background(), report.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Status != history.StatusStopped || run.ResultCount != 0 || run.FinishedAt == nil {
		t.Fatalf("stored run %+v", run)
	}
	if m.Busy() {
		t.Fatalf("manager still busy after cancelled run")
	}
}

func TestRunRecordsFailure(t *testing.T) {
	boom := &surface.ControlError{Path: []string{"frmOrpheus"}, Op: "attach", Err: surface.ErrControlNotFound}
	connect := func(context.Context) (surface.Conn, error) { return nil, boom }
	m, store, _ := newTestManager(t, connect)

	report, err := m.Run(context.Background(), Request{Rows: sampleRows})
	if err != error(boom) {
		t.Fatalf("expected the surface error unchanged, got %v", err)
	}
	if report.Status != history.StatusFailed {
		t.Fatalf("status = %s", report.Status)
	}
	run, _ := store.GetRun(context.Background(), report.RunID)
	if run.Status != history.StatusFailed || !strings.Contains(run.Error, "control not found") {
		t.Fatalf("stored run %+v", run)
	}
}

func TestRunRejectsConcurrentBatch(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	sim := surface.NewSimulator()
	connect := func(ctx context.Context) (surface.Conn, error) {
		close(entered)
		<-release
		return sim, nil
	}
	m := NewManager(connect, WithSettler(fastSettler()))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := m.Run(context.Background(), Request{}); err != nil {
			t.Errorf("first run: %v", err)
		}
	}()
	<-entered
	if !m.Busy() {
		t.Fatalf("manager should be busy")
	}
	if _, err := m.Run(context.Background(), Request{Rows: sampleRows}); !errors.Is(err, ErrBusy) {
		t.Fatalf("expected ErrBusy, got %v", err)
	}
	close(release)
	wg.Wait()
	if m.Busy() {
		t.Fatalf("manager should be idle")
	}
}

func TestRunWithoutHistory(t *testing.T) {
	m := NewManager(surface.NewSimulator(surface.WithSettlePolls(0)).Connector(), WithSettler(fastSettler()))
	report, err := m.Run(context.Background(), Request{Rows: sampleRows[:1]})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if report.RunID != "" || report.Status != history.StatusCompleted || m.History() != nil {
		t.Fatalf("unexpected report %+v", report)
	}
	if report.String() != "completed: 1/1 rows" {
		t.Fatalf("String() = %q", report.String())
	}
}

func TestSettlerFromConfig(t *testing.T) {
	if s := SettlerFromConfig(nil); s.Interval != automation.DefaultPollInterval || s.Timeout != 0 {
		t.Fatalf("nil config settler = %+v", s)
	}
	cfg := &config.Config{}
	cfg.Project.Settle = config.SettleConfig{PollInterval: 200 * time.Millisecond, Timeout: time.Minute, MaxPolls: 9}
	s := SettlerFromConfig(cfg)
	if s.Interval != 200*time.Millisecond || s.Timeout != time.Minute || s.MaxPolls != 9 {
		t.Fatalf("settler = %+v", s)
	}
}

func TestConnectorFromConfigSimulatorKeepsState(t *testing.T) {
	cfg := &config.Config{}
	cfg.UseSimulator()
	connect := ConnectorFromConfig(cfg, nil)
	first, err := connect(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if err := first.WriteDepth(context.Background(), "4200"); err != nil {
		t.Fatal(err)
	}
	second, _ := connect(context.Background())
	if depth, _ := second.ReadDepth(context.Background()); depth != "4200" {
		t.Fatalf("depth = %q, simulator state was not kept", depth)
	}
}
