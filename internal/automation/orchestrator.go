// Package automation runs batches of depth/surface-weight rows through the
// external application's form and reads back the settled output for each.
//
// The orchestrator is strictly sequential: the form is a single shared
// mutable resource, so rows are written, recalculated and read one at a time.
// It performs no logging of its own; status messages sent to the Observer are
// the only progress channel.
package automation

import (
	"context"
	"fmt"

	"github.com/kingrea/buckling-automation/internal/surface"
)

// Orchestrator drives one control surface through batches of rows.
type Orchestrator struct {
	connect    surface.Connector
	settler    Settler
	observer   Observer
	shouldStop func() bool
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithSettler replaces the default one-second unbounded settle.
func WithSettler(s Settler) Option {
	return func(o *Orchestrator) {
		o.settler = s
	}
}

// WithObserver installs the status and result observer.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithStopCheck installs a function polled before each row. Once it returns
// true no further row is written.
func WithStopCheck(fn func() bool) Option {
	return func(o *Orchestrator) {
		o.shouldStop = fn
	}
}

// New creates an orchestrator that attaches through connect at the start of
// every batch.
func New(connect surface.Connector, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		connect:  connect,
		settler:  Settler{Interval: DefaultPollInterval},
		observer: nopObserver{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}
	return o
}

// RunBatch processes rows in order and returns one result per processed row.
//
// A stop request is honoured at row boundaries and is not an error: the rows
// finished so far are returned with a nil error. Control surface failures end
// the batch and are returned unchanged together with the partial results.
// Context cancellation also ends the batch, including during a settle wait,
// and never yields a result for the interrupted row.
func (o *Orchestrator) RunBatch(ctx context.Context, rows []InputRow) (results []ResultRow, err error) {
	results = make([]ResultRow, 0, len(rows))

	o.status("Connecting to application...")
	conn, err := o.connect(ctx)
	if err != nil {
		return results, err
	}
	defer func() {
		if cerr := conn.Close(); cerr != nil {
			o.status(fmt.Sprintf("Disconnect failed: %v", cerr))
		}
	}()
	o.status("Connected to application")

	o.status("Selecting Surface Weight option...")
	if err := conn.SelectSurfaceWeightMode(ctx); err != nil {
		return results, err
	}
	session, err := openSession(ctx, conn)
	if err != nil {
		return results, err
	}
	o.sessionStarted(*session)

	total := len(rows)
	for idx, row := range rows {
		if o.stopRequested() {
			o.status("Stopped by user")
			break
		}
		if err := ctx.Err(); err != nil {
			return results, err
		}
		o.status(fmt.Sprintf("Processing row %d/%d...", idx+1, total))

		value, err := o.processRow(ctx, conn, session, row)
		if err != nil {
			return results, err
		}
		result := ResultRow{Value: value}
		results = append(results, result)
		o.result(idx, row, result)
		session.PreviousOutput = value
	}

	o.status(fmt.Sprintf("Completed %d rows", len(results)))
	return results, nil
}

// RunBatch is the callback form of Orchestrator.RunBatch. Any of onStatus,
// onResult and shouldStop may be nil.
func RunBatch(
	ctx context.Context,
	connect surface.Connector,
	rows []InputRow,
	onStatus func(string),
	onResult func(ResultRow),
	shouldStop func() bool,
	opts ...Option,
) ([]ResultRow, error) {
	observer := ObserverFuncs{OnStatus: onStatus}
	if onResult != nil {
		observer.OnResult = func(_ int, _ InputRow, result ResultRow) { onResult(result) }
	}
	all := append([]Option{WithObserver(observer), WithStopCheck(shouldStop)}, opts...)
	return New(connect, all...).RunBatch(ctx, rows)
}

func openSession(ctx context.Context, conn surface.ControlSurface) (*Session, error) {
	load, err := conn.ReadSurfaceLoad(ctx)
	if err != nil {
		return nil, err
	}
	depth, err := conn.ReadDepth(ctx)
	if err != nil {
		return nil, err
	}
	output, err := conn.ReadOutput(ctx)
	if err != nil {
		return nil, err
	}
	return &Session{
		SurfaceLoadBaseline: load,
		DepthBaseline:       depth,
		PreviousOutput:      output,
	}, nil
}

// processRow writes one row and returns its settled output. When the row
// would leave the form exactly as it was opened, the calculator treats the
// refresh as a no-op, so the surface weight is first pushed out of family by
// NudgeOffset and settled before the real values go in.
func (o *Orchestrator) processRow(ctx context.Context, conn surface.ControlSurface, session *Session, row InputRow) (string, error) {
	currentDepth, err := conn.ReadDepth(ctx)
	if err != nil {
		return "", err
	}
	if session.needsNudge(row, currentDepth) {
		nudge, err := nudgeValue(row.SurfaceWeight)
		if err != nil {
			return "", fmt.Errorf("automation: nudge: %w", err)
		}
		if err := conn.WriteSurfaceWeight(ctx, nudge); err != nil {
			return "", err
		}
		nudged, err := o.recalculate(ctx, conn, session.PreviousOutput)
		if err != nil {
			return "", err
		}
		session.PreviousOutput = nudged
	}

	if err := conn.WriteSurfaceWeight(ctx, row.SurfaceWeight); err != nil {
		return "", err
	}
	if err := conn.WriteDepth(ctx, row.Depth); err != nil {
		return "", err
	}
	return o.recalculate(ctx, conn, session.PreviousOutput)
}

func (o *Orchestrator) recalculate(ctx context.Context, conn surface.ControlSurface, sentinel string) (string, error) {
	if err := conn.TriggerRecalculation(ctx); err != nil {
		return "", err
	}
	value, _, err := o.settler.Wait(ctx, conn.ReadOutput, sentinel)
	return value, err
}

func (o *Orchestrator) stopRequested() bool {
	return o.shouldStop != nil && o.shouldStop()
}

func (o *Orchestrator) status(message string) {
	defer func() { _ = recover() }()
	o.observer.Status(message)
}

func (o *Orchestrator) result(idx int, row InputRow, result ResultRow) {
	defer func() { _ = recover() }()
	o.observer.Result(idx, row, result)
}

func (o *Orchestrator) sessionStarted(session Session) {
	so, ok := o.observer.(SessionObserver)
	if !ok {
		return
	}
	defer func() { _ = recover() }()
	so.SessionStarted(session)
}
