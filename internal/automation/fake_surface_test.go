package automation

import (
	"context"
	"strings"
	"sync"

	"github.com/kingrea/buckling-automation/internal/surface"
)

// fakeSurface is a scripted form. Each refresh takes the next queued output;
// the new output only shows after staleReads reads of the old one.
type fakeSurface struct {
	mu sync.Mutex

	calls []string

	surfaceWeight string
	depth         string
	output        string

	outputs    []string
	staleReads int

	pending    string
	hasPending bool
	remaining  int

	failOn  string
	failErr error
	closed  bool
}

func newFakeSurface(weight, depth, output string, outputs ...string) *fakeSurface {
	return &fakeSurface{surfaceWeight: weight, depth: depth, output: output, outputs: outputs}
}

func (f *fakeSurface) connector() surface.Connector {
	return func(context.Context) (surface.Conn, error) { return f, nil }
}

func (f *fakeSurface) record(call string) error {
	f.calls = append(f.calls, call)
	name := call
	if idx := strings.Index(call, "("); idx >= 0 {
		name = call[:idx]
	}
	if f.failOn != "" && name == f.failOn {
		if f.failErr == nil {
			f.failErr = &surface.ControlError{Path: []string{"txtDepth", "txtData"}, Op: "find", Err: surface.ErrControlNotFound}
		}
		return f.failErr
	}
	return nil
}

func (f *fakeSurface) SelectSurfaceWeightMode(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("SelectSurfaceWeightMode")
}

func (f *fakeSurface) ReadSurfaceLoad(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ReadSurfaceLoad"); err != nil {
		return "", err
	}
	return f.surfaceWeight, nil
}

func (f *fakeSurface) ReadDepth(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ReadDepth"); err != nil {
		return "", err
	}
	return f.depth, nil
}

func (f *fakeSurface) WriteSurfaceWeight(_ context.Context, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("WriteSurfaceWeight(" + value + ")"); err != nil {
		return err
	}
	f.surfaceWeight = value
	return nil
}

func (f *fakeSurface) WriteDepth(_ context.Context, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("WriteDepth(" + value + ")"); err != nil {
		return err
	}
	f.depth = value
	return nil
}

func (f *fakeSurface) ReadOutput(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ReadOutput"); err != nil {
		return "", err
	}
	if f.hasPending {
		if f.remaining > 0 {
			f.remaining--
		} else {
			f.output = f.pending
			f.hasPending = false
		}
	}
	return f.output, nil
}

func (f *fakeSurface) TriggerRecalculation(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("TriggerRecalculation"); err != nil {
		return err
	}
	if len(f.outputs) == 0 {
		return nil
	}
	f.pending = f.outputs[0]
	f.outputs = f.outputs[1:]
	f.hasPending = true
	f.remaining = f.staleReads
	return nil
}

func (f *fakeSurface) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

// writes returns the recorded write calls in order.
func (f *fakeSurface) writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, call := range f.calls {
		if strings.HasPrefix(call, "Write") {
			out = append(out, call)
		}
	}
	return out
}

func (f *fakeSurface) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}
