package surface

import (
	"context"
	"strconv"
	"strings"
	"sync"
)

// Simulator stands in for the engineering application when no desktop is
// available. It reproduces the two behaviours the orchestrator depends on:
// a refresh only lands after a few output reads, and refreshing unchanged
// inputs does nothing at all.
type Simulator struct {
	mu sync.Mutex

	surfaceWeightMode bool
	surfaceWeight     string
	depth             string
	output            string

	computedWeight string
	computedDepth  string

	pending     *pendingResult
	settlePolls int
	compute     func(depth, weight float64) float64

	refreshes int
}

type pendingResult struct {
	value     string
	remaining int
}

// SimulatorOption customizes a Simulator.
type SimulatorOption func(*Simulator)

// WithSettlePolls sets how many output reads still return the stale value
// after a refresh.
func WithSettlePolls(n int) SimulatorOption {
	return func(s *Simulator) {
		if n >= 0 {
			s.settlePolls = n
		}
	}
}

// WithInitialInputs seeds the form fields before the first refresh.
func WithInitialInputs(depth, surfaceWeight string) SimulatorOption {
	return func(s *Simulator) {
		s.depth = depth
		s.surfaceWeight = surfaceWeight
	}
}

// WithCompute replaces the built-in buckling approximation.
func WithCompute(fn func(depth, weight float64) float64) SimulatorOption {
	return func(s *Simulator) {
		if fn != nil {
			s.compute = fn
		}
	}
}

// NewSimulator builds a simulator whose form already shows a computed result
// for its initial inputs.
func NewSimulator(opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		surfaceWeight: "140000",
		depth:         "5000",
		settlePolls:   2,
		compute:       approximateBuckling,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	s.output = s.evaluate(s.depth, s.surfaceWeight)
	s.computedDepth = s.depth
	s.computedWeight = s.surfaceWeight
	return s
}

var _ Conn = (*Simulator)(nil)

func (s *Simulator) SelectSurfaceWeightMode(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.surfaceWeightMode = true
	return nil
}

func (s *Simulator) ReadSurfaceLoad(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surfaceWeight, nil
}

func (s *Simulator) ReadDepth(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.depth, nil
}

func (s *Simulator) WriteSurfaceWeight(_ context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.surfaceWeight = value
	return nil
}

func (s *Simulator) WriteDepth(_ context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.depth = value
	return nil
}

func (s *Simulator) ReadOutput(context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pending != nil {
		if s.pending.remaining <= 0 {
			s.output = s.pending.value
			s.pending = nil
		} else {
			s.pending.remaining--
		}
	}
	return s.output, nil
}

func (s *Simulator) TriggerRecalculation(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshes++
	if s.depth == s.computedDepth && s.surfaceWeight == s.computedWeight {
		return nil
	}
	s.computedDepth = s.depth
	s.computedWeight = s.surfaceWeight
	s.pending = &pendingResult{
		value:     s.evaluate(s.depth, s.surfaceWeight),
		remaining: s.settlePolls,
	}
	return nil
}

// Close is a no-op; the simulated application outlives any one batch.
func (s *Simulator) Close() error { return nil }

// Refreshes reports how many times refresh was pressed.
func (s *Simulator) Refreshes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshes
}

// SurfaceWeightMode reports whether the mode button has been pressed.
func (s *Simulator) SurfaceWeightMode() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.surfaceWeightMode
}

// Connector returns a Connector that hands out this simulator.
func (s *Simulator) Connector() Connector {
	return func(context.Context) (Conn, error) {
		return s, nil
	}
}

func (s *Simulator) evaluate(depthText, weightText string) string {
	depth, err := strconv.ParseFloat(strings.TrimSpace(depthText), 64)
	if err != nil {
		return "Invalid depth"
	}
	weight, err := strconv.ParseFloat(strings.TrimSpace(weightText), 64)
	if err != nil {
		return "Invalid weight"
	}
	return strconv.FormatFloat(s.compute(depth, weight), 'f', 1, 64)
}

// approximateBuckling is a monotone stand-in for the application's model:
// heavier strings and deeper wells both push the factor up.
func approximateBuckling(depth, weight float64) float64 {
	return (weight / 1000) * (1 + depth/10000) / 10
}
