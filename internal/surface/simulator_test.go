package surface

import (
	"context"
	"testing"
)

func TestSimulatorRefreshLandsAfterStaleReads(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator(WithSettlePolls(2), WithCompute(func(depth, weight float64) float64 {
		return depth + weight
	}))
	before, _ := sim.ReadOutput(ctx)
	if before != "145000.0" {
		t.Fatalf("initial output = %q", before)
	}

	_ = sim.WriteDepth(ctx, "10")
	_ = sim.WriteSurfaceWeight(ctx, "20")
	_ = sim.TriggerRecalculation(ctx)

	var reads []string
	for i := 0; i < 4; i++ {
		v, _ := sim.ReadOutput(ctx)
		reads = append(reads, v)
	}
	want := []string{"145000.0", "145000.0", "30.0", "30.0"}
	for i := range want {
		if reads[i] != want[i] {
			t.Fatalf("reads = %v, want %v", reads, want)
		}
	}
}

func TestSimulatorIgnoresRefreshOfUnchangedInputs(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator(WithSettlePolls(0), WithInitialInputs("5374", "138661.3"))
	before, _ := sim.ReadOutput(ctx)

	_ = sim.WriteSurfaceWeight(ctx, "138661.3")
	_ = sim.WriteDepth(ctx, "5374")
	_ = sim.TriggerRecalculation(ctx)
	after, _ := sim.ReadOutput(ctx)

	if before != after {
		t.Fatalf("output changed without new inputs: %q -> %q", before, after)
	}
	if sim.Refreshes() != 1 {
		t.Fatalf("refreshes = %d", sim.Refreshes())
	}
}

func TestSimulatorReportsInvalidInput(t *testing.T) {
	ctx := context.Background()
	sim := NewSimulator(WithSettlePolls(0))
	_ = sim.WriteDepth(ctx, "deep")
	_ = sim.TriggerRecalculation(ctx)
	if got, _ := sim.ReadOutput(ctx); got != "Invalid depth" {
		t.Fatalf("output = %q", got)
	}
}

func TestSimulatorSelectsMode(t *testing.T) {
	sim := NewSimulator()
	if sim.SurfaceWeightMode() {
		t.Fatalf("mode should start unselected")
	}
	conn, err := sim.Connector()(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	_ = conn.SelectSurfaceWeightMode(context.Background())
	if !sim.SurfaceWeightMode() {
		t.Fatalf("mode not selected")
	}
	load, _ := conn.ReadSurfaceLoad(context.Background())
	if load != "140000" {
		t.Fatalf("load = %q", load)
	}
}
