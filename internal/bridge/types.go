package bridge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/kingrea/buckling-automation/internal/automation"
	"github.com/kingrea/buckling-automation/internal/history"
	"github.com/kingrea/buckling-automation/internal/runs"
)

// ProtocolVersion identifies the bridge contract version exposed via /health.
const ProtocolVersion = "1.0.0"

// Runner executes batches. *runs.Manager implements it.
type Runner interface {
	Run(ctx context.Context, req runs.Request) (runs.Report, error)
	Busy() bool
	History() *history.Store
}

// Logger records bridge status information. It matches logging.Logger's signature.
type Logger interface {
	Printf(format string, args ...any)
}

type batchRequest struct {
	Rows []automation.InputRow `json:"rows"`
}

// normalize trims cells. Rows are never dropped: result i must answer row i.
func (b *batchRequest) normalize() {
	for i := range b.Rows {
		b.Rows[i].Depth = strings.TrimSpace(b.Rows[i].Depth)
		b.Rows[i].SurfaceWeight = strings.TrimSpace(b.Rows[i].SurfaceWeight)
	}
}

func (b batchRequest) validate() error {
	if len(b.Rows) == 0 {
		return errors.New("rows are required")
	}
	for i, row := range b.Rows {
		if row.Depth == "" && row.SurfaceWeight == "" {
			return fmt.Errorf("row %d is blank", i+1)
		}
	}
	return nil
}

type batchResponse struct {
	RunID      string                 `json:"run_id,omitempty"`
	Status     history.Status         `json:"status"`
	Results    []automation.ResultRow `json:"results"`
	Error      string                 `json:"error,omitempty"`
	StartedAt  time.Time              `json:"started_at"`
	FinishedAt time.Time              `json:"finished_at"`
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Busy          bool   `json:"busy"`
	History       bool   `json:"history"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

type errorResponse struct {
	Error string `json:"error"`
}
