// Package surface exposes the fixed set of form operations the batch
// orchestrator needs from the external engineering application.
//
// Everything here is a synchronous request against the application's current
// on-screen state. There is no business logic in this package: it only knows
// which control to find and whether to click, overwrite or read it.
package surface

import (
	"context"
	"errors"
	"strings"
)

// ErrControlNotFound reports that an expected on-screen element is absent.
var ErrControlNotFound = errors.New("control not found")

// ControlSurface is the capability set consumed by the orchestrator.
type ControlSurface interface {
	// SelectSurfaceWeightMode switches the application into surface-weight-driven computation.
	SelectSurfaceWeightMode(ctx context.Context) error
	ReadSurfaceLoad(ctx context.Context) (string, error)
	ReadDepth(ctx context.Context) (string, error)
	// WriteSurfaceWeight replaces the field contents entirely.
	WriteSurfaceWeight(ctx context.Context, value string) error
	// WriteDepth replaces the field contents entirely.
	WriteDepth(ctx context.Context, value string) error
	ReadOutput(ctx context.Context) (string, error)
	// TriggerRecalculation presses refresh. It does not wait for the result.
	TriggerRecalculation(ctx context.Context) error
}

// Conn is a control surface bound to a live application window.
type Conn interface {
	ControlSurface
	Close() error
}

// Connector attaches to the application. It is called once per batch.
type Connector func(ctx context.Context) (Conn, error)

// ControlError carries the element path that failed to resolve or respond.
type ControlError struct {
	Path []string
	Op   string
	Err  error
}

func (e *ControlError) Error() string {
	path := strings.Join(e.Path, "/")
	if e.Op == "" {
		return "surface: " + path + ": " + e.Err.Error()
	}
	return "surface: " + e.Op + " " + path + ": " + e.Err.Error()
}

func (e *ControlError) Unwrap() error {
	return e.Err
}

// Elements names the automation ids of the controls the form touches.
// Text fields are panes that hold an inner edit control named DataField.
type Elements struct {
	Window            string
	SurfaceWeightMode string
	SurfaceWeight     string
	Depth             string
	Output            string
	DataField         string
	Refresh           string
}

// DefaultElements returns the ids used by the target application's main form.
func DefaultElements() Elements {
	return Elements{
		Window:            "frmOrpheus",
		SurfaceWeightMode: "optSW",
		SurfaceWeight:     "txtSW",
		Depth:             "txtDepth",
		Output:            "txtFOE",
		DataField:         "txtData",
		Refresh:           "btnRefresh",
	}
}
