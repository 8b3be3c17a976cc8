package surface

import (
	"context"
	"errors"
	"io"
)

// Element is an opaque handle to a control resolved by a Driver.
type Element string

// Driver is the low-level automation backend a Form is built on. Lookups
// return an error matching ErrControlNotFound when the id is absent.
type Driver interface {
	FindElement(ctx context.Context, automationID string) (Element, error)
	FindChild(ctx context.Context, parent Element, automationID string) (Element, error)
	Click(ctx context.Context, el Element) error
	// ReplaceText focuses the control, selects everything and types text over it.
	ReplaceText(ctx context.Context, el Element, text string) error
	Text(ctx context.Context, el Element) (string, error)
}

// Form implements ControlSurface by resolving controls through a Driver on
// every call. Handles are never cached: the application rebuilds parts of its
// tree after a recalculation.
type Form struct {
	driver Driver
	ids    Elements
}

var _ Conn = (*Form)(nil)

// NewForm wraps driver with the given element ids.
func NewForm(driver Driver, ids Elements) *Form {
	return &Form{driver: driver, ids: ids}
}

func (f *Form) SelectSurfaceWeightMode(ctx context.Context) error {
	return f.click(ctx, f.ids.SurfaceWeightMode)
}

func (f *Form) ReadSurfaceLoad(ctx context.Context) (string, error) {
	return f.readField(ctx, f.ids.SurfaceWeight)
}

func (f *Form) ReadDepth(ctx context.Context) (string, error) {
	return f.readField(ctx, f.ids.Depth)
}

func (f *Form) WriteSurfaceWeight(ctx context.Context, value string) error {
	return f.writeField(ctx, f.ids.SurfaceWeight, value)
}

func (f *Form) WriteDepth(ctx context.Context, value string) error {
	return f.writeField(ctx, f.ids.Depth, value)
}

func (f *Form) ReadOutput(ctx context.Context) (string, error) {
	return f.readField(ctx, f.ids.Output)
}

func (f *Form) TriggerRecalculation(ctx context.Context) error {
	return f.click(ctx, f.ids.Refresh)
}

// Close releases the driver session when the driver holds one.
func (f *Form) Close() error {
	if closer, ok := f.driver.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (f *Form) click(ctx context.Context, id string) error {
	el, err := f.driver.FindElement(ctx, id)
	if err != nil {
		return wrap("find", err, id)
	}
	if err := f.driver.Click(ctx, el); err != nil {
		return wrap("click", err, id)
	}
	return nil
}

func (f *Form) dataField(ctx context.Context, pane string) (Element, error) {
	parent, err := f.driver.FindElement(ctx, pane)
	if err != nil {
		return "", wrap("find", err, pane)
	}
	field, err := f.driver.FindChild(ctx, parent, f.ids.DataField)
	if err != nil {
		return "", wrap("find", err, pane, f.ids.DataField)
	}
	return field, nil
}

func (f *Form) readField(ctx context.Context, pane string) (string, error) {
	field, err := f.dataField(ctx, pane)
	if err != nil {
		return "", err
	}
	value, err := f.driver.Text(ctx, field)
	if err != nil {
		return "", wrap("read", err, pane, f.ids.DataField)
	}
	return value, nil
}

func (f *Form) writeField(ctx context.Context, pane, value string) error {
	field, err := f.dataField(ctx, pane)
	if err != nil {
		return err
	}
	if err := f.driver.ReplaceText(ctx, field, value); err != nil {
		return wrap("write", err, pane, f.ids.DataField)
	}
	return nil
}

func wrap(op string, err error, path ...string) error {
	var ctrlErr *ControlError
	if errors.As(err, &ctrlErr) {
		return err
	}
	return &ControlError{Path: path, Op: op, Err: err}
}
