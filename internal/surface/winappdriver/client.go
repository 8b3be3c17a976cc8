// Package winappdriver drives the application's UI Automation tree through
// Windows Application Driver, which speaks the WebDriver JSON protocol over
// HTTP. Controls are located by automation id, the same ids the form exposes
// to accessibility tools.
package winappdriver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"

	"github.com/kingrea/buckling-automation/internal/surface"
)

const (
	locatorAccessibilityID = "accessibility id"
	// keyControl toggles the Ctrl modifier in a WebDriver key sequence.
	keyControl = "\ue009"

	// w3cElementKey is the element reference key used by W3C responses.
	w3cElementKey = "element-6066-11e4-a52e-4f735466cecf"

	statusNoSuchElement = 7
	statusNoSuchWindow  = 23
)

// Logger receives diagnostic lines about driver traffic.
type Logger interface {
	Printf(format string, args ...any)
}

// Client is a WebDriver session attached to the application's main window.
// It implements surface.Driver.
type Client struct {
	settings Settings
	http     *http.Client
	logger   Logger

	mu        sync.Mutex
	sessionID string
}

var _ surface.Driver = (*Client)(nil)

// Option customizes client construction.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for driver requests.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// Attach opens a desktop session, finds the main window by automation id and
// opens a second session scoped to that window's native handle. The desktop
// session is discarded once the window session exists.
func Attach(ctx context.Context, settings Settings, opts ...Option) (*Client, error) {
	settings.normalize()
	c := &Client{
		settings: settings,
		http:     &http.Client{Timeout: settings.RequestTimeout},
		logger:   nopLogger{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	root, err := c.newSession(ctx, map[string]any{"app": "Root"})
	if err != nil {
		return nil, fmt.Errorf("winappdriver: open desktop session: %w", err)
	}
	defer c.deleteSession(context.WithoutCancel(ctx), root)

	window, err := c.findElement(ctx, root, "", settings.Window)
	if err != nil {
		return nil, &surface.ControlError{Path: []string{settings.Window}, Op: "attach", Err: err}
	}
	var rawHandle json.RawMessage
	if err := c.do(ctx, http.MethodGet, c.sessionPath(root, "element", string(window), "attribute", "NativeWindowHandle"), nil, &rawHandle); err != nil {
		return nil, fmt.Errorf("winappdriver: read window handle: %w", err)
	}
	handle, err := parseWindowHandle(rawHandle)
	if err != nil {
		return nil, fmt.Errorf("winappdriver: %w", err)
	}

	session, err := c.newSession(ctx, map[string]any{"appTopLevelWindow": handle})
	if err != nil {
		return nil, fmt.Errorf("winappdriver: attach window %s: %w", handle, err)
	}
	c.sessionID = session
	c.logger.Printf("attached to %s (handle %s) session %s", settings.Window, handle, session)
	return c, nil
}

// Connector returns a surface.Connector that attaches a fresh session per batch.
func Connector(settings Settings, ids surface.Elements, opts ...Option) surface.Connector {
	return func(ctx context.Context) (surface.Conn, error) {
		client, err := Attach(ctx, settings, opts...)
		if err != nil {
			return nil, err
		}
		return surface.NewForm(client, ids), nil
	}
}

// SessionID returns the window session id.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) FindElement(ctx context.Context, automationID string) (surface.Element, error) {
	return c.findElement(ctx, c.SessionID(), "", automationID)
}

func (c *Client) FindChild(ctx context.Context, parent surface.Element, automationID string) (surface.Element, error) {
	return c.findElement(ctx, c.SessionID(), parent, automationID)
}

func (c *Client) Click(ctx context.Context, el surface.Element) error {
	return c.do(ctx, http.MethodPost, c.sessionPath(c.SessionID(), "element", string(el), "click"), map[string]any{}, nil)
}

// ReplaceText clicks into the field, sends Ctrl+A and types text over the selection.
func (c *Client) ReplaceText(ctx context.Context, el surface.Element, text string) error {
	if err := c.Click(ctx, el); err != nil {
		return err
	}
	keys := keyControl + "a" + keyControl + text
	body := map[string]any{
		"value": []string{keys},
		"text":  keys,
	}
	return c.do(ctx, http.MethodPost, c.sessionPath(c.SessionID(), "element", string(el), "value"), body, nil)
}

// Text reads the control's UIA value, falling back to its text when the
// control has no value pattern.
func (c *Client) Text(ctx context.Context, el surface.Element) (string, error) {
	session := c.SessionID()
	var value *string
	if err := c.do(ctx, http.MethodGet, c.sessionPath(session, "element", string(el), "attribute", "Value.Value"), nil, &value); err != nil {
		return "", err
	}
	if value != nil {
		return *value, nil
	}
	var text string
	if err := c.do(ctx, http.MethodGet, c.sessionPath(session, "element", string(el), "text"), nil, &text); err != nil {
		return "", err
	}
	return text, nil
}

// Close deletes the window session.
func (c *Client) Close() error {
	c.mu.Lock()
	session := c.sessionID
	c.sessionID = ""
	c.mu.Unlock()
	if session == "" {
		return nil
	}
	return c.deleteSession(context.Background(), session)
}

func (c *Client) newSession(ctx context.Context, caps map[string]any) (string, error) {
	caps["platformName"] = "Windows"
	caps["deviceName"] = "WindowsPC"
	body := map[string]any{"desiredCapabilities": caps}
	var resp rawResponse
	if err := c.roundTrip(ctx, http.MethodPost, "/session", body, &resp); err != nil {
		return "", err
	}
	if resp.SessionID != "" {
		return resp.SessionID, nil
	}
	var w3c struct {
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(resp.Value, &w3c); err == nil && w3c.SessionID != "" {
		return w3c.SessionID, nil
	}
	return "", fmt.Errorf("new session response carried no session id")
}

func (c *Client) deleteSession(ctx context.Context, session string) error {
	if err := c.do(ctx, http.MethodDelete, c.sessionPath(session), nil, nil); err != nil {
		c.logger.Printf("delete session %s: %v", session, err)
		return fmt.Errorf("winappdriver: delete session: %w", err)
	}
	return nil
}

func (c *Client) findElement(ctx context.Context, session string, parent surface.Element, automationID string) (surface.Element, error) {
	path := c.sessionPath(session, "element")
	if parent != "" {
		path = c.sessionPath(session, "element", string(parent), "element")
	}
	body := map[string]string{"using": locatorAccessibilityID, "value": automationID}
	var ref map[string]string
	if err := c.do(ctx, http.MethodPost, path, body, &ref); err != nil {
		return "", err
	}
	if id := ref["ELEMENT"]; id != "" {
		return surface.Element(id), nil
	}
	if id := ref[w3cElementKey]; id != "" {
		return surface.Element(id), nil
	}
	return "", fmt.Errorf("element %s: response carried no element reference", automationID)
}

func (c *Client) sessionPath(session string, parts ...string) string {
	segments := append([]string{"session", session}, parts...)
	return "/" + strings.Join(segments, "/")
}

// rawResponse covers both the JSON wire protocol and W3C envelopes.
type rawResponse struct {
	SessionID string          `json:"sessionId"`
	Status    *int            `json:"status"`
	Value     json.RawMessage `json:"value"`
}

type errorValue struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// do performs a request and decodes the response's value into out.
func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var resp rawResponse
	if err := c.roundTrip(ctx, method, path, body, &resp); err != nil {
		return err
	}
	if out == nil || len(resp.Value) == 0 {
		return nil
	}
	if err := json.Unmarshal(resp.Value, out); err != nil {
		return fmt.Errorf("decode %s %s value: %w", method, path, err)
	}
	return nil
}

func (c *Client) roundTrip(ctx context.Context, method, path string, body any, resp *rawResponse) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s %s: %w", method, path, err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.settings.URL+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}
	res, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer res.Body.Close()
	data, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, resp); err != nil {
			return fmt.Errorf("%s %s: decode response (HTTP %d): %w", method, path, res.StatusCode, err)
		}
	}
	if err := responseError(res.StatusCode, resp); err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	return nil
}

// DriverError is a failure reported by the driver itself.
type DriverError struct {
	HTTPStatus int
	Status     int
	Code       string
	Message    string
}

func (e *DriverError) Error() string {
	code := e.Code
	if code == "" {
		code = "status " + strconv.Itoa(e.Status)
	}
	if e.Message == "" {
		return fmt.Sprintf("driver error %s (HTTP %d)", code, e.HTTPStatus)
	}
	return fmt.Sprintf("driver error %s (HTTP %d): %s", code, e.HTTPStatus, e.Message)
}

// Is lets errors.Is match surface.ErrControlNotFound for missing elements and windows.
func (e *DriverError) Is(target error) bool {
	if target != surface.ErrControlNotFound {
		return false
	}
	switch {
	case e.Status == statusNoSuchElement, e.Status == statusNoSuchWindow:
		return true
	case e.Code == "no such element", e.Code == "no such window":
		return true
	}
	return false
}

func responseError(httpStatus int, resp *rawResponse) error {
	status := 0
	if resp.Status != nil {
		status = *resp.Status
	}
	var detail errorValue
	if len(resp.Value) > 0 && resp.Value[0] == '{' {
		_ = json.Unmarshal(resp.Value, &detail)
	}
	if httpStatus < 300 && status == 0 && detail.Error == "" {
		return nil
	}
	return &DriverError{
		HTTPStatus: httpStatus,
		Status:     status,
		Code:       detail.Error,
		Message:    detail.Message,
	}
}

// parseWindowHandle converts the decimal NativeWindowHandle attribute into the
// hex form appTopLevelWindow expects.
func parseWindowHandle(raw json.RawMessage) (string, error) {
	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		var number json.Number
		if err := json.Unmarshal(raw, &number); err != nil {
			return "", fmt.Errorf("window handle %s is not a number", string(raw))
		}
		text = number.String()
	}
	value, err := strconv.ParseInt(strings.TrimSpace(text), 10, 64)
	if err != nil || value == 0 {
		return "", errors.New("window handle " + strconv.Quote(text) + " is not usable")
	}
	return "0x" + strconv.FormatInt(value, 16), nil
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
