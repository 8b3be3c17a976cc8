package winappdriver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/kingrea/buckling-automation/internal/config"
	"github.com/kingrea/buckling-automation/internal/surface"
)

// fakeDriverServer speaks enough of the JSON wire protocol to attach and to
// drive a form with one edit field per pane.
type fakeDriverServer struct {
	mu       sync.Mutex
	sessions []map[string]any
	deleted  []string
	values   map[string]string
	typed    []string
	clicks   []string
	missing  map[string]bool
}

func newFakeDriverServer() *fakeDriverServer {
	return &fakeDriverServer{
		values:  map[string]string{"txtFOE/txtData": "10.2"},
		missing: map[string]bool{},
	}
}

func (f *fakeDriverServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var body map[string]any
	if data, _ := io.ReadAll(r.Body); len(data) > 0 {
		_ = json.Unmarshal(data, &body)
	}
	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")

	switch {
	case r.Method == http.MethodPost && len(parts) == 1 && parts[0] == "session":
		caps, _ := body["desiredCapabilities"].(map[string]any)
		f.sessions = append(f.sessions, caps)
		id := "root"
		if _, ok := caps["appTopLevelWindow"]; ok {
			id = "window"
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessionId": id, "status": 0, "value": caps})
	case r.Method == http.MethodDelete && len(parts) == 2:
		f.deleted = append(f.deleted, parts[1])
		writeJSON(w, http.StatusOK, map[string]any{"sessionId": parts[1], "status": 0, "value": nil})
	case r.Method == http.MethodPost && parts[len(parts)-1] == "element":
		id, _ := body["value"].(string)
		if f.missing[id] {
			writeJSON(w, http.StatusNotFound, map[string]any{"status": 7, "value": map[string]string{"message": "An element could not be located"}})
			return
		}
		ref := id
		if len(parts) == 5 {
			ref = parts[3] + "/" + id
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": 0, "value": map[string]string{"ELEMENT": ref}})
	case r.Method == http.MethodGet && strings.Contains(r.URL.Path, "/attribute/NativeWindowHandle"):
		writeJSON(w, http.StatusOK, map[string]any{"status": 0, "value": "197346"})
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/attribute/Value.Value"):
		ref := elementRef(r.URL.Path, "/attribute/Value.Value")
		value, ok := f.values[ref]
		if !ok {
			writeJSON(w, http.StatusOK, map[string]any{"status": 0, "value": nil})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": 0, "value": value})
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/text"):
		writeJSON(w, http.StatusOK, map[string]any{"status": 0, "value": "label text"})
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/click"):
		f.clicks = append(f.clicks, elementRef(r.URL.Path, "/click"))
		writeJSON(w, http.StatusOK, map[string]any{"status": 0, "value": nil})
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/value"):
		ref := elementRef(r.URL.Path, "/value")
		keys, _ := body["value"].([]any)
		text, _ := keys[0].(string)
		f.typed = append(f.typed, text)
		f.values[ref] = strings.TrimPrefix(text, keyControl+"a"+keyControl)
		writeJSON(w, http.StatusOK, map[string]any{"status": 0, "value": nil})
	default:
		writeJSON(w, http.StatusNotFound, map[string]any{"value": map[string]string{"error": "unknown command", "message": r.URL.Path}})
	}
}

// elementRef extracts the element reference between /element/ and suffix.
func elementRef(path, suffix string) string {
	path = strings.TrimSuffix(path, suffix)
	idx := strings.Index(path, "/element/")
	return path[idx+len("/element/"):]
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func attachTest(t *testing.T, fake *fakeDriverServer) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	client, err := Attach(context.Background(), Settings{URL: srv.URL + "/", RequestTimeout: time.Second})
	if err != nil {
		t.Fatalf("attach: %v", err)
	}
	return client
}

func TestAttachOpensWindowSession(t *testing.T) {
	fake := newFakeDriverServer()
	client := attachTest(t, fake)

	if client.SessionID() != "window" {
		t.Fatalf("session = %q", client.SessionID())
	}
	if len(fake.sessions) != 2 {
		t.Fatalf("expected two sessions, got %d", len(fake.sessions))
	}
	if fake.sessions[0]["app"] != "Root" {
		t.Fatalf("first session caps = %v", fake.sessions[0])
	}
	if got := fake.sessions[1]["appTopLevelWindow"]; got != "0x302e2" {
		t.Fatalf("window handle = %v", got)
	}
	if len(fake.deleted) != 1 || fake.deleted[0] != "root" {
		t.Fatalf("root session should be discarded, deleted = %v", fake.deleted)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if fake.deleted[len(fake.deleted)-1] != "window" {
		t.Fatalf("window session not deleted: %v", fake.deleted)
	}
	if err := client.Close(); err != nil {
		t.Fatalf("second close should be a no-op: %v", err)
	}
}

func TestAttachMissingWindowIsControlNotFound(t *testing.T) {
	fake := newFakeDriverServer()
	fake.missing[DefaultWindow] = true
	srv := httptest.NewServer(fake)
	defer srv.Close()

	_, err := Attach(context.Background(), Settings{URL: srv.URL})
	if !errors.Is(err, surface.ErrControlNotFound) {
		t.Fatalf("expected control not found, got %v", err)
	}
	var ctrlErr *surface.ControlError
	if !errors.As(err, &ctrlErr) || ctrlErr.Path[0] != DefaultWindow {
		t.Fatalf("expected control error naming the window, got %v", err)
	}
}

func TestFormOverDriverRoundTrip(t *testing.T) {
	fake := newFakeDriverServer()
	client := attachTest(t, fake)
	form := surface.NewForm(client, surface.DefaultElements())
	ctx := context.Background()

	if err := form.WriteSurfaceWeight(ctx, "138661.3"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if got := fake.typed[0]; got != keyControl+"a"+keyControl+"138661.3" {
		t.Fatalf("typed %q", got)
	}
	value, err := form.ReadSurfaceLoad(ctx)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if value != "138661.3" {
		t.Fatalf("read back %q", value)
	}
	output, err := form.ReadOutput(ctx)
	if err != nil || output != "10.2" {
		t.Fatalf("output = %q, %v", output, err)
	}
	if err := form.TriggerRecalculation(ctx); err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if last := fake.clicks[len(fake.clicks)-1]; last != "btnRefresh" {
		t.Fatalf("last click = %q", last)
	}
}

func TestTextFallsBackWithoutValuePattern(t *testing.T) {
	client := attachTest(t, newFakeDriverServer())
	text, err := client.Text(context.Background(), surface.Element("lblUnits"))
	if err != nil {
		t.Fatalf("text: %v", err)
	}
	if text != "label text" {
		t.Fatalf("text = %q", text)
	}
}

func TestMissingChildMapsToControlNotFound(t *testing.T) {
	fake := newFakeDriverServer()
	client := attachTest(t, fake)
	fake.mu.Lock()
	fake.missing["txtData"] = true
	fake.mu.Unlock()

	_, err := surface.NewForm(client, surface.DefaultElements()).ReadDepth(context.Background())
	if !errors.Is(err, surface.ErrControlNotFound) {
		t.Fatalf("expected control not found, got %v", err)
	}
	var driverErr *DriverError
	if !errors.As(err, &driverErr) || driverErr.Status != statusNoSuchElement {
		t.Fatalf("expected driver error with status 7, got %v", err)
	}
}

func TestDriverErrorMatchesW3CCodes(t *testing.T) {
	err := &DriverError{HTTPStatus: 404, Code: "no such window", Message: "gone"}
	if !errors.Is(err, surface.ErrControlNotFound) {
		t.Fatalf("no such window should match")
	}
	other := &DriverError{HTTPStatus: 500, Code: "unknown error"}
	if errors.Is(other, surface.ErrControlNotFound) {
		t.Fatalf("unknown error should not match")
	}
	if other.Error() != "driver error unknown error (HTTP 500)" {
		t.Fatalf("message = %q", other.Error())
	}
}

func TestParseWindowHandle(t *testing.T) {
	cases := map[string]string{
		`"197346"`: "0x302e2",
		`197346`:   "0x302e2",
	}
	for raw, want := range cases {
		got, err := parseWindowHandle(json.RawMessage(raw))
		if err != nil || got != want {
			t.Fatalf("parseWindowHandle(%s) = %q, %v", raw, got, err)
		}
	}
	for _, raw := range []string{`"0"`, `"abc"`, `null`, `{}`} {
		if _, err := parseWindowHandle(json.RawMessage(raw)); err == nil {
			t.Fatalf("expected error for %s", raw)
		}
	}
}

func TestSettingsFromConfig(t *testing.T) {
	if got := SettingsFromConfig(nil); got.URL != DefaultURL || got.Window != DefaultWindow || got.RequestTimeout != DefaultRequestTimeout {
		t.Fatalf("defaults = %+v", got)
	}
	cfg := &config.Config{}
	cfg.Project.Surface.DriverURL = " http://10.0.0.5:4723/ "
	cfg.Project.Surface.Elements.Window = "frmMain"
	cfg.Project.Surface.RequestTimeout = 5 * time.Second
	got := SettingsFromConfig(cfg)
	if got.URL != "http://10.0.0.5:4723" || got.Window != "frmMain" || got.RequestTimeout != 5*time.Second {
		t.Fatalf("settings = %+v", got)
	}
}
