package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/milnet2/coxswain/internal/models"
	"github.com/milnet2/coxswain/internal/session"
	"github.com/milnet2/coxswain/internal/workout"
)

type fakeBackend struct {
	programs []workout.Program
	selected uuid.UUID
	device   string
	stopped  bool
	history  []models.WorkoutRow
	from, to time.Time
}

func (f *fakeBackend) Status(context.Context) (*session.Status, error) {
	return &session.Status{State: session.StateRunning, Device: "simulated"}, nil
}

func (f *fakeBackend) Programs(context.Context) ([]workout.Program, error) {
	return f.programs, nil
}

func (f *fakeBackend) SelectProgram(_ context.Context, id uuid.UUID) (*session.Status, error) {
	for i := range f.programs {
		if f.programs[i].ID == id {
			f.selected = id
			return &session.Status{Program: &f.programs[i]}, nil
		}
	}
	return nil, errors.New("not found")
}

func (f *fakeBackend) Deselect(context.Context) error {
	f.selected = uuid.Nil
	return nil
}

func (f *fakeBackend) StartSession(_ context.Context, device string) (*session.Status, error) {
	f.device = device
	return &session.Status{State: session.StateOpening}, nil
}

func (f *fakeBackend) StopSession(context.Context) error {
	f.stopped = true
	return nil
}

func (f *fakeBackend) Workouts(_ context.Context, start, end time.Time) ([]models.WorkoutRow, error) {
	if f.history == nil {
		return nil, ErrNoHistory
	}
	f.from, f.to = start, end
	return f.history, nil
}

func newHandlers(b Backend) *handlers {
	return &handlers{b: b, log: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

func call(args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{Params: mcp.CallToolParams{Arguments: args}}
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	for _, c := range res.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("result has no text content")
	return ""
}

// TestDefaultTimeRange verifies time range defaults (last 30 days) and parsing.
func TestDefaultTimeRange(t *testing.T) {
	start, end, err := defaultTimeRange("", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if days := end.Sub(start).Hours() / 24; days < 29.9 || days > 31.1 {
		t.Errorf("default range = %.1f days, want ~30", days)
	}

	start, end, err = defaultTimeRange("2026-01-01", "2026-01-31")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start.Day() != 1 || end.Day() != 31 {
		t.Errorf("range = %v..%v", start, end)
	}

	start, _, err = defaultTimeRange("2026-06-15T10:30:00Z", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if start.Hour() != 10 || start.Minute() != 30 {
		t.Errorf("start = %v, want 10:30", start)
	}

	if _, _, err = defaultTimeRange("not-a-date", ""); err == nil {
		t.Error("expected error for invalid date")
	}
}

// TestSelectProgramByName verifies programs can be selected by id or by
// case-insensitive name.
func TestSelectProgramByName(t *testing.T) {
	p := workout.Program{ID: uuid.New(), Name: "Pyramid", Segments: []workout.Segment{{Duration: 60}}}
	b := &fakeBackend{programs: []workout.Program{p}}
	h := newHandlers(b)

	res, err := h.selectProgram(context.Background(), call(map[string]any{"program": "pyramid"}))
	if err != nil || res.IsError {
		t.Fatalf("select by name: %v %s", err, resultText(t, res))
	}
	if b.selected != p.ID {
		t.Errorf("selected = %v, want %v", b.selected, p.ID)
	}

	b.selected = uuid.Nil
	res, _ = h.selectProgram(context.Background(), call(map[string]any{"program": p.ID.String()}))
	if res.IsError || b.selected != p.ID {
		t.Errorf("select by id failed: %s", resultText(t, res))
	}

	res, _ = h.selectProgram(context.Background(), call(map[string]any{"program": "marathon"}))
	if !res.IsError {
		t.Error("expected error for unknown program")
	}
	res, _ = h.selectProgram(context.Background(), call(nil))
	if !res.IsError {
		t.Error("expected error for missing argument")
	}
}

// TestSessionTools verifies start and stop reach the backend.
func TestSessionTools(t *testing.T) {
	b := &fakeBackend{}
	h := newHandlers(b)

	res, _ := h.startSession(context.Background(), call(map[string]any{"device": "/dev/ttyUSB0"}))
	if res.IsError || b.device != "/dev/ttyUSB0" {
		t.Errorf("start: device = %q, result %s", b.device, resultText(t, res))
	}
	var st session.Status
	if err := json.Unmarshal([]byte(resultText(t, res)), &st); err != nil || st.State != session.StateOpening {
		t.Errorf("start status = %+v, %v", st, err)
	}

	if res, _ := h.stopSession(context.Background(), call(nil)); res.IsError || !b.stopped {
		t.Error("stop did not reach backend")
	}
}

// TestGetWorkouts verifies the date arguments and the missing-history error.
func TestGetWorkouts(t *testing.T) {
	h := newHandlers(&fakeBackend{})
	res, _ := h.getWorkouts(context.Background(), call(nil))
	if !res.IsError {
		t.Error("expected error without history")
	}

	b := &fakeBackend{history: []models.WorkoutRow{{ID: uuid.New(), Name: "5k", Distance: 5000}}}
	h = newHandlers(b)
	res, _ = h.getWorkouts(context.Background(), call(map[string]any{"start": "2026-03-01", "end": "2026-03-31"}))
	if res.IsError {
		t.Fatalf("get_workouts: %s", resultText(t, res))
	}
	if b.from.Month() != time.March || b.to.Day() != 31 {
		t.Errorf("range = %v..%v", b.from, b.to)
	}
	var rows []models.WorkoutRow
	if err := json.Unmarshal([]byte(resultText(t, res)), &rows); err != nil || len(rows) != 1 || rows[0].Distance != 5000 {
		t.Errorf("rows = %+v, %v", rows, err)
	}

	res, _ = h.getWorkouts(context.Background(), call(map[string]any{"start": "last week"}))
	if !res.IsError {
		t.Error("expected error for invalid date")
	}
}

// TestStatusResource verifies the status resource serves JSON.
func TestStatusResource(t *testing.T) {
	h := newHandlers(&fakeBackend{})
	req := mcp.ReadResourceRequest{Params: mcp.ReadResourceParams{URI: "coxswain://status"}}

	contents, err := h.status(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	text, ok := contents[0].(mcp.TextResourceContents)
	if !ok || text.URI != "coxswain://status" || text.MIMEType != "application/json" {
		t.Fatalf("contents = %+v", contents)
	}
	var st session.Status
	if err := json.Unmarshal([]byte(text.Text), &st); err != nil || st.Device != "simulated" {
		t.Errorf("status = %+v, %v", st, err)
	}
}

// TestNewRegistersTools verifies every tool is listed by the server.
func TestNewRegistersTools(t *testing.T) {
	s := New(&fakeBackend{}, "test", slog.New(slog.NewTextHandler(io.Discard, nil)))
	resp := s.HandleMessage(context.Background(), json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	data, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"get_session_status", "list_programs", "select_program", "deselect_program", "start_session", "stop_session", "get_workouts"} {
		if !strings.Contains(string(data), `"`+name+`"`) {
			t.Errorf("tool %s not listed", name)
		}
	}
}
