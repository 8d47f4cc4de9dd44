package mcp

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/milnet2/coxswain/internal/models"
	"github.com/milnet2/coxswain/internal/session"
	"github.com/milnet2/coxswain/internal/workout"
)

// newTestServer creates an httptest server that routes requests to handler functions
// keyed by method and path. Verifies the HTTP client sends correct paths and query params.
func newTestServer(t *testing.T, handlers map[string]http.HandlerFunc) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h, ok := handlers[r.Method+" "+r.URL.Path]
		if !ok {
			t.Errorf("unexpected request: %s %s", r.Method, r.URL.Path)
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
}

func writeTestJSON(t *testing.T, w http.ResponseWriter, status int, v any) {
	t.Helper()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		t.Fatal(err)
	}
}

// TestClientStatus verifies the status payload decodes including state and
// event names.
func TestClientStatus(t *testing.T) {
	ts := newTestServer(t, map[string]http.HandlerFunc{
		"GET /api/v1/status": func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("X-API-Key") != "" {
				t.Error("API key sent on read")
			}
			ev := workout.EventSegmentFinished
			writeTestJSON(t, w, http.StatusOK, session.Status{State: session.StateRunning, Device: "WaterRower /dev/ttyACM0", Event: &ev})
		},
	})
	defer ts.Close()

	st, err := NewHTTPClient(ts.URL+"/", "k").Status(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if st.State != session.StateRunning || st.Event == nil || *st.Event != workout.EventSegmentFinished {
		t.Errorf("status = %+v", st)
	}
}

// TestClientMutations verifies mutating calls use the right routes and
// carry the API key.
func TestClientMutations(t *testing.T) {
	id := uuid.New()
	var device string
	keyed := func(next http.HandlerFunc) http.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if got := r.Header.Get("X-API-Key"); got != "k" {
				t.Errorf("%s %s: key = %q", r.Method, r.URL.Path, got)
			}
			next(w, r)
		}
	}
	ts := newTestServer(t, map[string]http.HandlerFunc{
		"POST /api/v1/programs/" + id.String() + "/select": keyed(func(w http.ResponseWriter, r *http.Request) {
			writeTestJSON(t, w, http.StatusOK, session.Status{Program: &workout.Program{ID: id, Name: "2k"}})
		}),
		"DELETE /api/v1/selection": keyed(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNoContent)
		}),
		"POST /api/v1/session": keyed(func(w http.ResponseWriter, r *http.Request) {
			var body struct{ Device string }
			json.NewDecoder(r.Body).Decode(&body)
			device = body.Device
			writeTestJSON(t, w, http.StatusAccepted, session.Status{State: session.StateOpening})
		}),
		"DELETE /api/v1/session": keyed(func(w http.ResponseWriter, r *http.Request) {
			writeTestJSON(t, w, http.StatusAccepted, session.Status{})
		}),
	})
	defer ts.Close()

	c := NewHTTPClient(ts.URL, "k")
	ctx := context.Background()

	st, err := c.SelectProgram(ctx, id)
	if err != nil || st.Program == nil || st.Program.Name != "2k" {
		t.Errorf("select = %+v, %v", st, err)
	}
	if err := c.Deselect(ctx); err != nil {
		t.Errorf("deselect: %v", err)
	}
	if st, err := c.StartSession(ctx, "/dev/ttyACM0"); err != nil || st.State != session.StateOpening {
		t.Errorf("start = %+v, %v", st, err)
	}
	if device != "/dev/ttyACM0" {
		t.Errorf("device = %q", device)
	}
	if err := c.StopSession(ctx); err != nil {
		t.Errorf("stop: %v", err)
	}
}

// TestClientWorkouts verifies the time range is sent as RFC 3339.
func TestClientWorkouts(t *testing.T) {
	ts := newTestServer(t, map[string]http.HandlerFunc{
		"GET /api/v1/workouts": func(w http.ResponseWriter, r *http.Request) {
			if got := r.URL.Query().Get("start"); got != "2026-01-01T00:00:00Z" {
				t.Errorf("start=%q", got)
			}
			writeTestJSON(t, w, http.StatusOK, []models.WorkoutRow{{Name: "intervals", Strokes: 240}})
		},
	})
	defer ts.Close()

	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows, err := NewHTTPClient(ts.URL, "").Workouts(context.Background(), start, start.AddDate(0, 0, 7))
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].Strokes != 240 {
		t.Errorf("rows = %+v", rows)
	}
}

// TestClientErrorStatus verifies a non-success status surfaces the server
// message.
func TestClientErrorStatus(t *testing.T) {
	ts := newTestServer(t, map[string]http.HandlerFunc{
		"GET /api/v1/programs": func(w http.ResponseWriter, r *http.Request) {
			writeTestJSON(t, w, http.StatusInternalServerError, map[string]string{"error": "disk full"})
		},
	})
	defer ts.Close()

	_, err := NewHTTPClient(ts.URL, "").Programs(context.Background())
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Errorf("err = %v", err)
	}
}
