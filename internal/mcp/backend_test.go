package mcp

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/milnet2/coxswain/internal/rower"
	"github.com/milnet2/coxswain/internal/session"
	"github.com/milnet2/coxswain/internal/storage"
	"github.com/milnet2/coxswain/internal/workout"
)

// TestLocalBackend verifies the local backend drives a real session
// manager from the program store.
func TestLocalBackend(t *testing.T) {
	store, err := storage.Open(t.TempDir(), storage.Defaults{})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	m := session.New(session.Options{Store: store, Log: slog.New(slog.NewTextHandler(io.Discard, nil))})
	defer m.Close()

	ctx := context.Background()
	p := &workout.Program{Name: "1k", Segments: []workout.Segment{{Distance: 1000}}}
	if err := store.SaveProgram(ctx, p); err != nil {
		t.Fatal(err)
	}

	var opened string
	l := &Local{Manager: m, Store: store, Devices: func(path string) (rower.Device, error) {
		opened = path
		return rower.NewSimulated(5 * time.Millisecond), nil
	}}

	if _, err := l.SelectProgram(ctx, p.ID); err != nil {
		t.Fatal(err)
	}
	if got := m.Program(); got == nil || got.ID != p.ID {
		t.Fatalf("selected = %+v", got)
	}

	if _, err := l.StartSession(ctx, "/dev/ttyACM0"); err != nil {
		t.Fatal(err)
	}
	if opened != "/dev/ttyACM0" {
		t.Errorf("opened %q", opened)
	}
	if err := l.StopSession(ctx); err != nil {
		t.Fatal(err)
	}

	if _, err := l.Workouts(ctx, time.Now().Add(-time.Hour), time.Now()); !errors.Is(err, ErrNoHistory) {
		t.Errorf("err = %v, want ErrNoHistory", err)
	}
}
