package main

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/milnet2/coxswain/internal/config"
	"github.com/milnet2/coxswain/internal/storage"
	"github.com/milnet2/coxswain/internal/workout"
)

// TestFindProgram verifies lookup by id and by case-insensitive name.
func TestFindProgram(t *testing.T) {
	store, err := storage.Open(t.TempDir(), storage.Defaults{})
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	p := &workout.Program{Name: "Steady State", Segments: []workout.Segment{{Duration: 1800}}}
	if err := store.SaveProgram(ctx, p); err != nil {
		t.Fatal(err)
	}

	for _, ref := range []string{p.ID.String(), "steady state"} {
		got, err := findProgram(ctx, store, ref)
		if err != nil || got.ID != p.ID {
			t.Errorf("findProgram(%q) = %+v, %v", ref, got, err)
		}
	}
	if _, err := findProgram(ctx, store, "sprints"); err == nil {
		t.Error("expected error for unknown program")
	}
}

// TestDeviceOpener verifies the simulator fallback and the check for a
// missing serial port.
func TestDeviceOpener(t *testing.T) {
	cfg := config.Default()
	open := deviceOpener(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)))

	dev, err := open("")
	if err != nil || dev != nil {
		t.Errorf("open(\"\") = %v, %v, want simulator", dev, err)
	}

	cfg.Rower.Device = filepath.Join(t.TempDir(), "ttyACM0")
	if _, err := open(""); err == nil {
		t.Error("expected error for missing device")
	}
}
