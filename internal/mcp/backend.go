package mcp

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/milnet2/coxswain/internal/models"
	"github.com/milnet2/coxswain/internal/rower"
	"github.com/milnet2/coxswain/internal/session"
	"github.com/milnet2/coxswain/internal/workout"
)

// ErrNoHistory is returned for workout queries when no history database is
// configured.
var ErrNoHistory = errors.New("workout history not configured")

// Backend abstracts the rowing session for MCP tools. Both Local (in the
// serving process) and HTTPClient (remote via REST API) satisfy it.
type Backend interface {
	Status(ctx context.Context) (*session.Status, error)
	Programs(ctx context.Context) ([]workout.Program, error)
	SelectProgram(ctx context.Context, id uuid.UUID) (*session.Status, error)
	Deselect(ctx context.Context) error
	StartSession(ctx context.Context, device string) (*session.Status, error)
	StopSession(ctx context.Context) error
	Workouts(ctx context.Context, start, end time.Time) ([]models.WorkoutRow, error)
}

// ProgramStore is the part of the program store the tools need.
type ProgramStore interface {
	Programs(ctx context.Context) ([]workout.Program, error)
	Program(ctx context.Context, id uuid.UUID) (*workout.Program, error)
}

// WorkoutHistory lists recorded workouts.
type WorkoutHistory interface {
	QueryWorkouts(ctx context.Context, start, end time.Time) ([]models.WorkoutRow, error)
}

// Local drives the session manager of this process.
type Local struct {
	Manager *session.Manager
	Store   ProgramStore
	// History is nil when no history database is configured.
	History WorkoutHistory
	// Devices opens the machine at a path; nil always uses the simulator.
	Devices func(path string) (rower.Device, error)
}

var _ Backend = (*Local)(nil)

func (l *Local) Status(context.Context) (*session.Status, error) {
	st := l.Manager.Status()
	return &st, nil
}

func (l *Local) Programs(ctx context.Context) ([]workout.Program, error) {
	return l.Store.Programs(ctx)
}

func (l *Local) SelectProgram(ctx context.Context, id uuid.UUID) (*session.Status, error) {
	p, err := l.Store.Program(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := l.Manager.Select(p); err != nil {
		return nil, err
	}
	return l.Status(ctx)
}

func (l *Local) Deselect(context.Context) error {
	l.Manager.Deselect()
	return nil
}

func (l *Local) StartSession(ctx context.Context, device string) (*session.Status, error) {
	var dev rower.Device
	if l.Devices != nil {
		d, err := l.Devices(device)
		if err != nil {
			return nil, err
		}
		dev = d
	}
	l.Manager.Start(dev)
	return l.Status(ctx)
}

func (l *Local) StopSession(context.Context) error {
	l.Manager.Stop()
	return nil
}

func (l *Local) Workouts(ctx context.Context, start, end time.Time) ([]models.WorkoutRow, error) {
	if l.History == nil {
		return nil, ErrNoHistory
	}
	return l.History.QueryWorkouts(ctx, start, end)
}
