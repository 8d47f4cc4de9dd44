// Package rower provides the rowing machine drivers a session polls.
package rower

import (
	"context"
	"errors"

	"github.com/milnet2/coxswain/internal/workout"
)

// ErrEnded reports an ordinary end of the connection, e.g. the machine
// was unplugged or went silent.
var ErrEnded = errors.New("device ended")

// Device is a rowing machine. Poll blocks for one measurement cycle.
// Any error other than ErrEnded is an unrecoverable transport failure.
// Close is idempotent.
type Device interface {
	Name() string
	Open(ctx context.Context) error
	Poll(ctx context.Context) (workout.Measurement, error)
	Reset() error
	Close() error
}
