//go:build !linux

package rower

import (
	"errors"
	"io"
)

func openSerial(path string, baud int) (io.ReadWriteCloser, error) {
	return nil, errors.New("serial rowing computers are only supported on linux")
}
