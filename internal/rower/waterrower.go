package rower

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"github.com/milnet2/coxswain/internal/workout"
)

// errTimeout is returned by a port read that saw no data in time.
var errTimeout = errors.New("read timeout")

// register is a memory location of the rowing computer.
type register struct {
	cmd  string // request, e.g. IRD140
	resp string // response prefix, e.g. IDD140
	set  func(m *workout.Measurement, v string) error
}

var registers = []register{
	{"IRT1E1", "IDT1E1", setDuration},
	{"IRD057", "IDD057", setHex(func(m *workout.Measurement, v int) { m.Distance = v })},
	{"IRD140", "IDD140", setHex(func(m *workout.Measurement, v int) { m.Strokes = v })},
	{"IRD14A", "IDD14A", setHex(func(m *workout.Measurement, v int) { m.Speed = v })},
	{"IRS1A9", "IDS1A9", setHex(func(m *workout.Measurement, v int) { m.StrokeRate = v })},
	{"IRS1A0", "IDS1A0", setHex(func(m *workout.Measurement, v int) { m.Pulse = v })},
}

func setHex(f func(m *workout.Measurement, v int)) func(*workout.Measurement, string) error {
	return func(m *workout.Measurement, s string) error {
		v, err := strconv.ParseUint(s, 16, 32)
		if err != nil {
			return err
		}
		f(m, int(v))
		return nil
	}
}

// setDuration decodes the display clock, BCD hours, minutes, seconds.
func setDuration(m *workout.Measurement, s string) error {
	if len(s) != 6 {
		return fmt.Errorf("clock %q: want 6 digits", s)
	}
	var parts [3]int
	for i := range parts {
		v, err := strconv.Atoi(s[i*2 : i*2+2])
		if err != nil {
			return fmt.Errorf("clock %q: %w", s, err)
		}
		parts[i] = v
	}
	m.Duration = parts[0]*3600 + parts[1]*60 + parts[2]
	return nil
}

// Port opens the transport to a rowing computer.
type Port func(path string, baud int) (io.ReadWriteCloser, error)

// WaterRower speaks the line based ASCII protocol of the WaterRower S4
// rowing computer.
type WaterRower struct {
	path string
	baud int
	port Port
	log  *slog.Logger

	rw        io.ReadWriteCloser
	r         *bufio.Reader
	closeOnce sync.Once
	closeErr  error
}

// NewWaterRower creates a driver for the serial device at path.
func NewWaterRower(path string, baud int, log *slog.Logger) *WaterRower {
	return newWaterRower(path, baud, openSerial, log)
}

func newWaterRower(path string, baud int, port Port, log *slog.Logger) *WaterRower {
	return &WaterRower{path: path, baud: baud, port: port, log: log}
}

func (w *WaterRower) Name() string { return "WaterRower " + w.path }

// Open connects and performs the USB handshake.
func (w *WaterRower) Open(ctx context.Context) error {
	rw, err := w.port(w.path, w.baud)
	if err != nil {
		return fmt.Errorf("opening %s: %w", w.path, err)
	}
	w.rw = rw
	w.r = bufio.NewReader(rw)

	if err := w.send("USB"); err != nil {
		return err
	}
	for range 10 {
		line, err := w.readLine()
		if err != nil {
			return fmt.Errorf("handshake: %w", err)
		}
		if line == "_WR_" {
			w.log.Info("rowing computer connected", "path", w.path)
			return w.Reset()
		}
	}
	return fmt.Errorf("handshake: no answer from %s", w.path)
}

// Poll requests every register and waits until each one was answered.
// A repeated answer, such as a late one from the previous poll, updates
// the value but does not count again.
func (w *WaterRower) Poll(ctx context.Context) (workout.Measurement, error) {
	var m workout.Measurement
	if w.rw == nil {
		return m, errors.New("device not open")
	}
	for _, reg := range registers {
		if err := w.send(reg.cmd); err != nil {
			return m, err
		}
	}

	answered := make([]bool, len(registers))
	pending := len(registers)
	for pending > 0 {
		if err := ctx.Err(); err != nil {
			return m, err
		}
		line, err := w.readLine()
		if err != nil {
			return m, err
		}
		for i, reg := range registers {
			v, ok := strings.CutPrefix(line, reg.resp)
			if !ok {
				continue
			}
			if err := reg.set(&m, v); err != nil {
				w.log.Warn("malformed register value", "line", line, "error", err)
			}
			if !answered[i] {
				answered[i] = true
				pending--
			}
			break
		}
		// stroke, pulse and ping notifications are not needed
	}
	return m, nil
}

// Reset clears the counters of the rowing computer.
func (w *WaterRower) Reset() error {
	return w.send("RESET")
}

func (w *WaterRower) Close() error {
	w.closeOnce.Do(func() {
		if w.rw == nil {
			return
		}
		_ = w.send("EXIT")
		w.closeErr = w.rw.Close()
	})
	return w.closeErr
}

func (w *WaterRower) send(cmd string) error {
	if _, err := io.WriteString(w.rw, cmd+"\r\n"); err != nil {
		if errors.Is(err, io.ErrClosedPipe) {
			return ErrEnded
		}
		return fmt.Errorf("writing %s: %w", cmd, err)
	}
	return nil
}

// readLine maps a silent or closed line to ErrEnded.
func (w *WaterRower) readLine() (string, error) {
	line, err := w.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, errTimeout) || errors.Is(err, io.ErrClosedPipe) {
			return "", ErrEnded
		}
		return "", fmt.Errorf("reading: %w", err)
	}
	return strings.TrimSpace(line), nil
}
