package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"github.com/milnet2/coxswain/internal/heart"
)

func newHeartCmd(configPath *string) *cobra.Command {
	heartCmd := &cobra.Command{Use: "heart", Short: "Discover heart-rate sensors"}

	var timeout time.Duration
	var simulated bool
	heartCmd.PersistentFlags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to search")
	heartCmd.PersistentFlags().BoolVar(&simulated, "simulated", false, "use simulated sensors instead of the Bluetooth radio")

	newScanner := func() (*heart.Scanner, error) {
		cfg, log, err := loadConfig(*configPath, os.Stderr)
		if err != nil {
			return nil, err
		}
		var adapter heart.Adapter = heart.NewBLEAdapter(log)
		if simulated {
			adapter = simulatedSensors()
		}
		return heart.NewScanner(adapter, cfg.Heart.LostAfter, log), nil
	}

	scanCmd := &cobra.Command{
		Use:   "scan",
		Short: "List sensors in range",
		RunE: func(cmd *cobra.Command, _ []string) error {
			scanner, err := newScanner()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			stopScan, err := scanner.Scan(&printListener{out: cmd.OutOrStdout(), seen: make(map[string]bool)})
			if err != nil {
				return err
			}
			defer stopScan()

			select {
			case <-time.After(timeout):
			case <-ctx.Done():
			}
			return nil
		},
	}

	var listen time.Duration
	findCmd := &cobra.Command{
		Use:   "find <address-or-name>",
		Short: "Find one sensor and optionally print its readings",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scanner, err := newScanner()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
			defer stop()

			waitCtx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()
			f := scanner.Find(args[0])
			dev, err := f.Wait(waitCtx)
			if err != nil {
				f.Cancel()
				return fmt.Errorf("sensor %s not found: %w", args[0], err)
			}
			defer dev.Close()

			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "%s\t%s\tconnection-less=%v\n", dev.Address, dev.Name, dev.ConnectionLess)
			if listen <= 0 {
				return nil
			}

			if err := dev.Subscribe(ctx, func(bpm int) {
				_, _ = fmt.Fprintf(out, "%s\t%d bpm\n", time.Now().Format(time.TimeOnly), bpm)
			}); err != nil {
				return err
			}
			select {
			case <-time.After(listen):
			case <-ctx.Done():
			}
			return nil
		},
	}
	findCmd.Flags().DurationVar(&listen, "listen", 0, "print heart rate readings for this long")

	heartCmd.AddCommand(scanCmd, findCmd)
	return heartCmd
}

// printListener writes sensors as they come and go.
type printListener struct {
	out  io.Writer
	seen map[string]bool
}

func (p *printListener) Found(a heart.Advertisement) {
	if p.seen[a.Address] {
		return
	}
	p.seen[a.Address] = true
	_, _ = fmt.Fprintf(p.out, "found\t%s\t%s\trssi=%d\n", a.Address, a.Name, a.RSSI)
}

func (p *printListener) Lost(address string, lastSeen time.Time) {
	delete(p.seen, address)
	_, _ = fmt.Fprintf(p.out, "lost\t%s\tlast seen %s\n", address, lastSeen.Format(time.TimeOnly))
}

func simulatedSensors() *heart.SimulatedAdapter {
	return &heart.SimulatedAdapter{
		Sensors: []heart.SimulatedSensor{
			{Address: "F0:0D:00:00:00:01", Name: "Chest Strap", BPM: 128},
			{Address: "F0:0D:00:00:00:02", Name: "Watch", ConnectionLess: true, BPM: 131},
		},
		Interval: time.Second,
	}
}
