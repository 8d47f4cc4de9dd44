package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/milnet2/coxswain/internal/heart"
	"github.com/milnet2/coxswain/internal/rower"
	"github.com/milnet2/coxswain/internal/session"
)

func newRowCmd(configPath *string) *cobra.Command {
	var program, device string
	var simulated bool

	cmd := &cobra.Command{
		Use:   "row",
		Short: "Row a session in the terminal",
		Long:  "Row a session without the HTTP server. Progress is printed as it changes; the command ends when the program is finished or on interrupt.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, log, err := loadConfig(*configPath, os.Stderr)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			store, err := openStore(cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			rec, err := newRecording(ctx, cfg, log)
			if err != nil {
				return err
			}
			defer rec.close()

			var scanner *heart.Scanner
			if cfg.Heart.DeviceID != "" {
				scanner = heart.NewScanner(heart.NewBLEAdapter(log), cfg.Heart.LostAfter, log)
			}
			manager := newManager(cfg, store, rec, scanner, log)
			defer manager.Close()

			if program != "" {
				p, err := findProgram(ctx, store, program)
				if err != nil {
					return err
				}
				if err := manager.Select(p); err != nil {
					return err
				}
			}

			var dev rower.Device
			if !simulated {
				if dev, err = deviceOpener(cfg, log)(device); err != nil {
					return err
				}
			}

			changed := make(chan struct{}, 1)
			unsubscribe := manager.Subscribe(func() {
				select {
				case changed <- struct{}{}:
				default:
				}
			})
			defer unsubscribe()
			manager.Start(dev)

			out := cmd.OutOrStdout()
			var last string
			started := false
			for {
				select {
				case <-ctx.Done():
					_, _ = fmt.Fprintln(out, "stopped")
					return nil
				case <-changed:
				}
				st := manager.Status()
				if st.Text != last && st.Text != "" {
					last = st.Text
					_, _ = fmt.Fprintf(out, "%s  %dm %ds %d strokes\n", st.Text, st.Snapshot.Distance, st.Snapshot.Duration, st.Snapshot.Strokes)
				}
				for _, d := range st.Deviations {
					_, _ = fmt.Fprintf(out, "  %s %d (limit %d)\n", d.Metric, d.Actual, d.Limit)
				}
				switch {
				case st.State == session.StateRunning:
					started = true
				case started && st.State == session.StateStopped:
					return fmt.Errorf("session ended: device disconnected")
				}
				if program != "" && manager.Program() == nil {
					_, _ = fmt.Fprintln(out, "program finished")
					return nil
				}
			}
		},
	}
	cmd.Flags().StringVar(&program, "program", "", "program id or name to row")
	cmd.Flags().StringVar(&device, "device", "", "serial device of the rowing machine (default from config)")
	cmd.Flags().BoolVar(&simulated, "simulated", false, "row on the simulator")
	return cmd
}
