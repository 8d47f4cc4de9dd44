package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/milnet2/coxswain/internal/storage"
	"github.com/milnet2/coxswain/internal/workout"
)

func newProgramsCmd(configPath *string) *cobra.Command {
	programs := &cobra.Command{Use: "programs", Short: "Manage training programs"}

	withStore := func(fn func(ctx context.Context, store *storage.Store) error) error {
		cfg, _, err := loadConfig(*configPath, os.Stderr)
		if err != nil {
			return err
		}
		store, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer store.Close()
		return fn(context.Background(), store)
	}

	programs.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored programs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withStore(func(ctx context.Context, store *storage.Store) error {
				list, err := store.Programs(ctx)
				if err != nil {
					return err
				}
				if len(list) == 0 {
					_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no programs")
					return nil
				}
				selected, err := store.SelectedProgramID(ctx)
				if err != nil {
					return err
				}
				for _, p := range list {
					mark := " "
					if p.ID == selected {
						mark = "*"
					}
					est := time.Duration(p.Duration()) * time.Second
					_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s %s\t%s\t%d segments\t~%s\n", mark, p.ID, p.Name, len(p.Segments), est)
				}
				return nil
			})
		},
	})

	programs.AddCommand(&cobra.Command{
		Use:   "import <file>",
		Short: "Store a program from a YAML or JSON file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			p, err := workout.ReadProgram(f)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			return withStore(func(ctx context.Context, store *storage.Store) error {
				if err := store.SaveProgram(ctx, p); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "stored %s (%s)\n", p.Name, p.ID)
				return nil
			})
		},
	})

	programs.AddCommand(&cobra.Command{
		Use:   "delete <id-or-name>",
		Short: "Delete a stored program",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStore(func(ctx context.Context, store *storage.Store) error {
				p, err := findProgram(ctx, store, args[0])
				if err != nil {
					return err
				}
				return store.DeleteProgram(ctx, p.ID)
			})
		},
	})

	return programs
}
