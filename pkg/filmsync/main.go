// Package filmsync is the filmsync application: configuration, wiring and
// the command line.
//
// # Command Line Usage
//
//	# Sync until interrupted (the default command)
//	filmsync [--env-file .env] run
//
//	# Print the saved checkpoint
//	filmsync checkpoint show
//
//	# Force a full resync, or resync from a given time (UTC)
//	filmsync checkpoint reset
//	filmsync checkpoint reset --to "2024-01-31 12:00:00"
//
//	# Create the indices and exit
//	filmsync indices
//
// Settings come from the environment, optionally seeded from the env file.
// See LoadConfig.
package filmsync

import (
	"context"
	"fmt"
	"time"

	"github.com/filmindex/filmsync/pkg/checkpoint"
	"github.com/filmindex/filmsync/pkg/models"
	"github.com/spf13/cobra"
)

// Main runs the command named by args. It can be called from tests without
// building the binary.
func Main(ctx context.Context, args []string) error {
	cmd := NewCommand()
	cmd.SetArgs(args)
	return cmd.ExecuteContext(ctx)
}

// NewCommand builds the command tree. opts are applied to every App it
// creates.
func NewCommand(opts ...AppOption) *cobra.Command {
	root := &cobra.Command{
		Use:           "filmsync",
		Short:         "Keep the film search indices in sync with Postgres",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, runApp)
		},
	}
	root.PersistentFlags().String("env-file", DefaultEnvFile, "file of KEY=value lines read before the environment")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Sync until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, runApp)
		},
	}

	checkpointCmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect or move the sync checkpoint",
	}
	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Print the saved checkpoint",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(cmd *cobra.Command, app *App) error {
				at, err := app.checkpoint.Load()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), at.Format(checkpoint.Layout))
				return err
			})
		},
	}
	resetCmd := &cobra.Command{
		Use:   "reset",
		Short: "Move the checkpoint so the next run resyncs everything changed after it",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			to, _ := cmd.Flags().GetString("to")
			at := checkpoint.Epoch
			if to != "" {
				var err error
				at, err = time.ParseInLocation(checkpoint.Layout, to, time.UTC)
				if err != nil {
					return fmt.Errorf("invalid --to %q: %w", to, err)
				}
			}
			return withApp(cmd, opts, func(cmd *cobra.Command, app *App) error {
				if err := app.checkpoint.Save(at); err != nil {
					return err
				}
				_, err := fmt.Fprintln(cmd.OutOrStdout(), at.Format(checkpoint.Layout))
				return err
			})
		},
	}
	resetCmd.Flags().String("to", "", `new checkpoint as "YYYY-MM-DD HH:MM:SS" in UTC (default: the epoch)`)
	checkpointCmd.AddCommand(showCmd, resetCmd)

	indicesCmd := &cobra.Command{
		Use:   "indices",
		Short: "Create the search indices if they are missing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, opts, func(cmd *cobra.Command, app *App) error {
				if err := app.loader.EnsureIndices(cmd.Context(), app.mappings); err != nil {
					return err
				}
				names := app.loader.Indices()
				for _, kind := range models.Kinds {
					if _, err := fmt.Fprintln(cmd.OutOrStdout(), names.For(kind)); err != nil {
						return err
					}
				}
				return nil
			})
		},
	}

	root.AddCommand(runCmd, checkpointCmd, indicesCmd)
	return root
}

func runApp(cmd *cobra.Command, app *App) error {
	if err := app.Run(cmd.Context()); err != nil {
		return fmt.Errorf("sync failed: %w", err)
	}
	return nil
}

// withApp loads the configuration, builds the App, hands it to fn and
// closes it on every path.
func withApp(cmd *cobra.Command, opts []AppOption, fn func(*cobra.Command, *App) error) error {
	envFile, _ := cmd.Flags().GetString("env-file")
	cfg, err := LoadConfig(envFile)
	if err != nil {
		return err
	}
	app, err := NewApp(cfg, opts...)
	if err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}
	defer func() {
		_ = app.Close()
	}()
	return fn(cmd, app)
}
