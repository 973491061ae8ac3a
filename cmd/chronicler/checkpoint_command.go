package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"chronicler/internal/checkpoint"
	"chronicler/internal/config"
	"chronicler/internal/pipeline"
	"chronicler/internal/sink"
)

func newCheckpointCommand(ctx *commandContext) *cobra.Command {
	checkpointCmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Checkpoint maintenance",
	}
	checkpointCmd.AddCommand(newCheckpointRebuildCommand(ctx))
	return checkpointCmd
}

func newCheckpointRebuildCommand(ctx *commandContext) *cobra.Command {
	var runID string

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Reconcile a run's checkpoint with the artifacts in the output directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			runID = strings.TrimSpace(runID)
			if runID == "" {
				return errors.New("--run-id is required")
			}
			return ctx.withStore(func(cfg *config.Config, store *checkpoint.Store) error {
				lock, err := checkpoint.AcquireRunLock(cfg.Paths.StateDir, runID)
				if err != nil {
					return err
				}
				defer lock.Release()

				result, err := pipeline.RebuildRun(cmd.Context(), store, sink.NewMarkdown(cfg.Paths.OutputDir), runID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rebuilt %s: %d confirmed, %d restored, %d reset to pending\n",
					runID, result.Confirmed, result.Restored, result.Reset)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run-id", "", "Run to rebuild")
	return cmd
}
