package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"stitch/internal/config"
	"stitch/internal/jobstore"
)

func newRunCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "run [job-id]",
		Short: "Process one job, or one poll pass over the pending queue",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return runPollPass(ctx, cmd)
			}

			logger, err := ctx.newLogger(false)
			if err != nil {
				return err
			}
			return ctx.withStore(func(cfg *config.Config, store *jobstore.Store) error {
				sched := ctx.newScheduler(cfg, store, logger)

				id, err := strconv.ParseInt(args[0], 10, 64)
				if err != nil {
					return fmt.Errorf("invalid job id %q", args[0])
				}
				if err := sched.RunJob(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Job %d finished\n", id)
				return nil
			})
		},
	}
}

// runPollPass claims and processes one batch of pending jobs. It backs both
// the bare root invocation and `run` without a job id.
func runPollPass(ctx *commandContext, cmd *cobra.Command) error {
	logger, err := ctx.newLogger(false)
	if err != nil {
		return err
	}
	return ctx.withStore(func(cfg *config.Config, store *jobstore.Store) error {
		sched := ctx.newScheduler(cfg, store, logger)
		processed, err := sched.RunOnce(cmd.Context())
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Processed %d job(s)\n", processed)
		return nil
	})
}
