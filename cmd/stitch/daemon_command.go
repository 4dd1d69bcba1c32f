package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"stitch/internal/config"
	"stitch/internal/jobstore"
)

func newDaemonCommand(ctx *commandContext) *cobra.Command {
	var interval int

	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Poll the queue continuously until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if interval > 0 {
				cfg.Workflow.PollInterval = interval
			}

			logger, err := ctx.newLogger(true)
			if err != nil {
				return err
			}

			runCtx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return ctx.withStore(func(cfg *config.Config, store *jobstore.Store) error {
				return ctx.newScheduler(cfg, store, logger).RunDaemon(runCtx)
			})
		},
	}

	cmd.Flags().IntVar(&interval, "interval", 0, "Poll interval in seconds (overrides configuration)")
	return cmd
}
