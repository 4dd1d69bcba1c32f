package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"stitch/internal/workspace"
)

func newCleanupCommand(ctx *commandContext) *cobra.Command {
	var olderThanHours int

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove stale run workspaces from the work directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			logger, err := ctx.newLogger(false)
			if err != nil {
				return err
			}

			removed, err := workspace.NewManager(cfg, logger).ReclaimStale(time.Duration(olderThanHours) * time.Hour)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d workspace(s)\n", removed)
			return nil
		},
	}

	cmd.Flags().IntVar(&olderThanHours, "older-than", 24, "Only remove workspaces idle for at least this many hours")
	return cmd
}
