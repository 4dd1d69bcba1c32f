package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"stitch/internal/config"
	"stitch/internal/jobstore"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the job queue",
	}

	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueStatusCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueResetStuckCommand(ctx))

	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var listStatuses []string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			var statuses []jobstore.Status
			for _, raw := range listStatuses {
				status, ok := jobstore.ParseStatus(raw)
				if !ok {
					return fmt.Errorf("unknown status %q", raw)
				}
				statuses = append(statuses, status)
			}

			return ctx.withStore(func(cfg *config.Config, store *jobstore.Store) error {
				jobs, err := store.List(cmd.Context(), statuses...)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "Queue is empty")
					return nil
				}

				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					result := job.ResultRef
					if result == "" {
						result = "-"
					}
					rows = append(rows, []string{
						strconv.FormatInt(job.ID, 10),
						string(job.Status),
						job.CreatedAt.Local().Format("2006-01-02 15:04:05"),
						result,
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Status", "Created", "Result"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	cmd.Flags().StringSliceVar(&listStatuses, "status", nil, "Filter by status (pending, processing, completed, failed)")
	return cmd
}

func newQueueStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show one job with its per-stage progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}

			return ctx.withStore(func(cfg *config.Config, store *jobstore.Store) error {
				snapshot, err := store.Snapshot(cmd.Context(), id)
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Job %d: %s\n", snapshot.Job.ID, snapshot.Job.Status)
				if snapshot.Job.ResultRef != "" {
					fmt.Fprintf(out, "Result: %s\n", snapshot.Job.ResultRef)
				}
				if snapshot.Job.ErrorMessage != "" {
					fmt.Fprintf(out, "Error: %s\n", snapshot.Job.ErrorMessage)
				}

				rows := make([][]string, 0, len(jobstore.Stages))
				for _, stage := range jobstore.Stages {
					state := snapshot.Stages.State(stage)
					stamp := "-"
					if state.Timestamp != nil {
						stamp = state.Timestamp.Local().Format("2006-01-02 15:04:05")
					}
					rows = append(rows, []string{string(stage), string(state.Status), stamp})
				}
				fmt.Fprint(out, renderTable(
					[]string{"Stage", "Status", "Updated"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Show job counts per lifecycle state",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *jobstore.Store) error {
				health, err := store.Health(cmd.Context())
				if err != nil {
					return err
				}
				rows := [][]string{
					{"pending", strconv.Itoa(health.Pending)},
					{"processing", strconv.Itoa(health.Processing)},
					{"completed", strconv.Itoa(health.Completed)},
					{"failed", strconv.Itoa(health.Failed)},
					{"total", strconv.Itoa(health.Total)},
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"Status", "Count"},
					rows,
					[]columnAlignment{alignLeft, alignRight},
				))
				return nil
			})
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Resubmit a failed job as a fresh pending job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid job id %q", args[0])
			}

			return ctx.withStore(func(cfg *config.Config, store *jobstore.Store) error {
				fresh, err := store.Resubmit(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Resubmitted job %d as job %d\n", id, fresh.ID)
				return nil
			})
		},
	}
}

func newQueueResetStuckCommand(ctx *commandContext) *cobra.Command {
	var olderThanMinutes int

	cmd := &cobra.Command{
		Use:   "reset-stuck",
		Short: "Return stale processing jobs to pending",
		Long: "Returns jobs stuck in processing (for example after a crash mid-run) " +
			"back to pending with a fresh stage record, and releases expired claim leases.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(cfg *config.Config, store *jobstore.Store) error {
				olderThan := time.Duration(olderThanMinutes) * time.Minute
				if olderThanMinutes <= 0 {
					olderThan = time.Duration(cfg.Workflow.StaleAfter) * time.Second
				}
				count, err := store.ReclaimStale(cmd.Context(), olderThan)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Reset %d job(s)\n", count)
				return nil
			})
		},
	}

	cmd.Flags().IntVar(&olderThanMinutes, "older-than", 0, "Only reset jobs idle for at least this many minutes")
	return cmd
}
