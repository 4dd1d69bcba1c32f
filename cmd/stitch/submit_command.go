package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"stitch/internal/config"
	"stitch/internal/jobstore"
	"stitch/internal/objectstore"
)

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	var personRef string
	var clothRef string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Queue a try-on job for a person image and a cloth image",
		RunE: func(cmd *cobra.Command, args []string) error {
			if personRef == "" || clothRef == "" {
				return errors.New("both --person and --cloth are required")
			}
			if _, err := objectstore.ParseLocator(personRef); err != nil {
				return fmt.Errorf("person reference: %w", err)
			}
			if _, err := objectstore.ParseLocator(clothRef); err != nil {
				return fmt.Errorf("cloth reference: %w", err)
			}

			return ctx.withStore(func(cfg *config.Config, store *jobstore.Store) error {
				job, err := store.Create(cmd.Context(), personRef, clothRef)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Queued job %d\n", job.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&personRef, "person", "", "Object locator for the person image")
	cmd.Flags().StringVar(&clothRef, "cloth", "", "Object locator for the cloth image")
	return cmd
}
