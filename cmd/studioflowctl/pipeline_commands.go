package main

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/studioflow-backend/api/dto"
	"github.com/angelmondragon/studioflow-backend/internal/pipeline"
)

func newPipelineCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "pipeline",
		Short: "Trigger and inspect pipeline runs",
	}
	cmd.AddCommand(newPipelineTriggerCommand(ctx))
	cmd.AddCommand(newPipelineStatusCommand(ctx))
	return cmd
}

func newPipelineTriggerCommand(ctx *commandContext) *cobra.Command {
	var (
		projectID string
		runID     string
		untracked bool
		sync      bool
	)

	cmd := &cobra.Command{
		Use:   "trigger <source-folder>",
		Short: "Start a run for a recording folder",
		Long: "Start a run for <company>/<project>/<recording>/<device>/<aspect>/. " +
			"Without --sync the first stage is published for the workers.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := pipeline.TriggerRequest{
				SourceFolder: args[0],
				ProjectID:    projectID,
				Tracked:      !untracked,
			}
			if runID != "" {
				id, err := uuid.Parse(runID)
				if err != nil {
					return fmt.Errorf("invalid --run-id: %w", err)
				}
				req.RunID = &id
			}

			return ctx.withServices(cmd.Context(), !sync, func(svc *services) error {
				if !sync {
					handle, err := svc.Pipelines.Trigger(cmd.Context(), req)
					if err != nil {
						return err
					}
					return writeJSON(cmd, handle)
				}
				handle, runErr := svc.Pipelines.RunSync(cmd.Context(), req)
				if handle.RunID != uuid.Nil {
					if err := writeJSON(cmd, handle); err != nil {
						return err
					}
				}
				return runErr
			})
		},
	}

	cmd.Flags().StringVar(&projectID, "project-id", "", "Video project id stored on the media metadata")
	cmd.Flags().StringVar(&runID, "run-id", "", "Reuse or create the run with this id")
	cmd.Flags().BoolVar(&untracked, "untracked", false, "Skip step bookkeeping for this run")
	cmd.Flags().BoolVar(&sync, "sync", false, "Run every stage in this process")
	return cmd
}

func newPipelineStatusCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show a run and its steps",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid run id: %w", err)
			}
			return ctx.withServices(cmd.Context(), false, func(svc *services) error {
				report, err := svc.Pipelines.Status(cmd.Context(), id)
				if err != nil {
					return err
				}
				return writeJSON(cmd, dto.FromReport(report))
			})
		},
	}
}
