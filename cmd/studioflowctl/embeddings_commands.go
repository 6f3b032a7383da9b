package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/studioflow-backend/internal/embeddings"
)

type generateFlags struct {
	mediaID   string
	mediaIDs  []string
	org       string
	all       bool
	force     bool
	dryRun    bool
	sync      bool
	batchSize int
}

func newEmbeddingsCommand(ctx *commandContext) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "embeddings",
		Short: "Generate media embeddings",
	}
	cmd.AddCommand(newEmbeddingsGenerateCommand(ctx))
	return cmd
}

func newEmbeddingsGenerateCommand(ctx *commandContext) *cobra.Command {
	var flags generateFlags

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Embed one media record, a list, an organization or everything",
		Long: "Exactly one of --media-id, --media-ids, --org or --all is required. " +
			"Jobs are queued for the workers unless --sync or --dry-run is set.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// A dry run reports what would happen, so it never leaves this process.
			inline := flags.sync || flags.dryRun
			return ctx.withServices(cmd.Context(), !inline, func(svc *services) error {
				job, err := flags.job(cmd, svc)
				if err != nil {
					return err
				}
				outcome, runErr := svc.Embeddings.Run(cmd.Context(), job, inline)
				if err := writeJSON(cmd, outcome); err != nil {
					return err
				}
				return runErr
			})
		},
	}

	cmd.Flags().StringVar(&flags.mediaID, "media-id", "", "Embed one media record")
	cmd.Flags().StringSliceVar(&flags.mediaIDs, "media-ids", nil, "Embed these media records (comma separated)")
	cmd.Flags().StringVar(&flags.org, "org", "", "Backfill one organization, by slug or id")
	cmd.Flags().BoolVar(&flags.all, "all", false, "Backfill every organization with unembedded media")
	cmd.Flags().BoolVar(&flags.force, "force", false, "Regenerate embeddings and cached summaries that already exist")
	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "Report what would be generated without calling a provider")
	cmd.Flags().BoolVar(&flags.sync, "sync", false, "Generate in this process instead of queueing")
	cmd.Flags().IntVar(&flags.batchSize, "batch-size", 0, "Backfill batch size (defaults to configuration)")
	return cmd
}

func (f generateFlags) job(cmd *cobra.Command, svc *services) (embeddings.Job, error) {
	job := embeddings.Job{Force: f.force, DryRun: f.dryRun, BatchSize: f.batchSize}
	targets := 0
	if f.mediaID != "" {
		targets++
		id, err := uuid.Parse(f.mediaID)
		if err != nil {
			return job, fmt.Errorf("invalid --media-id: %w", err)
		}
		job.Kind = embeddings.JobMedia
		job.MediaIDs = []uuid.UUID{id}
	}
	if len(f.mediaIDs) > 0 {
		targets++
		job.Kind = embeddings.JobBatch
		for _, raw := range f.mediaIDs {
			id, err := uuid.Parse(strings.TrimSpace(raw))
			if err != nil {
				return job, fmt.Errorf("invalid --media-ids entry %q: %w", raw, err)
			}
			job.MediaIDs = append(job.MediaIDs, id)
		}
	}
	if f.org != "" {
		targets++
		id, err := resolveOrganization(cmd, svc, f.org)
		if err != nil {
			return job, err
		}
		job.Kind = embeddings.JobOrganization
		job.OrganizationID = id
	}
	if f.all {
		targets++
		job.Kind = embeddings.JobAll
	}
	if targets != 1 {
		return job, errors.New("exactly one of --media-id, --media-ids, --org or --all is required")
	}
	return job, job.Validate()
}

// resolveOrganization accepts an id or a slug.
func resolveOrganization(cmd *cobra.Command, svc *services, value string) (uuid.UUID, error) {
	if id, err := uuid.Parse(value); err == nil {
		return id, nil
	}
	org, err := svc.Organizations.FindOrganizationBySlug(cmd.Context(), value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("resolve organization %q: %w", value, err)
	}
	return org.ID, nil
}
