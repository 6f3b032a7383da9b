package main

import (
	"errors"
	"strings"

	"github.com/spf13/cobra"

	"github.com/angelmondragon/studioflow-backend/api/dto"
	"github.com/angelmondragon/studioflow-backend/internal/media"
	"github.com/angelmondragon/studioflow-backend/internal/search"
	"github.com/angelmondragon/studioflow-backend/pkg/enums"
)

func newSearchCommand(ctx *commandContext) *cobra.Command {
	var (
		org       string
		threshold float64
		limit     int
		types     []string
		statuses  []string
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search an organization's media",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if org == "" {
				return errors.New("--org is required")
			}
			if threshold < 0 || threshold > 1 {
				return errors.New("--threshold must be between 0 and 1")
			}
			var filters media.Filters
			for _, raw := range types {
				t, err := enums.ParseMediaType(raw)
				if err != nil {
					return err
				}
				filters.Types = append(filters.Types, t)
			}
			for _, raw := range statuses {
				s, err := enums.ParseMediaStatus(raw)
				if err != nil {
					return err
				}
				filters.Statuses = append(filters.Statuses, s)
			}

			return ctx.withServices(cmd.Context(), false, func(svc *services) error {
				orgID, err := resolveOrganization(cmd, svc, org)
				if err != nil {
					return err
				}
				q := search.Query{
					Text:           strings.Join(args, " "),
					OrganizationID: orgID,
					Filters:        filters,
					MaxResults:     limit,
				}
				if cmd.Flags().Changed("threshold") {
					q.SimilarityThreshold = &threshold
				}
				resp, err := svc.Search.Search(cmd.Context(), q)
				if err != nil {
					return err
				}
				return writeJSON(cmd, dto.FromSearch(resp))
			})
		},
	}

	cmd.Flags().StringVar(&org, "org", "", "Organization slug or id")
	cmd.Flags().Float64Var(&threshold, "threshold", 0, "Minimum similarity in [0,1] (defaults to configuration)")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum results (defaults to configuration)")
	cmd.Flags().StringSliceVar(&types, "type", nil, "Only these media types")
	cmd.Flags().StringSliceVar(&statuses, "status", nil, "Only these media statuses")
	return cmd
}
