package controllers

import (
	"context"
	"net/http"

	"github.com/angelmondragon/studioflow-backend/api/dto"
	"github.com/angelmondragon/studioflow-backend/api/responses"
	"github.com/angelmondragon/studioflow-backend/api/validators"
	"github.com/angelmondragon/studioflow-backend/internal/media"
	"github.com/angelmondragon/studioflow-backend/internal/search"
	"github.com/angelmondragon/studioflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
	"github.com/angelmondragon/studioflow-backend/pkg/logger"
)

type SearchService interface {
	Search(ctx context.Context, q search.Query) (search.Response, error)
}

func Search(svc SearchService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "search service unavailable"))
			return
		}
		query, err := parseSearchQuery(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		resp, err := svc.Search(r.Context(), query)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, dto.FromSearch(resp))
	}
}

func parseSearchQuery(r *http.Request) (search.Query, error) {
	org, err := validators.ParseQueryUUID(r, "organization_id")
	if err != nil {
		return search.Query{}, err
	}
	threshold, err := validators.ParseQueryFloat(r, "threshold", 0, 1)
	if err != nil {
		return search.Query{}, err
	}
	limit, err := validators.ParseQueryInt(r, "limit", 0, 0, 100)
	if err != nil {
		return search.Query{}, err
	}
	var filters media.Filters
	for _, raw := range validators.ParseQueryList(r, "type") {
		t, err := enums.ParseMediaType(raw)
		if err != nil {
			return search.Query{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid type filter")
		}
		filters.Types = append(filters.Types, t)
	}
	for _, raw := range validators.ParseQueryList(r, "status") {
		s, err := enums.ParseMediaStatus(raw)
		if err != nil {
			return search.Query{}, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid status filter")
		}
		filters.Statuses = append(filters.Statuses, s)
	}
	return search.Query{
		Text:                validators.CleanText(r.URL.Query().Get("q"), 1024),
		OrganizationID:      org,
		Filters:             filters,
		SimilarityThreshold: threshold,
		MaxResults:          limit,
	}, nil
}
