package stages

import (
	"context"
	"path/filepath"
	"time"

	"github.com/angelmondragon/studioflow-backend/internal/pipeline"
	"github.com/angelmondragon/studioflow-backend/pkg/db/models"
	"github.com/angelmondragon/studioflow-backend/pkg/enums"
)

// Downscale renders a 720p copy of the merged recording. The media is
// playable once it exists, so the row moves to complete here.
type Downscale struct {
	*base
}

func (s *Downscale) Name() enums.StageName { return enums.StageDownscale720 }

func (s *Downscale) Policy() pipeline.Policy {
	return pipeline.Policy{MaxRetries: 2, BackoffBase: 300 * time.Second, TimeLimit: 2 * time.Hour}
}

func (s *Downscale) Execute(ctx context.Context, in pipeline.StageInput) (pipeline.StageOutput, error) {
	m, err := s.load(ctx, in.MediaID)
	if err != nil {
		return pipeline.StageOutput{}, err
	}
	if out, done := guard(m, models.MetaKey720pURL); done {
		return out, nil
	}

	dir, err := s.workDir(m.ID, enums.StageDownscale720)
	if err != nil {
		return pipeline.StageOutput{}, err
	}
	srcObject, srcName, err := s.videoSource(m, false)
	if err != nil {
		return pipeline.StageOutput{}, err
	}
	src := filepath.Join(dir, srcName)
	if err := s.fetch(ctx, srcObject, src); err != nil {
		return pipeline.StageOutput{}, err
	}

	portrait := false
	if rec := m.Metadata.Recording; rec != nil && rec.AspectRatio != "" {
		portrait = rec.AspectRatio.IsPortrait()
	} else {
		probe, err := s.deps.Tool.Probe(ctx, src)
		if err != nil {
			return pipeline.StageOutput{}, err
		}
		w, h := probe.VideoSize()
		portrait = h > w
	}

	dest := filepath.Join(dir, object720p)
	if err := s.deps.Tool.Downscale720(ctx, src, dest, portrait); err != nil {
		return pipeline.StageOutput{}, err
	}
	url, err := s.upload(ctx, dest, s.objectPath(m, object720p))
	if err != nil {
		return pipeline.StageOutput{}, err
	}
	outputs := map[string]string{models.MetaKey720pURL: url}
	err = s.setOutputs(ctx, m.ID, outputs, func(row *models.Media) {
		row.Status = enums.MediaStatusComplete
	})
	if err != nil {
		return pipeline.StageOutput{}, err
	}
	return pipeline.StageOutput{MediaID: m.ID, Outputs: outputs}, nil
}
