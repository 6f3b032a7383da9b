package stages

import (
	"context"
	"path/filepath"
	"time"

	"github.com/angelmondragon/studioflow-backend/internal/pipeline"
	"github.com/angelmondragon/studioflow-backend/pkg/db/models"
	"github.com/angelmondragon/studioflow-backend/pkg/enums"
)

// Thumbnail extracts a poster frame at 10% of the recording.
type Thumbnail struct {
	*base
}

func (s *Thumbnail) Name() enums.StageName { return enums.StageThumbnail }

func (s *Thumbnail) Policy() pipeline.Policy {
	return pipeline.Policy{MaxRetries: 3, BackoffBase: 30 * time.Second, TimeLimit: 10 * time.Minute}
}

func (s *Thumbnail) Execute(ctx context.Context, in pipeline.StageInput) (pipeline.StageOutput, error) {
	m, err := s.load(ctx, in.MediaID)
	if err != nil {
		return pipeline.StageOutput{}, err
	}
	if out, done := guard(m, models.MetaKeyThumbnailURL); done {
		return out, nil
	}

	dir, err := s.workDir(m.ID, enums.StageThumbnail)
	if err != nil {
		return pipeline.StageOutput{}, err
	}
	srcObject, srcName, err := s.videoSource(m, true)
	if err != nil {
		return pipeline.StageOutput{}, err
	}
	src := filepath.Join(dir, srcName)
	if err := s.fetch(ctx, srcObject, src); err != nil {
		return pipeline.StageOutput{}, err
	}

	offset := 0.0
	if d := m.Metadata.DurationSeconds(); d > 0 {
		offset = d * 0.1
	} else if probe, err := s.deps.Tool.Probe(ctx, src); err == nil {
		offset = probe.DurationSeconds() * 0.1
	}

	dest := filepath.Join(dir, objectThumbnail)
	if err := s.deps.Tool.Thumbnail(ctx, src, offset, dest); err != nil {
		return pipeline.StageOutput{}, err
	}
	url, err := s.upload(ctx, dest, s.objectPath(m, objectThumbnail))
	if err != nil {
		return pipeline.StageOutput{}, err
	}
	outputs := map[string]string{models.MetaKeyThumbnailURL: url}
	if err := s.setOutputs(ctx, m.ID, outputs, nil); err != nil {
		return pipeline.StageOutput{}, err
	}
	return pipeline.StageOutput{MediaID: m.ID, Outputs: outputs}, nil
}
