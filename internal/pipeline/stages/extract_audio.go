package stages

import (
	"context"
	"path/filepath"
	"time"

	"github.com/angelmondragon/studioflow-backend/internal/pipeline"
	"github.com/angelmondragon/studioflow-backend/pkg/db/models"
	"github.com/angelmondragon/studioflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
)

// ExtractAudio writes the audio track as MP3 for transcription.
type ExtractAudio struct {
	*base
}

func (s *ExtractAudio) Name() enums.StageName { return enums.StageExtractAudio }

func (s *ExtractAudio) Policy() pipeline.Policy {
	return pipeline.Policy{MaxRetries: 3, BackoffBase: 60 * time.Second, TimeLimit: 30 * time.Minute}
}

func (s *ExtractAudio) Execute(ctx context.Context, in pipeline.StageInput) (pipeline.StageOutput, error) {
	m, err := s.load(ctx, in.MediaID)
	if err != nil {
		return pipeline.StageOutput{}, err
	}
	if out, done := guard(m, models.MetaKeyAudioURL); done {
		return out, nil
	}

	dir, err := s.workDir(m.ID, enums.StageExtractAudio)
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

	probe, err := s.deps.Tool.Probe(ctx, src)
	if err != nil {
		return pipeline.StageOutput{}, err
	}
	if !probe.HasAudio() {
		return pipeline.StageOutput{}, pkgerrors.New(pkgerrors.CodeIrrecoverable, "recording has no audio stream")
	}

	dest := filepath.Join(dir, objectAudio)
	if err := s.deps.Tool.ExtractAudio(ctx, src, dest); err != nil {
		return pipeline.StageOutput{}, err
	}
	url, err := s.upload(ctx, dest, s.objectPath(m, objectAudio))
	if err != nil {
		return pipeline.StageOutput{}, err
	}
	outputs := map[string]string{models.MetaKeyAudioURL: url}
	if err := s.setOutputs(ctx, m.ID, outputs, nil); err != nil {
		return pipeline.StageOutput{}, err
	}
	return pipeline.StageOutput{MediaID: m.ID, Outputs: outputs}, nil
}
