package stages

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/angelmondragon/studioflow-backend/internal/pipeline"
	"github.com/angelmondragon/studioflow-backend/internal/transcribe"
	"github.com/angelmondragon/studioflow-backend/pkg/db/models"
	"github.com/angelmondragon/studioflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
)

// Transcript sends the extracted audio to the speech-to-text service and
// stores the transcript and per-speaker utterances.
type Transcript struct {
	*base
}

func (s *Transcript) Name() enums.StageName { return enums.StageTranscript }

func (s *Transcript) Policy() pipeline.Policy {
	return pipeline.Policy{MaxRetries: 3, BackoffBase: 120 * time.Second, TimeLimit: time.Hour}
}

type transcriptDocument struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

func (s *Transcript) Execute(ctx context.Context, in pipeline.StageInput) (pipeline.StageOutput, error) {
	m, err := s.load(ctx, in.MediaID)
	if err != nil {
		return pipeline.StageOutput{}, err
	}
	if out, done := guard(m, models.MetaKeyTranscriptURL); done {
		return out, nil
	}
	audioURL := m.Metadata.Output(models.MetaKeyAudioURL)
	if audioURL == "" {
		return pipeline.StageOutput{}, pkgerrors.New(pkgerrors.CodeIrrecoverable, "audio has not been extracted")
	}

	tr, err := s.deps.Transcriber.Transcribe(ctx, audioURL)
	if err != nil {
		return pipeline.StageOutput{}, err
	}

	transcriptJSON, err := json.Marshal(transcriptDocument{ID: tr.ID, Text: tr.Text})
	if err != nil {
		return pipeline.StageOutput{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode transcript")
	}
	utterances := tr.Utterances
	if utterances == nil {
		utterances = []transcribe.Utterance{}
	}
	utterancesJSON, err := json.Marshal(utterances)
	if err != nil {
		return pipeline.StageOutput{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "encode utterances")
	}

	transcriptURL, err := s.deps.Store.UploadFile(ctx, bytes.NewReader(transcriptJSON), s.objectPath(m, objectTranscript), "application/json")
	if err != nil {
		return pipeline.StageOutput{}, err
	}
	utterancesURL, err := s.deps.Store.UploadFile(ctx, bytes.NewReader(utterancesJSON), s.objectPath(m, objectUtterances), "application/json")
	if err != nil {
		return pipeline.StageOutput{}, err
	}

	outputs := map[string]string{
		models.MetaKeyTranscriptURL: transcriptURL,
		models.MetaKeyUtterancesURL: utterancesURL,
	}
	if err := s.setOutputs(ctx, m.ID, outputs, nil); err != nil {
		return pipeline.StageOutput{}, err
	}
	return pipeline.StageOutput{MediaID: m.ID, Outputs: outputs}, nil
}
