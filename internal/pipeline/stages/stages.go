// Package stages implements the five media pipeline stages. Every stage
// checks its output key on the media metadata first and returns the media
// unchanged when the artifact already exists.
package stages

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/studioflow-backend/internal/pipeline"
	"github.com/angelmondragon/studioflow-backend/internal/transcode"
	"github.com/angelmondragon/studioflow-backend/internal/transcribe"
	"github.com/angelmondragon/studioflow-backend/pkg/db/models"
	"github.com/angelmondragon/studioflow-backend/pkg/logger"
	"github.com/angelmondragon/studioflow-backend/pkg/storage"
)

type mediaRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Media, error)
	CreateRecordingIfAbsent(ctx context.Context, m *models.Media) (*models.Media, bool, error)
	UpdateMedia(ctx context.Context, id uuid.UUID, fn func(*models.Media) error) (*models.Media, error)
}

type transcoder interface {
	Concat(ctx context.Context, clips []string, dest string) error
	Downscale720(ctx context.Context, src, dest string, portrait bool) error
	Thumbnail(ctx context.Context, src string, offset float64, dest string) error
	ExtractAudio(ctx context.Context, src, dest string) error
	Probe(ctx context.Context, path string) (transcode.ProbeResult, error)
}

type transcriber interface {
	Transcribe(ctx context.Context, audioURL string) (*transcribe.Transcript, error)
}

type lockClient interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Get(ctx context.Context, key string) (string, error)
	Del(ctx context.Context, keys ...string) error
	LockKey(parts ...string) string
}

// Deps are the collaborators shared by all stages.
type Deps struct {
	Logger       *logger.Logger
	Store        storage.MediaStore
	Media        mediaRepository
	Tool         transcoder
	Transcriber  transcriber
	Locks        lockClient
	WorkDir      string
	OutputPrefix string
	MergeLockTTL time.Duration
}

func (d Deps) validate() error {
	switch {
	case d.Logger == nil:
		return errors.New("logger is required")
	case d.Store == nil:
		return errors.New("media store is required")
	case d.Media == nil:
		return errors.New("media repository is required")
	case d.Tool == nil:
		return errors.New("transcoder is required")
	case d.Transcriber == nil:
		return errors.New("transcriber is required")
	case d.Locks == nil:
		return errors.New("lock client is required")
	case d.WorkDir == "":
		return errors.New("work dir is required")
	}
	return nil
}

// All returns the stages in pipeline order.
func All(d Deps) ([]pipeline.Stage, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	base := &base{deps: d}
	return []pipeline.Stage{
		&Merge{base: base},
		&Downscale{base: base},
		&Thumbnail{base: base},
		&ExtractAudio{base: base},
		&Transcript{base: base},
	}, nil
}
