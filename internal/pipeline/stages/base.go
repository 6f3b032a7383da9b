package stages

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"github.com/angelmondragon/studioflow-backend/internal/media"
	"github.com/angelmondragon/studioflow-backend/internal/pipeline"
	"github.com/angelmondragon/studioflow-backend/pkg/db/models"
	"github.com/angelmondragon/studioflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
	"github.com/angelmondragon/studioflow-backend/pkg/storage"
)

// Object names of the artifacts a run produces.
const (
	objectRaw        = "raw.mp4"
	object720p       = "720p.mp4"
	objectThumbnail  = "thumbnail.jpg"
	objectAudio      = "audio.mp3"
	objectTranscript = "transcript.json"
	objectUtterances = "utterances.json"
)

type base struct {
	deps Deps
}

// workDir returns <work_root>/<media_id>/<stage>, created on demand.
func (b *base) workDir(mediaID uuid.UUID, stage enums.StageName) (string, error) {
	dir := filepath.Join(b.deps.WorkDir, mediaID.String(), stage.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeTransient, err, "create work dir")
	}
	return dir, nil
}

func (b *base) objectPath(m *models.Media, name string) string {
	return storage.MediaObjectPath(b.deps.OutputPrefix, m.OrganizationID.String(), m.ID.String(), name)
}

// fetch downloads objectPath to local unless a non-empty copy is already
// there from an earlier attempt.
func (b *base) fetch(ctx context.Context, objectPath, local string) error {
	if info, err := os.Stat(local); err == nil && info.Size() > 0 {
		return nil
	}
	found, err := b.deps.Store.DownloadFileToPath(ctx, objectPath, local)
	if err != nil {
		return err
	}
	if !found {
		return pkgerrors.New(pkgerrors.CodeIrrecoverable, fmt.Sprintf("object %s does not exist", objectPath))
	}
	return nil
}

func (b *base) upload(ctx context.Context, local, objectPath string) (string, error) {
	f, err := os.Open(local)
	if err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "open artifact")
	}
	defer f.Close()
	return b.deps.Store.UploadFile(ctx, f, objectPath, media.ContentTypeFor(objectPath))
}

func (b *base) load(ctx context.Context, id uuid.UUID) (*models.Media, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "stage requires a media id")
	}
	m, err := b.deps.Media.FindByID(ctx, id)
	if err != nil {
		if pkgerrors.IsCode(err, pkgerrors.CodeNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeIrrecoverable, fmt.Sprintf("media %s no longer exists", id))
		}
		return nil, err
	}
	if m.Metadata.Outputs() == nil {
		return nil, pkgerrors.New(pkgerrors.CodeIrrecoverable, fmt.Sprintf("media kind %q carries no pipeline outputs", m.Metadata.Kind))
	}
	return m, nil
}

// setOutputs records stage artifact URLs and lets mutate adjust other fields.
func (b *base) setOutputs(ctx context.Context, id uuid.UUID, outputs map[string]string, mutate func(*models.Media)) error {
	_, err := b.deps.Media.UpdateMedia(ctx, id, func(m *models.Media) error {
		block := m.Metadata.Outputs()
		if block == nil {
			return pkgerrors.New(pkgerrors.CodeIrrecoverable, "media carries no pipeline outputs")
		}
		for key, value := range outputs {
			if err := block.Set(key, value); err != nil {
				return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "record stage output")
			}
		}
		if mutate != nil {
			mutate(m)
		}
		return nil
	})
	return err
}

// videoSource picks the best local input for derived artifacts: the 720p
// rendition when present, otherwise the merged original.
func (b *base) videoSource(m *models.Media, prefer720 bool) (string, string, error) {
	if prefer720 && m.Metadata.Output(models.MetaKey720pURL) != "" {
		return b.objectPath(m, object720p), "source_720p.mp4", nil
	}
	if m.StorageURLPath == "" {
		return "", "", pkgerrors.New(pkgerrors.CodeIrrecoverable, "media has no merged video")
	}
	return m.StorageURLPath, "source.mp4", nil
}

// guard returns a skipped output when key is already recorded on m.
func guard(m *models.Media, key string) (pipeline.StageOutput, bool) {
	value := m.Metadata.Output(key)
	if value == "" {
		return pipeline.StageOutput{}, false
	}
	return pipeline.StageOutput{MediaID: m.ID, Skipped: true, Outputs: map[string]string{key: value}}, true
}
