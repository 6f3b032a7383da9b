package stages

import (
	"context"
	"fmt"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/studioflow-backend/internal/media"
	"github.com/angelmondragon/studioflow-backend/internal/pipeline"
	"github.com/angelmondragon/studioflow-backend/pkg/db/models"
	"github.com/angelmondragon/studioflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
	"github.com/angelmondragon/studioflow-backend/pkg/redis"
)

const defaultMergeLockTTL = 3 * time.Hour

// Merge concatenates the raw clips of a folder into one video and creates
// the media row for it. At most one media row exists per folder.
type Merge struct {
	*base
}

func (s *Merge) Name() enums.StageName { return enums.StageMerge }

func (s *Merge) Policy() pipeline.Policy {
	return pipeline.Policy{MaxRetries: 2, BackoffBase: 300 * time.Second, TimeLimit: 3 * time.Hour}
}

func mergeLockOwner(runID uuid.UUID) string {
	if runID == uuid.Nil {
		return uuid.NewString()
	}
	return "run:" + runID.String()
}

func (s *Merge) Execute(ctx context.Context, in pipeline.StageInput) (pipeline.StageOutput, error) {
	folder := in.Folder.Path()
	ttl := s.deps.MergeLockTTL
	if ttl <= 0 {
		ttl = defaultMergeLockTTL
	}
	lock, err := redis.NewLock(s.deps.Locks, s.deps.Locks.LockKey("merge", in.OrganizationID.String(), folder), ttl)
	if err != nil {
		return pipeline.StageOutput{}, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build merge lock")
	}
	// Owned by the run so a redelivery after a crash reclaims its own lock.
	ok, err := lock.AcquireAs(ctx, mergeLockOwner(in.RunID))
	if err != nil {
		return pipeline.StageOutput{}, pkgerrors.Wrap(pkgerrors.CodeTransient, err, "acquire merge lock")
	}
	if !ok {
		return pipeline.StageOutput{}, pkgerrors.New(pkgerrors.CodeTransient, fmt.Sprintf("merge of %s already in progress", folder))
	}
	defer func() {
		if err := lock.Release(context.WithoutCancel(ctx)); err != nil {
			s.deps.Logger.Warn(s.deps.Logger.WithField(ctx, "lock_key", lock.Key()), "releasing merge lock failed")
		}
	}()

	row, created, err := s.deps.Media.CreateRecordingIfAbsent(ctx, &models.Media{
		OrganizationID: in.OrganizationID,
		Name:           fmt.Sprintf("%s %s", in.Folder.Session, in.Folder.Device),
		Type:           enums.MediaTypeStudioRecording,
		Status:         enums.MediaStatusPending,
		SourceFolder:   &folder,
		Metadata: models.NewRecordingMetadata(models.RecordingMetadata{
			S3FolderPath:     folder,
			VideoProjectID:   in.ProjectID,
			AspectRatio:      in.Folder.Aspect,
			DeviceIdentifier: in.Folder.Device,
			Resolution:       in.Folder.Resolution,
		}),
	})
	if err != nil {
		return pipeline.StageOutput{}, err
	}
	ctx = s.deps.Logger.WithMediaID(ctx, row.ID.String())
	if !created {
		if out, done := guard(row, models.MetaKeyRawURL); done {
			s.deps.Logger.Info(ctx, "recording already merged")
			return out, nil
		}
	}

	keys, err := s.deps.Store.ListObjects(ctx, folder)
	if err != nil {
		return pipeline.StageOutput{}, err
	}
	var clips []string
	for _, key := range keys {
		if media.IsVideoFile(key) {
			clips = append(clips, key)
		}
	}
	if len(clips) == 0 {
		return pipeline.StageOutput{}, pkgerrors.New(pkgerrors.CodeIrrecoverable, fmt.Sprintf("no video clips under %s", folder))
	}
	sort.Strings(clips)

	dir, err := s.workDir(row.ID, enums.StageMerge)
	if err != nil {
		return pipeline.StageOutput{}, err
	}
	locals := make([]string, 0, len(clips))
	for i, clip := range clips {
		local := filepath.Join(dir, fmt.Sprintf("%03d_%s", i, path.Base(clip)))
		if err := s.fetch(ctx, clip, local); err != nil {
			return pipeline.StageOutput{}, err
		}
		locals = append(locals, local)
	}

	merged := filepath.Join(dir, objectRaw)
	if err := s.deps.Tool.Concat(ctx, locals, merged); err != nil {
		return pipeline.StageOutput{}, err
	}
	probe, err := s.deps.Tool.Probe(ctx, merged)
	if err != nil {
		return pipeline.StageOutput{}, err
	}

	objectPath := s.objectPath(row, objectRaw)
	url, err := s.upload(ctx, merged, objectPath)
	if err != nil {
		return pipeline.StageOutput{}, err
	}

	err = s.setOutputs(ctx, row.ID, map[string]string{models.MetaKeyRawURL: url}, func(m *models.Media) {
		m.StorageURLPath = objectPath
		if rec := m.Metadata.Recording; rec != nil {
			rec.ClipCount = len(clips)
			rec.DurationSeconds = probe.DurationSeconds()
			rec.Format = "mp4"
		}
	})
	if err != nil {
		return pipeline.StageOutput{}, err
	}

	s.deps.Logger.Info(s.deps.Logger.WithField(ctx, "clip_count", len(clips)), "recording merged")
	return pipeline.StageOutput{MediaID: row.ID, Outputs: map[string]string{models.MetaKeyRawURL: url}}, nil
}
