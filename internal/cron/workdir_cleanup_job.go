package cron

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"

	"github.com/angelmondragon/studioflow-backend/pkg/logger"
)

const defaultWorkDirRetention = 72 * time.Hour

type WorkDirCleanupJobParams struct {
	Logger    *logger.Logger
	Root      string
	Retention time.Duration
}

// NewWorkDirCleanupJob removes per-media stage directories that have not
// been touched within the retention window. Only directories named after a
// media id are considered.
func NewWorkDirCleanupJob(params WorkDirCleanupJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Root == "" {
		return nil, fmt.Errorf("work dir root required")
	}
	retention := params.Retention
	if retention <= 0 {
		retention = defaultWorkDirRetention
	}
	return &workDirCleanupJob{
		logg:      params.Logger,
		root:      params.Root,
		retention: retention,
		now:       time.Now,
	}, nil
}

type workDirCleanupJob struct {
	logg      *logger.Logger
	root      string
	retention time.Duration
	now       func() time.Time
}

func (j *workDirCleanupJob) Name() string { return "workdir-cleanup" }

func (j *workDirCleanupJob) Run(ctx context.Context) error {
	entries, err := os.ReadDir(j.root)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read work dir: %w", err)
	}

	cutoff := j.now().Add(-j.retention)
	var (
		removed int
		kept    int
		errs    error
	)
	for _, entry := range entries {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !entry.IsDir() {
			continue
		}
		if _, err := uuid.Parse(entry.Name()); err != nil {
			continue
		}
		dir := filepath.Join(j.root, entry.Name())
		latest, err := latestModTime(dir)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		if latest.After(cutoff) {
			kept++
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("remove %s: %w", dir, err))
			continue
		}
		removed++
	}

	logCtx := j.logg.WithFields(ctx, map[string]any{
		"cutoff":       cutoff,
		"dirs_removed": removed,
		"dirs_kept":    kept,
	})
	j.logg.Info(logCtx, "work dir cleanup complete")
	return errs
}

// latestModTime is the newest modification time of dir or anything in it.
func latestModTime(dir string) (time.Time, error) {
	var latest time.Time
	err := filepath.WalkDir(dir, func(_ string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(latest) {
			latest = info.ModTime()
		}
		return nil
	})
	return latest, err
}
