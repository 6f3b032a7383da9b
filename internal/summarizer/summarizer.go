// Package summarizer produces short, search-oriented descriptions of image
// and video media with a vision model and caches them on the media row.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/studioflow-backend/internal/media"
	"github.com/angelmondragon/studioflow-backend/internal/transcode"
	"github.com/angelmondragon/studioflow-backend/pkg/config"
	"github.com/angelmondragon/studioflow-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
	"github.com/angelmondragon/studioflow-backend/pkg/logger"
	"github.com/angelmondragon/studioflow-backend/pkg/storage"
)

const (
	imagePrompt = "Describe this image for a media search index. Name the setting, objects, people, " +
		"materials, colors and any visible text. Two or three plain sentences, no preamble."
	framePrompt = "Describe this video frame for a media search index. Name the setting, objects, people " +
		"and actions. One or two plain sentences, no preamble."
	condensePrompt = "Condense these timestamped frame descriptions of one video into a single description " +
		"under 800 characters for a search index. Keep concrete nouns, drop repetition.\n\n"
)

var defaultFrameOffsets = []float64{0.1, 0.5, 0.9}

type visionModel interface {
	Name() string
	Describe(ctx context.Context, prompt string, images []Image) (string, error)
}

type frameTool interface {
	Probe(ctx context.Context, path string) (transcode.ProbeResult, error)
	Frame(ctx context.Context, src string, offset float64, dest string) error
}

type summaryStore interface {
	SetEmbeddingText(ctx context.Context, id uuid.UUID, text models.EmbeddingText) error
}

// Params wires a Summarizer.
type Params struct {
	Logger  *logger.Logger
	Config  config.VisionConfig
	Store   storage.MediaStore
	Media   summaryStore
	Model   visionModel
	Frames  frameTool
	WorkDir string
	Now     func() time.Time
}

type Summarizer struct {
	logg          *logger.Logger
	store         storage.MediaStore
	media         summaryStore
	model         visionModel
	frames        frameTool
	workDir       string
	offsets       []float64
	threshold     int
	maxImageBytes int
	now           func() time.Time
}

func New(p Params) (*Summarizer, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("logger is required")
	case p.Store == nil:
		return nil, errors.New("media store is required")
	case p.Media == nil:
		return nil, errors.New("summary store is required")
	case p.Model == nil:
		return nil, errors.New("vision model is required")
	case p.Frames == nil:
		return nil, errors.New("frame tool is required")
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}
	workDir := p.WorkDir
	if workDir == "" {
		workDir = os.TempDir()
	}
	return &Summarizer{
		logg:          p.Logger,
		store:         p.Store,
		media:         p.Media,
		model:         p.Model,
		frames:        p.Frames,
		workDir:       workDir,
		offsets:       ParseOffsets(p.Config.FrameSampleOffsets),
		threshold:     p.Config.CondenseThreshold,
		maxImageBytes: p.Config.MaxImageBytes,
		now:           now,
	}, nil
}

// ParseOffsets reads comma separated fractions in (0,1). Invalid input
// yields the default 10%, 50% and 90% samples.
func ParseOffsets(raw string) []float64 {
	var out []float64
	for _, field := range strings.Split(raw, ",") {
		field = strings.TrimSpace(field)
		if field == "" {
			continue
		}
		v, err := strconv.ParseFloat(field, 64)
		if err != nil || v <= 0 || v >= 1 {
			return append([]float64(nil), defaultFrameOffsets...)
		}
		out = append(out, v)
	}
	if len(out) == 0 {
		return append([]float64(nil), defaultFrameOffsets...)
	}
	return out
}

// Summarize returns the visual summary for m. A cached summary is returned
// as is unless force is set. Non-visual media yield nil.
func (s *Summarizer) Summarize(ctx context.Context, m *models.Media, force bool) (*models.EmbeddingText, error) {
	if m == nil || !m.Type.IsVisual() {
		return nil, nil
	}
	if !force && m.CachedSummary() != "" {
		return m.EmbeddingText, nil
	}
	if m.StorageURLPath == "" {
		return nil, pkgerrors.New(pkgerrors.CodeIrrecoverable, "media has no stored object to summarize")
	}

	var (
		summary string
		err     error
	)
	if m.Type.IsImage() {
		summary, err = s.summarizeImage(ctx, m)
	} else {
		summary, err = s.summarizeVideo(ctx, m)
	}
	if err != nil {
		return nil, err
	}

	text := models.EmbeddingText{Summary: summary, Model: s.model.Name(), GeneratedAt: s.now().UTC()}
	if err := s.media.SetEmbeddingText(ctx, m.ID, text); err != nil {
		return nil, err
	}
	m.EmbeddingText = &text
	s.logg.Info(s.logg.WithField(ctx, "summary_chars", len(summary)), "visual summary generated")
	return &text, nil
}

func (s *Summarizer) summarizeImage(ctx context.Context, m *models.Media) (string, error) {
	format := media.ImageFormat(m.StorageURLPath)
	if format == "" {
		format = "jpeg"
	}
	data, err := s.store.GetObject(ctx, m.StorageURLPath)
	if err != nil {
		return "", err
	}
	if s.maxImageBytes > 0 && len(data) > s.maxImageBytes {
		return "", pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("image is %d bytes, limit is %d", len(data), s.maxImageBytes))
	}
	return s.model.Describe(ctx, imagePrompt, []Image{{Format: format, Data: data}})
}

func (s *Summarizer) summarizeVideo(ctx context.Context, m *models.Media) (string, error) {
	dir := filepath.Join(s.workDir, m.ID.String(), "summary")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", pkgerrors.Wrap(pkgerrors.CodeTransient, err, "create summary dir")
	}
	defer os.RemoveAll(dir)

	src := filepath.Join(dir, "source"+filepath.Ext(m.StorageURLPath))
	found, err := s.store.DownloadFileToPath(ctx, m.StorageURLPath, src)
	if err != nil {
		return "", err
	}
	if !found {
		return "", pkgerrors.New(pkgerrors.CodeIrrecoverable, fmt.Sprintf("object %s does not exist", m.StorageURLPath))
	}

	duration := m.Metadata.DurationSeconds()
	if duration <= 0 {
		probe, err := s.frames.Probe(ctx, src)
		if err != nil {
			return "", err
		}
		duration = probe.DurationSeconds()
	}

	var described []string
	for i, frac := range s.offsets {
		offset := duration * frac
		dest := filepath.Join(dir, fmt.Sprintf("frame_%02d.jpg", i))
		if err := s.frames.Frame(ctx, src, offset, dest); err != nil {
			return "", err
		}
		data, err := os.ReadFile(dest)
		if err != nil {
			return "", pkgerrors.Wrap(pkgerrors.CodeInternal, err, "read frame")
		}
		text, err := s.model.Describe(ctx, framePrompt, []Image{{Format: "jpeg", Data: data}})
		if err != nil {
			return "", err
		}
		described = append(described, Timestamp(offset)+" "+text)
	}

	combined := strings.Join(described, "\n")
	if s.threshold <= 0 || len(combined) <= s.threshold {
		return combined, nil
	}
	return s.model.Describe(ctx, condensePrompt+combined, nil)
}

// Timestamp formats seconds as [mm:ss].
func Timestamp(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds)
	return fmt.Sprintf("[%02d:%02d]", total/60, total%60)
}
