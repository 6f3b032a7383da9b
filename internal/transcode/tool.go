package transcode

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/angelmondragon/studioflow-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
)

// Tool wraps the ffmpeg invocations used by pipeline stages and the visual
// summarizer.
type Tool struct {
	ffmpeg  Runner
	ffprobe Runner
	crf     int
	preset  string
}

// New builds a Tool backed by the configured binaries.
func New(cfg config.PipelineConfig) *Tool {
	return NewWithRunners(NewExecRunner(cfg.FFmpegPath), NewExecRunner(cfg.FFprobePath), cfg.VideoCRF, cfg.VideoPreset)
}

// NewWithRunners builds a Tool with explicit runners.
func NewWithRunners(ffmpeg, ffprobe Runner, crf int, preset string) *Tool {
	if crf <= 0 {
		crf = 23
	}
	if strings.TrimSpace(preset) == "" {
		preset = "medium"
	}
	return &Tool{ffmpeg: ffmpeg, ffprobe: ffprobe, crf: crf, preset: preset}
}

func (t *Tool) run(ctx context.Context, op string, args ...string) error {
	base := []string{"-y", "-hide_banner", "-loglevel", "error"}
	out, err := t.ffmpeg.Run(ctx, append(base, args...)...)
	if err != nil {
		return classify(ctx, op, out, err)
	}
	return nil
}

// Concat joins clips in order into dest without re-encoding.
func (t *Tool) Concat(ctx context.Context, clips []string, dest string) error {
	if len(clips) == 0 {
		return pkgerrors.New(pkgerrors.CodeIrrecoverable, "no clips to merge")
	}
	listPath := filepath.Join(filepath.Dir(dest), "concat.txt")
	var b strings.Builder
	for _, clip := range clips {
		abs, err := filepath.Abs(clip)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "resolve clip path")
		}
		fmt.Fprintf(&b, "file '%s'\n", strings.ReplaceAll(abs, "'", `'\''`))
	}
	if err := os.WriteFile(listPath, []byte(b.String()), 0o644); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "write concat list")
	}
	return t.run(ctx, "ffmpeg concat", "-f", "concat", "-safe", "0", "-i", listPath, "-c", "copy", "-movflags", "+faststart", dest)
}

// Downscale720 re-encodes src so its short side is 720 pixels.
func (t *Tool) Downscale720(ctx context.Context, src, dest string, portrait bool) error {
	scale := "scale=-2:720"
	if portrait {
		scale = "scale=720:-2"
	}
	return t.run(ctx, "ffmpeg downscale",
		"-i", src,
		"-vf", scale,
		"-c:v", "libx264", "-preset", t.preset, "-crf", strconv.Itoa(t.crf),
		"-c:a", "aac", "-b:a", "128k",
		"-movflags", "+faststart",
		dest,
	)
}

// Frame writes a single JPEG frame taken at offset seconds.
func (t *Tool) Frame(ctx context.Context, src string, offset float64, dest string) error {
	if offset < 0 {
		offset = 0
	}
	return t.run(ctx, "ffmpeg frame",
		"-ss", strconv.FormatFloat(offset, 'f', 3, 64),
		"-i", src,
		"-frames:v", "1",
		"-q:v", "2",
		dest,
	)
}

// Thumbnail writes a 1280px wide JPEG poster frame.
func (t *Tool) Thumbnail(ctx context.Context, src string, offset float64, dest string) error {
	return t.run(ctx, "ffmpeg thumbnail",
		"-ss", strconv.FormatFloat(offset, 'f', 3, 64),
		"-i", src,
		"-frames:v", "1",
		"-vf", "scale='min(1280,iw)':-2",
		"-q:v", "3",
		dest,
	)
}

// ExtractAudio writes a mono 16kHz MP3 of the audio track.
func (t *Tool) ExtractAudio(ctx context.Context, src, dest string) error {
	return t.run(ctx, "ffmpeg extract audio",
		"-i", src,
		"-vn", "-sn", "-dn",
		"-ac", "1",
		"-ar", "16000",
		"-c:a", "libmp3lame", "-b:a", "64k",
		dest,
	)
}
