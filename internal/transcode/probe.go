package transcode

import (
	"context"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
)

// ProbeResult is the subset of ffprobe output the pipeline reads.
type ProbeResult struct {
	Streams []ProbeStream `json:"streams"`
	Format  ProbeFormat   `json:"format"`
}

type ProbeStream struct {
	Index     int    `json:"index"`
	CodecName string `json:"codec_name"`
	CodecType string `json:"codec_type"`
	Width     int    `json:"width"`
	Height    int    `json:"height"`
}

type ProbeFormat struct {
	Duration   string `json:"duration"`
	FormatName string `json:"format_name"`
}

// DurationSeconds returns the container duration, or 0 when unknown.
func (r ProbeResult) DurationSeconds() float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(r.Format.Duration), 64)
	if err != nil || math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}

// VideoSize returns the dimensions of the first video stream.
func (r ProbeResult) VideoSize() (int, int) {
	for _, s := range r.Streams {
		if strings.EqualFold(s.CodecType, "video") {
			return s.Width, s.Height
		}
	}
	return 0, 0
}

// HasAudio reports whether any audio stream exists.
func (r ProbeResult) HasAudio() bool {
	for _, s := range r.Streams {
		if strings.EqualFold(s.CodecType, "audio") {
			return true
		}
	}
	return false
}

// Probe inspects a local file with ffprobe.
func (t *Tool) Probe(ctx context.Context, path string) (ProbeResult, error) {
	out, err := t.ffprobe.Run(ctx, "-v", "error", "-hide_banner", "-show_format", "-show_streams", "-of", "json", "--", path)
	if err != nil {
		return ProbeResult{}, classify(ctx, "ffprobe", out, err)
	}
	var res ProbeResult
	if err := json.Unmarshal(out, &res); err != nil {
		return ProbeResult{}, pkgerrors.Wrap(pkgerrors.CodeIrrecoverable, err, "ffprobe returned unreadable output")
	}
	return res, nil
}
