package media

import (
	"fmt"
	"strings"

	"github.com/angelmondragon/studioflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/studioflow-backend/pkg/errors"
)

const rawSegment = "raw"

// SourceFolder is a parsed recording folder:
// {company}/{session}/{device}_{aspectCode}_{resolution}/raw/
type SourceFolder struct {
	Company    string
	Session    string
	Device     string
	Aspect     enums.AspectCode
	Resolution string
}

// Path returns the canonical folder path with a trailing slash.
func (f SourceFolder) Path() string {
	return fmt.Sprintf("%s/%s/%s_%s_%s/%s/", f.Company, f.Session, f.Device, f.Aspect, f.Resolution, rawSegment)
}

// ParseSourceFolder validates a recording folder path. Malformed input is a
// validation error so the pipeline fails before any work starts.
func ParseSourceFolder(raw string) (SourceFolder, error) {
	trimmed := strings.Trim(strings.TrimSpace(raw), "/")
	if trimmed == "" {
		return SourceFolder{}, invalidFolder(raw, "path is empty")
	}

	segments := strings.Split(trimmed, "/")
	for _, seg := range segments {
		if strings.TrimSpace(seg) == "" {
			return SourceFolder{}, invalidFolder(raw, "path contains an empty segment")
		}
	}
	if len(segments) < 4 {
		return SourceFolder{}, invalidFolder(raw, fmt.Sprintf("expected 4 segments {company}/{session}/{device}_{aspect}_{resolution}/raw, got %d", len(segments)))
	}
	if len(segments) > 4 {
		return SourceFolder{}, invalidFolder(raw, fmt.Sprintf("expected 4 segments, got %d", len(segments)))
	}
	if segments[3] != rawSegment {
		return SourceFolder{}, invalidFolder(raw, "last segment must be \"raw\"")
	}

	parts := strings.Split(segments[2], "_")
	if len(parts) < 3 {
		return SourceFolder{}, invalidFolder(raw, fmt.Sprintf("device segment %q must look like {device}_{aspect}_{resolution}", segments[2]))
	}
	device := strings.Join(parts[:len(parts)-2], "_")
	aspectRaw := parts[len(parts)-2]
	resolution := parts[len(parts)-1]
	if device == "" || resolution == "" {
		return SourceFolder{}, invalidFolder(raw, fmt.Sprintf("device segment %q has empty parts", segments[2]))
	}
	aspect, err := enums.ParseAspectCode(aspectRaw)
	if err != nil {
		return SourceFolder{}, invalidFolder(raw, fmt.Sprintf("unknown aspect code %q (expected 916, 169 or 11)", aspectRaw))
	}

	return SourceFolder{
		Company:    segments[0],
		Session:    segments[1],
		Device:     device,
		Aspect:     aspect,
		Resolution: resolution,
	}, nil
}

func invalidFolder(raw, reason string) error {
	return pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("invalid source folder %q: %s", raw, reason)).
		WithDetails(map[string]any{"source_folder": raw, "reason": reason})
}
