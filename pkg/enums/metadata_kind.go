package enums

import "fmt"

// MetadataKind discriminates the media metadata union.
type MetadataKind string

const (
	MetadataKindRawRecording MetadataKind = "raw_recording"
	MetadataKindImage        MetadataKind = "image"
	MetadataKindVideo        MetadataKind = "video"
)

func (k MetadataKind) IsValid() bool {
	switch k {
	case MetadataKindRawRecording, MetadataKindImage, MetadataKindVideo:
		return true
	}
	return false
}

func ParseMetadataKind(value string) (MetadataKind, error) {
	kind := MetadataKind(value)
	if !kind.IsValid() {
		return "", fmt.Errorf("invalid metadata kind %q", value)
	}
	return kind, nil
}

// MetadataKindFor picks the metadata variant for a media type.
func MetadataKindFor(t MediaType) MetadataKind {
	switch t {
	case MediaTypeStudioRecording:
		return MetadataKindRawRecording
	case MediaTypeImage:
		return MetadataKindImage
	default:
		return MetadataKindVideo
	}
}
