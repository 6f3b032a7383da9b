package enums

import "fmt"

// MediaType classifies what a media asset contains.
type MediaType string

const (
	MediaTypeStudioRecording MediaType = "studio_recording"
	MediaTypeVideo           MediaType = "video"
	MediaTypeAudio           MediaType = "audio"
	MediaTypeImage           MediaType = "image"
	MediaTypeScreen          MediaType = "screen"
)

var validMediaTypes = []MediaType{
	MediaTypeStudioRecording,
	MediaTypeVideo,
	MediaTypeAudio,
	MediaTypeImage,
	MediaTypeScreen,
}

func (m MediaType) String() string {
	return string(m)
}

func (m MediaType) IsValid() bool {
	for _, candidate := range validMediaTypes {
		if candidate == m {
			return true
		}
	}
	return false
}

// IsVisual reports whether the vision summarizer can describe this type.
func (m MediaType) IsVisual() bool {
	switch m {
	case MediaTypeImage, MediaTypeVideo, MediaTypeStudioRecording, MediaTypeScreen:
		return true
	}
	return false
}

// IsImage reports whether the type is a still image.
func (m MediaType) IsImage() bool {
	return m == MediaTypeImage
}

func ParseMediaType(value string) (MediaType, error) {
	for _, candidate := range validMediaTypes {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid media type %q", value)
}
