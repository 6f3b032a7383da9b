package media

import (
	"path"
	"strings"
)

var contentTypesByExt = map[string]string{
	".mp4":  "video/mp4",
	".mov":  "video/quicktime",
	".m4v":  "video/x-m4v",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".mp3":  "audio/mpeg",
	".m4a":  "audio/mp4",
	".wav":  "audio/wav",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",
	".json": "application/json",
}

// ContentTypeFor returns the upload content type for a file name.
func ContentTypeFor(name string) string {
	if ct, ok := contentTypesByExt[strings.ToLower(path.Ext(name))]; ok {
		return ct
	}
	return "application/octet-stream"
}

// IsVideoFile reports whether name looks like a video clip.
func IsVideoFile(name string) bool {
	return strings.HasPrefix(ContentTypeFor(name), "video/")
}

// ImageFormat returns the short format name used by vision requests ("jpeg", "png").
func ImageFormat(name string) string {
	ct := ContentTypeFor(name)
	if !strings.HasPrefix(ct, "image/") {
		return ""
	}
	return strings.TrimPrefix(ct, "image/")
}
