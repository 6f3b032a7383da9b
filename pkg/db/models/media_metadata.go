package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/angelmondragon/studioflow-backend/pkg/enums"
)

// MetadataSchemaVersion is written on every metadata document.
const MetadataSchemaVersion = 1

// Keys of the stage outputs recorded on media metadata.
const (
	MetaKeyRawURL        = "raw_url"
	MetaKey720pURL       = "720p_url"
	MetaKeyThumbnailURL  = "thumbnail_url"
	MetaKeyAudioURL      = "audio_url"
	MetaKeyTranscriptURL = "transcript_url"
	MetaKeyUtterancesURL = "utterances_url"
)

// StageOutputs holds the artifact URLs written by pipeline stages.
type StageOutputs struct {
	RawURL        string `json:"raw_url,omitempty"`
	URL720p       string `json:"720p_url,omitempty"`
	ThumbnailURL  string `json:"thumbnail_url,omitempty"`
	AudioURL      string `json:"audio_url,omitempty"`
	TranscriptURL string `json:"transcript_url,omitempty"`
	UtterancesURL string `json:"utterances_url,omitempty"`
}

// Get returns the URL stored under one of the MetaKey constants.
func (o *StageOutputs) Get(key string) string {
	if o == nil {
		return ""
	}
	if p := o.field(key); p != nil {
		return *p
	}
	return ""
}

// Set stores value under one of the MetaKey constants.
func (o *StageOutputs) Set(key, value string) error {
	p := o.field(key)
	if p == nil {
		return fmt.Errorf("unknown stage output key %q", key)
	}
	*p = value
	return nil
}

func (o *StageOutputs) field(key string) *string {
	switch key {
	case MetaKeyRawURL:
		return &o.RawURL
	case MetaKey720pURL:
		return &o.URL720p
	case MetaKeyThumbnailURL:
		return &o.ThumbnailURL
	case MetaKeyAudioURL:
		return &o.AudioURL
	case MetaKeyTranscriptURL:
		return &o.TranscriptURL
	case MetaKeyUtterancesURL:
		return &o.UtterancesURL
	}
	return nil
}

// RecordingMetadata describes a studio recording assembled from raw clips.
type RecordingMetadata struct {
	StageOutputs
	S3FolderPath     string           `json:"s3_folder_path,omitempty"`
	VideoProjectID   string           `json:"video_project_id,omitempty"`
	AspectRatio      enums.AspectCode `json:"aspect_ratio,omitempty"`
	DeviceIdentifier string           `json:"device_identifier,omitempty"`
	Resolution       string           `json:"resolution,omitempty"`
	ClipCount        int              `json:"clip_count,omitempty"`
	DurationSeconds  float64          `json:"duration_seconds,omitempty"`
	Format           string           `json:"format,omitempty"`
}

type ImageMetadata struct {
	Width        int    `json:"width,omitempty"`
	Height       int    `json:"height,omitempty"`
	Format       string `json:"format,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

type VideoMetadata struct {
	StageOutputs
	Width           int     `json:"width,omitempty"`
	Height          int     `json:"height,omitempty"`
	DurationSeconds float64 `json:"duration_seconds,omitempty"`
	Format          string  `json:"format,omitempty"`
}

// MediaMetadata is a versioned tagged union. Exactly one variant matches Kind.
// On the wire the variant fields sit next to schema_version and kind.
type MediaMetadata struct {
	SchemaVersion int
	Kind          enums.MetadataKind
	Recording     *RecordingMetadata
	Image         *ImageMetadata
	Video         *VideoMetadata
}

func NewRecordingMetadata(r RecordingMetadata) MediaMetadata {
	return MediaMetadata{SchemaVersion: MetadataSchemaVersion, Kind: enums.MetadataKindRawRecording, Recording: &r}
}

func NewImageMetadata(i ImageMetadata) MediaMetadata {
	return MediaMetadata{SchemaVersion: MetadataSchemaVersion, Kind: enums.MetadataKindImage, Image: &i}
}

func NewVideoMetadata(v VideoMetadata) MediaMetadata {
	return MediaMetadata{SchemaVersion: MetadataSchemaVersion, Kind: enums.MetadataKindVideo, Video: &v}
}

// Outputs returns the stage output block, or nil for variants without one.
func (m *MediaMetadata) Outputs() *StageOutputs {
	switch m.Kind {
	case enums.MetadataKindRawRecording:
		if m.Recording == nil {
			m.Recording = &RecordingMetadata{}
		}
		return &m.Recording.StageOutputs
	case enums.MetadataKindVideo:
		if m.Video == nil {
			m.Video = &VideoMetadata{}
		}
		return &m.Video.StageOutputs
	}
	return nil
}

// Output reads a stage output key; empty when absent.
func (m MediaMetadata) Output(key string) string {
	switch {
	case m.Recording != nil:
		return m.Recording.Get(key)
	case m.Video != nil:
		return m.Video.Get(key)
	case m.Image != nil && key == MetaKeyThumbnailURL:
		return m.Image.ThumbnailURL
	}
	return ""
}

// Format returns the container or encoding format, if known.
func (m MediaMetadata) Format() string {
	switch {
	case m.Recording != nil:
		return m.Recording.Format
	case m.Video != nil:
		return m.Video.Format
	case m.Image != nil:
		return m.Image.Format
	}
	return ""
}

// DurationSeconds returns the playable duration, zero for stills.
func (m MediaMetadata) DurationSeconds() float64 {
	switch {
	case m.Recording != nil:
		return m.Recording.DurationSeconds
	case m.Video != nil:
		return m.Video.DurationSeconds
	}
	return 0
}

type metadataEnvelope struct {
	SchemaVersion int                `json:"schema_version"`
	Kind          enums.MetadataKind `json:"kind,omitempty"`
}

func (m MediaMetadata) MarshalJSON() ([]byte, error) {
	var variant any
	switch {
	case m.Kind == enums.MetadataKindRawRecording && m.Recording != nil:
		variant = m.Recording
	case m.Kind == enums.MetadataKindImage && m.Image != nil:
		variant = m.Image
	case m.Kind == enums.MetadataKindVideo && m.Video != nil:
		variant = m.Video
	}

	fields := map[string]any{}
	if variant != nil {
		raw, err := json.Marshal(variant)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, err
		}
	}

	version := m.SchemaVersion
	if version == 0 {
		version = MetadataSchemaVersion
	}
	fields["schema_version"] = version
	if m.Kind != "" {
		fields["kind"] = m.Kind
	}
	return json.Marshal(fields)
}

// UnmarshalJSON accepts both enveloped documents and legacy untyped blobs;
// the latter are classified by the keys they carry.
func (m *MediaMetadata) UnmarshalJSON(data []byte) error {
	var env metadataEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode metadata envelope: %w", err)
	}

	kind := env.Kind
	if kind == "" {
		kind = inferKind(data)
	}
	if !kind.IsValid() {
		return fmt.Errorf("unknown metadata kind %q", kind)
	}

	out := MediaMetadata{SchemaVersion: env.SchemaVersion, Kind: kind}
	if out.SchemaVersion == 0 {
		out.SchemaVersion = MetadataSchemaVersion
	}

	var err error
	switch kind {
	case enums.MetadataKindRawRecording:
		out.Recording = &RecordingMetadata{}
		err = json.Unmarshal(data, out.Recording)
	case enums.MetadataKindImage:
		out.Image = &ImageMetadata{}
		err = json.Unmarshal(data, out.Image)
	case enums.MetadataKindVideo:
		out.Video = &VideoMetadata{}
		err = json.Unmarshal(data, out.Video)
	}
	if err != nil {
		return fmt.Errorf("decode %s metadata: %w", kind, err)
	}
	*m = out
	return nil
}

func inferKind(data []byte) enums.MetadataKind {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(data, &probe); err != nil {
		return enums.MetadataKindVideo
	}
	if _, ok := probe["s3_folder_path"]; ok {
		return enums.MetadataKindRawRecording
	}
	if _, ok := probe[MetaKeyRawURL]; ok {
		return enums.MetadataKindRawRecording
	}
	return enums.MetadataKindVideo
}

func (m *MediaMetadata) Scan(src any) error {
	raw, err := scanBytes(src)
	if err != nil {
		return err
	}
	if len(raw) == 0 || string(raw) == "null" || string(raw) == "{}" {
		*m = MediaMetadata{}
		return nil
	}
	return json.Unmarshal(raw, m)
}

func (m MediaMetadata) Value() (driver.Value, error) {
	if m.Kind == "" {
		return "{}", nil
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}
