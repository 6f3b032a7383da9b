package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/angelmondragon/studioflow-backend/pkg/enums"
)

// Media is a processed or uploaded asset owned by an organization.
type Media struct {
	ID             uuid.UUID         `gorm:"column:id;type:uuid;primaryKey"`
	OrganizationID uuid.UUID         `gorm:"column:organization_id;type:uuid;not null"`
	Name           string            `gorm:"column:name;not null"`
	Type           enums.MediaType   `gorm:"column:type;type:text;not null"`
	Status         enums.MediaStatus `gorm:"column:status;type:text;not null;default:pending"`
	StorageURLPath string            `gorm:"column:storage_url_path"`
	SourceFolder   *string           `gorm:"column:source_folder"`
	Tags           pq.StringArray    `gorm:"column:tags;type:text[]"`
	Metadata       MediaMetadata     `gorm:"column:metadata;type:jsonb"`
	Embedding      *pgvector.Vector  `gorm:"column:embedding;type:vector"`
	EmbeddingText  *EmbeddingText    `gorm:"column:embedding_text;type:jsonb"`
	CreatedAt      time.Time         `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt      time.Time         `gorm:"column:updated_at;autoUpdateTime"`
}

func (Media) TableName() string { return "media" }

func (m *Media) BeforeCreate(_ *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// CachedSummary returns the stored visual summary, if any.
func (m *Media) CachedSummary() string {
	if m == nil || m.EmbeddingText == nil {
		return ""
	}
	return m.EmbeddingText.Summary
}

// EmbeddingText caches the visual summary that fed the last embedding.
type EmbeddingText struct {
	Summary     string    `json:"summary"`
	Model       string    `json:"model"`
	GeneratedAt time.Time `json:"generated_at"`
}

func (e *EmbeddingText) Scan(src any) error {
	raw, err := scanBytes(src)
	if err != nil || raw == nil {
		return err
	}
	return json.Unmarshal(raw, e)
}

func (e EmbeddingText) Value() (driver.Value, error) {
	raw, err := json.Marshal(e)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

func scanBytes(src any) ([]byte, error) {
	switch v := src.(type) {
	case nil:
		return nil, nil
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported scan type %T", src)
	}
}
