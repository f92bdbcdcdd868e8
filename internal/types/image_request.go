package types

import (
	"time"

	"github.com/google/uuid"
)

// ImageRequest records one image slot of the image stage. RetryCount is the
// number of upstream attempts consumed before the recorded outcome.
type ImageRequest struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	GenerationID uuid.UUID `gorm:"type:uuid;not null;index" json:"generation_id"`
	Prompt       string    `gorm:"column:prompt;not null" json:"prompt"`
	ImageIndex   int       `gorm:"column:image_index;not null;default:0" json:"image_index"`
	ImagePath    string    `gorm:"column:image_path" json:"image_path"`
	IsCover      bool      `gorm:"column:is_cover;not null;default:false" json:"is_cover"`
	RetryCount   int       `gorm:"column:retry_count;not null;default:0" json:"retry_count"`
	Success      bool      `gorm:"column:success;not null;default:false" json:"success"`
	ErrorMessage string    `gorm:"column:error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time `gorm:"not null" json:"updated_at"`
}

func (ImageRequest) TableName() string { return "image_request" }
