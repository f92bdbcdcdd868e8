package types

import (
	"time"

	"github.com/google/uuid"
)

// VideoOutput records one render attempt of the compositor. The exact ffmpeg
// invocation is persisted next to the artifact for debugging.
type VideoOutput struct {
	ID              uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	GenerationID    uuid.UUID `gorm:"type:uuid;not null;index" json:"generation_id"`
	VideoPath       string    `gorm:"column:video_path" json:"video_path"`
	DurationSeconds float64   `gorm:"column:duration_seconds;not null;default:0" json:"duration_seconds"`
	Resolution      string    `gorm:"column:resolution" json:"resolution"`
	FileSizeBytes   int64     `gorm:"column:file_size_bytes;not null;default:0" json:"file_size_bytes"`
	CommandPath     string    `gorm:"column:command_path" json:"command_path,omitempty"`
	Success         bool      `gorm:"column:success;not null;default:false" json:"success"`
	ErrorMessage    string    `gorm:"column:error_message" json:"error_message,omitempty"`
	CreatedAt       time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt       time.Time `gorm:"not null" json:"updated_at"`
}

func (VideoOutput) TableName() string { return "video_output" }
