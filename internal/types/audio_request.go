package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// AudioRequest records one attempt of the TTS stage together with the
// word-level timing data returned by the provider.
type AudioRequest struct {
	ID                uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	GenerationID      uuid.UUID      `gorm:"type:uuid;not null;index" json:"generation_id"`
	DialogueCount     int            `gorm:"column:dialogue_count;not null;default:0" json:"dialogue_count"`
	AudioPath         string         `gorm:"column:audio_path" json:"audio_path"`
	DurationSeconds   float64        `gorm:"column:duration_seconds;not null;default:0" json:"duration_seconds"`
	VoiceSegmentsJSON datatypes.JSON `gorm:"column:voice_segments_json" json:"voice_segments_json"`
	Success           bool           `gorm:"column:success;not null;default:false" json:"success"`
	ErrorMessage      string         `gorm:"column:error_message" json:"error_message,omitempty"`
	CreatedAt         time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"not null" json:"updated_at"`
}

func (AudioRequest) TableName() string { return "audio_request" }
