package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// DialogueRequest records one attempt of the dialogue stage: prompt in, raw
// model output and parsed payload out. Rows are created before the upstream
// call and updated exactly once afterwards.
type DialogueRequest struct {
	ID           uuid.UUID      `gorm:"type:uuid;primaryKey" json:"id"`
	GenerationID uuid.UUID      `gorm:"type:uuid;not null;index" json:"generation_id"`
	Prompt       string         `gorm:"column:prompt;not null" json:"prompt"`
	ResponseRaw  string         `gorm:"column:response_raw" json:"response_raw"`
	DialogueJSON datatypes.JSON `gorm:"column:dialogue_json" json:"dialogue_json"`
	References   datatypes.JSON `gorm:"column:references_json" json:"references"`
	Summary      string         `gorm:"column:summary" json:"summary"`
	Title        string         `gorm:"column:title" json:"title"`
	WordCount    int            `gorm:"column:word_count;not null;default:0" json:"word_count"`
	Success      bool           `gorm:"column:success;not null;default:false" json:"success"`
	ErrorMessage string         `gorm:"column:error_message" json:"error_message,omitempty"`
	CreatedAt    time.Time      `gorm:"not null" json:"created_at"`
	UpdatedAt    time.Time      `gorm:"not null" json:"updated_at"`
}

func (DialogueRequest) TableName() string { return "dialogue_request" }
