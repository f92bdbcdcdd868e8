package types

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Generation statuses. A generation only ever moves forward through these;
// completed and failed are terminal.
const (
	StatusPending          = "pending"
	StatusDialogueComplete = "dialogue_complete"
	StatusAudioComplete    = "audio_complete"
	StatusImagesComplete   = "images_complete"
	StatusCompleted        = "completed"
	StatusFailed           = "failed"
)

var statusRank = map[string]int{
	StatusPending:          0,
	StatusDialogueComplete: 1,
	StatusAudioComplete:    2,
	StatusImagesComplete:   3,
	StatusCompleted:        4,
}

// StatusRank returns the pipeline position of a non-terminal-failure status,
// and whether the status is known. failed has no rank.
func StatusRank(status string) (int, bool) {
	r, ok := statusRank[status]
	return r, ok
}

// IsTerminalStatus reports whether a run finished in this status. A failed
// generation can still be picked up again by resume.
func IsTerminalStatus(status string) bool {
	return status == StatusCompleted || status == StatusFailed
}

// Generation is the main record for one requested podcast video. It is never
// deleted; failed rows remain as an audit trail and resume checkpoint.
type Generation struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TopicKey     string    `gorm:"column:topic_key;not null;index" json:"topic_key"`
	TopicName    string    `gorm:"column:topic_name;not null" json:"topic_name"`
	Language     string    `gorm:"column:language;not null;default:CN" json:"language"`
	StockCode    string    `gorm:"column:stock_code" json:"stock_code,omitempty"`
	Status       string    `gorm:"column:status;not null;index" json:"status"`
	ErrorMessage string    `gorm:"column:error_message" json:"error_message,omitempty"`

	DialogueJSONPath string `gorm:"column:dialogue_json_path" json:"dialogue_json_path,omitempty"`
	AudioPath        string `gorm:"column:audio_path" json:"audio_path,omitempty"`
	VideoPath        string `gorm:"column:video_path" json:"video_path,omitempty"`

	CreatedAt   time.Time      `gorm:"not null;index" json:"created_at"`
	UpdatedAt   time.Time      `gorm:"not null" json:"updated_at"`
	CompletedAt *time.Time     `gorm:"column:completed_at" json:"completed_at,omitempty"`
	DeletedAt   gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

func (Generation) TableName() string { return "generation" }
