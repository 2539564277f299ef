package entities

import (
	"time"

	"github.com/google/uuid"
)

type CameraEvent struct {
	ID         uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	CameraId   string    `json:"camera_id" gorm:"type:varchar(64);not null;index:idx_camera_events_camera"`
	Kind       string    `json:"kind" gorm:"type:varchar(40);not null"`
	Detail     string    `json:"detail" gorm:"type:text"`
	OccurredAt time.Time `json:"occurred_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (CameraEvent) TableName() string {
	return "camera_events"
}
