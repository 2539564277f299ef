package entities

import (
	"time"

	"github.com/google/uuid"
)

type SegmentRecord struct {
	ID        uuid.UUID `json:"id" gorm:"type:uuid;primary_key;default:gen_random_uuid()"`
	CameraId  string    `json:"camera_id" gorm:"type:varchar(64);not null;index:idx_segment_records_camera"`
	Path      string    `json:"path" gorm:"type:varchar(500);not null;uniqueIndex:unique_segment_path"`
	StartedAt time.Time `json:"started_at" gorm:"type:timestamptz;not null;index:idx_segment_records_started"`
	Duration  int       `json:"duration_seconds" gorm:"type:integer"`
	FileSize  int64     `json:"file_size" gorm:"type:bigint"`
	State     string    `json:"state" gorm:"type:varchar(20);not null"`
	CreatedAt time.Time `json:"created_at" gorm:"type:timestamptz;not null;default:CURRENT_TIMESTAMP"`
}

func (SegmentRecord) TableName() string {
	return "segment_records"
}
