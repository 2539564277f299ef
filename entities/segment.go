package entities

import (
	"time"

	"nvr-edge/constant"
)

type Segment struct {
	Path     string                `json:"path"`
	CameraId string                `json:"camera_id"`
	Start    time.Time             `json:"start"`
	Duration time.Duration         `json:"duration"`
	Size     int64                 `json:"size"`
	State    constant.SegmentState `json:"state"`
}

type HealthRecord struct {
	CameraId            string               `json:"camera_id"`
	State               constant.HealthState `json:"state"`
	LastSegmentAt       time.Time            `json:"last_segment_at"`
	ConsecutiveFailures int                  `json:"consecutive_failures"`
	NextRetryAt         time.Time            `json:"next_retry_at"`
	LastError           string               `json:"last_error,omitempty"`
}
