package dto

import (
	"time"

	"github.com/google/uuid"

	"nvr-edge/constant"
)

type AddCameraRequest struct {
	Id  string `json:"id" binding:"required"`
	URI string `json:"uri" binding:"required"`
}

type CameraStatus struct {
	Id                  string               `json:"id"`
	Enabled             bool                 `json:"enabled"`
	Health              constant.HealthState `json:"health"`
	LastSegmentAt       time.Time            `json:"last_segment_at"`
	ConsecutiveFailures int                  `json:"consecutive_failures"`
	NextRetryAt         time.Time            `json:"next_retry_at,omitempty"`
	CreatedAt           time.Time            `json:"created_at"`
}

type RecordingsSummary struct {
	CameraId     string    `json:"camera_id"`
	SegmentCount int       `json:"segment_count"`
	TotalBytes   int64     `json:"total_bytes"`
	OldestStart  time.Time `json:"oldest_start"`
	NewestStart  time.Time `json:"newest_start"`
}

type GCResult struct {
	Deleted        int   `json:"deleted"`
	BytesReclaimed int64 `json:"bytes_reclaimed"`
	SpaceExhausted bool  `json:"space_exhausted"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// SegmentClosedMessage is published to the event exchange after a segment
// passes the integrity check.
type SegmentClosedMessage struct {
	EventId  uuid.UUID `json:"eventId"`
	CameraId string    `json:"cameraId"`
	Path     string    `json:"path"`
	Start    time.Time `json:"start"`
	Size     int64     `json:"size"`
	ClosedAt time.Time `json:"closedAt"`
}

type HealthTransitionMessage struct {
	EventId  uuid.UUID            `json:"eventId"`
	CameraId string               `json:"cameraId"`
	From     constant.HealthState `json:"from"`
	To       constant.HealthState `json:"to"`
	At       time.Time            `json:"at"`
}
