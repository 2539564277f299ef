package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"nvr-edge/dto"
	"nvr-edge/entities"
)

// RecordingIndex is the optional database index over segments and camera
// events. The orchestrator works without it; when configured it powers fast
// recordings summaries and a durable event history.
type RecordingIndex interface {
	RecordSegment(ctx context.Context, seg entities.Segment) error
	DeleteSegment(ctx context.Context, path string) error
	RecordEvent(ctx context.Context, cameraId, kind, detail string) error
	Summaries(ctx context.Context) ([]dto.RecordingsSummary, error)
}

type index struct {
	db *gorm.DB
}

func NewIndex(db *sql.DB) (RecordingIndex, error) {
	gormDB, err := gorm.Open(postgres.New(postgres.Config{
		Conn: db}),
		&gorm.Config{
			Logger: logger.Default.LogMode(logger.Warn),
		},
	)
	if err != nil {
		return nil, err
	}
	if err := gormDB.AutoMigrate(&entities.SegmentRecord{}, &entities.CameraEvent{}); err != nil {
		return nil, err
	}
	return &index{db: gormDB}, nil
}

func (i *index) RecordSegment(ctx context.Context, seg entities.Segment) error {
	record := &entities.SegmentRecord{
		ID:        uuid.New(),
		CameraId:  seg.CameraId,
		Path:      seg.Path,
		StartedAt: seg.Start,
		Duration:  int(seg.Duration.Seconds()),
		FileSize:  seg.Size,
		State:     string(seg.State),
	}
	return i.db.WithContext(ctx).Create(record).Error
}

func (i *index) DeleteSegment(ctx context.Context, path string) error {
	return i.db.WithContext(ctx).Where("path = ?", path).Delete(&entities.SegmentRecord{}).Error
}

func (i *index) RecordEvent(ctx context.Context, cameraId, kind, detail string) error {
	event := &entities.CameraEvent{
		ID:         uuid.New(),
		CameraId:   cameraId,
		Kind:       kind,
		Detail:     detail,
		OccurredAt: time.Now().UTC(),
	}
	return i.db.WithContext(ctx).Create(event).Error
}

func (i *index) Summaries(ctx context.Context) ([]dto.RecordingsSummary, error) {
	var rows []dto.RecordingsSummary
	err := i.db.WithContext(ctx).
		Model(&entities.SegmentRecord{}).
		Select("camera_id, count(*) as segment_count, sum(file_size) as total_bytes, min(started_at) as oldest_start, max(started_at) as newest_start").
		Group("camera_id").
		Order("camera_id").
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
