// Package retention enforces the rolling storage policy: age-based and
// free-space-driven deletion of finalized segments, oldest first.
package retention

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"nvr-edge/config"
	"nvr-edge/constant"
	"nvr-edge/dto"
	"nvr-edge/entities"
	"nvr-edge/storage"
)

type Manager struct {
	cfg  config.Retention
	root string
	disk storage.DiskUsage
	now  func() time.Time

	kick      chan struct{}
	exhausted atomic.Bool

	subMu sync.RWMutex
	subs  []func(seg entities.Segment)
}

func NewManager(cfg config.Retention, root string, disk storage.DiskUsage) *Manager {
	return &Manager{
		cfg:  cfg,
		root: root,
		disk: disk,
		now:  time.Now,
		kick: make(chan struct{}, 1),
	}
}

// OnSegmentDeleted registers a hook fired after a segment is fully removed.
func (m *Manager) OnSegmentDeleted(fn func(seg entities.Segment)) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subs = append(m.subs, fn)
}

// OnSegmentClosed requests a cheap incremental pass after a segment closes.
func (m *Manager) OnSegmentClosed(entities.Segment) {
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// StorageExhausted reports the standing alert raised when the free-space
// floor cannot be satisfied even after exhausting eligible deletions.
func (m *Manager) StorageExhausted() bool {
	return m.exhausted.Load()
}

// Run scans on a fixed interval plus reactively after segment closes. Scan
// errors are logged and retried next pass; the loop never dies. StartupCleanup
// must have completed before any camera session starts writing.
func (m *Manager) Run(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-m.kick:
		}
		if _, err := m.Scan(ctx); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Msg("retention scan failed")
		}
	}
}

// StartupCleanup removes .pending-delete leftovers from a crash between the
// two delete phases. Open segments are writer-owned and never touched here;
// each session discards its own stale spool files before launching.
func (m *Manager) StartupCleanup(ctx context.Context) error {
	return filepath.WalkDir(m.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.HasSuffix(path, constant.PendingDeleteSuffix) {
			zerolog.Ctx(ctx).Info().Str("file", path).Msg("removing interrupted deletion")
			_ = os.Remove(strings.TrimSuffix(path, constant.PendingDeleteSuffix) + constant.VerifiedSuffix)
			_ = os.Remove(path)
		}
		return nil
	})
}

// Scan applies the policy camera by camera. Within a camera, deletion is
// strictly oldest-first and stops as soon as neither the age threshold nor
// the free-space floor requires more.
func (m *Manager) Scan(ctx context.Context) (dto.GCResult, error) {
	var result dto.GCResult

	cameras, err := storage.ListCameras(m.root)
	if err != nil {
		return result, err
	}

	free, err := m.disk.FreeBytes(m.root)
	if err != nil {
		return result, err
	}

	now := m.now()
	for _, cameraId := range cameras {
		segments, err := storage.ScanCamera(m.root, cameraId)
		if err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("camera", cameraId).Msg("camera scan failed")
			continue
		}

		// Leftover .pending-delete entries are finished first; the policy
		// loop below stops early and must not hide them behind younger
		// survivors.
		live := segments[:0]
		for _, seg := range segments {
			if seg.State == constant.SegmentStateExpired {
				removePath := seg.Path
				seg.Path = strings.TrimSuffix(removePath, constant.PendingDeleteSuffix)
				if m.unlink(ctx, removePath, seg, &result) {
					free += seg.Size
				}
				continue
			}
			live = append(live, seg)
		}

		var cameraBytes int64
		for _, seg := range live {
			if seg.State == constant.SegmentStateClosedVerified {
				cameraBytes += seg.Size
			}
		}

		for _, seg := range live {
			switch seg.State {
			case constant.SegmentStateOpen:
				// Writer-owned, never touched here.
				continue
			case constant.SegmentStateClosedUnverified:
				if m.cfg.UnverifiedTimeout > 0 && now.Sub(seg.Start) > m.cfg.UnverifiedTimeout {
					// Policy decision, not silent loss: reclassify stuck
					// unverified segments as expired and reclaim them.
					zerolog.Ctx(ctx).Warn().
						Str("camera", cameraId).
						Str("segment", filepath.Base(seg.Path)).
						Dur("age", now.Sub(seg.Start)).
						Msg("unverified segment timed out, reclassified as expired")
					seg.State = constant.SegmentStateExpired
					if m.delete(ctx, seg, &result) {
						free += seg.Size
					}
				}
				continue
			}

			tooOld := now.Sub(seg.Start) > m.cfg.MaxAge
			floorPressure := free < m.cfg.FreeFloorBytes
			overBudget := m.cfg.CameraBudgetBytes <= 0 || cameraBytes > m.cfg.CameraBudgetBytes

			if !tooOld && !floorPressure {
				break
			}
			if !tooOld && !(floorPressure && overBudget) {
				continue
			}

			if m.delete(ctx, seg, &result) {
				free += seg.Size
				cameraBytes -= seg.Size
			}
		}
	}

	exhausted := free < m.cfg.FreeFloorBytes
	if exhausted && !m.exhausted.Load() {
		zerolog.Ctx(ctx).Error().
			Int64("free_bytes", free).
			Int64("floor_bytes", m.cfg.FreeFloorBytes).
			Msg("storage exhausted: floor unsatisfied after eligible deletions, ingestion at risk")
	}
	m.exhausted.Store(exhausted)
	result.SpaceExhausted = exhausted

	return result, nil
}

// delete is two-phase: rename to the .pending-delete marker, then unlink.
// A crash in between is repaired by StartupCleanup.
func (m *Manager) delete(ctx context.Context, seg entities.Segment, result *dto.GCResult) bool {
	pending := seg.Path + constant.PendingDeleteSuffix
	if err := os.Rename(seg.Path, pending); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("segment", seg.Path).Msg("retention rename failed, will retry next scan")
		return false
	}
	_ = os.Remove(seg.Path + constant.VerifiedSuffix)

	return m.unlink(ctx, pending, seg, result)
}

// unlink removes the file at removePath; seg keeps the playable name so the
// deletion hooks see the path the segment was indexed under.
func (m *Manager) unlink(ctx context.Context, removePath string, seg entities.Segment, result *dto.GCResult) bool {
	if err := os.Remove(removePath); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Str("segment", removePath).Msg("retention unlink failed, will retry next scan")
		return false
	}
	zerolog.Ctx(ctx).Debug().Str("camera", seg.CameraId).Str("segment", filepath.Base(seg.Path)).Msg("segment deleted")
	result.Deleted++
	result.BytesReclaimed += seg.Size

	m.subMu.RLock()
	subs := m.subs
	m.subMu.RUnlock()
	for _, fn := range subs {
		fn(seg)
	}
	return true
}
