package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"nvr-edge/constant"
	"nvr-edge/entities"
	"nvr-edge/storage"
)

const spoolDirName = ".spool"

type session struct {
	entry  entities.CameraEntry
	cancel context.CancelFunc
	done   chan struct{}
}

// run is the per-camera ingestion loop: record, finalize closed segments,
// restart with exponential backoff on stream failure. A failure here never
// leaves this goroutine; other cameras are unaffected.
func (a *Adapter) run(ctx context.Context, s *session) {
	defer close(s.done)

	log := zerolog.Ctx(ctx).With().Str("camera", s.entry.Id).Logger()
	spool := filepath.Join(a.root, s.entry.Id, spoolDirName)

	if err := os.MkdirAll(spool, 0o755); err != nil {
		log.Error().Err(err).Msg("failed to create spool directory")
		a.notifyFailure(s.entry.Id, err, time.Time{})
		return
	}
	discardPartFiles(&log, spool)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = a.cfg.BackoffInitial
	bo.MaxInterval = a.cfg.BackoffMax

	rot := Rotation{
		SegmentDuration: a.cfg.SegmentDuration,
		GracePeriod:     a.cfg.GracePeriod,
	}

	for {
		attemptStart := time.Now()
		attemptCtx, cancelAttempt := context.WithCancel(ctx)

		var oversize atomic.Bool
		watcherDone := make(chan struct{})
		go func() {
			defer close(watcherDone)
			a.watchSegmentSize(attemptCtx, spool, &oversize, cancelAttempt)
		}()

		err := a.engine.Record(attemptCtx, s.entry.SourceURI, spool, rot, func(path string, closedAt time.Time) {
			a.finalize(ctx, s.entry.Id, path, closedAt)
		})
		cancelAttempt()
		<-watcherDone

		if ctx.Err() != nil {
			log.Info().Msg("session stopped")
			return
		}

		if oversize.Load() {
			// Size-capped rotation, not a failure: restart immediately.
			log.Warn().Msg("segment size cap reached, rotating")
			bo.Reset()
			continue
		}

		if err == nil {
			err = errors.New("stream ended unexpectedly")
		}
		if time.Since(attemptStart) >= a.cfg.SuccessWindow {
			bo.Reset()
		}
		delay := bo.NextBackOff()
		nextRetry := time.Now().Add(delay)
		log.Warn().Err(err).Dur("retry_in", delay).Msg("ingestion failed, backing off")
		a.notifyFailure(s.entry.Id, err, nextRetry)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// finalize promotes a closed spool file: atomic rename to its final name
// (closed-unverified), then the integrity pass (closed-verified). Only
// after the rename can any other component see the file.
func (a *Adapter) finalize(ctx context.Context, cameraId, partPath string, closedAt time.Time) {
	log := zerolog.Ctx(ctx).With().Str("camera", cameraId).Logger()

	start, err := parseSpoolStart(partPath)
	if err != nil {
		log.Error().Err(err).Str("file", filepath.Base(partPath)).Msg("unparseable spool file, discarding")
		_ = os.Remove(partPath)
		return
	}

	final := storage.SegmentPath(a.root, cameraId, start)
	if err := os.MkdirAll(filepath.Dir(final), 0o755); err != nil {
		log.Error().Err(err).Msg("failed to create segment directory")
		return
	}
	if err := os.Rename(partPath, final); err != nil {
		log.Error().Err(err).Msg("failed to finalize segment")
		return
	}

	info, err := os.Stat(final)
	if err != nil {
		log.Error().Err(err).Msg("failed to stat finalized segment")
		return
	}

	seg := entities.Segment{
		Path:     final,
		CameraId: cameraId,
		Start:    start,
		Duration: closedAt.Sub(start),
		Size:     info.Size(),
		State:    constant.SegmentStateClosedUnverified,
	}

	if err := a.verifier.Verify(ctx, final); err != nil {
		log.Warn().Err(err).Str("segment", filepath.Base(final)).Msg("integrity check failed, segment stays unverified")
	} else if err := storage.MarkVerified(final); err != nil {
		log.Error().Err(err).Msg("failed to write verification marker")
	} else {
		seg.State = constant.SegmentStateClosedVerified
	}

	log.Debug().Str("segment", filepath.Base(final)).Str("state", string(seg.State)).Int64("bytes", seg.Size).Msg("segment closed")
	a.notifySegmentClosed(seg)
}

// watchSegmentSize cancels the running attempt when the open segment
// outgrows the safety cap, protecting against runaway bitrate.
func (a *Adapter) watchSegmentSize(ctx context.Context, spool string, oversize *atomic.Bool, cancelAttempt context.CancelFunc) {
	if a.cfg.SegmentMaxBytes <= 0 {
		return
	}
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			entries, err := os.ReadDir(spool)
			if err != nil {
				continue
			}
			for _, e := range entries {
				if !strings.HasSuffix(e.Name(), constant.PartSuffix) {
					continue
				}
				if info, err := e.Info(); err == nil && info.Size() > a.cfg.SegmentMaxBytes {
					oversize.Store(true)
					cancelAttempt()
					return
				}
			}
		}
	}
}

func parseSpoolStart(partPath string) (time.Time, error) {
	name := filepath.Base(partPath)
	name = strings.TrimSuffix(name, constant.PartSuffix)
	name = strings.TrimSuffix(name, constant.ContainerExt)
	return time.ParseInLocation("20060102150405", name, time.UTC)
}

// discardPartFiles drops leftover open segments from a previous run; a file
// that never saw its finalize rename must not survive as valid.
func discardPartFiles(log *zerolog.Logger, spool string) {
	entries, err := os.ReadDir(spool)
	if err != nil {
		return
	}
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), constant.PartSuffix) {
			log.Info().Str("file", e.Name()).Msg("discarding stale open segment")
			_ = os.Remove(filepath.Join(spool, e.Name()))
		}
	}
}
