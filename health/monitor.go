// Package health tracks per-camera liveness and drives the
// Healthy -> Degraded -> Offline state machine.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nvr-edge/config"
	"nvr-edge/constant"
	"nvr-edge/entities"
)

// StopFunc tears down a camera's session once it goes Offline. Restarts stop
// until the camera is re-enabled by an operator.
type StopFunc func(cameraId string)

type Monitor struct {
	cfg  config.Health
	stop StopFunc
	now  func() time.Time

	mu             sync.Mutex
	records        map[string]*entities.HealthRecord
	firstFailureAt map[string]time.Time

	subMu sync.RWMutex
	subs  []func(cameraId string, from, to constant.HealthState)
}

func NewMonitor(cfg config.Health, stop StopFunc) *Monitor {
	return &Monitor{
		cfg:            cfg,
		stop:           stop,
		now:            time.Now,
		records:        make(map[string]*entities.HealthRecord),
		firstFailureAt: make(map[string]time.Time),
	}
}

func (m *Monitor) OnTransition(fn func(cameraId string, from, to constant.HealthState)) {
	m.subMu.Lock()
	defer m.subMu.Unlock()
	m.subs = append(m.subs, fn)
}

// RecordSuccess resets a camera to Healthy on a successful segment close.
func (m *Monitor) RecordSuccess(ctx context.Context, seg entities.Segment) {
	m.mu.Lock()
	rec := m.record(seg.CameraId)
	from := rec.State
	rec.State = constant.HealthStateHealthy
	rec.LastSegmentAt = seg.Start.Add(seg.Duration)
	rec.ConsecutiveFailures = 0
	rec.NextRetryAt = time.Time{}
	rec.LastError = ""
	delete(m.firstFailureAt, seg.CameraId)
	m.mu.Unlock()

	if from != constant.HealthStateHealthy {
		zerolog.Ctx(ctx).Info().Str("camera", seg.CameraId).Str("from", string(from)).Msg("camera recovered")
		m.notify(seg.CameraId, from, constant.HealthStateHealthy)
	}
}

// RecordFailure counts a consecutive ingestion failure and applies the
// Degraded and Offline transitions. Offline tears the session down and the
// camera stays flagged for operator attention without leaving the registry.
func (m *Monitor) RecordFailure(ctx context.Context, cameraId string, err error, nextRetry time.Time) {
	m.mu.Lock()
	rec := m.record(cameraId)
	rec.ConsecutiveFailures++
	rec.NextRetryAt = nextRetry
	if err != nil {
		rec.LastError = err.Error()
	}

	now := m.now()
	first, ok := m.firstFailureAt[cameraId]
	if !ok {
		first = now
		m.firstFailureAt[cameraId] = now
	}

	from := rec.State
	to := from
	switch {
	case rec.State == constant.HealthStateOffline:
	case rec.ConsecutiveFailures >= m.cfg.OfflineThreshold,
		rec.State == constant.HealthStateDegraded && now.Sub(first) >= m.cfg.OfflineAfter:
		to = constant.HealthStateOffline
	case rec.ConsecutiveFailures >= m.cfg.DegradedThreshold:
		to = constant.HealthStateDegraded
	}
	rec.State = to
	failures := rec.ConsecutiveFailures
	m.mu.Unlock()

	if to == from {
		return
	}

	zerolog.Ctx(ctx).Warn().
		Str("camera", cameraId).
		Str("from", string(from)).
		Str("to", string(to)).
		Int("consecutive_failures", failures).
		Msg("camera health transition")
	m.notify(cameraId, from, to)

	if to == constant.HealthStateOffline && m.stop != nil {
		go m.stop(cameraId)
	}
}

// Reset clears failure history, used when an operator re-enables a camera.
func (m *Monitor) Reset(cameraId string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, cameraId)
	delete(m.firstFailureAt, cameraId)
}

func (m *Monitor) Forget(cameraId string) {
	m.Reset(cameraId)
}

// Status returns a snapshot of one camera's health record.
func (m *Monitor) Status(cameraId string) entities.HealthRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec := m.record(cameraId)
	return *rec
}

func (m *Monitor) record(cameraId string) *entities.HealthRecord {
	rec, ok := m.records[cameraId]
	if !ok {
		rec = &entities.HealthRecord{
			CameraId: cameraId,
			State:    constant.HealthStateHealthy,
		}
		m.records[cameraId] = rec
	}
	return rec
}

func (m *Monitor) notify(cameraId string, from, to constant.HealthState) {
	m.subMu.RLock()
	subs := m.subs
	m.subMu.RUnlock()
	for _, fn := range subs {
		fn(cameraId, from, to)
	}
}
