package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"nvr-edge/constant"
	"nvr-edge/dto"
	"nvr-edge/engine"
	"nvr-edge/health"
	"nvr-edge/registry"
	"nvr-edge/repository"
	"nvr-edge/retention"
	"nvr-edge/storage"
)

// ErrTimeout: the session did not reach the requested state within the grace
// period. The registry already reflects the intended state, so a retry is
// safe.
var ErrTimeout = errors.New("timed out waiting for session state change")

// Orchestrator implements the control surface: registry mutations are
// reconciled into the adapter's active session set, status queries join the
// registry with health records.
type Orchestrator struct {
	reg       *registry.Registry
	adapter   *engine.Adapter
	monitor   *health.Monitor
	retention *retention.Manager
	index     repository.RecordingIndex
	root      string

	runCtx context.Context
}

func NewOrchestrator(
	reg *registry.Registry,
	adapter *engine.Adapter,
	monitor *health.Monitor,
	ret *retention.Manager,
	index repository.RecordingIndex,
	root string,
) *Orchestrator {
	return &Orchestrator{
		reg:       reg,
		adapter:   adapter,
		monitor:   monitor,
		retention: ret,
		index:     index,
		root:      root,
	}
}

// Start reconciles the reloaded registry against the (empty) session set:
// every enabled camera gets a session. ctx bounds the lifetime of all
// sessions started from here on.
func (o *Orchestrator) Start(ctx context.Context) {
	o.runCtx = ctx
	for _, entry := range o.reg.List() {
		if entry.Enabled {
			o.adapter.StartSession(ctx, entry)
		}
	}
	zerolog.Ctx(ctx).Info().Int("cameras", len(o.reg.List())).Int("sessions", o.adapter.ActiveCount()).Msg("orchestrator started")
}

func (o *Orchestrator) AddCamera(ctx context.Context, id, uri string) (dto.CameraStatus, error) {
	entry, err := o.reg.Add(id, uri)
	if err != nil {
		return dto.CameraStatus{}, err
	}
	o.adapter.StartSession(o.runCtx, entry)
	return o.status(entry.Id), nil
}

// RemoveCamera persists the removal first, then stops the session, blocking
// until the adapter confirms or the grace deadline passes.
func (o *Orchestrator) RemoveCamera(ctx context.Context, id string) error {
	if err := o.reg.Remove(id); err != nil {
		return err
	}
	o.monitor.Forget(id)
	if err := o.adapter.StopSession(ctx, id); err != nil {
		if errors.Is(err, engine.ErrStopTimeout) {
			return fmt.Errorf("%w: %s", ErrTimeout, id)
		}
		return err
	}
	return nil
}

// SetEnabled is idempotent. Enabling clears failure history so an Offline
// camera gets a fresh start.
func (o *Orchestrator) SetEnabled(ctx context.Context, id string, enabled bool) error {
	if err := o.reg.SetEnabled(id, enabled); err != nil {
		return err
	}

	if enabled {
		o.monitor.Reset(id)
		entry, err := o.reg.Get(id)
		if err != nil {
			return err
		}
		o.adapter.StartSession(o.runCtx, entry)
		return nil
	}

	if err := o.adapter.StopSession(ctx, id); err != nil {
		if errors.Is(err, engine.ErrStopTimeout) {
			return fmt.Errorf("%w: %s", ErrTimeout, id)
		}
		return err
	}
	return nil
}

func (o *Orchestrator) Status(id string) (dto.CameraStatus, error) {
	if _, err := o.reg.Get(id); err != nil {
		return dto.CameraStatus{}, err
	}
	return o.status(id), nil
}

func (o *Orchestrator) StatusAll() []dto.CameraStatus {
	entries := o.reg.List()
	out := make([]dto.CameraStatus, 0, len(entries))
	for _, entry := range entries {
		out = append(out, o.status(entry.Id))
	}
	return out
}

// Summary reports per-camera segment counts and byte totals, from the
// database index when configured, else from a filesystem scan.
func (o *Orchestrator) Summary(ctx context.Context) ([]dto.RecordingsSummary, error) {
	if o.index != nil {
		return o.index.Summaries(ctx)
	}

	var out []dto.RecordingsSummary
	for _, entry := range o.reg.List() {
		segments, err := storage.ScanCamera(o.root, entry.Id)
		if err != nil {
			return nil, err
		}
		summary := dto.RecordingsSummary{CameraId: entry.Id}
		for _, seg := range segments {
			if seg.State != constant.SegmentStateClosedVerified && seg.State != constant.SegmentStateClosedUnverified {
				continue
			}
			if summary.SegmentCount == 0 || seg.Start.Before(summary.OldestStart) {
				summary.OldestStart = seg.Start
			}
			if seg.Start.After(summary.NewestStart) {
				summary.NewestStart = seg.Start
			}
			summary.SegmentCount++
			summary.TotalBytes += seg.Size
		}
		out = append(out, summary)
	}
	return out, nil
}

// ForceGC runs an immediate retention pass.
func (o *Orchestrator) ForceGC(ctx context.Context) (dto.GCResult, error) {
	return o.retention.Scan(ctx)
}

func (o *Orchestrator) StorageExhausted() bool {
	return o.retention.StorageExhausted()
}

func (o *Orchestrator) status(id string) dto.CameraStatus {
	entry, err := o.reg.Get(id)
	if err != nil {
		return dto.CameraStatus{Id: id}
	}
	rec := o.monitor.Status(id)
	return dto.CameraStatus{
		Id:                  entry.Id,
		Enabled:             entry.Enabled,
		Health:              rec.State,
		LastSegmentAt:       rec.LastSegmentAt,
		ConsecutiveFailures: rec.ConsecutiveFailures,
		NextRetryAt:         rec.NextRetryAt,
		CreatedAt:           entry.CreatedAt,
	}
}
