package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"nvr-edge/config"
	"nvr-edge/entities"
)

var ErrStopTimeout = errors.New("session did not stop within grace period")

// Adapter owns the active session set, one ingestion goroutine per camera.
// Segment-closed and ingestion-failure events are fanned out to subscribers;
// per-camera event order follows segment start time.
type Adapter struct {
	root     string
	cfg      config.Session
	engine   MediaEngine
	verifier Verifier

	mu       sync.Mutex
	sessions map[string]*session

	subMu    sync.RWMutex
	segSubs  []func(entities.Segment)
	failSubs []func(cameraId string, err error, nextRetry time.Time)
}

func NewAdapter(root string, cfg config.Session, eng MediaEngine, ver Verifier) *Adapter {
	return &Adapter{
		root:     root,
		cfg:      cfg,
		engine:   eng,
		verifier: ver,
		sessions: make(map[string]*session),
	}
}

func (a *Adapter) OnSegmentClosed(fn func(entities.Segment)) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	a.segSubs = append(a.segSubs, fn)
}

func (a *Adapter) OnIngestFailure(fn func(cameraId string, err error, nextRetry time.Time)) {
	a.subMu.Lock()
	defer a.subMu.Unlock()
	a.failSubs = append(a.failSubs, fn)
}

// StartSession launches the ingestion task for a camera and returns
// immediately. Starting an already-running session is a no-op.
func (a *Adapter) StartSession(ctx context.Context, entry *entities.CameraEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, running := a.sessions[entry.Id]; running {
		return
	}

	sessionCtx, cancel := context.WithCancel(ctx)
	s := &session{
		entry:  *entry,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	a.sessions[entry.Id] = s

	zerolog.Ctx(ctx).Info().Str("camera", entry.Id).Msg("starting ingestion session")
	go func() {
		a.run(sessionCtx, s)
		a.mu.Lock()
		if a.sessions[entry.Id] == s {
			delete(a.sessions, entry.Id)
		}
		a.mu.Unlock()
	}()
}

// StopSession requests graceful shutdown and waits for the session goroutine
// to finish. The wait is bounded by the grace period plus a small constant;
// past that the engine process is force-killed in the background and
// ErrStopTimeout is returned.
func (a *Adapter) StopSession(ctx context.Context, id string) error {
	a.mu.Lock()
	s, ok := a.sessions[id]
	a.mu.Unlock()
	if !ok {
		return nil
	}

	s.cancel()

	select {
	case <-s.done:
		return nil
	case <-time.After(a.cfg.GracePeriod + 2*time.Second):
		return fmt.Errorf("%w: %s", ErrStopTimeout, id)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (a *Adapter) Running(id string) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.sessions[id]
	return ok
}

func (a *Adapter) ActiveCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.sessions)
}

// StopAll stops every session concurrently; used on shutdown.
func (a *Adapter) StopAll(ctx context.Context) {
	a.mu.Lock()
	ids := make([]string, 0, len(a.sessions))
	for id := range a.sessions {
		ids = append(ids, id)
	}
	a.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			if err := a.StopSession(ctx, id); err != nil {
				zerolog.Ctx(ctx).Warn().Err(err).Str("camera", id).Msg("session stop timed out")
			}
		}(id)
	}
	wg.Wait()
}

func (a *Adapter) notifySegmentClosed(seg entities.Segment) {
	a.subMu.RLock()
	subs := a.segSubs
	a.subMu.RUnlock()
	for _, fn := range subs {
		fn(seg)
	}
}

func (a *Adapter) notifyFailure(cameraId string, err error, nextRetry time.Time) {
	a.subMu.RLock()
	subs := a.failSubs
	a.subMu.RUnlock()
	for _, fn := range subs {
		fn(cameraId, err, nextRetry)
	}
}
