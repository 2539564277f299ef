package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"nvr-edge/config"
	"nvr-edge/constant"
	"nvr-edge/entities"
	"nvr-edge/storage"
)

// fakeEngine scripts the media engine boundary: each call to Record runs the
// provided behavior, which may emit closed spool files.
type fakeEngine struct {
	record func(ctx context.Context, spool string, onClosed func(path string, closedAt time.Time)) error
}

func (f *fakeEngine) Record(ctx context.Context, _, spool string, _ Rotation, onClosed func(path string, closedAt time.Time)) error {
	return f.record(ctx, spool, onClosed)
}

type fakeVerifier struct {
	fail bool
}

func (v *fakeVerifier) Verify(context.Context, string) error {
	if v.fail {
		return errors.New("container index damaged")
	}
	return nil
}

func testSessionConfig() config.Session {
	return config.Session{
		SegmentDuration: time.Second,
		GracePeriod:     100 * time.Millisecond,
		BackoffInitial:  5 * time.Millisecond,
		BackoffMax:      20 * time.Millisecond,
		SuccessWindow:   time.Hour,
	}
}

func entry(id string) *entities.CameraEntry {
	return &entities.CameraEntry{
		Id:        id,
		SourceURI: "rtsp://host/" + id,
		Enabled:   true,
	}
}

// emitSegment writes a spool file named for the given start time and reports
// it closed, the way the real engine's segment list does.
func emitSegment(t *testing.T, spool string, start time.Time, onClosed func(path string, closedAt time.Time)) {
	t.Helper()
	path := filepath.Join(spool, start.Format("20060102150405")+constant.ContainerExt+constant.PartSuffix)
	if err := os.WriteFile(path, []byte("matroska"), 0o644); err != nil {
		t.Fatalf("write spool file: %v", err)
	}
	onClosed(path, start.Add(time.Second))
}

func collectSegments(a *Adapter) (*sync.Mutex, *[]entities.Segment) {
	var mu sync.Mutex
	var segs []entities.Segment
	a.OnSegmentClosed(func(seg entities.Segment) {
		mu.Lock()
		segs = append(segs, seg)
		mu.Unlock()
	})
	return &mu, &segs
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestSegmentFinalization(t *testing.T) {
	root := t.TempDir()
	start := time.Date(2026, 8, 30, 10, 15, 0, 0, time.UTC)

	eng := &fakeEngine{
		record: func(ctx context.Context, spool string, onClosed func(string, time.Time)) error {
			emitSegment(t, spool, start, onClosed)
			<-ctx.Done()
			return ctx.Err()
		},
	}
	a := NewAdapter(root, testSessionConfig(), eng, &fakeVerifier{})
	mu, segs := collectSegments(a)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.StartSession(ctx, entry("cam1"))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(*segs) == 1
	}, "segment close event not delivered")

	mu.Lock()
	seg := (*segs)[0]
	mu.Unlock()

	want := storage.SegmentPath(root, "cam1", start)
	if seg.Path != want {
		t.Fatalf("finalized path %s, want %s", seg.Path, want)
	}
	if seg.State != constant.SegmentStateClosedVerified {
		t.Fatalf("expected verified state, got %s", seg.State)
	}
	if !seg.Start.Equal(start) {
		t.Fatalf("start %s, want %s", seg.Start, start)
	}
	if _, err := os.Stat(want); err != nil {
		t.Fatalf("finalized file missing: %v", err)
	}
	if storage.StateOf(want) != constant.SegmentStateClosedVerified {
		t.Fatalf("verification marker missing")
	}
}

func TestVerifyFailureLeavesUnverified(t *testing.T) {
	root := t.TempDir()
	start := time.Date(2026, 8, 30, 10, 15, 0, 0, time.UTC)

	eng := &fakeEngine{
		record: func(ctx context.Context, spool string, onClosed func(string, time.Time)) error {
			emitSegment(t, spool, start, onClosed)
			<-ctx.Done()
			return ctx.Err()
		},
	}
	a := NewAdapter(root, testSessionConfig(), eng, &fakeVerifier{fail: true})
	mu, segs := collectSegments(a)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.StartSession(ctx, entry("cam1"))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(*segs) == 1
	}, "segment close event not delivered")

	mu.Lock()
	seg := (*segs)[0]
	mu.Unlock()

	if seg.State != constant.SegmentStateClosedUnverified {
		t.Fatalf("expected unverified state, got %s", seg.State)
	}
	if storage.StateOf(seg.Path) != constant.SegmentStateClosedUnverified {
		t.Fatalf("no verification marker may exist after a failed integrity pass")
	}
}

func TestEventOrderPerCamera(t *testing.T) {
	root := t.TempDir()
	base := time.Date(2026, 8, 30, 10, 0, 0, 0, time.UTC)

	eng := &fakeEngine{
		record: func(ctx context.Context, spool string, onClosed func(string, time.Time)) error {
			for i := 0; i < 3; i++ {
				emitSegment(t, spool, base.Add(time.Duration(i)*time.Minute), onClosed)
			}
			<-ctx.Done()
			return ctx.Err()
		},
	}
	a := NewAdapter(root, testSessionConfig(), eng, &fakeVerifier{})
	mu, segs := collectSegments(a)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.StartSession(ctx, entry("cam1"))

	waitFor(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(*segs) == 3
	}, "expected 3 segment events")

	mu.Lock()
	defer mu.Unlock()
	for i := 1; i < len(*segs); i++ {
		if !(*segs)[i-1].Start.Before((*segs)[i].Start) {
			t.Fatalf("events out of start-time order")
		}
	}
}

func TestGracefulStop(t *testing.T) {
	root := t.TempDir()

	eng := &fakeEngine{
		record: func(ctx context.Context, spool string, onClosed func(string, time.Time)) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	a := NewAdapter(root, testSessionConfig(), eng, &fakeVerifier{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.StartSession(ctx, entry("cam1"))
	waitFor(t, func() bool { return a.Running("cam1") }, "session did not start")

	if err := a.StopSession(context.Background(), "cam1"); err != nil {
		t.Fatalf("graceful stop: %v", err)
	}
	waitFor(t, func() bool { return !a.Running("cam1") }, "session still registered after stop")
}

func TestStopTimeoutNeverPromotesInflight(t *testing.T) {
	root := t.TempDir()
	release := make(chan struct{})

	eng := &fakeEngine{
		record: func(ctx context.Context, spool string, onClosed func(string, time.Time)) error {
			// Simulate a wedged engine: write an in-flight segment and
			// ignore cancellation until released.
			path := filepath.Join(spool, "20260830101500"+constant.ContainerExt+constant.PartSuffix)
			if err := os.WriteFile(path, []byte("partial"), 0o644); err != nil {
				t.Errorf("write spool file: %v", err)
			}
			<-release
			return errors.New("killed")
		},
	}
	a := NewAdapter(root, testSessionConfig(), eng, &fakeVerifier{})
	mu, segs := collectSegments(a)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.StartSession(ctx, entry("cam1"))

	spool := filepath.Join(root, "cam1", spoolDirName)
	waitFor(t, func() bool {
		entries, err := os.ReadDir(spool)
		return err == nil && len(entries) == 1
	}, "in-flight segment not written")

	err := a.StopSession(context.Background(), "cam1")
	if !errors.Is(err, ErrStopTimeout) {
		t.Fatalf("expected ErrStopTimeout, got %v", err)
	}
	close(release)

	// The in-flight file stays a .part: discarded on next startup, never
	// finalized or verified.
	entries, err := os.ReadDir(spool)
	if err != nil {
		t.Fatalf("read spool: %v", err)
	}
	for _, e := range entries {
		if storage.StateOf(e.Name()) != constant.SegmentStateOpen {
			t.Fatalf("in-flight file must remain open: %s", e.Name())
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if len(*segs) != 0 {
		t.Fatalf("no close event may be delivered for a force-terminated segment")
	}
}

func TestRestartBackoffReportsFailures(t *testing.T) {
	root := t.TempDir()

	var mu sync.Mutex
	attempts := 0
	eng := &fakeEngine{
		record: func(ctx context.Context, spool string, onClosed func(string, time.Time)) error {
			mu.Lock()
			attempts++
			mu.Unlock()
			return errors.New("connection reset")
		},
	}
	a := NewAdapter(root, testSessionConfig(), eng, &fakeVerifier{})

	var failMu sync.Mutex
	var failures []time.Time
	a.OnIngestFailure(func(cameraId string, err error, nextRetry time.Time) {
		failMu.Lock()
		failures = append(failures, nextRetry)
		failMu.Unlock()
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.StartSession(ctx, entry("cam1"))

	waitFor(t, func() bool {
		failMu.Lock()
		defer failMu.Unlock()
		return len(failures) >= 3
	}, "expected repeated failure notifications")

	mu.Lock()
	got := attempts
	mu.Unlock()
	if got < 3 {
		t.Fatalf("expected restart attempts, got %d", got)
	}

	failMu.Lock()
	defer failMu.Unlock()
	for _, retry := range failures[:3] {
		if retry.IsZero() {
			t.Fatalf("failure notification must carry the next retry time")
		}
	}
}

func TestStartSessionIdempotent(t *testing.T) {
	root := t.TempDir()
	eng := &fakeEngine{
		record: func(ctx context.Context, spool string, onClosed func(string, time.Time)) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	a := NewAdapter(root, testSessionConfig(), eng, &fakeVerifier{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a.StartSession(ctx, entry("cam1"))
	a.StartSession(ctx, entry("cam1"))

	if a.ActiveCount() != 1 {
		t.Fatalf("duplicate start must not spawn a second session, got %d", a.ActiveCount())
	}
}
