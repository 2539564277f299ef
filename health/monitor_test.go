package health

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"nvr-edge/config"
	"nvr-edge/constant"
	"nvr-edge/entities"
)

type stopRecorder struct {
	mu  sync.Mutex
	ids []string
}

func (s *stopRecorder) stop(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ids = append(s.ids, id)
}

func (s *stopRecorder) stopped() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.ids...)
}

func testConfig() config.Health {
	return config.Health{
		DegradedThreshold: 3,
		OfflineThreshold:  5,
		OfflineAfter:      30 * time.Minute,
	}
}

func fail(m *Monitor, id string, n int) {
	for i := 0; i < n; i++ {
		m.RecordFailure(context.Background(), id, errors.New("connection refused"), time.Now().Add(time.Second))
	}
}

func TestDegradedThenOffline(t *testing.T) {
	stops := &stopRecorder{}
	m := NewMonitor(testConfig(), stops.stop)

	var transitions []constant.HealthState
	m.OnTransition(func(id string, from, to constant.HealthState) {
		transitions = append(transitions, to)
	})

	fail(m, "cam1", 5)

	rec := m.Status("cam1")
	if rec.State != constant.HealthStateOffline {
		t.Fatalf("expected Offline after 5 failures, got %s", rec.State)
	}
	if rec.ConsecutiveFailures != 5 {
		t.Fatalf("expected 5 consecutive failures, got %d", rec.ConsecutiveFailures)
	}

	want := []constant.HealthState{constant.HealthStateDegraded, constant.HealthStateOffline}
	if len(transitions) != len(want) {
		t.Fatalf("expected transitions %v, got %v", want, transitions)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Fatalf("transition %d: got %s, want %s", i, transitions[i], want[i])
		}
	}

	// Offline tears the session down exactly once.
	deadline := time.After(time.Second)
	for len(stops.stopped()) == 0 {
		select {
		case <-deadline:
			t.Fatalf("stop was not requested for the offline camera")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	if got := stops.stopped(); len(got) != 1 || got[0] != "cam1" {
		t.Fatalf("unexpected stop requests: %v", got)
	}
}

func TestRecoveryOnSegmentClose(t *testing.T) {
	m := NewMonitor(testConfig(), nil)

	fail(m, "cam1", 3)
	if m.Status("cam1").State != constant.HealthStateDegraded {
		t.Fatalf("expected Degraded after 3 failures")
	}

	m.RecordSuccess(context.Background(), entities.Segment{
		CameraId: "cam1",
		Start:    time.Now().Add(-time.Minute),
		Duration: time.Minute,
	})

	rec := m.Status("cam1")
	if rec.State != constant.HealthStateHealthy {
		t.Fatalf("expected Healthy after segment close, got %s", rec.State)
	}
	if rec.ConsecutiveFailures != 0 {
		t.Fatalf("failure count should reset, got %d", rec.ConsecutiveFailures)
	}
	if rec.LastSegmentAt.IsZero() {
		t.Fatalf("last segment timestamp should be recorded")
	}
}

func TestOfflineAfterSustainedFailure(t *testing.T) {
	m := NewMonitor(testConfig(), nil)

	clock := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return clock }

	fail(m, "cam1", 3)
	if m.Status("cam1").State != constant.HealthStateDegraded {
		t.Fatalf("expected Degraded")
	}

	clock = clock.Add(31 * time.Minute)
	fail(m, "cam1", 1)

	if m.Status("cam1").State != constant.HealthStateOffline {
		t.Fatalf("expected Offline after sustained failure window")
	}
}

func TestOfflineStaysOffline(t *testing.T) {
	m := NewMonitor(testConfig(), nil)

	var transitions int
	m.OnTransition(func(string, constant.HealthState, constant.HealthState) {
		transitions++
	})

	fail(m, "cam1", 10)

	if m.Status("cam1").State != constant.HealthStateOffline {
		t.Fatalf("expected Offline")
	}
	if transitions != 2 {
		t.Fatalf("offline camera must not keep transitioning, saw %d transitions", transitions)
	}
}

func TestResetClearsHistory(t *testing.T) {
	m := NewMonitor(testConfig(), nil)

	fail(m, "cam1", 5)
	m.Reset("cam1")

	rec := m.Status("cam1")
	if rec.State != constant.HealthStateHealthy || rec.ConsecutiveFailures != 0 {
		t.Fatalf("reset should restore a clean record: %+v", rec)
	}
}
