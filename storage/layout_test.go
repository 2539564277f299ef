package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"nvr-edge/constant"
)

func TestSegmentPathRoundTrip(t *testing.T) {
	start := time.Date(2026, 8, 30, 15, 4, 5, 0, time.UTC)
	path := SegmentPath("/data", "frontdoor", start)

	want := filepath.Join("/data", "frontdoor", "20260830", "150405.mkv")
	if path != want {
		t.Fatalf("got %s, want %s", path, want)
	}

	parsed, err := ParseStart(path)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !parsed.Equal(start) {
		t.Fatalf("round trip start %s, want %s", parsed, start)
	}
}

func TestParseStartHandlesMarkers(t *testing.T) {
	start := time.Date(2026, 8, 30, 15, 4, 5, 0, time.UTC)
	base := SegmentPath("/data", "cam", start)

	for _, path := range []string{
		base,
		base + constant.PartSuffix,
		base + constant.PendingDeleteSuffix,
	} {
		parsed, err := ParseStart(path)
		if err != nil {
			t.Fatalf("parse %s: %v", path, err)
		}
		if !parsed.Equal(start) {
			t.Fatalf("parse %s: got %s, want %s", path, parsed, start)
		}
	}
}

func TestStateOf(t *testing.T) {
	root := t.TempDir()
	start := time.Date(2026, 8, 30, 15, 4, 5, 0, time.UTC)

	path := SegmentPath(root, "cam", start)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	if got := StateOf(path); got != constant.SegmentStateClosedUnverified {
		t.Fatalf("unmarked segment: got %s", got)
	}
	if err := MarkVerified(path); err != nil {
		t.Fatalf("mark verified: %v", err)
	}
	if got := StateOf(path); got != constant.SegmentStateClosedVerified {
		t.Fatalf("marked segment: got %s", got)
	}
	if got := StateOf(path + constant.PartSuffix); got != constant.SegmentStateOpen {
		t.Fatalf("part file: got %s", got)
	}
	if got := StateOf(path + constant.PendingDeleteSuffix); got != constant.SegmentStateExpired {
		t.Fatalf("pending-delete file: got %s", got)
	}
}

func TestScanCameraOrdersBySegmentStart(t *testing.T) {
	root := t.TempDir()
	starts := []time.Time{
		time.Date(2026, 8, 30, 23, 59, 0, 0, time.UTC),
		time.Date(2026, 8, 29, 0, 1, 0, 0, time.UTC),
		time.Date(2026, 8, 30, 0, 0, 1, 0, time.UTC),
	}
	for _, start := range starts {
		path := SegmentPath(root, "cam", start)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write: %v", err)
		}
	}

	segments, err := ScanCamera(root, "cam")
	if err != nil {
		t.Fatalf("scan: %v", err)
	}
	if len(segments) != 3 {
		t.Fatalf("expected 3 segments, got %d", len(segments))
	}
	for i := 1; i < len(segments); i++ {
		if !segments[i-1].Start.Before(segments[i].Start) {
			t.Fatalf("segments not ordered oldest-first")
		}
	}
}

func TestScanCameraMissingDirectory(t *testing.T) {
	segments, err := ScanCamera(t.TempDir(), "ghost")
	if err != nil {
		t.Fatalf("scan of missing camera dir should not fail: %v", err)
	}
	if len(segments) != 0 {
		t.Fatalf("expected no segments, got %d", len(segments))
	}
}
