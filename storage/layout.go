// Package storage defines the on-disk recording layout:
// <root>/<camera_id>/<YYYYMMDD>/<HHMMSS>.mkv, so filenames sort
// lexicographically by capture start within a camera.
package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"nvr-edge/constant"
	"nvr-edge/entities"
)

const (
	dateLayout = "20060102"
	timeLayout = "150405"
)

func SegmentPath(root, cameraId string, start time.Time) string {
	return filepath.Join(root, cameraId, start.Format(dateLayout), start.Format(timeLayout)+constant.ContainerExt)
}

// ParseStart recovers the capture start time from a segment path.
func ParseStart(path string) (time.Time, error) {
	name := filepath.Base(path)
	name = strings.TrimSuffix(name, constant.PendingDeleteSuffix)
	name = strings.TrimSuffix(name, constant.PartSuffix)
	name = strings.TrimSuffix(name, constant.ContainerExt)
	date := filepath.Base(filepath.Dir(path))
	return time.ParseInLocation(dateLayout+timeLayout, date+name, time.UTC)
}

// StateOf classifies a segment file by its name and its verification marker.
func StateOf(path string) constant.SegmentState {
	switch {
	case strings.HasSuffix(path, constant.PartSuffix):
		return constant.SegmentStateOpen
	case strings.HasSuffix(path, constant.PendingDeleteSuffix):
		return constant.SegmentStateExpired
	}
	if _, err := os.Stat(path + constant.VerifiedSuffix); err == nil {
		return constant.SegmentStateClosedVerified
	}
	return constant.SegmentStateClosedUnverified
}

// MarkVerified records a successful integrity pass. The marker is a sidecar
// file so the segment keeps its playable name.
func MarkVerified(path string) error {
	f, err := os.OpenFile(path+constant.VerifiedSuffix, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	return f.Close()
}

func ListCameras(root string) ([]string, error) {
	dirs, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var out []string
	for _, d := range dirs {
		if d.IsDir() {
			out = append(out, d.Name())
		}
	}
	return out, nil
}

// ScanCamera walks one camera's tree and returns its segments ordered
// oldest-first by start time.
func ScanCamera(root, cameraId string) ([]entities.Segment, error) {
	base := filepath.Join(root, cameraId)
	var segments []entities.Segment

	err := filepath.WalkDir(base, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() || strings.HasSuffix(path, constant.VerifiedSuffix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}
		start, err := ParseStart(path)
		if err != nil {
			return nil
		}
		segments = append(segments, entities.Segment{
			Path:     path,
			CameraId: cameraId,
			Start:    start,
			Size:     info.Size(),
			State:    StateOf(path),
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", cameraId, err)
	}

	sort.Slice(segments, func(i, j int) bool {
		return segments[i].Start.Before(segments[j].Start)
	})
	return segments, nil
}
