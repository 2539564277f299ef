// Package engine wraps the external media engine that pulls and decodes the
// camera streams. The only contract with it: record a source into a spool
// directory with rotation parameters, and report each file it finished
// writing. No codec detail crosses this boundary.
package engine

import (
	"context"
	"time"
)

type Rotation struct {
	SegmentDuration time.Duration
	GracePeriod     time.Duration
}

// MediaEngine ingests sourceURI into rotating .part files under spoolDir and
// calls onClosed for every file whose writing completed. Record blocks until
// ctx is cancelled (graceful stop, bounded by the grace period) or the
// upstream stream fails.
type MediaEngine interface {
	Record(ctx context.Context, sourceURI, spoolDir string, rot Rotation, onClosed func(path string, closedAt time.Time)) error
}

// Verifier runs the integrity pass that promotes a closed segment to
// closed-verified.
type Verifier interface {
	Verify(ctx context.Context, path string) error
}
