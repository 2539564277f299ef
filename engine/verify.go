package engine

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// FFprobeVerifier checks that a closed segment has a readable container and
// a non-zero duration before it may be advertised or deleted.
type FFprobeVerifier struct {
	Binary string
}

func NewFFprobeVerifier() *FFprobeVerifier {
	return &FFprobeVerifier{Binary: "ffprobe"}
}

func (v *FFprobeVerifier) Verify(ctx context.Context, path string) error {
	cmd := exec.CommandContext(ctx, v.Binary,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "csv=p=0",
		path,
	)

	var out, stderr bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffprobe: %w: %s", err, strings.TrimSpace(stderr.String()))
	}

	duration := strings.TrimSpace(out.String())
	if duration == "" || duration == "N/A" {
		return fmt.Errorf("segment has no readable duration: %s", path)
	}
	return nil
}
