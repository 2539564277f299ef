package engine

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"nvr-edge/constant"
)

// FFmpeg records a stream with ffmpeg's segment muxer. Completed files are
// reported through the segment list written to stdout, one filename per
// line. On cancellation the process gets SIGINT so the running segment is
// finalized; it is killed after the grace period.
type FFmpeg struct {
	Binary string
}

func NewFFmpeg() *FFmpeg {
	return &FFmpeg{Binary: "ffmpeg"}
}

func (f *FFmpeg) command(ctx context.Context, sourceURI, spoolDir string, rot Rotation) *exec.Cmd {
	pattern := filepath.Join(spoolDir, "%Y%m%d%H%M%S"+constant.ContainerExt+constant.PartSuffix)
	args := []string{
		"-nostdin",
		"-loglevel", "error",
		"-rtsp_transport", "tcp",
		"-i", sourceURI,
		"-c", "copy",
		"-map", "0",
		"-f", "segment",
		"-segment_format", "matroska",
		"-segment_time", strconv.Itoa(int(rot.SegmentDuration.Seconds())),
		"-segment_list", "pipe:1",
		"-segment_list_type", "flat",
		"-strftime", "1",
		"-reset_timestamps", "1",
		pattern,
	}

	cmd := exec.CommandContext(ctx, f.Binary, args...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGINT)
	}
	cmd.WaitDelay = rot.GracePeriod
	// strftime expands in the child's local zone; spool names are parsed
	// back as UTC.
	cmd.Env = append(os.Environ(), "TZ=UTC")
	return cmd
}

func (f *FFmpeg) Record(ctx context.Context, sourceURI, spoolDir string, rot Rotation, onClosed func(path string, closedAt time.Time)) error {
	cmd := f.command(ctx, sourceURI, spoolDir, rot)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return err
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start ffmpeg: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		name := scanner.Text()
		if name == "" {
			continue
		}
		onClosed(filepath.Join(spoolDir, filepath.Base(name)), time.Now().UTC())
	}

	err = cmd.Wait()
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err != nil {
		zerolog.Ctx(ctx).Debug().Str("stderr", stderr.String()).Msg("ffmpeg exited")
		return fmt.Errorf("ffmpeg: %w: %s", err, lastLine(stderr.Bytes()))
	}
	return nil
}

func lastLine(b []byte) string {
	lines := bytes.Split(bytes.TrimSpace(b), []byte("\n"))
	if len(lines) == 0 {
		return ""
	}
	return string(lines[len(lines)-1])
}
