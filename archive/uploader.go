package archive

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/rs/zerolog"

	"nvr-edge/constant"
	"nvr-edge/entities"
)

// Uploader mirrors verified segments to an S3-compatible bucket so the edge
// retention window is not the only copy. Upload failures are logged and
// dropped; archival is best-effort and never blocks ingestion.
type Uploader struct {
	client *minio.Client
	bucket string
	root   string
}

func NewUploader(client *minio.Client, bucket, root string) *Uploader {
	return &Uploader{
		client: client,
		bucket: bucket,
		root:   root,
	}
}

func (u *Uploader) OnSegmentClosed(ctx context.Context) func(seg entities.Segment) {
	return func(seg entities.Segment) {
		if seg.State != constant.SegmentStateClosedVerified {
			return
		}

		objectName, err := filepath.Rel(u.root, seg.Path)
		if err != nil {
			objectName = filepath.Join(seg.CameraId, filepath.Base(seg.Path))
		}
		objectName = strings.ReplaceAll(objectName, "\\", "/")

		_, err = u.client.FPutObject(ctx, u.bucket, objectName, seg.Path, minio.PutObjectOptions{
			ContentType: "video/x-matroska",
		})
		if err != nil {
			zerolog.Ctx(ctx).Warn().Err(err).Str("camera", seg.CameraId).Str("object", objectName).Msg("segment archive upload failed")
			return
		}
		zerolog.Ctx(ctx).Debug().Str("camera", seg.CameraId).Str("object", objectName).Msg("segment archived")
	}
}
