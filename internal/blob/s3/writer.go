package s3blob

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/alanyoungcy/insiderwatch/internal/domain"
)

// DefaultPartSize is the S3 multipart minimum (5 MiB).
const DefaultPartSize int64 = manager.MinUploadPartSize

// Writer uploads objects through the multipart upload manager, which sends
// small bodies as a single PutObject.
type Writer struct {
	uploader *manager.Uploader
	bucket   string
}

// NewWriter creates a Writer for the client's bucket. partSize below the S3
// minimum is raised to it.
func NewWriter(c *Client, partSize int64) *Writer {
	partSize = max(partSize, DefaultPartSize)
	return &Writer{
		uploader: manager.NewUploader(c.s3, func(u *manager.Uploader) { u.PartSize = partSize }),
		bucket:   c.bucket,
	}
}

func (w *Writer) Put(ctx context.Context, path string, data io.Reader, contentType string) error {
	_, err := w.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(w.bucket),
		Key:         aws.String(path),
		Body:        data,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("s3blob: upload %s: %w", path, err)
	}
	return nil
}

var _ domain.BlobWriter = (*Writer)(nil)
