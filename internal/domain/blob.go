package domain

import (
	"context"
	"io"
	"time"
)

// BlobWriter uploads objects to cold storage.
type BlobWriter interface {
	Put(ctx context.Context, path string, data io.Reader, contentType string) error
}

// Archiver copies aged rows from the primary store to cold storage. Rows are
// not deleted.
type Archiver interface {
	ArchiveTrades(ctx context.Context, before time.Time) (int64, error)
	ArchiveAnomalies(ctx context.Context, before time.Time) (int64, error)
}
