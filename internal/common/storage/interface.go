package storage

import "context"

// Object is one blob plus the headers stored alongside it.
type Object struct {
	Key         string
	Body        []byte
	ContentType string

	// Metadata is stored as x-amz-meta-* user metadata.
	Metadata map[string]string
}

// ObjectStorage is the S3-style surface used by the submission archive.
type ObjectStorage interface {
	Put(ctx context.Context, bucket string, obj Object) error

	// EnsureBucket creates bucket when it does not exist yet.
	EnsureBucket(ctx context.Context, bucket string) error
}
