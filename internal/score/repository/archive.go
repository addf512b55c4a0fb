package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strconv"

	"redlight/internal/common/storage"
	"redlight/internal/score/model"

	"github.com/klauspost/compress/zstd"
)

const (
	defaultArchivePrefix = "submissions"
	archiveContentType   = "application/zstd"
)

// SubmissionArchive stores accepted submissions as zstd-compressed JSON objects.
type SubmissionArchive struct {
	storage storage.ObjectStorage
	bucket  string
	prefix  string
	encoder *zstd.Encoder
}

func NewSubmissionArchive(obj storage.ObjectStorage, bucket, prefix string) (*SubmissionArchive, error) {
	if obj == nil {
		return nil, fmt.Errorf("object storage is nil")
	}
	if bucket == "" {
		return nil, fmt.Errorf("archive bucket is required")
	}
	if prefix == "" {
		prefix = defaultArchivePrefix
	}
	encoder, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder failed: %w", err)
	}
	return &SubmissionArchive{storage: obj, bucket: bucket, prefix: prefix, encoder: encoder}, nil
}

// Prepare creates the archive bucket if needed.
func (a *SubmissionArchive) Prepare(ctx context.Context) error {
	return a.storage.EnsureBucket(ctx, a.bucket)
}

// Store writes sub and returns its object key.
func (a *SubmissionArchive) Store(ctx context.Context, sub model.ArchivedSubmission, idempotencyKey string) (string, error) {
	payload, err := json.Marshal(sub)
	if err != nil {
		return "", fmt.Errorf("marshal submission failed: %w", err)
	}
	compressed := a.encoder.EncodeAll(payload, make([]byte, 0, len(payload)/2))

	key := archiveKey(a.prefix, sub, idempotencyKey)
	obj := storage.Object{
		Key:         key,
		Body:        compressed,
		ContentType: archiveContentType,
		Metadata: map[string]string{
			"team":        sub.TeamID,
			"participant": sub.ParticipantID,
			"round":       sub.Round,
			"score":       strconv.Itoa(sub.Score),
		},
	}
	if err := a.storage.Put(ctx, a.bucket, obj); err != nil {
		return "", fmt.Errorf("put submission object failed: %w", err)
	}
	return key, nil
}

// DecodeArchived reverses Store's encoding.
func DecodeArchived(data []byte) (model.ArchivedSubmission, error) {
	decoder, err := zstd.NewReader(nil)
	if err != nil {
		return model.ArchivedSubmission{}, err
	}
	defer decoder.Close()
	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return model.ArchivedSubmission{}, fmt.Errorf("decompress submission failed: %w", err)
	}
	var sub model.ArchivedSubmission
	if err := json.Unmarshal(raw, &sub); err != nil {
		return model.ArchivedSubmission{}, fmt.Errorf("unmarshal submission failed: %w", err)
	}
	return sub, nil
}

func archiveKey(prefix string, sub model.ArchivedSubmission, idempotencyKey string) string {
	name := strconv.FormatInt(sub.RecordedAt.UnixMilli(), 10)
	if idempotencyKey != "" {
		name += "-" + idempotencyKey
	}
	return path.Join(prefix, sub.TeamID, sub.ParticipantID, name+".json.zst")
}
