package staging

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"

	"github.com/gabriel-vasile/mimetype"
	"github.com/minio/minio-go/v7"
)

// MinioStore keeps artifacts as objects so workers on other hosts can read
// them. Refs are object names including the prefix.
type MinioStore struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewMinioStore(client *minio.Client, bucket, prefix string) *MinioStore {
	return &MinioStore{client: client, bucket: bucket, prefix: prefix}
}

func (s *MinioStore) objectName(name string) string {
	return path.Join(s.prefix, path.Base(name))
}

func (s *MinioStore) Put(ctx context.Context, name string, data []byte) (string, error) {
	ref := s.objectName(name)
	_, err := s.client.PutObject(
		ctx,
		s.bucket,
		ref,
		bytes.NewReader(data),
		int64(len(data)),
		minio.PutObjectOptions{ContentType: mimetype.Detect(data).String()},
	)
	if err != nil {
		return "", fmt.Errorf("failed to upload staging object: %w", err)
	}
	return ref, nil
}

func (s *MinioStore) Get(ctx context.Context, ref string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, ref, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.mapErr(ref, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, s.mapErr(ref, err)
	}
	return data, nil
}

// Delete relies on S3 semantics: removing a missing key succeeds.
func (s *MinioStore) Delete(ctx context.Context, ref string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, ref, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete staging object: %w", err)
	}
	return nil
}

func (s *MinioStore) mapErr(ref string, err error) error {
	if minio.ToErrorResponse(err).Code == "NoSuchKey" {
		return fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return fmt.Errorf("failed to read staging object: %w", err)
}
