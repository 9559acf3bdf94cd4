package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

type Object struct {
	Name string
	Size int64
}

// ObjectStore is a bucket/key blob store that checkpoints are kept in.
type ObjectStore interface {
	CreateBucket(ctx context.Context, bucket string) error

	PutObject(ctx context.Context, bucket, key string, data io.Reader) error

	ListObjects(ctx context.Context, bucket, prefix string) ([]Object, error)

	DownloadObject(ctx context.Context, bucket, key, filename string) error
}

// UploadDir copies every file under src to bucket, keyed by prefix plus the
// file's path relative to src.
func UploadDir(ctx context.Context, store ObjectStore, bucket, prefix, src string) error {
	prefix = strings.TrimSuffix(prefix, "/")

	err := filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return fmt.Errorf("failed to walk directory %s: %w", src, err)
		}
		if info.IsDir() {
			return nil
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if prefix != "" {
			key = prefix + "/" + key
		}

		file, err := os.Open(path)
		if err != nil {
			return err
		}
		defer file.Close()

		return store.PutObject(ctx, bucket, key, file)
	})
	if err != nil {
		return fmt.Errorf("error uploading directory %s to %s/%s: %w", src, bucket, prefix, err)
	}

	return nil
}
