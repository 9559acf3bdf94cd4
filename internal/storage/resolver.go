package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"veco-ner/internal/core/utils"

	"github.com/schollz/progressbar/v3"
)

const (
	s3Scheme       = "s3://"
	completeMarker = ".download-complete"
)

var (
	ErrNoObjectStore = errors.New("no object store configured for remote checkpoints")
	ErrInvalidURI    = errors.New("invalid checkpoint uri")
)

// ParseS3URI splits s3://bucket/prefix. ok is false for anything else,
// including uris with "." or ".." path segments.
func ParseS3URI(uri string) (bucket, prefix string, ok bool) {
	if !strings.HasPrefix(uri, s3Scheme) {
		return "", "", false
	}
	bucket, prefix, _ = strings.Cut(strings.TrimPrefix(uri, s3Scheme), "/")
	prefix = strings.Trim(prefix, "/")
	if bucket == "" || !cleanKey(bucket) || (prefix != "" && !cleanKey(prefix)) {
		return "", "", false
	}
	return bucket, prefix, true
}

// cleanKey reports whether key stays below the directory it is joined to.
func cleanKey(key string) bool {
	for _, segment := range strings.Split(key, "/") {
		if segment == "" || segment == "." || segment == ".." || strings.ContainsRune(segment, '\\') {
			return false
		}
	}
	return true
}

// ValidateModelDir rejects s3 uris that ParseS3URI cannot split. Local
// paths are accepted as given.
func ValidateModelDir(modelDir string) error {
	if !strings.HasPrefix(modelDir, s3Scheme) {
		return nil
	}
	if _, _, ok := ParseS3URI(modelDir); !ok {
		return fmt.Errorf("%w: %s", ErrInvalidURI, modelDir)
	}
	return nil
}

// CheckpointResolver turns a checkpoint location into a local directory,
// downloading remote checkpoints into a cache the first time they are used.
type CheckpointResolver struct {
	store    ObjectStore
	cacheDir string
	progress io.Writer
	locks    *utils.MutexMap
}

// NewCheckpointResolver creates a resolver. store may be nil when only local
// checkpoints are used; progress receives the download bar and may be nil.
func NewCheckpointResolver(store ObjectStore, cacheDir string, progress io.Writer) *CheckpointResolver {
	if progress == nil {
		progress = io.Discard
	}
	return &CheckpointResolver{
		store:    store,
		cacheDir: cacheDir,
		progress: progress,
		locks:    utils.NewMutexMap(1024),
	}
}

func (r *CheckpointResolver) Resolve(ctx context.Context, modelDir string) (string, error) {
	if err := ValidateModelDir(modelDir); err != nil {
		return "", err
	}
	bucket, prefix, ok := ParseS3URI(modelDir)
	if !ok {
		return modelDir, nil
	}
	if r.store == nil {
		return "", fmt.Errorf("%w: %s", ErrNoObjectStore, modelDir)
	}

	dest := filepath.Join(r.cacheDir, bucket, filepath.FromSlash(prefix))

	unlock, err := r.locks.Lock(dest)
	if err != nil {
		return "", err
	}
	defer unlock()

	if _, err := os.Stat(filepath.Join(dest, completeMarker)); err == nil {
		slog.Debug("using cached checkpoint", "uri", modelDir, "dir", dest)
		return dest, nil
	}

	if err := r.download(ctx, bucket, prefix, dest); err != nil {
		return "", err
	}

	return dest, nil
}

func (r *CheckpointResolver) download(ctx context.Context, bucket, prefix, dest string) error {
	listPrefix := prefix
	if listPrefix != "" {
		listPrefix += "/"
	}

	objects, err := r.store.ListObjects(ctx, bucket, listPrefix)
	if err != nil {
		return fmt.Errorf("error listing checkpoint s3://%s/%s: %w", bucket, prefix, err)
	}
	if len(objects) == 0 {
		return fmt.Errorf("checkpoint s3://%s/%s is empty", bucket, prefix)
	}

	var total int64
	for _, obj := range objects {
		total += obj.Size
	}

	partial := dest + ".partial"
	if err := os.RemoveAll(partial); err != nil {
		return fmt.Errorf("failed to clear partial download %s: %w", partial, err)
	}

	slog.Info("downloading checkpoint", "bucket", bucket, "prefix", prefix, "objects", len(objects), "bytes", total)

	bar := progressbar.NewOptions64(total,
		progressbar.OptionSetDescription(fmt.Sprintf("s3://%s/%s", bucket, prefix)),
		progressbar.OptionSetWriter(r.progress),
		progressbar.OptionShowBytes(true),
		progressbar.OptionShowCount(),
	)

	for _, obj := range objects {
		if strings.HasSuffix(obj.Name, "/") {
			continue
		}
		name := strings.TrimPrefix(obj.Name, listPrefix)
		if !cleanKey(name) {
			return fmt.Errorf("%w: object %s escapes checkpoint s3://%s/%s", ErrInvalidURI, obj.Name, bucket, prefix)
		}
		localPath := filepath.Join(partial, filepath.FromSlash(name))
		if err := r.store.DownloadObject(ctx, bucket, obj.Name, localPath); err != nil {
			return fmt.Errorf("error downloading checkpoint s3://%s/%s: %w", bucket, prefix, err)
		}
		_ = bar.Add64(obj.Size)
	}
	_ = bar.Finish()

	if err := os.WriteFile(filepath.Join(partial, completeMarker), nil, 0644); err != nil {
		return fmt.Errorf("failed to mark download complete: %w", err)
	}
	if err := os.RemoveAll(dest); err != nil {
		return fmt.Errorf("failed to replace %s: %w", dest, err)
	}
	if err := os.Rename(partial, dest); err != nil {
		return fmt.Errorf("failed to move checkpoint into %s: %w", dest, err)
	}

	slog.Info("checkpoint downloaded", "bucket", bucket, "prefix", prefix, "dir", dest)

	return nil
}
