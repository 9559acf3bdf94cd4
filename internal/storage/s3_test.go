package storage_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"veco-ner/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/minio"
)

const (
	minioUsername = "admin"
	minioPassword = "password"
	bucketName    = "test-bucket"
)

func setupMinioContainer(t *testing.T, ctx context.Context) string {
	minioContainer, err := minio.Run(
		ctx,
		"minio/minio:RELEASE.2024-01-16T16-07-38Z",
		minio.WithUsername(minioUsername),
		minio.WithPassword(minioPassword),
	)
	require.NoError(t, err, "Failed to start MinIO container")

	t.Cleanup(func() {
		err := minioContainer.Terminate(context.Background())
		require.NoError(t, err, "Failed to terminate MinIO container")
	})

	connStr, err := minioContainer.ConnectionString(ctx)
	require.NoError(t, err, "Failed to get MinIO connection string")

	return "http://" + connStr
}

func TestS3CheckpointResolver(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping minio test in short mode")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	defer cancel()

	store, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
		Endpoint:        setupMinioContainer(t, ctx),
		AccessKeyID:     minioUsername,
		SecretAccessKey: minioPassword,
	})
	require.NoError(t, err)

	require.NoError(t, store.CreateBucket(ctx, bucketName))
	// creating it twice is not an error
	require.NoError(t, store.CreateBucket(ctx, bucketName))

	require.NoError(t, store.PutObject(ctx, bucketName, "single/file.txt", bytes.NewReader([]byte("hello"))))
	objects, err := store.ListObjects(ctx, bucketName, "single/")
	require.NoError(t, err)
	assert.Equal(t, []storage.Object{{Name: "single/file.txt", Size: 5}}, objects)

	src := t.TempDir()
	files := writeCheckpoint(t, src)
	require.NoError(t, storage.UploadDir(ctx, store, bucketName, "checkpoints/veco", src))

	resolver := storage.NewCheckpointResolver(store, t.TempDir(), nil)
	dir, err := resolver.Resolve(ctx, "s3://"+bucketName+"/checkpoints/veco")
	require.NoError(t, err)

	for name, content := range files {
		data, err := os.ReadFile(filepath.Join(dir, filepath.FromSlash(name)))
		require.NoError(t, err)
		assert.Equal(t, content, string(data))
	}

	leftovers, err := filepath.Glob(filepath.Join(dir, "*.tmp"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}
