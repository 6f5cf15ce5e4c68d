package archive

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLocalRoundtrip(t *testing.T) {
	ctx := context.Background()

	bucket, err := NewLocal(ctx, t.TempDir())
	require.NoError(t, err)

	require.NoError(t, bucket.Put(ctx, "runs/42/img-0.png", []byte("image bytes")))

	data, err := bucket.Fetch(ctx, "runs/42/img-0.png")
	require.NoError(t, err)
	require.Equal(t, []byte("image bytes"), data)

	require.NoError(t, bucket.Delete(ctx, "runs/42/"))

	_, err = bucket.Fetch(ctx, "runs/42/img-0.png")
	require.Error(t, err)
}

func TestFilesArchivesByBaseName(t *testing.T) {
	ctx := context.Background()

	dir := t.TempDir()
	first := filepath.Join(dir, "img-0.png")
	second := filepath.Join(dir, "img-1.png")

	require.NoError(t, os.WriteFile(first, []byte("first"), 0644))
	require.NoError(t, os.WriteFile(second, []byte("second"), 0644))

	bucket, err := NewLocal(ctx, t.TempDir())
	require.NoError(t, err)

	require.NoError(t, Files(ctx, bucket, "runs/7", []string{first, second}))

	data, err := bucket.Fetch(ctx, "runs/7/img-0.png")
	require.NoError(t, err)
	require.Equal(t, []byte("first"), data)

	data, err = bucket.Fetch(ctx, "runs/7/img-1.png")
	require.NoError(t, err)
	require.Equal(t, []byte("second"), data)
}

func TestFilesMissingLocalFile(t *testing.T) {
	ctx := context.Background()

	bucket, err := NewLocal(ctx, t.TempDir())
	require.NoError(t, err)

	err = Files(ctx, bucket, "runs/7", []string{filepath.Join(t.TempDir(), "absent.png")})
	require.Error(t, err)
}
