package archive

import (
	"context"
	"io"

	"gocloud.dev/blob"
)

type local struct {
	bucket *blob.Bucket
}

// NewLocal opens a directory-backed bucket, for keeping run artifacts on the
// operator's machine.
func NewLocal(ctx context.Context, dir string) (Bucket, error) {
	bucket, err := blob.OpenBucket(ctx, "file://"+dir)

	if err != nil {
		return nil, err
	}

	return &local{bucket: bucket}, nil
}

func (l *local) Put(ctx context.Context, key string, data []byte) error {
	return l.bucket.WriteAll(ctx, key, data, nil)
}

func (l *local) Fetch(ctx context.Context, key string) ([]byte, error) {
	return l.bucket.ReadAll(ctx, key)
}

func (l *local) Delete(ctx context.Context, prefix string) error {
	return deletePrefix(ctx, l.bucket, prefix)
}

func deletePrefix(ctx context.Context, bucket *blob.Bucket, prefix string) error {
	iter := bucket.List(&blob.ListOptions{Prefix: prefix})

	for {
		obj, err := iter.Next(ctx)

		if err == io.EOF {
			break
		}

		if err != nil {
			return err
		}

		if obj.IsDir {
			continue
		}

		if err = bucket.Delete(ctx, obj.Key); err != nil {
			return err
		}
	}

	return nil
}
