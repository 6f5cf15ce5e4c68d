package archive

import (
	"context"
	"os"
	"path"
	"path/filepath"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	_ "gocloud.dev/blob/fileblob"
)

// Bucket is durable storage for retrieved artifacts. Archiving is optional
// and happens after retrieval, so a bucket failure can never cost a run.
type Bucket interface {
	Put(ctx context.Context, key string, data []byte) (err error)
	Fetch(ctx context.Context, key string) (data []byte, err error)
	Delete(ctx context.Context, prefix string) (err error)
}

// Files copies local artifact files into the bucket under prefix, keyed by
// base name.
func Files(ctx context.Context, bucket Bucket, prefix string, paths []string) error {
	for _, localPath := range paths {
		data, err := os.ReadFile(localPath)

		if err != nil {
			return errors.Wrapf(err, "read artifact %s", localPath)
		}

		key := path.Join(prefix, filepath.Base(localPath))

		if err := bucket.Put(ctx, key, data); err != nil {
			return errors.Wrapf(err, "archive %s", key)
		}

		log.WithFields(log.Fields{
			"key":   key,
			"bytes": len(data),
		}).Info("artifact archived")
	}

	return nil
}
