package archive

import (
	"context"

	"gocloud.dev/blob"
	"gocloud.dev/blob/gcsblob"
	"gocloud.dev/gcp"
	"golang.org/x/oauth2/google"
)

type gcs struct {
	bucket *blob.Bucket
}

// NewGCS opens a Google Cloud Storage bucket using application default
// credentials.
func NewGCS(ctx context.Context, bucketName string) (Bucket, error) {
	creds, err := google.FindDefaultCredentials(ctx, "https://www.googleapis.com/auth/cloud-platform")

	if err != nil {
		return nil, err
	}

	client, err := gcp.NewHTTPClient(gcp.DefaultTransport(), gcp.CredentialsTokenSource(creds))

	if err != nil {
		return nil, err
	}

	bucket, err := gcsblob.OpenBucket(ctx, client, bucketName, nil)

	if err != nil {
		return nil, err
	}

	return &gcs{bucket: bucket}, nil
}

func (g *gcs) Put(ctx context.Context, key string, data []byte) error {
	return g.bucket.WriteAll(ctx, key, data, nil)
}

func (g *gcs) Fetch(ctx context.Context, key string) ([]byte, error) {
	return g.bucket.ReadAll(ctx, key)
}

func (g *gcs) Delete(ctx context.Context, prefix string) error {
	return deletePrefix(ctx, g.bucket, prefix)
}
