package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"cloud.google.com/go/storage"
)

// GCS stores objects in a Google Cloud Storage bucket.
// It assumes Application Default Credentials unless the client was built otherwise.
type GCS struct {
	client *storage.Client
	bucket string
}

// NewGCS creates a GCS-backed store using an existing client.
func NewGCS(client *storage.Client, bucket string) *GCS {
	return &GCS{client: client, bucket: bucket}
}

// OpenGCS creates a storage client and wraps it.
func OpenGCS(ctx context.Context, bucket string) (*GCS, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("OpenGCS: create storage client: %w", err)
	}
	return NewGCS(client, bucket), nil
}

// Close releases the underlying client.
func (g *GCS) Close() error {
	return g.client.Close()
}

func (g *GCS) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Minute)
	defer cancel()

	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType

	if _, err := io.Copy(w, bytes.NewReader(data)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("GCS.Put: copy to writer: %w", err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("GCS.Put: finalize upload: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", g.bucket, key), nil
}

func (g *GCS) Fetch(ctx context.Context, path string) ([]byte, error) {
	bucket, object, err := g.locate(path)
	if err != nil {
		return nil, err
	}

	rc, err := g.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("GCS.Fetch: reading object %s/%s: %w", bucket, object, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("GCS.Fetch: reading bytes: %w", err)
	}
	return data, nil
}

func (g *GCS) SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error) {
	bucket, object, err := g.locate(path)
	if err != nil {
		return "", err
	}
	url, err := g.client.Bucket(bucket).SignedURL(object, &storage.SignedURLOptions{
		Scheme:  storage.SigningSchemeV4,
		Method:  "GET",
		Expires: time.Now().Add(ttl),
	})
	if err != nil {
		return "", fmt.Errorf("GCS.SignedURL: %w", err)
	}
	return url, nil
}

func (g *GCS) Delete(ctx context.Context, path string) error {
	bucket, object, err := g.locate(path)
	if err != nil {
		return err
	}
	err = g.client.Bucket(bucket).Object(object).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("GCS.Delete: %w", err)
	}
	return nil
}

func (g *GCS) locate(path string) (string, string, error) {
	scheme, bucket, object, err := ParseURI(path)
	if err != nil {
		return "", "", err
	}
	if scheme != "gs" {
		return "", "", fmt.Errorf("not a GCS URI: %s", path)
	}
	return bucket, object, nil
}

var _ Store = (*GCS)(nil)
