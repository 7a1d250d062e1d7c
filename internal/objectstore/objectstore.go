package objectstore

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Store persists uploaded statement files.
type Store interface {
	// Put writes data under key and returns the storage path (e.g. gs://bucket/key).
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// Fetch reads the bytes stored at path.
	Fetch(ctx context.Context, path string) ([]byte, error)

	// SignedURL returns a time-limited download URL for path.
	SignedURL(ctx context.Context, path string, ttl time.Duration) (string, error)

	// Delete removes the object at path. Missing objects are not an error.
	Delete(ctx context.Context, path string) error
}

// StatementKey builds the object key for an uploaded statement.
// e.g. statements/<user>/2024/03/01/<uuid>-march.csv
func StatementKey(userID, filename string, now time.Time) string {
	return fmt.Sprintf("statements/%s/%s/%s-%s", userID, now.UTC().Format("2006/01/02"), uuid.New().String(), path.Base(filename))
}

// ParseURI splits scheme://bucket/object into its parts.
func ParseURI(uri string) (scheme, bucket, object string, err error) {
	i := strings.Index(uri, "://")
	if i <= 0 {
		return "", "", "", fmt.Errorf("invalid storage URI: %s", uri)
	}
	scheme = uri[:i]
	parts := strings.SplitN(uri[i+3:], "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", "", fmt.Errorf("invalid storage URI (no object path): %s", uri)
	}
	return scheme, parts[0], parts[1], nil
}

// FilenameFromURI extracts the filename from a storage URI.
// e.g., "gs://bucket/folder/file.pdf" → "file.pdf"
func FilenameFromURI(uri string) string {
	if i := strings.Index(uri, "://"); i >= 0 {
		uri = uri[i+3:]
	}
	parts := strings.SplitN(uri, "/", 2)
	if len(parts) < 2 {
		return uri
	}
	return path.Base(parts[1])
}
