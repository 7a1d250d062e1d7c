package objectstore

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri     string
		scheme  string
		bucket  string
		object  string
		wantErr bool
	}{
		{"gs://bucket/path/to/file.pdf", "gs", "bucket", "path/to/file.pdf", false},
		{"mem://local/a.csv", "mem", "local", "a.csv", false},
		{"gs://bucket", "", "", "", true},
		{"bucket/file.pdf", "", "", "", true},
		{"gs:///file.pdf", "", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			scheme, bucket, object, err := ParseURI(tt.uri)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.scheme, scheme)
			assert.Equal(t, tt.bucket, bucket)
			assert.Equal(t, tt.object, object)
		})
	}
}

func TestFilenameFromURI(t *testing.T) {
	assert.Equal(t, "file.pdf", FilenameFromURI("gs://bucket/folder/file.pdf"))
	assert.Equal(t, "bucket", FilenameFromURI("gs://bucket"))
}

func TestStatementKey(t *testing.T) {
	now := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	key := StatementKey("u1", "../../etc/march.csv", now)
	assert.True(t, strings.HasPrefix(key, "statements/u1/2024/03/01/"), key)
	assert.True(t, strings.HasSuffix(key, "-march.csv"), key)
}

func TestMemory_RoundTrip(t *testing.T) {
	ctx := context.Background()
	m := NewMemory("")

	path, err := m.Put(ctx, "statements/u1/a.csv", []byte("Date,Amount\n"), "text/csv")
	require.NoError(t, err)
	assert.Equal(t, "mem://local/statements/u1/a.csv", path)

	data, err := m.Fetch(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, "Date,Amount\n", string(data))

	url, err := m.SignedURL(ctx, path, time.Minute)
	require.NoError(t, err)
	assert.Contains(t, url, "expires=")

	require.NoError(t, m.Delete(ctx, path))
	_, err = m.Fetch(ctx, path)
	assert.Error(t, err)
	assert.Equal(t, 0, m.Len())
}
