package gcs

import (
	"context"
	"testing"

	"cloud.google.com/go/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.Error(t, err)
	_, err = New(&storage.Client{}, Config{})
	require.Error(t, err)
}

func TestObjectName(t *testing.T) {
	t.Parallel()

	s, err := New(&storage.Client{}, Config{Bucket: "b", Prefix: "/ptt/"})
	require.NoError(t, err)
	assert.Equal(t, "ptt/Stock/M.1.A.001.html", s.ObjectName("/Stock/M.1.A.001.html"))

	bare, err := New(&storage.Client{}, Config{Bucket: "b"})
	require.NoError(t, err)
	assert.Equal(t, "Stock/x.html", bare.ObjectName("Stock/x.html"))
}

func TestPutObjectRequiresPath(t *testing.T) {
	t.Parallel()

	s, err := New(&storage.Client{}, Config{Bucket: "b"})
	require.NoError(t, err)
	_, err = s.PutObject(context.Background(), "  ", "text/html", []byte("x"))
	require.Error(t, err)
}
