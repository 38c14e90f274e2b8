package gcs

import (
	"context"
	"testing"

	gcstorage "cloud.google.com/go/storage"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/option"
)

func TestNewValidation(t *testing.T) {
	t.Parallel()

	_, err := New(nil, Config{Bucket: "b"})
	require.ErrorContains(t, err, "client is required")

	client, err := gcstorage.NewClient(context.Background(), option.WithoutAuthentication())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	_, err = New(client, Config{})
	require.ErrorContains(t, err, "bucket name")

	blobs, err := New(client, Config{Bucket: "archive"})
	require.NoError(t, err)
	_, err = blobs.PutObject(context.Background(), " ", "application/json", nil)
	require.ErrorContains(t, err, "path is required")
}
