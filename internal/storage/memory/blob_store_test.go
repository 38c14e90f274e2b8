package memory

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlobStorePutObjectCopiesData(t *testing.T) {
	t.Parallel()

	blobs := NewBlobStore()
	ctx := context.Background()
	uri, err := blobs.PutObject(ctx, "runs/r/B000000001.json", "application/json", bytes.NewBufferString("content"))
	require.NoError(t, err)
	require.Equal(t, "memory://runs/r/B000000001.json", uri)

	got, err := blobs.GetObject(ctx, "runs/r/B000000001.json")
	require.NoError(t, err)
	got[0] = 'C'

	again, err := blobs.GetObject(ctx, "runs/r/B000000001.json")
	require.NoError(t, err)
	require.Equal(t, "content", string(again))
	require.Equal(t, []string{"runs/r/B000000001.json"}, blobs.Keys())
}
