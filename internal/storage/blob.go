// Package storage defines the blob store used for per-item archives and the
// key layout shared by its backends.
package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// ErrObjectNotFound is returned by GetObject for unknown keys.
var ErrObjectNotFound = errors.New("object not found")

// BlobStore writes and reads archive objects.
type BlobStore interface {
	PutObject(ctx context.Context, key, contentType string, r io.Reader) (string, error)
	GetObject(ctx context.Context, key string) ([]byte, error)
}

// ItemKey is the archive key for one identifier of a run: <prefix>/<run_id>/<asin>.json.
func ItemKey(prefix, runID, asin string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return path.Join(runID, asin+".json")
	}
	return path.Join(prefix, runID, asin+".json")
}

// PutJSON encodes v with indentation and stores it under key.
func PutJSON(ctx context.Context, store BlobStore, key string, v any) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return "", fmt.Errorf("encode %s: %w", key, err)
	}
	uri, err := store.PutObject(ctx, key, "application/json", &buf)
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}
	return uri, nil
}
