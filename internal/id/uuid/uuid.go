// Package uuid mints and checks run identifiers. Run ids are UUIDv7 strings so
// they sort by start time in history listings and object keys.
package uuid

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ErrInvalidRunID is returned by Parse for anything that is not a UUID.
var ErrInvalidRunID = errors.New("invalid run_id")

// Generator creates run ids.
type Generator struct{}

// New creates a Generator.
func New() *Generator {
	return &Generator{}
}

// NewID returns a fresh UUIDv7 run id.
func (Generator) NewID() (string, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("generate run id: %w", err)
	}
	return id.String(), nil
}

// Parse canonicalizes a caller supplied run id.
func Parse(s string) (string, error) {
	id, err := uuid.Parse(s)
	if err != nil || id == uuid.Nil {
		return "", ErrInvalidRunID
	}
	return id.String(), nil
}
