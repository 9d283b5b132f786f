package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound reports that no tier holds the requested blob.
	ErrNotFound = errors.New("segment blob not found")
	// ErrInvalidKey rejects identifiers that cannot be mapped to a storage key.
	ErrInvalidKey = errors.New("invalid segment key")
	// ErrLayoutMismatch reports a fallback store written by an incompatible layout version.
	ErrLayoutMismatch = errors.New("blob layout version mismatch")
)

// Backend is the capability set every blob tier provides.
type Backend interface {
	Name() string
	Put(ctx context.Context, sessionID, segmentID string, data []byte) error
	// Get returns ErrNotFound when the blob is absent.
	Get(ctx context.Context, sessionID, segmentID string) ([]byte, error)
	// List returns the segment IDs stored for a session, sorted.
	List(ctx context.Context, sessionID string) ([]string, error)
	// Delete is idempotent; deleting an absent blob is not an error.
	Delete(ctx context.Context, sessionID, segmentID string) error
	Close() error
}

// Locator is implemented by backends that keep blobs as plain files, letting
// readers map them instead of copying.
type Locator interface {
	Locate(sessionID, segmentID string) (string, bool)
}

func validateKey(sessionID, segmentID string) error {
	if err := validatePart("session id", sessionID); err != nil {
		return err
	}
	return validatePart("segment id", segmentID)
}

func validatePart(label, value string) error {
	switch {
	case strings.TrimSpace(value) == "":
		return fmt.Errorf("%w: empty %s", ErrInvalidKey, label)
	case value == "." || value == "..":
		return fmt.Errorf("%w: %s %q", ErrInvalidKey, label, value)
	case strings.ContainsAny(value, "/\\:\x00"):
		return fmt.Errorf("%w: %s %q contains a reserved character", ErrInvalidKey, label, value)
	}
	return nil
}

func ensureContext(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	return ctx.Err()
}
