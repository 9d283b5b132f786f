package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"relay/internal/fileutil"
)

const blobExt = ".bin"

// Filesystem stores each blob as <root>/<session>/<segment>.bin.
type Filesystem struct {
	root string
}

// NewFilesystem returns a filesystem tier rooted at root, creating it when missing.
func NewFilesystem(root string) (*Filesystem, error) {
	if strings.TrimSpace(root) == "" {
		return nil, errors.New("filesystem blob root is empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &Filesystem{root: root}, nil
}

func (f *Filesystem) Name() string { return "filesystem" }

// Root returns the directory holding session subdirectories.
func (f *Filesystem) Root() string { return f.root }

func (f *Filesystem) path(sessionID, segmentID string) string {
	return filepath.Join(f.root, sessionID, segmentID+blobExt)
}

func (f *Filesystem) Put(ctx context.Context, sessionID, segmentID string, data []byte) error {
	if err := ensureContext(ctx); err != nil {
		return err
	}
	if err := validateKey(sessionID, segmentID); err != nil {
		return err
	}
	if err := fileutil.WriteFileAtomic(f.path(sessionID, segmentID), data, 0o644); err != nil {
		return fmt.Errorf("write blob %s/%s: %w", sessionID, segmentID, err)
	}
	return nil
}

func (f *Filesystem) Get(ctx context.Context, sessionID, segmentID string) ([]byte, error) {
	if err := ensureContext(ctx); err != nil {
		return nil, err
	}
	if err := validateKey(sessionID, segmentID); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(f.path(sessionID, segmentID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read blob %s/%s: %w", sessionID, segmentID, err)
	}
	return data, nil
}

func (f *Filesystem) List(ctx context.Context, sessionID string) ([]string, error) {
	if err := ensureContext(ctx); err != nil {
		return nil, err
	}
	if err := validatePart("session id", sessionID); err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(filepath.Join(f.root, sessionID))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list blobs for %s: %w", sessionID, err)
	}
	ids := make([]string, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if !entry.Type().IsRegular() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, blobExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, blobExt))
	}
	sort.Strings(ids)
	return ids, nil
}

func (f *Filesystem) Delete(ctx context.Context, sessionID, segmentID string) error {
	if err := ensureContext(ctx); err != nil {
		return err
	}
	if err := validateKey(sessionID, segmentID); err != nil {
		return err
	}
	if err := os.Remove(f.path(sessionID, segmentID)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("delete blob %s/%s: %w", sessionID, segmentID, err)
	}
	// Drop the session directory once it is empty; failure just leaves it behind.
	_ = os.Remove(filepath.Join(f.root, sessionID))
	return nil
}

// Locate reports the on-disk path of a stored blob.
func (f *Filesystem) Locate(sessionID, segmentID string) (string, bool) {
	if validateKey(sessionID, segmentID) != nil {
		return "", false
	}
	path := f.path(sessionID, segmentID)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return "", false
	}
	return path, true
}

func (f *Filesystem) Close() error { return nil }
