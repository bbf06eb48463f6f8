package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// LocalStore implements ContentStore on the local filesystem, keyed by
// cid. Intended for development.
type LocalStore struct {
	basePath string
}

// NewLocalStore creates a new local content store.
func NewLocalStore(basePath string) (*LocalStore, error) {
	// Create base directory if it doesn't exist
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}

	return &LocalStore{
		basePath: basePath,
	}, nil
}

// Add writes content under its cid. Re-adding identical bytes finds the
// existing file and returns the same cid.
func (s *LocalStore) Add(ctx context.Context, filename string, data []byte) (*ContentRecord, error) {
	cid := computeCID(data)
	fullPath := filepath.Join(s.basePath, shardKey(cid))

	if _, err := os.Stat(fullPath); err == nil {
		return &ContentRecord{CID: cid, Size: int64(len(data))}, nil
	}

	// Create directory structure
	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	tmp := fullPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		os.Remove(tmp) // Clean up on error
		return nil, fmt.Errorf("failed to write file: %w", err)
	}
	if err := os.Rename(tmp, fullPath); err != nil {
		os.Remove(tmp)
		return nil, fmt.Errorf("failed to finalize file: %w", err)
	}

	return &ContentRecord{CID: cid, Size: int64(len(data))}, nil
}

// Get retrieves content from local storage by cid.
func (s *LocalStore) Get(ctx context.Context, cid string) (io.ReadCloser, error) {
	fullPath := filepath.Join(s.basePath, shardKey(cid))

	file, err := os.Open(fullPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("content not found: %s", cid)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	return file, nil
}
