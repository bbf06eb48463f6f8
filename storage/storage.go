// Package storage provides the content-addressed store the upload
// pipeline writes to. Content is immutable and keyed by a deterministic
// function of the bytes, so storing the same payload twice yields the
// same cid and is never an error.
package storage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"

	"go.uber.org/zap"
)

// ContentRecord identifies stored content.
type ContentRecord struct {
	CID  string `json:"cid"`
	Size int64  `json:"size"`
}

// ContentStore interface for content-addressed storage operations.
type ContentStore interface {
	// Add stores data with a pin directive and returns its content
	// identifier. Adding identical bytes twice returns the same cid.
	Add(ctx context.Context, filename string, data []byte) (*ContentRecord, error)

	// Get retrieves content by cid.
	Get(ctx context.Context, cid string) (io.ReadCloser, error)
}

// StoreType represents the storage backend type.
type StoreType string

const (
	StoreTypeIPFS  StoreType = "ipfs"
	StoreTypeS3    StoreType = "s3"
	StoreTypeLocal StoreType = "local"
)

// StoreConfig holds configuration for the content store.
type StoreConfig struct {
	Type         StoreType
	IPFSNodes    []string // For IPFS: primary node first, then fallbacks
	LocalPath    string   // For local storage
	S3Bucket     string   // For S3 storage
	S3Region     string   // For S3 storage
	AWSAccessKey string
	AWSSecretKey string
}

// NewContentStore creates a content store instance based on configuration.
func NewContentStore(cfg StoreConfig, logger *zap.Logger) (ContentStore, error) {
	switch cfg.Type {
	case StoreTypeIPFS:
		return NewIPFSStore(cfg.IPFSNodes, logger)
	case StoreTypeS3:
		return NewS3Store(cfg)
	case StoreTypeLocal:
		return NewLocalStore(cfg.LocalPath)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// computeCID derives the content identifier for the S3 and local backends.
// IPFS returns its own cid; these backends hash the bytes themselves so
// the store stays content addressed and idempotent.
func computeCID(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// shardKey spreads objects across prefixes by the first byte of the cid.
func shardKey(cid string) string {
	return fmt.Sprintf("%s/%s", cid[:2], cid)
}
