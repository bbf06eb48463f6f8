// Package ledger commits file metadata to the DShare contract through a
// signer gateway and reads confirmed records back. The gateway holds the
// signing key; this package owns the transaction contract: submit, wait
// for finality, extract the FileUploaded event, and translate revert
// reasons into typed errors.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/sha3"
)

var (
	// ErrDuplicateCID means the contract already holds a record for this
	// cid (or quintuple). Caller-facing; never retried.
	ErrDuplicateCID = errors.New("cid already exists on ledger")

	// ErrEmptyFileName is the contract's empty-name validation revert.
	ErrEmptyFileName = errors.New("file name cannot be empty")

	// ErrMissingUploadEvent means the transaction confirmed but the
	// FileUploaded event was absent from the receipt. The ledger and the
	// local view cannot be reconciled automatically.
	ErrMissingUploadEvent = errors.New("transaction confirmed but FileUploaded event missing")

	// ErrAccessDenied is the contract's visibility/grantee check revert
	// on reads.
	ErrAccessDenied = errors.New("caller does not have access to this file")

	// ErrBlocked is the contract's block-list revert.
	ErrBlocked = errors.New("caller is blocked from using this contract")
)

// UploadTx is the metadata-commit transaction. The contract enforces
// uniqueness of the (FileName, Author, FileType, FileSize, CID) quintuple.
type UploadTx struct {
	FileName   string   `json:"file_name"`
	Author     string   `json:"author"`
	FileType   string   `json:"file_type"`
	FileSize   int64    `json:"file_size"`
	CID        string   `json:"cid"`
	Access     uint8    `json:"access"`
	SharedWith []string `json:"shared_with"`
	Uploader   string   `json:"uploader"`
}

// CommitRecord is the confirmed on-ledger handle for an uploaded file.
type CommitRecord struct {
	FileHash    string    `json:"file_hash"`
	TxHash      string    `json:"tx_hash"`
	BlockNumber uint64    `json:"block_number"`
	ConfirmedAt time.Time `json:"confirmed_at"`
}

// FileRecord is a confirmed file record read back from the contract.
type FileRecord struct {
	FileName   string   `json:"file_name"`
	Author     string   `json:"author"`
	FileType   string   `json:"file_type"`
	FileSize   int64    `json:"file_size"`
	CID        string   `json:"cid"`
	Access     uint8    `json:"access"`
	SharedWith []string `json:"shared_with"`
	Uploader   string   `json:"uploader"`
	UploadedAt int64    `json:"uploaded_at"`
}

// Ledger is the commit-stage collaborator consumed by the upload pipeline.
type Ledger interface {
	// UploadFile submits the transaction and blocks until finality.
	UploadFile(ctx context.Context, tx UploadTx) (*CommitRecord, error)

	// GetFile reads a confirmed record, subject to the contract's
	// access and block-list checks for the given caller address.
	GetFile(ctx context.Context, fileHash, caller string) (*FileRecord, error)
}

// QuintupleHash computes the keccak256 digest of the identity quintuple,
// matching the hash the contract derives for its FileUploaded event.
func QuintupleHash(fileName, author, fileType string, fileSize int64, cid string) string {
	h := sha3.NewLegacyKeccak256()
	fmt.Fprintf(h, "%s|%s|%s|%d|%s", fileName, author, fileType, fileSize, cid)
	return fmt.Sprintf("0x%x", h.Sum(nil))
}

// revertError maps a contract revert reason to a typed error. Unknown
// reasons come back as a generic revert, which the pipeline treats as a
// transient commit failure.
func revertError(reason string) error {
	switch reason {
	case "CID already exists":
		return ErrDuplicateCID
	case "File name cannot be empty":
		return ErrEmptyFileName
	case "You don't have access to this file":
		return ErrAccessDenied
	case "You are blocked from using this contract":
		return ErrBlocked
	default:
		return fmt.Errorf("transaction reverted: %s", reason)
	}
}
