package models

import (
	"time"

	"github.com/google/uuid"
)

// File represents the metadata record for an uploaded file. A row exists
// only after the corresponding ledger transaction has been confirmed, so
// CID and FileHash always reference a live on-ledger record.
type File struct {
	ID           uuid.UUID  `json:"id"`
	Filename     string     `json:"filename"`
	Owner        string     `json:"owner"`
	OwnerAddress string     `json:"owner_address"`
	Description  string     `json:"description,omitempty"`
	Visibility   Visibility `json:"visibility"`
	SharedWith   []string   `json:"shared_with,omitempty"`
	CID          string     `json:"cid"`
	FileHash     string     `json:"file_hash"`
	Size         int64      `json:"size"`
	MimeType     string     `json:"mime_type"`
	ScanStatus   ScanStatus `json:"scan_status"`
	CreatedAt    time.Time  `json:"created_at"`
}
