package models

import (
	"time"

	"github.com/google/uuid"
)

// ScanStatus is the verdict recorded for a scan attempt.
type ScanStatus string

const (
	ScanStatusClean      ScanStatus = "CLEAN"
	ScanStatusSuspicious ScanStatus = "SUSPICIOUS"
	ScanStatusMalicious  ScanStatus = "MALICIOUS"
	ScanStatusTimeout    ScanStatus = "TIMEOUT"
)

// ScanSummary holds the detection counts from a completed analysis report.
type ScanSummary struct {
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
	Undetected int `json:"undetected"`
	Harmless   int `json:"harmless"`
}

// VirusScanLog is the audit record written for every scan attempt,
// including uploads that are ultimately rejected or time out. Rows are
// never deleted or rolled back by later pipeline stages.
type VirusScanLog struct {
	ID            uuid.UUID   `json:"id"`
	Username      string      `json:"username"`
	WalletAddress string      `json:"wallet_address"`
	Filename      string      `json:"filename"`
	Description   string      `json:"description,omitempty"`
	Status        ScanStatus  `json:"status"`
	Summary       ScanSummary `json:"summary"`
	CreatedAt     time.Time   `json:"created_at"`
}

// UploadsSummary is one row of the per-user scan report aggregation.
type UploadsSummary struct {
	Username             string `json:"username"`
	MaliciousUploadCount int    `json:"malicious_upload_count"`
	CleanUploadCount     int    `json:"clean_upload_count"`
}
