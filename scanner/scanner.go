// Package scanner submits upload payloads to an external malware-scanning
// service and waits for a verdict inside a fixed wall-clock budget.
package scanner

import (
	"context"
	"time"

	"dshare-backend/models"
)

// detectionThreshold is the number of combined malicious+suspicious engine
// hits above which a file is rejected outright.
const detectionThreshold = 3

// Outcome is the terminal result of one scan attempt. A timed-out scan is
// a valid outcome, not an error: the pipeline treats it as a distinct
// terminal state.
type Outcome struct {
	JobID       string
	Status      models.ScanStatus
	Summary     models.ScanSummary
	SubmittedAt time.Time
	CompletedAt time.Time
}

// TimedOut reports whether the scan exhausted its wall-clock budget before
// the analysis completed.
func (o *Outcome) TimedOut() bool {
	return o.Status == models.ScanStatusTimeout
}

// Scanner is the scan-stage collaborator consumed by the upload pipeline.
type Scanner interface {
	Scan(ctx context.Context, filename string, data []byte) (*Outcome, error)
}

// Classify maps detection counts to a verdict: more than detectionThreshold
// combined hits is malicious, zero hits is clean, anything in between is
// suspicious but allowed to proceed.
func Classify(s models.ScanSummary) models.ScanStatus {
	detected := s.Malicious + s.Suspicious
	switch {
	case detected > detectionThreshold:
		return models.ScanStatusMalicious
	case detected == 0:
		return models.ScanStatusClean
	default:
		return models.ScanStatusSuspicious
	}
}
