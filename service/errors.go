package service

import (
	"errors"
	"fmt"
)

// Stage identifies the pipeline stage a failure originated from.
type Stage string

const (
	StageValidate Stage = "validate"
	StageScan     Stage = "scan"
	StageStore    Stage = "store"
	StageCommit   Stage = "commit"
	StagePersist  Stage = "persist"
)

var (
	ErrScanRejected       = errors.New("file contains malicious content")
	ErrScanTimeout        = errors.New("scan did not complete within the configured budget")
	ErrStoreFailed        = errors.New("content store failed")
	ErrCommitFailed       = errors.New("ledger commit failed")
	ErrCommitInconsistent = errors.New("ledger commit confirmed but upload event missing")
	ErrPersistFailed      = errors.New("metadata persist failed")
	ErrValidation         = errors.New("invalid upload request")
)

// StageError ties a failure to the stage that produced it and the
// correlation id of the request, so support can find the trail.
type StageError struct {
	Stage         Stage
	CorrelationID string
	Err           error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s stage: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// PersistError carries the identifiers a caller needs to retry the
// persist stage alone. The on-ledger record already exists; re-running
// scan, store or commit would only produce a duplicate rejection.
type PersistError struct {
	FileHash string
	CID      string
	Err      error
}

func (e *PersistError) Error() string {
	return fmt.Sprintf("failed to persist metadata for %s: %v", e.FileHash, e.Err)
}

func (e *PersistError) Unwrap() error {
	return e.Err
}
