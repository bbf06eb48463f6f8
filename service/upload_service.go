package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"dshare-backend/ledger"
	"dshare-backend/models"
	"dshare-backend/scanner"
	"dshare-backend/storage"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"
)

// UploadState is the pipeline state carried through one upload request.
// Transitions are strictly forward; a request never re-enters a stage and
// does not survive a process restart mid-flight.
type UploadState string

const (
	StateReceived   UploadState = "received"
	StateScanning   UploadState = "scanning"
	StateStoring    UploadState = "storing"
	StateCommitting UploadState = "committing"
	StatePersisting UploadState = "persisting"
	StateCompleted  UploadState = "completed"
	StateRejected   UploadState = "rejected"
	StateTimedOut   UploadState = "timed_out"
	StateFailed     UploadState = "failed"
)

func terminal(s UploadState) bool {
	switch s {
	case StateCompleted, StateRejected, StateTimedOut, StateFailed:
		return true
	}
	return false
}

// FileRepository is the persist-stage collaborator.
type FileRepository interface {
	Create(ctx context.Context, file *models.File) error
}

// ScanLogRepository receives the audit record written for every scan
// attempt, whether or not the upload proceeds.
type ScanLogRepository interface {
	Create(ctx context.Context, log *models.VirusScanLog) error
}

// GranteeResolver maps grantee user ids to wallet addresses.
type GranteeResolver interface {
	WalletAddresses(ctx context.Context, ids []uuid.UUID) ([]string, error)
}

// UploadService coordinates the four-stage ingestion pipeline:
// scan, store, commit, persist. Each request runs as one sequential unit
// of work; concurrency across requests is bounded by a weighted semaphore
// sized to the number of in-flight scans the operator will pay for.
type UploadService struct {
	scanner     scanner.Scanner
	store       storage.ContentStore
	ledger      ledger.Ledger
	fileRepo    FileRepository
	scanLogRepo ScanLogRepository
	users       GranteeResolver
	sem         *semaphore.Weighted
	logger      *zap.Logger
}

// UploadServiceOption is a functional option for UploadService
type UploadServiceOption func(*UploadService)

// WithScanner sets the scan-stage collaborator
func WithScanner(s scanner.Scanner) UploadServiceOption {
	return func(svc *UploadService) {
		svc.scanner = s
	}
}

// WithContentStore sets the store-stage collaborator
func WithContentStore(s storage.ContentStore) UploadServiceOption {
	return func(svc *UploadService) {
		svc.store = s
	}
}

// WithLedger sets the commit-stage collaborator
func WithLedger(l ledger.Ledger) UploadServiceOption {
	return func(svc *UploadService) {
		svc.ledger = l
	}
}

// WithFileRepository sets the file metadata repository
func WithFileRepository(repo FileRepository) UploadServiceOption {
	return func(svc *UploadService) {
		svc.fileRepo = repo
	}
}

// WithScanLogRepository sets the scan audit repository
func WithScanLogRepository(repo ScanLogRepository) UploadServiceOption {
	return func(svc *UploadService) {
		svc.scanLogRepo = repo
	}
}

// WithGranteeResolver sets the grantee id resolver
func WithGranteeResolver(r GranteeResolver) UploadServiceOption {
	return func(svc *UploadService) {
		svc.users = r
	}
}

// WithMaxConcurrent bounds the number of in-flight uploads
func WithMaxConcurrent(n int64) UploadServiceOption {
	return func(svc *UploadService) {
		svc.sem = semaphore.NewWeighted(n)
	}
}

// WithUploadLogger sets the logger
func WithUploadLogger(l *zap.Logger) UploadServiceOption {
	return func(svc *UploadService) {
		svc.logger = l
	}
}

// NewUploadService creates a new upload service
func NewUploadService(opts ...UploadServiceOption) *UploadService {
	svc := &UploadService{
		sem:    semaphore.NewWeighted(4),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// UploadRequest represents one upload submission.
type UploadRequest struct {
	Data         []byte
	OriginalName string
	MimeType     string
	Size         int64

	Filename    string
	Description string
	Visibility  string
	SharedWith  []string // grantee user ids or wallet addresses

	Username      string
	WalletAddress string
}

// UploadResult represents the terminal outcome of the pipeline. It is
// populated even for rejected, timed-out and persist-failed requests so
// the gateway can report the scan verdict and known identifiers.
type UploadResult struct {
	State         UploadState
	ScanStatus    models.ScanStatus
	Summary       models.ScanSummary
	CID           string
	FileHash      string
	TxHash        string
	File          *models.File
	CorrelationID string
}

// flow is the mutable state threaded through the stage functions.
type flow struct {
	req      *UploadRequest
	state    UploadState
	corrID   string
	vis      models.Visibility
	grantees []string
	outcome  *scanner.Outcome
	content  *storage.ContentRecord
	commit   *ledger.CommitRecord
	file     *models.File
}

// Upload runs the pipeline for one request. A non-nil result accompanies
// stage errors where the terminal state is meaningful to the caller
// (rejection, timeout, persist failure).
func (s *UploadService) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	corrID := uuid.New().String()
	log := s.logger.With(
		zap.String("correlation_id", corrID),
		zap.String("filename", req.Filename),
		zap.String("uploader", req.WalletAddress))

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer s.sem.Release(1)

	f := &flow{req: &req, state: StateReceived, corrID: corrID}

	var stageErr error
	for !terminal(f.state) {
		next, err := s.advance(ctx, log, f)
		if err != nil {
			stageErr = err
			if !terminal(next) {
				next = StateFailed
			}
		}
		log.Info("pipeline transition",
			zap.String("from", string(f.state)),
			zap.String("to", string(next)))
		f.state = next
	}

	return f.result(), stageErr
}

// advance runs the stage for the current state and returns the next one.
// This is the pipeline's transition table.
func (s *UploadService) advance(ctx context.Context, log *zap.Logger, f *flow) (UploadState, error) {
	switch f.state {
	case StateReceived:
		return s.validate(ctx, f)
	case StateScanning:
		return s.scan(ctx, log, f)
	case StateStoring:
		return s.storeContent(ctx, f)
	case StateCommitting:
		return s.commitLedger(ctx, f)
	case StatePersisting:
		return s.persist(ctx, f)
	default:
		return StateFailed, &StageError{Stage: StageValidate, CorrelationID: f.corrID,
			Err: fmt.Errorf("unexpected pipeline state %q", f.state)}
	}
}

// validate rejects caller errors before any external call is made.
func (s *UploadService) validate(ctx context.Context, f *flow) (UploadState, error) {
	req := f.req
	fail := func(err error) (UploadState, error) {
		return StateFailed, &StageError{Stage: StageValidate, CorrelationID: f.corrID,
			Err: fmt.Errorf("%w: %v", ErrValidation, err)}
	}

	if len(req.Data) == 0 {
		return fail(errors.New("file is required"))
	}
	if strings.TrimSpace(req.Filename) == "" {
		return fail(errors.New("filename is required"))
	}
	if req.Username == "" || req.WalletAddress == "" {
		return fail(errors.New("username and wallet_address are required"))
	}

	vis, err := models.ParseVisibility(req.Visibility)
	if err != nil {
		return fail(err)
	}
	f.vis = vis

	if vis == models.VisibilityShared {
		grantees, err := s.resolveGrantees(ctx, req.SharedWith)
		if err != nil {
			return fail(err)
		}
		f.grantees = grantees
	}

	return StateScanning, nil
}

// scan submits the payload and waits for a verdict. Every attempt is
// audited, including rejections and timeouts; the audit row survives any
// later stage failure.
func (s *UploadService) scan(ctx context.Context, log *zap.Logger, f *flow) (UploadState, error) {
	outcome, err := s.scanner.Scan(ctx, f.req.OriginalName, f.req.Data)
	if err != nil {
		return StateFailed, &StageError{Stage: StageScan, CorrelationID: f.corrID, Err: err}
	}
	f.outcome = outcome

	s.audit(ctx, log, f)

	switch outcome.Status {
	case models.ScanStatusTimeout:
		return StateTimedOut, &StageError{Stage: StageScan, CorrelationID: f.corrID, Err: ErrScanTimeout}
	case models.ScanStatusMalicious:
		return StateRejected, &StageError{Stage: StageScan, CorrelationID: f.corrID, Err: ErrScanRejected}
	default:
		return StateStoring, nil
	}
}

func (s *UploadService) storeContent(ctx context.Context, f *flow) (UploadState, error) {
	rec, err := s.store.Add(ctx, f.req.OriginalName, f.req.Data)
	if err != nil {
		return StateFailed, &StageError{Stage: StageStore, CorrelationID: f.corrID,
			Err: fmt.Errorf("%w: %v", ErrStoreFailed, err)}
	}
	f.content = rec
	return StateCommitting, nil
}

func (s *UploadService) commitLedger(ctx context.Context, f *flow) (UploadState, error) {
	commit, err := s.ledger.UploadFile(ctx, ledger.UploadTx{
		FileName:   f.req.Filename,
		Author:     f.req.Username,
		FileType:   f.req.MimeType,
		FileSize:   f.req.Size,
		CID:        f.content.CID,
		Access:     f.vis.AccessCode(),
		SharedWith: f.grantees,
		Uploader:   strings.ToLower(f.req.WalletAddress),
	})
	if err != nil {
		// Pinned content stays in place: it is content addressed and a
		// retried submission with the same bytes reuses it.
		wrapped := err
		switch {
		case errors.Is(err, ledger.ErrDuplicateCID), errors.Is(err, ledger.ErrEmptyFileName):
			// Caller-fixable, surfaced as validation; never retried.
		case errors.Is(err, ledger.ErrMissingUploadEvent):
			wrapped = fmt.Errorf("%w: %v", ErrCommitInconsistent, err)
		default:
			wrapped = fmt.Errorf("%w: %v", ErrCommitFailed, err)
		}
		return StateFailed, &StageError{Stage: StageCommit, CorrelationID: f.corrID, Err: wrapped}
	}
	f.commit = commit
	return StatePersisting, nil
}

func (s *UploadService) persist(ctx context.Context, f *flow) (UploadState, error) {
	file := &models.File{
		Filename:     f.req.Filename,
		Owner:        f.req.Username,
		OwnerAddress: strings.ToLower(f.req.WalletAddress),
		Description:  f.req.Description,
		Visibility:   f.vis,
		SharedWith:   f.grantees,
		CID:          f.content.CID,
		FileHash:     f.commit.FileHash,
		Size:         f.req.Size,
		MimeType:     f.req.MimeType,
		ScanStatus:   f.outcome.Status,
	}

	if err := s.fileRepo.Create(ctx, file); err != nil {
		return StateFailed, &StageError{Stage: StagePersist, CorrelationID: f.corrID,
			Err: &PersistError{FileHash: f.commit.FileHash, CID: f.content.CID,
				Err: fmt.Errorf("%w: %v", ErrPersistFailed, err)}}
	}
	f.file = file
	return StateCompleted, nil
}

// audit writes the scan record. A failed write is logged but does not
// stop the pipeline; the audit trail is best effort, never a gate.
func (s *UploadService) audit(ctx context.Context, log *zap.Logger, f *flow) {
	entry := &models.VirusScanLog{
		Username:      f.req.Username,
		WalletAddress: strings.ToLower(f.req.WalletAddress),
		Filename:      f.req.OriginalName,
		Description:   f.req.Description,
		Status:        f.outcome.Status,
		Summary:       f.outcome.Summary,
	}
	if err := s.scanLogRepo.Create(ctx, entry); err != nil {
		log.Error("failed to write scan audit record", zap.Error(err))
	}
}

// resolveGrantees turns the request's grantee list into lowercase wallet
// addresses. Entries already shaped like addresses pass through; the rest
// are treated as user ids and resolved against the user store.
func (s *UploadService) resolveGrantees(ctx context.Context, entries []string) ([]string, error) {
	if len(entries) == 0 {
		return nil, errors.New("shared visibility requires at least one grantee")
	}

	var addresses []string
	var ids []uuid.UUID
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.HasPrefix(e, "0x") {
			addresses = append(addresses, strings.ToLower(e))
			continue
		}
		id, err := uuid.Parse(e)
		if err != nil {
			return nil, fmt.Errorf("invalid grantee %q: not a wallet address or user id", e)
		}
		ids = append(ids, id)
	}

	if len(ids) > 0 {
		if s.users == nil {
			return nil, errors.New("grantee resolution is not configured")
		}
		resolved, err := s.users.WalletAddresses(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve grantees: %v", err)
		}
		if len(resolved) != len(ids) {
			return nil, errors.New("one or more grantees do not exist")
		}
		for _, a := range resolved {
			addresses = append(addresses, strings.ToLower(a))
		}
	}

	if len(addresses) == 0 {
		return nil, errors.New("shared visibility requires at least one grantee")
	}
	return addresses, nil
}

func (f *flow) result() *UploadResult {
	res := &UploadResult{
		State:         f.state,
		CorrelationID: f.corrID,
		File:          f.file,
	}
	if f.outcome != nil {
		res.ScanStatus = f.outcome.Status
		res.Summary = f.outcome.Summary
	}
	if f.content != nil {
		res.CID = f.content.CID
	}
	if f.commit != nil {
		res.FileHash = f.commit.FileHash
		res.TxHash = f.commit.TxHash
	}
	return res
}

// ReindexRequest asks for the persist stage to be retried for a file that
// is already confirmed on the ledger.
type ReindexRequest struct {
	FileHash      string
	Caller        string
	Description   string
	Username      string
	WalletAddress string
}

// ReindexResult represents the re-created metadata record.
type ReindexResult struct {
	File *models.File
}

// Reindex rebuilds the local metadata row from the on-ledger record,
// recovering from a persist failure without re-running scan, store or
// commit.
func (s *UploadService) Reindex(ctx context.Context, req ReindexRequest) (*ReindexResult, error) {
	record, err := s.ledger.GetFile(ctx, req.FileHash, req.Caller)
	if err != nil {
		return nil, err
	}

	vis := models.VisibilityPrivate
	switch record.Access {
	case 1:
		vis = models.VisibilityPublic
	case 2:
		vis = models.VisibilityShared
	}

	file := &models.File{
		Filename:     record.FileName,
		Owner:        record.Author,
		OwnerAddress: strings.ToLower(record.Uploader),
		Description:  req.Description,
		Visibility:   vis,
		SharedWith:   record.SharedWith,
		CID:          record.CID,
		FileHash:     req.FileHash,
		Size:         record.FileSize,
		MimeType:     record.FileType,
		ScanStatus:   models.ScanStatusClean,
	}
	if err := s.fileRepo.Create(ctx, file); err != nil {
		return nil, &PersistError{FileHash: req.FileHash, CID: record.CID,
			Err: fmt.Errorf("%w: %v", ErrPersistFailed, err)}
	}
	return &ReindexResult{File: file}, nil
}
