package service

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dshare-backend/ledger"
	"dshare-backend/models"
	"dshare-backend/scanner"
	"dshare-backend/storage"
)

// -------- test fakes --------

type fakeScanner struct {
	outcome *scanner.Outcome
	err     error

	calls    int
	lastName string
}

func (f *fakeScanner) Scan(ctx context.Context, filename string, data []byte) (*scanner.Outcome, error) {
	f.calls++
	f.lastName = filename
	return f.outcome, f.err
}

type fakeStore struct {
	cid string
	err error

	calls int
}

func (f *fakeStore) Add(ctx context.Context, filename string, data []byte) (*storage.ContentRecord, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &storage.ContentRecord{CID: f.cid, Size: int64(len(data))}, nil
}

func (f *fakeStore) Get(ctx context.Context, cid string) (io.ReadCloser, error) {
	return nil, errors.New("not implemented")
}

type fakeLedger struct {
	record *ledger.CommitRecord
	err    error

	getRecord *ledger.FileRecord
	getErr    error

	calls  int
	lastTx ledger.UploadTx
}

func (f *fakeLedger) UploadFile(ctx context.Context, tx ledger.UploadTx) (*ledger.CommitRecord, error) {
	f.calls++
	f.lastTx = tx
	return f.record, f.err
}

func (f *fakeLedger) GetFile(ctx context.Context, fileHash, caller string) (*ledger.FileRecord, error) {
	return f.getRecord, f.getErr
}

type fakeFileRepo struct {
	err     error
	created []*models.File
}

func (f *fakeFileRepo) Create(ctx context.Context, file *models.File) error {
	if f.err != nil {
		return f.err
	}
	f.created = append(f.created, file)
	return nil
}

type fakeScanLogRepo struct {
	err  error
	logs []*models.VirusScanLog
}

func (f *fakeScanLogRepo) Create(ctx context.Context, log *models.VirusScanLog) error {
	if f.err != nil {
		return f.err
	}
	f.logs = append(f.logs, log)
	return nil
}

type fakeUsers struct {
	addrs []string
	err   error
}

func (f *fakeUsers) WalletAddresses(ctx context.Context, ids []uuid.UUID) ([]string, error) {
	return f.addrs, f.err
}

// -------- helpers --------

func cleanOutcome() *scanner.Outcome {
	return &scanner.Outcome{
		JobID:   "job-1",
		Status:  models.ScanStatusClean,
		Summary: models.ScanSummary{Harmless: 60, Undetected: 5},
	}
}

type pipelineFixture struct {
	svc     *UploadService
	scanner *fakeScanner
	store   *fakeStore
	ledger  *fakeLedger
	files   *fakeFileRepo
	logs    *fakeScanLogRepo
	users   *fakeUsers
}

func newPipeline(t *testing.T) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		scanner: &fakeScanner{outcome: cleanOutcome()},
		store:   &fakeStore{cid: "QmFakeCID"},
		ledger: &fakeLedger{record: &ledger.CommitRecord{
			FileHash: "0xfilehash", TxHash: "0xtx", BlockNumber: 1,
		}},
		files: &fakeFileRepo{},
		logs:  &fakeScanLogRepo{},
		users: &fakeUsers{},
	}
	f.svc = NewUploadService(
		WithScanner(f.scanner),
		WithContentStore(f.store),
		WithLedger(f.ledger),
		WithFileRepository(f.files),
		WithScanLogRepository(f.logs),
		WithGranteeResolver(f.users),
		WithMaxConcurrent(2),
	)
	return f
}

func validRequest() UploadRequest {
	return UploadRequest{
		Data:          []byte("file bytes"),
		OriginalName:  "report-v2.pdf",
		MimeType:      "application/pdf",
		Size:          10,
		Filename:      "report.pdf",
		Description:   "quarterly report",
		Visibility:    "public",
		Username:      "alice",
		WalletAddress: "0x60072F6DaD6F7F7513c48b49387830a82C902D38",
	}
}

// -------- tests --------

func TestUploadCleanPublicFile(t *testing.T) {
	f := newPipeline(t)

	result, err := f.svc.Upload(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, models.ScanStatusClean, result.ScanStatus)
	assert.Equal(t, "QmFakeCID", result.CID)
	assert.Equal(t, "0xfilehash", result.FileHash)
	assert.NotEmpty(t, result.CorrelationID)

	// Ledger received the public access code and the lowercased uploader.
	assert.Equal(t, uint8(1), f.ledger.lastTx.Access)
	assert.Equal(t, "0x60072f6dad6f7f7513c48b49387830a82c902d38", f.ledger.lastTx.Uploader)

	// Metadata row exists and matches the confirmed commit.
	require.Len(t, f.files.created, 1)
	assert.Equal(t, models.VisibilityPublic, f.files.created[0].Visibility)
	assert.Equal(t, "0xfilehash", f.files.created[0].FileHash)
	assert.Equal(t, "QmFakeCID", f.files.created[0].CID)

	// One audit row with the clean verdict.
	require.Len(t, f.logs.logs, 1)
	assert.Equal(t, models.ScanStatusClean, f.logs.logs[0].Status)
}

func TestUploadMaliciousFileRejectedBeforeStore(t *testing.T) {
	f := newPipeline(t)
	f.scanner.outcome = &scanner.Outcome{
		JobID:   "job-2",
		Status:  models.ScanStatusMalicious,
		Summary: models.ScanSummary{Malicious: 4},
	}

	result, err := f.svc.Upload(context.Background(), validRequest())
	require.ErrorIs(t, err, ErrScanRejected)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageScan, stageErr.Stage)

	assert.Equal(t, StateRejected, result.State)
	assert.Equal(t, models.ScanStatusMalicious, result.ScanStatus)

	// The pipeline must stop before any downstream call.
	assert.Equal(t, 0, f.store.calls)
	assert.Equal(t, 0, f.ledger.calls)
	assert.Empty(t, f.files.created)

	// The rejection is still audited.
	require.Len(t, f.logs.logs, 1)
	assert.Equal(t, models.ScanStatusMalicious, f.logs.logs[0].Status)
	assert.Equal(t, 4, f.logs.logs[0].Summary.Malicious)
}

func TestUploadScanTimeout(t *testing.T) {
	f := newPipeline(t)
	f.scanner.outcome = &scanner.Outcome{
		JobID:  "job-3",
		Status: models.ScanStatusTimeout,
	}

	result, err := f.svc.Upload(context.Background(), validRequest())
	require.ErrorIs(t, err, ErrScanTimeout)

	assert.Equal(t, StateTimedOut, result.State)
	assert.Equal(t, 0, f.store.calls)
	assert.Equal(t, 0, f.ledger.calls)
	assert.Empty(t, f.files.created)
	require.Len(t, f.logs.logs, 1)
	assert.Equal(t, models.ScanStatusTimeout, f.logs.logs[0].Status)
}

func TestUploadSuspiciousFileProceedsFlagged(t *testing.T) {
	f := newPipeline(t)
	f.scanner.outcome = &scanner.Outcome{
		JobID:   "job-4",
		Status:  models.ScanStatusSuspicious,
		Summary: models.ScanSummary{Suspicious: 2},
	}

	result, err := f.svc.Upload(context.Background(), validRequest())
	require.NoError(t, err)

	assert.Equal(t, StateCompleted, result.State)
	assert.Equal(t, models.ScanStatusSuspicious, result.ScanStatus)
	require.Len(t, f.files.created, 1)
	assert.Equal(t, models.ScanStatusSuspicious, f.files.created[0].ScanStatus)
}

func TestUploadInvalidVisibilityRejectedBeforeExternalCalls(t *testing.T) {
	f := newPipeline(t)
	req := validRequest()
	req.Visibility = "friends-only"

	_, err := f.svc.Upload(context.Background(), req)
	require.ErrorIs(t, err, ErrValidation)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageValidate, stageErr.Stage)

	assert.Equal(t, 0, f.scanner.calls)
	assert.Equal(t, 0, f.store.calls)
	assert.Equal(t, 0, f.ledger.calls)
	assert.Empty(t, f.logs.logs)
}

func TestUploadSharedVisibilityNormalizesGrantees(t *testing.T) {
	f := newPipeline(t)
	req := validRequest()
	req.Visibility = "Shared" // case-insensitive at the boundary
	req.SharedWith = []string{
		"0x1234567890ABCDEF1234567890ABCDEF12345678",
		"0xabcdefabcdefabcdefabcdefabcdefabcdefabcd",
	}

	result, err := f.svc.Upload(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, result.State)

	assert.Equal(t, uint8(2), f.ledger.lastTx.Access)
	assert.Equal(t, []string{
		"0x1234567890abcdef1234567890abcdef12345678",
		"0xabcdefabcdefabcdefabcdefabcdefabcdefabcd",
	}, f.ledger.lastTx.SharedWith)
}

func TestUploadSharedVisibilityResolvesUserIDs(t *testing.T) {
	f := newPipeline(t)
	f.users.addrs = []string{"0xAAA111", "0xBBB222"}
	req := validRequest()
	req.Visibility = "shared"
	req.SharedWith = []string{uuid.NewString(), uuid.NewString()}

	_, err := f.svc.Upload(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, []string{"0xaaa111", "0xbbb222"}, f.ledger.lastTx.SharedWith)
}

func TestUploadSharedVisibilityRequiresGrantees(t *testing.T) {
	f := newPipeline(t)
	req := validRequest()
	req.Visibility = "shared"
	req.SharedWith = nil

	_, err := f.svc.Upload(context.Background(), req)
	require.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, 0, f.scanner.calls)
}

func TestUploadStoreFailureIsFatal(t *testing.T) {
	f := newPipeline(t)
	f.store.err = errors.New("all IPFS nodes failed")

	result, err := f.svc.Upload(context.Background(), validRequest())
	require.ErrorIs(t, err, ErrStoreFailed)

	var stageErr *StageError
	require.ErrorAs(t, err, &stageErr)
	assert.Equal(t, StageStore, stageErr.Stage)

	assert.Equal(t, StateFailed, result.State)
	assert.Equal(t, 0, f.ledger.calls)
	assert.Empty(t, f.files.created)
	// The audit row from the scan stage survives the failure.
	require.Len(t, f.logs.logs, 1)
}

func TestUploadDuplicateQuintupleNotRetried(t *testing.T) {
	f := newPipeline(t)
	f.ledger.err = ledger.ErrDuplicateCID

	_, err := f.svc.Upload(context.Background(), validRequest())
	require.ErrorIs(t, err, ledger.ErrDuplicateCID)

	assert.Equal(t, 1, f.ledger.calls)
	assert.Empty(t, f.files.created)
}

func TestUploadCommitInconsistencySurfacedDistinctly(t *testing.T) {
	f := newPipeline(t)
	f.ledger.record = nil
	f.ledger.err = ledger.ErrMissingUploadEvent

	_, err := f.svc.Upload(context.Background(), validRequest())
	require.ErrorIs(t, err, ErrCommitInconsistent)
	assert.NotErrorIs(t, err, ErrCommitFailed)
	assert.Empty(t, f.files.created)
}

func TestUploadPersistFailureCarriesKnownIdentifiers(t *testing.T) {
	f := newPipeline(t)
	f.files.err = errors.New("connection refused")

	result, err := f.svc.Upload(context.Background(), validRequest())
	require.ErrorIs(t, err, ErrPersistFailed)

	var persistErr *PersistError
	require.ErrorAs(t, err, &persistErr)
	assert.Equal(t, "0xfilehash", persistErr.FileHash)
	assert.Equal(t, "QmFakeCID", persistErr.CID)

	// Result still carries everything a retry needs.
	assert.Equal(t, "0xfilehash", result.FileHash)
	assert.Equal(t, "QmFakeCID", result.CID)
	assert.Equal(t, 1, f.store.calls)
	assert.Equal(t, 1, f.ledger.calls)
}

func TestUploadAuditFailureDoesNotStopPipeline(t *testing.T) {
	f := newPipeline(t)
	f.logs.err = errors.New("audit store down")

	result, err := f.svc.Upload(context.Background(), validRequest())
	require.NoError(t, err)
	assert.Equal(t, StateCompleted, result.State)
}

func TestReindexRebuildsRowFromLedger(t *testing.T) {
	f := newPipeline(t)
	f.ledger.getRecord = &ledger.FileRecord{
		FileName: "report.pdf",
		Author:   "alice",
		FileType: "application/pdf",
		FileSize: 10,
		CID:      "QmFakeCID",
		Access:   2,
		SharedWith: []string{
			"0x1234567890abcdef1234567890abcdef12345678",
		},
		Uploader: "0x60072F6DaD6F7F7513c48b49387830a82C902D38",
	}

	result, err := f.svc.Reindex(context.Background(), ReindexRequest{
		FileHash: "0xfilehash",
		Caller:   "0x60072f6dad6f7f7513c48b49387830a82c902d38",
	})
	require.NoError(t, err)

	assert.Equal(t, models.VisibilityShared, result.File.Visibility)
	assert.Equal(t, "0xfilehash", result.File.FileHash)
	assert.Equal(t, "0x60072f6dad6f7f7513c48b49387830a82c902d38", result.File.OwnerAddress)
	require.Len(t, f.files.created, 1)
}

func TestReindexPropagatesLedgerAccessDenied(t *testing.T) {
	f := newPipeline(t)
	f.ledger.getErr = ledger.ErrAccessDenied

	_, err := f.svc.Reindex(context.Background(), ReindexRequest{
		FileHash: "0xfilehash",
		Caller:   "0xother",
	})
	require.ErrorIs(t, err, ledger.ErrAccessDenied)
	assert.Empty(t, f.files.created)
}
