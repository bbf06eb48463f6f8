package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"
)

const eventFileUploaded = "FileUploaded"

// Client talks to the contract signer gateway over JSON. The gateway
// submits the signed transaction and responds only after the receipt is
// final, with the receipt's event log attached.
type Client struct {
	http            *retryablehttp.Client
	baseURL         string
	contractAddress string
	logger          *zap.Logger
}

// NewClient creates a ledger client for the given gateway and contract.
func NewClient(baseURL, contractAddress string, logger *zap.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.Logger = nil
	// Finality on the public testnet regularly takes tens of seconds.
	rc.HTTPClient.Timeout = 2 * time.Minute

	return &Client{
		http:            rc,
		baseURL:         strings.TrimRight(baseURL, "/"),
		contractAddress: contractAddress,
		logger:          logger,
	}
}

type receiptLog struct {
	Event string `json:"event"`
	Args  struct {
		FileHash string `json:"file_hash"`
	} `json:"args"`
}

type receiptResponse struct {
	Status      string       `json:"status"`
	TxHash      string       `json:"tx_hash"`
	BlockNumber uint64       `json:"block_number"`
	Logs        []receiptLog `json:"logs"`
}

type gatewayError struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// UploadFile submits the metadata transaction and blocks until the
// gateway reports finality. The emitted FileUploaded event carries the
// fileHash; a confirmed receipt without that event is surfaced as
// ErrMissingUploadEvent, distinct from a revert.
func (c *Client) UploadFile(ctx context.Context, tx UploadTx) (*CommitRecord, error) {
	body, err := json.Marshal(tx)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/contracts/%s/upload", c.baseURL, c.contractAddress)
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	c.logger.Info("submitting upload transaction",
		zap.String("file_name", tx.FileName),
		zap.String("cid", tx.CID),
		zap.Uint8("access", tx.Access))

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "gateway unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity {
		return nil, c.decodeRevert(resp)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	var receipt receiptResponse
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return nil, pkgerrors.Wrap(err, "malformed receipt")
	}

	for _, l := range receipt.Logs {
		if l.Event != eventFileUploaded {
			continue
		}
		expected := QuintupleHash(tx.FileName, tx.Author, tx.FileType, tx.FileSize, tx.CID)
		if !strings.EqualFold(l.Args.FileHash, expected) {
			c.logger.Warn("event fileHash differs from local quintuple digest",
				zap.String("event", l.Args.FileHash),
				zap.String("local", expected))
		}
		c.logger.Info("transaction confirmed",
			zap.String("tx_hash", receipt.TxHash),
			zap.Uint64("block", receipt.BlockNumber),
			zap.String("file_hash", l.Args.FileHash))
		return &CommitRecord{
			FileHash:    l.Args.FileHash,
			TxHash:      receipt.TxHash,
			BlockNumber: receipt.BlockNumber,
			ConfirmedAt: time.Now(),
		}, nil
	}

	c.logger.Error("FileUploaded event missing from confirmed receipt",
		zap.String("tx_hash", receipt.TxHash))
	return nil, ErrMissingUploadEvent
}

// GetFile reads a confirmed record through the contract's access checks.
func (c *Client) GetFile(ctx context.Context, fileHash, caller string) (*FileRecord, error) {
	url := fmt.Sprintf("%s/contracts/%s/files/%s?caller=%s",
		c.baseURL, c.contractAddress, fileHash, strings.ToLower(caller))
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "gateway unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnprocessableEntity || resp.StatusCode == http.StatusForbidden {
		return nil, c.decodeRevert(resp)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	var record FileRecord
	if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
		return nil, pkgerrors.Wrap(err, "malformed file record")
	}
	return &record, nil
}

// decodeRevert extracts the revert reason from a gateway error body.
func (c *Client) decodeRevert(resp *http.Response) error {
	var ge gatewayError
	if err := json.NewDecoder(resp.Body).Decode(&ge); err != nil {
		return fmt.Errorf("transaction reverted (status %d)", resp.StatusCode)
	}
	reason := ge.Reason
	if reason == "" {
		reason = strings.TrimPrefix(ge.Error, "execution reverted: ")
	}
	return revertError(reason)
}
