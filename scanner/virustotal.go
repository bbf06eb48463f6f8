package scanner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	pkgerrors "github.com/pkg/errors"
	"go.uber.org/zap"

	"dshare-backend/models"
)

const analysisCompleted = "completed"

// VirusTotalClient talks to a VirusTotal v3 compatible API. Submission
// returns an analysis id; the report is then polled at a fixed interval
// until it completes or the budget measured from submission runs out.
type VirusTotalClient struct {
	http         *retryablehttp.Client
	baseURL      string
	apiKey       string
	pollInterval time.Duration
	budget       time.Duration
	logger       *zap.Logger
}

// VirusTotalOption is a functional option for VirusTotalClient.
type VirusTotalOption func(*VirusTotalClient)

// WithPollInterval overrides the default 10s poll interval.
func WithPollInterval(d time.Duration) VirusTotalOption {
	return func(c *VirusTotalClient) {
		c.pollInterval = d
	}
}

// WithBudget overrides the default 5m scan budget.
func WithBudget(d time.Duration) VirusTotalOption {
	return func(c *VirusTotalClient) {
		c.budget = d
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) VirusTotalOption {
	return func(c *VirusTotalClient) {
		c.logger = l
	}
}

// NewVirusTotalClient creates a scan client for the given API base URL
// (e.g. "https://www.virustotal.com/api/v3").
func NewVirusTotalClient(baseURL, apiKey string, opts ...VirusTotalOption) *VirusTotalClient {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil

	c := &VirusTotalClient{
		http:         rc,
		baseURL:      baseURL,
		apiKey:       apiKey,
		pollInterval: 10 * time.Second,
		budget:       5 * time.Minute,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type submitResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

type analysisResponse struct {
	Data struct {
		Attributes struct {
			Status string `json:"status"`
			Stats  struct {
				Malicious  int `json:"malicious"`
				Suspicious int `json:"suspicious"`
				Undetected int `json:"undetected"`
				Harmless   int `json:"harmless"`
			} `json:"stats"`
		} `json:"attributes"`
	} `json:"data"`
}

// Scan submits the payload and polls until the analysis completes or the
// wall-clock budget elapses. The budget is measured from submission, not
// from the first poll. Cancelling ctx aborts the wait and returns the
// context error; budget exhaustion instead returns a TIMEOUT outcome.
func (c *VirusTotalClient) Scan(ctx context.Context, filename string, data []byte) (*Outcome, error) {
	submittedAt := time.Now()
	budgetCtx, cancel := context.WithDeadline(ctx, submittedAt.Add(c.budget))
	defer cancel()

	jobID, err := c.submit(budgetCtx, filename, data)
	if err != nil {
		return nil, pkgerrors.Wrap(err, "scan submission failed")
	}
	c.logger.Info("file submitted for analysis",
		zap.String("job_id", jobID),
		zap.String("filename", filename),
		zap.Int("size", len(data)))

	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-budgetCtx.Done():
			if ctx.Err() != nil {
				// Caller disconnect or shutdown, not budget exhaustion.
				return nil, ctx.Err()
			}
			c.logger.Warn("scan budget exhausted",
				zap.String("job_id", jobID),
				zap.Duration("budget", c.budget))
			return &Outcome{
				JobID:       jobID,
				Status:      models.ScanStatusTimeout,
				SubmittedAt: submittedAt,
				CompletedAt: time.Now(),
			}, nil
		case <-ticker.C:
			report, err := c.analysis(budgetCtx, jobID)
			if err != nil {
				if budgetCtx.Err() != nil {
					continue // deadline fires on the next select
				}
				// Poll failures are retried until the budget runs out.
				c.logger.Warn("poll failed, retrying",
					zap.String("job_id", jobID),
					zap.Error(err))
				continue
			}
			if report.Data.Attributes.Status != analysisCompleted {
				continue
			}

			summary := models.ScanSummary{
				Malicious:  report.Data.Attributes.Stats.Malicious,
				Suspicious: report.Data.Attributes.Stats.Suspicious,
				Undetected: report.Data.Attributes.Stats.Undetected,
				Harmless:   report.Data.Attributes.Stats.Harmless,
			}
			outcome := &Outcome{
				JobID:       jobID,
				Status:      Classify(summary),
				Summary:     summary,
				SubmittedAt: submittedAt,
				CompletedAt: time.Now(),
			}
			c.logger.Info("analysis completed",
				zap.String("job_id", jobID),
				zap.String("status", string(outcome.Status)),
				zap.Int("malicious", summary.Malicious),
				zap.Int("suspicious", summary.Suspicious))
			return outcome, nil
		}
	}
}

// submit uploads the payload and returns the analysis job id.
func (c *VirusTotalClient) submit(ctx context.Context, filename string, data []byte) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(data); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", body.Bytes())
	if err != nil {
		return "", err
	}
	req.Header.Set("x-apikey", c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("scan service returned status %d", resp.StatusCode)
	}

	var sr submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return "", err
	}
	if sr.Data.ID == "" {
		return "", fmt.Errorf("scan service returned no analysis id")
	}
	return sr.Data.ID, nil
}

// analysis fetches the current report for a job.
func (c *VirusTotalClient) analysis(ctx context.Context, jobID string) (*analysisResponse, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/analyses/"+jobID, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-apikey", c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("analysis endpoint returned status %d", resp.StatusCode)
	}

	var ar analysisResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return nil, err
	}
	return &ar, nil
}
