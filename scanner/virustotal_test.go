package scanner

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dshare-backend/models"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		summary models.ScanSummary
		want    models.ScanStatus
	}{
		{"no detections", models.ScanSummary{Harmless: 60}, models.ScanStatusClean},
		{"one suspicious", models.ScanSummary{Suspicious: 1}, models.ScanStatusSuspicious},
		{"at threshold", models.ScanSummary{Malicious: 2, Suspicious: 1}, models.ScanStatusSuspicious},
		{"above threshold", models.ScanSummary{Malicious: 4}, models.ScanStatusMalicious},
		{"combined above threshold", models.ScanSummary{Malicious: 2, Suspicious: 2}, models.ScanStatusMalicious},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.summary))
		})
	}
}

// newScanServer fakes the VirusTotal v3 API: file submission returns a job
// id, and each analysis poll replies with the next scripted status.
func newScanServer(t *testing.T, statuses []string, stats map[string]int) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var polls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/files", func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "test-key", r.Header.Get("x-apikey"))
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"id": "job-123"},
		})
	})
	mux.HandleFunc("/analyses/job-123", func(w http.ResponseWriter, r *http.Request) {
		n := int(polls.Add(1)) - 1
		status := statuses[len(statuses)-1]
		if n < len(statuses) {
			status = statuses[n]
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"attributes": map[string]any{
					"status": status,
					"stats":  stats,
				},
			},
		})
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &polls
}

func TestScanCleanAfterPending(t *testing.T) {
	srv, polls := newScanServer(t,
		[]string{"queued", "queued", "completed"},
		map[string]int{"malicious": 0, "suspicious": 0, "undetected": 5, "harmless": 60})

	c := NewVirusTotalClient(srv.URL, "test-key",
		WithPollInterval(5*time.Millisecond),
		WithBudget(2*time.Second))

	outcome, err := c.Scan(context.Background(), "report.pdf", []byte("clean bytes"))
	require.NoError(t, err)
	assert.Equal(t, models.ScanStatusClean, outcome.Status)
	assert.Equal(t, "job-123", outcome.JobID)
	assert.Equal(t, 60, outcome.Summary.Harmless)
	assert.GreaterOrEqual(t, polls.Load(), int32(3))
	assert.False(t, outcome.TimedOut())
}

func TestScanMaliciousVerdict(t *testing.T) {
	srv, _ := newScanServer(t,
		[]string{"completed"},
		map[string]int{"malicious": 4, "suspicious": 0, "undetected": 1, "harmless": 55})

	c := NewVirusTotalClient(srv.URL, "test-key",
		WithPollInterval(5*time.Millisecond),
		WithBudget(2*time.Second))

	outcome, err := c.Scan(context.Background(), "payload.exe", []byte("bad bytes"))
	require.NoError(t, err)
	assert.Equal(t, models.ScanStatusMalicious, outcome.Status)
	assert.Equal(t, 4, outcome.Summary.Malicious)
}

func TestScanBudgetExhaustedReturnsTimeout(t *testing.T) {
	srv, _ := newScanServer(t, []string{"queued"}, map[string]int{})

	c := NewVirusTotalClient(srv.URL, "test-key",
		WithPollInterval(5*time.Millisecond),
		WithBudget(40*time.Millisecond))

	outcome, err := c.Scan(context.Background(), "stuck.bin", []byte("bytes"))
	require.NoError(t, err)
	assert.Equal(t, models.ScanStatusTimeout, outcome.Status)
	assert.True(t, outcome.TimedOut())
}

func TestScanCallerCancelReturnsError(t *testing.T) {
	srv, _ := newScanServer(t, []string{"queued"}, map[string]int{})

	c := NewVirusTotalClient(srv.URL, "test-key",
		WithPollInterval(5*time.Millisecond),
		WithBudget(10*time.Second))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := c.Scan(ctx, "cancelled.bin", []byte("bytes"))
	require.ErrorIs(t, err, context.Canceled)
}

func TestScanPollFailuresRetriedWithinBudget(t *testing.T) {
	var polls atomic.Int32

	mux := http.NewServeMux()
	mux.HandleFunc("/files", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{"id": "job-123"},
		})
	})
	mux.HandleFunc("/analyses/job-123", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 3 {
			http.Error(w, "flaky", http.StatusBadGateway)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"data": map[string]any{
				"attributes": map[string]any{
					"status": "completed",
					"stats":  map[string]int{"harmless": 10},
				},
			},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c := NewVirusTotalClient(srv.URL, "test-key",
		WithPollInterval(5*time.Millisecond),
		WithBudget(5*time.Second))
	// The retryablehttp layer also retries 5xx responses, so disable its
	// own retries to exercise the poll loop's.
	c.http.RetryMax = 0

	outcome, err := c.Scan(context.Background(), "flaky.bin", []byte("bytes"))
	require.NoError(t, err)
	assert.Equal(t, models.ScanStatusClean, outcome.Status)
}

func TestScanSubmissionFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	c := NewVirusTotalClient(srv.URL, "wrong-key",
		WithPollInterval(5*time.Millisecond),
		WithBudget(time.Second))

	_, err := c.Scan(context.Background(), "x.bin", []byte("bytes"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), fmt.Sprintf("status %d", http.StatusUnauthorized))
}
