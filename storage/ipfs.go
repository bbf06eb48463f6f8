package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// IPFSStore implements ContentStore against one or more IPFS HTTP API
// nodes. The first node is the primary; the rest are fallbacks tried in
// order after a cheap liveness probe.
type IPFSStore struct {
	nodes  []string
	http   *retryablehttp.Client
	probe  *http.Client
	logger *zap.Logger
}

// NewIPFSStore creates an IPFS-backed content store.
func NewIPFSStore(nodes []string, logger *zap.Logger) (*IPFSStore, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("at least one IPFS node is required")
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 2
	rc.Logger = nil

	return &IPFSStore{
		nodes:  nodes,
		http:   rc,
		probe:  &http.Client{Timeout: 2 * time.Second},
		logger: logger,
	}, nil
}

type addResponse struct {
	Name string `json:"Name"`
	Hash string `json:"Hash"`
	Size string `json:"Size"`
}

// Add pins the content on the first reachable node and returns its cid.
// The IPFS cid is a pure function of the bytes, so re-adding identical
// content is a no-op on the node side.
func (s *IPFSStore) Add(ctx context.Context, filename string, data []byte) (*ContentRecord, error) {
	var lastErr error
	for i, node := range s.nodes {
		if i > 0 && !s.isNodeOnline(ctx, node) {
			s.logger.Warn("ipfs node offline, skipping", zap.String("node", node))
			continue
		}

		rec, err := s.addToNode(ctx, node, filename, data)
		if err != nil {
			s.logger.Warn("ipfs add failed",
				zap.String("node", node),
				zap.Error(err))
			lastErr = err
			continue
		}
		s.logger.Info("content pinned",
			zap.String("node", node),
			zap.String("cid", rec.CID))
		return rec, nil
	}
	return nil, fmt.Errorf("all IPFS nodes failed: %w", lastErr)
}

// Get streams content back from the first node that can serve it.
func (s *IPFSStore) Get(ctx context.Context, cid string) (io.ReadCloser, error) {
	var lastErr error
	for _, node := range s.nodes {
		req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, node+"/api/v0/cat?arg="+cid, nil)
		if err != nil {
			return nil, err
		}
		resp, err := s.http.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			lastErr = fmt.Errorf("node %s returned status %d", node, resp.StatusCode)
			continue
		}
		return resp.Body, nil
	}
	return nil, fmt.Errorf("content %s unavailable: %w", cid, lastErr)
}

func (s *IPFSStore) addToNode(ctx context.Context, node, filename string, data []byte) (*ContentRecord, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, err
	}
	if _, err := part.Write(data); err != nil {
		return nil, err
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, node+"/api/v0/add?pin=true", body.Bytes())
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := s.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("add returned status %d", resp.StatusCode)
	}

	var ar addResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return nil, err
	}
	if ar.Hash == "" {
		return nil, fmt.Errorf("node returned no cid")
	}
	return &ContentRecord{CID: ar.Hash, Size: int64(len(data))}, nil
}

// isNodeOnline probes a fallback node before committing an upload to it.
func (s *IPFSStore) isNodeOnline(ctx context.Context, node string) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, node+"/api/v0/version", nil)
	if err != nil {
		return false
	}
	resp, err := s.probe.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
