package provenance

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"warden/core"

	"go.uber.org/zap"
)

// HTTPSubmitter anchors provenance payloads through a ledger gateway
// reachable over HTTP. The gateway returns the transaction hash and
// block number once the anchor is committed.
type HTTPSubmitter struct {
	chainID  string
	endpoint string
	apiKey   string
	client   *http.Client
	logger   *zap.SugaredLogger
}

// NewHTTPSubmitter builds a submitter for one ledger gateway.
func NewHTTPSubmitter(chainID, endpoint, apiKey string, logger *zap.SugaredLogger) *HTTPSubmitter {
	return &HTTPSubmitter{
		chainID:  chainID,
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: 30 * time.Second},
		logger:   logger,
	}
}

// Submit posts the payload and decodes the receipt. Non-2xx responses
// are returned as errors so the caller's retry policy can decide.
func (s *HTTPSubmitter) Submit(ctx context.Context, payload core.AnchorPayload) (*core.AnchorReceipt, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode anchor payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build anchor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("anchor request to chain %s failed: %w", s.chainID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("chain %s gateway returned status %d", s.chainID, resp.StatusCode)
	}

	var receipt core.AnchorReceipt
	if err := json.NewDecoder(resp.Body).Decode(&receipt); err != nil {
		return nil, fmt.Errorf("failed to decode anchor receipt: %w", err)
	}
	if receipt.TxHash == "" {
		return nil, fmt.Errorf("chain %s gateway returned an empty transaction hash", s.chainID)
	}

	s.logger.Infow("Anchor committed",
		"chain", s.chainID, "tx_hash", receipt.TxHash, "block", receipt.BlockNumber)
	return &receipt, nil
}
