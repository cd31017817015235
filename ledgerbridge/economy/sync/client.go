package sync

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/emberhollow/ledgerbridge/ledgerbridge/economy"
)

// Sync response statuses as the remote reports them.
const (
	StatusSuccess        = "success"
	StatusPartialSuccess = "partial_success"
	StatusError          = "error"
)

// Adjustments carries a remote-initiated bonus alongside the balance echo.
type Adjustments struct {
	BonusCoins int64  `json:"bonus_coins"`
	Reason     string `json:"reason"`
}

// SyncResponse is the remote economy service's answer to a SyncRequest.
// Balances, when present, are remote-authoritative.
type SyncResponse struct {
	Status      string                     `json:"status"`
	Message     string                     `json:"message"`
	Balances    map[economy.Currency]int64 `json:"balances,omitempty"`
	Adjustments *Adjustments               `json:"adjustments,omitempty"`
}

// RemoteClient sends signed sync requests to the external game-world
// service.
type RemoteClient interface {
	Send(ctx context.Context, endpoint, secret string, req *SyncRequest) (*SyncResponse, error)
}

type httpRemoteClient struct {
	client *http.Client
}

func NewRemoteClient(timeout time.Duration) RemoteClient {
	return &httpRemoteClient{
		client: &http.Client{Timeout: timeout},
	}
}

const maxResponseBytes = 1 << 20

// Send signs the canonical body and posts it. Status codes map onto the
// error taxonomy: 404 means the member is not linked remotely, 423 a frozen
// remote account (both non-retryable); everything else non-2xx, and any
// transport failure, is transient.
func (c *httpRemoteClient) Send(ctx context.Context, endpoint, secret string, req *SyncRequest) (*SyncResponse, error) {
	body, err := req.CanonicalBody()
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build sync request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set(SignatureHeader, Sign(secret, body))

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, &economy.RemoteError{Retryable: true, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &economy.AuthError{Reason: "member not linked to remote economy"}
	case resp.StatusCode == http.StatusLocked:
		return nil, &economy.AuthError{Reason: "remote account frozen"}
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return nil, &economy.RemoteError{
			StatusCode: resp.StatusCode,
			Retryable:  true,
			Err:        fmt.Errorf("unexpected status %s", resp.Status),
		}
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &economy.RemoteError{StatusCode: resp.StatusCode, Retryable: true, Err: err}
	}

	var syncResp SyncResponse
	if err := json.Unmarshal(raw, &syncResp); err != nil {
		return nil, &economy.RemoteError{
			StatusCode: resp.StatusCode,
			Retryable:  false,
			Err:        fmt.Errorf("malformed sync response: %w", err),
		}
	}

	for currency := range syncResp.Balances {
		if _, err := economy.ParseCurrency(string(currency)); err != nil {
			return nil, err
		}
	}

	if syncResp.Status == StatusError {
		return nil, &economy.RemoteError{
			StatusCode: resp.StatusCode,
			Retryable:  true,
			Err:        fmt.Errorf("remote reported error: %s", syncResp.Message),
		}
	}
	return &syncResp, nil
}
