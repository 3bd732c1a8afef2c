// Package chainsdk talks to the chain through a signing relay: a node-side
// service that holds the user's signing session, broadcasts transactions and
// reports mining results. The ABI-level encoding of calls is the relay's
// concern; this client ships {to, method, args} and classifies failures into
// the domain error kinds.
package chainsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"tracelane/pkg/domain"
)

// Client is the chain surface the transaction pipeline depends on.
type Client interface {
	// Balance returns the actor's fee-token balance.
	Balance(ctx context.Context, address string) (decimal.Decimal, error)
	// Submit asks the relay to sign and broadcast the call. It returns as
	// soon as the transaction is accepted into the pending pool. A declined
	// signing prompt surfaces as domain.ErrUserDeclinedSigning.
	Submit(ctx context.Context, from string, call domain.Call) (string, error)
	// WaitMined blocks until the transaction is mined or the context is
	// canceled. The client imposes no timeout of its own.
	WaitMined(ctx context.Context, txHash string) (*Receipt, error)
}

// Receipt is the mining outcome of a submitted transaction.
type Receipt struct {
	TxHash      string `json:"tx_hash"`
	BlockNumber int64  `json:"block_number"`
	Reverted    bool   `json:"reverted"`
	// Set when the mined transaction deployed a plugin (accepting a
	// proposal), zero otherwise.
	PluginAddress string `json:"plugin_address,omitempty"`
	ProjectID     int64  `json:"project_id,omitempty"`
}

// RelayClient is the HTTP implementation of Client.
type RelayClient struct {
	BaseURL      string
	HTTPClient   *http.Client
	PollInterval time.Duration
}

func New(baseURL string) *RelayClient {
	return &RelayClient{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		HTTPClient:   &http.Client{},
		PollInterval: 3 * time.Second,
	}
}

type balanceResponse struct {
	Address string          `json:"address"`
	Balance decimal.Decimal `json:"balance"`
}

func (c *RelayClient) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	u := fmt.Sprintf("%s/chain/accounts/%s/balance", c.BaseURL, address)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return decimal.Zero, err
	}
	out, err := doJSON[balanceResponse](c, req)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	return out.Balance, nil
}

type submitRequest struct {
	From string      `json:"from"`
	Call domain.Call `json:"call"`
}

type submitResponse struct {
	TxHash   string `json:"tx_hash"`
	Declined bool   `json:"declined"`
}

func (c *RelayClient) Submit(ctx context.Context, from string, call domain.Call) (string, error) {
	body, err := json.Marshal(submitRequest{From: from, Call: call})
	if err != nil {
		return "", err
	}
	u := c.BaseURL + "/chain/transactions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	out, err := doJSON[submitResponse](c, req)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	if out.Declined {
		return "", domain.ErrUserDeclinedSigning
	}
	return out.TxHash, nil
}

type receiptResponse struct {
	Mined   bool    `json:"mined"`
	Receipt Receipt `json:"receipt"`
}

func (c *RelayClient) WaitMined(ctx context.Context, txHash string) (*Receipt, error) {
	u := fmt.Sprintf("%s/chain/transactions/%s/receipt", c.BaseURL, txHash)
	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return nil, err
		}
		out, err := doJSON[receiptResponse](c, req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
		}
		if out.Mined {
			r := out.Receipt
			return &r, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func doJSON[T any](c *RelayClient, req *http.Request) (*T, error) {
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		var errBody map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return nil, fmt.Errorf("http %d: %v", resp.StatusCode, errBody)
	}
	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
