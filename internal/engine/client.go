package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/Aidin1998/tickex/internal/orderbook"
	"github.com/Aidin1998/tickex/pkg/errors"
)

// Client calls a remote engine. Any failure that leaves the outcome unknown
// (transport error, timeout, 5xx, unreadable body) is reported as
// ENGINE_INDETERMINATE; a 4xx means the engine refused the request outright.
type Client struct {
	baseURL string
	http    *http.Client
	logger  *zap.Logger
}

// NewClient returns a client with a per-request timeout.
func NewClient(baseURL string, timeout time.Duration, logger *zap.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (c *Client) Submit(ctx context.Context, req *SubmitOrderRequest) (*SubmitOrderResponse, error) {
	var resp SubmitOrderResponse
	if err := c.do(ctx, http.MethodPost, "/api/v1/market/order", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) Cancel(ctx context.Context, req *CancelOrderRequest) (*CancelOrderResponse, error) {
	var resp CancelOrderResponse
	if err := c.do(ctx, http.MethodDelete, "/api/v1/market/order", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) OrderBook(ctx context.Context, instrumentID int64) (*orderbook.Snapshot, error) {
	var snap orderbook.Snapshot
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/api/v1/market/orderbook/%d", instrumentID), nil, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return errors.Internal.Wrap(fmt.Errorf("failed to encode engine request: %w", err))
		}
		reader = bytes.NewReader(payload)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return errors.Internal.Wrap(err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	res, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Warn("Engine unreachable", zap.String("method", method), zap.String("path", path), zap.Error(err))
		return errors.EngineUnknown.Wrap(err)
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return errors.EngineUnknown.Wrap(fmt.Errorf("failed to read engine response: %w", err))
	}

	switch {
	case res.StatusCode >= http.StatusInternalServerError:
		return errors.EngineUnknown.Wrap(fmt.Errorf("engine returned %d: %s", res.StatusCode, raw))
	case res.StatusCode >= http.StatusBadRequest:
		return errors.EngineRejected.Explain("engine refused request with status %d", res.StatusCode)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return errors.EngineUnknown.Wrap(fmt.Errorf("failed to decode engine response: %w", err))
	}
	return nil
}
