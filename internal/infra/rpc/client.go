// Package rpc is a trimmed single-endpoint JSON-RPC client for the one
// contract this system reads. It keeps the teacher's HTTPProvider
// request/response shape (429/5xx detection, latency accounting) but
// drops the multi-provider budget/rotation/coordinator machinery: spec
// §6 names exactly one RPC_URL, and multi-provider failover is not a
// component of this system.
package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/vietddude/roundkeeper/internal/core/errs"
	"github.com/vietddude/roundkeeper/internal/metrics"
)

// Client is a JSON-RPC 2.0 client bound to one endpoint.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

// NewClient creates a Client with a connection-pooled transport.
func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// BatchRequest is one call within a JSON-RPC batch.
type BatchRequest struct {
	Method string
	Params []any
}

// BatchResponse is one result within a JSON-RPC batch.
type BatchResponse struct {
	Result any
	Error  error
}

// Call makes a single JSON-RPC call with bounded exponential-backoff
// retry on transient failures (timeout, 429, 5xx), per §7 class 1.
func (c *Client) Call(ctx context.Context, method string, params []any) (any, error) {
	start := time.Now()
	var result any

	b := retry.WithMaxRetries(4, retry.NewExponential(100*time.Millisecond))
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		res, callErr := c.doCall(ctx, method, params)
		if callErr == nil {
			result = res
			return nil
		}
		if errors.Is(callErr, errs.ErrRPCTransient) {
			metrics.RPCErrorsTotal.WithLabelValues(method, "transient").Inc()
			return retry.RetryableError(callErr)
		}
		metrics.RPCErrorsTotal.WithLabelValues(method, "permanent").Inc()
		return callErr
	})

	metrics.RPCCallsTotal.WithLabelValues(method).Inc()
	metrics.RPCLatency.WithLabelValues(method).Observe(time.Since(start).Seconds())

	return result, err
}

func (c *Client) doCall(ctx context.Context, method string, params []any) (any, error) {
	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      1,
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errs.ErrRPCTransient, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: rate limited (429)", errs.ErrRPCTransient)
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("%w: http %d", errs.ErrRPCTransient, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", errs.ErrRPCTransient, err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: http %d: %s", errs.ErrRPCPermanent, resp.StatusCode, string(body))
	}

	var rpcResp struct {
		Result any             `json:"result"`
		Error  *map[string]any `json:"error"`
	}
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", errs.ErrRPCPermanent, err)
	}
	if rpcResp.Error != nil {
		msg := "unknown error"
		if m, ok := (*rpcResp.Error)["message"].(string); ok {
			msg = m
		}
		return nil, fmt.Errorf("%w: %s", errs.ErrRPCPermanent, msg)
	}

	return rpcResp.Result, nil
}

// BatchCall makes multiple RPC calls in one HTTP request, used by the
// harvester's header-batching step (§4.3).
func (c *Client) BatchCall(ctx context.Context, requests []BatchRequest) ([]BatchResponse, error) {
	if len(requests) == 0 {
		return nil, nil
	}

	batchReq := make([]map[string]any, len(requests))
	for i, r := range requests {
		batchReq[i] = map[string]any{
			"jsonrpc": "2.0",
			"method":  r.Method,
			"params":  r.Params,
			"id":      i + 1,
		}
	}
	jsonData, err := json.Marshal(batchReq)
	if err != nil {
		return nil, fmt.Errorf("marshal batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: batch call: %v", errs.ErrRPCTransient, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read batch response: %v", errs.ErrRPCTransient, err)
	}

	var batchResp []struct {
		Result any             `json:"result"`
		Error  *map[string]any `json:"error"`
	}
	if err := json.Unmarshal(body, &batchResp); err != nil {
		return nil, fmt.Errorf("%w: parse batch response: %v", errs.ErrRPCPermanent, err)
	}

	responses := make([]BatchResponse, len(batchResp))
	for i, r := range batchResp {
		if r.Error != nil {
			msg := "unknown error"
			if m, ok := (*r.Error)["message"].(string); ok {
				msg = m
			}
			responses[i] = BatchResponse{Error: fmt.Errorf("%w: %s", errs.ErrRPCPermanent, msg)}
			continue
		}
		responses[i] = BatchResponse{Result: r.Result}
	}

	metrics.RPCCallsTotal.WithLabelValues("batch").Inc()
	metrics.RPCLatency.WithLabelValues("batch").Observe(time.Since(start).Seconds())

	return responses, nil
}
