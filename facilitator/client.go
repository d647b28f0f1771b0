// Package facilitator implements the HTTP client for the external
// settlement authority: verify, settle and capability discovery, with
// bounded exponential backoff against transient failures.
package facilitator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"time"

	"github.com/x402labs/paygate/logger"
	"github.com/x402labs/paygate/metrics"
	"github.com/x402labs/paygate/types"
)

// TraceHeader carries the caller-generated trace identifier that is
// echoed in logs across verify, settle and execute.
const TraceHeader = "X-Trace-ID"

// backoffBase is the initial retry interval; each attempt doubles it
// and adds random jitter bounded to the base interval.
const backoffBase = 100 * time.Millisecond

// Client is an immutable handle to one facilitator endpoint. It is
// passed explicitly into each orchestrator invocation; there is no
// process-global instance.
type Client struct {
	baseURL    string
	httpc      *http.Client
	timeout    time.Duration
	maxRetries int
	base       time.Duration
	log        logger.Logger
	rec        metrics.Recorder
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) { c.httpc = h }
}

// WithLogger sets the client logger.
func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.log = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(r metrics.Recorder) Option {
	return func(c *Client) { c.rec = r }
}

// WithBackoffBase overrides the initial retry interval.
func WithBackoffBase(d time.Duration) Option {
	return func(c *Client) { c.base = d }
}

// New builds a facilitator client from configuration. Plaintext HTTP
// endpoints are rejected here, at load time.
func New(cfg types.FacilitatorConfig, opts ...Option) (*Client, error) {
	if !strings.HasPrefix(cfg.BaseURL, "https://") {
		return nil, &types.PaymentError{
			Code:    types.CodeConfigError,
			Stage:   types.StageConfig,
			Message: "facilitator base URL must use https",
		}
	}
	c := &Client{
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		httpc:      &http.Client{},
		timeout:    cfg.Timeout(),
		maxRetries: cfg.Retries(),
		base:       backoffBase,
		log:        logger.NoopLogger{},
		rec:        metrics.NoopRecorder{},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Verify asks the facilitator to verify a payment claim.
func (c *Client) Verify(ctx context.Context, claim *types.PaymentClaim, traceID string) (*types.VerifyOutcome, error) {
	var out types.VerifyOutcome
	if err := c.post(ctx, "/verify", claim, traceID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Settle asks the facilitator to broadcast and settle a verified claim.
func (c *Client) Settle(ctx context.Context, claim *types.PaymentClaim, traceID string) (*types.SettlementOutcome, error) {
	var out types.SettlementOutcome
	if err := c.post(ctx, "/settle", claim, traceID, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Supported lists the (network, scheme) pairs and signer addresses the
// facilitator can handle.
func (c *Client) Supported(ctx context.Context) (*types.SupportedResponse, error) {
	var out types.SupportedResponse
	if err := c.do(ctx, http.MethodGet, "/supported", nil, "", &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, path string, claim *types.PaymentClaim, traceID string, out any) error {
	body := types.FacilitatorRequest{
		X402Version: types.ProtocolVersion,
		Claim:       *claim,
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return &types.PaymentError{
			Code:    types.CodeMalformedPayment,
			Stage:   stageFor(path),
			TraceID: traceID,
			Message: "failed to encode facilitator request",
		}
	}
	return c.do(ctx, http.MethodPost, path, payload, traceID, out)
}

// do runs one facilitator call with the retry policy: transient
// failures (network error, per-attempt timeout, 5xx) retry with
// exponential backoff plus jitter; structural failures (4xx, malformed
// body) are terminal. The timeout applies per attempt, not in total.
func (c *Client) do(ctx context.Context, method, path string, payload []byte, traceID string, out any) error {
	stage := stageFor(path)
	var lastErr error

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.base << (attempt - 1)
			wait := backoff + rand.N(c.base)
			select {
			case <-ctx.Done():
				return c.transient(stage, traceID, ctx.Err())
			case <-time.After(wait):
			}
		}

		retryable, err := c.attempt(ctx, method, path, payload, traceID, out)
		if err == nil {
			return nil
		}
		if !retryable {
			return err
		}
		lastErr = err
		c.log.Warn("facilitator call failed, will retry", map[string]any{
			"trace_id": traceID,
			"path":     path,
			"attempt":  attempt + 1,
			"error":    err.Error(),
		})
		c.rec.IncCounter("facilitator_retry", map[string]string{"network": path})
	}
	return c.transient(stage, traceID, lastErr)
}

// attempt performs a single HTTP exchange. The bool reports whether
// the failure is worth retrying.
func (c *Client) attempt(ctx context.Context, method, path string, payload []byte, traceID string, out any) (bool, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(attemptCtx, method, c.baseURL+path, body)
	if err != nil {
		return false, c.transient(stageFor(path), traceID, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if traceID != "" {
		req.Header.Set(TraceHeader, traceID)
	}

	start := time.Now()
	resp, err := c.httpc.Do(req)
	c.rec.ObserveLatency("facilitator"+path, time.Since(start), nil)
	if err != nil {
		return true, c.transient(stageFor(path), traceID, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 500:
		io.Copy(io.Discard, resp.Body)
		return true, c.transient(stageFor(path), traceID, fmt.Errorf("facilitator returned %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		io.Copy(io.Discard, resp.Body)
		return false, &types.PaymentError{
			Code:    types.CodeFacilitatorRejected,
			Stage:   stageFor(path),
			TraceID: traceID,
			Message: fmt.Sprintf("facilitator rejected the request (%d)", resp.StatusCode),
		}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return false, &types.PaymentError{
			Code:    types.CodeFacilitatorRejected,
			Stage:   stageFor(path),
			TraceID: traceID,
			Message: "facilitator returned a malformed response",
		}
	}
	return false, nil
}

// transient builds the retryable error surfaced to callers. The
// underlying failure (which may embed the request URL and resolver
// detail) goes to logs only; the caller-visible message stays fixed.
func (c *Client) transient(stage types.Stage, traceID string, err error) *types.PaymentError {
	if err != nil {
		c.log.Warn("facilitator call failed", map[string]any{
			"trace_id": traceID,
			"stage":    string(stage),
			"error":    err.Error(),
		})
	}
	return &types.PaymentError{
		Code:      types.CodeFacilitatorTransient,
		Stage:     stage,
		TraceID:   traceID,
		Message:   "facilitator unavailable",
		Retryable: true,
	}
}

func stageFor(path string) types.Stage {
	if path == "/settle" {
		return types.StageSettle
	}
	return types.StageVerify
}
