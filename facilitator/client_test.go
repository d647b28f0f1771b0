package facilitator

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/x402labs/paygate/types"
)

func testClaim() *types.PaymentClaim {
	return &types.PaymentClaim{
		X402Version: types.ProtocolVersion,
		Scheme:      types.SchemeExact,
		Network:     "solana:test",
		Accepted: types.PaymentRequirement{
			Scheme:            types.SchemeExact,
			Network:           "solana:test",
			Amount:            "10000",
			Asset:             "4zMMC9srt5Ri5X14GAgXhaHii3GnPAEERYPJgZJDncDU",
			PayTo:             "AejHuZdNpDUiAiwuV2NKXz8K6eLzChYGpTcxptinWbar",
			MaxTimeoutSeconds: 60,
		},
		Payload: "AQAB",
	}
}

func retryBudget(n int) *int { return &n }

func newClient(t *testing.T, srv *httptest.Server, maxRetries int) *Client {
	t.Helper()
	c, err := New(types.FacilitatorConfig{
		BaseURL:        srv.URL,
		TimeoutSeconds: 5,
		MaxRetries:     retryBudget(maxRetries),
	},
		WithHTTPClient(srv.Client()),
		WithBackoffBase(time.Millisecond),
	)
	require.NoError(t, err)
	return c
}

func TestNewRejectsPlaintextHTTP(t *testing.T) {
	_, err := New(types.FacilitatorConfig{BaseURL: "http://facilitator.example"})
	require.Error(t, err)

	var perr *types.PaymentError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, types.CodeConfigError, perr.Code)
}

func TestVerifySuccess(t *testing.T) {
	var gotTrace atomic.Value
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/verify", r.URL.Path)
		gotTrace.Store(r.Header.Get(TraceHeader))

		var req types.FacilitatorRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, types.ProtocolVersion, req.X402Version)
		assert.Equal(t, "10000", req.Claim.Accepted.Amount)

		json.NewEncoder(w).Encode(types.VerifyOutcome{IsValid: true, Payer: "payer-key"})
	}))
	defer srv.Close()

	c := newClient(t, srv, 3)
	out, err := c.Verify(context.Background(), testClaim(), "trace-123")
	require.NoError(t, err)
	assert.True(t, out.IsValid)
	assert.Equal(t, "payer-key", out.Payer)
	assert.Equal(t, "trace-123", gotTrace.Load())
}

func TestSettleSuccess(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/settle", r.URL.Path)
		json.NewEncoder(w).Encode(types.SettlementOutcome{
			Success:     true,
			Transaction: "5sig",
			Network:     "solana:test",
			Payer:       "payer-key",
		})
	}))
	defer srv.Close()

	c := newClient(t, srv, 3)
	out, err := c.Settle(context.Background(), testClaim(), "trace-123")
	require.NoError(t, err)
	assert.True(t, out.Success)
	assert.Equal(t, "5sig", out.Transaction)
}

func TestSupported(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/supported", r.URL.Path)
		json.NewEncoder(w).Encode(types.SupportedResponse{
			Kinds:   []types.SupportedKind{{X402Version: 1, Scheme: "exact", Network: "solana:test"}},
			Signers: []string{"facilitator-signer"},
		})
	}))
	defer srv.Close()

	c := newClient(t, srv, 0)
	out, err := c.Supported(context.Background())
	require.NoError(t, err)
	require.Len(t, out.Kinds, 1)
	assert.Equal(t, "exact", out.Kinds[0].Scheme)
}

// 5xx responses are retried until the budget runs out.
func TestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(types.VerifyOutcome{IsValid: true})
	}))
	defer srv.Close()

	c := newClient(t, srv, 3)
	out, err := c.Verify(context.Background(), testClaim(), "t")
	require.NoError(t, err)
	assert.True(t, out.IsValid)
	assert.Equal(t, int32(3), calls.Load())
}

func TestRetriesExhaust(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newClient(t, srv, 3)
	_, err := c.Verify(context.Background(), testClaim(), "t")
	require.Error(t, err)

	var perr *types.PaymentError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, types.CodeFacilitatorTransient, perr.Code)
	assert.True(t, perr.Retryable)
	assert.Equal(t, "t", perr.TraceID)
	// Initial attempt plus three retries.
	assert.Equal(t, int32(4), calls.Load())
}

// 4xx responses are structural failures: no retry, immediate error.
func TestClientErrorsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "bad request", http.StatusBadRequest)
	}))
	defer srv.Close()

	c := newClient(t, srv, 3)
	_, err := c.Verify(context.Background(), testClaim(), "t")
	require.Error(t, err)

	var perr *types.PaymentError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, types.CodeFacilitatorRejected, perr.Code)
	assert.False(t, perr.Retryable)
	assert.Equal(t, int32(1), calls.Load())
}

func TestMalformedResponseNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte("{truncated"))
	}))
	defer srv.Close()

	c := newClient(t, srv, 3)
	_, err := c.Verify(context.Background(), testClaim(), "t")
	require.Error(t, err)

	var perr *types.PaymentError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, types.CodeFacilitatorRejected, perr.Code)
	assert.Equal(t, int32(1), calls.Load())
}

// The configured endpoint never surfaces to callers: network errors
// embed the full request URL and resolver detail, which belong in logs.
func TestTransientMessageOmitsEndpoint(t *testing.T) {
	c, err := New(types.FacilitatorConfig{
		BaseURL:        "https://internal-facilitator.corp.example:4443",
		TimeoutSeconds: 1,
		MaxRetries:     retryBudget(0),
	}, WithBackoffBase(time.Millisecond))
	require.NoError(t, err)

	_, err = c.Verify(context.Background(), testClaim(), "t")
	require.Error(t, err)

	var perr *types.PaymentError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, types.CodeFacilitatorTransient, perr.Code)
	assert.Equal(t, "facilitator unavailable", perr.Message)
	assert.NotContains(t, perr.Error(), "internal-facilitator.corp.example")
}

// A zero retry budget means exactly one attempt.
func TestZeroRetryBudget(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := newClient(t, srv, 0)
	_, err := c.Verify(context.Background(), testClaim(), "t")
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestUnreachableFacilitatorIsTransient(t *testing.T) {
	c, err := New(types.FacilitatorConfig{
		BaseURL:        "https://127.0.0.1:1",
		TimeoutSeconds: 1,
		MaxRetries:     retryBudget(2),
	}, WithBackoffBase(time.Millisecond))
	require.NoError(t, err)

	_, err = c.Verify(context.Background(), testClaim(), "t")
	require.Error(t, err)

	var perr *types.PaymentError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, types.CodeFacilitatorTransient, perr.Code)
}

func TestContextCancellationStopsRetries(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c, err := New(types.FacilitatorConfig{
		BaseURL:        srv.URL,
		TimeoutSeconds: 5,
		MaxRetries:     retryBudget(5),
	},
		WithHTTPClient(srv.Client()),
		WithBackoffBase(time.Second),
	)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = c.Verify(ctx, testClaim(), "t")
	require.Error(t, err)
}
