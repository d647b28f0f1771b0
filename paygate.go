// Package paygate implements a payment-gated access engine for the
// x402 protocol: a protected call is intercepted, a micropayment
// authorization is demanded and structurally validated, and settlement
// is coordinated with an external facilitator before execution is
// authorized.
package paygate

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/x402labs/paygate/extract"
	"github.com/x402labs/paygate/facilitator"
	"github.com/x402labs/paygate/logger"
	"github.com/x402labs/paygate/metrics"
	"github.com/x402labs/paygate/registry"
	"github.com/x402labs/paygate/requirement"
	"github.com/x402labs/paygate/svm"
	"github.com/x402labs/paygate/types"
)

// Engine sequences payment extraction, structural validation,
// facilitator verification and settlement for protected calls. Each
// inbound request drives its own Gate invocation; the engine holds no
// per-request mutable state and is safe for concurrent use.
type Engine struct {
	cfg     *types.Config
	reg     *registry.Registry
	builder *requirement.Builder
	fac     *facilitator.Client
	log     logger.Logger
	rec     metrics.Recorder
	now     func() time.Time
}

// RequiredError is returned when a protected call arrives without a
// payment: discoverable payment terms rather than a plain failure.
type RequiredError struct {
	Response *types.RequiredResponse
	TraceID  string
}

func (e *RequiredError) Error() string { return "payment required" }

// New builds an engine from configuration. The network policy table is
// validated here, once, and is read-only afterwards.
func New(cfg *types.Config, opts ...Option) (*Engine, error) {
	reg, err := registry.New(cfg.Networks)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:     cfg,
		reg:     reg,
		builder: requirement.NewBuilder(reg, cfg.MaxTimeoutSeconds),
		log:     logger.NoopLogger{},
		rec:     metrics.NoopRecorder{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.fac == nil {
		fac, err := facilitator.New(cfg.Facilitator,
			facilitator.WithLogger(e.log),
			facilitator.WithMetrics(e.rec),
		)
		if err != nil {
			return nil, err
		}
		e.fac = fac
	}
	return e, nil
}

// Enabled reports the runtime payment switch. The transport layer
// checks this once per request; the engine itself is always available.
func (e *Engine) Enabled() bool { return e.cfg.PaymentsEnabled }

// Registry exposes the read-only network policy table.
func (e *Engine) Registry() *registry.Registry { return e.reg }

// Requirements builds the payment-required response for a protected
// resource: one requirement per accepted asset on the chain.
func (e *Engine) Requirements(resource string, price uint64, chain registry.ChainID) (*types.RequiredResponse, error) {
	reqs, err := e.builder.Build(resource, price, chain)
	if err != nil {
		return nil, err
	}
	return &types.RequiredResponse{
		X402Version: types.ProtocolVersion,
		Accepts:     reqs,
		Resource:    resource,
		Error:       "payment required",
	}, nil
}

// Supported passes through the facilitator's capability listing.
func (e *Engine) Supported(ctx context.Context) (*types.SupportedResponse, error) {
	return e.fac.Supported(ctx)
}

// QuickCheck runs the cheap, purely local part of the pipeline —
// extraction cross-checks and structural transaction validation —
// without any facilitator I/O.
func (e *Engine) QuickCheck(claim *types.PaymentClaim, price uint64, chain registry.ChainID) *types.PaymentError {
	policy, ok := e.reg.Lookup(chain)
	if !ok {
		return &types.PaymentError{
			Code:    types.CodeUnsupportedNetwork,
			Stage:   types.StageConfig,
			Message: "network " + chain.String() + " is not configured",
		}
	}
	if perr := crossCheck(claim, price, policy); perr != nil {
		return perr
	}
	_, perr := svm.ValidateClaim(claim, policy)
	return perr
}

// Gate evaluates the payment attached to a protected call and, once
// settled, returns the receipt that authorizes execution. Every
// failure is a terminal state of the orchestrator machine; execution
// is only ever authorized from StateAuthorized.
func (e *Engine) Gate(ctx context.Context, resource string, price uint64, chain registry.ChainID, meta map[string]any) (*types.Receipt, error) {
	traceID := uuid.NewString()
	st := StateNoPayment

	claim, perr := extract.Extract(meta)
	if perr != nil {
		if errors.Is(perr, types.ErrNoPayment) {
			st = Transition(st, EventPaymentAbsent)
			resp, err := e.Requirements(resource, price, chain)
			if err != nil {
				return nil, err
			}
			e.log.Info("payment required", map[string]any{
				"trace_id": traceID,
				"resource": resource,
				"network":  chain.String(),
				"state":    st,
			})
			e.rec.IncCounter("payment_required", map[string]string{"network": chain.String()})
			return nil, &RequiredError{Response: resp, TraceID: traceID}
		}
		e.log.Warn("malformed payment claim", map[string]any{
			"trace_id": traceID,
			"error":    perr.Message,
		})
		return nil, perr.WithTrace(traceID)
	}
	st = Transition(st, EventPaymentOffered)

	policy, ok := e.reg.Lookup(chain)
	if !ok {
		return nil, (&types.PaymentError{
			Code:    types.CodeUnsupportedNetwork,
			Stage:   types.StageConfig,
			Message: "network " + chain.String() + " is not configured",
		}).WithTrace(traceID)
	}
	if perr := crossCheck(claim, price, policy); perr != nil {
		return nil, perr.WithTrace(traceID)
	}

	// A stale offer is refused before any facilitator round-trip.
	if claim.CreatedAt > 0 {
		age := e.now().Unix() - claim.CreatedAt
		if age > int64(claim.Accepted.MaxTimeoutSeconds) {
			return nil, (&types.PaymentError{
				Code:    types.CodeExpiredPayment,
				Stage:   types.StageExtract,
				Message: "payment offer has expired",
			}).WithTrace(traceID)
		}
	}

	payerHint, perr := svm.ValidateClaim(claim, policy)
	if perr != nil {
		st = Transition(st, EventStructuralFail)
		// The sub-kind goes to logs; the caller gets the code and a
		// generalized message that leaks no validation internals.
		e.log.Warn("structural validation failed", map[string]any{
			"trace_id": traceID,
			"network":  chain.String(),
			"code":     perr.Code,
			"detail":   perr.Message,
			"state":    st,
		})
		e.rec.IncCounter("structural_reject", map[string]string{"network": chain.String()})
		return nil, (&types.PaymentError{
			Code:    perr.Code,
			Stage:   types.StageStructural,
			Message: "payment transaction failed validation",
		}).WithTrace(traceID)
	}
	st = Transition(st, EventStructuralPass)

	verifyStart := e.now()
	outcome, err := e.fac.Verify(ctx, claim, traceID)
	e.rec.ObserveLatency("verify", time.Since(verifyStart), map[string]string{"network": chain.String()})
	if err != nil {
		st = Transition(st, EventVerifyFail)
		fields := map[string]any{
			"trace_id": traceID,
			"network":  chain.String(),
			"state":    st,
		}
		// A terminal facilitator answer (4xx, malformed body) is the
		// caller's problem; only a transient outage is an Error.
		var perr *types.PaymentError
		if errors.As(err, &perr) && !perr.Retryable {
			e.log.Warn("facilitator rejected verification request", fields)
		} else {
			e.log.Error("facilitator verification unavailable", fields)
		}
		return nil, err
	}
	if !outcome.IsValid {
		st = Transition(st, EventVerifyFail)
		e.log.Info("facilitator rejected payment", map[string]any{
			"trace_id": traceID,
			"network":  chain.String(),
			"reason":   outcome.Reason,
			"state":    st,
		})
		return nil, (&types.PaymentError{
			Code:    types.CodeFacilitatorRejected,
			Stage:   types.StageVerify,
			Message: outcome.Reason,
		}).WithTrace(traceID)
	}
	st = Transition(st, EventVerifyPass)

	// Settlement must run to completion even if the caller disconnects
	// after verification: a half-finished settlement must never
	// silently authorize execution, and the client bounds each attempt
	// with its own timeout.
	settled, err := e.fac.Settle(context.WithoutCancel(ctx), claim, traceID)
	if err != nil {
		st = Transition(st, EventSettleFail)
		e.log.Error("settlement failed", map[string]any{
			"trace_id": traceID,
			"network":  chain.String(),
			"state":    st,
		})
		return nil, err
	}
	if !settled.Success {
		st = Transition(st, EventSettleFail)
		e.log.Error("facilitator declined settlement", map[string]any{
			"trace_id": traceID,
			"network":  chain.String(),
			"state":    st,
		})
		return nil, (&types.PaymentError{
			Code:    types.CodeSettlementFailed,
			Stage:   types.StageSettle,
			Message: "payment settlement failed",
		}).WithTrace(traceID)
	}
	st = Transition(st, EventSettlePass)
	st = Transition(st, EventAuthorize)

	payer := settled.Payer
	if payer == "" {
		payer = outcome.Payer
	}
	if payer == "" {
		payer = payerHint
	}
	network := settled.Network
	if network == "" {
		network = chain.String()
	}

	e.log.Info("payment settled, call authorized", map[string]any{
		"trace_id":    traceID,
		"network":     network,
		"transaction": settled.Transaction,
		"payer":       payer,
		"state":       st,
	})
	e.rec.IncCounter("authorized", map[string]string{"network": network})

	return &types.Receipt{
		Transaction: settled.Transaction,
		Network:     network,
		Payer:       payer,
	}, nil
}

// crossCheck verifies the accepted requirement against the policy the
// server actually configured, so a claim cannot smuggle a cheaper
// price, a foreign recipient, or an unregistered asset.
func crossCheck(claim *types.PaymentClaim, price uint64, policy *registry.NetworkPolicy) *types.PaymentError {
	acc := &claim.Accepted
	if claim.Network != policy.ChainID.String() || acc.Network != policy.ChainID.String() {
		return types.NewMalformedError("claim network does not match the requested network")
	}
	if acc.Amount != strconv.FormatUint(price, 10) {
		return types.NewMalformedError("accepted requirement price does not match the resource price")
	}
	if acc.PayTo != policy.PayTo {
		return types.NewMalformedError("accepted requirement recipient does not match policy")
	}
	if !policy.AcceptsAsset(acc.Asset) {
		return types.NewMalformedError("accepted requirement asset is not accepted on this network")
	}
	return nil
}
