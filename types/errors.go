package types

import "fmt"

// Stage identifies which step of the payment pipeline produced an
// error. Logged alongside the trace id for correlation.
type Stage string

const (
	StageExtract    Stage = "extract"
	StageStructural Stage = "structural"
	StageVerify     Stage = "verify"
	StageSettle     Stage = "settle"
	StageConfig     Stage = "config"
)

// Error codes. Structural sub-kinds mirror the steps of the exact-SVM
// transaction validation; the remainder cover extraction, facilitator
// and settlement failures.
const (
	CodeNoPayment        = "no_payment"
	CodeMalformedPayment = "malformed_payment"
	CodeExpiredPayment   = "expired_payment"

	CodeMalformedTransaction = "malformed_transaction"
	CodeInstructionLayout    = "instruction_layout"
	CodeGasPriceOutOfBounds  = "gas_price_out_of_bounds"
	CodeFeePayerConflict     = "fee_payer_conflict"
	CodeDestinationMismatch  = "destination_mismatch"
	CodeAssetMismatch        = "asset_mismatch"
	CodeAmountMismatch       = "amount_mismatch"

	CodeUnsupportedNetwork   = "unsupported_network"
	CodeFacilitatorTransient = "facilitator_transient"
	CodeFacilitatorRejected  = "facilitator_rejected"
	CodeSettlementFailed     = "settlement_failed"
	CodeConfigError          = "config_error"
)

// PaymentError is the tagged error variant used throughout the engine.
// It carries a fixed set of contextual fields instead of ad hoc
// wrapped strings: the failing stage, the request trace id, and a
// machine-readable code. Message is safe to show to callers; internal
// detail (facilitator bodies, config values) never lands here.
type PaymentError struct {
	Code      string `json:"code"`
	Stage     Stage  `json:"stage"`
	TraceID   string `json:"traceId,omitempty"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
}

func (e *PaymentError) Error() string {
	if e.TraceID != "" {
		return fmt.Sprintf("%s/%s: %s (trace %s)", e.Stage, e.Code, e.Message, e.TraceID)
	}
	return fmt.Sprintf("%s/%s: %s", e.Stage, e.Code, e.Message)
}

// WithTrace returns a copy of the error tagged with the trace id.
func (e *PaymentError) WithTrace(traceID string) *PaymentError {
	clone := *e
	clone.TraceID = traceID
	return &clone
}

// ErrNoPayment is the distinguished extractor outcome for a request
// that legitimately carries no payment. Not an error in the taxonomy
// sense: it triggers requirement issuance.
var ErrNoPayment = &PaymentError{
	Code:    CodeNoPayment,
	Stage:   StageExtract,
	Message: "no payment offered",
}

// NewStructuralError builds a non-retryable structural violation.
func NewStructuralError(code, msg string) *PaymentError {
	return &PaymentError{Code: code, Stage: StageStructural, Message: msg}
}

// NewMalformedError builds a non-retryable extraction failure.
func NewMalformedError(msg string) *PaymentError {
	return &PaymentError{Code: CodeMalformedPayment, Stage: StageExtract, Message: msg}
}
