package paygate

// State is one orchestrator state. The payment pipeline is a strict
// linear machine: structural validation precedes facilitator
// verification, which precedes settlement, which precedes execution.
type State string

const (
	StateNoPayment           State = "no_payment"
	StateRequirementIssued   State = "requirement_issued"
	StatePaymentOffered      State = "payment_offered"
	StateStructurallyValid   State = "structurally_valid"
	StateStructurallyInvalid State = "structurally_invalid"
	StateFacilitatorVerified State = "facilitator_verified"
	StateFacilitatorRejected State = "facilitator_rejected"
	StateSettled             State = "settled"
	StateSettlementFailed    State = "settlement_failed"
	StateAuthorized          State = "authorized"
)

// Event advances the orchestrator state machine.
type Event string

const (
	EventPaymentAbsent  Event = "payment_absent"
	EventPaymentOffered Event = "payment_offered"
	EventStructuralPass Event = "structural_pass"
	EventStructuralFail Event = "structural_fail"
	EventVerifyPass     Event = "verify_pass"
	EventVerifyFail     Event = "verify_fail"
	EventSettlePass     Event = "settle_pass"
	EventSettleFail     Event = "settle_fail"
	EventAuthorize      Event = "authorize"
)

// transitions is the complete legal transition table. Anything not
// listed is a no-op, which makes StateAuthorized unreachable except
// through the full pass chain.
var transitions = map[State]map[Event]State{
	StateNoPayment: {
		EventPaymentAbsent:  StateRequirementIssued,
		EventPaymentOffered: StatePaymentOffered,
	},
	StatePaymentOffered: {
		EventStructuralPass: StateStructurallyValid,
		EventStructuralFail: StateStructurallyInvalid,
	},
	StateStructurallyValid: {
		EventVerifyPass: StateFacilitatorVerified,
		EventVerifyFail: StateFacilitatorRejected,
	},
	StateFacilitatorVerified: {
		EventSettlePass: StateSettled,
		EventSettleFail: StateSettlementFailed,
	},
	StateSettled: {
		EventAuthorize: StateAuthorized,
	},
}

// Transition is the pure state transition function. It performs no
// I/O, so the machine can be tested without a network.
func Transition(s State, e Event) State {
	if next, ok := transitions[s][e]; ok {
		return next
	}
	return s
}

// Terminal reports whether no event can move the machine further.
func (s State) Terminal() bool {
	_, ok := transitions[s]
	return !ok
}
