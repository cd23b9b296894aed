package transfer

import "github.com/doorscomputers/stockflow/internal/shared"

// rule describes one edge of the state machine: which statuses it accepts,
// which status it produces and which capability the actor needs.
type rule struct {
	from       []Status
	applied    Status
	capability shared.Capability
}

// machine is the table of legal transitions. Item-level verify edges keep
// the transfer in verifying; the verified status is derived by the service
// once every line is checked. Completion is legal from either verify state:
// uncounted lines credit their requested quantity.
var machine = map[Transition]rule{
	TransitionSubmit: {
		from:       []Status{StatusDraft},
		applied:    StatusPendingCheck,
		capability: shared.CapTransferCreate,
	},
	TransitionCheckApprove: {
		from:       []Status{StatusPendingCheck},
		applied:    StatusChecked,
		capability: shared.CapTransferCheck,
	},
	TransitionCheckReject: {
		from:       []Status{StatusPendingCheck},
		applied:    StatusDraft,
		capability: shared.CapTransferCheck,
	},
	TransitionSend: {
		from:       []Status{StatusChecked},
		applied:    StatusInTransit,
		capability: shared.CapTransferSend,
	},
	TransitionArrive: {
		from:       []Status{StatusInTransit},
		applied:    StatusArrived,
		capability: shared.CapTransferReceive,
	},
	TransitionStartVerification: {
		from:       []Status{StatusArrived},
		applied:    StatusVerifying,
		capability: shared.CapTransferVerify,
	},
	TransitionVerifyItem: {
		from:       []Status{StatusVerifying},
		applied:    StatusVerifying,
		capability: shared.CapTransferVerify,
	},
	TransitionUnverifyItem: {
		from:       []Status{StatusVerifying, StatusVerified},
		applied:    StatusVerifying,
		capability: shared.CapTransferVerify,
	},
	TransitionComplete: {
		from:       []Status{StatusVerifying, StatusVerified},
		applied:    StatusCompleted,
		capability: shared.CapTransferComplete,
	},
	TransitionCancel: {
		from:       []Status{StatusDraft, StatusPendingCheck, StatusChecked},
		applied:    StatusCancelled,
		capability: shared.CapTransferCancel,
	},
}

// Apply validates a transition against the current status and returns the
// resulting status. Terminal statuses report AlreadyProcessed rather than a
// plain transition error so retried requests can be answered idempotently.
func Apply(current Status, t Transition) (Status, error) {
	r, ok := machine[t]
	if !ok {
		return current, &InvalidTransitionError{From: current, Transition: t}
	}
	for _, from := range r.from {
		if current == from {
			return r.applied, nil
		}
	}
	if current == StatusCompleted || current == StatusCancelled {
		return current, &AlreadyProcessedError{Status: current, Transition: t}
	}
	return current, &InvalidTransitionError{From: current, Transition: t}
}

// RequiredCapability returns the capability guarding a transition.
func RequiredCapability(t Transition) (shared.Capability, bool) {
	r, ok := machine[t]
	if !ok {
		return 0, false
	}
	return r.capability, true
}
