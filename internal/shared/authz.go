package shared

import "context"

// Capability enumerates the actions the core can ask an Authorizer about.
// The core never sees permission strings; mapping capabilities onto whatever
// the permission store uses is the Authorizer implementation's problem.
type Capability int

const (
	CapTransferView Capability = iota
	CapTransferCreate
	CapTransferCheck
	CapTransferSend
	CapTransferReceive
	CapTransferVerify
	CapTransferComplete
	CapTransferCancel
	CapLedgerView
	CapReconcileRun
)

// String returns a stable name for logging and audit records.
func (c Capability) String() string {
	switch c {
	case CapTransferView:
		return "transfer.view"
	case CapTransferCreate:
		return "transfer.create"
	case CapTransferCheck:
		return "transfer.check"
	case CapTransferSend:
		return "transfer.send"
	case CapTransferReceive:
		return "transfer.receive"
	case CapTransferVerify:
		return "transfer.verify"
	case CapTransferComplete:
		return "transfer.complete"
	case CapTransferCancel:
		return "transfer.cancel"
	case CapLedgerView:
		return "ledger.view"
	case CapReconcileRun:
		return "ledger.reconcile"
	default:
		return "unknown"
	}
}

// Authorizer decides whether an actor holds a capability. Injected into
// services so the core carries no compile-time permission table.
type Authorizer interface {
	Can(ctx context.Context, actor Actor, cap Capability) bool
}

// Actor is the identity the session collaborator hands us per request.
// The core trusts it as given.
type Actor struct {
	ID          int64
	BusinessID  int64
	Permissions []string
	Roles       []string
	LocationIDs []int64 // nil means unrestricted
}

// CanAccessLocation reports whether the actor may act at a location.
func (a Actor) CanAccessLocation(id int64) bool {
	if a.LocationIDs == nil {
		return true
	}
	for _, loc := range a.LocationIDs {
		if loc == id {
			return true
		}
	}
	return false
}
