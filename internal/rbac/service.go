// Package rbac maps core capabilities onto the permission strings carried by
// the session collaborator. The core only ever sees shared.Capability; the
// string table lives here, at the edge.
package rbac

import (
	"context"

	"github.com/doorscomputers/stockflow/internal/shared"
)

// superRole short-circuits permission checks for administrative accounts.
const superRole = "admin"

// Service implements shared.Authorizer from session-supplied permissions.
type Service struct {
	grants map[shared.Capability][]string
}

// NewService builds the default capability grant table.
func NewService() *Service {
	return &Service{
		grants: map[shared.Capability][]string{
			shared.CapTransferView:     {"stock_transfer.view", "stock_transfer.manage"},
			shared.CapTransferCreate:   {"stock_transfer.create", "stock_transfer.manage"},
			shared.CapTransferCheck:    {"stock_transfer.check", "stock_transfer.manage"},
			shared.CapTransferSend:     {"stock_transfer.send", "stock_transfer.manage"},
			shared.CapTransferReceive:  {"stock_transfer.receive", "stock_transfer.manage"},
			shared.CapTransferVerify:   {"stock_transfer.verify", "stock_transfer.manage"},
			shared.CapTransferComplete: {"stock_transfer.complete", "stock_transfer.manage"},
			shared.CapTransferCancel:   {"stock_transfer.cancel", "stock_transfer.manage"},
			shared.CapLedgerView:       {"stock_ledger.view"},
			shared.CapReconcileRun:     {"stock_ledger.reconcile"},
		},
	}
}

// Can reports whether the actor holds the capability.
func (s *Service) Can(ctx context.Context, actor shared.Actor, cap shared.Capability) bool {
	if s == nil {
		return false
	}
	for _, role := range actor.Roles {
		if role == superRole {
			return true
		}
	}
	allowed := s.grants[cap]
	for _, perm := range actor.Permissions {
		for _, want := range allowed {
			if perm == want {
				return true
			}
		}
	}
	return false
}
