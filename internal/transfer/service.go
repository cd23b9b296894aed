package transfer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/doorscomputers/stockflow/internal/ledger"
	"github.com/doorscomputers/stockflow/internal/shared"
)

// RepositoryPort abstracts transfer persistence.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, businessID, id int64) (*Transfer, error)
	List(ctx context.Context, businessID int64, req ListRequest, limit, offset int) ([]Transfer, int, error)
	NextTransferNumber(ctx context.Context, businessID int64, day time.Time) (string, error)
}

// LedgerPort appends stock movements inside the caller's transaction.
type LedgerPort interface {
	AppendTx(ctx context.Context, tx ledger.TxRepository, input ledger.AppendInput) (ledger.Entry, error)
	CheckAvailabilityTx(ctx context.Context, tx ledger.TxRepository, variationID, locationID int64, qty float64) error
}

// AuditPort records audit trail entries.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// ApprovalPort records submit/approve/reject history.
type ApprovalPort interface {
	Record(ctx context.Context, log shared.ApprovalLog) error
}

// IdempotencyPort guards the ledger-writing transitions against duplicate
// execution.
type IdempotencyPort interface {
	CheckAndInsert(ctx context.Context, key, module string) error
	Delete(ctx context.Context, key string) error
}

const (
	auditEntity     = "stock_transfer"
	approvalModule  = "stock_transfer"
	ledgerRefType   = "stock_transfer"
	idempotencyName = "stock_transfer"
)

// Service provides business logic for stock transfer operations.
type Service struct {
	repo      RepositoryPort
	ledger    LedgerPort
	authz     shared.Authorizer
	policy    *Policy
	audit     AuditPort
	approvals ApprovalPort
	idem      IdempotencyPort
	notifier  Notifier
	logger    *slog.Logger
	now       func() time.Time
}

// ServiceParams collects the service dependencies.
type ServiceParams struct {
	Repo       RepositoryPort
	Ledger     LedgerPort
	Authorizer shared.Authorizer
	Policy     *Policy
	Audit      AuditPort
	Approvals  ApprovalPort
	Idem       IdempotencyPort
	Notifier   Notifier
	Logger     *slog.Logger
	Now        func() time.Time
}

// NewService constructs a transfer service.
func NewService(p ServiceParams) *Service {
	if p.Policy == nil {
		p.Policy = NewPolicy(PolicyConfig{})
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	if p.Logger == nil {
		p.Logger = slog.Default()
	}
	return &Service{
		repo:      p.Repo,
		ledger:    p.Ledger,
		authz:     p.Authorizer,
		policy:    p.Policy,
		audit:     p.Audit,
		approvals: p.Approvals,
		idem:      p.Idem,
		notifier:  p.Notifier,
		logger:    p.Logger,
		now:       p.Now,
	}
}

func (s *Service) authorize(ctx context.Context, actor shared.Actor, c shared.Capability) error {
	if !s.authz.Can(ctx, actor, c) {
		return shared.ErrForbidden
	}
	return nil
}

// authorizeTransition looks the capability up in the machine table so the
// guard and the transition can never drift apart.
func (s *Service) authorizeTransition(ctx context.Context, actor shared.Actor, t Transition) error {
	c, ok := RequiredCapability(t)
	if !ok {
		return shared.ErrForbidden
	}
	return s.authorize(ctx, actor, c)
}

func (s *Service) recordAudit(ctx context.Context, actor shared.Actor, action string, transferID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actor.ID,
		Action:   action,
		Entity:   auditEntity,
		EntityID: fmt.Sprintf("%d", transferID),
		Meta:     meta,
		At:       s.now(),
	})
	if err != nil {
		s.logger.Warn("audit record failed", slog.String("action", action), slog.Int64("transfer_id", transferID), slog.Any("error", err))
	}
}

func (s *Service) recordApproval(ctx context.Context, actor shared.Actor, action shared.ApprovalAction, transferID int64, note string) {
	if s.approvals == nil {
		return
	}
	err := s.approvals.Record(ctx, shared.ApprovalLog{
		Module:  approvalModule,
		RefID:   transferID,
		ActorID: actor.ID,
		Action:  action,
		Note:    note,
		At:      s.now(),
	})
	if err != nil {
		s.logger.Warn("approval record failed", slog.Int64("transfer_id", transferID), slog.Any("error", err))
	}
}

// ============================================================================
// CREATE AND QUERY
// ============================================================================

// Create builds a draft transfer with its lines.
func (s *Service) Create(ctx context.Context, actor shared.Actor, req CreateRequest) (*Transfer, error) {
	if err := s.authorize(ctx, actor, shared.CapTransferCreate); err != nil {
		return nil, err
	}
	if req.FromLocationID == req.ToLocationID {
		return nil, ErrSameLocation
	}
	if len(req.Items) == 0 {
		return nil, ErrNoItems
	}
	if !actor.CanAccessLocation(req.FromLocationID) {
		return nil, ErrLocationAccess
	}

	transferNo, err := s.repo.NextTransferNumber(ctx, actor.BusinessID, s.now())
	if err != nil {
		return nil, err
	}

	var transferID int64
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		id, err := tx.Insert(ctx, Transfer{
			BusinessID:     actor.BusinessID,
			TransferNo:     transferNo,
			FromLocationID: req.FromLocationID,
			ToLocationID:   req.ToLocationID,
			Status:         StatusDraft,
			CreatedBy:      actor.ID,
			Notes:          req.Notes,
		})
		if err != nil {
			return fmt.Errorf("insert transfer: %w", err)
		}
		transferID = id

		items := make([]Item, 0, len(req.Items))
		for _, line := range req.Items {
			items = append(items, Item{
				ProductID:   line.ProductID,
				VariationID: line.VariationID,
				Quantity:    line.Quantity,
			})
		}
		return tx.InsertItems(ctx, transferID, items)
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actor, "transfer.create", transferID, map[string]any{
		"transfer_no": transferNo,
		"from":        req.FromLocationID,
		"to":          req.ToLocationID,
		"items":       len(req.Items),
	})
	return s.repo.Get(ctx, actor.BusinessID, transferID)
}

// Get retrieves a transfer by ID.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id int64) (*Transfer, error) {
	if err := s.authorize(ctx, actor, shared.CapTransferView); err != nil {
		return nil, err
	}
	return s.repo.Get(ctx, actor.BusinessID, id)
}

// List returns a filtered page of transfers plus the total count.
func (s *Service) List(ctx context.Context, actor shared.Actor, req ListRequest) ([]Transfer, int, error) {
	if err := s.authorize(ctx, actor, shared.CapTransferView); err != nil {
		return nil, 0, err
	}
	p := shared.NewPagination(req.Page, req.PerPage, 0)
	return s.repo.List(ctx, actor.BusinessID, req, p.PerPage, p.Offset())
}

// ============================================================================
// WORKFLOW TRANSITIONS
// ============================================================================

// SubmitForCheck moves a draft to pending_check.
func (s *Service) SubmitForCheck(ctx context.Context, actor shared.Actor, id int64) (*Transfer, error) {
	if err := s.authorizeTransition(ctx, actor, TransitionSubmit); err != nil {
		return nil, err
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, next, err := s.lockAndApply(ctx, tx, actor.BusinessID, id, TransitionSubmit)
		if err != nil {
			return err
		}
		if len(t.Items) == 0 {
			return ErrNoItems
		}
		// Stock is checked again at send time; this catches doomed
		// requests before the checker sees them.
		for _, item := range t.Items {
			err := s.ledger.CheckAvailabilityTx(ctx, tx.Ledger(), item.VariationID, t.FromLocationID, item.Quantity)
			if err != nil {
				var neg *ledger.NegativeStockError
				if errors.As(err, &neg) {
					return &InsufficientStockError{
						ItemID:      item.ID,
						ProductID:   item.ProductID,
						VariationID: item.VariationID,
						Requested:   neg.Requested,
						Available:   neg.Available,
					}
				}
				return &LedgerWriteError{Op: "submit", Err: err}
			}
		}
		return tx.UpdateHeader(ctx, id, map[string]interface{}{
			"status":        next,
			"reject_reason": nil,
		})
	})
	if err != nil {
		return nil, err
	}

	s.recordApproval(ctx, actor, shared.ApprovalSubmit, id, "")
	s.recordAudit(ctx, actor, "transfer.submit", id, nil)
	return s.repo.Get(ctx, actor.BusinessID, id)
}

// CheckApprove approves a pending transfer. The checker must not be the
// creator.
func (s *Service) CheckApprove(ctx context.Context, actor shared.Actor, id int64) (*Transfer, error) {
	if err := s.authorizeTransition(ctx, actor, TransitionCheckApprove); err != nil {
		return nil, err
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, next, err := s.lockAndApply(ctx, tx, actor.BusinessID, id, TransitionCheckApprove)
		if err != nil {
			return err
		}
		if err := s.policy.CanCheck(t, actor.ID); err != nil {
			return err
		}
		return tx.UpdateHeader(ctx, id, map[string]interface{}{
			"status":     next,
			"checked_by": actor.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.recordApproval(ctx, actor, shared.ApprovalApprove, id, "")
	s.recordAudit(ctx, actor, "transfer.check_approve", id, nil)
	return s.repo.Get(ctx, actor.BusinessID, id)
}

// CheckReject sends a pending transfer back to draft with a reason.
func (s *Service) CheckReject(ctx context.Context, actor shared.Actor, id int64, reason string) (*Transfer, error) {
	if err := s.authorizeTransition(ctx, actor, TransitionCheckReject); err != nil {
		return nil, err
	}

	var evt RejectedEvent
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, next, err := s.lockAndApply(ctx, tx, actor.BusinessID, id, TransitionCheckReject)
		if err != nil {
			return err
		}
		if err := s.policy.CanCheck(t, actor.ID); err != nil {
			return err
		}
		evt = RejectedEvent{
			TransferID: t.ID,
			TransferNo: t.TransferNo,
			BusinessID: t.BusinessID,
			CreatedBy:  t.CreatedBy,
			CheckedBy:  actor.ID,
			Reason:     reason,
			RejectedAt: s.now(),
		}
		return tx.UpdateHeader(ctx, id, map[string]interface{}{
			"status":        next,
			"checked_by":    nil,
			"reject_reason": reason,
		})
	})
	if err != nil {
		return nil, err
	}

	s.recordApproval(ctx, actor, shared.ApprovalReject, id, reason)
	s.recordAudit(ctx, actor, "transfer.check_reject", id, map[string]any{"reason": reason})
	if s.notifier != nil {
		s.notifier.TransferRejected(ctx, evt)
	}
	return s.repo.Get(ctx, actor.BusinessID, id)
}

// Send deducts source stock and puts the transfer in transit. The sender must
// satisfy the separation-of-duties policy, and every line must have enough
// stock at the source; either failure rolls back the whole transition.
func (s *Service) Send(ctx context.Context, actor shared.Actor, id int64) (*Transfer, error) {
	if err := s.authorizeTransition(ctx, actor, TransitionSend); err != nil {
		return nil, err
	}

	idemKey := fmt.Sprintf("transfer:%d:send", id)
	if err := s.idemAcquire(ctx, actor, id, idemKey, TransitionSend); err != nil {
		return nil, err
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, next, err := s.lockAndApply(ctx, tx, actor.BusinessID, id, TransitionSend)
		if err != nil {
			return err
		}
		if err := s.policy.CanSend(t, actor.ID); err != nil {
			return err
		}
		if !actor.CanAccessLocation(t.FromLocationID) {
			return ErrLocationAccess
		}

		for _, item := range t.Items {
			_, err := s.ledger.AppendTx(ctx, tx.Ledger(), ledger.AppendInput{
				VariationID: item.VariationID,
				LocationID:  t.FromLocationID,
				Type:        ledger.EntryTransferOut,
				QtyDelta:    -item.Quantity,
				RefType:     ledgerRefType,
				RefID:       t.ID,
				ActorID:     actor.ID,
			})
			if err != nil {
				var neg *ledger.NegativeStockError
				if errors.As(err, &neg) {
					return &InsufficientStockError{
						ItemID:      item.ID,
						ProductID:   item.ProductID,
						VariationID: item.VariationID,
						Requested:   neg.Requested,
						Available:   neg.Available,
					}
				}
				return &LedgerWriteError{Op: "send", Err: err}
			}
		}

		return tx.UpdateHeader(ctx, id, map[string]interface{}{
			"status":         next,
			"sent_by":        actor.ID,
			"stock_deducted": true,
		})
	})
	if err != nil {
		s.idemRelease(ctx, idemKey)
		return nil, err
	}

	s.recordAudit(ctx, actor, "transfer.send", id, nil)
	return s.repo.Get(ctx, actor.BusinessID, id)
}

// MarkArrived records the shipment arriving at the destination.
func (s *Service) MarkArrived(ctx context.Context, actor shared.Actor, id int64) (*Transfer, error) {
	if err := s.authorizeTransition(ctx, actor, TransitionArrive); err != nil {
		return nil, err
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, next, err := s.lockAndApply(ctx, tx, actor.BusinessID, id, TransitionArrive)
		if err != nil {
			return err
		}
		if !actor.CanAccessLocation(t.ToLocationID) {
			return ErrLocationAccess
		}
		return tx.UpdateHeader(ctx, id, map[string]interface{}{
			"status":     next,
			"arrived_by": actor.ID,
		})
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actor, "transfer.arrive", id, nil)
	return s.repo.Get(ctx, actor.BusinessID, id)
}

// StartVerification begins the item count at the destination.
func (s *Service) StartVerification(ctx context.Context, actor shared.Actor, id int64) (*Transfer, error) {
	if err := s.authorizeTransition(ctx, actor, TransitionStartVerification); err != nil {
		return nil, err
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, next, err := s.lockAndApply(ctx, tx, actor.BusinessID, id, TransitionStartVerification)
		if err != nil {
			return err
		}
		if err := s.policy.CanVerify(t, actor.ID); err != nil {
			return err
		}
		if !actor.CanAccessLocation(t.ToLocationID) {
			return ErrLocationAccess
		}
		return tx.UpdateHeader(ctx, id, map[string]interface{}{"status": next})
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actor, "transfer.start_verification", id, nil)
	return s.repo.Get(ctx, actor.BusinessID, id)
}

// VerifyItem records the counted quantity for one line. When the last line
// is verified the transfer moves to verified.
func (s *Service) VerifyItem(ctx context.Context, actor shared.Actor, id, itemID int64, req VerifyItemRequest) (*Transfer, error) {
	if err := s.authorizeTransition(ctx, actor, TransitionVerifyItem); err != nil {
		return nil, err
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, _, err := s.lockAndApply(ctx, tx, actor.BusinessID, id, TransitionVerifyItem)
		if err != nil {
			return err
		}
		if err := s.policy.CanVerify(t, actor.ID); err != nil {
			return err
		}
		if !actor.CanAccessLocation(t.ToLocationID) {
			return ErrLocationAccess
		}

		item := t.Item(itemID)
		if item == nil {
			return ErrItemNotFound
		}

		received := item.Quantity
		if req.ReceivedQuantity != nil {
			received = *req.ReceivedQuantity
		}
		if err := tx.UpdateItem(ctx, itemID, map[string]interface{}{
			"verified":          true,
			"received_quantity": received,
			"has_discrepancy":   !qtyEqual(received, item.Quantity),
		}); err != nil {
			return err
		}

		// Derive the aggregate status from the lines just written.
		item.Verified = true
		if t.AllItemsVerified() {
			return tx.UpdateHeader(ctx, id, map[string]interface{}{
				"status":      StatusVerified,
				"verified_by": actor.ID,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actor, "transfer.verify_item", id, map[string]any{"item_id": itemID})
	return s.repo.Get(ctx, actor.BusinessID, id)
}

// UnverifyItem reopens a verified line, dropping the transfer back to
// verifying if it had reached verified.
func (s *Service) UnverifyItem(ctx context.Context, actor shared.Actor, id, itemID int64) (*Transfer, error) {
	if err := s.authorizeTransition(ctx, actor, TransitionUnverifyItem); err != nil {
		return nil, err
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, next, err := s.lockAndApply(ctx, tx, actor.BusinessID, id, TransitionUnverifyItem)
		if err != nil {
			return err
		}
		if err := s.policy.CanVerify(t, actor.ID); err != nil {
			return err
		}
		if !actor.CanAccessLocation(t.ToLocationID) {
			return ErrLocationAccess
		}

		item := t.Item(itemID)
		if item == nil {
			return ErrItemNotFound
		}
		if !item.Verified {
			return ErrItemNotVerified
		}

		if err := tx.UpdateItem(ctx, itemID, map[string]interface{}{
			"verified":          false,
			"received_quantity": nil,
			"has_discrepancy":   false,
		}); err != nil {
			return err
		}
		if t.Status != next {
			return tx.UpdateHeader(ctx, id, map[string]interface{}{
				"status":      next,
				"verified_by": nil,
			})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actor, "transfer.unverify_item", id, map[string]any{"item_id": itemID})
	return s.repo.Get(ctx, actor.BusinessID, id)
}

// Complete credits the destination with each line's effective quantity and
// closes the transfer. A completed transfer answers further complete calls
// with AlreadyProcessedError instead of moving stock twice.
func (s *Service) Complete(ctx context.Context, actor shared.Actor, id int64) (*Transfer, error) {
	if err := s.authorizeTransition(ctx, actor, TransitionComplete); err != nil {
		return nil, err
	}

	idemKey := fmt.Sprintf("transfer:%d:complete", id)
	if err := s.idemAcquire(ctx, actor, id, idemKey, TransitionComplete); err != nil {
		return nil, err
	}

	var evt CompletedEvent
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		t, next, err := s.lockAndApply(ctx, tx, actor.BusinessID, id, TransitionComplete)
		if err != nil {
			return err
		}
		if err := s.policy.CanVerify(t, actor.ID); err != nil {
			return err
		}
		if !actor.CanAccessLocation(t.ToLocationID) {
			return ErrLocationAccess
		}

		discrepancies := 0
		for _, item := range t.Items {
			if item.HasDiscrepancy {
				discrepancies++
			}
			qty := item.EffectiveQty()
			if qty < qtyEpsilon {
				continue
			}
			_, err := s.ledger.AppendTx(ctx, tx.Ledger(), ledger.AppendInput{
				VariationID: item.VariationID,
				LocationID:  t.ToLocationID,
				Type:        ledger.EntryTransferIn,
				QtyDelta:    qty,
				RefType:     ledgerRefType,
				RefID:       t.ID,
				ActorID:     actor.ID,
			})
			if err != nil {
				return &LedgerWriteError{Op: "complete", Err: err}
			}
		}

		evt = CompletedEvent{
			TransferID:    t.ID,
			TransferNo:    t.TransferNo,
			BusinessID:    t.BusinessID,
			ToLocationID:  t.ToLocationID,
			CreatedBy:     t.CreatedBy,
			CompletedBy:   actor.ID,
			Discrepancies: discrepancies,
			CompletedAt:   s.now(),
		}
		return tx.UpdateHeader(ctx, id, map[string]interface{}{
			"status":       next,
			"completed_by": actor.ID,
			"stock_added":  true,
		})
	})
	if err != nil {
		s.idemRelease(ctx, idemKey)
		return nil, err
	}

	s.recordAudit(ctx, actor, "transfer.complete", id, map[string]any{"discrepancies": evt.Discrepancies})
	if s.notifier != nil {
		s.notifier.TransferCompleted(ctx, evt)
	}
	return s.repo.Get(ctx, actor.BusinessID, id)
}

// Cancel abandons a transfer that has not yet left the source. Once stock
// moved the transfer cannot be cancelled, only completed.
func (s *Service) Cancel(ctx context.Context, actor shared.Actor, id int64, reason string) (*Transfer, error) {
	if err := s.authorizeTransition(ctx, actor, TransitionCancel); err != nil {
		return nil, err
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		_, next, err := s.lockAndApply(ctx, tx, actor.BusinessID, id, TransitionCancel)
		if err != nil {
			return err
		}
		return tx.UpdateHeader(ctx, id, map[string]interface{}{
			"status":        next,
			"reject_reason": reason,
		})
	})
	if err != nil {
		return nil, err
	}

	s.recordAudit(ctx, actor, "transfer.cancel", id, map[string]any{"reason": reason})
	return s.repo.Get(ctx, actor.BusinessID, id)
}

// lockAndApply loads the transfer under a row lock and validates the
// transition against the state machine.
func (s *Service) lockAndApply(ctx context.Context, tx TxRepository, businessID, id int64, tr Transition) (*Transfer, Status, error) {
	t, err := tx.GetForUpdate(ctx, businessID, id)
	if err != nil {
		return nil, "", err
	}
	next, err := Apply(t.Status, tr)
	if err != nil {
		return nil, "", err
	}
	return t, next, nil
}

// idemAcquire claims the idempotency key for a ledger-writing transition.
// A conflict means the transition already ran or is in flight; re-read the
// transfer to answer retries with AlreadyProcessed rather than an opaque
// conflict.
func (s *Service) idemAcquire(ctx context.Context, actor shared.Actor, id int64, key string, tr Transition) error {
	if s.idem == nil {
		return nil
	}
	err := s.idem.CheckAndInsert(ctx, key, idempotencyName)
	if err == nil {
		return nil
	}
	if !errors.Is(err, shared.ErrIdempotencyConflict) {
		return err
	}
	t, getErr := s.repo.Get(ctx, actor.BusinessID, id)
	if getErr == nil && (t.Status == StatusCompleted || t.Status == StatusInTransit) {
		return &AlreadyProcessedError{Status: t.Status, Transition: tr}
	}
	return err
}

func (s *Service) idemRelease(ctx context.Context, key string) {
	if s.idem == nil {
		return
	}
	if err := s.idem.Delete(ctx, key); err != nil {
		s.logger.Warn("idempotency key release failed", slog.String("key", key), slog.Any("error", err))
	}
}
