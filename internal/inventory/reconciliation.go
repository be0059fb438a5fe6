package inventory

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-ledger/internal/numbering"
	"github.com/meridian-erp/meridian-ledger/internal/shared"
)

// ProductCount is one physically counted quantity.
type ProductCount struct {
	ProductID  int64
	CountedQty decimal.Decimal
}

// ReconcileInput commits a physical count for one store.
type ReconcileInput struct {
	StoreID int64
	Reason  Counterparty
	Counts  []ProductCount
	Note    string
	ActorID int64
	At      time.Time
}

// ReconcileCorrection reports one committed difference.
type ReconcileCorrection struct {
	ProductID  int64
	SystemQty  decimal.Decimal
	CountedQty decimal.Decimal
	Delta      decimal.Decimal
}

// ReconcileResult summarises a reconciliation commit.
type ReconcileResult struct {
	MovementNo  string
	Corrections []ReconcileCorrection
}

// Reconcile commits a physical count: every difference between the counted and
// the system quantity is posted as an adjustment movement against the
// reconciliation reason, inside one transaction. The per-store lock keeps two
// concurrent commits from interleaving their reads and writes. Matching counts
// produce no movements.
func (s *Service) Reconcile(ctx context.Context, input ReconcileInput) (ReconcileResult, error) {
	if input.StoreID == 0 {
		return ReconcileResult{}, ErrNotFound
	}
	if len(input.Counts) == 0 {
		return ReconcileResult{}, ErrEmptyItems
	}
	if input.Reason.Kind == "" {
		input.Reason.Kind = PartyAdjustmentReason
	}
	if err := input.Reason.Validate(); err != nil {
		return ReconcileResult{}, err
	}
	for _, count := range input.Counts {
		if count.CountedQty.IsNegative() {
			return ReconcileResult{}, ErrInvalidQuantity
		}
	}
	at := s.txTime(input.At)

	var result ReconcileResult
	err := s.locker.WithLock(ctx, shared.ReconciliationLockKey(input.StoreID), func(ctx context.Context) error {
		return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			var number string
			for _, count := range input.Counts {
				balance, found, err := tx.GetBalanceForUpdate(ctx, input.StoreID, count.ProductID)
				if err != nil {
					return err
				}
				if !found {
					balance = StockBalance{StoreID: input.StoreID, ProductID: count.ProductID, Qty: decimal.Zero}
				}
				delta := count.CountedQty.Sub(balance.Qty)
				if delta.IsZero() {
					continue
				}
				if number == "" {
					if number, err = tx.NextNumber(ctx, numbering.KindMovement, at); err != nil {
						return err
					}
				}
				params := issueParams{
					number:   number,
					moveType: MovementAdjust,
					storeID:  input.StoreID,
					party:    input.Reason,
					note:     input.Note,
					actorID:  input.ActorID,
					at:       at,
				}
				if delta.IsPositive() {
					params.item = ItemInput{ProductID: count.ProductID, Qty: delta}
					if err := s.receiveItem(ctx, tx, params); err != nil {
						return err
					}
				} else {
					params.item = ItemInput{ProductID: count.ProductID, Qty: delta.Neg()}
					if err := s.issueItem(ctx, tx, params); err != nil {
						return err
					}
				}
				result.Corrections = append(result.Corrections, ReconcileCorrection{
					ProductID:  count.ProductID,
					SystemQty:  balance.Qty,
					CountedQty: count.CountedQty,
					Delta:      delta,
				})
			}
			result.MovementNo = number
			return nil
		})
	})
	s.countPosting("reconcile", err)
	if err != nil {
		return ReconcileResult{}, err
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "inventory.reconcile",
			Entity:   "movement",
			EntityID: result.MovementNo,
			Meta: map[string]any{
				"store_id":    input.StoreID,
				"counted":     len(input.Counts),
				"corrections": len(result.Corrections),
			},
			At: at,
		})
	}
	return result, nil
}
