package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-ledger/internal/numbering"
	"github.com/meridian-erp/meridian-ledger/internal/shared"
)

// RefundInput requests cash back against a voided transaction.
type RefundInput struct {
	VoidedSaleID int64
	Amount       decimal.Decimal
	Method       string
	Remarks      string
	ActorID      int64
	At           time.Time
}

// RefundResult reports the created refund.
type RefundResult struct {
	RefundID   int64
	RefundNo   string
	IsRefunded bool
}

// RefundVoidedSale refunds part or all of what was actually paid on a voided
// transaction. The refundable remainder is re-checked against the row locked
// inside the transaction, so concurrent refunds cannot overdraw it. Refunds of
// invoice-linked voids also reduce the debtor balance.
func (s *Service) RefundVoidedSale(ctx context.Context, input RefundInput) (RefundResult, error) {
	if !input.Amount.IsPositive() {
		return RefundResult{}, ErrInvalidAmount
	}

	at := s.txTime(input.At)
	var result RefundResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		voided, err := tx.GetVoidedSaleForUpdate(ctx, input.VoidedSaleID)
		if err != nil {
			return err
		}
		if input.Amount.GreaterThan(voided.Refundable()) {
			return ErrRefundExceedsRefundable
		}

		refundNo, err := tx.NextNumber(ctx, numbering.KindRefund, at)
		if err != nil {
			return err
		}
		refundID, err := tx.InsertRefund(ctx, Refund{
			Number:       refundNo,
			VoidedSaleID: voided.ID,
			Amount:       input.Amount,
			Method:       input.Method,
			Remarks:      input.Remarks,
			At:           at,
			ActorID:      input.ActorID,
		})
		if err != nil {
			return err
		}
		updated, err := tx.AddRefund(ctx, voided.ID, input.Amount)
		if err != nil {
			return err
		}
		if err := tx.InsertCollection(ctx, Collection{
			RefNo:   refundNo,
			Source:  TransTypeRefund,
			Amounts: map[string]decimal.Decimal{input.Method: input.Amount.Neg()},
			At:      at,
			ActorID: input.ActorID,
		}); err != nil {
			return err
		}

		if voided.Source == VoidSourceInvoiceSale || voided.Source == VoidSourceInvoicePayment {
			if err := tx.AdjustDebtorBalance(ctx, voided.CustomerID, input.Amount.Neg()); err != nil {
				return err
			}
			if err := tx.InsertDebtorLog(ctx, DebtorLogEntry{
				CustomerID: voided.CustomerID,
				RefNo:      refundNo,
				Amount:     input.Amount,
				Side:       EntryCredit,
				TransType:  TransTypeRefund,
				At:         at,
				ActorID:    input.ActorID,
			}); err != nil {
				return err
			}
		}

		result = RefundResult{
			RefundID:   refundID,
			RefundNo:   refundNo,
			IsRefunded: updated.IsRefunded,
		}
		return nil
	})
	s.countPosting("refund", err)
	if err != nil {
		return RefundResult{}, err
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "ledger.refund",
			Entity:   "refund",
			EntityID: fmt.Sprintf("%d", result.RefundID),
			Meta: map[string]any{
				"refund_no":      result.RefundNo,
				"voided_sale_id": input.VoidedSaleID,
				"amount":         input.Amount.String(),
			},
			At: at,
		})
	}
	return result, nil
}
