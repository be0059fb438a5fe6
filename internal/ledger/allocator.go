package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-ledger/internal/numbering"
	"github.com/meridian-erp/meridian-ledger/internal/shared"
)

// AllocatePaymentInput distributes one paid amount across the listed invoices.
// The list order is the allocation priority; the engine does not re-sort it.
type AllocatePaymentInput struct {
	CustomerID int64
	PaidAmount decimal.Decimal
	InvoiceNos []string
	Method     string
	ActorID    int64
	TxTime     time.Time
}

// Allocation reports how much of the payment one invoice received.
type Allocation struct {
	InvoiceNo string
	Amount    decimal.Decimal
	Closed    bool
}

// AllocationResult reports a completed multi-invoice payment.
type AllocationResult struct {
	PaymentNo   string
	Allocations []Allocation
	Unallocated decimal.Decimal
}

// AllocatePayment greedily pays off the invoices in caller-supplied order,
// capping each allocation at the invoice's outstanding balance. Invoices past
// the point where funds run out are left untouched. A missing, cancelled, or
// closed invoice in the list fails the whole allocation; nothing is skipped
// silently. A zero paid amount is a no-op and writes nothing.
func (s *Service) AllocatePayment(ctx context.Context, input AllocatePaymentInput) (AllocationResult, error) {
	if input.PaidAmount.IsNegative() {
		return AllocationResult{}, ErrInvalidAmount
	}
	if input.PaidAmount.IsZero() {
		return AllocationResult{Unallocated: decimal.Zero}, nil
	}

	at := s.txTime(input.TxTime)
	var result AllocationResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		paymentNo, err := tx.NextNumber(ctx, numbering.KindPayment, at)
		if err != nil {
			return err
		}
		paymentID, err := tx.InsertInvoicePayment(ctx, InvoicePayment{
			Number:     paymentNo,
			CustomerID: input.CustomerID,
			TotalPaid:  input.PaidAmount,
			Method:     input.Method,
			PaidAt:     at,
			CreatedBy:  input.ActorID,
		})
		if err != nil {
			return err
		}

		remaining := input.PaidAmount
		allocations := make([]Allocation, 0, len(input.InvoiceNos))
		for _, number := range input.InvoiceNos {
			if !remaining.IsPositive() {
				break
			}
			invoice, err := tx.GetInvoiceForUpdate(ctx, number)
			if err != nil {
				return fmt.Errorf("%w: %s", ErrInvoiceNotAllocatable, number)
			}
			if invoice.Status != InvoiceStatusOpen || invoice.CustomerID != input.CustomerID {
				return fmt.Errorf("%w: %s", ErrInvoiceNotAllocatable, number)
			}
			amount := decimal.Min(remaining, invoice.BalanceDue)
			updated, err := tx.ApplyInvoicePayment(ctx, number, amount)
			if err != nil {
				return err
			}
			if err := tx.InsertInvoiceLog(ctx, InvoiceLogEntry{
				InvoiceNo: number,
				RefNo:     paymentNo,
				Amount:    amount,
				Side:      EntryCredit,
				TransType: TransTypePaymentCollect,
				At:        at,
				ActorID:   input.ActorID,
			}); err != nil {
				return err
			}
			if err := tx.InsertPaymentDetail(ctx, InvoicePaymentDetail{
				PaymentID: paymentID,
				InvoiceNo: number,
				Amount:    amount,
			}); err != nil {
				return err
			}
			remaining = remaining.Sub(amount)
			allocations = append(allocations, Allocation{
				InvoiceNo: number,
				Amount:    amount,
				Closed:    updated.Status == InvoiceStatusClosed,
			})
		}

		if err := tx.AdjustDebtorBalance(ctx, input.CustomerID, input.PaidAmount.Neg()); err != nil {
			return err
		}
		if err := tx.InsertDebtorLog(ctx, DebtorLogEntry{
			CustomerID: input.CustomerID,
			RefNo:      paymentNo,
			Amount:     input.PaidAmount,
			Side:       EntryCredit,
			TransType:  TransTypePaymentCollect,
			At:         at,
			ActorID:    input.ActorID,
		}); err != nil {
			return err
		}
		if err := tx.InsertCollection(ctx, Collection{
			RefNo:   paymentNo,
			Source:  TransTypePaymentCollect,
			Amounts: map[string]decimal.Decimal{input.Method: input.PaidAmount},
			At:      at,
			ActorID: input.ActorID,
		}); err != nil {
			return err
		}

		result = AllocationResult{
			PaymentNo:   paymentNo,
			Allocations: allocations,
			Unallocated: remaining,
		}
		return nil
	})
	s.countPosting("payment", err)
	if err != nil {
		return AllocationResult{}, err
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "ledger.allocate_payment",
			Entity:   "invoice_payment",
			EntityID: result.PaymentNo,
			Meta: map[string]any{
				"customer_id": input.CustomerID,
				"paid":        input.PaidAmount.String(),
				"invoices":    len(result.Allocations),
			},
			At: at,
		})
	}
	return result, nil
}
