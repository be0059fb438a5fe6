package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-ledger/internal/numbering"
	"github.com/meridian-erp/meridian-ledger/internal/shared"
)

// VoidInput carries the metadata of a void request.
type VoidInput struct {
	Reason  string
	ActorID int64
	At      time.Time
}

// VoidResult reports the created void record.
type VoidResult struct {
	VoidNo       string
	VoidedSaleID int64
}

// VoidReceipt reverses a cash-sale receipt. The not-voided precondition is
// claimed with a conditional update inside the transaction, so two concurrent
// void requests for the same receipt cannot both proceed.
func (s *Service) VoidReceipt(ctx context.Context, receiptNo string, input VoidInput) (VoidResult, error) {
	at := s.txTime(input.At)
	var result VoidResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sale, err := tx.GetSaleByReceipt(ctx, receiptNo)
		if err != nil {
			return err
		}
		if _, err := ReceiptReversalPlan(sale); err != nil {
			return err
		}

		voidNo, err := tx.NextNumber(ctx, numbering.KindVoid, at)
		if err != nil {
			return err
		}
		meta := VoidMeta{Number: voidNo, Reason: input.Reason, At: at, ActorID: input.ActorID}

		receipt, err := tx.ClaimReceiptVoid(ctx, receiptNo, meta)
		if err != nil {
			return err
		}
		if err := tx.ClaimSaleVoid(ctx, sale.ID, meta); err != nil {
			return err
		}

		voidedID, err := tx.InsertVoidedSale(ctx, VoidedSale{
			VoidNo:     voidNo,
			Source:     VoidSourceCashSale,
			ReceiptNo:  receiptNo,
			CustomerID: sale.CustomerID,
			TotalDue:   sale.TotalDue,
			TotalPaid:  sale.TotalPaid,
			BalanceDue: decimal.Zero,
			Reason:     input.Reason,
			VoidedAt:   at,
			VoidedBy:   input.ActorID,
		})
		if err != nil {
			return err
		}
		if err := s.writeItemReversals(ctx, tx, sale.ID, voidedID, []itemTarget{
			{kind: DocReceipt, docID: receipt.ID},
			{kind: DocSale, docID: sale.ID},
		}); err != nil {
			return err
		}

		result = VoidResult{VoidNo: voidNo, VoidedSaleID: voidedID}
		return nil
	})
	s.countPosting("void_receipt", err)
	if err != nil {
		return VoidResult{}, err
	}
	s.auditVoid(ctx, input.ActorID, "ledger.void_receipt", receiptNo, result, at)
	return result, nil
}

// VoidInvoice reverses an invoice sale. Payments applied to the invoice are
// voided first, in plan order; only then is the invoice debt itself reversed
// with a single debtor adjustment for the full original amount due. Executing
// the steps in any other order double-counts the debtor adjustment.
func (s *Service) VoidInvoice(ctx context.Context, invoiceNo string, input VoidInput) (VoidResult, error) {
	at := s.txTime(input.At)
	var result VoidResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		invoice, err := tx.GetInvoiceForUpdate(ctx, invoiceNo)
		if err != nil {
			return err
		}
		if invoice.Status == InvoiceStatusCancelled {
			return ErrAlreadyVoided
		}
		payments, err := tx.ListPaymentsForInvoice(ctx, invoiceNo)
		if err != nil {
			return err
		}
		plan, err := InvoiceReversalPlan(invoice, payments)
		if err != nil {
			return err
		}

		for _, step := range plan {
			switch step.Kind {
			case StepVoidPayment:
				if _, err := s.voidPaymentInTx(ctx, tx, step.PaymentID, input, at); err != nil {
					return err
				}
			case StepVoidInvoice:
				voidNo, err := tx.NextNumber(ctx, numbering.KindVoid, at)
				if err != nil {
					return err
				}
				meta := VoidMeta{Number: voidNo, Reason: input.Reason, At: at, ActorID: input.ActorID}
				claimed, err := tx.ClaimInvoiceVoid(ctx, invoiceNo, meta)
				if err != nil {
					return err
				}
				if claimed.SaleID != 0 {
					if err := tx.ClaimSaleVoid(ctx, claimed.SaleID, meta); err != nil {
						return err
					}
				}
				voidedID, err := tx.InsertVoidedSale(ctx, VoidedSale{
					VoidNo:         voidNo,
					Source:         VoidSourceInvoiceSale,
					InvoiceNo:      invoiceNo,
					CustomerID:     claimed.CustomerID,
					TotalDue:       claimed.TotalDue,
					TotalPaid:      claimed.TotalPaid,
					BalanceDue:     claimed.BalanceDue,
					PaidForInvoice: claimed.TotalPaid,
					Reason:         input.Reason,
					VoidedAt:       at,
					VoidedBy:       input.ActorID,
				})
				if err != nil {
					return err
				}
				targets := []itemTarget{{kind: DocInvoice, docID: claimed.ID}}
				if claimed.SaleID != 0 {
					targets = append(targets, itemTarget{kind: DocSale, docID: claimed.SaleID})
				}
				if err := s.writeInvoiceItemReversals(ctx, tx, claimed.ID, voidedID, targets); err != nil {
					return err
				}
				// The payment voids above restored any partial-payment debits,
				// so reversing the full original debt is one credit here.
				if err := tx.AdjustDebtorBalance(ctx, claimed.CustomerID, claimed.TotalDue.Neg()); err != nil {
					return err
				}
				if err := tx.InsertDebtorLog(ctx, DebtorLogEntry{
					CustomerID: claimed.CustomerID,
					RefNo:      voidNo,
					Amount:     claimed.TotalDue,
					Side:       EntryCredit,
					TransType:  TransTypeSaleCancellation,
					At:         at,
					ActorID:    input.ActorID,
				}); err != nil {
					return err
				}
				if err := tx.InsertInvoiceLog(ctx, InvoiceLogEntry{
					InvoiceNo: invoiceNo,
					RefNo:     voidNo,
					Amount:    claimed.TotalDue,
					Side:      EntryCredit,
					TransType: TransTypeSaleCancellation,
					At:        at,
					ActorID:   input.ActorID,
				}); err != nil {
					return err
				}
				result = VoidResult{VoidNo: voidNo, VoidedSaleID: voidedID}
			}
		}
		return nil
	})
	s.countPosting("void_invoice", err)
	if err != nil {
		return VoidResult{}, err
	}
	s.auditVoid(ctx, input.ActorID, "ledger.void_invoice", invoiceNo, result, at)
	return result, nil
}

// VoidPayment reverses a single invoice payment: every allocation detail is
// pushed back onto its invoice (reopening closed ones) and the debtor balance
// is restored by the full payment amount.
func (s *Service) VoidPayment(ctx context.Context, paymentID int64, input VoidInput) (VoidResult, error) {
	at := s.txTime(input.At)
	var result VoidResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		result, err = s.voidPaymentInTx(ctx, tx, paymentID, input, at)
		return err
	})
	s.countPosting("void_payment", err)
	if err != nil {
		return VoidResult{}, err
	}
	s.auditVoid(ctx, input.ActorID, "ledger.void_payment", fmt.Sprintf("%d", paymentID), result, at)
	return result, nil
}

func (s *Service) voidPaymentInTx(ctx context.Context, tx TxRepository, paymentID int64, input VoidInput, at time.Time) (VoidResult, error) {
	voidNo, err := tx.NextNumber(ctx, numbering.KindVoid, at)
	if err != nil {
		return VoidResult{}, err
	}
	meta := VoidMeta{Number: voidNo, Reason: input.Reason, At: at, ActorID: input.ActorID}

	payment, err := tx.ClaimPaymentVoid(ctx, paymentID, meta)
	if err != nil {
		return VoidResult{}, err
	}

	details, err := tx.ListPaymentDetails(ctx, payment.ID)
	if err != nil {
		return VoidResult{}, err
	}
	for _, detail := range details {
		if _, err := tx.ReopenInvoice(ctx, detail.InvoiceNo, detail.Amount); err != nil {
			return VoidResult{}, err
		}
		// The original payment was a credit, so its reversal is a debit.
		if err := tx.InsertInvoiceLog(ctx, InvoiceLogEntry{
			InvoiceNo: detail.InvoiceNo,
			RefNo:     voidNo,
			Amount:    detail.Amount,
			Side:      EntryDebit,
			TransType: TransTypeSaleCancellation,
			At:        at,
			ActorID:   input.ActorID,
		}); err != nil {
			return VoidResult{}, err
		}
	}

	if err := tx.AdjustDebtorBalance(ctx, payment.CustomerID, payment.TotalPaid); err != nil {
		return VoidResult{}, err
	}
	if err := tx.InsertDebtorLog(ctx, DebtorLogEntry{
		CustomerID: payment.CustomerID,
		RefNo:      voidNo,
		Amount:     payment.TotalPaid,
		Side:       EntryDebit,
		TransType:  TransTypeSaleCancellation,
		At:         at,
		ActorID:    input.ActorID,
	}); err != nil {
		return VoidResult{}, err
	}

	voidedID, err := tx.InsertVoidedSale(ctx, VoidedSale{
		VoidNo:     voidNo,
		Source:     VoidSourceInvoicePayment,
		PaymentNo:  payment.Number,
		CustomerID: payment.CustomerID,
		TotalPaid:  payment.TotalPaid,
		Reason:     input.Reason,
		VoidedAt:   at,
		VoidedBy:   input.ActorID,
	})
	if err != nil {
		return VoidResult{}, err
	}
	return VoidResult{VoidNo: voidNo, VoidedSaleID: voidedID}, nil
}

type itemTarget struct {
	kind  DocKind
	docID int64
}

// writeItemReversals reads the sale's original lines and writes negative
// reversal rows on each target document plus positive historical copies on the
// voided-sale record.
func (s *Service) writeItemReversals(ctx context.Context, tx TxRepository, saleID, voidedID int64, targets []itemTarget) error {
	items, err := tx.ListItems(ctx, DocSale, saleID)
	if err != nil {
		return err
	}
	return s.writeReversalRows(ctx, tx, items, voidedID, targets)
}

// writeInvoiceItemReversals does the same, sourcing the original
// (positive-quantity) lines from the invoice.
func (s *Service) writeInvoiceItemReversals(ctx context.Context, tx TxRepository, invoiceID, voidedID int64, targets []itemTarget) error {
	items, err := tx.ListItems(ctx, DocInvoice, invoiceID)
	if err != nil {
		return err
	}
	originals := items[:0]
	for _, item := range items {
		if item.Quantity.IsPositive() {
			originals = append(originals, item)
		}
	}
	return s.writeReversalRows(ctx, tx, originals, voidedID, targets)
}

func (s *Service) writeReversalRows(ctx context.Context, tx TxRepository, items []LineItem, voidedID int64, targets []itemTarget) error {
	if len(items) == 0 {
		return nil
	}
	reversals := make([]LineItem, 0, len(items))
	copies := make([]LineItem, 0, len(items))
	for _, item := range items {
		reversals = append(reversals, item.Negated())
		copies = append(copies, item)
	}
	for _, target := range targets {
		if err := tx.InsertItems(ctx, target.kind, target.docID, reversals); err != nil {
			return err
		}
	}
	return tx.InsertItems(ctx, DocVoidedSale, voidedID, copies)
}

func (s *Service) auditVoid(ctx context.Context, actorID int64, action, ref string, result VoidResult, at time.Time) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "voided_sale",
		EntityID: fmt.Sprintf("%d", result.VoidedSaleID),
		Meta: map[string]any{
			"ref":     ref,
			"void_no": result.VoidNo,
		},
		At: at,
	})
}
