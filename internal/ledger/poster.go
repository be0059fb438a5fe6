package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-ledger/internal/numbering"
	"github.com/meridian-erp/meridian-ledger/internal/shared"
)

// PostSaleInput describes one checkout cart plus the tendered amount. Inputs
// arrive validated by the caller; referential integrity is not re-checked here.
type PostSaleInput struct {
	CustomerID int64
	FacilityID int64
	Lines      []LineItem
	PaidAmount decimal.Decimal
	Method     string
	ActorID    int64
	TxTime     time.Time
}

// PostingResult reports what a sale posting created.
type PostingResult struct {
	SaleID       int64
	ReceiptNo    string
	InvoiceNo    string
	AmountDue    decimal.Decimal
	ChangeAmount decimal.Decimal
}

// PostSale posts one sale atomically. Depending on the tendered amount it
// emits a cash receipt, an invoice, or both:
//
//	hasReceipt = paid > 0 || due == 0
//	hasInvoice = paid < due
//
// An invoice posting raises the debtor balance by the full amount due; a
// partial payment at sale time is applied against the new invoice immediately.
func (s *Service) PostSale(ctx context.Context, input PostSaleInput) (PostingResult, error) {
	if len(input.Lines) == 0 {
		return PostingResult{}, ErrEmptyLines
	}
	if input.PaidAmount.IsNegative() {
		return PostingResult{}, ErrInvalidAmount
	}
	amountDue := decimal.Zero
	for _, line := range input.Lines {
		if line.Quantity.IsNegative() || line.UnitPrice.IsNegative() {
			return PostingResult{}, ErrInvalidAmount
		}
		amountDue = amountDue.Add(line.Total())
	}

	at := s.txTime(input.TxTime)
	hasReceipt := input.PaidAmount.IsPositive() || amountDue.IsZero()
	hasInvoice := input.PaidAmount.LessThan(amountDue)
	change := decimal.Max(decimal.Zero, input.PaidAmount.Sub(amountDue))

	transType := TransTypeCashSale
	if hasInvoice {
		transType = TransTypeInvoiceSale
	}

	var result PostingResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var receiptNo, invoiceNo string
		var err error
		if hasReceipt {
			if receiptNo, err = tx.NextNumber(ctx, numbering.KindReceipt, at); err != nil {
				return err
			}
		}
		if hasInvoice {
			if invoiceNo, err = tx.NextNumber(ctx, numbering.KindInvoice, at); err != nil {
				return err
			}
		}

		saleID, err := tx.InsertSale(ctx, Sale{
			TxDate:       at,
			CustomerID:   input.CustomerID,
			FacilityID:   input.FacilityID,
			ReceiptNo:    receiptNo,
			InvoiceNo:    invoiceNo,
			TotalDue:     amountDue,
			TotalPaid:    input.PaidAmount,
			ChangeAmount: change,
			TransType:    transType,
			Year:         at.Year(),
			Month:        int(at.Month()),
			CreatedBy:    input.ActorID,
		})
		if err != nil {
			return err
		}
		if err := tx.InsertItems(ctx, DocSale, saleID, input.Lines); err != nil {
			return err
		}

		if hasReceipt {
			receiptID, err := tx.InsertReceipt(ctx, Receipt{
				Number:     receiptNo,
				SaleID:     saleID,
				CustomerID: input.CustomerID,
				TotalDue:   amountDue,
				TotalPaid:  input.PaidAmount,
			})
			if err != nil {
				return err
			}
			if err := tx.InsertItems(ctx, DocReceipt, receiptID, input.Lines); err != nil {
				return err
			}
		}

		if hasInvoice {
			invoiceID, err := tx.InsertInvoice(ctx, Invoice{
				Number:     invoiceNo,
				SaleID:     saleID,
				CustomerID: input.CustomerID,
				TotalDue:   amountDue,
				TotalPaid:  decimal.Zero,
				BalanceDue: amountDue,
				Status:     InvoiceStatusOpen,
			})
			if err != nil {
				return err
			}
			if err := tx.InsertItems(ctx, DocInvoice, invoiceID, input.Lines); err != nil {
				return err
			}
			if err := tx.InsertInvoiceLog(ctx, InvoiceLogEntry{
				InvoiceNo: invoiceNo,
				RefNo:     invoiceNo,
				Amount:    amountDue,
				Side:      EntryDebit,
				TransType: TransTypeInvoiceSale,
				At:        at,
				ActorID:   input.ActorID,
			}); err != nil {
				return err
			}
			if err := tx.AdjustDebtorBalance(ctx, input.CustomerID, amountDue); err != nil {
				return err
			}
			if err := tx.InsertDebtorLog(ctx, DebtorLogEntry{
				CustomerID: input.CustomerID,
				RefNo:      invoiceNo,
				Amount:     amountDue,
				Side:       EntryDebit,
				TransType:  TransTypeInvoiceSale,
				At:         at,
				ActorID:    input.ActorID,
			}); err != nil {
				return err
			}

			if hasReceipt {
				// Partial payment at sale time pays down the invoice just created.
				if _, err := tx.ApplyInvoicePayment(ctx, invoiceNo, input.PaidAmount); err != nil {
					return err
				}
				if err := tx.InsertInvoiceLog(ctx, InvoiceLogEntry{
					InvoiceNo: invoiceNo,
					RefNo:     receiptNo,
					Amount:    input.PaidAmount,
					Side:      EntryCredit,
					TransType: TransTypePaymentCollect,
					At:        at,
					ActorID:   input.ActorID,
				}); err != nil {
					return err
				}
				if err := tx.AdjustDebtorBalance(ctx, input.CustomerID, input.PaidAmount.Neg()); err != nil {
					return err
				}
				if err := tx.InsertDebtorLog(ctx, DebtorLogEntry{
					CustomerID: input.CustomerID,
					RefNo:      receiptNo,
					Amount:     input.PaidAmount,
					Side:       EntryCredit,
					TransType:  TransTypePaymentCollect,
					At:         at,
					ActorID:    input.ActorID,
				}); err != nil {
					return err
				}
				paymentID, err := tx.InsertInvoicePayment(ctx, InvoicePayment{
					Number:     receiptNo,
					CustomerID: input.CustomerID,
					TotalPaid:  input.PaidAmount,
					Method:     input.Method,
					PaidAt:     at,
					CreatedBy:  input.ActorID,
				})
				if err != nil {
					return err
				}
				if err := tx.InsertPaymentDetail(ctx, InvoicePaymentDetail{
					PaymentID: paymentID,
					InvoiceNo: invoiceNo,
					Amount:    input.PaidAmount,
				}); err != nil {
					return err
				}
			}
		}

		if hasReceipt {
			if err := tx.InsertCollection(ctx, Collection{
				RefNo:   receiptNo,
				Source:  transType,
				Amounts: map[string]decimal.Decimal{input.Method: input.PaidAmount},
				At:      at,
				ActorID: input.ActorID,
			}); err != nil {
				return err
			}
		}

		result = PostingResult{
			SaleID:       saleID,
			ReceiptNo:    receiptNo,
			InvoiceNo:    invoiceNo,
			AmountDue:    amountDue,
			ChangeAmount: change,
		}
		return nil
	})
	s.countPosting("sale", err)
	if err != nil {
		return PostingResult{}, err
	}

	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  input.ActorID,
			Action:   "ledger.post_sale",
			Entity:   "sale",
			EntityID: fmt.Sprintf("%d", result.SaleID),
			Meta: map[string]any{
				"receipt_no": result.ReceiptNo,
				"invoice_no": result.InvoiceNo,
				"amount_due": result.AmountDue.String(),
			},
			At: at,
		})
	}
	return result, nil
}
