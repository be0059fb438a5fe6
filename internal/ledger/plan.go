package ledger

import (
	"errors"
	"sort"

	"github.com/shopspring/decimal"
)

// ReversalStepKind enumerates the operations a reversal plan may contain.
type ReversalStepKind string

const (
	StepVoidPayment ReversalStepKind = "VOID_PAYMENT"
	StepVoidInvoice ReversalStepKind = "VOID_INVOICE"
	StepVoidReceipt ReversalStepKind = "VOID_RECEIPT"
)

// ReversalStep is one ordered operation of a reversal plan.
type ReversalStep struct {
	Kind      ReversalStepKind
	PaymentID int64
	InvoiceNo string
	ReceiptNo string
	Amount    decimal.Decimal
}

// ErrNothingToReverse indicates an empty reversal target.
var ErrNothingToReverse = errors.New("ledger: nothing to reverse")

// InvoiceReversalPlan returns the ordered steps to void an invoice: every
// non-void payment applied to it is voided first, then the invoice itself.
// Payments are ordered by id so the plan is deterministic regardless of how the
// payment list was loaded. Voiding in any other order double-counts the debtor
// adjustment, so callers must execute the steps exactly as returned.
func InvoiceReversalPlan(inv Invoice, payments []InvoicePayment) ([]ReversalStep, error) {
	if inv.Number == "" {
		return nil, ErrNothingToReverse
	}
	live := make([]InvoicePayment, 0, len(payments))
	for _, p := range payments {
		if !p.Voided {
			live = append(live, p)
		}
	}
	sort.Slice(live, func(i, j int) bool { return live[i].ID < live[j].ID })

	steps := make([]ReversalStep, 0, len(live)+1)
	for _, p := range live {
		steps = append(steps, ReversalStep{
			Kind:      StepVoidPayment,
			PaymentID: p.ID,
			InvoiceNo: inv.Number,
			Amount:    p.TotalPaid,
		})
	}
	steps = append(steps, ReversalStep{
		Kind:      StepVoidInvoice,
		InvoiceNo: inv.Number,
		Amount:    inv.TotalDue,
	})
	return steps, nil
}

// ReceiptReversalPlan returns the single-step plan for a cash receipt void.
// A receipt whose sale carries an invoice cannot be voided on its own.
func ReceiptReversalPlan(sale Sale) ([]ReversalStep, error) {
	if sale.ReceiptNo == "" {
		return nil, ErrNothingToReverse
	}
	if sale.InvoiceNo != "" {
		return nil, ErrReceiptHasInvoice
	}
	return []ReversalStep{{
		Kind:      StepVoidReceipt,
		ReceiptNo: sale.ReceiptNo,
		Amount:    sale.TotalPaid,
	}}, nil
}

// PaymentReversalPlan returns the single-step plan for a payment void.
func PaymentReversalPlan(p InvoicePayment) ([]ReversalStep, error) {
	if p.ID == 0 {
		return nil, ErrNothingToReverse
	}
	return []ReversalStep{{
		Kind:      StepVoidPayment,
		PaymentID: p.ID,
		Amount:    p.TotalPaid,
	}}, nil
}
