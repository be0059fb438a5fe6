package ledger

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestVoidReceiptReversesCashSale(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	posted, err := svc.PostSale(ctx, PostSaleInput{
		CustomerID: 7,
		Lines:      twoLines(),
		PaidAmount: dec("1000"),
		Method:     "CASH",
		ActorID:    1,
	})
	require.NoError(t, err)

	result, err := svc.VoidReceipt(ctx, posted.ReceiptNo, VoidInput{Reason: "wrong items", ActorID: 3})
	require.NoError(t, err)
	require.NotEmpty(t, result.VoidNo)

	sale := repo.sales[posted.SaleID]
	require.True(t, sale.Voided)
	require.Equal(t, TransTypeSaleCancellation, sale.TransType)
	require.True(t, repo.receipts[posted.ReceiptNo].Voided)

	voided := repo.voided[result.VoidedSaleID]
	require.Equal(t, VoidSourceCashSale, voided.Source)
	require.True(t, voided.TotalPaid.Equal(dec("1000")))
	require.True(t, voided.Refundable().Equal(dec("1000")))

	// Receipt and sale each get compensating negative rows; the voided sale
	// keeps positive historical copies.
	receiptItems, err := repo.ListItems(ctx, DocReceipt, repo.receipts[posted.ReceiptNo].ID)
	require.NoError(t, err)
	require.Len(t, receiptItems, 4)
	qty := decimal.Zero
	for _, item := range receiptItems {
		qty = qty.Add(item.Quantity)
	}
	require.True(t, qty.IsZero())

	copies, err := repo.ListItems(ctx, DocVoidedSale, result.VoidedSaleID)
	require.NoError(t, err)
	require.Len(t, copies, 2)
	for _, item := range copies {
		require.True(t, item.Quantity.IsPositive())
	}
}

func TestVoidReceiptTwiceFails(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	posted, err := svc.PostSale(ctx, PostSaleInput{
		CustomerID: 7,
		Lines:      twoLines(),
		PaidAmount: dec("1000"),
		Method:     "CASH",
		ActorID:    1,
	})
	require.NoError(t, err)

	_, err = svc.VoidReceipt(ctx, posted.ReceiptNo, VoidInput{Reason: "first", ActorID: 3})
	require.NoError(t, err)
	_, err = svc.VoidReceipt(ctx, posted.ReceiptNo, VoidInput{Reason: "second", ActorID: 3})
	require.ErrorIs(t, err, ErrAlreadyVoided)
}

func TestVoidReceiptRejectsInvoiceLinkedSale(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	// Partial payment produces both a receipt and an invoice.
	posted, err := svc.PostSale(ctx, PostSaleInput{
		CustomerID: 7,
		Lines:      twoLines(),
		PaidAmount: dec("400"),
		Method:     "CASH",
		ActorID:    1,
	})
	require.NoError(t, err)
	require.NotEmpty(t, posted.InvoiceNo)

	_, err = svc.VoidReceipt(ctx, posted.ReceiptNo, VoidInput{Reason: "oops", ActorID: 3})
	require.ErrorIs(t, err, ErrReceiptHasInvoice)
}

func TestVoidInvoiceVoidsPaymentsFirst(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	invoiceNo := postInvoiceSale(t, svc, 7, "1000")

	// Two separate collections against the invoice.
	_, err := svc.AllocatePayment(ctx, AllocatePaymentInput{
		CustomerID: 7, PaidAmount: dec("600"), InvoiceNos: []string{invoiceNo}, Method: "CASH", ActorID: 2,
	})
	require.NoError(t, err)
	_, err = svc.AllocatePayment(ctx, AllocatePaymentInput{
		CustomerID: 7, PaidAmount: dec("400"), InvoiceNos: []string{invoiceNo}, Method: "CASH", ActorID: 2,
	})
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusClosed, repo.invoices[invoiceNo].Status)

	result, err := svc.VoidInvoice(ctx, invoiceNo, VoidInput{Reason: "order cancelled", ActorID: 3})
	require.NoError(t, err)

	require.Equal(t, InvoiceStatusCancelled, repo.invoices[invoiceNo].Status)
	for _, p := range repo.payments {
		require.True(t, p.Voided)
	}

	// Payment voids plus the invoice void: three history records.
	require.Len(t, repo.voided, 3)
	invoiceVoid := repo.voided[result.VoidedSaleID]
	require.Equal(t, VoidSourceInvoiceSale, invoiceVoid.Source)
	// The payment collections were reversed separately, so the invoice-level
	// record holds no refundable cash itself.
	require.True(t, invoiceVoid.TotalPaid.IsZero())

	paymentRefundable := decimal.Zero
	for _, v := range repo.voided {
		if v.Source == VoidSourceInvoicePayment {
			paymentRefundable = paymentRefundable.Add(v.Refundable())
		}
	}
	require.True(t, paymentRefundable.Equal(dec("1000")))

	// Debtor nets back to the pre-sale balance.
	debtor, err := repo.GetDebtor(ctx, 7)
	require.NoError(t, err)
	require.True(t, debtor.Balance.IsZero())

	// The invoice ledger nets to zero across posting, payments, and voids.
	require.True(t, repo.invoiceLogNet(invoiceNo).IsZero())
}

func TestVoidInvoiceTwiceFails(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	invoiceNo := postInvoiceSale(t, svc, 7, "500")
	_, err := svc.VoidInvoice(ctx, invoiceNo, VoidInput{Reason: "first", ActorID: 3})
	require.NoError(t, err)
	_, err = svc.VoidInvoice(ctx, invoiceNo, VoidInput{Reason: "second", ActorID: 3})
	require.ErrorIs(t, err, ErrAlreadyVoided)
}

func TestVoidPaymentReopensClosedInvoice(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	invoiceNo := postInvoiceSale(t, svc, 7, "300")
	allocation, err := svc.AllocatePayment(ctx, AllocatePaymentInput{
		CustomerID: 7, PaidAmount: dec("300"), InvoiceNos: []string{invoiceNo}, Method: "CASH", ActorID: 2,
	})
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusClosed, repo.invoices[invoiceNo].Status)

	var paymentID int64
	for id := range repo.payments {
		paymentID = id
	}
	result, err := svc.VoidPayment(ctx, paymentID, VoidInput{Reason: "bounced cheque", ActorID: 3})
	require.NoError(t, err)

	inv := repo.invoices[invoiceNo]
	require.Equal(t, InvoiceStatusOpen, inv.Status)
	require.True(t, inv.BalanceDue.Equal(dec("300")))
	require.True(t, inv.TotalPaid.IsZero())

	// Debt is restored in full.
	debtor, err := repo.GetDebtor(ctx, 7)
	require.NoError(t, err)
	require.True(t, debtor.Balance.Equal(dec("300")))

	voided := repo.voided[result.VoidedSaleID]
	require.Equal(t, VoidSourceInvoicePayment, voided.Source)
	require.Equal(t, allocation.PaymentNo, voided.PaymentNo)
	require.True(t, voided.Refundable().Equal(dec("300")))
}

func TestVoidPaymentTwiceFails(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	invoiceNo := postInvoiceSale(t, svc, 7, "300")
	_, err := svc.AllocatePayment(ctx, AllocatePaymentInput{
		CustomerID: 7, PaidAmount: dec("300"), InvoiceNos: []string{invoiceNo}, Method: "CASH", ActorID: 2,
	})
	require.NoError(t, err)

	var paymentID int64
	for id := range repo.payments {
		paymentID = id
	}
	_, err = svc.VoidPayment(ctx, paymentID, VoidInput{Reason: "first", ActorID: 3})
	require.NoError(t, err)
	_, err = svc.VoidPayment(ctx, paymentID, VoidInput{Reason: "second", ActorID: 3})
	require.ErrorIs(t, err, ErrAlreadyVoided)
}

func TestVoidReceiptUnknownNumber(t *testing.T) {
	svc, _ := newTestService(t)

	_, err := svc.VoidReceipt(context.Background(), "RCP-9999", VoidInput{Reason: "nope", ActorID: 3})
	require.ErrorIs(t, err, ErrNotFound)
}
