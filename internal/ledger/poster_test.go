package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func newTestService(t *testing.T) (*Service, *memoryLedgerRepo) {
	t.Helper()
	repo := newMemoryLedgerRepo()
	svc := NewService(repo, nil)
	svc.WithNow(func() time.Time {
		return time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	})
	return svc, repo
}

func twoLines() []LineItem {
	return []LineItem{
		{ProductID: 1, Description: "Widget", Quantity: dec("2"), UnitPrice: dec("300")},
		{ProductID: 2, Description: "Gadget", Quantity: dec("4"), UnitPrice: dec("100")},
	}
}

func TestPostSaleCashOnly(t *testing.T) {
	svc, repo := newTestService(t)

	result, err := svc.PostSale(context.Background(), PostSaleInput{
		CustomerID: 7,
		Lines:      twoLines(),
		PaidAmount: dec("1200"),
		Method:     "CASH",
		ActorID:    1,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.ReceiptNo)
	require.Empty(t, result.InvoiceNo)
	require.True(t, result.AmountDue.Equal(dec("1000")))
	require.True(t, result.ChangeAmount.Equal(dec("200")))

	receipt := repo.receipts[result.ReceiptNo]
	require.True(t, receipt.TotalPaid.Equal(dec("1200")))

	// Cash sales never touch the debtor ledger.
	debtor, err := repo.GetDebtor(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, debtor.Balance.IsZero())
	require.Empty(t, repo.debtorLogs)

	require.Len(t, repo.collections, 1)
	require.True(t, repo.collections[0].Amounts["CASH"].Equal(dec("1200")))
}

func TestPostSaleInvoiceOnly(t *testing.T) {
	svc, repo := newTestService(t)

	result, err := svc.PostSale(context.Background(), PostSaleInput{
		CustomerID: 7,
		Lines:      twoLines(),
		PaidAmount: decimal.Zero,
		Method:     "CASH",
		ActorID:    1,
	})
	require.NoError(t, err)
	require.Empty(t, result.ReceiptNo)
	require.NotEmpty(t, result.InvoiceNo)

	inv := repo.invoices[result.InvoiceNo]
	require.Equal(t, InvoiceStatusOpen, inv.Status)
	require.True(t, inv.TotalDue.Equal(dec("1000")))
	require.True(t, inv.BalanceDue.Equal(dec("1000")))
	require.True(t, inv.TotalPaid.IsZero())

	debtor, err := repo.GetDebtor(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, debtor.Balance.Equal(dec("1000")))

	require.Len(t, repo.debtorLogs, 1)
	require.Equal(t, EntryDebit, repo.debtorLogs[0].Side)

	// No tender, no collection row.
	require.Empty(t, repo.collections)
}

func TestPostSalePartialPayment(t *testing.T) {
	svc, repo := newTestService(t)

	result, err := svc.PostSale(context.Background(), PostSaleInput{
		CustomerID: 7,
		Lines:      twoLines(),
		PaidAmount: dec("400"),
		Method:     "CASH",
		ActorID:    1,
	})
	require.NoError(t, err)
	require.NotEmpty(t, result.ReceiptNo)
	require.NotEmpty(t, result.InvoiceNo)
	require.True(t, result.ChangeAmount.IsZero())

	inv := repo.invoices[result.InvoiceNo]
	require.Equal(t, InvoiceStatusOpen, inv.Status)
	require.True(t, inv.BalanceDue.Equal(dec("600")))
	require.True(t, inv.TotalPaid.Equal(dec("400")))

	// Debtor carries only the unpaid remainder.
	debtor, err := repo.GetDebtor(context.Background(), 7)
	require.NoError(t, err)
	require.True(t, debtor.Balance.Equal(dec("600")))

	// The partial payment is a first-class payment record against the invoice.
	payments, err := repo.ListPaymentsForInvoice(context.Background(), result.InvoiceNo)
	require.NoError(t, err)
	require.Len(t, payments, 1)
	require.True(t, payments[0].TotalPaid.Equal(dec("400")))

	require.True(t, repo.invoiceLogNet(result.InvoiceNo).Equal(dec("600")))
}

func TestPostSaleZeroTotalZeroPaid(t *testing.T) {
	svc, repo := newTestService(t)

	result, err := svc.PostSale(context.Background(), PostSaleInput{
		CustomerID: 7,
		Lines: []LineItem{
			{ProductID: 3, Description: "Sample", Quantity: dec("1"), UnitPrice: decimal.Zero},
		},
		PaidAmount: decimal.Zero,
		Method:     "CASH",
		ActorID:    1,
	})
	require.NoError(t, err)
	// A fully-settled zero sale still emits a receipt, never an invoice.
	require.NotEmpty(t, result.ReceiptNo)
	require.Empty(t, result.InvoiceNo)
	require.Empty(t, repo.invoices)
}

func TestPostSaleRejectsBadInput(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	_, err := svc.PostSale(ctx, PostSaleInput{CustomerID: 7, PaidAmount: dec("10")})
	require.ErrorIs(t, err, ErrEmptyLines)

	_, err = svc.PostSale(ctx, PostSaleInput{
		CustomerID: 7,
		Lines:      twoLines(),
		PaidAmount: dec("-1"),
	})
	require.ErrorIs(t, err, ErrInvalidAmount)

	_, err = svc.PostSale(ctx, PostSaleInput{
		CustomerID: 7,
		Lines: []LineItem{
			{ProductID: 1, Quantity: dec("-2"), UnitPrice: dec("10")},
		},
		PaidAmount: dec("10"),
	})
	require.ErrorIs(t, err, ErrInvalidAmount)

	require.Empty(t, repo.sales)
	require.Empty(t, repo.receipts)
}

func TestPostSaleBackdatedTxTime(t *testing.T) {
	svc, repo := newTestService(t)

	backdated := time.Date(2026, 1, 2, 8, 30, 0, 0, time.UTC)
	result, err := svc.PostSale(context.Background(), PostSaleInput{
		CustomerID: 7,
		Lines:      twoLines(),
		PaidAmount: dec("1000"),
		Method:     "CASH",
		ActorID:    1,
		TxTime:     backdated,
	})
	require.NoError(t, err)

	sale := repo.sales[result.SaleID]
	require.Equal(t, backdated, sale.TxDate)
	require.Equal(t, 2026, sale.Year)
	require.Equal(t, 1, sale.Month)
}
