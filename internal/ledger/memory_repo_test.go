package ledger

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-ledger/internal/numbering"
)

// memoryLedgerRepo implements RepositoryPort and TxRepository with the same
// conditional-update semantics as the SQL layer. WithTx snapshots the state so
// a failed callback leaves nothing behind, like a rolled-back transaction.
type memoryLedgerRepo struct {
	sales       map[int64]Sale
	receipts    map[string]Receipt
	invoices    map[string]Invoice
	invoiceNos  []string
	items       map[string][]LineItem
	payments    map[int64]InvoicePayment
	details     map[int64][]InvoicePaymentDetail
	debtors     map[int64]decimal.Decimal
	debtorLogs  []DebtorLogEntry
	invoiceLogs []InvoiceLogEntry
	collections []Collection
	voided      map[int64]VoidedSale
	refunds     map[int64]Refund
	seq         map[numbering.Kind]int64
	nextID      int64
}

func newMemoryLedgerRepo() *memoryLedgerRepo {
	return &memoryLedgerRepo{
		sales:    make(map[int64]Sale),
		receipts: make(map[string]Receipt),
		invoices: make(map[string]Invoice),
		items:    make(map[string][]LineItem),
		payments: make(map[int64]InvoicePayment),
		details:  make(map[int64][]InvoicePaymentDetail),
		debtors:  make(map[int64]decimal.Decimal),
		voided:   make(map[int64]VoidedSale),
		refunds:  make(map[int64]Refund),
		seq:      make(map[numbering.Kind]int64),
	}
}

func (r *memoryLedgerRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	snapshot := r.clone()
	if err := fn(ctx, r); err != nil {
		*r = *snapshot
		return err
	}
	return nil
}

func (r *memoryLedgerRepo) clone() *memoryLedgerRepo {
	out := newMemoryLedgerRepo()
	for k, v := range r.sales {
		out.sales[k] = v
	}
	for k, v := range r.receipts {
		out.receipts[k] = v
	}
	for k, v := range r.invoices {
		out.invoices[k] = v
	}
	out.invoiceNos = append([]string(nil), r.invoiceNos...)
	for k, v := range r.items {
		out.items[k] = append([]LineItem(nil), v...)
	}
	for k, v := range r.payments {
		out.payments[k] = v
	}
	for k, v := range r.details {
		out.details[k] = append([]InvoicePaymentDetail(nil), v...)
	}
	for k, v := range r.debtors {
		out.debtors[k] = v
	}
	out.debtorLogs = append([]DebtorLogEntry(nil), r.debtorLogs...)
	out.invoiceLogs = append([]InvoiceLogEntry(nil), r.invoiceLogs...)
	out.collections = append([]Collection(nil), r.collections...)
	for k, v := range r.voided {
		out.voided[k] = v
	}
	for k, v := range r.refunds {
		out.refunds[k] = v
	}
	for k, v := range r.seq {
		out.seq[k] = v
	}
	out.nextID = r.nextID
	return out
}

func (r *memoryLedgerRepo) id() int64 {
	r.nextID++
	return r.nextID
}

func itemsKey(kind DocKind, docID int64) string {
	return fmt.Sprintf("%s:%d", kind, docID)
}

// --- TxRepository ---

func (r *memoryLedgerRepo) NextNumber(_ context.Context, kind numbering.Kind, _ time.Time) (string, error) {
	prefix := kind.Prefix()
	if prefix == "" {
		return "", numbering.ErrUnknownKind
	}
	r.seq[kind]++
	return fmt.Sprintf("%s-%04d", prefix, r.seq[kind]), nil
}

func (r *memoryLedgerRepo) InsertSale(_ context.Context, sale Sale) (int64, error) {
	sale.ID = r.id()
	r.sales[sale.ID] = sale
	return sale.ID, nil
}

func (r *memoryLedgerRepo) InsertReceipt(_ context.Context, receipt Receipt) (int64, error) {
	receipt.ID = r.id()
	r.receipts[receipt.Number] = receipt
	return receipt.ID, nil
}

func (r *memoryLedgerRepo) InsertInvoice(_ context.Context, invoice Invoice) (int64, error) {
	invoice.ID = r.id()
	invoice.CreatedAt = time.Now()
	r.invoices[invoice.Number] = invoice
	r.invoiceNos = append(r.invoiceNos, invoice.Number)
	return invoice.ID, nil
}

func (r *memoryLedgerRepo) InsertItems(_ context.Context, kind DocKind, docID int64, items []LineItem) error {
	key := itemsKey(kind, docID)
	r.items[key] = append(r.items[key], items...)
	return nil
}

func (r *memoryLedgerRepo) ListItems(_ context.Context, kind DocKind, docID int64) ([]LineItem, error) {
	return append([]LineItem(nil), r.items[itemsKey(kind, docID)]...), nil
}

func (r *memoryLedgerRepo) GetInvoiceForUpdate(_ context.Context, number string) (Invoice, error) {
	inv, ok := r.invoices[number]
	if !ok {
		return Invoice{}, ErrNotFound
	}
	return inv, nil
}

func (r *memoryLedgerRepo) ApplyInvoicePayment(_ context.Context, number string, amount decimal.Decimal) (Invoice, error) {
	inv, ok := r.invoices[number]
	if !ok || inv.Status != InvoiceStatusOpen {
		return Invoice{}, ErrInvoiceNotAllocatable
	}
	inv.BalanceDue = inv.BalanceDue.Sub(amount)
	inv.TotalPaid = inv.TotalPaid.Add(amount)
	if inv.BalanceDue.IsZero() {
		inv.Status = InvoiceStatusClosed
	}
	r.invoices[number] = inv
	return inv, nil
}

func (r *memoryLedgerRepo) ReopenInvoice(_ context.Context, number string, amount decimal.Decimal) (Invoice, error) {
	inv, ok := r.invoices[number]
	if !ok || inv.Status == InvoiceStatusCancelled {
		return Invoice{}, ErrNotFound
	}
	inv.BalanceDue = inv.BalanceDue.Add(amount)
	inv.TotalPaid = inv.TotalPaid.Sub(amount)
	if inv.Status == InvoiceStatusClosed {
		inv.Status = InvoiceStatusOpen
	}
	r.invoices[number] = inv
	return inv, nil
}

func (r *memoryLedgerRepo) InsertInvoicePayment(_ context.Context, payment InvoicePayment) (int64, error) {
	payment.ID = r.id()
	r.payments[payment.ID] = payment
	return payment.ID, nil
}

func (r *memoryLedgerRepo) InsertPaymentDetail(_ context.Context, detail InvoicePaymentDetail) error {
	detail.ID = r.id()
	r.details[detail.PaymentID] = append(r.details[detail.PaymentID], detail)
	return nil
}

func (r *memoryLedgerRepo) ListPaymentDetails(_ context.Context, paymentID int64) ([]InvoicePaymentDetail, error) {
	return append([]InvoicePaymentDetail(nil), r.details[paymentID]...), nil
}

func (r *memoryLedgerRepo) ListPaymentsForInvoice(_ context.Context, invoiceNo string) ([]InvoicePayment, error) {
	var out []InvoicePayment
	for paymentID, details := range r.details {
		p := r.payments[paymentID]
		if p.Voided {
			continue
		}
		for _, d := range details {
			if d.InvoiceNo == invoiceNo {
				out = append(out, p)
				break
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *memoryLedgerRepo) AdjustDebtorBalance(_ context.Context, customerID int64, delta decimal.Decimal) error {
	r.debtors[customerID] = r.debtors[customerID].Add(delta)
	return nil
}

func (r *memoryLedgerRepo) InsertDebtorLog(_ context.Context, entry DebtorLogEntry) error {
	entry.ID = r.id()
	r.debtorLogs = append(r.debtorLogs, entry)
	return nil
}

func (r *memoryLedgerRepo) InsertInvoiceLog(_ context.Context, entry InvoiceLogEntry) error {
	entry.ID = r.id()
	r.invoiceLogs = append(r.invoiceLogs, entry)
	return nil
}

func (r *memoryLedgerRepo) InsertCollection(_ context.Context, collection Collection) error {
	collection.ID = r.id()
	r.collections = append(r.collections, collection)
	return nil
}

func (r *memoryLedgerRepo) GetSaleByReceipt(_ context.Context, receiptNo string) (Sale, error) {
	for _, sale := range r.sales {
		if sale.ReceiptNo == receiptNo {
			return sale, nil
		}
	}
	return Sale{}, ErrNotFound
}

func (r *memoryLedgerRepo) ClaimSaleVoid(_ context.Context, saleID int64, meta VoidMeta) error {
	sale, ok := r.sales[saleID]
	if !ok {
		return ErrNotFound
	}
	if sale.Voided {
		return ErrAlreadyVoided
	}
	sale.Voided = true
	sale.VoidNo = meta.Number
	sale.VoidReason = meta.Reason
	at := meta.At
	sale.VoidedAt = &at
	actor := meta.ActorID
	sale.VoidedBy = &actor
	sale.TransType = TransTypeSaleCancellation
	r.sales[saleID] = sale
	return nil
}

func (r *memoryLedgerRepo) ClaimReceiptVoid(_ context.Context, receiptNo string, meta VoidMeta) (Receipt, error) {
	receipt, ok := r.receipts[receiptNo]
	if !ok {
		return Receipt{}, ErrNotFound
	}
	if receipt.Voided {
		return Receipt{}, ErrAlreadyVoided
	}
	receipt.Voided = true
	receipt.VoidNo = meta.Number
	r.receipts[receiptNo] = receipt
	return receipt, nil
}

func (r *memoryLedgerRepo) ClaimInvoiceVoid(_ context.Context, number string, meta VoidMeta) (Invoice, error) {
	inv, ok := r.invoices[number]
	if !ok {
		return Invoice{}, ErrNotFound
	}
	if inv.Status == InvoiceStatusCancelled {
		return Invoice{}, ErrAlreadyVoided
	}
	inv.Status = InvoiceStatusCancelled
	inv.VoidNo = meta.Number
	inv.VoidReason = meta.Reason
	at := meta.At
	inv.VoidedAt = &at
	actor := meta.ActorID
	inv.VoidedBy = &actor
	r.invoices[number] = inv
	return inv, nil
}

func (r *memoryLedgerRepo) ClaimPaymentVoid(_ context.Context, paymentID int64, meta VoidMeta) (InvoicePayment, error) {
	p, ok := r.payments[paymentID]
	if !ok {
		return InvoicePayment{}, ErrNotFound
	}
	if p.Voided {
		return InvoicePayment{}, ErrAlreadyVoided
	}
	p.Voided = true
	p.VoidNo = meta.Number
	r.payments[paymentID] = p
	return p, nil
}

func (r *memoryLedgerRepo) InsertVoidedSale(_ context.Context, voided VoidedSale) (int64, error) {
	voided.ID = r.id()
	voided.RefundedAmount = decimal.Zero
	voided.IsRefunded = false
	r.voided[voided.ID] = voided
	return voided.ID, nil
}

func (r *memoryLedgerRepo) GetVoidedSaleForUpdate(_ context.Context, id int64) (VoidedSale, error) {
	v, ok := r.voided[id]
	if !ok {
		return VoidedSale{}, ErrNotFound
	}
	return v, nil
}

func (r *memoryLedgerRepo) AddRefund(_ context.Context, voidedSaleID int64, amount decimal.Decimal) (VoidedSale, error) {
	v, ok := r.voided[voidedSaleID]
	if !ok {
		return VoidedSale{}, ErrNotFound
	}
	v.RefundedAmount = v.RefundedAmount.Add(amount)
	v.IsRefunded = v.RefundedAmount.GreaterThanOrEqual(v.TotalPaid)
	r.voided[voidedSaleID] = v
	return v, nil
}

func (r *memoryLedgerRepo) InsertRefund(_ context.Context, refund Refund) (int64, error) {
	refund.ID = r.id()
	r.refunds[refund.ID] = refund
	return refund.ID, nil
}

// --- RepositoryPort reads ---

func (r *memoryLedgerRepo) GetDebtor(_ context.Context, customerID int64) (Debtor, error) {
	balance, ok := r.debtors[customerID]
	if !ok {
		balance = decimal.Zero
	}
	return Debtor{CustomerID: customerID, Balance: balance}, nil
}

func (r *memoryLedgerRepo) ListDebtorLogs(_ context.Context, customerID int64, limit int) ([]DebtorLogEntry, error) {
	var out []DebtorLogEntry
	for i := len(r.debtorLogs) - 1; i >= 0 && len(out) < limit; i-- {
		if r.debtorLogs[i].CustomerID == customerID {
			out = append(out, r.debtorLogs[i])
		}
	}
	return out, nil
}

func (r *memoryLedgerRepo) ListOpenInvoices(_ context.Context, customerID int64) ([]Invoice, error) {
	var out []Invoice
	for _, number := range r.invoiceNos {
		inv := r.invoices[number]
		if inv.CustomerID == customerID && inv.Status == InvoiceStatusOpen {
			out = append(out, inv)
		}
	}
	return out, nil
}

func (r *memoryLedgerRepo) ListVoidedSales(_ context.Context, limit int) ([]VoidedSale, error) {
	var out []VoidedSale
	for _, v := range r.voided {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *memoryLedgerRepo) GetVoidedSale(_ context.Context, id int64) (VoidedSale, error) {
	v, ok := r.voided[id]
	if !ok {
		return VoidedSale{}, ErrNotFound
	}
	return v, nil
}

// invoiceLogNet sums debit minus credit rows for one invoice.
func (r *memoryLedgerRepo) invoiceLogNet(invoiceNo string) decimal.Decimal {
	net := decimal.Zero
	for _, e := range r.invoiceLogs {
		if e.InvoiceNo != invoiceNo {
			continue
		}
		if e.Side == EntryDebit {
			net = net.Add(e.Amount)
		} else {
			net = net.Sub(e.Amount)
		}
	}
	return net
}
