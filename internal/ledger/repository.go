package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-ledger/internal/numbering"
	"github.com/meridian-erp/meridian-ledger/internal/platform/db"
)

// Repository provides PostgreSQL backed persistence for the ledger engine.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// WithTx executes the callback inside a repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		wrapper := &txRepo{
			tx:   tx,
			nums: numbering.NewService(numbering.NewRepository(tx)),
		}
		return fn(ctx, wrapper)
	})
}

// --- Read side ---

// GetDebtor returns the running balance row for a customer, zero when absent.
func (r *Repository) GetDebtor(ctx context.Context, customerID int64) (Debtor, error) {
	var d Debtor
	err := r.pool.QueryRow(ctx,
		`SELECT customer_id, balance, updated_at FROM debtors WHERE customer_id = $1`,
		customerID,
	).Scan(&d.CustomerID, &d.Balance, &d.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Debtor{CustomerID: customerID, Balance: decimal.Zero}, nil
	}
	if err != nil {
		return Debtor{}, err
	}
	return d, nil
}

// ListDebtorLogs returns the newest ledger rows for a customer.
func (r *Repository) ListDebtorLogs(ctx context.Context, customerID int64, limit int) ([]DebtorLogEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, customer_id, ref_no, amount, side, trans_type, occurred_at, actor_id
		FROM debtor_logs
		WHERE customer_id = $1
		ORDER BY id DESC
		LIMIT $2`,
		customerID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []DebtorLogEntry
	for rows.Next() {
		var e DebtorLogEntry
		if err := rows.Scan(&e.ID, &e.CustomerID, &e.RefNo, &e.Amount, &e.Side, &e.TransType, &e.At, &e.ActorID); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// ListOpenInvoices returns a customer's open invoices, oldest first.
func (r *Repository) ListOpenInvoices(ctx context.Context, customerID int64) ([]Invoice, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, number, sale_id, customer_id, total_due, total_paid, balance_due, status, created_at
		FROM invoices
		WHERE customer_id = $1 AND status = 'OPEN'
		ORDER BY created_at, id`,
		customerID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var invoices []Invoice
	for rows.Next() {
		var inv Invoice
		if err := rows.Scan(&inv.ID, &inv.Number, &inv.SaleID, &inv.CustomerID,
			&inv.TotalDue, &inv.TotalPaid, &inv.BalanceDue, &inv.Status, &inv.CreatedAt); err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// ListVoidedSales returns the newest void history records.
func (r *Repository) ListVoidedSales(ctx context.Context, limit int) ([]VoidedSale, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, void_no, source, receipt_no, invoice_no, payment_no, customer_id,
			total_due, total_paid, balance_due, paid_for_invoice,
			refunded_amount, is_refunded, reason, voided_at, voided_by
		FROM voided_sales
		ORDER BY id DESC
		LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var voided []VoidedSale
	for rows.Next() {
		var v VoidedSale
		if err := scanVoidedSale(rows, &v); err != nil {
			return nil, err
		}
		voided = append(voided, v)
	}
	return voided, rows.Err()
}

// GetVoidedSale returns one voided transaction.
func (r *Repository) GetVoidedSale(ctx context.Context, id int64) (VoidedSale, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, void_no, source, receipt_no, invoice_no, payment_no, customer_id,
			total_due, total_paid, balance_due, paid_for_invoice,
			refunded_amount, is_refunded, reason, voided_at, voided_by
		FROM voided_sales
		WHERE id = $1`,
		id,
	)
	var v VoidedSale
	if err := scanVoidedSale(row, &v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return VoidedSale{}, ErrNotFound
		}
		return VoidedSale{}, err
	}
	return v, nil
}

func scanVoidedSale(row pgx.Row, v *VoidedSale) error {
	return row.Scan(&v.ID, &v.VoidNo, &v.Source, &v.ReceiptNo, &v.InvoiceNo, &v.PaymentNo,
		&v.CustomerID, &v.TotalDue, &v.TotalPaid, &v.BalanceDue, &v.PaidForInvoice,
		&v.RefundedAmount, &v.IsRefunded, &v.Reason, &v.VoidedAt, &v.VoidedBy)
}

// --- Transactional side ---

type txRepo struct {
	tx   pgx.Tx
	nums *numbering.Service
}

func (t *txRepo) NextNumber(ctx context.Context, kind numbering.Kind, at time.Time) (string, error) {
	return t.nums.Next(ctx, kind, at)
}

func (t *txRepo) InsertSale(ctx context.Context, sale Sale) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO sales (
			tx_date, customer_id, facility_id, receipt_no, invoice_no,
			total_due, total_paid, change_amount, trans_type, period_year, period_month,
			created_by, created_at
		) VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), $6, $7, $8, $9, $10, $11, $12, NOW())
		RETURNING id`,
		sale.TxDate, sale.CustomerID, sale.FacilityID, sale.ReceiptNo, sale.InvoiceNo,
		sale.TotalDue, sale.TotalPaid, sale.ChangeAmount, string(sale.TransType),
		sale.Year, sale.Month, sale.CreatedBy,
	).Scan(&id)
	return id, err
}

func (t *txRepo) InsertReceipt(ctx context.Context, receipt Receipt) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO receipts (number, sale_id, customer_id, total_due, total_paid, created_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		RETURNING id`,
		receipt.Number, receipt.SaleID, receipt.CustomerID, receipt.TotalDue, receipt.TotalPaid,
	).Scan(&id)
	return id, err
}

func (t *txRepo) InsertInvoice(ctx context.Context, invoice Invoice) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO invoices (number, sale_id, customer_id, total_due, total_paid, balance_due, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		RETURNING id`,
		invoice.Number, invoice.SaleID, invoice.CustomerID,
		invoice.TotalDue, invoice.TotalPaid, invoice.BalanceDue, string(invoice.Status),
	).Scan(&id)
	return id, err
}

func (t *txRepo) InsertItems(ctx context.Context, kind DocKind, docID int64, items []LineItem) error {
	for _, item := range items {
		_, err := t.tx.Exec(ctx, `
			INSERT INTO document_items (doc_kind, doc_id, product_id, description, quantity, unit_price)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			string(kind), docID, item.ProductID, item.Description, item.Quantity, item.UnitPrice,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

func (t *txRepo) ListItems(ctx context.Context, kind DocKind, docID int64) ([]LineItem, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT product_id, description, quantity, unit_price
		FROM document_items
		WHERE doc_kind = $1 AND doc_id = $2
		ORDER BY id`,
		string(kind), docID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []LineItem
	for rows.Next() {
		var item LineItem
		if err := rows.Scan(&item.ProductID, &item.Description, &item.Quantity, &item.UnitPrice); err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, rows.Err()
}

func (t *txRepo) GetInvoiceForUpdate(ctx context.Context, number string) (Invoice, error) {
	var inv Invoice
	err := t.tx.QueryRow(ctx, `
		SELECT id, number, sale_id, customer_id, total_due, total_paid, balance_due, status, created_at
		FROM invoices
		WHERE number = $1
		FOR UPDATE`,
		number,
	).Scan(&inv.ID, &inv.Number, &inv.SaleID, &inv.CustomerID,
		&inv.TotalDue, &inv.TotalPaid, &inv.BalanceDue, &inv.Status, &inv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrNotFound
	}
	return inv, err
}

// ApplyInvoicePayment pays down an invoice with one atomic update; the status
// flips to CLOSED exactly when the balance reaches zero.
func (t *txRepo) ApplyInvoicePayment(ctx context.Context, number string, amount decimal.Decimal) (Invoice, error) {
	var inv Invoice
	err := t.tx.QueryRow(ctx, `
		UPDATE invoices
		SET balance_due = balance_due - $2,
			total_paid = total_paid + $2,
			status = CASE WHEN balance_due - $2 = 0 THEN 'CLOSED' ELSE status END
		WHERE number = $1 AND status = 'OPEN'
		RETURNING id, number, sale_id, customer_id, total_due, total_paid, balance_due, status, created_at`,
		number, amount,
	).Scan(&inv.ID, &inv.Number, &inv.SaleID, &inv.CustomerID,
		&inv.TotalDue, &inv.TotalPaid, &inv.BalanceDue, &inv.Status, &inv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrInvoiceNotAllocatable
	}
	return inv, err
}

// ReopenInvoice pushes a voided payment's allocation back onto the invoice,
// reverting CLOSED to OPEN.
func (t *txRepo) ReopenInvoice(ctx context.Context, number string, amount decimal.Decimal) (Invoice, error) {
	var inv Invoice
	err := t.tx.QueryRow(ctx, `
		UPDATE invoices
		SET balance_due = balance_due + $2,
			total_paid = total_paid - $2,
			status = CASE WHEN status = 'CLOSED' THEN 'OPEN' ELSE status END
		WHERE number = $1 AND status IN ('OPEN', 'CLOSED')
		RETURNING id, number, sale_id, customer_id, total_due, total_paid, balance_due, status, created_at`,
		number, amount,
	).Scan(&inv.ID, &inv.Number, &inv.SaleID, &inv.CustomerID,
		&inv.TotalDue, &inv.TotalPaid, &inv.BalanceDue, &inv.Status, &inv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, ErrNotFound
	}
	return inv, err
}

func (t *txRepo) InsertInvoicePayment(ctx context.Context, payment InvoicePayment) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO invoice_payments (number, customer_id, total_paid, method, paid_at, created_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		RETURNING id`,
		payment.Number, payment.CustomerID, payment.TotalPaid, payment.Method, payment.PaidAt, payment.CreatedBy,
	).Scan(&id)
	return id, err
}

func (t *txRepo) InsertPaymentDetail(ctx context.Context, detail InvoicePaymentDetail) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO invoice_payment_details (payment_id, invoice_no, amount)
		VALUES ($1, $2, $3)`,
		detail.PaymentID, detail.InvoiceNo, detail.Amount,
	)
	return err
}

func (t *txRepo) ListPaymentDetails(ctx context.Context, paymentID int64) ([]InvoicePaymentDetail, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT id, payment_id, invoice_no, amount
		FROM invoice_payment_details
		WHERE payment_id = $1
		ORDER BY id`,
		paymentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var details []InvoicePaymentDetail
	for rows.Next() {
		var d InvoicePaymentDetail
		if err := rows.Scan(&d.ID, &d.PaymentID, &d.InvoiceNo, &d.Amount); err != nil {
			return nil, err
		}
		details = append(details, d)
	}
	return details, rows.Err()
}

func (t *txRepo) ListPaymentsForInvoice(ctx context.Context, invoiceNo string) ([]InvoicePayment, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT p.id, p.number, p.customer_id, p.total_paid, p.method, p.paid_at, p.voided,
			COALESCE(p.void_no, ''), p.created_by, p.created_at
		FROM invoice_payments p
		JOIN invoice_payment_details d ON d.payment_id = p.id
		WHERE d.invoice_no = $1 AND NOT p.voided
		ORDER BY p.id`,
		invoiceNo,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var payments []InvoicePayment
	for rows.Next() {
		var p InvoicePayment
		if err := rows.Scan(&p.ID, &p.Number, &p.CustomerID, &p.TotalPaid, &p.Method,
			&p.PaidAt, &p.Voided, &p.VoidNo, &p.CreatedBy, &p.CreatedAt); err != nil {
			return nil, err
		}
		payments = append(payments, p)
	}
	return payments, rows.Err()
}

func (t *txRepo) AdjustDebtorBalance(ctx context.Context, customerID int64, delta decimal.Decimal) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO debtors (customer_id, balance, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (customer_id)
		DO UPDATE SET balance = debtors.balance + EXCLUDED.balance, updated_at = NOW()`,
		customerID, delta,
	)
	return err
}

func (t *txRepo) InsertDebtorLog(ctx context.Context, entry DebtorLogEntry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO debtor_logs (customer_id, ref_no, amount, side, trans_type, occurred_at, actor_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.CustomerID, entry.RefNo, entry.Amount, string(entry.Side), string(entry.TransType), entry.At, entry.ActorID,
	)
	return err
}

func (t *txRepo) InsertInvoiceLog(ctx context.Context, entry InvoiceLogEntry) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO invoice_logs (invoice_no, ref_no, amount, side, trans_type, occurred_at, actor_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		entry.InvoiceNo, entry.RefNo, entry.Amount, string(entry.Side), string(entry.TransType), entry.At, entry.ActorID,
	)
	return err
}

func (t *txRepo) InsertCollection(ctx context.Context, collection Collection) error {
	amounts, err := json.Marshal(collection.Amounts)
	if err != nil {
		return err
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO collections (ref_no, source, amounts, occurred_at, actor_id)
		VALUES ($1, $2, $3, $4, $5)`,
		collection.RefNo, string(collection.Source), amounts, collection.At, collection.ActorID,
	)
	return err
}

func (t *txRepo) GetSaleByReceipt(ctx context.Context, receiptNo string) (Sale, error) {
	var sale Sale
	err := t.tx.QueryRow(ctx, `
		SELECT id, tx_date, customer_id, facility_id, COALESCE(receipt_no, ''), COALESCE(invoice_no, ''),
			total_due, total_paid, change_amount, trans_type, period_year, period_month,
			voided, created_by, created_at
		FROM sales
		WHERE receipt_no = $1
		FOR UPDATE`,
		receiptNo,
	).Scan(&sale.ID, &sale.TxDate, &sale.CustomerID, &sale.FacilityID, &sale.ReceiptNo, &sale.InvoiceNo,
		&sale.TotalDue, &sale.TotalPaid, &sale.ChangeAmount, &sale.TransType, &sale.Year, &sale.Month,
		&sale.Voided, &sale.CreatedBy, &sale.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Sale{}, ErrNotFound
	}
	return sale, err
}

// ClaimSaleVoid flips the sale's void flag with a conditional update; a second
// void attempt affects zero rows and fails.
func (t *txRepo) ClaimSaleVoid(ctx context.Context, saleID int64, meta VoidMeta) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE sales
		SET voided = TRUE, void_no = $2, void_reason = $3, voided_at = $4, voided_by = $5,
			trans_type = $6
		WHERE id = $1 AND NOT voided`,
		saleID, meta.Number, meta.Reason, meta.At, meta.ActorID, string(TransTypeSaleCancellation),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyVoided
	}
	return nil
}

func (t *txRepo) ClaimReceiptVoid(ctx context.Context, receiptNo string, meta VoidMeta) (Receipt, error) {
	var receipt Receipt
	err := t.tx.QueryRow(ctx, `
		UPDATE receipts
		SET voided = TRUE, void_no = $2
		WHERE number = $1 AND NOT voided
		RETURNING id, number, sale_id, customer_id, total_due, total_paid, voided, COALESCE(void_no, ''), created_at`,
		receiptNo, meta.Number,
	).Scan(&receipt.ID, &receipt.Number, &receipt.SaleID, &receipt.CustomerID,
		&receipt.TotalDue, &receipt.TotalPaid, &receipt.Voided, &receipt.VoidNo, &receipt.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Receipt{}, t.claimMiss(ctx, `SELECT 1 FROM receipts WHERE number = $1`, receiptNo)
	}
	return receipt, err
}

func (t *txRepo) ClaimInvoiceVoid(ctx context.Context, number string, meta VoidMeta) (Invoice, error) {
	var inv Invoice
	err := t.tx.QueryRow(ctx, `
		UPDATE invoices
		SET status = 'CANCELLED', void_no = $2, void_reason = $3, voided_at = $4, voided_by = $5
		WHERE number = $1 AND status IN ('OPEN', 'CLOSED')
		RETURNING id, number, sale_id, customer_id, total_due, total_paid, balance_due, status, created_at`,
		number, meta.Number, meta.Reason, meta.At, meta.ActorID,
	).Scan(&inv.ID, &inv.Number, &inv.SaleID, &inv.CustomerID,
		&inv.TotalDue, &inv.TotalPaid, &inv.BalanceDue, &inv.Status, &inv.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Invoice{}, t.claimMiss(ctx, `SELECT 1 FROM invoices WHERE number = $1`, number)
	}
	return inv, err
}

func (t *txRepo) ClaimPaymentVoid(ctx context.Context, paymentID int64, meta VoidMeta) (InvoicePayment, error) {
	var p InvoicePayment
	err := t.tx.QueryRow(ctx, `
		UPDATE invoice_payments
		SET voided = TRUE, void_no = $2
		WHERE id = $1 AND NOT voided
		RETURNING id, number, customer_id, total_paid, method, paid_at, voided, COALESCE(void_no, ''), created_by, created_at`,
		paymentID, meta.Number,
	).Scan(&p.ID, &p.Number, &p.CustomerID, &p.TotalPaid, &p.Method,
		&p.PaidAt, &p.Voided, &p.VoidNo, &p.CreatedBy, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return InvoicePayment{}, t.claimMiss(ctx, `SELECT 1 FROM invoice_payments WHERE id = $1`, paymentID)
	}
	return p, err
}

// claimMiss distinguishes an already-voided row from a missing one.
func (t *txRepo) claimMiss(ctx context.Context, existsQuery string, arg any) error {
	var one int
	err := t.tx.QueryRow(ctx, existsQuery, arg).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	return ErrAlreadyVoided
}

func (t *txRepo) InsertVoidedSale(ctx context.Context, voided VoidedSale) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO voided_sales (
			void_no, source, receipt_no, invoice_no, payment_no, customer_id,
			total_due, total_paid, balance_due, paid_for_invoice,
			refunded_amount, is_refunded, reason, voided_at, voided_by
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 0, FALSE, $11, $12, $13)
		RETURNING id`,
		voided.VoidNo, string(voided.Source), voided.ReceiptNo, voided.InvoiceNo, voided.PaymentNo,
		voided.CustomerID, voided.TotalDue, voided.TotalPaid, voided.BalanceDue, voided.PaidForInvoice,
		voided.Reason, voided.VoidedAt, voided.VoidedBy,
	).Scan(&id)
	return id, err
}

func (t *txRepo) InsertRefund(ctx context.Context, refund Refund) (int64, error) {
	var id int64
	err := t.tx.QueryRow(ctx, `
		INSERT INTO refunds (number, voided_sale_id, amount, method, remarks, occurred_at, actor_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		refund.Number, refund.VoidedSaleID, refund.Amount, refund.Method, refund.Remarks, refund.At, refund.ActorID,
	).Scan(&id)
	return id, err
}

func (t *txRepo) GetVoidedSaleForUpdate(ctx context.Context, id int64) (VoidedSale, error) {
	row := t.tx.QueryRow(ctx, `
		SELECT id, void_no, source, receipt_no, invoice_no, payment_no, customer_id,
			total_due, total_paid, balance_due, paid_for_invoice,
			refunded_amount, is_refunded, reason, voided_at, voided_by
		FROM voided_sales
		WHERE id = $1
		FOR UPDATE`,
		id,
	)
	var v VoidedSale
	if err := scanVoidedSale(row, &v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return VoidedSale{}, ErrNotFound
		}
		return VoidedSale{}, err
	}
	return v, nil
}

// AddRefund bumps the refunded counter atomically; the is_refunded flag holds
// exactly when the running total reaches what was originally paid.
func (t *txRepo) AddRefund(ctx context.Context, voidedSaleID int64, amount decimal.Decimal) (VoidedSale, error) {
	row := t.tx.QueryRow(ctx, `
		UPDATE voided_sales
		SET refunded_amount = refunded_amount + $2,
			is_refunded = (refunded_amount + $2) >= total_paid
		WHERE id = $1
		RETURNING id, void_no, source, receipt_no, invoice_no, payment_no, customer_id,
			total_due, total_paid, balance_due, paid_for_invoice,
			refunded_amount, is_refunded, reason, voided_at, voided_by`,
		voidedSaleID, amount,
	)
	var v VoidedSale
	if err := scanVoidedSale(row, &v); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return VoidedSale{}, ErrNotFound
		}
		return VoidedSale{}, err
	}
	return v, nil
}
