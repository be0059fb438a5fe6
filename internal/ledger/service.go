package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-ledger/internal/numbering"
	"github.com/meridian-erp/meridian-ledger/internal/shared"
)

// TxRepository exposes the storage operations available inside one posting
// transaction. Balance mutations are expressed as atomic increments at the
// storage layer, never as read-modify-write on loaded rows.
type TxRepository interface {
	NextNumber(ctx context.Context, kind numbering.Kind, at time.Time) (string, error)

	InsertSale(ctx context.Context, sale Sale) (int64, error)
	InsertReceipt(ctx context.Context, receipt Receipt) (int64, error)
	InsertInvoice(ctx context.Context, invoice Invoice) (int64, error)
	InsertItems(ctx context.Context, kind DocKind, docID int64, items []LineItem) error
	ListItems(ctx context.Context, kind DocKind, docID int64) ([]LineItem, error)

	GetInvoiceForUpdate(ctx context.Context, number string) (Invoice, error)
	ApplyInvoicePayment(ctx context.Context, number string, amount decimal.Decimal) (Invoice, error)
	ReopenInvoice(ctx context.Context, number string, amount decimal.Decimal) (Invoice, error)

	InsertInvoicePayment(ctx context.Context, payment InvoicePayment) (int64, error)
	InsertPaymentDetail(ctx context.Context, detail InvoicePaymentDetail) error
	ListPaymentDetails(ctx context.Context, paymentID int64) ([]InvoicePaymentDetail, error)
	ListPaymentsForInvoice(ctx context.Context, invoiceNo string) ([]InvoicePayment, error)

	AdjustDebtorBalance(ctx context.Context, customerID int64, delta decimal.Decimal) error
	InsertDebtorLog(ctx context.Context, entry DebtorLogEntry) error
	InsertInvoiceLog(ctx context.Context, entry InvoiceLogEntry) error
	InsertCollection(ctx context.Context, collection Collection) error

	GetSaleByReceipt(ctx context.Context, receiptNo string) (Sale, error)
	ClaimSaleVoid(ctx context.Context, saleID int64, meta VoidMeta) error
	ClaimReceiptVoid(ctx context.Context, receiptNo string, meta VoidMeta) (Receipt, error)
	ClaimInvoiceVoid(ctx context.Context, number string, meta VoidMeta) (Invoice, error)
	ClaimPaymentVoid(ctx context.Context, paymentID int64, meta VoidMeta) (InvoicePayment, error)

	InsertVoidedSale(ctx context.Context, voided VoidedSale) (int64, error)
	GetVoidedSaleForUpdate(ctx context.Context, id int64) (VoidedSale, error)
	AddRefund(ctx context.Context, voidedSaleID int64, amount decimal.Decimal) (VoidedSale, error)
	InsertRefund(ctx context.Context, refund Refund) (int64, error)
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetDebtor(ctx context.Context, customerID int64) (Debtor, error)
	ListDebtorLogs(ctx context.Context, customerID int64, limit int) ([]DebtorLogEntry, error)
	ListOpenInvoices(ctx context.Context, customerID int64) ([]Invoice, error)
	ListVoidedSales(ctx context.Context, limit int) ([]VoidedSale, error)
	GetVoidedSale(ctx context.Context, id int64) (VoidedSale, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts posting outcomes per operation kind.
type MetricsPort interface {
	CountPosting(kind string, err error)
}

// Service coordinates posting, allocation, void and refund operations.
type Service struct {
	repo    RepositoryPort
	audit   AuditPort
	metrics MetricsPort
	now     func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort, audit AuditPort) *Service {
	return &Service{repo: repo, audit: audit, now: time.Now}
}

// WithNow overrides the clock for testing.
func (s *Service) WithNow(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// WithMetrics attaches posting counters.
func (s *Service) WithMetrics(m MetricsPort) {
	s.metrics = m
}

func (s *Service) countPosting(kind string, err error) {
	if s.metrics != nil {
		s.metrics.CountPosting(kind, err)
	}
}

// txTime returns the caller-supplied transaction date, falling back to the
// service clock. Callers may backdate postings.
func (s *Service) txTime(at time.Time) time.Time {
	if at.IsZero() {
		return s.now().UTC()
	}
	return at.UTC()
}

// GetDebtor returns the running balance for a customer.
func (s *Service) GetDebtor(ctx context.Context, customerID int64) (Debtor, error) {
	return s.repo.GetDebtor(ctx, customerID)
}

// DebtorStatement lists the append-only debtor ledger for a customer.
func (s *Service) DebtorStatement(ctx context.Context, customerID int64, limit int) ([]DebtorLogEntry, error) {
	if limit <= 0 {
		limit = 200
	}
	return s.repo.ListDebtorLogs(ctx, customerID, limit)
}

// ListOpenInvoices returns a customer's open invoices, oldest first, as the
// default allocation priority for the payment allocator.
func (s *Service) ListOpenInvoices(ctx context.Context, customerID int64) ([]Invoice, error) {
	return s.repo.ListOpenInvoices(ctx, customerID)
}

// ListVoidedSales returns the void history with refundable remainders.
func (s *Service) ListVoidedSales(ctx context.Context, limit int) ([]VoidedSale, error) {
	if limit <= 0 {
		limit = 200
	}
	return s.repo.ListVoidedSales(ctx, limit)
}

// GetVoidedSale returns one voided transaction.
func (s *Service) GetVoidedSale(ctx context.Context, id int64) (VoidedSale, error) {
	return s.repo.GetVoidedSale(ctx, id)
}
