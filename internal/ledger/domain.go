package ledger

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// InvoiceStatus enumerates invoice lifecycle states.
type InvoiceStatus string

const (
	InvoiceStatusOpen      InvoiceStatus = "OPEN"
	InvoiceStatusClosed    InvoiceStatus = "CLOSED"
	InvoiceStatusCancelled InvoiceStatus = "CANCELLED"
)

// TransType tags a ledger transaction with its originating operation.
type TransType string

const (
	TransTypeCashSale         TransType = "CASH_SALE"
	TransTypeInvoiceSale      TransType = "INVOICE_SALE"
	TransTypePaymentCollect   TransType = "PAYMENT_COLLECTION"
	TransTypeSaleCancellation TransType = "SALE_CANCELLATION"
	TransTypeRefund           TransType = "REFUND"
)

// VoidSource identifies what kind of posting a VoidedSale reversed.
type VoidSource string

const (
	VoidSourceCashSale       VoidSource = "CASH_SALE"
	VoidSourceInvoiceSale    VoidSource = "INVOICE_SALE"
	VoidSourceInvoicePayment VoidSource = "INVOICE_PAYMENT"
)

// EntrySide marks an audit ledger row as debit or credit.
type EntrySide string

const (
	EntryDebit  EntrySide = "DEBIT"
	EntryCredit EntrySide = "CREDIT"
)

// DocKind selects which document a set of line items belongs to.
type DocKind string

const (
	DocSale       DocKind = "SALE"
	DocReceipt    DocKind = "RECEIPT"
	DocInvoice    DocKind = "INVOICE"
	DocVoidedSale DocKind = "VOIDED_SALE"
)

// LineItem is one product line on a posted document. Reversal rows carry a
// negated quantity; historical copies on a VoidedSale keep the original sign.
type LineItem struct {
	ProductID   int64
	Description string
	Quantity    decimal.Decimal
	UnitPrice   decimal.Decimal
}

// Total returns quantity * unit price.
func (l LineItem) Total() decimal.Decimal {
	return l.Quantity.Mul(l.UnitPrice)
}

// Negated returns the compensating reversal row for the line.
func (l LineItem) Negated() LineItem {
	out := l
	out.Quantity = l.Quantity.Neg()
	return out
}

// Sale is the immutable per-checkout snapshot. Only the void process writes to
// it after creation, and exactly once.
type Sale struct {
	ID           int64
	TxDate       time.Time
	CustomerID   int64
	FacilityID   int64
	ReceiptNo    string
	InvoiceNo    string
	TotalDue     decimal.Decimal
	TotalPaid    decimal.Decimal
	ChangeAmount decimal.Decimal
	TransType    TransType
	Year         int
	Month        int
	Voided       bool
	VoidNo       string
	VoidReason   string
	VoidedAt     *time.Time
	VoidedBy     *int64
	CreatedBy    int64
	CreatedAt    time.Time
}

// Receipt is the cash-receipt record emitted when any amount is tendered.
type Receipt struct {
	ID         int64
	Number     string
	SaleID     int64
	CustomerID int64
	TotalDue   decimal.Decimal
	TotalPaid  decimal.Decimal
	Voided     bool
	VoidNo     string
	CreatedAt  time.Time
}

// Invoice carries the outstanding balance for a not-fully-paid sale.
// Invariant: BalanceDue = TotalDue - TotalPaid while status != CANCELLED,
// and status == CLOSED iff BalanceDue == 0.
type Invoice struct {
	ID         int64
	Number     string
	SaleID     int64
	CustomerID int64
	TotalDue   decimal.Decimal
	TotalPaid  decimal.Decimal
	BalanceDue decimal.Decimal
	Status     InvoiceStatus
	VoidNo     string
	VoidReason string
	VoidedAt   *time.Time
	VoidedBy   *int64
	CreatedAt  time.Time
}

// InvoicePayment is a receipt-level payment event; its details fan out across
// the invoices it paid.
type InvoicePayment struct {
	ID         int64
	Number     string
	CustomerID int64
	TotalPaid  decimal.Decimal
	Method     string
	PaidAt     time.Time
	Voided     bool
	VoidNo     string
	CreatedBy  int64
	CreatedAt  time.Time
}

// InvoicePaymentDetail is the per-invoice allocation of a payment.
// The detail amounts of a payment always sum to the payment's TotalPaid.
type InvoicePaymentDetail struct {
	ID        int64
	PaymentID int64
	InvoiceNo string
	Amount    decimal.Decimal
}

// Debtor is the running owed-balance aggregate per customer.
type Debtor struct {
	CustomerID int64
	Balance    decimal.Decimal
	UpdatedAt  time.Time
}

// DebtorLogEntry is an append-only signed audit row against the debtor ledger.
type DebtorLogEntry struct {
	ID         int64
	CustomerID int64
	RefNo      string
	Amount     decimal.Decimal
	Side       EntrySide
	TransType  TransType
	At         time.Time
	ActorID    int64
}

// InvoiceLogEntry is an append-only signed audit row against one invoice.
type InvoiceLogEntry struct {
	ID        int64
	InvoiceNo string
	RefNo     string
	Amount    decimal.Decimal
	Side      EntrySide
	TransType TransType
	At        time.Time
	ActorID   int64
}

// VoidedSale is the immutable historical record of a reversed posting.
// Invariant: RefundedAmount <= TotalPaid, IsRefunded iff RefundedAmount >= TotalPaid.
type VoidedSale struct {
	ID             int64
	VoidNo         string
	Source         VoidSource
	ReceiptNo      string
	InvoiceNo      string
	PaymentNo      string
	CustomerID     int64
	TotalDue       decimal.Decimal
	TotalPaid      decimal.Decimal
	BalanceDue     decimal.Decimal
	PaidForInvoice decimal.Decimal
	RefundedAmount decimal.Decimal
	IsRefunded     bool
	Reason         string
	VoidedAt       time.Time
	VoidedBy       int64
}

// Refundable returns the amount still eligible for refund.
func (v VoidedSale) Refundable() decimal.Decimal {
	return v.TotalPaid.Sub(v.RefundedAmount)
}

// Refund is one cash-back transaction against a voided sale.
type Refund struct {
	ID           int64
	Number       string
	VoidedSaleID int64
	Amount       decimal.Decimal
	Method       string
	Remarks      string
	At           time.Time
	ActorID      int64
}

// Collection is one cash-movement row keyed by reference number, with amounts
// per payment-method code. Negative amounts represent refunds.
type Collection struct {
	ID      int64
	RefNo   string
	Source  TransType
	Amounts map[string]decimal.Decimal
	At      time.Time
	ActorID int64
}

// VoidMeta groups the metadata written once onto a voided record.
type VoidMeta struct {
	Number  string
	Reason  string
	At      time.Time
	ActorID int64
}

var (
	// ErrEmptyLines indicates a posting without line items.
	ErrEmptyLines = errors.New("ledger: line items required")
	// ErrInvalidAmount indicates a negative or malformed amount.
	ErrInvalidAmount = errors.New("ledger: amount must not be negative")
	// ErrAlreadyVoided indicates the target was voided by an earlier request.
	ErrAlreadyVoided = errors.New("ledger: transaction already voided")
	// ErrInvoiceNotAllocatable indicates an allocation target that is missing,
	// cancelled, or already closed. Allocation fails hard rather than skipping.
	ErrInvoiceNotAllocatable = errors.New("ledger: invoice cannot receive allocation")
	// ErrRefundExceedsRefundable indicates a refund above the remaining paid amount.
	ErrRefundExceedsRefundable = errors.New("ledger: refund exceeds refundable amount")
	// ErrReceiptHasInvoice rejects a receipt void when the sale carries an
	// invoice; the invoice void path must be used so debt is unwound too.
	ErrReceiptHasInvoice = errors.New("ledger: sale has an invoice, void the invoice instead")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("ledger: not found")
)
