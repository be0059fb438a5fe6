package inventory

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// MovementType enumerates supported stock movements.
type MovementType string

const (
	// MovementIssue represents goods leaving a store.
	MovementIssue MovementType = "ISSUE"
	// MovementReceive represents goods entering a store.
	MovementReceive MovementType = "RECEIVE"
	// MovementAdjust indicates manual or reconciliation adjustments.
	MovementAdjust MovementType = "ADJUST"
)

// CounterpartyKind enumerates the closed set of parties a movement can face.
type CounterpartyKind string

const (
	PartyStore            CounterpartyKind = "STORE"
	PartyCustomer         CounterpartyKind = "CUSTOMER"
	PartySupplier         CounterpartyKind = "SUPPLIER"
	PartyAdjustmentReason CounterpartyKind = "ADJUSTMENT_REASON"
)

// Counterparty is the tagged party reference on a movement: the other side of
// an issue or receive.
type Counterparty struct {
	Kind CounterpartyKind
	ID   int64
	Name string
}

// Validate checks the tag is one of the known kinds.
func (c Counterparty) Validate() error {
	switch c.Kind {
	case PartyStore, PartyCustomer, PartySupplier, PartyAdjustmentReason:
		if c.ID == 0 {
			return ErrInvalidCounterparty
		}
		return nil
	}
	return ErrInvalidCounterparty
}

// StockBalance is the normalized per-store, per-product quantity row.
// Invariant: Qty equals the signed sum of the product's movements in the store.
type StockBalance struct {
	StoreID   int64
	ProductID int64
	Qty       decimal.Decimal
	UpdatedAt time.Time
}

// ExpiryLot tracks the remaining quantity of one expiry-dated batch.
// A lot reaching zero is deleted, never kept as an empty row.
type ExpiryLot struct {
	ID         int64
	StoreID    int64
	ProductID  int64
	ExpiryDate time.Time
	Qty        decimal.Decimal
}

// Movement is one append-only row in the stock movement log. Exactly one of
// QtyIn/QtyOut is non-zero.
type Movement struct {
	ID         int64
	Number     string
	Type       MovementType
	StoreID    int64
	ProductID  int64
	QtyIn      decimal.Decimal
	QtyOut     decimal.Decimal
	BalanceQty decimal.Decimal
	Party      Counterparty
	DeliveryNo string
	RefID      string
	ExpiryDate *time.Time
	Note       string
	At         time.Time
	ActorID    int64
}

// ItemInput is one product line on an issue/receive request.
type ItemInput struct {
	ProductID  int64
	Qty        decimal.Decimal
	ExpiryDate *time.Time
}

// DocumentStage is a requisition document's workflow position.
type DocumentStage int

const (
	StageDraft    DocumentStage = 1
	StageApproved DocumentStage = 2
	StageIssued   DocumentStage = 3
	StagePosted   DocumentStage = 4
)

// CanAdvanceTo reports whether the stage may move directly to next.
func (s DocumentStage) CanAdvanceTo(next DocumentStage) bool {
	return next == s+1
}

// DocumentKind separates operator-raised requisitions from the pending
// receive documents the issue path creates for the destination store.
type DocumentKind string

const (
	DocRequisition    DocumentKind = "REQUISITION"
	DocPendingReceive DocumentKind = "PENDING_RECEIVE"
)

// Document is a staged requisition: draft, approved, issued, posted.
type Document struct {
	ID          int64
	Number      string
	Kind        DocumentKind
	Stage       DocumentStage
	FromStoreID int64
	To          Counterparty
	DeliveryNo  string
	RefID       string
	Items       []DocumentItem
	CreatedBy   int64
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// DocumentItem is one requested product line on a document.
type DocumentItem struct {
	ProductID  int64
	Qty        decimal.Decimal
	ExpiryDate *time.Time
}

var (
	// ErrNegativeStock triggered when a movement would drive qty below zero.
	ErrNegativeStock = errors.New("inventory: negative stock not allowed")
	// ErrInvalidQuantity indicates a zero or wrongly-signed qty.
	ErrInvalidQuantity = errors.New("inventory: quantity must be positive")
	// ErrEmptyItems indicates a posting without item lines.
	ErrEmptyItems = errors.New("inventory: item lines required")
	// ErrInvalidCounterparty indicates an unknown party tag or missing id.
	ErrInvalidCounterparty = errors.New("inventory: invalid counterparty")
	// ErrLotNotFound indicates an issue against a missing expiry lot.
	ErrLotNotFound = errors.New("inventory: expiry lot not found")
	// ErrLotShort indicates an issue larger than the lot's remaining qty.
	ErrLotShort = errors.New("inventory: expiry lot has insufficient quantity")
	// ErrStageConflict indicates a document stage transition lost to another
	// request or attempted out of order.
	ErrStageConflict = errors.New("inventory: document stage conflict")
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("inventory: not found")
)
