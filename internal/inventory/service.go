package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-ledger/internal/numbering"
	"github.com/meridian-erp/meridian-ledger/internal/shared"
)

// TxRepository exposes the storage operations available inside one movement
// transaction. Balance rows are locked before mutation; the movement log is
// append-only.
type TxRepository interface {
	NextNumber(ctx context.Context, kind numbering.Kind, at time.Time) (string, error)

	GetBalanceForUpdate(ctx context.Context, storeID, productID int64) (StockBalance, bool, error)
	UpsertBalance(ctx context.Context, balance StockBalance) error

	GetLotForUpdate(ctx context.Context, storeID, productID int64, expiry time.Time) (ExpiryLot, bool, error)
	UpsertLot(ctx context.Context, lot ExpiryLot) error
	DeleteLot(ctx context.Context, lotID int64) error

	InsertMovement(ctx context.Context, movement Movement) (int64, error)

	InsertDocument(ctx context.Context, doc Document) (int64, error)
	GetDocumentForUpdate(ctx context.Context, id int64) (Document, error)
	AdvanceDocumentStage(ctx context.Context, id int64, from, to DocumentStage) error
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetStockBalance(ctx context.Context, storeID, productID int64) (StockBalance, error)
	ListStockBalances(ctx context.Context, storeID int64) ([]StockBalance, error)
	ListExpiryLots(ctx context.Context, storeID, productID int64) ([]ExpiryLot, error)
	ListMovements(ctx context.Context, storeID, productID int64, limit int) ([]Movement, error)
	GetDocument(ctx context.Context, id int64) (Document, error)
	ListDocuments(ctx context.Context, stage DocumentStage, limit int) ([]Document, error)
}

// AuditPort abstracts audit logging functionality.
type AuditPort interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// MetricsPort counts posting outcomes per operation kind.
type MetricsPort interface {
	CountPosting(kind string, err error)
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	AllowNegativeStock bool
	// DoubleEntry posts the receiving half of a store-to-store issue in the
	// same transaction. When off, a pending receive document is created for
	// manual confirmation.
	DoubleEntry bool
}

// Service coordinates stock movements, staged documents, and reconciliation.
type Service struct {
	repo        RepositoryPort
	audit       AuditPort
	idempotency *shared.IdempotencyStore
	locker      *shared.Locker
	metrics     MetricsPort
	cfg         ServiceConfig
	now         func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort, audit AuditPort, idem *shared.IdempotencyStore, locker *shared.Locker, cfg ServiceConfig) *Service {
	return &Service{
		repo:        repo,
		audit:       audit,
		idempotency: idem,
		locker:      locker,
		cfg:         cfg,
		now:         time.Now,
	}
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

func (s *Service) txTime(at time.Time) time.Time {
	if at.IsZero() {
		return s.now().UTC()
	}
	return at.UTC()
}

// IssueInput moves goods out of a store towards the given counterparty.
type IssueInput struct {
	FromStoreID int64
	To          Counterparty
	Items       []ItemInput
	DeliveryNo  string
	RefID       string
	Note        string
	ActorID     int64
	At          time.Time
}

// IssueResult reports a posted issue.
type IssueResult struct {
	MovementNo string
	// PendingDocumentID is set when a store-to-store issue created a receive
	// document awaiting confirmation instead of posting the inbound half.
	PendingDocumentID int64
}

// Issue posts an outbound movement for every item. A store-to-store issue
// either posts the matching receive in the same transaction (double entry) or
// leaves a pending receive document at the destination.
func (s *Service) Issue(ctx context.Context, input IssueInput) (IssueResult, error) {
	if err := s.validateMovement(input.FromStoreID, input.To, input.Items, input.RefID); err != nil {
		return IssueResult{}, err
	}
	at := s.txTime(input.At)

	key, err := s.claimIdempotency(ctx, "issue", input.FromStoreID, input.DeliveryNo)
	if err != nil {
		return IssueResult{}, err
	}

	var result IssueResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextNumber(ctx, numbering.KindMovement, at)
		if err != nil {
			return err
		}
		for _, item := range input.Items {
			if err := s.issueItem(ctx, tx, issueParams{
				number:     number,
				moveType:   MovementIssue,
				storeID:    input.FromStoreID,
				item:       item,
				party:      input.To,
				deliveryNo: input.DeliveryNo,
				refID:      input.RefID,
				note:       input.Note,
				actorID:    input.ActorID,
				at:         at,
			}); err != nil {
				return err
			}
		}

		if input.To.Kind == PartyStore {
			if s.cfg.DoubleEntry {
				from := Counterparty{Kind: PartyStore, ID: input.FromStoreID}
				for _, item := range input.Items {
					if err := s.receiveItem(ctx, tx, issueParams{
						number:     number,
						moveType:   MovementReceive,
						storeID:    input.To.ID,
						item:       item,
						party:      from,
						deliveryNo: input.DeliveryNo,
						refID:      input.RefID,
						note:       input.Note,
						actorID:    input.ActorID,
						at:         at,
					}); err != nil {
						return err
					}
				}
			} else {
				docNo, err := tx.NextNumber(ctx, numbering.KindDocument, at)
				if err != nil {
					return err
				}
				docID, err := tx.InsertDocument(ctx, Document{
					Number:      docNo,
					Kind:        DocPendingReceive,
					Stage:       StageApproved,
					FromStoreID: input.FromStoreID,
					To:          input.To,
					DeliveryNo:  input.DeliveryNo,
					RefID:       input.RefID,
					Items:       documentItems(input.Items),
					CreatedBy:   input.ActorID,
				})
				if err != nil {
					return err
				}
				result.PendingDocumentID = docID
			}
		}
		result.MovementNo = number
		return nil
	})
	s.countPosting("issue", err)
	if err != nil {
		s.releaseIdempotency(ctx, key)
		return IssueResult{}, err
	}
	s.auditMovement(ctx, input.ActorID, "inventory.issue", result.MovementNo, input.FromStoreID, input.To, at)
	return result, nil
}

// ReceiveInput moves goods into a store from the given counterparty.
type ReceiveInput struct {
	ToStoreID  int64
	From       Counterparty
	Items      []ItemInput
	DeliveryNo string
	RefID      string
	Note       string
	ActorID    int64
	At         time.Time
}

// ReceiveResult reports a posted receive.
type ReceiveResult struct {
	MovementNo string
}

// Receive posts an inbound movement for every item, upserting expiry lots.
func (s *Service) Receive(ctx context.Context, input ReceiveInput) (ReceiveResult, error) {
	if err := s.validateMovement(input.ToStoreID, input.From, input.Items, input.RefID); err != nil {
		return ReceiveResult{}, err
	}
	at := s.txTime(input.At)

	key, err := s.claimIdempotency(ctx, "receive", input.ToStoreID, input.DeliveryNo)
	if err != nil {
		return ReceiveResult{}, err
	}

	var result ReceiveResult
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextNumber(ctx, numbering.KindMovement, at)
		if err != nil {
			return err
		}
		for _, item := range input.Items {
			if err := s.receiveItem(ctx, tx, issueParams{
				number:     number,
				moveType:   MovementReceive,
				storeID:    input.ToStoreID,
				item:       item,
				party:      input.From,
				deliveryNo: input.DeliveryNo,
				refID:      input.RefID,
				note:       input.Note,
				actorID:    input.ActorID,
				at:         at,
			}); err != nil {
				return err
			}
		}
		result.MovementNo = number
		return nil
	})
	s.countPosting("receive", err)
	if err != nil {
		s.releaseIdempotency(ctx, key)
		return ReceiveResult{}, err
	}
	s.auditMovement(ctx, input.ActorID, "inventory.receive", result.MovementNo, input.ToStoreID, input.From, at)
	return result, nil
}

// AdjustmentInput corrects stock by a signed quantity per item, attributed to
// an adjustment reason.
type AdjustmentInput struct {
	StoreID int64
	Reason  Counterparty
	Items   []ItemInput
	Note    string
	ActorID int64
	At      time.Time
}

// AdjustmentResult reports a posted adjustment.
type AdjustmentResult struct {
	MovementNo string
}

// PostAdjustment resolves each signed item into an issue or receive against
// the adjustment-reason pseudo-store, so every correction stays auditable
// through the same movement log.
func (s *Service) PostAdjustment(ctx context.Context, input AdjustmentInput) (AdjustmentResult, error) {
	if input.StoreID == 0 {
		return AdjustmentResult{}, ErrNotFound
	}
	if len(input.Items) == 0 {
		return AdjustmentResult{}, ErrEmptyItems
	}
	if input.Reason.Kind == "" {
		input.Reason.Kind = PartyAdjustmentReason
	}
	if err := input.Reason.Validate(); err != nil {
		return AdjustmentResult{}, err
	}
	for _, item := range input.Items {
		if item.Qty.IsZero() {
			return AdjustmentResult{}, ErrInvalidQuantity
		}
	}
	at := s.txTime(input.At)

	var result AdjustmentResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextNumber(ctx, numbering.KindMovement, at)
		if err != nil {
			return err
		}
		if err := s.adjustItems(ctx, tx, number, input, at); err != nil {
			return err
		}
		result.MovementNo = number
		return nil
	})
	s.countPosting("adjust", err)
	if err != nil {
		return AdjustmentResult{}, err
	}
	s.auditMovement(ctx, input.ActorID, "inventory.adjust", result.MovementNo, input.StoreID, input.Reason, at)
	return result, nil
}

func (s *Service) adjustItems(ctx context.Context, tx TxRepository, number string, input AdjustmentInput, at time.Time) error {
	for _, item := range input.Items {
		params := issueParams{
			number:   number,
			moveType: MovementAdjust,
			storeID:  input.StoreID,
			party:    input.Reason,
			note:     input.Note,
			actorID:  input.ActorID,
			at:       at,
		}
		if item.Qty.IsPositive() {
			params.item = item
			if err := s.receiveItem(ctx, tx, params); err != nil {
				return err
			}
			continue
		}
		params.item = ItemInput{ProductID: item.ProductID, Qty: item.Qty.Neg(), ExpiryDate: item.ExpiryDate}
		if err := s.issueItem(ctx, tx, params); err != nil {
			return err
		}
	}
	return nil
}

type issueParams struct {
	number     string
	moveType   MovementType
	storeID    int64
	item       ItemInput
	party      Counterparty
	deliveryNo string
	refID      string
	note       string
	actorID    int64
	at         time.Time
}

// issueItem locks and decrements the balance row, draws down the expiry lot
// when one is named (deleting it at zero), and appends the movement row.
func (s *Service) issueItem(ctx context.Context, tx TxRepository, p issueParams) error {
	balance, found, err := tx.GetBalanceForUpdate(ctx, p.storeID, p.item.ProductID)
	if err != nil {
		return err
	}
	if !found {
		balance = StockBalance{StoreID: p.storeID, ProductID: p.item.ProductID, Qty: decimal.Zero}
	}
	newQty := balance.Qty.Sub(p.item.Qty)
	if newQty.IsNegative() && !s.cfg.AllowNegativeStock {
		return ErrNegativeStock
	}
	balance.Qty = newQty
	if err := tx.UpsertBalance(ctx, balance); err != nil {
		return err
	}

	if p.item.ExpiryDate != nil {
		lot, found, err := tx.GetLotForUpdate(ctx, p.storeID, p.item.ProductID, *p.item.ExpiryDate)
		if err != nil {
			return err
		}
		if !found {
			return ErrLotNotFound
		}
		remaining := lot.Qty.Sub(p.item.Qty)
		switch {
		case remaining.IsNegative():
			return ErrLotShort
		case remaining.IsZero():
			if err := tx.DeleteLot(ctx, lot.ID); err != nil {
				return err
			}
		default:
			lot.Qty = remaining
			if err := tx.UpsertLot(ctx, lot); err != nil {
				return err
			}
		}
	}

	_, err = tx.InsertMovement(ctx, Movement{
		Number:     p.number,
		Type:       p.moveType,
		StoreID:    p.storeID,
		ProductID:  p.item.ProductID,
		QtyOut:     p.item.Qty,
		BalanceQty: newQty,
		Party:      p.party,
		DeliveryNo: p.deliveryNo,
		RefID:      p.refID,
		ExpiryDate: p.item.ExpiryDate,
		Note:       p.note,
		At:         p.at,
		ActorID:    p.actorID,
	})
	return err
}

// receiveItem locks and increments the balance row, upserts the expiry lot
// when one is named, and appends the movement row.
func (s *Service) receiveItem(ctx context.Context, tx TxRepository, p issueParams) error {
	balance, found, err := tx.GetBalanceForUpdate(ctx, p.storeID, p.item.ProductID)
	if err != nil {
		return err
	}
	if !found {
		balance = StockBalance{StoreID: p.storeID, ProductID: p.item.ProductID, Qty: decimal.Zero}
	}
	balance.Qty = balance.Qty.Add(p.item.Qty)
	if err := tx.UpsertBalance(ctx, balance); err != nil {
		return err
	}

	if p.item.ExpiryDate != nil {
		lot, found, err := tx.GetLotForUpdate(ctx, p.storeID, p.item.ProductID, *p.item.ExpiryDate)
		if err != nil {
			return err
		}
		if !found {
			lot = ExpiryLot{StoreID: p.storeID, ProductID: p.item.ProductID, ExpiryDate: *p.item.ExpiryDate, Qty: decimal.Zero}
		}
		lot.Qty = lot.Qty.Add(p.item.Qty)
		if err := tx.UpsertLot(ctx, lot); err != nil {
			return err
		}
	}

	_, err = tx.InsertMovement(ctx, Movement{
		Number:     p.number,
		Type:       p.moveType,
		StoreID:    p.storeID,
		ProductID:  p.item.ProductID,
		QtyIn:      p.item.Qty,
		BalanceQty: balance.Qty,
		Party:      p.party,
		DeliveryNo: p.deliveryNo,
		RefID:      p.refID,
		ExpiryDate: p.item.ExpiryDate,
		Note:       p.note,
		At:         p.at,
		ActorID:    p.actorID,
	})
	return err
}

func (s *Service) validateMovement(storeID int64, party Counterparty, items []ItemInput, refID string) error {
	if storeID == 0 {
		return ErrNotFound
	}
	if err := party.Validate(); err != nil {
		return err
	}
	if len(items) == 0 {
		return ErrEmptyItems
	}
	for _, item := range items {
		if !item.Qty.IsPositive() {
			return ErrInvalidQuantity
		}
	}
	if refID != "" {
		if _, err := uuid.Parse(refID); err != nil {
			return fmt.Errorf("inventory: invalid ref id: %w", err)
		}
	}
	return nil
}

// claimIdempotency reserves a key for delivery-tagged postings so a retried
// request cannot double-post. Untagged postings are not deduplicated.
func (s *Service) claimIdempotency(ctx context.Context, op string, storeID int64, deliveryNo string) (string, error) {
	if s.idempotency == nil || deliveryNo == "" {
		return "", nil
	}
	key := fmt.Sprintf("%s:%d:%s", op, storeID, deliveryNo)
	if err := s.idempotency.CheckAndInsert(ctx, key, "inventory"); err != nil {
		return "", err
	}
	return key, nil
}

func (s *Service) releaseIdempotency(ctx context.Context, key string) {
	if s.idempotency != nil && key != "" {
		_ = s.idempotency.Delete(ctx, key)
	}
}

func documentItems(items []ItemInput) []DocumentItem {
	out := make([]DocumentItem, 0, len(items))
	for _, item := range items {
		out = append(out, DocumentItem{ProductID: item.ProductID, Qty: item.Qty, ExpiryDate: item.ExpiryDate})
	}
	return out
}

func (s *Service) auditMovement(ctx context.Context, actorID int64, action, number string, storeID int64, party Counterparty, at time.Time) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "movement",
		EntityID: number,
		Meta: map[string]any{
			"store_id":   storeID,
			"party_kind": string(party.Kind),
			"party_id":   party.ID,
		},
		At: at,
	})
}

// --- Read side ---

// GetStockBalance returns the current quantity for one store and product.
func (s *Service) GetStockBalance(ctx context.Context, storeID, productID int64) (StockBalance, error) {
	return s.repo.GetStockBalance(ctx, storeID, productID)
}

// ListStockBalances lists every product balance in a store.
func (s *Service) ListStockBalances(ctx context.Context, storeID int64) ([]StockBalance, error) {
	return s.repo.ListStockBalances(ctx, storeID)
}

// ListExpiryLots lists the open expiry lots for a product in a store.
func (s *Service) ListExpiryLots(ctx context.Context, storeID, productID int64) ([]ExpiryLot, error) {
	return s.repo.ListExpiryLots(ctx, storeID, productID)
}

// ListMovements returns the newest movement log rows.
func (s *Service) ListMovements(ctx context.Context, storeID, productID int64, limit int) ([]Movement, error) {
	if limit <= 0 {
		limit = 200
	}
	return s.repo.ListMovements(ctx, storeID, productID, limit)
}
