package inventory

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/meridian-erp/meridian-ledger/internal/numbering"
	"github.com/meridian-erp/meridian-ledger/internal/shared"
)

// RequisitionInput opens a draft requisition document.
type RequisitionInput struct {
	FromStoreID int64
	To          Counterparty
	Items       []ItemInput
	DeliveryNo  string
	ActorID     int64
	At          time.Time
}

// CreateRequisition stores a stage-1 draft. No stock moves until dispatch.
func (s *Service) CreateRequisition(ctx context.Context, input RequisitionInput) (Document, error) {
	if err := s.validateMovement(input.FromStoreID, input.To, input.Items, ""); err != nil {
		return Document{}, err
	}
	at := s.txTime(input.At)

	var doc Document
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		number, err := tx.NextNumber(ctx, numbering.KindDocument, at)
		if err != nil {
			return err
		}
		doc = Document{
			Number:      number,
			Kind:        DocRequisition,
			Stage:       StageDraft,
			FromStoreID: input.FromStoreID,
			To:          input.To,
			DeliveryNo:  input.DeliveryNo,
			RefID:       uuid.NewString(),
			Items:       documentItems(input.Items),
			CreatedBy:   input.ActorID,
		}
		doc.ID, err = tx.InsertDocument(ctx, doc)
		return err
	})
	if err != nil {
		return Document{}, err
	}
	s.auditDocument(ctx, input.ActorID, "inventory.requisition_create", doc, at)
	return doc, nil
}

// ApproveRequisition advances a draft to stage 2. The transition is claimed
// with a conditional update, so two approvers cannot both succeed.
func (s *Service) ApproveRequisition(ctx context.Context, documentID, actorID int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.AdvanceDocumentStage(ctx, documentID, StageDraft, StageApproved)
	})
	if err != nil {
		return err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "inventory.requisition_approve",
			Entity:   "document",
			EntityID: fmt.Sprintf("%d", documentID),
			At:       s.now().UTC(),
		})
	}
	return nil
}

// DispatchRequisition advances an approved document to stage 3 and posts the
// outbound movements in the same transaction.
func (s *Service) DispatchRequisition(ctx context.Context, documentID, actorID int64, at time.Time) (IssueResult, error) {
	txAt := s.txTime(at)
	var result IssueResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.GetDocumentForUpdate(ctx, documentID)
		if err != nil {
			return err
		}
		// Pending receive documents have no outbound half left to post.
		if doc.Kind != DocRequisition {
			return ErrStageConflict
		}
		if err := tx.AdvanceDocumentStage(ctx, documentID, StageApproved, StageIssued); err != nil {
			return err
		}
		number, err := tx.NextNumber(ctx, numbering.KindMovement, txAt)
		if err != nil {
			return err
		}
		for _, item := range doc.Items {
			if err := s.issueItem(ctx, tx, issueParams{
				number:     number,
				moveType:   MovementIssue,
				storeID:    doc.FromStoreID,
				item:       ItemInput{ProductID: item.ProductID, Qty: item.Qty, ExpiryDate: item.ExpiryDate},
				party:      doc.To,
				deliveryNo: doc.DeliveryNo,
				refID:      doc.RefID,
				actorID:    actorID,
				at:         txAt,
			}); err != nil {
				return err
			}
		}
		result.MovementNo = number
		return nil
	})
	s.countPosting("requisition_dispatch", err)
	if err != nil {
		return IssueResult{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "inventory.requisition_dispatch",
			Entity:   "document",
			EntityID: fmt.Sprintf("%d", documentID),
			Meta:     map[string]any{"movement_no": result.MovementNo},
			At:       txAt,
		})
	}
	return result, nil
}

// ConfirmReceive advances an issued store-to-store document to stage 4 and
// posts the inbound movements at the destination store.
func (s *Service) ConfirmReceive(ctx context.Context, documentID, actorID int64, at time.Time) (ReceiveResult, error) {
	txAt := s.txTime(at)
	var result ReceiveResult
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		doc, err := tx.GetDocumentForUpdate(ctx, documentID)
		if err != nil {
			return err
		}
		if doc.To.Kind != PartyStore {
			return ErrInvalidCounterparty
		}
		// Pending receive documents created by Issue start at stage 2 and
		// skip dispatch; the outbound half was already posted. Requisitions
		// must have been dispatched first.
		from := doc.Stage
		switch doc.Kind {
		case DocPendingReceive:
			if from != StageApproved {
				return ErrStageConflict
			}
		default:
			if from != StageIssued {
				return ErrStageConflict
			}
		}
		if err := tx.AdvanceDocumentStage(ctx, documentID, from, StagePosted); err != nil {
			return err
		}
		number, err := tx.NextNumber(ctx, numbering.KindMovement, txAt)
		if err != nil {
			return err
		}
		source := Counterparty{Kind: PartyStore, ID: doc.FromStoreID}
		for _, item := range doc.Items {
			if err := s.receiveItem(ctx, tx, issueParams{
				number:     number,
				moveType:   MovementReceive,
				storeID:    doc.To.ID,
				item:       ItemInput{ProductID: item.ProductID, Qty: item.Qty, ExpiryDate: item.ExpiryDate},
				party:      source,
				deliveryNo: doc.DeliveryNo,
				refID:      doc.RefID,
				actorID:    actorID,
				at:         txAt,
			}); err != nil {
				return err
			}
		}
		result.MovementNo = number
		return nil
	})
	s.countPosting("receive_confirm", err)
	if err != nil {
		return ReceiveResult{}, err
	}
	if s.audit != nil {
		_ = s.audit.Record(ctx, shared.AuditLog{
			ActorID:  actorID,
			Action:   "inventory.receive_confirm",
			Entity:   "document",
			EntityID: fmt.Sprintf("%d", documentID),
			Meta:     map[string]any{"movement_no": result.MovementNo},
			At:       txAt,
		})
	}
	return result, nil
}

// GetDocument returns one requisition document with its items.
func (s *Service) GetDocument(ctx context.Context, id int64) (Document, error) {
	return s.repo.GetDocument(ctx, id)
}

// ListDocuments lists documents, optionally filtered by stage.
func (s *Service) ListDocuments(ctx context.Context, stage DocumentStage, limit int) ([]Document, error) {
	if limit <= 0 {
		limit = 100
	}
	return s.repo.ListDocuments(ctx, stage, limit)
}

func (s *Service) auditDocument(ctx context.Context, actorID int64, action string, doc Document, at time.Time) {
	if s.audit == nil {
		return
	}
	_ = s.audit.Record(ctx, shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   "document",
		EntityID: fmt.Sprintf("%d", doc.ID),
		Meta: map[string]any{
			"number": doc.Number,
			"stage":  int(doc.Stage),
		},
		At: at,
	})
}
