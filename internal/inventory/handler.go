package inventory

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/meridian-erp/meridian-ledger/internal/platform/httpx"
	"github.com/meridian-erp/meridian-ledger/internal/shared"
)

// Handler exposes the movement engine over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{logger: logger, service: service, validate: validate}
}

// MountRoutes registers inventory routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/issues", h.postIssue)
	r.Post("/receives", h.postReceive)
	r.Post("/adjustments", h.postAdjustment)
	r.Post("/reconciliations", h.postReconciliation)

	r.Post("/requisitions", h.createRequisition)
	r.Post("/requisitions/{id}/approve", h.approveRequisition)
	r.Post("/requisitions/{id}/dispatch", h.dispatchRequisition)
	r.Post("/documents/{id}/confirm-receive", h.confirmReceive)

	r.Get("/stores/{storeID}/balances", h.listBalances)
	r.Get("/stores/{storeID}/products/{productID}/balance", h.getBalance)
	r.Get("/stores/{storeID}/products/{productID}/lots", h.listLots)
	r.Get("/stores/{storeID}/products/{productID}/movements", h.listMovements)
	r.Get("/documents", h.listDocuments)
	r.Get("/documents/{id}", h.getDocument)
}

type partyRequest struct {
	Kind string `json:"kind" validate:"required,oneof=STORE CUSTOMER SUPPLIER ADJUSTMENT_REASON"`
	ID   int64  `json:"id" validate:"required"`
	Name string `json:"name"`
}

func (p partyRequest) toDomain() Counterparty {
	return Counterparty{Kind: CounterpartyKind(p.Kind), ID: p.ID, Name: p.Name}
}

type itemRequest struct {
	ProductID  int64           `json:"product_id" validate:"required"`
	Qty        decimal.Decimal `json:"qty" validate:"required"`
	ExpiryDate *time.Time      `json:"expiry_date"`
}

func toItems(reqs []itemRequest) []ItemInput {
	items := make([]ItemInput, 0, len(reqs))
	for _, req := range reqs {
		items = append(items, ItemInput{ProductID: req.ProductID, Qty: req.Qty, ExpiryDate: req.ExpiryDate})
	}
	return items
}

type issueRequest struct {
	FromStoreID int64         `json:"from_store_id" validate:"required"`
	To          partyRequest  `json:"to" validate:"required"`
	Items       []itemRequest `json:"items" validate:"required,min=1,dive"`
	DeliveryNo  string        `json:"delivery_no"`
	RefID       string        `json:"ref_id"`
	Note        string        `json:"note"`
	At          time.Time     `json:"at"`
}

func (h *Handler) postIssue(w http.ResponseWriter, r *http.Request) {
	var req issueRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.Issue(r.Context(), IssueInput{
		FromStoreID: req.FromStoreID,
		To:          req.To.toDomain(),
		Items:       toItems(req.Items),
		DeliveryNo:  req.DeliveryNo,
		RefID:       req.RefID,
		Note:        req.Note,
		ActorID:     shared.ActorFromContext(r.Context()),
		At:          req.At,
	})
	if err != nil {
		h.respondError(w, "post issue", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

type receiveRequest struct {
	ToStoreID  int64         `json:"to_store_id" validate:"required"`
	From       partyRequest  `json:"from" validate:"required"`
	Items      []itemRequest `json:"items" validate:"required,min=1,dive"`
	DeliveryNo string        `json:"delivery_no"`
	RefID      string        `json:"ref_id"`
	Note       string        `json:"note"`
	At         time.Time     `json:"at"`
}

func (h *Handler) postReceive(w http.ResponseWriter, r *http.Request) {
	var req receiveRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.Receive(r.Context(), ReceiveInput{
		ToStoreID:  req.ToStoreID,
		From:       req.From.toDomain(),
		Items:      toItems(req.Items),
		DeliveryNo: req.DeliveryNo,
		RefID:      req.RefID,
		Note:       req.Note,
		ActorID:    shared.ActorFromContext(r.Context()),
		At:         req.At,
	})
	if err != nil {
		h.respondError(w, "post receive", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

type adjustmentRequest struct {
	StoreID int64         `json:"store_id" validate:"required"`
	Reason  partyRequest  `json:"reason" validate:"required"`
	Items   []itemRequest `json:"items" validate:"required,min=1,dive"`
	Note    string        `json:"note"`
	At      time.Time     `json:"at"`
}

func (h *Handler) postAdjustment(w http.ResponseWriter, r *http.Request) {
	var req adjustmentRequest
	if !h.decode(w, r, &req) {
		return
	}
	result, err := h.service.PostAdjustment(r.Context(), AdjustmentInput{
		StoreID: req.StoreID,
		Reason:  req.Reason.toDomain(),
		Items:   toItems(req.Items),
		Note:    req.Note,
		ActorID: shared.ActorFromContext(r.Context()),
		At:      req.At,
	})
	if err != nil {
		h.respondError(w, "post adjustment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

type countRequest struct {
	ProductID  int64           `json:"product_id" validate:"required"`
	CountedQty decimal.Decimal `json:"counted_qty"`
}

type reconcileRequest struct {
	StoreID int64          `json:"store_id" validate:"required"`
	Reason  partyRequest   `json:"reason" validate:"required"`
	Counts  []countRequest `json:"counts" validate:"required,min=1,dive"`
	Note    string         `json:"note"`
	At      time.Time      `json:"at"`
}

func (h *Handler) postReconciliation(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if !h.decode(w, r, &req) {
		return
	}
	counts := make([]ProductCount, 0, len(req.Counts))
	for _, c := range req.Counts {
		counts = append(counts, ProductCount{ProductID: c.ProductID, CountedQty: c.CountedQty})
	}
	result, err := h.service.Reconcile(r.Context(), ReconcileInput{
		StoreID: req.StoreID,
		Reason:  req.Reason.toDomain(),
		Counts:  counts,
		Note:    req.Note,
		ActorID: shared.ActorFromContext(r.Context()),
		At:      req.At,
	})
	if err != nil {
		h.respondError(w, "reconcile", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type requisitionRequest struct {
	FromStoreID int64         `json:"from_store_id" validate:"required"`
	To          partyRequest  `json:"to" validate:"required"`
	Items       []itemRequest `json:"items" validate:"required,min=1,dive"`
	DeliveryNo  string        `json:"delivery_no"`
	At          time.Time     `json:"at"`
}

func (h *Handler) createRequisition(w http.ResponseWriter, r *http.Request) {
	var req requisitionRequest
	if !h.decode(w, r, &req) {
		return
	}
	doc, err := h.service.CreateRequisition(r.Context(), RequisitionInput{
		FromStoreID: req.FromStoreID,
		To:          req.To.toDomain(),
		Items:       toItems(req.Items),
		DeliveryNo:  req.DeliveryNo,
		ActorID:     shared.ActorFromContext(r.Context()),
		At:          req.At,
	})
	if err != nil {
		h.respondError(w, "create requisition", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, doc)
}

func (h *Handler) approveRequisition(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.service.ApproveRequisition(r.Context(), id, shared.ActorFromContext(r.Context())); err != nil {
		h.respondError(w, "approve requisition", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"id": id, "stage": int(StageApproved)})
}

func (h *Handler) dispatchRequisition(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	result, err := h.service.DispatchRequisition(r.Context(), id, shared.ActorFromContext(r.Context()), time.Time{})
	if err != nil {
		h.respondError(w, "dispatch requisition", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) confirmReceive(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	result, err := h.service.ConfirmReceive(r.Context(), id, shared.ActorFromContext(r.Context()), time.Time{})
	if err != nil {
		h.respondError(w, "confirm receive", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

func (h *Handler) listBalances(w http.ResponseWriter, r *http.Request) {
	storeID, ok := h.pathID(w, r, "storeID")
	if !ok {
		return
	}
	balances, err := h.service.ListStockBalances(r.Context(), storeID)
	if err != nil {
		h.respondError(w, "list balances", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"balances": balances})
}

func (h *Handler) getBalance(w http.ResponseWriter, r *http.Request) {
	storeID, ok := h.pathID(w, r, "storeID")
	if !ok {
		return
	}
	productID, ok := h.pathID(w, r, "productID")
	if !ok {
		return
	}
	balance, err := h.service.GetStockBalance(r.Context(), storeID, productID)
	if err != nil {
		h.respondError(w, "get balance", err)
		return
	}
	httpx.JSON(w, http.StatusOK, balance)
}

func (h *Handler) listLots(w http.ResponseWriter, r *http.Request) {
	storeID, ok := h.pathID(w, r, "storeID")
	if !ok {
		return
	}
	productID, ok := h.pathID(w, r, "productID")
	if !ok {
		return
	}
	lots, err := h.service.ListExpiryLots(r.Context(), storeID, productID)
	if err != nil {
		h.respondError(w, "list lots", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"lots": lots})
}

func (h *Handler) listMovements(w http.ResponseWriter, r *http.Request) {
	storeID, ok := h.pathID(w, r, "storeID")
	if !ok {
		return
	}
	productID, ok := h.pathID(w, r, "productID")
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	movements, err := h.service.ListMovements(r.Context(), storeID, productID, limit)
	if err != nil {
		h.respondError(w, "list movements", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"movements": movements})
}

func (h *Handler) listDocuments(w http.ResponseWriter, r *http.Request) {
	stage, _ := strconv.Atoi(r.URL.Query().Get("stage"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 {
		limit = 100
	}
	docs, err := h.service.ListDocuments(r.Context(), DocumentStage(stage), limit)
	if err != nil {
		h.respondError(w, "list documents", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"documents": docs})
}

func (h *Handler) getDocument(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r, "id")
	if !ok {
		return
	}
	doc, err := h.service.GetDocument(r.Context(), id)
	if err != nil {
		h.respondError(w, "get document", err)
		return
	}
	httpx.JSON(w, http.StatusOK, doc)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return false
	}
	if err := h.validate.Struct(target); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return false
	}
	return true
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid "+name)
		return 0, false
	}
	return id, true
}

func (h *Handler) respondError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", shared.UserSafeMessage(shared.ErrNotFound))
	case errors.Is(err, ErrStageConflict),
		errors.Is(err, ErrNegativeStock),
		errors.Is(err, ErrLotShort),
		errors.Is(err, shared.ErrIdempotencyConflict),
		errors.Is(err, shared.ErrLockHeld):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrEmptyItems),
		errors.Is(err, ErrInvalidQuantity),
		errors.Is(err, ErrInvalidCounterparty),
		errors.Is(err, ErrLotNotFound):
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", shared.UserSafeMessage(shared.ErrPostingFailed))
	}
}
