package ledger

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/meridian-erp/meridian-ledger/internal/platform/httpx"
	"github.com/meridian-erp/meridian-ledger/internal/shared"
)

// Handler exposes the posting engine over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	validate *validator.Validate
	printer  *message.Printer
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, validate *validator.Validate) *Handler {
	return &Handler{
		logger:   logger,
		service:  service,
		validate: validate,
		printer:  message.NewPrinter(language.English),
	}
}

// MountRoutes registers ledger routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/sales", h.postSale)
	r.Post("/payments", h.allocatePayment)
	r.Post("/receipts/{receiptNo}/void", h.voidReceipt)
	r.Post("/invoices/{invoiceNo}/void", h.voidInvoice)
	r.Post("/payments/{paymentID}/void", h.voidPayment)
	r.Post("/voided-sales/{id}/refunds", h.refund)

	r.Get("/debtors/{customerID}", h.getDebtor)
	r.Get("/debtors/{customerID}/statement", h.debtorStatement)
	r.Get("/debtors/{customerID}/open-invoices", h.listOpenInvoices)
	r.Get("/voided-sales", h.listVoidedSales)
	r.Get("/voided-sales/{id}", h.getVoidedSale)
}

type lineItemRequest struct {
	ProductID   int64           `json:"product_id" validate:"required"`
	Description string          `json:"description"`
	Quantity    decimal.Decimal `json:"quantity" validate:"required"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
}

type postSaleRequest struct {
	CustomerID int64             `json:"customer_id" validate:"required"`
	FacilityID int64             `json:"facility_id"`
	Lines      []lineItemRequest `json:"lines" validate:"required,min=1,dive"`
	PaidAmount decimal.Decimal   `json:"paid_amount"`
	Method     string            `json:"method" validate:"required"`
	TxTime     time.Time         `json:"tx_time"`
}

// postSale posts one sale, emitting a receipt, an invoice, or both.
func (h *Handler) postSale(w http.ResponseWriter, r *http.Request) {
	var req postSaleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	lines := make([]LineItem, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, LineItem{
			ProductID:   line.ProductID,
			Description: line.Description,
			Quantity:    line.Quantity,
			UnitPrice:   line.UnitPrice,
		})
	}

	result, err := h.service.PostSale(r.Context(), PostSaleInput{
		CustomerID: req.CustomerID,
		FacilityID: req.FacilityID,
		Lines:      lines,
		PaidAmount: req.PaidAmount,
		Method:     req.Method,
		ActorID:    shared.ActorFromContext(r.Context()),
		TxTime:     req.TxTime,
	})
	if err != nil {
		h.respondError(w, r, "post sale", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

type allocatePaymentRequest struct {
	CustomerID int64           `json:"customer_id" validate:"required"`
	PaidAmount decimal.Decimal `json:"paid_amount"`
	InvoiceNos []string        `json:"invoice_nos" validate:"required,min=1,dive,required"`
	Method     string          `json:"method" validate:"required"`
	TxTime     time.Time       `json:"tx_time"`
}

// allocatePayment distributes one payment across invoices in request order.
func (h *Handler) allocatePayment(w http.ResponseWriter, r *http.Request) {
	var req allocatePaymentRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	result, err := h.service.AllocatePayment(r.Context(), AllocatePaymentInput{
		CustomerID: req.CustomerID,
		PaidAmount: req.PaidAmount,
		InvoiceNos: req.InvoiceNos,
		Method:     req.Method,
		ActorID:    shared.ActorFromContext(r.Context()),
		TxTime:     req.TxTime,
	})
	if err != nil {
		h.respondError(w, r, "allocate payment", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

type voidRequest struct {
	Reason string `json:"reason" validate:"required"`
}

func (h *Handler) decodeVoid(w http.ResponseWriter, r *http.Request) (VoidInput, bool) {
	var req voidRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return VoidInput{}, false
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return VoidInput{}, false
	}
	return VoidInput{
		Reason:  req.Reason,
		ActorID: shared.ActorFromContext(r.Context()),
	}, true
}

// voidReceipt reverses a cash-sale receipt.
func (h *Handler) voidReceipt(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeVoid(w, r)
	if !ok {
		return
	}
	result, err := h.service.VoidReceipt(r.Context(), chi.URLParam(r, "receiptNo"), input)
	if err != nil {
		h.respondError(w, r, "void receipt", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

// voidInvoice reverses an invoice sale, payments first.
func (h *Handler) voidInvoice(w http.ResponseWriter, r *http.Request) {
	input, ok := h.decodeVoid(w, r)
	if !ok {
		return
	}
	result, err := h.service.VoidInvoice(r.Context(), chi.URLParam(r, "invoiceNo"), input)
	if err != nil {
		h.respondError(w, r, "void invoice", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

// voidPayment reverses a single invoice payment.
func (h *Handler) voidPayment(w http.ResponseWriter, r *http.Request) {
	paymentID, err := strconv.ParseInt(chi.URLParam(r, "paymentID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid payment ID")
		return
	}
	input, ok := h.decodeVoid(w, r)
	if !ok {
		return
	}
	result, err := h.service.VoidPayment(r.Context(), paymentID, input)
	if err != nil {
		h.respondError(w, r, "void payment", err)
		return
	}
	httpx.JSON(w, http.StatusOK, result)
}

type refundRequest struct {
	Amount  decimal.Decimal `json:"amount" validate:"required"`
	Method  string          `json:"method" validate:"required"`
	Remarks string          `json:"remarks"`
}

// refund pays cash back against a voided transaction.
func (h *Handler) refund(w http.ResponseWriter, r *http.Request) {
	voidedSaleID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid voided sale ID")
		return
	}
	var req refundRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
		return
	}

	result, err := h.service.RefundVoidedSale(r.Context(), RefundInput{
		VoidedSaleID: voidedSaleID,
		Amount:       req.Amount,
		Method:       req.Method,
		Remarks:      req.Remarks,
		ActorID:      shared.ActorFromContext(r.Context()),
	})
	if err != nil {
		h.respondError(w, r, "refund voided sale", err)
		return
	}
	httpx.JSON(w, http.StatusCreated, result)
}

// getDebtor returns the running owed balance for a customer.
func (h *Handler) getDebtor(w http.ResponseWriter, r *http.Request) {
	customerID, err := strconv.ParseInt(chi.URLParam(r, "customerID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid customer ID")
		return
	}
	debtor, err := h.service.GetDebtor(r.Context(), customerID)
	if err != nil {
		h.respondError(w, r, "get debtor", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"customer_id":     debtor.CustomerID,
		"balance":         debtor.Balance,
		"balance_display": h.printer.Sprintf("%v", number(debtor.Balance)),
		"updated_at":      debtor.UpdatedAt,
	})
}

type statementRow struct {
	RefNo         string          `json:"ref_no"`
	Amount        decimal.Decimal `json:"amount"`
	AmountDisplay string          `json:"amount_display"`
	Side          EntrySide       `json:"side"`
	TransType     TransType       `json:"trans_type"`
	At            time.Time       `json:"at"`
}

// debtorStatement lists the append-only debtor ledger, newest first.
func (h *Handler) debtorStatement(w http.ResponseWriter, r *http.Request) {
	customerID, err := strconv.ParseInt(chi.URLParam(r, "customerID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid customer ID")
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	entries, err := h.service.DebtorStatement(r.Context(), customerID, limit)
	if err != nil {
		h.respondError(w, r, "debtor statement", err)
		return
	}
	rows := make([]statementRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, statementRow{
			RefNo:         e.RefNo,
			Amount:        e.Amount,
			AmountDisplay: h.printer.Sprintf("%v", number(e.Amount)),
			Side:          e.Side,
			TransType:     e.TransType,
			At:            e.At,
		})
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"entries": rows})
}

// listOpenInvoices returns the default oldest-first allocation order.
func (h *Handler) listOpenInvoices(w http.ResponseWriter, r *http.Request) {
	customerID, err := strconv.ParseInt(chi.URLParam(r, "customerID"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid customer ID")
		return
	}
	invoices, err := h.service.ListOpenInvoices(r.Context(), customerID)
	if err != nil {
		h.respondError(w, r, "list open invoices", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"invoices": invoices})
}

// listVoidedSales returns the void history with refundable remainders.
func (h *Handler) listVoidedSales(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	voided, err := h.service.ListVoidedSales(r.Context(), limit)
	if err != nil {
		h.respondError(w, r, "list voided sales", err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"voided_sales": voided})
}

// getVoidedSale returns one voided transaction.
func (h *Handler) getVoidedSale(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", "invalid voided sale ID")
		return
	}
	voided, err := h.service.GetVoidedSale(r.Context(), id)
	if err != nil {
		h.respondError(w, r, "get voided sale", err)
		return
	}
	httpx.JSON(w, http.StatusOK, voided)
}

// number adapts a decimal for locale-aware grouping by the message printer.
func number(d decimal.Decimal) any {
	f, _ := d.Float64()
	return f
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	switch {
	case errors.Is(err, ErrNotFound) || errors.Is(err, shared.ErrNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", shared.UserSafeMessage(shared.ErrNotFound))
	case errors.Is(err, ErrAlreadyVoided),
		errors.Is(err, ErrRefundExceedsRefundable),
		errors.Is(err, ErrReceiptHasInvoice),
		errors.Is(err, ErrInvoiceNotAllocatable):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrEmptyLines),
		errors.Is(err, ErrInvalidAmount),
		errors.Is(err, ErrNothingToReverse):
		httpx.Problem(w, http.StatusBadRequest, "Bad Request", err.Error())
	default:
		h.logger.Error(op, slog.Any("error", err))
		httpx.Problem(w, http.StatusInternalServerError, "Internal Error", shared.UserSafeMessage(shared.ErrPostingFailed))
	}
}
