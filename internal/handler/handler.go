// Package handler содержит HTTP-обработчики API сервиса расчёта чеков.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/billing-system/internal/model"
	"github.com/mmeshcher/billing-system/internal/repository"
	"github.com/mmeshcher/billing-system/internal/service"
	"github.com/mmeshcher/billing-system/internal/validation"
)

const (
	maxListLimit = 1000
	// maxSettleBodyBytes ограничивает размер тела запроса на расчёт.
	maxSettleBodyBytes = 1 << 20
	// retryAfterSeconds - пауза, которую сервер советует клиенту при RETRY_LATER.
	retryAfterSeconds = "1"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	Settle(ctx context.Context, req model.SettleRequest) (*model.Invoice, error)
	GetInvoice(ctx context.Context, id uuid.UUID) (*model.Invoice, error)
	ListInvoices(ctx context.Context, filter model.InvoiceFilter) ([]model.Invoice, error)
	ListProducts(ctx context.Context) ([]model.Product, error)
	GetProduct(ctx context.Context, productID string) (*model.Product, error)
	ListDenominations(ctx context.Context) ([]model.Denomination, error)
	Ping(ctx context.Context) error
}

// Handler реализует HTTP-обработчики API сервиса расчёта чеков.
type Handler struct {
	service Service
	logger  *zap.Logger
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: s,
		logger:  logger,
	}
}

type settleRequest struct {
	CustomerEmail string           `json:"customer_email"`
	Items         []model.CartLine `json:"items"`
	Denominations map[int64]int64  `json:"denominations"`
	AmountPaid    *decimal.Decimal `json:"amount_paid"`
}

type errorResponse struct {
	Error     service.Code `json:"error"`
	Message   string       `json:"message"`
	ProductID string       `json:"product_id,omitempty"`
	Requested *int64       `json:"requested,omitempty"`
	Available *int64       `json:"available,omitempty"`
}

var codeStatus = map[service.Code]int{
	service.CodeInvalidRequest:            http.StatusBadRequest,
	service.CodeProductNotFound:           http.StatusNotFound,
	service.CodeOutOfStock:                http.StatusConflict,
	service.CodeInsufficientPayment:       http.StatusPaymentRequired,
	service.CodeInsufficientDenominations: http.StatusConflict,
	service.CodeRetryLater:                http.StatusServiceUnavailable,
}

// Settle проводит продажу и возвращает чек.
func (h *Handler) Settle(w http.ResponseWriter, r *http.Request) {
	var req settleRequest
	r.Body = http.MaxBytesReader(w, r.Body, maxSettleBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
				Error:   service.CodeInvalidRequest,
				Message: "request body too large",
			})
			return
		}
		h.writeError(w, &service.SettlementError{Code: service.CodeInvalidRequest, Err: errors.New("malformed request body")})
		return
	}
	if req.AmountPaid == nil {
		h.writeError(w, &service.SettlementError{Code: service.CodeInvalidRequest, Err: errors.New("amount_paid is required")})
		return
	}

	inv, err := h.service.Settle(r.Context(), model.SettleRequest{
		CustomerEmail:  strings.TrimSpace(req.CustomerEmail),
		Cart:           req.Items,
		TopUp:          req.Denominations,
		AmountTendered: *req.AmountPaid,
	})
	if err != nil {
		if service.ErrorCode(err) == "" {
			h.logger.Error("settle error", zap.Error(err), zap.String("customer_email", req.CustomerEmail))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		h.writeError(w, err)
		return
	}

	h.writeJSON(w, http.StatusCreated, inv)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var se *service.SettlementError
	if !errors.As(err, &se) {
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	resp := errorResponse{
		Error:     se.Code,
		Message:   se.Error(),
		ProductID: se.ProductID,
	}
	if se.Code == service.CodeOutOfStock {
		resp.Requested = &se.Requested
		resp.Available = &se.Available
	}
	if se.Code == service.CodeRetryLater {
		// Причина таймаута внутренняя, клиенту достаточно кода.
		resp.Message = "the request could not be served in time, retry later"
		w.Header().Set("Retry-After", retryAfterSeconds)
	}

	h.writeJSON(w, codeStatus[se.Code], resp)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

// GetInvoice возвращает чек по идентификатору.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
		return
	}

	inv, err := h.service.GetInvoice(r.Context(), id)
	if err != nil {
		if errors.Is(err, repository.ErrInvoiceNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get invoice error", zap.Error(err), zap.String("invoice_id", id.String()))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, inv)
}

// ListInvoices возвращает чеки покупателя (?email=) или последние чеки, если email не указан.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	var filter model.InvoiceFilter

	if email := strings.TrimSpace(r.URL.Query().Get("email")); email != "" {
		if !validation.IsValidEmail(email) {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		filter.CustomerEmail = email
	}

	if v := r.URL.Query().Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 || limit > maxListLimit {
			http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
			return
		}
		filter.Limit = limit
	}

	invoices, err := h.service.ListInvoices(r.Context(), filter)
	if err != nil {
		h.logger.Error("list invoices error", zap.Error(err), zap.String("customer_email", filter.CustomerEmail))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(invoices) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.writeJSON(w, http.StatusOK, invoices)
}

// ListProducts возвращает каталог товаров с остатками.
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.service.ListProducts(r.Context())
	if err != nil {
		h.logger.Error("list products error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if len(products) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	h.writeJSON(w, http.StatusOK, products)
}

// GetProduct возвращает товар по product_id.
func (h *Handler) GetProduct(w http.ResponseWriter, r *http.Request) {
	productID := chi.URLParam(r, "productID")

	p, err := h.service.GetProduct(r.Context(), productID)
	if err != nil {
		if errors.Is(err, repository.ErrProductNotFound) {
			http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
			return
		}
		h.logger.Error("get product error", zap.Error(err), zap.String("product_id", productID))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	h.writeJSON(w, http.StatusOK, p)
}

// ListDenominations возвращает содержимое кассы.
func (h *Handler) ListDenominations(w http.ResponseWriter, r *http.Request) {
	denoms, err := h.service.ListDenominations(r.Context())
	if err != nil {
		h.logger.Error("list denominations error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	if denoms == nil {
		denoms = []model.Denomination{}
	}
	h.writeJSON(w, http.StatusOK, denoms)
}

// Ping проверяет, что сервис и хранилище доступны.
func (h *Handler) Ping(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Ping(r.Context()); err != nil {
		h.logger.Error("ping error", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusServiceUnavailable), http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}
