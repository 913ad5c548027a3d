// Package handler содержит HTTP-обработчики API сервиса генерации книг.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mmeshcher/storybook/internal/model"
	"github.com/mmeshcher/storybook/internal/repository"
	"github.com/mmeshcher/storybook/internal/service"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	CreateBook(ctx context.Context, meta map[string]any) (*model.Book, error)
	GetBook(ctx context.Context, id string) (*model.Book, error)
	UpdateBook(ctx context.Context, id string, upd model.BookUpdate) error
	IssueDownloadLink(ctx context.Context, id string) (*model.DownloadLink, error)
	ListPrices(ctx context.Context) ([]model.Price, error)
	CreateOrder(ctx context.Context, bookID, sku string) (*model.Order, error)
	Diagnostics(ctx context.Context) model.Diagnostics
	Locales() []string
}

// Handler реализует HTTP-обработчики API.
type Handler struct {
	service     Service
	logger      *zap.Logger
	corsOrigins []string
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger, corsOrigins []string) *Handler {
	return &Handler{
		service:     s,
		logger:      logger,
		corsOrigins: corsOrigins,
	}
}

type errorResponse struct {
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorResponse{Detail: detail})
}

// writeServiceError переводит ошибку сервиса в HTTP-ответ.
func (h *Handler) writeServiceError(w http.ResponseWriter, err error, msg string, fields ...zap.Field) {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		writeError(w, http.StatusNotFound, "Book not found")
	case errors.Is(err, service.ErrBookNotReady):
		writeError(w, http.StatusBadRequest, "Book not ready")
	case errors.Is(err, repository.ErrUnavailable):
		h.logger.Error(msg, append(fields, zap.Error(err))...)
		writeError(w, http.StatusInternalServerError, "Database not configured")
	default:
		h.logger.Error(msg, append(fields, zap.Error(err))...)
		writeError(w, http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError))
	}
}

// Health сообщает, что сервис запущен.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"service": "books",
		"status":  "ok",
	})
}

type diagnosticsResponse struct {
	Backend     string   `json:"backend"`
	DB          bool     `json:"db"`
	Collections []string `json:"collections"`
}

type diagnosticsErrorResponse struct {
	Backend string `json:"backend"`
	DB      bool   `json:"db"`
	Error   string `json:"error"`
}

// TestDatabase возвращает диагностику подключения к хранилищу. Никогда не завершается ошибкой.
func (h *Handler) TestDatabase(w http.ResponseWriter, r *http.Request) {
	d := h.service.Diagnostics(r.Context())

	if d.Err != nil {
		h.logger.Warn("database diagnostics failed", zap.Error(d.Err))
		writeJSON(w, http.StatusOK, diagnosticsErrorResponse{Backend: "ok", DB: false, Error: d.Err.Error()})
		return
	}

	collections := d.Collections
	if collections == nil {
		collections = []string{}
	}

	writeJSON(w, http.StatusOK, diagnosticsResponse{Backend: "ok", DB: d.Configured, Collections: collections})
}

type createBookRequest struct {
	Meta map[string]any `json:"meta" validate:"required"`
}

type createBookResponse struct {
	ID       string           `json:"id"`
	Status   model.BookStatus `json:"status"`
	Progress int              `json:"progress"`
}

// CreateBook создаёт новую книгу и запускает её генерацию.
func (h *Handler) CreateBook(w http.ResponseWriter, r *http.Request) {
	var req createBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if fields := invalidFields(req); len(fields) > 0 {
		writeError(w, http.StatusBadRequest, "meta is required")
		return
	}

	book, err := h.service.CreateBook(r.Context(), req.Meta)
	if err != nil {
		h.writeServiceError(w, err, "create book error")
		return
	}

	writeJSON(w, http.StatusOK, createBookResponse{
		ID:       book.ID,
		Status:   book.Status,
		Progress: book.Progress,
	})
}

// GetBook возвращает книгу целиком.
func (h *Handler) GetBook(w http.ResponseWriter, r *http.Request) {
	bookID := chi.URLParam(r, "bookID")

	book, err := h.service.GetBook(r.Context(), bookID)
	if err != nil {
		h.writeServiceError(w, err, "get book error", zap.String("bookID", bookID))
		return
	}

	writeJSON(w, http.StatusOK, book)
}

type updateBookRequest struct {
	Meta        map[string]any `json:"meta"`
	JSONContent map[string]any `json:"json_content"`
	Status      *string        `json:"status"`
	Progress    *int           `json:"progress"`
}

type updateBookResponse struct {
	ID      string `json:"id"`
	Updated bool   `json:"updated"`
}

// UpdateBook применяет частичное обновление книги.
func (h *Handler) UpdateBook(w http.ResponseWriter, r *http.Request) {
	bookID := chi.URLParam(r, "bookID")

	var req updateBookRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	err := h.service.UpdateBook(r.Context(), bookID, model.BookUpdate{
		Meta:        req.Meta,
		JSONContent: req.JSONContent,
		Status:      req.Status,
		Progress:    req.Progress,
	})
	if err != nil {
		h.writeServiceError(w, err, "update book error", zap.String("bookID", bookID))
		return
	}

	writeJSON(w, http.StatusOK, updateBookResponse{ID: bookID, Updated: true})
}

type downloadLinkResponse struct {
	URL       string `json:"url"`
	ExpiresAt string `json:"expires_at"`
}

// GetDownloadLink выдаёт ссылку на скачивание готовой книги.
func (h *Handler) GetDownloadLink(w http.ResponseWriter, r *http.Request) {
	bookID := chi.URLParam(r, "bookID")

	link, err := h.service.IssueDownloadLink(r.Context(), bookID)
	if err != nil {
		h.writeServiceError(w, err, "issue download link error", zap.String("bookID", bookID))
		return
	}

	writeJSON(w, http.StatusOK, downloadLinkResponse{
		URL:       link.URL,
		ExpiresAt: link.ExpiresAt.Format(time.RFC3339),
	})
}

type pricesResponse struct {
	Prices []model.Price `json:"prices"`
}

// ListPrices возвращает прайс-лист.
func (h *Handler) ListPrices(w http.ResponseWriter, r *http.Request) {
	prices, err := h.service.ListPrices(r.Context())
	if err != nil {
		h.writeServiceError(w, err, "list prices error")
		return
	}

	writeJSON(w, http.StatusOK, pricesResponse{Prices: prices})
}

type createOrderRequest struct {
	BookID string `json:"bookId" validate:"required"`
	SKU    string `json:"sku" validate:"required"`
}

type createOrderResponse struct {
	ID         string `json:"id"`
	TotalCents int64  `json:"totalCents"`
}

// CreateOrder создаёт заказ на книгу.
func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if fields := invalidFields(req); len(fields) > 0 {
		h.logger.Debug("invalid order request", zap.Strings("fields", fields))
		writeError(w, http.StatusBadRequest, "bookId and sku are required")
		return
	}

	order, err := h.service.CreateOrder(r.Context(), req.BookID, req.SKU)
	if err != nil {
		h.writeServiceError(w, err, "create order error", zap.String("bookID", req.BookID), zap.String("sku", req.SKU))
		return
	}

	writeJSON(w, http.StatusOK, createOrderResponse{ID: order.ID, TotalCents: order.TotalCents})
}

// ListLocales возвращает поддерживаемые языки.
func (h *Handler) ListLocales(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"locales": h.service.Locales()})
}
